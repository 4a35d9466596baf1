// Package auth carries the authenticated caller of an operation on its context.
package auth

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
)

type callerKey struct{}

// WithCaller returns a context whose authenticated caller is addr.
// Only code that has verified the caller (a signature check, a trusted
// in-process component) should call this.
func WithCaller(ctx context.Context, addr common.Address) context.Context {
	return context.WithValue(ctx, callerKey{}, addr)
}

// CallerFrom returns the authenticated caller, if any
func CallerFrom(ctx context.Context) (common.Address, bool) {
	addr, ok := ctx.Value(callerKey{}).(common.Address)
	return addr, ok
}

// IsCaller reports whether ctx carries addr as its authenticated caller
func IsCaller(ctx context.Context, addr common.Address) bool {
	caller, ok := CallerFrom(ctx)
	return ok && caller == addr
}
