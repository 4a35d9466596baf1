package auth

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestCaller(t *testing.T) {
	alice := common.HexToAddress("0xa11ce")
	bob := common.HexToAddress("0xb0b")

	if _, ok := CallerFrom(context.Background()); ok {
		t.Fatal("background context should carry no caller")
	}

	ctx := WithCaller(context.Background(), alice)
	got, ok := CallerFrom(ctx)
	if !ok || got != alice {
		t.Fatalf("caller = %s (%v), want %s", got.Hex(), ok, alice.Hex())
	}
	if !IsCaller(ctx, alice) {
		t.Error("IsCaller(alice) = false")
	}
	if IsCaller(ctx, bob) {
		t.Error("IsCaller(bob) = true")
	}
	if IsCaller(context.Background(), common.Address{}) {
		t.Error("missing caller must not match the zero address")
	}
}
