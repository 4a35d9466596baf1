package transaction

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/trailstop/pkg/crypto"
	"github.com/uhyunpark/trailstop/pkg/util"
)

var (
	ErrBadSignature = errors.New("signature does not match owner")
	ErrExpired      = errors.New("request deadline passed")
)

// NonceStore consumes per-owner request nonces. Implemented by storage.Store.
type NonceStore interface {
	UseNonce(addr common.Address, nonce uint64) error
}

// Verifier checks owner signatures and replay protection on signed requests
type Verifier struct {
	eip712Signer *crypto.EIP712Signer
	nonces       NonceStore
	clock        util.Clock
}

// NewVerifier creates a verifier for domain. nonces may be nil to skip replay checks.
func NewVerifier(domain crypto.EIP712Domain, nonces NonceStore, clock util.Clock) *Verifier {
	if clock == nil {
		clock = util.RealClock{}
	}
	return &Verifier{
		eip712Signer: crypto.NewEIP712Signer(domain),
		nonces:       nonces,
		clock:        clock,
	}
}

// Verify returns the owner that authorized req.
// The signature must recover to the payload's owner, the deadline (if any)
// must not have passed, and the nonce must exceed the owner's last one.
// A verified request consumes its nonce.
func (v *Verifier) Verify(req *SignedRequest) (common.Address, error) {
	typed, err := req.TypedData()
	if err != nil {
		return common.Address{}, fmt.Errorf("invalid request: %w", err)
	}

	sig, err := crypto.DecodeSignature(req.Signature)
	if err != nil {
		return common.Address{}, err
	}

	recovered, err := v.eip712Signer.Recover(typed, sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("signature verification failed: %w", err)
	}
	owner := typed.Signer()
	if recovered != owner {
		return common.Address{}, fmt.Errorf("%w: recovered %s, owner %s", ErrBadSignature, recovered.Hex(), owner.Hex())
	}

	nonce, deadline := replayFields(typed)
	if deadline.Sign() > 0 && deadline.Cmp(big.NewInt(v.clock.Now().Unix())) < 0 {
		return common.Address{}, fmt.Errorf("%w: deadline %s", ErrExpired, deadline)
	}
	if !nonce.IsUint64() {
		return common.Address{}, fmt.Errorf("nonce out of range: %s", nonce)
	}
	if v.nonces != nil {
		if err := v.nonces.UseNonce(owner, nonce.Uint64()); err != nil {
			return common.Address{}, err
		}
	}
	return owner, nil
}

func replayFields(req crypto.TypedRequest) (nonce, deadline *big.Int) {
	switch r := req.(type) {
	case crypto.SimpleTriggerEIP712:
		return r.Nonce, r.Deadline
	case crypto.TrailingStopEIP712:
		return r.Nonce, r.Deadline
	case crypto.CancelEIP712:
		return r.Nonce, r.Deadline
	}
	panic(fmt.Sprintf("unexpected request type %T", req))
}
