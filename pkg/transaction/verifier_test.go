package transaction

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/trailstop/pkg/crypto"
	"github.com/uhyunpark/trailstop/pkg/storage"
	"github.com/uhyunpark/trailstop/pkg/util"
)

var (
	sellAsset = common.HexToAddress("0x5e11")
	buyAsset  = common.HexToAddress("0xb0b0")
)

func setup(t *testing.T) (*Verifier, *storage.Store, *util.ManualClock) {
	t.Helper()
	st, err := storage.OpenInMemory()
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	clock := util.NewManualClock(time.Unix(1_700_000_000, 0))
	return NewVerifier(crypto.DefaultDomain(), st, clock), st, clock
}

func signTrailing(t *testing.T, key *crypto.Signer, nonce, deadline int64) *SignedRequest {
	t.Helper()
	typed := &crypto.TrailingStopEIP712{
		Owner:     key.Address(),
		SellAsset: sellAsset,
		BuyAsset:  buyAsset,
		Amount:    big.NewInt(1_000),
		TrailBps:  500,
		Ticker:    "other:XLMUSD",
		Nonce:     big.NewInt(nonce),
		Deadline:  big.NewInt(deadline),
	}
	sig, err := crypto.NewEIP712Signer(crypto.DefaultDomain()).Sign(key, *typed)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return &SignedRequest{
		Type:      TypeTrailingStop,
		Trailing:  FromTrailingEIP712(typed),
		Signature: crypto.EncodeSignature(sig),
	}
}

func TestVerifyRecoversOwner(t *testing.T) {
	v, st, _ := setup(t)
	key, _ := crypto.GenerateKey()

	req := signTrailing(t, key, 1, 0)
	owner, err := v.Verify(req)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if owner != key.Address() {
		t.Errorf("owner = %s, want %s", owner.Hex(), key.Address().Hex())
	}

	last, _ := st.LastNonce(owner)
	if last != 1 {
		t.Errorf("last nonce = %d, want 1", last)
	}
}

func TestVerifyRejectsReplay(t *testing.T) {
	v, _, _ := setup(t)
	key, _ := crypto.GenerateKey()

	req := signTrailing(t, key, 5, 0)
	if _, err := v.Verify(req); err != nil {
		t.Fatalf("first verify: %v", err)
	}
	if _, err := v.Verify(req); !errors.Is(err, storage.ErrNonceReused) {
		t.Fatalf("replay err = %v, want ErrNonceReused", err)
	}

	older := signTrailing(t, key, 4, 0)
	if _, err := v.Verify(older); !errors.Is(err, storage.ErrNonceReused) {
		t.Fatalf("stale nonce err = %v, want ErrNonceReused", err)
	}
}

func TestVerifyRejectsForgedOwner(t *testing.T) {
	v, _, _ := setup(t)
	key, _ := crypto.GenerateKey()
	victim, _ := crypto.GenerateKey()

	req := signTrailing(t, key, 1, 0)
	req.Trailing.Owner = victim.Address().Hex()

	if _, err := v.Verify(req); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("err = %v, want ErrBadSignature", err)
	}
}

func TestVerifyRejectsExpired(t *testing.T) {
	v, _, clock := setup(t)
	key, _ := crypto.GenerateKey()

	deadline := clock.Now().Add(time.Minute).Unix()
	req := signTrailing(t, key, 1, deadline)
	clock.Advance(2 * time.Minute)

	if _, err := v.Verify(req); !errors.Is(err, ErrExpired) {
		t.Fatalf("err = %v, want ErrExpired", err)
	}
}

func TestVerifyCancel(t *testing.T) {
	v, _, _ := setup(t)
	key, _ := crypto.GenerateKey()

	typed := &crypto.CancelEIP712{Owner: key.Address(), OrderID: 3, Nonce: big.NewInt(1), Deadline: big.NewInt(0)}
	sig, _ := crypto.NewEIP712Signer(crypto.DefaultDomain()).Sign(key, *typed)
	req := &SignedRequest{Type: TypeCancel, Cancel: FromCancelEIP712(typed), Signature: crypto.EncodeSignature(sig)}

	data, err := req.Serialize()
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}
	decoded, err := Deserialize(data)
	if err != nil {
		t.Fatalf("deserialize: %v", err)
	}
	owner, err := v.Verify(decoded)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if owner != key.Address() {
		t.Errorf("owner = %s, want %s", owner.Hex(), key.Address().Hex())
	}
}

func TestDeserializeValidates(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"missing type", `{"signature":"0x00"}`},
		{"missing signature", `{"type":"cancel","cancel":{"owner":"0x0000000000000000000000000000000000000001","orderId":"1","nonce":"1"}}`},
		{"missing payload", `{"type":"simple_trigger","signature":"0x00"}`},
		{"unknown type", `{"type":"market","signature":"0x00"}`},
		{"bad owner", `{"type":"cancel","cancel":{"owner":"bob","orderId":"1","nonce":"1"},"signature":"0x00"}`},
		{"bad order id", `{"type":"cancel","cancel":{"owner":"0x0000000000000000000000000000000000000001","orderId":"x","nonce":"1"},"signature":"0x00"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Deserialize([]byte(tt.body)); err == nil {
				t.Error("expected error")
			}
		})
	}
}
