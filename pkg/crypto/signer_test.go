package crypto

import (
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	eth_crypto "github.com/ethereum/go-ethereum/crypto"
)

func TestGenerateKey(t *testing.T) {
	signer, err := GenerateKey()
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}

	if signer.Address() == (common.Address{}) {
		t.Error("generated zero address")
	}

	// 32 bytes
	if privHex := signer.PrivateKeyHex(); len(privHex) != 64 {
		t.Errorf("private key hex length = %d, want 64", len(privHex))
	}
}

func TestFromPrivateKeyHex(t *testing.T) {
	signer1, _ := GenerateKey()
	privHex := signer1.PrivateKeyHex()

	for _, in := range []string{privHex, "0x" + privHex} {
		signer2, err := FromPrivateKeyHex(in)
		if err != nil {
			t.Fatalf("failed to load key %q: %v", in[:6], err)
		}
		if signer2.Address() != signer1.Address() {
			t.Errorf("address = %s, want %s", signer2.Address().Hex(), signer1.Address().Hex())
		}
	}
}

func TestSignAndVerify(t *testing.T) {
	signer, _ := GenerateKey()

	message := []byte("trailing stop")
	signature, err := signer.SignMessage(message)
	if err != nil {
		t.Fatalf("failed to sign: %v", err)
	}
	if len(signature) != SignatureLength {
		t.Errorf("signature length = %d, want %d", len(signature), SignatureLength)
	}

	hash := eth_crypto.Keccak256Hash(message).Bytes()
	if !VerifySignature(signer.Address(), hash, signature) {
		t.Error("signature verification failed")
	}

	wrongAddr := common.HexToAddress("0x0000000000000000000000000000000000000001")
	if VerifySignature(wrongAddr, hash, signature) {
		t.Error("signature should not verify with wrong address")
	}
}

func TestRecoverAddressWalletV(t *testing.T) {
	signer, _ := GenerateKey()
	hash := eth_crypto.Keccak256([]byte("wallet"))

	signature, _ := signer.Sign(hash)
	signature[64] += 27

	recovered, err := RecoverAddress(hash, signature)
	if err != nil {
		t.Fatalf("failed to recover address: %v", err)
	}
	if recovered != signer.Address() {
		t.Errorf("recovered address = %s, want %s", recovered.Hex(), signer.Address().Hex())
	}
}

func TestInvalidSignature(t *testing.T) {
	signer, _ := GenerateKey()
	hash := common.BytesToHash([]byte("test")).Bytes()

	if VerifySignature(signer.Address(), hash, []byte{1, 2, 3}) {
		t.Error("invalid signature should not verify")
	}
	if VerifySignature(signer.Address(), []byte("short"), make([]byte, SignatureLength)) {
		t.Error("invalid hash should not verify")
	}
}

func TestDecodeSignature(t *testing.T) {
	signer, _ := GenerateKey()
	sig, _ := signer.SignMessage([]byte("encode"))

	decoded, err := DecodeSignature(EncodeSignature(sig))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if string(decoded) != string(sig) {
		t.Error("decoded signature differs")
	}

	if _, err := DecodeSignature("0x1234"); err == nil {
		t.Error("short signature should fail")
	}
	if _, err := DecodeSignature("0xzz"); err == nil {
		t.Error("non-hex signature should fail")
	}
}

func TestEIP712SignAndRecover(t *testing.T) {
	signer, _ := GenerateKey()
	e := NewEIP712Signer(DefaultDomain())

	requests := []TypedRequest{
		SimpleTriggerEIP712{
			Owner:        signer.Address(),
			SellAsset:    common.HexToAddress("0x01"),
			BuyAsset:     common.HexToAddress("0x02"),
			Amount:       big.NewInt(1_000),
			TriggerPrice: big.NewInt(95),
			Nonce:        big.NewInt(1),
			Deadline:     big.NewInt(0),
		},
		TrailingStopEIP712{
			Owner:     signer.Address(),
			SellAsset: common.HexToAddress("0x01"),
			BuyAsset:  common.HexToAddress("0x02"),
			Amount:    big.NewInt(1_000),
			TrailBps:  500,
			Ticker:    "other:XLMUSD",
			Nonce:     big.NewInt(2),
			Deadline:  big.NewInt(1_900_000_000),
		},
		CancelEIP712{
			Owner:    signer.Address(),
			OrderID:  7,
			Nonce:    big.NewInt(3),
			Deadline: big.NewInt(0),
		},
	}

	for _, req := range requests {
		t.Run(req.PrimaryType(), func(t *testing.T) {
			sig, err := e.Sign(signer, req)
			if err != nil {
				t.Fatalf("sign: %v", err)
			}
			ok, err := e.Verify(req, sig)
			if err != nil {
				t.Fatalf("verify: %v", err)
			}
			if !ok {
				t.Error("signature should verify for its owner")
			}

			js, err := e.ToJSON(req)
			if err != nil {
				t.Fatalf("to json: %v", err)
			}
			if !strings.Contains(js, req.PrimaryType()) {
				t.Errorf("typed data json missing primary type %s", req.PrimaryType())
			}
		})
	}
}

func TestEIP712DomainSeparation(t *testing.T) {
	signer, _ := GenerateKey()
	req := CancelEIP712{Owner: signer.Address(), OrderID: 1, Nonce: big.NewInt(1), Deadline: big.NewInt(0)}

	local := NewEIP712Signer(DefaultDomain())
	other := DefaultDomain()
	other.ChainID = big.NewInt(1)
	mainnet := NewEIP712Signer(other)

	sig, _ := local.Sign(signer, req)
	ok, err := mainnet.Verify(req, sig)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if ok {
		t.Error("signature from another chain must not verify")
	}
}

func TestEIP712TamperedMessage(t *testing.T) {
	signer, _ := GenerateKey()
	e := NewEIP712Signer(DefaultDomain())
	req := SimpleTriggerEIP712{
		Owner:        signer.Address(),
		SellAsset:    common.HexToAddress("0x01"),
		BuyAsset:     common.HexToAddress("0x02"),
		Amount:       big.NewInt(1_000),
		TriggerPrice: big.NewInt(95),
		Nonce:        big.NewInt(1),
		Deadline:     big.NewInt(0),
	}
	sig, _ := e.Sign(signer, req)

	req.Amount = big.NewInt(1_000_000)
	ok, _ := e.Verify(req, sig)
	if ok {
		t.Error("signature must not verify after the amount changes")
	}
}
