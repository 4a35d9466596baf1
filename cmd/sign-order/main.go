package main

import (
	"flag"
	"fmt"
	"math/big"
	"os"

	"github.com/ethereum/go-ethereum/common"
	json "github.com/goccy/go-json"

	"github.com/uhyunpark/trailstop/pkg/crypto"
	"github.com/uhyunpark/trailstop/pkg/transaction"
)

func main() {
	var (
		reqType  = flag.String("type", "trailing", "request type: simple, trailing or cancel")
		keyHex   = flag.String("key", "", "owner private key (hex); a new key is generated when empty")
		sell     = flag.String("sell", "0x0000000000000000000000000000000000000011", "asset to sell")
		buy      = flag.String("buy", "0x0000000000000000000000000000000000000022", "asset to buy")
		amount   = flag.String("amount", "1000", "amount to sell")
		trigger  = flag.String("trigger", "100", "trigger price (simple)")
		trailBps = flag.Uint("trail", 500, "trail in basis points (trailing)")
		ticker   = flag.String("ticker", "other:XLMUSD", "oracle ticker (trailing)")
		orderID  = flag.Uint64("order", 0, "order id (cancel)")
		nonce    = flag.Int64("nonce", 1, "request nonce, must increase per owner")
		deadline = flag.Int64("deadline", 0, "unix seconds after which the request is rejected, 0 = none")
		chainID  = flag.Int64("chain-id", 1337, "EIP-712 chain id")
		custody  = flag.String("custody", "0x00000000000000000000000000000000000000c0", "custody account (EIP-712 verifying contract)")
	)
	flag.Parse()

	// Step 1: Generate or load key
	signer, err := loadSigner(*keyHex)
	if err != nil {
		fail("key", err)
	}
	owner := signer.Address()
	fmt.Fprintf(os.Stderr, "Address: %s\n", owner.Hex())
	if *keyHex == "" {
		fmt.Fprintf(os.Stderr, "Private Key: %s (KEEP SECRET!)\n", signer.PrivateKeyHex())
	}

	domain := crypto.DefaultDomain()
	domain.ChainID = big.NewInt(*chainID)
	domain.VerifyingContract = common.HexToAddress(*custody)
	eip712Signer := crypto.NewEIP712Signer(domain)

	// Step 2: Build typed request
	var (
		typed crypto.TypedRequest
		req   = &transaction.SignedRequest{}
	)
	switch *reqType {
	case "simple":
		o := &crypto.SimpleTriggerEIP712{
			Owner:        owner,
			SellAsset:    common.HexToAddress(*sell),
			BuyAsset:     common.HexToAddress(*buy),
			Amount:       mustBig("amount", *amount),
			TriggerPrice: mustBig("trigger", *trigger),
			Nonce:        big.NewInt(*nonce),
			Deadline:     big.NewInt(*deadline),
		}
		typed = *o
		req.Type = transaction.TypeSimpleTrigger
		req.Simple = transaction.FromSimpleEIP712(o)
	case "trailing":
		o := &crypto.TrailingStopEIP712{
			Owner:     owner,
			SellAsset: common.HexToAddress(*sell),
			BuyAsset:  common.HexToAddress(*buy),
			Amount:    mustBig("amount", *amount),
			TrailBps:  uint32(*trailBps),
			Ticker:    *ticker,
			Nonce:     big.NewInt(*nonce),
			Deadline:  big.NewInt(*deadline),
		}
		typed = *o
		req.Type = transaction.TypeTrailingStop
		req.Trailing = transaction.FromTrailingEIP712(o)
	case "cancel":
		c := &crypto.CancelEIP712{
			Owner:    owner,
			OrderID:  *orderID,
			Nonce:    big.NewInt(*nonce),
			Deadline: big.NewInt(*deadline),
		}
		typed = *c
		req.Type = transaction.TypeCancel
		req.Cancel = transaction.FromCancelEIP712(c)
	default:
		fail("type", fmt.Errorf("unknown request type %q", *reqType))
	}

	// Step 3: Sign with EIP-712
	signature, err := eip712Signer.Sign(signer, typed)
	if err != nil {
		fail("sign", err)
	}
	req.Signature = crypto.EncodeSignature(signature)

	// Step 4: Verify before printing
	verifier := transaction.NewVerifier(domain, nil, nil)
	recovered, err := verifier.Verify(req)
	if err != nil {
		fail("verify", err)
	}
	fmt.Fprintf(os.Stderr, "Signature valid, signer %s\n\n", recovered.Hex())

	// Step 5: Serialize to JSON
	out, err := json.MarshalIndent(req, "", "  ")
	if err != nil {
		fail("marshal", err)
	}
	fmt.Println(string(out))

	fmt.Fprintf(os.Stderr, "\nSubmit with:\n  POST http://localhost:8080/api/v1/orders/%s\n", endpoint(req.Type))
}

func loadSigner(keyHex string) (*crypto.Signer, error) {
	if keyHex == "" {
		return crypto.GenerateKey()
	}
	return crypto.FromPrivateKeyHex(keyHex)
}

func endpoint(t transaction.RequestType) string {
	switch t {
	case transaction.TypeSimpleTrigger:
		return "simple"
	case transaction.TypeTrailingStop:
		return "trailing"
	default:
		return "cancel"
	}
}

func mustBig(name, s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		fail(name, fmt.Errorf("not an integer: %q", s))
	}
	return v
}

func fail(step string, err error) {
	fmt.Fprintf(os.Stderr, "Error (%s): %v\n", step, err)
	os.Exit(1)
}
