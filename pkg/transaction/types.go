// Package transaction decodes and verifies owner-signed order requests.
package transaction

import (
	"fmt"
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	json "github.com/goccy/go-json"

	"github.com/uhyunpark/trailstop/pkg/crypto"
)

// RequestType names the operation a signed request asks for
type RequestType string

const (
	TypeSimpleTrigger RequestType = "simple_trigger"
	TypeTrailingStop  RequestType = "trailing_stop"
	TypeCancel        RequestType = "cancel"
)

// SignedRequest is an owner-signed order operation
type SignedRequest struct {
	Type      RequestType      `json:"type"`
	Simple    *SimplePayload   `json:"simple,omitempty"`
	Trailing  *TrailingPayload `json:"trailing,omitempty"`
	Cancel    *CancelPayload   `json:"cancel,omitempty"`
	Signature string           `json:"signature"` // Hex-encoded signature (0x...)
}

// SimplePayload creates a price-trigger order. Integers are decimal strings.
type SimplePayload struct {
	Owner        string `json:"owner"`
	SellAsset    string `json:"sellAsset"`
	BuyAsset     string `json:"buyAsset"`
	Amount       string `json:"amount"`
	TriggerPrice string `json:"triggerPrice"`
	Nonce        string `json:"nonce"`
	Deadline     string `json:"deadline"` // Unix seconds (0 = no expiry)
}

// TrailingPayload creates a trailing stop-loss order
type TrailingPayload struct {
	Owner     string `json:"owner"`
	SellAsset string `json:"sellAsset"`
	BuyAsset  string `json:"buyAsset"`
	Amount    string `json:"amount"`
	TrailBps  uint32 `json:"trailBps"`
	Ticker    string `json:"ticker"` // "other:XLMUSD" or "asset:0x..."
	Nonce     string `json:"nonce"`
	Deadline  string `json:"deadline"`
}

// CancelPayload cancels an Active order
type CancelPayload struct {
	Owner    string `json:"owner"`
	OrderID  string `json:"orderId"`
	Nonce    string `json:"nonce"`
	Deadline string `json:"deadline"`
}

func parseAddress(field, s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("invalid %s: %q", field, s)
	}
	return common.HexToAddress(s), nil
}

func parseBig(field, s string) (*big.Int, error) {
	if s == "" {
		return nil, fmt.Errorf("missing %s", field)
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid %s: %q", field, s)
	}
	return v, nil
}

// parseOptionalBig treats an empty string as zero
func parseOptionalBig(field, s string) (*big.Int, error) {
	if s == "" {
		return new(big.Int), nil
	}
	return parseBig(field, s)
}

// ToEIP712 converts the payload to its typed-data form
func (p *SimplePayload) ToEIP712() (*crypto.SimpleTriggerEIP712, error) {
	owner, err := parseAddress("owner", p.Owner)
	if err != nil {
		return nil, err
	}
	sell, err := parseAddress("sellAsset", p.SellAsset)
	if err != nil {
		return nil, err
	}
	buy, err := parseAddress("buyAsset", p.BuyAsset)
	if err != nil {
		return nil, err
	}
	amount, err := parseBig("amount", p.Amount)
	if err != nil {
		return nil, err
	}
	trigger, err := parseBig("triggerPrice", p.TriggerPrice)
	if err != nil {
		return nil, err
	}
	nonce, err := parseBig("nonce", p.Nonce)
	if err != nil {
		return nil, err
	}
	deadline, err := parseOptionalBig("deadline", p.Deadline)
	if err != nil {
		return nil, err
	}
	return &crypto.SimpleTriggerEIP712{
		Owner:        owner,
		SellAsset:    sell,
		BuyAsset:     buy,
		Amount:       amount,
		TriggerPrice: trigger,
		Nonce:        nonce,
		Deadline:     deadline,
	}, nil
}

// ToEIP712 converts the payload to its typed-data form
func (p *TrailingPayload) ToEIP712() (*crypto.TrailingStopEIP712, error) {
	owner, err := parseAddress("owner", p.Owner)
	if err != nil {
		return nil, err
	}
	sell, err := parseAddress("sellAsset", p.SellAsset)
	if err != nil {
		return nil, err
	}
	buy, err := parseAddress("buyAsset", p.BuyAsset)
	if err != nil {
		return nil, err
	}
	amount, err := parseBig("amount", p.Amount)
	if err != nil {
		return nil, err
	}
	if p.Ticker == "" {
		return nil, fmt.Errorf("missing ticker")
	}
	nonce, err := parseBig("nonce", p.Nonce)
	if err != nil {
		return nil, err
	}
	deadline, err := parseOptionalBig("deadline", p.Deadline)
	if err != nil {
		return nil, err
	}
	return &crypto.TrailingStopEIP712{
		Owner:     owner,
		SellAsset: sell,
		BuyAsset:  buy,
		Amount:    amount,
		TrailBps:  p.TrailBps,
		Ticker:    p.Ticker,
		Nonce:     nonce,
		Deadline:  deadline,
	}, nil
}

// ToEIP712 converts the payload to its typed-data form
func (p *CancelPayload) ToEIP712() (*crypto.CancelEIP712, error) {
	owner, err := parseAddress("owner", p.Owner)
	if err != nil {
		return nil, err
	}
	id, err := strconv.ParseUint(p.OrderID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid orderId: %q", p.OrderID)
	}
	nonce, err := parseBig("nonce", p.Nonce)
	if err != nil {
		return nil, err
	}
	deadline, err := parseOptionalBig("deadline", p.Deadline)
	if err != nil {
		return nil, err
	}
	return &crypto.CancelEIP712{Owner: owner, OrderID: id, Nonce: nonce, Deadline: deadline}, nil
}

// FromSimpleEIP712 converts typed data back to its wire payload
func FromSimpleEIP712(o *crypto.SimpleTriggerEIP712) *SimplePayload {
	return &SimplePayload{
		Owner:        o.Owner.Hex(),
		SellAsset:    o.SellAsset.Hex(),
		BuyAsset:     o.BuyAsset.Hex(),
		Amount:       o.Amount.String(),
		TriggerPrice: o.TriggerPrice.String(),
		Nonce:        o.Nonce.String(),
		Deadline:     o.Deadline.String(),
	}
}

// FromTrailingEIP712 converts typed data back to its wire payload
func FromTrailingEIP712(o *crypto.TrailingStopEIP712) *TrailingPayload {
	return &TrailingPayload{
		Owner:     o.Owner.Hex(),
		SellAsset: o.SellAsset.Hex(),
		BuyAsset:  o.BuyAsset.Hex(),
		Amount:    o.Amount.String(),
		TrailBps:  o.TrailBps,
		Ticker:    o.Ticker,
		Nonce:     o.Nonce.String(),
		Deadline:  o.Deadline.String(),
	}
}

// FromCancelEIP712 converts typed data back to its wire payload
func FromCancelEIP712(c *crypto.CancelEIP712) *CancelPayload {
	return &CancelPayload{
		Owner:    c.Owner.Hex(),
		OrderID:  strconv.FormatUint(c.OrderID, 10),
		Nonce:    c.Nonce.String(),
		Deadline: c.Deadline.String(),
	}
}

// TypedData converts the request's payload to the typed data that was signed
func (r *SignedRequest) TypedData() (crypto.TypedRequest, error) {
	switch r.Type {
	case TypeSimpleTrigger:
		if r.Simple == nil {
			return nil, fmt.Errorf("simple_trigger request requires simple payload")
		}
		o, err := r.Simple.ToEIP712()
		if err != nil {
			return nil, err
		}
		return *o, nil
	case TypeTrailingStop:
		if r.Trailing == nil {
			return nil, fmt.Errorf("trailing_stop request requires trailing payload")
		}
		o, err := r.Trailing.ToEIP712()
		if err != nil {
			return nil, err
		}
		return *o, nil
	case TypeCancel:
		if r.Cancel == nil {
			return nil, fmt.Errorf("cancel request requires cancel payload")
		}
		c, err := r.Cancel.ToEIP712()
		if err != nil {
			return nil, err
		}
		return *c, nil
	default:
		return nil, fmt.Errorf("unknown request type: %q", r.Type)
	}
}

// Validate performs basic validation on request structure
func (r *SignedRequest) Validate() error {
	if r.Type == "" {
		return fmt.Errorf("missing request type")
	}
	if r.Signature == "" {
		return fmt.Errorf("missing signature")
	}
	_, err := r.TypedData()
	return err
}

// Serialize converts the request to JSON bytes
func (r *SignedRequest) Serialize() ([]byte, error) {
	return json.Marshal(r)
}

// Deserialize parses and validates a JSON request
func Deserialize(data []byte) (*SignedRequest, error) {
	var r SignedRequest
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to unmarshal request: %w", err)
	}
	if err := r.Validate(); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}
	return &r, nil
}

// Example:
//
//	{
//	  "type": "trailing_stop",
//	  "trailing": {
//	    "owner": "0x742d35Cc6634C0532925a3b844Bc9e7595f0bEb0",
//	    "sellAsset": "0x...",
//	    "buyAsset": "0x...",
//	    "amount": "1000000",
//	    "trailBps": 500,
//	    "ticker": "other:XLMUSD",
//	    "nonce": "42",
//	    "deadline": "0"
//	  },
//	  "signature": "0x1234567890abcdef..."
//	}
