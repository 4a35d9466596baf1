package crypto

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	json "github.com/goccy/go-json"
)

// EIP712Domain represents the domain separator for EIP-712 typed data
// This prevents replay attacks across different chains/deployments
type EIP712Domain struct {
	Name              string         // Protocol name (e.g., "TrailStop")
	Version           string         // Protocol version (e.g., "1")
	ChainID           *big.Int       // Chain ID (1337 for local)
	VerifyingContract common.Address // Custody account (or zero for off-chain)
}

// Primary type names of the signed requests
const (
	TypeSimpleTrigger = "SimpleTriggerOrder"
	TypeTrailingStop  = "TrailingStopOrder"
	TypeCancel        = "CancelOrder"
)

var domainType = []apitypes.Type{
	{Name: "name", Type: "string"},
	{Name: "version", Type: "string"},
	{Name: "chainId", Type: "uint256"},
	{Name: "verifyingContract", Type: "address"},
}

var requestTypes = apitypes.Types{
	"EIP712Domain": domainType,
	TypeSimpleTrigger: {
		{Name: "owner", Type: "address"},
		{Name: "sellAsset", Type: "address"},
		{Name: "buyAsset", Type: "address"},
		{Name: "amount", Type: "uint256"},
		{Name: "triggerPrice", Type: "uint256"},
		{Name: "nonce", Type: "uint256"},
		{Name: "deadline", Type: "uint256"},
	},
	TypeTrailingStop: {
		{Name: "owner", Type: "address"},
		{Name: "sellAsset", Type: "address"},
		{Name: "buyAsset", Type: "address"},
		{Name: "amount", Type: "uint256"},
		{Name: "trailBps", Type: "uint32"},
		{Name: "ticker", Type: "string"},
		{Name: "nonce", Type: "uint256"},
		{Name: "deadline", Type: "uint256"},
	},
	TypeCancel: {
		{Name: "owner", Type: "address"},
		{Name: "orderId", Type: "uint64"},
		{Name: "nonce", Type: "uint256"},
		{Name: "deadline", Type: "uint256"},
	},
}

// SimpleTriggerEIP712 is the typed data an owner signs to create a price-trigger order
type SimpleTriggerEIP712 struct {
	Owner        common.Address
	SellAsset    common.Address
	BuyAsset     common.Address
	Amount       *big.Int
	TriggerPrice *big.Int
	Nonce        *big.Int
	Deadline     *big.Int // Unix seconds, 0 = no expiry
}

// TrailingStopEIP712 is the typed data an owner signs to create a trailing stop-loss
type TrailingStopEIP712 struct {
	Owner     common.Address
	SellAsset common.Address
	BuyAsset  common.Address
	Amount    *big.Int
	TrailBps  uint32
	Ticker    string // "other:XLMUSD" or "asset:0x..."
	Nonce     *big.Int
	Deadline  *big.Int
}

// CancelEIP712 represents a cancel order request for EIP-712 signing
type CancelEIP712 struct {
	Owner    common.Address
	OrderID  uint64
	Nonce    *big.Int
	Deadline *big.Int
}

// TypedRequest is implemented by every signable request
type TypedRequest interface {
	PrimaryType() string
	Message() apitypes.TypedDataMessage
	Signer() common.Address
}

func (SimpleTriggerEIP712) PrimaryType() string { return TypeSimpleTrigger }
func (TrailingStopEIP712) PrimaryType() string  { return TypeTrailingStop }
func (CancelEIP712) PrimaryType() string        { return TypeCancel }

func (o SimpleTriggerEIP712) Signer() common.Address { return o.Owner }
func (o TrailingStopEIP712) Signer() common.Address  { return o.Owner }
func (c CancelEIP712) Signer() common.Address        { return c.Owner }

func (o SimpleTriggerEIP712) Message() apitypes.TypedDataMessage {
	return apitypes.TypedDataMessage{
		"owner":        o.Owner.Hex(),
		"sellAsset":    o.SellAsset.Hex(),
		"buyAsset":     o.BuyAsset.Hex(),
		"amount":       bigString(o.Amount),
		"triggerPrice": bigString(o.TriggerPrice),
		"nonce":        bigString(o.Nonce),
		"deadline":     bigString(o.Deadline),
	}
}

func (o TrailingStopEIP712) Message() apitypes.TypedDataMessage {
	return apitypes.TypedDataMessage{
		"owner":     o.Owner.Hex(),
		"sellAsset": o.SellAsset.Hex(),
		"buyAsset":  o.BuyAsset.Hex(),
		"amount":    bigString(o.Amount),
		"trailBps":  fmt.Sprintf("%d", o.TrailBps),
		"ticker":    o.Ticker,
		"nonce":     bigString(o.Nonce),
		"deadline":  bigString(o.Deadline),
	}
}

func (c CancelEIP712) Message() apitypes.TypedDataMessage {
	return apitypes.TypedDataMessage{
		"owner":    c.Owner.Hex(),
		"orderId":  fmt.Sprintf("%d", c.OrderID),
		"nonce":    bigString(c.Nonce),
		"deadline": bigString(c.Deadline),
	}
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

// EIP712Signer handles EIP-712 typed data hashing, signing and recovery for requests
type EIP712Signer struct {
	domain EIP712Domain
}

// NewEIP712Signer creates a new EIP-712 signer with given domain
func NewEIP712Signer(domain EIP712Domain) *EIP712Signer {
	return &EIP712Signer{domain: domain}
}

// DefaultDomain returns the local devnet domain
func DefaultDomain() EIP712Domain {
	return EIP712Domain{
		Name:              "TrailStop",
		Version:           "1",
		ChainID:           big.NewInt(1337),
		VerifyingContract: common.Address{},
	}
}

// Domain returns the signing domain
func (e *EIP712Signer) Domain() EIP712Domain {
	return e.domain
}

func (e *EIP712Signer) typedData(req TypedRequest) apitypes.TypedData {
	return apitypes.TypedData{
		Types:       requestTypes,
		PrimaryType: req.PrimaryType(),
		Domain: apitypes.TypedDataDomain{
			Name:              e.domain.Name,
			Version:           e.domain.Version,
			ChainId:           (*math.HexOrDecimal256)(e.domain.ChainID),
			VerifyingContract: e.domain.VerifyingContract.Hex(),
		},
		Message: req.Message(),
	}
}

// Hash returns the EIP-712 digest of a request
func (e *EIP712Signer) Hash(req TypedRequest) ([]byte, error) {
	typedData := e.typedData(req)

	domainSeparator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("failed to hash domain: %w", err)
	}

	typedDataHash, err := typedData.HashStruct(typedData.PrimaryType, typedData.Message)
	if err != nil {
		return nil, fmt.Errorf("failed to hash %s: %w", typedData.PrimaryType, err)
	}

	// keccak256("\x19\x01" || domainSeparator || typedDataHash)
	rawData := []byte(fmt.Sprintf("\x19\x01%s%s", string(domainSeparator), string(typedDataHash)))
	return crypto.Keccak256Hash(rawData).Bytes(), nil
}

// Sign signs a request and returns the 65-byte signature
func (e *EIP712Signer) Sign(signer *Signer, req TypedRequest) ([]byte, error) {
	hash, err := e.Hash(req)
	if err != nil {
		return nil, err
	}
	signature, err := signer.Sign(hash)
	if err != nil {
		return nil, fmt.Errorf("failed to sign %s: %w", req.PrimaryType(), err)
	}
	return signature, nil
}

// Recover returns the address that signed a request
func (e *EIP712Signer) Recover(req TypedRequest, signature []byte) (common.Address, error) {
	hash, err := e.Hash(req)
	if err != nil {
		return common.Address{}, err
	}
	return RecoverAddress(hash, signature)
}

// Verify reports whether signature was produced by the request's owner
func (e *EIP712Signer) Verify(req TypedRequest, signature []byte) (bool, error) {
	recovered, err := e.Recover(req, signature)
	if err != nil {
		return false, fmt.Errorf("failed to recover address: %w", err)
	}
	return recovered == req.Signer(), nil
}

// ToJSON renders a request as eth_signTypedData_v4 input for wallets
func (e *EIP712Signer) ToJSON(req TypedRequest) (string, error) {
	typedData := e.typedData(req)
	types := make(map[string][]apitypes.Type, 2)
	types["EIP712Domain"] = domainType
	types[req.PrimaryType()] = requestTypes[req.PrimaryType()]

	out := map[string]any{
		"types":       types,
		"primaryType": typedData.PrimaryType,
		"domain": map[string]any{
			"name":              e.domain.Name,
			"version":           e.domain.Version,
			"chainId":           e.domain.ChainID.String(),
			"verifyingContract": e.domain.VerifyingContract.Hex(),
		},
		"message": typedData.Message,
	}

	jsonBytes, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return string(jsonBytes), nil
}
