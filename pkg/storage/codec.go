package storage

import (
	"encoding/hex"

	json "github.com/goccy/go-json"
	"golang.org/x/crypto/sha3"

	"github.com/uhyunpark/trailstop/pkg/order"
)

func encodeJSON(v any) ([]byte, error) {
	return json.Marshal(v)
}

func decodeJSON(b []byte, v any) error {
	return json.Unmarshal(b, v)
}

// eventHead tracks the tail of the event log
type eventHead struct {
	Seq  uint64 `json:"seq"` // seq of the last appended event, 0 = empty log
	Hash string `json:"hash"`
}

// chainHash computes keccak256(prevHash || encoded event) with Hash cleared
func chainHash(prev string, ev order.Event) (string, error) {
	ev.Hash = ""
	body, err := encodeJSON(ev)
	if err != nil {
		return "", err
	}
	prevBytes, err := hex.DecodeString(prev)
	if err != nil {
		return "", err
	}
	h := sha3.NewLegacyKeccak256()
	h.Write(prevBytes)
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// VerifyEventChain recomputes the hash chain over a contiguous slice of events
// starting right after prevHash. Returns the index of the first broken link, or -1.
func VerifyEventChain(prevHash string, events []order.Event) (int, error) {
	prev := prevHash
	for i, ev := range events {
		want, err := chainHash(prev, ev)
		if err != nil {
			return i, err
		}
		if want != ev.Hash {
			return i, nil
		}
		prev = ev.Hash
	}
	return -1, nil
}
