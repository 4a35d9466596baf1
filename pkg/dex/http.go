package dex

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	json "github.com/goccy/go-json"
)

// HTTPRouter forwards swaps to an external venue.
// The input amount is pulled into the venue's settlement account before the
// request is sent; if the venue rejects the swap the caller discards the
// enclosing transaction, which reverts that pull.
//
//	POST {base}/swap {"amountIn","minOut","path","to","deadline"} → {"amounts": ["..", ".."]}
type HTTPRouter struct {
	baseURL string
	account common.Address
	http    *http.Client
}

func NewHTTPRouter(baseURL string, account common.Address, timeout time.Duration) *HTTPRouter {
	return &HTTPRouter{
		baseURL: strings.TrimRight(baseURL, "/"),
		account: account,
		http:    &http.Client{Timeout: timeout},
	}
}

type swapBody struct {
	AmountIn string   `json:"amountIn"`
	MinOut   string   `json:"minOut"`
	Path     []string `json:"path"`
	To       string   `json:"to"`
	Deadline int64    `json:"deadline"` // Unix seconds
}

type swapResponse struct {
	Amounts []string `json:"amounts"`
}

func (r *HTTPRouter) Swap(ctx context.Context, req SwapRequest) ([]*big.Int, error) {
	if req.Funds == nil {
		return nil, fmt.Errorf("swap request carries no funds")
	}
	if err := req.Funds.Spend(req.AmountIn, r.account); err != nil {
		return nil, fmt.Errorf("pull input funds: %w", err)
	}

	path := make([]string, len(req.Path))
	for i, a := range req.Path {
		path[i] = a.Hex()
	}
	body, err := json.Marshal(swapBody{
		AmountIn: req.AmountIn.String(),
		MinOut:   req.MinOut.String(),
		Path:     path,
		To:       req.Recipient.Hex(),
		Deadline: req.Deadline.Unix(),
	})
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/swap", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := r.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("router request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("router read: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("router status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var out swapResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("router decode: %w", err)
	}
	amounts := make([]*big.Int, 0, len(out.Amounts))
	for _, s := range out.Amounts {
		v, ok := new(big.Int).SetString(s, 10)
		if !ok {
			return nil, fmt.Errorf("router returned invalid amount %q", s)
		}
		amounts = append(amounts, v)
	}
	return amounts, nil
}

var _ Router = (*HTTPRouter)(nil)
