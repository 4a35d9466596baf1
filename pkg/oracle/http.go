package oracle

import (
	"context"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"golang.org/x/time/rate"
)

// HTTPClient queries a price service over REST.
//
//	GET {base}/decimals             → {"decimals": 7}
//	GET {base}/price?ticker=other:X → {"price": "1234", "timestamp": 1700000000}
//	                                  404 when no quote exists
type HTTPClient struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
}

// NewHTTPClient builds a client throttled to rps requests per second (0 = unlimited)
func NewHTTPClient(baseURL string, timeout time.Duration, rps float64) *HTTPClient {
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(limit, 1),
	}
}

type priceResponse struct {
	Price     string `json:"price"`
	Timestamp int64  `json:"timestamp"`
}

type decimalsResponse struct {
	Decimals uint32 `json:"decimals"`
}

func (c *HTTPClient) LastPrice(ctx context.Context, ticker Ticker) (Quote, bool, error) {
	q := url.Values{}
	q.Set("ticker", ticker.String())

	var resp priceResponse
	found, err := c.get(ctx, "/price?"+q.Encode(), &resp)
	if err != nil || !found {
		return Quote{}, false, err
	}
	price, ok := new(big.Int).SetString(resp.Price, 10)
	if !ok {
		return Quote{}, false, fmt.Errorf("oracle returned invalid price %q for %s", resp.Price, ticker)
	}
	return Quote{Price: price, Timestamp: resp.Timestamp}, true, nil
}

func (c *HTTPClient) Decimals(ctx context.Context) (uint32, error) {
	var resp decimalsResponse
	found, err := c.get(ctx, "/decimals", &resp)
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, fmt.Errorf("oracle decimals endpoint not found")
	}
	return resp.Decimals, nil
}

// get returns found=false on 404
func (c *HTTPClient) get(ctx context.Context, path string, out any) (bool, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return false, fmt.Errorf("oracle throttle: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return false, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return false, fmt.Errorf("oracle request %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return false, nil
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return false, fmt.Errorf("oracle read %s: %w", path, err)
	}
	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("oracle %s: status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.Unmarshal(body, out); err != nil {
		return false, fmt.Errorf("oracle decode %s: %w", path, err)
	}
	return true, nil
}

var _ Client = (*HTTPClient)(nil)
