package prices

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"orderScope/internal/chains"
)

// DefaultBaseURL is the public DefiLlama coins API.
const DefaultBaseURL = "https://coins.llama.fi"

// ChunkSize is the number of tokens requested per price call.
const ChunkSize = 20

type coinsResponse struct {
	Coins map[string]struct {
		Price decimal.Decimal `json:"price"`
	} `json:"coins"`
}

// Client reads current USD token prices. Failures never propagate: a token
// whose price cannot be read is priced at zero.
type Client struct {
	baseURL    string
	prefix     string
	httpClient *http.Client
	maxRetries int
	retryDelay time.Duration
	logger     *zap.Logger
}

// NewClient builds a price client for chainID. An empty baseURL uses
// DefaultBaseURL.
func NewClient(baseURL string, chainID uint64, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		prefix:     chains.PricePrefix(chainID),
		httpClient: &http.Client{Timeout: 10 * time.Second},
		maxRetries: 2,
		retryDelay: 250 * time.Millisecond,
		logger:     logger,
	}
}

// Prices returns the USD price of each token. Every requested token is
// present in the result; unknown ones map to zero.
func (c *Client) Prices(ctx context.Context, tokens []common.Address) map[common.Address]decimal.Decimal {
	out := make(map[common.Address]decimal.Decimal, len(tokens))
	for _, t := range tokens {
		out[t] = decimal.Zero
	}

	for start := 0; start < len(tokens); start += ChunkSize {
		end := start + ChunkSize
		if end > len(tokens) {
			end = len(tokens)
		}
		chunk := tokens[start:end]

		var resp coinsResponse
		err := withRetry(ctx, c.maxRetries, c.retryDelay, func(ctx context.Context) error {
			var err error
			resp, err = c.fetch(ctx, chunk)
			return err
		})
		if err != nil {
			c.logger.Warn("price lookup failed", zap.Int("tokens", len(chunk)), zap.Error(err))
			continue
		}

		byAddress := make(map[string]decimal.Decimal, len(resp.Coins))
		for key, coin := range resp.Coins {
			addr := key
			if i := strings.IndexByte(key, ':'); i >= 0 {
				addr = key[i+1:]
			}
			byAddress[strings.ToLower(addr)] = coin.Price
		}
		for _, t := range chunk {
			if price, ok := byAddress[strings.ToLower(t.Hex())]; ok {
				out[t] = price
			}
		}
	}
	return out
}

func (c *Client) fetch(ctx context.Context, tokens []common.Address) (coinsResponse, error) {
	ids := make([]string, 0, len(tokens))
	for _, t := range tokens {
		ids = append(ids, c.prefix+":"+strings.ToLower(t.Hex()))
	}
	url := fmt.Sprintf("%s/prices/current/%s", c.baseURL, strings.Join(ids, ","))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return coinsResponse{}, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return coinsResponse{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return coinsResponse{}, &statusError{code: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return coinsResponse{}, err
	}

	var data coinsResponse
	if err := json.Unmarshal(body, &data); err != nil {
		return coinsResponse{}, fmt.Errorf("%w: %v", errMalformed, err)
	}
	return data, nil
}
