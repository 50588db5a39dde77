package prices

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"orderScope/internal/chains"
)

func TestPricesChunksAndDefaultsMissingToZero(t *testing.T) {
	tokens := make([]common.Address, 25)
	for i := range tokens {
		tokens[i] = common.BigToAddress(big.NewInt(int64(i + 1)))
	}

	var requests int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		ids := strings.Split(strings.TrimPrefix(r.URL.Path, "/prices/current/"), ",")
		if len(ids) > ChunkSize {
			t.Errorf("chunk too large: %d", len(ids))
		}
		var parts []string
		for _, id := range ids {
			if !strings.HasPrefix(id, "arbitrum:") {
				t.Errorf("missing chain prefix: %s", id)
			}
			// Addresses ending in 3 are unknown to the service.
			if strings.HasSuffix(id, "3") {
				continue
			}
			parts = append(parts, fmt.Sprintf(`"%s":{"price":1.25,"symbol":"X"}`, id))
		}
		fmt.Fprintf(w, `{"coins":{%s}}`, strings.Join(parts, ","))
	}))
	defer server.Close()

	c := NewClient(server.URL, chains.Arbitrum, nil)
	got := c.Prices(context.Background(), tokens)

	if n := atomic.LoadInt32(&requests); n != 2 {
		t.Fatalf("expected 2 chunked requests, got %d", n)
	}
	if len(got) != len(tokens) {
		t.Fatalf("expected a price for every token, got %d", len(got))
	}
	for _, tok := range tokens {
		price := got[tok]
		if strings.HasSuffix(strings.ToLower(tok.Hex()), "3") {
			if !price.IsZero() {
				t.Fatalf("%s: expected zero for missing price, got %s", tok.Hex(), price)
			}
			continue
		}
		if price.String() != "1.25" {
			t.Fatalf("%s: expected 1.25, got %s", tok.Hex(), price)
		}
	}
}

func TestPricesServiceErrorYieldsZero(t *testing.T) {
	var requests int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	c := NewClient(server.URL, chains.Mainnet, nil)
	c.retryDelay = time.Millisecond
	token := common.HexToAddress("0x00000000000000000000000000000000000000aa")

	got := c.Prices(context.Background(), []common.Address{token})
	if !got[token].IsZero() {
		t.Fatalf("expected zero price on service error, got %s", got[token])
	}
	if n := atomic.LoadInt32(&requests); n != int32(c.maxRetries+1) {
		t.Fatalf("expected %d attempts, got %d", c.maxRetries+1, n)
	}
}

func TestPricesDoesNotRetryClientErrors(t *testing.T) {
	cases := []struct {
		name     string
		handler  http.HandlerFunc
		attempts int32
	}{
		{
			name:     "not found",
			handler:  func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNotFound) },
			attempts: 1,
		},
		{
			name:     "malformed body",
			handler:  func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte("{not json")) },
			attempts: 1,
		},
		{
			name:     "rate limited",
			handler:  func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusTooManyRequests) },
			attempts: 3,
		},
	}

	token := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	for _, tc := range cases {
		var requests int32
		handler := tc.handler
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&requests, 1)
			handler(w, r)
		}))

		c := NewClient(server.URL, chains.Mainnet, nil)
		c.retryDelay = time.Millisecond
		c.maxRetries = 2
		got := c.Prices(context.Background(), []common.Address{token})
		server.Close()

		if !got[token].IsZero() {
			t.Fatalf("%s: expected zero price, got %s", tc.name, got[token])
		}
		if n := atomic.LoadInt32(&requests); n != tc.attempts {
			t.Fatalf("%s: expected %d attempts, got %d", tc.name, tc.attempts, n)
		}
	}
}

func TestRetryable(t *testing.T) {
	cases := map[error]bool{
		errors.New("connection reset"):                    true,
		&statusError{code: http.StatusServiceUnavailable}: true,
		&statusError{code: http.StatusTooManyRequests}:    true,
		&statusError{code: http.StatusBadRequest}:         false,
		fmt.Errorf("%w: eof", errMalformed):               false,
		fmt.Errorf("get: %w", context.DeadlineExceeded):   false,
	}
	for err, want := range cases {
		if got := retryable(err); got != want {
			t.Fatalf("retryable(%v) = %v, want %v", err, got, want)
		}
	}
}

func TestWithRetryStopsOnSuccess(t *testing.T) {
	attempts := 0
	err := withRetry(context.Background(), 3, time.Millisecond, func(context.Context) error {
		attempts++
		if attempts < 2 {
			return fmt.Errorf("transient")
		}
		return nil
	})
	if err != nil || attempts != 2 {
		t.Fatalf("expected success on second attempt, got %d, %v", attempts, err)
	}
}
