package chain

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"redemption-feed/internal/observability"
)

// Default configuration values.
const (
	DefaultTimeout     = 30 * time.Second
	DefaultMaxRetries  = 3
	DefaultRetryDelay  = 1 * time.Second
	DefaultMaxDelay    = 10 * time.Second
	DefaultBackoffMult = 2.0
)

// HTTPClient implements RPCClient using HTTP JSON-RPC 2.0.
type HTTPClient struct {
	endpoint    string
	client      *http.Client
	maxRetries  int
	retryDelay  time.Duration
	maxDelay    time.Duration
	backoffMult float64
	requestID   atomic.Uint64
}

// ClientOption configures HTTPClient.
type ClientOption func(*HTTPClient)

// WithTimeout sets HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *HTTPClient) {
		c.client.Timeout = d
	}
}

// WithMaxRetries sets maximum retry attempts.
func WithMaxRetries(n int) ClientOption {
	return func(c *HTTPClient) {
		c.maxRetries = n
	}
}

// WithRetryDelay sets initial retry delay.
func WithRetryDelay(d time.Duration) ClientOption {
	return func(c *HTTPClient) {
		c.retryDelay = d
	}
}

// WithMaxDelay sets maximum retry delay.
func WithMaxDelay(d time.Duration) ClientOption {
	return func(c *HTTPClient) {
		c.maxDelay = d
	}
}

// WithHTTPClient sets custom http.Client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *HTTPClient) {
		c.client = client
	}
}

// NewHTTPClient creates a new JSON-RPC HTTP client.
func NewHTTPClient(endpoint string, opts ...ClientOption) *HTTPClient {
	c := &HTTPClient{
		endpoint:    endpoint,
		client:      &http.Client{Timeout: DefaultTimeout},
		maxRetries:  DefaultMaxRetries,
		retryDelay:  DefaultRetryDelay,
		maxDelay:    DefaultMaxDelay,
		backoffMult: DefaultBackoffMult,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// rpcRequest represents a JSON-RPC 2.0 request.
type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

// rpcResponse represents a JSON-RPC 2.0 response.
type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is a JSON-RPC 2.0 error object, including execution reverts.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    string `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("RPC error %d: %s", e.Code, e.Message)
}

// maxResponseBytes bounds a single JSON-RPC response body.
const maxResponseBytes = 8 << 20

// transientError marks a failure worth retrying. wait, when non-zero, is the
// delay the server asked for.
type transientError struct {
	err  error
	wait time.Duration
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// call performs a JSON-RPC call, retrying transport failures, 429 and 5xx
// responses with exponential backoff. JSON-RPC errors are returned as is.
func (c *HTTPClient) call(ctx context.Context, method string, params []interface{}, result interface{}) error {
	start := time.Now()
	defer func() {
		observability.RecordRPCLatency(method, time.Since(start).Seconds())
	}()

	if params == nil {
		params = []interface{}{}
	}
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      c.requestID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", method, err)
	}

	delay := c.retryDelay
	var lastErr error
	for attempt := 0; ; attempt++ {
		raw, err := c.roundTrip(ctx, body)
		if err == nil {
			if result == nil || raw == nil {
				return nil
			}
			if err := json.Unmarshal(raw, result); err != nil {
				return fmt.Errorf("unmarshal %s result: %w", method, err)
			}
			return nil
		}

		var transient *transientError
		if !errors.As(err, &transient) {
			return err
		}
		lastErr = err
		if attempt >= c.maxRetries {
			break
		}

		wait := delay
		if transient.wait > 0 {
			wait = transient.wait
		}
		if wait > c.maxDelay {
			wait = c.maxDelay
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		delay = time.Duration(float64(delay) * c.backoffMult)
	}
	return fmt.Errorf("%s: max retries exceeded: %w", method, lastErr)
}

// roundTrip sends one request and returns the raw result.
func (c *HTTPClient) roundTrip(ctx context.Context, body []byte) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &transientError{err: fmt.Errorf("http request: %w", err)}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &transientError{err: fmt.Errorf("read response: %w", err)}
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &transientError{err: errors.New("rate limited (429)"), wait: retryAfter(resp.Header)}
	case resp.StatusCode >= 500:
		return nil, &transientError{err: fmt.Errorf("server error %d: %s", resp.StatusCode, truncate(data))}
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, truncate(data))
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(data, &rpcResp); err != nil {
		return nil, &transientError{err: fmt.Errorf("unmarshal response: %w", err)}
	}
	if rpcResp.Error != nil {
		return nil, rpcResp.Error
	}
	if string(rpcResp.Result) == "null" {
		return nil, nil
	}
	return rpcResp.Result, nil
}

// retryAfter parses a Retry-After header given in seconds.
func retryAfter(h http.Header) time.Duration {
	secs, err := strconv.Atoi(h.Get("Retry-After"))
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

func truncate(b []byte) string {
	const limit = 256
	if len(b) > limit {
		return string(b[:limit]) + "..."
	}
	return string(b)
}

// BlockNumber returns the number of the most recent block.
func (c *HTTPClient) BlockNumber(ctx context.Context) (int64, error) {
	var result string
	if err := c.call(ctx, "eth_blockNumber", nil, &result); err != nil {
		return 0, err
	}
	return decodeQuantity(result)
}

// HeaderByNumber returns the header of the referenced block.
func (c *HTTPClient) HeaderByNumber(ctx context.Context, ref BlockRef) (*BlockHeader, error) {
	params := []interface{}{ref.String(), false}

	var result *getBlockResult
	if err := c.call(ctx, "eth_getBlockByNumber", params, &result); err != nil {
		return nil, err
	}
	if result == nil {
		return nil, ErrNotFound
	}

	number, err := decodeQuantity(result.Number)
	if err != nil {
		return nil, fmt.Errorf("block number: %w", err)
	}
	timestamp, err := decodeQuantity(result.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("block timestamp: %w", err)
	}

	return &BlockHeader{
		Number:    number,
		Timestamp: timestamp,
		Hash:      result.Hash,
	}, nil
}

// getBlockResult is the raw RPC response for eth_getBlockByNumber.
type getBlockResult struct {
	Number    string `json:"number"`
	Hash      string `json:"hash"`
	Timestamp string `json:"timestamp"`
}

// Call executes eth_call against the state at ref.
func (c *HTTPClient) Call(ctx context.Context, msg CallMsg, ref BlockRef) ([]byte, error) {
	params := []interface{}{
		map[string]string{
			"to":   msg.To,
			"data": "0x" + hex.EncodeToString(msg.Data),
		},
		ref.String(),
	}

	var result string
	if err := c.call(ctx, "eth_call", params, &result); err != nil {
		return nil, err
	}

	out, err := hex.DecodeString(strings.TrimPrefix(result, "0x"))
	if err != nil {
		return nil, fmt.Errorf("decode call result: %w", err)
	}
	return out, nil
}

var _ RPCClient = (*HTTPClient)(nil)
