package chain

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

// rpcServer answers JSON-RPC requests with handler's result.
func rpcServer(t *testing.T, handler func(req rpcRequest) (interface{}, *RPCError)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
			return
		}

		result, rpcErr := handler(req)
		resp := map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      req.ID,
		}
		if rpcErr != nil {
			resp["error"] = rpcErr
		} else {
			resp["result"] = result
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
}

func TestHTTPClient_BlockNumber(t *testing.T) {
	server := rpcServer(t, func(req rpcRequest) (interface{}, *RPCError) {
		if req.Method != "eth_blockNumber" {
			t.Errorf("expected method eth_blockNumber, got %s", req.Method)
		}
		return "0x10d4f", nil
	})
	defer server.Close()

	client := NewHTTPClient(server.URL)
	n, err := client.BlockNumber(context.Background())
	if err != nil {
		t.Fatalf("BlockNumber: %v", err)
	}
	if n != 68943 {
		t.Errorf("expected 68943, got %d", n)
	}
}

func TestHTTPClient_HeaderByNumber(t *testing.T) {
	server := rpcServer(t, func(req rpcRequest) (interface{}, *RPCError) {
		if req.Method != "eth_getBlockByNumber" {
			t.Errorf("expected method eth_getBlockByNumber, got %s", req.Method)
		}
		if len(req.Params) != 2 || req.Params[0] != "0x64" || req.Params[1] != false {
			t.Errorf("unexpected params %v", req.Params)
		}
		return map[string]interface{}{
			"number":    "0x64",
			"hash":      "0xabc",
			"timestamp": "0x6553f100",
		}, nil
	})
	defer server.Close()

	client := NewHTTPClient(server.URL)
	h, err := client.HeaderByNumber(context.Background(), AtBlock(100))
	if err != nil {
		t.Fatalf("HeaderByNumber: %v", err)
	}
	if h.Number != 100 {
		t.Errorf("expected number 100, got %d", h.Number)
	}
	if h.Timestamp != 1700000000 {
		t.Errorf("expected timestamp 1700000000, got %d", h.Timestamp)
	}
	if h.Hash != "0xabc" {
		t.Errorf("expected hash 0xabc, got %s", h.Hash)
	}
}

func TestHTTPClient_HeaderByNumber_NotFound(t *testing.T) {
	server := rpcServer(t, func(req rpcRequest) (interface{}, *RPCError) {
		return nil, nil
	})
	defer server.Close()

	client := NewHTTPClient(server.URL)
	_, err := client.HeaderByNumber(context.Background(), AtBlock(1<<40))
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestHTTPClient_Call(t *testing.T) {
	word := make([]byte, 32)
	word[31] = 0x2a

	server := rpcServer(t, func(req rpcRequest) (interface{}, *RPCError) {
		if req.Method != "eth_call" {
			t.Errorf("expected method eth_call, got %s", req.Method)
		}
		msg, ok := req.Params[0].(map[string]interface{})
		if !ok {
			t.Errorf("expected call object, got %T", req.Params[0])
			return nil, &RPCError{Code: -32602, Message: "invalid params"}
		}
		if msg["to"] != "0x00000000000000000000000000000000000000aa" {
			t.Errorf("unexpected to %v", msg["to"])
		}
		if msg["data"] != "0x01020304" {
			t.Errorf("unexpected data %v", msg["data"])
		}
		if req.Params[1] != "latest" {
			t.Errorf("expected latest block tag, got %v", req.Params[1])
		}
		return "0x" + hex.EncodeToString(word), nil
	})
	defer server.Close()

	client := NewHTTPClient(server.URL)
	out, err := client.Call(context.Background(), CallMsg{
		To:   "0x00000000000000000000000000000000000000aa",
		Data: []byte{1, 2, 3, 4},
	}, Latest)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if len(out) != 32 || out[31] != 0x2a {
		t.Errorf("unexpected result %x", out)
	}
}

func TestHTTPClient_RPCErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	server := rpcServer(t, func(req rpcRequest) (interface{}, *RPCError) {
		calls.Add(1)
		return nil, &RPCError{Code: 3, Message: "execution reverted"}
	})
	defer server.Close()

	client := NewHTTPClient(server.URL, WithRetryDelay(time.Millisecond))
	_, err := client.Call(context.Background(), CallMsg{To: "0x00000000000000000000000000000000000000aa"}, Latest)

	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) {
		t.Fatalf("expected RPCError, got %v", err)
	}
	if rpcErr.Code != 3 {
		t.Errorf("expected code 3, got %d", rpcErr.Code)
	}
	if calls.Load() != 1 {
		t.Errorf("expected 1 call, got %d", calls.Load())
	}
}

func TestHTTPClient_RetriesOnServerError(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		json.NewDecoder(r.Body).Decode(&req)

		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"result":  "0x1",
		})
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL,
		WithRetryDelay(time.Millisecond),
		WithMaxDelay(5*time.Millisecond),
	)
	n, err := client.BlockNumber(context.Background())
	if err != nil {
		t.Fatalf("BlockNumber: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1, got %d", n)
	}
	if calls.Load() != 3 {
		t.Errorf("expected 3 attempts, got %d", calls.Load())
	}
}

func TestHTTPClient_MaxRetriesExceeded(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL,
		WithMaxRetries(2),
		WithRetryDelay(time.Millisecond),
	)
	_, err := client.BlockNumber(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestHTTPClient_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, WithRetryDelay(time.Millisecond))
	if _, err := client.BlockNumber(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if calls.Load() != 1 {
		t.Errorf("expected 1 call, got %d", calls.Load())
	}
}

func TestHTTPClient_RetryAfterCappedByMaxDelay(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		json.NewDecoder(r.Body).Decode(&req)

		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "120")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"result":  "0x2",
		})
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL,
		WithRetryDelay(time.Millisecond),
		WithMaxDelay(10*time.Millisecond),
	)
	start := time.Now()
	n, err := client.BlockNumber(context.Background())
	if err != nil {
		t.Fatalf("BlockNumber: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2, got %d", n)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("Retry-After not capped: waited %v", elapsed)
	}
}

func TestHTTPClient_ContextCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := NewHTTPClient(server.URL, WithRetryDelay(time.Second))
	_, err := client.BlockNumber(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestBlockRef_String(t *testing.T) {
	if Latest.String() != "latest" {
		t.Errorf("expected latest, got %s", Latest.String())
	}
	if AtBlock(255).String() != "0xff" {
		t.Errorf("expected 0xff, got %s", AtBlock(255).String())
	}
	if AtBlock(0).String() != "0x0" {
		t.Errorf("expected 0x0, got %s", AtBlock(0).String())
	}
}
