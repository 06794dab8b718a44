package chain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// ErrClientClosed is returned by a closed WSClientImpl.
var ErrClientClosed = errors.New("websocket client closed")

// WSClientConfig configures WebSocket client behavior.
type WSClientConfig struct {
	// ReconnectDelay is the first delay before re-dialing; it doubles per
	// failed attempt up to MaxReconnectDelay.
	ReconnectDelay    time.Duration
	MaxReconnectDelay time.Duration
	// PingInterval is the interval between ping frames. Each pong extends
	// the read deadline by ReadTimeout.
	PingInterval time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	// SubscribeTimeout bounds the wait for a subscription id.
	SubscribeTimeout time.Duration
}

// DefaultWSConfig returns default WebSocket configuration.
func DefaultWSConfig() WSClientConfig {
	return WSClientConfig{
		ReconnectDelay:    1 * time.Second,
		MaxReconnectDelay: 30 * time.Second,
		PingInterval:      30 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
		SubscribeTimeout:  30 * time.Second,
	}
}

// WSClientImpl implements WSClient using gorilla/websocket. A single reader
// goroutine owns the connection: when a read fails it re-dials with backoff
// and re-issues eth_subscribe for every subscriber, which keeps its channel.
type WSClientImpl struct {
	endpoint string
	config   WSClientConfig

	connMu sync.Mutex // guards conn and serialises writes
	conn   *websocket.Conn

	closed    atomic.Bool
	requestID atomic.Uint64

	mu      sync.Mutex
	outs    []chan BlockHeader          // every subscriber
	subs    map[string]chan BlockHeader // live subscription id -> subscriber
	pending map[uint64]pendingSubscribe // request id -> subscriber awaiting an id

	done chan struct{}
	wg   sync.WaitGroup
}

// pendingSubscribe is an eth_subscribe request awaiting its response.
// confirm is nil for requests issued on reconnect.
type pendingSubscribe struct {
	out     chan BlockHeader
	confirm chan error
}

// NewWSClient dials endpoint and starts the read and ping loops.
func NewWSClient(ctx context.Context, endpoint string, config *WSClientConfig) (*WSClientImpl, error) {
	cfg := DefaultWSConfig()
	if config != nil {
		cfg = *config
	}

	c := &WSClientImpl{
		endpoint: endpoint,
		config:   cfg,
		subs:     make(map[string]chan BlockHeader),
		pending:  make(map[uint64]pendingSubscribe),
		done:     make(chan struct{}),
	}

	conn, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}
	c.conn = conn

	c.wg.Add(2)
	go c.run()
	go c.pingLoop()
	return c, nil
}

func (c *WSClientImpl) dial(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, c.endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial: %w", err)
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
	})
	return conn, nil
}

// SubscribeNewHeads subscribes to new block headers. Headers are dropped
// when the receiver falls behind. The channel is closed by Close.
func (c *WSClientImpl) SubscribeNewHeads(ctx context.Context) (<-chan BlockHeader, error) {
	if c.closed.Load() {
		return nil, ErrClientClosed
	}

	out := make(chan BlockHeader, 64)
	confirm := make(chan error, 1)
	reqID := c.requestID.Add(1)

	c.mu.Lock()
	c.outs = append(c.outs, out)
	c.pending[reqID] = pendingSubscribe{out: out, confirm: confirm}
	c.mu.Unlock()

	if err := c.sendSubscribe(reqID); err != nil {
		c.forget(reqID, out)
		return nil, err
	}

	select {
	case err, ok := <-confirm:
		if !ok {
			return nil, ErrClientClosed
		}
		if err != nil {
			c.forget(reqID, out)
			return nil, err
		}
		return out, nil
	case <-time.After(c.config.SubscribeTimeout):
		c.forget(reqID, out)
		return nil, fmt.Errorf("subscription timeout after %v", c.config.SubscribeTimeout)
	case <-ctx.Done():
		c.forget(reqID, out)
		return nil, ctx.Err()
	case <-c.done:
		return nil, ErrClientClosed
	}
}

// forget drops a subscriber whose subscribe request failed, including any
// request or subscription a reconnect issued for it meanwhile.
func (c *WSClientImpl) forget(reqID uint64, out chan BlockHeader) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pending, reqID)
	for id, p := range c.pending {
		if p.out == out {
			delete(c.pending, id)
		}
	}
	for id, o := range c.subs {
		if o == out {
			delete(c.subs, id)
		}
	}
	for i, o := range c.outs {
		if o == out {
			c.outs = append(c.outs[:i], c.outs[i+1:]...)
			break
		}
	}
}

func (c *WSClientImpl) sendSubscribe(reqID uint64) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn == nil {
		return fmt.Errorf("not connected")
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	err := c.conn.WriteJSON(wsRequest{
		JSONRPC: "2.0",
		ID:      reqID,
		Method:  "eth_subscribe",
		Params:  []interface{}{"newHeads"},
	})
	if err != nil {
		return fmt.Errorf("write subscribe: %w", err)
	}
	return nil
}

// Close closes the connection and every subscriber channel.
func (c *WSClientImpl) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	close(c.done)

	c.connMu.Lock()
	if c.conn != nil {
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		_ = c.conn.Close()
	}
	c.connMu.Unlock()

	c.wg.Wait()

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, out := range c.outs {
		close(out)
	}
	c.outs = nil
	c.subs = make(map[string]chan BlockHeader)
	for id, p := range c.pending {
		if p.confirm != nil {
			close(p.confirm)
		}
		delete(c.pending, id)
	}
	return nil
}

// run reads until the connection fails, then reconnects, until Close.
func (c *WSClientImpl) run() {
	defer c.wg.Done()

	for {
		c.connMu.Lock()
		conn := c.conn
		c.connMu.Unlock()

		c.readUntilError(conn)
		if c.closed.Load() || !c.reconnect() {
			return
		}
	}
}

func (c *WSClientImpl) readUntilError(conn *websocket.Conn) {
	for {
		_ = conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
		_, message, err := conn.ReadMessage()
		if err != nil {
			return
		}
		c.handleMessage(message)
	}
}

// reconnect re-dials with exponential backoff and resubscribes every
// subscriber. It returns false if the client was closed meanwhile.
func (c *WSClientImpl) reconnect() bool {
	c.connMu.Lock()
	if c.conn != nil {
		_ = c.conn.Close()
	}
	c.connMu.Unlock()

	delay := c.config.ReconnectDelay
	for {
		select {
		case <-c.done:
			return false
		case <-time.After(delay):
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		conn, err := c.dial(ctx)
		cancel()
		if err == nil {
			c.connMu.Lock()
			if c.closed.Load() {
				c.connMu.Unlock()
				_ = conn.Close()
				return false
			}
			c.conn = conn
			c.connMu.Unlock()
			c.resubscribe()
			return true
		}

		delay *= 2
		if delay > c.config.MaxReconnectDelay {
			delay = c.config.MaxReconnectDelay
		}
	}
}

// resubscribe issues a fresh eth_subscribe for every subscriber. Responses
// are matched by the read loop; old subscription ids are dead.
func (c *WSClientImpl) resubscribe() {
	c.mu.Lock()
	c.subs = make(map[string]chan BlockHeader)
	for id, p := range c.pending {
		if p.confirm == nil {
			delete(c.pending, id)
		}
	}
	ids := make([]uint64, 0, len(c.outs))
	for _, out := range c.outs {
		id := c.requestID.Add(1)
		c.pending[id] = pendingSubscribe{out: out}
		ids = append(ids, id)
	}
	c.mu.Unlock()

	// A failed write surfaces as a read error and another reconnect.
	for _, id := range ids {
		if err := c.sendSubscribe(id); err != nil {
			return
		}
	}
}

func (c *WSClientImpl) handleMessage(message []byte) {
	var notif wsNotification
	if err := json.Unmarshal(message, &notif); err == nil && notif.Method == "eth_subscription" && notif.Params != nil {
		c.handleHeadNotification(notif.Params)
		return
	}

	var resp wsSubscribeResponse
	if err := json.Unmarshal(message, &resp); err == nil && resp.ID != 0 {
		c.handleSubscribeResponse(&resp)
	}
}

func (c *WSClientImpl) handleSubscribeResponse(resp *wsSubscribeResponse) {
	c.mu.Lock()
	p, ok := c.pending[resp.ID]
	if ok {
		delete(c.pending, resp.ID)
		if resp.Error == nil && resp.Result != "" {
			c.subs[resp.Result] = p.out
		}
	}
	c.mu.Unlock()

	if !ok || p.confirm == nil {
		return
	}
	var err error
	switch {
	case resp.Error != nil:
		err = resp.Error
	case resp.Result == "":
		err = errors.New("empty subscription id")
	}
	p.confirm <- err
}

// handleHeadNotification forwards a header without blocking; only the newest
// head matters to a feed.
func (c *WSClientImpl) handleHeadNotification(params *wsNotificationParams) {
	number, err := decodeQuantity(params.Result.Number)
	if err != nil {
		return
	}
	timestamp, err := decodeQuantity(params.Result.Timestamp)
	if err != nil {
		return
	}
	header := BlockHeader{Number: number, Timestamp: timestamp, Hash: params.Result.Hash}

	c.mu.Lock()
	defer c.mu.Unlock()
	if out, ok := c.subs[params.Subscription]; ok {
		select {
		case out <- header:
		default:
		}
	}
}

func (c *WSClientImpl) pingLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.connMu.Lock()
			if c.conn != nil {
				// A failed ping surfaces as a read error.
				_ = c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.config.WriteTimeout))
			}
			c.connMu.Unlock()
		}
	}
}

type wsRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params,omitempty"`
}

type wsSubscribeResponse struct {
	JSONRPC string    `json:"jsonrpc"`
	ID      uint64    `json:"id"`
	Result  string    `json:"result"` // subscription id
	Error   *RPCError `json:"error,omitempty"`
}

type wsNotification struct {
	JSONRPC string                `json:"jsonrpc"`
	Method  string                `json:"method"`
	Params  *wsNotificationParams `json:"params"`
}

type wsNotificationParams struct {
	Subscription string   `json:"subscription"`
	Result       wsHeader `json:"result"`
}

type wsHeader struct {
	Number    string `json:"number"`
	Hash      string `json:"hash"`
	Timestamp string `json:"timestamp"`
}

var _ WSClient = (*WSClientImpl)(nil)
