// Package stub provides an in-memory chain for tests.
package stub

import (
	"bytes"
	"context"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"

	"redemption-feed/internal/chain"
)

// Chain is an in-memory chain. Each mined block carries a full copy of the
// contract views as of that block.
type Chain struct {
	mu     sync.RWMutex
	blocks []chain.BlockHeader
	states []map[string]*big.Int
	fail   map[string]error

	reads atomic.Int64
}

// New creates a chain whose genesis block (number 0) has the given timestamp
// and no view values set.
func New(genesisTime int64) *Chain {
	return &Chain{
		blocks: []chain.BlockHeader{{Number: 0, Timestamp: genesisTime, Hash: hashOf(0)}},
		states: []map[string]*big.Int{{}},
		fail:   make(map[string]error),
	}
}

// Mine appends a block at timestamp with the given view updates applied on
// top of the previous state.
func (c *Chain) Mine(timestamp int64, updates map[string]*big.Int) chain.BlockHeader {
	c.mu.Lock()
	defer c.mu.Unlock()

	prev := c.states[len(c.states)-1]
	next := make(map[string]*big.Int, len(prev)+len(updates))
	for k, v := range prev {
		next[k] = v
	}
	for k, v := range updates {
		next[k] = new(big.Int).Set(v)
	}

	number := int64(len(c.blocks))
	header := chain.BlockHeader{Number: number, Timestamp: timestamp, Hash: hashOf(number)}
	c.blocks = append(c.blocks, header)
	c.states = append(c.states, next)
	return header
}

// SetRedemption mines a block that sets both redemption views.
// Values are decimal strings, as they would be passed to a contract setter.
func (c *Chain) SetRedemption(timestamp int64, price, rate string) chain.BlockHeader {
	return c.Mine(timestamp, map[string]*big.Int{
		chain.ViewRedemptionPrice: mustBig(price),
		chain.ViewRedemptionRate:  mustBig(rate),
	})
}

// FailView makes every read of view return err. A nil err clears it.
func (c *Chain) FailView(view string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err == nil {
		delete(c.fail, view)
		return
	}
	c.fail[view] = err
}

// Reads returns the number of view reads served so far.
func (c *Chain) Reads() int64 {
	return c.reads.Load()
}

// Read returns the value of view as of ref.
func (c *Chain) Read(_ context.Context, view string, ref chain.BlockRef) (*big.Int, error) {
	c.reads.Add(1)

	c.mu.RLock()
	defer c.mu.RUnlock()

	if err, ok := c.fail[view]; ok {
		return nil, err
	}

	idx, err := c.index(ref)
	if err != nil {
		return nil, err
	}

	v, ok := c.states[idx][view]
	if !ok {
		return new(big.Int), nil
	}
	return new(big.Int).Set(v), nil
}

// BlockNumber returns the number of the most recent block.
func (c *Chain) BlockNumber(_ context.Context) (int64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return int64(len(c.blocks) - 1), nil
}

// HeaderByNumber returns the referenced header.
func (c *Chain) HeaderByNumber(_ context.Context, ref chain.BlockRef) (*chain.BlockHeader, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	idx, err := c.index(ref)
	if err != nil {
		return nil, err
	}
	h := c.blocks[idx]
	return &h, nil
}

// Call serves eth_call for the redemption views by matching selectors.
func (c *Chain) Call(ctx context.Context, msg chain.CallMsg, ref chain.BlockRef) ([]byte, error) {
	for _, view := range chain.RedemptionViews {
		if bytes.Equal(msg.Data, chain.Selector(view+"()")) {
			v, err := c.Read(ctx, view, ref)
			if err != nil {
				return nil, err
			}
			word := make([]byte, 32)
			return v.FillBytes(word), nil
		}
	}
	return nil, &chain.RPCError{Code: 3, Message: "execution reverted"}
}

func (c *Chain) index(ref chain.BlockRef) (int, error) {
	if ref.IsLatest() {
		return len(c.blocks) - 1, nil
	}
	if int64(ref) >= int64(len(c.blocks)) {
		return 0, chain.ErrNotFound
	}
	return int(ref), nil
}

func hashOf(number int64) string {
	return fmt.Sprintf("0x%064x", number+1)
}

func mustBig(s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		panic(fmt.Sprintf("stub: invalid integer %q", s))
	}
	return v
}

var _ chain.RPCClient = (*Chain)(nil)
