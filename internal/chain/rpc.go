package chain

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a requested block does not exist.
var ErrNotFound = errors.New("not found")

// RPCClient defines the Ethereum JSON-RPC subset used by the feed.
type RPCClient interface {
	// BlockNumber returns the number of the most recent block.
	BlockNumber(ctx context.Context) (int64, error)

	// HeaderByNumber returns the header of the referenced block.
	// Returns ErrNotFound if the block does not exist.
	HeaderByNumber(ctx context.Context, ref BlockRef) (*BlockHeader, error)

	// Call executes a read-only call against the state at ref.
	Call(ctx context.Context, msg CallMsg, ref BlockRef) ([]byte, error)
}
