package chain

import "context"

// WSClient defines the subscription interface used to follow the chain head.
type WSClient interface {
	// SubscribeNewHeads streams headers of newly sealed blocks.
	SubscribeNewHeads(ctx context.Context) (<-chan BlockHeader, error)

	// Close closes the WebSocket connection.
	Close() error
}
