package pricefeed

import (
	"errors"
	"fmt"

	"redemption-feed/internal/chain"
)

var (
	// ErrConfiguration matches every *ConfigurationError.
	ErrConfiguration = errors.New("invalid feed configuration")

	// ErrChainRead matches every *ChainReadError.
	ErrChainRead = errors.New("chain read failed")

	// ErrBlockResolution matches every *BlockResolutionError.
	ErrBlockResolution = errors.New("block resolution failed")
)

// ConfigurationError reports a missing or invalid constructor input.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("feed config: %s: %s", e.Field, e.Reason)
}

func (e *ConfigurationError) Is(target error) bool {
	return target == ErrConfiguration
}

// ChainReadError reports a failed contract view read.
type ChainReadError struct {
	View  string
	Block chain.BlockRef
	Err   error
}

func (e *ChainReadError) Error() string {
	return fmt.Sprintf("read %s at %s: %v", e.View, e.Block, e.Err)
}

func (e *ChainReadError) Unwrap() error { return e.Err }

func (e *ChainReadError) Is(target error) bool {
	return target == ErrChainRead
}

// BlockResolutionError reports a timestamp that could not be mapped to a block.
type BlockResolutionError struct {
	Timestamp int64
	Err       error
}

func (e *BlockResolutionError) Error() string {
	return fmt.Sprintf("resolve block for %d: %v", e.Timestamp, e.Err)
}

func (e *BlockResolutionError) Unwrap() error { return e.Err }

func (e *BlockResolutionError) Is(target error) bool {
	return target == ErrBlockResolution
}
