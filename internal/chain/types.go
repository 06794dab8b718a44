package chain

import (
	"fmt"
	"strconv"
	"strings"
)

// BlockRef identifies a point in chain history: a block number or Latest.
type BlockRef int64

// Latest refers to the most recent block known to the node.
const Latest BlockRef = -1

// AtBlock returns a reference to the given block number.
func AtBlock(number int64) BlockRef {
	return BlockRef(number)
}

// IsLatest reports whether the reference is the latest tag.
func (b BlockRef) IsLatest() bool {
	return b < 0
}

// String returns the JSON-RPC block parameter ("latest" or a hex quantity).
func (b BlockRef) String() string {
	if b.IsLatest() {
		return "latest"
	}
	return encodeQuantity(int64(b))
}

// BlockHeader is the subset of a block header the feed needs.
type BlockHeader struct {
	Number    int64
	Timestamp int64 // Unix timestamp (seconds)
	Hash      string
}

// Ref returns a reference to this block.
func (h BlockHeader) Ref() BlockRef {
	return AtBlock(h.Number)
}

// CallMsg is a read-only contract call.
type CallMsg struct {
	To   string // 0x-prefixed contract address
	Data []byte
}

func encodeQuantity(v int64) string {
	return "0x" + strconv.FormatInt(v, 16)
}

func decodeQuantity(s string) (int64, error) {
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		return 0, fmt.Errorf("quantity %q missing 0x prefix", s)
	}
	v, err := strconv.ParseInt(s[2:], 16, 64)
	if err != nil {
		return 0, fmt.Errorf("parse quantity %q: %w", s, err)
	}
	return v, nil
}
