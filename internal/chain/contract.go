package chain

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"golang.org/x/crypto/sha3"
)

// Views exposed by the redemption oracle relay.
const (
	ViewRedemptionPrice = "redemptionPrice"
	ViewRedemptionRate  = "redemptionRate"
)

// RedemptionViews is the interface descriptor of the redemption oracle relay.
var RedemptionViews = []string{ViewRedemptionPrice, ViewRedemptionRate}

// Contract read errors.
var (
	ErrInvalidAddress = errors.New("invalid contract address")
	ErrUnknownView    = errors.New("view not in contract interface")
	ErrShortResult    = errors.New("call returned fewer than 32 bytes")
)

// Caller executes read-only calls. HTTPClient satisfies it.
type Caller interface {
	Call(ctx context.Context, msg CallMsg, ref BlockRef) ([]byte, error)
}

// Binding describes a deployed contract: its address and the
// no-argument uint256 views it exposes.
type Binding struct {
	Address string
	Views   []string
}

// ContractReader reads uint256 views from a deployed contract.
type ContractReader struct {
	caller    Caller
	address   string
	selectors map[string][]byte
}

// NewContractReader validates the binding and precomputes view selectors.
func NewContractReader(caller Caller, binding Binding) (*ContractReader, error) {
	if caller == nil {
		return nil, errors.New("caller required")
	}
	if !isHexAddress(binding.Address) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAddress, binding.Address)
	}
	if len(binding.Views) == 0 {
		return nil, errors.New("at least one view required")
	}

	selectors := make(map[string][]byte, len(binding.Views))
	for _, view := range binding.Views {
		selectors[view] = Selector(view + "()")
	}

	return &ContractReader{
		caller:    caller,
		address:   strings.ToLower(binding.Address),
		selectors: selectors,
	}, nil
}

// Address returns the lower-cased contract address.
func (r *ContractReader) Address() string {
	return r.address
}

// Read calls the named view at ref and decodes the first return word.
func (r *ContractReader) Read(ctx context.Context, view string, ref BlockRef) (*big.Int, error) {
	selector, ok := r.selectors[view]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownView, view)
	}

	out, err := r.caller.Call(ctx, CallMsg{To: r.address, Data: selector}, ref)
	if err != nil {
		return nil, err
	}
	if len(out) < 32 {
		return nil, fmt.Errorf("%w: %s returned %d bytes", ErrShortResult, view, len(out))
	}

	return new(big.Int).SetBytes(out[:32]), nil
}

// Selector returns the 4-byte function selector of a canonical signature
// such as "redemptionRate()".
func Selector(signature string) []byte {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(signature))
	return h.Sum(nil)[:4]
}

func isHexAddress(s string) bool {
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		return false
	}
	raw := s[2:]
	if len(raw) != 40 {
		return false
	}
	_, err := hex.DecodeString(raw)
	return err == nil
}
