package chain

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testAddress = "0x4ed9C0dCa0479bC64d8f4EB3007126D5791f7851"

type fakeCaller struct {
	msg CallMsg
	ref BlockRef
	out []byte
	err error
}

func (f *fakeCaller) Call(_ context.Context, msg CallMsg, ref BlockRef) ([]byte, error) {
	f.msg = msg
	f.ref = ref
	return f.out, f.err
}

func TestSelector_KnownSignatures(t *testing.T) {
	assert.Equal(t, "a9059cbb", hex.EncodeToString(Selector("transfer(address,uint256)")))
	assert.Equal(t, "70a08231", hex.EncodeToString(Selector("balanceOf(address)")))
}

func TestNewContractReader_Validation(t *testing.T) {
	caller := &fakeCaller{}

	_, err := NewContractReader(nil, Binding{Address: testAddress, Views: RedemptionViews})
	assert.Error(t, err)

	_, err = NewContractReader(caller, Binding{Address: "0x1234", Views: RedemptionViews})
	assert.ErrorIs(t, err, ErrInvalidAddress)

	_, err = NewContractReader(caller, Binding{Address: "4ed9C0dCa0479bC64d8f4EB3007126D5791f7851aa", Views: RedemptionViews})
	assert.ErrorIs(t, err, ErrInvalidAddress)

	_, err = NewContractReader(caller, Binding{Address: testAddress})
	assert.Error(t, err)
}

func TestContractReader_Read(t *testing.T) {
	want, ok := new(big.Int).SetString("999999999874279187558202799", 10)
	require.True(t, ok)

	caller := &fakeCaller{out: want.FillBytes(make([]byte, 32))}
	r, err := NewContractReader(caller, Binding{Address: testAddress, Views: RedemptionViews})
	require.NoError(t, err)

	got, err := r.Read(context.Background(), ViewRedemptionRate, AtBlock(42))
	require.NoError(t, err)

	assert.Equal(t, 0, want.Cmp(got))
	assert.Equal(t, AtBlock(42), caller.ref)
	assert.Equal(t, "0x4ed9c0dca0479bc64d8f4eb3007126d5791f7851", caller.msg.To)
	assert.True(t, bytes.Equal(Selector("redemptionRate()"), caller.msg.Data))
}

func TestContractReader_Errors(t *testing.T) {
	caller := &fakeCaller{out: []byte{1, 2, 3}}
	r, err := NewContractReader(caller, Binding{Address: testAddress, Views: RedemptionViews})
	require.NoError(t, err)

	_, err = r.Read(context.Background(), "owner", Latest)
	assert.ErrorIs(t, err, ErrUnknownView)

	_, err = r.Read(context.Background(), ViewRedemptionPrice, Latest)
	assert.ErrorIs(t, err, ErrShortResult)

	boom := errors.New("connection refused")
	caller.err = boom
	_, err = r.Read(context.Background(), ViewRedemptionPrice, Latest)
	assert.ErrorIs(t, err, boom)
}
