package chain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Trickybutshruti/Connect-Dev/internal/ledger"
)

// providerError mimics the shape RPC clients return for reverted calls.
type providerError struct {
	msg  string
	data interface{}
}

func (e *providerError) Error() string          { return e.msg }
func (e *providerError) ErrorData() interface{} { return e.data }

func revertErr(data []byte) error {
	return &providerError{msg: "execution reverted", data: hexutil.Encode(data)}
}

func TestDecodeRevert_CustomErrors(t *testing.T) {
	tests := []struct {
		kind ledger.ErrorKind
		want string
	}{
		{ledger.KindSelfBookingNotAllowed, "You cannot book a call with yourself"},
		{ledger.KindCallNotFound, "Call not found"},
		{ledger.KindCallAlreadyExists, "This call has already been booked"},
		{ledger.KindCallAlreadyCompleted, "Call has already been completed"},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			err := DecodeRevert(revertErr((&ledger.Error{Kind: tt.kind}).ABIEncode()))

			var re *RevertError
			require.ErrorAs(t, err, &re)
			assert.Equal(t, tt.want, re.Message)
			assert.ErrorIs(t, err, &ledger.Error{Kind: tt.kind})
		})
	}
}

func TestDecodeRevert_UnauthorizedCarriesAddresses(t *testing.T) {
	src := &ledger.Error{
		Kind:     ledger.KindUnauthorized,
		Sender:   common.HexToAddress("0x1111111111111111111111111111111111111111"),
		Expected: common.HexToAddress("0x2222222222222222222222222222222222222222"),
	}
	err := DecodeRevert(revertErr(src.ABIEncode()))

	var re *RevertError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, "Only the developer can complete this call", re.Message)

	var le *ledger.Error
	require.ErrorAs(t, err, &le)
	assert.Equal(t, src.Sender, le.Sender)
	assert.Equal(t, src.Expected, le.Expected)
}

func TestDecodeRevert_TextRevert(t *testing.T) {
	err := DecodeRevert(revertErr((&ledger.TextRevert{Reason: "payment already released"}).ABIEncode()))

	var re *RevertError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, "Transaction reverted: payment already released", re.Message)
}

func TestDecodeRevert_WrappedProviderError(t *testing.T) {
	inner := revertErr((&ledger.Error{Kind: ledger.KindCallAlreadyStarted}).ABIEncode())
	err := DecodeRevert(fmt.Errorf("call failed: %w", inner))

	var re *RevertError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, "Call has already started", re.Message)
}

func TestDecodeRevert_UnknownSelector(t *testing.T) {
	err := DecodeRevert(revertErr([]byte{0xde, 0xad, 0xbe, 0xef}))

	var re *RevertError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, "Transaction reverted", re.Message)

	var ur *ledger.UnrecognizedRevert
	assert.ErrorAs(t, err, &ur)
}

func TestDecodeRevert_PassesThroughPlainErrors(t *testing.T) {
	plain := errors.New("connection refused")
	assert.Equal(t, plain, DecodeRevert(plain))
	assert.NoError(t, DecodeRevert(nil))
}

func TestDecodeRevert_IgnoresMalformedData(t *testing.T) {
	err := &providerError{msg: "execution reverted", data: "not-hex"}
	assert.Equal(t, error(err), DecodeRevert(err))

	err2 := &providerError{msg: "execution reverted", data: 42}
	assert.Equal(t, error(err2), DecodeRevert(err2))
}
