package ledger

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelectors_UniqueAndStable(t *testing.T) {
	seen := make(map[[4]byte]ErrorKind)
	for kind := range signatures {
		sel := kind.Selector()
		if prev, ok := seen[sel]; ok {
			t.Fatalf("selector collision between %s and %s", prev, kind)
		}
		seen[sel] = kind

		got, ok := KindForSelector(sel)
		require.True(t, ok)
		assert.Equal(t, kind, got)
	}
	assert.Len(t, seen, 10)
}

func TestDecodeRevertData_SimpleErrors(t *testing.T) {
	kinds := []ErrorKind{
		KindInvalidAmount,
		KindInvalidDuration,
		KindInvalidDeveloper,
		KindSelfBookingNotAllowed,
		KindCallNotFound,
		KindCallAlreadyExists,
		KindCallAlreadyStarted,
		KindCallAlreadyCompleted,
	}

	for _, kind := range kinds {
		t.Run(string(kind), func(t *testing.T) {
			data := (&Error{Kind: kind}).ABIEncode()
			assert.Len(t, data, 4)

			decoded := DecodeRevertData(data)
			var le *Error
			require.ErrorAs(t, decoded, &le)
			assert.Equal(t, kind, le.Kind)
		})
	}
}

func TestDecodeRevertData_Unauthorized(t *testing.T) {
	src := &Error{
		Kind:     KindUnauthorized,
		Sender:   common.HexToAddress("0x1111111111111111111111111111111111111111"),
		Expected: common.HexToAddress("0x2222222222222222222222222222222222222222"),
	}
	data := src.ABIEncode()
	assert.Len(t, data, 4+64)

	decoded := DecodeRevertData(data)
	var le *Error
	require.ErrorAs(t, decoded, &le)
	assert.Equal(t, KindUnauthorized, le.Kind)
	assert.Equal(t, src.Sender, le.Sender)
	assert.Equal(t, src.Expected, le.Expected)
}

func TestDecodeRevertData_PaymentFailed(t *testing.T) {
	src := &Error{
		Kind:      KindPaymentFailed,
		Developer: common.HexToAddress("0x2222222222222222222222222222222222222222"),
		Amount:    big.NewInt(1_500_000_000_000_000_000),
	}
	data := src.ABIEncode()

	decoded := DecodeRevertData(data)
	var le *Error
	require.ErrorAs(t, decoded, &le)
	assert.Equal(t, KindPaymentFailed, le.Kind)
	assert.Equal(t, src.Developer, le.Developer)
	assert.Equal(t, 0, src.Amount.Cmp(le.Amount))
}

func TestDecodeRevertData_TextRevert(t *testing.T) {
	tests := []string{
		"payment already released",
		"insufficient contract balance",
	}
	for _, reason := range tests {
		t.Run(reason, func(t *testing.T) {
			data := (&TextRevert{Reason: reason}).ABIEncode()

			decoded := DecodeRevertData(data)
			var tr *TextRevert
			require.ErrorAs(t, decoded, &tr)
			assert.Equal(t, reason, tr.Reason)
		})
	}
}

func TestDecodeRevertData_Unrecognized(t *testing.T) {
	data := []byte{0xde, 0xad, 0xbe, 0xef, 0x01, 0x02}

	decoded := DecodeRevertData(data)
	var ur *UnrecognizedRevert
	require.ErrorAs(t, decoded, &ur)
	assert.Equal(t, [4]byte{0xde, 0xad, 0xbe, 0xef}, ur.Selector)
	assert.Equal(t, data, ur.Data)
}

func TestDecodeRevertData_TooShort(t *testing.T) {
	decoded := DecodeRevertData([]byte{0x01})
	var ur *UnrecognizedRevert
	require.ErrorAs(t, decoded, &ur)
}

func TestErrorIs_MatchesOnKind(t *testing.T) {
	err := &Error{
		Kind:   KindUnauthorized,
		Sender: common.HexToAddress("0x1111111111111111111111111111111111111111"),
	}
	assert.ErrorIs(t, err, &Error{Kind: KindUnauthorized})
	assert.NotErrorIs(t, err, &Error{Kind: KindCallNotFound})
}
