package ledger

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// ErrInsufficientFunds is returned when a caller's account cannot cover the
// value attached to a transaction. This is a node-level rejection, not part
// of the contract's revert taxonomy.
var ErrInsufficientFunds = errors.New("ledger: insufficient funds for value transfer")

// ErrorKind identifies one of the contract's structured revert errors.
// The set is closed: every selector the contract can emit maps to exactly
// one kind, and unknown selectors decode to *UnrecognizedRevert instead.
type ErrorKind string

const (
	KindInvalidAmount         ErrorKind = "InvalidAmount"
	KindInvalidDuration       ErrorKind = "InvalidDuration"
	KindInvalidDeveloper      ErrorKind = "InvalidDeveloper"
	KindSelfBookingNotAllowed ErrorKind = "SelfBookingNotAllowed"
	KindCallNotFound          ErrorKind = "CallNotFound"
	KindCallAlreadyExists     ErrorKind = "CallAlreadyExists"
	KindCallAlreadyStarted    ErrorKind = "CallAlreadyStarted"
	KindCallAlreadyCompleted  ErrorKind = "CallAlreadyCompleted"
	KindUnauthorized          ErrorKind = "Unauthorized"
	KindPaymentFailed         ErrorKind = "PaymentFailed"
)

// signatures maps each kind to its Solidity error signature.
var signatures = map[ErrorKind]string{
	KindInvalidAmount:         "InvalidAmount()",
	KindInvalidDuration:       "InvalidDuration()",
	KindInvalidDeveloper:      "InvalidDeveloper()",
	KindSelfBookingNotAllowed: "SelfBookingNotAllowed()",
	KindCallNotFound:          "CallNotFound()",
	KindCallAlreadyExists:     "CallAlreadyExists()",
	KindCallAlreadyStarted:    "CallAlreadyStarted()",
	KindCallAlreadyCompleted:  "CallAlreadyCompleted()",
	KindUnauthorized:          "Unauthorized(address,address)",
	KindPaymentFailed:         "PaymentFailed(address,uint256)",
}

var kindsBySelector = func() map[[4]byte]ErrorKind {
	m := make(map[[4]byte]ErrorKind, len(signatures))
	for kind := range signatures {
		m[kind.Selector()] = kind
	}
	return m
}()

// Signature returns the Solidity error signature for the kind.
func (k ErrorKind) Signature() string {
	return signatures[k]
}

// Selector returns the 4-byte ABI selector derived from the signature.
func (k ErrorKind) Selector() [4]byte {
	var sel [4]byte
	copy(sel[:], crypto.Keccak256([]byte(signatures[k]))[:4])
	return sel
}

// KindForSelector looks up the error kind for a wire-level selector.
func KindForSelector(sel [4]byte) (ErrorKind, bool) {
	k, ok := kindsBySelector[sel]
	return k, ok
}

// Error is a structured contract revert. Sender and Expected are set only
// for Unauthorized; Developer and Amount only for PaymentFailed.
type Error struct {
	Kind      ErrorKind
	Sender    common.Address
	Expected  common.Address
	Developer common.Address
	Amount    *big.Int
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindUnauthorized:
		return fmt.Sprintf("ledger: %s: sender %s, expected %s", e.Kind, e.Sender.Hex(), e.Expected.Hex())
	case KindPaymentFailed:
		return fmt.Sprintf("ledger: %s: developer %s, amount %s", e.Kind, e.Developer.Hex(), e.Amount.String())
	default:
		return fmt.Sprintf("ledger: %s", e.Kind)
	}
}

// Is makes errors.Is match on kind alone, so callers can test against
// &Error{Kind: KindCallNotFound} without reproducing the arguments.
func (e *Error) Is(target error) bool {
	var le *Error
	if !errors.As(target, &le) {
		return false
	}
	return e.Kind == le.Kind
}

// ABIEncode renders the revert as selector plus ABI-encoded arguments,
// exactly as it appears in revert data on the wire.
func (e *Error) ABIEncode() []byte {
	sel := e.Kind.Selector()
	out := append([]byte{}, sel[:]...)
	switch e.Kind {
	case KindUnauthorized:
		out = append(out, common.LeftPadBytes(e.Sender.Bytes(), 32)...)
		out = append(out, common.LeftPadBytes(e.Expected.Bytes(), 32)...)
	case KindPaymentFailed:
		out = append(out, common.LeftPadBytes(e.Developer.Bytes(), 32)...)
		amount := e.Amount
		if amount == nil {
			amount = new(big.Int)
		}
		out = append(out, common.LeftPadBytes(amount.Bytes(), 32)...)
	}
	return out
}

// errorStringSelector is the selector of the standard Error(string) revert.
var errorStringSelector = [4]byte{0x08, 0xc3, 0x79, 0xa0}

// TextRevert is a plain require()-style revert carrying a reason string.
// The contract uses these in two places instead of structured errors; the
// inconsistency is preserved because it is part of the observed wire format.
type TextRevert struct {
	Reason string
}

func (e *TextRevert) Error() string {
	return "ledger: revert: " + e.Reason
}

// ABIEncode renders the revert as Error(string) data.
func (e *TextRevert) ABIEncode() []byte {
	reason := []byte(e.Reason)
	out := append([]byte{}, errorStringSelector[:]...)
	out = append(out, common.LeftPadBytes(big.NewInt(0x20).Bytes(), 32)...)
	out = append(out, common.LeftPadBytes(big.NewInt(int64(len(reason))).Bytes(), 32)...)
	out = append(out, common.RightPadBytes(reason, (len(reason)+31)/32*32)...)
	return out
}

// UnrecognizedRevert carries revert data whose selector is not part of the
// contract's taxonomy. The raw bytes are kept for diagnostics.
type UnrecognizedRevert struct {
	Selector [4]byte
	Data     []byte
}

func (e *UnrecognizedRevert) Error() string {
	return fmt.Sprintf("ledger: unrecognized revert selector 0x%x", e.Selector)
}

// DecodeRevertData interprets raw revert data from a failed call or dry run.
// It returns *Error for taxonomy selectors, *TextRevert for Error(string)
// reverts, and *UnrecognizedRevert for anything else.
func DecodeRevertData(data []byte) error {
	if len(data) < 4 {
		return &UnrecognizedRevert{Data: append([]byte{}, data...)}
	}

	var sel [4]byte
	copy(sel[:], data[:4])
	args := data[4:]

	if bytes.Equal(sel[:], errorStringSelector[:]) {
		if reason, ok := decodeRevertString(args); ok {
			return &TextRevert{Reason: reason}
		}
		return &UnrecognizedRevert{Selector: sel, Data: append([]byte{}, data...)}
	}

	kind, ok := kindsBySelector[sel]
	if !ok {
		return &UnrecognizedRevert{Selector: sel, Data: append([]byte{}, data...)}
	}

	e := &Error{Kind: kind}
	switch kind {
	case KindUnauthorized:
		if len(args) >= 64 {
			e.Sender = common.BytesToAddress(args[12:32])
			e.Expected = common.BytesToAddress(args[44:64])
		}
	case KindPaymentFailed:
		if len(args) >= 64 {
			e.Developer = common.BytesToAddress(args[12:32])
			e.Amount = new(big.Int).SetBytes(args[32:64])
		}
	}
	return e
}

// decodeRevertString unpacks the ABI-encoded string argument of Error(string).
func decodeRevertString(args []byte) (string, bool) {
	if len(args) < 64 {
		return "", false
	}
	offset := new(big.Int).SetBytes(args[:32])
	if !offset.IsInt64() || offset.Int64() != 0x20 {
		return "", false
	}
	length := new(big.Int).SetBytes(args[32:64])
	if !length.IsInt64() {
		return "", false
	}
	n := int(length.Int64())
	if n < 0 || len(args) < 64+n {
		return "", false
	}
	return string(args[64 : 64+n]), true
}
