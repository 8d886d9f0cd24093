package chain

import (
	"errors"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/Trickybutshruti/Connect-Dev/internal/ledger"
)

// RevertError is a contract revert translated into a user-facing message.
// Message is safe to show directly; the wrapped cause keeps the structured
// detail for logs and programmatic handling.
type RevertError struct {
	Message string
	Cause   error
}

func (e *RevertError) Error() string { return "chain: " + e.Message }

func (e *RevertError) Unwrap() error { return e.Cause }

// messages maps the ledger's error taxonomy to the wording shown to users.
var messages = map[ledger.ErrorKind]string{
	ledger.KindInvalidAmount:         "Payment amount must be greater than zero",
	ledger.KindInvalidDuration:       "Call duration must be greater than zero",
	ledger.KindInvalidDeveloper:      "Developer address is invalid",
	ledger.KindSelfBookingNotAllowed: "You cannot book a call with yourself",
	ledger.KindCallNotFound:          "Call not found",
	ledger.KindCallAlreadyExists:     "This call has already been booked",
	ledger.KindCallAlreadyStarted:    "Call has already started",
	ledger.KindCallAlreadyCompleted:  "Call has already been completed",
	ledger.KindUnauthorized:          "Only the developer can complete this call",
	ledger.KindPaymentFailed:         "Payment transfer to the developer failed",
}

// DecodeRevert inspects an error from a call or estimate for revert data.
// Provider errors carry it via the DataError convention (an ErrorData
// method returning hex-encoded bytes). Recognized reverts come back as
// *RevertError; anything else is returned unchanged.
func DecodeRevert(err error) error {
	if err == nil {
		return nil
	}

	data := revertData(err)
	if data == nil {
		return err
	}

	decoded := ledger.DecodeRevertData(data)

	var le *ledger.Error
	if errors.As(decoded, &le) {
		if msg, ok := messages[le.Kind]; ok {
			return &RevertError{Message: msg, Cause: le}
		}
		return &RevertError{Message: "Transaction reverted: " + string(le.Kind), Cause: le}
	}

	var tr *ledger.TextRevert
	if errors.As(decoded, &tr) {
		return &RevertError{Message: "Transaction reverted: " + tr.Reason, Cause: tr}
	}

	return &RevertError{Message: "Transaction reverted", Cause: decoded}
}

// revertData extracts raw revert bytes from a provider error, walking the
// wrap chain for the ErrorData method.
func revertData(err error) []byte {
	type dataError interface {
		ErrorData() interface{}
	}

	for e := err; e != nil; e = errors.Unwrap(e) {
		de, ok := e.(dataError)
		if !ok {
			continue
		}
		s, ok := de.ErrorData().(string)
		if !ok {
			continue
		}
		raw, decodeErr := hexutil.Decode(s)
		if decodeErr != nil {
			continue
		}
		return raw
	}
	return nil
}
