package ledger

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// EventType names a contract event.
type EventType string

const (
	EventCallCreated     EventType = "CallCreated"
	EventCallStarted     EventType = "CallStarted"
	EventCallCompleted   EventType = "CallCompleted"
	EventPaymentReleased EventType = "PaymentReleased"

	// EventDebug is a diagnostic event. Not meant for production consumers.
	EventDebug EventType = "Debug"
)

// Event is an immutable record of a contract event emission. Fields beyond
// Type, CallID and Timestamp are populated per event type:
//
//	CallCreated:     Client, Developer, Amount, Duration
//	CallStarted:     StartTime
//	CallCompleted:   Developer
//	PaymentReleased: Developer, Amount
//	Debug:           Message
type Event struct {
	Type      EventType      `json:"type"`
	CallID    common.Hash    `json:"callId"`
	Client    common.Address `json:"client,omitempty"`
	Developer common.Address `json:"developer,omitempty"`
	Amount    *big.Int       `json:"amount,omitempty"`
	Duration  *big.Int       `json:"duration,omitempty"`
	StartTime *big.Int       `json:"startTime,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Message   string         `json:"message,omitempty"`
}

// emit appends an event to the ledger's log. Caller must hold l.mu.
func (l *Ledger) emit(e Event) {
	l.events = append(l.events, e)
}

// Events returns a copy of the full event log in emission order.
func (l *Ledger) Events() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Event, len(l.events))
	copy(out, l.events)
	return out
}

// EventsFor returns the events emitted for a single call id.
func (l *Ledger) EventsFor(id common.Hash) []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Event
	for _, e := range l.events {
		if e.CallID == id {
			out = append(out, e)
		}
	}
	return out
}
