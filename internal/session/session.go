// Package session reconciles the on-chain call lifecycle with a mutable
// off-chain session record.
//
// Flow:
//  1. Client requests a call → session created with status pending
//  2. Developer accepts or rejects
//  3. Client pays (escrow created on chain) → status paid
//  4. Both parties join → status active; the first joiner signals call
//     start on chain
//  5. Countdown expiry or a manual end → status completed; the client
//     flags the session for payment and the developer's coordinator
//     submits the completion transaction
package session

import (
	"errors"
	"time"
)

var (
	ErrSessionNotFound = errors.New("session: not found")
	ErrSessionExists   = errors.New("session: already exists")
	ErrInvalidStatus   = errors.New("session: invalid status for this operation")
	ErrUnauthorized    = errors.New("session: not authorized for this operation")
)

// Status is the session's lifecycle state in the external store.
type Status string

const (
	StatusPending   Status = "pending"   // Requested, awaiting developer decision
	StatusAccepted  Status = "accepted"  // Developer accepted, awaiting payment
	StatusRejected  Status = "rejected"  // Developer declined
	StatusPaid      Status = "paid"      // Escrow created on chain
	StatusActive    Status = "active"    // Call in progress
	StatusCompleted Status = "completed" // Call ended
)

// End reasons recorded on completion.
const (
	EndReasonTimeout = "timeout"
	EndReasonManual  = "manual"
)

// Session is the per-call document shared between both parties through the
// external store.
type Session struct {
	ID            string    `json:"id"`
	ClientID      string    `json:"clientId"`
	ClientName    string    `json:"clientName"`
	DeveloperID   string    `json:"developerId"`
	Status        Status    `json:"status"`
	Timestamp     time.Time `json:"timestamp"` // server-assigned creation time
	Duration      int       `json:"duration"`  // minutes
	TotalAmount   string    `json:"totalAmount"`

	// Escrow linkage, populated once payment succeeds.
	TransactionHash string `json:"transactionHash,omitempty"`
	CallID          string `json:"callId,omitempty"`
	WalletAddress   string `json:"walletAddress,omitempty"`

	// Live-call state.
	StartTime time.Time `json:"startTime,omitempty"`

	// Settlement state.
	RequiresPayment        bool       `json:"requiresPayment"`
	PaymentReleased        bool       `json:"paymentReleased"`
	PaymentReleasedAt      *time.Time `json:"paymentReleasedAt,omitempty"`
	PaymentTransactionHash string     `json:"paymentTransactionHash,omitempty"`

	// Outcome.
	ActualDuration int    `json:"actualDuration,omitempty"` // seconds
	EndReason      string `json:"endReason,omitempty"`
}

// IsTerminal reports whether the session reached a final state.
func (s *Session) IsTerminal() bool {
	return s.Status == StatusRejected || s.Status == StatusCompleted
}

// Clone returns an independent copy safe to hand to watchers.
func (s *Session) Clone() *Session {
	cp := *s
	if s.PaymentReleasedAt != nil {
		t := *s.PaymentReleasedAt
		cp.PaymentReleasedAt = &t
	}
	return &cp
}
