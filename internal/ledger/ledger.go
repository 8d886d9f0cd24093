// Package ledger implements the escrow contract for time-boxed developer
// consultations.
//
// Flow:
//  1. Client books a call → attached value is escrowed under a call id
//  2. Either party starts the call → startTime is pinned on chain
//  3. Developer completes the call → escrow is released to the developer
//
// The Ledger exclusively owns Call records; all mutation goes through its
// operations, which are atomic and serialized the way contract execution is.
// Each precondition violation aborts the operation with a structured revert
// from the closed taxonomy in errors.go, leaving prior state untouched.
package ledger

import (
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Call is the authoritative record of one consultation.
//
// Amount is zeroed exactly once, atomically with IsPaid, when the escrow is
// released. IsActive, IsCompleted and IsPaid are monotonic: once set they
// are never reset.
type Call struct {
	Client      common.Address `json:"client"`
	Developer   common.Address `json:"developer"`
	Amount      *big.Int       `json:"amount"`
	Duration    *big.Int       `json:"duration"` // agreed length in seconds
	StartTime   *big.Int       `json:"startTime"`
	IsActive    bool           `json:"isActive"`
	IsCompleted bool           `json:"isCompleted"`
	IsPaid      bool           `json:"isPaid"`
}

// clone returns a deep copy so callers cannot mutate stored state.
func (c *Call) clone() *Call {
	cp := *c
	cp.Amount = new(big.Int).Set(c.Amount)
	cp.Duration = new(big.Int).Set(c.Duration)
	cp.StartTime = new(big.Int).Set(c.StartTime)
	return &cp
}

// TransferFunc moves released escrow to the developer. Returning an error
// makes the whole completeCall operation revert.
type TransferFunc func(to common.Address, amount *big.Int) error

// Ledger holds call records, account balances and the contract's escrowed
// balance. A single mutex serializes every operation, mirroring the global
// transaction ordering of contract execution.
type Ledger struct {
	mu       sync.Mutex
	owner    common.Address
	calls    map[common.Hash]*Call
	balances map[common.Address]*big.Int
	held     *big.Int // contract balance: sum of unreleased escrows
	events   []Event
	now      func() time.Time
	transfer TransferFunc
	logger   *slog.Logger
}

// Option configures the ledger.
type Option func(*Ledger)

// WithClock sets the time source used for startTime and event timestamps.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithTransferFunc overrides the payout transfer. Used to exercise the
// PaymentFailed revert path.
func WithTransferFunc(f TransferFunc) Option {
	return func(l *Ledger) { l.transfer = f }
}

// WithLogger sets a structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) { l.logger = logger }
}

// New creates a ledger owned by the deploying address.
func New(owner common.Address, opts ...Option) *Ledger {
	l := &Ledger{
		owner:    owner,
		calls:    make(map[common.Hash]*Call),
		balances: make(map[common.Address]*big.Int),
		held:     new(big.Int),
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.transfer == nil {
		l.transfer = l.creditTransfer
	}
	return l
}

// creditTransfer is the default payout: credit the developer's account.
func (l *Ledger) creditTransfer(to common.Address, amount *big.Int) error {
	l.creditLocked(to, amount)
	return nil
}

func (l *Ledger) creditLocked(addr common.Address, amount *big.Int) {
	bal, ok := l.balances[addr]
	if !ok {
		bal = new(big.Int)
		l.balances[addr] = bal
	}
	bal.Add(bal, amount)
}

// Credit funds an external account. Used for genesis and tests.
func (l *Ledger) Credit(addr common.Address, amount *big.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.creditLocked(addr, amount)
}

// BalanceOf returns an account's balance.
func (l *Ledger) BalanceOf(addr common.Address) *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if bal, ok := l.balances[addr]; ok {
		return new(big.Int).Set(bal)
	}
	return new(big.Int)
}

// ContractBalance returns the total value currently held in escrow.
func (l *Ledger) ContractBalance() *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return new(big.Int).Set(l.held)
}

// Owner returns the deploying address.
func (l *Ledger) Owner() common.Address {
	return l.owner
}

// validateCreate checks every createCall precondition without mutating.
// Caller must hold l.mu.
func (l *Ledger) validateCreate(caller common.Address, id common.Hash, developer common.Address, duration, value *big.Int) error {
	if value == nil || value.Sign() == 0 {
		return &Error{Kind: KindInvalidAmount}
	}
	if duration == nil || duration.Sign() == 0 {
		return &Error{Kind: KindInvalidDuration}
	}
	if developer == (common.Address{}) {
		return &Error{Kind: KindInvalidDeveloper}
	}
	if caller == developer {
		return &Error{Kind: KindSelfBookingNotAllowed}
	}
	// A call id may be reused only once the prior record is fully settled.
	if existing, ok := l.calls[id]; ok {
		if !(existing.IsCompleted && existing.IsPaid) {
			return &Error{Kind: KindCallAlreadyExists}
		}
	}
	return nil
}

// CreateCall escrows value under a fresh call record.
func (l *Ledger) CreateCall(caller common.Address, id common.Hash, developer common.Address, duration, value *big.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.validateCreate(caller, id, developer, duration, value); err != nil {
		return err
	}

	bal, ok := l.balances[caller]
	if !ok || bal.Cmp(value) < 0 {
		return ErrInsufficientFunds
	}

	if _, ok := l.calls[id]; ok {
		l.emit(Event{Type: EventDebug, CallID: id, Timestamp: l.now(), Message: "overwriting settled call record"})
	}

	bal.Sub(bal, value)
	l.held.Add(l.held, value)

	l.calls[id] = &Call{
		Client:    caller,
		Developer: developer,
		Amount:    new(big.Int).Set(value),
		Duration:  new(big.Int).Set(duration),
		StartTime: new(big.Int),
	}

	l.emit(Event{
		Type:      EventCallCreated,
		CallID:    id,
		Client:    caller,
		Developer: developer,
		Amount:    new(big.Int).Set(value),
		Duration:  new(big.Int).Set(duration),
		Timestamp: l.now(),
	})

	l.logger.Info("call created",
		"callId", id.Hex(),
		"client", caller.Hex(),
		"developer", developer.Hex(),
		"amount", value.String(),
		"duration", duration.String(),
	)
	return nil
}

// validateStart checks every startCall precondition. Caller must hold l.mu.
func (l *Ledger) validateStart(id common.Hash) error {
	call, ok := l.calls[id]
	if !ok {
		return &Error{Kind: KindCallNotFound}
	}
	if call.IsActive {
		return &Error{Kind: KindCallAlreadyStarted}
	}
	if call.IsCompleted {
		return &Error{Kind: KindCallAlreadyCompleted}
	}
	return nil
}

// StartCall marks a call active and pins its start time. There is no caller
// identity restriction here; either party may signal the start.
func (l *Ledger) StartCall(id common.Hash) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.validateStart(id); err != nil {
		return err
	}

	call := l.calls[id]
	call.IsActive = true
	call.StartTime = big.NewInt(l.now().Unix())

	l.emit(Event{
		Type:      EventCallStarted,
		CallID:    id,
		StartTime: new(big.Int).Set(call.StartTime),
		Timestamp: l.now(),
	})

	l.logger.Info("call started", "callId", id.Hex(), "startTime", call.StartTime.String())
	return nil
}

// validateComplete checks every completeCall precondition. Caller must hold l.mu.
func (l *Ledger) validateComplete(caller common.Address, id common.Hash) error {
	call, ok := l.calls[id]
	if !ok {
		return &Error{Kind: KindCallNotFound}
	}
	if caller != call.Developer {
		return &Error{Kind: KindUnauthorized, Sender: caller, Expected: call.Developer}
	}
	if call.IsCompleted {
		return &Error{Kind: KindCallAlreadyCompleted}
	}
	if call.IsPaid {
		return &TextRevert{Reason: "payment already released"}
	}
	if call.Amount.Sign() == 0 {
		return &Error{Kind: KindInvalidAmount}
	}
	if l.held.Cmp(call.Amount) < 0 {
		return &TextRevert{Reason: "insufficient contract balance"}
	}
	return nil
}

// CompleteCall settles a call: the record is marked completed and paid and
// its amount zeroed before the transfer, so a re-entrant completion attempt
// sees a settled record. A failed transfer reverts every state flip.
func (l *Ledger) CompleteCall(caller common.Address, id common.Hash) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.validateComplete(caller, id); err != nil {
		return err
	}

	call := l.calls[id]
	amount := new(big.Int).Set(call.Amount)

	call.IsCompleted = true
	call.IsPaid = true
	call.Amount.SetInt64(0)
	l.held.Sub(l.held, amount)

	if err := l.transfer(call.Developer, amount); err != nil {
		// Revert: undo the flips and restore balances.
		call.IsCompleted = false
		call.IsPaid = false
		call.Amount.Set(amount)
		l.held.Add(l.held, amount)
		l.emit(Event{Type: EventDebug, CallID: id, Timestamp: l.now(), Message: "payout transfer failed: " + err.Error()})
		return &Error{Kind: KindPaymentFailed, Developer: call.Developer, Amount: amount}
	}

	now := l.now()
	l.emit(Event{Type: EventCallCompleted, CallID: id, Developer: call.Developer, Timestamp: now})
	l.emit(Event{Type: EventPaymentReleased, CallID: id, Developer: call.Developer, Amount: amount, Timestamp: now})

	l.logger.Info("call completed",
		"callId", id.Hex(),
		"developer", call.Developer.Hex(),
		"amount", amount.String(),
	)
	return nil
}

// GetCallDetails returns a copy of the stored record.
func (l *Ledger) GetCallDetails(id common.Hash) (*Call, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	call, ok := l.calls[id]
	if !ok {
		return nil, &Error{Kind: KindCallNotFound}
	}
	return call.clone(), nil
}

// DoesCallExist reports whether a record is stored under the id.
func (l *Ledger) DoesCallExist(id common.Hash) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.calls[id]
	return ok
}

// Calls is the raw mapping accessor: missing ids return a zero-value record,
// the way a public Solidity mapping does.
func (l *Ledger) Calls(id common.Hash) Call {
	l.mu.Lock()
	defer l.mu.Unlock()

	if call, ok := l.calls[id]; ok {
		return *call.clone()
	}
	return Call{Amount: new(big.Int), Duration: new(big.Int), StartTime: new(big.Int)}
}
