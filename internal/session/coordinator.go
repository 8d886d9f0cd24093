package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Trickybutshruti/Connect-Dev/internal/idgen"
	"github.com/Trickybutshruti/Connect-Dev/internal/metrics"
)

// Role is the side of the call a coordinator drives. The two sides share
// the session document but own different transitions: the client requests
// and pays, the developer accepts and releases payment.
type Role string

const (
	RoleClient    Role = "client"
	RoleDeveloper Role = "developer"
)

// PaymentDriver abstracts the on-chain orchestrator so the coordinator
// doesn't import the chain package. Call ids are the human-readable booking
// references; the driver derives the on-chain id itself.
type PaymentDriver interface {
	StartCall(ctx context.Context, callRef string) (txHash string, err error)
	CompleteCall(ctx context.Context, callRef string) (txHash string, err error)
	ConfirmPayment(ctx context.Context, txHash, callRef string) error
}

// RequestCallInput are the parameters for a new call request.
type RequestCallInput struct {
	ClientID        string
	ClientName      string
	DeveloperID     string
	DurationMinutes int
	TotalAmount     string
}

// Coordinator bridges the session store and the payment driver for one side
// of the call.
type Coordinator struct {
	store  Store
	driver PaymentDriver
	role   Role
	logger *slog.Logger

	tick time.Duration // countdown cadence, one second outside tests

	locks      sync.Map // per-session ID mutexes
	countdowns sync.Map // session ID → cancel func for a running countdown
	releasing  sync.Map // session ID → payment release already claimed
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithCoordinatorLogger sets a structured logger.
func WithCoordinatorLogger(logger *slog.Logger) CoordinatorOption {
	return func(c *Coordinator) { c.logger = logger }
}

// WithTick overrides the countdown cadence; tests use a short tick.
func WithTick(d time.Duration) CoordinatorOption {
	return func(c *Coordinator) { c.tick = d }
}

// NewCoordinator creates a coordinator for the given role.
func NewCoordinator(store Store, driver PaymentDriver, role Role, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		store:  store,
		driver: driver,
		role:   role,
		logger: slog.Default(),
		tick:   time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Coordinator) sessionLock(id string) *sync.Mutex {
	v, _ := c.locks.LoadOrStore(id, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// RequestCall creates a pending session. The creation timestamp comes from
// the store's clock, not the local one.
func (c *Coordinator) RequestCall(ctx context.Context, in RequestCallInput) (*Session, error) {
	if in.ClientID == "" || in.DeveloperID == "" {
		return nil, fmt.Errorf("%w: client and developer required", ErrInvalidStatus)
	}
	if in.ClientID == in.DeveloperID {
		return nil, fmt.Errorf("%w: cannot request a call with yourself", ErrUnauthorized)
	}
	if in.DurationMinutes <= 0 {
		return nil, fmt.Errorf("%w: duration must be at least one minute", ErrInvalidStatus)
	}

	now, err := c.store.ServerTime(ctx)
	if err != nil {
		return nil, fmt.Errorf("session: server time: %w", err)
	}

	s := &Session{
		ID:          idgen.New(),
		ClientID:    in.ClientID,
		ClientName:  in.ClientName,
		DeveloperID: in.DeveloperID,
		Status:      StatusPending,
		Timestamp:   now,
		Duration:    in.DurationMinutes,
		TotalAmount: in.TotalAmount,
	}
	if err := c.store.Create(ctx, s); err != nil {
		return nil, err
	}
	metrics.SessionsTotal.WithLabelValues(string(StatusPending)).Inc()
	return s, nil
}

// Accept moves a pending session to accepted. Developer only.
func (c *Coordinator) Accept(ctx context.Context, id, developerID string) (*Session, error) {
	return c.decide(ctx, id, developerID, StatusAccepted)
}

// Reject declines a pending session. Developer only; rejected is terminal.
func (c *Coordinator) Reject(ctx context.Context, id, developerID string) (*Session, error) {
	return c.decide(ctx, id, developerID, StatusRejected)
}

func (c *Coordinator) decide(ctx context.Context, id, developerID string, to Status) (*Session, error) {
	mu := c.sessionLock(id)
	mu.Lock()
	defer mu.Unlock()

	s, err := c.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.DeveloperID != developerID {
		return nil, ErrUnauthorized
	}
	if s.Status != StatusPending {
		return nil, fmt.Errorf("%w: %s", ErrInvalidStatus, s.Status)
	}

	s.Status = to
	if err := c.store.Update(ctx, s); err != nil {
		return nil, err
	}
	metrics.SessionsTotal.WithLabelValues(string(to)).Inc()
	return s, nil
}

// MarkPaid records a successful escrow creation against an accepted
// session: the booking transaction hash, the call reference, and the wallet
// that paid.
func (c *Coordinator) MarkPaid(ctx context.Context, id, txHash, callRef, walletAddress string) (*Session, error) {
	mu := c.sessionLock(id)
	mu.Lock()
	defer mu.Unlock()

	s, err := c.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.Status != StatusAccepted {
		return nil, fmt.Errorf("%w: %s", ErrInvalidStatus, s.Status)
	}

	s.Status = StatusPaid
	s.TransactionHash = txHash
	s.CallID = callRef
	s.WalletAddress = walletAddress
	if err := c.store.Update(ctx, s); err != nil {
		return nil, err
	}
	metrics.SessionsTotal.WithLabelValues(string(StatusPaid)).Inc()
	return s, nil
}

// Join brings the caller into the live call. The first joiner flips the
// session to active, signals call start on chain and stamps the shared
// start time from the store's clock; later joiners are no-ops.
func (c *Coordinator) Join(ctx context.Context, id string) (*Session, error) {
	mu := c.sessionLock(id)
	mu.Lock()
	defer mu.Unlock()

	s, err := c.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	switch s.Status {
	case StatusPaid:
	case StatusActive:
		return s, nil // the other side joined first
	default:
		return nil, fmt.Errorf("%w: %s", ErrInvalidStatus, s.Status)
	}

	if _, err := c.driver.StartCall(ctx, s.CallID); err != nil {
		return nil, fmt.Errorf("session: start call: %w", err)
	}

	now, err := c.store.ServerTime(ctx)
	if err != nil {
		return nil, fmt.Errorf("session: server time: %w", err)
	}

	s.Status = StatusActive
	s.StartTime = now
	if err := c.store.Update(ctx, s); err != nil {
		return nil, err
	}
	metrics.SessionsTotal.WithLabelValues(string(StatusActive)).Inc()
	metrics.ActiveSessions.Inc()
	c.logger.Info("session active", "session", id, "callRef", s.CallID, "role", c.role)
	return s, nil
}

// End finishes the call and is safe to invoke more than once; only the
// first caller performs the transition. Both expiry and manual hangup
// funnel here. The ended session is flagged for payment; the developer's
// coordinator picks the flag up from its watch loop and settles on chain.
func (c *Coordinator) End(ctx context.Context, id, reason string) (*Session, error) {
	mu := c.sessionLock(id)
	mu.Lock()
	defer mu.Unlock()

	s, err := c.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.Status == StatusCompleted {
		return s, nil // already ended, duplicate trigger
	}
	if s.Status != StatusActive {
		return nil, fmt.Errorf("%w: %s", ErrInvalidStatus, s.Status)
	}

	now, err := c.store.ServerTime(ctx)
	if err != nil {
		// Fall back to the session's own duration; an unreachable store
		// clock must not leave the call dangling.
		now = s.StartTime.Add(time.Duration(s.Duration) * time.Minute)
	}

	s.Status = StatusCompleted
	s.EndReason = reason
	s.RequiresPayment = true
	if !s.StartTime.IsZero() {
		s.ActualDuration = int(now.Sub(s.StartTime) / time.Second)
	}
	if err := c.store.Update(ctx, s); err != nil {
		return nil, err
	}

	c.stopCountdown(id)
	metrics.SessionsTotal.WithLabelValues(string(StatusCompleted)).Inc()
	metrics.SessionsEndedTotal.WithLabelValues(reason).Inc()
	metrics.ActiveSessions.Dec()
	metrics.SessionDuration.Observe(float64(s.ActualDuration))
	c.logger.Info("session ended", "session", id, "reason", reason, "actualDuration", s.ActualDuration)
	return s, nil
}

// Observe follows the session until it reaches a terminal state, reacting
// to snapshots from the store:
//
//   - an active session with a start time gets a countdown that ends the
//     call with reason "timeout" when the booked duration elapses
//   - on the developer side, a completed session flagged for payment
//     triggers exactly one completion submission
//
// Snapshots may repeat; every reaction is guarded to be idempotent.
func (c *Coordinator) Observe(ctx context.Context, id string) error {
	updates, stop, err := c.store.Watch(ctx, id)
	if err != nil {
		return err
	}
	defer stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case s, ok := <-updates:
			if !ok {
				return nil
			}
			c.handleSnapshot(ctx, s)
			if s.Status == StatusRejected || (s.Status == StatusCompleted && (!s.RequiresPayment || s.PaymentReleased || c.role != RoleDeveloper)) {
				return nil
			}
		}
	}
}

func (c *Coordinator) handleSnapshot(ctx context.Context, s *Session) {
	if s.Status == StatusActive && !s.StartTime.IsZero() {
		c.startCountdown(ctx, s)
	}

	if c.role == RoleDeveloper && s.Status == StatusCompleted && s.RequiresPayment && !s.PaymentReleased {
		c.releasePayment(ctx, s.ID)
	}
}

// releasePayment submits the completion transaction for an ended session.
// The claim guard plus a re-read under the session lock make replayed
// snapshots and concurrent watchers harmless.
func (c *Coordinator) releasePayment(ctx context.Context, id string) {
	if _, claimed := c.releasing.LoadOrStore(id, true); claimed {
		return
	}

	mu := c.sessionLock(id)
	mu.Lock()
	defer mu.Unlock()

	s, err := c.store.Get(ctx, id)
	if err != nil {
		c.releasing.Delete(id)
		c.logger.Error("payment release read failed", "session", id, "error", err)
		return
	}
	if !s.RequiresPayment || s.PaymentReleased {
		return
	}

	txHash, err := c.driver.CompleteCall(ctx, s.CallID)
	if err != nil {
		c.releasing.Delete(id)
		c.logger.Error("completion submission failed", "session", id, "callRef", s.CallID, "error", err)
		return
	}
	if err := c.driver.ConfirmPayment(ctx, txHash, s.CallID); err != nil {
		c.logger.Error("payment confirmation failed", "session", id, "tx", txHash, "error", err)
		return
	}

	now, terr := c.store.ServerTime(ctx)
	if terr != nil {
		now = time.Now()
	}
	s.RequiresPayment = false
	s.PaymentReleased = true
	s.PaymentReleasedAt = &now
	s.PaymentTransactionHash = txHash
	if err := c.store.Update(ctx, s); err != nil {
		// Funds moved on chain; the stale flag is an annoyance, not a loss.
		c.logger.Error("payment flag update failed", "session", id, "tx", txHash, "error", err)
		return
	}
	c.logger.Info("payment released", "session", id, "tx", txHash)
}

// startCountdown begins the duration timer once per session. Elapsed time
// is measured against the store's clock so local skew cannot stretch the
// call.
func (c *Coordinator) startCountdown(ctx context.Context, s *Session) {
	timerCtx, cancel := context.WithCancel(ctx)
	if _, running := c.countdowns.LoadOrStore(s.ID, context.CancelFunc(cancel)); running {
		cancel()
		return
	}

	now, err := c.store.ServerTime(ctx)
	if err != nil {
		c.logger.Warn("countdown falling back to local clock", "session", s.ID, "error", err)
		now = time.Now()
	}

	remaining := remainingSeconds(s, now)
	go c.runCountdown(timerCtx, s.ID, remaining)
}

func (c *Coordinator) stopCountdown(id string) {
	if v, ok := c.countdowns.LoadAndDelete(id); ok {
		v.(context.CancelFunc)()
	}
}
