package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Trickybutshruti/Connect-Dev/internal/chain"
	"github.com/Trickybutshruti/Connect-Dev/internal/logging"
	"github.com/Trickybutshruti/Connect-Dev/internal/realtime"
	"github.com/Trickybutshruti/Connect-Dev/internal/session"
	"github.com/Trickybutshruti/Connect-Dev/internal/traces"
	"github.com/Trickybutshruti/Connect-Dev/internal/validation"
)

// -----------------------------------------------------------------------------
// Booking flow
// -----------------------------------------------------------------------------

type requestCallBody struct {
	ClientID    string `json:"clientId" binding:"required"`
	ClientName  string `json:"clientName"`
	DeveloperID string `json:"developerId" binding:"required"`
	Duration    int    `json:"duration" binding:"required"`
	TotalAmount string `json:"totalAmount" binding:"required"`
}

// requestCall handles POST /v1/calls
func (s *Server) requestCall(c *gin.Context) {
	ctx, span := traces.StartSpan(c.Request.Context(), "server.requestCall")
	defer span.End()

	var body requestCallBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "clientId, developerId, duration and totalAmount are required",
		})
		return
	}

	if !validation.IsValidAmount(body.TotalAmount) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_amount",
			"message": "totalAmount must be a positive decimal number",
		})
		return
	}

	span.SetAttributes(
		traces.Participant(body.ClientID),
		traces.Amount(body.TotalAmount),
	)

	sess, err := s.coordinator.RequestCall(ctx, session.RequestCallInput{
		ClientID:        body.ClientID,
		ClientName:      validation.SanitizeString(body.ClientName, validation.MaxNameLength),
		DeveloperID:     body.DeveloperID,
		DurationMinutes: body.Duration,
		TotalAmount:     body.TotalAmount,
	})
	if err != nil {
		s.sessionError(c, err)
		return
	}

	s.hub.BroadcastSession(realtime.EventSessionRequested, sess)
	c.JSON(http.StatusCreated, sess)
}

// listCalls handles GET /v1/calls?participant=<id>&limit=<n>
func (s *Server) listCalls(c *gin.Context) {
	participant := c.Query("participant")
	if participant == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "missing_participant",
			"message": "Provide ?participant=<clientId or developerId>",
		})
		return
	}

	limit := 50
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}

	sessions, err := s.store.ListByParticipant(c.Request.Context(), participant, limit)
	if err != nil {
		logging.L(c.Request.Context()).Error("list sessions failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to list calls",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"calls": sessions,
		"count": len(sessions),
	})
}

// getCall handles GET /v1/calls/:id
func (s *Server) getCall(c *gin.Context) {
	sess, err := s.store.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.sessionError(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

type decisionBody struct {
	DeveloperID string `json:"developerId" binding:"required"`
}

// acceptCall handles POST /v1/calls/:id/accept
func (s *Server) acceptCall(c *gin.Context) {
	s.decideCall(c, s.coordinator.Accept, realtime.EventSessionAccepted)
}

// rejectCall handles POST /v1/calls/:id/reject
func (s *Server) rejectCall(c *gin.Context) {
	s.decideCall(c, s.coordinator.Reject, realtime.EventSessionRejected)
}

func (s *Server) decideCall(
	c *gin.Context,
	decide func(ctx context.Context, id, developerID string) (*session.Session, error),
	event realtime.EventType,
) {
	ctx, span := traces.StartSpan(c.Request.Context(), "server.decideCall", traces.SessionID(c.Param("id")))
	defer span.End()

	var body decisionBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "developerId is required",
		})
		return
	}

	sess, err := decide(ctx, c.Param("id"), body.DeveloperID)
	if err != nil {
		s.sessionError(c, err)
		return
	}

	s.hub.BroadcastSession(event, sess)
	c.JSON(http.StatusOK, sess)
}

type payCallBody struct {
	// DeveloperWallet is the payout address the escrow releases to.
	DeveloperWallet string `json:"developerWallet" binding:"required"`
}

// payCall handles POST /v1/calls/:id/pay: it funds the escrow for an
// accepted call, waits for the booking transaction to be mined and records
// the payment against the session. The session id doubles as the call
// reference.
func (s *Server) payCall(c *gin.Context) {
	id := c.Param("id")
	ctx, span := traces.StartSpan(c.Request.Context(), "server.payCall", traces.SessionID(id))
	defer span.End()

	var body payCallBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "developerWallet is required",
		})
		return
	}
	if !validation.IsValidEthAddress(body.DeveloperWallet) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_address",
			"message": "developerWallet must be a valid Ethereum address (0x + 40 hex chars)",
		})
		return
	}

	sess, err := s.store.Get(ctx, id)
	if err != nil {
		s.sessionError(c, err)
		return
	}
	if sess.Status != session.StatusAccepted {
		c.JSON(http.StatusConflict, gin.H{
			"error":   "invalid_status",
			"message": "Call must be accepted before payment",
		})
		return
	}

	txHash, payerWallet, err := s.payments.BookCall(ctx, sess.ID, body.DeveloperWallet, sess.TotalAmount, sess.Duration)
	if err != nil {
		s.chainError(c, err)
		return
	}
	span.SetAttributes(traces.TxHash(txHash))

	if err := s.payments.ConfirmBooking(ctx, txHash, sess.ID); err != nil {
		s.chainError(c, err)
		return
	}

	sess, err = s.coordinator.MarkPaid(ctx, id, txHash, sess.ID, payerWallet)
	if err != nil {
		s.sessionError(c, err)
		return
	}

	// The developer-side observer starts the countdown and settles the
	// escrow when the call ends.
	s.observe(s.runCtx, id)

	s.hub.BroadcastSession(realtime.EventSessionPaid, sess)
	c.JSON(http.StatusOK, sess)
}

// joinCall handles POST /v1/calls/:id/join
func (s *Server) joinCall(c *gin.Context) {
	id := c.Param("id")
	ctx, span := traces.StartSpan(c.Request.Context(), "server.joinCall", traces.SessionID(id))
	defer span.End()

	sess, err := s.coordinator.Join(ctx, id)
	if err != nil {
		s.sessionError(c, err)
		return
	}

	s.observe(s.runCtx, id)

	s.hub.BroadcastSession(realtime.EventSessionStarted, sess)
	c.JSON(http.StatusOK, sess)
}

type endCallBody struct {
	Reason string `json:"reason"`
}

// endCall handles POST /v1/calls/:id/end
func (s *Server) endCall(c *gin.Context) {
	id := c.Param("id")
	ctx, span := traces.StartSpan(c.Request.Context(), "server.endCall", traces.SessionID(id))
	defer span.End()

	var body endCallBody
	_ = c.ShouldBindJSON(&body)
	if body.Reason == "" {
		body.Reason = session.EndReasonManual
	}

	sess, err := s.coordinator.End(ctx, id, body.Reason)
	if err != nil {
		s.sessionError(c, err)
		return
	}

	s.observe(s.runCtx, id)

	s.hub.BroadcastSession(realtime.EventSessionEnded, sess)
	c.JSON(http.StatusOK, sess)
}

// -----------------------------------------------------------------------------
// Chain reads
// -----------------------------------------------------------------------------

// getEscrow handles GET /v1/calls/:id/escrow: the on-chain record behind a
// paid session.
func (s *Server) getEscrow(c *gin.Context) {
	id := c.Param("id")
	ctx, span := traces.StartSpan(c.Request.Context(), "server.getEscrow", traces.SessionID(id))
	defer span.End()

	sess, err := s.store.Get(ctx, id)
	if err != nil {
		s.sessionError(c, err)
		return
	}
	if sess.CallID == "" {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_booked",
			"message": "Call has no escrow yet",
		})
		return
	}

	details, err := s.payments.CallDetails(ctx, sess.CallID)
	if err != nil {
		s.chainError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"callId":      sess.CallID,
		"client":      details.Client.Hex(),
		"developer":   details.Developer.Hex(),
		"amount":      chain.FormatEther(details.Amount),
		"duration":    details.Duration.Int64(),
		"isActive":    details.IsActive,
		"isCompleted": details.IsCompleted,
		"isPaid":      details.IsPaid,
	})
}

// contractBalance handles GET /v1/contract/balance
func (s *Server) contractBalance(c *gin.Context) {
	balance, err := s.payments.Balance(c.Request.Context())
	if err != nil {
		s.chainError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"balance":  balance,
		"currency": s.cfg.CurrencySymbol,
	})
}

// -----------------------------------------------------------------------------
// Info & health
// -----------------------------------------------------------------------------

func (s *Server) infoHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":        "Connect-Dev",
		"description": "Escrowed video consultations between clients and developers",
		"version":     "0.1.0",
		"chain":       s.cfg.ChainName,
		"currency":    s.cfg.CurrencySymbol,
	})
}

// networkHandler returns the wallet_addEthereumChain parameters so callers
// can prompt their wallet onto the right network.
func (s *Server) networkHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"network":  s.payments.NetworkParams(),
		"contract": s.cfg.EscrowContract,
	})
}

func (s *Server) healthHandler(c *gin.Context) {
	healthy, statuses := s.checks.CheckAll(c.Request.Context())

	status := "healthy"
	httpStatus := http.StatusOK
	if !healthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, gin.H{
		"status":    status,
		"version":   "0.1.0",
		"checks":    statuses,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) livenessHandler(c *gin.Context) {
	if !s.healthy.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

// -----------------------------------------------------------------------------
// Error mapping
// -----------------------------------------------------------------------------

// sessionError maps coordinator and store errors to HTTP responses.
func (s *Server) sessionError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "Call not found",
		})
	case errors.Is(err, session.ErrUnauthorized):
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "unauthorized",
			"message": err.Error(),
		})
	case errors.Is(err, session.ErrInvalidStatus):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "invalid_status",
			"message": err.Error(),
		})
	default:
		logging.L(c.Request.Context()).Error("session operation failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Operation failed",
		})
	}
}

// chainError maps orchestrator errors to HTTP responses. Reverts and
// precondition failures carry user-facing messages; everything else is a 502.
func (s *Server) chainError(c *gin.Context, err error) {
	var revert *chain.RevertError
	var precondition *chain.PreconditionError

	switch {
	case errors.As(err, &revert):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "transaction_reverted",
			"message": revert.Message,
		})
	case errors.As(err, &precondition):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "precondition_failed",
			"message": precondition.Reason,
		})
	case errors.Is(err, chain.ErrInvalidAmount), errors.Is(err, chain.ErrInvalidAddress), errors.Is(err, chain.ErrInvalidDuration):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": err.Error(),
		})
	case errors.Is(err, chain.ErrConfirmationTimeout),
		errors.Is(err, chain.ErrBookingNotConfirmed),
		errors.Is(err, chain.ErrPaymentNotConfirmed):
		c.JSON(http.StatusGatewayTimeout, gin.H{
			"error":   "confirmation_timeout",
			"message": "Transaction was submitted but not confirmed in time",
		})
	default:
		logging.L(c.Request.Context()).Error("chain operation failed", "error", err)
		c.JSON(http.StatusBadGateway, gin.H{
			"error":   "chain_error",
			"message": "On-chain operation failed",
		})
	}
}
