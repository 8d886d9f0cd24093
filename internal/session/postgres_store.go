package session

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"time"
)

// PostgresStore persists session documents in PostgreSQL. Watch is served
// by polling; Postgres has no push channel cheap enough to hold open per
// session, and the poll interval bounds staleness at one second by default.
type PostgresStore struct {
	db           *sql.DB
	pollInterval time.Duration
}

// NewPostgresStore creates a new PostgreSQL-backed session store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, pollInterval: time.Second}
}

// WithPollInterval overrides the Watch polling cadence.
func (p *PostgresStore) WithPollInterval(d time.Duration) *PostgresStore {
	p.pollInterval = d
	return p
}

func (p *PostgresStore) Create(ctx context.Context, s *Session) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO sessions (
			id, client_id, client_name, developer_id, status, created_at,
			duration_minutes, total_amount, transaction_hash, call_id,
			wallet_address, start_time, requires_payment, payment_released,
			payment_released_at, payment_transaction_hash,
			actual_duration_seconds, end_reason
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10,
			$11, $12, $13, $14,
			$15, $16,
			$17, $18
		)`,
		s.ID, s.ClientID, s.ClientName, s.DeveloperID, string(s.Status), s.Timestamp,
		s.Duration, s.TotalAmount, nullString(s.TransactionHash), nullString(s.CallID),
		nullString(s.WalletAddress), nullTimeValue(s.StartTime), s.RequiresPayment, s.PaymentReleased,
		nullTime(s.PaymentReleasedAt), nullString(s.PaymentTransactionHash),
		s.ActualDuration, nullString(s.EndReason),
	)
	return err
}

const sessionColumns = `id, client_id, client_name, developer_id, status, created_at,
	       duration_minutes, total_amount, transaction_hash, call_id,
	       wallet_address, start_time, requires_payment, payment_released,
	       payment_released_at, payment_transaction_hash,
	       actual_duration_seconds, end_reason`

func (p *PostgresStore) Get(ctx context.Context, id string) (*Session, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, id)

	s, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, ErrSessionNotFound
	}
	return s, err
}

func (p *PostgresStore) Update(ctx context.Context, s *Session) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE sessions SET
			status = $1, transaction_hash = $2, call_id = $3,
			wallet_address = $4, start_time = $5, requires_payment = $6,
			payment_released = $7, payment_released_at = $8,
			payment_transaction_hash = $9, actual_duration_seconds = $10,
			end_reason = $11, updated_at = now()
		WHERE id = $12`,
		string(s.Status), nullString(s.TransactionHash), nullString(s.CallID),
		nullString(s.WalletAddress), nullTimeValue(s.StartTime), s.RequiresPayment,
		s.PaymentReleased, nullTime(s.PaymentReleasedAt),
		nullString(s.PaymentTransactionHash), s.ActualDuration,
		nullString(s.EndReason), s.ID,
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrSessionNotFound
	}
	return nil
}

func (p *PostgresStore) ListByParticipant(ctx context.Context, participantID string, limit int) ([]*Session, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE client_id = $1 OR developer_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, participantID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (p *PostgresStore) Watch(ctx context.Context, id string) (<-chan *Session, func(), error) {
	ch := make(chan *Session, 8)
	watchCtx, cancel := context.WithCancel(ctx)

	go func() {
		defer close(ch)

		var lastSeen []byte
		deliver := func() {
			s, err := p.Get(watchCtx, id)
			if err != nil {
				return
			}
			// Re-deliver only on visible change. The full document is
			// fingerprinted; consumers still must tolerate duplicates.
			fp, err := json.Marshal(s)
			if err != nil || bytes.Equal(fp, lastSeen) {
				return
			}
			lastSeen = fp
			select {
			case ch <- s:
			case <-watchCtx.Done():
			}
		}

		deliver()
		ticker := time.NewTicker(p.pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-watchCtx.Done():
				return
			case <-ticker.C:
				deliver()
			}
		}
	}()

	return ch, cancel, nil
}

func (p *PostgresStore) ServerTime(ctx context.Context) (time.Time, error) {
	var t time.Time
	err := p.db.QueryRowContext(ctx, `SELECT now()`).Scan(&t)
	return t, err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSession(row rowScanner) (*Session, error) {
	var (
		s          Session
		status     string
		txHash     sql.NullString
		callID     sql.NullString
		wallet     sql.NullString
		startTime  sql.NullTime
		releasedAt sql.NullTime
		payTxHash  sql.NullString
		endReason  sql.NullString
	)
	err := row.Scan(
		&s.ID, &s.ClientID, &s.ClientName, &s.DeveloperID, &status, &s.Timestamp,
		&s.Duration, &s.TotalAmount, &txHash, &callID,
		&wallet, &startTime, &s.RequiresPayment, &s.PaymentReleased,
		&releasedAt, &payTxHash,
		&s.ActualDuration, &endReason,
	)
	if err != nil {
		return nil, err
	}
	s.Status = Status(status)
	s.TransactionHash = txHash.String
	s.CallID = callID.String
	s.WalletAddress = wallet.String
	if startTime.Valid {
		s.StartTime = startTime.Time
	}
	if releasedAt.Valid {
		t := releasedAt.Time
		s.PaymentReleasedAt = &t
	}
	s.PaymentTransactionHash = payTxHash.String
	s.EndReason = endReason.String
	return &s, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullTimeValue(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}
