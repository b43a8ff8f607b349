package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/eeoos/airbob-sub001/internal/payment/domain"
	reservation "github.com/eeoos/airbob-sub001/internal/reservation/domain"
	"github.com/eeoos/airbob-sub001/pkg/outbox"
)

type Repository struct {
	log    *slog.Logger
	pool   *pgxpool.Pool
	writer *outbox.Writer
}

func NewRepository(log *slog.Logger, pool *pgxpool.Pool, writer *outbox.Writer) *Repository {
	return &Repository{log: log, pool: pool, writer: writer}
}

func (r *Repository) FindByPaymentKey(ctx context.Context, paymentKey string) (domain.Payment, error) {
	var p domain.Payment
	err := r.pool.QueryRow(ctx, `
		SELECT id, uid, reservation_uid, payment_key, order_id, amount_cents,
		       status, failure_reason, approved_at, created_at
		FROM payments WHERE payment_key = $1`, paymentKey).Scan(
		&p.ID, &p.UID, &p.ReservationUID, &p.PaymentKey, &p.OrderID, &p.AmountCents,
		&p.Status, &p.FailureReason, &p.ApprovedAt, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Payment{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Payment{}, fmt.Errorf("find payment: %w", err)
	}
	return p, nil
}

func (r *Repository) RecordAttempt(ctx context.Context, a *domain.Attempt) error {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO payment_attempts (payment_key, order_id, reservation_uid, amount_cents, status)
		VALUES ($1,$2,$3,$4,$5)
		RETURNING id, created_at, updated_at`,
		a.PaymentKey, a.OrderID, a.ReservationUID, a.AmountCents, a.Status).Scan(
		&a.ID, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("record attempt: %w", err)
	}
	return nil
}

func (r *Repository) FinalizeAttempt(ctx context.Context, paymentKey string, status domain.AttemptStatus, reason string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE payment_attempts
		SET status = $2, failure_reason = $3, updated_at = now()
		WHERE payment_key = $1 AND status = 'REQUESTED'`,
		paymentKey, status, reason)
	if err != nil {
		return fmt.Errorf("finalize attempt: %w", err)
	}
	return nil
}

// Settle is the single transaction of a payment callback: payment row,
// attempt finalization, the PAYMENT_PENDING-guarded reservation update with
// its history row, and the outbox events either all commit or none do.
func (r *Repository) Settle(ctx context.Context, p *domain.Payment, next reservation.Status, reason string, events []outbox.Message) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("settle payment: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	var reservationID int64
	err = tx.QueryRow(ctx, `
		UPDATE reservations
		SET status = $2, expires_at = NULL, updated_at = now()
		WHERE uid = $1 AND status = 'PAYMENT_PENDING'
		RETURNING id`,
		p.ReservationUID, next).Scan(&reservationID)
	if errors.Is(err, pgx.ErrNoRows) {
		return reservation.ErrInvalidState
	}
	if err != nil {
		return fmt.Errorf("settle payment: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO reservation_status_history (reservation_id, previous_status, new_status, changed_by, reason)
		VALUES ($1, 'PAYMENT_PENDING', $2, $3, $4)`,
		reservationID, next, reservation.ActorPayment, reason)
	if err != nil {
		return fmt.Errorf("settle payment: %w", err)
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO payments (uid, reservation_uid, payment_key, order_id, amount_cents,
			status, failure_reason, approved_at, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		RETURNING id`,
		p.UID, p.ReservationUID, p.PaymentKey, p.OrderID, p.AmountCents,
		p.Status, p.FailureReason, p.ApprovedAt, p.CreatedAt).Scan(&p.ID)
	if err != nil {
		return fmt.Errorf("settle payment: %w", err)
	}

	attemptStatus := domain.AttemptFailed
	if p.Status == domain.StatusSucceeded {
		attemptStatus = domain.AttemptSucceeded
	}
	_, err = tx.Exec(ctx, `
		UPDATE payment_attempts
		SET status = $2, updated_at = now()
		WHERE payment_key = $1 AND status = 'REQUESTED'`,
		p.PaymentKey, attemptStatus)
	if err != nil {
		return fmt.Errorf("settle payment: %w", err)
	}

	if err := r.writer.Append(ctx, tx, events...); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("settle payment: %w", err)
	}
	return nil
}

func (r *Repository) AppendEvents(ctx context.Context, events ...outbox.Message) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("append events: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := r.writer.Append(ctx, tx, events...); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("append events: %w", err)
	}
	return nil
}
