package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/eeoos/airbob-sub001/internal/reservation/domain"
	"github.com/eeoos/airbob-sub001/pkg/outbox"
)

const selectReservation = `
	SELECT id, uid, accommodation_id, accommodation_uid, guest_id,
	       check_in, check_out, guest_count, total_cents, status,
	       expires_at, created_at, updated_at
	FROM reservations`

type Repository struct {
	log    *slog.Logger
	pool   *pgxpool.Pool
	writer *outbox.Writer
}

func NewRepository(log *slog.Logger, pool *pgxpool.Pool, writer *outbox.Writer) *Repository {
	return &Repository{log: log, pool: pool, writer: writer}
}

// CreatePending inserts a pending reservation, its first history row and its
// outbox events in one transaction. A per-accommodation advisory lock
// serializes concurrent creates so the overlap check cannot race itself; the
// lock is released at commit.
func (r *Repository) CreatePending(ctx context.Context, res *domain.Reservation, changedBy, reason string, events []outbox.Message) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("create reservation: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, res.AccommodationID); err != nil {
		return fmt.Errorf("create reservation: %w", err)
	}

	var taken bool
	err = tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM reservations
			WHERE accommodation_id = $1
			  AND check_in < $3 AND check_out > $2
			  AND status IN ('CONFIRMED', 'PAYMENT_PENDING')
		)`, res.AccommodationID, res.CheckIn, res.CheckOut).Scan(&taken)
	if err != nil {
		return fmt.Errorf("create reservation: %w", err)
	}
	if taken {
		return domain.ErrSlotUnavailable
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO reservations (uid, accommodation_id, accommodation_uid, guest_id,
			check_in, check_out, guest_count, total_cents, status, expires_at,
			created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		RETURNING id`,
		res.UID, res.AccommodationID, res.AccommodationUID, res.GuestID,
		res.CheckIn, res.CheckOut, res.GuestCount, res.TotalCents, res.Status,
		res.ExpiresAt, res.CreatedAt, res.UpdatedAt).Scan(&res.ID)
	if err != nil {
		return fmt.Errorf("create reservation: %w", err)
	}

	if err := insertHistory(ctx, tx, res.ID, nil, res.Status, changedBy, reason); err != nil {
		return fmt.Errorf("create reservation: %w", err)
	}
	if err := r.writer.Append(ctx, tx, events...); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("create reservation: %w", err)
	}
	return nil
}

func (r *Repository) FindByUID(ctx context.Context, uid uuid.UUID) (domain.Reservation, error) {
	var res domain.Reservation
	err := r.pool.QueryRow(ctx, selectReservation+` WHERE uid = $1`, uid).Scan(
		&res.ID, &res.UID, &res.AccommodationID, &res.AccommodationUID, &res.GuestID,
		&res.CheckIn, &res.CheckOut, &res.GuestCount, &res.TotalCents, &res.Status,
		&res.ExpiresAt, &res.CreatedAt, &res.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Reservation{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Reservation{}, fmt.Errorf("find reservation: %w", err)
	}
	return res, nil
}

// Transition applies a status change guarded by the previous status. The
// guard makes concurrent writers lose cleanly: whoever updates second sees
// zero rows and gets ErrInvalidState instead of double-applying.
func (r *Repository) Transition(ctx context.Context, res domain.Reservation, prev domain.Status, changedBy, reason string, events []outbox.Message) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("transition reservation: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	var id int64
	err = tx.QueryRow(ctx, `
		UPDATE reservations
		SET status = $2, expires_at = $3, updated_at = now()
		WHERE uid = $1 AND status = $4
		RETURNING id`,
		res.UID, res.Status, res.ExpiresAt, prev).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrInvalidState
	}
	if err != nil {
		return fmt.Errorf("transition reservation: %w", err)
	}

	if err := insertHistory(ctx, tx, id, &prev, res.Status, changedBy, reason); err != nil {
		return fmt.Errorf("transition reservation: %w", err)
	}
	if err := r.writer.Append(ctx, tx, events...); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("transition reservation: %w", err)
	}
	return nil
}

func (r *Repository) ListExpiredPending(ctx context.Context, cutoff time.Time, limit int) ([]domain.Reservation, error) {
	rows, err := r.pool.Query(ctx, selectReservation+`
		WHERE status = 'PAYMENT_PENDING' AND expires_at < $1
		ORDER BY expires_at
		LIMIT $2`, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("list expired: %w", err)
	}
	defer rows.Close()

	var out []domain.Reservation
	for rows.Next() {
		var res domain.Reservation
		if err := rows.Scan(
			&res.ID, &res.UID, &res.AccommodationID, &res.AccommodationUID, &res.GuestID,
			&res.CheckIn, &res.CheckOut, &res.GuestCount, &res.TotalCents, &res.Status,
			&res.ExpiresAt, &res.CreatedAt, &res.UpdatedAt); err != nil {
			return nil, fmt.Errorf("list expired: %w", err)
		}
		out = append(out, res)
	}
	return out, rows.Err()
}

func insertHistory(ctx context.Context, tx pgx.Tx, reservationID int64, prev *domain.Status, next domain.Status, changedBy, reason string) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO reservation_status_history (reservation_id, previous_status, new_status, changed_by, reason)
		VALUES ($1,$2,$3,$4,$5)`,
		reservationID, prev, next, changedBy, reason)
	return err
}
