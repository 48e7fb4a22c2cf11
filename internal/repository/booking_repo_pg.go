package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mkurochkin/medbooking/internal/domain"
)

type BookingRepository interface {
	Create(ctx context.Context, booking *domain.Booking) error
	GetByID(ctx context.Context, id string) (*domain.Booking, error)
	Delete(ctx context.Context, id string) error
	FinalizeIfPending(ctx context.Context, id string, status domain.BookingStatus, finalPrice *float64, failReason *string, historyEntry string) (bool, error)
	RejectStalePending(ctx context.Context, cutoff time.Time, reason, historyEntry string) (int64, error)
}

type PGBookingRepository struct {
	db *pgxpool.Pool
}

func NewBookingRepository(db *pgxpool.Pool) BookingRepository {
	return &PGBookingRepository{db: db}
}

func (r *PGBookingRepository) Create(ctx context.Context, booking *domain.Booking) error {
	booking.Status = domain.BookingStatusPending
	return r.db.QueryRow(ctx, `INSERT INTO bookings (id, user_id, gender, dob, services, base_price, status, history)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at`,
		booking.ID, booking.UserID, booking.Gender, booking.DOB, booking.Services, booking.BasePrice, booking.Status, booking.History).
		Scan(&booking.CreatedAt, &booking.UpdatedAt)
}

func (r *PGBookingRepository) GetByID(ctx context.Context, id string) (*domain.Booking, error) {
	row := r.db.QueryRow(ctx, `SELECT id, user_id, gender, dob, services, base_price, final_price, status, fail_reason, history, created_at, updated_at FROM bookings WHERE id=$1`, id)
	var b domain.Booking
	if err := row.Scan(&b.ID, &b.UserID, &b.Gender, &b.DOB, &b.Services, &b.BasePrice, &b.FinalPrice, &b.Status, &b.FailReason, &b.History, &b.CreatedAt, &b.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrBookingNotFound
		}
		return nil, err
	}
	return &b, nil
}

func (r *PGBookingRepository) Delete(ctx context.Context, id string) error {
	_, err := r.db.Exec(ctx, `DELETE FROM bookings WHERE id=$1`, id)
	return err
}

// FinalizeIfPending applies the terminal transition only if the row is still
// PENDING. The status predicate is checked at the store, so whichever of the
// outcome handler and the timeout sweeper lands first wins; the loser sees
// zero affected rows and reports false.
func (r *PGBookingRepository) FinalizeIfPending(ctx context.Context, id string, status domain.BookingStatus, finalPrice *float64, failReason *string, historyEntry string) (bool, error) {
	cmd, err := r.db.Exec(ctx, `UPDATE bookings
		SET status=$2, final_price=$3, fail_reason=$4, history = history || to_jsonb($5::text), updated_at=now()
		WHERE id=$1 AND status=$6`,
		id, status, finalPrice, failReason, historyEntry, domain.BookingStatusPending)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() > 0, nil
}

// RejectStalePending force-rejects every booking still PENDING past the cutoff
// in one conditional bulk update and returns the number of rows changed.
func (r *PGBookingRepository) RejectStalePending(ctx context.Context, cutoff time.Time, reason, historyEntry string) (int64, error) {
	cmd, err := r.db.Exec(ctx, `UPDATE bookings
		SET status=$1, fail_reason=$2, history = history || to_jsonb($3::text), updated_at=now()
		WHERE status=$4 AND created_at < $5`,
		domain.BookingStatusRejected, reason, historyEntry, domain.BookingStatusPending, cutoff)
	if err != nil {
		return 0, err
	}
	return cmd.RowsAffected(), nil
}

var _ BookingRepository = (*PGBookingRepository)(nil)
