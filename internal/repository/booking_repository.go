package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/Freeeeeet/coach_agenda/internal/model"
	"github.com/Freeeeeet/coach_agenda/internal/repository/base"
)

type BookingRepository struct {
	*base.Repository
}

func NewBookingRepository(b *base.Repository) *BookingRepository {
	return &BookingRepository{Repository: b}
}

const bookingColumns = `
	id, coach_id, client_id, service_id, start_at, end_at, status, notes,
	created_by_user_id, cancelled_by_user_id, cancelled_at, cancel_reason, created_at, updated_at`

func scanBooking(row pgx.Row) (*model.Booking, error) {
	var booking model.Booking
	err := row.Scan(
		&booking.ID,
		&booking.CoachID,
		&booking.ClientID,
		&booking.ServiceID,
		&booking.StartAt,
		&booking.EndAt,
		&booking.Status,
		&booking.Notes,
		&booking.CreatedByUserID,
		&booking.CancelledByUserID,
		&booking.CancelledAt,
		&booking.CancelReason,
		&booking.CreatedAt,
		&booking.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &booking, nil
}

func collectBookings(rows pgx.Rows) ([]*model.Booking, error) {
	defer rows.Close()

	var bookings []*model.Booking
	for rows.Next() {
		booking, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("scan booking: %w", err)
		}
		bookings = append(bookings, booking)
	}
	return bookings, rows.Err()
}

// Create создаёт бронирование. Пересечение с активной записью того же коуча
// отклоняется ограничением bookings_no_overlap и возвращается как model.ConflictError.
func (r *BookingRepository) Create(ctx context.Context, booking *model.Booking) error {
	query := `
		INSERT INTO bookings (coach_id, client_id, service_id, start_at, end_at, status, notes, created_by_user_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at, updated_at
	`

	err := r.QueryRow(
		ctx, query,
		booking.CoachID,
		booking.ClientID,
		booking.ServiceID,
		booking.StartAt.UTC(),
		booking.EndAt.UTC(),
		booking.Status,
		booking.Notes,
		booking.CreatedByUserID,
	).Scan(&booking.ID, &booking.CreatedAt, &booking.UpdatedAt)

	if err != nil {
		err = base.AsConflict(err, booking.CoachID, booking.StartAt, booking.EndAt)
		return fmt.Errorf("create booking: %w", err)
	}

	return nil
}

// GetByID получает бронирование по ID
func (r *BookingRepository) GetByID(ctx context.Context, id int64) (*model.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE id = $1`

	booking, err := scanBooking(r.QueryRow(ctx, query, id))
	if err != nil {
		if base.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get booking by id: %w", err)
	}

	return booking, nil
}

// GetForUpdate получает бронирование и блокирует строку до конца транзакции
func (r *BookingRepository) GetForUpdate(ctx context.Context, id int64) (*model.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE id = $1 FOR UPDATE`

	booking, err := scanBooking(r.QueryRow(ctx, query, id))
	if err != nil {
		if base.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get booking for update: %w", err)
	}

	return booking, nil
}

// ListActiveInRange возвращает tentative/confirmed записи коуча, пересекающие [from, to)
func (r *BookingRepository) ListActiveInRange(ctx context.Context, coachID int64, from, to time.Time) ([]*model.Booking, error) {
	query := `
		SELECT ` + bookingColumns + `
		FROM bookings
		WHERE coach_id = $1
		  AND start_at < $3
		  AND end_at > $2
		  AND status IN ('tentative', 'confirmed')
		ORDER BY start_at
	`

	rows, err := r.Query(ctx, query, coachID, from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("list active bookings: %w", err)
	}

	return collectBookings(rows)
}

// ListByCoach возвращает записи коуча, пересекающие [from, to)
func (r *BookingRepository) ListByCoach(ctx context.Context, coachID int64, from, to time.Time, includeCancelled bool) ([]*model.Booking, error) {
	query := `
		SELECT ` + bookingColumns + `
		FROM bookings
		WHERE coach_id = $1
		  AND start_at < $3
		  AND end_at > $2
		  AND ($4 OR status <> 'cancelled')
		ORDER BY start_at
	`

	rows, err := r.Query(ctx, query, coachID, from.UTC(), to.UTC(), includeCancelled)
	if err != nil {
		return nil, fmt.Errorf("list bookings by coach: %w", err)
	}

	return collectBookings(rows)
}

// ListByClient возвращает записи клиента, пересекающие [from, to)
func (r *BookingRepository) ListByClient(ctx context.Context, clientID int64, from, to time.Time, includeCancelled bool) ([]*model.Booking, error) {
	query := `
		SELECT ` + bookingColumns + `
		FROM bookings
		WHERE client_id = $1
		  AND start_at < $3
		  AND end_at > $2
		  AND ($4 OR status <> 'cancelled')
		ORDER BY start_at
	`

	rows, err := r.Query(ctx, query, clientID, from.UTC(), to.UTC(), includeCancelled)
	if err != nil {
		return nil, fmt.Errorf("list bookings by client: %w", err)
	}

	return collectBookings(rows)
}

// UpdateStatus меняет статус, только если текущий статус равен from.
// Возвращает false, если запись уже изменил кто-то другой.
func (r *BookingRepository) UpdateStatus(
	ctx context.Context,
	id int64,
	from, to model.BookingStatus,
	cancel *model.Cancellation,
) (bool, error) {
	query := `
		UPDATE bookings
		SET status = $3,
		    cancelled_by_user_id = COALESCE($4, cancelled_by_user_id),
		    cancelled_at = COALESCE($5, cancelled_at),
		    cancel_reason = COALESCE($6, cancel_reason),
		    updated_at = NOW()
		WHERE id = $1 AND status = $2
	`

	var (
		byUserID *int64
		at       *time.Time
		reason   *string
	)
	if cancel != nil {
		byUserID = cancel.ByUserID
		cancelledAt := cancel.At.UTC()
		at = &cancelledAt
		reason = cancel.Reason
	}

	affected, err := r.ExecAffected(ctx, query, id, from, to, byUserID, at, reason)
	if err != nil {
		return false, fmt.Errorf("update booking status: %w", err)
	}

	return affected == 1, nil
}
