package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/Freeeeeet/coach_agenda/internal/model"
	"github.com/Freeeeeet/coach_agenda/internal/repository/base"
)

type AvailabilityExceptionRepository struct {
	*base.Repository
}

func NewAvailabilityExceptionRepository(b *base.Repository) *AvailabilityExceptionRepository {
	return &AvailabilityExceptionRepository{Repository: b}
}

// Create создаёт исключение
func (r *AvailabilityExceptionRepository) Create(ctx context.Context, e *model.AvailabilityException) error {
	query := `
		INSERT INTO availability_exceptions (coach_id, type, start_at, end_at, reason)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`

	err := r.QueryRow(
		ctx, query,
		e.CoachID,
		e.Type,
		e.StartAt.UTC(),
		e.EndAt.UTC(),
		e.Reason,
	).Scan(&e.ID, &e.CreatedAt)

	if err != nil {
		return fmt.Errorf("create availability exception: %w", err)
	}

	return nil
}

// ListInRange возвращает исключения коуча, пересекающие [from, to).
// Пустой types - все типы.
func (r *AvailabilityExceptionRepository) ListInRange(
	ctx context.Context,
	coachID int64,
	from, to time.Time,
	types ...model.ExceptionType,
) ([]*model.AvailabilityException, error) {
	query := `
		SELECT id, coach_id, type, start_at, end_at, reason, created_at
		FROM availability_exceptions
		WHERE coach_id = $1
		  AND start_at < $3
		  AND end_at > $2
		  AND (cardinality($4::text[]) = 0 OR type = ANY($4::text[]))
		ORDER BY start_at, id
	`

	filter := make([]string, 0, len(types))
	for _, t := range types {
		filter = append(filter, string(t))
	}

	rows, err := r.Query(ctx, query, coachID, from.UTC(), to.UTC(), filter)
	if err != nil {
		return nil, fmt.Errorf("list availability exceptions: %w", err)
	}
	defer rows.Close()

	var exceptions []*model.AvailabilityException
	for rows.Next() {
		var e model.AvailabilityException
		err := rows.Scan(
			&e.ID,
			&e.CoachID,
			&e.Type,
			&e.StartAt,
			&e.EndAt,
			&e.Reason,
			&e.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan availability exception: %w", err)
		}
		exceptions = append(exceptions, &e)
	}

	return exceptions, rows.Err()
}
