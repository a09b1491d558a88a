package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/Freeeeeet/coach_agenda/internal/model"
	"github.com/Freeeeeet/coach_agenda/internal/repository/base"
)

type AvailabilityRuleRepository struct {
	*base.Repository
}

func NewAvailabilityRuleRepository(b *base.Repository) *AvailabilityRuleRepository {
	return &AvailabilityRuleRepository{Repository: b}
}

// TIME в Postgres хранится в микросекундах от полуночи
func clockToPg(c model.ClockTime) pgtype.Time {
	return pgtype.Time{Microseconds: int64(c) * int64(time.Minute/time.Microsecond), Valid: true}
}

func clockFromPg(t pgtype.Time) model.ClockTime {
	return model.ClockTime(t.Microseconds / int64(time.Minute/time.Microsecond))
}

// ListByCoach возвращает все правила коуча
func (r *AvailabilityRuleRepository) ListByCoach(ctx context.Context, coachID int64) ([]*model.AvailabilityRule, error) {
	query := `
		SELECT id, group_id, coach_id, weekday, start_time, end_time, slot_minutes,
		       valid_from, valid_to, created_at, updated_at
		FROM availability_rules
		WHERE coach_id = $1
		ORDER BY weekday, start_time, id
	`

	rows, err := r.Query(ctx, query, coachID)
	if err != nil {
		return nil, fmt.Errorf("list availability rules: %w", err)
	}
	defer rows.Close()

	var rules []*model.AvailabilityRule
	for rows.Next() {
		var (
			rule       model.AvailabilityRule
			start, end pgtype.Time
		)
		err := rows.Scan(
			&rule.ID,
			&rule.GroupID,
			&rule.CoachID,
			&rule.Weekday,
			&start,
			&end,
			&rule.SlotMinutes,
			&rule.ValidFrom,
			&rule.ValidTo,
			&rule.CreatedAt,
			&rule.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan availability rule: %w", err)
		}
		rule.StartTime = clockFromPg(start)
		rule.EndTime = clockFromPg(end)
		rules = append(rules, &rule)
	}

	return rules, rows.Err()
}

// Create создаёт правило
func (r *AvailabilityRuleRepository) Create(ctx context.Context, rule *model.AvailabilityRule) error {
	query := `
		INSERT INTO availability_rules (group_id, coach_id, weekday, start_time, end_time, slot_minutes, valid_from, valid_to)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at, updated_at
	`

	err := r.QueryRow(
		ctx, query,
		rule.GroupID,
		rule.CoachID,
		rule.Weekday,
		clockToPg(rule.StartTime),
		clockToPg(rule.EndTime),
		rule.SlotMinutes,
		rule.ValidFrom,
		rule.ValidTo,
	).Scan(&rule.ID, &rule.CreatedAt, &rule.UpdatedAt)

	if err != nil {
		return fmt.Errorf("create availability rule: %w", err)
	}

	return nil
}

// DeleteByCoach удаляет все правила коуча, возвращает количество удалённых
func (r *AvailabilityRuleRepository) DeleteByCoach(ctx context.Context, coachID int64) (int64, error) {
	affected, err := r.ExecAffected(ctx, `DELETE FROM availability_rules WHERE coach_id = $1`, coachID)
	if err != nil {
		return 0, fmt.Errorf("delete availability rules: %w", err)
	}
	return affected, nil
}

// DeleteGroup удаляет пачку правил, записанную одним вызовом
func (r *AvailabilityRuleRepository) DeleteGroup(ctx context.Context, coachID int64, groupID uuid.UUID) (int64, error) {
	affected, err := r.ExecAffected(ctx,
		`DELETE FROM availability_rules WHERE coach_id = $1 AND group_id = $2`, coachID, groupID)
	if err != nil {
		return 0, fmt.Errorf("delete availability rule group: %w", err)
	}
	return affected, nil
}
