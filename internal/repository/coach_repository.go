package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/Freeeeeet/coach_agenda/internal/model"
	"github.com/Freeeeeet/coach_agenda/internal/repository/base"
)

type CoachRepository struct {
	*base.Repository
}

func NewCoachRepository(b *base.Repository) *CoachRepository {
	return &CoachRepository{Repository: b}
}

const coachColumns = `c.id, c.user_id, u.telegram_user_id, u.full_name, c.timezone, c.default_lesson_minutes, c.notify_chat_id, c.created_at`

func scanCoach(row pgx.Row) (*model.Coach, error) {
	var coach model.Coach
	err := row.Scan(
		&coach.ID,
		&coach.UserID,
		&coach.TelegramUserID,
		&coach.FullName,
		&coach.Timezone,
		&coach.DefaultLessonMinutes,
		&coach.NotifyChatID,
		&coach.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &coach, nil
}

// GetByID получает коуча по ID
func (r *CoachRepository) GetByID(ctx context.Context, id int64) (*model.Coach, error) {
	query := `
		SELECT ` + coachColumns + `
		FROM coaches c
		JOIN app_users u ON u.id = c.user_id
		WHERE c.id = $1
	`

	coach, err := scanCoach(r.QueryRow(ctx, query, id))
	if err != nil {
		if base.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get coach by id: %w", err)
	}

	return coach, nil
}

// GetByTelegramUserID ищет коуча по Telegram ID его пользователя
func (r *CoachRepository) GetByTelegramUserID(ctx context.Context, telegramUserID int64) (*model.Coach, error) {
	query := `
		SELECT ` + coachColumns + `
		FROM coaches c
		JOIN app_users u ON u.id = c.user_id
		WHERE u.telegram_user_id = $1
	`

	coach, err := scanCoach(r.QueryRow(ctx, query, telegramUserID))
	if err != nil {
		if base.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get coach by telegram id: %w", err)
	}

	return coach, nil
}

// List возвращает активных коучей
func (r *CoachRepository) List(ctx context.Context) ([]*model.Coach, error) {
	query := `
		SELECT ` + coachColumns + `
		FROM coaches c
		JOIN app_users u ON u.id = c.user_id
		WHERE u.status = 'active'
		ORDER BY c.id
	`

	rows, err := r.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list coaches: %w", err)
	}
	defer rows.Close()

	var coaches []*model.Coach
	for rows.Next() {
		coach, err := scanCoach(rows)
		if err != nil {
			return nil, fmt.Errorf("scan coach: %w", err)
		}
		coaches = append(coaches, coach)
	}

	return coaches, rows.Err()
}

type ClientRepository struct {
	*base.Repository
}

func NewClientRepository(b *base.Repository) *ClientRepository {
	return &ClientRepository{Repository: b}
}

// GetByID получает клиента по ID
func (r *ClientRepository) GetByID(ctx context.Context, id int64) (*model.Client, error) {
	query := `
		SELECT cl.id, cl.user_id, u.full_name, cl.created_at
		FROM clients cl
		JOIN app_users u ON u.id = cl.user_id
		WHERE cl.id = $1
	`

	var client model.Client
	err := r.QueryRow(ctx, query, id).Scan(
		&client.ID,
		&client.UserID,
		&client.FullName,
		&client.CreatedAt,
	)

	if err != nil {
		if base.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get client by id: %w", err)
	}

	return &client, nil
}
