package repository

import (
	"context"
	"fmt"

	"github.com/Freeeeeet/coach_agenda/internal/model"
	"github.com/Freeeeeet/coach_agenda/internal/repository/base"
)

type ServiceRepository struct {
	*base.Repository
}

func NewServiceRepository(b *base.Repository) *ServiceRepository {
	return &ServiceRepository{Repository: b}
}

// GetByID получает услугу по ID (в том числе неактивную)
func (r *ServiceRepository) GetByID(ctx context.Context, id int64) (*model.Service, error) {
	query := `
		SELECT id, name, duration_minutes, price_cents, currency, is_active
		FROM services
		WHERE id = $1
	`

	var service model.Service
	err := r.QueryRow(ctx, query, id).Scan(
		&service.ID,
		&service.Name,
		&service.DurationMinutes,
		&service.PriceCents,
		&service.Currency,
		&service.IsActive,
	)

	if err != nil {
		if base.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get service by id: %w", err)
	}

	return &service, nil
}

// ListActive возвращает активные услуги
func (r *ServiceRepository) ListActive(ctx context.Context) ([]*model.Service, error) {
	query := `
		SELECT id, name, duration_minutes, price_cents, currency, is_active
		FROM services
		WHERE is_active
		ORDER BY name
	`

	rows, err := r.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list services: %w", err)
	}
	defer rows.Close()

	var services []*model.Service
	for rows.Next() {
		var service model.Service
		err := rows.Scan(
			&service.ID,
			&service.Name,
			&service.DurationMinutes,
			&service.PriceCents,
			&service.Currency,
			&service.IsActive,
		)
		if err != nil {
			return nil, fmt.Errorf("scan service: %w", err)
		}
		services = append(services, &service)
	}

	return services, rows.Err()
}
