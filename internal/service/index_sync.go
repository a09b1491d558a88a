package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/Freeeeeet/coach_agenda/internal/calendar"
	"github.com/Freeeeeet/coach_agenda/internal/conflict"
	"github.com/Freeeeeet/coach_agenda/internal/metrics"
)

// InvalidationPublisher рассылает инвалидации индекса другим экземплярам
type InvalidationPublisher interface {
	PublishInvalidation(ctx context.Context, coachID int64, r *calendar.Interval) error
}

// indexSync сбрасывает локальный индекс после коммита и рассылает инвалидацию
type indexSync struct {
	index  *conflict.Index
	bus    InvalidationPublisher
	logger *zap.Logger
}

// touch инвалидирует диапазон r коуча; r == nil - все данные коуча
func (x *indexSync) touch(ctx context.Context, coachID int64, r *calendar.Interval) {
	if x.index != nil {
		if r == nil {
			x.index.InvalidateCoach(coachID)
		} else {
			x.index.Invalidate(coachID, *r)
		}
		metrics.SetIndexCoaches(x.index.Len())
	}

	if x.bus == nil {
		return
	}
	if err := x.bus.PublishInvalidation(ctx, coachID, r); err != nil {
		x.logger.Warn("Failed to broadcast index invalidation",
			zap.Int64("coach_id", coachID),
			zap.Error(err),
		)
	}
}
