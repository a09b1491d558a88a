package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Freeeeeet/coach_agenda/internal/calendar"
)

// InvalidationChannel - канал Redis для рассылки инвалидаций индекса
const InvalidationChannel = "agenda:index:invalidate"

// Invalidator - получатель инвалидаций (conflict.Index)
type Invalidator interface {
	Invalidate(coachID int64, r calendar.Interval)
	InvalidateCoach(coachID int64)
}

type invalidationMessage struct {
	Origin  string     `json:"origin"`
	CoachID int64      `json:"coach_id"`
	Start   *time.Time `json:"start,omitempty"` // nil - весь коуч
	End     *time.Time `json:"end,omitempty"`
}

// InvalidationBus рассылает инвалидации другим экземплярам сервиса.
// Свои сообщения экземпляр игнорирует по origin.
type InvalidationBus struct {
	client  *redis.Client
	channel string
	origin  string
	logger  *zap.Logger
}

func NewInvalidationBus(client *redis.Client, logger *zap.Logger) *InvalidationBus {
	return &InvalidationBus{
		client:  client,
		channel: InvalidationChannel,
		origin:  uuid.NewString(),
		logger:  logger,
	}
}

// Origin - идентификатор этого экземпляра
func (b *InvalidationBus) Origin() string {
	return b.origin
}

// PublishInvalidation рассылает инвалидацию диапазона r; r == nil - весь коуч
func (b *InvalidationBus) PublishInvalidation(ctx context.Context, coachID int64, r *calendar.Interval) error {
	msg := invalidationMessage{Origin: b.origin, CoachID: coachID}
	if r != nil {
		start, end := r.Start.UTC(), r.End.UTC()
		msg.Start, msg.End = &start, &end
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal invalidation: %w", err)
	}
	if err := b.client.Publish(ctx, b.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish invalidation: %w", err)
	}
	return nil
}

// Listen подписывается на канал и применяет чужие инвалидации к target.
// Возвращает управление после подтверждения подписки; слушатель работает до отмены ctx.
func (b *InvalidationBus) Listen(ctx context.Context, target Invalidator) (<-chan struct{}, error) {
	sub := b.client.Subscribe(ctx, b.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", b.channel, err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		defer sub.Close()

		messages := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-messages:
				if !ok {
					return
				}
				b.apply(m.Payload, target)
			}
		}
	}()

	b.logger.Info("Listening for index invalidations", zap.String("channel", b.channel), zap.String("origin", b.origin))
	return done, nil
}

func (b *InvalidationBus) apply(payload string, target Invalidator) {
	var msg invalidationMessage
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		b.logger.Warn("Malformed invalidation message", zap.Error(err))
		return
	}
	if msg.Origin == b.origin {
		return
	}
	if msg.Start == nil || msg.End == nil {
		target.InvalidateCoach(msg.CoachID)
		return
	}
	target.Invalidate(msg.CoachID, calendar.Interval{Start: *msg.Start, End: *msg.End})
}

// NewRedisClient создаёт клиента Redis и проверяет соединение.
// Пустой addr или недоступный сервер - nil, инвалидация между процессами отключается.
func NewRedisClient(ctx context.Context, addr, password string, db int) *redis.Client {
	if addr == "" {
		return nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil
	}
	return client
}
