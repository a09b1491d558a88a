// Package events публикует доменные события записей в RabbitMQ и рассылает
// инвалидацию индекса конфликтов между процессами через Redis pub/sub.
package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/Freeeeeet/coach_agenda/internal/model"
)

// Типы событий; тип совпадает с именем очереди
const (
	BookingCreated   = "booking.created"
	BookingConfirmed = "booking.confirmed"
	BookingCompleted = "booking.completed"
	BookingCancelled = "booking.cancelled"
	BookingNoShow    = "booking.no_show"
)

// BookingEvent - событие жизненного цикла записи
type BookingEvent struct {
	ID          uuid.UUID           `json:"id"`
	Type        string              `json:"type"`
	OccurredAt  time.Time           `json:"occurred_at"`
	BookingID   int64               `json:"booking_id"`
	CoachID     int64               `json:"coach_id"`
	ClientID    int64               `json:"client_id"`
	ServiceID   *int64              `json:"service_id,omitempty"`
	StartAt     time.Time           `json:"start_at"`
	EndAt       time.Time           `json:"end_at"`
	Status      model.BookingStatus `json:"status"`
	ActorUserID *int64              `json:"actor_user_id,omitempty"`
	Reason      *string             `json:"reason,omitempty"`
}

// TypeForStatus возвращает тип события для статуса, в который перешла запись
func TypeForStatus(status model.BookingStatus) string {
	switch status {
	case model.BookingStatusConfirmed:
		return BookingConfirmed
	case model.BookingStatusCompleted:
		return BookingCompleted
	case model.BookingStatusCancelled:
		return BookingCancelled
	case model.BookingStatusNoShow:
		return BookingNoShow
	}
	return BookingCreated
}

// NewBookingEvent собирает событие по записи
func NewBookingEvent(eventType string, b *model.Booking, actor *int64) BookingEvent {
	return BookingEvent{
		ID:          uuid.New(),
		Type:        eventType,
		OccurredAt:  time.Now().UTC(),
		BookingID:   b.ID,
		CoachID:     b.CoachID,
		ClientID:    b.ClientID,
		ServiceID:   b.ServiceID,
		StartAt:     b.StartAt.UTC(),
		EndAt:       b.EndAt.UTC(),
		Status:      b.Status,
		ActorUserID: actor,
		Reason:      b.CancelReason,
	}
}
