package model

import "time"

type BookingStatus string

const (
	BookingStatusTentative BookingStatus = "tentative" // предварительная запись
	BookingStatusConfirmed BookingStatus = "confirmed" // подтверждена
	BookingStatusCompleted BookingStatus = "completed" // занятие состоялось
	BookingStatusCancelled BookingStatus = "cancelled" // отменена
	BookingStatusNoShow    BookingStatus = "no_show"   // клиент не пришёл
)

var bookingTransitions = map[BookingStatus][]BookingStatus{
	BookingStatusTentative: {BookingStatusConfirmed, BookingStatusCancelled},
	BookingStatusConfirmed: {BookingStatusCompleted, BookingStatusCancelled, BookingStatusNoShow},
}

// Valid проверяет, что статус известен
func (s BookingStatus) Valid() bool {
	switch s {
	case BookingStatusTentative, BookingStatusConfirmed, BookingStatusCompleted,
		BookingStatusCancelled, BookingStatusNoShow:
		return true
	}
	return false
}

// Active - запись занимает время коуча
func (s BookingStatus) Active() bool {
	return s == BookingStatusTentative || s == BookingStatusConfirmed
}

// Terminal - из статуса нет переходов
func (s BookingStatus) Terminal() bool {
	return len(bookingTransitions[s]) == 0
}

// CanTransitionTo проверяет допустимость перехода
func (s BookingStatus) CanTransitionTo(next BookingStatus) bool {
	for _, allowed := range bookingTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// ActiveBookingStatuses статусы, блокирующие время коуча
var ActiveBookingStatuses = []BookingStatus{BookingStatusTentative, BookingStatusConfirmed}

type Booking struct {
	ID                int64         `json:"id"`
	CoachID           int64         `json:"coach_id"`
	ClientID          int64         `json:"client_id"`
	ServiceID         *int64        `json:"service_id,omitempty"`
	StartAt           time.Time     `json:"start_at"`
	EndAt             time.Time     `json:"end_at"`
	Status            BookingStatus `json:"status"`
	Notes             *string       `json:"notes,omitempty"`
	CreatedByUserID   *int64        `json:"created_by_user_id,omitempty"`
	CancelledByUserID *int64        `json:"cancelled_by_user_id,omitempty"`
	CancelledAt       *time.Time    `json:"cancelled_at,omitempty"`
	CancelReason      *string       `json:"cancel_reason,omitempty"`
	CreatedAt         time.Time     `json:"created_at"`
	UpdatedAt         time.Time     `json:"updated_at"`
}

// Cancellation - аудит отмены записи
type Cancellation struct {
	ByUserID *int64
	At       time.Time
	Reason   *string
}
