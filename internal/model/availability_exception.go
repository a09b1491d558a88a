package model

import (
	"fmt"
	"time"
)

type ExceptionType string

const (
	ExceptionBlocked ExceptionType = "blocked" // убирает время из расписания
	ExceptionExtra   ExceptionType = "extra"   // добавляет разовое окно вне правил
)

func (t ExceptionType) Valid() bool {
	return t == ExceptionBlocked || t == ExceptionExtra
}

// AvailabilityException - разовое изменение расписания, время в UTC
type AvailabilityException struct {
	ID        int64         `json:"id"`
	CoachID   int64         `json:"coach_id"`
	Type      ExceptionType `json:"type"`
	StartAt   time.Time     `json:"start_at"`
	EndAt     time.Time     `json:"end_at"`
	Reason    *string       `json:"reason,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
}

func (e *AvailabilityException) Validate() error {
	if !e.Type.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidExceptionType, e.Type)
	}
	if !e.StartAt.Before(e.EndAt) {
		return &InvalidRangeError{From: e.StartAt, To: e.EndAt}
	}
	return nil
}
