package model

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrInvalidTransition    = errors.New("invalid booking status transition")
	ErrInvalidRule          = errors.New("invalid availability rule")
	ErrInvalidExceptionType = errors.New("invalid exception type")
)

// InvalidRangeError - интервал пустой или перевёрнутый (to <= from)
type InvalidRangeError struct {
	From time.Time
	To   time.Time
}

func (e *InvalidRangeError) Error() string {
	return fmt.Sprintf("invalid range [%s, %s)", e.From.Format(time.RFC3339), e.To.Format(time.RFC3339))
}

// SlotUnavailableError - запрошенное время не свободно на момент проверки
type SlotUnavailableError struct {
	CoachID int64
	Start   time.Time
	End     time.Time
}

func (e *SlotUnavailableError) Error() string {
	return fmt.Sprintf("slot unavailable for coach %d: [%s, %s)",
		e.CoachID, e.Start.Format(time.RFC3339), e.End.Format(time.RFC3339))
}

// ConflictError - проиграна гонка при фиксации записи или смене статуса.
// Клиент должен повторить запрос со свежим расписанием.
type ConflictError struct {
	CoachID int64
	Start   time.Time
	End     time.Time
	Err     error
}

func (e *ConflictError) Error() string {
	msg := fmt.Sprintf("booking conflict for coach %d: [%s, %s)",
		e.CoachID, e.Start.Format(time.RFC3339), e.End.Format(time.RFC3339))
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConflictError) Unwrap() error { return e.Err }

// NotFoundError - неизвестная ссылка на коуча, клиента, услугу или запись
type NotFoundError struct {
	Entity string
	ID     int64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %d not found", e.Entity, e.ID)
}

// IsNotFound проверяет, является ли ошибка NotFoundError
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsConflict проверяет, является ли ошибка ConflictError
func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}
