package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/Freeeeeet/coach_agenda/internal/model"
)

// Transactor выполняет fn в одной транзакции хранилища
type Transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type CoachRepository interface {
	GetByID(ctx context.Context, id int64) (*model.Coach, error)
	GetByTelegramUserID(ctx context.Context, telegramUserID int64) (*model.Coach, error)
	List(ctx context.Context) ([]*model.Coach, error)
}

type ClientRepository interface {
	GetByID(ctx context.Context, id int64) (*model.Client, error)
}

type ServiceRepository interface {
	GetByID(ctx context.Context, id int64) (*model.Service, error)
	ListActive(ctx context.Context) ([]*model.Service, error)
}

type AvailabilityRuleRepository interface {
	ListByCoach(ctx context.Context, coachID int64) ([]*model.AvailabilityRule, error)
	Create(ctx context.Context, rule *model.AvailabilityRule) error
	DeleteByCoach(ctx context.Context, coachID int64) (int64, error)
	DeleteGroup(ctx context.Context, coachID int64, groupID uuid.UUID) (int64, error)
}

type AvailabilityExceptionRepository interface {
	Create(ctx context.Context, e *model.AvailabilityException) error
	ListInRange(ctx context.Context, coachID int64, from, to time.Time, types ...model.ExceptionType) ([]*model.AvailabilityException, error)
}

type BookingRepository interface {
	Create(ctx context.Context, booking *model.Booking) error
	GetByID(ctx context.Context, id int64) (*model.Booking, error)
	GetForUpdate(ctx context.Context, id int64) (*model.Booking, error)
	ListActiveInRange(ctx context.Context, coachID int64, from, to time.Time) ([]*model.Booking, error)
	ListByCoach(ctx context.Context, coachID int64, from, to time.Time, includeCancelled bool) ([]*model.Booking, error)
	ListByClient(ctx context.Context, clientID int64, from, to time.Time, includeCancelled bool) ([]*model.Booking, error)
	UpdateStatus(ctx context.Context, id int64, from, to model.BookingStatus, cancel *model.Cancellation) (bool, error)
}

// Repositories - всё хранилище, которое нужно сервисам
type Repositories struct {
	Tx         Transactor
	Coaches    CoachRepository
	Clients    ClientRepository
	Services   ServiceRepository
	Rules      AvailabilityRuleRepository
	Exceptions AvailabilityExceptionRepository
	Bookings   BookingRepository
}
