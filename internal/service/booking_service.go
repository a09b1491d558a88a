package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Freeeeeet/coach_agenda/internal/calendar"
	"github.com/Freeeeeet/coach_agenda/internal/events"
	"github.com/Freeeeeet/coach_agenda/internal/metrics"
	"github.com/Freeeeeet/coach_agenda/internal/model"
)

// ErrStatusChanged - статус записи изменили между чтением и обновлением
var ErrStatusChanged = errors.New("booking status changed concurrently")

// EventPublisher публикует доменные события записей
type EventPublisher interface {
	Publish(ctx context.Context, event events.BookingEvent) error
}

// Notifier уведомляет коуча о записи
type Notifier interface {
	NotifyBooking(ctx context.Context, coach *model.Coach, booking *model.Booking) error
}

type BookingService struct {
	repos        Repositories
	availability *AvailabilityService
	sync         *indexSync
	publisher    EventPublisher
	notifier     Notifier
	logger       *zap.Logger
	now          func() time.Time
}

func NewBookingService(
	repos Repositories,
	availability *AvailabilityService,
	bus InvalidationPublisher,
	publisher EventPublisher,
	notifier Notifier,
	logger *zap.Logger,
) *BookingService {
	return &BookingService{
		repos:        repos,
		availability: availability,
		sync:         &indexSync{index: availability.index, bus: bus, logger: logger},
		publisher:    publisher,
		notifier:     notifier,
		logger:       logger,
		now:          time.Now,
	}
}

// BookingRequest - запрос на запись. End можно не задавать: тогда конец считается
// от Start по длительности DurationMinutes, услуги или занятия коуча по умолчанию.
type BookingRequest struct {
	CoachID         int64
	ClientID        int64
	ServiceID       *int64
	Start           time.Time
	End             time.Time
	DurationMinutes int
	RequestedBy     *int64
	Status          model.BookingStatus // tentative или confirmed (по умолчанию)
	Notes           *string
}

func admissionOutcome(err error) string {
	var (
		rangeErr    *model.InvalidRangeError
		unavailable *model.SlotUnavailableError
		notFound    *model.NotFoundError
	)
	switch {
	case err == nil:
		return metrics.OutcomeAdmitted
	case model.IsConflict(err):
		return metrics.OutcomeConflict
	case errors.As(err, &unavailable):
		return metrics.OutcomeUnavailable
	case errors.As(err, &rangeErr), errors.As(err, &notFound), errors.Is(err, model.ErrInvalidTransition):
		return metrics.OutcomeInvalid
	}
	return metrics.OutcomeError
}

// RequestBooking - единственная точка создания записи.
// Доступность перепроверяется по базе внутри транзакции; пересечение с конкурентной
// записью отсекает ограничение хранилища, проигравший получает model.ConflictError.
func (s *BookingService) RequestBooking(ctx context.Context, req BookingRequest) (booking *model.Booking, err error) {
	defer func() { metrics.IncAdmission(admissionOutcome(err)) }()

	status := req.Status
	if status == "" {
		status = model.BookingStatusConfirmed
	}
	if !status.Active() {
		return nil, fmt.Errorf("%w: booking cannot start as %q", model.ErrInvalidTransition, status)
	}
	if req.End.IsZero() && req.DurationMinutes > 0 {
		req.End = req.Start.Add(time.Duration(req.DurationMinutes) * time.Minute)
	}
	if !req.End.IsZero() && !req.Start.Before(req.End) {
		return nil, &model.InvalidRangeError{From: req.Start, To: req.End}
	}

	var coach *model.Coach
	err = s.repos.Tx.InTx(ctx, func(ctx context.Context) error {
		var err error
		coach, err = s.availability.getCoach(ctx, req.CoachID)
		if err != nil {
			return err
		}

		client, err := s.repos.Clients.GetByID(ctx, req.ClientID)
		if err != nil {
			return fmt.Errorf("get client: %w", err)
		}
		if client == nil {
			return &model.NotFoundError{Entity: "client", ID: req.ClientID}
		}

		duration, err := s.availability.serviceDuration(ctx, coach, req.ServiceID)
		if err != nil {
			return err
		}
		if req.End.IsZero() {
			req.End = req.Start.Add(time.Duration(duration) * time.Minute)
		}

		r := calendar.Interval{Start: req.Start.UTC(), End: req.End.UTC()}
		ok, err := s.availability.admissible(ctx, coach, r)
		if err != nil {
			return err
		}
		if !ok {
			return &model.SlotUnavailableError{CoachID: req.CoachID, Start: r.Start, End: r.End}
		}

		booking = &model.Booking{
			CoachID:         req.CoachID,
			ClientID:        req.ClientID,
			ServiceID:       req.ServiceID,
			StartAt:         r.Start,
			EndAt:           r.End,
			Status:          status,
			Notes:           req.Notes,
			CreatedByUserID: req.RequestedBy,
		}
		return s.repos.Bookings.Create(ctx, booking)
	})
	if err != nil {
		s.logger.Info("Booking rejected",
			zap.Int64("coach_id", req.CoachID),
			zap.Int64("client_id", req.ClientID),
			zap.Time("start", req.Start),
			zap.Time("end", req.End),
			zap.Error(err),
		)
		return nil, err
	}

	s.logger.Info("Booking admitted",
		zap.Int64("booking_id", booking.ID),
		zap.Int64("coach_id", booking.CoachID),
		zap.Int64("client_id", booking.ClientID),
		zap.Time("start", booking.StartAt),
		zap.Time("end", booking.EndAt),
		zap.String("status", string(booking.Status)),
	)

	s.afterCommit(ctx, coach, booking, events.BookingCreated, req.RequestedBy, true)
	return booking, nil
}

// afterCommit - побочные эффекты после фиксации: инвалидация индекса, событие, уведомление.
// Ошибки только логируются.
func (s *BookingService) afterCommit(
	ctx context.Context,
	coach *model.Coach,
	booking *model.Booking,
	eventType string,
	actor *int64,
	occupancyChanged bool,
) {
	if occupancyChanged {
		s.sync.touch(ctx, booking.CoachID, &calendar.Interval{Start: booking.StartAt, End: booking.EndAt})
	}

	if s.publisher != nil {
		if err := s.publisher.Publish(ctx, events.NewBookingEvent(eventType, booking, actor)); err != nil {
			s.logger.Warn("Failed to publish booking event",
				zap.Int64("booking_id", booking.ID),
				zap.String("type", eventType),
				zap.Error(err),
			)
		}
	}

	if s.notifier != nil && coach != nil {
		if err := s.notifier.NotifyBooking(ctx, coach, booking); err != nil {
			s.logger.Warn("Failed to notify coach",
				zap.Int64("booking_id", booking.ID),
				zap.Error(err),
			)
		}
	}
}

// Confirm переводит предварительную запись в подтверждённую
func (s *BookingService) Confirm(ctx context.Context, bookingID int64, actor *int64) (*model.Booking, error) {
	return s.transition(ctx, bookingID, model.BookingStatusConfirmed, actor, nil)
}

// Complete отмечает занятие состоявшимся
func (s *BookingService) Complete(ctx context.Context, bookingID int64, actor *int64) (*model.Booking, error) {
	return s.transition(ctx, bookingID, model.BookingStatusCompleted, actor, nil)
}

// MarkNoShow отмечает, что клиент не пришёл
func (s *BookingService) MarkNoShow(ctx context.Context, bookingID int64, actor *int64) (*model.Booking, error) {
	return s.transition(ctx, bookingID, model.BookingStatusNoShow, actor, nil)
}

// Cancel отменяет запись. Повторная отмена уже отменённой записи ничего не меняет.
func (s *BookingService) Cancel(ctx context.Context, bookingID int64, actor *int64, reason *string) (*model.Booking, error) {
	return s.transition(ctx, bookingID, model.BookingStatusCancelled, actor, reason)
}

func (s *BookingService) transition(
	ctx context.Context,
	bookingID int64,
	to model.BookingStatus,
	actor *int64,
	reason *string,
) (booking *model.Booking, err error) {
	outcome := "ok"
	defer func() {
		if err != nil {
			outcome = admissionOutcome(err)
		}
		metrics.IncTransition(string(to), outcome)
	}()

	var (
		from    model.BookingStatus
		changed bool
	)
	err = s.repos.Tx.InTx(ctx, func(ctx context.Context) error {
		current, err := s.repos.Bookings.GetForUpdate(ctx, bookingID)
		if err != nil {
			return fmt.Errorf("get booking: %w", err)
		}
		if current == nil {
			return &model.NotFoundError{Entity: "booking", ID: bookingID}
		}

		from = current.Status
		if from == to && to == model.BookingStatusCancelled {
			booking = current
			return nil
		}
		if !from.CanTransitionTo(to) {
			return fmt.Errorf("%w: %s -> %s", model.ErrInvalidTransition, from, to)
		}

		var cancel *model.Cancellation
		if to == model.BookingStatusCancelled {
			cancel = &model.Cancellation{ByUserID: actor, At: s.now().UTC(), Reason: reason}
		}

		ok, err := s.repos.Bookings.UpdateStatus(ctx, bookingID, from, to, cancel)
		if err != nil {
			return err
		}
		if !ok {
			return &model.ConflictError{CoachID: current.CoachID, Start: current.StartAt, End: current.EndAt, Err: ErrStatusChanged}
		}

		booking, err = s.repos.Bookings.GetByID(ctx, bookingID)
		if err != nil {
			return fmt.Errorf("reload booking: %w", err)
		}
		changed = true
		return nil
	})
	if err != nil {
		s.logger.Info("Booking transition rejected",
			zap.Int64("booking_id", bookingID),
			zap.String("to", string(to)),
			zap.Error(err),
		)
		return nil, err
	}
	if !changed {
		outcome = "noop"
		return booking, nil
	}

	s.logger.Info("Booking status changed",
		zap.Int64("booking_id", booking.ID),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
	)

	coach, err := s.repos.Coaches.GetByID(ctx, booking.CoachID)
	if err != nil {
		s.logger.Warn("Failed to load coach for notification", zap.Int64("coach_id", booking.CoachID), zap.Error(err))
	}
	s.afterCommit(ctx, coach, booking, events.TypeForStatus(to), actor, from.Active() != to.Active())
	return booking, nil
}

// GetBooking возвращает запись по ID
func (s *BookingService) GetBooking(ctx context.Context, bookingID int64) (*model.Booking, error) {
	booking, err := s.repos.Bookings.GetByID(ctx, bookingID)
	if err != nil {
		return nil, fmt.Errorf("get booking: %w", err)
	}
	if booking == nil {
		return nil, &model.NotFoundError{Entity: "booking", ID: bookingID}
	}
	return booking, nil
}

// ListCoachBookings возвращает записи коуча, пересекающие [from, to)
func (s *BookingService) ListCoachBookings(ctx context.Context, coachID int64, from, to time.Time, includeCancelled bool) ([]*model.Booking, error) {
	r, err := checkRange(from, to)
	if err != nil {
		return nil, err
	}
	if _, err := s.availability.getCoach(ctx, coachID); err != nil {
		return nil, err
	}
	bookings, err := s.repos.Bookings.ListByCoach(ctx, coachID, r.Start, r.End, includeCancelled)
	if err != nil {
		return nil, fmt.Errorf("list coach bookings: %w", err)
	}
	return bookings, nil
}

// ListClientBookings возвращает записи клиента, пересекающие [from, to)
func (s *BookingService) ListClientBookings(ctx context.Context, clientID int64, from, to time.Time, includeCancelled bool) ([]*model.Booking, error) {
	r, err := checkRange(from, to)
	if err != nil {
		return nil, err
	}
	client, err := s.repos.Clients.GetByID(ctx, clientID)
	if err != nil {
		return nil, fmt.Errorf("get client: %w", err)
	}
	if client == nil {
		return nil, &model.NotFoundError{Entity: "client", ID: clientID}
	}
	bookings, err := s.repos.Bookings.ListByClient(ctx, clientID, r.Start, r.End, includeCancelled)
	if err != nil {
		return nil, fmt.Errorf("list client bookings: %w", err)
	}
	return bookings, nil
}
