package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Freeeeeet/coach_agenda/internal/calendar"
	"github.com/Freeeeeet/coach_agenda/internal/model"
)

// ScheduleService управляет недельными правилами и исключениями коуча
type ScheduleService struct {
	repos  Repositories
	sync   *indexSync
	logger *zap.Logger
}

func NewScheduleService(repos Repositories, availability *AvailabilityService, bus InvalidationPublisher, logger *zap.Logger) *ScheduleService {
	return &ScheduleService{
		repos:  repos,
		sync:   &indexSync{index: availability.index, bus: bus, logger: logger},
		logger: logger,
	}
}

// RuleInput - одно недельное окно. Даты ValidFrom/ValidTo включительные.
type RuleInput struct {
	Weekday     int
	StartTime   model.ClockTime
	EndTime     model.ClockTime
	SlotMinutes int
	ValidFrom   *time.Time
	ValidTo     *time.Time
}

// SetRules записывает пачку правил одной группой.
// replaceAll=true сначала удаляет все прежние правила коуча.
func (s *ScheduleService) SetRules(ctx context.Context, coachID int64, inputs []RuleInput, replaceAll bool) ([]*model.AvailabilityRule, error) {
	groupID := uuid.New()
	rules := make([]*model.AvailabilityRule, 0, len(inputs))
	for i, in := range inputs {
		rule := &model.AvailabilityRule{
			GroupID:     groupID,
			CoachID:     coachID,
			Weekday:     in.Weekday,
			StartTime:   in.StartTime,
			EndTime:     in.EndTime,
			SlotMinutes: in.SlotMinutes,
			ValidFrom:   in.ValidFrom,
			ValidTo:     in.ValidTo,
		}
		if err := rule.Validate(); err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}
		rules = append(rules, rule)
	}

	var removed int64
	err := s.repos.Tx.InTx(ctx, func(ctx context.Context) error {
		coach, err := s.repos.Coaches.GetByID(ctx, coachID)
		if err != nil {
			return fmt.Errorf("get coach: %w", err)
		}
		if coach == nil {
			return &model.NotFoundError{Entity: "coach", ID: coachID}
		}

		if replaceAll {
			removed, err = s.repos.Rules.DeleteByCoach(ctx, coachID)
			if err != nil {
				return fmt.Errorf("delete rules: %w", err)
			}
		}
		for _, rule := range rules {
			if err := s.repos.Rules.Create(ctx, rule); err != nil {
				return fmt.Errorf("create rule: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Availability rules saved",
		zap.Int64("coach_id", coachID),
		zap.String("group_id", groupID.String()),
		zap.Int("created", len(rules)),
		zap.Int64("removed", removed),
	)

	s.sync.touch(ctx, coachID, nil)
	return rules, nil
}

// DeleteRuleGroup удаляет правила, записанные одним вызовом SetRules
func (s *ScheduleService) DeleteRuleGroup(ctx context.Context, coachID int64, groupID uuid.UUID) (int64, error) {
	removed, err := s.repos.Rules.DeleteGroup(ctx, coachID, groupID)
	if err != nil {
		return 0, fmt.Errorf("delete rule group: %w", err)
	}
	if removed > 0 {
		s.logger.Info("Availability rule group deleted",
			zap.Int64("coach_id", coachID),
			zap.String("group_id", groupID.String()),
			zap.Int64("removed", removed),
		)
		s.sync.touch(ctx, coachID, nil)
	}
	return removed, nil
}

// ListRules возвращает правила коуча
func (s *ScheduleService) ListRules(ctx context.Context, coachID int64) ([]*model.AvailabilityRule, error) {
	if err := s.ensureCoach(ctx, coachID); err != nil {
		return nil, err
	}
	rules, err := s.repos.Rules.ListByCoach(ctx, coachID)
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	return rules, nil
}

type ExceptionInput struct {
	Type    model.ExceptionType
	StartAt time.Time
	EndAt   time.Time
	Reason  *string
}

// AddException добавляет разовое окно (extra) или блокировку (blocked)
func (s *ScheduleService) AddException(ctx context.Context, coachID int64, in ExceptionInput) (*model.AvailabilityException, error) {
	e := &model.AvailabilityException{
		CoachID: coachID,
		Type:    in.Type,
		StartAt: in.StartAt.UTC(),
		EndAt:   in.EndAt.UTC(),
		Reason:  in.Reason,
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	if err := s.ensureCoach(ctx, coachID); err != nil {
		return nil, err
	}
	if err := s.repos.Exceptions.Create(ctx, e); err != nil {
		return nil, fmt.Errorf("create exception: %w", err)
	}

	s.logger.Info("Availability exception added",
		zap.Int64("coach_id", coachID),
		zap.Int64("exception_id", e.ID),
		zap.String("type", string(e.Type)),
		zap.Time("start", e.StartAt),
		zap.Time("end", e.EndAt),
	)

	s.sync.touch(ctx, coachID, &calendar.Interval{Start: e.StartAt, End: e.EndAt})
	return e, nil
}

// ListExceptions возвращает исключения коуча, пересекающие [from, to)
func (s *ScheduleService) ListExceptions(ctx context.Context, coachID int64, from, to time.Time) ([]*model.AvailabilityException, error) {
	r, err := checkRange(from, to)
	if err != nil {
		return nil, err
	}
	if err := s.ensureCoach(ctx, coachID); err != nil {
		return nil, err
	}
	exceptions, err := s.repos.Exceptions.ListInRange(ctx, coachID, r.Start, r.End)
	if err != nil {
		return nil, fmt.Errorf("list exceptions: %w", err)
	}
	return exceptions, nil
}

// ListCoaches возвращает всех коучей
func (s *ScheduleService) ListCoaches(ctx context.Context) ([]*model.Coach, error) {
	coaches, err := s.repos.Coaches.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list coaches: %w", err)
	}
	return coaches, nil
}

// CoachByTelegram находит коуча по Telegram ID пользователя
func (s *ScheduleService) CoachByTelegram(ctx context.Context, telegramUserID int64) (*model.Coach, error) {
	coach, err := s.repos.Coaches.GetByTelegramUserID(ctx, telegramUserID)
	if err != nil {
		return nil, fmt.Errorf("get coach by telegram id: %w", err)
	}
	if coach == nil {
		return nil, &model.NotFoundError{Entity: "coach", ID: telegramUserID}
	}
	return coach, nil
}

// ListServices возвращает активные услуги
func (s *ScheduleService) ListServices(ctx context.Context) ([]*model.Service, error) {
	services, err := s.repos.Services.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("list services: %w", err)
	}
	return services, nil
}

func (s *ScheduleService) ensureCoach(ctx context.Context, coachID int64) error {
	coach, err := s.repos.Coaches.GetByID(ctx, coachID)
	if err != nil {
		return fmt.Errorf("get coach: %w", err)
	}
	if coach == nil {
		return &model.NotFoundError{Entity: "coach", ID: coachID}
	}
	return nil
}
