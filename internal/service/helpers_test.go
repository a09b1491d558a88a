package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Freeeeeet/coach_agenda/internal/calendar"
	"github.com/Freeeeeet/coach_agenda/internal/conflict"
	"github.com/Freeeeeet/coach_agenda/internal/events"
	"github.com/Freeeeeet/coach_agenda/internal/model"
	"github.com/Freeeeeet/coach_agenda/internal/repository/memory"
)

var madrid = mustLocation("Europe/Madrid")

func mustLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic(err)
	}
	return loc
}

// monday - понедельник 3 июня 2024 в Мадриде (UTC+2)
func monday(h, m int) time.Time {
	return time.Date(2024, 6, 3, h, m, 0, 0, madrid)
}

// nextMonday - ближайший будущий понедельник, попадающий в окно индекса
func nextMonday(h, m int) time.Time {
	now := time.Now().In(madrid)
	y, mo, d := now.Date()
	today := time.Date(y, mo, d, 0, 0, 0, 0, madrid)
	next := today.AddDate(0, 0, 8-model.ISOWeekday(today))
	return time.Date(next.Year(), next.Month(), next.Day(), h, m, 0, 0, madrid)
}

func utcSlot(start, end time.Time) model.Slot {
	return model.Slot{StartAt: start.UTC(), EndAt: end.UTC(), Status: model.SlotStatusFree}
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.BookingEvent
}

func (p *recordingPublisher) Publish(_ context.Context, event events.BookingEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

type recordingBus struct {
	mu    sync.Mutex
	calls []*calendar.Interval
}

func (b *recordingBus) PublishInvalidation(_ context.Context, _ int64, r *calendar.Interval) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, r)
	return nil
}

func (b *recordingBus) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.calls)
}

type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) NotifyBooking(ctx context.Context, coach *model.Coach, booking *model.Booking) error {
	args := m.Called(ctx, coach, booking)
	return args.Error(0)
}

type fixture struct {
	store        *memory.Store
	index        *conflict.Index
	bus          *recordingBus
	publisher    *recordingPublisher
	notifier     *mockNotifier
	availability *AvailabilityService
	bookings     *BookingService
	schedule     *ScheduleService
	coach        *model.Coach
	client       *model.Client
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store := memory.NewStore()
	coach := store.AddCoach(model.Coach{FullName: "Анна Коуч", Timezone: "Europe/Madrid", DefaultLessonMinutes: 60})
	client := store.AddClient(model.Client{FullName: "Иван"})

	repos := Repositories{
		Tx:         store,
		Coaches:    store.Coaches(),
		Clients:    store.Clients(),
		Services:   store.Services(),
		Rules:      store.Rules(),
		Exceptions: store.Exceptions(),
		Bookings:   store.BookingRepo(),
	}

	logger := zap.NewNop()
	index := conflict.New(28 * 24 * time.Hour)
	bus := &recordingBus{}
	publisher := &recordingPublisher{}
	notifier := &mockNotifier{}
	notifier.On("NotifyBooking", mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()

	availability := NewAvailabilityService(repos, index, madrid, logger)
	return &fixture{
		store:        store,
		index:        index,
		bus:          bus,
		publisher:    publisher,
		notifier:     notifier,
		availability: availability,
		bookings:     NewBookingService(repos, availability, bus, publisher, notifier, logger),
		schedule:     NewScheduleService(repos, availability, bus, logger),
		coach:        coach,
		client:       client,
	}
}

// mondayRule - правило пн 09:00-12:00 с шагом 60 минут
func (f *fixture) mondayRule(t *testing.T) {
	t.Helper()
	_, err := f.schedule.SetRules(context.Background(), f.coach.ID, []RuleInput{
		{Weekday: 1, StartTime: model.Clock(9, 0), EndTime: model.Clock(12, 0), SlotMinutes: 60},
	}, true)
	require.NoError(t, err)
}

func (f *fixture) block(t *testing.T, start, end time.Time) {
	t.Helper()
	_, err := f.schedule.AddException(context.Background(), f.coach.ID, ExceptionInput{
		Type: model.ExceptionBlocked, StartAt: start, EndAt: end,
	})
	require.NoError(t, err)
}

func (f *fixture) book(t *testing.T, start, end time.Time) *model.Booking {
	t.Helper()
	b, err := f.bookings.RequestBooking(context.Background(), BookingRequest{
		CoachID:  f.coach.ID,
		ClientID: f.client.ID,
		Start:    start,
		End:      end,
	})
	require.NoError(t, err)
	return b
}

func int64Ptr(v int64) *int64 { return &v }

func strPtr(s string) *string { return &s }
