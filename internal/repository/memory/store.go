// Package memory - хранилище в памяти с теми же гарантиями, что и Postgres-схема:
// транзакции с откатом и исключающее ограничение на активные записи коуча.
// Используется в тестах сервисов и HTTP API.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Freeeeeet/coach_agenda/internal/model"
)

// ErrExclusionViolation имитирует нарушение bookings_no_overlap
var ErrExclusionViolation = errors.New("exclusion constraint bookings_no_overlap violated")

type txKey struct{}

type tx struct {
	undo []func()
	done []func()
}

type bookingRow struct {
	booking model.Booking
	owner   *tx // nil - закоммичено
	// staged - незакоммиченное обновление транзакции stager; остальные видят booking
	staged *model.Booking
	stager *tx
}

// version - строка глазами транзакции current
func (row *bookingRow) version(current *tx) model.Booking {
	if row.staged != nil && row.stager == current {
		return *row.staged
	}
	return row.booking
}

type ruleRow struct {
	rule      model.AvailabilityRule
	owner     *tx
	deletedBy *tx // удаление ещё не закоммичено
}

// visibleTo - правило существует для транзакции current
func (row *ruleRow) visibleTo(current *tx) bool {
	if !visible(row.owner, current) {
		return false
	}
	return row.deletedBy == nil || row.deletedBy != current
}

type exceptionRow struct {
	exception model.AvailabilityException
	owner     *tx
}

type Store struct {
	mu sync.Mutex

	nextID     int64
	coaches    map[int64]model.Coach
	clients    map[int64]model.Client
	services   map[int64]model.Service
	rules      map[int64]*ruleRow
	exceptions map[int64]*exceptionRow
	bookings   map[int64]*bookingRow

	// AfterBookingRead вызывается после чтения активных записей коуча (вне блокировки)
	AfterBookingRead func()
	// BeforeCommit вызывается перед фиксацией транзакции; ошибка откатывает её
	BeforeCommit func(ctx context.Context) error
	// Now - часы хранилища для created_at/updated_at
	Now func() time.Time
}

func NewStore() *Store {
	return &Store{
		coaches:    make(map[int64]model.Coach),
		clients:    make(map[int64]model.Client),
		services:   make(map[int64]model.Service),
		rules:      make(map[int64]*ruleRow),
		exceptions: make(map[int64]*exceptionRow),
		bookings:   make(map[int64]*bookingRow),
		Now:        time.Now,
	}
}

func (s *Store) id() int64 {
	s.nextID++
	return s.nextID
}

func currentTx(ctx context.Context) *tx {
	t, _ := ctx.Value(txKey{}).(*tx)
	return t
}

// visible - строка закоммичена или принадлежит текущей транзакции
func visible(owner, current *tx) bool {
	return owner == nil || owner == current
}

// track регистрирует откат и фиксацию изменения в транзакции из ctx.
// Без транзакции изменение сразу считается закоммиченным.
func (s *Store) track(ctx context.Context, undo, done func()) {
	t := currentTx(ctx)
	if t == nil {
		if done != nil {
			done()
		}
		return
	}
	if undo != nil {
		t.undo = append(t.undo, undo)
	}
	if done != nil {
		t.done = append(t.done, done)
	}
}

// InTx выполняет fn в транзакции. Вложенные вызовы переиспользуют внешнюю транзакцию.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if currentTx(ctx) != nil {
		return fn(ctx)
	}

	t := &tx{}
	err := fn(context.WithValue(ctx, txKey{}, t))
	if err == nil {
		err = ctx.Err()
	}
	if err == nil && s.BeforeCommit != nil {
		err = s.BeforeCommit(ctx)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err != nil {
		for i := len(t.undo) - 1; i >= 0; i-- {
			t.undo[i]()
		}
		return err
	}
	for _, done := range t.done {
		done()
	}
	return nil
}

// AddCoach регистрирует коуча
func (s *Store) AddCoach(c model.Coach) *model.Coach {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c.ID == 0 {
		c.ID = s.id()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = s.Now()
	}
	s.coaches[c.ID] = c
	return &c
}

// AddClient регистрирует клиента
func (s *Store) AddClient(c model.Client) *model.Client {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c.ID == 0 {
		c.ID = s.id()
	}
	s.clients[c.ID] = c
	return &c
}

// AddService регистрирует услугу
func (s *Store) AddService(svc model.Service) *model.Service {
	s.mu.Lock()
	defer s.mu.Unlock()

	if svc.ID == 0 {
		svc.ID = s.id()
	}
	s.services[svc.ID] = svc
	return &svc
}

// Bookings возвращает все закоммиченные записи в порядке создания
func (s *Store) Bookings() []*model.Booking {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*model.Booking
	for _, row := range s.bookings {
		if row.owner == nil {
			b := row.booking
			out = append(out, &b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

type Coaches struct{ s *Store }
type Clients struct{ s *Store }
type Services struct{ s *Store }
type Rules struct{ s *Store }
type Exceptions struct{ s *Store }
type Bookings struct{ s *Store }

func (s *Store) Coaches() *Coaches       { return &Coaches{s} }
func (s *Store) Clients() *Clients       { return &Clients{s} }
func (s *Store) Services() *Services     { return &Services{s} }
func (s *Store) Rules() *Rules           { return &Rules{s} }
func (s *Store) Exceptions() *Exceptions { return &Exceptions{s} }
func (s *Store) BookingRepo() *Bookings  { return &Bookings{s} }

func (r *Coaches) GetByID(_ context.Context, id int64) (*model.Coach, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	c, ok := r.s.coaches[id]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (r *Coaches) GetByTelegramUserID(_ context.Context, telegramUserID int64) (*model.Coach, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, c := range r.s.coaches {
		if c.TelegramUserID != nil && *c.TelegramUserID == telegramUserID {
			c := c
			return &c, nil
		}
	}
	return nil, nil
}

func (r *Coaches) List(_ context.Context) ([]*model.Coach, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []*model.Coach
	for _, c := range r.s.coaches {
		c := c
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *Clients) GetByID(_ context.Context, id int64) (*model.Client, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	c, ok := r.s.clients[id]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (r *Services) GetByID(_ context.Context, id int64) (*model.Service, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	svc, ok := r.s.services[id]
	if !ok {
		return nil, nil
	}
	return &svc, nil
}

func (r *Services) ListActive(_ context.Context) ([]*model.Service, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []*model.Service
	for _, svc := range r.s.services {
		if svc.IsActive {
			svc := svc
			out = append(out, &svc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r *Rules) ListByCoach(ctx context.Context, coachID int64) ([]*model.AvailabilityRule, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	current := currentTx(ctx)
	var out []*model.AvailabilityRule
	for _, row := range r.s.rules {
		if row.rule.CoachID == coachID && row.visibleTo(current) {
			rule := row.rule
			out = append(out, &rule)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Weekday != out[j].Weekday {
			return out[i].Weekday < out[j].Weekday
		}
		if out[i].StartTime != out[j].StartTime {
			return out[i].StartTime < out[j].StartTime
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (r *Rules) Create(ctx context.Context, rule *model.AvailabilityRule) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.coaches[rule.CoachID]; !ok {
		return fmt.Errorf("create availability rule: coach %d: foreign key violation", rule.CoachID)
	}

	rule.ID = r.s.id()
	rule.CreatedAt = r.s.Now()
	rule.UpdatedAt = rule.CreatedAt
	row := &ruleRow{rule: *rule, owner: currentTx(ctx)}
	r.s.rules[rule.ID] = row
	r.s.track(ctx, func() { delete(r.s.rules, rule.ID) }, func() { row.owner = nil })
	return nil
}

func (r *Rules) delete(ctx context.Context, match func(*model.AvailabilityRule) bool) int64 {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	current := currentTx(ctx)
	var n int64
	for id, row := range r.s.rules {
		if !match(&row.rule) || !row.visibleTo(current) {
			continue
		}
		// строку уже удаляет другая транзакция
		if row.deletedBy != nil {
			continue
		}
		id, row := id, row
		if current == nil {
			delete(r.s.rules, id)
			n++
			continue
		}
		row.deletedBy = current
		r.s.track(ctx, func() { row.deletedBy = nil }, func() { delete(r.s.rules, id) })
		n++
	}
	return n
}

func (r *Rules) DeleteByCoach(ctx context.Context, coachID int64) (int64, error) {
	return r.delete(ctx, func(rule *model.AvailabilityRule) bool { return rule.CoachID == coachID }), nil
}

func (r *Rules) DeleteGroup(ctx context.Context, coachID int64, groupID uuid.UUID) (int64, error) {
	return r.delete(ctx, func(rule *model.AvailabilityRule) bool {
		return rule.CoachID == coachID && rule.GroupID == groupID
	}), nil
}

func (r *Exceptions) Create(ctx context.Context, e *model.AvailabilityException) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.coaches[e.CoachID]; !ok {
		return fmt.Errorf("create availability exception: coach %d: foreign key violation", e.CoachID)
	}

	e.ID = r.s.id()
	e.CreatedAt = r.s.Now()
	row := &exceptionRow{exception: *e, owner: currentTx(ctx)}
	r.s.exceptions[e.ID] = row
	r.s.track(ctx, func() { delete(r.s.exceptions, e.ID) }, func() { row.owner = nil })
	return nil
}

func (r *Exceptions) ListInRange(ctx context.Context, coachID int64, from, to time.Time, types ...model.ExceptionType) ([]*model.AvailabilityException, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	current := currentTx(ctx)
	var out []*model.AvailabilityException
	for _, row := range r.s.exceptions {
		e := row.exception
		if e.CoachID != coachID || !visible(row.owner, current) {
			continue
		}
		if !e.StartAt.Before(to) || !e.EndAt.After(from) {
			continue
		}
		if len(types) > 0 && !containsType(types, e.Type) {
			continue
		}
		out = append(out, &e)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartAt.Equal(out[j].StartAt) {
			return out[i].StartAt.Before(out[j].StartAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func containsType(types []model.ExceptionType, t model.ExceptionType) bool {
	for _, candidate := range types {
		if candidate == t {
			return true
		}
	}
	return false
}

// Create вставляет запись. Пересечение с любой активной записью коуча, в том числе
// ещё не закоммиченной в другой транзакции, даёт model.ConflictError.
func (r *Bookings) Create(ctx context.Context, booking *model.Booking) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.coaches[booking.CoachID]; !ok {
		return fmt.Errorf("create booking: coach %d: foreign key violation", booking.CoachID)
	}
	if _, ok := r.s.clients[booking.ClientID]; !ok {
		return fmt.Errorf("create booking: client %d: foreign key violation", booking.ClientID)
	}
	if !booking.StartAt.Before(booking.EndAt) {
		return fmt.Errorf("create booking: check constraint violated")
	}

	if booking.Status.Active() {
		for _, row := range r.s.bookings {
			if overlapsActive(row, booking) {
				return fmt.Errorf("create booking: %w", &model.ConflictError{
					CoachID: booking.CoachID,
					Start:   booking.StartAt,
					End:     booking.EndAt,
					Err:     ErrExclusionViolation,
				})
			}
		}
	}

	booking.ID = r.s.id()
	booking.CreatedAt = r.s.Now()
	booking.UpdatedAt = booking.CreatedAt
	row := &bookingRow{booking: *booking, owner: currentTx(ctx)}
	r.s.bookings[booking.ID] = row
	r.s.track(ctx, func() { delete(r.s.bookings, booking.ID) }, func() { row.owner = nil })
	return nil
}

// overlapsActive - строка занимает время booking. Учитываются и закоммиченная,
// и незакоммиченная версия: пока отмена не зафиксирована, время занято.
func overlapsActive(row *bookingRow, booking *model.Booking) bool {
	versions := []model.Booking{row.booking}
	if row.staged != nil {
		versions = append(versions, *row.staged)
	}
	for _, other := range versions {
		if other.CoachID != booking.CoachID || !other.Status.Active() {
			continue
		}
		if other.StartAt.Before(booking.EndAt) && booking.StartAt.Before(other.EndAt) {
			return true
		}
	}
	return false
}

func (r *Bookings) get(ctx context.Context, id int64) *model.Booking {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	current := currentTx(ctx)
	row, ok := r.s.bookings[id]
	if !ok || !visible(row.owner, current) {
		return nil
	}
	b := row.version(current)
	return &b
}

func (r *Bookings) GetByID(ctx context.Context, id int64) (*model.Booking, error) {
	return r.get(ctx, id), nil
}

func (r *Bookings) GetForUpdate(ctx context.Context, id int64) (*model.Booking, error) {
	return r.get(ctx, id), nil
}

func (r *Bookings) list(ctx context.Context, match func(*model.Booking) bool, from, to time.Time) []*model.Booking {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	current := currentTx(ctx)
	var out []*model.Booking
	for _, row := range r.s.bookings {
		if !visible(row.owner, current) {
			continue
		}
		b := row.version(current)
		if !match(&b) {
			continue
		}
		if !b.StartAt.Before(to) || !b.EndAt.After(from) {
			continue
		}
		out = append(out, &b)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartAt.Equal(out[j].StartAt) {
			return out[i].StartAt.Before(out[j].StartAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (r *Bookings) ListActiveInRange(ctx context.Context, coachID int64, from, to time.Time) ([]*model.Booking, error) {
	out := r.list(ctx, func(b *model.Booking) bool {
		return b.CoachID == coachID && b.Status.Active()
	}, from, to)
	if r.s.AfterBookingRead != nil {
		r.s.AfterBookingRead()
	}
	return out, nil
}

func (r *Bookings) ListByCoach(ctx context.Context, coachID int64, from, to time.Time, includeCancelled bool) ([]*model.Booking, error) {
	return r.list(ctx, func(b *model.Booking) bool {
		return b.CoachID == coachID && (includeCancelled || b.Status != model.BookingStatusCancelled)
	}, from, to), nil
}

func (r *Bookings) ListByClient(ctx context.Context, clientID int64, from, to time.Time, includeCancelled bool) ([]*model.Booking, error) {
	return r.list(ctx, func(b *model.Booking) bool {
		return b.ClientID == clientID && (includeCancelled || b.Status != model.BookingStatusCancelled)
	}, from, to), nil
}

// UpdateStatus - условное обновление, как WHERE status = from.
// Изменение видно другим транзакциям только после коммита. Строку, которую уже
// меняет другая транзакция, обновить нельзя: возвращается false.
func (r *Bookings) UpdateStatus(ctx context.Context, id int64, from, to model.BookingStatus, cancel *model.Cancellation) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	current := currentTx(ctx)
	row, ok := r.s.bookings[id]
	if !ok || !visible(row.owner, current) {
		return false, nil
	}
	if row.staged != nil && row.stager != current {
		return false, nil
	}

	next := row.version(current)
	if next.Status != from {
		return false, nil
	}
	next.Status = to
	next.UpdatedAt = r.s.Now()
	if cancel != nil {
		if cancel.ByUserID != nil {
			next.CancelledByUserID = cancel.ByUserID
		}
		at := cancel.At.UTC()
		next.CancelledAt = &at
		if cancel.Reason != nil {
			next.CancelReason = cancel.Reason
		}
	}

	if current == nil {
		row.booking = next
		return true, nil
	}

	prevStaged := row.staged
	row.staged = &next
	row.stager = current
	r.s.track(ctx,
		func() {
			row.staged = prevStaged
			if prevStaged == nil {
				row.stager = nil
			}
		},
		func() {
			if row.staged != nil && row.stager == current {
				row.booking = *row.staged
				row.staged = nil
				row.stager = nil
			}
		},
	)
	return true, nil
}
