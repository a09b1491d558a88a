package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Freeeeeet/coach_agenda/internal/conflict"
	"github.com/Freeeeeet/coach_agenda/internal/model"
	"github.com/Freeeeeet/coach_agenda/internal/repository/memory"
	"github.com/Freeeeeet/coach_agenda/internal/service"
)

type testAPI struct {
	e      *echo.Echo
	store  *memory.Store
	coach  *model.Coach
	client *model.Client
}

func newTestAPI(t *testing.T, limiter echo.MiddlewareFunc) *testAPI {
	t.Helper()

	store := memory.NewStore()
	coach := store.AddCoach(model.Coach{FullName: "Анна", Timezone: "Europe/Madrid", DefaultLessonMinutes: 60})
	client := store.AddClient(model.Client{FullName: "Иван"})
	repos := service.Repositories{
		Tx:         store,
		Coaches:    store.Coaches(),
		Clients:    store.Clients(),
		Services:   store.Services(),
		Rules:      store.Rules(),
		Exceptions: store.Exceptions(),
		Bookings:   store.BookingRepo(),
	}

	logger := zap.NewNop()
	loc, err := time.LoadLocation("Europe/Madrid")
	require.NoError(t, err)
	index := conflict.New(28 * 24 * time.Hour)
	availability := service.NewAvailabilityService(repos, index, loc, logger)
	bookings := service.NewBookingService(repos, availability, nil, nil, nil, logger)
	schedule := service.NewScheduleService(repos, availability, nil, logger)

	h := NewHandler(availability, bookings, schedule, logger)
	return &testAPI{e: NewServer(h, limiter, logger), store: store, coach: coach, client: client}
}

func (a *testAPI) do(t *testing.T, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	a.e.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func (a *testAPI) mondayRule(t *testing.T) {
	t.Helper()
	rec := a.do(t, http.MethodPost, "/coaches/1/rules",
		`{"replace_all":true,"rules":[{"weekday":1,"start_time":"09:00","end_time":"12:00","slot_minutes":60}]}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

const (
	mondayFrom = "2024-06-03T00:00:00%2B02:00"
	mondayTo   = "2024-06-04T00:00:00%2B02:00"
)

func TestHealthz(t *testing.T) {
	a := newTestAPI(t, nil)
	rec := a.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestAvailabilityEndpoint(t *testing.T) {
	a := newTestAPI(t, nil)
	a.mondayRule(t)

	rec := a.do(t, http.MethodGet, "/coaches/1/availability?from="+mondayFrom+"&to="+mondayTo, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decode[struct {
		Slots []model.Slot `json:"slots"`
	}](t, rec)
	require.Len(t, resp.Slots, 3)
	assert.Equal(t, time.Date(2024, 6, 3, 7, 0, 0, 0, time.UTC), resp.Slots[0].StartAt.UTC())
}

func TestAvailabilityBadInput(t *testing.T) {
	a := newTestAPI(t, nil)

	rec := a.do(t, http.MethodGet, "/coaches/1/availability?from=yesterday&to="+mondayTo, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = a.do(t, http.MethodGet, "/coaches/1/availability?from="+mondayTo+"&to="+mondayFrom, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = a.do(t, http.MethodGet, "/coaches/77/availability?from="+mondayFrom+"&to="+mondayTo, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = a.do(t, http.MethodGet, "/coaches/abc/availability", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBookingFlow(t *testing.T) {
	a := newTestAPI(t, nil)
	a.mondayRule(t)

	rec := a.do(t, http.MethodPost, "/bookings",
		`{"coach_id":1,"client_id":2,"start_at":"2024-06-03T09:00:00+02:00","status":"tentative"}`,
		ActorHeader, "5")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	booking := decode[model.Booking](t, rec)
	assert.Equal(t, model.BookingStatusTentative, booking.Status)
	require.NotNil(t, booking.CreatedByUserID)
	assert.Equal(t, int64(5), *booking.CreatedByUserID)

	rec = a.do(t, http.MethodPost, "/bookings",
		`{"coach_id":1,"client_id":2,"start_at":"2024-06-03T09:30:00+02:00","end_at":"2024-06-03T10:30:00+02:00"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	path := "/bookings/" + jsonID(booking.ID)
	rec = a.do(t, http.MethodPost, path+"/complete", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = a.do(t, http.MethodPost, path+"/confirm", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, model.BookingStatusConfirmed, decode[model.Booking](t, rec).Status)

	rec = a.do(t, http.MethodPost, path+"/cancel", `{"reason":"перенос"}`, ActorHeader, "5")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	cancelled := decode[model.Booking](t, rec)
	assert.Equal(t, model.BookingStatusCancelled, cancelled.Status)
	require.NotNil(t, cancelled.CancelReason)
	assert.Equal(t, "перенос", *cancelled.CancelReason)

	rec = a.do(t, http.MethodPost, path+"/cancel", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = a.do(t, http.MethodGet, "/coaches/1/bookings?from="+mondayFrom+"&to="+mondayTo+"&include_cancelled=true", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]model.Booking](t, rec), 1)

	rec = a.do(t, http.MethodGet, "/clients/2/bookings?from="+mondayFrom+"&to="+mondayTo, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[[]model.Booking](t, rec))

	rec = a.do(t, http.MethodGet, "/bookings/999", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRequestBookingValidation(t *testing.T) {
	a := newTestAPI(t, nil)

	rec := a.do(t, http.MethodPost, "/bookings", `{"coach_id":1}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = a.do(t, http.MethodPost, "/bookings", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRulesAndExceptionsEndpoints(t *testing.T) {
	a := newTestAPI(t, nil)

	rec := a.do(t, http.MethodPost, "/coaches/1/rules",
		`{"rules":[{"weekday":9,"start_time":"09:00","end_time":"12:00","slot_minutes":60}]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = a.do(t, http.MethodPost, "/coaches/1/rules",
		`{"rules":[{"weekday":1,"start_time":"9am","end_time":"12:00","slot_minutes":60}]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = a.do(t, http.MethodPost, "/coaches/1/rules",
		`{"replace_all":true,"rules":[{"weekday":1,"start_time":"09:00","end_time":"12:00","slot_minutes":60,"valid_from":"2024-06-01"}]}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	rules := decode[[]model.AvailabilityRule](t, rec)
	require.Len(t, rules, 1)

	rec = a.do(t, http.MethodPost, "/coaches/1/exceptions",
		`{"type":"blocked","start_at":"2024-06-03T10:00:00+02:00","end_at":"2024-06-03T11:00:00+02:00"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = a.do(t, http.MethodPost, "/coaches/1/exceptions",
		`{"type":"vacation","start_at":"2024-06-03T10:00:00+02:00","end_at":"2024-06-03T11:00:00+02:00"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = a.do(t, http.MethodGet, "/coaches/1/timeline?from="+mondayFrom+"&to="+mondayTo, "")
	require.Equal(t, http.StatusOK, rec.Code)
	timeline := decode[struct {
		Slots []model.Slot `json:"slots"`
	}](t, rec)
	require.Len(t, timeline.Slots, 3)
	assert.Equal(t, model.SlotStatusBlocked, timeline.Slots[1].Status)

	rec = a.do(t, http.MethodGet, "/coaches/1/exceptions?from="+mondayFrom+"&to="+mondayTo, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]model.AvailabilityException](t, rec), 1)

	rec = a.do(t, http.MethodDelete, "/coaches/1/rules/"+rules[0].GroupID.String(), "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), decode[map[string]any](t, rec)["removed"])
}

func TestSlotsEndpoints(t *testing.T) {
	a := newTestAPI(t, nil)
	a.mondayRule(t)
	svc := a.store.AddService(model.Service{Name: "Короткая", DurationMinutes: 30, IsActive: true})

	rec := a.do(t, http.MethodGet, "/coaches/1/slots?day=2024-06-03&service_id="+jsonID(svc.ID), "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	day := decode[service.DaySlots](t, rec)
	assert.Equal(t, 30, day.DurationMinutes)
	assert.Len(t, day.Slots, 3)

	rec = a.do(t, http.MethodGet, "/coaches/1/slots?day=03.06.2024", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	q := url.Values{}
	q.Set("date", "2024-06-03")
	q.Set("include_past_days", "true")
	q.Set("max_slots_per_day", "2")
	rec = a.do(t, http.MethodGet, "/coaches/1/slots/week?"+q.Encode(), "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	week := decode[service.WeekSlots](t, rec)
	assert.Equal(t, "2024-06-03", week.WeekStart)
	assert.Equal(t, 2, week.TotalSlots)
	assert.True(t, week.Truncated)

	q.Del("max_slots_per_day")
	q.Set("only_non_empty_days", "false")
	rec = a.do(t, http.MethodGet, "/coaches/1/slots/week?"+q.Encode(), "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	week = decode[service.WeekSlots](t, rec)
	assert.Len(t, week.Days, 7)
	assert.Equal(t, 3, week.TotalSlots)
	assert.False(t, week.Truncated)

	q.Set("max_total_slots", "1")
	rec = a.do(t, http.MethodGet, "/coaches/1/slots/week?"+q.Encode(), "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	week = decode[service.WeekSlots](t, rec)
	assert.Equal(t, 1, week.TotalSlots)
	assert.Equal(t, 1, week.MaxTotalSlots)
	assert.True(t, week.Truncated)
}

func TestListCoachesAndServices(t *testing.T) {
	a := newTestAPI(t, nil)
	a.store.AddService(model.Service{Name: "Сессия", DurationMinutes: 60, IsActive: true})

	rec := a.do(t, http.MethodGet, "/coaches", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]model.Coach](t, rec), 1)

	rec = a.do(t, http.MethodGet, "/services", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]model.Service](t, rec), 1)
}

func TestRateLimiter(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	limiter := NewRateLimiter(RateLimitConfig{Enabled: true, Limit: 2, Window: time.Hour}, rdb, zap.NewNop())
	a := newTestAPI(t, limiter)

	for i := 0; i < 2; i++ {
		rec := a.do(t, http.MethodGet, "/bookings/999", "", ActorHeader, "3")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	}
	rec := a.do(t, http.MethodGet, "/bookings/999", "", ActorHeader, "3")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	// смена X-User-ID или подделка X-Forwarded-For лимит не сбрасывают
	rec = a.do(t, http.MethodGet, "/bookings/999", "", ActorHeader, "4")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	rec = a.do(t, http.MethodGet, "/bookings/999", "", echo.HeaderXForwardedFor, "10.9.9.9")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	// другой адрес считается отдельно
	req := httptest.NewRequest(http.MethodGet, "/bookings/999", nil)
	req.RemoteAddr = "198.51.100.7:4000"
	other := httptest.NewRecorder()
	a.e.ServeHTTP(other, req)
	assert.Equal(t, http.StatusNotFound, other.Code)

	// остальные маршруты не ограничены
	rec = a.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimiterFailsOpen(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1, DialTimeout: 100 * time.Millisecond})
	t.Cleanup(func() { _ = rdb.Close() })

	limiter := NewRateLimiter(RateLimitConfig{Enabled: true, Limit: 1, Window: time.Minute}, rdb, zap.NewNop())
	a := newTestAPI(t, limiter)

	for i := 0; i < 3; i++ {
		rec := a.do(t, http.MethodGet, "/bookings/999", "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{&model.InvalidRangeError{}, http.StatusBadRequest},
		{model.ErrInvalidRule, http.StatusBadRequest},
		{&model.NotFoundError{Entity: "coach", ID: 1}, http.StatusNotFound},
		{&model.SlotUnavailableError{}, http.StatusUnprocessableEntity},
		{&model.ConflictError{}, http.StatusConflict},
		{model.ErrInvalidTransition, http.StatusConflict},
		{assert.AnError, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}

func jsonID(id int64) string {
	b, _ := json.Marshal(id)
	return string(b)
}
