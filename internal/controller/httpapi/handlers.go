package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/Freeeeeet/coach_agenda/internal/model"
	"github.com/Freeeeeet/coach_agenda/internal/service"
)

// ActorHeader - заголовок с ID пользователя, от имени которого выполняется запрос
const ActorHeader = "X-User-ID"

// Handler - HTTP-обработчики поверх сервисов расписания и записей
type Handler struct {
	availability *service.AvailabilityService
	bookings     *service.BookingService
	schedule     *service.ScheduleService
	logger       *zap.Logger
}

func NewHandler(
	availability *service.AvailabilityService,
	bookings *service.BookingService,
	schedule *service.ScheduleService,
	logger *zap.Logger,
) *Handler {
	return &Handler{
		availability: availability,
		bookings:     bookings,
		schedule:     schedule,
		logger:       logger,
	}
}

func pathID(c echo.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// actor читает ID пользователя из заголовка; пустой или некорректный - nil
func actor(c echo.Context) *int64 {
	raw := c.Request().Header.Get(ActorHeader)
	if raw == "" {
		return nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return nil
	}
	return &id
}

func queryTime(c echo.Context, name string) (time.Time, error) {
	return time.Parse(time.RFC3339, c.QueryParam(name))
}

func queryRange(c echo.Context) (time.Time, time.Time, bool) {
	from, err := queryTime(c, "from")
	if err != nil {
		return time.Time{}, time.Time{}, false
	}
	to, err := queryTime(c, "to")
	if err != nil {
		return time.Time{}, time.Time{}, false
	}
	return from, to, true
}

func queryOptionalID(c echo.Context, name string) (*int64, bool) {
	raw := c.QueryParam(name)
	if raw == "" {
		return nil, true
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return nil, false
	}
	return &id, true
}

func queryBool(c echo.Context, name string, def bool) bool {
	v, err := strconv.ParseBool(c.QueryParam(name))
	if err != nil {
		return def
	}
	return v
}

func queryInt(c echo.Context, name string, def int) int {
	v, err := strconv.Atoi(c.QueryParam(name))
	if err != nil {
		return def
	}
	return v
}

// Health - проверка живости
func Health(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}

// ListCoaches - GET /coaches
func (h *Handler) ListCoaches(c echo.Context) error {
	coaches, err := h.schedule.ListCoaches(c.Request().Context())
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusOK, coaches)
}

// ListServices - GET /services
func (h *Handler) ListServices(c echo.Context) error {
	services, err := h.schedule.ListServices(c.Request().Context())
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusOK, services)
}

// Availability - GET /coaches/:id/availability?from=&to=
func (h *Handler) Availability(c echo.Context) error {
	coachID, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid coach id")
	}
	from, to, ok := queryRange(c)
	if !ok {
		return badRequest(c, "from and to must be RFC3339 timestamps")
	}
	slots, err := h.availability.Resolve(c.Request().Context(), coachID, from, to)
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"coach_id": coachID, "slots": slots})
}

// Timeline - GET /coaches/:id/timeline?from=&to=
func (h *Handler) Timeline(c echo.Context) error {
	coachID, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid coach id")
	}
	from, to, ok := queryRange(c)
	if !ok {
		return badRequest(c, "from and to must be RFC3339 timestamps")
	}
	slots, err := h.availability.Timeline(c.Request().Context(), coachID, from, to)
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"coach_id": coachID, "slots": slots})
}

// DaySlots - GET /coaches/:id/slots?day=YYYY-MM-DD&service_id=
func (h *Handler) DaySlots(c echo.Context) error {
	coachID, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid coach id")
	}
	day, err := time.Parse(time.DateOnly, c.QueryParam("day"))
	if err != nil {
		return badRequest(c, "day must be YYYY-MM-DD")
	}
	serviceID, ok := queryOptionalID(c, "service_id")
	if !ok {
		return badRequest(c, "invalid service_id")
	}
	slots, err := h.availability.SlotsForDay(c.Request().Context(), coachID, day, serviceID)
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusOK, slots)
}

// WeekSlots - GET /coaches/:id/slots/week
func (h *Handler) WeekSlots(c echo.Context) error {
	coachID, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid coach id")
	}
	serviceID, ok := queryOptionalID(c, "service_id")
	if !ok {
		return badRequest(c, "invalid service_id")
	}

	opts := service.DefaultWeekOptions()
	opts.ServiceID = serviceID
	opts.IncludePastDays = queryBool(c, "include_past_days", opts.IncludePastDays)
	opts.OnlyNonEmptyDays = queryBool(c, "only_non_empty_days", opts.OnlyNonEmptyDays)
	opts.MaxSlotsPerDay = queryInt(c, "max_slots_per_day", opts.MaxSlotsPerDay)
	opts.MaxTotalSlots = queryInt(c, "max_total_slots", opts.MaxTotalSlots)
	if raw := c.QueryParam("date"); raw != "" {
		ref, err := time.Parse(time.DateOnly, raw)
		if err != nil {
			return badRequest(c, "date must be YYYY-MM-DD")
		}
		// полдень, чтобы дата не уехала при переводе в таймзону коуча
		opts.Reference = ref.Add(12 * time.Hour)
	}

	week, err := h.availability.WeekSlots(c.Request().Context(), coachID, opts)
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusOK, week)
}

type ruleBody struct {
	Weekday     int     `json:"weekday"`
	StartTime   string  `json:"start_time"`
	EndTime     string  `json:"end_time"`
	SlotMinutes int     `json:"slot_minutes"`
	ValidFrom   *string `json:"valid_from"`
	ValidTo     *string `json:"valid_to"`
}

func parseDate(raw *string) (*time.Time, error) {
	if raw == nil || *raw == "" {
		return nil, nil
	}
	d, err := time.Parse(time.DateOnly, *raw)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (b ruleBody) input() (service.RuleInput, error) {
	start, err := model.ParseClock(b.StartTime)
	if err != nil {
		return service.RuleInput{}, err
	}
	end, err := model.ParseClock(b.EndTime)
	if err != nil {
		return service.RuleInput{}, err
	}
	validFrom, err := parseDate(b.ValidFrom)
	if err != nil {
		return service.RuleInput{}, err
	}
	validTo, err := parseDate(b.ValidTo)
	if err != nil {
		return service.RuleInput{}, err
	}
	return service.RuleInput{
		Weekday:     b.Weekday,
		StartTime:   start,
		EndTime:     end,
		SlotMinutes: b.SlotMinutes,
		ValidFrom:   validFrom,
		ValidTo:     validTo,
	}, nil
}

// SetRules - POST /coaches/:id/rules
func (h *Handler) SetRules(c echo.Context) error {
	coachID, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid coach id")
	}
	var body struct {
		ReplaceAll bool       `json:"replace_all"`
		Rules      []ruleBody `json:"rules"`
	}
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "invalid request body")
	}

	inputs := make([]service.RuleInput, 0, len(body.Rules))
	for _, r := range body.Rules {
		in, err := r.input()
		if err != nil {
			return badRequest(c, err.Error())
		}
		inputs = append(inputs, in)
	}

	rules, err := h.schedule.SetRules(c.Request().Context(), coachID, inputs, body.ReplaceAll)
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusCreated, rules)
}

// ListRules - GET /coaches/:id/rules
func (h *Handler) ListRules(c echo.Context) error {
	coachID, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid coach id")
	}
	rules, err := h.schedule.ListRules(c.Request().Context(), coachID)
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusOK, rules)
}

// DeleteRuleGroup - DELETE /coaches/:id/rules/:group
func (h *Handler) DeleteRuleGroup(c echo.Context) error {
	coachID, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid coach id")
	}
	groupID, err := uuid.Parse(c.Param("group"))
	if err != nil {
		return badRequest(c, "invalid group id")
	}
	removed, err := h.schedule.DeleteRuleGroup(c.Request().Context(), coachID, groupID)
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"removed": removed})
}

// AddException - POST /coaches/:id/exceptions
func (h *Handler) AddException(c echo.Context) error {
	coachID, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid coach id")
	}
	var body struct {
		Type    model.ExceptionType `json:"type"`
		StartAt time.Time           `json:"start_at"`
		EndAt   time.Time           `json:"end_at"`
		Reason  *string             `json:"reason"`
	}
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "invalid request body")
	}

	e, err := h.schedule.AddException(c.Request().Context(), coachID, service.ExceptionInput{
		Type:    body.Type,
		StartAt: body.StartAt,
		EndAt:   body.EndAt,
		Reason:  body.Reason,
	})
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusCreated, e)
}

// ListExceptions - GET /coaches/:id/exceptions?from=&to=
func (h *Handler) ListExceptions(c echo.Context) error {
	coachID, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid coach id")
	}
	from, to, ok := queryRange(c)
	if !ok {
		return badRequest(c, "from and to must be RFC3339 timestamps")
	}
	list, err := h.schedule.ListExceptions(c.Request().Context(), coachID, from, to)
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusOK, list)
}

// RequestBooking - POST /bookings
func (h *Handler) RequestBooking(c echo.Context) error {
	var body struct {
		CoachID         int64               `json:"coach_id"`
		ClientID        int64               `json:"client_id"`
		ServiceID       *int64              `json:"service_id"`
		StartAt         time.Time           `json:"start_at"`
		EndAt           *time.Time          `json:"end_at"`
		DurationMinutes int                 `json:"duration_minutes"`
		Status          model.BookingStatus `json:"status"`
		Notes           *string             `json:"notes"`
	}
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "invalid request body")
	}
	if body.CoachID <= 0 || body.ClientID <= 0 || body.StartAt.IsZero() {
		return badRequest(c, "coach_id, client_id and start_at are required")
	}

	req := service.BookingRequest{
		CoachID:         body.CoachID,
		ClientID:        body.ClientID,
		ServiceID:       body.ServiceID,
		Start:           body.StartAt,
		DurationMinutes: body.DurationMinutes,
		RequestedBy:     actor(c),
		Status:          body.Status,
		Notes:           body.Notes,
	}
	if body.EndAt != nil {
		req.End = *body.EndAt
	}

	booking, err := h.bookings.RequestBooking(c.Request().Context(), req)
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusCreated, booking)
}

// GetBooking - GET /bookings/:id
func (h *Handler) GetBooking(c echo.Context) error {
	id, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid booking id")
	}
	booking, err := h.bookings.GetBooking(c.Request().Context(), id)
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusOK, booking)
}

// CancelBooking - POST /bookings/:id/cancel
func (h *Handler) CancelBooking(c echo.Context) error {
	id, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid booking id")
	}
	var body struct {
		Reason *string `json:"reason"`
	}
	if c.Request().ContentLength > 0 {
		if err := c.Bind(&body); err != nil {
			return badRequest(c, "invalid request body")
		}
	}
	booking, err := h.bookings.Cancel(c.Request().Context(), id, actor(c), body.Reason)
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusOK, booking)
}

type transitionFunc func(ctx context.Context, id int64, actor *int64) (*model.Booking, error)

// transition собирает обработчик перехода статуса без тела запроса
func (h *Handler) transition(fn transitionFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		id, ok := pathID(c, "id")
		if !ok {
			return badRequest(c, "invalid booking id")
		}
		booking, err := fn(c.Request().Context(), id, actor(c))
		if err != nil {
			return h.writeError(c, err)
		}
		return c.JSON(http.StatusOK, booking)
	}
}

// CoachBookings - GET /coaches/:id/bookings?from=&to=&include_cancelled=
func (h *Handler) CoachBookings(c echo.Context) error {
	coachID, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid coach id")
	}
	from, to, ok := queryRange(c)
	if !ok {
		return badRequest(c, "from and to must be RFC3339 timestamps")
	}
	list, err := h.bookings.ListCoachBookings(c.Request().Context(), coachID, from, to, queryBool(c, "include_cancelled", false))
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusOK, list)
}

// ClientBookings - GET /clients/:id/bookings?from=&to=&include_cancelled=
func (h *Handler) ClientBookings(c echo.Context) error {
	clientID, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid client id")
	}
	from, to, ok := queryRange(c)
	if !ok {
		return badRequest(c, "from and to must be RFC3339 timestamps")
	}
	list, err := h.bookings.ListClientBookings(c.Request().Context(), clientID, from, to, queryBool(c, "include_cancelled", false))
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusOK, list)
}
