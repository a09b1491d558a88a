// Package httpapi - HTTP API расписания коучей и записей на echo
package httpapi

import (
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// NewServer собирает echo с маршрутами API. bookingLimit применяется к изменяющим запись запросам.
func NewServer(h *Handler, bookingLimit echo.MiddlewareFunc, logger *zap.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	// X-Forwarded-For учитывается только от прокси из частных сетей и loopback
	e.IPExtractor = echo.ExtractIPFromXFFHeader()

	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			logger.Debug("HTTP request",
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency),
			)
			return nil
		},
	}))

	if bookingLimit == nil {
		bookingLimit = func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}

	e.GET("/healthz", Health)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	e.GET("/coaches", h.ListCoaches)
	e.GET("/services", h.ListServices)

	coaches := e.Group("/coaches/:id")
	coaches.GET("/availability", h.Availability)
	coaches.GET("/timeline", h.Timeline)
	coaches.GET("/slots", h.DaySlots)
	coaches.GET("/slots/week", h.WeekSlots)
	coaches.GET("/rules", h.ListRules)
	coaches.POST("/rules", h.SetRules)
	coaches.DELETE("/rules/:group", h.DeleteRuleGroup)
	coaches.GET("/exceptions", h.ListExceptions)
	coaches.POST("/exceptions", h.AddException)
	coaches.GET("/bookings", h.CoachBookings)

	e.GET("/clients/:id/bookings", h.ClientBookings)

	bookings := e.Group("/bookings", bookingLimit)
	bookings.POST("", h.RequestBooking)
	bookings.GET("/:id", h.GetBooking)
	bookings.POST("/:id/cancel", h.CancelBooking)
	bookings.POST("/:id/confirm", h.transition(h.bookings.Confirm))
	bookings.POST("/:id/complete", h.transition(h.bookings.Complete))
	bookings.POST("/:id/no-show", h.transition(h.bookings.MarkNoShow))

	return e
}
