package httpapi

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/Freeeeeet/coach_agenda/internal/model"
)

// statusFor сопоставляет доменную ошибку HTTP-статусу
func statusFor(err error) int {
	var (
		rangeErr    *model.InvalidRangeError
		unavailable *model.SlotUnavailableError
	)
	switch {
	case errors.As(err, &rangeErr),
		errors.Is(err, model.ErrInvalidRule),
		errors.Is(err, model.ErrInvalidExceptionType):
		return http.StatusBadRequest
	case model.IsNotFound(err):
		return http.StatusNotFound
	case errors.As(err, &unavailable):
		return http.StatusUnprocessableEntity
	case model.IsConflict(err), errors.Is(err, model.ErrInvalidTransition):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// writeError отвечает JSON-ошибкой. Внутренние ошибки логируются, клиенту уходит общий текст.
func (h *Handler) writeError(c echo.Context, err error) error {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("Request failed",
			zap.String("method", c.Request().Method),
			zap.String("path", c.Path()),
			zap.Error(err),
		)
		return c.JSON(status, echo.Map{"error": "internal error"})
	}
	body := echo.Map{"error": err.Error()}
	if model.IsConflict(err) {
		body["retry"] = true
	}
	return c.JSON(status, body)
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, echo.Map{"error": msg})
}
