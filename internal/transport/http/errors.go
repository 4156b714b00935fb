package http

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/avolkov/ticketchange/internal/domain"
)

// statusForError переводит доменные ошибки в HTTP-статусы.
// Ошибки валидации набора изменений дают 422: запрос синтаксически
// корректен, но набор отклонён бизнес-правилами.
func statusForError(err error) int {
	switch {
	case errors.Is(err, domain.ErrOrderNotFound),
		errors.Is(err, domain.ErrItemNotFound),
		errors.Is(err, domain.ErrQuotaNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrOrderNotChangeable),
		errors.Is(err, domain.ErrChangeClosed),
		errors.Is(err, domain.ErrOrderVersionConflict),
		errors.Is(err, domain.ErrIdempotencyHashMismatch):
		return http.StatusConflict
	case domain.IsChangeRejected(err):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrEmailRequired),
		errors.Is(err, domain.ErrCurrencyRequired),
		errors.Is(err, domain.ErrPositionsRequired),
		errors.Is(err, domain.ErrItemIDRequired),
		errors.Is(err, domain.ErrPositionPriceInvalid),
		errors.Is(err, domain.ErrIdempotencyKeyRequired):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c echo.Context, err error) error {
	status := statusForError(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		// Внутренние детали наружу не отдаём.
		message = "internal error"
	}
	return c.JSON(status, echo.Map{"error": message})
}
