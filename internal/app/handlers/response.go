package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/linemk/shop-orders/internal/domain/models"
)

// ErrorResponse - тело ответа с ошибкой
type ErrorResponse struct {
	Errors string `json:"errors"`
	// Заполняются только при нехватке остатка
	ProductID *int64 `json:"productId,omitempty"`
	Available *int   `json:"available,omitempty"`
	Requested *int   `json:"requested,omitempty"`
}

func writeJSON(w http.ResponseWriter, logger *slog.Logger, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Error("failed to encode response", slog.Any("error", err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{Errors: msg})
}

// writeServiceError переводит виды ошибок сервиса в HTTP статусы
func writeServiceError(w http.ResponseWriter, logger *slog.Logger, err error) {
	var (
		validation   *models.ValidationError
		notFound     *models.NotFoundError
		stock        *models.InsufficientStockError
		invalidState *models.InvalidStateError
	)

	switch {
	case errors.As(err, &validation):
		writeError(w, http.StatusBadRequest, validation.Error())
	case errors.As(err, &notFound):
		writeError(w, http.StatusNotFound, notFound.Error())
	case errors.As(err, &stock):
		resp := ErrorResponse{
			Errors:    stock.Error(),
			ProductID: &stock.ProductID,
			Available: &stock.Available,
			Requested: &stock.Requested,
		}
		writeJSON(w, logger, http.StatusConflict, resp)
	case errors.As(err, &invalidState):
		writeError(w, http.StatusConflict, invalidState.Error())
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, "operation timed out")
	default:
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}
