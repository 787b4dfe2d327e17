package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/erazemk/narocila/internal/capacity"
	"github.com/erazemk/narocila/internal/settle"
	"github.com/erazemk/narocila/internal/store"
)

// writeError maps a domain error to a response. what names the resource in
// not-found messages and in the log line of unexpected failures.
func writeError(w http.ResponseWriter, r *http.Request, err error, what string) {
	var insufficient *store.InsufficientStockError
	var exceeded *capacity.ExceededError
	var duplicate *store.DuplicateKeyError
	var invalid *store.ValidationError

	switch {
	case errors.As(err, &insufficient):
		jsonErrorDetails(w, http.StatusConflict, "insufficient stock, reject the order or restock", map[string]int{
			"available": insufficient.Available,
			"requested": insufficient.Requested,
		})
	case errors.As(err, &exceeded):
		jsonErrorDetails(w, http.StatusUnprocessableEntity, exceeded.Error(), exceeded.Result)
	case errors.As(err, &duplicate):
		jsonError(w, http.StatusConflict, duplicate.Error())
	case errors.As(err, &invalid):
		jsonError(w, http.StatusBadRequest, invalid.Error())
	case errors.Is(err, store.ErrStockChanged):
		jsonError(w, http.StatusConflict, "stock changed while saving, reload and retry")
	case errors.Is(err, store.ErrAlreadySettled):
		jsonError(w, http.StatusConflict, "order already settled")
	case errors.Is(err, store.ErrInvalidToken):
		jsonError(w, http.StatusBadRequest, "invalid token")
	case errors.Is(err, settle.ErrInvalidDecision):
		jsonError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrNotFound):
		jsonError(w, http.StatusNotFound, what+" not found")
	default:
		slog.Error("request failed", "resource", what, "method", r.Method, "route", routeLabel(r),
			"request_id", middleware.GetReqID(r.Context()), "error", err)
		jsonError(w, http.StatusInternalServerError, "internal error")
	}
}
