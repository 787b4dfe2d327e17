package api

import (
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/erazemk/narocila/internal/model"
	"github.com/erazemk/narocila/internal/settle"
	"github.com/erazemk/narocila/internal/store"
)

// WarehouseHandler reads and writes the caller's warehouse config.
type WarehouseHandler struct {
	DB       *sql.DB
	Notifier settle.Emitter
}

type warehouseResponse struct {
	model.Warehouse
	Configured bool `json:"configured"`
}

type setWarehouseRequest struct {
	MinQuantity *int `json:"min_quantity"`
	Storage     *int `json:"storage"`
}

type setWarehouseResponse struct {
	Warehouse      *model.Warehouse `json:"warehouse"`
	CurrentStock   int              `json:"current_stock"`
	CapacityStatus string           `json:"capacity_status"`
	Warning        string           `json:"warning,omitempty"`
}

// Get handles GET /api/warehouse. Unset config reads as zeros.
func (h *WarehouseHandler) Get(w http.ResponseWriter, r *http.Request) {
	claims := GetClaims(r.Context())
	wh, err := store.GetWarehouse(r.Context(), h.DB, claims.UserID)
	if err != nil {
		writeError(w, r, err, "warehouse")
		return
	}
	if wh == nil {
		jsonResponse(w, http.StatusOK, warehouseResponse{Warehouse: model.Warehouse{OwnerID: claims.UserID}})
		return
	}
	jsonResponse(w, http.StatusOK, warehouseResponse{Warehouse: *wh, Configured: true})
}

// Set handles PUT /api/warehouse.
func (h *WarehouseHandler) Set(w http.ResponseWriter, r *http.Request) {
	var req setWarehouseRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.MinQuantity == nil || req.Storage == nil {
		jsonError(w, http.StatusBadRequest, "min_quantity and storage required")
		return
	}
	if *req.MinQuantity < 0 || *req.Storage < 0 {
		jsonError(w, http.StatusBadRequest, "min_quantity and storage must not be negative")
		return
	}

	claims := GetClaims(r.Context())
	wh, err := store.SetWarehouse(r.Context(), h.DB, claims.UserID, *req.Storage, *req.MinQuantity)
	if err != nil {
		writeError(w, r, err, "warehouse")
		return
	}

	current, err := store.TotalStock(r.Context(), h.DB, model.LedgerFor(claims.Role), claims.UserID)
	if err != nil {
		writeError(w, r, err, "stock")
		return
	}

	resp := setWarehouseResponse{Warehouse: wh, CurrentStock: current, CapacityStatus: model.CapacityOK}
	if wh.Storage > 0 && current > wh.Storage {
		resp.CapacityStatus = model.CapacityOverLimit
		resp.Warning = fmt.Sprintf("Current stock (%d) exceeds the new storage limit (%d) by %d units.",
			current, wh.Storage, current-wh.Storage)
	}

	slog.Info("warehouse updated", "user", claims.Username, "storage", wh.Storage,
		"min_quantity", wh.MinQuantity, "status", resp.CapacityStatus)
	checkLowStock(r.Context(), h.DB, h.Notifier, claims)
	jsonResponse(w, http.StatusOK, resp)
}
