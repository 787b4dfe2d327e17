package api

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/erazemk/narocila/internal/auth"
	"github.com/erazemk/narocila/internal/capacity"
	"github.com/erazemk/narocila/internal/imaging"
	"github.com/erazemk/narocila/internal/model"
	"github.com/erazemk/narocila/internal/settle"
	"github.com/erazemk/narocila/internal/store"
)

// maxBulkRows bounds one bulk import.
const maxBulkRows = 500

// ProductsHandler manages the caller's own stock ledger: admins work on
// their master ledger, users on their personal one. Writes check capacity
// inside the same transaction that changes stock.
type ProductsHandler struct {
	DB       *sql.DB
	Notifier settle.Emitter
	Guard    capacity.Guard
}

type stockResponse struct {
	Item     *model.StockItem `json:"item"`
	Capacity capacity.Result  `json:"capacity"`
}

type updateStockRequest struct {
	Name  *string          `json:"name"`
	Price *decimal.Decimal `json:"price"`
	Stock *int             `json:"stock"`
}

type bulkRequest struct {
	Items []store.NewStockItem `json:"items"`
}

type rowError struct {
	Row   int    `json:"row"`
	Error string `json:"error"`
}

func validateStockItem(in *store.NewStockItem) error {
	in.ProductID = strings.TrimSpace(in.ProductID)
	in.Name = strings.TrimSpace(in.Name)
	switch {
	case in.ProductID == "":
		return errors.New("product_id required")
	case in.Name == "":
		return errors.New("name required")
	case in.Price.IsNegative():
		return errors.New("price must not be negative")
	case in.Stock < 0:
		return errors.New("stock must not be negative")
	}
	return nil
}

// checkLowStock evaluates the caller's low-stock threshold after a stock
// change. Failures are logged only.
func checkLowStock(ctx context.Context, db *sql.DB, n settle.Emitter, claims *auth.Claims) {
	ev, err := capacity.CheckLowStock(ctx, db, claims.UserID, model.LedgerFor(claims.Role))
	if err != nil {
		slog.Warn("low stock check failed", "user", claims.Username, "error", err)
		return
	}
	if ev != nil {
		emit(ctx, n, *ev)
	}
}

// owned loads an item from the caller's ledger. It writes the response and
// returns nil when the item is missing or belongs to someone else.
func (h *ProductsHandler) owned(w http.ResponseWriter, r *http.Request) *model.StockItem {
	id, err := pathID(r, "id")
	if err != nil {
		jsonError(w, http.StatusBadRequest, "invalid product id")
		return nil
	}

	claims := GetClaims(r.Context())
	item, err := store.GetOwnedStockItem(r.Context(), h.DB, model.LedgerFor(claims.Role), claims.UserID, id)
	if err == nil && item == nil {
		err = store.ErrNotFound
	}
	if err != nil {
		writeError(w, r, err, "product")
		return nil
	}
	return item
}

// List handles GET /api/products.
func (h *ProductsHandler) List(w http.ResponseWriter, r *http.Request) {
	claims := GetClaims(r.Context())
	items, err := store.ListStockItems(r.Context(), h.DB, model.LedgerFor(claims.Role), claims.UserID)
	if err != nil {
		writeError(w, r, err, "products")
		return
	}
	if items == nil {
		items = []model.StockItem{}
	}
	jsonResponse(w, http.StatusOK, items)
}

// Get handles GET /api/products/{id}.
func (h *ProductsHandler) Get(w http.ResponseWriter, r *http.Request) {
	if item := h.owned(w, r); item != nil {
		jsonResponse(w, http.StatusOK, item)
	}
}

// Create handles POST /api/products.
func (h *ProductsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req store.NewStockItem
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := validateStockItem(&req); err != nil {
		jsonError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx := r.Context()
	claims := GetClaims(ctx)
	ledger := model.LedgerFor(claims.Role)

	var item *model.StockItem
	var check capacity.Result
	err := store.WithTx(ctx, h.DB, func(tx *sql.Tx) error {
		var err error
		check, err = h.Guard.Enforce(ctx, tx, claims.UserID, ledger, req.Stock)
		if err != nil {
			return err
		}
		item, err = store.CreateStockItem(ctx, tx, ledger, claims.UserID, req)
		return err
	})
	if err != nil {
		writeError(w, r, err, "product")
		return
	}

	slog.Info("product created", "user", claims.Username, "ledger", ledger,
		"product", item.ProductID, "stock", item.Stock)
	checkLowStock(r.Context(), h.DB, h.Notifier, claims)
	jsonResponse(w, http.StatusCreated, stockResponse{Item: item, Capacity: check})
}

// Update handles PUT /api/products/{id}. Omitted fields keep their value.
// The item is re-read under the write lock, so a settlement that lands
// between the client's read and this write is never overwritten.
func (h *ProductsHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		jsonError(w, http.StatusBadRequest, "invalid product id")
		return
	}

	var req updateStockRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name != nil {
		*req.Name = strings.TrimSpace(*req.Name)
	}
	switch {
	case req.Name != nil && *req.Name == "":
		jsonError(w, http.StatusBadRequest, "name required")
		return
	case req.Price != nil && req.Price.IsNegative():
		jsonError(w, http.StatusBadRequest, "price must not be negative")
		return
	case req.Stock != nil && *req.Stock < 0:
		jsonError(w, http.StatusBadRequest, "stock must not be negative")
		return
	}

	ctx := r.Context()
	claims := GetClaims(ctx)
	ledger := model.LedgerFor(claims.Role)

	var before, updated *model.StockItem
	var check capacity.Result
	err = store.WithTx(ctx, h.DB, func(tx *sql.Tx) error {
		item, err := store.GetOwnedStockItem(ctx, tx, ledger, claims.UserID, id)
		if err != nil {
			return err
		}
		if item == nil {
			return store.ErrNotFound
		}
		before = item

		name, price, stock := item.Name, item.Price, item.Stock
		if req.Name != nil {
			name = *req.Name
		}
		if req.Price != nil {
			price = *req.Price
		}
		if req.Stock != nil {
			stock = *req.Stock
		}

		check, err = h.Guard.Enforce(ctx, tx, claims.UserID, ledger, stock-item.Stock)
		if err != nil {
			return err
		}
		if err := store.UpdateStockItem(ctx, tx, item.ID, name, price, item.Stock, stock); err != nil {
			return err
		}
		updated, err = store.GetStockItem(ctx, tx, item.ID)
		return err
	})
	if err != nil {
		writeError(w, r, err, "product")
		return
	}

	slog.Info("product updated", "user", claims.Username, "product", updated.ProductID,
		"old_stock", before.Stock, "new_stock", updated.Stock)
	checkLowStock(ctx, h.DB, h.Notifier, claims)
	jsonResponse(w, http.StatusOK, stockResponse{Item: updated, Capacity: check})
}

// Delete handles DELETE /api/products/{id}.
func (h *ProductsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	item := h.owned(w, r)
	if item == nil {
		return
	}

	if err := store.DeleteStockItem(r.Context(), h.DB, item.ID); err != nil {
		writeError(w, r, err, "product")
		return
	}

	claims := GetClaims(r.Context())
	slog.Info("product deleted", "user", claims.Username, "product", item.ProductID)
	checkLowStock(r.Context(), h.DB, h.Notifier, claims)
	jsonResponse(w, http.StatusOK, map[string]string{"message": "product deleted"})
}

// BulkCreate handles POST /api/products/bulk. The batch is validated as a
// whole and inserted in one transaction.
func (h *ProductsHandler) BulkCreate(w http.ResponseWriter, r *http.Request) {
	var req bulkRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Items) == 0 {
		jsonError(w, http.StatusBadRequest, "no items to import")
		return
	}
	if len(req.Items) > maxBulkRows {
		jsonError(w, http.StatusBadRequest, fmt.Sprintf("at most %d items per import", maxBulkRows))
		return
	}

	var rowErrs []rowError
	seen := make(map[string]int, len(req.Items))
	total := 0
	for i := range req.Items {
		in := &req.Items[i]
		if err := validateStockItem(in); err != nil {
			rowErrs = append(rowErrs, rowError{Row: i + 1, Error: err.Error()})
			continue
		}
		if first, ok := seen[in.ProductID]; ok {
			rowErrs = append(rowErrs, rowError{
				Row:   i + 1,
				Error: fmt.Sprintf("product_id '%s' repeats row %d", in.ProductID, first),
			})
			continue
		}
		seen[in.ProductID] = i + 1
		total += in.Stock
	}
	if len(rowErrs) > 0 {
		jsonErrorDetails(w, http.StatusBadRequest, "invalid rows", rowErrs)
		return
	}

	ctx := r.Context()
	claims := GetClaims(ctx)
	ledger := model.LedgerFor(claims.Role)

	var items []model.StockItem
	var check capacity.Result
	err := store.WithTx(ctx, h.DB, func(tx *sql.Tx) error {
		var err error
		check, err = h.Guard.Enforce(ctx, tx, claims.UserID, ledger, total)
		if err != nil {
			return err
		}
		items, err = store.CreateStockItems(ctx, tx, ledger, claims.UserID, req.Items)
		return err
	})
	if err != nil {
		writeError(w, r, err, "products")
		return
	}

	slog.Info("products imported", "user", claims.Username, "ledger", ledger,
		"count", len(items), "stock", total)
	checkLowStock(r.Context(), h.DB, h.Notifier, claims)
	jsonResponse(w, http.StatusCreated, map[string]any{
		"created":  len(items),
		"items":    items,
		"capacity": check,
	})
}

// Total handles GET /api/products/total.
func (h *ProductsHandler) Total(w http.ResponseWriter, r *http.Request) {
	claims := GetClaims(r.Context())
	total, err := store.TotalStock(r.Context(), h.DB, model.LedgerFor(claims.Role), claims.UserID)
	if err != nil {
		writeError(w, r, err, "stock")
		return
	}
	jsonResponse(w, http.StatusOK, map[string]int{"total_stock": total})
}

// OutOfStock handles GET /api/products/out-of-stock.
func (h *ProductsHandler) OutOfStock(w http.ResponseWriter, r *http.Request) {
	claims := GetClaims(r.Context())
	n, err := store.CountOutOfStock(r.Context(), h.DB, model.LedgerFor(claims.Role), claims.UserID)
	if err != nil {
		writeError(w, r, err, "stock")
		return
	}
	jsonResponse(w, http.StatusOK, map[string]int{"out_of_stock": n})
}

// Catalog handles GET /api/catalog: the master ledger of the caller's admin.
func (h *ProductsHandler) Catalog(w http.ResponseWriter, r *http.Request) {
	claims := GetClaims(r.Context())
	user, err := store.GetUser(r.Context(), h.DB, claims.UserID)
	if err != nil {
		writeError(w, r, err, "catalog")
		return
	}

	items := []model.StockItem{}
	if user != nil && user.AdminID != nil {
		list, err := store.ListStockItems(r.Context(), h.DB, model.LedgerMaster, *user.AdminID)
		if err != nil {
			writeError(w, r, err, "catalog")
			return
		}
		if list != nil {
			items = list
		}
	}
	jsonResponse(w, http.StatusOK, items)
}

// UploadImage handles PUT /api/products/{id}/image.
func (h *ProductsHandler) UploadImage(w http.ResponseWriter, r *http.Request) {
	item := h.owned(w, r)
	if item == nil {
		return
	}

	// Room for the multipart envelope around a maximal image.
	r.Body = http.MaxBytesReader(w, r.Body, imaging.MaxUploadBytes+1<<20)

	if err := r.ParseMultipartForm(imaging.MaxUploadBytes); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			jsonError(w, http.StatusRequestEntityTooLarge, "image too large")
			return
		}
		jsonError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}

	file, _, err := r.FormFile("image")
	if err != nil {
		jsonError(w, http.StatusBadRequest, "image file required")
		return
	}
	defer file.Close()

	photo, err := imaging.Normalize(file)
	if errors.Is(err, imaging.ErrTooLarge) {
		jsonError(w, http.StatusRequestEntityTooLarge, "image too large")
		return
	}
	if err != nil {
		jsonError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := store.SetStockImage(r.Context(), h.DB, item.ID, photo.Data, photo.MIME); err != nil {
		writeError(w, r, err, "product")
		return
	}

	jsonResponse(w, http.StatusOK, map[string]any{
		"message": "image uploaded",
		"width":   photo.Width,
		"height":  photo.Height,
	})
}

// GetImage handles GET /api/products/{id}/image. Users may also read the
// images of their admin's catalog.
func (h *ProductsHandler) GetImage(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		jsonError(w, http.StatusBadRequest, "invalid product id")
		return
	}

	claims := GetClaims(r.Context())
	item, err := store.GetStockItem(r.Context(), h.DB, id)
	if err != nil {
		writeError(w, r, err, "product")
		return
	}
	if item == nil || !h.canView(r.Context(), claims, item) {
		jsonError(w, http.StatusNotFound, "product not found")
		return
	}

	data, mime, err := store.GetStockImage(r.Context(), h.DB, id)
	if err != nil {
		writeError(w, r, err, "image")
		return
	}
	if data == nil {
		jsonError(w, http.StatusNotFound, "no image")
		return
	}

	w.Header().Set("Content-Type", mime)
	w.Header().Set("Cache-Control", "private, max-age=3600")
	w.Write(data)
}

func (h *ProductsHandler) canView(ctx context.Context, claims *auth.Claims, item *model.StockItem) bool {
	if item.OwnerID == claims.UserID {
		return true
	}
	if item.Ledger != model.LedgerMaster {
		return false
	}
	user, err := store.GetUser(ctx, h.DB, claims.UserID)
	return err == nil && user != nil && user.AdminID != nil && *user.AdminID == item.OwnerID
}
