package api

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/erazemk/narocila/internal/model"
	"github.com/erazemk/narocila/internal/settle"
	"github.com/erazemk/narocila/internal/store"
)

// OrdersHandler handles order placement, listing and settlement.
type OrdersHandler struct {
	DB     *sql.DB
	Engine *settle.Engine
}

type placeOrderRequest struct {
	ProductRef int64 `json:"product_ref"`
	Quantity   int   `json:"quantity"`
}

type settleRequest struct {
	Decision string `json:"decision"`
}

// fulfillerOrder is an order as its fulfiller sees it. While the order is
// pending it carries the accept and reject links, which settle it without
// a session.
type fulfillerOrder struct {
	model.Order
	AcceptURL string `json:"accept_url,omitempty"`
	RejectURL string `json:"reject_url,omitempty"`
}

func forFulfiller(o model.Order) fulfillerOrder {
	fo := fulfillerOrder{Order: o}
	if o.Status == model.OrderPending {
		fo.AcceptURL = fmt.Sprintf("/api/orders/%d/accept/%s", o.ID, o.AcceptToken)
		fo.RejectURL = fmt.Sprintf("/api/orders/%d/reject/%s", o.ID, o.RejectToken)
	}
	return fo
}

// Place handles POST /api/orders. The order goes to the caller's admin.
func (h *OrdersHandler) Place(w http.ResponseWriter, r *http.Request) {
	claims := GetClaims(r.Context())
	if claims.Role != model.RoleUser {
		jsonError(w, http.StatusForbidden, "only users place orders")
		return
	}

	var req placeOrderRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ProductRef <= 0 {
		jsonError(w, http.StatusBadRequest, "product_ref required")
		return
	}
	if req.Quantity <= 0 {
		jsonError(w, http.StatusBadRequest, "quantity must be positive")
		return
	}

	user, err := store.GetUser(r.Context(), h.DB, claims.UserID)
	if err != nil {
		writeError(w, r, err, "user")
		return
	}
	if user == nil || user.AdminID == nil {
		jsonError(w, http.StatusBadRequest, "account has no admin to order from")
		return
	}

	order, err := h.Engine.Place(r.Context(), req.ProductRef, req.Quantity, user.ID, *user.AdminID)
	if err != nil {
		writeError(w, r, err, "product")
		return
	}
	jsonResponse(w, http.StatusCreated, order)
}

// List handles GET /api/orders: the caller's own orders, newest first.
func (h *OrdersHandler) List(w http.ResponseWriter, r *http.Request) {
	claims := GetClaims(r.Context())
	orders, err := store.ListOrdersFrom(r.Context(), h.DB, claims.UserID)
	if err != nil {
		writeError(w, r, err, "orders")
		return
	}
	if orders == nil {
		orders = []model.Order{}
	}
	jsonResponse(w, http.StatusOK, orders)
}

// Incoming handles GET /api/orders/incoming with an optional status filter.
// Pending rows include the accept and reject links.
func (h *OrdersHandler) Incoming(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	switch status {
	case "", model.OrderPending, model.OrderAccepted, model.OrderRejected:
	default:
		jsonError(w, http.StatusBadRequest, "invalid status filter")
		return
	}

	claims := GetClaims(r.Context())
	orders, err := store.ListOrdersTo(r.Context(), h.DB, claims.UserID, status)
	if err != nil {
		writeError(w, r, err, "orders")
		return
	}
	rows := make([]fulfillerOrder, 0, len(orders))
	for _, o := range orders {
		rows = append(rows, forFulfiller(o))
	}
	jsonResponse(w, http.StatusOK, rows)
}

// Count handles GET /api/orders/count.
func (h *OrdersHandler) Count(w http.ResponseWriter, r *http.Request) {
	claims := GetClaims(r.Context())
	n, err := store.CountOrdersFrom(r.Context(), h.DB, claims.UserID)
	if err != nil {
		writeError(w, r, err, "orders")
		return
	}
	jsonResponse(w, http.StatusOK, map[string]int{"count": n})
}

// PendingCount handles GET /api/orders/incoming/pending-count.
func (h *OrdersHandler) PendingCount(w http.ResponseWriter, r *http.Request) {
	claims := GetClaims(r.Context())
	n, err := store.CountPendingTo(r.Context(), h.DB, claims.UserID)
	if err != nil {
		writeError(w, r, err, "orders")
		return
	}
	jsonResponse(w, http.StatusOK, map[string]int{"pending_count": n})
}

// Get handles GET /api/orders/{id}. Only the two parties see an order, and
// only the fulfiller gets its settlement links.
func (h *OrdersHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		jsonError(w, http.StatusBadRequest, "invalid order id")
		return
	}

	order, err := store.GetOrder(r.Context(), h.DB, id)
	if err != nil {
		writeError(w, r, err, "order")
		return
	}
	claims := GetClaims(r.Context())
	if order == nil || (order.OrderFrom != claims.UserID && order.OrderTo != claims.UserID) {
		jsonError(w, http.StatusNotFound, "order not found")
		return
	}
	if order.OrderTo == claims.UserID {
		jsonResponse(w, http.StatusOK, forFulfiller(*order))
		return
	}
	jsonResponse(w, http.StatusOK, order)
}

// AcceptWithToken handles POST /api/orders/{id}/accept/{token}.
func (h *OrdersHandler) AcceptWithToken(w http.ResponseWriter, r *http.Request) {
	h.withToken(w, r, h.Engine.AcceptWithToken)
}

// RejectWithToken handles POST /api/orders/{id}/reject/{token}.
func (h *OrdersHandler) RejectWithToken(w http.ResponseWriter, r *http.Request) {
	h.withToken(w, r, h.Engine.RejectWithToken)
}

func (h *OrdersHandler) withToken(w http.ResponseWriter, r *http.Request,
	settleFn func(ctx context.Context, id int64, token string) (*settle.Result, error)) {
	id, err := pathID(r, "id")
	if err != nil {
		jsonError(w, http.StatusBadRequest, "invalid order id")
		return
	}

	res, err := settleFn(r.Context(), id, chi.URLParam(r, "token"))
	if err != nil {
		writeError(w, r, err, "order")
		return
	}
	jsonResponse(w, http.StatusOK, res)
}

// Settle handles PUT /api/orders/by-number/{number}/settle.
func (h *OrdersHandler) Settle(w http.ResponseWriter, r *http.Request) {
	var req settleRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	claims := GetClaims(r.Context())
	res, err := h.Engine.AdminSettle(r.Context(), chi.URLParam(r, "number"), req.Decision, claims.UserID)
	if err != nil {
		writeError(w, r, err, "order")
		return
	}
	jsonResponse(w, http.StatusOK, res)
}

// Delete handles DELETE /api/orders/by-number/{number}.
func (h *OrdersHandler) Delete(w http.ResponseWriter, r *http.Request) {
	number := chi.URLParam(r, "number")
	claims := GetClaims(r.Context())
	if err := store.DeleteOrderByNumber(r.Context(), h.DB, claims.UserID, number); err != nil {
		writeError(w, r, err, "order")
		return
	}

	slog.Info("order deleted", "user", claims.Username, "order", number)
	jsonResponse(w, http.StatusOK, map[string]string{"message": "order deleted"})
}

// Clear handles DELETE /api/orders: every order addressed to the caller.
func (h *OrdersHandler) Clear(w http.ResponseWriter, r *http.Request) {
	claims := GetClaims(r.Context())
	n, err := store.ClearOrders(r.Context(), h.DB, claims.UserID)
	if err != nil {
		writeError(w, r, err, "orders")
		return
	}

	slog.Info("orders cleared", "user", claims.Username, "deleted", n)
	jsonResponse(w, http.StatusOK, map[string]any{"message": "orders cleared", "deleted": n})
}
