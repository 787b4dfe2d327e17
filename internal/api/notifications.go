package api

import (
	"database/sql"
	"net/http"

	"github.com/erazemk/narocila/internal/model"
	"github.com/erazemk/narocila/internal/store"
)

// listLimit is how many notifications the inbox returns.
const listLimit = 10

// NotificationsHandler serves the caller's notification inbox.
type NotificationsHandler struct {
	DB *sql.DB
}

// List handles GET /api/notifications.
func (h *NotificationsHandler) List(w http.ResponseWriter, r *http.Request) {
	claims := GetClaims(r.Context())
	kind := model.RecipientKind(claims.Role)

	list, err := store.ListNotifications(r.Context(), h.DB, kind, claims.UserID, listLimit)
	if err != nil {
		writeError(w, r, err, "notifications")
		return
	}
	if list == nil {
		list = []model.Notification{}
	}
	unread, err := store.CountUnread(r.Context(), h.DB, kind, claims.UserID)
	if err != nil {
		writeError(w, r, err, "notifications")
		return
	}

	jsonResponse(w, http.StatusOK, map[string]any{
		"notifications": list,
		"unread_count":  unread,
	})
}

// MarkRead handles PUT /api/notifications/{id}/read.
func (h *NotificationsHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		jsonError(w, http.StatusBadRequest, "invalid notification id")
		return
	}

	claims := GetClaims(r.Context())
	err = store.MarkNotificationRead(r.Context(), h.DB, model.RecipientKind(claims.Role), claims.UserID, id)
	if err != nil {
		writeError(w, r, err, "notification")
		return
	}
	jsonResponse(w, http.StatusOK, map[string]string{"message": "notification marked as read"})
}

// MarkAllRead handles PUT /api/notifications/read-all.
func (h *NotificationsHandler) MarkAllRead(w http.ResponseWriter, r *http.Request) {
	claims := GetClaims(r.Context())
	n, err := store.MarkAllNotificationsRead(r.Context(), h.DB, model.RecipientKind(claims.Role), claims.UserID)
	if err != nil {
		writeError(w, r, err, "notifications")
		return
	}
	jsonResponse(w, http.StatusOK, map[string]any{"message": "all notifications marked as read", "updated": n})
}

// Clear handles DELETE /api/notifications.
func (h *NotificationsHandler) Clear(w http.ResponseWriter, r *http.Request) {
	claims := GetClaims(r.Context())
	n, err := store.ClearNotifications(r.Context(), h.DB, model.RecipientKind(claims.Role), claims.UserID)
	if err != nil {
		writeError(w, r, err, "notifications")
		return
	}
	jsonResponse(w, http.StatusOK, map[string]any{"message": "notifications cleared", "deleted": n})
}
