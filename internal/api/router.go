// Package api exposes the order and stock workflows over JSON HTTP.
package api

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/erazemk/narocila/internal/capacity"
	"github.com/erazemk/narocila/internal/model"
	"github.com/erazemk/narocila/internal/settle"
)

// Config wires the router to its collaborators.
type Config struct {
	DB        *sql.DB
	JWTSecret string
	Engine    *settle.Engine
	// Notifier receives events from handlers outside the settlement engine.
	// Nil disables them.
	Notifier       settle.Emitter
	RequestTimeout time.Duration
	// Logger receives capacity lookup failures. Nil uses slog.Default().
	Logger *slog.Logger
}

// NewRouter creates the API router with all endpoints registered.
func NewRouter(cfg Config) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(LoggingMiddleware)
	r.Use(middleware.Recoverer)
	if cfg.RequestTimeout > 0 {
		r.Use(middleware.Timeout(cfg.RequestTimeout))
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	guard := capacity.Guard{Logger: logger.With("component", "capacity")}

	authHandler := &AuthHandler{DB: cfg.DB, JWTSecret: cfg.JWTSecret}
	usersHandler := &UsersHandler{DB: cfg.DB, Notifier: cfg.Notifier}
	productsHandler := &ProductsHandler{DB: cfg.DB, Notifier: cfg.Notifier, Guard: guard}
	ordersHandler := &OrdersHandler{DB: cfg.DB, Engine: cfg.Engine}
	warehouseHandler := &WarehouseHandler{DB: cfg.DB, Notifier: cfg.Notifier}
	notificationsHandler := &NotificationsHandler{DB: cfg.DB}

	requireAdmin := RequireRole(model.RoleAdmin)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := cfg.DB.PingContext(ctx); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("ok"))
	})

	r.Route("/api", func(r chi.Router) {
		// Public: login and capability links.
		r.Post("/auth/login", authHandler.Login)
		r.Post("/orders/{id}/accept/{token}", ordersHandler.AcceptWithToken)
		r.Post("/orders/{id}/reject/{token}", ordersHandler.RejectWithToken)

		r.Group(func(r chi.Router) {
			r.Use(AuthMiddleware(cfg.JWTSecret, cfg.DB))

			r.Put("/auth/password", authHandler.ChangePassword)

			// Users (admin only).
			r.With(requireAdmin).Get("/users", usersHandler.List)
			r.With(requireAdmin).Post("/users", usersHandler.Create)
			r.With(requireAdmin).Delete("/users/{id}", usersHandler.Delete)

			// Products: the caller's own ledger.
			r.Get("/products", productsHandler.List)
			r.Post("/products", productsHandler.Create)
			r.Post("/products/bulk", productsHandler.BulkCreate)
			r.Get("/products/total", productsHandler.Total)
			r.Get("/products/out-of-stock", productsHandler.OutOfStock)
			r.Get("/products/{id}", productsHandler.Get)
			r.Put("/products/{id}", productsHandler.Update)
			r.Delete("/products/{id}", productsHandler.Delete)
			r.Put("/products/{id}/image", productsHandler.UploadImage)
			r.Get("/products/{id}/image", productsHandler.GetImage)
			r.Get("/catalog", productsHandler.Catalog)

			// Orders.
			r.Post("/orders", ordersHandler.Place)
			r.Get("/orders", ordersHandler.List)
			r.Get("/orders/count", ordersHandler.Count)
			r.Get("/orders/{id}", ordersHandler.Get)
			r.With(requireAdmin).Get("/orders/incoming", ordersHandler.Incoming)
			r.With(requireAdmin).Get("/orders/incoming/pending-count", ordersHandler.PendingCount)
			r.With(requireAdmin).Put("/orders/by-number/{number}/settle", ordersHandler.Settle)
			r.With(requireAdmin).Delete("/orders/by-number/{number}", ordersHandler.Delete)
			r.With(requireAdmin).Delete("/orders", ordersHandler.Clear)

			// Warehouse config.
			r.Get("/warehouse", warehouseHandler.Get)
			r.Put("/warehouse", warehouseHandler.Set)

			// Notifications.
			r.Get("/notifications", notificationsHandler.List)
			r.Put("/notifications/read-all", notificationsHandler.MarkAllRead)
			r.Put("/notifications/{id}/read", notificationsHandler.MarkRead)
			r.Delete("/notifications", notificationsHandler.Clear)
		})
	})

	return r
}

// emit hands events to n, which may be nil.
func emit(ctx context.Context, n settle.Emitter, events ...model.Event) {
	if n == nil || len(events) == 0 {
		return
	}
	n.Emit(ctx, events...)
}
