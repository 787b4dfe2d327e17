// Package notify delivers domain events as notifications: a durable row per
// event, then best-effort fan-out to any configured sinks.
package notify

import (
	"context"
	"database/sql"
	"log/slog"

	"github.com/erazemk/narocila/internal/model"
	"github.com/erazemk/narocila/internal/store"
)

// Sink receives stored notifications.
type Sink interface {
	Deliver(ctx context.Context, n model.Notification) error
}

// Dispatcher persists and fans out notifications. Failures are logged and
// never returned.
type Dispatcher struct {
	DB     *sql.DB
	Sinks  []Sink
	Logger *slog.Logger
}

func (d *Dispatcher) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

// Emit delivers events in order. It outlives cancellation of ctx so a
// finished request still gets its notifications.
func (d *Dispatcher) Emit(ctx context.Context, events ...model.Event) {
	ctx = context.WithoutCancel(ctx)
	log := d.logger()

	for _, ev := range events {
		n, err := store.CreateNotification(ctx, d.DB, Render(ev))
		if err != nil {
			log.Error("failed to store notification", "type", ev.Type,
				"recipient", ev.Recipient, "kind", ev.RecipientKind, "error", err)
			continue
		}

		for _, s := range d.Sinks {
			if err := s.Deliver(ctx, *n); err != nil {
				log.Warn("notification sink failed", "id", n.ID, "type", n.Type, "error", err)
			}
		}
	}
}
