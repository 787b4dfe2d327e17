// Package capacity checks stock additions against an owner's warehouse
// ceiling and evaluates the low-stock threshold.
package capacity

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/erazemk/narocila/internal/model"
	"github.com/erazemk/narocila/internal/store"
)

// NoLimitWarning is reported when the owner has no storage ceiling.
const NoLimitWarning = "Please set warehouse storage capacity in inventory settings"

// Result describes a capacity check. Fields other than Valid and Message are
// zero when no ceiling applies.
type Result struct {
	Valid             bool   `json:"valid"`
	Message           string `json:"message,omitempty"`
	Warning           string `json:"warning,omitempty"`
	CurrentStock      int    `json:"current_stock"`
	AttemptedAdd      int    `json:"attempted_add"`
	TotalAfterAdd     int    `json:"total_after_add"`
	StorageLimit      int    `json:"storage_limit"`
	RemainingCapacity int    `json:"remaining_capacity"`
	ExcessAmount      int    `json:"excess_amount"`
}

// ExceededError is returned by callers that enforce a failed check.
type ExceededError struct {
	Result Result
}

func (e *ExceededError) Error() string {
	return e.Result.Message
}

// Guard runs capacity checks. Lookup failures go to Logger; a Guard without
// one logs nothing.
type Guard struct {
	Logger *slog.Logger
}

func (g Guard) logger() *slog.Logger {
	if g.Logger != nil {
		return g.Logger
	}
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Validate checks whether amount more units fit in the owner's ledger.
// Decreases always pass. Lookup failures are logged and the check passes.
func (g Guard) Validate(ctx context.Context, q store.DBTX, ownerID int64, ledger string, amount int) Result {
	if amount <= 0 {
		return Result{Valid: true, AttemptedAdd: amount}
	}

	w, err := store.GetWarehouse(ctx, q, ownerID)
	if err != nil {
		g.logger().Warn("capacity check skipped", "owner", ownerID, "ledger", ledger, "error", err)
		return Result{Valid: true, AttemptedAdd: amount}
	}
	if w == nil || w.Storage == 0 {
		return Result{Valid: true, AttemptedAdd: amount, Warning: NoLimitWarning}
	}

	current, err := store.TotalStock(ctx, q, ledger, ownerID)
	if err != nil {
		g.logger().Warn("capacity check skipped", "owner", ownerID, "ledger", ledger, "error", err)
		return Result{Valid: true, AttemptedAdd: amount}
	}

	r := Result{
		Valid:             true,
		CurrentStock:      current,
		AttemptedAdd:      amount,
		TotalAfterAdd:     current + amount,
		StorageLimit:      w.Storage,
		RemainingCapacity: max(0, w.Storage-current),
	}
	if r.TotalAfterAdd > w.Storage {
		r.Valid = false
		r.ExcessAmount = r.TotalAfterAdd - w.Storage
		r.Message = fmt.Sprintf("Storage capacity exceeded. Current: %d, adding: %d, limit: %d. You can add at most %d more units.",
			current, amount, w.Storage, r.RemainingCapacity)
	}
	return r
}

// Enforce runs Validate and turns a failed check into an *ExceededError.
func (g Guard) Enforce(ctx context.Context, q store.DBTX, ownerID int64, ledger string, amount int) (Result, error) {
	r := g.Validate(ctx, q, ownerID, ledger, amount)
	if !r.Valid {
		return r, &ExceededError{Result: r}
	}
	return r, nil
}

// CheckLowStock returns a low_stock event when the owner's total stock is
// below a configured minimum, and nil otherwise.
func CheckLowStock(ctx context.Context, q store.DBTX, ownerID int64, ledger string) (*model.Event, error) {
	w, err := store.GetWarehouse(ctx, q, ownerID)
	if err != nil {
		return nil, err
	}
	if w == nil || w.MinQuantity == 0 {
		return nil, nil
	}

	current, err := store.TotalStock(ctx, q, ledger, ownerID)
	if err != nil {
		return nil, err
	}
	if current >= w.MinQuantity {
		return nil, nil
	}

	kind := model.RecipientUser
	if ledger == model.LedgerMaster {
		kind = model.RecipientAdmin
	}
	return &model.Event{
		Type:          model.NotifyLowStock,
		Recipient:     ownerID,
		RecipientKind: kind,
		CurrentStock:  current,
		MinQuantity:   w.MinQuantity,
	}, nil
}
