package capacity

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/erazemk/narocila/internal/db"
	"github.com/erazemk/narocila/internal/model"
	"github.com/erazemk/narocila/internal/store"
)

var guard Guard

func setup(t *testing.T, storage, minQuantity, stock int) (store.DBTX, int64) {
	t.Helper()
	database := db.NewTestDB(t)
	ctx := context.Background()

	user, err := store.CreateUser(ctx, database, "bob", "hash", model.RoleUser, nil)
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if storage > 0 || minQuantity > 0 {
		if _, err := store.SetWarehouse(ctx, database, user.ID, storage, minQuantity); err != nil {
			t.Fatalf("SetWarehouse: %v", err)
		}
	}
	if stock > 0 {
		_, err := store.CreateStockItem(ctx, database, model.LedgerPersonal, user.ID,
			store.NewStockItem{ProductID: "W", Name: "Widget", Stock: stock})
		if err != nil {
			t.Fatalf("CreateStockItem: %v", err)
		}
	}
	return database, user.ID
}

func TestValidateNonPositiveAlwaysValid(t *testing.T) {
	q, owner := setup(t, 10, 0, 10)
	ctx := context.Background()

	for _, amount := range []int{0, -1, -100} {
		if r := guard.Validate(ctx, q, owner, model.LedgerPersonal, amount); !r.Valid {
			t.Errorf("Validate(%d) should be valid, got %+v", amount, r)
		}
	}
}

func TestValidateWithoutLimit(t *testing.T) {
	q, owner := setup(t, 0, 0, 500)

	r := guard.Validate(context.Background(), q, owner, model.LedgerPersonal, 1000)
	if !r.Valid {
		t.Fatalf("expected valid without a ceiling, got %+v", r)
	}
	if r.Warning != NoLimitWarning {
		t.Errorf("expected no-limit warning, got %q", r.Warning)
	}
}

func TestValidateExceeded(t *testing.T) {
	q, owner := setup(t, 100, 0, 95)

	r := guard.Validate(context.Background(), q, owner, model.LedgerPersonal, 10)
	if r.Valid {
		t.Fatal("expected invalid")
	}
	if r.ExcessAmount != 5 || r.RemainingCapacity != 5 {
		t.Errorf("expected excess 5 and remaining 5, got %+v", r)
	}
	if r.CurrentStock != 95 || r.TotalAfterAdd != 105 || r.StorageLimit != 100 {
		t.Errorf("unexpected details %+v", r)
	}
	if r.Message == "" {
		t.Error("expected a remediation message")
	}
}

func TestValidateExactFitAndOverLimitRemaining(t *testing.T) {
	q, owner := setup(t, 100, 0, 95)
	if r := guard.Validate(context.Background(), q, owner, model.LedgerPersonal, 5); !r.Valid {
		t.Errorf("expected exact fit to be valid, got %+v", r)
	}

	q, owner = setup(t, 50, 0, 80)
	r := guard.Validate(context.Background(), q, owner, model.LedgerPersonal, 1)
	if r.RemainingCapacity != 0 || r.ExcessAmount != 31 {
		t.Errorf("expected remaining 0 and excess 31, got %+v", r)
	}
}

func TestValidateFailsOpen(t *testing.T) {
	database := db.NewTestDB(t)
	database.Exec(`DROP TABLE warehouses`)

	var logs bytes.Buffer
	g := Guard{Logger: slog.New(slog.NewTextHandler(&logs, nil))}

	r := g.Validate(context.Background(), database, 1, model.LedgerPersonal, 10)
	if !r.Valid {
		t.Errorf("expected fail-open on lookup error, got %+v", r)
	}
	if !strings.Contains(logs.String(), "capacity check skipped") {
		t.Errorf("expected the failure on the guard's logger, got %q", logs.String())
	}
}

func TestEnforce(t *testing.T) {
	q, owner := setup(t, 100, 0, 95)

	_, err := guard.Enforce(context.Background(), q, owner, model.LedgerPersonal, 10)
	var exceeded *ExceededError
	if !errors.As(err, &exceeded) {
		t.Fatalf("expected ExceededError, got %v", err)
	}
	if exceeded.Result.ExcessAmount != 5 {
		t.Errorf("expected excess 5, got %d", exceeded.Result.ExcessAmount)
	}

	if _, err := guard.Enforce(context.Background(), q, owner, model.LedgerPersonal, 5); err != nil {
		t.Errorf("expected no error, got %v", err)
	}
}

func TestCheckLowStock(t *testing.T) {
	tests := []struct {
		name     string
		minQty   int
		stock    int
		wantSent bool
	}{
		{"disabled", 0, 0, false},
		{"below", 20, 5, true},
		{"equal", 5, 5, false},
		{"above", 5, 6, false},
		{"empty ledger", 1, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, owner := setup(t, 0, tt.minQty, tt.stock)
			ev, err := CheckLowStock(context.Background(), q, owner, model.LedgerPersonal)
			if err != nil {
				t.Fatalf("CheckLowStock: %v", err)
			}
			if (ev != nil) != tt.wantSent {
				t.Fatalf("expected event %v, got %+v", tt.wantSent, ev)
			}
			if ev == nil {
				return
			}
			if ev.Type != model.NotifyLowStock || ev.RecipientKind != model.RecipientUser {
				t.Errorf("unexpected event %+v", ev)
			}
			if ev.CurrentStock != tt.stock || ev.MinQuantity != tt.minQty {
				t.Errorf("expected %d/%d, got %d/%d", tt.stock, tt.minQty, ev.CurrentStock, ev.MinQuantity)
			}
		})
	}
}
