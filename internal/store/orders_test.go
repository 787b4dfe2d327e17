package store

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/erazemk/narocila/internal/db"
	"github.com/erazemk/narocila/internal/model"
)

func TestCreateOrder(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()
	admin, user := seedAccounts(t, database)

	master, _ := CreateStockItem(ctx, database, model.LedgerMaster, admin.ID, NewStockItem{ProductID: "W-1", Name: "Widget", Stock: 10})

	order, err := CreateOrder(ctx, database, master.ID, 4, user.ID, admin.ID)
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	if order.Status != model.OrderPending {
		t.Errorf("expected pending, got %q", order.Status)
	}
	if order.ProductName != "Widget" || order.Quantity != 4 {
		t.Errorf("unexpected order %+v", order)
	}
	if !strings.HasPrefix(order.OrderNumber, "ORD-W-1-") {
		t.Errorf("order number %q does not embed product id", order.OrderNumber)
	}
	if len(order.AcceptToken) != 32 || len(order.RejectToken) != 32 {
		t.Errorf("expected 16-byte hex tokens, got %q and %q", order.AcceptToken, order.RejectToken)
	}
	if order.AcceptToken == order.RejectToken {
		t.Error("accept and reject tokens must differ")
	}
	if order.FromName != "bob" {
		t.Errorf("expected from name bob, got %q", order.FromName)
	}

	second, _ := CreateOrder(ctx, database, master.ID, 1, user.ID, admin.ID)
	if second.OrderNumber == order.OrderNumber {
		t.Error("expected distinct order numbers")
	}
}

func TestCreateOrderValidation(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()
	admin, user := seedAccounts(t, database)
	master, _ := CreateStockItem(ctx, database, model.LedgerMaster, admin.ID, NewStockItem{ProductID: "W", Name: "Widget", Stock: 10})
	personal, _ := CreateStockItem(ctx, database, model.LedgerPersonal, user.ID, NewStockItem{ProductID: "P", Name: "Mine", Stock: 10})

	for _, quantity := range []int{0, -3} {
		_, err := CreateOrder(ctx, database, master.ID, quantity, user.ID, admin.ID)
		var invalid *ValidationError
		if !errors.As(err, &invalid) || invalid.Field != "quantity" {
			t.Errorf("quantity %d: expected ValidationError on quantity, got %v", quantity, err)
		}
	}
	if _, err := CreateOrder(ctx, database, 999, 1, user.ID, admin.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown product, got %v", err)
	}
	if _, err := CreateOrder(ctx, database, personal.ID, 1, user.ID, admin.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for item outside the master ledger, got %v", err)
	}
}

func TestConsumeToken(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()
	admin, user := seedAccounts(t, database)
	master, _ := CreateStockItem(ctx, database, model.LedgerMaster, admin.ID, NewStockItem{ProductID: "W", Name: "Widget", Stock: 10})
	order, _ := CreateOrder(ctx, database, master.ID, 1, user.ID, admin.ID)

	tests := []struct {
		name    string
		id      int64
		token   string
		action  string
		wantErr error
	}{
		{"accept ok", order.ID, order.AcceptToken, model.ActionAccept, nil},
		{"reject ok", order.ID, order.RejectToken, model.ActionReject, nil},
		{"reject token for accept", order.ID, order.RejectToken, model.ActionAccept, ErrInvalidToken},
		{"empty token", order.ID, "", model.ActionAccept, ErrInvalidToken},
		{"unknown action", order.ID, order.AcceptToken, "cancel", ErrInvalidToken},
		{"missing order", 999, order.AcceptToken, model.ActionAccept, ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ConsumeToken(ctx, database, tt.id, tt.token, tt.action)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}

	if err := TransitionOrder(ctx, database, order.ID, model.OrderAccepted); err != nil {
		t.Fatalf("TransitionOrder: %v", err)
	}
	if _, err := ConsumeToken(ctx, database, order.ID, order.AcceptToken, model.ActionAccept); !errors.Is(err, ErrAlreadySettled) {
		t.Errorf("expected ErrAlreadySettled after settlement, got %v", err)
	}
}

func TestTransitionOrderIsMonotonic(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()
	admin, user := seedAccounts(t, database)
	master, _ := CreateStockItem(ctx, database, model.LedgerMaster, admin.ID, NewStockItem{ProductID: "W", Name: "Widget", Stock: 10})
	order, _ := CreateOrder(ctx, database, master.ID, 1, user.ID, admin.ID)

	if err := TransitionOrder(ctx, database, order.ID, model.OrderPending); err == nil {
		t.Error("expected error transitioning to pending")
	}
	if err := TransitionOrder(ctx, database, order.ID, model.OrderRejected); err != nil {
		t.Fatalf("TransitionOrder: %v", err)
	}
	for _, status := range []string{model.OrderAccepted, model.OrderRejected} {
		if err := TransitionOrder(ctx, database, order.ID, status); !errors.Is(err, ErrAlreadySettled) {
			t.Errorf("expected ErrAlreadySettled for %s, got %v", status, err)
		}
	}

	got, _ := GetOrder(ctx, database, order.ID)
	if got.Status != model.OrderRejected || got.SettledAt == nil {
		t.Errorf("expected rejected with settled_at, got %q %v", got.Status, got.SettledAt)
	}

	if err := TransitionOrder(ctx, database, 999, model.OrderAccepted); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestOrderListingAndCounts(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()
	admin, user := seedAccounts(t, database)
	master, _ := CreateStockItem(ctx, database, model.LedgerMaster, admin.ID, NewStockItem{ProductID: "W", Name: "Widget", Stock: 10})

	first, _ := CreateOrder(ctx, database, master.ID, 1, user.ID, admin.ID)
	CreateOrder(ctx, database, master.ID, 2, user.ID, admin.ID)
	CreateOrder(ctx, database, master.ID, 3, user.ID, admin.ID)
	TransitionOrder(ctx, database, first.ID, model.OrderAccepted)

	from, err := ListOrdersFrom(ctx, database, user.ID)
	if err != nil {
		t.Fatalf("ListOrdersFrom: %v", err)
	}
	if len(from) != 3 {
		t.Errorf("expected 3 orders, got %d", len(from))
	}

	pending, _ := ListOrdersTo(ctx, database, admin.ID, model.OrderPending)
	if len(pending) != 2 {
		t.Errorf("expected 2 pending, got %d", len(pending))
	}

	if n, _ := CountOrdersFrom(ctx, database, user.ID); n != 3 {
		t.Errorf("expected 3 placed, got %d", n)
	}
	if n, _ := CountPendingTo(ctx, database, admin.ID); n != 2 {
		t.Errorf("expected 2 pending, got %d", n)
	}

	byNumber, _ := GetOrderByNumber(ctx, database, first.OrderNumber)
	if byNumber == nil || byNumber.ID != first.ID {
		t.Fatalf("GetOrderByNumber returned %v", byNumber)
	}

	if err := DeleteOrderByNumber(ctx, database, user.ID, first.OrderNumber); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected requester delete to be refused, got %v", err)
	}
	if err := DeleteOrderByNumber(ctx, database, admin.ID, first.OrderNumber); err != nil {
		t.Fatalf("DeleteOrderByNumber: %v", err)
	}

	n, err := ClearOrders(ctx, database, admin.ID)
	if err != nil {
		t.Fatalf("ClearOrders: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 cleared, got %d", n)
	}
}
