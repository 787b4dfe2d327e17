package settle

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/erazemk/narocila/internal/capacity"
	"github.com/erazemk/narocila/internal/db"
	"github.com/erazemk/narocila/internal/model"
	"github.com/erazemk/narocila/internal/store"
)

type recordingEmitter struct {
	mu     sync.Mutex
	events []model.Event
}

func (r *recordingEmitter) Emit(_ context.Context, events ...model.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, events...)
}

func (r *recordingEmitter) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, ev := range r.events {
		out = append(out, ev.Type)
	}
	return out
}

type fixture struct {
	db      *sql.DB
	engine  *Engine
	emitter *recordingEmitter
	admin   *model.User
	user    *model.User
	master  *model.StockItem
}

func newFixture(t *testing.T, masterStock int) *fixture {
	t.Helper()
	return newFixtureOn(t, db.NewTestDB(t), masterStock)
}

// newConcurrentFixture runs on a file-backed database whose pool holds
// several connections, so settlements race inside SQLite.
func newConcurrentFixture(t *testing.T, masterStock int) *fixture {
	t.Helper()
	return newFixtureOn(t, db.NewFileTestDB(t), masterStock)
}

func newFixtureOn(t *testing.T, database *sql.DB, masterStock int) *fixture {
	t.Helper()
	ctx := context.Background()

	admin, err := store.CreateUser(ctx, database, "admin", "hash", model.RoleAdmin, nil)
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	user, err := store.CreateUser(ctx, database, "bob", "hash", model.RoleUser, &admin.ID)
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	master, err := store.CreateStockItem(ctx, database, model.LedgerMaster, admin.ID, store.NewStockItem{
		ProductID: "W-1", Name: "Widget", Price: decimal.RequireFromString("12.40"), Stock: masterStock,
	})
	if err != nil {
		t.Fatalf("CreateStockItem: %v", err)
	}

	emitter := &recordingEmitter{}
	return &fixture{
		db:      database,
		engine:  &Engine{DB: database, Emitter: emitter, Policy: CapacityAdvisory},
		emitter: emitter,
		admin:   admin,
		user:    user,
		master:  master,
	}
}

func (f *fixture) place(t *testing.T, quantity int) *model.Order {
	t.Helper()
	order, err := f.engine.Place(context.Background(), f.master.ID, quantity, f.user.ID, f.admin.ID)
	if err != nil {
		t.Fatalf("Place: %v", err)
	}
	f.emitter.events = nil
	return order
}

func (f *fixture) masterStock(t *testing.T) int {
	t.Helper()
	item, err := store.GetStockItem(context.Background(), f.db, f.master.ID)
	if err != nil || item == nil {
		t.Fatalf("GetStockItem: %v", err)
	}
	return item.Stock
}

func (f *fixture) personal(t *testing.T) *model.StockItem {
	t.Helper()
	item, err := store.GetStockItemByProductID(context.Background(), f.db, model.LedgerPersonal, f.user.ID, "W-1")
	if err != nil {
		t.Fatalf("GetStockItemByProductID: %v", err)
	}
	return item
}

func (f *fixture) status(t *testing.T, id int64) string {
	t.Helper()
	order, err := store.GetOrder(context.Background(), f.db, id)
	if err != nil || order == nil {
		t.Fatalf("GetOrder: %v", err)
	}
	return order.Status
}

func TestPlaceNotifiesBothParties(t *testing.T) {
	f := newFixture(t, 10)

	order, err := f.engine.Place(context.Background(), f.master.ID, 4, f.user.ID, f.admin.ID)
	if err != nil {
		t.Fatalf("Place: %v", err)
	}
	if order.Status != model.OrderPending {
		t.Errorf("expected pending, got %q", order.Status)
	}

	if len(f.emitter.events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(f.emitter.events))
	}
	toAdmin, toUser := f.emitter.events[0], f.emitter.events[1]
	if toAdmin.RecipientKind != model.RecipientAdmin || toAdmin.Recipient != f.admin.ID {
		t.Errorf("unexpected admin event %+v", toAdmin)
	}
	if toUser.RecipientKind != model.RecipientUser || toUser.Recipient != f.user.ID {
		t.Errorf("unexpected user event %+v", toUser)
	}

	if _, err := f.engine.Place(context.Background(), 999, 1, f.user.ID, f.admin.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown product, got %v", err)
	}
}

func TestAcceptTransfersStock(t *testing.T) {
	f := newFixture(t, 10)
	order := f.place(t, 4)

	res, err := f.engine.AcceptWithToken(context.Background(), order.ID, order.AcceptToken)
	if err != nil {
		t.Fatalf("AcceptWithToken: %v", err)
	}

	if res.Order.Status != model.OrderAccepted {
		t.Errorf("expected accepted, got %q", res.Order.Status)
	}
	if got := f.masterStock(t); got != 6 {
		t.Errorf("expected master stock 6, got %d", got)
	}
	personal := f.personal(t)
	if personal == nil || personal.Stock != 4 {
		t.Fatalf("expected personal Widget with stock 4, got %+v", personal)
	}
	if !personal.Price.Equal(decimal.RequireFromString("12.4")) || personal.Name != "Widget" {
		t.Errorf("expected name and price copied from master, got %q %s", personal.Name, personal.Price)
	}

	if got := f.emitter.types(); len(got) != 1 || got[0] != model.NotifyOrderAccepted {
		t.Errorf("expected a single order_accepted event, got %v", got)
	}

	// A second accept on the settled order changes nothing.
	_, err = f.engine.AcceptWithToken(context.Background(), order.ID, order.AcceptToken)
	if !errors.Is(err, store.ErrAlreadySettled) {
		t.Fatalf("expected ErrAlreadySettled, got %v", err)
	}
	if got := f.masterStock(t); got != 6 {
		t.Errorf("expected master stock to stay 6, got %d", got)
	}
	if got := f.personal(t).Stock; got != 4 {
		t.Errorf("expected personal stock to stay 4, got %d", got)
	}
}

func TestAcceptCreditsExistingPersonalItem(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()

	store.CreditOrCreate(ctx, f.db, model.LedgerPersonal, f.user.ID, "W-1", "Widget", decimal.NewFromInt(1), 3)
	order := f.place(t, 2)

	res, err := f.engine.AcceptWithToken(ctx, order.ID, order.AcceptToken)
	if err != nil {
		t.Fatalf("AcceptWithToken: %v", err)
	}
	if res.Personal.Stock != 5 {
		t.Errorf("expected personal stock 5, got %d", res.Personal.Stock)
	}

	items, _ := store.ListStockItems(ctx, f.db, model.LedgerPersonal, f.user.ID)
	if len(items) != 1 {
		t.Errorf("expected one personal row per product, got %d", len(items))
	}
}

func TestAcceptInsufficientStockLeavesOrderPending(t *testing.T) {
	f := newFixture(t, 3)
	order := f.place(t, 5)

	_, err := f.engine.AcceptWithToken(context.Background(), order.ID, order.AcceptToken)
	var insufficient *store.InsufficientStockError
	if !errors.As(err, &insufficient) {
		t.Fatalf("expected InsufficientStockError, got %v", err)
	}
	if insufficient.Available != 3 || insufficient.Requested != 5 {
		t.Errorf("unexpected details %+v", insufficient)
	}

	if got := f.masterStock(t); got != 3 {
		t.Errorf("expected master stock 3, got %d", got)
	}
	if got := f.status(t, order.ID); got != model.OrderPending {
		t.Errorf("expected order to stay pending, got %q", got)
	}
	if f.personal(t) != nil {
		t.Error("expected no personal item")
	}
	if len(f.emitter.events) != 0 {
		t.Errorf("expected no events, got %v", f.emitter.types())
	}
}

func TestRejectNeverTouchesStock(t *testing.T) {
	f := newFixture(t, 10)
	order := f.place(t, 4)

	res, err := f.engine.RejectWithToken(context.Background(), order.ID, order.RejectToken)
	if err != nil {
		t.Fatalf("RejectWithToken: %v", err)
	}
	if res.Order.Status != model.OrderRejected {
		t.Errorf("expected rejected, got %q", res.Order.Status)
	}
	if got := f.masterStock(t); got != 10 {
		t.Errorf("expected master stock 10, got %d", got)
	}
	if f.personal(t) != nil {
		t.Error("expected no personal item")
	}
	if got := f.emitter.types(); len(got) != 1 || got[0] != model.NotifyOrderRejected {
		t.Errorf("expected order_rejected event, got %v", got)
	}

	// Rejected is terminal for both actions.
	if _, err := f.engine.AcceptWithToken(context.Background(), order.ID, order.AcceptToken); !errors.Is(err, store.ErrAlreadySettled) {
		t.Errorf("expected ErrAlreadySettled accepting a rejected order, got %v", err)
	}
	if _, err := f.engine.RejectWithToken(context.Background(), order.ID, order.RejectToken); !errors.Is(err, store.ErrAlreadySettled) {
		t.Errorf("expected ErrAlreadySettled rejecting twice, got %v", err)
	}
	if got := f.status(t, order.ID); got != model.OrderRejected {
		t.Errorf("expected rejected, got %q", got)
	}
}

func TestTokenMismatch(t *testing.T) {
	f := newFixture(t, 10)
	order := f.place(t, 4)

	tests := []struct {
		name string
		run  func() (*Result, error)
	}{
		{"accept with reject token", func() (*Result, error) {
			return f.engine.AcceptWithToken(context.Background(), order.ID, order.RejectToken)
		}},
		{"reject with accept token", func() (*Result, error) {
			return f.engine.RejectWithToken(context.Background(), order.ID, order.AcceptToken)
		}},
		{"garbage", func() (*Result, error) {
			return f.engine.AcceptWithToken(context.Background(), order.ID, "deadbeef")
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tt.run(); !errors.Is(err, store.ErrInvalidToken) {
				t.Errorf("expected ErrInvalidToken, got %v", err)
			}
		})
	}

	if got := f.status(t, order.ID); got != model.OrderPending {
		t.Errorf("expected pending, got %q", got)
	}
	if _, err := f.engine.AcceptWithToken(context.Background(), 999, order.AcceptToken); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestAcceptCapacityPolicies(t *testing.T) {
	tests := []struct {
		policy       CapacityPolicy
		wantAccepted bool
	}{
		{CapacityAdvisory, true},
		{CapacityEnforce, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.policy), func(t *testing.T) {
			f := newFixture(t, 50)
			f.engine.Policy = tt.policy
			ctx := context.Background()

			store.SetWarehouse(ctx, f.db, f.user.ID, 100, 0)
			store.CreateStockItem(ctx, f.db, model.LedgerPersonal, f.user.ID, store.NewStockItem{ProductID: "OTHER", Name: "Other", Stock: 95})
			order := f.place(t, 10)

			res, err := f.engine.AcceptWithToken(ctx, order.ID, order.AcceptToken)
			total, _ := store.TotalStock(ctx, f.db, model.LedgerPersonal, f.user.ID)

			if tt.wantAccepted {
				if err != nil {
					t.Fatalf("AcceptWithToken: %v", err)
				}
				if res.Capacity == nil || res.Capacity.Valid {
					t.Fatalf("expected failed advisory check in result, got %+v", res.Capacity)
				}
				if res.Capacity.ExcessAmount != 5 || res.Capacity.RemainingCapacity != 5 {
					t.Errorf("expected excess 5 and remaining 5, got %+v", res.Capacity)
				}
				if total != 105 {
					t.Errorf("expected personal total 105, got %d", total)
				}
				if got := f.masterStock(t); got != 40 {
					t.Errorf("expected master stock 40, got %d", got)
				}
				return
			}

			var exceeded *capacity.ExceededError
			if !errors.As(err, &exceeded) {
				t.Fatalf("expected ExceededError, got %v", err)
			}
			if exceeded.Result.ExcessAmount != 5 || exceeded.Result.RemainingCapacity != 5 {
				t.Errorf("expected excess 5 and remaining 5, got %+v", exceeded.Result)
			}
			if total != 95 {
				t.Errorf("expected personal total 95, got %d", total)
			}
			if got := f.masterStock(t); got != 50 {
				t.Errorf("expected master stock 50 after refusal, got %d", got)
			}
			if got := f.status(t, order.ID); got != model.OrderPending {
				t.Errorf("expected pending, got %q", got)
			}
		})
	}
}

func TestAcceptRaisesLowStockForFulfiller(t *testing.T) {
	f := newFixture(t, 10)
	store.SetWarehouse(context.Background(), f.db, f.admin.ID, 0, 8)
	order := f.place(t, 4)

	if _, err := f.engine.AcceptWithToken(context.Background(), order.ID, order.AcceptToken); err != nil {
		t.Fatalf("AcceptWithToken: %v", err)
	}

	var low *model.Event
	for i := range f.emitter.events {
		if f.emitter.events[i].Type == model.NotifyLowStock {
			low = &f.emitter.events[i]
		}
	}
	if low == nil {
		t.Fatalf("expected low_stock event, got %v", f.emitter.types())
	}
	if low.Recipient != f.admin.ID || low.RecipientKind != model.RecipientAdmin {
		t.Errorf("expected low stock to reach the admin, got %+v", low)
	}
	if low.CurrentStock != 6 || low.MinQuantity != 8 {
		t.Errorf("expected 6/8, got %d/%d", low.CurrentStock, low.MinQuantity)
	}
}

func TestAdminSettle(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()
	order := f.place(t, 4)

	if _, err := f.engine.AdminSettle(ctx, order.OrderNumber, "maybe", f.admin.ID); !errors.Is(err, ErrInvalidDecision) {
		t.Errorf("expected ErrInvalidDecision, got %v", err)
	}
	if _, err := f.engine.AdminSettle(ctx, order.OrderNumber, model.OrderAccepted, f.user.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound for a non-fulfiller, got %v", err)
	}
	if _, err := f.engine.AdminSettle(ctx, "ORD-missing", model.OrderAccepted, f.admin.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown order, got %v", err)
	}

	res, err := f.engine.AdminSettle(ctx, order.OrderNumber, model.OrderAccepted, f.admin.ID)
	if err != nil {
		t.Fatalf("AdminSettle: %v", err)
	}
	if res.Order.Status != model.OrderAccepted || res.Personal.Stock != 4 {
		t.Errorf("unexpected result order=%q personal=%d", res.Order.Status, res.Personal.Stock)
	}

	if _, err := f.engine.AdminSettle(ctx, order.OrderNumber, model.OrderRejected, f.admin.ID); !errors.Is(err, store.ErrAlreadySettled) {
		t.Errorf("expected ErrAlreadySettled, got %v", err)
	}
}

func TestAdminSettleFailsWhenMasterItemIsGone(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()
	order := f.place(t, 4)

	store.DeleteStockItem(ctx, f.db, f.master.ID)

	_, err := f.engine.AdminSettle(ctx, order.OrderNumber, model.OrderAccepted, f.admin.ID)
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if got := f.status(t, order.ID); got != model.OrderPending {
		t.Errorf("expected pending, got %q", got)
	}
	if f.personal(t) != nil {
		t.Error("expected no personal credit")
	}

	// Rejecting still works without the master item.
	if _, err := f.engine.AdminSettle(ctx, order.OrderNumber, model.OrderRejected, f.admin.ID); err != nil {
		t.Errorf("AdminSettle reject: %v", err)
	}
}

func TestConcurrentAcceptOfSameOrder(t *testing.T) {
	f := newConcurrentFixture(t, 10)
	order := f.place(t, 4)

	const callers = 8
	var wg sync.WaitGroup
	start := make(chan struct{})
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := f.engine.AcceptWithToken(context.Background(), order.ID, order.AcceptToken)
			errs <- err
		}()
	}
	close(start)
	wg.Wait()
	close(errs)

	var ok, settled int
	for err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, store.ErrAlreadySettled):
			settled++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if ok != 1 || settled != callers-1 {
		t.Errorf("expected 1 success and %d already settled, got %d and %d", callers-1, ok, settled)
	}
	if got := f.masterStock(t); got != 6 {
		t.Errorf("expected master stock 6, got %d", got)
	}
	if got := f.personal(t).Stock; got != 4 {
		t.Errorf("expected personal stock 4, got %d", got)
	}
}

func TestConcurrentAcceptsNeverOverdraw(t *testing.T) {
	f := newConcurrentFixture(t, 10)

	var orders []*model.Order
	for i := 0; i < 4; i++ {
		orders = append(orders, f.place(t, 4))
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	var accepted, refused int
	start := make(chan struct{})
	for _, o := range orders {
		wg.Add(1)
		go func(o *model.Order) {
			defer wg.Done()
			<-start
			_, err := f.engine.AcceptWithToken(context.Background(), o.ID, o.AcceptToken)
			var insufficient *store.InsufficientStockError
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				accepted++
			case errors.As(err, &insufficient):
				refused++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(o)
	}
	close(start)
	wg.Wait()

	if accepted != 2 || refused != 2 {
		t.Errorf("expected 2 accepted and 2 refused, got %d and %d", accepted, refused)
	}
	if got := f.masterStock(t); got != 2 {
		t.Errorf("expected master stock 2, got %d", got)
	}
}

func TestParsePolicy(t *testing.T) {
	tests := []struct {
		in      string
		want    CapacityPolicy
		wantErr bool
	}{
		{"", CapacityAdvisory, false},
		{"advisory", CapacityAdvisory, false},
		{"enforce", CapacityEnforce, false},
		{"strict", "", true},
	}
	for _, tt := range tests {
		got, err := ParsePolicy(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParsePolicy(%q) = %q, %v", tt.in, got, err)
		}
	}
}
