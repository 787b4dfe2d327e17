// Package settle moves orders from pending to accepted or rejected and
// applies the stock transfer between the fulfiller's master ledger and the
// requester's personal ledger.
package settle

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/erazemk/narocila/internal/capacity"
	"github.com/erazemk/narocila/internal/model"
	"github.com/erazemk/narocila/internal/store"
)

// CapacityPolicy decides what a failed capacity check does to an acceptance.
type CapacityPolicy string

const (
	// CapacityAdvisory logs the failed check and accepts anyway.
	CapacityAdvisory CapacityPolicy = "advisory"
	// CapacityEnforce refuses the acceptance and leaves the order pending.
	CapacityEnforce CapacityPolicy = "enforce"
)

// ParsePolicy parses a capacity policy name. Empty means advisory.
func ParsePolicy(s string) (CapacityPolicy, error) {
	switch CapacityPolicy(s) {
	case "", CapacityAdvisory:
		return CapacityAdvisory, nil
	case CapacityEnforce:
		return CapacityEnforce, nil
	}
	return "", fmt.Errorf("unknown capacity policy %q (want advisory or enforce)", s)
}

// ErrInvalidDecision is returned for a settle decision other than accepted or rejected.
var ErrInvalidDecision = errors.New("decision must be accepted or rejected")

// Emitter receives the events of a committed step.
type Emitter interface {
	Emit(ctx context.Context, events ...model.Event)
}

// Engine runs order placement and settlement.
type Engine struct {
	DB      *sql.DB
	Emitter Emitter
	Policy  CapacityPolicy
	Logger  *slog.Logger
}

// Result is the outcome of a settlement.
type Result struct {
	Order    *model.Order     `json:"order"`
	Master   *model.StockItem `json:"master,omitempty"`
	Personal *model.StockItem `json:"personal,omitempty"`
	Capacity *capacity.Result `json:"capacity,omitempty"`
	Events   []model.Event    `json:"-"`
}

func (e *Engine) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

func (e *Engine) emit(ctx context.Context, events []model.Event) {
	if e.Emitter == nil || len(events) == 0 {
		return
	}
	e.Emitter.Emit(ctx, events...)
}

// Place records a pending order and notifies both parties.
func (e *Engine) Place(ctx context.Context, productRef int64, quantity int, requester, fulfiller int64) (*model.Order, error) {
	order, err := store.CreateOrder(ctx, e.DB, productRef, quantity, requester, fulfiller)
	if err != nil {
		return nil, err
	}

	e.logger().Info("order placed", "order", order.OrderNumber, "product", order.ProductName,
		"quantity", order.Quantity, "from", requester, "to", fulfiller)

	e.emit(ctx, []model.Event{
		orderEvent(model.NotifyOrderPlaced, order, order.OrderTo, model.RecipientAdmin),
		orderEvent(model.NotifyOrderPlaced, order, order.OrderFrom, model.RecipientUser),
	})
	return order, nil
}

// AcceptWithToken accepts an order on presentation of its accept token.
func (e *Engine) AcceptWithToken(ctx context.Context, orderID int64, token string) (*Result, error) {
	return e.run(ctx, model.OrderAccepted, func(ctx context.Context, tx *sql.Tx) (*model.Order, error) {
		return store.ConsumeToken(ctx, tx, orderID, token, model.ActionAccept)
	})
}

// RejectWithToken rejects an order on presentation of its reject token.
func (e *Engine) RejectWithToken(ctx context.Context, orderID int64, token string) (*Result, error) {
	return e.run(ctx, model.OrderRejected, func(ctx context.Context, tx *sql.Tx) (*model.Order, error) {
		return store.ConsumeToken(ctx, tx, orderID, token, model.ActionReject)
	})
}

// AdminSettle settles an order addressed to fulfiller without a token.
func (e *Engine) AdminSettle(ctx context.Context, orderNumber, decision string, fulfiller int64) (*Result, error) {
	if decision != model.OrderAccepted && decision != model.OrderRejected {
		return nil, ErrInvalidDecision
	}

	return e.run(ctx, decision, func(ctx context.Context, tx *sql.Tx) (*model.Order, error) {
		order, err := store.GetOrderByNumber(ctx, tx, orderNumber)
		if err != nil {
			return nil, err
		}
		if order == nil || order.OrderTo != fulfiller {
			return nil, store.ErrNotFound
		}
		if order.Settled() {
			return nil, store.ErrAlreadySettled
		}
		return order, nil
	})
}

// run settles one order in a single transaction. Nothing is written unless
// every step succeeds; events go out only after commit.
func (e *Engine) run(ctx context.Context, decision string, find func(context.Context, *sql.Tx) (*model.Order, error)) (*Result, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	order, err := find(ctx, tx)
	if err != nil {
		return nil, err
	}

	var res *Result
	if decision == model.OrderAccepted {
		res, err = e.accept(ctx, tx, order)
	} else {
		res, err = e.reject(ctx, tx, order)
	}
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing settlement: %w", err)
	}

	if res.Order, err = store.GetOrder(ctx, e.DB, order.ID); err != nil {
		return nil, err
	}

	e.emit(ctx, res.Events)
	return res, nil
}

func (e *Engine) accept(ctx context.Context, tx *sql.Tx, order *model.Order) (*Result, error) {
	log := e.logger().With("order", order.OrderNumber)

	master, err := store.GetOwnedStockItem(ctx, tx, model.LedgerMaster, order.OrderTo, order.ProductRef)
	if err != nil {
		return nil, err
	}
	if master == nil {
		log.Warn("order references missing master item", "product_ref", order.ProductRef)
		return nil, fmt.Errorf("master item %d: %w", order.ProductRef, store.ErrNotFound)
	}

	if err := store.TransitionOrder(ctx, tx, order.ID, model.OrderAccepted); err != nil {
		return nil, err
	}

	master, err = store.DecrementStock(ctx, tx, master.ID, order.Quantity)
	if err != nil {
		var insufficient *store.InsufficientStockError
		if errors.As(err, &insufficient) {
			log.Info("order acceptance refused", "available", insufficient.Available, "requested", insufficient.Requested)
		}
		return nil, err
	}

	res := &Result{Master: master}

	guard := capacity.Guard{Logger: log}

	low, err := capacity.CheckLowStock(ctx, tx, order.OrderTo, model.LedgerMaster)
	if err != nil {
		log.Warn("low stock check failed", "owner", order.OrderTo, "error", err)
	} else if low != nil {
		res.Events = append(res.Events, *low)
	}

	check := guard.Validate(ctx, tx, order.OrderFrom, model.LedgerPersonal, order.Quantity)
	res.Capacity = &check
	if !check.Valid {
		if e.Policy == CapacityEnforce {
			log.Info("order acceptance refused", "reason", "capacity", "excess", check.ExcessAmount)
			return nil, &capacity.ExceededError{Result: check}
		}
		log.Warn("accepting order over requester capacity", "excess", check.ExcessAmount, "limit", check.StorageLimit)
	}

	res.Personal, err = store.CreditOrCreate(ctx, tx, model.LedgerPersonal, order.OrderFrom,
		master.ProductID, master.Name, master.Price, order.Quantity)
	if err != nil {
		return nil, err
	}

	res.Events = append(res.Events, orderEvent(model.NotifyOrderAccepted, order, order.OrderFrom, model.RecipientUser))

	log.Info("order accepted", "product", master.ProductID, "quantity", order.Quantity,
		"master_stock", master.Stock, "personal_stock", res.Personal.Stock)
	return res, nil
}

func (e *Engine) reject(ctx context.Context, tx *sql.Tx, order *model.Order) (*Result, error) {
	if err := store.TransitionOrder(ctx, tx, order.ID, model.OrderRejected); err != nil {
		return nil, err
	}

	e.logger().Info("order rejected", "order", order.OrderNumber)
	return &Result{
		Events: []model.Event{orderEvent(model.NotifyOrderRejected, order, order.OrderFrom, model.RecipientUser)},
	}, nil
}

func orderEvent(typ string, order *model.Order, recipient int64, kind string) model.Event {
	id := order.ID
	return model.Event{
		Type:          typ,
		Recipient:     recipient,
		RecipientKind: kind,
		OrderID:       &id,
		OrderNumber:   order.OrderNumber,
		ProductName:   order.ProductName,
		Quantity:      order.Quantity,
	}
}
