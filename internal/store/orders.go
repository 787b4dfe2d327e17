package store

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"database/sql"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"

	"github.com/erazemk/narocila/internal/model"
)

// tokenBytes is the entropy of each capability token.
const tokenBytes = 16

const orderColumns = `o.id, o.order_number, o.product_ref, o.product_name, o.quantity, o.status,
	o.accept_token, o.reject_token, o.order_from, o.order_to, COALESCE(u.username, ''),
	o.created_at, o.updated_at, o.settled_at`

const orderFrom = ` FROM orders o LEFT JOIN users u ON u.id = o.order_from`

func scanOrder(row interface{ Scan(...any) error }) (*model.Order, error) {
	o := &model.Order{}
	err := row.Scan(&o.ID, &o.OrderNumber, &o.ProductRef, &o.ProductName, &o.Quantity, &o.Status,
		&o.AcceptToken, &o.RejectToken, &o.OrderFrom, &o.OrderTo, &o.FromName,
		&o.CreatedAt, &o.UpdatedAt, &o.SettledAt)
	if err != nil {
		return nil, err
	}
	return o, nil
}

func newToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// NewOrderNumber builds a human-readable order number that embeds the
// product id.
func NewOrderNumber(productID string) string {
	return fmt.Sprintf("ORD-%s-%s", productID, uuid.NewString())
}

// CreateOrder records a pending order from requester to fulfiller for an item
// in the fulfiller's master ledger. Returns ErrNotFound if the item does not
// exist there.
func CreateOrder(ctx context.Context, q DBTX, productRef int64, quantity int, requester, fulfiller int64) (*model.Order, error) {
	if quantity <= 0 {
		return nil, &ValidationError{Field: "quantity", Reason: "must be positive"}
	}

	master, err := GetOwnedStockItem(ctx, q, model.LedgerMaster, fulfiller, productRef)
	if err != nil {
		return nil, err
	}
	if master == nil {
		return nil, ErrNotFound
	}

	acceptToken, err := newToken()
	if err != nil {
		return nil, fmt.Errorf("generating accept token: %w", err)
	}
	rejectToken, err := newToken()
	if err != nil {
		return nil, fmt.Errorf("generating reject token: %w", err)
	}

	result, err := q.ExecContext(ctx,
		`INSERT INTO orders (order_number, product_ref, product_name, quantity,
		                     accept_token, reject_token, order_from, order_to)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		NewOrderNumber(master.ProductID), master.ID, master.Name, quantity,
		acceptToken, rejectToken, requester, fulfiller,
	)
	if err != nil {
		return nil, fmt.Errorf("creating order: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("getting order id: %w", err)
	}
	return GetOrder(ctx, q, id)
}

// GetOrder returns an order by ID.
func GetOrder(ctx context.Context, q DBTX, id int64) (*model.Order, error) {
	o, err := scanOrder(q.QueryRowContext(ctx,
		`SELECT `+orderColumns+orderFrom+` WHERE o.id = ?`, id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting order: %w", err)
	}
	return o, nil
}

// GetOrderByNumber returns an order by its order number.
func GetOrderByNumber(ctx context.Context, q DBTX, number string) (*model.Order, error) {
	o, err := scanOrder(q.QueryRowContext(ctx,
		`SELECT `+orderColumns+orderFrom+` WHERE o.order_number = ?`, number,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting order by number: %w", err)
	}
	return o, nil
}

// ListOrdersFrom returns orders placed by a requester, most recently updated first.
func ListOrdersFrom(ctx context.Context, q DBTX, requester int64) ([]model.Order, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+orderColumns+orderFrom+`
		 WHERE o.order_from = ?
		 ORDER BY o.updated_at DESC, o.id DESC`, requester,
	)
	if err != nil {
		return nil, fmt.Errorf("listing orders: %w", err)
	}
	defer rows.Close()
	return scanOrders(rows)
}

// ListOrdersTo returns orders addressed to a fulfiller, optionally filtered by status.
func ListOrdersTo(ctx context.Context, q DBTX, fulfiller int64, status string) ([]model.Order, error) {
	query := `SELECT ` + orderColumns + orderFrom + ` WHERE o.order_to = ?`
	args := []any{fulfiller}
	if status != "" {
		query += ` AND o.status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY o.created_at DESC, o.id DESC`

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing incoming orders: %w", err)
	}
	defer rows.Close()
	return scanOrders(rows)
}

func scanOrders(rows *sql.Rows) ([]model.Order, error) {
	var orders []model.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning order: %w", err)
		}
		orders = append(orders, *o)
	}
	return orders, rows.Err()
}

// CountOrdersFrom counts all orders placed by a requester.
func CountOrdersFrom(ctx context.Context, q DBTX, requester int64) (int, error) {
	var n int
	err := q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM orders WHERE order_from = ?`, requester,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting orders: %w", err)
	}
	return n, nil
}

// CountPendingTo counts pending orders addressed to a fulfiller.
func CountPendingTo(ctx context.Context, q DBTX, fulfiller int64) (int, error) {
	var n int
	err := q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM orders WHERE order_to = ? AND status = ?`,
		fulfiller, model.OrderPending,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting pending orders: %w", err)
	}
	return n, nil
}

// ConsumeToken checks a capability token for the given action. Possession of
// the right token is the only authorization. A token stops working once the
// order has been settled.
func ConsumeToken(ctx context.Context, q DBTX, id int64, token, action string) (*model.Order, error) {
	o, err := GetOrder(ctx, q, id)
	if err != nil {
		return nil, err
	}
	if o == nil {
		return nil, ErrNotFound
	}

	var stored string
	switch action {
	case model.ActionAccept:
		stored = o.AcceptToken
	case model.ActionReject:
		stored = o.RejectToken
	default:
		return nil, ErrInvalidToken
	}
	if token == "" || subtle.ConstantTimeCompare([]byte(stored), []byte(token)) != 1 {
		return nil, ErrInvalidToken
	}

	if o.Settled() {
		return nil, ErrAlreadySettled
	}
	return o, nil
}

// TransitionOrder moves a pending order to a terminal status with a single
// conditional write. Returns ErrAlreadySettled when the order has left
// pending, including when a concurrent caller got there first.
func TransitionOrder(ctx context.Context, q DBTX, id int64, status string) error {
	if !model.CanTransition(model.OrderPending, status) {
		return &ValidationError{Field: "status", Reason: fmt.Sprintf("%q is not a settlement outcome", status)}
	}

	result, err := q.ExecContext(ctx,
		`UPDATE orders
		 SET status = ?, updated_at = CURRENT_TIMESTAMP, settled_at = CURRENT_TIMESTAMP
		 WHERE id = ? AND status = ?`,
		status, id, model.OrderPending,
	)
	if err != nil {
		return fmt.Errorf("transitioning order: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking order transition: %w", err)
	}
	if n == 1 {
		return nil
	}

	o, err := GetOrder(ctx, q, id)
	if err != nil {
		return err
	}
	if o == nil {
		return ErrNotFound
	}
	return ErrAlreadySettled
}

// DeleteOrderByNumber deletes one order addressed to the fulfiller.
func DeleteOrderByNumber(ctx context.Context, q DBTX, fulfiller int64, number string) error {
	result, err := q.ExecContext(ctx,
		`DELETE FROM orders WHERE order_number = ? AND order_to = ?`, number, fulfiller,
	)
	if err != nil {
		return fmt.Errorf("deleting order: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ClearOrders deletes every order addressed to the fulfiller.
func ClearOrders(ctx context.Context, q DBTX, fulfiller int64) (int64, error) {
	result, err := q.ExecContext(ctx, `DELETE FROM orders WHERE order_to = ?`, fulfiller)
	if err != nil {
		return 0, fmt.Errorf("clearing orders: %w", err)
	}
	n, _ := result.RowsAffected()
	return n, nil
}
