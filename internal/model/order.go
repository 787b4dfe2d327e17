package model

import "time"

// Order statuses.
const (
	OrderPending  = "pending"
	OrderAccepted = "accepted"
	OrderRejected = "rejected"
)

// Token actions.
const (
	ActionAccept = "accept"
	ActionReject = "reject"
)

// Order is a request by a user for stock from their admin's master ledger.
type Order struct {
	ID          int64      `json:"id"`
	OrderNumber string     `json:"order_number"`
	ProductRef  int64      `json:"product_ref"`
	ProductName string     `json:"product_name"`
	Quantity    int        `json:"quantity"`
	Status      string     `json:"status"`
	AcceptToken string     `json:"-"`
	RejectToken string     `json:"-"`
	OrderFrom   int64      `json:"order_from"`
	OrderTo     int64      `json:"order_to"`
	FromName    string     `json:"from_name,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	SettledAt   *time.Time `json:"settled_at,omitempty"`
}

var orderTransitions = map[string]map[string]bool{
	OrderPending: {OrderAccepted: true, OrderRejected: true},
}

// CanTransition reports whether an order may move from one status to another.
// Accepted and rejected are terminal.
func CanTransition(from, to string) bool {
	return orderTransitions[from][to]
}

// Settled reports whether the order has left pending.
func (o *Order) Settled() bool {
	return o.Status != OrderPending
}
