package model

// Event is a domain fact produced by a workflow step. Events are collected
// while the step runs and handed to the notifier once it has committed.
type Event struct {
	Type          string `json:"type"`
	Recipient     int64  `json:"recipient"`
	RecipientKind string `json:"recipient_kind"`

	OrderID     *int64 `json:"order_id,omitempty"`
	OrderNumber string `json:"order_number,omitempty"`
	ProductName string `json:"product_name,omitempty"`
	Quantity    int    `json:"quantity,omitempty"`

	// Low stock.
	CurrentStock int `json:"current_stock,omitempty"`
	MinQuantity  int `json:"min_quantity,omitempty"`

	// New user.
	Username string `json:"username,omitempty"`
}
