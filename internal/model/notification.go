package model

import "time"

// Notification types.
const (
	NotifyOrderPlaced   = "order_placed"
	NotifyOrderAccepted = "order_accepted"
	NotifyOrderRejected = "order_rejected"
	NotifyLowStock      = "low_stock"
	NotifyNewUser       = "new_user"
)

// Recipient kinds.
const (
	RecipientUser  = "user"
	RecipientAdmin = "admin"
)

// Notification is a durable message addressed to one account.
type Notification struct {
	ID            int64     `json:"id"`
	Type          string    `json:"type"`
	Title         string    `json:"title"`
	Message       string    `json:"message"`
	Recipient     int64     `json:"recipient"`
	RecipientKind string    `json:"recipient_kind"`
	RelatedOrder  *int64    `json:"related_order,omitempty"`
	Read          bool      `json:"read"`
	CreatedAt     time.Time `json:"created_at"`
}
