package model

import "time"

// Warehouse holds an owner's storage ceiling and low-stock threshold.
// Zero disables either check.
type Warehouse struct {
	OwnerID     int64     `json:"owner_id"`
	Storage     int       `json:"storage"`
	MinQuantity int       `json:"min_quantity"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Capacity statuses reported after a warehouse update.
const (
	CapacityOK        = "OK"
	CapacityOverLimit = "OVER_LIMIT"
)
