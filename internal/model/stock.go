package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Stock ledgers.
const (
	LedgerMaster   = "master"
	LedgerPersonal = "personal"
)

// StockItem is one row in a stock ledger. Master items belong to admins,
// personal items to users.
type StockItem struct {
	ID        int64           `json:"id"`
	Ledger    string          `json:"ledger"`
	OwnerID   int64           `json:"owner_id"`
	ProductID string          `json:"product_id"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Stock     int             `json:"stock"`
	HasImage  bool            `json:"has_image"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}
