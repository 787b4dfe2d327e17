package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/erazemk/narocila/internal/model"
)

// GetWarehouse returns an owner's warehouse config, or nil if none is set.
func GetWarehouse(ctx context.Context, q DBTX, ownerID int64) (*model.Warehouse, error) {
	w := &model.Warehouse{}
	err := q.QueryRowContext(ctx,
		`SELECT owner_id, storage, min_quantity, updated_at FROM warehouses WHERE owner_id = ?`,
		ownerID,
	).Scan(&w.OwnerID, &w.Storage, &w.MinQuantity, &w.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting warehouse: %w", err)
	}
	return w, nil
}

// SetWarehouse creates or replaces an owner's warehouse config.
func SetWarehouse(ctx context.Context, q DBTX, ownerID int64, storage, minQuantity int) (*model.Warehouse, error) {
	if storage < 0 || minQuantity < 0 {
		return nil, &ValidationError{Field: "storage and min_quantity", Reason: "must not be negative"}
	}

	_, err := q.ExecContext(ctx,
		`INSERT INTO warehouses (owner_id, storage, min_quantity) VALUES (?, ?, ?)
		 ON CONFLICT (owner_id) DO UPDATE
		 SET storage = excluded.storage, min_quantity = excluded.min_quantity,
		     updated_at = CURRENT_TIMESTAMP`,
		ownerID, storage, minQuantity,
	)
	if err != nil {
		return nil, fmt.Errorf("setting warehouse: %w", err)
	}
	return GetWarehouse(ctx, q, ownerID)
}
