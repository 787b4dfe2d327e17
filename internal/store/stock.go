package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/erazemk/narocila/internal/model"
)

// NewStockItem holds the caller-supplied fields of a stock item.
type NewStockItem struct {
	ProductID string          `json:"product_id"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Stock     int             `json:"stock"`
}

const stockColumns = `id, ledger, owner_id, product_id, name, price, stock,
	image IS NOT NULL, created_at, updated_at`

func scanStockItem(row interface{ Scan(...any) error }) (*model.StockItem, error) {
	s := &model.StockItem{}
	err := row.Scan(&s.ID, &s.Ledger, &s.OwnerID, &s.ProductID, &s.Name, &s.Price, &s.Stock,
		&s.HasImage, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// CreateStockItem inserts an item into an owner's ledger.
func CreateStockItem(ctx context.Context, q DBTX, ledger string, ownerID int64, in NewStockItem) (*model.StockItem, error) {
	if in.Stock < 0 {
		return nil, &ValidationError{Field: "stock", Reason: "must not be negative"}
	}

	result, err := q.ExecContext(ctx,
		`INSERT INTO stock_items (ledger, owner_id, product_id, name, price, stock)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		ledger, ownerID, in.ProductID, in.Name, in.Price.String(), in.Stock,
	)
	if isUniqueViolation(err) {
		return nil, &DuplicateKeyError{Field: "Product ID", Key: in.ProductID}
	}
	if err != nil {
		return nil, fmt.Errorf("creating stock item: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("getting stock item id: %w", err)
	}
	return GetStockItem(ctx, q, id)
}

// CreateStockItems inserts a batch into one ledger. Run it inside WithTx to
// make the batch all-or-nothing.
func CreateStockItems(ctx context.Context, q DBTX, ledger string, ownerID int64, batch []NewStockItem) ([]model.StockItem, error) {
	created := make([]model.StockItem, 0, len(batch))
	for _, in := range batch {
		item, err := CreateStockItem(ctx, q, ledger, ownerID, in)
		if err != nil {
			return nil, err
		}
		created = append(created, *item)
	}
	return created, nil
}

// GetStockItem returns a stock item by ID.
func GetStockItem(ctx context.Context, q DBTX, id int64) (*model.StockItem, error) {
	s, err := scanStockItem(q.QueryRowContext(ctx,
		`SELECT `+stockColumns+` FROM stock_items WHERE id = ?`, id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting stock item: %w", err)
	}
	return s, nil
}

// GetOwnedStockItem returns a stock item only if it sits in the given ledger
// of the given owner.
func GetOwnedStockItem(ctx context.Context, q DBTX, ledger string, ownerID, id int64) (*model.StockItem, error) {
	s, err := scanStockItem(q.QueryRowContext(ctx,
		`SELECT `+stockColumns+` FROM stock_items WHERE id = ? AND ledger = ? AND owner_id = ?`,
		id, ledger, ownerID,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting stock item: %w", err)
	}
	return s, nil
}

// GetStockItemByProductID returns an owner's item by its product id.
func GetStockItemByProductID(ctx context.Context, q DBTX, ledger string, ownerID int64, productID string) (*model.StockItem, error) {
	s, err := scanStockItem(q.QueryRowContext(ctx,
		`SELECT `+stockColumns+` FROM stock_items
		 WHERE ledger = ? AND owner_id = ? AND product_id = ?`,
		ledger, ownerID, productID,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting stock item by product id: %w", err)
	}
	return s, nil
}

// ListStockItems returns an owner's ledger, newest first.
func ListStockItems(ctx context.Context, q DBTX, ledger string, ownerID int64) ([]model.StockItem, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+stockColumns+` FROM stock_items
		 WHERE ledger = ? AND owner_id = ?
		 ORDER BY created_at DESC, id DESC`,
		ledger, ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing stock items: %w", err)
	}
	defer rows.Close()

	var items []model.StockItem
	for rows.Next() {
		s, err := scanStockItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning stock item: %w", err)
		}
		items = append(items, *s)
	}
	return items, rows.Err()
}

// UpdateStockItem overwrites name and price and moves stock from the value
// the caller read to the new one. The write only lands while stock still
// equals from; otherwise ErrStockChanged is returned and nothing changes.
func UpdateStockItem(ctx context.Context, q DBTX, id int64, name string, price decimal.Decimal, from, to int) error {
	if to < 0 {
		return &ValidationError{Field: "stock", Reason: "must not be negative"}
	}
	result, err := q.ExecContext(ctx,
		`UPDATE stock_items SET name = ?, price = ?, stock = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ? AND stock = ?`,
		name, price.String(), to, id, from,
	)
	if err != nil {
		return fmt.Errorf("updating stock item: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking stock update: %w", err)
	}
	if n > 0 {
		return nil
	}

	current, err := GetStockItem(ctx, q, id)
	if err != nil {
		return err
	}
	if current == nil {
		return ErrNotFound
	}
	return ErrStockChanged
}

// DeleteStockItem removes a stock item.
func DeleteStockItem(ctx context.Context, q DBTX, id int64) error {
	result, err := q.ExecContext(ctx, `DELETE FROM stock_items WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting stock item: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DecrementStock subtracts amount from an item in one conditional write.
// Two concurrent callers can never take the same units.
func DecrementStock(ctx context.Context, q DBTX, id int64, amount int) (*model.StockItem, error) {
	if amount <= 0 {
		return nil, &ValidationError{Field: "amount", Reason: "must be positive"}
	}

	result, err := q.ExecContext(ctx,
		`UPDATE stock_items SET stock = stock - ?, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ? AND stock >= ?`,
		amount, id, amount,
	)
	if err != nil {
		return nil, fmt.Errorf("decrementing stock: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("checking decrement: %w", err)
	}

	item, err := GetStockItem(ctx, q, id)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, ErrNotFound
	}
	if n == 0 {
		return nil, &InsufficientStockError{Available: item.Stock, Requested: amount}
	}
	return item, nil
}

// CreditOrCreate adds amount to the owner's item with the given product id,
// creating it with the given name and price when absent. An existing item
// keeps its own price.
func CreditOrCreate(ctx context.Context, q DBTX, ledger string, ownerID int64, productID, name string, price decimal.Decimal, amount int) (*model.StockItem, error) {
	if amount <= 0 {
		return nil, &ValidationError{Field: "amount", Reason: "must be positive"}
	}

	_, err := q.ExecContext(ctx,
		`INSERT INTO stock_items (ledger, owner_id, product_id, name, price, stock)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (ledger, owner_id, product_id)
		 DO UPDATE SET stock = stock + excluded.stock, updated_at = CURRENT_TIMESTAMP`,
		ledger, ownerID, productID, name, price.String(), amount,
	)
	if err != nil {
		return nil, fmt.Errorf("crediting stock: %w", err)
	}

	return GetStockItemByProductID(ctx, q, ledger, ownerID, productID)
}

// TotalStock sums stock across an owner's ledger. Zero when empty.
func TotalStock(ctx context.Context, q DBTX, ledger string, ownerID int64) (int, error) {
	var total int
	err := q.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(stock), 0) FROM stock_items WHERE ledger = ? AND owner_id = ?`,
		ledger, ownerID,
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("summing stock: %w", err)
	}
	return total, nil
}

// CountOutOfStock counts an owner's items with zero stock.
func CountOutOfStock(ctx context.Context, q DBTX, ledger string, ownerID int64) (int, error) {
	var count int
	err := q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM stock_items WHERE ledger = ? AND owner_id = ? AND stock = 0`,
		ledger, ownerID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting out of stock items: %w", err)
	}
	return count, nil
}

// SetStockImage stores a processed product image.
func SetStockImage(ctx context.Context, q DBTX, id int64, data []byte, mime string) error {
	result, err := q.ExecContext(ctx,
		`UPDATE stock_items SET image = ?, image_mime = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		data, mime, id,
	)
	if err != nil {
		return fmt.Errorf("setting stock image: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetStockImage returns the stored image, or nil data when there is none.
func GetStockImage(ctx context.Context, q DBTX, id int64) ([]byte, string, error) {
	var data []byte
	var mime sql.NullString
	err := q.QueryRowContext(ctx,
		`SELECT image, image_mime FROM stock_items WHERE id = ?`, id,
	).Scan(&data, &mime)
	if err == sql.ErrNoRows {
		return nil, "", nil
	}
	if err != nil {
		return nil, "", fmt.Errorf("getting stock image: %w", err)
	}
	return data, mime.String, nil
}
