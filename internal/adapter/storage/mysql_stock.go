package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rl1809/settlement/internal/core/domain"
)

const stockItemColumns = `id, product_id, warehouse_id, quantity, reserved, available, average_cost, total_value, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanStockItem(row rowScanner) (domain.StockItem, error) {
	var it domain.StockItem
	err := row.Scan(&it.ID, &it.ProductID, &it.WarehouseID, &it.Quantity, &it.Reserved, &it.Available,
		&it.AverageCost, &it.TotalValue, &it.CreatedAt, &it.UpdatedAt)
	return it, err
}

func (s *queries) ListStockItems(ctx context.Context, productID string) ([]domain.StockItem, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT `+stockItemColumns+`
		FROM stock_items WHERE product_id = ?
		ORDER BY available DESC, warehouse_id ASC`+s.forUpdate(), productID)
	if err != nil {
		return nil, fmt.Errorf("query stock items: %w", err)
	}
	defer rows.Close()

	var items []domain.StockItem
	for rows.Next() {
		it, err := scanStockItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan stock item: %w", err)
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func (s *queries) GetStockItem(ctx context.Context, productID, warehouseID string) (*domain.StockItem, error) {
	it, err := scanStockItem(s.q.QueryRowContext(ctx, `
		SELECT `+stockItemColumns+`
		FROM stock_items WHERE product_id = ? AND warehouse_id = ?`+s.forUpdate(), productID, warehouseID))

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query stock item: %w", err)
	}
	return &it, nil
}

func (s *queries) CreateStockItem(ctx context.Context, it domain.StockItem) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO stock_items (`+stockItemColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		it.ID, it.ProductID, it.WarehouseID, it.Quantity, it.Reserved, it.Available,
		it.AverageCost, it.TotalValue, it.CreatedAt, it.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert stock item: %w", err)
	}
	return nil
}

func (s *queries) UpdateStockItem(ctx context.Context, it domain.StockItem) error {
	result, err := s.q.ExecContext(ctx, `
		UPDATE stock_items
		SET quantity = ?, reserved = ?, available = ?, average_cost = ?, total_value = ?, updated_at = ?
		WHERE id = ?`,
		it.Quantity, it.Reserved, it.Available, it.AverageCost, it.TotalValue, it.UpdatedAt, it.ID,
	)
	if err != nil {
		return fmt.Errorf("update stock item: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("update stock item %s: no such row", it.ID)
	}
	return nil
}

func (s *queries) InsertStockMovement(ctx context.Context, m domain.StockMovement) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO stock_movements (
			id, stock_item_id, product_id, warehouse_id, type, quantity, quantity_after,
			unit_cost, total_cost, reference, reason, related_warehouse_id, transfer_group_id,
			grn_path, po_path, product_name, product_sku, warehouse_name, warehouse_code,
			created_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.StockItemID, m.ProductID, m.WarehouseID, m.Type, m.Quantity, m.QuantityAfter,
		nullDecimal(m.UnitCost), nullDecimal(m.TotalCost), m.Reference, m.Reason, m.RelatedWarehouseID, m.TransferGroupID,
		m.GRNPath, m.POPath, m.ProductName, m.ProductSKU, m.WarehouseName, m.WarehouseCode,
		m.CreatedBy, m.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert stock movement: %w", err)
	}
	return nil
}

// ListStockMovements pages the ledger newest first and reports the total
// number of matching rows.
func (s *queries) ListStockMovements(ctx context.Context, f domain.MovementFilter) ([]domain.StockMovement, int, error) {
	f = f.Normalize()

	var where []string
	var args []any
	if f.ProductID != "" {
		where = append(where, "product_id = ?")
		args = append(args, f.ProductID)
	}
	if f.WarehouseID != "" {
		where = append(where, "warehouse_id = ?")
		args = append(args, f.WarehouseID)
	}
	if f.Type != "" {
		where = append(where, "type = ?")
		args = append(args, f.Type)
	}
	if f.Reference != "" {
		where = append(where, "reference = ?")
		args = append(args, f.Reference)
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := s.q.QueryRowContext(ctx, "SELECT COUNT(*) FROM stock_movements"+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count stock movements: %w", err)
	}

	rows, err := s.q.QueryContext(ctx, `
		SELECT id, stock_item_id, product_id, warehouse_id, type, quantity, quantity_after,
			unit_cost, total_cost, reference, reason, related_warehouse_id, transfer_group_id,
			grn_path, po_path, product_name, product_sku, warehouse_name, warehouse_code,
			created_by, created_at
		FROM stock_movements`+clause+`
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?`, append(args, f.PageSize, f.Offset())...)
	if err != nil {
		return nil, 0, fmt.Errorf("query stock movements: %w", err)
	}
	defer rows.Close()

	var out []domain.StockMovement
	for rows.Next() {
		var m domain.StockMovement
		var unitCost, totalCost decimal.NullDecimal
		if err := rows.Scan(&m.ID, &m.StockItemID, &m.ProductID, &m.WarehouseID, &m.Type, &m.Quantity, &m.QuantityAfter,
			&unitCost, &totalCost, &m.Reference, &m.Reason, &m.RelatedWarehouseID, &m.TransferGroupID,
			&m.GRNPath, &m.POPath, &m.ProductName, &m.ProductSKU, &m.WarehouseName, &m.WarehouseCode,
			&m.CreatedBy, &m.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan stock movement: %w", err)
		}
		m.UnitCost = decimalPtr(unitCost)
		m.TotalCost = decimalPtr(totalCost)
		out = append(out, m)
	}
	return out, total, rows.Err()
}

func (s *queries) HasMovementsForReference(ctx context.Context, reference string) (bool, error) {
	ok, err := s.exists(ctx, `SELECT 1 FROM stock_movements WHERE reference = ? LIMIT 1`, reference)
	if err != nil {
		return false, fmt.Errorf("query movements for reference: %w", err)
	}
	return ok, nil
}

func (s *queries) InsertStockReservation(ctx context.Context, r domain.StockReservation) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO stock_reservations (id, stock_item_id, product_id, warehouse_id, reference, quantity, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.StockItemID, r.ProductID, r.WarehouseID, r.Reference, r.Quantity, r.Status, r.CreatedAt, r.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert stock reservation: %w", err)
	}
	return nil
}

func (s *queries) ListHeldReservations(ctx context.Context, reference string) ([]domain.StockReservation, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, stock_item_id, product_id, warehouse_id, reference, quantity, status, created_at, updated_at
		FROM stock_reservations WHERE reference = ? AND status = ?
		ORDER BY created_at, id`+s.forUpdate(), reference, domain.ReservationHeld)
	if err != nil {
		return nil, fmt.Errorf("query stock reservations: %w", err)
	}
	defer rows.Close()

	var out []domain.StockReservation
	for rows.Next() {
		var r domain.StockReservation
		if err := rows.Scan(&r.ID, &r.StockItemID, &r.ProductID, &r.WarehouseID, &r.Reference,
			&r.Quantity, &r.Status, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan stock reservation: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *queries) MarkReservationFulfilled(ctx context.Context, id string, at time.Time) error {
	_, err := s.q.ExecContext(ctx, `
		UPDATE stock_reservations SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		domain.ReservationFulfilled, at, id, domain.ReservationHeld)
	if err != nil {
		return fmt.Errorf("mark stock reservation fulfilled: %w", err)
	}
	return nil
}
