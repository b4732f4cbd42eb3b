package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/rl1809/settlement/internal/core/domain"
	"github.com/rl1809/settlement/internal/metrics"
	"github.com/rl1809/settlement/internal/port"
)

type MovementInput struct {
	ProductID          string
	WarehouseID        string
	Quantity           int
	UnitCost           *decimal.Decimal
	Type               domain.MovementType
	Reference          string
	Reason             string
	RelatedWarehouseID string
	TransferGroupID    string
	GRNPath            string
	POPath             string
	CreatedBy          string
}

func (in MovementInput) validate() error {
	switch {
	case in.ProductID == "":
		return domain.NewValidationError("productId", "is required")
	case in.WarehouseID == "":
		return domain.NewValidationError("warehouseId", "is required")
	case !in.Type.Valid():
		return domain.NewValidationError("type", fmt.Sprintf("unknown movement type %q", in.Type))
	case in.Quantity == 0:
		return domain.NewValidationError("quantity", "must not be zero")
	case in.UnitCost != nil && in.UnitCost.IsNegative():
		return domain.NewValidationError("unitCost", "must not be negative")
	}
	return nil
}

type TransferInput struct {
	ProductID       string
	FromWarehouseID string
	ToWarehouseID   string
	Quantity        int
	Reference       string
	Reason          string
	CreatedBy       string
}

type MovementPage struct {
	Movements []domain.StockMovement
	Total     int
	Page      int
	PageSize  int
}

// StockLedger is the only writer of stock positions.
type StockLedger struct {
	db      port.DatabaseRepository
	metrics *metrics.Metrics
	logger  logrus.FieldLogger
	now     func() time.Time
}

func NewStockLedger(db port.DatabaseRepository, m *metrics.Metrics, logger logrus.FieldLogger) *StockLedger {
	return &StockLedger{db: db, metrics: m, logger: logger, now: time.Now}
}

// Record applies a single movement in its own transaction.
func (l *StockLedger) Record(ctx context.Context, in MovementInput) (domain.StockMovement, error) {
	if err := in.validate(); err != nil {
		return domain.StockMovement{}, err
	}

	var movement domain.StockMovement
	err := l.db.WithinTx(ctx, func(ctx context.Context, tx port.Tx) error {
		m, err := l.ApplyMovement(ctx, tx, in)
		if err != nil {
			return err
		}
		movement = m
		return nil
	})
	if err != nil {
		return domain.StockMovement{}, err
	}
	return movement, nil
}

// ApplyMovement writes one ledger row and updates the matching position
// inside the caller's transaction.
func (l *StockLedger) ApplyMovement(ctx context.Context, tx port.Tx, in MovementInput) (domain.StockMovement, error) {
	if err := in.validate(); err != nil {
		return domain.StockMovement{}, err
	}

	product, err := tx.GetProduct(ctx, in.ProductID)
	if err != nil {
		return domain.StockMovement{}, fmt.Errorf("load product: %w", err)
	}
	if product == nil {
		return domain.StockMovement{}, fmt.Errorf("%w: %s", domain.ErrProductNotFound, in.ProductID)
	}
	warehouse, err := tx.GetWarehouse(ctx, in.WarehouseID)
	if err != nil {
		return domain.StockMovement{}, fmt.Errorf("load warehouse: %w", err)
	}
	if warehouse == nil {
		return domain.StockMovement{}, fmt.Errorf("%w: %s", domain.ErrWarehouseNotFound, in.WarehouseID)
	}

	now := l.now()
	item, err := tx.GetStockItem(ctx, in.ProductID, in.WarehouseID)
	if err != nil {
		return domain.StockMovement{}, fmt.Errorf("load stock item: %w", err)
	}
	if item == nil {
		item = &domain.StockItem{
			ID:          uuid.NewString(),
			ProductID:   in.ProductID,
			WarehouseID: in.WarehouseID,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := tx.CreateStockItem(ctx, *item); err != nil {
			return domain.StockMovement{}, fmt.Errorf("create stock item: %w", err)
		}
	}

	signed := in.Type.SignedQuantity(in.Quantity)
	unitCost := decimal.Zero
	if in.UnitCost != nil {
		unitCost = *in.UnitCost
	}
	item.Apply(signed, unitCost)
	item.UpdatedAt = now
	if err := tx.UpdateStockItem(ctx, *item); err != nil {
		return domain.StockMovement{}, fmt.Errorf("update stock item: %w", err)
	}

	movement := newMovement(*product, *warehouse, *item, in, signed, now)
	if err := tx.InsertStockMovement(ctx, movement); err != nil {
		return domain.StockMovement{}, fmt.Errorf("insert stock movement: %w", err)
	}

	l.metrics.StockMovement(string(in.Type))
	return movement, nil
}

// Reserve holds quantity for an unpaid order across warehouses, largest
// bucket first. Each warehouse touched gets a SALE ledger row and a HELD
// reservation; on-hand only moves when the invoice is paid.
func (l *StockLedger) Reserve(ctx context.Context, tx port.Tx, productID string, quantity int, reference, createdBy string) ([]domain.StockMovement, error) {
	product, items, takes, err := l.plan(ctx, tx, productID, quantity)
	if err != nil {
		return nil, err
	}

	now := l.now()
	movements := make([]domain.StockMovement, 0, len(takes))
	for _, take := range takes {
		item := take.StockItem
		if err := item.Reserve(take.Quantity); err != nil {
			return nil, stockError(product, quantity, domain.TotalAvailable(items))
		}
		item.UpdatedAt = now
		if err := tx.UpdateStockItem(ctx, item); err != nil {
			return nil, fmt.Errorf("update stock item: %w", err)
		}

		warehouse, err := tx.GetWarehouse(ctx, item.WarehouseID)
		if err != nil {
			return nil, fmt.Errorf("load warehouse: %w", err)
		}
		if warehouse == nil {
			warehouse = &domain.Warehouse{ID: item.WarehouseID, Name: item.WarehouseID}
		}

		movement := newMovement(*product, *warehouse, item, MovementInput{
			Type:      domain.MovementSale,
			Reference: reference,
			Reason:    "order reservation",
			CreatedBy: createdBy,
		}, -take.Quantity, now)
		if err := tx.InsertStockMovement(ctx, movement); err != nil {
			return nil, fmt.Errorf("insert stock movement: %w", err)
		}

		err = tx.InsertStockReservation(ctx, domain.StockReservation{
			ID:          uuid.NewString(),
			StockItemID: item.ID,
			ProductID:   productID,
			WarehouseID: item.WarehouseID,
			Reference:   reference,
			Quantity:    take.Quantity,
			Status:      domain.ReservationHeld,
			CreatedAt:   now,
			UpdatedAt:   now,
		})
		if err != nil {
			return nil, fmt.Errorf("insert stock reservation: %w", err)
		}

		l.metrics.StockMovement(string(domain.MovementSale))
		movements = append(movements, movement)
	}
	return movements, nil
}

// Allocate takes quantity out of on-hand across warehouses, largest bucket
// first, writing one SALE movement per warehouse touched.
func (l *StockLedger) Allocate(ctx context.Context, tx port.Tx, productID string, quantity int, reference, createdBy string) ([]domain.StockMovement, error) {
	_, _, takes, err := l.plan(ctx, tx, productID, quantity)
	if err != nil {
		return nil, err
	}

	movements := make([]domain.StockMovement, 0, len(takes))
	for _, take := range takes {
		m, err := l.ApplyMovement(ctx, tx, MovementInput{
			ProductID:   productID,
			WarehouseID: take.StockItem.WarehouseID,
			Quantity:    take.Quantity,
			Type:        domain.MovementSale,
			Reference:   reference,
			Reason:      "invoice deduction",
			CreatedBy:   createdBy,
		})
		if err != nil {
			return nil, err
		}
		movements = append(movements, m)
	}
	return movements, nil
}

func (l *StockLedger) plan(ctx context.Context, tx port.Tx, productID string, quantity int) (*domain.Product, []domain.StockItem, []domain.WarehouseTake, error) {
	product, err := tx.GetProduct(ctx, productID)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load product: %w", err)
	}
	if product == nil {
		return nil, nil, nil, fmt.Errorf("%w: %s", domain.ErrProductNotFound, productID)
	}
	items, err := tx.ListStockItems(ctx, productID)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load stock items: %w", err)
	}

	takes, err := domain.PlanAllocation(items, quantity)
	if err != nil {
		return nil, nil, nil, stockError(product, quantity, domain.TotalAvailable(items))
	}
	return product, items, takes, nil
}

func stockError(product *domain.Product, requested, available int) *domain.StockError {
	return &domain.StockError{
		ProductID:   product.ID,
		ProductName: product.Name,
		Requested:   requested,
		Available:   available,
	}
}

// DeductForInvoice moves an invoice's stock out of on-hand. Held
// reservations from checkout are fulfilled in place; an invoice that never
// reserved is allocated fresh. Invoices whose reference already has ledger
// rows and nothing held are left alone.
func (l *StockLedger) DeductForInvoice(ctx context.Context, tx port.Tx, inv domain.Invoice) (bool, error) {
	held, err := tx.ListHeldReservations(ctx, inv.Number)
	if err != nil {
		return false, fmt.Errorf("load reservations: %w", err)
	}
	if len(held) > 0 {
		return true, l.fulfil(ctx, tx, held)
	}

	done, err := tx.HasMovementsForReference(ctx, inv.Number)
	if err != nil {
		return false, fmt.Errorf("check invoice movements: %w", err)
	}
	if done {
		return false, nil
	}

	for _, line := range inv.Lines {
		if line.ProductID == "" || line.Quantity <= 0 {
			continue
		}
		if _, err := l.Allocate(ctx, tx, line.ProductID, line.Quantity, inv.Number, ""); err != nil {
			return false, err
		}
	}
	return true, nil
}

func (l *StockLedger) fulfil(ctx context.Context, tx port.Tx, held []domain.StockReservation) error {
	now := l.now()
	for _, r := range held {
		item, err := tx.GetStockItem(ctx, r.ProductID, r.WarehouseID)
		if err != nil {
			return fmt.Errorf("load stock item: %w", err)
		}
		if item == nil {
			return fmt.Errorf("stock item for reservation %s is gone", r.ID)
		}
		item.Fulfil(r.Quantity)
		item.UpdatedAt = now
		if err := tx.UpdateStockItem(ctx, *item); err != nil {
			return fmt.Errorf("update stock item: %w", err)
		}
		if err := tx.MarkReservationFulfilled(ctx, r.ID, now); err != nil {
			return fmt.Errorf("fulfil reservation: %w", err)
		}
	}
	return nil
}

// Transfer moves stock between warehouses as a linked OUT/IN pair carrying
// the source cost basis.
func (l *StockLedger) Transfer(ctx context.Context, in TransferInput) (out, into domain.StockMovement, err error) {
	switch {
	case in.ProductID == "":
		return out, into, domain.NewValidationError("productId", "is required")
	case in.FromWarehouseID == "" || in.ToWarehouseID == "":
		return out, into, domain.NewValidationError("warehouseId", "source and destination are required")
	case in.FromWarehouseID == in.ToWarehouseID:
		return out, into, domain.ErrSameWarehouse
	case in.Quantity <= 0:
		return out, into, domain.NewValidationError("quantity", "must be positive")
	}

	group := uuid.NewString()
	reference := in.Reference
	if reference == "" {
		reference = "TRF-" + group[:8]
	}

	err = l.db.WithinTx(ctx, func(ctx context.Context, tx port.Tx) error {
		source, err := tx.GetStockItem(ctx, in.ProductID, in.FromWarehouseID)
		if err != nil {
			return fmt.Errorf("load source stock: %w", err)
		}
		if source == nil || source.Available < in.Quantity {
			available := 0
			if source != nil {
				available = source.Available
			}
			return &domain.StockError{ProductID: in.ProductID, ProductName: in.ProductID, Requested: in.Quantity, Available: available}
		}
		cost := source.AverageCost

		out, err = l.ApplyMovement(ctx, tx, MovementInput{
			ProductID:          in.ProductID,
			WarehouseID:        in.FromWarehouseID,
			Quantity:           in.Quantity,
			Type:               domain.MovementTransferOut,
			Reference:          reference,
			Reason:             in.Reason,
			RelatedWarehouseID: in.ToWarehouseID,
			TransferGroupID:    group,
			CreatedBy:          in.CreatedBy,
		})
		if err != nil {
			return err
		}

		var unitCost *decimal.Decimal
		if cost.IsPositive() {
			unitCost = &cost
		}
		into, err = l.ApplyMovement(ctx, tx, MovementInput{
			ProductID:          in.ProductID,
			WarehouseID:        in.ToWarehouseID,
			Quantity:           in.Quantity,
			UnitCost:           unitCost,
			Type:               domain.MovementTransferIn,
			Reference:          reference,
			Reason:             in.Reason,
			RelatedWarehouseID: in.FromWarehouseID,
			TransferGroupID:    group,
			CreatedBy:          in.CreatedBy,
		})
		return err
	})
	if err != nil {
		return domain.StockMovement{}, domain.StockMovement{}, err
	}
	return out, into, nil
}

func (l *StockLedger) ListMovements(ctx context.Context, filter domain.MovementFilter) (MovementPage, error) {
	filter = filter.Normalize()
	movements, total, err := l.db.ListStockMovements(ctx, filter)
	if err != nil {
		return MovementPage{}, fmt.Errorf("list stock movements: %w", err)
	}
	return MovementPage{Movements: movements, Total: total, Page: filter.Page, PageSize: filter.PageSize}, nil
}

func (l *StockLedger) ListStockItems(ctx context.Context, productID string) ([]domain.StockItem, error) {
	product, err := l.db.GetProduct(ctx, productID)
	if err != nil {
		return nil, fmt.Errorf("load product: %w", err)
	}
	if product == nil {
		return nil, domain.ErrProductNotFound
	}
	return l.db.ListStockItems(ctx, productID)
}

// newMovement builds a ledger row with product and warehouse snapshots.
func newMovement(product domain.Product, warehouse domain.Warehouse, item domain.StockItem, in MovementInput, signed int, now time.Time) domain.StockMovement {
	movement := domain.StockMovement{
		ID:                 uuid.NewString(),
		StockItemID:        item.ID,
		ProductID:          product.ID,
		WarehouseID:        warehouse.ID,
		Type:               in.Type,
		Quantity:           signed,
		QuantityAfter:      item.Quantity,
		Reference:          in.Reference,
		Reason:             in.Reason,
		RelatedWarehouseID: in.RelatedWarehouseID,
		TransferGroupID:    in.TransferGroupID,
		GRNPath:            in.GRNPath,
		POPath:             in.POPath,
		ProductName:        product.Name,
		ProductSKU:         product.SKU,
		WarehouseName:      warehouse.Name,
		WarehouseCode:      warehouse.Code,
		CreatedBy:          in.CreatedBy,
		CreatedAt:          now,
	}
	if in.UnitCost != nil {
		cost := *in.UnitCost
		total := domain.RoundMoney(cost.Mul(decimal.NewFromInt(int64(abs(signed)))))
		movement.UnitCost = &cost
		movement.TotalCost = &total
	}
	return movement
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
