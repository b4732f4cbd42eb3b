package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type MovementType string

const (
	MovementReceipt     MovementType = "RECEIPT"
	MovementSale        MovementType = "SALE"
	MovementAdjustment  MovementType = "ADJUSTMENT"
	MovementTransferIn  MovementType = "TRANSFER_IN"
	MovementTransferOut MovementType = "TRANSFER_OUT"
	MovementReturn      MovementType = "RETURN"
	MovementDamage      MovementType = "DAMAGE"
	MovementTheft       MovementType = "THEFT"
	MovementExpiry      MovementType = "EXPIRY"
	MovementOther       MovementType = "OTHER"
)

func (t MovementType) Valid() bool {
	switch t {
	case MovementReceipt, MovementSale, MovementAdjustment, MovementTransferIn, MovementTransferOut,
		MovementReturn, MovementDamage, MovementTheft, MovementExpiry, MovementOther:
		return true
	}
	return false
}

// SignedQuantity forces the sign implied by the movement type. Adjustments
// and OTHER keep the caller's sign.
func (t MovementType) SignedQuantity(q int) int {
	abs := q
	if abs < 0 {
		abs = -abs
	}
	switch t {
	case MovementReceipt, MovementTransferIn, MovementReturn:
		return abs
	case MovementSale, MovementTransferOut, MovementDamage, MovementTheft, MovementExpiry:
		return -abs
	}
	return q
}

// StockMovement is an append-only ledger row. Product and warehouse fields are
// snapshots taken at write time so history survives deletion of either.
type StockMovement struct {
	ID                 string
	StockItemID        string
	ProductID          string
	WarehouseID        string
	Type               MovementType
	Quantity           int
	QuantityAfter      int
	UnitCost           *decimal.Decimal
	TotalCost          *decimal.Decimal
	Reference          string
	Reason             string
	RelatedWarehouseID string
	TransferGroupID    string
	GRNPath            string
	POPath             string
	ProductName        string
	ProductSKU         string
	WarehouseName      string
	WarehouseCode      string
	CreatedBy          string
	CreatedAt          time.Time
}

type MovementFilter struct {
	ProductID   string
	WarehouseID string
	Type        MovementType
	Reference   string
	Page        int
	PageSize    int
}

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Normalize clamps paging to sane bounds.
func (f MovementFilter) Normalize() MovementFilter {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PageSize <= 0 {
		f.PageSize = DefaultPageSize
	}
	if f.PageSize > MaxPageSize {
		f.PageSize = MaxPageSize
	}
	return f
}

func (f MovementFilter) Offset() int {
	return (f.Page - 1) * f.PageSize
}
