package domain

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// StockItem is the on-hand position of one product in one warehouse.
type StockItem struct {
	ID          string
	ProductID   string
	WarehouseID string
	Quantity    int
	Reserved    int
	Available   int
	AverageCost decimal.Decimal
	TotalValue  decimal.Decimal
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Apply moves the position by a signed quantity. The cost basis only changes
// on inbound quantities that carry a positive unit cost.
func (s *StockItem) Apply(quantity int, unitCost decimal.Decimal) {
	oldQty := s.Quantity
	newQty := oldQty + quantity

	if quantity > 0 && unitCost.IsPositive() {
		if oldQty <= 0 || newQty <= 0 {
			s.AverageCost = RoundCost(unitCost)
		} else {
			oldValue := decimal.NewFromInt(int64(oldQty)).Mul(s.AverageCost)
			inValue := decimal.NewFromInt(int64(quantity)).Mul(unitCost)
			s.AverageCost = RoundCost(oldValue.Add(inValue).Div(decimal.NewFromInt(int64(newQty))))
		}
	}

	s.Quantity = newQty
	s.recompute()
}

// Reserve holds quantity for an order that is not paid yet. On-hand is
// unchanged and available drops.
func (s *StockItem) Reserve(quantity int) error {
	if quantity <= 0 {
		return nil
	}
	if quantity > s.Available {
		return ErrInsufficientStock
	}
	s.Reserved += quantity
	s.recompute()
	return nil
}

// Release drops a hold without touching on-hand.
func (s *StockItem) Release(quantity int) {
	s.Reserved -= quantity
	if s.Reserved < 0 {
		s.Reserved = 0
	}
	s.recompute()
}

// Fulfil turns a hold into an outbound quantity: on-hand and reserved both
// drop, available stays where the reservation left it.
func (s *StockItem) Fulfil(quantity int) {
	s.Release(quantity)
	s.Apply(-quantity, decimal.Zero)
}

func (s *StockItem) recompute() {
	s.Available = s.Quantity - s.Reserved
	if s.Available < 0 {
		s.Available = 0
	}
	s.TotalValue = RoundMoney(decimal.NewFromInt(int64(s.Quantity)).Mul(s.AverageCost))
}

type ReservationStatus string

const (
	ReservationHeld      ReservationStatus = "HELD"
	ReservationFulfilled ReservationStatus = "FULFILLED"
)

// StockReservation is the quantity an order holds in one warehouse until its
// invoice is paid. Reference is the invoice number.
type StockReservation struct {
	ID          string
	StockItemID string
	ProductID   string
	WarehouseID string
	Reference   string
	Quantity    int
	Status      ReservationStatus
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// TotalAvailable sums available quantity across warehouses.
func TotalAvailable(items []StockItem) int {
	total := 0
	for _, it := range items {
		total += it.Available
	}
	return total
}

// WarehouseTake is the quantity drawn from one warehouse for one line.
type WarehouseTake struct {
	StockItem StockItem
	Quantity  int
}

// PlanAllocation draws from the largest available bucket first so an order
// touches as few warehouses as possible.
func PlanAllocation(items []StockItem, quantity int) ([]WarehouseTake, error) {
	sorted := make([]StockItem, len(items))
	copy(sorted, items)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Available == sorted[j].Available {
			return sorted[i].WarehouseID < sorted[j].WarehouseID
		}
		return sorted[i].Available > sorted[j].Available
	})

	remaining := quantity
	var takes []WarehouseTake
	for _, it := range sorted {
		if remaining == 0 {
			break
		}
		if it.Available <= 0 {
			continue
		}
		take := it.Available
		if take > remaining {
			take = remaining
		}
		takes = append(takes, WarehouseTake{StockItem: it, Quantity: take})
		remaining -= take
	}

	if remaining > 0 {
		return nil, ErrInsufficientStock
	}
	return takes, nil
}
