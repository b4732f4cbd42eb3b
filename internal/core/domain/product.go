package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Product struct {
	ID           string
	Name         string
	SKU          string
	Price        decimal.Decimal
	BaseCurrency string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Warehouse struct {
	ID   string
	Name string
	Code string
}
