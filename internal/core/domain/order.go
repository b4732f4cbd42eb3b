package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "PENDING"
	OrderStatusProcessing OrderStatus = "PROCESSING"
	OrderStatusShipped    OrderStatus = "SHIPPED"
	OrderStatusCancelled  OrderStatus = "CANCELLED"
)

type OrderPaymentStatus string

const (
	OrderPaymentPending OrderPaymentStatus = "PENDING"
	OrderPaymentPaid    OrderPaymentStatus = "PAID"
)

type Address struct {
	Line1      string `json:"line1" validate:"required"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city" validate:"required"`
	Region     string `json:"region,omitempty"`
	PostalCode string `json:"postalCode,omitempty"`
	Country    string `json:"country" validate:"required"`
}

func (a Address) Empty() bool {
	return a.Line1 == "" && a.City == "" && a.Country == ""
}

type Customer struct {
	Email string `json:"email"`
	Name  string `json:"name"`
	Phone string `json:"phone,omitempty"`
}

// EcommerceOrder is the customer-facing snapshot of a checkout.
type EcommerceOrder struct {
	ID              string
	Number          string
	SessionID       string
	Customer        Customer
	AccountID       string
	QuotationID     string
	InvoiceID       string
	Status          OrderStatus
	PaymentStatus   OrderPaymentStatus
	PaymentMethod   PaymentMethod
	Currency        string
	Notes           string
	ShippingAddress Address
	BillingAddress  Address
	Totals
	Items     []OrderItem
	CreatedAt time.Time
	UpdatedAt time.Time
}

type OrderItem struct {
	ID          string
	ProductID   string
	ProductName string
	SKU         string
	Quantity    int
	UnitPrice   decimal.Decimal
	LineTotal   decimal.Decimal
}
