package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type LineItem struct {
	ID          string
	ProductID   string
	Description string
	Quantity    int
	UnitPrice   decimal.Decimal
	Discount    decimal.Decimal
	LineTotal   decimal.Decimal
	Position    int
}

// NewLineItem prices a line: quantity × unit price less an absolute discount.
func NewLineItem(productID, description string, quantity int, unitPrice, discount decimal.Decimal) LineItem {
	gross := decimal.NewFromInt(int64(quantity)).Mul(unitPrice)
	return LineItem{
		ProductID:   productID,
		Description: description,
		Quantity:    quantity,
		UnitPrice:   unitPrice,
		Discount:    discount,
		LineTotal:   RoundMoney(MaxZero(gross.Sub(discount))),
	}
}

type Totals struct {
	Subtotal decimal.Decimal
	TaxRate  decimal.Decimal
	Tax      decimal.Decimal
	Total    decimal.Decimal
}

// ComputeTotals sums line totals and applies taxRate, given as a percentage.
func ComputeTotals(lines []LineItem, taxRate decimal.Decimal) Totals {
	subtotal := decimal.Zero
	for _, l := range lines {
		subtotal = subtotal.Add(l.LineTotal)
	}
	subtotal = RoundMoney(subtotal)
	tax := RoundMoney(subtotal.Mul(Percent(taxRate)))
	return Totals{
		Subtotal: subtotal,
		TaxRate:  taxRate,
		Tax:      tax,
		Total:    subtotal.Add(tax),
	}
}

type QuotationStatus string

const (
	QuotationDraft    QuotationStatus = "DRAFT"
	QuotationSent     QuotationStatus = "SENT"
	QuotationAccepted QuotationStatus = "ACCEPTED"
)

type Quotation struct {
	ID            string
	Number        string
	AccountID     string
	ContactID     string
	OpportunityID string
	Status        QuotationStatus
	Currency      string
	Totals
	Lines     []LineItem
	CreatedAt time.Time
}

type InvoiceStatus string

const (
	InvoiceDraft InvoiceStatus = "DRAFT"
	InvoiceSent  InvoiceStatus = "SENT"
)

type Invoice struct {
	ID            string
	Number        string
	AccountID     string
	ContactID     string
	QuotationID   string
	SalesRepID    string
	Status        InvoiceStatus
	Currency      string
	PaymentStatus PaymentStatus
	AmountPaid    decimal.Decimal
	AmountDue     decimal.Decimal
	Totals
	Lines     []LineItem
	CreatedAt time.Time
	UpdatedAt time.Time
}

type SalesOrderStatus string

const (
	SalesOrderPending   SalesOrderStatus = "PENDING"
	SalesOrderConfirmed SalesOrderStatus = "CONFIRMED"
)

type SalesOrder struct {
	ID        string
	Number    string
	AccountID string
	InvoiceID string
	Status    SalesOrderStatus
	Currency  string
	Totals
	Lines     []LineItem
	CreatedAt time.Time
}

// SalesOrderFromInvoice mirrors an invoice for internal fulfilment tracking.
func SalesOrderFromInvoice(inv Invoice, id, number string, status SalesOrderStatus, now time.Time) SalesOrder {
	lines := make([]LineItem, len(inv.Lines))
	copy(lines, inv.Lines)
	for i := range lines {
		lines[i].ID = ""
	}
	return SalesOrder{
		ID:        id,
		Number:    number,
		AccountID: inv.AccountID,
		InvoiceID: inv.ID,
		Status:    status,
		Currency:  inv.Currency,
		Totals:    inv.Totals,
		Lines:     lines,
		CreatedAt: now,
	}
}

// NumberSeries identifies a document numbering sequence.
type NumberSeries string

const (
	SeriesQuotation  NumberSeries = "quotation"
	SeriesInvoice    NumberSeries = "invoice"
	SeriesSalesOrder NumberSeries = "sales_order"
	SeriesOrder      NumberSeries = "order"
	SeriesPayment    NumberSeries = "payment"
)
