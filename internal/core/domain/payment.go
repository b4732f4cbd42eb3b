package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type PaymentStatus string

const (
	PaymentUnpaid        PaymentStatus = "UNPAID"
	PaymentPartiallyPaid PaymentStatus = "PARTIALLY_PAID"
	PaymentPaid          PaymentStatus = "PAID"
)

// ClassifyPayment derives an invoice payment status from what has been paid
// against its total.
func ClassifyPayment(total, paid decimal.Decimal) PaymentStatus {
	if !paid.IsPositive() {
		return PaymentUnpaid
	}
	if paid.GreaterThanOrEqual(total.Sub(PaidTolerance)) {
		return PaymentPaid
	}
	return PaymentPartiallyPaid
}

// Settle recomputes paid/due/status and reports whether this call moved the
// invoice into PAID for the first time.
func (inv *Invoice) Settle(totalPaid decimal.Decimal) (becamePaid bool) {
	prev := inv.PaymentStatus
	inv.AmountPaid = RoundMoney(totalPaid)
	inv.AmountDue = RoundMoney(MaxZero(inv.Total.Sub(totalPaid)))
	inv.PaymentStatus = ClassifyPayment(inv.Total, totalPaid)
	return prev != PaymentPaid && inv.PaymentStatus == PaymentPaid
}

type PaymentMethod string

const (
	MethodCash           PaymentMethod = "CASH"
	MethodBankTransfer   PaymentMethod = "BANK_TRANSFER"
	MethodMobileMoney    PaymentMethod = "MOBILE_MONEY"
	MethodCard           PaymentMethod = "CARD"
	MethodCheque         PaymentMethod = "CHEQUE"
	MethodCashOnDelivery PaymentMethod = "CASH_ON_DELIVERY"
	MethodOther          PaymentMethod = "OTHER"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case MethodCash, MethodBankTransfer, MethodMobileMoney, MethodCard, MethodCheque, MethodCashOnDelivery, MethodOther:
		return true
	}
	return false
}

type Payment struct {
	ID          string
	Number      string
	AccountID   string
	Amount      decimal.Decimal
	Method      PaymentMethod
	Reference   string
	Notes       string
	ReceivedBy  string
	Allocations []PaymentAllocation
	CreatedAt   time.Time
}

// Allocated sums the allocations carried by the payment.
func (p Payment) Allocated() decimal.Decimal {
	sum := decimal.Zero
	for _, a := range p.Allocations {
		sum = sum.Add(a.Amount)
	}
	return sum
}

type PaymentAllocation struct {
	ID        string
	PaymentID string
	InvoiceID string
	Amount    decimal.Decimal
	Notes     string
	CreatedAt time.Time
}

type CreditNoteApplication struct {
	ID               string
	InvoiceID        string
	CreditNoteNumber string
	Amount           decimal.Decimal
	CreatedAt        time.Time
}

type SalesCommission struct {
	ID         string
	InvoiceID  string
	SalesRepID string
	Rate       decimal.Decimal
	Base       decimal.Decimal
	Amount     decimal.Decimal
	CreatedAt  time.Time
}
