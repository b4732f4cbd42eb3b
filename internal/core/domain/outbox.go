package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type EventType string

const (
	EventOrderConfirmation   EventType = "order.confirmation"
	EventCartConverted       EventType = "order.cart_converted"
	EventPaymentNotification EventType = "payment.notification"
	EventPaymentActivity     EventType = "payment.activity"
	EventInvoiceSalesOrder   EventType = "invoice.sales_order"
	EventInvoiceCommission   EventType = "invoice.commission"
)

type OutboxStatus string

const (
	OutboxPending OutboxStatus = "PENDING"
	OutboxDone    OutboxStatus = "DONE"
	OutboxFailed  OutboxStatus = "FAILED"
)

const DefaultMaxAttempts = 10

type OutboxEvent struct {
	ID            string
	AggregateType string
	AggregateID   string
	Type          EventType
	Payload       json.RawMessage
	Status        OutboxStatus
	Attempts      int
	MaxAttempts   int
	LastError     string
	CreatedAt     time.Time
	ProcessedAt   *time.Time
}

func NewOutboxEvent(aggregateType, aggregateID string, eventType EventType, payload any, now time.Time) (OutboxEvent, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return OutboxEvent{}, err
	}
	return OutboxEvent{
		ID:            uuid.NewString(),
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		Type:          eventType,
		Payload:       raw,
		Status:        OutboxPending,
		MaxAttempts:   DefaultMaxAttempts,
		CreatedAt:     now,
	}, nil
}

// Exhausted reports whether one more failure should park the event.
func (e OutboxEvent) Exhausted() bool {
	return e.Attempts+1 >= e.MaxAttempts
}

type OrderPlacedPayload struct {
	OrderID       string          `json:"orderId"`
	OrderNumber   string          `json:"orderNumber"`
	InvoiceID     string          `json:"invoiceId"`
	InvoiceNumber string          `json:"invoiceNumber"`
	SessionID     string          `json:"sessionId,omitempty"`
	Email         string          `json:"email"`
	Name          string          `json:"name"`
	Total         decimal.Decimal `json:"total"`
	Currency      string          `json:"currency"`
}

type PaymentNotificationPayload struct {
	PaymentID     string          `json:"paymentId"`
	PaymentNumber string          `json:"paymentNumber"`
	AccountID     string          `json:"accountId"`
	InvoiceID     string          `json:"invoiceId"`
	InvoiceNumber string          `json:"invoiceNumber"`
	Amount        decimal.Decimal `json:"amount"`
	PaymentStatus PaymentStatus   `json:"paymentStatus"`
	AmountDue     decimal.Decimal `json:"amountDue"`
}

type PaymentActivityPayload struct {
	PaymentID     string          `json:"paymentId"`
	PaymentNumber string          `json:"paymentNumber"`
	AccountID     string          `json:"accountId"`
	Amount        decimal.Decimal `json:"amount"`
	ReceivedBy    string          `json:"receivedBy,omitempty"`
}

type InvoicePaidPayload struct {
	InvoiceID string `json:"invoiceId"`
	PaymentID string `json:"paymentId,omitempty"`
}
