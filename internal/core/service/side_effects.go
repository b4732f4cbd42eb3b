package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/rl1809/settlement/internal/core/domain"
	"github.com/rl1809/settlement/internal/metrics"
	"github.com/rl1809/settlement/internal/port"
)

// SideEffects runs the post-commit work recorded in the outbox. Every handler
// can be replayed: a second run for the same event changes nothing.
type SideEffects struct {
	db       port.DatabaseRepository
	notifier port.Notifier
	numbers  *NumberGenerator
	metrics  *metrics.Metrics
	logger   logrus.FieldLogger
	now      func() time.Time
}

func NewSideEffects(db port.DatabaseRepository, notifier port.Notifier, numbers *NumberGenerator, m *metrics.Metrics, logger logrus.FieldLogger) *SideEffects {
	return &SideEffects{
		db:       db,
		notifier: notifier,
		numbers:  numbers,
		metrics:  m,
		logger:   logger,
		now:      time.Now,
	}
}

func (s *SideEffects) Handle(ctx context.Context, event domain.OutboxEvent) error {
	var err error
	switch event.Type {
	case domain.EventOrderConfirmation:
		err = s.orderConfirmation(ctx, event)
	case domain.EventCartConverted:
		err = s.cartConverted(ctx, event)
	case domain.EventPaymentNotification:
		err = s.paymentNotification(ctx, event)
	case domain.EventPaymentActivity:
		err = s.paymentActivity(ctx, event)
	case domain.EventInvoiceSalesOrder:
		err = s.salesOrder(ctx, event)
	case domain.EventInvoiceCommission:
		err = s.commission(ctx, event)
	default:
		s.logger.WithField("type", event.Type).Warn("unknown outbox event type, dropping")
		return nil
	}
	if err != nil {
		s.metrics.SideEffectFailed(string(event.Type))
	}
	return err
}

func decode[T any](event domain.OutboxEvent) (T, error) {
	var payload T
	if err := json.Unmarshal(event.Payload, &payload); err != nil {
		return payload, fmt.Errorf("decode %s payload: %w", event.Type, err)
	}
	return payload, nil
}

func (s *SideEffects) orderConfirmation(ctx context.Context, event domain.OutboxEvent) error {
	p, err := decode[domain.OrderPlacedPayload](event)
	if err != nil {
		return err
	}
	return s.notify(ctx, port.Notification{
		Kind:      string(event.Type),
		Recipient: p.Email,
		Subject:   "Order " + p.OrderNumber + " confirmed",
		EntityID:  p.OrderID,
		Data: map[string]string{
			"name":          p.Name,
			"orderNumber":   p.OrderNumber,
			"invoiceNumber": p.InvoiceNumber,
			"total":         p.Total.StringFixed(2),
			"currency":      p.Currency,
		},
	})
}

func (s *SideEffects) cartConverted(ctx context.Context, event domain.OutboxEvent) error {
	p, err := decode[domain.OrderPlacedPayload](event)
	if err != nil {
		return err
	}
	n, err := s.db.MarkAbandonedCartConverted(ctx, p.SessionID, p.Email, p.OrderID, s.now())
	if err != nil {
		return fmt.Errorf("mark abandoned cart converted: %w", err)
	}
	s.logger.WithFields(logrus.Fields{"order": p.OrderNumber, "carts": n}).Debug("abandoned carts converted")
	return nil
}

func (s *SideEffects) paymentNotification(ctx context.Context, event domain.OutboxEvent) error {
	p, err := decode[domain.PaymentNotificationPayload](event)
	if err != nil {
		return err
	}
	recipient := ""
	if account, err := s.db.GetAccount(ctx, p.AccountID); err == nil && account != nil {
		recipient = account.Email
	}
	return s.notify(ctx, port.Notification{
		Kind:      string(event.Type),
		Recipient: recipient,
		Subject:   "Payment " + p.PaymentNumber + " received for " + p.InvoiceNumber,
		EntityID:  p.PaymentID,
		Data: map[string]string{
			"invoiceId":     p.InvoiceID,
			"invoiceNumber": p.InvoiceNumber,
			"amount":        p.Amount.StringFixed(2),
			"paymentStatus": string(p.PaymentStatus),
			"amountDue":     p.AmountDue.StringFixed(2),
		},
	})
}

// paymentActivity reuses the event id so a replay hits the same row.
func (s *SideEffects) paymentActivity(ctx context.Context, event domain.OutboxEvent) error {
	p, err := decode[domain.PaymentActivityPayload](event)
	if err != nil {
		return err
	}
	err = s.db.InsertActivity(ctx, domain.Activity{
		ID:         event.ID,
		Type:       "PAYMENT",
		Subject:    fmt.Sprintf("Payment %s of %s received", p.PaymentNumber, p.Amount.StringFixed(2)),
		EntityType: "payment",
		EntityID:   p.PaymentID,
		AccountID:  p.AccountID,
		UserID:     p.ReceivedBy,
		CreatedAt:  s.now(),
	})
	if err != nil {
		return fmt.Errorf("insert activity: %w", err)
	}
	return nil
}

func (s *SideEffects) salesOrder(ctx context.Context, event domain.OutboxEvent) error {
	p, err := decode[domain.InvoicePaidPayload](event)
	if err != nil {
		return err
	}
	return s.db.WithinTx(ctx, func(ctx context.Context, tx port.Tx) error {
		exists, err := tx.SalesOrderExistsForInvoice(ctx, p.InvoiceID)
		if err != nil {
			return fmt.Errorf("check sales order: %w", err)
		}
		if exists {
			return nil
		}
		inv, err := tx.GetInvoice(ctx, p.InvoiceID)
		if err != nil {
			return fmt.Errorf("load invoice: %w", err)
		}
		if inv == nil {
			return fmt.Errorf("%w: %s", domain.ErrInvoiceNotFound, p.InvoiceID)
		}
		number, err := s.numbers.Next(ctx, tx, domain.SeriesSalesOrder, "")
		if err != nil {
			return err
		}
		so := domain.SalesOrderFromInvoice(*inv, uuid.NewString(), number, domain.SalesOrderConfirmed, s.now())
		if err := tx.InsertSalesOrder(ctx, so); err != nil {
			return fmt.Errorf("insert sales order: %w", err)
		}
		s.logger.WithFields(logrus.Fields{"invoice": inv.Number, "salesOrder": so.Number}).Info("sales order created for paid invoice")
		return nil
	})
}

func (s *SideEffects) commission(ctx context.Context, event domain.OutboxEvent) error {
	p, err := decode[domain.InvoicePaidPayload](event)
	if err != nil {
		return err
	}
	return s.db.WithinTx(ctx, func(ctx context.Context, tx port.Tx) error {
		inv, err := tx.GetInvoice(ctx, p.InvoiceID)
		if err != nil {
			return fmt.Errorf("load invoice: %w", err)
		}
		if inv == nil {
			return fmt.Errorf("%w: %s", domain.ErrInvoiceNotFound, p.InvoiceID)
		}
		if inv.SalesRepID == "" {
			return nil
		}
		exists, err := tx.CommissionExistsForInvoice(ctx, inv.ID)
		if err != nil {
			return fmt.Errorf("check commission: %w", err)
		}
		if exists {
			return nil
		}

		kv, err := tx.GetSettings(ctx, domain.SettingCommissionRate)
		if err != nil {
			return fmt.Errorf("load settings: %w", err)
		}
		rate := domain.ParseStoreSettings(kv).CommissionRate
		commission := domain.SalesCommission{
			ID:         uuid.NewString(),
			InvoiceID:  inv.ID,
			SalesRepID: inv.SalesRepID,
			Rate:       rate,
			Base:       inv.Subtotal,
			Amount:     domain.RoundMoney(inv.Subtotal.Mul(domain.Percent(rate))),
			CreatedAt:  s.now(),
		}
		if err := tx.InsertCommission(ctx, commission); err != nil {
			return fmt.Errorf("insert commission: %w", err)
		}
		return nil
	})
}

func (s *SideEffects) notify(ctx context.Context, n port.Notification) error {
	if s.notifier == nil {
		return nil
	}
	if err := s.notifier.Notify(ctx, n); err != nil {
		return fmt.Errorf("notify %s: %w", n.Kind, err)
	}
	return nil
}
