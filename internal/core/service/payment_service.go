package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/rl1809/settlement/internal/core/domain"
	"github.com/rl1809/settlement/internal/metrics"
	"github.com/rl1809/settlement/internal/port"
)

type AllocationInput struct {
	InvoiceID string          `validate:"required"`
	Amount    decimal.Decimal `validate:"-"`
	Notes     string
}

type PaymentInput struct {
	AccountID   string               `validate:"required"`
	Amount      decimal.Decimal      `validate:"-"`
	Method      domain.PaymentMethod `validate:"required"`
	Reference   string
	Notes       string
	ReceivedBy  string
	Allocations []AllocationInput `validate:"dive"`
}

func (in PaymentInput) validate() error {
	if err := validate.Struct(in); err != nil {
		return fieldError("", err)
	}
	if !in.Amount.IsPositive() {
		return domain.NewValidationError("amount", "must be greater than zero")
	}
	if !in.Method.Valid() {
		return domain.NewValidationError("method", fmt.Sprintf("unsupported payment method %q", in.Method))
	}
	allocated := decimal.Zero
	for i, a := range in.Allocations {
		if !a.Amount.IsPositive() {
			return domain.NewValidationError(fmt.Sprintf("invoiceAllocations[%d].amount", i), "must be greater than zero")
		}
		allocated = allocated.Add(a.Amount)
	}
	if allocated.GreaterThan(in.Amount) {
		return domain.ErrAllocationExceedsPayment
	}
	return nil
}

type CreditNoteInput struct {
	InvoiceID        string `validate:"required"`
	CreditNoteNumber string `validate:"required"`
	Amount           decimal.Decimal
}

// InvoiceSettlement is the post-allocation state of one invoice.
type InvoiceSettlement struct {
	InvoiceID     string
	InvoiceNumber string
	PaymentStatus domain.PaymentStatus
	AmountPaid    decimal.Decimal
	AmountDue     decimal.Decimal
	BecamePaid    bool
	StockDeducted bool
}

type PaymentResult struct {
	Payment  domain.Payment
	Account  domain.Account
	Invoices []InvoiceSettlement
}

type PaymentService struct {
	db      port.DatabaseRepository
	ledger  *StockLedger
	numbers *NumberGenerator
	kicker  Kicker
	metrics *metrics.Metrics
	logger  logrus.FieldLogger
	now     func() time.Time
}

func NewPaymentService(db port.DatabaseRepository, ledger *StockLedger, numbers *NumberGenerator, kicker Kicker, m *metrics.Metrics, logger logrus.FieldLogger) *PaymentService {
	return &PaymentService{
		db:      db,
		ledger:  ledger,
		numbers: numbers,
		kicker:  kicker,
		metrics: m,
		logger:  logger,
		now:     time.Now,
	}
}

func (s *PaymentService) RecordPayment(ctx context.Context, in PaymentInput) (PaymentResult, error) {
	result, err := s.recordPayment(ctx, in)
	s.metrics.PaymentResult(paymentOutcome(err))
	return result, err
}

func (s *PaymentService) recordPayment(ctx context.Context, in PaymentInput) (PaymentResult, error) {
	in.AccountID = strings.TrimSpace(in.AccountID)
	if err := in.validate(); err != nil {
		return PaymentResult{}, err
	}

	var result PaymentResult
	err := s.db.WithinTx(ctx, func(ctx context.Context, tx port.Tx) error {
		now := s.now()

		account, err := tx.GetAccount(ctx, in.AccountID)
		if err != nil {
			return fmt.Errorf("load account: %w", err)
		}
		if account == nil {
			return fmt.Errorf("%w: %s", domain.ErrAccountNotFound, in.AccountID)
		}

		number, err := s.numbers.Next(ctx, tx, domain.SeriesPayment, "")
		if err != nil {
			return err
		}
		payment := domain.Payment{
			ID:         uuid.NewString(),
			Number:     number,
			AccountID:  account.ID,
			Amount:     domain.RoundMoney(in.Amount),
			Method:     in.Method,
			Reference:  in.Reference,
			Notes:      in.Notes,
			ReceivedBy: in.ReceivedBy,
			CreatedAt:  now,
		}
		if err := tx.InsertPayment(ctx, payment); err != nil {
			return fmt.Errorf("insert payment: %w", err)
		}

		settlements := make([]InvoiceSettlement, 0, len(in.Allocations))
		for _, a := range in.Allocations {
			allocation := domain.PaymentAllocation{
				ID:        uuid.NewString(),
				PaymentID: payment.ID,
				InvoiceID: a.InvoiceID,
				Amount:    domain.RoundMoney(a.Amount),
				Notes:     a.Notes,
				CreatedAt: now,
			}

			inv, err := tx.GetInvoice(ctx, a.InvoiceID)
			if err != nil {
				return fmt.Errorf("load invoice: %w", err)
			}
			if inv == nil {
				return fmt.Errorf("%w: %s", domain.ErrInvoiceNotFound, a.InvoiceID)
			}
			if err := tx.InsertAllocation(ctx, allocation); err != nil {
				return fmt.Errorf("insert allocation: %w", err)
			}
			payment.Allocations = append(payment.Allocations, allocation)

			settled, err := s.settle(ctx, tx, inv, now)
			if err != nil {
				return err
			}
			settlements = append(settlements, settled)

			if err := enqueue(ctx, tx, "payment", payment.ID, domain.EventPaymentNotification, domain.PaymentNotificationPayload{
				PaymentID:     payment.ID,
				PaymentNumber: payment.Number,
				AccountID:     account.ID,
				InvoiceID:     inv.ID,
				InvoiceNumber: inv.Number,
				Amount:        allocation.Amount,
				PaymentStatus: settled.PaymentStatus,
				AmountDue:     settled.AmountDue,
			}, now); err != nil {
				return err
			}
			if settled.BecamePaid {
				if err := s.enqueuePaid(ctx, tx, inv.ID, payment.ID, now); err != nil {
					return err
				}
			}
		}

		if err := enqueue(ctx, tx, "payment", payment.ID, domain.EventPaymentActivity, domain.PaymentActivityPayload{
			PaymentID:     payment.ID,
			PaymentNumber: payment.Number,
			AccountID:     account.ID,
			Amount:        payment.Amount,
			ReceivedBy:    payment.ReceivedBy,
		}, now); err != nil {
			return err
		}

		result = PaymentResult{Payment: payment, Account: *account, Invoices: settlements}
		return nil
	})
	if err != nil {
		return PaymentResult{}, err
	}

	s.logger.WithFields(logrus.Fields{
		"payment": result.Payment.Number,
		"account": result.Account.ID,
		"amount":  result.Payment.Amount.String(),
	}).Info("payment recorded")

	if s.kicker != nil {
		s.kicker.Kick()
	}
	return result, nil
}

// ApplyCreditNote reduces what is owed on an invoice and settles it the same
// way a payment allocation does.
func (s *PaymentService) ApplyCreditNote(ctx context.Context, in CreditNoteInput) (InvoiceSettlement, error) {
	if err := validate.Struct(in); err != nil {
		return InvoiceSettlement{}, fieldError("", err)
	}
	if !in.Amount.IsPositive() {
		return InvoiceSettlement{}, domain.NewValidationError("amount", "must be greater than zero")
	}

	var settled InvoiceSettlement
	err := s.db.WithinTx(ctx, func(ctx context.Context, tx port.Tx) error {
		now := s.now()
		inv, err := tx.GetInvoice(ctx, in.InvoiceID)
		if err != nil {
			return fmt.Errorf("load invoice: %w", err)
		}
		if inv == nil {
			return fmt.Errorf("%w: %s", domain.ErrInvoiceNotFound, in.InvoiceID)
		}
		amount := domain.RoundMoney(in.Amount)
		if amount.GreaterThan(inv.AmountDue) {
			return domain.ErrCreditExceedsDue
		}

		if err := tx.InsertCreditApplication(ctx, domain.CreditNoteApplication{
			ID:               uuid.NewString(),
			InvoiceID:        inv.ID,
			CreditNoteNumber: in.CreditNoteNumber,
			Amount:           amount,
			CreatedAt:        now,
		}); err != nil {
			return fmt.Errorf("insert credit application: %w", err)
		}

		settled, err = s.settle(ctx, tx, inv, now)
		if err != nil {
			return err
		}
		if settled.BecamePaid {
			return s.enqueuePaid(ctx, tx, inv.ID, "", now)
		}
		return nil
	})
	if err != nil {
		return InvoiceSettlement{}, err
	}

	s.logger.WithFields(logrus.Fields{
		"invoice":    settled.InvoiceNumber,
		"creditNote": in.CreditNoteNumber,
		"status":     settled.PaymentStatus,
	}).Info("credit note applied")

	if settled.BecamePaid && s.kicker != nil {
		s.kicker.Kick()
	}
	return settled, nil
}

// settle recomputes an invoice's paid amount from its allocations and credit
// applications and runs the PAID transition work when it crosses over.
func (s *PaymentService) settle(ctx context.Context, tx port.Tx, inv *domain.Invoice, now time.Time) (InvoiceSettlement, error) {
	paid, err := tx.SumAllocations(ctx, inv.ID)
	if err != nil {
		return InvoiceSettlement{}, fmt.Errorf("sum allocations: %w", err)
	}
	credited, err := tx.SumCreditApplications(ctx, inv.ID)
	if err != nil {
		return InvoiceSettlement{}, fmt.Errorf("sum credit applications: %w", err)
	}

	becamePaid := inv.Settle(paid.Add(credited))
	inv.UpdatedAt = now
	if err := tx.UpdateInvoicePayment(ctx, *inv); err != nil {
		return InvoiceSettlement{}, fmt.Errorf("update invoice payment: %w", err)
	}

	settled := InvoiceSettlement{
		InvoiceID:     inv.ID,
		InvoiceNumber: inv.Number,
		PaymentStatus: inv.PaymentStatus,
		AmountPaid:    inv.AmountPaid,
		AmountDue:     inv.AmountDue,
		BecamePaid:    becamePaid,
	}
	if !becamePaid {
		return settled, nil
	}

	deducted, err := s.onPaid(ctx, tx, *inv, now)
	if err != nil {
		return InvoiceSettlement{}, err
	}
	settled.StockDeducted = deducted
	return settled, nil
}

func (s *PaymentService) onPaid(ctx context.Context, tx port.Tx, inv domain.Invoice, now time.Time) (bool, error) {
	log := s.logger.WithFields(logrus.Fields{"invoice": inv.Number, "invoiceId": inv.ID})

	deducted := false
	fnErr, err := tx.Savepoint(ctx, "stock_deduction", func() error {
		var err error
		deducted, err = s.ledger.DeductForInvoice(ctx, tx, inv)
		return err
	})
	if err != nil {
		return false, fmt.Errorf("stock deduction savepoint: %w", err)
	}
	if fnErr != nil {
		deducted = false
		s.metrics.SideEffectFailed("stock_deduction")
		log.WithError(fnErr).Warn("stock deduction skipped for paid invoice")
	}

	if inv.QuotationID != "" {
		if err := s.winOpportunity(ctx, tx, inv, now); err != nil {
			return false, err
		}
	}

	if err := tx.MarkOrderPaid(ctx, inv.ID, now); err != nil {
		return false, fmt.Errorf("mark order paid: %w", err)
	}

	log.Info("invoice paid")
	return deducted, nil
}

func (s *PaymentService) winOpportunity(ctx context.Context, tx port.Tx, inv domain.Invoice, now time.Time) error {
	quotation, err := tx.GetQuotation(ctx, inv.QuotationID)
	if err != nil {
		return fmt.Errorf("load quotation: %w", err)
	}
	if quotation == nil || quotation.OpportunityID == "" {
		return nil
	}
	opportunity, err := tx.GetOpportunity(ctx, quotation.OpportunityID)
	if err != nil {
		return fmt.Errorf("load opportunity: %w", err)
	}
	if opportunity == nil || opportunity.Stage == domain.StageWon {
		return nil
	}
	opportunity.MarkWon(inv.Total, now)
	if err := tx.UpdateOpportunity(ctx, *opportunity); err != nil {
		return fmt.Errorf("update opportunity: %w", err)
	}
	return nil
}

func (s *PaymentService) enqueuePaid(ctx context.Context, tx port.Tx, invoiceID, paymentID string, now time.Time) error {
	payload := domain.InvoicePaidPayload{InvoiceID: invoiceID, PaymentID: paymentID}
	for _, t := range []domain.EventType{domain.EventInvoiceSalesOrder, domain.EventInvoiceCommission} {
		if err := enqueue(ctx, tx, "invoice", invoiceID, t, payload, now); err != nil {
			return err
		}
	}
	return nil
}

func (s *PaymentService) GetPayment(ctx context.Context, id string) (*domain.Payment, error) {
	p, err := s.db.GetPayment(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load payment: %w", err)
	}
	if p == nil {
		return nil, domain.ErrPaymentNotFound
	}
	return p, nil
}

func (s *PaymentService) GetInvoice(ctx context.Context, id string) (*domain.Invoice, error) {
	inv, err := s.db.GetInvoice(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load invoice: %w", err)
	}
	if inv == nil {
		return nil, domain.ErrInvoiceNotFound
	}
	return inv, nil
}

func (s *PaymentService) GetAccount(ctx context.Context, id string) (*domain.Account, error) {
	a, err := s.db.GetAccount(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load account: %w", err)
	}
	if a == nil {
		return nil, domain.ErrAccountNotFound
	}
	return a, nil
}

func paymentOutcome(err error) string {
	var verr *domain.ValidationError
	switch {
	case err == nil:
		return "success"
	case errors.As(err, &verr), errors.Is(err, domain.ErrAllocationExceedsPayment):
		return "invalid"
	case errors.Is(err, domain.ErrAccountNotFound), errors.Is(err, domain.ErrInvoiceNotFound):
		return "not_found"
	default:
		return "error"
	}
}
