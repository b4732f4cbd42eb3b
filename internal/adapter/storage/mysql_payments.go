package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/rl1809/settlement/internal/core/domain"
)

func (s *queries) InsertPayment(ctx context.Context, p domain.Payment) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO payments (id, number, account_id, amount, method, reference, notes, received_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Number, p.AccountID, p.Amount, p.Method, p.Reference, nullString(p.Notes), p.ReceivedBy, p.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert payment: %w", err)
	}
	return nil
}

func (s *queries) GetPayment(ctx context.Context, id string) (*domain.Payment, error) {
	var p domain.Payment
	var notes sql.NullString
	err := s.q.QueryRowContext(ctx, `
		SELECT id, number, account_id, amount, method, reference, notes, received_by, created_at
		FROM payments WHERE id = ?`, id,
	).Scan(&p.ID, &p.Number, &p.AccountID, &p.Amount, &p.Method, &p.Reference, &notes, &p.ReceivedBy, &p.CreatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query payment: %w", err)
	}
	p.Notes = notes.String

	rows, err := s.q.QueryContext(ctx, `
		SELECT id, payment_id, invoice_id, amount, notes, created_at
		FROM payment_allocations WHERE payment_id = ?
		ORDER BY created_at, id`, id)
	if err != nil {
		return nil, fmt.Errorf("query payment allocations: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var a domain.PaymentAllocation
		if err := rows.Scan(&a.ID, &a.PaymentID, &a.InvoiceID, &a.Amount, &a.Notes, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan payment allocation: %w", err)
		}
		p.Allocations = append(p.Allocations, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *queries) InsertAllocation(ctx context.Context, a domain.PaymentAllocation) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO payment_allocations (id, payment_id, invoice_id, amount, notes, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		a.ID, a.PaymentID, a.InvoiceID, a.Amount, a.Notes, a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert payment allocation: %w", err)
	}
	return nil
}

func (s *queries) SumAllocations(ctx context.Context, invoiceID string) (decimal.Decimal, error) {
	total, err := s.sum(ctx, `SELECT SUM(amount) FROM payment_allocations WHERE invoice_id = ?`, invoiceID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("sum allocations: %w", err)
	}
	return total, nil
}

func (s *queries) InsertCreditApplication(ctx context.Context, c domain.CreditNoteApplication) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO credit_note_applications (id, invoice_id, credit_note_number, amount, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		c.ID, c.InvoiceID, c.CreditNoteNumber, c.Amount, c.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert credit application: %w", err)
	}
	return nil
}

func (s *queries) SumCreditApplications(ctx context.Context, invoiceID string) (decimal.Decimal, error) {
	total, err := s.sum(ctx, `SELECT SUM(amount) FROM credit_note_applications WHERE invoice_id = ?`, invoiceID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("sum credit applications: %w", err)
	}
	return total, nil
}

func (s *queries) InsertCommission(ctx context.Context, c domain.SalesCommission) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO sales_commissions (id, invoice_id, sales_rep_id, rate, base, amount, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.InvoiceID, c.SalesRepID, c.Rate, c.Base, c.Amount, c.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert commission: %w", err)
	}
	return nil
}

func (s *queries) CommissionExistsForInvoice(ctx context.Context, invoiceID string) (bool, error) {
	ok, err := s.exists(ctx, `SELECT 1 FROM sales_commissions WHERE invoice_id = ? LIMIT 1`, invoiceID)
	if err != nil {
		return false, fmt.Errorf("query commission for invoice: %w", err)
	}
	return ok, nil
}
