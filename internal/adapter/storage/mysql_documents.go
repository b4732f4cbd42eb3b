package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/rl1809/settlement/internal/core/domain"
)

const (
	docQuotation  = "QUOTATION"
	docInvoice    = "INVOICE"
	docSalesOrder = "SALES_ORDER"
)

func (s *queries) insertLines(ctx context.Context, docType, docID string, lines []domain.LineItem) error {
	for i, l := range lines {
		id := l.ID
		if id == "" {
			id = uuid.NewString()
		}
		position := l.Position
		if position == 0 {
			position = i + 1
		}
		_, err := s.q.ExecContext(ctx, `
			INSERT INTO document_lines (id, document_type, document_id, product_id, description, quantity, unit_price, discount, line_total, position)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			id, docType, docID, l.ProductID, l.Description, l.Quantity, l.UnitPrice, l.Discount, l.LineTotal, position,
		)
		if err != nil {
			return fmt.Errorf("insert %s line: %w", docType, err)
		}
	}
	return nil
}

func (s *queries) loadLines(ctx context.Context, docType, docID string) ([]domain.LineItem, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, product_id, description, quantity, unit_price, discount, line_total, position
		FROM document_lines WHERE document_type = ? AND document_id = ?
		ORDER BY position`, docType, docID)
	if err != nil {
		return nil, fmt.Errorf("query %s lines: %w", docType, err)
	}
	defer rows.Close()

	var lines []domain.LineItem
	for rows.Next() {
		var l domain.LineItem
		if err := rows.Scan(&l.ID, &l.ProductID, &l.Description, &l.Quantity, &l.UnitPrice, &l.Discount, &l.LineTotal, &l.Position); err != nil {
			return nil, fmt.Errorf("scan %s line: %w", docType, err)
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

func (s *queries) InsertQuotation(ctx context.Context, q domain.Quotation) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO quotations (id, number, account_id, contact_id, opportunity_id, status, currency, subtotal, tax_rate, tax, total, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		q.ID, q.Number, q.AccountID, q.ContactID, q.OpportunityID, q.Status, q.Currency,
		q.Subtotal, q.TaxRate, q.Tax, q.Total, q.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert quotation: %w", err)
	}
	return s.insertLines(ctx, docQuotation, q.ID, q.Lines)
}

func (s *queries) GetQuotation(ctx context.Context, id string) (*domain.Quotation, error) {
	var q domain.Quotation
	err := s.q.QueryRowContext(ctx, `
		SELECT id, number, account_id, contact_id, opportunity_id, status, currency, subtotal, tax_rate, tax, total, created_at
		FROM quotations WHERE id = ?`, id,
	).Scan(&q.ID, &q.Number, &q.AccountID, &q.ContactID, &q.OpportunityID, &q.Status, &q.Currency,
		&q.Subtotal, &q.TaxRate, &q.Tax, &q.Total, &q.CreatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query quotation: %w", err)
	}

	if q.Lines, err = s.loadLines(ctx, docQuotation, q.ID); err != nil {
		return nil, err
	}
	return &q, nil
}

func (s *queries) InsertInvoice(ctx context.Context, inv domain.Invoice) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO invoices (id, number, account_id, contact_id, quotation_id, sales_rep_id, status, currency,
			payment_status, amount_paid, amount_due, subtotal, tax_rate, tax, total, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		inv.ID, inv.Number, inv.AccountID, inv.ContactID, inv.QuotationID, inv.SalesRepID, inv.Status, inv.Currency,
		inv.PaymentStatus, inv.AmountPaid, inv.AmountDue, inv.Subtotal, inv.TaxRate, inv.Tax, inv.Total,
		inv.CreatedAt, inv.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert invoice: %w", err)
	}
	return s.insertLines(ctx, docInvoice, inv.ID, inv.Lines)
}

// GetInvoice locks the invoice row inside a transaction so concurrent
// payments against it serialize.
func (s *queries) GetInvoice(ctx context.Context, id string) (*domain.Invoice, error) {
	var inv domain.Invoice
	err := s.q.QueryRowContext(ctx, `
		SELECT id, number, account_id, contact_id, quotation_id, sales_rep_id, status, currency,
			payment_status, amount_paid, amount_due, subtotal, tax_rate, tax, total, created_at, updated_at
		FROM invoices WHERE id = ?`+s.forUpdate(), id,
	).Scan(&inv.ID, &inv.Number, &inv.AccountID, &inv.ContactID, &inv.QuotationID, &inv.SalesRepID, &inv.Status, &inv.Currency,
		&inv.PaymentStatus, &inv.AmountPaid, &inv.AmountDue, &inv.Subtotal, &inv.TaxRate, &inv.Tax, &inv.Total,
		&inv.CreatedAt, &inv.UpdatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query invoice: %w", err)
	}

	if inv.Lines, err = s.loadLines(ctx, docInvoice, inv.ID); err != nil {
		return nil, err
	}
	return &inv, nil
}

func (s *queries) UpdateInvoicePayment(ctx context.Context, inv domain.Invoice) error {
	result, err := s.q.ExecContext(ctx, `
		UPDATE invoices SET payment_status = ?, amount_paid = ?, amount_due = ?, updated_at = ?
		WHERE id = ?`,
		inv.PaymentStatus, inv.AmountPaid, inv.AmountDue, inv.UpdatedAt, inv.ID,
	)
	if err != nil {
		return fmt.Errorf("update invoice payment: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return domain.ErrInvoiceNotFound
	}
	return nil
}

func (s *queries) InsertSalesOrder(ctx context.Context, so domain.SalesOrder) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO sales_orders (id, number, account_id, invoice_id, status, currency, subtotal, tax_rate, tax, total, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		so.ID, so.Number, so.AccountID, nullString(so.InvoiceID), so.Status, so.Currency,
		so.Subtotal, so.TaxRate, so.Tax, so.Total, so.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert sales order: %w", err)
	}
	return s.insertLines(ctx, docSalesOrder, so.ID, so.Lines)
}

func (s *queries) SalesOrderExistsForInvoice(ctx context.Context, invoiceID string) (bool, error) {
	ok, err := s.exists(ctx, `SELECT 1 FROM sales_orders WHERE invoice_id = ? LIMIT 1`, invoiceID)
	if err != nil {
		return false, fmt.Errorf("query sales order for invoice: %w", err)
	}
	return ok, nil
}

func (s *queries) InsertEcommerceOrder(ctx context.Context, o domain.EcommerceOrder) error {
	shipping, err := json.Marshal(o.ShippingAddress)
	if err != nil {
		return fmt.Errorf("encode shipping address: %w", err)
	}
	billing, err := json.Marshal(o.BillingAddress)
	if err != nil {
		return fmt.Errorf("encode billing address: %w", err)
	}

	_, err = s.q.ExecContext(ctx, `
		INSERT INTO ecommerce_orders (id, number, session_id, customer_email, customer_name, customer_phone,
			account_id, quotation_id, invoice_id, status, payment_status, payment_method, currency, notes,
			shipping_address, billing_address, subtotal, tax_rate, tax, total, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.ID, o.Number, o.SessionID, o.Customer.Email, o.Customer.Name, o.Customer.Phone,
		o.AccountID, o.QuotationID, o.InvoiceID, o.Status, o.PaymentStatus, o.PaymentMethod, o.Currency, nullString(o.Notes),
		string(shipping), string(billing), o.Subtotal, o.TaxRate, o.Tax, o.Total, o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert ecommerce order: %w", err)
	}

	for _, it := range o.Items {
		id := it.ID
		if id == "" {
			id = uuid.NewString()
		}
		_, err := s.q.ExecContext(ctx, `
			INSERT INTO ecommerce_order_items (id, order_id, product_id, product_name, sku, quantity, unit_price, line_total)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			id, o.ID, it.ProductID, it.ProductName, it.SKU, it.Quantity, it.UnitPrice, it.LineTotal,
		)
		if err != nil {
			return fmt.Errorf("insert ecommerce order item: %w", err)
		}
	}
	return nil
}

func (s *queries) MarkOrderPaid(ctx context.Context, invoiceID string, at time.Time) error {
	_, err := s.q.ExecContext(ctx, `
		UPDATE ecommerce_orders SET payment_status = ?, updated_at = ?
		WHERE invoice_id = ?`, domain.OrderPaymentPaid, at, invoiceID)
	if err != nil {
		return fmt.Errorf("mark order paid: %w", err)
	}
	return nil
}
