package port

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rl1809/settlement/internal/core/domain"
)

// Lookups return (nil, nil) when the row does not exist.

type CatalogRepository interface {
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
	GetWarehouse(ctx context.Context, id string) (*domain.Warehouse, error)
	GetExchangeRate(ctx context.Context, from, to string) (decimal.Decimal, bool, error)
}

type StockRepository interface {
	// ListStockItems returns a product's positions, largest available first.
	// Inside a transaction the rows are locked.
	ListStockItems(ctx context.Context, productID string) ([]domain.StockItem, error)
	GetStockItem(ctx context.Context, productID, warehouseID string) (*domain.StockItem, error)
	CreateStockItem(ctx context.Context, item domain.StockItem) error
	UpdateStockItem(ctx context.Context, item domain.StockItem) error
	InsertStockMovement(ctx context.Context, m domain.StockMovement) error
	ListStockMovements(ctx context.Context, filter domain.MovementFilter) ([]domain.StockMovement, int, error)
	HasMovementsForReference(ctx context.Context, reference string) (bool, error)
	InsertStockReservation(ctx context.Context, r domain.StockReservation) error
	// ListHeldReservations returns the HELD reservations for a reference.
	// Inside a transaction the rows are locked.
	ListHeldReservations(ctx context.Context, reference string) ([]domain.StockReservation, error)
	MarkReservationFulfilled(ctx context.Context, id string, at time.Time) error
}

type DocumentRepository interface {
	InsertQuotation(ctx context.Context, q domain.Quotation) error
	GetQuotation(ctx context.Context, id string) (*domain.Quotation, error)
	InsertInvoice(ctx context.Context, inv domain.Invoice) error
	GetInvoice(ctx context.Context, id string) (*domain.Invoice, error)
	UpdateInvoicePayment(ctx context.Context, inv domain.Invoice) error
	InsertSalesOrder(ctx context.Context, so domain.SalesOrder) error
	SalesOrderExistsForInvoice(ctx context.Context, invoiceID string) (bool, error)
	InsertEcommerceOrder(ctx context.Context, o domain.EcommerceOrder) error
	MarkOrderPaid(ctx context.Context, invoiceID string, at time.Time) error
}

type NumberRepository interface {
	LastNumber(ctx context.Context, series domain.NumberSeries, prefix string) (string, error)
	NumberExists(ctx context.Context, series domain.NumberSeries, number string) (bool, error)
}

type PaymentRepository interface {
	InsertPayment(ctx context.Context, p domain.Payment) error
	GetPayment(ctx context.Context, id string) (*domain.Payment, error)
	InsertAllocation(ctx context.Context, a domain.PaymentAllocation) error
	SumAllocations(ctx context.Context, invoiceID string) (decimal.Decimal, error)
	InsertCreditApplication(ctx context.Context, c domain.CreditNoteApplication) error
	SumCreditApplications(ctx context.Context, invoiceID string) (decimal.Decimal, error)
	InsertCommission(ctx context.Context, c domain.SalesCommission) error
	CommissionExistsForInvoice(ctx context.Context, invoiceID string) (bool, error)
}

type CRMRepository interface {
	FindLeadByEmail(ctx context.Context, email string) (*domain.Lead, error)
	InsertLead(ctx context.Context, l domain.Lead) error
	GetAccount(ctx context.Context, id string) (*domain.Account, error)
	FindAccountByEmail(ctx context.Context, email string) (*domain.Account, error)
	InsertAccount(ctx context.Context, a domain.Account) error
	FindContact(ctx context.Context, accountID, email string) (*domain.Contact, error)
	InsertContact(ctx context.Context, c domain.Contact) error
	InsertOpportunity(ctx context.Context, o domain.Opportunity) error
	GetOpportunity(ctx context.Context, id string) (*domain.Opportunity, error)
	UpdateOpportunity(ctx context.Context, o domain.Opportunity) error
	InsertActivity(ctx context.Context, a domain.Activity) error
	UpsertAbandonedCart(ctx context.Context, c domain.AbandonedCart) error
	// MarkAbandonedCartConverted flips ACTIVE carts for the session or email
	// and reports how many rows changed.
	MarkAbandonedCartConverted(ctx context.Context, sessionID, email, orderID string, at time.Time) (int64, error)
}

type SettingsRepository interface {
	GetSettings(ctx context.Context, keys ...string) (map[string]string, error)
}

type OutboxRepository interface {
	InsertOutboxEvent(ctx context.Context, e domain.OutboxEvent) error
	// ClaimPendingEvents leases up to limit PENDING events to the caller.
	// A leased event is not handed out again until the lease runs out or
	// the event is marked.
	ClaimPendingEvents(ctx context.Context, limit int, lease time.Duration) ([]domain.OutboxEvent, error)
	MarkEventDone(ctx context.Context, id string, at time.Time) error
	MarkEventFailed(ctx context.Context, id string, errMsg string, park bool) error
}

// Repositories is the full set of queries, bound either to the pool or to a
// transaction.
type Repositories interface {
	CatalogRepository
	StockRepository
	DocumentRepository
	NumberRepository
	PaymentRepository
	CRMRepository
	SettingsRepository
	OutboxRepository
}

type Tx interface {
	Repositories
	// Savepoint runs fn so that a failure undoes only fn's writes. fnErr is
	// fn's own failure; err means the savepoint itself broke and the
	// transaction must be abandoned.
	Savepoint(ctx context.Context, name string, fn func() error) (fnErr error, err error)
}

type DatabaseRepository interface {
	Repositories
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}
