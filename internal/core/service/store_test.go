package service

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/rl1809/settlement/internal/core/domain"
	"github.com/rl1809/settlement/internal/port"
)

// memState is everything the in-memory store holds. clone gives the
// snapshot used for transaction and savepoint rollback.
type memState struct {
	products      map[string]domain.Product
	warehouses    map[string]domain.Warehouse
	rates         map[string]decimal.Decimal
	stockItems    map[string]domain.StockItem
	movements     []domain.StockMovement
	reservations  []domain.StockReservation
	quotations    map[string]domain.Quotation
	invoices      map[string]domain.Invoice
	salesOrders   []domain.SalesOrder
	orders        []domain.EcommerceOrder
	payments      map[string]domain.Payment
	allocations   []domain.PaymentAllocation
	credits       []domain.CreditNoteApplication
	commissions   []domain.SalesCommission
	leads         []domain.Lead
	accounts      map[string]domain.Account
	contacts      []domain.Contact
	opportunities map[string]domain.Opportunity
	activities    map[string]domain.Activity
	carts         []domain.AbandonedCart
	settings      map[string]string
	outbox        []domain.OutboxEvent
}

func newMemState() memState {
	return memState{
		products:      map[string]domain.Product{},
		warehouses:    map[string]domain.Warehouse{},
		rates:         map[string]decimal.Decimal{},
		stockItems:    map[string]domain.StockItem{},
		quotations:    map[string]domain.Quotation{},
		invoices:      map[string]domain.Invoice{},
		payments:      map[string]domain.Payment{},
		accounts:      map[string]domain.Account{},
		opportunities: map[string]domain.Opportunity{},
		activities:    map[string]domain.Activity{},
		settings:      map[string]string{},
	}
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneSlice[T any](s []T) []T {
	return append([]T(nil), s...)
}

func (s memState) clone() memState {
	return memState{
		products:      cloneMap(s.products),
		warehouses:    cloneMap(s.warehouses),
		rates:         cloneMap(s.rates),
		stockItems:    cloneMap(s.stockItems),
		movements:     cloneSlice(s.movements),
		reservations:  cloneSlice(s.reservations),
		quotations:    cloneMap(s.quotations),
		invoices:      cloneMap(s.invoices),
		salesOrders:   cloneSlice(s.salesOrders),
		orders:        cloneSlice(s.orders),
		payments:      cloneMap(s.payments),
		allocations:   cloneSlice(s.allocations),
		credits:       cloneSlice(s.credits),
		commissions:   cloneSlice(s.commissions),
		leads:         cloneSlice(s.leads),
		accounts:      cloneMap(s.accounts),
		contacts:      cloneSlice(s.contacts),
		opportunities: cloneMap(s.opportunities),
		activities:    cloneMap(s.activities),
		carts:         cloneSlice(s.carts),
		settings:      cloneMap(s.settings),
		outbox:        cloneSlice(s.outbox),
	}
}

// memStore is a port.DatabaseRepository kept in maps. Transactions are
// serialized and roll back by restoring a snapshot.
type memStore struct {
	txMu  sync.Mutex
	state memState

	// failMovementRef makes InsertStockMovement fail for that reference.
	failMovementRef string

	// onListStock runs before ListStockItems answers, with the number of
	// calls made so far for the product.
	onListStock func(productID string, call int)
	stockCalls  map[string]int
}

var _ port.DatabaseRepository = (*memStore)(nil)
var _ port.Tx = (*memTx)(nil)

func newMemStore() *memStore {
	return &memStore{state: newMemState()}
}

type memTx struct {
	*memStore
}

func (m *memStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx port.Tx) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()

	snapshot := m.state.clone()
	if err := fn(ctx, &memTx{m}); err != nil {
		m.state = snapshot
		return err
	}
	return nil
}

func (t *memTx) Savepoint(ctx context.Context, name string, fn func() error) (error, error) {
	snapshot := t.state.clone()
	if err := fn(); err != nil {
		t.state = snapshot
		return err, nil
	}
	return nil, nil
}

// seeding helpers

func (m *memStore) addProduct(id, name string, price string, currency string) {
	m.state.products[id] = domain.Product{
		ID:           id,
		Name:         name,
		SKU:          strings.ToUpper(id),
		Price:        decimal.RequireFromString(price),
		BaseCurrency: currency,
	}
}

func (m *memStore) addWarehouse(id string) {
	m.state.warehouses[id] = domain.Warehouse{ID: id, Name: "Warehouse " + id, Code: strings.ToUpper(id)}
}

func (m *memStore) addStock(productID, warehouseID string, qty int, avg string) {
	item := domain.StockItem{
		ID:          productID + "@" + warehouseID,
		ProductID:   productID,
		WarehouseID: warehouseID,
		AverageCost: decimal.RequireFromString(avg),
	}
	item.Quantity = qty
	item.Available = qty
	item.TotalValue = domain.RoundMoney(decimal.NewFromInt(int64(qty)).Mul(item.AverageCost))
	m.state.stockItems[item.ID] = item
}

func (m *memStore) stockItem(productID, warehouseID string) domain.StockItem {
	for _, it := range m.state.stockItems {
		if it.ProductID == productID && it.WarehouseID == warehouseID {
			return it
		}
	}
	return domain.StockItem{}
}

func (m *memStore) eventsOfType(t domain.EventType) []domain.OutboxEvent {
	var out []domain.OutboxEvent
	for _, e := range m.state.outbox {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// CatalogRepository

func (m *memStore) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	p, ok := m.state.products[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (m *memStore) GetWarehouse(ctx context.Context, id string) (*domain.Warehouse, error) {
	w, ok := m.state.warehouses[id]
	if !ok {
		return nil, nil
	}
	return &w, nil
}

func (m *memStore) GetExchangeRate(ctx context.Context, from, to string) (decimal.Decimal, bool, error) {
	r, ok := m.state.rates[from+"/"+to]
	return r, ok, nil
}

// StockRepository

func (m *memStore) ListStockItems(ctx context.Context, productID string) ([]domain.StockItem, error) {
	if m.onListStock != nil {
		if m.stockCalls == nil {
			m.stockCalls = map[string]int{}
		}
		m.stockCalls[productID]++
		m.onListStock(productID, m.stockCalls[productID])
	}
	var items []domain.StockItem
	for _, it := range m.state.stockItems {
		if it.ProductID == productID {
			items = append(items, it)
		}
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].Available != items[j].Available {
			return items[i].Available > items[j].Available
		}
		return items[i].WarehouseID < items[j].WarehouseID
	})
	return items, nil
}

func (m *memStore) GetStockItem(ctx context.Context, productID, warehouseID string) (*domain.StockItem, error) {
	for _, it := range m.state.stockItems {
		if it.ProductID == productID && it.WarehouseID == warehouseID {
			return &it, nil
		}
	}
	return nil, nil
}

func (m *memStore) CreateStockItem(ctx context.Context, item domain.StockItem) error {
	m.state.stockItems[item.ID] = item
	return nil
}

func (m *memStore) UpdateStockItem(ctx context.Context, item domain.StockItem) error {
	m.state.stockItems[item.ID] = item
	return nil
}

func (m *memStore) InsertStockMovement(ctx context.Context, mv domain.StockMovement) error {
	if m.failMovementRef != "" && mv.Reference == m.failMovementRef {
		return errors.New("movement insert failed")
	}
	m.state.movements = append(m.state.movements, mv)
	return nil
}

func (m *memStore) ListStockMovements(ctx context.Context, f domain.MovementFilter) ([]domain.StockMovement, int, error) {
	var matched []domain.StockMovement
	for i := len(m.state.movements) - 1; i >= 0; i-- {
		mv := m.state.movements[i]
		if f.ProductID != "" && mv.ProductID != f.ProductID {
			continue
		}
		if f.WarehouseID != "" && mv.WarehouseID != f.WarehouseID {
			continue
		}
		if f.Type != "" && mv.Type != f.Type {
			continue
		}
		if f.Reference != "" && mv.Reference != f.Reference {
			continue
		}
		matched = append(matched, mv)
	}
	total := len(matched)
	start := f.Offset()
	if start > total {
		start = total
	}
	end := start + f.PageSize
	if end > total {
		end = total
	}
	return matched[start:end], total, nil
}

func (m *memStore) HasMovementsForReference(ctx context.Context, reference string) (bool, error) {
	for _, mv := range m.state.movements {
		if mv.Reference == reference {
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) InsertStockReservation(ctx context.Context, r domain.StockReservation) error {
	m.state.reservations = append(m.state.reservations, r)
	return nil
}

func (m *memStore) ListHeldReservations(ctx context.Context, reference string) ([]domain.StockReservation, error) {
	var out []domain.StockReservation
	for _, r := range m.state.reservations {
		if r.Reference == reference && r.Status == domain.ReservationHeld {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memStore) MarkReservationFulfilled(ctx context.Context, id string, at time.Time) error {
	for i, r := range m.state.reservations {
		if r.ID == id && r.Status == domain.ReservationHeld {
			m.state.reservations[i].Status = domain.ReservationFulfilled
			m.state.reservations[i].UpdatedAt = at
		}
	}
	return nil
}

// DocumentRepository

func (m *memStore) InsertQuotation(ctx context.Context, q domain.Quotation) error {
	m.state.quotations[q.ID] = q
	return nil
}

func (m *memStore) GetQuotation(ctx context.Context, id string) (*domain.Quotation, error) {
	q, ok := m.state.quotations[id]
	if !ok {
		return nil, nil
	}
	return &q, nil
}

func (m *memStore) InsertInvoice(ctx context.Context, inv domain.Invoice) error {
	m.state.invoices[inv.ID] = inv
	return nil
}

func (m *memStore) GetInvoice(ctx context.Context, id string) (*domain.Invoice, error) {
	inv, ok := m.state.invoices[id]
	if !ok {
		return nil, nil
	}
	inv.Lines = cloneSlice(inv.Lines)
	return &inv, nil
}

func (m *memStore) UpdateInvoicePayment(ctx context.Context, inv domain.Invoice) error {
	cur, ok := m.state.invoices[inv.ID]
	if !ok {
		return domain.ErrInvoiceNotFound
	}
	cur.PaymentStatus = inv.PaymentStatus
	cur.AmountPaid = inv.AmountPaid
	cur.AmountDue = inv.AmountDue
	cur.UpdatedAt = inv.UpdatedAt
	m.state.invoices[inv.ID] = cur
	return nil
}

func (m *memStore) InsertSalesOrder(ctx context.Context, so domain.SalesOrder) error {
	m.state.salesOrders = append(m.state.salesOrders, so)
	return nil
}

func (m *memStore) SalesOrderExistsForInvoice(ctx context.Context, invoiceID string) (bool, error) {
	for _, so := range m.state.salesOrders {
		if so.InvoiceID == invoiceID {
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) InsertEcommerceOrder(ctx context.Context, o domain.EcommerceOrder) error {
	m.state.orders = append(m.state.orders, o)
	return nil
}

func (m *memStore) MarkOrderPaid(ctx context.Context, invoiceID string, at time.Time) error {
	for i, o := range m.state.orders {
		if o.InvoiceID == invoiceID {
			m.state.orders[i].PaymentStatus = domain.OrderPaymentPaid
			m.state.orders[i].UpdatedAt = at
		}
	}
	return nil
}

// NumberRepository

func (m *memStore) numbers(series domain.NumberSeries) []string {
	var out []string
	switch series {
	case domain.SeriesQuotation:
		for _, q := range m.state.quotations {
			out = append(out, q.Number)
		}
	case domain.SeriesInvoice:
		for _, inv := range m.state.invoices {
			out = append(out, inv.Number)
		}
	case domain.SeriesSalesOrder:
		for _, so := range m.state.salesOrders {
			out = append(out, so.Number)
		}
	case domain.SeriesOrder:
		for _, o := range m.state.orders {
			out = append(out, o.Number)
		}
	case domain.SeriesPayment:
		for _, p := range m.state.payments {
			out = append(out, p.Number)
		}
	}
	return out
}

func (m *memStore) LastNumber(ctx context.Context, series domain.NumberSeries, prefix string) (string, error) {
	last := ""
	for _, n := range m.numbers(series) {
		if strings.HasPrefix(n, prefix) && n > last {
			last = n
		}
	}
	return last, nil
}

func (m *memStore) NumberExists(ctx context.Context, series domain.NumberSeries, number string) (bool, error) {
	for _, n := range m.numbers(series) {
		if n == number {
			return true, nil
		}
	}
	return false, nil
}

// PaymentRepository

func (m *memStore) InsertPayment(ctx context.Context, p domain.Payment) error {
	m.state.payments[p.ID] = p
	return nil
}

func (m *memStore) GetPayment(ctx context.Context, id string) (*domain.Payment, error) {
	p, ok := m.state.payments[id]
	if !ok {
		return nil, nil
	}
	for _, a := range m.state.allocations {
		if a.PaymentID == id {
			p.Allocations = append(p.Allocations, a)
		}
	}
	return &p, nil
}

func (m *memStore) InsertAllocation(ctx context.Context, a domain.PaymentAllocation) error {
	m.state.allocations = append(m.state.allocations, a)
	return nil
}

func (m *memStore) SumAllocations(ctx context.Context, invoiceID string) (decimal.Decimal, error) {
	sum := decimal.Zero
	for _, a := range m.state.allocations {
		if a.InvoiceID == invoiceID {
			sum = sum.Add(a.Amount)
		}
	}
	return sum, nil
}

func (m *memStore) InsertCreditApplication(ctx context.Context, c domain.CreditNoteApplication) error {
	m.state.credits = append(m.state.credits, c)
	return nil
}

func (m *memStore) SumCreditApplications(ctx context.Context, invoiceID string) (decimal.Decimal, error) {
	sum := decimal.Zero
	for _, c := range m.state.credits {
		if c.InvoiceID == invoiceID {
			sum = sum.Add(c.Amount)
		}
	}
	return sum, nil
}

func (m *memStore) InsertCommission(ctx context.Context, c domain.SalesCommission) error {
	m.state.commissions = append(m.state.commissions, c)
	return nil
}

func (m *memStore) CommissionExistsForInvoice(ctx context.Context, invoiceID string) (bool, error) {
	for _, c := range m.state.commissions {
		if c.InvoiceID == invoiceID {
			return true, nil
		}
	}
	return false, nil
}

// CRMRepository

func (m *memStore) FindLeadByEmail(ctx context.Context, email string) (*domain.Lead, error) {
	for _, l := range m.state.leads {
		if l.Email == email {
			return &l, nil
		}
	}
	return nil, nil
}

func (m *memStore) InsertLead(ctx context.Context, l domain.Lead) error {
	m.state.leads = append(m.state.leads, l)
	return nil
}

func (m *memStore) GetAccount(ctx context.Context, id string) (*domain.Account, error) {
	a, ok := m.state.accounts[id]
	if !ok {
		return nil, nil
	}
	return &a, nil
}

func (m *memStore) FindAccountByEmail(ctx context.Context, email string) (*domain.Account, error) {
	for _, a := range m.state.accounts {
		if a.Email == email {
			return &a, nil
		}
	}
	return nil, nil
}

func (m *memStore) InsertAccount(ctx context.Context, a domain.Account) error {
	m.state.accounts[a.ID] = a
	return nil
}

func (m *memStore) FindContact(ctx context.Context, accountID, email string) (*domain.Contact, error) {
	for _, c := range m.state.contacts {
		if c.AccountID == accountID && c.Email == email {
			return &c, nil
		}
	}
	return nil, nil
}

func (m *memStore) InsertContact(ctx context.Context, c domain.Contact) error {
	m.state.contacts = append(m.state.contacts, c)
	return nil
}

func (m *memStore) InsertOpportunity(ctx context.Context, o domain.Opportunity) error {
	m.state.opportunities[o.ID] = o
	return nil
}

func (m *memStore) GetOpportunity(ctx context.Context, id string) (*domain.Opportunity, error) {
	o, ok := m.state.opportunities[id]
	if !ok {
		return nil, nil
	}
	return &o, nil
}

func (m *memStore) UpdateOpportunity(ctx context.Context, o domain.Opportunity) error {
	m.state.opportunities[o.ID] = o
	return nil
}

func (m *memStore) InsertActivity(ctx context.Context, a domain.Activity) error {
	if _, ok := m.state.activities[a.ID]; ok {
		return nil
	}
	m.state.activities[a.ID] = a
	return nil
}

func (m *memStore) UpsertAbandonedCart(ctx context.Context, c domain.AbandonedCart) error {
	for i, cur := range m.state.carts {
		if cur.SessionID == c.SessionID && cur.Status == domain.AbandonedCartActive {
			c.ID = cur.ID
			c.CreatedAt = cur.CreatedAt
			m.state.carts[i] = c
			return nil
		}
	}
	m.state.carts = append(m.state.carts, c)
	return nil
}

func (m *memStore) MarkAbandonedCartConverted(ctx context.Context, sessionID, email, orderID string, at time.Time) (int64, error) {
	var n int64
	for i, c := range m.state.carts {
		if c.Status != domain.AbandonedCartActive {
			continue
		}
		if (sessionID != "" && c.SessionID == sessionID) || (email != "" && c.Email == email) {
			m.state.carts[i].Status = domain.AbandonedCartConverted
			m.state.carts[i].OrderID = orderID
			m.state.carts[i].UpdatedAt = at
			n++
		}
	}
	return n, nil
}

// SettingsRepository

func (m *memStore) GetSettings(ctx context.Context, keys ...string) (map[string]string, error) {
	out := make(map[string]string, len(keys))
	for _, k := range keys {
		if v, ok := m.state.settings[k]; ok {
			out[k] = v
		}
	}
	return out, nil
}

// OutboxRepository

func (m *memStore) InsertOutboxEvent(ctx context.Context, e domain.OutboxEvent) error {
	m.state.outbox = append(m.state.outbox, e)
	return nil
}

func (m *memStore) ClaimPendingEvents(ctx context.Context, limit int, lease time.Duration) ([]domain.OutboxEvent, error) {
	var out []domain.OutboxEvent
	for _, e := range m.state.outbox {
		if e.Status == domain.OutboxPending && len(out) < limit {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memStore) MarkEventDone(ctx context.Context, id string, at time.Time) error {
	for i, e := range m.state.outbox {
		if e.ID == id {
			m.state.outbox[i].Status = domain.OutboxDone
			m.state.outbox[i].ProcessedAt = &at
		}
	}
	return nil
}

func (m *memStore) MarkEventFailed(ctx context.Context, id, errMsg string, park bool) error {
	for i, e := range m.state.outbox {
		if e.ID == id {
			m.state.outbox[i].Attempts++
			m.state.outbox[i].LastError = errMsg
			if park {
				m.state.outbox[i].Status = domain.OutboxFailed
			}
		}
	}
	return nil
}

// memCache is a port.CacheRepository on maps.
type memCache struct {
	mu    sync.Mutex
	keys  map[string]bool
	rates map[string]decimal.Decimal
}

func newMemCache() *memCache {
	return &memCache{keys: map[string]bool{}, rates: map[string]decimal.Decimal{}}
}

func (c *memCache) SetIdempotency(ctx context.Context, key string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.keys[key] {
		return false, nil
	}
	c.keys[key] = true
	return true, nil
}

func (c *memCache) ReleaseIdempotency(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.keys, key)
	return nil
}

func (c *memCache) GetRate(ctx context.Context, from, to string) (decimal.Decimal, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.rates[from+"/"+to]
	return r, ok, nil
}

func (c *memCache) SetRate(ctx context.Context, from, to string, rate decimal.Decimal, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rates[from+"/"+to] = rate
	return nil
}

type countingKicker struct {
	kicks int
}

func (k *countingKicker) Kick() { k.kicks++ }

func newTestLogger() (*logrus.Logger, *test.Hook) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	return logger, hook
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// fixedClock pins service clocks in tests.
func fixedClock() func() time.Time {
	at := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	return func() time.Time { return at }
}

func requireDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	if !got.Equal(dec(want)) {
		t.Fatalf("expected %s, got %s", want, got.String())
	}
}
