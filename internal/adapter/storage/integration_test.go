package storage

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/rl1809/settlement/internal/core/domain"
	"github.com/rl1809/settlement/internal/core/service"
	"github.com/rl1809/settlement/internal/logger"
	"github.com/rl1809/settlement/internal/notify"
	"github.com/rl1809/settlement/internal/worker"
)

func TestIntegration_CheckoutToPaidInvoice(t *testing.T) {
	db := getMySQLDB(t)
	defer db.Close()
	rdb := getRedisClient(t)
	defer rdb.Close()

	ctx := context.Background()
	log := logger.NewWithOutput("error", io.Discard)
	store := NewMySQLAdapter(db, 10*time.Second)
	cache := NewRedisAdapter(rdb)
	productID, _ := seedStock(t, db, 10)

	numbers := service.NewNumberGenerator(nil)
	ledger := service.NewStockLedger(store, nil, log)
	checkout := service.NewCheckoutService(service.CheckoutDeps{
		DB:        store,
		Cache:     cache,
		Converter: service.NewCurrencyConverter(store, cache, time.Minute, log),
		Ledger:    ledger,
		Numbers:   numbers,
		Logger:    log,
	})
	payments := service.NewPaymentService(store, ledger, numbers, nil, nil, log)

	// Checkout: 4 x 25.00 plus 12.5% tax
	in := service.CheckoutInput{
		Customer:        domain.Customer{Email: "buyer-" + uuid.NewString()[:8] + "@example.com", Name: "Integration Buyer"},
		ShippingAddress: &domain.Address{Line1: "1 Test Lane", City: "Accra", Country: "GH"},
		Cart:            domain.Cart{Lines: []domain.CartLine{{ProductID: productID, Quantity: 4}}},
		SessionID:       uuid.NewString(),
		IdempotencyKey:  uuid.NewString(),
	}
	res, err := checkout.Checkout(ctx, in)
	if err != nil {
		t.Fatalf("Checkout failed: %v", err)
	}
	if !res.Total.Equal(decimal.RequireFromString("112.5")) {
		t.Errorf("expected total 112.50, got %s", res.Total)
	}

	if _, err := checkout.Checkout(ctx, in); !errors.Is(err, domain.ErrDuplicateRequest) {
		t.Errorf("expected duplicate request, got %v", err)
	}

	items, err := store.ListStockItems(ctx, productID)
	if err != nil {
		t.Fatalf("ListStockItems failed: %v", err)
	}
	if got := domain.TotalAvailable(items); got != 6 {
		t.Errorf("expected 6 available after checkout, got %d", got)
	}
	if len(items) != 1 || items[0].Quantity != 10 || items[0].Reserved != 4 {
		t.Errorf("expected 4 of 10 on hand held for the order, got %+v", items)
	}
	if ok, _ := store.HasMovementsForReference(ctx, res.InvoiceNumber); !ok {
		t.Error("expected SALE movements referencing the invoice")
	}

	inv, err := store.GetInvoice(ctx, res.InvoiceID)
	if err != nil || inv == nil {
		t.Fatalf("GetInvoice failed: %v", err)
	}

	// Pay the invoice in full
	paid, err := payments.RecordPayment(ctx, service.PaymentInput{
		AccountID:  inv.AccountID,
		Amount:     inv.Total,
		Method:     domain.MethodCash,
		ReceivedBy: "integration",
		Allocations: []service.AllocationInput{
			{InvoiceID: inv.ID, Amount: inv.Total},
		},
	})
	if err != nil {
		t.Fatalf("RecordPayment failed: %v", err)
	}
	if len(paid.Invoices) != 1 {
		t.Fatalf("expected 1 settled invoice, got %d", len(paid.Invoices))
	}
	settled := paid.Invoices[0]
	if settled.PaymentStatus != domain.PaymentPaid || !settled.BecamePaid {
		t.Errorf("expected the invoice to become PAID, got %+v", settled)
	}
	if !settled.StockDeducted {
		t.Error("expected the checkout reservation to be fulfilled on payment")
	}

	items, _ = store.ListStockItems(ctx, productID)
	if got := domain.TotalAvailable(items); got != 6 {
		t.Errorf("expected 6 available after payment, got %d", got)
	}
	if len(items) != 1 || items[0].Quantity != 6 || items[0].Reserved != 0 {
		t.Errorf("expected 6 on hand and nothing held after payment, got %+v", items)
	}
	if held, _ := store.ListHeldReservations(ctx, res.InvoiceNumber); len(held) != 0 {
		t.Errorf("expected no held reservations after payment, got %d", len(held))
	}

	// Drain the outbox
	effects := service.NewSideEffects(store, notify.NewLogNotifier(log), numbers, nil, log)
	dispatcher := worker.NewDispatcher(store, effects, cache, nil, log, worker.Config{Workers: 4, BatchSize: 100, PollInterval: time.Second})
	for i := 0; i < 20; i++ {
		n, err := dispatcher.RunOnce(ctx)
		if err != nil {
			t.Fatalf("RunOnce failed: %v", err)
		}
		if n == 0 {
			break
		}
	}

	var open int
	err = db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM outbox_events WHERE aggregate_id IN (?, ?, ?) AND status <> 'DONE'`,
		res.OrderID, res.InvoiceID, paid.Payment.ID).Scan(&open)
	if err != nil {
		t.Fatalf("count outbox: %v", err)
	}
	if open != 0 {
		t.Errorf("expected every event for this flow to be done, %d still open", open)
	}

	if ok, _ := store.SalesOrderExistsForInvoice(ctx, inv.ID); !ok {
		t.Error("expected a sales order for the paid invoice")
	}
}

func TestIntegration_ConcurrentReceipts(t *testing.T) {
	db := getMySQLDB(t)
	defer db.Close()

	ctx := context.Background()
	log := logger.NewWithOutput("error", io.Discard)
	store := NewMySQLAdapter(db, 10*time.Second)
	ledger := service.NewStockLedger(store, nil, log)
	productID, warehouseID := seedStock(t, db, 10)

	const receipts = 20
	var failures atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < receipts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cost := decimal.NewFromInt(10)
			_, err := ledger.Record(ctx, service.MovementInput{
				ProductID:   productID,
				WarehouseID: warehouseID,
				Quantity:    1,
				UnitCost:    &cost,
				Type:        domain.MovementReceipt,
				Reference:   "GRN-CONCURRENT",
			})
			if err != nil {
				failures.Add(1)
			}
		}()
	}
	wg.Wait()

	if f := failures.Load(); f != 0 {
		t.Fatalf("expected all receipts to succeed, %d failed", f)
	}

	item, err := store.GetStockItem(ctx, productID, warehouseID)
	if err != nil {
		t.Fatalf("GetStockItem failed: %v", err)
	}
	if item.Quantity != 10+receipts {
		t.Errorf("expected quantity %d, got %d", 10+receipts, item.Quantity)
	}
	if !item.AverageCost.Equal(decimal.NewFromInt(10)) {
		t.Errorf("expected average cost 10, got %s", item.AverageCost)
	}

	_, total, err := store.ListStockMovements(ctx, domain.MovementFilter{ProductID: productID})
	if err != nil {
		t.Fatalf("ListStockMovements failed: %v", err)
	}
	if total != receipts {
		t.Errorf("expected %d movements, got %d", receipts, total)
	}
}
