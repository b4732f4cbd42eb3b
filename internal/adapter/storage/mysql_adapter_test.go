package storage

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"testing"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/rl1809/settlement/internal/core/domain"
	"github.com/rl1809/settlement/internal/port"
)

func getMySQLDB(t *testing.T) *sql.DB {
	dsn := os.Getenv("MYSQL_DSN")
	if dsn == "" {
		dsn = "root:root@tcp(localhost:3306)/settlement?parseTime=true&multiStatements=true"
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		t.Skipf("MySQL not available: %v", err)
	}

	if err := db.Ping(); err != nil {
		t.Skipf("MySQL not available: %v", err)
	}

	if err := MigrateUp(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func seedStock(t *testing.T, db *sql.DB, qty int) (productID, warehouseID string) {
	t.Helper()
	ctx := context.Background()
	productID, warehouseID = uuid.NewString(), uuid.NewString()
	now := time.Now().UTC()

	if _, err := db.ExecContext(ctx, `INSERT INTO products (id, name, sku, price, base_currency) VALUES (?, 'Widget', 'W-1', 25.00, 'GHS')`, productID); err != nil {
		t.Fatalf("seed product: %v", err)
	}
	if _, err := db.ExecContext(ctx, `INSERT INTO warehouses (id, name, code) VALUES (?, 'Main', ?)`, warehouseID, warehouseID[:8]); err != nil {
		t.Fatalf("seed warehouse: %v", err)
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO stock_items (id, product_id, warehouse_id, quantity, reserved, available, average_cost, total_value, created_at, updated_at)
		VALUES (?, ?, ?, ?, 0, ?, 10.0000, ?, ?, ?)`,
		uuid.NewString(), productID, warehouseID, qty, qty, decimal.NewFromInt(int64(qty*10)), now, now)
	if err != nil {
		t.Fatalf("seed stock: %v", err)
	}
	return productID, warehouseID
}

func TestGetProduct_NotFound(t *testing.T) {
	db := getMySQLDB(t)
	defer db.Close()

	adapter := NewMySQLAdapter(db, time.Second)
	p, err := adapter.GetProduct(context.Background(), "nonexistent-product")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p != nil {
		t.Error("expected nil for nonexistent product")
	}
}

func TestWithinTx_RollsBackOnError(t *testing.T) {
	db := getMySQLDB(t)
	defer db.Close()

	ctx := context.Background()
	adapter := NewMySQLAdapter(db, 5*time.Second)
	productID, warehouseID := seedStock(t, db, 10)

	boom := errors.New("boom")
	err := adapter.WithinTx(ctx, func(ctx context.Context, tx port.Tx) error {
		item, err := tx.GetStockItem(ctx, productID, warehouseID)
		if err != nil {
			return err
		}
		item.Apply(-4, decimal.Zero)
		if err := tx.UpdateStockItem(ctx, *item); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	item, err := adapter.GetStockItem(ctx, productID, warehouseID)
	if err != nil {
		t.Fatalf("GetStockItem failed: %v", err)
	}
	if item.Quantity != 10 {
		t.Errorf("expected quantity 10 after rollback, got %d", item.Quantity)
	}
}

func TestSavepoint_UndoesOnlyInnerWrites(t *testing.T) {
	db := getMySQLDB(t)
	defer db.Close()

	ctx := context.Background()
	adapter := NewMySQLAdapter(db, 5*time.Second)
	productID, warehouseID := seedStock(t, db, 10)

	err := adapter.WithinTx(ctx, func(ctx context.Context, tx port.Tx) error {
		item, err := tx.GetStockItem(ctx, productID, warehouseID)
		if err != nil {
			return err
		}
		item.Apply(-1, decimal.Zero)
		if err := tx.UpdateStockItem(ctx, *item); err != nil {
			return err
		}

		fnErr, err := tx.Savepoint(ctx, "inner_write", func() error {
			item.Apply(-5, decimal.Zero)
			if err := tx.UpdateStockItem(ctx, *item); err != nil {
				return err
			}
			return errors.New("undo me")
		})
		if err != nil {
			return err
		}
		if fnErr == nil {
			t.Error("expected the inner failure to be reported")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WithinTx failed: %v", err)
	}

	item, _ := adapter.GetStockItem(ctx, productID, warehouseID)
	if item.Quantity != 9 {
		t.Errorf("expected quantity 9, got %d", item.Quantity)
	}
}

func TestSavepoint_RejectsBadName(t *testing.T) {
	tx := &mysqlTx{}
	_, err := tx.Savepoint(context.Background(), "x; DROP TABLE products", func() error { return nil })
	if err == nil {
		t.Error("expected invalid savepoint name to be rejected")
	}
}

func TestStockMovements_FilterAndPage(t *testing.T) {
	db := getMySQLDB(t)
	defer db.Close()

	ctx := context.Background()
	adapter := NewMySQLAdapter(db, 5*time.Second)
	productID, warehouseID := seedStock(t, db, 10)
	reference := "REF-" + uuid.NewString()[:8]
	cost := decimal.RequireFromString("12.5000")

	base := time.Now().UTC().Truncate(time.Second)
	for i := 0; i < 3; i++ {
		m := domain.StockMovement{
			ID:            uuid.NewString(),
			StockItemID:   "si",
			ProductID:     productID,
			WarehouseID:   warehouseID,
			Type:          domain.MovementReceipt,
			Quantity:      i + 1,
			QuantityAfter: 10 + i + 1,
			UnitCost:      &cost,
			Reference:     reference,
			ProductName:   "Widget",
			WarehouseName: "Main",
			CreatedAt:     base.Add(time.Duration(i) * time.Second),
		}
		if err := adapter.InsertStockMovement(ctx, m); err != nil {
			t.Fatalf("InsertStockMovement failed: %v", err)
		}
	}

	page, total, err := adapter.ListStockMovements(ctx, domain.MovementFilter{Reference: reference, PageSize: 2})
	if err != nil {
		t.Fatalf("ListStockMovements failed: %v", err)
	}
	if total != 3 || len(page) != 2 {
		t.Fatalf("expected 2 of 3, got %d of %d", len(page), total)
	}
	if page[0].Quantity != 3 {
		t.Errorf("expected newest first, got quantity %d", page[0].Quantity)
	}
	if page[0].UnitCost == nil || !page[0].UnitCost.Equal(cost) || page[0].TotalCost != nil {
		t.Errorf("unexpected costs: %v / %v", page[0].UnitCost, page[0].TotalCost)
	}

	ok, err := adapter.HasMovementsForReference(ctx, reference)
	if err != nil || !ok {
		t.Errorf("expected movements for %s, ok=%v err=%v", reference, ok, err)
	}
}

func TestNumbers_LastAndExists(t *testing.T) {
	db := getMySQLDB(t)
	defer db.Close()

	ctx := context.Background()
	adapter := NewMySQLAdapter(db, 5*time.Second)
	prefix := "T" + uuid.NewString()[:4] + "-"
	now := time.Now().UTC()

	for _, n := range []string{prefix + "000002", prefix + "000010"} {
		p := domain.Payment{ID: uuid.NewString(), Number: n, AccountID: "acc", Amount: decimal.NewFromInt(1),
			Method: domain.PaymentMethod("CASH"), CreatedAt: now}
		if err := adapter.InsertPayment(ctx, p); err != nil {
			t.Fatalf("InsertPayment failed: %v", err)
		}
	}

	last, err := adapter.LastNumber(ctx, domain.SeriesPayment, prefix)
	if err != nil {
		t.Fatalf("LastNumber failed: %v", err)
	}
	if last != prefix+"000010" {
		t.Errorf("expected %s000010, got %s", prefix, last)
	}

	ok, err := adapter.NumberExists(ctx, domain.SeriesPayment, prefix+"000002")
	if err != nil || !ok {
		t.Errorf("expected number to exist, ok=%v err=%v", ok, err)
	}

	if _, err := adapter.LastNumber(ctx, domain.NumberSeries("bogus"), prefix); err == nil {
		t.Error("expected an unknown series to fail")
	}
}

func TestOutbox_Lifecycle(t *testing.T) {
	db := getMySQLDB(t)
	defer db.Close()

	ctx := context.Background()
	adapter := NewMySQLAdapter(db, 5*time.Second)
	db.ExecContext(ctx, `DELETE FROM outbox_events`)

	e, err := domain.NewOutboxEvent("invoice", "inv-1", domain.EventInvoiceCommission, domain.InvoicePaidPayload{InvoiceID: "inv-1"}, time.Now().UTC())
	if err != nil {
		t.Fatalf("NewOutboxEvent failed: %v", err)
	}
	e.MaxAttempts = 2
	if err := adapter.InsertOutboxEvent(ctx, e); err != nil {
		t.Fatalf("InsertOutboxEvent failed: %v", err)
	}

	pending, err := adapter.ClaimPendingEvents(ctx, 10, time.Minute)
	if err != nil || len(pending) != 1 {
		t.Fatalf("expected 1 pending event, got %d (err=%v)", len(pending), err)
	}
	if string(pending[0].Payload) != `{"invoiceId":"inv-1"}` {
		t.Errorf("unexpected payload %s", pending[0].Payload)
	}

	again, _ := adapter.ClaimPendingEvents(ctx, 10, time.Minute)
	if len(again) != 0 {
		t.Fatalf("expected a leased event to stay claimed, got %d", len(again))
	}

	if err := adapter.MarkEventFailed(ctx, e.ID, "timeout", false); err != nil {
		t.Fatalf("MarkEventFailed failed: %v", err)
	}
	pending, _ = adapter.ClaimPendingEvents(ctx, 10, time.Minute)
	if len(pending) != 1 || pending[0].Attempts != 1 || pending[0].LastError != "timeout" {
		t.Fatalf("expected a retried pending event, got %+v", pending)
	}

	if err := adapter.MarkEventFailed(ctx, e.ID, "timeout", true); err != nil {
		t.Fatalf("MarkEventFailed failed: %v", err)
	}
	pending, _ = adapter.ClaimPendingEvents(ctx, 10, time.Minute)
	if len(pending) != 0 {
		t.Errorf("expected the parked event to leave the queue, got %d", len(pending))
	}
}

func TestOutbox_ExpiredLeaseIsReclaimed(t *testing.T) {
	db := getMySQLDB(t)
	defer db.Close()

	ctx := context.Background()
	adapter := NewMySQLAdapter(db, 5*time.Second)
	db.ExecContext(ctx, `DELETE FROM outbox_events`)

	e, err := domain.NewOutboxEvent("order", "ord-1", domain.EventOrderConfirmation, domain.OrderPlacedPayload{OrderID: "ord-1"}, time.Now().UTC())
	if err != nil {
		t.Fatalf("NewOutboxEvent failed: %v", err)
	}
	if err := adapter.InsertOutboxEvent(ctx, e); err != nil {
		t.Fatalf("InsertOutboxEvent failed: %v", err)
	}

	if got, _ := adapter.ClaimPendingEvents(ctx, 10, 50*time.Millisecond); len(got) != 1 {
		t.Fatalf("expected to claim 1 event, got %d", len(got))
	}
	time.Sleep(100 * time.Millisecond)

	got, err := adapter.ClaimPendingEvents(ctx, 10, time.Minute)
	if err != nil || len(got) != 1 {
		t.Fatalf("expected the lapsed lease to be reclaimed, got %d (err=%v)", len(got), err)
	}
	if err := adapter.MarkEventDone(ctx, e.ID, time.Now().UTC()); err != nil {
		t.Fatalf("MarkEventDone failed: %v", err)
	}
	if got, _ := adapter.ClaimPendingEvents(ctx, 10, time.Minute); len(got) != 0 {
		t.Errorf("expected a done event to stay out of the queue, got %d", len(got))
	}
}

func TestStockReservations_HeldThenFulfilled(t *testing.T) {
	db := getMySQLDB(t)
	defer db.Close()

	ctx := context.Background()
	adapter := NewMySQLAdapter(db, 5*time.Second)
	productID, warehouseID := seedStock(t, db, 5)
	reference := "INV-" + uuid.NewString()[:8]
	now := time.Now().UTC()

	r := domain.StockReservation{
		ID:          uuid.NewString(),
		StockItemID: "si",
		ProductID:   productID,
		WarehouseID: warehouseID,
		Reference:   reference,
		Quantity:    2,
		Status:      domain.ReservationHeld,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := adapter.InsertStockReservation(ctx, r); err != nil {
		t.Fatalf("InsertStockReservation failed: %v", err)
	}

	held, err := adapter.ListHeldReservations(ctx, reference)
	if err != nil || len(held) != 1 || held[0].Quantity != 2 {
		t.Fatalf("expected 1 held reservation of 2, got %+v (err=%v)", held, err)
	}

	if err := adapter.MarkReservationFulfilled(ctx, r.ID, now); err != nil {
		t.Fatalf("MarkReservationFulfilled failed: %v", err)
	}
	held, _ = adapter.ListHeldReservations(ctx, reference)
	if len(held) != 0 {
		t.Errorf("expected no held reservations after fulfilment, got %d", len(held))
	}
}

func TestExchangeRate_LatestEffective(t *testing.T) {
	db := getMySQLDB(t)
	defer db.Close()

	ctx := context.Background()
	adapter := NewMySQLAdapter(db, 5*time.Second)
	from, to := "XA"+uuid.NewString()[:1], "XB"+uuid.NewString()[:1]
	db.ExecContext(ctx, `DELETE FROM exchange_rates WHERE from_currency = ? AND to_currency = ?`, from, to)

	rows := []struct {
		rate string
		at   string
	}{
		{"10.5", "NOW(6) - INTERVAL 2 DAY"},
		{"11.25", "NOW(6) - INTERVAL 1 DAY"},
		{"99", "NOW(6) + INTERVAL 1 DAY"},
	}
	for _, r := range rows {
		if _, err := db.ExecContext(ctx,
			`INSERT INTO exchange_rates (from_currency, to_currency, rate, effective_at) VALUES (?, ?, ?, `+r.at+`)`,
			from, to, r.rate); err != nil {
			t.Fatalf("seed rate: %v", err)
		}
	}

	rate, ok, err := adapter.GetExchangeRate(ctx, from, to)
	if err != nil || !ok {
		t.Fatalf("expected a rate, ok=%v err=%v", ok, err)
	}
	if !rate.Equal(decimal.RequireFromString("11.25")) {
		t.Errorf("expected the latest rate already in effect, got %s", rate)
	}

	if _, ok, _ := adapter.GetExchangeRate(ctx, to, from); ok {
		t.Error("expected no rate for the reverse pair")
	}
}

func TestSettings_DefaultsSeeded(t *testing.T) {
	db := getMySQLDB(t)
	defer db.Close()

	adapter := NewMySQLAdapter(db, 5*time.Second)
	kv, err := adapter.GetSettings(context.Background(), domain.SettingKeys()...)
	if err != nil {
		t.Fatalf("GetSettings failed: %v", err)
	}
	if kv[domain.SettingOrderNumberPrefix] == "" {
		t.Error("expected the order prefix to be seeded")
	}
}

func TestEscapeLike(t *testing.T) {
	cases := map[string]string{
		"INV-":   "INV-",
		"A_B":    `A\_B`,
		"50%":    `50\%`,
		`back\s`: `back\\s`,
	}
	for in, want := range cases {
		if got := escapeLike(in); got != want {
			t.Errorf("escapeLike(%q) = %q, want %q", in, got, want)
		}
	}
	if got := placeholders(3); got != "?,?,?" {
		t.Errorf("placeholders(3) = %q", got)
	}
}
