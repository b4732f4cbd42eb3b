package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/settlement/internal/core/domain"
	"github.com/rl1809/settlement/internal/port"
)

type recordingNotifier struct {
	sent []port.Notification
	err  error
}

func (n *recordingNotifier) Notify(ctx context.Context, msg port.Notification) error {
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, msg)
	return nil
}

func runEvents(t *testing.T, effects *SideEffects, events []domain.OutboxEvent) {
	t.Helper()
	for _, e := range events {
		require.NoError(t, effects.Handle(context.Background(), e))
	}
}

func TestSideEffects_CheckoutEvents(t *testing.T) {
	f := newFixture(t)
	notifier := &recordingNotifier{}
	logger, _ := newTestLogger()
	effects := NewSideEffects(f.store, notifier, NewNumberGenerator(nil), nil, logger)

	f.store.addProduct("p1", "Rice 5kg", "100", "GHS")
	f.store.addWarehouse("wh1")
	f.store.addStock("p1", "wh1", 10, "60")
	f.store.state.carts = append(f.store.state.carts, domain.AbandonedCart{
		ID: "cart-1", SessionID: "sess-1", Email: "ama@example.com", Status: domain.AbandonedCartActive,
	})

	res, err := f.checkout.Checkout(context.Background(), guestCheckout(cartOf("p1", 1)))
	require.NoError(t, err)

	events := append([]domain.OutboxEvent(nil), f.store.state.outbox...)
	runEvents(t, effects, events)

	require.Len(t, notifier.sent, 1)
	assert.Equal(t, "ama@example.com", notifier.sent[0].Recipient)
	assert.Equal(t, res.OrderID, notifier.sent[0].EntityID)
	assert.Equal(t, "112.50", notifier.sent[0].Data["total"])

	cart := f.store.state.carts[0]
	assert.Equal(t, domain.AbandonedCartConverted, cart.Status)
	assert.Equal(t, res.OrderID, cart.OrderID)
}

func TestSideEffects_PaidInvoiceIsIdempotent(t *testing.T) {
	f := newFixture(t)
	notifier := &recordingNotifier{}
	logger, _ := newTestLogger()
	effects := NewSideEffects(f.store, notifier, NewNumberGenerator(nil), nil, logger)
	f.store.state.settings[domain.SettingCommissionRate] = "10"

	inv := seedBareInvoice(f, "200")
	_, err := f.payments.RecordPayment(context.Background(), payment("acc-2", "200",
		AllocationInput{InvoiceID: inv.ID, Amount: dec("200")}))
	require.NoError(t, err)

	events := append([]domain.OutboxEvent(nil), f.store.state.outbox...)
	runEvents(t, effects, events)
	runEvents(t, effects, events)

	require.Len(t, f.store.state.commissions, 1)
	c := f.store.state.commissions[0]
	assert.Equal(t, "rep-1", c.SalesRepID)
	requireDecimal(t, "10", c.Rate)
	requireDecimal(t, "200", c.Base)
	requireDecimal(t, "20", c.Amount)

	require.Len(t, f.store.state.salesOrders, 1)
	so := f.store.state.salesOrders[0]
	assert.Equal(t, inv.ID, so.InvoiceID)
	assert.Equal(t, domain.SalesOrderConfirmed, so.Status)
	assert.Equal(t, "SO-000001", so.Number)

	assert.Len(t, f.store.state.activities, 1)
	assert.Len(t, notifier.sent, 2)
	assert.Equal(t, "kofi@example.com", notifier.sent[0].Recipient)
}

func TestSideEffects_CommissionNeedsSalesRep(t *testing.T) {
	f := newFixture(t)
	logger, _ := newTestLogger()
	effects := NewSideEffects(f.store, nil, NewNumberGenerator(nil), nil, logger)

	inv := seedBareInvoice(f, "200")
	inv.SalesRepID = ""
	f.store.state.invoices[inv.ID] = inv

	event, err := domain.NewOutboxEvent("invoice", inv.ID, domain.EventInvoiceCommission,
		domain.InvoicePaidPayload{InvoiceID: inv.ID}, fixedClock()())
	require.NoError(t, err)
	require.NoError(t, effects.Handle(context.Background(), event))
	assert.Empty(t, f.store.state.commissions)
}

func TestSideEffects_NotifierFailureSurfaces(t *testing.T) {
	f := newFixture(t)
	logger, _ := newTestLogger()
	effects := NewSideEffects(f.store, &recordingNotifier{err: errors.New("smtp down")}, NewNumberGenerator(nil), nil, logger)

	event, err := domain.NewOutboxEvent("order", "o-1", domain.EventOrderConfirmation,
		domain.OrderPlacedPayload{OrderID: "o-1", Email: "a@b.co", Total: dec("1")}, fixedClock()())
	require.NoError(t, err)
	assert.Error(t, effects.Handle(context.Background(), event))

	unknown := event
	unknown.Type = "order.shipped"
	assert.NoError(t, effects.Handle(context.Background(), unknown))
}
