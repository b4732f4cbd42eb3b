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

// Kicker wakes the outbox dispatcher after a commit.
type Kicker interface {
	Kick()
}

type CheckoutInput struct {
	Customer        domain.Customer
	ShippingAddress *domain.Address
	BillingAddress  *domain.Address
	PaymentMethod   domain.PaymentMethod
	Notes           string
	Cart            domain.Cart
	SessionID       string
	// AuthUserID is empty for guests.
	AuthUserID     string
	EmailVerified  bool
	IdempotencyKey string
}

type CheckoutResult struct {
	OrderID         string
	QuotationNumber string
	InvoiceID       string
	InvoiceNumber   string
	OrderNumber     string
	Total           decimal.Decimal
	Currency        string
	Status          domain.OrderStatus
}

type CheckoutService struct {
	db        port.DatabaseRepository
	cache     port.CacheRepository
	converter *CurrencyConverter
	ledger    *StockLedger
	numbers   *NumberGenerator
	kicker    Kicker
	metrics   *metrics.Metrics
	logger    logrus.FieldLogger
	currency  string
	now       func() time.Time
}

type CheckoutDeps struct {
	DB              port.DatabaseRepository
	Cache           port.CacheRepository
	Converter       *CurrencyConverter
	Ledger          *StockLedger
	Numbers         *NumberGenerator
	Kicker          Kicker
	Metrics         *metrics.Metrics
	Logger          logrus.FieldLogger
	DisplayCurrency string
}

func NewCheckoutService(deps CheckoutDeps) *CheckoutService {
	currency := deps.DisplayCurrency
	if currency == "" {
		currency = "GHS"
	}
	return &CheckoutService{
		db:        deps.DB,
		cache:     deps.Cache,
		converter: deps.Converter,
		ledger:    deps.Ledger,
		numbers:   deps.Numbers,
		kicker:    deps.Kicker,
		metrics:   deps.Metrics,
		logger:    deps.Logger,
		currency:  currency,
		now:       time.Now,
	}
}

func (s *CheckoutService) Checkout(ctx context.Context, in CheckoutInput) (CheckoutResult, error) {
	result, err := s.checkout(ctx, in)
	s.metrics.CheckoutResult(checkoutOutcome(err))
	return result, err
}

func (s *CheckoutService) checkout(ctx context.Context, in CheckoutInput) (CheckoutResult, error) {
	in.Customer.Email = strings.ToLower(strings.TrimSpace(in.Customer.Email))
	in.Customer.Name = strings.TrimSpace(in.Customer.Name)
	in.Cart = in.Cart.Normalize()

	if err := validateCheckout(&in); err != nil {
		return CheckoutResult{}, err
	}

	kv, err := s.db.GetSettings(ctx, domain.SettingKeys()...)
	if err != nil {
		return CheckoutResult{}, fmt.Errorf("load settings: %w", err)
	}
	settings := domain.ParseStoreSettings(kv)

	if err := checkPolicies(in, settings); err != nil {
		return CheckoutResult{}, err
	}

	if settings.MinimumOrderAmount.IsPositive() {
		subtotal, err := s.cartSubtotal(ctx, in.Cart)
		if err != nil {
			return CheckoutResult{}, err
		}
		if subtotal.LessThan(settings.MinimumOrderAmount) {
			return CheckoutResult{}, &domain.PolicyError{
				Reason: fmt.Sprintf("minimum order amount is %s %s", settings.MinimumOrderAmount.StringFixed(2), s.currency),
			}
		}
	}

	idempotencyKey := ""
	if in.IdempotencyKey != "" && s.cache != nil {
		idempotencyKey = "checkout:" + in.IdempotencyKey
		ok, err := s.cache.SetIdempotency(ctx, idempotencyKey)
		if err != nil {
			return CheckoutResult{}, fmt.Errorf("idempotency check failed: %w", err)
		}
		if !ok {
			return CheckoutResult{}, domain.ErrDuplicateRequest
		}
	}

	var result CheckoutResult
	err = s.db.WithinTx(ctx, func(ctx context.Context, tx port.Tx) error {
		r, err := s.place(ctx, tx, in, settings)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	if err != nil {
		// Nothing was placed, so the same key may be retried.
		if idempotencyKey != "" {
			if relErr := s.cache.ReleaseIdempotency(context.WithoutCancel(ctx), idempotencyKey); relErr != nil {
				s.logger.WithError(relErr).Warn("failed to release idempotency key")
			}
		}
		return CheckoutResult{}, err
	}

	s.logger.WithFields(logrus.Fields{
		"order":   result.OrderNumber,
		"invoice": result.InvoiceNumber,
		"total":   result.Total.String(),
	}).Info("checkout completed")

	if s.kicker != nil {
		s.kicker.Kick()
	}
	return result, nil
}

func validateCheckout(in *CheckoutInput) error {
	if in.Customer.Email == "" || in.Customer.Name == "" {
		return domain.NewValidationError("customer", "email and name are required")
	}
	if !validEmail(in.Customer.Email) {
		return domain.NewValidationError("customer.email", "must be a valid email address")
	}
	if in.ShippingAddress == nil || in.ShippingAddress.Empty() {
		return domain.NewValidationError("shippingAddress", "is required")
	}
	if err := validate.Struct(in.ShippingAddress); err != nil {
		return fieldError("shippingAddress", err)
	}
	if in.BillingAddress == nil || in.BillingAddress.Empty() {
		billing := *in.ShippingAddress
		in.BillingAddress = &billing
	} else if err := validate.Struct(in.BillingAddress); err != nil {
		return fieldError("billingAddress", err)
	}
	if in.Cart.Empty() {
		return domain.NewValidationError("cart", "is empty")
	}
	if in.PaymentMethod == "" {
		in.PaymentMethod = domain.MethodCashOnDelivery
	}
	if !in.PaymentMethod.Valid() {
		return domain.NewValidationError("paymentMethod", fmt.Sprintf("unsupported payment method %q", in.PaymentMethod))
	}
	return nil
}

func checkPolicies(in CheckoutInput, settings domain.StoreSettings) error {
	guest := in.AuthUserID == ""
	if guest && !settings.AllowGuestCheckout {
		return &domain.PolicyError{Reason: "guest checkout is disabled, please sign in", RequiresAccount: true}
	}
	if guest && settings.RequireAccount {
		return &domain.PolicyError{Reason: "an account is required to place orders", RequiresAccount: true}
	}
	if !guest && settings.RequireEmailVerification && !in.EmailVerified {
		return &domain.PolicyError{Reason: "please verify your email address before placing orders", RequiresEmailVerification: true}
	}
	return nil
}

// cartSubtotal prices the cart outside the transaction for the minimum
// order check.
func (s *CheckoutService) cartSubtotal(ctx context.Context, cart domain.Cart) (decimal.Decimal, error) {
	subtotal := decimal.Zero
	for _, line := range cart.Lines {
		product, err := s.db.GetProduct(ctx, line.ProductID)
		if err != nil {
			return decimal.Zero, fmt.Errorf("load product: %w", err)
		}
		if product == nil {
			return decimal.Zero, fmt.Errorf("%w: %s", domain.ErrProductNotFound, line.ProductID)
		}
		price := domain.RoundMoney(s.converter.ConvertOrKeep(ctx, product.BaseCurrency, s.currency, product.Price))
		subtotal = subtotal.Add(price.Mul(decimal.NewFromInt(int64(line.Quantity))))
	}
	return subtotal, nil
}

type pricedLine struct {
	product domain.Product
	line    domain.LineItem
}

func (s *CheckoutService) place(ctx context.Context, tx port.Tx, in CheckoutInput, settings domain.StoreSettings) (CheckoutResult, error) {
	now := s.now()

	if _, err := s.resolveLead(ctx, tx, in.Customer, now); err != nil {
		return CheckoutResult{}, err
	}
	account, contact, err := s.resolveAccount(ctx, tx, in.Customer, now)
	if err != nil {
		return CheckoutResult{}, err
	}

	priced := make([]pricedLine, 0, len(in.Cart.Lines))
	lines := make([]domain.LineItem, 0, len(in.Cart.Lines))
	for i, cl := range in.Cart.Lines {
		product, err := tx.GetProduct(ctx, cl.ProductID)
		if err != nil {
			return CheckoutResult{}, fmt.Errorf("load product: %w", err)
		}
		if product == nil {
			return CheckoutResult{}, fmt.Errorf("%w: %s", domain.ErrProductNotFound, cl.ProductID)
		}
		items, err := tx.ListStockItems(ctx, product.ID)
		if err != nil {
			return CheckoutResult{}, fmt.Errorf("load stock items: %w", err)
		}
		if available := domain.TotalAvailable(items); cl.Quantity > available {
			return CheckoutResult{}, &domain.StockError{
				ProductID:   product.ID,
				ProductName: product.Name,
				Requested:   cl.Quantity,
				Available:   available,
			}
		}

		unitPrice := domain.RoundMoney(s.converter.ConvertOrKeep(ctx, product.BaseCurrency, s.currency, product.Price))
		line := domain.NewLineItem(product.ID, product.Name, cl.Quantity, unitPrice, decimal.Zero)
		line.Position = i + 1
		lines = append(lines, line)
		priced = append(priced, pricedLine{product: *product, line: line})
	}

	totals := domain.ComputeTotals(lines, settings.TaxRate)

	quotationNumber, err := s.numbers.Next(ctx, tx, domain.SeriesQuotation, "")
	if err != nil {
		return CheckoutResult{}, err
	}
	invoiceNumber, err := s.numbers.Next(ctx, tx, domain.SeriesInvoice, "")
	if err != nil {
		return CheckoutResult{}, err
	}
	orderNumber, err := s.numbers.Next(ctx, tx, domain.SeriesOrder, settings.OrderNumberPrefix)
	if err != nil {
		return CheckoutResult{}, err
	}

	opportunity := domain.Opportunity{
		ID:          uuid.NewString(),
		AccountID:   account.ID,
		Name:        "Online order " + orderNumber,
		Stage:       domain.StageQuoteSent,
		Value:       totals.Total,
		Probability: 50,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := tx.InsertOpportunity(ctx, opportunity); err != nil {
		return CheckoutResult{}, fmt.Errorf("insert opportunity: %w", err)
	}

	quotation := domain.Quotation{
		ID:            uuid.NewString(),
		Number:        quotationNumber,
		AccountID:     account.ID,
		ContactID:     contact.ID,
		OpportunityID: opportunity.ID,
		Status:        domain.QuotationSent,
		Currency:      s.currency,
		Totals:        totals,
		Lines:         cloneLines(lines),
		CreatedAt:     now,
	}
	if err := tx.InsertQuotation(ctx, quotation); err != nil {
		return CheckoutResult{}, fmt.Errorf("insert quotation: %w", err)
	}

	invoice := domain.Invoice{
		ID:            uuid.NewString(),
		Number:        invoiceNumber,
		AccountID:     account.ID,
		ContactID:     contact.ID,
		QuotationID:   quotation.ID,
		Status:        domain.InvoiceSent,
		Currency:      s.currency,
		PaymentStatus: domain.PaymentUnpaid,
		AmountPaid:    decimal.Zero,
		AmountDue:     totals.Total,
		Totals:        totals,
		Lines:         cloneLines(lines),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := tx.InsertInvoice(ctx, invoice); err != nil {
		return CheckoutResult{}, fmt.Errorf("insert invoice: %w", err)
	}

	order := domain.EcommerceOrder{
		ID:              uuid.NewString(),
		Number:          orderNumber,
		SessionID:       in.SessionID,
		Customer:        in.Customer,
		AccountID:       account.ID,
		QuotationID:     quotation.ID,
		InvoiceID:       invoice.ID,
		Status:          domain.OrderStatusProcessing,
		PaymentStatus:   domain.OrderPaymentPending,
		PaymentMethod:   in.PaymentMethod,
		Currency:        s.currency,
		Notes:           in.Notes,
		ShippingAddress: *in.ShippingAddress,
		BillingAddress:  *in.BillingAddress,
		Totals:          totals,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	for _, p := range priced {
		order.Items = append(order.Items, domain.OrderItem{
			ID:          uuid.NewString(),
			ProductID:   p.product.ID,
			ProductName: p.product.Name,
			SKU:         p.product.SKU,
			Quantity:    p.line.Quantity,
			UnitPrice:   p.line.UnitPrice,
			LineTotal:   p.line.LineTotal,
		})
	}
	if err := tx.InsertEcommerceOrder(ctx, order); err != nil {
		return CheckoutResult{}, fmt.Errorf("insert order: %w", err)
	}

	soNumber, err := s.numbers.Next(ctx, tx, domain.SeriesSalesOrder, "")
	if err != nil {
		return CheckoutResult{}, err
	}
	so := domain.SalesOrderFromInvoice(invoice, uuid.NewString(), soNumber, domain.SalesOrderPending, now)
	if err := tx.InsertSalesOrder(ctx, so); err != nil {
		return CheckoutResult{}, fmt.Errorf("insert sales order: %w", err)
	}

	for _, p := range priced {
		if _, err := s.ledger.Reserve(ctx, tx, p.product.ID, p.line.Quantity, invoice.Number, in.AuthUserID); err != nil {
			return CheckoutResult{}, err
		}
	}

	placed := domain.OrderPlacedPayload{
		OrderID:       order.ID,
		OrderNumber:   order.Number,
		InvoiceID:     invoice.ID,
		InvoiceNumber: invoice.Number,
		SessionID:     in.SessionID,
		Email:         in.Customer.Email,
		Name:          in.Customer.Name,
		Total:         totals.Total,
		Currency:      s.currency,
	}
	for _, t := range []domain.EventType{domain.EventOrderConfirmation, domain.EventCartConverted} {
		if err := enqueue(ctx, tx, "order", order.ID, t, placed, now); err != nil {
			return CheckoutResult{}, err
		}
	}

	return CheckoutResult{
		OrderID:         order.ID,
		QuotationNumber: quotation.Number,
		InvoiceID:       invoice.ID,
		InvoiceNumber:   invoice.Number,
		OrderNumber:     order.Number,
		Total:           totals.Total,
		Currency:        s.currency,
		Status:          order.Status,
	}, nil
}

// resolveLead reuses the first lead with the email.
func (s *CheckoutService) resolveLead(ctx context.Context, tx port.Tx, c domain.Customer, now time.Time) (*domain.Lead, error) {
	lead, err := tx.FindLeadByEmail(ctx, c.Email)
	if err != nil {
		return nil, fmt.Errorf("find lead: %w", err)
	}
	if lead != nil {
		return lead, nil
	}
	lead = &domain.Lead{
		ID:        uuid.NewString(),
		Email:     c.Email,
		Name:      c.Name,
		Phone:     c.Phone,
		Source:    "ECOMMERCE",
		Status:    "NEW",
		CreatedAt: now,
	}
	if err := tx.InsertLead(ctx, *lead); err != nil {
		return nil, fmt.Errorf("insert lead: %w", err)
	}
	return lead, nil
}

func (s *CheckoutService) resolveAccount(ctx context.Context, tx port.Tx, c domain.Customer, now time.Time) (*domain.Account, *domain.Contact, error) {
	account, err := tx.FindAccountByEmail(ctx, c.Email)
	if err != nil {
		return nil, nil, fmt.Errorf("find account: %w", err)
	}
	if account == nil {
		account = &domain.Account{
			ID:        uuid.NewString(),
			Name:      c.Name,
			Email:     c.Email,
			Phone:     c.Phone,
			CreatedAt: now,
		}
		if err := tx.InsertAccount(ctx, *account); err != nil {
			return nil, nil, fmt.Errorf("insert account: %w", err)
		}
	}

	contact, err := tx.FindContact(ctx, account.ID, c.Email)
	if err != nil {
		return nil, nil, fmt.Errorf("find contact: %w", err)
	}
	if contact == nil {
		contact = &domain.Contact{
			ID:        uuid.NewString(),
			AccountID: account.ID,
			Name:      c.Name,
			Email:     c.Email,
			Phone:     c.Phone,
			IsPrimary: true,
			CreatedAt: now,
		}
		if err := tx.InsertContact(ctx, *contact); err != nil {
			return nil, nil, fmt.Errorf("insert contact: %w", err)
		}
	}
	return account, contact, nil
}

func enqueue(ctx context.Context, tx port.Tx, aggregateType, aggregateID string, t domain.EventType, payload any, now time.Time) error {
	event, err := domain.NewOutboxEvent(aggregateType, aggregateID, t, payload, now)
	if err != nil {
		return fmt.Errorf("build %s event: %w", t, err)
	}
	if err := tx.InsertOutboxEvent(ctx, event); err != nil {
		return fmt.Errorf("insert %s event: %w", t, err)
	}
	return nil
}

func cloneLines(lines []domain.LineItem) []domain.LineItem {
	out := make([]domain.LineItem, len(lines))
	copy(out, lines)
	return out
}

func checkoutOutcome(err error) string {
	var policy *domain.PolicyError
	var verr *domain.ValidationError
	switch {
	case err == nil:
		return "success"
	case errors.As(err, &verr):
		return "invalid"
	case errors.As(err, &policy):
		return "policy"
	case errors.Is(err, domain.ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, domain.ErrProductNotFound):
		return "product_not_found"
	case errors.Is(err, domain.ErrDuplicateRequest):
		return "duplicate"
	default:
		return "error"
	}
}
