package handler

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rl1809/settlement/internal/core/domain"
	"github.com/rl1809/settlement/internal/core/service"
)

// Request bodies. Decimal fields accept JSON numbers or strings.

type checkoutRequest struct {
	Customer        domain.Customer   `json:"customer"`
	ShippingAddress *domain.Address   `json:"shippingAddress"`
	BillingAddress  *domain.Address   `json:"billingAddress"`
	PaymentMethod   string            `json:"paymentMethod"`
	Notes           string            `json:"notes"`
	Items           []domain.CartLine `json:"items"`
	IdempotencyKey  string            `json:"idempotencyKey"`
}

type cartItemRequest struct {
	ProductID string `json:"productId" binding:"required"`
	Quantity  int    `json:"quantity" binding:"required,gt=0"`
}

type cartQuantityRequest struct {
	Quantity int `json:"quantity" binding:"gte=0"`
}

type cartContactRequest struct {
	Email string `json:"email" binding:"required"`
}

type AllocationRequest struct {
	InvoiceID string          `json:"invoiceId" binding:"required"`
	Amount    decimal.Decimal `json:"amount"`
	Notes     string          `json:"notes"`
}

type paymentRequest struct {
	AccountID          string              `json:"accountId" binding:"required"`
	Amount             decimal.Decimal     `json:"amount"`
	Method             string              `json:"method" binding:"required"`
	Reference          string              `json:"reference"`
	Notes              string              `json:"notes"`
	InvoiceAllocations []AllocationRequest `json:"invoiceAllocations" binding:"dive"`
}

func (r paymentRequest) input(receivedBy string) service.PaymentInput {
	in := service.PaymentInput{
		AccountID:  r.AccountID,
		Amount:     r.Amount,
		Method:     domain.PaymentMethod(strings.ToUpper(strings.TrimSpace(r.Method))),
		Reference:  r.Reference,
		Notes:      r.Notes,
		ReceivedBy: receivedBy,
	}
	for _, a := range r.InvoiceAllocations {
		in.Allocations = append(in.Allocations, service.AllocationInput{InvoiceID: a.InvoiceID, Amount: a.Amount, Notes: a.Notes})
	}
	return in
}

type creditNoteRequest struct {
	CreditNoteNumber string          `json:"creditNoteNumber" binding:"required"`
	Amount           decimal.Decimal `json:"amount"`
}

type TransferRequest struct {
	ProductID       string `json:"productId" binding:"required"`
	FromWarehouseID string `json:"fromWarehouseId" binding:"required"`
	ToWarehouseID   string `json:"toWarehouseId" binding:"required"`
	Quantity        int    `json:"quantity" binding:"required,gt=0"`
	Reference       string `json:"reference"`
	Reason          string `json:"reason"`
}

// Responses.

type orderResponse struct {
	ID              string             `json:"id"`
	QuotationNumber string             `json:"quotationNumber"`
	InvoiceID       string             `json:"invoiceId"`
	InvoiceNumber   string             `json:"invoiceNumber"`
	OrderNumber     string             `json:"orderNumber"`
	Total           decimal.Decimal    `json:"total"`
	Currency        string             `json:"currency"`
	Status          domain.OrderStatus `json:"status"`
}

func toOrder(r service.CheckoutResult) orderResponse {
	return orderResponse{
		ID:              r.OrderID,
		QuotationNumber: r.QuotationNumber,
		InvoiceID:       r.InvoiceID,
		InvoiceNumber:   r.InvoiceNumber,
		OrderNumber:     r.OrderNumber,
		Total:           r.Total,
		Currency:        r.Currency,
		Status:          r.Status,
	}
}

type cartResponse struct {
	SessionID string            `json:"sessionId"`
	Items     []domain.CartLine `json:"items"`
	Count     int               `json:"count"`
}

func toCart(sessionID string, cart domain.Cart) cartResponse {
	items := cart.Lines
	if items == nil {
		items = []domain.CartLine{}
	}
	count := 0
	for _, l := range items {
		count += l.Quantity
	}
	return cartResponse{SessionID: sessionID, Items: items, Count: count}
}

type AccountResponse struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}

func toAccount(a *domain.Account) *AccountResponse {
	if a == nil {
		return nil
	}
	return &AccountResponse{ID: a.ID, Name: a.Name, Email: a.Email, Phone: a.Phone}
}

type AllocationResponse struct {
	ID        string          `json:"id"`
	InvoiceID string          `json:"invoiceId"`
	Amount    decimal.Decimal `json:"amount"`
	Notes     string          `json:"notes,omitempty"`
}

type SettlementResponse struct {
	InvoiceID     string               `json:"invoiceId"`
	InvoiceNumber string               `json:"invoiceNumber"`
	PaymentStatus domain.PaymentStatus `json:"paymentStatus"`
	AmountPaid    decimal.Decimal      `json:"amountPaid"`
	AmountDue     decimal.Decimal      `json:"amountDue"`
	BecamePaid    bool                 `json:"becamePaid"`
	StockDeducted bool                 `json:"stockDeducted"`
}

func toSettlement(s service.InvoiceSettlement) SettlementResponse {
	return SettlementResponse{
		InvoiceID:     s.InvoiceID,
		InvoiceNumber: s.InvoiceNumber,
		PaymentStatus: s.PaymentStatus,
		AmountPaid:    s.AmountPaid,
		AmountDue:     s.AmountDue,
		BecamePaid:    s.BecamePaid,
		StockDeducted: s.StockDeducted,
	}
}

type PaymentResponse struct {
	ID          string               `json:"id"`
	Number      string               `json:"number"`
	AccountID   string               `json:"accountId"`
	Account     *AccountResponse     `json:"account,omitempty"`
	Amount      decimal.Decimal      `json:"amount"`
	Method      domain.PaymentMethod `json:"method"`
	Reference   string               `json:"reference,omitempty"`
	Notes       string               `json:"notes,omitempty"`
	ReceivedBy  string               `json:"receivedBy,omitempty"`
	Allocations []AllocationResponse `json:"invoiceAllocations"`
	Invoices    []SettlementResponse `json:"invoices,omitempty"`
	CreatedAt   time.Time            `json:"createdAt"`
}

func toPayment(p domain.Payment, account *domain.Account, settled []service.InvoiceSettlement) PaymentResponse {
	out := PaymentResponse{
		ID:          p.ID,
		Number:      p.Number,
		AccountID:   p.AccountID,
		Account:     toAccount(account),
		Amount:      p.Amount,
		Method:      p.Method,
		Reference:   p.Reference,
		Notes:       p.Notes,
		ReceivedBy:  p.ReceivedBy,
		Allocations: make([]AllocationResponse, 0, len(p.Allocations)),
		CreatedAt:   p.CreatedAt,
	}
	for _, a := range p.Allocations {
		out.Allocations = append(out.Allocations, AllocationResponse{ID: a.ID, InvoiceID: a.InvoiceID, Amount: a.Amount, Notes: a.Notes})
	}
	for _, s := range settled {
		out.Invoices = append(out.Invoices, toSettlement(s))
	}
	return out
}

type LineResponse struct {
	ProductID   string          `json:"productId"`
	Description string          `json:"description"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unitPrice"`
	Discount    decimal.Decimal `json:"discount"`
	LineTotal   decimal.Decimal `json:"lineTotal"`
}

type InvoiceResponse struct {
	ID            string               `json:"id"`
	Number        string               `json:"number"`
	AccountID     string               `json:"accountId"`
	QuotationID   string               `json:"quotationId,omitempty"`
	Status        domain.InvoiceStatus `json:"status"`
	Currency      string               `json:"currency"`
	PaymentStatus domain.PaymentStatus `json:"paymentStatus"`
	Subtotal      decimal.Decimal      `json:"subtotal"`
	TaxRate       decimal.Decimal      `json:"taxRate"`
	Tax           decimal.Decimal      `json:"tax"`
	Total         decimal.Decimal      `json:"total"`
	AmountPaid    decimal.Decimal      `json:"amountPaid"`
	AmountDue     decimal.Decimal      `json:"amountDue"`
	Lines         []LineResponse       `json:"lines"`
	CreatedAt     time.Time            `json:"createdAt"`
}

func toInvoice(inv domain.Invoice) InvoiceResponse {
	out := InvoiceResponse{
		ID:            inv.ID,
		Number:        inv.Number,
		AccountID:     inv.AccountID,
		QuotationID:   inv.QuotationID,
		Status:        inv.Status,
		Currency:      inv.Currency,
		PaymentStatus: inv.PaymentStatus,
		Subtotal:      inv.Subtotal,
		TaxRate:       inv.TaxRate,
		Tax:           inv.Tax,
		Total:         inv.Total,
		AmountPaid:    inv.AmountPaid,
		AmountDue:     inv.AmountDue,
		Lines:         make([]LineResponse, 0, len(inv.Lines)),
		CreatedAt:     inv.CreatedAt,
	}
	for _, l := range inv.Lines {
		out.Lines = append(out.Lines, LineResponse{
			ProductID:   l.ProductID,
			Description: l.Description,
			Quantity:    l.Quantity,
			UnitPrice:   l.UnitPrice,
			Discount:    l.Discount,
			LineTotal:   l.LineTotal,
		})
	}
	return out
}

type ProductRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	SKU  string `json:"sku,omitempty"`
}

type WarehouseRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Code string `json:"code,omitempty"`
}

// MovementResponse is enriched from the snapshot columns so it renders even
// after the product or warehouse is gone.
type MovementResponse struct {
	ID                 string              `json:"id"`
	Type               domain.MovementType `json:"type"`
	Quantity           int                 `json:"quantity"`
	QuantityAfter      int                 `json:"quantityAfter"`
	UnitCost           *decimal.Decimal    `json:"unitCost,omitempty"`
	TotalCost          *decimal.Decimal    `json:"totalCost,omitempty"`
	Reference          string              `json:"reference,omitempty"`
	Reason             string              `json:"reason,omitempty"`
	RelatedWarehouseID string              `json:"relatedWarehouseId,omitempty"`
	TransferGroupID    string              `json:"transferGroupId,omitempty"`
	GRNPath            string              `json:"grnPath,omitempty"`
	POPath             string              `json:"poPath,omitempty"`
	Product            ProductRef          `json:"product"`
	Warehouse          WarehouseRef        `json:"warehouse"`
	CreatedBy          string              `json:"createdBy,omitempty"`
	CreatedAt          time.Time           `json:"createdAt"`
}

func toMovement(m domain.StockMovement) MovementResponse {
	return MovementResponse{
		ID:                 m.ID,
		Type:               m.Type,
		Quantity:           m.Quantity,
		QuantityAfter:      m.QuantityAfter,
		UnitCost:           m.UnitCost,
		TotalCost:          m.TotalCost,
		Reference:          m.Reference,
		Reason:             m.Reason,
		RelatedWarehouseID: m.RelatedWarehouseID,
		TransferGroupID:    m.TransferGroupID,
		GRNPath:            m.GRNPath,
		POPath:             m.POPath,
		Product:            ProductRef{ID: m.ProductID, Name: m.ProductName, SKU: m.ProductSKU},
		Warehouse:          WarehouseRef{ID: m.WarehouseID, Name: m.WarehouseName, Code: m.WarehouseCode},
		CreatedBy:          m.CreatedBy,
		CreatedAt:          m.CreatedAt,
	}
}

type MovementPageResponse struct {
	Movements []MovementResponse `json:"movements"`
	Total     int                `json:"total"`
	Page      int                `json:"page"`
	PageSize  int                `json:"pageSize"`
}

func toMovementPage(p service.MovementPage) MovementPageResponse {
	out := MovementPageResponse{
		Movements: make([]MovementResponse, 0, len(p.Movements)),
		Total:     p.Total,
		Page:      p.Page,
		PageSize:  p.PageSize,
	}
	for _, m := range p.Movements {
		out.Movements = append(out.Movements, toMovement(m))
	}
	return out
}

type TransferResponse struct {
	Out MovementResponse `json:"out"`
	In  MovementResponse `json:"in"`
}

type stockItemResponse struct {
	ID          string          `json:"id"`
	WarehouseID string          `json:"warehouseId"`
	Quantity    int             `json:"quantity"`
	Reserved    int             `json:"reserved"`
	Available   int             `json:"available"`
	AverageCost decimal.Decimal `json:"averageCost"`
	TotalValue  decimal.Decimal `json:"totalValue"`
}

type productStockResponse struct {
	ProductID      string              `json:"productId"`
	Items          []stockItemResponse `json:"items"`
	TotalAvailable int                 `json:"totalAvailable"`
}

func toProductStock(productID string, items []domain.StockItem) productStockResponse {
	out := productStockResponse{
		ProductID:      productID,
		Items:          make([]stockItemResponse, 0, len(items)),
		TotalAvailable: domain.TotalAvailable(items),
	}
	for _, it := range items {
		out.Items = append(out.Items, stockItemResponse{
			ID:          it.ID,
			WarehouseID: it.WarehouseID,
			Quantity:    it.Quantity,
			Reserved:    it.Reserved,
			Available:   it.Available,
			AverageCost: it.AverageCost,
			TotalValue:  it.TotalValue,
		})
	}
	return out
}
