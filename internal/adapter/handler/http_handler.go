package handler

import (
	"context"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/rl1809/settlement/internal/core/domain"
	"github.com/rl1809/settlement/internal/core/service"
	"github.com/rl1809/settlement/internal/logger"
	"github.com/rl1809/settlement/internal/metrics"
)

const (
	cartCookie    = "cart"
	sessionCookie = "sid"
	cookieMaxAge  = 30 * 24 * 60 * 60

	// Identity is resolved upstream; these headers carry it in.
	headerUserID        = "X-User-Id"
	headerEmailVerified = "X-Email-Verified"
	headerIdempotency   = "Idempotency-Key"

	maxUploadBytes = 10 << 20
)

type Checkouter interface {
	Checkout(ctx context.Context, in service.CheckoutInput) (service.CheckoutResult, error)
}

type PaymentRecorder interface {
	RecordPayment(ctx context.Context, in service.PaymentInput) (service.PaymentResult, error)
	ApplyCreditNote(ctx context.Context, in service.CreditNoteInput) (service.InvoiceSettlement, error)
	GetPayment(ctx context.Context, id string) (*domain.Payment, error)
	GetInvoice(ctx context.Context, id string) (*domain.Invoice, error)
	GetAccount(ctx context.Context, id string) (*domain.Account, error)
}

type StockRecorder interface {
	Record(ctx context.Context, in service.MovementInput) (domain.StockMovement, error)
	Transfer(ctx context.Context, in service.TransferInput) (out, into domain.StockMovement, err error)
	ListMovements(ctx context.Context, filter domain.MovementFilter) (service.MovementPage, error)
	ListStockItems(ctx context.Context, productID string) ([]domain.StockItem, error)
}

type CartEditor interface {
	AddItem(ctx context.Context, cart domain.Cart, productID string, quantity int) (domain.Cart, error)
	SetQuantity(ctx context.Context, cart domain.Cart, productID string, quantity int) (domain.Cart, error)
	AttachContact(ctx context.Context, sessionID, email string, cart domain.Cart) error
}

type HTTPConfig struct {
	Production   bool
	CookieSecure bool
	UploadsDir   string
	CORSOrigins  []string
}

type HTTPHandler struct {
	checkout Checkouter
	payments PaymentRecorder
	stock    StockRecorder
	carts    CartEditor
	metrics  *metrics.Metrics
	logger   logrus.FieldLogger
	cfg      HTTPConfig
	now      func() time.Time
}

func NewHTTPHandler(checkout Checkouter, payments PaymentRecorder, stock StockRecorder, carts CartEditor,
	m *metrics.Metrics, log logrus.FieldLogger, cfg HTTPConfig) *HTTPHandler {
	if cfg.UploadsDir == "" {
		cfg.UploadsDir = "uploads"
	}
	return &HTTPHandler{
		checkout: checkout,
		payments: payments,
		stock:    stock,
		carts:    carts,
		metrics:  m,
		logger:   log,
		cfg:      cfg,
		now:      time.Now,
	}
}

func (h *HTTPHandler) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), h.observe())
	if len(h.cfg.CORSOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins:     h.cfg.CORSOrigins,
			AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
			AllowHeaders:     []string{"Origin", "Content-Type", headerUserID, headerEmailVerified, headerIdempotency},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	}

	r.GET("/health", h.HealthCheck)
	if h.metrics != nil {
		r.GET("/metrics", gin.WrapH(h.metrics.Handler()))
	}

	api := r.Group("/api")
	api.POST("/checkout", h.Checkout)

	api.GET("/cart", h.GetCart)
	api.DELETE("/cart", h.ClearCart)
	api.POST("/cart/items", h.AddCartItem)
	api.PUT("/cart/items/:productId", h.SetCartItem)
	api.DELETE("/cart/items/:productId", h.RemoveCartItem)
	api.POST("/cart/contact", h.AttachCartContact)

	api.POST("/payments", h.RecordPayment)
	api.GET("/payments/:id", h.GetPayment)
	api.GET("/invoices/:id", h.GetInvoice)
	api.POST("/invoices/:id/credit-notes", h.ApplyCreditNote)

	api.POST("/stock-movements", h.RecordStockMovement)
	api.GET("/stock-movements", h.ListStockMovements)
	api.POST("/stock-transfers", h.TransferStock)
	api.GET("/products/:id/stock", h.ProductStock)

	return r
}

func (h *HTTPHandler) observe() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		h.metrics.HTTPRequest(c.Request.Method, route, strconv.Itoa(status))
		h.logger.WithFields(logrus.Fields{
			"method":  c.Request.Method,
			"route":   route,
			"status":  status,
			"latency": time.Since(start).String(),
		}).Debug("request served")
	}
}

func (h *HTTPHandler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Checkout

func (h *HTTPHandler) Checkout(c *gin.Context) {
	var req checkoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "invalid request body", err)
		return
	}

	sessionID := h.session(c)
	cart := h.cart(c)
	if len(req.Items) > 0 {
		cart = domain.Cart{Lines: req.Items}
	}

	key := req.IdempotencyKey
	if header := c.GetHeader(headerIdempotency); header != "" {
		key = header
	}

	result, err := h.checkout.Checkout(c.Request.Context(), service.CheckoutInput{
		Customer:        req.Customer,
		ShippingAddress: req.ShippingAddress,
		BillingAddress:  req.BillingAddress,
		PaymentMethod:   domain.PaymentMethod(strings.ToUpper(strings.TrimSpace(req.PaymentMethod))),
		Notes:           req.Notes,
		Cart:            cart,
		SessionID:       sessionID,
		AuthUserID:      c.GetHeader(headerUserID),
		EmailVerified:   headerBool(c, headerEmailVerified),
		IdempotencyKey:  key,
	})
	if err != nil {
		h.fail(c, "Checkout", err)
		return
	}

	h.clearCartCookie(c)
	c.JSON(http.StatusCreated, gin.H{"success": true, "order": toOrder(result)})
}

// Cart

func (h *HTTPHandler) GetCart(c *gin.Context) {
	c.JSON(http.StatusOK, toCart(h.session(c), h.cart(c)))
}

func (h *HTTPHandler) ClearCart(c *gin.Context) {
	h.clearCartCookie(c)
	c.JSON(http.StatusOK, toCart(h.session(c), domain.Cart{}))
}

func (h *HTTPHandler) AddCartItem(c *gin.Context) {
	var req cartItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "productId and a positive quantity are required", err)
		return
	}

	cart, err := h.carts.AddItem(c.Request.Context(), h.cart(c), req.ProductID, req.Quantity)
	if err != nil {
		h.fail(c, "AddCartItem", err)
		return
	}
	h.respondCart(c, cart)
}

func (h *HTTPHandler) SetCartItem(c *gin.Context) {
	var req cartQuantityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "quantity must not be negative", err)
		return
	}

	cart, err := h.carts.SetQuantity(c.Request.Context(), h.cart(c), c.Param("productId"), req.Quantity)
	if err != nil {
		h.fail(c, "SetCartItem", err)
		return
	}
	h.respondCart(c, cart)
}

func (h *HTTPHandler) RemoveCartItem(c *gin.Context) {
	h.respondCart(c, h.cart(c).Remove(c.Param("productId")))
}

func (h *HTTPHandler) AttachCartContact(c *gin.Context) {
	var req cartContactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "email is required", err)
		return
	}

	sessionID := h.session(c)
	if err := h.carts.AttachContact(c.Request.Context(), sessionID, req.Email, h.cart(c)); err != nil {
		h.fail(c, "AttachCartContact", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *HTTPHandler) respondCart(c *gin.Context, cart domain.Cart) {
	if err := h.setCartCookie(c, cart); err != nil {
		h.fail(c, "respondCart", err)
		return
	}
	c.JSON(http.StatusOK, toCart(h.session(c), cart.Normalize()))
}

// Payments and invoices

func (h *HTTPHandler) RecordPayment(c *gin.Context) {
	var req paymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "invalid payment request", err)
		return
	}

	result, err := h.payments.RecordPayment(c.Request.Context(), req.input(c.GetHeader(headerUserID)))
	if errors.Is(err, domain.ErrAccountNotFound) || errors.Is(err, domain.ErrInvoiceNotFound) {
		// The ids came from the request body, so an unknown one is a bad request.
		h.badRequest(c, err.Error(), nil)
		return
	}
	if err != nil {
		h.fail(c, "RecordPayment", err)
		return
	}
	c.JSON(http.StatusCreated, toPayment(result.Payment, &result.Account, result.Invoices))
}

func (h *HTTPHandler) GetPayment(c *gin.Context) {
	ctx := c.Request.Context()
	p, err := h.payments.GetPayment(ctx, c.Param("id"))
	if err != nil {
		h.fail(c, "GetPayment", err)
		return
	}

	account, err := h.payments.GetAccount(ctx, p.AccountID)
	if err != nil && !errors.Is(err, domain.ErrAccountNotFound) {
		h.fail(c, "GetPayment", err)
		return
	}
	c.JSON(http.StatusOK, toPayment(*p, account, nil))
}

func (h *HTTPHandler) GetInvoice(c *gin.Context) {
	inv, err := h.payments.GetInvoice(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, "GetInvoice", err)
		return
	}
	c.JSON(http.StatusOK, toInvoice(*inv))
}

func (h *HTTPHandler) ApplyCreditNote(c *gin.Context) {
	var req creditNoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "invalid credit note request", err)
		return
	}

	settled, err := h.payments.ApplyCreditNote(c.Request.Context(), service.CreditNoteInput{
		InvoiceID:        c.Param("id"),
		CreditNoteNumber: req.CreditNoteNumber,
		Amount:           req.Amount,
	})
	if err != nil {
		h.fail(c, "ApplyCreditNote", err)
		return
	}
	c.JSON(http.StatusOK, toSettlement(settled))
}

// Stock

// RecordStockMovement takes a multipart form so GRN and PO documents can
// ride along with the movement.
func (h *HTTPHandler) RecordStockMovement(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxUploadBytes)

	quantity, err := strconv.Atoi(strings.TrimSpace(c.PostForm("quantity")))
	if err != nil {
		h.badRequest(c, "quantity must be an integer", err)
		return
	}

	in := service.MovementInput{
		ProductID:   c.PostForm("productId"),
		WarehouseID: c.PostForm("warehouseId"),
		Quantity:    quantity,
		Type:        domain.MovementType(strings.ToUpper(c.PostForm("type"))),
		Reference:   c.PostForm("reference"),
		Reason:      c.PostForm("reason"),
		CreatedBy:   c.GetHeader(headerUserID),
	}
	if raw := strings.TrimSpace(c.PostForm("unitCost")); raw != "" {
		cost, err := decimal.NewFromString(raw)
		if err != nil {
			h.badRequest(c, "unitCost must be a number", err)
			return
		}
		in.UnitCost = &cost
	}

	if in.GRNPath, err = h.saveUpload(c, "grn"); err != nil {
		h.fail(c, "RecordStockMovement", err)
		return
	}
	if in.POPath, err = h.saveUpload(c, "po"); err != nil {
		h.discardUploads(in.GRNPath)
		h.fail(c, "RecordStockMovement", err)
		return
	}

	m, err := h.stock.Record(c.Request.Context(), in)
	if err != nil {
		h.discardUploads(in.GRNPath, in.POPath)
		h.fail(c, "RecordStockMovement", err)
		return
	}
	c.JSON(http.StatusCreated, toMovement(m))
}

// discardUploads removes files saved for a movement that was not recorded.
func (h *HTTPHandler) discardUploads(paths ...string) {
	for _, p := range paths {
		if p == "" {
			continue
		}
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			h.logger.WithError(err).WithField("path", p).Warn("failed to remove orphaned upload")
		}
	}
}

// saveUpload stores an optional form file under the uploads dir with a
// timestamp prefix and returns its path, or "" when absent.
func (h *HTTPHandler) saveUpload(c *gin.Context, field string) (string, error) {
	file, err := c.FormFile(field)
	if errors.Is(err, http.ErrMissingFile) || errors.Is(err, http.ErrNotMultipart) {
		return "", nil
	}
	if err != nil {
		return "", domain.NewValidationError(field, "unreadable upload")
	}

	if err := os.MkdirAll(h.cfg.UploadsDir, 0o755); err != nil {
		return "", fmt.Errorf("create uploads dir: %w", err)
	}
	dst := filepath.Join(h.cfg.UploadsDir, uploadName(h.now(), file))
	if err := c.SaveUploadedFile(file, dst); err != nil {
		return "", fmt.Errorf("save %s upload: %w", field, err)
	}
	return dst, nil
}

func uploadName(at time.Time, file *multipart.FileHeader) string {
	base := filepath.Base(file.Filename)
	if base == "." || base == string(filepath.Separator) {
		base = "upload"
	}
	return fmt.Sprintf("%d-%s", at.UnixMilli(), strings.ReplaceAll(base, " ", "_"))
}

func (h *HTTPHandler) ListStockMovements(c *gin.Context) {
	page, _ := strconv.Atoi(c.Query("page"))
	size, _ := strconv.Atoi(c.Query("pageSize"))

	result, err := h.stock.ListMovements(c.Request.Context(), domain.MovementFilter{
		ProductID:   c.Query("productId"),
		WarehouseID: c.Query("warehouseId"),
		Type:        domain.MovementType(strings.ToUpper(c.Query("type"))),
		Reference:   c.Query("reference"),
		Page:        page,
		PageSize:    size,
	})
	if err != nil {
		h.fail(c, "ListStockMovements", err)
		return
	}
	c.JSON(http.StatusOK, toMovementPage(result))
}

func (h *HTTPHandler) TransferStock(c *gin.Context) {
	var req TransferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "productId, both warehouses and a positive quantity are required", err)
		return
	}

	out, into, err := h.stock.Transfer(c.Request.Context(), service.TransferInput{
		ProductID:       req.ProductID,
		FromWarehouseID: req.FromWarehouseID,
		ToWarehouseID:   req.ToWarehouseID,
		Quantity:        req.Quantity,
		Reference:       req.Reference,
		Reason:          req.Reason,
		CreatedBy:       c.GetHeader(headerUserID),
	})
	if err != nil {
		h.fail(c, "TransferStock", err)
		return
	}
	c.JSON(http.StatusCreated, TransferResponse{Out: toMovement(out), In: toMovement(into)})
}

func (h *HTTPHandler) ProductStock(c *gin.Context) {
	productID := c.Param("id")
	items, err := h.stock.ListStockItems(c.Request.Context(), productID)
	if err != nil {
		h.fail(c, "ProductStock", err)
		return
	}
	c.JSON(http.StatusOK, toProductStock(productID, items))
}

// cookies

// session returns the shopper's session id, issuing one on first contact.
func (h *HTTPHandler) session(c *gin.Context) string {
	if v, ok := c.Get(sessionCookie); ok {
		return v.(string)
	}
	id, err := c.Cookie(sessionCookie)
	if err != nil || id == "" {
		id = uuid.NewString()
		h.setCookie(c, sessionCookie, id, cookieMaxAge)
	}
	c.Set(sessionCookie, id)
	return id
}

// cart reads the cart cookie. A corrupt cookie reads as an empty cart.
func (h *HTTPHandler) cart(c *gin.Context) domain.Cart {
	raw, err := c.Cookie(cartCookie)
	if err != nil {
		return domain.Cart{}
	}
	cart, err := domain.DecodeCart(raw)
	if err != nil {
		h.logger.WithError(err).Debug("discarding unreadable cart cookie")
		return domain.Cart{}
	}
	return cart
}

func (h *HTTPHandler) setCartCookie(c *gin.Context, cart domain.Cart) error {
	value, err := cart.Encode()
	if err != nil {
		return err
	}
	h.setCookie(c, cartCookie, value, cookieMaxAge)
	return nil
}

func (h *HTTPHandler) clearCartCookie(c *gin.Context) {
	h.setCookie(c, cartCookie, "", -1)
}

func (h *HTTPHandler) setCookie(c *gin.Context, name, value string, maxAge int) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(name, value, maxAge, "/", "", h.cfg.CookieSecure, true)
}

// errors

func (h *HTTPHandler) badRequest(c *gin.Context, msg string, err error) {
	body := errorBody{Error: msg}
	if !h.cfg.Production && err != nil {
		body.Details = err.Error()
	}
	c.AbortWithStatusJSON(http.StatusBadRequest, body)
}

func (h *HTTPHandler) fail(c *gin.Context, funcName string, err error) {
	out := classify(err, h.cfg.Production)
	if out.unexpected {
		logger.LogError(h.logger, "http", funcName, c.Request.URL.Path, err)
	} else {
		h.logger.WithError(err).WithField("path", c.Request.URL.Path).Debug("request rejected")
	}
	c.AbortWithStatusJSON(out.httpStatus, out.body)
}

func headerBool(c *gin.Context, name string) bool {
	b, _ := strconv.ParseBool(c.GetHeader(name))
	return b
}
