package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/rl1809/settlement/internal/core/domain"
	"github.com/rl1809/settlement/internal/port"
)

// CartService guards cart edits. The cart itself is held by the caller.
type CartService struct {
	db     port.DatabaseRepository
	logger logrus.FieldLogger
	now    func() time.Time
}

func NewCartService(db port.DatabaseRepository, logger logrus.FieldLogger) *CartService {
	return &CartService{db: db, logger: logger, now: time.Now}
}

func (s *CartService) AddItem(ctx context.Context, cart domain.Cart, productID string, quantity int) (domain.Cart, error) {
	if quantity <= 0 {
		return cart, domain.NewValidationError("quantity", "must be positive")
	}
	if err := s.requireProduct(ctx, productID); err != nil {
		return cart, err
	}
	return cart.Add(productID, quantity), nil
}

func (s *CartService) SetQuantity(ctx context.Context, cart domain.Cart, productID string, quantity int) (domain.Cart, error) {
	if quantity > 0 {
		if err := s.requireProduct(ctx, productID); err != nil {
			return cart, err
		}
	}
	return cart.Set(productID, quantity), nil
}

// AttachContact records the shopper's email against the session so the cart
// can be followed up if it is abandoned.
func (s *CartService) AttachContact(ctx context.Context, sessionID, email string, cart domain.Cart) error {
	email = strings.ToLower(strings.TrimSpace(email))
	if !validEmail(email) {
		return domain.NewValidationError("email", "must be a valid email address")
	}
	if sessionID == "" {
		return domain.NewValidationError("session", "is required")
	}
	now := s.now()
	err := s.db.UpsertAbandonedCart(ctx, domain.AbandonedCart{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Email:     email,
		Cart:      cart.Normalize(),
		Status:    domain.AbandonedCartActive,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		return fmt.Errorf("upsert abandoned cart: %w", err)
	}
	s.logger.WithField("session", sessionID).Debug("cart contact attached")
	return nil
}

func (s *CartService) requireProduct(ctx context.Context, productID string) error {
	if productID == "" {
		return domain.NewValidationError("productId", "is required")
	}
	p, err := s.db.GetProduct(ctx, productID)
	if err != nil {
		return fmt.Errorf("load product: %w", err)
	}
	if p == nil {
		return fmt.Errorf("%w: %s", domain.ErrProductNotFound, productID)
	}
	return nil
}
