package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInsufficientStock        = errors.New("insufficient stock")
	ErrProductNotFound          = errors.New("product not found")
	ErrWarehouseNotFound        = errors.New("warehouse not found")
	ErrInvoiceNotFound          = errors.New("invoice not found")
	ErrAccountNotFound          = errors.New("account not found")
	ErrPaymentNotFound          = errors.New("payment not found")
	ErrAllocationExceedsPayment = errors.New("allocations exceed payment amount")
	ErrDuplicateRequest         = errors.New("duplicate request")
	ErrSameWarehouse            = errors.New("source and destination warehouse are the same")
	ErrCreditExceedsDue         = errors.New("credit exceeds amount due")
)

// ValidationError rejects input before any transaction is opened.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func NewValidationError(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// PolicyError is a store policy refusing the checkout.
type PolicyError struct {
	Reason                    string
	RequiresAccount           bool
	RequiresEmailVerification bool
}

func (e *PolicyError) Error() string {
	return e.Reason
}

// StockError names the product that could not be fulfilled.
type StockError struct {
	ProductID   string
	ProductName string
	Requested   int
	Available   int
}

func (e *StockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s: requested %d, available %d", e.ProductName, e.Requested, e.Available)
}

func (e *StockError) Unwrap() error {
	return ErrInsufficientStock
}
