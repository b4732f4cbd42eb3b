package handler

import (
	"errors"
	"net/http"

	"google.golang.org/grpc/codes"

	"github.com/rl1809/settlement/internal/core/domain"
)

// errorBody is the JSON error envelope shared by every endpoint.
type errorBody struct {
	Error                     string `json:"error"`
	Details                   string `json:"details,omitempty"`
	RequiresAccount           bool   `json:"requiresAccount,omitempty"`
	RequiresEmailVerification bool   `json:"requiresEmailVerification,omitempty"`
}

// classified is an error mapped to its transport status. Unexpected errors
// keep a generic message; the cause goes in Details outside production.
type classified struct {
	httpStatus int
	grpcCode   codes.Code
	body       errorBody
	unexpected bool
}

func classify(err error, production bool) classified {
	var verr *domain.ValidationError
	var perr *domain.PolicyError
	var serr *domain.StockError

	switch {
	case errors.As(err, &verr):
		return expected(http.StatusBadRequest, codes.InvalidArgument, verr.Error())
	case errors.As(err, &perr):
		c := expected(http.StatusBadRequest, codes.FailedPrecondition, perr.Reason)
		switch {
		case perr.RequiresAccount:
			c.httpStatus, c.grpcCode = http.StatusUnauthorized, codes.Unauthenticated
		case perr.RequiresEmailVerification:
			c.httpStatus, c.grpcCode = http.StatusForbidden, codes.PermissionDenied
		}
		c.body.RequiresAccount = perr.RequiresAccount
		c.body.RequiresEmailVerification = perr.RequiresEmailVerification
		return c
	case errors.As(err, &serr):
		return expected(http.StatusConflict, codes.FailedPrecondition, serr.Error())
	case errors.Is(err, domain.ErrInsufficientStock):
		return expected(http.StatusConflict, codes.FailedPrecondition, err.Error())
	case errors.Is(err, domain.ErrDuplicateRequest):
		return expected(http.StatusConflict, codes.AlreadyExists, "duplicate request")
	case errors.Is(err, domain.ErrProductNotFound),
		errors.Is(err, domain.ErrWarehouseNotFound),
		errors.Is(err, domain.ErrInvoiceNotFound),
		errors.Is(err, domain.ErrAccountNotFound),
		errors.Is(err, domain.ErrPaymentNotFound):
		return expected(http.StatusNotFound, codes.NotFound, err.Error())
	case errors.Is(err, domain.ErrAllocationExceedsPayment),
		errors.Is(err, domain.ErrCreditExceedsDue),
		errors.Is(err, domain.ErrSameWarehouse):
		return expected(http.StatusBadRequest, codes.InvalidArgument, err.Error())
	}

	c := classified{
		httpStatus: http.StatusInternalServerError,
		grpcCode:   codes.Internal,
		body:       errorBody{Error: "internal error"},
		unexpected: true,
	}
	if !production {
		c.body.Details = err.Error()
	}
	return c
}

func expected(status int, code codes.Code, msg string) classified {
	return classified{httpStatus: status, grpcCode: code, body: errorBody{Error: msg}}
}
