package handler

import (
	"context"
	"encoding/json"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/status"

	"github.com/rl1809/settlement/internal/core/domain"
	"github.com/rl1809/settlement/internal/core/service"
	"github.com/rl1809/settlement/internal/logger"
)

const GRPCServiceName = "settlement.v1.Settlement"

// JSONCodec carries plain JSON messages over gRPC. Clients select it with
// grpc.CallContentSubtype(JSONCodec{}.Name()).
type JSONCodec struct{}

func (JSONCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (JSONCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (JSONCodec) Name() string                       { return "json" }

func init() {
	encoding.RegisterCodec(JSONCodec{})
}

type RecordPaymentRequest struct {
	AccountID          string              `json:"accountId"`
	Amount             decimal.Decimal     `json:"amount"`
	Method             string              `json:"method"`
	Reference          string              `json:"reference"`
	Notes              string              `json:"notes"`
	ReceivedBy         string              `json:"receivedBy"`
	InvoiceAllocations []AllocationRequest `json:"invoiceAllocations"`
}

type StockMovementRequest struct {
	ProductID   string           `json:"productId"`
	WarehouseID string           `json:"warehouseId"`
	Type        string           `json:"type"`
	Quantity    int              `json:"quantity"`
	UnitCost    *decimal.Decimal `json:"unitCost,omitempty"`
	Reference   string           `json:"reference"`
	Reason      string           `json:"reason"`
	CreatedBy   string           `json:"createdBy"`
}

type TransferStockRequest struct {
	TransferRequest
	CreatedBy string `json:"createdBy"`
}

type GetInvoiceRequest struct {
	ID string `json:"id"`
}

// SettlementServer is the gRPC surface over the settlement services.
type SettlementServer interface {
	RecordPayment(ctx context.Context, req *RecordPaymentRequest) (*PaymentResponse, error)
	ApplyStockMovement(ctx context.Context, req *StockMovementRequest) (*MovementResponse, error)
	TransferStock(ctx context.Context, req *TransferStockRequest) (*TransferResponse, error)
	GetInvoice(ctx context.Context, req *GetInvoiceRequest) (*InvoiceResponse, error)
}

type GRPCHandler struct {
	payments   PaymentRecorder
	stock      StockRecorder
	logger     logrus.FieldLogger
	production bool
}

func NewGRPCHandler(payments PaymentRecorder, stock StockRecorder, log logrus.FieldLogger, production bool) *GRPCHandler {
	return &GRPCHandler{payments: payments, stock: stock, logger: log, production: production}
}

// Register attaches the handler to s.
func (h *GRPCHandler) Register(s grpc.ServiceRegistrar) {
	s.RegisterService(&settlementServiceDesc, h)
}

func (h *GRPCHandler) RecordPayment(ctx context.Context, req *RecordPaymentRequest) (*PaymentResponse, error) {
	in := paymentRequest{
		AccountID:          req.AccountID,
		Amount:             req.Amount,
		Method:             req.Method,
		Reference:          req.Reference,
		Notes:              req.Notes,
		InvoiceAllocations: req.InvoiceAllocations,
	}.input(req.ReceivedBy)

	result, err := h.payments.RecordPayment(ctx, in)
	if err != nil {
		return nil, h.status("RecordPayment", err)
	}
	out := toPayment(result.Payment, &result.Account, result.Invoices)
	return &out, nil
}

func (h *GRPCHandler) ApplyStockMovement(ctx context.Context, req *StockMovementRequest) (*MovementResponse, error) {
	m, err := h.stock.Record(ctx, service.MovementInput{
		ProductID:   req.ProductID,
		WarehouseID: req.WarehouseID,
		Quantity:    req.Quantity,
		UnitCost:    req.UnitCost,
		Type:        domain.MovementType(req.Type),
		Reference:   req.Reference,
		Reason:      req.Reason,
		CreatedBy:   req.CreatedBy,
	})
	if err != nil {
		return nil, h.status("ApplyStockMovement", err)
	}
	out := toMovement(m)
	return &out, nil
}

func (h *GRPCHandler) TransferStock(ctx context.Context, req *TransferStockRequest) (*TransferResponse, error) {
	out, into, err := h.stock.Transfer(ctx, service.TransferInput{
		ProductID:       req.ProductID,
		FromWarehouseID: req.FromWarehouseID,
		ToWarehouseID:   req.ToWarehouseID,
		Quantity:        req.Quantity,
		Reference:       req.Reference,
		Reason:          req.Reason,
		CreatedBy:       req.CreatedBy,
	})
	if err != nil {
		return nil, h.status("TransferStock", err)
	}
	return &TransferResponse{Out: toMovement(out), In: toMovement(into)}, nil
}

func (h *GRPCHandler) GetInvoice(ctx context.Context, req *GetInvoiceRequest) (*InvoiceResponse, error) {
	inv, err := h.payments.GetInvoice(ctx, req.ID)
	if err != nil {
		return nil, h.status("GetInvoice", err)
	}
	out := toInvoice(*inv)
	return &out, nil
}

func (h *GRPCHandler) status(funcName string, err error) error {
	c := classify(err, h.production)
	if c.unexpected {
		logger.LogError(h.logger, "grpc", funcName, nil, err)
		if c.body.Details != "" {
			return status.Error(c.grpcCode, c.body.Error+": "+c.body.Details)
		}
	}
	return status.Error(c.grpcCode, c.body.Error)
}

// unary builds a method descriptor that decodes Req and dispatches to call,
// honouring any server interceptor.
func unary[Req any, Resp any](name string, call func(SettlementServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	fullMethod := "/" + GRPCServiceName + "/" + name
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(SettlementServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(srv.(SettlementServer), ctx, req.(*Req))
			})
		},
	}
}

var settlementServiceDesc = grpc.ServiceDesc{
	ServiceName: GRPCServiceName,
	HandlerType: (*SettlementServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("RecordPayment", SettlementServer.RecordPayment),
		unary("ApplyStockMovement", SettlementServer.ApplyStockMovement),
		unary("TransferStock", SettlementServer.TransferStock),
		unary("GetInvoice", SettlementServer.GetInvoice),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "settlement/v1/settlement",
}
