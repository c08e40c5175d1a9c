package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/garyjia/evoucher/internal/application/service"
	"github.com/garyjia/evoucher/internal/apperrors"
	"github.com/garyjia/evoucher/internal/currency"
	"github.com/garyjia/evoucher/internal/domain/entity"
	"github.com/garyjia/evoucher/internal/export"
)

// Actor headers set by the auth gateway
const (
	HeaderActorID   = "X-Actor-ID"
	HeaderActorName = "X-Actor-Name"
	HeaderActorRole = "X-Actor-Role"
)

// Handlers contains all HTTP request handlers
type Handlers struct {
	deps   Deps
	logger Logger
}

// NewHandlers creates a new Handlers instance
func NewHandlers(deps Deps, logger Logger) *Handlers {
	return &Handlers{deps: deps, logger: logger}
}

// Response represents a standard JSON response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status     string      `json:"status"`
	Timestamp  string      `json:"timestamp"`
	Version    string      `json:"version"`
	Components interface{} `json:"components,omitempty"`
}

// CreateVoucherRequest is the body of POST /api/vouchers
type CreateVoucherRequest struct {
	ID           string          `json:"id"`
	DocumentKind string          `json:"document_kind" binding:"required"`
	Payee        string          `json:"payee"`
	Purpose      string          `json:"purpose"`
	BookingRef   string          `json:"booking_ref"`
	Amount       decimal.Decimal `json:"amount"`
	Currency     string          `json:"currency" binding:"required"`
}

// RejectRequest is the body of POST /api/vouchers/:id/reject
type RejectRequest struct {
	Reason string `json:"reason"`
}

// SetRateRequest is the body of PUT /api/rates/:from/:to
type SetRateRequest struct {
	Rate decimal.Decimal `json:"rate"`
}

// VoucherResponse is a document plus its rendered lines
type VoucherResponse struct {
	*entity.FinancialDocument
	Lines []service.LineView `json:"lines"`
}

// HealthCheck handles GET /health
func (h *Handlers) HealthCheck(c *gin.Context) {
	response := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   "1.0.0",
	}

	status := http.StatusOK
	if h.deps.Health != nil {
		ok, components := h.deps.Health(c.Request.Context())
		response.Components = components
		if !ok {
			response.Status = "unhealthy"
			status = http.StatusServiceUnavailable
		}
	}

	c.JSON(status, Response{
		Success: status == http.StatusOK,
		Data:    response,
	})
}

// CreateVoucher handles POST /api/vouchers
func (h *Handlers) CreateVoucher(c *gin.Context) {
	var req CreateVoucherRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}

	doc, err := h.deps.Engine.Create(c.Request.Context(), &entity.FinancialDocument{
		ID:           req.ID,
		DocumentKind: entity.DocumentKind(strings.ToLower(strings.TrimSpace(req.DocumentKind))),
		Payee:        req.Payee,
		Purpose:      req.Purpose,
		BookingRef:   req.BookingRef,
		Amount:       req.Amount,
		Currency:     req.Currency,
	}, actorFrom(c))
	if err != nil {
		h.fail(c, "create", "", err)
		return
	}

	c.JSON(http.StatusCreated, Response{Success: true, Data: toVoucherResponse(doc)})
}

// GetVoucher handles GET /api/vouchers/:id
func (h *Handlers) GetVoucher(c *gin.Context) {
	id := c.Param("id")
	doc, err := h.deps.Engine.Get(c.Request.Context(), id)
	if err != nil {
		h.fail(c, "get", id, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: toVoucherResponse(doc)})
}

// Submit handles POST /api/vouchers/:id/submit
func (h *Handlers) Submit(c *gin.Context) {
	h.transition(c, "submit", h.deps.Engine.Submit)
}

// Approve handles POST /api/vouchers/:id/approve
func (h *Handlers) Approve(c *gin.Context) {
	h.transition(c, "approve", h.deps.Engine.Approve)
}

// Cancel handles POST /api/vouchers/:id/cancel
func (h *Handlers) Cancel(c *gin.Context) {
	h.transition(c, "cancel", h.deps.Engine.Cancel)
}

// PostToLedger handles POST /api/vouchers/:id/post
func (h *Handlers) PostToLedger(c *gin.Context) {
	h.transition(c, "post", h.deps.Engine.PostToLedger)
}

// Reject handles POST /api/vouchers/:id/reject
func (h *Handlers) Reject(c *gin.Context) {
	var req RejectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}
	h.transition(c, "reject", func(ctx context.Context, id string, actor entity.Actor) (*entity.FinancialDocument, error) {
		return h.deps.Engine.Reject(ctx, id, actor, req.Reason)
	})
}

type transitionFunc func(ctx context.Context, id string, actor entity.Actor) (*entity.FinancialDocument, error)

func (h *Handlers) transition(c *gin.Context, op string, fn transitionFunc) {
	id := c.Param("id")
	doc, err := fn(c.Request.Context(), id, actorFrom(c))
	if err != nil {
		h.fail(c, op, id, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: toVoucherResponse(doc)})
}

// AttachLineItem handles POST /api/vouchers/:id/line-items
func (h *Handlers) AttachLineItem(c *gin.Context) {
	id := c.Param("id")
	var req service.LineItemInput
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}

	item, err := h.deps.Vouchers.AttachLineItem(c.Request.Context(), id, req, actorFrom(c))
	if err != nil {
		h.fail(c, "attach_line_item", id, err)
		return
	}
	c.JSON(http.StatusCreated, Response{Success: true, Data: item})
}

// GetHistory handles GET /api/vouchers/:id/history
func (h *Handlers) GetHistory(c *gin.Context) {
	id := c.Param("id")
	history, err := h.deps.History.GetHistory(c.Request.Context(), id)
	if err != nil {
		h.fail(c, "history", id, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: history})
}

// PermittedActions handles GET /api/vouchers/:id/actions
func (h *Handlers) PermittedActions(c *gin.Context) {
	id := c.Param("id")
	triggers, err := h.deps.Engine.PermittedActions(c.Request.Context(), id, actorFrom(c))
	if err != nil {
		h.fail(c, "actions", id, err)
		return
	}

	actions := make([]string, 0, len(triggers))
	for _, t := range triggers {
		actions = append(actions, t.String())
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: actions})
}

// GetLedgerRecord handles GET /api/ledger/:kind/:id
func (h *Handlers) GetLedgerRecord(c *gin.Context) {
	kind, ok := parseLedgerKind(c.Param("kind"))
	if !ok {
		h.fail(c, "ledger", "", fmt.Errorf("%w: unknown ledger kind %q", apperrors.ErrNotFound, c.Param("kind")))
		return
	}

	rec, err := h.deps.Ledger.GetByID(c.Request.Context(), kind, c.Param("id"))
	if err != nil {
		h.fail(c, "ledger", c.Param("id"), err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: rec})
}

// ExportLedger handles GET /api/ledger/export?kind=expense
func (h *Handlers) ExportLedger(c *gin.Context) {
	ctx := c.Request.Context()

	kinds := []entity.LedgerKind{entity.LedgerExpense, entity.LedgerCollection, entity.LedgerBilling}
	if raw := c.Query("kind"); raw != "" {
		kind, ok := parseLedgerKind(raw)
		if !ok {
			h.fail(c, "export", "", fmt.Errorf("%w: unknown ledger kind %q", apperrors.ErrValidation, raw))
			return
		}
		kinds = []entity.LedgerKind{kind}
	}

	var entries []export.Entry
	for _, kind := range kinds {
		records, err := h.deps.Ledger.List(ctx, kind)
		if err != nil {
			h.fail(c, "export", "", err)
			return
		}
		for _, rec := range records {
			entry := export.Entry{Record: rec}
			doc, err := h.deps.Engine.Get(ctx, rec.SourceDocumentID)
			switch {
			case err == nil:
				entry.Document = doc
			case !errors.Is(err, apperrors.ErrNotFound):
				h.fail(c, "export", rec.SourceDocumentID, err)
				return
			}
			entries = append(entries, entry)
		}
	}

	filename := fmt.Sprintf("ledger-%s.xlsx", time.Now().UTC().Format("20060102-150405"))
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	c.Status(http.StatusOK)
	if err := h.deps.Export.Write(c.Writer, entries); err != nil {
		h.logger.Error("Failed to write ledger export", "error", err)
		_ = c.Error(err)
	}
}

// SetRate handles PUT /api/rates/:from/:to. Only approvers may change rates.
func (h *Handlers) SetRate(c *gin.Context) {
	actor := actorFrom(c)
	if !actor.Authenticated() || !h.isApprover(actor) {
		h.fail(c, "set_rate", "", fmt.Errorf("%w: only approvers may change rates", apperrors.ErrForbidden))
		return
	}

	from, err := currency.Normalize(c.Param("from"))
	if err != nil {
		h.fail(c, "set_rate", "", err)
		return
	}
	to, err := currency.Normalize(c.Param("to"))
	if err != nil {
		h.fail(c, "set_rate", "", err)
		return
	}

	var req SetRateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}
	if err := h.deps.Rates.Set(from, to, req.Rate); err != nil {
		h.fail(c, "set_rate", "", fmt.Errorf("%w: %v", apperrors.ErrValidation, err))
		return
	}

	h.logger.Info("Exchange rate updated", "from", from, "to", to, "rate", req.Rate.String(), "actor_id", actor.ID)
	c.JSON(http.StatusOK, Response{Success: true, Data: gin.H{"from": from, "to": to, "rate": req.Rate}})
}

func (h *Handlers) isApprover(actor entity.Actor) bool {
	if h.deps.Approvers == nil {
		return false
	}
	return h.deps.Approvers.IsApprover(actor)
}

func (h *Handlers) badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, Response{
		Success: false,
		Error:   fmt.Sprintf("invalid request body: %v", err),
	})
}

// fail writes err with the status its kind maps to
func (h *Handlers) fail(c *gin.Context, op, documentID string, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("Request failed", "op", op, "document_id", documentID, "status", status, "error", err)
	}
	c.JSON(status, Response{Success: false, Error: err.Error()})
}

// StatusFor maps an application error to an HTTP status
func StatusFor(err error) int {
	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperrors.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, apperrors.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, apperrors.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, apperrors.ErrRateUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		// ErrIntegrity and unclassified storage failures
		return http.StatusInternalServerError
	}
}

func actorFrom(c *gin.Context) entity.Actor {
	return entity.Actor{
		ID:   strings.TrimSpace(c.GetHeader(HeaderActorID)),
		Name: strings.TrimSpace(c.GetHeader(HeaderActorName)),
		Role: strings.TrimSpace(c.GetHeader(HeaderActorRole)),
	}
}

func parseLedgerKind(raw string) (entity.LedgerKind, bool) {
	kind, ok := entity.LedgerKindFor(entity.DocumentKind(strings.ToLower(raw)))
	return kind, ok
}

func toVoucherResponse(doc *entity.FinancialDocument) VoucherResponse {
	return VoucherResponse{FinancialDocument: doc, Lines: service.RenderLines(doc)}
}
