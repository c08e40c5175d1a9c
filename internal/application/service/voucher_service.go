package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/garyjia/evoucher/internal/application/dispatcher"
	"github.com/garyjia/evoucher/internal/application/port"
	"github.com/garyjia/evoucher/internal/application/workflow"
	"github.com/garyjia/evoucher/internal/apperrors"
	"github.com/garyjia/evoucher/internal/currency"
	"github.com/garyjia/evoucher/internal/domain/entity"
	"github.com/garyjia/evoucher/internal/domain/event"
	"github.com/garyjia/evoucher/pkg/utils"
)

// LineItemInput is a line as entered by the requester, in its own currency
type LineItemInput struct {
	Description string          `json:"description"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	TaxType     string          `json:"tax_type"`
	// Currency defaults to the document currency
	Currency string `json:"currency,omitempty"`
}

// VoucherService edits DRAFT documents
type VoucherService interface {
	// AttachLineItem freezes the line's currency snapshot and appends it.
	// The document amount becomes the sum of its line amounts.
	AttachLineItem(ctx context.Context, documentID string, input LineItemInput, actor entity.Actor) (*entity.LineItem, error)
}

type voucherServiceImpl struct {
	docs       port.VoucherRepository
	resolver   *currency.Resolver
	locker     port.Locker
	policy     *workflow.Policy
	dispatcher dispatcher.Dispatcher
	logger     Logger
	clock      func() time.Time
}

// VoucherServiceOption configures the voucher service
type VoucherServiceOption func(*voucherServiceImpl)

// WithServiceDispatcher emits line_item_attached events through d
func WithServiceDispatcher(d dispatcher.Dispatcher) VoucherServiceOption {
	return func(s *voucherServiceImpl) { s.dispatcher = d }
}

// WithServicePolicy sets the policy deciding who may edit a draft
func WithServicePolicy(p *workflow.Policy) VoucherServiceOption {
	return func(s *voucherServiceImpl) {
		if p != nil {
			s.policy = p
		}
	}
}

// WithServiceLogger sets the service logger
func WithServiceLogger(l Logger) VoucherServiceOption {
	return func(s *voucherServiceImpl) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithServiceClock overrides time.Now
func WithServiceClock(clock func() time.Time) VoucherServiceOption {
	return func(s *voucherServiceImpl) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// NewVoucherService creates a new VoucherService. locker must be the one
// handed to the workflow engine so edits and transitions serialize.
func NewVoucherService(
	docs port.VoucherRepository,
	resolver *currency.Resolver,
	locker port.Locker,
	opts ...VoucherServiceOption,
) VoucherService {
	s := &voucherServiceImpl{
		docs:     docs,
		resolver: resolver,
		locker:   locker,
		policy:   workflow.NewPolicy(),
		logger:   nopLogger{},
		clock:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AttachLineItem appends a line to a DRAFT document
func (s *voucherServiceImpl) AttachLineItem(ctx context.Context, documentID string, input LineItemInput, actor entity.Actor) (*entity.LineItem, error) {
	unlock, err := s.locker.Lock(ctx, workflow.DocumentLockKey(documentID))
	if err != nil {
		return nil, fmt.Errorf("failed to lock document %s: %w", documentID, err)
	}
	defer unlock()

	doc, err := s.docs.GetByID(ctx, documentID)
	if err != nil {
		return nil, err
	}

	if !actor.Authenticated() || (actor.ID != doc.RequestedBy.ID && !s.policy.IsApprover(actor)) {
		return nil, fmt.Errorf("%w: %q may not edit document %s", apperrors.ErrForbidden, actor.ID, doc.ID)
	}
	if doc.Status != entity.StatusDraft {
		return nil, apperrors.NewTransitionError(doc.ID, doc.Status, "ATTACH_LINE_ITEM")
	}

	original, lineCurrency, err := s.validate(input, doc.Currency)
	if err != nil {
		return nil, err
	}

	snap, err := s.resolver.Resolve(ctx, original, lineCurrency, doc.Currency)
	if err != nil {
		s.logger.Error("Failed to resolve line item currency",
			"document_id", doc.ID, "from", lineCurrency, "to", doc.Currency, "error", err)
		return nil, err
	}

	item := entity.LineItem{
		Description:      utils.SanitizeString(input.Description),
		Quantity:         input.Quantity,
		UnitPrice:        input.UnitPrice,
		TaxType:          strings.ToUpper(strings.TrimSpace(input.TaxType)),
		Amount:           snap.Amount,
		OriginalCurrency: snap.OriginalCurrency,
		OriginalAmount:   snap.OriginalAmount,
		ExchangeRate:     snap.ExchangeRate,
	}

	updated := doc.Clone()
	updated.LineItems = append(updated.LineItems, item)
	updated.Amount = updated.LineTotal()
	updated.UpdatedAt = s.clock()
	updated.Version++

	if err := s.docs.Save(ctx, updated); err != nil {
		return nil, fmt.Errorf("failed to save document %s: %w", doc.ID, err)
	}

	s.logger.Info("Line item attached",
		"document_id", doc.ID,
		"line", len(updated.LineItems),
		"amount", item.Amount.StringFixed(2),
		"original_currency", item.OriginalCurrency,
		"document_amount", updated.Amount.StringFixed(2))

	if s.dispatcher != nil {
		s.dispatcher.DispatchAsync(ctx, event.NewEvent(event.TypeLineItemAttached, doc.ID, map[string]interface{}{
			"line":            len(updated.LineItems),
			"amount":          item.Amount.StringFixed(2),
			"document_amount": updated.Amount.StringFixed(2),
			"actor_id":        actor.ID,
		}))
	}
	return &item, nil
}

// validate returns the unrounded line amount in its own currency
func (s *voucherServiceImpl) validate(input LineItemInput, docCurrency string) (decimal.Decimal, string, error) {
	if utils.SanitizeString(input.Description) == "" {
		return decimal.Zero, "", fmt.Errorf("%w: line description is required", apperrors.ErrValidation)
	}
	if !input.Quantity.IsPositive() {
		return decimal.Zero, "", fmt.Errorf("%w: quantity must be positive", apperrors.ErrValidation)
	}
	if input.UnitPrice.IsNegative() {
		return decimal.Zero, "", fmt.Errorf("%w: unit price must not be negative", apperrors.ErrValidation)
	}
	taxType := strings.ToUpper(strings.TrimSpace(input.TaxType))
	if !entity.IsValidTaxType(taxType) {
		return decimal.Zero, "", fmt.Errorf("%w: unknown tax type %q", apperrors.ErrValidation, input.TaxType)
	}

	lineCurrency := docCurrency
	if strings.TrimSpace(input.Currency) != "" {
		cur, err := currency.Normalize(input.Currency)
		if err != nil {
			return decimal.Zero, "", err
		}
		lineCurrency = cur
	}
	return input.Quantity.Mul(input.UnitPrice), lineCurrency, nil
}
