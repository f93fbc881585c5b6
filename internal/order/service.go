package order

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"storefront/internal/blob"
	"storefront/internal/cart"
	"storefront/internal/mail"
	"storefront/internal/model"
)

// Service creates orders from carts and drives their status.
type Service struct {
	blobs   blob.Store
	carts   *cart.Store
	partner Partner
	mailer  mail.Mailer
	logger  *slog.Logger
	now     func() time.Time
}

// NewService creates an order service.
func NewService(blobs blob.Store, carts *cart.Store, partner Partner, mailer mail.Mailer, logger *slog.Logger) *Service {
	return &Service{
		blobs:   blobs,
		carts:   carts,
		partner: partner,
		mailer:  mailer,
		logger:  logger,
		now:     time.Now,
	}
}

func key(id string) string {
	return "order/" + id
}

// CreateInput is the checkout form.
type CreateInput struct {
	Email    string                `json:"email"`
	Name     string                `json:"name"`
	Shipping model.ShippingAddress `json:"shipping"`
}

// CreateResult is a new order and whether its confirmation email went out.
type CreateResult struct {
	Order     *model.Order `json:"order"`
	EmailSent bool         `json:"emailSent"`
}

// Validate checks required shipping fields.
func (in *CreateInput) Validate() error {
	s := &in.Shipping
	for _, f := range []struct{ name, value string }{
		{"shipping.name", s.Name},
		{"shipping.line1", s.Line1},
		{"shipping.city", s.City},
		{"shipping.postal_code", s.PostalCode},
		{"shipping.country", s.Country},
	} {
		if strings.TrimSpace(f.value) == "" {
			return model.NewValidationError(f.name, "required")
		}
	}
	if len(strings.TrimSpace(s.Country)) != 2 {
		return model.NewValidationError("shipping.country", "must be a two-letter country code")
	}
	return nil
}

// CreateFromCart snapshots the cart into a new order in the created state
// and clears the cart. session is nil for guest checkouts, which must
// supply an email.
func (s *Service) CreateFromCart(ctx context.Context, session *model.Session, cartID string, in CreateInput) (*CreateResult, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	customer := model.Customer{Email: strings.ToLower(strings.TrimSpace(in.Email)), Name: strings.TrimSpace(in.Name)}
	if session != nil {
		customer.UserID = session.UserID
		if customer.Email == "" {
			customer.Email = session.Email
		}
	}
	if customer.Email == "" {
		return nil, model.NewValidationError("email", "required")
	}
	if customer.Name == "" {
		customer.Name = in.Shipping.Name
	}

	c, err := s.carts.Get(ctx, cartID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return nil, model.NewValidationError("cart", "cart is empty")
		}
		return nil, err
	}
	if len(c.Items) == 0 {
		return nil, model.NewValidationError("cart", "cart is empty")
	}

	now := s.now()
	o := &model.Order{
		ID:       uuid.NewString(),
		Status:   model.OrderCreated,
		Customer: customer,
		Shipping: in.Shipping,
		Items:    slices.Clone(c.Items),
		Totals:   c.Totals,
		History: []model.StatusChange{{
			To: model.OrderCreated,
			At: now,
		}},
		CartID:    cartID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	o.Shipping.Country = strings.ToUpper(strings.TrimSpace(o.Shipping.Country))

	if _, err := blob.PutJSON(ctx, s.blobs, key(o.ID), o, 0, 0); err != nil {
		return nil, model.NewInternalError(fmt.Errorf("saving order: %w", err))
	}
	if err := s.carts.Clear(ctx, cartID); err != nil {
		s.logger.WarnContext(ctx, "order created but cart not cleared",
			slog.String("order_id", o.ID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "order created",
		slog.String("order_id", o.ID),
		slog.Int("lines", len(o.Items)),
		slog.Int64("total", o.Totals.Total),
	)

	sent := mail.SendBestEffort(ctx, s.mailer, s.logger, mail.Message{
		To:      o.Customer.Email,
		Subject: "We received your order",
		Text: fmt.Sprintf("Thanks for your order.\n\nOrder: %s\nItems: %d\nTotal: %s\n",
			o.ID, len(o.Items), model.FormatCents(o.Totals.Total)),
		Tag: "order_created",
	})
	return &CreateResult{Order: o, EmailSent: sent}, nil
}

// Get returns the order by id.
func (s *Service) Get(ctx context.Context, id string) (*model.Order, error) {
	o, _, err := s.load(ctx, id)
	return o, err
}

// GetFor returns the order if the caller may see it: admins see every
// order, customers their own, guests the orders placed from their cart.
// Others get NotFound, so order ids cannot be probed.
func (s *Service) GetFor(ctx context.Context, id string, session *model.Session, guestID string) (*model.Order, error) {
	o, _, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	switch {
	case session.IsAdmin():
	case session != nil && o.Customer.UserID == session.UserID:
	case session == nil && guestID != "" && o.Customer.UserID == "" && o.CartID == guestID:
	default:
		return nil, model.NewNotFoundError("order")
	}
	return o, nil
}

// ListFilter narrows List. Zero values match everything.
type ListFilter struct {
	Status model.OrderStatus
	UserID string
}

// List returns matching orders, newest first.
func (s *Service) List(ctx context.Context, f ListFilter) ([]*model.Order, error) {
	keys, err := s.blobs.List(ctx, "order/")
	if err != nil {
		return nil, model.NewInternalError(fmt.Errorf("listing orders: %w", err))
	}

	orders := make([]*model.Order, 0, len(keys))
	for _, k := range keys {
		o, _, err := blob.GetJSON[model.Order](ctx, s.blobs, k)
		if errors.Is(err, blob.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, model.NewInternalError(fmt.Errorf("loading %s: %w", k, err))
		}
		if f.Status != "" && o.Status != f.Status {
			continue
		}
		if f.UserID != "" && o.Customer.UserID != f.UserID {
			continue
		}
		orders = append(orders, o)
	}
	slices.SortFunc(orders, func(a, b *model.Order) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return orders, nil
}

// Submit hands a created order to the fulfillment partner. Success moves it
// to submitted with the partner reference; failure moves it to failed and
// returns the partner error alongside the updated order. There is no
// inline retry.
func (s *Service) Submit(ctx context.Context, id string) (*model.Order, error) {
	o, _, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if o.Status != model.OrderCreated {
		return nil, model.NewConflictError("order", fmt.Sprintf("cannot submit an order that is %s", o.Status))
	}

	receipt, submitErr := s.partner.SubmitOrder(ctx, o)

	updated, err := s.update(ctx, id, func(o *model.Order) error {
		if o.Status != model.OrderCreated {
			return model.NewConflictError("order", fmt.Sprintf("order became %s during submission", o.Status))
		}
		now := s.now()
		if submitErr != nil {
			o.Fulfillment.LastError = submitErr.Error()
			s.apply(o, model.OrderFailed, "fulfillment hand-off failed", now)
			return nil
		}
		o.Fulfillment.PartnerOrderID = receipt.PartnerOrderID
		o.Fulfillment.TrackingNumber = receipt.TrackingNumber
		o.Fulfillment.SubmittedAt = &now
		o.Fulfillment.LastError = ""
		s.apply(o, model.OrderSubmitted, "", now)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if submitErr != nil {
		s.logger.ErrorContext(ctx, "order submission failed",
			slog.String("order_id", id),
			slog.String("error", submitErr.Error()),
		)
		var apiErr *model.APIError
		if errors.As(submitErr, &apiErr) {
			return updated, submitErr
		}
		return updated, model.NewUpstreamError("fulfillment partner", submitErr)
	}

	s.logger.InfoContext(ctx, "order submitted",
		slog.String("order_id", id),
		slog.String("partner_order_id", receipt.PartnerOrderID),
	)
	return updated, nil
}

// Transition moves an order to status to. Entering submitted is only
// possible through Submit.
func (s *Service) Transition(ctx context.Context, id string, to model.OrderStatus, reason string) (*model.Order, error) {
	if !ValidStatus(to) {
		return nil, model.NewValidationError("status", fmt.Sprintf("unknown status %q", to))
	}
	if to == model.OrderSubmitted {
		return nil, model.NewValidationError("status", "use submit to hand the order to the fulfillment partner")
	}

	o, err := s.update(ctx, id, func(o *model.Order) error {
		if !CanTransition(o.Status, to) {
			return model.NewConflictError("order", fmt.Sprintf("cannot move from %s to %s", o.Status, to))
		}
		s.apply(o, to, reason, s.now())
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "order status changed",
		slog.String("order_id", id),
		slog.String("status", string(to)),
	)
	return o, nil
}

func (s *Service) apply(o *model.Order, to model.OrderStatus, reason string, at time.Time) {
	o.History = append(o.History, model.StatusChange{
		From:   o.Status,
		To:     to,
		At:     at,
		Reason: reason,
	})
	o.Status = to
	o.UpdatedAt = at
}

func (s *Service) load(ctx context.Context, id string) (*model.Order, int64, error) {
	if id == "" {
		return nil, 0, model.NewNotFoundError("order")
	}
	o, version, err := blob.GetJSON[model.Order](ctx, s.blobs, key(id))
	if errors.Is(err, blob.ErrNotFound) {
		return nil, 0, model.NewNotFoundError("order")
	}
	if err != nil {
		return nil, 0, model.NewInternalError(fmt.Errorf("loading order: %w", err))
	}
	return o, version, nil
}

// update applies fn and writes back with a version check, reloading once
// on conflict.
func (s *Service) update(ctx context.Context, id string, fn func(*model.Order) error) (*model.Order, error) {
	for attempt := 0; attempt < 2; attempt++ {
		o, version, err := s.load(ctx, id)
		if err != nil {
			return nil, err
		}
		if err := fn(o); err != nil {
			return nil, err
		}
		_, err = blob.PutJSON(ctx, s.blobs, key(id), o, version, 0)
		if errors.Is(err, blob.ErrVersionMismatch) {
			continue
		}
		if err != nil {
			return nil, model.NewInternalError(fmt.Errorf("saving order: %w", err))
		}
		return o, nil
	}
	return nil, model.NewConflictError("order", "modified concurrently, please retry")
}
