package order

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storefront/internal/blob"
	"storefront/internal/cart"
	"storefront/internal/mail"
	"storefront/internal/model"
)

type fakePartner struct {
	err   error
	calls int
}

func (p *fakePartner) SubmitOrder(_ context.Context, o *model.Order) (*Receipt, error) {
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	return &Receipt{PartnerOrderID: "P-" + o.ID[:8], TrackingNumber: "1Z999"}, nil
}

type fixture struct {
	svc     *Service
	carts   *cart.Store
	partner *fakePartner
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mem := blob.NewMemoryStore()
	carts := cart.NewStore(mem, logger)
	partner := &fakePartner{}
	return &fixture{
		svc:     NewService(mem, carts, partner, mail.NewLogMailer(logger), logger),
		carts:   carts,
		partner: partner,
	}
}

var shipping = model.ShippingAddress{
	Name:       "Ana Lima",
	Line1:      "12 Roast St",
	City:       "Portland",
	Region:     "OR",
	PostalCode: "97201",
	Country:    "us",
}

var customer = &model.Session{UserID: "u-1", Email: "ana@example.com", Role: model.RoleCustomer}

func (f *fixture) placeOrder(t *testing.T) *model.Order {
	t.Helper()
	ctx := context.Background()
	_, err := f.carts.AddItem(ctx, "u-1", "A1", "House Blend", 1400, 3, true)
	require.NoError(t, err)

	res, err := f.svc.CreateFromCart(ctx, customer, "u-1", CreateInput{Shipping: shipping})
	require.NoError(t, err)
	return res.Order
}

func TestCreateFromCart(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.carts.AddItem(ctx, "u-1", "A1", "House Blend", 1400, 3, true)
	require.NoError(t, err)

	res, err := f.svc.CreateFromCart(ctx, customer, "u-1", CreateInput{Shipping: shipping})
	require.NoError(t, err)
	assert.True(t, res.EmailSent)

	o := res.Order
	assert.Equal(t, model.OrderCreated, o.Status)
	assert.Equal(t, "u-1", o.Customer.UserID)
	assert.Equal(t, "ana@example.com", o.Customer.Email)
	assert.Equal(t, "Ana Lima", o.Customer.Name)
	assert.Equal(t, "US", o.Shipping.Country)
	require.Len(t, o.Items, 1)
	assert.Equal(t, int64(4200), o.Totals.Total)
	require.Len(t, o.History, 1)
	assert.Equal(t, model.OrderCreated, o.History[0].To)

	_, err = f.carts.Get(ctx, "u-1")
	assert.ErrorIs(t, err, model.ErrNotFound, "cart should be cleared")

	stored, err := f.svc.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, o.Items, stored.Items)
}

func TestCreateFromCart_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreateFromCart(ctx, customer, "u-1", CreateInput{Shipping: shipping})
	assert.ErrorIs(t, err, model.ErrInvalidRequest, "empty cart")

	_, err = f.carts.AddItem(ctx, "guest-1", "A1", "House Blend", 1400, 1, false)
	require.NoError(t, err)
	_, err = f.svc.CreateFromCart(ctx, nil, "guest-1", CreateInput{Shipping: shipping})
	assert.ErrorIs(t, err, model.ErrInvalidRequest, "guest without email")

	bad := shipping
	bad.PostalCode = ""
	_, err = f.svc.CreateFromCart(ctx, nil, "guest-1", CreateInput{Email: "g@example.com", Shipping: bad})
	assert.ErrorIs(t, err, model.ErrInvalidRequest, "missing postal code")

	bad = shipping
	bad.Country = "USA"
	_, err = f.svc.CreateFromCart(ctx, nil, "guest-1", CreateInput{Email: "g@example.com", Shipping: bad})
	assert.ErrorIs(t, err, model.ErrInvalidRequest, "country code")
}

func TestGetFor(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.placeOrder(t)

	_, err := f.carts.AddItem(ctx, "guest-9", "A1", "House Blend", 1400, 1, false)
	require.NoError(t, err)
	guestRes, err := f.svc.CreateFromCart(ctx, nil, "guest-9", CreateInput{Email: "g@example.com", Shipping: shipping})
	require.NoError(t, err)

	admin := &model.Session{UserID: "admin", Role: model.RoleAdmin}
	stranger := &model.Session{UserID: "u-2", Role: model.RoleCustomer}

	_, err = f.svc.GetFor(ctx, o.ID, customer, "")
	assert.NoError(t, err)
	_, err = f.svc.GetFor(ctx, o.ID, admin, "")
	assert.NoError(t, err)
	_, err = f.svc.GetFor(ctx, o.ID, stranger, "")
	assert.ErrorIs(t, err, model.ErrNotFound)
	_, err = f.svc.GetFor(ctx, o.ID, nil, "guest-9")
	assert.ErrorIs(t, err, model.ErrNotFound)

	_, err = f.svc.GetFor(ctx, guestRes.Order.ID, nil, "guest-9")
	assert.NoError(t, err)
	_, err = f.svc.GetFor(ctx, guestRes.Order.ID, nil, "guest-1")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestSubmit_Success(t *testing.T) {
	f := newFixture(t)
	o := f.placeOrder(t)

	got, err := f.svc.Submit(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderSubmitted, got.Status)
	assert.Equal(t, "P-"+o.ID[:8], got.Fulfillment.PartnerOrderID)
	assert.Equal(t, "1Z999", got.Fulfillment.TrackingNumber)
	assert.NotNil(t, got.Fulfillment.SubmittedAt)
	require.Len(t, got.History, 2)
	assert.Equal(t, model.StatusChange{From: model.OrderCreated, To: model.OrderSubmitted, At: got.History[1].At}, got.History[1])

	// A second submit is refused without calling the partner.
	_, err = f.svc.Submit(context.Background(), o.ID)
	assert.ErrorIs(t, err, model.ErrConflict)
	assert.Equal(t, 1, f.partner.calls)
}

func TestSubmit_FailureMovesToFailed(t *testing.T) {
	f := newFixture(t)
	o := f.placeOrder(t)
	f.partner.err = errors.New("connection refused")

	got, err := f.svc.Submit(context.Background(), o.ID)
	assert.ErrorIs(t, err, model.ErrUpstreamError)
	require.NotNil(t, got)
	assert.Equal(t, model.OrderFailed, got.Status)
	assert.Contains(t, got.Fulfillment.LastError, "connection refused")
	assert.Equal(t, 1, f.partner.calls, "no inline retry")

	stored, err := f.svc.Get(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderFailed, stored.Status)
}

func TestTransition(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.placeOrder(t)

	_, err := f.svc.Transition(ctx, o.ID, model.OrderSubmitted, "")
	assert.ErrorIs(t, err, model.ErrInvalidRequest, "submitted only via Submit")

	_, err = f.svc.Submit(ctx, o.ID)
	require.NoError(t, err)

	got, err := f.svc.Transition(ctx, o.ID, model.OrderShipped, "left the roastery")
	require.NoError(t, err)
	assert.Equal(t, model.OrderShipped, got.Status)
	assert.Equal(t, "left the roastery", got.History[len(got.History)-1].Reason)

	_, err = f.svc.Transition(ctx, o.ID, model.OrderCancelled, "")
	assert.ErrorIs(t, err, model.ErrConflict, "cannot cancel after shipping")

	_, err = f.svc.Transition(ctx, o.ID, model.OrderProcessing, "")
	assert.ErrorIs(t, err, model.ErrConflict, "no backward moves")

	got, err = f.svc.Transition(ctx, o.ID, model.OrderDelivered, "")
	require.NoError(t, err)
	assert.Len(t, got.History, 4)

	_, err = f.svc.Transition(ctx, o.ID, "lost", "")
	assert.ErrorIs(t, err, model.ErrInvalidRequest)

	_, err = f.svc.Transition(ctx, "missing", model.OrderCancelled, "")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestTransition_CreatedRequiresSubmit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.placeOrder(t)

	for _, to := range []model.OrderStatus{model.OrderProcessing, model.OrderShipped, model.OrderDelivered} {
		_, err := f.svc.Transition(ctx, o.ID, to, "")
		assert.ErrorIs(t, err, model.ErrConflict, "created -> %s", to)
	}

	stored, err := f.svc.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderCreated, stored.Status)
	assert.Empty(t, stored.Fulfillment.PartnerOrderID)
	assert.Len(t, stored.History, 1)
	assert.Equal(t, 0, f.partner.calls)

	got, err := f.svc.Transition(ctx, o.ID, model.OrderCancelled, "customer changed mind")
	require.NoError(t, err)
	assert.Equal(t, model.OrderCancelled, got.Status)
}

func TestList(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	base := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
	tick := 0
	f.svc.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Minute)
	}

	first := f.placeOrder(t)
	second := f.placeOrder(t)
	_, err := f.svc.Transition(ctx, first.ID, model.OrderCancelled, "customer request")
	require.NoError(t, err)

	all, err := f.svc.List(ctx, ListFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, second.ID, all[0].ID, "newest first")

	cancelled, err := f.svc.List(ctx, ListFilter{Status: model.OrderCancelled})
	require.NoError(t, err)
	require.Len(t, cancelled, 1)
	assert.Equal(t, first.ID, cancelled[0].ID)

	none, err := f.svc.List(ctx, ListFilter{UserID: "someone-else"})
	require.NoError(t, err)
	assert.Empty(t, none)
}
