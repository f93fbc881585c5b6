// Package cart keeps one shopping cart per owner in the blob store.
//
// Every write is a check-and-set on the stored document version. When a
// concurrent writer got there first the cart is reloaded and the mutation
// applied once more; a second conflict is reported to the caller as 409.
package cart

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"storefront/internal/blob"
	"storefront/internal/model"
)

const (
	// GuestTTL is how long a guest cart lives after its last write.
	GuestTTL = 7 * 24 * time.Hour

	// UserTTL is how long an authenticated cart lives after its last write.
	UserTTL = 30 * 24 * time.Hour

	// MaxQuantity caps a single line.
	MaxQuantity = 99
)

// Store manages carts.
type Store struct {
	blobs  blob.Store
	logger *slog.Logger
	now    func() time.Time
}

// NewStore creates a cart store over blobs.
func NewStore(blobs blob.Store, logger *slog.Logger) *Store {
	return &Store{blobs: blobs, logger: logger, now: time.Now}
}

func key(cartID string) string {
	return "cart/" + cartID
}

// Get returns the cart, or a NotFoundError.
func (s *Store) Get(ctx context.Context, cartID string) (*model.Cart, error) {
	c, _, err := s.load(ctx, cartID)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, model.NewNotFoundError("cart")
	}
	return c, nil
}

// GetOrEmpty returns the cart, or an unsaved empty cart for cartID.
func (s *Store) GetOrEmpty(ctx context.Context, cartID string) (*model.Cart, error) {
	c, _, err := s.load(ctx, cartID)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return s.empty(cartID, false), nil
	}
	return c, nil
}

// AddItem adds quantity units of productID, merging into an existing line.
// The cart is created on first add.
func (s *Store) AddItem(ctx context.Context, cartID, productID, name string, basePrice int64, quantity int, authenticated bool) (*model.Cart, error) {
	switch {
	case cartID == "":
		return nil, model.NewValidationError("cart", "missing cart id")
	case productID == "":
		return nil, model.NewValidationError("productId", "required")
	case quantity < 1:
		return nil, model.NewValidationError("quantity", "must be at least 1")
	case basePrice < 0:
		return nil, model.NewValidationError("basePrice", "must not be negative")
	}

	return s.mutate(ctx, cartID, true, func(c *model.Cart) error {
		if authenticated {
			c.Authenticated = true
		}
		if i := c.ItemIndex(productID); i >= 0 {
			if c.Items[i].Quantity+quantity > MaxQuantity {
				return model.NewValidationError("quantity", fmt.Sprintf("at most %d per item", MaxQuantity))
			}
			c.Items[i].Quantity += quantity
			return nil
		}
		if quantity > MaxQuantity {
			return model.NewValidationError("quantity", fmt.Sprintf("at most %d per item", MaxQuantity))
		}
		c.Items = append(c.Items, model.CartItem{
			ProductID: productID,
			Name:      name,
			Quantity:  quantity,
			BasePrice: basePrice,
		})
		return nil
	})
}

// RemoveItem deletes the line for productID. A missing cart or line is a
// NotFoundError and the cart is left untouched.
func (s *Store) RemoveItem(ctx context.Context, cartID, productID string) (*model.Cart, error) {
	if productID == "" {
		return nil, model.NewValidationError("productId", "required")
	}
	return s.mutate(ctx, cartID, false, func(c *model.Cart) error {
		i := c.ItemIndex(productID)
		if i < 0 {
			return model.NewNotFoundError("cart item")
		}
		c.Items = append(c.Items[:i], c.Items[i+1:]...)
		return nil
	})
}

// UpdateQuantity sets the quantity of an existing line. Zero removes it.
func (s *Store) UpdateQuantity(ctx context.Context, cartID, productID string, quantity int) (*model.Cart, error) {
	switch {
	case productID == "":
		return nil, model.NewValidationError("productId", "required")
	case quantity < 0:
		return nil, model.NewValidationError("quantity", "must not be negative")
	case quantity > MaxQuantity:
		return nil, model.NewValidationError("quantity", fmt.Sprintf("at most %d per item", MaxQuantity))
	}
	return s.mutate(ctx, cartID, false, func(c *model.Cart) error {
		i := c.ItemIndex(productID)
		if i < 0 {
			return model.NewNotFoundError("cart item")
		}
		if quantity == 0 {
			c.Items = append(c.Items[:i], c.Items[i+1:]...)
		} else {
			c.Items[i].Quantity = quantity
		}
		return nil
	})
}

// Clear deletes the cart. Clearing a missing cart is not an error.
func (s *Store) Clear(ctx context.Context, cartID string) error {
	if err := s.blobs.Delete(ctx, key(cartID)); err != nil {
		return model.NewInternalError(fmt.Errorf("clearing cart: %w", err))
	}
	return nil
}

// dropMerged deletes a guest cart after a merge. The merge has already
// succeeded, so a failure is only logged; the cart expires on its own.
func (s *Store) dropMerged(ctx context.Context, cartID string) {
	if err := s.Clear(ctx, cartID); err != nil {
		s.logger.WarnContext(ctx, "failed to delete merged guest cart",
			slog.String("cart_id", cartID),
			slog.String("error", err.Error()),
		)
	}
}

// Merge folds the lines of the cart fromID into the cart toID and deletes
// fromID. Quantities for shared products are summed and capped at
// MaxQuantity. A missing source cart is a no-op.
func (s *Store) Merge(ctx context.Context, fromID, toID string) (*model.Cart, error) {
	if fromID == "" || fromID == toID {
		return s.GetOrEmpty(ctx, toID)
	}
	from, _, err := s.load(ctx, fromID)
	if err != nil {
		return nil, err
	}
	if from == nil || len(from.Items) == 0 {
		if from != nil {
			s.dropMerged(ctx, fromID)
		}
		return s.GetOrEmpty(ctx, toID)
	}

	merged, err := s.mutate(ctx, toID, true, func(c *model.Cart) error {
		c.Authenticated = true
		for _, item := range from.Items {
			if i := c.ItemIndex(item.ProductID); i >= 0 {
				c.Items[i].Quantity = min(c.Items[i].Quantity+item.Quantity, MaxQuantity)
				continue
			}
			c.Items = append(c.Items, item)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.dropMerged(ctx, fromID)
	s.logger.InfoContext(ctx, "merged guest cart",
		slog.String("from", fromID),
		slog.String("to", toID),
		slog.Int("lines", len(from.Items)),
	)
	return merged, nil
}

// load returns the stored cart and its version, or nil when absent.
func (s *Store) load(ctx context.Context, cartID string) (*model.Cart, int64, error) {
	if cartID == "" {
		return nil, 0, model.NewValidationError("cart", "missing cart id")
	}
	c, version, err := blob.GetJSON[model.Cart](ctx, s.blobs, key(cartID))
	if errors.Is(err, blob.ErrNotFound) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, model.NewInternalError(fmt.Errorf("loading cart: %w", err))
	}
	c.Version = version
	return c, version, nil
}

func (s *Store) empty(cartID string, authenticated bool) *model.Cart {
	now := s.now()
	return &model.Cart{
		ID:            cartID,
		Owner:         cartID,
		Authenticated: authenticated,
		Items:         []model.CartItem{},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// mutate applies fn to a freshly loaded cart and writes it back with a
// version check. On a version conflict it reloads and applies fn once more.
// Errors returned by fn abort without writing.
func (s *Store) mutate(ctx context.Context, cartID string, create bool, fn func(*model.Cart) error) (*model.Cart, error) {
	for attempt := 0; attempt < 2; attempt++ {
		c, version, err := s.load(ctx, cartID)
		if err != nil {
			return nil, err
		}
		if c == nil {
			if !create {
				return nil, model.NewNotFoundError("cart")
			}
			c = s.empty(cartID, false)
		}

		if err := fn(c); err != nil {
			return nil, err
		}

		now := s.now()
		ttl := GuestTTL
		if c.Authenticated {
			ttl = UserTTL
		}
		c.UpdatedAt = now
		c.ExpiresAt = now.Add(ttl)
		c.Recompute()

		newVersion, err := blob.PutJSON(ctx, s.blobs, key(cartID), c, version, ttl)
		if errors.Is(err, blob.ErrVersionMismatch) {
			s.logger.DebugContext(ctx, "cart version conflict",
				slog.String("cart_id", cartID),
				slog.Int("attempt", attempt+1),
			)
			continue
		}
		if err != nil {
			return nil, model.NewInternalError(fmt.Errorf("saving cart: %w", err))
		}
		c.Version = newVersion
		return c, nil
	}
	return nil, model.NewConflictError("cart", "modified concurrently, please retry")
}
