package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	domain "github.com/feastline/checkout/internal/domain"
)

// CartHTTPClient reads and mutates the authoritative server-side cart.
type CartHTTPClient struct {
	base *baseClient
}

// NewCartHTTPClient constructs a cart client for the given configuration.
func NewCartHTTPClient(cfg Config) (*CartHTTPClient, error) {
	base, err := newBaseClient("cart", cfg)
	if err != nil {
		return nil, err
	}
	return &CartHTTPClient{base: base}, nil
}

// GetAuthoritativeCart fetches the persisted cart, never a local snapshot.
func (c *CartHTTPClient) GetAuthoritativeCart(ctx context.Context) (domain.Cart, error) {
	body, err := c.base.doJSON(ctx, http.MethodGet, "/cart", nil, nil)
	if err != nil {
		return domain.Cart{}, err
	}

	var cart domain.Cart
	if err := json.Unmarshal(body, &cart); err != nil {
		return domain.Cart{}, fmt.Errorf("cart: decode response: %w", err)
	}
	return cart, nil
}

// ChangeQuantity adjusts one line's quantity by the given delta.
func (c *CartHTTPClient) ChangeQuantity(ctx context.Context, itemID string, delta int) error {
	payload := map[string]any{"itemId": itemID, "delta": delta}
	_, err := c.base.doJSON(ctx, http.MethodPost, "/cart/quantity", payload, nil)
	return err
}

// RemoveItem removes one line from the cart.
func (c *CartHTTPClient) RemoveItem(ctx context.Context, itemID string) error {
	_, err := c.base.doJSON(ctx, http.MethodDelete, "/cart/items/"+url.PathEscape(itemID), nil, nil)
	return err
}

// Clear empties the cart.
func (c *CartHTTPClient) Clear(ctx context.Context) error {
	_, err := c.base.doJSON(ctx, http.MethodDelete, "/cart", nil, nil)
	return err
}
