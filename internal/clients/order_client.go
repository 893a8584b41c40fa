package clients

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	domain "github.com/feastline/checkout/internal/domain"
)

// ErrOrderIDMissing reports an order-creation response that carried no
// recognizable order identity.
var ErrOrderIDMissing = errors.New("orders: response missing order id")

// OrderHTTPClient submits assembled orders to the order service.
type OrderHTTPClient struct {
	base *baseClient
}

// NewOrderHTTPClient constructs an order client for the given configuration.
func NewOrderHTTPClient(cfg Config) (*OrderHTTPClient, error) {
	base, err := newBaseClient("orders", cfg)
	if err != nil {
		return nil, err
	}
	return &OrderHTTPClient{base: base}, nil
}

// CreateOrder posts the order payload and returns the created order identity.
func (c *OrderHTTPClient) CreateOrder(ctx context.Context, payload domain.OrderPayload) (string, error) {
	body, err := c.base.doJSON(ctx, http.MethodPost, "/orders", payload, nil)
	if err != nil {
		return "", err
	}
	return extractOrderID(body)
}

// extractOrderID pulls the order identity out of the response. The order
// service has shipped two shapes over time: "order" as a bare string and
// "order" as an object with an "_id" field. Either is accepted; anything
// else fails.
func extractOrderID(body []byte) (string, error) {
	var envelope struct {
		Order json.RawMessage `json:"order"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return "", fmt.Errorf("orders: decode response: %w", err)
	}
	if len(envelope.Order) == 0 {
		return "", ErrOrderIDMissing
	}

	var id string
	if err := json.Unmarshal(envelope.Order, &id); err == nil {
		if strings.TrimSpace(id) == "" {
			return "", ErrOrderIDMissing
		}
		return id, nil
	}

	var object struct {
		ID string `json:"_id"`
	}
	if err := json.Unmarshal(envelope.Order, &object); err != nil {
		return "", fmt.Errorf("orders: decode order object: %w", err)
	}
	if strings.TrimSpace(object.ID) == "" {
		return "", ErrOrderIDMissing
	}
	return object.ID, nil
}
