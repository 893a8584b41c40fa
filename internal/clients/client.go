package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

const maxResponseBytes = 1 << 20

// Config carries the shared settings of an HTTP collaborator client. Token,
// when set, supplies the bearer credential attached to every request.
type Config struct {
	BaseURL    string
	Timeout    time.Duration
	Logger     *zap.Logger
	HTTPClient *http.Client
	Token      func(ctx context.Context) string
}

// StatusError reports a non-2xx response from a collaborator service.
type StatusError struct {
	Service string
	Code    int
	Body    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: unexpected status %d", e.Service, e.Code)
}

// IsStatus reports whether err is a StatusError with the given code.
func IsStatus(err error, code int) bool {
	var statusErr *StatusError
	return errors.As(err, &statusErr) && statusErr.Code == code
}

// baseClient is the shared transport of the collaborator clients. Requests
// flow through an instrumented round tripper and a per-service circuit
// breaker; a tripped breaker fails fast without touching the network.
type baseClient struct {
	service string
	baseURL string
	http    *http.Client
	logger  *zap.Logger
	token   func(ctx context.Context) string
	breaker *gobreaker.CircuitBreaker[[]byte]
}

func newBaseClient(service string, cfg Config) (*baseClient, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("%s client: base url is required", service)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}

	breaker := gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        service,
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			// 4xx responses are business outcomes, not service health.
			var statusErr *StatusError
			return errors.As(err, &statusErr) && statusErr.Code < 500
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("collaborator breaker state change",
				zap.String("service", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})

	return &baseClient{
		service: service,
		baseURL: baseURL,
		http:    httpClient,
		logger:  logger,
		token:   cfg.Token,
		breaker: breaker,
	}, nil
}

// doJSON performs one JSON request and returns the raw response body.
func (c *baseClient) doJSON(ctx context.Context, method, path string, payload any, headers map[string]string) ([]byte, error) {
	var encoded []byte
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("%s: encode request: %w", c.service, err)
		}
		encoded = raw
	}

	return c.breaker.Execute(func() ([]byte, error) {
		var body io.Reader
		if encoded != nil {
			body = bytes.NewReader(encoded)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
		if err != nil {
			return nil, fmt.Errorf("%s: build request: %w", c.service, err)
		}
		req.Header.Set("Accept", "application/json")
		if encoded != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if c.token != nil {
			if credential := c.token(ctx); credential != "" {
				req.Header.Set("Authorization", "Bearer "+credential)
			}
		}
		for key, value := range headers {
			req.Header.Set(key, value)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", c.service, err)
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		if err != nil {
			return nil, fmt.Errorf("%s: read response: %w", c.service, err)
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return nil, &StatusError{Service: c.service, Code: resp.StatusCode, Body: string(data)}
		}
		return data, nil
	})
}
