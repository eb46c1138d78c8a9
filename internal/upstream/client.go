// Package upstream talks to the reference resolution service.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"goflare.io/refgate/internal/config"
	"goflare.io/refgate/internal/models"
)

const maxBodyBytes = 1 << 20

// envelope is the outer shape of every upstream response.
type envelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Msg     string          `json:"msg"`
	Data    json.RawMessage `json:"data"`
}

func (e envelope) failureMessage() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Msg != "" {
		return e.Msg
	}
	return "unknown failure"
}

// Client performs one lookup per call. It never retries; a failing service
// trips the circuit breaker instead.
type Client struct {
	httpClient *http.Client
	base       *url.URL
	cfg        config.UpstreamConfig
	breaker    *gobreaker.CircuitBreaker
	tracer     trace.Tracer
	logger     *zap.Logger
}

// NewClient validates cfg and builds a Client. A nil httpClient gets one
// whose timeout equals cfg.RequestTimeout.
func NewClient(cfg config.UpstreamConfig, settings gobreaker.Settings, httpClient *http.Client, logger *zap.Logger) (*Client, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse upstream url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("upstream url must be http(s), got %q", cfg.BaseURL)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.RequestTimeout}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	// The service answering "no such reference" is healthy.
	settings.IsSuccessful = func(err error) bool {
		var failure *models.UpstreamFailure
		return err == nil || errors.As(err, &failure) || errors.Is(err, context.Canceled)
	}

	return &Client{
		httpClient: httpClient,
		base:       base,
		cfg:        cfg,
		breaker:    gobreaker.NewCircuitBreaker(settings),
		tracer:     otel.Tracer("refgate/upstream"),
		logger:     logger,
	}, nil
}

// Lookup resolves a normalized reference. Errors match one of
// models.ErrNotFound, models.ErrUpstreamTimeout, models.ErrUpstreamError or
// models.ErrUpstreamUnavailable, or wrap *models.UpstreamFailure.
func (c *Client) Lookup(ctx context.Context, ref string) (*models.Listing, error) {
	ctx, span := c.tracer.Start(ctx, "Upstream.Lookup", trace.WithAttributes(attribute.String("reference", ref)))
	defer span.End()

	result, err := c.breaker.Execute(func() (any, error) {
		return c.lookup(ctx, ref)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		err = fmt.Errorf("%w: %w", models.ErrUpstreamUnavailable, err)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return result.(*models.Listing), nil
}

// BreakerState exposes the circuit breaker state for health reporting.
func (c *Client) BreakerState() gobreaker.State {
	return c.breaker.State()
}

func (c *Client) lookup(ctx context.Context, ref string) (*models.Listing, error) {
	u := *c.base
	q := u.Query()
	q.Set(c.cfg.ReferenceParam, ref)
	if c.cfg.CallerParamName != "" {
		q.Set(c.cfg.CallerParamName, c.cfg.CallerParamValue)
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrUpstreamError, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, classifyTransportError(err)
	}

	// A fail envelope is only a domain answer on a 2xx response.
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: status %d", models.ErrUpstreamError, resp.StatusCode)
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: malformed body: %w", models.ErrUpstreamError, err)
	}
	if env.Status == "fail" {
		failure := &models.UpstreamFailure{Message: env.failureMessage()}
		c.logger.Debug("Upstream reported failure",
			zap.String("reference", ref), zap.String("message", failure.Message))
		return nil, failure
	}

	payload := json.RawMessage(body)
	if trimmed := bytes.TrimSpace(env.Data); len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null")) {
		payload = trimmed
	}

	listing := &models.Listing{}
	if err := json.Unmarshal(payload, listing); err != nil {
		return nil, fmt.Errorf("%w: malformed payload: %w", models.ErrUpstreamError, err)
	}
	listing.Raw = payload
	return listing, nil
}

func classifyTransportError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", models.ErrUpstreamTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %w", models.ErrUpstreamTimeout, err)
	}
	return fmt.Errorf("%w: %w", models.ErrUpstreamError, err)
}
