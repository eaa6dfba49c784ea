package knowledge

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

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
)

// Deliverer is the abstraction over the downstream knowledge sink. Deliver
// returns nil on success, a *DeliveryError carrying a transient/permanent
// classification on failure, or the context's error if the call was
// cancelled before reaching a verdict.
type Deliverer interface {
	Deliver(ctx context.Context, obj *Object) error
}

// DeliveryError is a classified failure from the delivery client. Transient
// failures (timeouts, 5xx, 429, connection resets) are retried; permanent
// failures (validation 4xx) are dead-lettered immediately.
type DeliveryError struct {
	StatusCode int
	Transient  bool
	Message    string
}

func (e *DeliveryError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	if e.StatusCode > 0 {
		return fmt.Sprintf("delivery failed (%s, status %d): %s", kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("delivery failed (%s): %s", kind, e.Message)
}

// IsTransient reports whether an error from Deliver should be retried.
// Unclassified errors are treated as transient so that unexpected transport
// conditions never silently discard a record.
func IsTransient(err error) bool {
	var dErr *DeliveryError
	if errors.As(err, &dErr) {
		return dErr.Transient
	}
	return true
}

// apiError is the structured error body the knowledge API may return. The
// retryable hint, when present, overrides status-code classification.
type apiError struct {
	Error     string `json:"error"`
	Retryable *bool  `json:"retryable"`
}

// ClientConfig holds configuration for the HTTP knowledge API client.
type ClientConfig struct {
	// BaseURL of the knowledge API, e.g. "https://knowledge.internal".
	BaseURL string
	// APIKey is sent as a bearer token when set. Secret sourcing is the
	// caller's concern.
	APIKey string
	// RequestTimeout bounds each submission.
	RequestTimeout time.Duration
	// DisableBreaker turns off the circuit breaker in front of the sink.
	DisableBreaker bool
	// BreakerFailureThreshold is the number of consecutive transient
	// failures that opens the breaker.
	BreakerFailureThreshold uint32
	// BreakerCooldown is how long the breaker stays open before probing.
	BreakerCooldown time.Duration
}

func (cfg *ClientConfig) withDefaults() {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	if cfg.BreakerFailureThreshold == 0 {
		cfg.BreakerFailureThreshold = 5
	}
	if cfg.BreakerCooldown <= 0 {
		cfg.BreakerCooldown = 15 * time.Second
	}
}

// Client submits knowledge objects to the downstream HTTP API, one object
// per request, classifying each failure as transient or permanent. A circuit
// breaker sheds load while the sink is unhealthy; a rejected call while the
// breaker is open is reported as transient so the retry controller backs off
// rather than dead-lettering.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
	logger     zerolog.Logger
}

// NewClient creates a knowledge API client.
func NewClient(cfg *ClientConfig, logger zerolog.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("knowledge client base URL cannot be empty")
	}
	cfg.withDefaults()

	c := &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
		logger:     logger.With().Str("component", "KnowledgeClient").Logger(),
	}

	if !cfg.DisableBreaker {
		threshold := cfg.BreakerFailureThreshold
		c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "knowledge-api",
			Timeout: cfg.BreakerCooldown,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= threshold
			},
			OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
				c.logger.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("Circuit breaker state changed.")
			},
		})
	}

	logger.Info().Str("base_url", c.baseURL).Msg("Knowledge API client initialized.")
	return c, nil
}

// Deliver submits one object to the knowledge API.
func (c *Client) Deliver(ctx context.Context, obj *Object) error {
	body, err := json.Marshal(obj)
	if err != nil {
		return &DeliveryError{Transient: false, Message: fmt.Sprintf("marshal object %s: %v", obj.ID, err)}
	}
	return c.post(ctx, "/v1/objects", body)
}

// DeliverBatch submits several objects in one request where the sink supports
// batching. The whole batch shares one classification; callers needing
// per-item outcomes should use Deliver.
func (c *Client) DeliverBatch(ctx context.Context, objs []*Object) error {
	if len(objs) == 0 {
		return nil
	}
	body, err := json.Marshal(objs)
	if err != nil {
		return &DeliveryError{Transient: false, Message: fmt.Sprintf("marshal batch: %v", err)}
	}
	return c.post(ctx, "/v1/objects:batch", body)
}

func (c *Client) post(ctx context.Context, path string, body []byte) error {
	if c.breaker == nil {
		return c.do(ctx, path, body)
	}

	// The breaker only counts transient failures: a permanent 4xx is this
	// record's fault, not a sign of sink ill health, so it rides through as
	// a successful call from the breaker's point of view.
	result, err := c.breaker.Execute(func() (interface{}, error) {
		dErr := c.do(ctx, path, body)
		if dErr != nil && IsTransient(dErr) {
			return nil, dErr
		}
		return dErr, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return &DeliveryError{Transient: true, Message: "circuit breaker open: " + err.Error()}
		}
		return err
	}
	if result != nil {
		if dErr, ok := result.(error); ok && dErr != nil {
			return dErr
		}
	}
	return nil
}

// do performs one HTTP submission and classifies the outcome. It returns nil
// on success, the context's error on cancellation, and a *DeliveryError
// otherwise.
func (c *Client) do(ctx context.Context, path string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return &DeliveryError{Transient: false, Message: "build request: " + err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// A cancelled parent context is not a delivery verdict.
		if ctx.Err() != nil {
			return ctx.Err()
		}
		// Timeouts, connection resets and other transport failures are
		// transient: the sink may recover.
		return &DeliveryError{Transient: true, Message: "transport: " + err.Error()}
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	dErr := &DeliveryError{
		StatusCode: resp.StatusCode,
		Transient:  classifyStatus(resp.StatusCode),
		Message:    strings.TrimSpace(string(snippet)),
	}

	// Honor the sink's own classification hint when it provides one.
	var hint apiError
	if json.Unmarshal(snippet, &hint) == nil && hint.Retryable != nil {
		dErr.Transient = *hint.Retryable
		if hint.Error != "" {
			dErr.Message = hint.Error
		}
	}
	return dErr
}

// classifyStatus maps an HTTP status to a retryability verdict. 429 is
// treated as transient: the sink is signalling backpressure, not rejecting
// the object.
func classifyStatus(status int) bool {
	switch {
	case status == http.StatusTooManyRequests:
		return true
	case status == http.StatusRequestTimeout:
		return true
	case status >= 500:
		return true
	default:
		return false
	}
}
