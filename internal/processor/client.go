// Package processor implements C3, the HTTP client that posts a payment to
// one upstream processor and classifies the result into a typed Outcome
// (spec §4.3). It never retries or fails over on its own; that is the
// selector's job.
package processor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"paygate/internal/model"
)

// Outcome classifies the result of a single POST attempt.
type Outcome int

const (
	// Success means the processor accepted the payment (2xx).
	Success Outcome = iota
	// Rejected means the processor refused the payment as invalid (422, or
	// any other 4xx except 429 and 408); retrying would never help.
	Rejected
	// ServerError means the processor answered with 5xx, 429, 408 or another
	// non-2xx status outside the 4xx range; the selector should fail over.
	ServerError
	// Transport means the request could not even complete (dial/reset/DNS);
	// the selector should fail over.
	Transport
	// Timeout means the request's context deadline elapsed; the selector
	// should hold on the same processor rather than assume it is down.
	Timeout
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case Rejected:
		return "rejected"
	case ServerError:
		return "server_error"
	case Transport:
		return "transport"
	case Timeout:
		return "timeout"
	default:
		return "unknown"
	}
}

var tracer = otel.Tracer("paygate/processor")

var bufPool = sync.Pool{
	New: func() any {
		return bytes.NewBuffer(make([]byte, 0, 512))
	},
}

// Client posts ProcessorRequests to a single upstream processor endpoint.
type Client struct {
	name       model.ProcessorType
	baseURL    string
	paymentURL string
	httpClient *http.Client
	logger     *slog.Logger
}

// New builds a Client that POSTs to baseURL+"/payments". httpClient should
// already be tuned (connection pooling, timeouts) by the caller; it is
// wrapped with an OpenTelemetry round tripper here.
func New(name model.ProcessorType, baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	traced := &http.Client{
		Transport: otelhttp.NewTransport(httpClient.Transport),
		Timeout:   httpClient.Timeout,
	}
	return &Client{
		name:       name,
		baseURL:    baseURL,
		paymentURL: baseURL + "/payments",
		httpClient: traced,
		logger:     logger,
	}
}

// Process submits req and classifies the result. It never returns a
// transport-level error to the caller; everything is folded into Outcome.
func (c *Client) Process(ctx context.Context, req model.ProcessorRequest) Outcome {
	ctx, span := tracer.Start(ctx, "processor.Process", trace.WithAttributes(
		attribute.String("processor.name", string(c.name)),
		attribute.String("payment.correlation_id", req.CorrelationID.String()),
	))
	defer span.End()

	buf := bufPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer bufPool.Put(buf)

	if err := sonic.ConfigFastest.NewEncoder(buf).Encode(req); err != nil {
		c.logger.Error("processor: encode request", "processor", c.name, "error", err)
		span.SetAttributes(attribute.String("outcome", ServerError.String()))
		return ServerError
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.paymentURL, bytes.NewReader(buf.Bytes()))
	if err != nil {
		c.logger.Error("processor: build request", "processor", c.name, "error", err)
		span.SetAttributes(attribute.String("outcome", ServerError.String()))
		return ServerError
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if resp != nil {
		defer func() {
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
		}()
	}

	outcome := classify(err, resp)
	span.SetAttributes(attribute.String("outcome", outcome.String()))
	if outcome != Success {
		c.logger.Warn("processor: attempt did not succeed",
			"processor", c.name, "outcome", outcome.String(), "error", err)
	}
	return outcome
}

func classify(err error, resp *http.Response) Outcome {
	if errors.Is(err, context.DeadlineExceeded) {
		return Timeout
	}
	if err != nil {
		var netErr interface{ Timeout() bool }
		if errors.As(err, &netErr) && netErr.Timeout() {
			return Timeout
		}
		return Transport
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return Success
	case resp.StatusCode == http.StatusUnprocessableEntity:
		return Rejected
	case resp.StatusCode >= 500, resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode == http.StatusRequestTimeout:
		return ServerError
	case resp.StatusCode >= 400:
		return Rejected
	default:
		return ServerError
	}
}

// HealthResponse mirrors the upstream processor's /payments/service-health
// shape, consumed by the health monitor (spec §4.4).
type HealthResponse struct {
	Failing         bool  `json:"failing"`
	MinResponseTime int64 `json:"minResponseTime"`
}

// FetchHealth issues the rate-limited health probe. It is intentionally
// separate from Process: the selector never calls it, only the monitor does.
func (c *Client) FetchHealth(ctx context.Context) (HealthResponse, error) {
	url := c.baseURL + "/payments/service-health"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return HealthResponse{}, fmt.Errorf("processor: build health request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return HealthResponse{}, fmt.Errorf("processor: health request: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return HealthResponse{}, fmt.Errorf("processor: health status %d", resp.StatusCode)
	}

	var health HealthResponse
	if err := sonic.ConfigFastest.NewDecoder(resp.Body).Decode(&health); err != nil {
		return HealthResponse{}, fmt.Errorf("processor: decode health: %w", err)
	}
	return health, nil
}
