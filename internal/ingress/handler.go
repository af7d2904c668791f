// Package ingress implements C7, the external HTTP surface: payment
// submission, summary queries, and the supplemental test-harness endpoints
// (spec §4.7, §6).
package ingress

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"paygate/internal/ledger"
	"paygate/internal/model"
)

// requestDeadline is the ingress adapter's own per-request upper bound. The
// same bound, counted from admission, is also the queued item's Deadline.
const requestDeadline = 2 * time.Second

var tracer = otel.Tracer("paygate/ingress")

// submitter is satisfied by *queue.Pool.
type submitter interface {
	Submit(ctx context.Context, item model.QueueItem) error
}

// purger is satisfied by *ledger.Store and *idempotency.Registry.
type purger interface {
	Purge(ctx context.Context) error
}

// Handler wires the HTTP routes to the processing pipeline.
type Handler struct {
	queue          submitter
	store          *ledger.Store
	idempotencyLog purger
	logger         *slog.Logger
}

// New builds a Handler. idempotencyLog may be nil if purge support for the
// idempotency registry is not wired.
func New(q submitter, store *ledger.Store, idempotencyLog purger, logger *slog.Logger) *Handler {
	return &Handler{queue: q, store: store, idempotencyLog: idempotencyLog, logger: logger}
}

// Register mounts the routes on e.
func (h *Handler) Register(e *echo.Echo) {
	e.POST("/payments", h.submitPayment)
	e.GET("/payments-summary", h.summary)
	e.POST("/purge-payments", h.purge)
	e.GET("/health", h.health)
}

type paymentRequestBody struct {
	CorrelationID string        `json:"correlationId"`
	Amount        model.Decimal `json:"amount"`
}

// submitPayment implements POST /payments.
func (h *Handler) submitPayment(c echo.Context) error {
	c.Response().Header().Set(echo.HeaderServer, "paygate")

	ctx, cancel := context.WithTimeout(c.Request().Context(), requestDeadline)
	defer cancel()

	ctx, span := tracer.Start(ctx, "ingress.submitPayment")
	defer span.End()

	var body paymentRequestBody
	if err := c.Bind(&body); err != nil {
		span.RecordError(err)
		return c.NoContent(http.StatusBadRequest)
	}

	correlationID, err := uuid.Parse(body.CorrelationID)
	if err != nil {
		span.RecordError(err)
		return c.NoContent(http.StatusBadRequest)
	}

	if !body.Amount.IsPositive() {
		return c.NoContent(http.StatusBadRequest)
	}

	span.SetAttributes(attribute.String("payment.correlation_id", correlationID.String()))

	item := model.QueueItem{
		Payment: model.PaymentRequest{
			CorrelationID: correlationID,
			Amount:        body.Amount,
		},
		Deadline: time.Now().Add(requestDeadline),
	}

	if err := h.queue.Submit(ctx, item); err != nil {
		span.RecordError(err)
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return c.NoContent(http.StatusGatewayTimeout)
		}
		h.logger.Error("ingress: submit failed", "correlation_id", correlationID, "error", err)
		return c.NoContent(http.StatusInternalServerError)
	}

	return c.NoContent(http.StatusAccepted)
}

type processorSummary struct {
	TotalRequests int64         `json:"totalRequests"`
	TotalAmount   model.Decimal `json:"totalAmount"`
}

type summaryResponse struct {
	Default  processorSummary `json:"default"`
	Fallback processorSummary `json:"fallback"`
}

// summary implements GET /payments-summary.
func (h *Handler) summary(c echo.Context) error {
	ctx, span := tracer.Start(c.Request().Context(), "ingress.summary")
	defer span.End()

	fromMs, err := parseBoundMs(c.QueryParam("from"))
	if err != nil {
		span.RecordError(err)
		return c.NoContent(http.StatusBadRequest)
	}
	toMs, err := parseBoundMs(c.QueryParam("to"))
	if err != nil {
		span.RecordError(err)
		return c.NoContent(http.StatusBadRequest)
	}

	records, err := h.store.RangeByScore(ctx, fromMs, toMs)
	if err != nil {
		span.RecordError(err)
		h.logger.Error("ingress: summary range scan failed", "error", err)
		return c.NoContent(http.StatusInternalServerError)
	}

	resp := summaryResponse{
		Default:  processorSummary{TotalAmount: model.ZeroDecimal()},
		Fallback: processorSummary{TotalAmount: model.ZeroDecimal()},
	}
	for _, r := range records {
		switch r.ProcessorUsed {
		case model.ProcessorDefault:
			resp.Default.TotalRequests++
			resp.Default.TotalAmount = resp.Default.TotalAmount.Add(r.Amount)
		case model.ProcessorFallback:
			resp.Fallback.TotalRequests++
			resp.Fallback.TotalAmount = resp.Fallback.TotalAmount.Add(r.Amount)
		}
	}

	return c.JSON(http.StatusOK, resp)
}

func parseBoundMs(param string) (*int64, error) {
	if param == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, param)
	if err != nil {
		return nil, err
	}
	ms := t.UnixMilli()
	return &ms, nil
}

// purge implements the supplemental POST /purge-payments test-harness
// endpoint: clears the ledger and, if wired, the idempotency registry.
func (h *Handler) purge(c echo.Context) error {
	ctx := c.Request().Context()
	if err := h.store.Purge(ctx); err != nil {
		h.logger.Error("ingress: purge ledger failed", "error", err)
		return c.NoContent(http.StatusInternalServerError)
	}
	if h.idempotencyLog != nil {
		if err := h.idempotencyLog.Purge(ctx); err != nil {
			h.logger.Error("ingress: purge idempotency registry failed", "error", err)
			return c.NoContent(http.StatusInternalServerError)
		}
	}
	return c.NoContent(http.StatusOK)
}

// health implements the supplemental GET /health liveness probe: reports
// process-up and Redis-reachability, nothing about the upstream processors.
func (h *Handler) health(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), time.Second)
	defer cancel()

	if err := h.store.Ping(ctx); err != nil {
		h.logger.Warn("ingress: health check redis ping failed", "error", err)
		return c.NoContent(http.StatusServiceUnavailable)
	}
	return c.NoContent(http.StatusOK)
}
