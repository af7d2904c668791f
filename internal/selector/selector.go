// Package selector implements C5, the per-payment retry loop that chooses a
// processor, invokes it, and on success writes the ledger entry (spec §4.5).
package selector

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"paygate/internal/ledger"
	"paygate/internal/model"
	"paygate/internal/processor"
)

const (
	maxAttempts    = 3
	initialBackoff = 100 * time.Millisecond
)

// healthMonitor is satisfied by *health.Monitor. Kept narrow so this
// package never needs to import the health package's polling internals.
type healthMonitor interface {
	ShouldUseDefault() bool
	ReportFailure(model.ProcessorType)
	ReportSlowness(model.ProcessorType)
}

// processorClient is satisfied by *processor.Client.
type processorClient interface {
	Process(ctx context.Context, req model.ProcessorRequest) processor.Outcome
}

// idempotencyRegistry is satisfied by *idempotency.Registry.
type idempotencyRegistry interface {
	TryClaim(ctx context.Context, correlationID uuid.UUID) (bool, error)
}

// Selector runs the retry loop for one claimed payment at a time.
type Selector struct {
	defaultClient  processorClient
	fallbackClient processorClient
	monitor        healthMonitor
	registry       idempotencyRegistry
	store          *ledger.Store
	logger         *slog.Logger
}

// New builds a Selector.
func New(defaultClient, fallbackClient processorClient, monitor healthMonitor, registry idempotencyRegistry, store *ledger.Store, logger *slog.Logger) *Selector {
	return &Selector{
		defaultClient:  defaultClient,
		fallbackClient: fallbackClient,
		monitor:        monitor,
		registry:       registry,
		store:          store,
		logger:         logger,
	}
}

// Run claims payment's correlation id and, if this caller won the claim,
// attempts to process it up to maxAttempts times, failing over and backing
// off between attempts per spec §4.5. A lost claim means another worker
// has already handled (or is handling) this correlation id; Run returns
// immediately. It returns once the payment either succeeds, is rejected,
// exhausts its attempts, or ctx is cancelled.
func (s *Selector) Run(ctx context.Context, payment model.PaymentRequest) {
	won, err := s.registry.TryClaim(ctx, payment.CorrelationID)
	if err != nil {
		s.logger.Error("selector: idempotency claim failed", "correlation_id", payment.CorrelationID, "error", err)
		return
	}
	if !won {
		s.logger.Debug("selector: correlation id already claimed, skipping", "correlation_id", payment.CorrelationID)
		return
	}

	useDefault := s.monitor.ShouldUseDefault()
	backoff := initialBackoff

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if ctx.Err() != nil {
			return
		}

		target := s.target(useDefault)
		// RequestedAt is recomputed on every attempt, not kept from the first.
		req := model.ProcessorRequest{
			CorrelationID: payment.CorrelationID,
			Amount:        payment.Amount,
			RequestedAt:   time.Now(),
		}

		outcome := s.clientFor(useDefault).Process(ctx, req)

		switch outcome {
		case processor.Success:
			s.commit(ctx, payment, target)
			return
		case processor.Rejected:
			s.logger.Info("selector: payment rejected, no retry", "correlation_id", payment.CorrelationID)
			return
		case processor.ServerError, processor.Transport:
			s.monitor.ReportFailure(target)
			useDefault = !useDefault
		case processor.Timeout:
			s.monitor.ReportSlowness(target)
		}

		if ctx.Err() != nil {
			return
		}
		if attempt < maxAttempts {
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff *= 2
		}
	}

	s.logger.Warn("selector: attempts exhausted, dropping payment", "correlation_id", payment.CorrelationID)
}

func (s *Selector) commit(ctx context.Context, payment model.PaymentRequest, target model.ProcessorType) {
	record := model.ProcessedPayment{
		CorrelationID: payment.CorrelationID,
		Amount:        payment.Amount,
		ProcessedAt:   time.Now(),
		ProcessorUsed: target,
	}
	if err := s.store.Append(ctx, record); err != nil {
		s.logger.Error("selector: ledger write failed after successful processing",
			"correlation_id", payment.CorrelationID, "processor", target, "error", err)
	}
}

func (s *Selector) target(useDefault bool) model.ProcessorType {
	if useDefault {
		return model.ProcessorDefault
	}
	return model.ProcessorFallback
}

func (s *Selector) clientFor(useDefault bool) processorClient {
	if useDefault {
		return s.defaultClient
	}
	return s.fallbackClient
}
