// Package health implements C4, the background poller that tracks upstream
// processor health and feeds the selector's failover decisions (spec §4.4).
package health

import (
	"context"
	"log/slog"
	"time"

	"go.uber.org/atomic"
	"golang.org/x/time/rate"

	"paygate/internal/model"
	"paygate/internal/processor"
)

const (
	pollInterval  = 6 * time.Second
	pollTimeout   = 2 * time.Second
	slownessFloor = int64(1000)
)

// processorState holds one processor's health fields, each updated without a
// critical section: plain atomics are enough per spec §4.4.
type processorState struct {
	failing        atomic.Bool
	minResponseMs  atomic.Int64
	lastPollAtUnix atomic.Int64
}

// healthFetcher is satisfied by *processor.Client.
type healthFetcher interface {
	FetchHealth(ctx context.Context) (processor.HealthResponse, error)
}

// Monitor tracks default and fallback processor health.
type Monitor struct {
	defaultClient  healthFetcher
	fallbackClient healthFetcher
	logger         *slog.Logger

	defaultState  processorState
	fallbackState processorState

	defaultLimiter  *rate.Limiter
	fallbackLimiter *rate.Limiter
}

// New builds a Monitor. Both clients are expected to expose the upstream's
// GET /payments/service-health endpoint.
func New(defaultClient, fallbackClient healthFetcher, logger *slog.Logger) *Monitor {
	return &Monitor{
		defaultClient:   defaultClient,
		fallbackClient:  fallbackClient,
		logger:          logger,
		defaultLimiter:  rate.NewLimiter(rate.Every(5*time.Second), 1),
		fallbackLimiter: rate.NewLimiter(rate.Every(5*time.Second), 1),
	}
}

// Run polls both processors every pollInterval until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	m.pollAll(ctx)

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.pollAll(ctx)
		}
	}
}

func (m *Monitor) pollAll(ctx context.Context) {
	m.poll(ctx, model.ProcessorDefault, m.defaultClient, &m.defaultState, m.defaultLimiter)
	m.poll(ctx, model.ProcessorFallback, m.fallbackClient, &m.fallbackState, m.fallbackLimiter)
}

func (m *Monitor) poll(ctx context.Context, name model.ProcessorType, client healthFetcher, state *processorState, limiter *rate.Limiter) {
	if !limiter.Allow() {
		return
	}

	reqCtx, cancel := context.WithTimeout(ctx, pollTimeout)
	defer cancel()

	health, err := client.FetchHealth(reqCtx)
	state.lastPollAtUnix.Store(time.Now().Unix())

	if err != nil {
		m.logger.Warn("health: poll failed", "processor", name, "error", err)
		state.failing.Store(true)
		return
	}

	state.failing.Store(health.Failing)
	state.minResponseMs.Store(health.MinResponseTime)
	m.logger.Debug("health: poll ok", "processor", name, "failing", health.Failing, "min_response_ms", health.MinResponseTime)
}

// ShouldUseDefault implements the tie-break in spec §4.4: prefer default
// unless default is failing and fallback is healthy.
func (m *Monitor) ShouldUseDefault() bool {
	if !m.defaultState.failing.Load() {
		return true
	}
	return m.fallbackState.failing.Load()
}

// ReportFailure marks a processor as failing immediately, bypassing the
// poll cadence. Called by the selector on ServerError/Transport outcomes.
func (m *Monitor) ReportFailure(name model.ProcessorType) {
	m.stateFor(name).failing.Store(true)
}

// ReportSlowness raises a processor's recorded min response time to at
// least slownessFloor without marking it failing. Called by the selector on
// Timeout outcomes.
func (m *Monitor) ReportSlowness(name model.ProcessorType) {
	state := m.stateFor(name)
	for {
		current := state.minResponseMs.Load()
		if current >= slownessFloor {
			return
		}
		if state.minResponseMs.CompareAndSwap(current, slownessFloor) {
			return
		}
	}
}

func (m *Monitor) stateFor(name model.ProcessorType) *processorState {
	if name == model.ProcessorDefault {
		return &m.defaultState
	}
	return &m.fallbackState
}
