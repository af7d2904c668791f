package selector

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"paygate/internal/ledger"
	"paygate/internal/model"
	"paygate/internal/processor"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testStore(t *testing.T) *ledger.Store {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return ledger.New(rdb)
}

func testPayment(t *testing.T) model.PaymentRequest {
	t.Helper()
	amt, err := model.ParseDecimal("33.50")
	require.NoError(t, err)
	return model.PaymentRequest{CorrelationID: uuid.New(), Amount: amt}
}

type fakeMonitor struct {
	useDefault bool
	failures   []model.ProcessorType
	slowness   []model.ProcessorType
}

func (f *fakeMonitor) ShouldUseDefault() bool { return f.useDefault }
func (f *fakeMonitor) ReportFailure(p model.ProcessorType) {
	f.failures = append(f.failures, p)
}
func (f *fakeMonitor) ReportSlowness(p model.ProcessorType) {
	f.slowness = append(f.slowness, p)
}

type fakeClient struct {
	outcomes []processor.Outcome
	calls    int
}

func (f *fakeClient) Process(ctx context.Context, req model.ProcessorRequest) processor.Outcome {
	idx := f.calls
	if idx >= len(f.outcomes) {
		idx = len(f.outcomes) - 1
	}
	f.calls++
	return f.outcomes[idx]
}

type fakeRegistry struct {
	claimed map[uuid.UUID]bool
}

func (f *fakeRegistry) TryClaim(ctx context.Context, correlationID uuid.UUID) (bool, error) {
	if f.claimed == nil {
		f.claimed = make(map[uuid.UUID]bool)
	}
	if f.claimed[correlationID] {
		return false, nil
	}
	f.claimed[correlationID] = true
	return true, nil
}

func TestRunSuccessOnFirstAttemptWritesLedger(t *testing.T) {
	store := testStore(t)
	def := &fakeClient{outcomes: []processor.Outcome{processor.Success}}
	fb := &fakeClient{}
	monitor := &fakeMonitor{useDefault: true}

	s := New(def, fb, monitor, &fakeRegistry{}, store, testLogger())
	s.Run(context.Background(), testPayment(t))

	records, err := store.RangeByScore(context.Background(), nil, nil)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, model.ProcessorDefault, records[0].ProcessorUsed)
	require.Equal(t, 1, def.calls)
	require.Equal(t, 0, fb.calls)
}

func TestRunFailsOverToFallbackOnServerError(t *testing.T) {
	store := testStore(t)
	def := &fakeClient{outcomes: []processor.Outcome{processor.ServerError}}
	fb := &fakeClient{outcomes: []processor.Outcome{processor.Success}}
	monitor := &fakeMonitor{useDefault: true}

	s := New(def, fb, monitor, &fakeRegistry{}, store, testLogger())
	s.Run(context.Background(), testPayment(t))

	records, err := store.RangeByScore(context.Background(), nil, nil)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, model.ProcessorFallback, records[0].ProcessorUsed)
	require.Equal(t, []model.ProcessorType{model.ProcessorDefault}, monitor.failures)
}

func TestRunRejectedStopsImmediatelyNoLedgerWrite(t *testing.T) {
	store := testStore(t)
	def := &fakeClient{outcomes: []processor.Outcome{processor.Rejected}}
	fb := &fakeClient{}
	monitor := &fakeMonitor{useDefault: true}

	s := New(def, fb, monitor, &fakeRegistry{}, store, testLogger())
	s.Run(context.Background(), testPayment(t))

	records, err := store.RangeByScore(context.Background(), nil, nil)
	require.NoError(t, err)
	require.Empty(t, records)
	require.Equal(t, 1, def.calls)
	require.Equal(t, 0, fb.calls)
}

func TestRunTimeoutHoldsTargetAndReportsSlowness(t *testing.T) {
	store := testStore(t)
	def := &fakeClient{outcomes: []processor.Outcome{processor.Timeout, processor.Success}}
	fb := &fakeClient{}
	monitor := &fakeMonitor{useDefault: true}

	s := New(def, fb, monitor, &fakeRegistry{}, store, testLogger())
	s.Run(context.Background(), testPayment(t))

	require.Equal(t, 2, def.calls)
	require.Equal(t, 0, fb.calls)
	require.Equal(t, []model.ProcessorType{model.ProcessorDefault}, monitor.slowness)
}

func TestRunSkipsProcessingWhenClaimAlreadyHeld(t *testing.T) {
	store := testStore(t)
	def := &fakeClient{outcomes: []processor.Outcome{processor.Success}}
	fb := &fakeClient{}
	monitor := &fakeMonitor{useDefault: true}
	registry := &fakeRegistry{}

	s := New(def, fb, monitor, registry, store, testLogger())
	payment := testPayment(t)

	won, err := registry.TryClaim(context.Background(), payment.CorrelationID)
	require.NoError(t, err)
	require.True(t, won)

	s.Run(context.Background(), payment)

	require.Equal(t, 0, def.calls)
	records, err := store.RangeByScore(context.Background(), nil, nil)
	require.NoError(t, err)
	require.Empty(t, records)
}

func TestRunExhaustsAttemptsAndDropsPayment(t *testing.T) {
	store := testStore(t)
	def := &fakeClient{outcomes: []processor.Outcome{processor.ServerError}}
	fb := &fakeClient{outcomes: []processor.Outcome{processor.ServerError}}
	monitor := &fakeMonitor{useDefault: true}

	s := New(def, fb, monitor, &fakeRegistry{}, store, testLogger())
	start := time.Now()
	s.Run(context.Background(), testPayment(t))
	require.Less(t, time.Since(start), 2*time.Second)

	records, err := store.RangeByScore(context.Background(), nil, nil)
	require.NoError(t, err)
	require.Empty(t, records)
	require.Equal(t, 2, def.calls)
	require.Equal(t, 1, fb.calls)
}
