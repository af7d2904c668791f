package ingress

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"paygate/internal/ledger"
	"paygate/internal/model"
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

type fakeSubmitter struct {
	items []model.QueueItem
	err   error
}

func (f *fakeSubmitter) Submit(ctx context.Context, item model.QueueItem) error {
	if f.err != nil {
		return f.err
	}
	f.items = append(f.items, item)
	return nil
}

func newTestEcho(h *Handler) *echo.Echo {
	e := echo.New()
	h.Register(e)
	return e
}

func TestSubmitPaymentAcceptsValidBody(t *testing.T) {
	sub := &fakeSubmitter{}
	h := New(sub, testStore(t), nil, testLogger())
	e := newTestEcho(h)

	correlationID := uuid.New()
	body := `{"correlationId":"` + correlationID.String() + `","amount":"19.90"}`
	req := httptest.NewRequest(http.MethodPost, "/payments", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()

	e.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Equal(t, "paygate", rec.Header().Get(echo.HeaderServer))
	require.Len(t, sub.items, 1)
	require.Equal(t, correlationID, sub.items[0].Payment.CorrelationID)
}

func TestSubmitPaymentRejectsInvalidUUID(t *testing.T) {
	sub := &fakeSubmitter{}
	h := New(sub, testStore(t), nil, testLogger())
	e := newTestEcho(h)

	req := httptest.NewRequest(http.MethodPost, "/payments", strings.NewReader(`{"correlationId":"not-a-uuid","amount":"1.00"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()

	e.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Empty(t, sub.items)
}

func TestSubmitPaymentRejectsNonPositiveAmount(t *testing.T) {
	sub := &fakeSubmitter{}
	h := New(sub, testStore(t), nil, testLogger())
	e := newTestEcho(h)

	req := httptest.NewRequest(http.MethodPost, "/payments", strings.NewReader(`{"correlationId":"`+uuid.New().String()+`","amount":"0"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()

	e.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSubmitPaymentReturns504OnDeadlineExceeded(t *testing.T) {
	sub := &fakeSubmitter{err: context.DeadlineExceeded}
	h := New(sub, testStore(t), nil, testLogger())
	e := newTestEcho(h)

	req := httptest.NewRequest(http.MethodPost, "/payments", strings.NewReader(`{"correlationId":"`+uuid.New().String()+`","amount":"1.00"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()

	e.ServeHTTP(rec, req)
	require.Equal(t, http.StatusGatewayTimeout, rec.Code)
}

func TestSummaryAggregatesPerProcessor(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	base := time.Now().Truncate(time.Second)

	amt1, err := model.ParseDecimal("10.00")
	require.NoError(t, err)
	amt2, err := model.ParseDecimal("5.25")
	require.NoError(t, err)

	require.NoError(t, store.Append(ctx, model.ProcessedPayment{
		CorrelationID: uuid.New(), Amount: amt1, ProcessedAt: base, ProcessorUsed: model.ProcessorDefault,
	}))
	require.NoError(t, store.Append(ctx, model.ProcessedPayment{
		CorrelationID: uuid.New(), Amount: amt2, ProcessedAt: base.Add(time.Second), ProcessorUsed: model.ProcessorFallback,
	}))

	h := New(&fakeSubmitter{}, store, nil, testLogger())
	e := newTestEcho(h)

	req := httptest.NewRequest(http.MethodGet, "/payments-summary", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp summaryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.EqualValues(t, 1, resp.Default.TotalRequests)
	require.Equal(t, "10.00", resp.Default.TotalAmount.String())
	require.EqualValues(t, 1, resp.Fallback.TotalRequests)
	require.Equal(t, "5.25", resp.Fallback.TotalAmount.String())
}

func TestSummaryRejectsMalformedTimestamp(t *testing.T) {
	h := New(&fakeSubmitter{}, testStore(t), nil, testLogger())
	e := newTestEcho(h)

	req := httptest.NewRequest(http.MethodGet, "/payments-summary?from=not-a-date", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPurgeClearsLedger(t *testing.T) {
	store := testStore(t)
	amt, err := model.ParseDecimal("1.00")
	require.NoError(t, err)
	require.NoError(t, store.Append(context.Background(), model.ProcessedPayment{
		CorrelationID: uuid.New(), Amount: amt, ProcessedAt: time.Now(), ProcessorUsed: model.ProcessorDefault,
	}))

	h := New(&fakeSubmitter{}, store, nil, testLogger())
	e := newTestEcho(h)

	req := httptest.NewRequest(http.MethodPost, "/purge-payments", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	records, err := store.RangeByScore(context.Background(), nil, nil)
	require.NoError(t, err)
	require.Empty(t, records)
}

func TestHealthReturnsOK(t *testing.T) {
	h := New(&fakeSubmitter{}, testStore(t), nil, testLogger())
	e := newTestEcho(h)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}
