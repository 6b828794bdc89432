package traceapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"tracecore/docs/schema/openapi"
	"tracecore/internal/adapters/archive"
	"tracecore/internal/core"
	"tracecore/internal/infra/blob/memory"
	"tracecore/internal/infra/persistence/fixture"
	memstore "tracecore/internal/infra/persistence/memory"
	"tracecore/pkg/domain"
)

const chainFixture = "../../infra/persistence/fixture/testdata/simple_chain.yaml"

type response struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

func newService(t *testing.T) *core.Service {
	t.Helper()
	ds, err := fixture.LoadFile(chainFixture)
	require.NoError(t, err)
	store, err := memstore.NewStoreFromDataset(ds)
	require.NoError(t, err)
	return core.NewService(store)
}

func do(t *testing.T, h http.Handler, method, target string) (int, response) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	var out response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	return rec.Code, out
}

func TestForwardAndBackwardTrace(t *testing.T) {
	router := NewHandler(newService(t)).Router()

	status, out := do(t, router, http.MethodGet, "/trace/forward/LOT-A")
	require.Equal(t, http.StatusOK, status)
	require.True(t, out.Success)
	var fwd domain.TraceResult
	require.NoError(t, json.Unmarshal(out.Data, &fwd))
	require.Equal(t, "LOT-A", fwd.Seed)
	require.Equal(t, domain.Forward, fwd.Direction)
	_, ok := fwd.Node(domain.NodeID(domain.NodeLot, "LOT-B"))
	require.True(t, ok, "LOT-B must be downstream of LOT-A")

	status, out = do(t, router, http.MethodGet, "/trace/backward/LOT-B?depth=5")
	require.Equal(t, http.StatusOK, status)
	var back domain.TraceResult
	require.NoError(t, json.Unmarshal(out.Data, &back))
	require.Equal(t, 5, back.MaxDepth)
	_, ok = back.Node(domain.NodeID(domain.NodeLot, "LOT-A"))
	require.True(t, ok, "LOT-A must be upstream of LOT-B")
}

func TestStockRoute(t *testing.T) {
	router := NewHandler(newService(t)).Router()
	status, out := do(t, router, http.MethodGet, "/lots/LOT-A/stock")
	require.Equal(t, http.StatusOK, status)
	var sb domain.StockBreakdown
	require.NoError(t, json.Unmarshal(out.Data, &sb))
	require.Equal(t, "600", sb.CurrentStock.String())
}

func TestStockRoutesTrimLotCode(t *testing.T) {
	router := NewHandler(newService(t), WithArchiver(archive.NewExporter(memory.New()))).Router()

	status, out := do(t, router, http.MethodGet, "/lots/%20LOT-A%20/stock")
	require.Equal(t, http.StatusOK, status)
	var sb domain.StockBreakdown
	require.NoError(t, json.Unmarshal(out.Data, &sb))
	require.Equal(t, "LOT-A", sb.TLC)

	for _, tc := range []struct{ method, target string }{
		{http.MethodGet, "/lots/%20/stock"},
		{http.MethodPost, "/lots/%20/stock/archive"},
	} {
		status, out := do(t, router, tc.method, tc.target)
		require.Equal(t, http.StatusBadRequest, status, tc.target)
		require.Equal(t, "tlc required", out.Error, tc.target)
	}
}

func TestErrorStatusMapping(t *testing.T) {
	router := NewHandler(newService(t)).Router()
	cases := []struct {
		target string
		status int
	}{
		{"/trace/forward/NOPE", http.StatusNotFound},
		{"/trace/sideways/LOT-A", http.StatusBadRequest},
		{"/trace/forward/LOT-A?depth=abc", http.StatusBadRequest},
		{"/trace/forward/LOT-A?depth=0", http.StatusBadRequest},
		{"/trace/forward/LOT-A?depth=501", http.StatusBadRequest},
		{"/lots/NOPE/stock", http.StatusNotFound},
	}
	for _, tc := range cases {
		status, out := do(t, router, http.MethodGet, tc.target)
		require.Equal(t, tc.status, status, tc.target)
		require.False(t, out.Success, tc.target)
		require.Equal(t, "null", string(out.Data), tc.target)
		require.NotEmpty(t, out.Error, tc.target)
	}
}

type failingEngine struct{ err error }

func (f failingEngine) Trace(context.Context, string, domain.Direction, ...core.TraceOption) (domain.TraceResult, error) {
	return domain.TraceResult{}, f.err
}

func (f failingEngine) ComputeStock(context.Context, string) (domain.StockBreakdown, error) {
	return domain.StockBreakdown{}, f.err
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{nil, http.StatusOK},
		{domain.NewNotFound(domain.EntityLot, "X"), http.StatusNotFound},
		{&domain.InvalidRecordError{Entity: domain.EntityEvent, ID: "EV", Err: errors.New("bad type")}, http.StatusUnprocessableEntity},
		{fmt.Errorf("load: %w", &domain.StoreError{Op: "get lot", Err: errors.New("reset")}), http.StatusServiceUnavailable},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{fmt.Errorf("%w: 0", core.ErrInvalidDepth), http.StatusBadRequest},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		require.Equal(t, tc.status, StatusFor(tc.err), "%v", tc.err)
	}
}

func TestInternalErrorsAreNotLeaked(t *testing.T) {
	router := NewHandler(failingEngine{err: errors.New("secret dsn in message")}).Router()
	status, out := do(t, router, http.MethodGet, "/trace/forward/LOT-A")
	require.Equal(t, http.StatusInternalServerError, status)
	require.Equal(t, "Internal Server Error", out.Error)

	router = NewHandler(failingEngine{err: &domain.StoreError{Op: "load lot", Err: errors.New("refused")}}).Router()
	status, _ = do(t, router, http.MethodGet, "/lots/LOT-A/stock")
	require.Equal(t, http.StatusServiceUnavailable, status)
}

type slowEngine struct{}

func (slowEngine) Trace(ctx context.Context, _ string, _ domain.Direction, _ ...core.TraceOption) (domain.TraceResult, error) {
	<-ctx.Done()
	return domain.TraceResult{}, ctx.Err()
}

func (slowEngine) ComputeStock(ctx context.Context, _ string) (domain.StockBreakdown, error) {
	<-ctx.Done()
	return domain.StockBreakdown{}, ctx.Err()
}

func TestRequestTimeout(t *testing.T) {
	router := NewHandler(slowEngine{}, WithRequestTimeout(10*time.Millisecond)).Router()
	status, out := do(t, router, http.MethodGet, "/trace/backward/LOT-A")
	require.Equal(t, http.StatusGatewayTimeout, status)
	require.False(t, out.Success)
}

func TestArchiveRoutes(t *testing.T) {
	blobs := memory.New()
	h := NewHandler(newService(t), WithArchiver(archive.NewExporter(blobs)))
	router := h.Router()

	status, out := do(t, router, http.MethodPost, "/trace/forward/LOT-A/archive?format=json,csv")
	require.Equal(t, http.StatusCreated, status)
	var body archiveResponse
	require.NoError(t, json.Unmarshal(out.Data, &body))
	require.Len(t, body.Artifacts, 2)
	for _, a := range body.Artifacts {
		_, err := blobs.Head(context.Background(), a.Key)
		require.NoError(t, err)
	}

	status, _ = do(t, router, http.MethodPost, "/trace/forward/LOT-A/archive?format=pdf")
	require.Equal(t, http.StatusBadRequest, status)

	status, out = do(t, router, http.MethodPost, "/lots/LOT-A/stock/archive?format=xlsx")
	require.Equal(t, http.StatusCreated, status)
	require.NoError(t, json.Unmarshal(out.Data, &body))
	require.Len(t, body.Artifacts, 1)
	require.Equal(t, archive.FormatXLSX, body.Artifacts[0].Format)

	noArchive := NewHandler(newService(t)).Router()
	rec := httptest.NewRecorder()
	noArchive.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/trace/forward/LOT-A/archive", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("tracecore_engine_operations_total 1\n"))
	})
	router := NewHandler(newService(t), WithMetricsHandler(metrics)).Router()
	status, out := do(t, router, http.MethodGet, "/healthz")
	require.Equal(t, http.StatusOK, status)
	require.JSONEq(t, `{"status":"ok"}`, string(out.Data))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "tracecore_engine_operations_total")
}

func TestRoutesMatchOpenAPIDocument(t *testing.T) {
	router := NewHandler(newService(t),
		WithArchiver(archive.NewExporter(memory.New())),
		WithMetricsHandler(http.NotFoundHandler()),
	).Router()
	var routes []string
	err := chi.Walk(router, func(method, route string, _ http.Handler, _ ...func(http.Handler) http.Handler) error {
		routes = append(routes, method+" "+route)
		return nil
	})
	require.NoError(t, err)
	sort.Strings(routes)

	documented, err := openapi.Operations()
	require.NoError(t, err)
	require.Equal(t, documented, routes)
}
