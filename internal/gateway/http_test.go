package gateway_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"pulse-telemetry/internal/gateway"
	"pulse-telemetry/internal/ingest"
	"pulse-telemetry/internal/model"
	"pulse-telemetry/internal/outcome"
	"pulse-telemetry/internal/ratelimit"
	"pulse-telemetry/internal/tenant"
)

const tenantsYAML = `
tenants:
  proj-1:
    name: Widgets Inc
    public_key: pk_live_widgets
    secret_key: sk_live_widgets
    drop_filter:
      enabled: true
      mode: blacklist
      filters:
        - key: eventName
          op: equals
          value: heartbeat
  proj-2:
    name: No Filter Co
    public_key: pk_live_nofilter
    secret_key: sk_live_nofilter
  proj-gone:
    public_key: pk_live_gone
    deleted: true
`

type memStore struct {
	items   map[model.Channel][]model.Item
	failAt  int
	tenants map[model.Channel]string
}

func newMemStore() *memStore {
	return &memStore{
		items:   make(map[model.Channel][]model.Item),
		failAt:  -1,
		tenants: make(map[model.Channel]string),
	}
}

func (m *memStore) Insert(_ context.Context, tenantID string, channel model.Channel, items []model.Item) (int, error) {
	m.tenants[channel] = tenantID
	for i, it := range items {
		if m.failAt == i {
			return i, errors.New("row rejected")
		}
		m.items[channel] = append(m.items[channel], it)
	}
	return len(items), nil
}

type testEnv struct {
	router *gin.Engine
	store  *memStore
	drops  *outcome.MemorySink
}

func newEnv(t *testing.T, httpMax int64) *testEnv {
	return newEnvLimits(t, httpMax, 1000)
}

func newEnvWithWSLimit(t *testing.T, wsMax int64) *testEnv {
	return newEnvLimits(t, 1000, wsMax)
}

func newTestServer(t *testing.T, env *testEnv) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(env.router)
	t.Cleanup(srv.Close)
	return srv
}

func newEnvLimits(t *testing.T, httpMax, wsMax int64) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	tenants, err := tenant.ParseFile([]byte(tenantsYAML), "test")
	require.NoError(t, err)

	store := newMemStore()
	drops := outcome.NewMemorySink()
	svc := ingest.NewService(store, tenants, outcome.NewFanout(drops), zap.NewNop())

	router := gin.New()
	gw := gateway.New(gateway.Options{
		Service:     svc,
		Tenants:     tenants,
		HTTPLimiter: ratelimit.New(httpMax, time.Minute),
		WSLimiter:   ratelimit.New(wsMax, time.Minute),
		DropCounter: drops,
		Logger:      zap.NewNop(),
	})
	gw.Register(router)
	return &testEnv{router: router, store: store, drops: drops}
}

func (e *testEnv) post(path, key, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func TestIngestRejectsUnknownKey(t *testing.T) {
	env := newEnv(t, 1000)
	w := env.post("/v1/events", "pk_bogus", `{"items":[{"eventName":"x"}]}`)
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.JSONEq(t, `{"error":"Invalid API key"}`, w.Body.String())
}

func TestIngestRejectsMissingKey(t *testing.T) {
	env := newEnv(t, 1000)
	w := env.post("/v1/events", "", `{"items":[{"eventName":"x"}]}`)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestIngestRejectsDeletedTenant(t *testing.T) {
	env := newEnv(t, 1000)
	w := env.post("/v1/events", "pk_live_gone", `{"items":[{"eventName":"x"}]}`)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestIngestRequiresPublicKey(t *testing.T) {
	env := newEnv(t, 1000)
	w := env.post("/v1/events", "sk_live_widgets", `{"items":[{"eventName":"x"}]}`)
	require.Equal(t, http.StatusForbidden, w.Code)
	require.JSONEq(t, `{"error":"Public API key required"}`, w.Body.String())
}

func TestIngestAcceptsAPIKeyHeader(t *testing.T) {
	env := newEnv(t, 1000)
	req := httptest.NewRequest(http.MethodPost, "/v1/pageviews", strings.NewReader(`{"items":[{"url":"/home"}]}`))
	req.Header.Set("X-API-Key", "pk_live_nofilter")
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code)
}

func TestIngestPersistsBatchInOrder(t *testing.T) {
	env := newEnv(t, 1000)
	w := env.post("/v1/pageviews", "pk_live_nofilter", `{"items":[{"url":"/a"},{"url":"/b"},{"url":"/c"}]}`)
	require.Equal(t, http.StatusCreated, w.Code)
	require.JSONEq(t, `{"success":true,"count":3}`, w.Body.String())

	stored := env.store.items[model.ChannelPageViews]
	require.Len(t, stored, 3)
	require.Equal(t, "/a", stored[0].URL)
	require.Equal(t, "/b", stored[1].URL)
	require.Equal(t, "/c", stored[2].URL)
	require.Equal(t, "proj-2", env.store.tenants[model.ChannelPageViews])
}

func TestIngestRejectsBadItemWholesale(t *testing.T) {
	env := newEnv(t, 1000)
	w := env.post("/v1/pageviews", "pk_live_nofilter", `{"items":[{"url":"/a"},{"timestamp":1}]}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Contains(t, w.Body.String(), "Validation failed")
	require.Contains(t, w.Body.String(), "url")
	require.Empty(t, env.store.items[model.ChannelPageViews], "exactly 0 documents persisted")
}

func TestIngestRejectsEmptyBatch(t *testing.T) {
	env := newEnv(t, 1000)
	w := env.post("/v1/events", "pk_live_nofilter", `{"items":[]}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestEventsChannelAppliesDropFilter(t *testing.T) {
	env := newEnv(t, 1000)
	body := `{"items":[
		{"eventName":"heartbeat"},
		{"eventName":"signup"},
		{"eventName":"heartbeat"},
		{"eventName":"login"},
		{"eventName":"heartbeat"}]}`
	w := env.post("/v1/events", "pk_live_widgets", body)
	require.Equal(t, http.StatusCreated, w.Code)
	require.JSONEq(t, `{"success":true,"count":2,"dropped":3}`, w.Body.String())
	require.Len(t, env.store.items[model.ChannelEvents], 2)
}

func TestRateLimitReturns429WithRetryAfter(t *testing.T) {
	env := newEnv(t, 3)
	body := `{"items":[{"eventName":"x"}]}`
	for i := 0; i < 3; i++ {
		w := env.post("/v1/events", "pk_live_nofilter", body)
		require.Equal(t, http.StatusCreated, w.Code)
	}
	w := env.post("/v1/events", "pk_live_nofilter", body)
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	require.Contains(t, w.Body.String(), "Rate limit exceeded")
	require.Contains(t, w.Body.String(), "retryAfter")

	// a different tenant is unaffected
	w = env.post("/v1/events", "pk_live_widgets", body)
	require.Equal(t, http.StatusCreated, w.Code)
}

func TestPersistFailureReturns500(t *testing.T) {
	env := newEnv(t, 1000)
	env.store.failAt = 1
	w := env.post("/v1/pageviews", "pk_live_nofilter", `{"items":[{"url":"/a"},{"url":"/b"}]}`)
	require.Equal(t, http.StatusInternalServerError, w.Code)
	// the row before the failure stays committed: partial, surfaced
	require.Len(t, env.store.items[model.ChannelPageViews], 1)
}

func TestDropCountersRequireSecretKey(t *testing.T) {
	env := newEnv(t, 1000)
	env.post("/v1/events", "pk_live_widgets", `{"items":[{"eventName":"heartbeat"}]}`)

	req := httptest.NewRequest(http.MethodGet, "/v1/drop-counters", nil)
	req.Header.Set("Authorization", "Bearer pk_live_widgets")
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusForbidden, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/v1/drop-counters", nil)
	req.Header.Set("Authorization", "Bearer sk_live_widgets")
	w = httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"dropped":1}`, w.Body.String())
}

func TestEnvelopeFilledFromUserAgent(t *testing.T) {
	env := newEnv(t, 1000)
	req := httptest.NewRequest(http.MethodPost, "/v1/pageviews", strings.NewReader(`{"items":[{"url":"/home"}]}`))
	req.Header.Set("Authorization", "Bearer pk_live_nofilter")
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) Chrome/120.0")
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code)

	stored := env.store.items[model.ChannelPageViews]
	require.Len(t, stored, 1)
	require.Equal(t, "chrome", stored[0].Browser)
	require.Equal(t, "windows", stored[0].OS)
	require.Equal(t, "desktop", stored[0].DeviceType)
}
