package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/marketdata-hub/internal/config"
)

const fixtures = `
"600519":
  quote:
    price: {value: 1700}
    open: {value: 1690}
    high: {value: 1710.5}
    low: {value: 1680}
    prev_close: {value: 1695}
    volume: {value: 12000, unit: 手}
    name: {value: 贵州茅台}
`

func newTestServer(t *testing.T) *Server {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fixtures.yaml")
	require.NoError(t, os.WriteFile(path, []byte(fixtures), 0o600))

	cfg := config.Default()
	cfg.Providers = []config.ProviderConfig{{ID: "local", Kind: config.KindStatic, Fixtures: path}}
	cfg.Retry.MaxRetries = 0

	s, err := NewServer(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { s.coord.Close() })
	return s
}

func do(t *testing.T, h http.Handler, method, target string, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestResolveEndpoint(t *testing.T) {
	h := newTestServer(t).routes()

	rec := do(t, h, http.MethodGet, "/resolve?symbol=600519&category=quote&as_of=2026-03-02", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var res struct {
		Provider  string `json:"provider"`
		FromCache bool   `json:"from_cache"`
		Data      struct {
			Values map[string]interface{} `json:"values"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, "local", res.Provider)
	assert.False(t, res.FromCache)
	assert.Equal(t, 1200000.0, res.Data.Values["volume"])
	assert.Equal(t, "贵州茅台", res.Data.Values["name"])

	rec = do(t, h, http.MethodGet, "/resolve?symbol=600519&category=quote&as_of=2026-03-02&format=text", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.HasPrefix(rec.Body.String(), "600519 quote | 2026-03-02\n"))
	assert.Contains(t, rec.Body.String(), "local, 缓存")
}

func TestResolveEndpoint_Errors(t *testing.T) {
	h := newTestServer(t).routes()

	tests := []struct {
		name   string
		method string
		target string
		code   int
	}{
		{"missing symbol", http.MethodGet, "/resolve?category=quote", http.StatusBadRequest},
		{"unknown category", http.MethodGet, "/resolve?symbol=600519&category=news", http.StatusBadRequest},
		{"bad date", http.MethodGet, "/resolve?symbol=600519&category=quote&as_of=03/02/2026", http.StatusBadRequest},
		{"wrong method", http.MethodPost, "/resolve?symbol=600519&category=quote", http.StatusMethodNotAllowed},
		{"unknown symbol", http.MethodGet, "/resolve?symbol=000000&category=quote", http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, do(t, h, tt.method, tt.target, "").Code)
		})
	}
}

func TestBatchAndInvalidate(t *testing.T) {
	h := newTestServer(t).routes()

	rec := do(t, h, http.MethodPost, "/resolve/batch",
		`[{"symbol":"600519","category":"quote","as_of":"2026-03-02"},{"symbol":"000000","category":"quote","as_of":"2026-03-02"}]`)
	require.Equal(t, http.StatusOK, rec.Code)
	var results []struct {
		Symbol      string `json:"symbol"`
		Unavailable bool   `json:"unavailable"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &results))
	require.Len(t, results, 2)
	assert.False(t, results[0].Unavailable)
	assert.True(t, results[1].Unavailable)

	rec = do(t, h, http.MethodPost, "/invalidate?symbol=600519", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"removed":1}`, rec.Body.String())

	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/invalidate", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/invalidate?category=news", "").Code)
}

func TestBatchLimit(t *testing.T) {
	h := newTestServer(t).routes()

	items := make([]string, maxBatchItems+1)
	for i := range items {
		items[i] = `{"symbol":"600519","category":"quote","as_of":"2026-03-02"}`
	}
	rec := do(t, h, http.MethodPost, "/resolve/batch", "["+strings.Join(items, ",")+"]")
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)

	huge := `[{"symbol":"` + strings.Repeat("6", maxBodyBytes) + `","category":"quote"}]`
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/resolve/batch", huge).Code)
}

func TestVolumeHistoryEndpoint(t *testing.T) {
	h := newTestServer(t).routes()

	rec := do(t, h, http.MethodPost, "/volumehistory", `{"volumes":[100,100,100,100,100,100,100,100,1000,10]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var res struct {
		Domain string `json:"domain"`
		Issues []struct {
			Severity string `json:"severity"`
			Message  string `json:"message"`
		} `json:"issues"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, "volume_history", res.Domain)
	require.NotEmpty(t, res.Issues)
	assert.Equal(t, "warning", res.Issues[0].Severity)
	assert.Contains(t, res.Issues[0].Message, "spike at index 8")

	assert.Equal(t, http.StatusMethodNotAllowed, do(t, h, http.MethodGet, "/volumehistory", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/volumehistory", "{").Code)
}

func TestProvidersEndpoint(t *testing.T) {
	h := newTestServer(t).routes()

	rec := do(t, h, http.MethodGet, "/providers", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var views []map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &views))
	require.Len(t, views, 1)
	assert.Equal(t, "local", views[0]["provider_id"])
	assert.Equal(t, "trusted", views[0]["state"])
	assert.Equal(t, "standard", views[0]["tier"])

	assert.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/providers?action=reset&id=local", "").Code)
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodPost, "/providers?action=reset&id=nope", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/providers?action=drop", "").Code)
}

func TestHealthStatusAndMetrics(t *testing.T) {
	h := newTestServer(t).routes()

	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/health", "").Code)

	do(t, h, http.MethodGet, "/resolve?symbol=600519&category=quote", "")
	rec := do(t, h, http.MethodGet, "/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var status map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, 1.0, status["cache_entries"])
	assert.Contains(t, status, "next_deadline")

	rec = do(t, h, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "marketdata_resolve_total")
}

func TestCrossValidateEndpoint(t *testing.T) {
	h := newTestServer(t).routes()

	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/crossvalidate?symbol=600519", "").Code)

	rec := do(t, h, http.MethodGet, "/crossvalidate?symbol=600519&metric=price", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"domain":"cross_source"`)
}

func TestNewProvider(t *testing.T) {
	_, err := newProvider(config.ProviderConfig{ID: "ts", Kind: config.KindTushare}, 0)
	assert.Error(t, err, "tushare without token")

	_, err = newProvider(config.ProviderConfig{ID: "g", Kind: config.KindGeneric}, 0)
	assert.Error(t, err, "generic without base url")

	p, err := newProvider(config.ProviderConfig{ID: "ak", Kind: config.KindAKTools}, 0)
	require.NoError(t, err)
	assert.Equal(t, "ak", p.ID())

	_, err = newProvider(config.ProviderConfig{ID: "s", Kind: config.KindStatic, Fixtures: "/nonexistent.yaml"}, 0)
	assert.Error(t, err)
}
