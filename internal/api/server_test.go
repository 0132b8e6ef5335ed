package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vlikcc/yargisalzekav2/internal/search"
)

func TestServer_Search_Succeeds(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{
		result: search.Result{
			Results: []search.ResultItem{
				{CaseNumber: "2024/1", DecisionNumber: "2024/10", MatchedKeyword: "tazminat"},
			},
			Success:       true,
			Message:       "1 unique decisions found",
			TotalKeywords: 1,
			UniqueResults: 1,
		},
	}
	server := NewServer(Config{}, engine, nil, zap.NewNop())

	body := []byte(`{"keywords":["tazminat"],"max_results":5}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/search", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var got search.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.True(t, got.Success)
	require.Equal(t, 1, got.UniqueResults)
	require.Equal(t, "tazminat", got.Results[0].MatchedKeyword)

	require.Equal(t, []string{"tazminat"}, engine.lastRequest.Keywords)
	require.Equal(t, 5, engine.lastRequest.MaxResults)
}

func TestServer_Search_InvalidJSON(t *testing.T) {
	t.Parallel()

	server := NewServer(Config{}, &fakeEngine{}, nil, zap.NewNop())
	req := httptest.NewRequest(http.MethodPost, "/v1/search", bytes.NewBufferString("{invalid"))
	rec := httptest.NewRecorder()

	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "invalid JSON")
}

func TestServer_Search_PolicyRejection(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{
		err: fmt.Errorf("admit request: %w: at least one keyword is required", search.ErrInvalidRequest),
	}
	server := NewServer(Config{}, engine, nil, zap.NewNop())

	req := httptest.NewRequest(http.MethodPost, "/v1/search", bytes.NewBufferString(`{"keywords":[]}`))
	rec := httptest.NewRecorder()

	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "at least one keyword")
}

func TestServer_Search_EngineFailure(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{err: errors.New("browser pool exhausted")}
	server := NewServer(Config{}, engine, nil, zap.NewNop())

	req := httptest.NewRequest(http.MethodPost, "/v1/search", bytes.NewBufferString(`{"keywords":["kira"]}`))
	rec := httptest.NewRecorder()

	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Contains(t, rec.Body.String(), "search failed")
}

func TestServer_Search_ContextCanceled(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{err: fmt.Errorf("search canceled: %w", context.Canceled)}
	server := NewServer(Config{}, engine, nil, zap.NewNop())

	req := httptest.NewRequest(http.MethodPost, "/v1/search", bytes.NewBufferString(`{"keywords":["kira"]}`))
	rec := httptest.NewRecorder()

	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusRequestTimeout, rec.Code)
}

func TestServer_Healthz(t *testing.T) {
	t.Parallel()

	server := NewServer(Config{}, &fakeEngine{}, nil, zap.NewNop())
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()

	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "ok")
}

func TestServer_Readyz_FollowsProber(t *testing.T) {
	t.Parallel()

	ready := &fakeReady{healthy: false}
	server := NewServer(Config{}, &fakeEngine{}, ready, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	ready.healthy = true
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_Readyz_NoProber(t *testing.T) {
	t.Parallel()

	server := NewServer(Config{}, &fakeEngine{}, nil, zap.NewNop())
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec := httptest.NewRecorder()

	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_Metrics(t *testing.T) {
	t.Parallel()

	server := NewServer(Config{}, &fakeEngine{}, nil, zap.NewNop())
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()

	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "# HELP")
}

func TestServer_APIKeyGuardsSearchOnly(t *testing.T) {
	t.Parallel()

	server := NewServer(Config{AuthEnabled: true, APIKey: "secret"}, &fakeEngine{}, nil, zap.NewNop())

	req := httptest.NewRequest(http.MethodPost, "/v1/search", bytes.NewBufferString(`{"keywords":["kira"]}`))
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusForbidden, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/v1/search", bytes.NewBufferString(`{"keywords":["kira"]}`))
	req.Header.Set("X-API-Key", "secret")
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	// Probe endpoints stay open for the orchestrator.
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_RequestIDHeader(t *testing.T) {
	t.Parallel()

	server := NewServer(Config{}, &fakeEngine{}, nil, zap.NewNop())
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestServer_RequestTimeout(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{delay: 200 * time.Millisecond}
	server := NewServer(Config{RequestTimeout: 20 * time.Millisecond}, engine, nil, zap.NewNop())

	req := httptest.NewRequest(http.MethodPost, "/v1/search", bytes.NewBufferString(`{"keywords":["kira"]}`))
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

// --- helpers/fakes ---

type fakeEngine struct {
	result      search.Result
	err         error
	delay       time.Duration
	lastRequest search.Request
}

func (f *fakeEngine) Search(ctx context.Context, req search.Request) (search.Result, error) {
	f.lastRequest = req
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return search.Result{}, fmt.Errorf("search canceled: %w", ctx.Err())
		}
	}
	if f.err != nil {
		return search.Result{}, f.err
	}
	return f.result, nil
}

type fakeReady struct {
	healthy bool
}

func (f *fakeReady) Healthy() bool {
	return f.healthy
}
