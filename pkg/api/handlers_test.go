package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-polyline"
	"go.uber.org/zap"

	"turn_router/pkg/routing"
)

// mockRouter implements routing.Router for testing.
type mockRouter struct {
	result  *routing.RouteResult
	err     error
	block   chan struct{}
	entered chan struct{}
	panics  bool
}

func (m *mockRouter) Route(ctx context.Context, start, end routing.LatLng) (*routing.RouteResult, error) {
	if m.panics {
		panic("boom")
	}
	if m.entered != nil {
		m.entered <- struct{}{}
	}
	if m.block != nil {
		select {
		case <-m.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return m.result, m.err
}

func sampleResult() *routing.RouteResult {
	return &routing.RouteResult{
		TravelTimeSeconds:   95.5,
		TotalDistanceMeters: 1234.5,
		Segments: []routing.Segment{
			{RoadID: 7, DistanceMeters: 1000, Geometry: []routing.LatLng{{Lat: 1.3, Lng: 103.8}, {Lat: 1.35, Lng: 103.85}}},
			{RoadID: 9, DistanceMeters: 234.5, Geometry: []routing.LatLng{{Lat: 1.35, Lng: 103.85}, {Lat: 1.36, Lng: 103.85}}},
		},
	}
}

const validBody = `{"start":{"lat":1.3,"lng":103.8},"end":{"lat":1.35,"lng":103.85}}`

func newTestRouter(router routing.Router, cfg ServerConfig) http.Handler {
	return NewRouter(cfg, NewHandlers(router, StatsResponse{Mode: "turn", NumNodes: 100}, zap.NewNop()), zap.NewNop())
}

func postRoute(t *testing.T, h http.Handler, body string, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/route", strings.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return resp
}

func TestHandleRouteSuccess(t *testing.T) {
	h := newTestRouter(&mockRouter{result: sampleResult()}, DefaultConfig(":0"))

	w := postRoute(t, h, validBody, "application/json")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))

	var resp RouteResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 1234.5, resp.TotalDistanceMeters)
	assert.Equal(t, 95.5, resp.TravelTimeSeconds)
	assert.Empty(t, resp.Polyline)
	require.Len(t, resp.Segments, 2)
	assert.Equal(t, uint32(7), resp.Segments[0].RoadID)
	assert.Equal(t, []LatLngJSON{{Lat: 1.3, Lng: 103.8}, {Lat: 1.35, Lng: 103.85}}, resp.Segments[0].Geometry)
}

func TestHandleRoutePolyline(t *testing.T) {
	h := newTestRouter(&mockRouter{result: sampleResult()}, DefaultConfig(":0"))

	body := `{"start":{"lat":1.3,"lng":103.8},"end":{"lat":1.36,"lng":103.85},"geometry":"polyline"}`
	w := postRoute(t, h, body, "application/json; charset=utf-8")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp RouteResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Polyline)
	for _, s := range resp.Segments {
		assert.Nil(t, s.Geometry)
	}

	// The shared point between the segments appears once.
	coords, rest, err := polyline.DecodeCoords([]byte(resp.Polyline))
	require.NoError(t, err)
	assert.Empty(t, rest)
	require.Len(t, coords, 3)
	assert.InDelta(t, 1.36, coords[2][0], 1e-5)
	assert.InDelta(t, 103.85, coords[2][1], 1e-5)
}

func TestHandleRouteBadRequests(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		contentType string
		code        string
		field       string
	}{
		{"invalid json", "not json", "application/json", "invalid_request", ""},
		{"missing content type", validBody, "", "invalid_request", ""},
		{"text body", validBody, "text/plain", "invalid_request", ""},
		{"latitude out of range", `{"start":{"lat":91.0,"lng":103.8},"end":{"lat":1.35,"lng":103.85}}`, "application/json", "invalid_coordinates", "start"},
		{"longitude out of range", `{"start":{"lat":1.3,"lng":103.8},"end":{"lat":1.35,"lng":-181}}`, "application/json", "invalid_coordinates", "end"},
		{"unknown geometry", `{"start":{"lat":1.3,"lng":103.8},"end":{"lat":1.35,"lng":103.85},"geometry":"wkt"}`, "application/json", "invalid_request", "geometry"},
		{"body too large", `{"start":{"lat":1.3,"lng":103.8},"pad":"` + strings.Repeat("x", 2000) + `"}`, "application/json", "invalid_request", ""},
	}
	h := newTestRouter(&mockRouter{result: sampleResult()}, DefaultConfig(":0"))
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := postRoute(t, h, tt.body, tt.contentType)
			require.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
			resp := decodeError(t, w)
			assert.Equal(t, tt.code, resp.Error)
			assert.Equal(t, tt.field, resp.Field)
		})
	}
}

func TestHandleRouteErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"no route", routing.ErrNoRoute, http.StatusNotFound, "no_route_found"},
		{"point too far", routing.ErrPointTooFar, http.StatusUnprocessableEntity, "point_too_far_from_road"},
		{"wrapped deadline", errors.Join(errors.New("query"), context.DeadlineExceeded), http.StatusServiceUnavailable, "request_timeout"},
		{"internal", errors.New("unpack failed"), http.StatusInternalServerError, "internal_error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestRouter(&mockRouter{err: tt.err}, DefaultConfig(":0"))
			w := postRoute(t, h, validBody, "application/json")
			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, tt.code, decodeError(t, w).Error)
		})
	}
}

func TestRequestTimeout(t *testing.T) {
	cfg := DefaultConfig(":0")
	cfg.RequestTimeout = 20 * time.Millisecond
	h := newTestRouter(&mockRouter{block: make(chan struct{})}, cfg)

	w := postRoute(t, h, validBody, "application/json")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "request_timeout", decodeError(t, w).Error)
}

func TestConcurrencyLimit(t *testing.T) {
	cfg := DefaultConfig(":0")
	cfg.MaxConcurrent = 1
	cfg.RequestTimeout = 0
	mock := &mockRouter{result: sampleResult(), block: make(chan struct{}), entered: make(chan struct{}, 1)}
	h := newTestRouter(mock, cfg)

	var wg sync.WaitGroup
	wg.Add(1)
	var first *httptest.ResponseRecorder
	go func() {
		defer wg.Done()
		first = postRoute(t, h, validBody, "application/json")
	}()
	<-mock.entered

	w := postRoute(t, h, validBody, "application/json")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))
	assert.Equal(t, "service_unavailable", decodeError(t, w).Error)

	close(mock.block)
	wg.Wait()
	assert.Equal(t, http.StatusOK, first.Code)
}

func TestRecovery(t *testing.T) {
	h := newTestRouter(&mockRouter{panics: true}, DefaultConfig(":0"))
	w := postRoute(t, h, validBody, "application/json")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "internal_error", decodeError(t, w).Error)
}

func TestHealthAndStats(t *testing.T) {
	h := newTestRouter(&mockRouter{}, DefaultConfig(":0"))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var health HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &health))
	assert.Equal(t, "ok", health.Status)

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var stats StatsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Equal(t, StatsResponse{Mode: "turn", NumNodes: 100}, stats)

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/route", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	h := newTestRouter(&mockRouter{result: sampleResult()}, DefaultConfig(":0"))
	postRoute(t, h, validBody, "application/json")

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `turn_router_http_requests_total{method="POST",route="/api/v1/route",status="200"}`)
	assert.Contains(t, w.Body.String(), `turn_router_route_requests_total{outcome="ok"}`)
}
