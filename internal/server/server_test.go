package server

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ngupuk/kupu/internal/config"
	"github.com/ngupuk/kupu/internal/handlers"
	"github.com/ngupuk/kupu/internal/inpaint"
	"github.com/ngupuk/kupu/internal/memstat"
	"github.com/ngupuk/kupu/internal/metrics"
)

func testConfig() config.ServerConfig {
	return config.ServerConfig{
		Host:            "127.0.0.1",
		Port:            8003,
		CORSOrigins:     []string{"http://localhost:3000"},
		ResponseProfile: config.ProfileDataURL,
		MaxBodyBytes:    1 << 20,
		ShutdownTimeout: time.Second,
	}
}

func newTestServer(cfg config.ServerConfig) *Server {
	h := handlers.NewHandler(inpaint.New(nil, inpaint.DefaultConfig()), memstat.NewCollector("cpu", 0), handlers.Options{})
	return New(cfg, h)
}

func do(s *Server, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestRoutes(t *testing.T) {
	s := newTestServer(testConfig())

	tests := []struct {
		method string
		path   string
		want   int
	}{
		{http.MethodGet, "/", http.StatusOK},
		{http.MethodGet, "/health", http.StatusOK},
		{http.MethodGet, "/memory", http.StatusOK},
		{http.MethodGet, "/metrics", http.StatusOK},
		{http.MethodGet, "/inpaint", http.StatusMethodNotAllowed},
		{http.MethodGet, "/docs", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			rec := do(s, httptest.NewRequest(tt.method, tt.path, nil))
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestSecurityHeaders(t *testing.T) {
	s := newTestServer(testConfig())
	rec := do(s, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Equal(t, "1; mode=block", rec.Header().Get("X-XSS-Protection"))
	assert.Equal(t, "strict-origin-when-cross-origin", rec.Header().Get("Referrer-Policy"))
}

func TestCORS(t *testing.T) {
	s := newTestServer(testConfig())

	t.Run("allowed origin preflight", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/inpaint", nil)
		req.Header.Set("Origin", "http://localhost:3000")
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		req.Header.Set("Access-Control-Request-Headers", "Content-Type")

		rec := do(s, req)
		assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))
		assert.Empty(t, rec.Header().Get("Access-Control-Allow-Credentials"))
	})

	t.Run("exposed headers", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set("Origin", "http://localhost:3000")

		rec := do(s, req)
		assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))
		assert.Contains(t, rec.Header().Get("Access-Control-Expose-Headers"), "Pragma")
	})

	t.Run("foreign origin", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set("Origin", "http://evil.example")

		rec := do(s, req)
		assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	})
}

func TestRequestMetrics(t *testing.T) {
	metrics.RequestsTotal.Reset()
	s := newTestServer(testConfig())

	do(s, httptest.NewRequest(http.MethodGet, "/health", nil))
	do(s, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.RequestsTotal.WithLabelValues("GET", "/health", "2xx")))
}

func TestProductionStatic(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("<html>dashboard</html>"), 0o644))

	cfg := testConfig()
	cfg.Production = true
	cfg.StaticDir = dir
	s := newTestServer(cfg)

	rec := do(s, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "dashboard")

	// API routes still win over the file server
	rec = do(s, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Contains(t, rec.Body.String(), "healthy")
}

func TestProductionMissingStaticDir(t *testing.T) {
	cfg := testConfig()
	cfg.Production = true
	cfg.StaticDir = filepath.Join(t.TempDir(), "missing")
	s := newTestServer(cfg)

	rec := do(s, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Kupu Server")
}

func TestServeShutdown(t *testing.T) {
	s := newTestServer(testConfig())
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/health")
		if err != nil {
			return false
		}
		defer func() { _ = resp.Body.Close() }()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("server did not shut down")
	}
}
