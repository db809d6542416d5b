package server

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/community-library/internal/config"
	"github.com/sakif/community-library/internal/service"
)

func newTestServer(t *testing.T, mutate func(*config.Config)) *Server {
	t.Helper()
	cfg := config.Default()
	cfg.Store.Path = ":memory:"
	cfg.Server.CORSOrigins = []string{"https://library.example.org"}
	if mutate != nil {
		mutate(&cfg)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s, err := New(context.Background(), cfg, logger)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func serve(s *Server, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestServer_Health(t *testing.T) {
	s := newTestServer(t, nil)

	rec := serve(s, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"success":true,"status":"ok","store":"sqlite"}`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
}

func TestServer_Metrics(t *testing.T) {
	s := newTestServer(t, nil)
	serve(s, httptest.NewRequest(http.MethodGet, "/api/books/getAllBooksData", nil))

	rec := serve(s, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "library_http_requests_total")
}

func TestServer_AuthEnabled(t *testing.T) {
	s := newTestServer(t, func(c *config.Config) {
		c.Auth.JWTSecret = "server-test-secret-0123456789"
	})
	require.NotNil(t, s.Tokens())

	rec := serve(s, httptest.NewRequest(http.MethodGet, "/api/books/getAllBooksData", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	_, err := s.Services().Users.SignUp(context.Background(), service.SignUpInput{UID: "m1"})
	require.NoError(t, err)
	token, err := s.Tokens().Generate("m1")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/books/getAllBooksData", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	assert.Equal(t, http.StatusOK, serve(s, req).Code)

	req = httptest.NewRequest(http.MethodGet, "/api/admin/integrity", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	assert.Equal(t, http.StatusForbidden, serve(s, req).Code)

	_, err = s.Services().Users.SetManager(context.Background(), "m1", true)
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodGet, "/api/admin/integrity", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	assert.Equal(t, http.StatusOK, serve(s, req).Code)

	// Health and metrics stay public.
	assert.Equal(t, http.StatusOK, serve(s, httptest.NewRequest(http.MethodGet, "/healthz", nil)).Code)
}

func TestServer_RateLimit(t *testing.T) {
	s := newTestServer(t, func(c *config.Config) {
		c.Server.RateLimitRequests = 2
		c.Server.RateLimitWindow = time.Minute
	})

	var last *httptest.ResponseRecorder
	for range 3 {
		req := httptest.NewRequest(http.MethodGet, "/api/books/categories", nil)
		req.RemoteAddr = "203.0.113.7:5555"
		last = serve(s, req)
	}

	assert.Equal(t, http.StatusTooManyRequests, last.Code)
	assert.Contains(t, last.Body.String(), `"rate_limited"`)
}

func TestServer_CORSPreflight(t *testing.T) {
	s := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodOptions, "/api/books/add", nil)
	req.Header.Set("Origin", "https://library.example.org")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := serve(s, req)

	assert.Equal(t, "https://library.example.org", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))
}

func TestOpenStore(t *testing.T) {
	store, err := OpenStore(context.Background(), config.StoreConfig{Driver: "badger"})
	require.NoError(t, err)
	require.NoError(t, store.Close())

	_, err = OpenStore(context.Background(), config.StoreConfig{Driver: "cassandra"})
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "cassandra"))
}
