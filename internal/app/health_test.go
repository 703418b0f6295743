package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"arbor/api/internal/authpw"
	"arbor/api/internal/config"
	"arbor/api/internal/docstore"
	"arbor/api/internal/history"
	"arbor/api/internal/search"
	"arbor/api/internal/session"
	"arbor/api/internal/tree"
	"arbor/api/internal/users"
)

// pingFailStore wraps the memory docstore with a controllable ping.
type pingFailStore struct {
	*docstore.Memory
	pingErr error
}

func (p *pingFailStore) Ping(ctx context.Context) error {
	return p.pingErr
}

func newHealthTestServer(t *testing.T, pingErr error) *HTTPServer {
	t.Helper()
	store := &pingFailStore{Memory: docstore.NewMemory(), pingErr: pingErr}
	repo := tree.NewRepository(store)
	userStore := users.NewStore(store)
	sessions := session.NewMemoryStore()
	t.Cleanup(func() { _ = sessions.Close() })

	cfg := config.Config{
		JWTSecret:  "test-secret",
		AccessTTL:  15 * time.Minute,
		RefreshTTL: 24 * time.Hour,
	}
	svc := New(cfg, Dependencies{
		Store:    store,
		Nodes:    tree.NewEngine(repo),
		Sweeper:  tree.NewSweeper(repo, false),
		Users:    userStore,
		Auth:     authpw.NewService(userStore, ""),
		Sessions: sessions,
		Search:   search.NewService(nil, search.NewScan(store)),
		History:  history.New(t.TempDir()),
	})
	return NewHTTPServer(svc, "*")
}

func TestHealthEndpoint(t *testing.T) {
	server := newHealthTestServer(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rr.Code)
	}

	var response map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if ok, exists := response["ok"]; !exists || ok != true {
		t.Errorf("expected ok=true, got %v", ok)
	}
}

func TestReadyEndpoint_Success(t *testing.T) {
	server := newHealthTestServer(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/ready", nil)
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rr.Code)
	}

	var response map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if status, exists := response["status"]; !exists || status != "ready" {
		t.Errorf("expected status=ready, got %v", status)
	}

	checks, ok := response["checks"].(map[string]any)
	if !ok {
		t.Fatalf("expected checks object, got %v", response["checks"])
	}
	for _, name := range []string{"docstore", "sessions"} {
		check, ok := checks[name].(map[string]any)
		if !ok {
			t.Fatalf("expected %s check, got %v", name, checks[name])
		}
		if checkStatus, exists := check["status"]; !exists || checkStatus != "ok" {
			t.Errorf("expected %s status=ok, got %v", name, checkStatus)
		}
	}
}

func TestReadyEndpoint_DocstoreFailure(t *testing.T) {
	server := newHealthTestServer(t, errors.New("connection refused"))

	req := httptest.NewRequest(http.MethodGet, "/api/ready", nil)
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("expected status 503, got %d", rr.Code)
	}

	var response map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if ok, exists := response["ok"]; !exists || ok != false {
		t.Errorf("expected ok=false, got %v", ok)
	}
	if status, exists := response["status"]; !exists || status != "not_ready" {
		t.Errorf("expected status=not_ready, got %v", status)
	}

	checks, ok := response["checks"].(map[string]any)
	if !ok {
		t.Fatalf("expected checks object, got %v", response["checks"])
	}
	docstoreCheck, ok := checks["docstore"].(map[string]any)
	if !ok {
		t.Fatalf("expected docstore check, got %v", checks["docstore"])
	}
	if checkStatus, exists := docstoreCheck["status"]; !exists || checkStatus != "error" {
		t.Errorf("expected docstore status=error, got %v", checkStatus)
	}
	if checkErr, exists := docstoreCheck["error"]; !exists || checkErr != "connection refused" {
		t.Errorf("expected docstore error='connection refused', got %v", checkErr)
	}

	// The healthy session store still reports ok.
	sessionsCheck, ok := checks["sessions"].(map[string]any)
	if !ok {
		t.Fatalf("expected sessions check, got %v", checks["sessions"])
	}
	if checkStatus := sessionsCheck["status"]; checkStatus != "ok" {
		t.Errorf("expected sessions status=ok, got %v", checkStatus)
	}
}

func TestHealthEndpoint_OptionsRequest(t *testing.T) {
	server := newHealthTestServer(t, nil)

	req := httptest.NewRequest(http.MethodOptions, "/api/health", nil)
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Errorf("expected status 204 for OPTIONS, got %d", rr.Code)
	}
}

func TestHealthEndpoint_CORSHeaders(t *testing.T) {
	server := newHealthTestServer(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if origin := rr.Header().Get("Access-Control-Allow-Origin"); origin != "*" {
		t.Errorf("expected CORS origin=*, got %v", origin)
	}
	if cache := rr.Header().Get("Cache-Control"); cache != "no-store" {
		t.Errorf("expected Cache-Control=no-store, got %v", cache)
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header")
	}
}

func TestPingMethod(t *testing.T) {
	tests := []struct {
		name      string
		pingError error
		wantError bool
	}{
		{name: "healthy store", pingError: nil, wantError: false},
		{name: "unhealthy store", pingError: errors.New("connection failed"), wantError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &pingFailStore{Memory: docstore.NewMemory(), pingErr: tt.pingError}
			svc := New(config.Config{}, Dependencies{
				Store:    store,
				Sessions: session.NewMemoryStore(),
			})
			err := svc.Ping(context.Background())
			if (err != nil) != tt.wantError {
				t.Errorf("Ping() error = %v, wantError %v", err, tt.wantError)
			}
		})
	}
}
