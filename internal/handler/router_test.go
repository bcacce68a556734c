package handler_test

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/avelasco/chatrelay/internal/handler"
	"github.com/avelasco/chatrelay/internal/handler/ws"
	"github.com/avelasco/chatrelay/internal/service/enrich"
	"github.com/avelasco/chatrelay/internal/service/relay"
	"github.com/avelasco/chatrelay/internal/store"
)

func setupRouter(t *testing.T) http.Handler {
	t.Helper()

	clientDir := t.TempDir()
	page := "<!DOCTYPE html><title>chat relay</title>"
	if err := os.WriteFile(filepath.Join(clientDir, "index.html"), []byte(page), 0o644); err != nil {
		t.Fatalf("write index err: %v", err)
	}

	messageLog := store.NewMemory()
	registry := relay.NewRegistry()
	router := relay.NewRouter(messageLog, registry)
	replayer := relay.NewReplayer(messageLog, registry)
	resolver := enrich.NewResolver(100 * time.Millisecond)
	wsHandler := ws.New(registry, router, replayer, resolver, time.Minute)

	return handler.NewRouter(wsHandler, clientDir)
}

func TestRootServesClientPage(t *testing.T) {
	r := setupRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("status %d, want 200", resp.Code)
	}
	if !strings.Contains(resp.Body.String(), "chat relay") {
		t.Fatalf("unexpected body: %q", resp.Body.String())
	}
}

func TestPreflightAllowed(t *testing.T) {
	r := setupRouter(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/calc", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusNoContent {
		t.Fatalf("status %d, want 204", resp.Code)
	}
	if resp.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatal("missing CORS header")
	}
}

func TestCalcMounted(t *testing.T) {
	r := setupRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/calc?op=add&a=1&b=1", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("status %d, want 200", resp.Code)
	}
}
