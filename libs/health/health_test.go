package health

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func readiness(t *testing.T, m *Manager) int {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/readyz", ReadinessHandler(m))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	return w.Code
}

func TestReadinessFollowsFlagAndChecks(t *testing.T) {
	m := NewManager(false)
	if code := readiness(t, m); code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 before ready, got %d", code)
	}

	m.SetReady(true)
	if code := readiness(t, m); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}

	m.AddCheck("postgres", func(context.Context) error { return errors.New("down") })
	if code := readiness(t, m); code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 with failing check, got %d", code)
	}
	if failed := m.Failing(context.Background()); failed["postgres"] != "down" {
		t.Fatalf("unexpected failing set %v", failed)
	}
}
