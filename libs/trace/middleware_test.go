package trace

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	oteltrace "go.opentelemetry.io/otel/trace"
)

func TestMiddlewareInjectsSpan(t *testing.T) {
	shutdown, err := InitTracer(context.Background(), "exchange", "test", "")
	if err != nil {
		t.Fatalf("init tracer: %v", err)
	}
	defer func() { _ = shutdown(context.Background()) }()

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Middleware("exchange"))

	var valid bool
	r.GET("/stats", func(c *gin.Context) {
		valid = oteltrace.SpanContextFromContext(c.Request.Context()).IsValid()
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/stats", nil))
	if !valid {
		t.Fatalf("expected a valid span in the request context")
	}
}
