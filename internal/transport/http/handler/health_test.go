package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func TestHealthHandler_ReportsFailingDependency(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := NewHealthHandler("docchat", "test", time.Now(),
		Probe{Name: "database", Check: func(context.Context) error { return nil }},
		Probe{Name: "llm", Check: func(context.Context) error { return errors.New("connection refused") }},
	)
	r := gin.New()
	r.GET("/healthz", h.Check)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	var body struct {
		Dependencies map[string]dependencyStatus `json:"dependencies"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !body.Dependencies["database"].OK || body.Dependencies["llm"].OK {
		t.Errorf("unexpected statuses %+v", body.Dependencies)
	}
	if body.Dependencies["llm"].Message != "connection refused" {
		t.Errorf("expected probe error message, got %q", body.Dependencies["llm"].Message)
	}
}

func TestHealthHandler_AllHealthy(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := NewHealthHandler("docchat", "test", time.Now(),
		Probe{Name: "database", Check: func(context.Context) error { return nil }},
	)
	r := gin.New()
	r.GET("/healthz", h.Check)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}
