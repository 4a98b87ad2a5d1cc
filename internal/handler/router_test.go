package handler

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	characterHandler "github.com/zhouzirui/moodmirror/internal/handler/character"
	"github.com/zhouzirui/moodmirror/internal/model/character"
	"github.com/zhouzirui/moodmirror/internal/observability"
)

func TestRouterHealthAndMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics("moodmirror", reg)
	metrics.ObserveDetectionPass("face")

	r := NewRouter(Deps{
		Characters:     characterHandler.New(character.NewMemoryStore(character.Seed())),
		Gatherer:       reg,
		AllowedOrigins: []string{"*"},
	})

	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}

	resp = httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/api/characters", nil))
	if resp.Code != http.StatusOK || !strings.Contains(resp.Body.String(), "mark_v2_3") {
		t.Fatalf("unexpected characters response %d %s", resp.Code, resp.Body.String())
	}

	resp = httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(resp.Body.String(), `moodmirror_detection_passes_total{result="face"} 1`) {
		t.Fatalf("expected detection counter in metrics output:\n%s", resp.Body.String())
	}
}

func TestRouterSkipsMissingHandlers(t *testing.T) {
	r := NewRouter(Deps{Gatherer: prometheus.NewRegistry()})

	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodPost, "/api/conversation/loop", nil))
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 without conversation handler, got %d", resp.Code)
	}
}
