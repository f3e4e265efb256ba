package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"mirrorfund/internal/dedup"
	"mirrorfund/internal/ingest"
)

func newRouter(h *StatusHandler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h.Register(r)
	return r
}

func get(t *testing.T, r *gin.Engine, path string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	r.ServeHTTP(w, req)
	return w
}

func TestHealthAlwaysOk(t *testing.T) {
	r := newRouter(&StatusHandler{})
	if w := get(t, r, "/healthz"); w.Code != http.StatusOK {
		t.Fatalf("status=%d want=200", w.Code)
	}
}

func TestReadyRequiresFirstPoll(t *testing.T) {
	p := &ingest.Pipeline{Seen: dedup.New(10), Logger: zap.NewNop()}
	r := newRouter(&StatusHandler{Pipeline: p})

	if w := get(t, r, "/readyz"); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status=%d want=503 before first poll", w.Code)
	}
}

func TestReadyWithoutPipelineIsUnavailable(t *testing.T) {
	r := newRouter(&StatusHandler{})
	if w := get(t, r, "/readyz"); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status=%d want=503", w.Code)
	}
}

func TestStatusReportsCounters(t *testing.T) {
	p := &ingest.Pipeline{Seen: dedup.New(10), Logger: zap.NewNop()}
	h := &StatusHandler{Pipeline: p, FundName: "psi-mirror", IndexName: "smart-money", DryRun: true}
	r := newRouter(h)

	w := get(t, r, "/api/status")
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d want=200", w.Code)
	}
	var resp struct {
		Code int `json:"code"`
		Data struct {
			Fund   string       `json:"fund"`
			DryRun bool         `json:"dryRun"`
			Ingest ingest.Stats `json:"ingest"`
		} `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Code != 0 || resp.Data.Fund != "psi-mirror" || !resp.Data.DryRun {
		t.Fatalf("unexpected body: %s", w.Body.String())
	}
}
