package otel

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	schoolauth "github.com/yyupcompany/kyyupgame-sub117"
)

func TestPipelineCollectsEngineSnapshot(t *testing.T) {
	src := &fakeSource{
		snapshot: schoolauth.MetricsSnapshot{
			Counters: map[schoolauth.MetricID]uint64{
				schoolauth.MetricLogoutAll:    2,
				schoolauth.MetricAuditDropped: 0,
			},
			Histograms: map[schoolauth.MetricID][]uint64{
				schoolauth.MetricValidateLatency: {4, 1},
			},
		},
	}
	p, err := newPipeline(src)
	if err != nil {
		t.Fatalf("newPipeline: %v", err)
	}
	defer func() {
		if err := p.Shutdown(context.Background()); err != nil {
			t.Fatalf("Shutdown: %v", err)
		}
	}()

	points, err := p.Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	byName := map[string][]Point{}
	for _, pt := range points {
		byName[pt.Name] = append(byName[pt.Name], pt)
	}
	if got := byName["schoolauth_logout_all_total"]; len(got) != 1 || got[0].Value != 2 {
		t.Fatalf("logout all = %+v", got)
	}
	buckets := byName["schoolauth_validate_latency_seconds_bucket"]
	if len(buckets) != 8 {
		t.Fatalf("expected 8 buckets, got %d", len(buckets))
	}
	for _, b := range buckets {
		if b.Attributes[LeKey] == "+Inf" && b.Value != 5 {
			t.Fatalf("+Inf bucket = %d", b.Value)
		}
	}

	src.mu.Lock()
	src.snapshot.Counters[schoolauth.MetricLogoutAll] = 7
	src.mu.Unlock()
	points, err = p.Collect(context.Background())
	if err != nil {
		t.Fatalf("second Collect: %v", err)
	}
	for _, pt := range points {
		if pt.Name == "schoolauth_logout_all_total" && pt.Value != 7 {
			t.Fatalf("collection must read a fresh snapshot, got %d", pt.Value)
		}
	}
}

func TestPipelineHandlerServesJSON(t *testing.T) {
	src := &fakeSource{snapshot: schoolauth.MetricsSnapshot{
		Counters: map[schoolauth.MetricID]uint64{schoolauth.MetricLoginSuccess: 1},
	}}
	p, err := newPipeline(src)
	if err != nil {
		t.Fatalf("newPipeline: %v", err)
	}
	defer p.Shutdown(context.Background())

	rr := httptest.NewRecorder()
	p.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics/otel", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var body struct {
		Scope   string  `json:"scope"`
		Metrics []Point `json:"metrics"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Scope != ScopeName || len(body.Metrics) == 0 {
		t.Fatalf("unexpected body: %s", rr.Body.String())
	}
}

func TestNewPipelineRejectsNilEngine(t *testing.T) {
	if _, err := NewPipeline(nil); err == nil {
		t.Fatal("expected error for nil engine")
	}
}
