package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestTakeReflectsCounters(t *testing.T) {
	before := Take(time.Now())
	ChartsCreated.Inc()
	ChartsReused.Add(2)
	AnalysesPerformed.Inc()
	Errors.WithLabelValues("acquire").Inc()
	Errors.WithLabelValues("store").Inc()

	after := Take(time.Now().Add(-90 * time.Second))
	if after.ChartsCreated-before.ChartsCreated != 1 {
		t.Fatalf("created delta: %d", after.ChartsCreated-before.ChartsCreated)
	}
	if after.ChartsReused-before.ChartsReused != 2 {
		t.Fatalf("reused delta: %d", after.ChartsReused-before.ChartsReused)
	}
	if after.AnalysesPerformed-before.AnalysesPerformed != 1 {
		t.Fatalf("analyses delta: %d", after.AnalysesPerformed-before.AnalysesPerformed)
	}
	if after.Errors-before.Errors != 2 {
		t.Fatalf("errors delta: %d", after.Errors-before.Errors)
	}
	if after.Uptime < 90*time.Second {
		t.Fatalf("unexpected uptime %v", after.Uptime)
	}
}

func TestRegisterAndHandler(t *testing.T) {
	Register()
	Register()
	ChartsCreated.Inc()

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "tuvi_charts_created_total") {
		t.Fatal("expected tuvi_charts_created_total in exposition")
	}
}
