package insight

import (
	"math"
	"testing"
	"time"

	"github.com/floworc/floworc/metric"
)

func series(vals ...float64) []metric.Point {
	base := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	out := make([]metric.Point, len(vals))
	for i, v := range vals {
		out[i] = metric.Point{Timestamp: base.Add(time.Duration(i) * time.Minute), Value: v}
	}
	return out
}

func TestZScoreFlagsOutlier(t *testing.T) {
	pts := series(10, 11, 9, 10, 10, 11, 9, 10, 100)
	got := DetectAnomalies(pts, DetectorConfig{Sensitivity: 0.5})

	var zHits []Anomaly
	for _, a := range got {
		if a.Type == AnomalyZScore {
			zHits = append(zHits, a)
		}
	}
	if len(zHits) != 1 {
		t.Fatalf("zscore hits = %d, want 1 (%v)", len(zHits), zHits)
	}
	if zHits[0].Value != 100 {
		t.Errorf("flagged value = %v, want 100", zHits[0].Value)
	}
	if zHits[0].Confidence < 0.5 || zHits[0].Confidence > 1 {
		t.Errorf("confidence = %v", zHits[0].Confidence)
	}
}

func TestConstantSeriesHasNoAnomalies(t *testing.T) {
	pts := series(5, 5, 5, 5, 5, 5, 5, 5, 5, 5, 5, 5)
	if got := DetectAnomalies(pts, DetectorConfig{Sensitivity: 1}); len(got) != 0 {
		t.Errorf("constant series flagged: %v", got)
	}
}

func TestSensitivityWidensDetection(t *testing.T) {
	pts := series(10, 11, 9, 10, 12, 8, 10, 11, 9, 10, 18)
	lenient := DetectAnomalies(pts, DetectorConfig{Sensitivity: 0})
	aggressive := DetectAnomalies(pts, DetectorConfig{Sensitivity: 1})
	if len(aggressive) < len(lenient) {
		t.Errorf("sensitivity 1 found %d, sensitivity 0 found %d", len(aggressive), len(lenient))
	}
	if len(aggressive) == 0 {
		t.Error("aggressive detection found nothing for a clear outlier")
	}
}

func TestIQRFences(t *testing.T) {
	pts := series(10, 10, 11, 9, 10, 11, 9, 10, 50)
	got := DetectAnomalies(pts, DetectorConfig{Sensitivity: 0.5})
	found := false
	for _, a := range got {
		if a.Type == AnomalyIQR && a.Value == 50 {
			found = true
		}
	}
	if !found {
		t.Errorf("IQR missed the outlier: %v", got)
	}
}

func TestMovingAverageCatchesLocalSpike(t *testing.T) {
	// Level shift: the global mean absorbs the early values, a trailing
	// window does not.
	vals := make([]float64, 0, 24)
	for i := 0; i < 20; i++ {
		vals = append(vals, 10+math.Sin(float64(i))/10)
	}
	vals = append(vals, 10, 10, 10, 40)
	got := DetectAnomalies(series(vals...), DetectorConfig{Sensitivity: 0.5, Window: 5})
	found := false
	for _, a := range got {
		if a.Type == AnomalyMovingAverage && a.Value == 40 {
			found = true
		}
	}
	if !found {
		t.Errorf("moving-average missed the spike: %v", got)
	}
}

func TestTrendChangeOnSlopeFlip(t *testing.T) {
	vals := []float64{1, 2, 3, 4, 5, 6, 5, 4, 3, 2, 1, 0}
	got := DetectAnomalies(series(vals...), DetectorConfig{Sensitivity: 0.5, Window: 4})
	found := false
	for _, a := range got {
		if a.Type == AnomalyTrendChange {
			found = true
		}
	}
	if !found {
		t.Errorf("trend change missed the peak: %v", got)
	}
}

func TestDedupeKeepsHighestConfidence(t *testing.T) {
	ts := time.Now().UTC()
	got := dedupe([]Anomaly{
		{Timestamp: ts, Type: AnomalyZScore, Confidence: 0.6},
		{Timestamp: ts, Type: AnomalyZScore, Confidence: 0.9},
		{Timestamp: ts, Type: AnomalyIQR, Confidence: 0.7},
	})
	if len(got) != 2 {
		t.Fatalf("deduped = %d, want 2", len(got))
	}
	for _, a := range got {
		if a.Type == AnomalyZScore && a.Confidence != 0.9 {
			t.Errorf("kept confidence %v, want 0.9", a.Confidence)
		}
	}
}

func TestForecastLinearTrend(t *testing.T) {
	pts := series(1, 2, 3, 4, 5, 6, 7, 8)
	f, err := Predict(pts, 3, time.Minute, ForecastLinear)
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	if len(f.Points) != 3 {
		t.Fatalf("points = %d", len(f.Points))
	}
	for i, p := range f.Points {
		want := float64(9 + i)
		if math.Abs(p.Value-want) > 1e-9 {
			t.Errorf("h=%d forecast = %v, want %v", i+1, p.Value, want)
		}
		if p.Lower > p.Value || p.Upper < p.Value {
			t.Errorf("band [%v,%v] excludes %v", p.Lower, p.Upper, p.Value)
		}
	}
	wantTS := pts[len(pts)-1].Timestamp.Add(time.Minute)
	if !f.Points[0].Timestamp.Equal(wantTS) {
		t.Errorf("first timestamp = %v, want %v", f.Points[0].Timestamp, wantTS)
	}
}

func TestForecastAutoSelection(t *testing.T) {
	t.Run("trending series picks holt", func(t *testing.T) {
		f, err := Predict(series(1, 2, 3, 4, 5, 6, 7, 8), 2, time.Minute, ForecastAuto)
		if err != nil {
			t.Fatalf("Predict: %v", err)
		}
		if f.Method != ForecastHolt {
			t.Errorf("method = %s, want holt", f.Method)
		}
		if f.Points[1].Value <= f.Points[0].Value {
			t.Errorf("holt lost the upward trend: %v then %v", f.Points[0].Value, f.Points[1].Value)
		}
	})
	t.Run("flat series picks smoothing", func(t *testing.T) {
		f, err := Predict(series(10, 10.1, 9.9, 10, 10.05, 9.95, 10, 10.02), 2, time.Minute, ForecastAuto)
		if err != nil {
			t.Fatalf("Predict: %v", err)
		}
		if f.Method != ForecastSmoothing {
			t.Errorf("method = %s, want smoothing", f.Method)
		}
	})
}

func TestForecastValidation(t *testing.T) {
	if _, err := Predict(series(1), 3, time.Minute, ForecastLinear); err == nil {
		t.Error("single point accepted")
	}
	if _, err := Predict(series(1, 2, 3), 0, time.Minute, ForecastLinear); err == nil {
		t.Error("zero horizon accepted")
	}
	if _, err := Predict(series(1, 2, 3), 1, time.Minute, "magic"); err == nil {
		t.Error("unknown method accepted")
	}
}

func TestRecommenderRulesAndFlags(t *testing.T) {
	r := NewRecommender()
	recs := r.Evaluate(map[string]float64{
		"error_rate":      0.25,
		"avg_duration_ms": 1000,
	})
	if len(recs) != 1 {
		t.Fatalf("recommendations = %d, want 1", len(recs))
	}
	if recs[0].Type != "reliability" || recs[0].Priority != PriorityHigh {
		t.Errorf("rec = %+v", recs[0])
	}

	if !r.Dismiss(recs[0].ID) {
		t.Fatal("Dismiss returned false")
	}
	if got := r.Active(); len(got) != 0 {
		t.Errorf("active after dismiss = %d", len(got))
	}
	if r.Dismiss("unknown") {
		t.Error("Dismiss of unknown id returned true")
	}
}

func TestRecommenderCustomRule(t *testing.T) {
	r := NewRecommender()
	r.AddRule(Rule{
		Name:      "cold-cache",
		Predicate: func(m map[string]float64) bool { return m["cache_hit_rate"] < 0.5 },
		Type:      "performance",
		Message:   func(map[string]float64) string { return "cache hit rate under 50%" },
	})
	recs := r.Evaluate(map[string]float64{"cache_hit_rate": 0.2})
	if len(recs) != 1 || recs[0].Priority != PriorityMedium {
		t.Fatalf("recs = %+v", recs)
	}
	if !r.MarkImplemented(recs[0].ID) {
		t.Fatal("MarkImplemented returned false")
	}
	if len(r.Active()) != 0 {
		t.Error("implemented recommendation still active")
	}
}
