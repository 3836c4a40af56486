// Package insight analyzes recorded metric series: anomaly detection,
// forecasting, and rule-based recommendations.
package insight

import (
	"math"
	"sort"
	"time"

	"github.com/floworc/floworc/metric"
)

// AnomalyType names the detector that produced an anomaly.
type AnomalyType string

const (
	AnomalyZScore        AnomalyType = "zscore"
	AnomalyIQR           AnomalyType = "iqr"
	AnomalyMovingAverage AnomalyType = "moving_average"
	AnomalyTrendChange   AnomalyType = "trend_change"
)

// Anomaly is one flagged point.
type Anomaly struct {
	Timestamp  time.Time   `json:"timestamp"`
	Value      float64     `json:"value"`
	Type       AnomalyType `json:"type"`
	Confidence float64     `json:"confidence"`
	Expected   float64     `json:"expected"`
}

// DetectorConfig tunes the detectors. Sensitivity runs 0 (lenient) to 1
// (aggressive) and maps onto each detector's threshold.
type DetectorConfig struct {
	// Sensitivity in [0,1]. Z-score flags |x-mean|/stdev > 4-3*sensitivity;
	// IQR uses fence multiplier 2.5-1.5*sensitivity.
	Sensitivity float64 `json:"sensitivity"`

	// Window is the trailing window for the moving-average detector and the
	// side width for trend-change. Defaults to 10.
	Window int `json:"window,omitempty"`
}

func (c DetectorConfig) window() int {
	if c.Window <= 0 {
		return 10
	}
	return c.Window
}

func (c DetectorConfig) zThreshold() float64 { return 4 - 3*c.Sensitivity }

func (c DetectorConfig) iqrK() float64 { return 2.5 - 1.5*c.Sensitivity }

// DetectAnomalies runs every detector over the series and de-duplicates by
// (timestamp, type), keeping the highest-confidence hit. A constant series
// produces no anomalies.
func DetectAnomalies(points []metric.Point, cfg DetectorConfig) []Anomaly {
	var all []Anomaly
	all = append(all, detectZScore(points, cfg)...)
	all = append(all, detectIQR(points, cfg)...)
	all = append(all, detectMovingAverage(points, cfg)...)
	all = append(all, detectTrendChange(points, cfg)...)
	return dedupe(all)
}

type anomalyKey struct {
	ts  int64
	typ AnomalyType
}

func dedupe(anomalies []Anomaly) []Anomaly {
	best := make(map[anomalyKey]Anomaly)
	for _, a := range anomalies {
		key := anomalyKey{a.Timestamp.UnixNano(), a.Type}
		if cur, ok := best[key]; !ok || a.Confidence > cur.Confidence {
			best[key] = a
		}
	}
	out := make([]Anomaly, 0, len(best))
	for _, a := range best {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.Before(out[j].Timestamp)
		}
		return out[i].Type < out[j].Type
	})
	return out
}

func detectZScore(points []metric.Point, cfg DetectorConfig) []Anomaly {
	if len(points) < 3 {
		return nil
	}
	mean, stdev := meanStdev(values(points))
	if stdev == 0 {
		return nil
	}
	threshold := cfg.zThreshold()
	var out []Anomaly
	for _, p := range points {
		z := math.Abs(p.Value-mean) / stdev
		if z > threshold {
			out = append(out, Anomaly{
				Timestamp:  p.Timestamp,
				Value:      p.Value,
				Type:       AnomalyZScore,
				Confidence: confidenceFrom(z, threshold),
				Expected:   mean,
			})
		}
	}
	return out
}

func detectIQR(points []metric.Point, cfg DetectorConfig) []Anomaly {
	if len(points) < 4 {
		return nil
	}
	vals := values(points)
	sorted := append([]float64(nil), vals...)
	sort.Float64s(sorted)
	q1 := quantile(sorted, 0.25)
	q3 := quantile(sorted, 0.75)
	iqr := q3 - q1
	if iqr == 0 {
		return nil
	}
	k := cfg.iqrK()
	lo, hi := q1-k*iqr, q3+k*iqr
	mid := (q1 + q3) / 2
	var out []Anomaly
	for _, p := range points {
		if p.Value < lo || p.Value > hi {
			dist := math.Max(lo-p.Value, p.Value-hi) / iqr
			out = append(out, Anomaly{
				Timestamp:  p.Timestamp,
				Value:      p.Value,
				Type:       AnomalyIQR,
				Confidence: clamp01(0.5 + dist/4),
				Expected:   mid,
			})
		}
	}
	return out
}

func detectMovingAverage(points []metric.Point, cfg DetectorConfig) []Anomaly {
	w := cfg.window()
	if len(points) <= w {
		return nil
	}
	threshold := cfg.zThreshold()
	var out []Anomaly
	for i := w; i < len(points); i++ {
		window := values(points[i-w : i])
		mean, stdev := meanStdev(window)
		if stdev == 0 {
			continue
		}
		z := math.Abs(points[i].Value-mean) / stdev
		if z > threshold {
			out = append(out, Anomaly{
				Timestamp:  points[i].Timestamp,
				Value:      points[i].Value,
				Type:       AnomalyMovingAverage,
				Confidence: confidenceFrom(z, threshold),
				Expected:   mean,
			})
		}
	}
	return out
}

func detectTrendChange(points []metric.Point, cfg DetectorConfig) []Anomaly {
	w := cfg.window()
	if len(points) < 2*w {
		return nil
	}
	var out []Anomaly
	for i := w; i+w <= len(points); i++ {
		left := slope(points[i-w : i])
		right := slope(points[i : i+w])
		if left*right >= 0 {
			continue
		}
		magnitude := math.Abs(right - left)
		if magnitude <= cfg.zThreshold()/10 {
			continue
		}
		out = append(out, Anomaly{
			Timestamp:  points[i].Timestamp,
			Value:      points[i].Value,
			Type:       AnomalyTrendChange,
			Confidence: clamp01(0.5 + magnitude/10),
			Expected:   points[i-1].Value,
		})
	}
	return out
}

// slope fits least squares over the window using the point index as x.
func slope(points []metric.Point) float64 {
	n := float64(len(points))
	if n < 2 {
		return 0
	}
	var sumX, sumY, sumXY, sumXX float64
	for i, p := range points {
		x := float64(i)
		sumX += x
		sumY += p.Value
		sumXY += x * p.Value
		sumXX += x * x
	}
	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return 0
	}
	return (n*sumXY - sumX*sumY) / denom
}

func values(points []metric.Point) []float64 {
	out := make([]float64, len(points))
	for i, p := range points {
		out[i] = p.Value
	}
	return out
}

func meanStdev(vals []float64) (float64, float64) {
	n := float64(len(vals))
	if n == 0 {
		return 0, 0
	}
	var sum float64
	for _, v := range vals {
		sum += v
	}
	mean := sum / n
	var sq float64
	for _, v := range vals {
		d := v - mean
		sq += d * d
	}
	return mean, math.Sqrt(sq / n)
}

// quantile interpolates linearly over a sorted slice.
func quantile(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

// confidenceFrom maps how far past the threshold a score landed into [0.5, 1).
func confidenceFrom(score, threshold float64) float64 {
	return clamp01(0.5 + (score-threshold)/(2*threshold))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
