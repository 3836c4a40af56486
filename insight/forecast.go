package insight

import (
	"fmt"
	"math"
	"time"

	"github.com/floworc/floworc/metric"
)

// ForecastMethod selects the forecasting model.
type ForecastMethod string

const (
	ForecastLinear    ForecastMethod = "linear"
	ForecastSmoothing ForecastMethod = "smoothing"
	ForecastHolt      ForecastMethod = "holt"
	ForecastAuto      ForecastMethod = "auto"
)

// ForecastPoint is one predicted value with its confidence band.
type ForecastPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
	Lower     float64   `json:"lower"`
	Upper     float64   `json:"upper"`
}

// Forecast holds predictions plus the method that produced them.
type Forecast struct {
	Method ForecastMethod  `json:"method"`
	Points []ForecastPoint `json:"points"`
}

const (
	defaultAlpha = 0.3
	defaultBeta  = 0.1

	// bandZ is the z-score for a ~95% confidence band.
	bandZ = 1.96
)

// Predict forecasts horizon future values spaced by step. Auto mode picks
// Holt's linear method when the series trends (second-half mean drifts more
// than 5% from the first half), otherwise simple exponential smoothing.
func Predict(points []metric.Point, horizon int, step time.Duration, method ForecastMethod) (*Forecast, error) {
	if len(points) < 2 {
		return nil, fmt.Errorf("forecast needs at least 2 points, got %d", len(points))
	}
	if horizon <= 0 {
		return nil, fmt.Errorf("forecast horizon must be positive")
	}
	if method == ForecastAuto || method == "" {
		method = pickMethod(points)
	}

	last := points[len(points)-1].Timestamp
	switch method {
	case ForecastLinear:
		return forecastLinear(points, horizon, step, last), nil
	case ForecastSmoothing:
		return forecastSmoothing(points, horizon, step, last), nil
	case ForecastHolt:
		return forecastHolt(points, horizon, step, last), nil
	default:
		return nil, fmt.Errorf("unknown forecast method %q", method)
	}
}

// pickMethod compares half-means: relative drift above 5% means the series
// trends, so Holt applies.
func pickMethod(points []metric.Point) ForecastMethod {
	half := len(points) / 2
	m1, _ := meanStdev(values(points[:half]))
	m2, _ := meanStdev(values(points[half:]))
	if m1 == 0 {
		if m2 != 0 {
			return ForecastHolt
		}
		return ForecastSmoothing
	}
	if math.Abs(m2-m1)/math.Abs(m1) > 0.05 {
		return ForecastHolt
	}
	return ForecastSmoothing
}

func forecastLinear(points []metric.Point, horizon int, step time.Duration, last time.Time) *Forecast {
	n := float64(len(points))
	var sumX, sumY, sumXY, sumXX float64
	for i, p := range points {
		x := float64(i)
		sumX += x
		sumY += p.Value
		sumXY += x * p.Value
		sumXX += x * x
	}
	denom := n*sumXX - sumX*sumX
	var m, b float64
	if denom != 0 {
		m = (n*sumXY - sumX*sumY) / denom
		b = (sumY - m*sumX) / n
	} else {
		b = sumY / n
	}

	var residSq float64
	for i, p := range points {
		r := p.Value - (m*float64(i) + b)
		residSq += r * r
	}
	residStdev := math.Sqrt(residSq / n)
	band := bandZ * residStdev

	out := make([]ForecastPoint, horizon)
	for h := 1; h <= horizon; h++ {
		v := m*float64(len(points)-1+h) + b
		out[h-1] = ForecastPoint{
			Timestamp: last.Add(time.Duration(h) * step),
			Value:     v,
			Lower:     v - band,
			Upper:     v + band,
		}
	}
	return &Forecast{Method: ForecastLinear, Points: out}
}

func forecastSmoothing(points []metric.Point, horizon int, step time.Duration, last time.Time) *Forecast {
	level := points[0].Value
	var residSq float64
	for _, p := range points[1:] {
		residSq += (p.Value - level) * (p.Value - level)
		level = defaultAlpha*p.Value + (1-defaultAlpha)*level
	}
	band := bandZ * math.Sqrt(residSq/float64(len(points)-1))

	out := make([]ForecastPoint, horizon)
	for h := 1; h <= horizon; h++ {
		out[h-1] = ForecastPoint{
			Timestamp: last.Add(time.Duration(h) * step),
			Value:     level,
			Lower:     level - band,
			Upper:     level + band,
		}
	}
	return &Forecast{Method: ForecastSmoothing, Points: out}
}

func forecastHolt(points []metric.Point, horizon int, step time.Duration, last time.Time) *Forecast {
	level := points[0].Value
	trend := points[1].Value - points[0].Value
	var residSq float64
	for _, p := range points[1:] {
		predicted := level + trend
		residSq += (p.Value - predicted) * (p.Value - predicted)
		prevLevel := level
		level = defaultAlpha*p.Value + (1-defaultAlpha)*(level+trend)
		trend = defaultBeta*(level-prevLevel) + (1-defaultBeta)*trend
	}
	band := bandZ * math.Sqrt(residSq/float64(len(points)-1))

	out := make([]ForecastPoint, horizon)
	for h := 1; h <= horizon; h++ {
		v := level + float64(h)*trend
		out[h-1] = ForecastPoint{
			Timestamp: last.Add(time.Duration(h) * step),
			Value:     v,
			Lower:     v - band,
			Upper:     v + band,
		}
	}
	return &Forecast{Method: ForecastHolt, Points: out}
}
