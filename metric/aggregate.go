package metric

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
)

// ParseInterval parses interval strings of the form Ns, Nm, Nh, Nd, Nw, NM
// (seconds, minutes, hours, days, weeks, months of 30 days).
func ParseInterval(s string) (time.Duration, error) {
	if len(s) < 2 {
		return 0, fmt.Errorf("interval %q too short", s)
	}
	n, err := strconv.Atoi(s[:len(s)-1])
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("interval %q: bad count", s)
	}
	var unit time.Duration
	switch s[len(s)-1] {
	case 's':
		unit = time.Second
	case 'm':
		unit = time.Minute
	case 'h':
		unit = time.Hour
	case 'd':
		unit = 24 * time.Hour
	case 'w':
		unit = 7 * 24 * time.Hour
	case 'M':
		unit = 30 * 24 * time.Hour
	default:
		return 0, fmt.Errorf("interval %q: unknown unit %q", s, s[len(s)-1])
	}
	return time.Duration(n) * unit, nil
}

// BucketKey floors a timestamp to its interval bucket, anchored at the epoch.
func BucketKey(t time.Time, interval time.Duration) time.Time {
	elapsed := t.Unix()
	size := int64(interval / time.Second)
	if size <= 0 {
		return t
	}
	return time.Unix(elapsed-elapsed%size, 0).UTC()
}

// Reducers supported by Aggregate.
var reducerNames = []string{
	"sum", "avg", "min", "max", "count", "first", "last",
	"p50", "p75", "p90", "p95", "p99",
	"rate", "irate", "delta", "increase",
}

// ValidReducer reports whether name is a supported reducer.
func ValidReducer(name string) bool {
	for _, r := range reducerNames {
		if r == name {
			return true
		}
	}
	return false
}

// Aggregate buckets points by interval and reduces each bucket with the
// named reducer. With gapFill set, empty buckets between the first and last
// observed buckets yield zero-valued points.
func Aggregate(points []Point, interval time.Duration, reducer string, gapFill bool) ([]Point, error) {
	if !ValidReducer(reducer) {
		return nil, fmt.Errorf("unknown reducer %q", reducer)
	}
	if interval <= 0 {
		return nil, fmt.Errorf("interval must be positive")
	}
	if len(points) == 0 {
		return nil, nil
	}

	sorted := append([]Point(nil), points...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Timestamp.Before(sorted[j].Timestamp) })

	buckets := make(map[time.Time][]Point)
	var minKey, maxKey time.Time
	for _, p := range sorted {
		key := BucketKey(p.Timestamp, interval)
		buckets[key] = append(buckets[key], p)
		if minKey.IsZero() || key.Before(minKey) {
			minKey = key
		}
		if key.After(maxKey) {
			maxKey = key
		}
	}

	var out []Point
	for key := minKey; !key.After(maxKey); key = key.Add(interval) {
		bucket, ok := buckets[key]
		if !ok {
			if gapFill {
				out = append(out, Point{Timestamp: key, Value: 0})
			}
			continue
		}
		out = append(out, Point{Timestamp: key, Value: reduce(bucket, reducer)})
	}
	return out, nil
}

// reduce applies a reducer to one bucket. Points arrive in timestamp order.
func reduce(bucket []Point, reducer string) float64 {
	values := make([]float64, len(bucket))
	for i, p := range bucket {
		values[i] = p.Value
	}
	switch reducer {
	case "sum":
		return sum(values)
	case "avg":
		return sum(values) / float64(len(values))
	case "min":
		m := values[0]
		for _, v := range values[1:] {
			if v < m {
				m = v
			}
		}
		return m
	case "max":
		m := values[0]
		for _, v := range values[1:] {
			if v > m {
				m = v
			}
		}
		return m
	case "count":
		return float64(len(values))
	case "first":
		return values[0]
	case "last":
		return values[len(values)-1]
	case "p50", "p75", "p90", "p95", "p99":
		q, _ := strconv.Atoi(strings.TrimPrefix(reducer, "p"))
		return Percentile(values, float64(q)/100)
	case "rate":
		return ratePerSecond(bucket)
	case "irate":
		if len(bucket) < 2 {
			return 0
		}
		last, prev := bucket[len(bucket)-1], bucket[len(bucket)-2]
		secs := last.Timestamp.Sub(prev.Timestamp).Seconds()
		if secs <= 0 {
			return 0
		}
		return (last.Value - prev.Value) / secs
	case "delta":
		return values[len(values)-1] - values[0]
	case "increase":
		return increase(values)
	}
	return 0
}

func sum(values []float64) float64 {
	var total float64
	for _, v := range values {
		total += v
	}
	return total
}

// ratePerSecond computes the counter rate across a bucket, treating any
// decrease as a counter reset.
func ratePerSecond(bucket []Point) float64 {
	if len(bucket) < 2 {
		return 0
	}
	secs := bucket[len(bucket)-1].Timestamp.Sub(bucket[0].Timestamp).Seconds()
	if secs <= 0 {
		return 0
	}
	values := make([]float64, len(bucket))
	for i, p := range bucket {
		values[i] = p.Value
	}
	return increase(values) / secs
}

// increase sums positive deltas, so counter resets don't produce negative
// growth.
func increase(values []float64) float64 {
	var total float64
	for i := 1; i < len(values); i++ {
		if d := values[i] - values[i-1]; d > 0 {
			total += d
		}
	}
	return total
}

// Percentile returns the q-quantile (0 < q <= 1) of values using the
// nearest-rank method.
func Percentile(values []float64, q float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	rank := int(math.Ceil(q*float64(len(sorted)))) - 1
	if rank < 0 {
		rank = 0
	}
	if rank >= len(sorted) {
		rank = len(sorted) - 1
	}
	return sorted[rank]
}
