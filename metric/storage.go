package metric

import (
	"sort"
	"sync"
	"time"
)

// Tier names a retention level. Writes land in the raw tier; compaction
// rolls evicted points into progressively coarser tiers.
type Tier string

const (
	TierRaw     Tier = "raw"
	TierHourly  Tier = "hourly"
	TierDaily   Tier = "daily"
	TierMonthly Tier = "monthly"
)

// tierSpec holds a tier's retention window and bucket resolution.
type tierSpec struct {
	window     time.Duration
	resolution time.Duration
}

// tierOrder lists tiers finest first.
var tierOrder = []Tier{TierRaw, TierHourly, TierDaily, TierMonthly}

var defaultTiers = map[Tier]tierSpec{
	TierRaw:     {window: 24 * time.Hour, resolution: 0},
	TierHourly:  {window: 7 * 24 * time.Hour, resolution: time.Hour},
	TierDaily:   {window: 90 * 24 * time.Hour, resolution: 24 * time.Hour},
	TierMonthly: {window: 2 * 365 * 24 * time.Hour, resolution: 30 * 24 * time.Hour},
}

// DefaultCompactThreshold is how many raw points a metric accumulates before
// a write triggers compaction.
const DefaultCompactThreshold = 10000

type tieredSeries struct {
	tiers map[Tier][]Point
}

// Storage retains metric points across tiers of decreasing resolution.
// Recent reads come from raw points; older ranges fall back to hourly,
// daily, or monthly averages.
type Storage struct {
	mu               sync.Mutex
	metrics          map[string]*tieredSeries
	specs            map[Tier]tierSpec
	compactThreshold int

	// now is swappable for retention tests.
	now func() time.Time
}

// NewStorage creates tiered storage with the default windows.
func NewStorage() *Storage {
	return &Storage{
		metrics:          make(map[string]*tieredSeries),
		specs:            defaultTiers,
		compactThreshold: DefaultCompactThreshold,
		now:              time.Now,
	}
}

// SetCompactThreshold changes the raw-point count that triggers compaction.
// Values below 1 are ignored.
func (s *Storage) SetCompactThreshold(n int) {
	if n < 1 {
		return
	}
	s.mu.Lock()
	s.compactThreshold = n
	s.mu.Unlock()
}

// Write appends a point to the metric's raw tier, compacting when the raw
// buffer exceeds the threshold.
func (s *Storage) Write(name string, p Point) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ts := s.metrics[name]
	if ts == nil {
		ts = &tieredSeries{tiers: make(map[Tier][]Point)}
		s.metrics[name] = ts
	}
	ts.tiers[TierRaw] = append(ts.tiers[TierRaw], p)
	if len(ts.tiers[TierRaw]) > s.compactThreshold {
		s.compact(ts)
	}
}

// Compact rolls up and evicts aged points for every metric.
func (s *Storage) Compact() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ts := range s.metrics {
		s.compact(ts)
	}
}

// compact evicts points older than each tier's window, rolling raw evictions
// into hourly buckets, hourly into daily, daily into monthly. Caller holds
// the lock.
func (s *Storage) compact(ts *tieredSeries) {
	now := s.now()
	for i, tier := range tierOrder {
		spec := s.specs[tier]
		cutoff := now.Add(-spec.window)
		kept, evicted := splitByCutoff(ts.tiers[tier], cutoff)
		ts.tiers[tier] = kept
		if len(evicted) == 0 || i+1 >= len(tierOrder) {
			continue
		}
		coarser := tierOrder[i+1]
		rolled := downsample(evicted, s.specs[coarser].resolution)
		ts.tiers[coarser] = mergeSorted(ts.tiers[coarser], rolled)
	}
}

// Read returns the points for a metric within [start, end], served from the
// finest tier whose retention window still covers the start of the range,
// together with the tier used.
func (s *Storage) Read(name string, start, end time.Time) ([]Point, Tier) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ts := s.metrics[name]
	if ts == nil {
		return nil, TierRaw
	}
	now := s.now()
	chosen := TierMonthly
	for _, tier := range tierOrder {
		if !now.Add(-s.specs[tier].window).After(start) {
			chosen = tier
			break
		}
	}
	var out []Point
	for _, p := range ts.tiers[chosen] {
		if !p.Timestamp.Before(start) && !p.Timestamp.After(end) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, chosen
}

// Metrics returns the stored metric names, sorted.
func (s *Storage) Metrics() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.metrics))
	for name := range s.metrics {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// TierLen reports how many points a metric holds in a tier.
func (s *Storage) TierLen(name string, tier Tier) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ts := s.metrics[name]; ts != nil {
		return len(ts.tiers[tier])
	}
	return 0
}

func splitByCutoff(points []Point, cutoff time.Time) (kept, evicted []Point) {
	for _, p := range points {
		if p.Timestamp.Before(cutoff) {
			evicted = append(evicted, p)
		} else {
			kept = append(kept, p)
		}
	}
	return kept, evicted
}

// downsample averages points into buckets of the given resolution, stamping
// each bucket at its floor.
func downsample(points []Point, resolution time.Duration) []Point {
	if resolution <= 0 || len(points) == 0 {
		return points
	}
	type acc struct {
		sum   float64
		count int
	}
	buckets := make(map[time.Time]*acc)
	for _, p := range points {
		key := p.Timestamp.Truncate(resolution)
		a := buckets[key]
		if a == nil {
			a = &acc{}
			buckets[key] = a
		}
		a.sum += p.Value
		a.count++
	}
	out := make([]Point, 0, len(buckets))
	for key, a := range buckets {
		out = append(out, Point{Timestamp: key, Value: a.sum / float64(a.count)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

func mergeSorted(a, b []Point) []Point {
	out := append(append([]Point(nil), a...), b...)
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}
