package realtime

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/floworc/floworc/metric"
)

// tickQuery hands out scripted results and counts calls.
type tickQuery struct {
	mu      sync.Mutex
	results []metric.QueryResult
	index   int
}

func (q *tickQuery) query(string) metric.QueryResult {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.index >= len(q.results) {
		return q.results[len(q.results)-1]
	}
	r := q.results[q.index]
	q.index++
	return r
}

func scalar(v float64) metric.QueryResult {
	return metric.QueryResult{Scalar: &v}
}

func TestStreamSamplesIntoHistory(t *testing.T) {
	q := &tickQuery{results: []metric.QueryResult{scalar(1), scalar(2), scalar(3)}}
	m := NewStreamManager(q.query)

	var samples int32
	done := make(chan struct{})
	err := m.CreateStream("s1", StreamConfig{
		Query:    "cpu",
		Interval: time.Millisecond,
		OnData: func(p StreamPoint) {
			if atomic.AddInt32(&samples, 1) == 3 {
				close(done)
			}
		},
	})
	if err != nil {
		t.Fatalf("CreateStream: %v", err)
	}
	defer m.StopAll()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("stream produced fewer than 3 samples in a second")
	}

	hist := m.History("s1")
	if len(hist) < 3 {
		t.Fatalf("history = %d points, want at least 3", len(hist))
	}
	if hist[0].Value != 1 || hist[1].Value != 2 || hist[2].Value != 3 {
		t.Errorf("history values = %v", hist[:3])
	}
}

func TestStreamPauseResumeKeepsHistory(t *testing.T) {
	q := &tickQuery{results: []metric.QueryResult{scalar(5)}}
	m := NewStreamManager(q.query)

	var samples int32
	if err := m.CreateStream("s", StreamConfig{
		Query:    "mem",
		Interval: time.Millisecond,
		OnData:   func(StreamPoint) { atomic.AddInt32(&samples, 1) },
	}); err != nil {
		t.Fatalf("CreateStream: %v", err)
	}
	defer m.StopAll()

	for atomic.LoadInt32(&samples) == 0 {
		time.Sleep(time.Millisecond)
	}

	m.Pause("s")
	if got := m.Status("s"); got != StreamPaused {
		t.Fatalf("status = %s, want paused", got)
	}
	paused := atomic.LoadInt32(&samples)
	time.Sleep(20 * time.Millisecond)
	if after := atomic.LoadInt32(&samples); after > paused+1 {
		t.Errorf("samples while paused: %d -> %d", paused, after)
	}
	if len(m.History("s")) == 0 {
		t.Error("history lost on pause")
	}

	m.Resume("s")
	resumed := atomic.LoadInt32(&samples)
	deadline := time.After(time.Second)
	for atomic.LoadInt32(&samples) == resumed {
		select {
		case <-deadline:
			t.Fatal("no samples after resume")
		default:
			time.Sleep(time.Millisecond)
		}
	}
}

func TestStreamErrorBackoff(t *testing.T) {
	q := &tickQuery{results: []metric.QueryResult{{Err: "storage down"}}}
	m := NewStreamManager(q.query)

	var waits []time.Duration
	var mu sync.Mutex
	stop := make(chan struct{})
	m.sleep = func(done chan struct{}, d time.Duration) bool {
		mu.Lock()
		waits = append(waits, d)
		n := len(waits)
		mu.Unlock()
		if n >= 2 {
			select {
			case <-stop:
			default:
				close(stop)
			}
			return false
		}
		return true
	}

	interval := 50 * time.Millisecond
	if err := m.CreateStream("s", StreamConfig{Query: "x", Interval: interval}); err != nil {
		t.Fatalf("CreateStream: %v", err)
	}
	<-stop

	mu.Lock()
	defer mu.Unlock()
	if len(waits) < 1 || waits[0] != 2*interval {
		t.Errorf("error tick waited %v, want %v", waits, 2*interval)
	}
}

func TestStreamBufferBound(t *testing.T) {
	q := &tickQuery{results: []metric.QueryResult{scalar(1)}}
	m := NewStreamManager(q.query)

	var samples int32
	done := make(chan struct{})
	if err := m.CreateStream("s", StreamConfig{
		Query:      "x",
		Interval:   time.Millisecond,
		BufferSize: 3,
		OnData: func(StreamPoint) {
			if atomic.AddInt32(&samples, 1) == 6 {
				close(done)
			}
		},
	}); err != nil {
		t.Fatalf("CreateStream: %v", err)
	}
	defer m.StopAll()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("stream too slow")
	}
	if got := len(m.History("s")); got > 3 {
		t.Errorf("history = %d points, want at most 3", got)
	}
}

func TestStreamDuplicateAndUnknown(t *testing.T) {
	m := NewStreamManager(func(string) metric.QueryResult { return scalar(0) })
	if err := m.CreateStream("s", StreamConfig{Query: "x", Interval: time.Second}); err != nil {
		t.Fatalf("CreateStream: %v", err)
	}
	defer m.StopAll()

	if err := m.CreateStream("s", StreamConfig{Query: "x", Interval: time.Second}); err == nil {
		t.Error("duplicate stream accepted")
	}
	if err := m.CreateStream("bad", StreamConfig{Query: "x"}); err == nil {
		t.Error("zero interval accepted")
	}
	if got := m.Status("nope"); got != "" {
		t.Errorf("unknown stream status = %q", got)
	}
}
