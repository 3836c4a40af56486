package realtime

import (
	"fmt"
	"sync"
	"time"

	"github.com/floworc/floworc/metric"
)

// QueryFunc evaluates a stream's metric query on every tick.
type QueryFunc func(q string) metric.QueryResult

// StreamStatus is a stream's lifecycle state.
type StreamStatus string

const (
	StreamRunning StreamStatus = "running"
	StreamPaused  StreamStatus = "paused"
	StreamStopped StreamStatus = "stopped"
)

// StreamPoint is one sampled value with its sample time.
type StreamPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

// StreamConfig declares a polling stream.
type StreamConfig struct {
	// Query is evaluated each tick.
	Query string `json:"query"`

	// Interval is the tick cadence.
	Interval time.Duration `json:"-"`

	// BufferSize bounds the history ring. Defaults to 100.
	BufferSize int `json:"buffer_size,omitempty"`

	// OnData, when set, receives each sampled point.
	OnData func(StreamPoint) `json:"-"`
}

type stream struct {
	mu      sync.Mutex
	id      string
	cfg     StreamConfig
	status  StreamStatus
	history []StreamPoint
	done    chan struct{}
}

func (s *stream) setStatus(st StreamStatus) {
	s.mu.Lock()
	s.status = st
	s.mu.Unlock()
}

func (s *stream) getStatus() StreamStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *stream) append(p StreamPoint) {
	s.mu.Lock()
	s.history = append(s.history, p)
	if len(s.history) > s.cfg.BufferSize {
		s.history = s.history[len(s.history)-s.cfg.BufferSize:]
	}
	s.mu.Unlock()
}

// StreamManager runs one polling goroutine per stream, sampling a metric
// query on an interval and keeping a bounded history. Pause and resume
// toggle sampling without losing history; repeated query errors back off to
// twice the interval.
type StreamManager struct {
	mu      sync.Mutex
	streams map[string]*stream
	query   QueryFunc

	// sleep is swappable for tests.
	sleep func(done chan struct{}, d time.Duration) bool
}

// NewStreamManager creates a manager sampling through the given query
// function.
func NewStreamManager(query QueryFunc) *StreamManager {
	return &StreamManager{
		streams: make(map[string]*stream),
		query:   query,
		sleep:   sleepDone,
	}
}

// CreateStream registers and starts a stream.
func (m *StreamManager) CreateStream(id string, cfg StreamConfig) error {
	if cfg.Interval <= 0 {
		return fmt.Errorf("stream %s: interval required", id)
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 100
	}
	s := &stream{id: id, cfg: cfg, status: StreamRunning, done: make(chan struct{})}

	m.mu.Lock()
	if _, exists := m.streams[id]; exists {
		m.mu.Unlock()
		return fmt.Errorf("stream %s already exists", id)
	}
	m.streams[id] = s
	m.mu.Unlock()

	go m.run(s)
	return nil
}

func (m *StreamManager) run(s *stream) {
	for {
		status := s.getStatus()
		if status == StreamStopped {
			return
		}
		wait := s.cfg.Interval
		if status == StreamRunning {
			res := m.query(s.cfg.Query)
			if res.Err != "" {
				wait = 2 * s.cfg.Interval
			} else if value, ok := resultValue(res); ok {
				point := StreamPoint{Timestamp: time.Now().UTC(), Value: value}
				s.append(point)
				if s.cfg.OnData != nil {
					s.cfg.OnData(point)
				}
			}
		}
		if !m.sleep(s.done, wait) {
			return
		}
	}
}

// resultValue extracts the sampled number: scalar when present, otherwise
// the newest point.
func resultValue(res metric.QueryResult) (float64, bool) {
	if res.Scalar != nil {
		return *res.Scalar, true
	}
	if len(res.Points) > 0 {
		return res.Points[len(res.Points)-1].Value, true
	}
	return 0, false
}

// Pause suspends sampling; history is preserved.
func (m *StreamManager) Pause(id string) { m.withStream(id, func(s *stream) { s.setStatus(StreamPaused) }) }

// Resume restarts a paused stream.
func (m *StreamManager) Resume(id string) {
	m.withStream(id, func(s *stream) {
		if s.getStatus() == StreamPaused {
			s.setStatus(StreamRunning)
		}
	})
}

// Stop terminates a stream's goroutine. Its history remains readable.
func (m *StreamManager) Stop(id string) {
	m.withStream(id, func(s *stream) {
		if s.getStatus() != StreamStopped {
			s.setStatus(StreamStopped)
			close(s.done)
		}
	})
}

// StopAll terminates every stream.
func (m *StreamManager) StopAll() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.streams))
	for id := range m.streams {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	for _, id := range ids {
		m.Stop(id)
	}
}

// Status returns a stream's lifecycle state, or "" when unknown.
func (m *StreamManager) Status(id string) StreamStatus {
	m.mu.Lock()
	s := m.streams[id]
	m.mu.Unlock()
	if s == nil {
		return ""
	}
	return s.getStatus()
}

// History returns a copy of a stream's buffered points, oldest first.
func (m *StreamManager) History(id string) []StreamPoint {
	m.mu.Lock()
	s := m.streams[id]
	m.mu.Unlock()
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]StreamPoint(nil), s.history...)
}

func (m *StreamManager) withStream(id string, fn func(*stream)) {
	m.mu.Lock()
	s := m.streams[id]
	m.mu.Unlock()
	if s != nil {
		fn(s)
	}
}

func sleepDone(done chan struct{}, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-done:
		return false
	}
}
