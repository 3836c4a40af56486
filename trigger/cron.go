package trigger

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Schedule is a parsed five-field cron expression
// (minute hour day month weekday).
type Schedule struct {
	expression string
	minute     map[int]bool
	hour       map[int]bool
	day        map[int]bool
	month      map[int]bool
	weekday    map[int]bool
}

// ParseSchedule parses a cron expression supporting wildcards, values,
// ranges, steps, and lists: `* N N-M */S N,M`.
func ParseSchedule(expr string) (*Schedule, error) {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return nil, fmt.Errorf("cron %q: want 5 fields, got %d", expr, len(fields))
	}
	bounds := []struct {
		name     string
		min, max int
	}{
		{"minute", 0, 59},
		{"hour", 0, 23},
		{"day", 1, 31},
		{"month", 1, 12},
		{"weekday", 0, 6},
	}
	sets := make([]map[int]bool, 5)
	for i, field := range fields {
		set, err := parseCronField(field, bounds[i].min, bounds[i].max)
		if err != nil {
			return nil, fmt.Errorf("cron %q: %s field: %w", expr, bounds[i].name, err)
		}
		sets[i] = set
	}
	return &Schedule{
		expression: expr,
		minute:     sets[0],
		hour:       sets[1],
		day:        sets[2],
		month:      sets[3],
		weekday:    sets[4],
	}, nil
}

func parseCronField(field string, min, max int) (map[int]bool, error) {
	set := make(map[int]bool)
	for _, part := range strings.Split(field, ",") {
		lo, hi, step := min, max, 1

		if idx := strings.Index(part, "/"); idx >= 0 {
			s, err := strconv.Atoi(part[idx+1:])
			if err != nil || s < 1 {
				return nil, fmt.Errorf("bad step %q", part)
			}
			step = s
			part = part[:idx]
		}

		switch {
		case part == "*":
			// full range
		case strings.Contains(part, "-"):
			bounds := strings.SplitN(part, "-", 2)
			a, errA := strconv.Atoi(bounds[0])
			b, errB := strconv.Atoi(bounds[1])
			if errA != nil || errB != nil || a > b {
				return nil, fmt.Errorf("bad range %q", part)
			}
			lo, hi = a, b
		default:
			n, err := strconv.Atoi(part)
			if err != nil {
				return nil, fmt.Errorf("bad value %q", part)
			}
			lo, hi = n, n
		}

		if lo < min || hi > max {
			return nil, fmt.Errorf("value out of range [%d-%d]: %q", min, max, part)
		}
		for v := lo; v <= hi; v += step {
			set[v] = true
		}
	}
	return set, nil
}

// String returns the original expression.
func (s *Schedule) String() string { return s.expression }

// Matches reports whether the schedule fires at the given minute.
func (s *Schedule) Matches(t time.Time) bool {
	return s.minute[t.Minute()] &&
		s.hour[t.Hour()] &&
		s.day[t.Day()] &&
		s.month[int(t.Month())] &&
		s.weekday[int(t.Weekday())]
}

// NextRun returns the first matching minute strictly after the given time,
// scanning minute by minute up to one year ahead. ok is false when no minute
// in that horizon matches.
func (s *Schedule) NextRun(after time.Time) (next time.Time, ok bool) {
	t := after.Truncate(time.Minute).Add(time.Minute)
	horizon := after.AddDate(1, 0, 0)
	for !t.After(horizon) {
		if s.Matches(t) {
			return t, true
		}
		t = t.Add(time.Minute)
	}
	return time.Time{}, false
}

// CronConfig configures a scheduled trigger.
type CronConfig struct {
	// Expression is the five-field cron expression.
	Expression string `json:"expression"`

	// RetryOnFailure retries a failed firing.
	RetryOnFailure bool `json:"retry_on_failure,omitempty"`

	// MaxRetries bounds the retries after the first failed attempt.
	MaxRetries int `json:"max_retries,omitempty"`

	// RetryDelaySeconds is the pause between retry attempts.
	RetryDelaySeconds int `json:"retry_delay_seconds,omitempty"`
}

// Cron fires a workflow on a schedule. Start launches the runner goroutine;
// Stop terminates it. Pause keeps the runner alive but firing is refused by
// the shared lifecycle until Resume.
type Cron struct {
	base
	cfg      CronConfig
	schedule *Schedule
	done     chan struct{}

	// now and sleep are swappable for tests.
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) bool
}

// NewCron creates a scheduled trigger, validating the expression.
func NewCron(id, workflowID string, d Dispatcher, cfg CronConfig) (*Cron, error) {
	schedule, err := ParseSchedule(cfg.Expression)
	if err != nil {
		return nil, err
	}
	return &Cron{
		base:     newBase(id, workflowID, d),
		cfg:      cfg,
		schedule: schedule,
		now:      time.Now,
		sleep:    sleepCtx,
	}, nil
}

// Schedule returns the parsed cron schedule.
func (c *Cron) Schedule() *Schedule { return c.schedule }

// Start moves the trigger to started and launches the runner loop.
func (c *Cron) Start() error {
	if err := c.base.Start(); err != nil {
		return err
	}
	c.done = make(chan struct{})
	go c.run(c.done)
	return nil
}

// Stop terminates the runner.
func (c *Cron) Stop() {
	c.base.Stop()
	if c.done != nil {
		close(c.done)
		c.done = nil
	}
}

func (c *Cron) run(done chan struct{}) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-done
		cancel()
	}()

	for {
		next, ok := c.schedule.NextRun(c.now())
		if !ok {
			return
		}
		if !c.sleep(ctx, next.Sub(c.now())) {
			return
		}
		c.fireWithRetry(ctx, next)
	}
}

// fireWithRetry fires once and, when configured, retries failures up to
// MaxRetries with RetryDelaySeconds between attempts.
func (c *Cron) fireWithRetry(ctx context.Context, scheduled time.Time) Result {
	meta := map[string]any{
		"source":       "cron",
		"expression":   c.cfg.Expression,
		"scheduled_at": scheduled.UTC(),
	}
	res := c.Trigger(ctx, nil, meta)
	if res.Success || !c.cfg.RetryOnFailure {
		return res
	}
	for attempt := 1; attempt <= c.cfg.MaxRetries; attempt++ {
		if c.cfg.RetryDelaySeconds > 0 {
			if !c.sleep(ctx, time.Duration(c.cfg.RetryDelaySeconds)*time.Second) {
				return res
			}
		}
		meta["retry_attempt"] = attempt
		res = c.Trigger(ctx, nil, meta)
		if res.Success {
			return res
		}
	}
	return res
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
