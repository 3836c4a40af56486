package alert

import (
	"errors"
	"testing"
	"time"

	"github.com/floworc/floworc/metric"
)

// scriptedReader returns a fixed sequence of values for any query.
type scriptedReader struct {
	values []float64
	index  int
}

func (r *scriptedReader) Query(q string) metric.QueryResult {
	if r.index >= len(r.values) {
		return metric.QueryResult{Err: "script exhausted"}
	}
	v := r.values[r.index]
	r.index++
	return metric.QueryResult{Scalar: &v}
}

func TestConditionEvaluate(t *testing.T) {
	cases := []struct {
		op    Operator
		value float64
		want  bool
	}{
		{OpGreaterThan, 6, true},
		{OpGreaterThan, 5, false},
		{OpGreaterEqual, 5, true},
		{OpLessThan, 4, true},
		{OpLessEqual, 5, true},
		{OpEqual, 5, true},
		{OpNotEqual, 4, true},
		{OpNotEqual, 5, false},
	}
	for _, tc := range cases {
		t.Run(string(tc.op), func(t *testing.T) {
			c := Condition{Operator: tc.op, Threshold: 5}
			got, err := c.Evaluate(tc.value)
			if err != nil {
				t.Fatalf("Evaluate: %v", err)
			}
			if got != tc.want {
				t.Errorf("%s(%v vs 5) = %v, want %v", tc.op, tc.value, got, tc.want)
			}
		})
	}

	if _, err := (Condition{Operator: "between"}).Evaluate(1); err == nil {
		t.Error("unknown operator accepted")
	}
}

func TestAddRuleSeverity(t *testing.T) {
	e := NewEngine(&scriptedReader{}, time.Second)
	cond := []Condition{{Query: "q", Operator: OpGreaterThan, Threshold: 1}}

	for _, sev := range []Severity{SeverityInfo, SeverityWarning, SeverityError, SeverityCritical, ""} {
		if err := e.AddRule(&Rule{ID: "r", Conditions: cond, Severity: sev}); err != nil {
			t.Errorf("AddRule(severity %q): %v", sev, err)
		}
	}
	if err := e.AddRule(&Rule{ID: "r", Conditions: cond, Severity: "fatal"}); err == nil {
		t.Error("unknown severity accepted")
	}
}

func TestAlertStateMachineSequence(t *testing.T) {
	// Error rate ticks crossing a 0.05 threshold; min-duration five ticks at
	// a one-second interval. The rule must pass through a full PENDING run
	// before FIRING, then resolve on recovery, with exactly three
	// transitions along the way.
	reader := &scriptedReader{values: []float64{0.02, 0.08, 0.09, 0.07, 0.10, 0.11, 0.04}}
	e := NewEngine(reader, time.Second)
	if err := e.AddRule(&Rule{
		ID:          "error-rate",
		Name:        "error rate high",
		Enabled:     true,
		Severity:    SeverityCritical,
		MinDuration: 5 * time.Second,
		Conditions: []Condition{
			{Query: "error_rate", Operator: OpGreaterThan, Threshold: 0.05},
		},
	}); err != nil {
		t.Fatalf("AddRule: %v", err)
	}

	var dispatched []Event
	e.OnEvent(func(ev Event) { dispatched = append(dispatched, ev) })

	wantStates := []State{
		StateOK, StatePending, StatePending, StatePending, StatePending, StateFiring, StateResolved,
	}
	for i, want := range wantStates {
		e.EvaluateOnce()
		if got := e.RuleState("error-rate"); got != want {
			t.Fatalf("tick %d: state = %s, want %s", i+1, got, want)
		}
	}

	if len(dispatched) != 3 {
		t.Fatalf("events = %d, want exactly 3", len(dispatched))
	}
	transitions := []struct{ prev, next State }{
		{StateOK, StatePending},
		{StatePending, StateFiring},
		{StateFiring, StateResolved},
	}
	for i, want := range transitions {
		if dispatched[i].PrevState != want.prev || dispatched[i].State != want.next {
			t.Errorf("event %d: %s->%s, want %s->%s",
				i, dispatched[i].PrevState, dispatched[i].State, want.prev, want.next)
		}
	}
	if dispatched[1].Values["error_rate"] != 0.11 {
		t.Errorf("firing event value = %v, want 0.11", dispatched[1].Values["error_rate"])
	}
}

func TestAlertResolvedResetsToOK(t *testing.T) {
	reader := &scriptedReader{values: []float64{1, 0, 0}}
	e := NewEngine(reader, time.Second)
	_ = e.AddRule(&Rule{
		ID:      "r",
		Enabled: true,
		Conditions: []Condition{
			{Query: "m", Operator: OpGreaterThan, Threshold: 0.5},
		},
	})

	e.EvaluateOnce() // fires immediately with zero min-duration
	if got := e.RuleState("r"); got != StateFiring {
		t.Fatalf("state = %s, want firing", got)
	}
	e.EvaluateOnce()
	if got := e.RuleState("r"); got != StateResolved {
		t.Fatalf("state = %s, want resolved", got)
	}
	e.EvaluateOnce()
	if got := e.RuleState("r"); got != StateOK {
		t.Fatalf("state = %s, want ok after resolved tick", got)
	}
}

func TestAlertSilencedRuleSkipsEvaluation(t *testing.T) {
	reader := &scriptedReader{values: []float64{1, 1, 1}}
	e := NewEngine(reader, time.Second)
	until := time.Now().Add(time.Hour)
	_ = e.AddRule(&Rule{
		ID:            "r",
		Enabled:       true,
		SilencedUntil: &until,
		Conditions: []Condition{
			{Query: "m", Operator: OpGreaterThan, Threshold: 0},
		},
	})

	events := e.EvaluateOnce()
	if len(events) != 0 {
		t.Errorf("silenced rule produced events: %v", events)
	}
	if got := e.RuleState("r"); got != StateOK {
		t.Errorf("state = %s, want ok", got)
	}
	if reader.index != 0 {
		t.Errorf("silenced rule read metrics %d times", reader.index)
	}
}

func TestAlertRuleLogic(t *testing.T) {
	// Two conditions, only the first true.
	mk := func(logic Logic) (*Engine, *scriptedReader) {
		reader := &scriptedReader{values: []float64{1, 0}}
		e := NewEngine(reader, time.Second)
		_ = e.AddRule(&Rule{
			ID:      "r",
			Enabled: true,
			Logic:   logic,
			Conditions: []Condition{
				{Query: "a", Operator: OpGreaterThan, Threshold: 0.5},
				{Query: "b", Operator: OpGreaterThan, Threshold: 0.5},
			},
		})
		return e, reader
	}

	e, _ := mk(LogicAnd)
	e.EvaluateOnce()
	if got := e.RuleState("r"); got != StateOK {
		t.Errorf("and-logic state = %s, want ok", got)
	}

	e, _ = mk(LogicOr)
	e.EvaluateOnce()
	if got := e.RuleState("r"); got != StateFiring {
		t.Errorf("or-logic state = %s, want firing", got)
	}
}

func TestTicksToFire(t *testing.T) {
	cases := []struct {
		minDuration, interval time.Duration
		want                  int
	}{
		{0, time.Second, 1},
		{5 * time.Second, time.Second, 5},
		{time.Minute, 30 * time.Second, 2},
		{10 * time.Second, time.Minute, 1},
	}
	for _, tc := range cases {
		if got := ticksToFire(tc.minDuration, tc.interval); got != tc.want {
			t.Errorf("ticksToFire(%v, %v) = %d, want %d", tc.minDuration, tc.interval, got, tc.want)
		}
	}
}

// countingChannel records deliveries.
type countingChannel struct {
	channelBase
	sent []Event
	err  error
}

func (c *countingChannel) Send(ev Event) bool {
	return c.send(func() error {
		if c.err != nil {
			return c.err
		}
		c.sent = append(c.sent, ev)
		return nil
	})
}

func TestChannelRateCap(t *testing.T) {
	c := &countingChannel{channelBase: newChannelBase("test", 2)}
	ev := Event{RuleID: "r", State: StateFiring}

	if !c.Send(ev) || !c.Send(ev) {
		t.Fatal("sends under the cap refused")
	}
	if c.Send(ev) {
		t.Error("send over the cap allowed")
	}
	if len(c.sent) != 2 {
		t.Errorf("delivered = %d, want 2 (cap enforced before delivery)", len(c.sent))
	}

	// A new window restores the allowance.
	c.limiter.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	if !c.Send(ev) {
		t.Error("send after window reset refused")
	}
}

func TestChannelLastError(t *testing.T) {
	c := &countingChannel{channelBase: newChannelBase("test", 10), err: errors.New("smtp down")}
	if c.Send(Event{}) {
		t.Error("failed delivery reported success")
	}
	if c.LastError() == nil || c.LastError().Error() != "smtp down" {
		t.Errorf("LastError = %v", c.LastError())
	}

	c.err = nil
	if !c.Send(Event{}) {
		t.Error("recovered delivery refused")
	}
	if c.LastError() != nil {
		t.Errorf("LastError after recovery = %v", c.LastError())
	}
}

func TestEmailChannelComposesMessage(t *testing.T) {
	var gotTo []string
	var gotSubject, gotBody string
	c := NewEmailChannel("mail", []string{"ops@example.com"}, func(to []string, subject, body string) error {
		gotTo, gotSubject, gotBody = to, subject, body
		return nil
	}, 10)

	ok := c.Send(Event{
		RuleName: "disk full",
		State:    StateFiring,
		Severity: SeverityCritical,
		Message:  "disk above 90%",
	})
	if !ok {
		t.Fatal("send failed")
	}
	if len(gotTo) != 1 || gotTo[0] != "ops@example.com" {
		t.Errorf("to = %v", gotTo)
	}
	if gotSubject != "[critical] disk full is firing" {
		t.Errorf("subject = %q", gotSubject)
	}
	if gotBody == "" {
		t.Error("empty body")
	}
}
