package metric

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

// QueryResult is the answer to one query: either a vector of points, a
// scalar, a list of label values, or an error. Timing and scan counters are
// always populated.
type QueryResult struct {
	Points          []Point  `json:"points,omitempty"`
	Scalar          *float64 `json:"scalar,omitempty"`
	Values          []string `json:"values,omitempty"`
	Err             string   `json:"error,omitempty"`
	ExecutionTimeMS float64  `json:"execution_time_ms"`
	PointsScanned   int      `json:"points_scanned"`
}

func scalarResult(v float64) QueryResult {
	return QueryResult{Scalar: &v}
}

// DefaultLookback is the range used for a selector without an explicit
// [N...] suffix.
const DefaultLookback = time.Hour

// QueryEngine evaluates a PromQL-style subset over tiered storage:
//
//	metric_name
//	metric_name{label="value", other="v2"}
//	metric_name[5m]
//	sum(expr) avg(expr) min(expr) max(expr) count(expr)
//	rate(expr) increase(expr) delta(expr) absent(expr)
//	histogram_quantile(0.95, expr)
//	label_values(expr, "label")
type QueryEngine struct {
	storage *Storage

	// now is swappable for tests.
	now func() time.Time
}

// NewQueryEngine creates a query engine over the given storage.
func NewQueryEngine(storage *Storage) *QueryEngine {
	return &QueryEngine{storage: storage, now: time.Now}
}

var funcCallRe = regexp.MustCompile(`^(\w+)\((.*)\)$`)

// selector is a parsed metric reference.
type selector struct {
	name     string
	labels   map[string]string
	lookback time.Duration
}

var selectorRe = regexp.MustCompile(`^([a-zA-Z_:][a-zA-Z0-9_:.]*)(\{[^}]*\})?(\[[^\]]+\])?$`)
var labelPairRe = regexp.MustCompile(`([a-zA-Z_][a-zA-Z0-9_]*)\s*=\s*"([^"]*)"`)

// Query evaluates the expression and never panics; malformed queries come
// back in the Err field.
func (e *QueryEngine) Query(q string) QueryResult {
	started := time.Now()
	result := e.eval(strings.TrimSpace(q))
	result.ExecutionTimeMS = float64(time.Since(started).Microseconds()) / 1000
	return result
}

func (e *QueryEngine) eval(q string) QueryResult {
	if m := funcCallRe.FindStringSubmatch(q); m != nil {
		return e.evalFunc(m[1], strings.TrimSpace(m[2]))
	}
	sel, err := parseSelector(q)
	if err != nil {
		return QueryResult{Err: err.Error()}
	}
	points, scanned := e.selectPoints(sel)
	return QueryResult{Points: points, PointsScanned: scanned}
}

func (e *QueryEngine) evalFunc(fn, arg string) QueryResult {
	switch fn {
	case "sum", "avg", "min", "max", "count", "rate", "increase", "delta", "absent":
		inner := e.eval(arg)
		if inner.Err != "" {
			return inner
		}
		out := e.applyVectorFunc(fn, inner.Points)
		out.PointsScanned = inner.PointsScanned
		return out
	case "histogram_quantile":
		qStr, rest, ok := splitFirstArg(arg)
		if !ok {
			return QueryResult{Err: "histogram_quantile wants (q, expr)"}
		}
		quantile, err := strconv.ParseFloat(strings.TrimSpace(qStr), 64)
		if err != nil || quantile <= 0 || quantile > 1 {
			return QueryResult{Err: fmt.Sprintf("bad quantile %q", qStr)}
		}
		inner := e.eval(rest)
		if inner.Err != "" {
			return inner
		}
		values := make([]float64, len(inner.Points))
		for i, p := range inner.Points {
			values[i] = p.Value
		}
		out := scalarResult(Percentile(values, quantile))
		out.PointsScanned = inner.PointsScanned
		return out
	case "label_values":
		exprStr, labelArg, ok := splitLastArg(arg)
		if !ok {
			return QueryResult{Err: "label_values wants (expr, \"label\")"}
		}
		label := strings.Trim(strings.TrimSpace(labelArg), `"`)
		inner := e.eval(exprStr)
		if inner.Err != "" {
			return inner
		}
		seen := make(map[string]struct{})
		for _, p := range inner.Points {
			if v, ok := p.Labels[label]; ok {
				seen[v] = struct{}{}
			}
		}
		values := make([]string, 0, len(seen))
		for v := range seen {
			values = append(values, v)
		}
		sort.Strings(values)
		return QueryResult{Values: values, PointsScanned: inner.PointsScanned}
	default:
		return QueryResult{Err: fmt.Sprintf("unknown function %q", fn)}
	}
}

func (e *QueryEngine) applyVectorFunc(fn string, points []Point) QueryResult {
	values := make([]float64, len(points))
	for i, p := range points {
		values[i] = p.Value
	}
	switch fn {
	case "sum":
		return scalarResult(sum(values))
	case "avg":
		if len(values) == 0 {
			return scalarResult(0)
		}
		return scalarResult(sum(values) / float64(len(values)))
	case "min":
		if len(values) == 0 {
			return scalarResult(0)
		}
		m := values[0]
		for _, v := range values[1:] {
			if v < m {
				m = v
			}
		}
		return scalarResult(m)
	case "max":
		if len(values) == 0 {
			return scalarResult(0)
		}
		m := values[0]
		for _, v := range values[1:] {
			if v > m {
				m = v
			}
		}
		return scalarResult(m)
	case "count":
		return scalarResult(float64(len(values)))
	case "rate":
		return scalarResult(ratePerSecond(points))
	case "increase":
		return scalarResult(increase(values))
	case "delta":
		if len(values) == 0 {
			return scalarResult(0)
		}
		return scalarResult(values[len(values)-1] - values[0])
	case "absent":
		if len(points) == 0 {
			return scalarResult(1)
		}
		return scalarResult(0)
	}
	return QueryResult{Err: fmt.Sprintf("unknown function %q", fn)}
}

func (e *QueryEngine) selectPoints(sel selector) ([]Point, int) {
	end := e.now()
	start := end.Add(-sel.lookback)
	points, _ := e.storage.Read(sel.name, start, end)
	scanned := len(points)
	if len(sel.labels) == 0 {
		return points, scanned
	}
	var out []Point
	for _, p := range points {
		match := true
		for k, want := range sel.labels {
			if p.Labels[k] != want {
				match = false
				break
			}
		}
		if match {
			out = append(out, p)
		}
	}
	return out, scanned
}

func parseSelector(q string) (selector, error) {
	m := selectorRe.FindStringSubmatch(q)
	if m == nil {
		return selector{}, fmt.Errorf("malformed query %q", q)
	}
	sel := selector{name: m[1], lookback: DefaultLookback}
	if m[2] != "" {
		sel.labels = make(map[string]string)
		for _, pair := range labelPairRe.FindAllStringSubmatch(m[2], -1) {
			sel.labels[pair[1]] = pair[2]
		}
	}
	if m[3] != "" {
		d, err := ParseInterval(strings.Trim(m[3], "[]"))
		if err != nil {
			return selector{}, fmt.Errorf("range %s: %w", m[3], err)
		}
		sel.lookback = d
	}
	return sel, nil
}

// splitFirstArg splits "a, rest" at the first top-level comma.
func splitFirstArg(s string) (first, rest string, ok bool) {
	depth := 0
	for i, r := range s {
		switch r {
		case '(', '{', '[':
			depth++
		case ')', '}', ']':
			depth--
		case ',':
			if depth == 0 {
				return s[:i], strings.TrimSpace(s[i+1:]), true
			}
		}
	}
	return "", "", false
}

// splitLastArg splits "expr, last" at the final top-level comma.
func splitLastArg(s string) (expr, last string, ok bool) {
	depth := 0
	idx := -1
	for i, r := range s {
		switch r {
		case '(', '{', '[':
			depth++
		case ')', '}', ']':
			depth--
		case ',':
			if depth == 0 {
				idx = i
			}
		}
	}
	if idx < 0 {
		return "", "", false
	}
	return strings.TrimSpace(s[:idx]), strings.TrimSpace(s[idx+1:]), true
}
