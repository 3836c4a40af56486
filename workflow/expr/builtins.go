package expr

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
)

// builtinFunc is the signature shared by every built-in. Arguments arrive
// already evaluated; implementations must not mutate them.
type builtinFunc func(args []any) (any, error)

func builtins() map[string]builtinFunc {
	return map[string]builtinFunc{
		// String helpers.
		"upper":       argStr(strings.ToUpper),
		"lower":       argStr(strings.ToLower),
		"trim":        argStr(strings.TrimSpace),
		"length":      fnLength,
		"split":       fnSplit,
		"join":        fnJoin,
		"replace":     fnReplace,
		"starts_with": fnStartsWith,
		"ends_with":   fnEndsWith,
		"substring":   fnSubstring,

		// Numeric helpers.
		"abs":   argNum(math.Abs),
		"round": argNum(math.Round),
		"floor": argNum(math.Floor),
		"ceil":  argNum(math.Ceil),
		"min":   fnMin,
		"max":   fnMax,
		"sum":   fnSum,
		"avg":   fnAvg,

		// Date helpers.
		"now":         fnNow,
		"today":       fnToday,
		"format_date": fnFormatDate,
		"parse_date":  fnParseDate,
		"add_days":    fnAddDays,
		"diff_days":   fnDiffDays,

		// Collection helpers.
		"first":   fnFirst,
		"last":    fnLast,
		"count":   fnLength,
		"keys":    fnKeys,
		"values":  fnValues,
		"flatten": fnFlatten,
		"unique":  fnUnique,
		"sort":    fnSort,
		"reverse": fnReverse,
		"range":   fnRange,

		// Type helpers.
		"int":       fnInt,
		"float":     fnFloat,
		"str":       fnStr,
		"bool":      fnBool,
		"is_null":   fnIsNull,
		"is_number": fnIsNumber,
		"is_string": fnIsString,
		"to_json":   fnToJSON,
		"from_json": fnFromJSON,
	}
}

func argStr(f func(string) string) builtinFunc {
	return func(args []any) (any, error) {
		if len(args) != 1 {
			return nil, fmt.Errorf("expected 1 argument, got %d", len(args))
		}
		return f(Stringify(args[0])), nil
	}
}

func argNum(f func(float64) float64) builtinFunc {
	return func(args []any) (any, error) {
		if len(args) != 1 {
			return nil, fmt.Errorf("expected 1 argument, got %d", len(args))
		}
		n, ok := toFloat(args[0])
		if !ok {
			return nil, fmt.Errorf("expected a number, got %T", args[0])
		}
		return f(n), nil
	}
}

func fnLength(args []any) (any, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("expected 1 argument, got %d", len(args))
	}
	switch v := args[0].(type) {
	case nil:
		return float64(0), nil
	case string:
		return float64(len(v)), nil
	case []any:
		return float64(len(v)), nil
	case map[string]any:
		return float64(len(v)), nil
	default:
		return nil, fmt.Errorf("cannot take length of %T", v)
	}
}

func fnSplit(args []any) (any, error) {
	if len(args) != 2 {
		return nil, fmt.Errorf("expected 2 arguments, got %d", len(args))
	}
	parts := strings.Split(Stringify(args[0]), Stringify(args[1]))
	out := make([]any, len(parts))
	for i, p := range parts {
		out[i] = p
	}
	return out, nil
}

func fnJoin(args []any) (any, error) {
	if len(args) != 2 {
		return nil, fmt.Errorf("expected 2 arguments, got %d", len(args))
	}
	list, ok := args[0].([]any)
	if !ok {
		return nil, fmt.Errorf("expected a list, got %T", args[0])
	}
	parts := make([]string, len(list))
	for i, v := range list {
		parts[i] = Stringify(v)
	}
	return strings.Join(parts, Stringify(args[1])), nil
}

func fnReplace(args []any) (any, error) {
	if len(args) != 3 {
		return nil, fmt.Errorf("expected 3 arguments, got %d", len(args))
	}
	return strings.ReplaceAll(Stringify(args[0]), Stringify(args[1]), Stringify(args[2])), nil
}

func fnStartsWith(args []any) (any, error) {
	if len(args) != 2 {
		return nil, fmt.Errorf("expected 2 arguments, got %d", len(args))
	}
	return strings.HasPrefix(Stringify(args[0]), Stringify(args[1])), nil
}

func fnEndsWith(args []any) (any, error) {
	if len(args) != 2 {
		return nil, fmt.Errorf("expected 2 arguments, got %d", len(args))
	}
	return strings.HasSuffix(Stringify(args[0]), Stringify(args[1])), nil
}

func fnSubstring(args []any) (any, error) {
	if len(args) < 2 || len(args) > 3 {
		return nil, fmt.Errorf("expected 2 or 3 arguments, got %d", len(args))
	}
	s := []rune(Stringify(args[0]))
	start, ok := toFloat(args[1])
	if !ok {
		return nil, fmt.Errorf("start must be a number")
	}
	from := clampIndex(int(start), len(s))
	to := len(s)
	if len(args) == 3 {
		end, ok := toFloat(args[2])
		if !ok {
			return nil, fmt.Errorf("end must be a number")
		}
		to = clampIndex(int(end), len(s))
	}
	if from > to {
		return "", nil
	}
	return string(s[from:to]), nil
}

func clampIndex(i, n int) int {
	if i < 0 {
		i += n
	}
	if i < 0 {
		return 0
	}
	if i > n {
		return n
	}
	return i
}

func numericArgs(args []any) ([]float64, error) {
	// A single list argument is unwrapped so min([1,2,3]) and min(1,2,3)
	// both work.
	if len(args) == 1 {
		if list, ok := args[0].([]any); ok {
			args = list
		}
	}
	out := make([]float64, 0, len(args))
	for _, a := range args {
		f, ok := toFloat(a)
		if !ok {
			return nil, fmt.Errorf("expected numbers, got %T", a)
		}
		out = append(out, f)
	}
	return out, nil
}

func fnMin(args []any) (any, error) {
	nums, err := numericArgs(args)
	if err != nil {
		return nil, err
	}
	if len(nums) == 0 {
		return nil, nil
	}
	m := nums[0]
	for _, n := range nums[1:] {
		if n < m {
			m = n
		}
	}
	return m, nil
}

func fnMax(args []any) (any, error) {
	nums, err := numericArgs(args)
	if err != nil {
		return nil, err
	}
	if len(nums) == 0 {
		return nil, nil
	}
	m := nums[0]
	for _, n := range nums[1:] {
		if n > m {
			m = n
		}
	}
	return m, nil
}

func fnSum(args []any) (any, error) {
	nums, err := numericArgs(args)
	if err != nil {
		return nil, err
	}
	var total float64
	for _, n := range nums {
		total += n
	}
	return total, nil
}

func fnAvg(args []any) (any, error) {
	nums, err := numericArgs(args)
	if err != nil {
		return nil, err
	}
	if len(nums) == 0 {
		return float64(0), nil
	}
	var total float64
	for _, n := range nums {
		total += n
	}
	return total / float64(len(nums)), nil
}

func fnNow(args []any) (any, error) {
	if len(args) != 0 {
		return nil, fmt.Errorf("expected no arguments")
	}
	return time.Now().UTC().Format(time.RFC3339), nil
}

func fnToday(args []any) (any, error) {
	if len(args) != 0 {
		return nil, fmt.Errorf("expected no arguments")
	}
	return time.Now().UTC().Format("2006-01-02"), nil
}

// dateLayouts are tried in order when parsing date arguments.
var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func parseDateArg(v any) (time.Time, error) {
	s := Stringify(v)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", s)
}

func fnFormatDate(args []any) (any, error) {
	if len(args) != 2 {
		return nil, fmt.Errorf("expected 2 arguments, got %d", len(args))
	}
	t, err := parseDateArg(args[0])
	if err != nil {
		return nil, err
	}
	return t.Format(Stringify(args[1])), nil
}

func fnParseDate(args []any) (any, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("expected 1 argument, got %d", len(args))
	}
	t, err := parseDateArg(args[0])
	if err != nil {
		return nil, err
	}
	return t.UTC().Format(time.RFC3339), nil
}

func fnAddDays(args []any) (any, error) {
	if len(args) != 2 {
		return nil, fmt.Errorf("expected 2 arguments, got %d", len(args))
	}
	t, err := parseDateArg(args[0])
	if err != nil {
		return nil, err
	}
	days, ok := toFloat(args[1])
	if !ok {
		return nil, fmt.Errorf("days must be a number")
	}
	return t.AddDate(0, 0, int(days)).Format(time.RFC3339), nil
}

func fnDiffDays(args []any) (any, error) {
	if len(args) != 2 {
		return nil, fmt.Errorf("expected 2 arguments, got %d", len(args))
	}
	a, err := parseDateArg(args[0])
	if err != nil {
		return nil, err
	}
	b, err := parseDateArg(args[1])
	if err != nil {
		return nil, err
	}
	return math.Trunc(a.Sub(b).Hours() / 24), nil
}

func fnFirst(args []any) (any, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("expected 1 argument, got %d", len(args))
	}
	if list, ok := args[0].([]any); ok && len(list) > 0 {
		return list[0], nil
	}
	return nil, nil
}

func fnLast(args []any) (any, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("expected 1 argument, got %d", len(args))
	}
	if list, ok := args[0].([]any); ok && len(list) > 0 {
		return list[len(list)-1], nil
	}
	return nil, nil
}

func fnKeys(args []any) (any, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("expected 1 argument, got %d", len(args))
	}
	m, ok := args[0].(map[string]any)
	if !ok {
		return []any{}, nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]any, len(keys))
	for i, k := range keys {
		out[i] = k
	}
	return out, nil
}

func fnValues(args []any) (any, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("expected 1 argument, got %d", len(args))
	}
	m, ok := args[0].(map[string]any)
	if !ok {
		return []any{}, nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]any, len(keys))
	for i, k := range keys {
		out[i] = m[k]
	}
	return out, nil
}

func fnFlatten(args []any) (any, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("expected 1 argument, got %d", len(args))
	}
	list, ok := args[0].([]any)
	if !ok {
		return args[0], nil
	}
	out := make([]any, 0, len(list))
	for _, v := range list {
		if inner, ok := v.([]any); ok {
			out = append(out, inner...)
		} else {
			out = append(out, v)
		}
	}
	return out, nil
}

func fnUnique(args []any) (any, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("expected 1 argument, got %d", len(args))
	}
	list, ok := args[0].([]any)
	if !ok {
		return args[0], nil
	}
	var out []any
	for _, v := range list {
		dup := false
		for _, seen := range out {
			if valuesEqual(seen, v) {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, v)
		}
	}
	if out == nil {
		out = []any{}
	}
	return out, nil
}

func fnSort(args []any) (any, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("expected 1 argument, got %d", len(args))
	}
	list, ok := args[0].([]any)
	if !ok {
		return args[0], nil
	}
	out := make([]any, len(list))
	copy(out, list)
	sort.SliceStable(out, func(i, j int) bool {
		if fi, ok := toFloat(out[i]); ok {
			if fj, ok := toFloat(out[j]); ok {
				return fi < fj
			}
		}
		return Stringify(out[i]) < Stringify(out[j])
	})
	return out, nil
}

func fnReverse(args []any) (any, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("expected 1 argument, got %d", len(args))
	}
	switch v := args[0].(type) {
	case []any:
		out := make([]any, len(v))
		for i, e := range v {
			out[len(v)-1-i] = e
		}
		return out, nil
	case string:
		runes := []rune(v)
		for i, j := 0, len(runes)-1; i < j; i, j = i+1, j-1 {
			runes[i], runes[j] = runes[j], runes[i]
		}
		return string(runes), nil
	default:
		return args[0], nil
	}
}

func fnRange(args []any) (any, error) {
	if len(args) < 1 || len(args) > 2 {
		return nil, fmt.Errorf("expected 1 or 2 arguments, got %d", len(args))
	}
	start := 0.0
	var end float64
	if len(args) == 1 {
		f, ok := toFloat(args[0])
		if !ok {
			return nil, fmt.Errorf("expected a number")
		}
		end = f
	} else {
		sf, ok := toFloat(args[0])
		if !ok {
			return nil, fmt.Errorf("expected a number")
		}
		ef, ok := toFloat(args[1])
		if !ok {
			return nil, fmt.Errorf("expected a number")
		}
		start, end = sf, ef
	}
	var out []any
	for i := start; i < end; i++ {
		out = append(out, i)
	}
	if out == nil {
		out = []any{}
	}
	return out, nil
}

func fnInt(args []any) (any, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("expected 1 argument, got %d", len(args))
	}
	if f, ok := toFloat(args[0]); ok {
		return math.Trunc(f), nil
	}
	if s, ok := args[0].(string); ok {
		var f float64
		if _, err := fmt.Sscanf(strings.TrimSpace(s), "%g", &f); err == nil {
			return math.Trunc(f), nil
		}
	}
	return nil, fmt.Errorf("cannot convert %T to int", args[0])
}

func fnFloat(args []any) (any, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("expected 1 argument, got %d", len(args))
	}
	if f, ok := toFloat(args[0]); ok {
		return f, nil
	}
	if s, ok := args[0].(string); ok {
		var f float64
		if _, err := fmt.Sscanf(strings.TrimSpace(s), "%g", &f); err == nil {
			return f, nil
		}
	}
	return nil, fmt.Errorf("cannot convert %T to float", args[0])
}

func fnStr(args []any) (any, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("expected 1 argument, got %d", len(args))
	}
	return Stringify(args[0]), nil
}

func fnBool(args []any) (any, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("expected 1 argument, got %d", len(args))
	}
	return isTruthy(args[0]), nil
}

func fnIsNull(args []any) (any, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("expected 1 argument, got %d", len(args))
	}
	return args[0] == nil, nil
}

func fnIsNumber(args []any) (any, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("expected 1 argument, got %d", len(args))
	}
	_, ok := toFloat(args[0])
	return ok, nil
}

func fnIsString(args []any) (any, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("expected 1 argument, got %d", len(args))
	}
	_, ok := args[0].(string)
	return ok, nil
}

func fnToJSON(args []any) (any, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("expected 1 argument, got %d", len(args))
	}
	data, err := json.Marshal(args[0])
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func fnFromJSON(args []any) (any, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("expected 1 argument, got %d", len(args))
	}
	var out any
	if err := json.Unmarshal([]byte(Stringify(args[0])), &out); err != nil {
		return nil, err
	}
	return out, nil
}
