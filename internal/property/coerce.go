package property

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// AsBool converts a resolved value to a boolean. Numbers are true when
// non-zero; strings accept the forms understood by strconv.ParseBool plus
// yes/no/on/off. nil is false.
func AsBool(v any) (bool, error) {
	switch t := v.(type) {
	case nil:
		return false, nil
	case bool:
		return t, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "yes", "on":
			return true, nil
		case "no", "off", "":
			return false, nil
		}
		b, err := strconv.ParseBool(strings.TrimSpace(t))
		if err != nil {
			return false, fmt.Errorf("not a boolean: %q", t)
		}
		return b, nil
	}
	if f, ok := asFloat(v); ok {
		return f != 0, nil
	}
	return false, fmt.Errorf("not a boolean: %T", v)
}

// AsDuration converts a resolved value to a duration. Plain numbers are
// seconds; strings are Go duration strings ("1.5s", "200ms") or numbers of
// seconds.
func AsDuration(v any) (time.Duration, error) {
	switch t := v.(type) {
	case time.Duration:
		return checkDuration(t)
	case string:
		s := strings.TrimSpace(t)
		if d, err := time.ParseDuration(s); err == nil {
			return checkDuration(d)
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, fmt.Errorf("not a duration: %q", t)
		}
		return secondsToDuration(f)
	}
	if f, ok := asFloat(v); ok {
		return secondsToDuration(f)
	}
	return 0, fmt.Errorf("not a duration: %T", v)
}

// AsInt converts a resolved value to an int, rejecting fractions.
func AsInt(v any) (int, error) {
	if s, ok := v.(string); ok {
		i, err := strconv.Atoi(strings.TrimSpace(s))
		if err != nil {
			return 0, fmt.Errorf("not an integer: %q", s)
		}
		return i, nil
	}
	f, ok := asFloat(v)
	if !ok {
		return 0, fmt.Errorf("not an integer: %T", v)
	}
	if f != math.Trunc(f) || math.IsInf(f, 0) || math.IsNaN(f) {
		return 0, fmt.Errorf("not an integer: %v", v)
	}
	return int(f), nil
}

func secondsToDuration(f float64) (time.Duration, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("not a duration: %v", f)
	}
	return checkDuration(time.Duration(f * float64(time.Second)))
}

func checkDuration(d time.Duration) (time.Duration, error) {
	if d < 0 {
		return 0, fmt.Errorf("negative duration: %v", d)
	}
	return d, nil
}

func asFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case int:
		return float64(t), true
	case int8:
		return float64(t), true
	case int16:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	case uint:
		return float64(t), true
	case uint8:
		return float64(t), true
	case uint16:
		return float64(t), true
	case uint32:
		return float64(t), true
	case uint64:
		return float64(t), true
	case float32:
		return float64(t), true
	case float64:
		return t, true
	}
	return 0, false
}
