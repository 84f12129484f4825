package busrpc

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

type callOptions struct {
	args         []any
	kwargs       map[string]any
	exchange     string
	routingKey   string
	timeout      time.Duration
	hasTimeout   bool
	ignoreResult bool
	err          error
}

// CallOption tunes a single Call.
type CallOption func(*callOptions)

// WithArgs appends positional arguments.
func WithArgs(args ...any) CallOption {
	return func(o *callOptions) { o.args = append(o.args, args...) }
}

// WithKwarg sets one named argument.
func WithKwarg(name string, v any) CallOption {
	return func(o *callOptions) {
		if o.kwargs == nil {
			o.kwargs = make(map[string]any)
		}
		o.kwargs[name] = v
	}
}

// WithKwargs merges named arguments.
func WithKwargs(kw map[string]any) CallOption {
	return func(o *callOptions) {
		for k, v := range kw {
			WithKwarg(k, v)(o)
		}
	}
}

func WithExchange(name string) CallOption {
	return func(o *callOptions) { o.exchange = name }
}

func WithRoutingKey(key string) CallOption {
	return func(o *callOptions) { o.routingKey = key }
}

// WithTimeout bounds the wait for the reply. A negative duration is a usage
// error.
func WithTimeout(d time.Duration) CallOption {
	return func(o *callOptions) {
		if d < 0 {
			o.err = fmt.Errorf("%w: %s", ErrInvalidTimeout, d)
			return
		}
		o.timeout, o.hasTimeout = d, true
	}
}

// WithTimeoutValue accepts a timeout in seconds from loosely typed input
// (flags, config, JSON). nil means no timeout. Values that are not numbers
// fail the call before anything is published. Values past the range of
// time.Duration are clamped to the longest duration.
func WithTimeoutValue(v any) CallOption {
	return func(o *callOptions) {
		if v == nil {
			o.timeout, o.hasTimeout = 0, false
			return
		}
		secs, err := toSeconds(v)
		if err != nil {
			o.err = err
			return
		}
		ns := secs * float64(time.Second)
		if ns >= math.MaxInt64 {
			WithTimeout(time.Duration(math.MaxInt64))(o)
			return
		}
		WithTimeout(time.Duration(ns))(o)
	}
}

// IgnoreResult returns as soon as the request is published. A reply that
// shows up later is dropped.
func IgnoreResult() CallOption {
	return func(o *callOptions) { o.ignoreResult = true }
}

func toSeconds(v any) (float64, error) {
	var f float64
	switch t := v.(type) {
	case time.Duration:
		f = t.Seconds()
	case float64:
		f = t
	case float32:
		f = float64(t)
	case int:
		f = float64(t)
	case int64:
		f = float64(t)
	case int32:
		f = float64(t)
	case uint:
		f = float64(t)
	case uint64:
		f = float64(t)
	case string:
		p, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrInvalidTimeout, t)
		}
		f = p
	default:
		return 0, fmt.Errorf("%w: %T", ErrInvalidTimeout, v)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) || f < 0 {
		return 0, fmt.Errorf("%w: %v", ErrInvalidTimeout, v)
	}
	return f, nil
}
