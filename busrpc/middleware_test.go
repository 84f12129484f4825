package busrpc

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func echo(c *Context) (any, error) { return c.Consumer(), nil }

func slow(c *Context) (any, error) {
	select {
	case <-time.After(200 * time.Millisecond):
		return "late", nil
	case <-c.Ctx().Done():
		return nil, c.Ctx().Err()
	}
}

func testContext() *Context {
	return NewContext(context.Background(), "svc.echo", []json.RawMessage{json.RawMessage(`1`)}, nil)
}

func TestChainOrder(t *testing.T) {
	var trace []string
	mark := func(name string) Middleware {
		return func(next HandlerFunc) HandlerFunc {
			return func(c *Context) (any, error) {
				trace = append(trace, name)
				return next(c)
			}
		}
	}
	h := Chain(mark("a"), mark("b"), mark("c"))(echo)
	v, err := h(testContext())
	require.NoError(t, err)
	assert.Equal(t, "svc.echo", v)
	assert.Equal(t, []string{"a", "b", "c"}, trace)
}

func TestTimeoutMiddleware(t *testing.T) {
	v, err := Timeout(500 * time.Millisecond)(echo)(testContext())
	require.NoError(t, err)
	assert.Equal(t, "svc.echo", v)

	_, err = Timeout(50 * time.Millisecond)(slow)(testContext())
	assert.ErrorIs(t, err, ErrHandlerTimedOut)
}

func TestTimeoutMiddlewareRecoversPanic(t *testing.T) {
	_, err := Timeout(time.Second)(func(*Context) (any, error) { panic("bad") })(testContext())
	require.Error(t, err)
	assert.Equal(t, "bad", err.Error())
}

func TestTimeoutTracksAbandonedHandler(t *testing.T) {
	release := make(chan struct{})
	c := testContext()
	c.linger = &lingerSet{}
	_, err := Timeout(10 * time.Millisecond)(func(*Context) (any, error) {
		<-release
		return nil, nil
	})(c)
	require.ErrorIs(t, err, ErrHandlerTimedOut)

	waited := make(chan struct{})
	go func() {
		c.linger.wait()
		close(waited)
	}()
	select {
	case <-waited:
		t.Fatal("wait returned while the handler still runs")
	case <-time.After(30 * time.Millisecond):
	}
	close(release)
	select {
	case <-waited:
	case <-time.After(time.Second):
		t.Fatal("wait did not return after the handler")
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	h := RateLimit(1, 2)(echo)
	for i := 0; i < 2; i++ {
		_, err := h(testContext())
		require.NoError(t, err, "call %d within burst", i)
	}
	_, err := h(testContext())
	assert.ErrorIs(t, err, ErrRateLimited)
}

func TestLoggingMiddleware(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	logger := zap.New(core)

	_, err := Logging(logger)(echo)(testContext())
	require.NoError(t, err)
	_, err = Logging(logger)(func(*Context) (any, error) { return nil, errors.New("nope") })(testContext())
	require.Error(t, err)

	require.Equal(t, 2, logs.Len())
	assert.Equal(t, "call served", logs.All()[0].Message)
	assert.Equal(t, "call failed", logs.All()[1].Message)
	assert.Equal(t, "svc.echo", logs.All()[0].ContextMap()["consumer"])
}

func TestContextArguments(t *testing.T) {
	c := NewContext(context.Background(), "f",
		[]json.RawMessage{json.RawMessage(`3`), json.RawMessage(`"s"`)},
		map[string]json.RawMessage{"name": json.RawMessage(`"bob"`), "age": json.RawMessage(`40`)})

	var n int
	var s string
	require.NoError(t, c.Arg(0, &n))
	require.NoError(t, c.Arg(1, &s))
	assert.Equal(t, 3, n)
	assert.Equal(t, "s", s)
	assert.ErrorIs(t, c.Arg(2, &s), ErrMissingArgument)
	assert.Equal(t, 2, c.NArgs())

	var name string
	require.NoError(t, c.Kwarg("name", &name))
	assert.Equal(t, "bob", name)
	assert.ErrorIs(t, c.Kwarg("missing", &name), ErrMissingArgument)
	assert.True(t, c.HasKwarg("age"))

	var p struct {
		Name string `json:"name"`
		Age  int    `json:"age"`
	}
	require.NoError(t, c.Bind(&p))
	assert.Equal(t, "bob", p.Name)
	assert.Equal(t, 40, p.Age)
}
