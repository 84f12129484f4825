package busrpc

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"
)

// HandlerFunc serves one call. The returned value is JSON encoded into the
// reply; a non-nil error becomes an error reply carrying err.Error().
type HandlerFunc func(c *Context) (any, error)

// Context carries the decoded arguments of one call.
type Context struct {
	ctx           context.Context
	consumer      string
	correlationID string
	args          []json.RawMessage
	kwargs        map[string]json.RawMessage
	logger        *zap.Logger
	// handlers abandoned by Timeout, nil outside a server
	linger *lingerSet
}

// NewContext builds a handler context, mostly useful to test handlers
// without a bus.
func NewContext(ctx context.Context, consumer string, args []json.RawMessage, kwargs map[string]json.RawMessage) *Context {
	if kwargs == nil {
		kwargs = map[string]json.RawMessage{}
	}
	return &Context{ctx: ctx, consumer: consumer, args: args, kwargs: kwargs, logger: zap.NewNop()}
}

// Ctx is cancelled when the server shuts down.
func (c *Context) Ctx() context.Context { return c.ctx }

func (c *Context) Consumer() string { return c.consumer }

func (c *Context) CorrelationID() string { return c.correlationID }

func (c *Context) Logger() *zap.Logger { return c.logger }

func (c *Context) NArgs() int { return len(c.args) }

func (c *Context) Args() []json.RawMessage { return c.args }

func (c *Context) Kwargs() map[string]json.RawMessage { return c.kwargs }

// Arg decodes positional argument i into v.
func (c *Context) Arg(i int, v any) error {
	if i < 0 || i >= len(c.args) {
		return fmt.Errorf("%w: positional %d of %d", ErrMissingArgument, i, len(c.args))
	}
	return json.Unmarshal(c.args[i], v)
}

// Kwarg decodes the named argument into v.
func (c *Context) Kwarg(name string, v any) error {
	raw, ok := c.kwargs[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrMissingArgument, name)
	}
	return json.Unmarshal(raw, v)
}

func (c *Context) HasKwarg(name string) bool {
	_, ok := c.kwargs[name]
	return ok
}

// Bind decodes all named arguments into a struct or map.
func (c *Context) Bind(v any) error {
	b, err := json.Marshal(c.kwargs)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}

// argsForLog renders the arguments for error logs.
func (c *Context) argsForLog() []zap.Field {
	args := make([]string, len(c.args))
	for i, a := range c.args {
		args[i] = string(a)
	}
	kwargs := make(map[string]string, len(c.kwargs))
	for k, v := range c.kwargs {
		kwargs[k] = string(v)
	}
	return []zap.Field{zap.Strings("args", args), zap.Any("kwargs", kwargs)}
}
