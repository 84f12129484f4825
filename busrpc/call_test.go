package busrpc

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func apply(opts ...CallOption) callOptions {
	var co callOptions
	for _, o := range opts {
		o(&co)
	}
	return co
}

func TestTimeoutValueCoercion(t *testing.T) {
	cases := []struct {
		in   any
		want time.Duration
	}{
		{0.1, 100 * time.Millisecond},
		{float32(0.5), 500 * time.Millisecond},
		{2, 2 * time.Second},
		{int64(1), time.Second},
		{"1.5", 1500 * time.Millisecond},
		{" 3 ", 3 * time.Second},
		{250 * time.Millisecond, 250 * time.Millisecond},
	}
	for _, tc := range cases {
		co := apply(WithTimeoutValue(tc.in))
		require.NoError(t, co.err, "%v", tc.in)
		assert.True(t, co.hasTimeout)
		assert.Equal(t, tc.want, co.timeout, "%v", tc.in)
	}

	co := apply(WithTimeout(time.Second), WithTimeoutValue(nil))
	assert.NoError(t, co.err)
	assert.False(t, co.hasTimeout, "nil clears the timeout")
}

func TestTimeoutValueClampsHugeValues(t *testing.T) {
	for _, in := range []any{1e10, "1e12", uint64(math.MaxUint64), math.MaxFloat64} {
		co := apply(WithTimeoutValue(in))
		require.NoError(t, co.err, "%v", in)
		assert.True(t, co.hasTimeout)
		assert.Equal(t, time.Duration(math.MaxInt64), co.timeout, "%v", in)
	}
}

func TestTimeoutValueRejectsGarbage(t *testing.T) {
	for _, in := range []any{"soon", []int{1}, struct{}{}, -1, math.NaN(), math.Inf(1)} {
		co := apply(WithTimeoutValue(in))
		assert.ErrorIs(t, co.err, ErrInvalidTimeout, "%v", in)
	}
	assert.ErrorIs(t, apply(WithTimeout(-time.Second)).err, ErrInvalidTimeout)
}

func TestArgsAndKwargs(t *testing.T) {
	co := apply(WithArgs(1, "x"), WithArgs(true), WithKwarg("a", 1), WithKwargs(map[string]any{"b": 2}))
	body, err := encodeRequest(co.args, co.kwargs)
	require.NoError(t, err)
	assert.JSONEq(t, `{"args":[1,"x",true],"kwargs":{"a":1,"b":2}}`, string(body))

	body, err = encodeRequest(nil, nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"args":[],"kwargs":{}}`, string(body))

	req, err := decodeRequest([]byte(`{"args":[1]}`))
	require.NoError(t, err)
	assert.Len(t, req.Args, 1)
	assert.NotNil(t, req.Kwargs)

	_, err = decodeRequest([]byte(`[1,2`))
	assert.Error(t, err)
}

func TestReplyCodec(t *testing.T) {
	b, err := encodeReply(map[string]int{"x": 1})
	require.NoError(t, err)
	assert.JSONEq(t, `{"x":1}`, string(b))

	b, err = encodeReply(json.RawMessage(`[1,2]`))
	require.NoError(t, err)
	assert.Equal(t, `[1,2]`, string(b))

	_, err = encodeReply(json.RawMessage(`{`))
	assert.Error(t, err)

	_, err = encodeReply(make(chan int))
	assert.Error(t, err)

	assert.Equal(t, "boom", decodeErrorText(encodeErrorText("boom")))
	assert.Equal(t, `{"code":1}`, decodeErrorText([]byte(`{"code":1}`)))
}
