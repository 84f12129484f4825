package busrpc

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func nop(*Context) (any, error) { return nil, nil }

func consumer(name, queue string, exclusive bool) Consumer {
	return Consumer{Name: name, Queue: queue, Exclusive: exclusive, Handler: nop}
}

func names(cs []Consumer) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = c.Name
	}
	return out
}

func TestPlanAssignsQueues(t *testing.T) {
	plan, err := Plan("default", []Consumer{
		consumer("a", "", false),
		consumer("b", "reports", false),
		consumer("c", "", false),
		consumer("d", "reports", false),
		consumer("e", "audit", true),
	})
	require.NoError(t, err)
	require.Len(t, plan, 3)

	assert.Equal(t, "default", plan[0].Name)
	assert.Equal(t, []string{"a", "c"}, names(plan[0].Consumers()))
	assert.Equal(t, "reports", plan[1].Name)
	assert.Equal(t, []string{"b", "d"}, names(plan[1].Consumers()))
	assert.Equal(t, "audit", plan[2].Name)
	assert.True(t, plan[2].Exclusive)
	assert.False(t, plan[1].Exclusive)
}

func TestPlanAlwaysHasDefaultQueue(t *testing.T) {
	plan, err := Plan("default", []Consumer{consumer("a", "other", false)})
	require.NoError(t, err)
	require.Len(t, plan, 2)
	assert.Equal(t, "default", plan[0].Name)
	assert.Empty(t, plan[0].Consumers())
}

func TestPlanExclusivityConflicts(t *testing.T) {
	cases := []struct {
		name      string
		consumers []Consumer
		culprit   string
		queue     string
	}{
		{
			name:      "exclusive joins shared queue",
			consumers: []Consumer{consumer("a", "q", false), consumer("b", "q", true)},
			culprit:   "b",
			queue:     "q",
		},
		{
			name:      "shared joins exclusive queue",
			consumers: []Consumer{consumer("a", "q", true), consumer("b", "q", false)},
			culprit:   "b",
			queue:     "q",
		},
		{
			name:      "two exclusive",
			consumers: []Consumer{consumer("a", "q", true), consumer("b", "q", true)},
			culprit:   "b",
			queue:     "q",
		},
		{
			name:      "exclusive on default queue",
			consumers: []Consumer{consumer("a", "", false), consumer("b", "", true)},
			culprit:   "b",
			queue:     "default",
		},
		{
			name: "first conflict is reported",
			consumers: []Consumer{
				consumer("a", "q", true),
				consumer("b", "q", false),
				consumer("c", "q", false),
			},
			culprit: "b",
			queue:   "q",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Plan("default", tc.consumers)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrConfig))
			var xerr *ExclusivityError
			require.ErrorAs(t, err, &xerr)
			assert.Equal(t, tc.culprit, xerr.Consumer)
			assert.Equal(t, tc.queue, xerr.Queue)
			assert.Equal(t, "busrpc: consumer "+tc.culprit+" conflicts with exclusive queue "+tc.queue, err.Error())
		})
	}
}

func TestPlanExclusiveAlone(t *testing.T) {
	plan, err := Plan("default", []Consumer{consumer("a", "q", true), consumer("b", "", false)})
	require.NoError(t, err)
	require.Len(t, plan, 2)
	assert.Equal(t, "q", plan[1].Name)
	assert.True(t, plan[1].Exclusive)
}

func TestPlanRejectsBrokenConsumers(t *testing.T) {
	_, err := Plan("", nil)
	assert.ErrorIs(t, err, ErrConfig)

	_, err = Plan("default", []Consumer{{Name: "", Handler: nop}})
	assert.ErrorIs(t, err, ErrConfig)

	_, err = Plan("default", []Consumer{{Name: "a"}})
	assert.ErrorIs(t, err, ErrConfig)
}
