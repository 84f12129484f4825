package busrpc

import (
	"strings"
	"sync"
	"testing"

	"github.com/hashicorp/go-metrics"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// recordingSink counts counter increments by metric name.
type recordingSink struct {
	metrics.BlackholeSink
	mu     sync.Mutex
	counts map[string]float32
}

func newRecordingSink() *recordingSink {
	return &recordingSink{counts: make(map[string]float32)}
}

func (s *recordingSink) IncrCounter(key []string, val float32) {
	s.mu.Lock()
	s.counts[strings.Join(key, ".")] += val
	s.mu.Unlock()
}

func (s *recordingSink) IncrCounterWithLabels(key []string, val float32, _ []metrics.Label) {
	s.IncrCounter(key, val)
}

func (s *recordingSink) count(key []string) float32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[strings.Join(key, ".")]
}
