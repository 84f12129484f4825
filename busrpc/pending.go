package busrpc

import (
	"sync"
	"time"
)

// pendingCall is the slot a waiting caller blocks on. done is closed on the
// first reply; later replies for the same id overwrite the value.
type pendingCall struct {
	done      chan struct{}
	resolved  bool
	value     []byte
	isError   bool
	createdAt time.Time
}

// pendingTable maps correlation ids to calls awaiting a reply. It is the only
// client state shared between callers and the listener.
type pendingTable struct {
	mu    sync.Mutex
	calls map[string]*pendingCall
}

func newPendingTable() *pendingTable {
	return &pendingTable{calls: make(map[string]*pendingCall)}
}

// add registers id and returns the channel closed when its reply arrives.
func (t *pendingTable) add(id string) <-chan struct{} {
	c := &pendingCall{done: make(chan struct{}), createdAt: time.Now()}
	t.mu.Lock()
	t.calls[id] = c
	t.mu.Unlock()
	return c.done
}

// resolve stores a reply. It reports false when nobody waits for id, in which
// case the reply is dropped.
func (t *pendingTable) resolve(id string, value []byte, isError bool) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.calls[id]
	if !ok {
		return false
	}
	c.value, c.isError = value, isError
	if !c.resolved {
		c.resolved = true
		close(c.done)
	}
	return true
}

// take removes id and returns its reply.
func (t *pendingTable) take(id string) (value []byte, isError bool, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.calls[id]
	if !ok || !c.resolved {
		return nil, false, false
	}
	delete(t.calls, id)
	return c.value, c.isError, true
}

// discard forgets id; a reply arriving later is dropped.
func (t *pendingTable) discard(id string) {
	t.mu.Lock()
	delete(t.calls, id)
	t.mu.Unlock()
}

func (t *pendingTable) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.calls)
}

// oldest returns the age of the longest waiting call.
func (t *pendingTable) oldest(now time.Time) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	var age time.Duration
	for _, c := range t.calls {
		if d := now.Sub(c.createdAt); d > age {
			age = d
		}
	}
	return age
}
