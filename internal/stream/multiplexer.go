package stream

import (
	"errors"
	"sync"
	"time"
)

var (
	// ErrCursorTooOld means the requested resume position cannot be replayed:
	// it has been evicted from the retention window, or it was never assigned
	// at all. Either way the caller must re-fetch full state from storage
	// instead of replaying.
	ErrCursorTooOld = errors.New("cursor outside retained events")

	// ErrLagged is reported by a subscription that was disconnected because
	// it fell behind the retention window. The producer is never throttled
	// by a slow viewer.
	ErrLagged = errors.New("subscriber lagged behind event buffer")

	// ErrClosed is returned when publishing to a closed multiplexer.
	ErrClosed = errors.New("multiplexer closed")
)

const (
	// DefaultBufferSize is the per-execution event retention window.
	DefaultBufferSize = 512

	// DefaultHeartbeatInterval keeps idle transports alive and lets clients
	// detect silent disconnects.
	DefaultHeartbeatInterval = 15 * time.Second
)

// Multiplexer fans one ordered event stream out to a dynamic set of
// subscribers. Events live in a bounded ring buffer; each subscriber holds
// its own read position. Sequence numbers start at 1 and never repeat within
// one multiplexer.
type Multiplexer struct {
	mu       sync.Mutex
	buf      []Event
	capacity int
	first    uint64 // sequence of the oldest retained event
	next     uint64 // next sequence to assign
	subs     map[int]*Subscription
	nextSub  int
	closed   bool

	heartbeatStop chan struct{}
	heartbeatOnce sync.Once
}

// Option configures a Multiplexer.
type Option func(*Multiplexer)

// WithBufferSize overrides the retention window.
func WithBufferSize(n int) Option {
	return func(m *Multiplexer) {
		if n > 0 {
			m.capacity = n
		}
	}
}

// New creates a multiplexer and starts its heartbeat ticker. heartbeat <= 0
// disables heartbeats (used by tests that assert exact sequences).
func New(heartbeat time.Duration, opts ...Option) *Multiplexer {
	m := &Multiplexer{
		capacity:      DefaultBufferSize,
		first:         1,
		next:          1,
		subs:          make(map[int]*Subscription),
		heartbeatStop: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	if heartbeat > 0 {
		go m.heartbeatLoop(heartbeat)
	}
	return m
}

func (m *Multiplexer) heartbeatLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-m.heartbeatStop:
			return
		case <-ticker.C:
			_, _ = m.Publish(EventHeartbeat, nil)
		}
	}
}

// Publish appends an event to the log and replicates it to every subscriber.
// A subscriber whose channel is full is disconnected with ErrLagged rather
// than blocking the producer. Returns the published event with its assigned
// sequence.
func (m *Multiplexer) Publish(t EventType, data interface{}) (Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return Event{}, ErrClosed
	}
	ev := m.publishLocked(t, data)
	return ev, nil
}

func (m *Multiplexer) publishLocked(t EventType, data interface{}) Event {
	ev := Event{ID: m.next, Type: t, Data: data}
	m.next++

	m.buf = append(m.buf, ev)
	if len(m.buf) > m.capacity {
		evicted := len(m.buf) - m.capacity
		m.buf = m.buf[evicted:]
		m.first += uint64(evicted)
	}

	for id, sub := range m.subs {
		select {
		case sub.ch <- ev:
		default:
			sub.err = ErrLagged
			m.dropLocked(id)
		}
	}
	return ev
}

// Close publishes a final event of the given type (skipped when the type is
// empty), then closes every subscriber channel and stops the heartbeat. The
// buffer stays readable so late subscribers can still replay until the owner
// discards the multiplexer.
func (m *Multiplexer) Close(terminal EventType, data interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	if terminal != "" {
		m.publishLocked(terminal, data)
	}
	m.closed = true
	for id := range m.subs {
		m.dropLocked(id)
	}
	m.heartbeatOnce.Do(func() { close(m.heartbeatStop) })
}

// Closed reports whether the stream has ended.
func (m *Multiplexer) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// SubscriberCount returns the number of attached subscribers.
func (m *Multiplexer) SubscriberCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs)
}

// Subscribe attaches a consumer resuming after the given cursor (zero means
// from the start). Buffered events after the cursor are replayed first, in
// original order; live events follow on the same channel. If the cursor
// position has been evicted, Subscribe fails with ErrCursorTooOld.
func (m *Multiplexer) Subscribe(after Cursor) (*Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	resume := uint64(after) + 1
	if resume < m.first || resume > m.next {
		return nil, ErrCursorTooOld
	}

	replay := m.buf
	if resume > m.first {
		replay = m.buf[resume-m.first:]
	}

	// Channel sized for the full replay plus a live window, so replay never
	// blocks and a live subscriber gets one retention window of slack.
	sub := &Subscription{
		ch: make(chan Event, len(replay)+m.capacity),
	}
	for _, ev := range replay {
		sub.ch <- ev
	}

	if m.closed {
		// Stream already ended: deliver the replay and close immediately.
		close(sub.ch)
		sub.detached = true
		return sub, nil
	}

	id := m.nextSub
	m.nextSub++
	sub.id = id
	sub.mux = m
	m.subs[id] = sub
	return sub, nil
}

// dropLocked removes a subscriber and closes its channel. Caller holds mu.
func (m *Multiplexer) dropLocked(id int) {
	sub, ok := m.subs[id]
	if !ok {
		return
	}
	delete(m.subs, id)
	if !sub.detached {
		sub.detached = true
		close(sub.ch)
	}
}

// Subscription is one consumer's view of the stream.
type Subscription struct {
	id       int
	ch       chan Event
	mux      *Multiplexer
	err      error
	detached bool
}

// Events returns the ordered event channel. It is closed when the stream
// ends, the subscriber is dropped for lagging, or Close is called.
func (s *Subscription) Events() <-chan Event {
	return s.ch
}

// Err reports why the channel closed: ErrLagged if the subscriber was
// disconnected for falling behind, nil for normal termination.
func (s *Subscription) Err() error {
	if s.mux != nil {
		s.mux.mu.Lock()
		defer s.mux.mu.Unlock()
	}
	return s.err
}

// Close detaches the subscriber. Safe to call more than once.
func (s *Subscription) Close() {
	if s.mux == nil {
		return
	}
	s.mux.mu.Lock()
	defer s.mux.mu.Unlock()
	s.mux.dropLocked(s.id)
}
