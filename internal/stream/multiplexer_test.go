package stream

import (
	"errors"
	"testing"
	"time"
)

func collect(sub *Subscription, n int, t *testing.T) []Event {
	t.Helper()
	out := make([]Event, 0, n)
	timeout := time.After(2 * time.Second)
	for len(out) < n {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatalf("timed out collecting events, got %d of %d", len(out), n)
		}
	}
	return out
}

func TestPublish_AssignsIncreasingSequence(t *testing.T) {
	m := New(0)
	defer m.Close("", nil)

	for i := 1; i <= 5; i++ {
		ev, err := m.Publish(EventToken, TokenData{Text: "x"})
		if err != nil {
			t.Fatalf("Publish error: %v", err)
		}
		if ev.ID != uint64(i) {
			t.Errorf("event %d has ID %d", i, ev.ID)
		}
	}
}

func TestSubscribe_ReplayMatchesLiveDelivery(t *testing.T) {
	m := New(0)
	defer m.Close("", nil)

	early, err := m.Subscribe(0)
	if err != nil {
		t.Fatalf("Subscribe error: %v", err)
	}

	for _, text := range []string{"a", "b", "c"} {
		_, _ = m.Publish(EventToken, TokenData{Text: text})
	}

	// Late subscriber resuming after event 1 must see exactly what the early
	// subscriber saw after that point, in the same order.
	late, err := m.Subscribe(Cursor(1))
	if err != nil {
		t.Fatalf("late Subscribe error: %v", err)
	}

	_, _ = m.Publish(EventToken, TokenData{Text: "d"})

	earlyEvents := collect(early, 4, t)
	lateEvents := collect(late, 3, t)

	if len(lateEvents) != 3 {
		t.Fatalf("late subscriber got %d events, want 3", len(lateEvents))
	}
	for i, ev := range lateEvents {
		want := earlyEvents[i+1]
		if ev.ID != want.ID || ev.Type != want.Type {
			t.Errorf("late[%d] = {%d %s}, early equivalent = {%d %s}", i, ev.ID, ev.Type, want.ID, want.Type)
		}
	}
}

func TestSubscribe_CursorTooOld(t *testing.T) {
	m := New(0, WithBufferSize(4))
	defer m.Close("", nil)

	for i := 0; i < 10; i++ {
		_, _ = m.Publish(EventToken, nil)
	}

	// Events 1..6 are evicted; resuming after event 2 cannot be replayed.
	_, err := m.Subscribe(Cursor(2))
	if !errors.Is(err, ErrCursorTooOld) {
		t.Fatalf("Subscribe(2) error = %v, want ErrCursorTooOld", err)
	}

	// Resuming inside the window still works.
	sub, err := m.Subscribe(Cursor(6))
	if err != nil {
		t.Fatalf("Subscribe(6) error: %v", err)
	}
	events := collect(sub, 4, t)
	if events[0].ID != 7 {
		t.Errorf("first replayed ID = %d, want 7", events[0].ID)
	}
}

func TestSubscribe_CursorBeyondNewest(t *testing.T) {
	m := New(0)
	defer m.Close("", nil)

	_, _ = m.Publish(EventToken, nil)

	// A cursor that was never assigned cannot be resumed.
	if _, err := m.Subscribe(Cursor(9999)); !errors.Is(err, ErrCursorTooOld) {
		t.Fatalf("Subscribe(9999) error = %v, want ErrCursorTooOld", err)
	}

	// Resuming exactly at the newest event is valid: replay is empty and
	// delivery continues live.
	sub, err := m.Subscribe(Cursor(1))
	if err != nil {
		t.Fatalf("Subscribe(1) error: %v", err)
	}
	_, _ = m.Publish(EventToken, nil)
	if events := collect(sub, 1, t); events[0].ID != 2 {
		t.Errorf("first live ID = %d, want 2", events[0].ID)
	}
}

func TestSlowSubscriberIsDroppedNotBlocking(t *testing.T) {
	m := New(0, WithBufferSize(2))
	defer m.Close("", nil)

	sub, err := m.Subscribe(0)
	if err != nil {
		t.Fatalf("Subscribe error: %v", err)
	}

	// Never read from sub; channel capacity is bounded, so the producer must
	// eventually disconnect it instead of stalling.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 50; i++ {
			_, _ = m.Publish(EventToken, nil)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("producer blocked on a slow subscriber")
	}

	// Drain until closed.
	for range sub.Events() {
	}
	if !errors.Is(sub.Err(), ErrLagged) {
		t.Errorf("Err() = %v, want ErrLagged", sub.Err())
	}
}

func TestClose_DeliversTerminalToAllSubscribers(t *testing.T) {
	m := New(0)

	s1, _ := m.Subscribe(0)
	_, _ = m.Publish(EventToken, TokenData{Text: "hi"})
	s2, _ := m.Subscribe(0)

	m.Close(EventComplete, CompleteData{Status: "completed"})

	for i, sub := range []*Subscription{s1, s2} {
		var last Event
		for ev := range sub.Events() {
			last = ev
		}
		if last.Type != EventComplete {
			t.Errorf("subscriber %d last event = %s, want complete", i+1, last.Type)
		}
	}
}

func TestSubscribe_AfterCloseReplaysThenCloses(t *testing.T) {
	m := New(0)
	_, _ = m.Publish(EventToken, TokenData{Text: "hi"})
	m.Close(EventComplete, nil)

	sub, err := m.Subscribe(0)
	if err != nil {
		t.Fatalf("Subscribe after close error: %v", err)
	}
	events := collect(sub, 2, t)
	if len(events) != 2 || events[1].Type != EventComplete {
		t.Fatalf("replay after close = %+v", events)
	}
	if _, ok := <-sub.Events(); ok {
		t.Error("channel should be closed after replay")
	}
}

func TestPublish_AfterCloseFails(t *testing.T) {
	m := New(0)
	m.Close(EventError, nil)
	if _, err := m.Publish(EventToken, nil); !errors.Is(err, ErrClosed) {
		t.Errorf("Publish after close = %v, want ErrClosed", err)
	}
}

func TestHeartbeat(t *testing.T) {
	m := New(10 * time.Millisecond)
	defer m.Close("", nil)

	sub, err := m.Subscribe(0)
	if err != nil {
		t.Fatalf("Subscribe error: %v", err)
	}

	select {
	case ev := <-sub.Events():
		if ev.Type != EventHeartbeat {
			t.Errorf("event type = %s, want heartbeat", ev.Type)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no heartbeat received")
	}
}

func TestCursor_RoundTrip(t *testing.T) {
	for _, c := range []Cursor{0, 1, 42, 1 << 40} {
		token := c.Encode()
		got, err := DecodeCursor(token)
		if err != nil {
			t.Fatalf("DecodeCursor(%q) error: %v", token, err)
		}
		if got != c {
			t.Errorf("round trip %d -> %q -> %d", c, token, got)
		}
	}

	if _, err := DecodeCursor(""); err != nil {
		t.Errorf("empty cursor should decode to zero, got %v", err)
	}
	if _, err := DecodeCursor("garbage"); err == nil {
		t.Error("malformed cursor should fail")
	}
	if _, err := DecodeCursor("ev-notanumber"); err == nil {
		t.Error("malformed cursor number should fail")
	}
}
