package ssebridge

import (
	"testing"
	"time"
)

func TestEventQueueOrder(t *testing.T) {
	q := newEventQueue(2)

	// Push past the initial capacity to force growth.
	for i := 0; i < 10; i++ {
		if !q.push(Event{Seq: uint64(i)}) {
			t.Fatalf("push %d returned false", i)
		}
	}
	if got := q.len(); got != 10 {
		t.Fatalf("len = %d, want 10", got)
	}

	for i := 0; i < 10; i++ {
		ev, ok := q.receive()
		if !ok {
			t.Fatalf("receive %d: queue closed early", i)
		}
		if ev.Seq != uint64(i) {
			t.Errorf("receive %d: seq = %d", i, ev.Seq)
		}
	}
}

func TestEventQueueBlocksUntilPush(t *testing.T) {
	q := newEventQueue(1)

	got := make(chan Event, 1)
	go func() {
		ev, _ := q.receive()
		got <- ev
	}()

	// Give the receiver time to block.
	time.Sleep(10 * time.Millisecond)
	q.push(Event{Seq: 7})

	select {
	case ev := <-got:
		if ev.Seq != 7 {
			t.Errorf("seq = %d, want 7", ev.Seq)
		}
	case <-time.After(time.Second):
		t.Fatal("receive did not wake after push")
	}
}

func TestEventQueueClose(t *testing.T) {
	q := newEventQueue(1)
	q.push(Event{Seq: 0})
	q.close(false)

	if q.push(Event{Seq: 1}) {
		t.Error("push after close returned true")
	}

	// Remaining event is still receivable when not discarded.
	if ev, ok := q.receive(); !ok || ev.Seq != 0 {
		t.Errorf("receive after close = (%+v, %v), want seq 0", ev, ok)
	}
	if _, ok := q.receive(); ok {
		t.Error("drained closed queue still produced an event")
	}
}

func TestEventQueueCloseDiscard(t *testing.T) {
	q := newEventQueue(1)
	q.push(Event{Seq: 0})
	q.push(Event{Seq: 1})
	q.close(true)

	if _, ok := q.receive(); ok {
		t.Error("discarding close left events behind")
	}
}

func TestEventQueueCloseWakesReceiver(t *testing.T) {
	q := newEventQueue(1)

	done := make(chan bool, 1)
	go func() {
		_, ok := q.receive()
		done <- ok
	}()

	time.Sleep(10 * time.Millisecond)
	q.close(false)

	select {
	case ok := <-done:
		if ok {
			t.Error("receive on closed empty queue returned ok")
		}
	case <-time.After(time.Second):
		t.Fatal("close did not wake blocked receiver")
	}
}
