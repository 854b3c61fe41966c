package ssebridge

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync/atomic"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestChannel(onClose func(*Channel), mod func(*Config)) *Channel {
	cfg := DefaultConfig()
	cfg.KeepaliveInterval = 0
	if mod != nil {
		mod(&cfg)
	}
	return newChannel("test-client", cfg, testLogger(), onClose)
}

func mustEvent(t *testing.T, ch *Channel) Event {
	t.Helper()
	select {
	case ev, ok := <-ch.Events():
		if !ok {
			t.Fatal("event stream closed unexpectedly")
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return Event{}
}

// permutations returns every ordering of 0..n-1.
func permutations(n int) [][]uint64 {
	seq := make([]uint64, n)
	for i := range seq {
		seq[i] = uint64(i)
	}
	var out [][]uint64
	var permute func(k int)
	permute = func(k int) {
		if k == n {
			out = append(out, append([]uint64(nil), seq...))
			return
		}
		for i := k; i < n; i++ {
			seq[k], seq[i] = seq[i], seq[k]
			permute(k + 1)
			seq[k], seq[i] = seq[i], seq[k]
		}
	}
	permute(0)
	return out
}

func TestIngestDeliversInSequenceOrderForAllPermutations(t *testing.T) {
	const n = 4

	for _, perm := range permutations(n) {
		t.Run(fmt.Sprintf("arrival %v", perm), func(t *testing.T) {
			ch := newTestChannel(nil, nil)
			defer ch.Close()

			for _, seq := range perm {
				if err := ch.ingest(seq, Text(fmt.Sprintf("msg-%d", seq))); err != nil {
					t.Fatalf("ingest(%d) error: %v", seq, err)
				}
			}

			for want := uint64(0); want < n; want++ {
				ev := mustEvent(t, ch)
				if ev.Seq != want {
					t.Fatalf("delivered seq = %d, want %d", ev.Seq, want)
				}
				if wantPayload := Text(fmt.Sprintf("msg-%d", want)); ev.Payload != wantPayload {
					t.Errorf("seq %d payload = %+v, want %+v", want, ev.Payload, wantPayload)
				}
			}
		})
	}
}

func TestIngestDropsLateRetransmission(t *testing.T) {
	ch := newTestChannel(nil, nil)
	defer ch.Close()

	ch.ingest(0, Text("zero"))
	ch.ingest(1, Text("one"))
	mustEvent(t, ch)
	mustEvent(t, ch)

	// A retry of an already-delivered message is discarded silently.
	if err := ch.ingest(0, Text("zero again")); err != nil {
		t.Fatalf("retransmission ingest error: %v", err)
	}

	ch.ingest(2, Text("two"))
	if ev := mustEvent(t, ch); ev.Seq != 2 {
		t.Errorf("next delivered seq = %d, want 2 (retransmission must not re-deliver)", ev.Seq)
	}
}

func TestIngestOverwritesHeldEntry(t *testing.T) {
	ch := newTestChannel(nil, nil)
	defer ch.Close()

	ch.ingest(1, Text("stale"))
	ch.ingest(1, Text("fresh"))
	ch.ingest(0, Null)

	if ev := mustEvent(t, ch); ev.Seq != 0 || ev.Payload != Null {
		t.Fatalf("first event = %+v, want seq 0 null", ev)
	}
	if ev := mustEvent(t, ch); ev.Payload != Text("fresh") {
		t.Errorf("held entry not overwritten: got %+v", ev.Payload)
	}
}

func TestIngestReassemblyBound(t *testing.T) {
	ch := newTestChannel(nil, func(cfg *Config) { cfg.MaxReassembly = 2 })
	defer ch.Close()

	if err := ch.ingest(1, Text("a")); err != nil {
		t.Fatalf("ingest(1): %v", err)
	}
	if err := ch.ingest(2, Text("b")); err != nil {
		t.Fatalf("ingest(2): %v", err)
	}
	if err := ch.ingest(3, Text("c")); !errors.Is(err, ErrReassemblyFull) {
		t.Fatalf("ingest(3) = %v, want ErrReassemblyFull", err)
	}
	// Overwriting an existing held entry does not count against the bound.
	if err := ch.ingest(2, Text("b2")); err != nil {
		t.Fatalf("overwrite ingest(2): %v", err)
	}
	// The gap-filling message always fits and drains the buffer.
	if err := ch.ingest(0, Text("fill")); err != nil {
		t.Fatalf("ingest(0): %v", err)
	}
	for want := uint64(0); want < 3; want++ {
		if ev := mustEvent(t, ch); ev.Seq != want {
			t.Fatalf("seq = %d, want %d", ev.Seq, want)
		}
	}
	if err := ch.ingest(3, Text("c")); err != nil {
		t.Fatalf("ingest(3) after drain: %v", err)
	}
}

func TestSendBacklogBound(t *testing.T) {
	ch := newTestChannel(nil, func(cfg *Config) { cfg.MaxPendingFrames = 2 })
	defer ch.Close()

	if err := ch.Send(Text("a")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := ch.Send(Text("b")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := ch.Send(Text("c")); !errors.Is(err, ErrBacklogFull) {
		t.Errorf("Send past backlog = %v, want ErrBacklogFull", err)
	}
}

func TestBindFlushesBufferedFramesInSendOrder(t *testing.T) {
	ch := newTestChannel(nil, nil)
	defer ch.Close()

	ch.Send(Text("first"))
	ch.Send(Text("second"))

	client, server := net.Pipe()
	defer client.Close()

	bindErr := make(chan error, 1)
	go func() { bindErr <- ch.bind(server, nil, "") }()

	expect := func(want []byte) {
		t.Helper()
		got := make([]byte, len(want))
		client.SetReadDeadline(time.Now().Add(2 * time.Second))
		if _, err := io.ReadFull(client, got); err != nil {
			t.Fatalf("read: %v", err)
		}
		if !bytes.Equal(got, want) {
			t.Fatalf("stream bytes = %q, want %q", got, want)
		}
	}

	expect(handshakeBlock(""))
	expect(encodeFrame(Text("first")))
	expect(encodeFrame(Text("second")))

	if err := <-bindErr; err != nil {
		t.Fatalf("bind: %v", err)
	}

	// Messages sent after binding are written directly, after the backlog.
	go ch.Send(Text("third"))
	expect(encodeFrame(Text("third")))
}

func TestHandshakeScenarioBytes(t *testing.T) {
	ch := newTestChannel(nil, nil)
	defer ch.Close()

	client, server := net.Pipe()
	defer client.Close()

	go ch.bind(server, nil, "")

	skip := make([]byte, len(handshakeBlock("")))
	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := io.ReadFull(client, skip); err != nil {
		t.Fatalf("read handshake: %v", err)
	}

	go ch.Send(Text("hello client"))

	want := []byte("data: \"hello client\"\n\n")
	got := make([]byte, len(want))
	if _, err := io.ReadFull(client, got); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Errorf("wire bytes = %q, want %q", got, want)
	}
}

func TestPeerCloseTearsChannelDown(t *testing.T) {
	ch := newTestChannel(nil, nil)

	client, server := net.Pipe()
	go ch.bind(server, nil, "")

	buf := make([]byte, len(handshakeBlock("")))
	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := io.ReadFull(client, buf); err != nil {
		t.Fatalf("read handshake: %v", err)
	}

	client.Close()

	select {
	case <-ch.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("channel not torn down after peer close")
	}
	if err := ch.Send(Text("x")); !errors.Is(err, ErrChannelClosed) {
		t.Errorf("Send after peer close = %v, want ErrChannelClosed", err)
	}
}

func TestCloseIsIdempotentAndFiresHookOnce(t *testing.T) {
	var closes atomic.Int32
	ch := newTestChannel(func(*Channel) { closes.Add(1) }, nil)

	ch.Close()
	ch.Close()
	ch.teardown(errors.New("again"))

	if got := closes.Load(); got != 1 {
		t.Errorf("closed hook fired %d times, want 1", got)
	}

	select {
	case _, ok := <-ch.Events():
		if ok {
			t.Error("closed channel still delivered an event")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("event stream did not complete on close")
	}

	if err := ch.ingest(0, Null); !errors.Is(err, ErrChannelClosed) {
		t.Errorf("ingest after close = %v, want ErrChannelClosed", err)
	}
}

func TestStatusSnapshot(t *testing.T) {
	ch := newTestChannel(nil, nil)
	defer ch.Close()

	ch.Send(Text("a"))
	ch.ingest(2, Text("ahead"))

	st := ch.Status()
	if st.ClientID != "test-client" {
		t.Errorf("ClientID = %q", st.ClientID)
	}
	if st.State != "pending" {
		t.Errorf("State = %q, want pending", st.State)
	}
	if st.Backlog != 1 {
		t.Errorf("Backlog = %d, want 1", st.Backlog)
	}
	if st.Held != 1 {
		t.Errorf("Held = %d, want 1", st.Held)
	}
}
