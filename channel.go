package ssebridge

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrChannelClosed is returned when sending on or ingesting into a
	// channel that has already been torn down.
	ErrChannelClosed = errors.New("channel is closed")

	// ErrBacklogFull is returned by Send when the pending-bind frame backlog
	// has reached Config.MaxPendingFrames.
	ErrBacklogFull = errors.New("outbound backlog full")

	// ErrReassemblyFull is returned by ingest when accepting an out-of-order
	// message would exceed Config.MaxReassembly held entries.
	ErrReassemblyFull = errors.New("reassembly buffer full")

	errAlreadyBound = errors.New("channel already bound")
)

// Event is one ordered inbound message delivered to a channel's subscriber.
// Seq values are contiguous and start at 0.
type Event struct {
	Seq     uint64
	Payload Payload
}

type channelState int

const (
	statePending channelState = iota
	stateBound
	stateClosed
)

func (s channelState) String() string {
	switch s {
	case statePending:
		return "pending"
	case stateBound:
		return "bound"
	case stateClosed:
		return "closed"
	}
	return "unknown"
}

// Channel is the per-client connection state machine. It is created by the
// server on a validated handshake, bound to the hijacked socket once the
// transport hands it over, and torn down exactly once on socket failure,
// owner close, or displacement by a reconnect under the same client id.
//
// Outbound messages sent before binding are encoded immediately and buffered;
// on binding they are flushed in send order before any later message. Inbound
// messages are reordered by sequence number and surface on Events in strictly
// increasing, contiguous order.
type Channel struct {
	clientID string
	id       uuid.UUID
	cfg      Config
	logger   *slog.Logger
	created  time.Time

	mu       sync.Mutex
	state    channelState
	sock     net.Conn
	br       *bufio.Reader
	bw       *bufio.Writer
	backlog  [][]byte           // encoded frames awaiting bind, FIFO
	held     map[uint64]Payload // inbound messages ahead of nextSeq
	nextSeq  uint64
	msgsIn   uint64
	msgsOut  uint64
	bytesOut uint64

	queue     *eventQueue
	events    chan Event
	done      chan struct{}
	closeOnce sync.Once
	onClose   func(*Channel)
}

func newChannel(clientID string, cfg Config, logger *slog.Logger, onClose func(*Channel)) *Channel {
	c := &Channel{
		clientID: clientID,
		id:       uuid.New(),
		cfg:      cfg,
		created:  time.Now(),
		held:     make(map[uint64]Payload),
		queue:    newEventQueue(16),
		events:   make(chan Event),
		done:     make(chan struct{}),
		onClose:  onClose,
	}
	c.logger = logger.With("client_id", clientID, "channel_id", c.id.String())

	go c.pump()
	return c
}

// ClientID returns the client-supplied identifier this channel is keyed by.
func (c *Channel) ClientID() string { return c.clientID }

// ID returns the unique instance id of this channel. Two handshakes with the
// same client id produce distinct IDs.
func (c *Channel) ID() uuid.UUID { return c.id }

// Events returns the ordered stream of inbound client messages. The channel
// is closed when the connection reaches its terminal state.
func (c *Channel) Events() <-chan Event { return c.events }

// Done is closed when the channel has been torn down.
func (c *Channel) Done() <-chan struct{} { return c.done }

// Send encodes p as an SSE data frame and transmits it, or buffers it when
// the socket has not yet been bound. Frame order always matches send order.
// A transport write failure tears the channel down and is returned.
func (c *Channel) Send(p Payload) error {
	frame := encodeFrame(p)

	c.mu.Lock()
	switch c.state {
	case stateClosed:
		c.mu.Unlock()
		return ErrChannelClosed

	case statePending:
		if len(c.backlog) >= c.cfg.MaxPendingFrames {
			c.mu.Unlock()
			return ErrBacklogFull
		}
		c.backlog = append(c.backlog, frame)
		c.mu.Unlock()
		return nil
	}

	_, err := c.bw.Write(frame)
	if err == nil {
		err = c.bw.Flush()
	}
	if err != nil {
		c.mu.Unlock()
		c.teardown(fmt.Errorf("write frame: %w", err))
		return err
	}
	c.msgsOut++
	c.bytesOut += uint64(len(frame))
	c.mu.Unlock()
	return nil
}

// Close tears the channel down. Safe to call multiple times.
func (c *Channel) Close() error {
	c.teardown(nil)
	return nil
}

// bind takes ownership of the hijacked socket, writes the handshake block and
// any buffered frames, and moves the channel to its bound state.
func (c *Channel) bind(sock net.Conn, rw *bufio.ReadWriter, origin string) error {
	c.mu.Lock()
	switch c.state {
	case stateClosed:
		c.mu.Unlock()
		sock.Close()
		return ErrChannelClosed
	case stateBound:
		c.mu.Unlock()
		sock.Close()
		return errAlreadyBound
	}

	c.sock = sock
	if rw != nil {
		c.br = rw.Reader
		c.bw = rw.Writer
	} else {
		c.br = bufio.NewReader(sock)
		c.bw = bufio.NewWriter(sock)
	}

	backlog := c.backlog
	c.backlog = nil

	_, err := c.bw.Write(handshakeBlock(origin))
	for _, frame := range backlog {
		if err != nil {
			break
		}
		if _, err = c.bw.Write(frame); err == nil {
			c.msgsOut++
			c.bytesOut += uint64(len(frame))
		}
	}
	if err == nil {
		err = c.bw.Flush()
	}
	if err != nil {
		c.mu.Unlock()
		c.teardown(fmt.Errorf("write handshake: %w", err))
		return err
	}

	c.state = stateBound
	c.mu.Unlock()

	c.logger.Debug("channel bound", "flushed", len(backlog))

	go c.watchSocket()
	if c.cfg.KeepaliveInterval > 0 {
		go c.keepaliveLoop()
	}
	return nil
}

// ingest applies one client-submitted message to the reassembly buffer and
// delivers every message that has become contiguous, in sequence order.
// Messages below the next expected sequence are dropped silently: they are
// retransmissions of something already delivered.
func (c *Channel) ingest(seq uint64, p Payload) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == stateClosed {
		return ErrChannelClosed
	}
	if seq < c.nextSeq {
		return nil
	}
	if _, dup := c.held[seq]; !dup && seq != c.nextSeq && len(c.held) >= c.cfg.MaxReassembly {
		return ErrReassemblyFull
	}

	c.held[seq] = p
	for {
		next, ok := c.held[c.nextSeq]
		if !ok {
			break
		}
		delete(c.held, c.nextSeq)
		c.queue.push(Event{Seq: c.nextSeq, Payload: next})
		c.msgsIn++
		c.nextSeq++
	}
	return nil
}

// pump moves ordered events from the queue onto the subscriber channel.
// Sole closer of c.events.
func (c *Channel) pump() {
	for {
		ev, ok := c.queue.receive()
		if !ok {
			close(c.events)
			return
		}
		select {
		case c.events <- ev:
		case <-c.done:
			close(c.events)
			return
		}
	}
}

// watchSocket blocks on the raw socket. The client never writes on the SSE
// stream, so a read only ever returns when the peer disconnects or the
// socket errors.
func (c *Channel) watchSocket() {
	buf := make([]byte, 256)
	for {
		if _, err := c.br.Read(buf); err != nil {
			if errors.Is(err, io.EOF) {
				c.teardown(nil)
			} else {
				c.teardown(fmt.Errorf("socket read: %w", err))
			}
			return
		}
	}
}

// keepaliveLoop emits comment frames so intermediaries do not idle the stream
// out, and so dead sockets surface as write errors.
func (c *Channel) keepaliveLoop() {
	t := time.NewTicker(c.cfg.KeepaliveInterval)
	defer t.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-t.C:
			c.mu.Lock()
			if c.state != stateBound {
				c.mu.Unlock()
				return
			}
			_, err := c.bw.Write(keepaliveFrame)
			if err == nil {
				err = c.bw.Flush()
			}
			c.mu.Unlock()
			if err != nil {
				c.teardown(fmt.Errorf("write keepalive: %w", err))
				return
			}
		}
	}
}

// teardown moves the channel to its terminal state: closes the socket if
// bound, completes the event stream, clears both buffers, and fires the
// closed hook exactly once. Idempotent.
func (c *Channel) teardown(cause error) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.state = stateClosed
		sock := c.sock
		c.sock = nil
		c.backlog = nil
		c.held = nil
		c.mu.Unlock()

		if sock != nil {
			sock.Close()
		}
		c.queue.close(true)
		close(c.done)

		if cause != nil {
			c.logger.Debug("channel closed", "reason", cause)
		} else {
			c.logger.Debug("channel closed")
		}

		if c.onClose != nil {
			c.onClose(c)
		}
	})
}

// ChannelStatus is a point-in-time snapshot of one channel.
type ChannelStatus struct {
	ClientID  string    `json:"client_id"`
	ChannelID string    `json:"channel_id"`
	State     string    `json:"state"`
	Created   time.Time `json:"created_at"`
	MsgsIn    uint64    `json:"msgs_in"`
	MsgsOut   uint64    `json:"msgs_out"`
	BytesOut  uint64    `json:"bytes_out"`
	Backlog   int       `json:"backlog"`
	Held      int       `json:"held"`
}

// Status returns a snapshot of the channel for logging and reporting.
func (c *Channel) Status() ChannelStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return ChannelStatus{
		ClientID:  c.clientID,
		ChannelID: c.id.String(),
		State:     c.state.String(),
		Created:   c.created,
		MsgsIn:    c.msgsIn,
		MsgsOut:   c.msgsOut,
		BytesOut:  c.bytesOut,
		Backlog:   len(c.backlog),
		Held:      len(c.held),
	}
}
