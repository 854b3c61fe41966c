package ssebridge

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// ErrHijackNotSupported indicates the Server was mounted on a transport whose
// ResponseWriter does not implement http.Hijacker. This is a wiring mistake
// by the integrator, not a runtime condition: the handshake path panics with
// this error instead of degrading every request into an HTTP error.
var ErrHijackNotSupported = errors.New("response writer does not support hijacking")

var errDisplaced = errors.New("displaced by new handshake with same client id")

// Query parameters required by the HTTP surface.
const (
	paramClientID  = "sseClientId"
	paramMessageID = "messageId"
)

// Config holds tunable options for a Server.
type Config struct {
	// AllowedOrigins is the case-insensitive origin allow-list. Empty means
	// every origin (including absent) is accepted. Replaceable at runtime
	// via SetAllowedOrigins.
	AllowedOrigins []string

	// AcceptBacklog is the buffer depth of the new-channels queue read via
	// Accept. Default 32.
	AcceptBacklog int

	// MaxBodyBytes caps the size of a single POST message body. Default 4 MiB.
	MaxBodyBytes int64

	// MaxPendingFrames caps the number of outbound frames buffered on a
	// channel before its socket is bound. Default 256.
	MaxPendingFrames int

	// MaxReassembly caps the number of out-of-order inbound messages held
	// per channel while waiting for a sequence gap to fill. Default 1024.
	MaxReassembly int

	// KeepaliveInterval controls how often a bound channel emits an SSE
	// comment frame to keep intermediaries from idling the stream out.
	// Zero disables keepalives.
	KeepaliveInterval time.Duration
}

// Default values for optional configuration fields.
const (
	DefaultAcceptBacklog     = 32
	DefaultMaxBodyBytes      = 4 << 20
	DefaultMaxPendingFrames  = 256
	DefaultMaxReassembly     = 1024
	DefaultKeepaliveInterval = 15 * time.Second
)

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		AcceptBacklog:     DefaultAcceptBacklog,
		MaxBodyBytes:      DefaultMaxBodyBytes,
		MaxPendingFrames:  DefaultMaxPendingFrames,
		MaxReassembly:     DefaultMaxReassembly,
		KeepaliveInterval: DefaultKeepaliveInterval,
	}
}

func (c *Config) applyDefaults() {
	if c.AcceptBacklog <= 0 {
		c.AcceptBacklog = DefaultAcceptBacklog
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if c.MaxPendingFrames <= 0 {
		c.MaxPendingFrames = DefaultMaxPendingFrames
	}
	if c.MaxReassembly <= 0 {
		c.MaxReassembly = DefaultMaxReassembly
	}
	if c.KeepaliveInterval < 0 {
		c.KeepaliveInterval = 0
	}
}

// Server turns request/response HTTP into durable bidirectional channels:
// a GET with Accept: text/event-stream hijacks the socket into an SSE stream,
// and client POSTs carrying sequence numbers are reassembled into each
// channel's ordered event stream.
//
// Server implements http.Handler and can be mounted into an existing mux.
// Newly established channels are delivered on Accept.
type Server struct {
	cfg    Config
	logger *slog.Logger
	reg    *registry

	accepted chan *Channel
	stopped  chan struct{}
	stopOnce sync.Once

	originMu sync.RWMutex
	origins  map[string]struct{} // lowercased; nil means allow all

	channelsTotal  atomic.Uint64
	displaced      atomic.Uint64
	messagesIn     atomic.Uint64
	rejectedPosts  atomic.Uint64
	retiredMsgsOut atomic.Uint64
}

// NewServer creates a Server with the given configuration. Zero-valued
// numeric fields in cfg are replaced with defaults; a nil logger falls back
// to slog.Default.
func NewServer(cfg Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.applyDefaults()

	s := &Server{
		cfg:      cfg,
		logger:   logger,
		reg:      newRegistry(),
		accepted: make(chan *Channel, cfg.AcceptBacklog),
		stopped:  make(chan struct{}),
	}
	s.SetAllowedOrigins(cfg.AllowedOrigins)
	return s
}

// Accept returns the queue of newly established channels. The queue is never
// closed; consumers should select against their own shutdown signal.
func (s *Server) Accept() <-chan *Channel { return s.accepted }

// SetAllowedOrigins replaces the origin allow-list. An empty list allows all
// origins. Safe to call while the server is handling requests.
func (s *Server) SetAllowedOrigins(origins []string) {
	var set map[string]struct{}
	if len(origins) > 0 {
		set = make(map[string]struct{}, len(origins))
		for _, o := range origins {
			set[strings.ToLower(o)] = struct{}{}
		}
	}
	s.originMu.Lock()
	s.origins = set
	s.originMu.Unlock()
}

// Shutdown tears down every active channel. New handshakes are rejected
// afterwards.
func (s *Server) Shutdown() {
	s.stopOnce.Do(func() { close(s.stopped) })
	for _, c := range s.reg.snapshot() {
		c.Close()
	}
}

// ServeHTTP implements the http.Handler interface. Requests are routed in
// order: OPTIONS preflight, handshake (GET accepting text/event-stream),
// message ingestion (POST), 404 otherwise.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.Method == http.MethodOptions:
		s.handlePreflight(w, r)
	case r.Method == http.MethodGet && acceptsEventStream(r):
		s.handleHandshake(w, r)
	case r.Method == http.MethodPost:
		s.handleMessage(w, r)
	default:
		http.Error(w, "not found: expected an SSE handshake (GET), a message (POST), or a preflight (OPTIONS)", http.StatusNotFound)
	}
}

func (s *Server) handlePreflight(w http.ResponseWriter, r *http.Request) {
	h := w.Header()
	if origin := r.Header.Get("Origin"); origin != "" {
		h.Set("Access-Control-Allow-Origin", origin)
	}
	h.Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
	h.Set("Access-Control-Allow-Credentials", "true")
	if reqHeaders := r.Header.Get("Access-Control-Request-Headers"); reqHeaders != "" {
		h.Set("Access-Control-Allow-Headers", reqHeaders)
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleHandshake(w http.ResponseWriter, r *http.Request) {
	origin := r.Header.Get("Origin")
	if !s.originAllowed(origin) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}
	clientID := r.URL.Query().Get(paramClientID)
	if clientID == "" {
		http.Error(w, "missing "+paramClientID+" query parameter", http.StatusBadRequest)
		return
	}
	select {
	case <-s.stopped:
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	default:
	}

	hj, ok := w.(http.Hijacker)
	if !ok {
		panic(ErrHijackNotSupported)
	}

	ch := s.connect(clientID)

	sock, rw, err := hj.Hijack()
	if err != nil {
		ch.teardown(err)
		s.logger.Error("hijack failed", "client_id", clientID, "error", err)
		return
	}
	// The socket is ours now; nothing below may touch w.
	if err := ch.bind(sock, rw, origin); err != nil {
		return
	}

	s.logger.Debug("handshake complete",
		"client_id", clientID,
		"channel_id", ch.ID().String(),
		"remote", r.RemoteAddr,
	)

	select {
	case s.accepted <- ch:
	case <-ch.Done():
	case <-s.stopped:
		ch.Close()
	}
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	origin := r.Header.Get("Origin")
	if !s.originAllowed(origin) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}
	writeCORS(w, origin)

	q := r.URL.Query()
	clientID := q.Get(paramClientID)
	messageID := q.Get(paramMessageID)
	if clientID == "" || messageID == "" {
		s.rejectedPosts.Add(1)
		http.Error(w, "missing "+paramClientID+" or "+paramMessageID+" query parameter", http.StatusBadRequest)
		return
	}
	seq, err := strconv.ParseUint(messageID, 10, 64)
	if err != nil {
		s.rejectedPosts.Add(1)
		http.Error(w, paramMessageID+" must be a non-negative integer", http.StatusBadRequest)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes))
	if err != nil {
		s.rejectedPosts.Add(1)
		http.Error(w, "unreadable request body", http.StatusBadRequest)
		return
	}
	payload, err := decodeBody(body)
	if err != nil {
		s.rejectedPosts.Add(1)
		http.Error(w, "request body is not valid JSON", http.StatusBadRequest)
		return
	}

	ch, ok := s.reg.lookup(clientID)
	if !ok {
		s.rejectedPosts.Add(1)
		http.Error(w, "unknown "+paramClientID, http.StatusNotFound)
		return
	}

	switch err := ch.ingest(seq, payload); {
	case errors.Is(err, ErrChannelClosed):
		s.rejectedPosts.Add(1)
		http.Error(w, "unknown "+paramClientID, http.StatusNotFound)
		return
	case errors.Is(err, ErrReassemblyFull):
		s.rejectedPosts.Add(1)
		http.Error(w, "too many out-of-order messages pending", http.StatusTooManyRequests)
		return
	}

	s.messagesIn.Add(1)
	w.WriteHeader(http.StatusOK)
}

// connect installs a fresh channel for clientID, tearing down any channel the
// id previously mapped to. The displaced channel reaches its terminal state
// before the successor is installed.
func (s *Server) connect(clientID string) *Channel {
	if old := s.reg.displace(clientID); old != nil {
		s.displaced.Add(1)
		old.teardown(errDisplaced)
	}
	ch := newChannel(clientID, s.cfg, s.logger, s.channelClosed)
	s.reg.install(ch)
	s.channelsTotal.Add(1)
	return ch
}

// channelClosed is each channel's closed hook.
func (s *Server) channelClosed(c *Channel) {
	s.retiredMsgsOut.Add(c.Status().MsgsOut)
	s.reg.drop(c)
}

func (s *Server) originAllowed(origin string) bool {
	if origin == "" {
		return true
	}
	s.originMu.RLock()
	defer s.originMu.RUnlock()
	if s.origins == nil {
		return true
	}
	_, ok := s.origins[strings.ToLower(origin)]
	return ok
}

func acceptsEventStream(r *http.Request) bool {
	return strings.Contains(strings.ToLower(r.Header.Get("Accept")), "text/event-stream")
}

func writeCORS(w http.ResponseWriter, origin string) {
	if origin == "" {
		return
	}
	h := w.Header()
	h.Set("Access-Control-Allow-Origin", origin)
	h.Set("Access-Control-Allow-Credentials", "true")
}

// Stats is a snapshot of server-wide counters.
type Stats struct {
	ActiveChannels int
	ChannelsTotal  uint64
	Displaced      uint64
	MessagesIn     uint64
	MessagesOut    uint64
	RejectedPosts  uint64
}

// Stats returns current server statistics. MessagesOut includes frames
// written by channels that have since closed.
func (s *Server) Stats() Stats {
	out := s.retiredMsgsOut.Load()
	active := s.reg.snapshot()
	for _, c := range active {
		out += c.Status().MsgsOut
	}
	return Stats{
		ActiveChannels: len(active),
		ChannelsTotal:  s.channelsTotal.Load(),
		Displaced:      s.displaced.Load(),
		MessagesIn:     s.messagesIn.Load(),
		MessagesOut:    out,
		RejectedPosts:  s.rejectedPosts.Load(),
	}
}

// ChannelStats returns a snapshot of every active channel, oldest first.
func (s *Server) ChannelStats() []ChannelStatus {
	chans := s.reg.snapshot()
	stats := make([]ChannelStatus, 0, len(chans))
	for _, c := range chans {
		stats = append(stats, c.Status())
	}
	sort.Slice(stats, func(i, j int) bool {
		return stats[i].Created.Before(stats[j].Created)
	})
	return stats
}
