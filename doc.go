// Package ssebridge turns one-way request/response HTTP into durable,
// bidirectional, ordered message channels.
//
// Server-to-client traffic rides a Server-Sent Events stream obtained by
// hijacking the handshake request's socket; client-to-server traffic arrives
// as discrete HTTP POSTs carrying per-message sequence numbers and is
// reassembled into a strictly ordered event stream, regardless of network
// reordering.
//
// A Server implements http.Handler and can be mounted into an existing mux:
//
//	srv := ssebridge.NewServer(ssebridge.DefaultConfig(), logger)
//	mux.Handle("/sse", srv)
//
//	go func() {
//		for {
//			select {
//			case ch := <-srv.Accept():
//				go serve(ch)
//			case <-ctx.Done():
//				return
//			}
//		}
//	}()
//
// Each Channel pairs an ordered readable stream of inbound events (Events)
// with a writable sink of outbound payloads (Send). Messages sent before the
// client's socket is bound are buffered and flushed in send order on binding.
// At most one channel is active per client id: a reconnect under the same id
// tears down the previous channel before the new one becomes active.
//
// The underlying transport must support connection hijacking (net/http's
// Server does); mounting behind a ResponseWriter that cannot hijack is a
// configuration error surfaced as a panic with ErrHijackNotSupported.
package ssebridge
