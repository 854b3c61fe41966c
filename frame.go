package ssebridge

// SSE wire framing. Each server message becomes a single data frame; the
// handshake block is written verbatim onto the hijacked socket before any
// frame, followed by a comment frame confirming stream start.

// keepaliveFrame is an SSE comment; clients ignore any line starting with a
// colon, so it is safe to emit on an idle stream.
var keepaliveFrame = []byte(":keepalive\n\n")

// encodeFrame wraps a payload's JSON form as one SSE data frame. A payload is
// never split across frames.
func encodeFrame(p Payload) []byte {
	data, _ := p.MarshalJSON() // cannot fail for Payload
	b := make([]byte, 0, len("data: ")+len(data)+2)
	b = append(b, "data: "...)
	b = append(b, data...)
	b = append(b, '\n', '\n')
	return b
}

// handshakeBlock is the raw HTTP response prefix for a hijacked SSE stream:
// status line, headers, blank line, then the ":ok" comment frame. The
// Access-Control-Allow-Origin header is emitted only when the handshake
// request carried an Origin.
func handshakeBlock(origin string) []byte {
	var b []byte
	b = append(b, "HTTP/1.1 200 OK\r\n"...)
	b = append(b, "Content-Type: text/event-stream\r\n"...)
	b = append(b, "Cache-Control: no-cache\r\n"...)
	b = append(b, "Connection: keep-alive\r\n"...)
	b = append(b, "Access-Control-Allow-Credentials: true\r\n"...)
	if origin != "" {
		b = append(b, "Access-Control-Allow-Origin: "...)
		b = append(b, origin...)
		b = append(b, '\r', '\n')
	}
	b = append(b, "X-Accel-Buffering: no\r\n"...)
	b = append(b, '\r', '\n')
	b = append(b, ":ok\n\n"...)
	return b
}
