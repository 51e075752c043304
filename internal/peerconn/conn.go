package peerconn

import (
	"context"
	"io"
	"net"
	"time"

	"github.com/wpxe-project/btengine/internal/wire"
)

// Transport is the capability a session needs from a live connection to
// drive spec.md §4.3's transmit policy: small control messages go out
// immediately, PIECE-sized payloads queue behind the write window.
type Transport interface {
	SendRaw(b []byte) error
	Enqueue(frame []byte)
	Window() int
}

// Conn wraps one TCP peer socket. Its reader loop runs in its own
// goroutine (net.Conn.Read blocks, so this is unavoidable) and forwards
// decoded Events to a single shared channel; everything it decodes about
// this one connection (rx_len/rx_id/remaining/rx_buffer in spec.md's
// terms) lives in the Reassembler, touched only from that goroutine. The
// writer side runs a second goroutine draining a bounded outbound queue,
// so a queued PIECE reply does not wait on the socket; once that queue is
// full, Enqueue blocks its caller. SendRaw writes synchronously on the
// caller's goroutine, bounded by writeTimeout.
type Conn struct {
	PeerID int

	nc           net.Conn
	writeTimeout time.Duration

	out chan []byte
}

// NewConn wraps nc for peerID, sizing its outbound queue to backlog
// frames (spec.md §5's "implementations should impose an upper bound").
func NewConn(peerID int, nc net.Conn, backlog int, writeTimeout time.Duration) *Conn {
	return &Conn{
		PeerID:       peerID,
		nc:           nc,
		writeTimeout: writeTimeout,
		out:          make(chan []byte, backlog),
	}
}

var _ Transport = (*Conn)(nil)

// SendRaw writes b immediately, bounded by writeTimeout. It is used for
// the small control frames spec.md §4.3 says are "written directly
// without queueing": handshake, keep-alive, interested, have, request.
func (c *Conn) SendRaw(b []byte) error {
	if c.writeTimeout > 0 {
		_ = c.nc.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}

	_, err := c.nc.Write(b)
	return err
}

// Enqueue appends a prebuilt frame to the transmit queue (spec.md §4.3's
// per-peer tx_queue), used for PIECE replies. It blocks if the queue is
// full, providing the backpressure spec.md leaves as an open question.
func (c *Conn) Enqueue(frame []byte) {
	c.out <- frame
}

// Window reports how much queue capacity remains, standing in for the
// socket write-window check spec.md's non-blocking model performs before
// every send.
func (c *Conn) Window() int {
	return cap(c.out) - len(c.out)
}

// RunWriter drains the outbound queue until ctx is canceled or the
// connection errors. It preserves enqueue order (spec.md §5).
func (c *Conn) RunWriter(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case frame, ok := <-c.out:
			if !ok {
				return nil
			}
			if c.writeTimeout > 0 {
				_ = c.nc.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			}
			if _, err := c.nc.Write(frame); err != nil {
				return err
			}
		}
	}
}

// Close closes the underlying socket, which unblocks any pending read and
// write and tears the connection down (spec.md §4.5).
func (c *Conn) Close() error {
	return c.nc.Close()
}

// RunReader feeds bytes read from the socket through a Reassembler until
// the connection closes or a fatal framing error occurs, emitting a final
// ClosedEvent either way. It must run on its own goroutine. handshakeTimeout
// bounds the wait for the handshake preamble; once the reassembler moves
// past it, readTimeout governs every subsequent read (spec.md §4.2/§4.5).
func (c *Conn) RunReader(infoHash [20]byte, expectsOurHandshake bool, handshakeTimeout, readTimeout time.Duration, emit func(Event)) {
	reassembler := NewReassembler(infoHash, expectsOurHandshake)
	buf := make([]byte, 64*1024)

	for {
		deadline := readTimeout
		if reassembler.AwaitingHandshake() {
			deadline = handshakeTimeout
		}
		if deadline > 0 {
			_ = c.nc.SetReadDeadline(time.Now().Add(deadline))
		}

		n, err := c.nc.Read(buf)
		if n > 0 {
			if feedErr := reassembler.Feed(c.PeerID, buf[:n], emit); feedErr != nil {
				emit(ClosedEvent{PeerID: c.PeerID, Data: ClosedData{Err: feedErr}})
				return
			}
		}

		if err != nil {
			if err == io.EOF {
				emit(ClosedEvent{PeerID: c.PeerID, Data: ClosedData{Err: nil}})
			} else {
				emit(ClosedEvent{PeerID: c.PeerID, Data: ClosedData{Err: err}})
			}
			return
		}
	}
}

// SendHandshake writes a handshake frame directly, per spec.md §4.3.
func SendHandshake(t Transport, h wire.Handshake) error {
	b, err := h.MarshalBinary()
	if err != nil {
		return err
	}
	return t.SendRaw(b)
}
