// Package transport implements spec.md §4.5's listener/connector: it
// binds the session's listening socket, accepts inbound peers, and dials
// outbound ones, handing each live net.Conn to the session as a
// peerconn.Conn. It owns no session-global state.
package transport

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/wpxe-project/btengine/internal/retry"
)

// Dial opens an outbound TCP connection to addr, making at most
// maxRetries attempts in total with exponential backoff between them
// (spec.md §4.4's ConnectingToPeers retry policy).
func Dial(ctx context.Context, addr string, dialTimeout time.Duration, maxRetries int) (net.Conn, error) {
	var nc net.Conn

	err := retry.Do(ctx, func(ctx context.Context) error {
		dialer := &net.Dialer{Timeout: dialTimeout}
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			return err
		}
		nc = conn
		return nil
	}, retry.WithExponentialBackoff(maxRetries, 200*time.Millisecond, 5*time.Second)...)

	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", addr, err)
	}

	return nc, nil
}

// Listener accepts inbound peer connections on the session's configured
// local address (spec.md §4.5).
type Listener struct {
	nc net.Listener
}

// Listen binds addr for inbound peer connections.
func Listen(addr string) (*Listener, error) {
	nc, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: listen %s: %w", addr, err)
	}

	return &Listener{nc: nc}, nil
}

func (l *Listener) Addr() net.Addr { return l.nc.Addr() }

func (l *Listener) Close() error { return l.nc.Close() }

// Serve accepts connections until ctx is canceled or Accept fails,
// handing each to onAccept. It returns nil on a clean shutdown via ctx.
func (l *Listener) Serve(ctx context.Context, onAccept func(net.Conn)) error {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = l.nc.Close()
		case <-done:
		}
	}()
	defer close(done)

	for {
		conn, err := l.nc.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return fmt.Errorf("transport: accept: %w", err)
			}
		}

		onAccept(conn)
	}
}
