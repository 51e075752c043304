// Package config holds the engine's operating parameters: the constants
// and tunables spec.md §7 names (MAX_RETRIES, PIECE_SIZE, per-peer
// pipelining depth, timeouts), stored behind an atomic global so a
// running session always reads a consistent snapshot even though the
// engine itself is single-threaded (spec.md §5) — the atomic store exists
// for the CLI and tests to swap configuration between runs, not for
// cross-goroutine mutation of a live session.
package config

import (
	"sync/atomic"
	"time"
)

// PieceSize is fixed for this engine; spec.md §2 does not allow
// per-transfer piece sizes.
const PieceSize = 16384

// Config defines the resource limits and timeouts governing a single
// session's peer-wire behavior.
type Config struct {
	// Port is the TCP port this node listens on for incoming connections.
	Port uint16

	// MaxPeers is the maximum number of concurrent peer connections.
	MaxPeers int

	// MaxPendingRequests is the per-peer REQUEST pipelining depth
	// (spec.md §4.3): the cap on outstanding requests before further
	// PIECE replies must arrive before more are sent.
	MaxPendingRequests int

	// MaxRetries bounds the outbound connect attempts to a single peer
	// before that peer is abandoned (spec.md §4.4).
	MaxRetries int

	// DialTimeout bounds a single outbound TCP connect attempt.
	DialTimeout time.Duration

	// HandshakeTimeout bounds the wait for the remote handshake after a
	// successful TCP connect.
	HandshakeTimeout time.Duration

	// ReadTimeout is the maximum time to wait for data from a peer before
	// the connection is considered stalled and torn down.
	ReadTimeout time.Duration

	// WriteTimeout is the maximum time to wait when writing to a peer.
	WriteTimeout time.Duration

	// KeepAliveInterval is how often the engine sends a KEEP-ALIVE to each
	// handshaken peer while the session is Seeding or Complete, regardless
	// of other traffic on that connection (spec.md §4.1).
	KeepAliveInterval time.Duration

	// OutboundQueueBacklog is the maximum queued outbound frames per peer
	// before the transport applies backpressure.
	OutboundQueueBacklog int

	// StepInterval is the tick period of the session's cooperative event
	// loop (spec.md §5).
	StepInterval time.Duration

	// NumPieces is the fixed piece count of the torrent this engine
	// instance acquires. The engine handles exactly one torrent per
	// session, so this lives in config rather than being negotiated.
	NumPieces int

	// InfoHash is the 40-character lower-hex content fingerprint of the
	// torrent this engine instance acquires (spec.md §6).
	InfoHash string
}

// Default returns the engine's baseline tunables.
func Default() Config {
	return Config{
		Port:                 45501,
		MaxPeers:             8,
		MaxPendingRequests:   5,
		MaxRetries:           3,
		DialTimeout:          10 * time.Second,
		HandshakeTimeout:     10 * time.Second,
		ReadTimeout:          30 * time.Second,
		WriteTimeout:         10 * time.Second,
		KeepAliveInterval:    2 * time.Minute,
		OutboundQueueBacklog: 32,
		StepInterval:         200 * time.Millisecond,
	}
}

var current atomic.Value

func init() {
	c := Default()
	current.Store(&c)
}

// Load returns the current global config. Treat the result as read-only.
func Load() *Config {
	return current.Load().(*Config)
}

// Update mutates a copy of the current config and installs it atomically,
// returning the new value.
func Update(mut func(*Config)) *Config {
	next := *Load()
	mut(&next)
	current.Store(&next)
	return &next
}

// Swap installs next as the global config.
func Swap(next Config) *Config {
	current.Store(&next)
	return &next
}
