package session

import (
	"fmt"
	"time"

	"github.com/wpxe-project/btengine/internal/bitmap"
	"github.com/wpxe-project/btengine/internal/peerconn"
)

// ConnState is a peer connection's phase (spec.md §3).
type ConnState int

const (
	Created ConnState = iota
	HandshakeSent
	HandshakeExpected
	HandshakeReceived
	Leeching
	PeerSeeding // named to avoid colliding with the session-level State's Seeding
)

func (s ConnState) String() string {
	switch s {
	case Created:
		return "Created"
	case HandshakeSent:
		return "HandshakeSent"
	case HandshakeExpected:
		return "HandshakeExpected"
	case HandshakeReceived:
		return "HandshakeReceived"
	case Leeching:
		return "Leeching"
	case PeerSeeding:
		return "Seeding"
	default:
		return fmt.Sprintf("ConnState(%d)", int(s))
	}
}

// Flags is the choke/interest bit set (spec.md §3). Initial value: both
// choked, neither interested.
type Flags struct {
	AmChoking      bool
	AmInterested   bool
	PeerChoking    bool
	PeerInterested bool
}

func newFlags() Flags {
	return Flags{AmChoking: true, PeerChoking: true}
}

// peer is the session's view of one connection: everything spec.md §3
// calls "Peer connection" state, owned exclusively by the session's event
// loop goroutine.
type peer struct {
	id     int // slot id assigned by the session, stable for this socket's life
	connID int // spec.md's remote_id, known once the handshake completes

	transport peerconn.Transport
	conn      *peerconn.Conn // the live socket; nil only when a peer is built around a bare Transport

	state ConnState
	flags Flags

	pendingRequests int
	remoteBitmap    bitmap.Bitmap
	piecesReceived  int
	inFlight        map[int]bool // piece indices this peer owes us, for reclaim on close

	designatedSeeder bool      // self_id > remote_id, per spec.md §4.2
	lastKeepAlive    time.Time // last time we sent this peer a keep-alive
}

func newPeer(id int, transport peerconn.Transport, conn *peerconn.Conn, numPieces int) *peer {
	return &peer{
		id:           id,
		transport:    transport,
		conn:         conn,
		state:        Created,
		flags:        newFlags(),
		remoteBitmap: bitmap.New(numPieces),
		inFlight:     make(map[int]bool),
	}
}
