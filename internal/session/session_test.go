package session

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wpxe-project/btengine/internal/config"
	"github.com/wpxe-project/btengine/internal/delivery"
	"github.com/wpxe-project/btengine/internal/peerconn"
	"github.com/wpxe-project/btengine/internal/wire"
)

// fakeTransport is an in-memory peerconn.Transport recording every frame
// sent, so handler logic can be exercised without a real socket.
type fakeTransport struct {
	sent   [][]byte
	queued [][]byte
	window int
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{window: 64}
}

func (f *fakeTransport) SendRaw(b []byte) error {
	f.sent = append(f.sent, append([]byte(nil), b...))
	return nil
}

func (f *fakeTransport) Enqueue(frame []byte) {
	f.queued = append(f.queued, append([]byte(nil), frame...))
}

func (f *fakeTransport) Window() int { return f.window }

func (f *fakeTransport) messageIDs() []wire.MessageID {
	var ids []wire.MessageID
	for _, b := range f.sent {
		var m wire.Message
		if err := m.UnmarshalBinary(b); err == nil {
			ids = append(ids, m.ID)
		}
	}
	return ids
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestSession(t *testing.T, selfID, numPieces int) *Session {
	t.Helper()

	cfg := config.Default()
	cfg.MaxPeers = 1
	cfg.MaxPendingRequests = 2

	source := delivery.NewMemorySource()
	sink := delivery.Discard

	s, err := New(cfg, [20]byte{1, 2, 3}, selfID, numPieces, sink, source, testLogger())
	require.NoError(t, err)

	return s
}

func attachPeer(s *Session, id int, numPieces int) (*peer, *fakeTransport) {
	ft := newFakeTransport()
	p := newPeer(id, ft, nil, numPieces)
	p.state = HandshakeReceived
	s.peers[id] = p
	return p, ft
}

func fullBitfield(numPieces int) []byte {
	b := make([]byte, (numPieces+7)/8)
	for i := 0; i < numPieces; i++ {
		byteIdx, off := i/8, 7-(i%8)
		b[byteIdx] |= 1 << off
	}
	return b
}

// TestTwoPeerPieceTransfer exercises spec.md §8's two-node transfer
// scenario: a remote peer advertises a full bitfield, we pipeline
// REQUESTs, completed PIECE events mark the bitmap and fan out HAVE to
// the rest of the swarm, and every piece ends up acquired.
func TestTwoPeerPieceTransfer(t *testing.T) {
	const numPieces = 3

	s := newTestSession(t, 90, numPieces)

	_, ft0 := attachPeer(s, 0, numPieces)
	_, ft1 := attachPeer(s, 1, numPieces)

	s.onBitfield(0, peerconn.BitfieldData{Bytes: fullBitfield(numPieces)})
	assert.True(t, s.peers[0].flags.AmInterested, "expected AmInterested after remote bitfield covers our work queue")
	assert.Contains(t, ft0.messageIDs(), wire.Interested)

	s.onUnchoke(0)
	assert.Len(t, s.peers[0].inFlight, 2, "expected MaxPendingRequests=2 requests pipelined")

	block := make([]byte, config.PieceSize)
	for len(s.workQueue) > 0 || len(s.peers[0].inFlight) > 0 {
		var next int = -1
		for idx := range s.peers[0].inFlight {
			next = idx
			break
		}
		if next == -1 {
			t.Fatalf("no in-flight piece but work queue not drained: %v", s.workQueue)
		}
		s.onPiece(0, peerconn.PieceData{Index: next, Begin: 0, Block: block})
	}

	if !s.bitmapHave.All(numPieces) {
		t.Fatalf("expected all pieces acquired, bitmap=%s", s.bitmapHave.String(numPieces))
	}

	assert.NotEmpty(t, ft1.sent, "expected HAVE broadcasts to the other peer")
	for _, id := range ft1.messageIDs() {
		assert.Equal(t, wire.Have, id)
	}
}

// TestRetryPolicyGivesUpAfterExhaustion exercises spec.md §8's retry
// scenario: once every configured peer has either connected or exhausted
// its outbound attempt, ConnectingToPeers advances to SendingHandshake
// even though some peers never connected.
func TestRetryPolicyGivesUpAfterExhaustion(t *testing.T) {
	s := newTestSession(t, 90, 1)
	require.Len(t, s.peerRecords, 1)

	rec := s.peerRecords[0]
	rec.Dialing = true

	s.onConnectResult(nil, connectResultEvent{targetID: rec.TargetID, err: dialFailure{}})

	if rec.Connected {
		t.Fatalf("expected record to remain unconnected after a failed dial")
	}
	if rec.Retries != 1 {
		t.Fatalf("expected exactly one retry recorded, got %d", rec.Retries)
	}

	s.stepConnecting(nil)
	if s.state != SendingHandshake {
		t.Fatalf("expected session to advance past ConnectingToPeers once every peer has settled, got %s", s.state)
	}
}

// TestClosedPeerReclaimsInFlightPieces exercises the reclaim-on-peer-loss
// path: pieces a lost connection still owed us go back on the work queue
// for the next peer to pick up.
func TestClosedPeerReclaimsInFlightPieces(t *testing.T) {
	s := newTestSession(t, 90, 2)

	p, _ := attachPeer(s, 0, 2)
	p.inFlight[0] = true
	delete(s.workQueueSet, 0)
	for i, idx := range s.workQueue {
		if idx == 0 {
			s.workQueue = append(s.workQueue[:i], s.workQueue[i+1:]...)
			break
		}
	}

	s.onClosed(0, peerconn.ClosedData{Err: nil})

	if !s.workQueueSet[0] {
		t.Fatalf("expected piece 0 reclaimed onto the work queue after peer close")
	}
	if _, ok := s.peers[0]; ok {
		t.Fatalf("expected peer removed from session after close")
	}
}

type dialFailure struct{}

func (dialFailure) Error() string { return "dial failed" }
