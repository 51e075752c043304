package peerconn

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/wpxe-project/btengine/internal/wire"
)

func collect(t *testing.T, r *Reassembler, peerID int, chunks [][]byte) []Event {
	t.Helper()

	var events []Event
	for _, c := range chunks {
		if err := r.Feed(peerID, c, func(e Event) { events = append(events, e) }); err != nil {
			t.Fatalf("Feed error: %v", err)
		}
	}

	return events
}

func handshakeBytes(t *testing.T, infoHash, peerID [20]byte) []byte {
	t.Helper()

	hs := wire.NewHandshake(infoHash, peerID)
	b, err := hs.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary: %v", err)
	}

	return b
}

func TestReassembler_HandshakeWholeThenMessages(t *testing.T) {
	var infoHash, remotePeerID [20]byte
	copy(remotePeerID[:], "-iP1000420123456789-")

	r := NewReassembler(infoHash, false)

	stream := handshakeBytes(t, infoHash, remotePeerID)
	unchoke, _ := (&wire.Message{ID: wire.Unchoke}).MarshalBinary()
	stream = append(stream, unchoke...)

	events := collect(t, r, 7, [][]byte{stream})

	if len(events) != 2 {
		t.Fatalf("got %d events, want 2: %#v", len(events), events)
	}

	hsEvent, ok := events[0].(HandshakeEvent)
	if !ok {
		t.Fatalf("events[0] = %T, want HandshakeEvent", events[0])
	}
	if hsEvent.Data.RemoteID != 42 {
		t.Fatalf("RemoteID = %d, want 42", hsEvent.Data.RemoteID)
	}

	if _, ok := events[1].(UnchokeEvent); !ok {
		t.Fatalf("events[1] = %T, want UnchokeEvent", events[1])
	}
}

func TestReassembler_HandshakeChunkedByteAtATime(t *testing.T) {
	var infoHash, remotePeerID [20]byte
	copy(remotePeerID[:], "-iP1000110123456789-")

	r := NewReassembler(infoHash, true)
	stream := handshakeBytes(t, infoHash, remotePeerID)

	chunks := make([][]byte, len(stream))
	for i, b := range stream {
		chunks[i] = []byte{b}
	}

	events := collect(t, r, 3, chunks)
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}

	hsEvent := events[0].(HandshakeEvent)
	if !hsEvent.Data.SendHandshake {
		t.Fatalf("expected SendHandshake=true for HandshakeExpected connections")
	}
	if hsEvent.Data.RemoteID != 11 {
		t.Fatalf("RemoteID = %d, want 11", hsEvent.Data.RemoteID)
	}
}

func TestReassembler_HandshakeInfoHashMismatch(t *testing.T) {
	var infoHash, otherHash, remotePeerID [20]byte
	infoHash[0] = 0xAA
	otherHash[0] = 0xBB

	r := NewReassembler(infoHash, false)
	stream := handshakeBytes(t, otherHash, remotePeerID)

	err := r.Feed(1, stream, func(Event) {})
	if err == nil {
		t.Fatalf("expected error for info-hash mismatch")
	}
}

func TestReassembler_FragmentedPieceAcrossChunks(t *testing.T) {
	var infoHash, remotePeerID [20]byte

	stream := handshakeBytes(t, infoHash, remotePeerID)

	block := bytes.Repeat([]byte{0xAB}, 16384)
	pieceMsg := wire.MessagePiece(3, 0, block)
	pieceBytes, err := pieceMsg.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary: %v", err)
	}

	full := append(stream, pieceBytes...)

	for _, chunkSize := range []int{1, 7, 1024} {
		t.Run(fmt.Sprintf("chunk=%d", chunkSize), func(t *testing.T) {
			r := NewReassembler(infoHash, false)
			var chunks [][]byte
			for i := 0; i < len(full); i += chunkSize {
				end := min(i+chunkSize, len(full))
				chunks = append(chunks, full[i:end])
			}

			events := collect(t, r, 9, chunks)
			if len(events) != 2 {
				t.Fatalf("got %d events, want 2 (handshake + piece)", len(events))
			}

			pe, ok := events[1].(PieceEvent)
			if !ok {
				t.Fatalf("events[1] = %T, want PieceEvent", events[1])
			}
			if pe.Data.Index != 3 || pe.Data.Begin != 0 {
				t.Fatalf("Piece index/begin = %d/%d, want 3/0", pe.Data.Index, pe.Data.Begin)
			}
			if !bytes.Equal(pe.Data.Block, block) {
				t.Fatalf("reassembled block does not match original")
			}
		})
	}
}

func TestReassembler_KeepAlive(t *testing.T) {
	var infoHash, remotePeerID [20]byte

	r := NewReassembler(infoHash, false)
	stream := handshakeBytes(t, infoHash, remotePeerID)
	stream = append(stream, 0, 0, 0, 0) // keep-alive: zero length prefix

	events := collect(t, r, 2, [][]byte{stream})
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if _, ok := events[1].(KeepAliveEvent); !ok {
		t.Fatalf("events[1] = %T, want KeepAliveEvent", events[1])
	}
}

func TestReassembler_SplitLengthPrefixAcrossChunks(t *testing.T) {
	var infoHash, remotePeerID [20]byte

	r := NewReassembler(infoHash, false)
	stream := handshakeBytes(t, infoHash, remotePeerID)

	have, _ := wire.MessageHave(5).MarshalBinary()
	full := append(stream, have...)

	// Split exactly inside the 4-byte length prefix.
	splitAt := len(stream) + 2
	events := collect(t, r, 4, [][]byte{full[:splitAt], full[splitAt:]})

	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	haveEvent, ok := events[1].(HaveEvent)
	if !ok {
		t.Fatalf("events[1] = %T, want HaveEvent", events[1])
	}
	if haveEvent.Data.Index != 5 {
		t.Fatalf("Have index = %d, want 5", haveEvent.Data.Index)
	}
}

func TestReassembler_ZeroPayloadMessageDispatchesWithoutMoreData(t *testing.T) {
	var infoHash, remotePeerID [20]byte

	r := NewReassembler(infoHash, false)
	stream := handshakeBytes(t, infoHash, remotePeerID)

	choke, _ := (&wire.Message{ID: wire.Choke}).MarshalBinary()
	full := append(stream, choke...)

	events := collect(t, r, 6, [][]byte{full})
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if _, ok := events[1].(ChokeEvent); !ok {
		t.Fatalf("events[1] = %T, want ChokeEvent", events[1])
	}
}
