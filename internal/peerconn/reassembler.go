package peerconn

import (
	"encoding/binary"
	"fmt"

	"github.com/wpxe-project/btengine/internal/ids"
	"github.com/wpxe-project/btengine/internal/wire"
)

type phase int

const (
	phaseHandshake phase = iota
	phasePrefix
	phaseID
	phaseBody
)

// Reassembler implements spec.md §4.2's receive algorithm: it consumes
// arbitrarily-chunked input and emits one Event per fully decoded
// handshake or message. It holds no session-global state and is touched
// by exactly one goroutine (the connection's reader loop), so it needs no
// synchronization of its own.
type Reassembler struct {
	infoHash   [20]byte
	expectsOur bool // true if we have not yet sent our own handshake (HandshakeExpected)

	phase phase

	hsBuf []byte

	lenBuf []byte
	length uint32

	id wire.MessageID

	body      []byte
	remaining int
}

// NewReassembler constructs a reassembler bound to a session's info hash.
// expectsOurHandshake is true for an inbound (accepted) connection that
// has not yet sent its own handshake (spec.md's HandshakeExpected state).
func NewReassembler(infoHash [20]byte, expectsOurHandshake bool) *Reassembler {
	return &Reassembler{
		infoHash:   infoHash,
		expectsOur: expectsOurHandshake,
		phase:      phaseHandshake,
		hsBuf:      make([]byte, 0, wire.HandshakeLen),
	}
}

// AwaitingHandshake reports whether the reassembler is still waiting on
// the fixed-length handshake preamble, so a caller can apply a distinct
// handshake deadline (spec.md §4.2) before falling back to the steady
// -state read timeout.
func (r *Reassembler) AwaitingHandshake() bool {
	return r.phase == phaseHandshake
}

// Feed processes one chunk of bytes read from the socket, emitting zero
// or more Events via emit. It returns an error on a fatal framing or
// handshake violation (spec.md §4.1: pstrlen/info-hash mismatch).
func (r *Reassembler) Feed(peerID int, data []byte, emit func(Event)) error {
	for len(data) > 0 {
		switch r.phase {
		case phaseHandshake:
			consumed := r.fillHandshake(data)
			data = data[consumed:]
			if len(r.hsBuf) < wire.HandshakeLen {
				return nil
			}

			var hs wire.Handshake
			if err := hs.UnmarshalBinary(r.hsBuf); err != nil {
				return fmt.Errorf("peerconn: handshake decode: %w", err)
			}

			expected := wire.Handshake{InfoHash: r.infoHash}
			if err := expected.Accept(hs); err != nil {
				return fmt.Errorf("peerconn: handshake rejected: %w", err)
			}

			remoteID, _ := ids.RemoteNodeID(hs.PeerID)

			emit(HandshakeEvent{PeerID: peerID, Data: HandshakeData{
				RemotePeerID:  hs.PeerID,
				RemoteID:      remoteID,
				SendHandshake: r.expectsOur,
			}})

			r.hsBuf = r.hsBuf[:0]
			r.phase = phasePrefix

		case phasePrefix:
			consumed := r.fillPrefix(data)
			data = data[consumed:]
			if len(r.lenBuf) < 4 {
				return nil
			}

			r.length = binary.BigEndian.Uint32(r.lenBuf)
			r.lenBuf = r.lenBuf[:0]

			if r.length == 0 {
				emit(KeepAliveEvent{PeerID: peerID})
				r.phase = phasePrefix
				continue
			}

			r.phase = phaseID

		case phaseID:
			r.id = wire.MessageID(data[0])
			data = data[1:]
			r.remaining = int(r.length) - 1
			if r.remaining < 0 {
				return fmt.Errorf("peerconn: %w", wire.ErrBadLengthPrefix)
			}
			r.body = make([]byte, 0, r.remaining)

			if r.remaining == 0 {
				if err := r.dispatch(peerID, emit); err != nil {
					return err
				}
				r.body = nil
				r.phase = phasePrefix
				continue
			}

			r.phase = phaseBody

		case phaseBody:
			take := r.remaining
			if take > len(data) {
				take = len(data)
			}
			r.body = append(r.body, data[:take]...)
			data = data[take:]
			r.remaining -= take

			if r.remaining > 0 {
				return nil
			}

			if err := r.dispatch(peerID, emit); err != nil {
				return err
			}

			r.body = nil
			r.phase = phasePrefix
		}
	}

	return nil
}

func (r *Reassembler) fillHandshake(data []byte) int {
	need := wire.HandshakeLen - len(r.hsBuf)
	take := min(need, len(data))
	r.hsBuf = append(r.hsBuf, data[:take]...)
	return take
}

func (r *Reassembler) fillPrefix(data []byte) int {
	need := 4 - len(r.lenBuf)
	take := min(need, len(data))
	r.lenBuf = append(r.lenBuf, data[:take]...)
	return take
}

func (r *Reassembler) dispatch(peerID int, emit func(Event)) error {
	m := &wire.Message{ID: r.id, Payload: r.body}
	if err := m.ValidatePayloadSize(); err != nil {
		return fmt.Errorf("peerconn: %w", err)
	}

	switch r.id {
	case wire.Choke:
		emit(ChokeEvent{PeerID: peerID})
	case wire.Unchoke:
		emit(UnchokeEvent{PeerID: peerID})
	case wire.Interested:
		emit(InterestedEvent{PeerID: peerID})
	case wire.NotInterested:
		emit(NotInterestedEvent{PeerID: peerID})
	case wire.Bitfield:
		emit(BitfieldEvent{PeerID: peerID, Data: BitfieldData{Bytes: append([]byte(nil), r.body...)}})
	case wire.Have:
		index, ok := m.ParseHave()
		if !ok {
			return fmt.Errorf("peerconn: %w", wire.ErrBadPayloadSize)
		}
		emit(HaveEvent{PeerID: peerID, Data: HaveData{Index: int(index)}})
	case wire.Request:
		index, begin, length, ok := m.ParseRequest()
		if !ok {
			return fmt.Errorf("peerconn: %w", wire.ErrBadPayloadSize)
		}
		emit(RequestEvent{PeerID: peerID, Data: RequestData{Index: int(index), Begin: int(begin), Length: int(length)}})
	case wire.Piece:
		index, begin, block, ok := m.ParsePiece()
		if !ok {
			return fmt.Errorf("peerconn: %w", wire.ErrBadPayloadSize)
		}
		emit(PieceEvent{PeerID: peerID, Data: PieceData{Index: int(index), Begin: int(begin), Block: block}})
	case wire.Cancel:
		index, begin, length, ok := m.ParseRequest()
		if !ok {
			return fmt.Errorf("peerconn: %w", wire.ErrBadPayloadSize)
		}
		emit(CancelEvent{PeerID: peerID, Data: CancelData{Index: int(index), Begin: int(begin), Length: int(length)}})
	case wire.Port:
		if len(r.body) != 2 {
			return fmt.Errorf("peerconn: %w", wire.ErrBadPayloadSize)
		}
		emit(PortEvent{PeerID: peerID, Data: PortData{Port: binary.BigEndian.Uint16(r.body)}})
	default:
		// Unrecognised ids are accepted and ignored, matching spec.md
		// §4.1's "recognised message ids" framing: anything else still
		// consumes its declared length so the stream stays in sync.
	}

	return nil
}
