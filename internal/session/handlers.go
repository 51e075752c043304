package session

import (
	"time"

	"github.com/wpxe-project/btengine/internal/bitmap"
	"github.com/wpxe-project/btengine/internal/config"
	"github.com/wpxe-project/btengine/internal/delivery"
	"github.com/wpxe-project/btengine/internal/peerconn"
	"github.com/wpxe-project/btengine/internal/wire"
)

// handleEvent dispatches a decoded peer-wire event to its handler. It runs
// only inside Run's event loop, so every handler below may freely touch
// session-global state without locking.
func (s *Session) handleEvent(ev peerconn.Event) {
	switch e := ev.(type) {
	case peerconn.HandshakeEvent:
		s.onHandshake(e.PeerID, e.Data)
	case peerconn.ChokeEvent:
		s.onChoke(e.PeerID)
	case peerconn.UnchokeEvent:
		s.onUnchoke(e.PeerID)
	case peerconn.InterestedEvent:
		s.onInterested(e.PeerID)
	case peerconn.NotInterestedEvent:
		s.onNotInterested(e.PeerID)
	case peerconn.BitfieldEvent:
		s.onBitfield(e.PeerID, e.Data)
	case peerconn.HaveEvent:
		s.onHave(e.PeerID, e.Data)
	case peerconn.RequestEvent:
		s.onRequest(e.PeerID, e.Data)
	case peerconn.PieceEvent:
		s.onPiece(e.PeerID, e.Data)
	case peerconn.CancelEvent:
		s.onCancel(e.PeerID, e.Data)
	case peerconn.PortEvent:
		s.onPort(e.PeerID, e.Data)
	case peerconn.KeepAliveEvent:
		// Liveness only; RunReader's read deadline already resets on
		// every successful read.
	case peerconn.ClosedEvent:
		s.onClosed(e.PeerID, e.Data)
	}
}

func (s *Session) onHandshake(peerID int, data peerconn.HandshakeData) {
	p, ok := s.peers[peerID]
	if !ok {
		return
	}

	if p.connID == 0 {
		// Outbound connections already know remote_id from the
		// configured target; inbound ones learn it only now.
		p.connID = data.RemoteID
		p.designatedSeeder = s.selfID > p.connID
	}

	if data.SendHandshake {
		h := wire.NewHandshake(s.infoHash, s.selfPeerID)
		if err := peerconn.SendHandshake(p.transport, *h); err != nil {
			s.log.Warn("reply handshake failed", "peer", peerID, "err", err)
			_ = p.conn.Close()
			return
		}
	}

	p.state = HandshakeReceived
	if s.state == Seeding || s.state == Complete {
		// We already hold every piece: this connection only ever serves,
		// never requests (spec.md §3's per-peer Seeding state).
		p.state = PeerSeeding
	}
	s.log.Info("handshake complete", "peer", peerID, "remote_id", p.connID)

	// spec.md §4.2 step 1: emit KEEP-ALIVE right after handshake
	// validation, matching the original's bt_tx_keep_alive call.
	if err := p.transport.SendRaw(marshal(nil)); err == nil {
		p.lastKeepAlive = time.Now()
	}

	// spec.md §4.2 step 1: emit INTERESTED unconditionally on handshake
	// completion rather than deferring to the first bitfield/have. This
	// happens even when the session is already seeding; a later BITFIELD
	// re-derives interest through reconsiderInterest.
	if !p.flags.AmInterested {
		p.flags.AmInterested = true
		_ = p.transport.SendRaw(marshal(wire.MessageInterested()))
	}

	// No choking algorithm (Non-goal): every peer is unchoked on sight.
	p.flags.AmChoking = false
	_ = p.transport.SendRaw(marshal(wire.MessageUnchoke()))

	if s.bitmapHave.Count() > 0 {
		_ = p.transport.SendRaw(marshal(wire.MessageBitfield(s.bitmapHave.Bytes())))
	}
}

func (s *Session) onChoke(peerID int) {
	p, ok := s.peers[peerID]
	if !ok {
		return
	}

	p.flags.PeerChoking = true
	for idx := range p.inFlight {
		s.addToWorkQueueIfAbsent(idx)
	}
	p.inFlight = make(map[int]bool)
	p.pendingRequests = 0
}

func (s *Session) onUnchoke(peerID int) {
	p, ok := s.peers[peerID]
	if !ok {
		return
	}

	p.flags.PeerChoking = false
	s.requestNext(p)
}

func (s *Session) onInterested(peerID int) {
	if p, ok := s.peers[peerID]; ok {
		p.flags.PeerInterested = true
	}
}

func (s *Session) onNotInterested(peerID int) {
	if p, ok := s.peers[peerID]; ok {
		p.flags.PeerInterested = false
	}
}

func (s *Session) onBitfield(peerID int, data peerconn.BitfieldData) {
	p, ok := s.peers[peerID]
	if !ok {
		return
	}

	p.remoteBitmap = bitmap.FromBytes(data.Bytes)
	s.reconsiderInterest(p)
}

func (s *Session) onHave(peerID int, data peerconn.HaveData) {
	p, ok := s.peers[peerID]
	if !ok {
		return
	}

	p.remoteBitmap.Set(data.Index)

	if p.designatedSeeder {
		// Designated seeder ignores incoming HAVE for scheduling
		// purposes: the remote bitmap is updated above, but interest is
		// not changed here. Later REQUESTs to this peer (requestNext) do
		// not check this flag.
		return
	}

	if !p.flags.AmInterested && s.workQueueSet[data.Index] {
		p.flags.AmInterested = true
		_ = p.transport.SendRaw(marshal(wire.MessageInterested()))
	}
}

func (s *Session) reconsiderInterest(p *peer) {
	if p.designatedSeeder {
		return
	}

	wanted := false
	for idx := range s.workQueueSet {
		if p.remoteBitmap.Has(idx) {
			wanted = true
			break
		}
	}

	switch {
	case wanted && !p.flags.AmInterested:
		p.flags.AmInterested = true
		_ = p.transport.SendRaw(marshal(wire.MessageInterested()))
	case !wanted && p.flags.AmInterested:
		p.flags.AmInterested = false
		_ = p.transport.SendRaw(marshal(wire.MessageNotInterested()))
	}
}

func (s *Session) onRequest(peerID int, data peerconn.RequestData) {
	p, ok := s.peers[peerID]
	if !ok {
		return
	}

	if s.source == nil {
		return
	}

	piece, err := s.source.ReadPiece(data.Index)
	if err != nil {
		s.log.Warn("request for unavailable piece", "peer", peerID, "piece", data.Index, "err", err)
		return
	}

	begin, length := data.Begin, data.Length
	if begin < 0 || begin > len(piece) {
		return
	}
	end := begin + length
	if end > len(piece) {
		end = len(piece)
	}

	msg := wire.MessagePiece(uint32(data.Index), uint32(begin), piece[begin:end])
	p.transport.Enqueue(marshal(msg))
}

func (s *Session) onPiece(peerID int, data peerconn.PieceData) {
	p, ok := s.peers[peerID]
	if !ok {
		return
	}

	delete(p.inFlight, data.Index)
	if p.pendingRequests > 0 {
		p.pendingRequests--
	}

	offset := uint64(data.Index)*config.PieceSize + uint64(data.Begin)
	s.sink.Deliver(delivery.Block{AbsoluteOffset: offset, Bytes: data.Block})

	if data.Begin == 0 && len(data.Block) == config.PieceSize && !s.bitmapHave.Has(data.Index) {
		s.bitmapHave.Set(data.Index)
		delete(s.workQueueSet, data.Index)
		for i, idx := range s.workQueue {
			if idx == data.Index {
				s.workQueue = append(s.workQueue[:i], s.workQueue[i+1:]...)
				break
			}
		}
		p.piecesReceived++

		s.broadcastHave(data.Index, peerID)
	}

	s.requestNext(p)
}

func (s *Session) broadcastHave(index, fromPeerID int) {
	msg := marshal(wire.MessageHave(uint32(index)))
	for id, p := range s.peers {
		if id == fromPeerID || p.state < HandshakeReceived {
			continue
		}
		_ = p.transport.SendRaw(msg)
	}
}

func (s *Session) onCancel(peerID int, data peerconn.CancelData) {
	// Simplification: an already-enqueued PIECE frame cannot be cheaply
	// pulled back out of the per-connection write queue, so CANCEL is
	// acknowledged only by not scheduling new work for it; in-flight
	// replies still go out.
	s.log.Debug("cancel received, ignoring in-flight reply", "peer", peerID, "piece", data.Index)
}

func (s *Session) onPort(peerID int, data peerconn.PortData) {
	// DHT is out of scope; PORT is accepted and otherwise unused.
}

func (s *Session) onClosed(peerID int, data peerconn.ClosedData) {
	p, ok := s.peers[peerID]
	if !ok {
		return
	}

	if data.Err != nil {
		s.log.Warn("peer connection closed", "peer", peerID, "err", data.Err)
	} else {
		s.log.Info("peer connection closed", "peer", peerID)
	}

	for idx := range p.inFlight {
		s.addToWorkQueueIfAbsent(idx)
	}

	if rec := s.recordFor(p.connID); rec != nil {
		rec.Connected = false
	}

	delete(s.peers, peerID)
}
