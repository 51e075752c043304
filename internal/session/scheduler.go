package session

import (
	"github.com/wpxe-project/btengine/internal/config"
	"github.com/wpxe-project/btengine/internal/wire"
)

// requestNext pipelines outstanding REQUESTs to p up to the configured
// window, picking the next piece p is known to have that nobody else has
// already finished (spec.md's naive FIFO acquisition, no rarest-first, no
// sub-block splitting — whole pieces only).
func (s *Session) requestNext(p *peer) {
	for p.pendingRequests < s.cfg.MaxPendingRequests && p.transport.Window() > 0 {
		idx, ok := s.popWorkQueueFor(p)
		if !ok {
			return
		}

		p.inFlight[idx] = true
		p.pendingRequests++

		if p.state == HandshakeReceived {
			// First REQUEST issued to this peer: we're actively leeching
			// from it now (spec.md §3).
			p.state = Leeching
		}

		req := wire.MessageRequest(uint32(idx), 0, uint32(config.PieceSize))
		if err := p.transport.SendRaw(marshal(req)); err != nil {
			s.log.Warn("request send failed", "peer", p.id, "piece", idx, "err", err)
			return
		}
	}
}

// popWorkQueueFor removes and returns the first queued piece index that p
// is known to hold, preserving FIFO order among the rest.
func (s *Session) popWorkQueueFor(p *peer) (int, bool) {
	for i, idx := range s.workQueue {
		if !p.remoteBitmap.Has(idx) {
			continue
		}

		s.workQueue = append(s.workQueue[:i], s.workQueue[i+1:]...)
		delete(s.workQueueSet, idx)
		return idx, true
	}

	return 0, false
}

// addToWorkQueueIfAbsent re-queues idx (e.g. reclaimed from a closed
// connection), unless it's already queued or already complete.
func (s *Session) addToWorkQueueIfAbsent(idx int) {
	if s.bitmapHave.Has(idx) || s.workQueueSet[idx] {
		return
	}

	s.workQueue = append(s.workQueue, idx)
	s.workQueueSet[idx] = true
}
