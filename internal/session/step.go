package session

import (
	"context"
	"time"

	"github.com/wpxe-project/btengine/internal/peerconn"
	"github.com/wpxe-project/btengine/internal/transport"
	"github.com/wpxe-project/btengine/internal/uri"
	"github.com/wpxe-project/btengine/internal/wire"
)

// step runs one per-tick pass of whatever the current state calls for
// (spec.md §4.4); it is only ever called from Run's event loop.
func (s *Session) step(ctx context.Context) {
	switch s.state {
	case ConnectingToPeers:
		s.stepConnecting(ctx)
	case SendingHandshake:
		s.stepHandshake()
	case Downloading:
		s.stepDownloading()
	case Seeding, Complete:
		s.stepSettled()
	}
}

func (s *Session) stepConnecting(ctx context.Context) {
	allSettled := true

	for _, rec := range s.peerRecords {
		if rec.Connected || rec.Retries > 0 {
			continue
		}
		allSettled = false

		if rec.Dialing {
			continue
		}
		rec.Dialing = true

		target := rec.TargetID
		addr := uri.PeerAddr(target)
		dialTimeout, maxRetries := s.cfg.DialTimeout, s.cfg.MaxRetries

		go func() {
			nc, err := transport.Dial(ctx, addr, dialTimeout, maxRetries)
			s.raw <- connectResultEvent{targetID: target, nc: nc, err: err}
		}()
	}

	if allSettled {
		if err := s.state.advanceTo(SendingHandshake); err != nil {
			s.log.Error("state transition rejected", "err", err)
			return
		}
		s.log.Info("outbound connection attempts settled", "connected", s.countConnected())
	}
}

func (s *Session) countConnected() int {
	n := 0
	for _, rec := range s.peerRecords {
		if rec.Connected {
			n++
		}
	}
	return n
}

func (s *Session) stepHandshake() {
	for _, p := range s.peers {
		if p.state != Created {
			continue
		}

		h := wire.NewHandshake(s.infoHash, s.selfPeerID)
		if err := peerconn.SendHandshake(p.transport, *h); err != nil {
			s.log.Warn("handshake send failed", "peer", p.id, "err", err)
			_ = p.conn.Close()
			continue
		}
		p.state = HandshakeSent
	}

	for _, p := range s.peers {
		if p.state == Created || p.state == HandshakeSent {
			return
		}
	}

	if err := s.state.advanceTo(Downloading); err != nil {
		s.log.Error("state transition rejected", "err", err)
		return
	}
	s.log.Info("handshakes settled, downloading")
}

func (s *Session) stepDownloading() {
	for _, p := range s.peers {
		if p.state >= HandshakeReceived && !p.flags.PeerChoking {
			s.requestNext(p)
		}
	}

	if s.bitmapHave.All(s.numPieces) {
		if err := s.state.advanceTo(Seeding); err != nil {
			s.log.Error("state transition rejected", "err", err)
			return
		}
		for _, p := range s.peers {
			if p.state >= HandshakeReceived {
				p.state = PeerSeeding
			}
		}
		s.log.Info("all pieces acquired, seeding")
	}
}

func (s *Session) stepSettled() {
	keepAlive := marshal(nil)
	now := time.Now()
	for _, p := range s.peers {
		if p.state < HandshakeReceived {
			continue
		}
		if now.Sub(p.lastKeepAlive) < s.cfg.KeepAliveInterval {
			continue
		}
		if err := p.transport.SendRaw(keepAlive); err == nil {
			p.lastKeepAlive = now
		}
	}

	if s.state != Seeding || len(s.peers) == 0 {
		return
	}

	for _, p := range s.peers {
		if !p.remoteBitmap.All(s.numPieces) {
			return
		}
	}

	if err := s.state.advanceTo(Complete); err != nil {
		s.log.Error("state transition rejected", "err", err)
		return
	}
	s.log.Info("swarm fully seeded")
}
