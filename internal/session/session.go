// Package session implements the session lifecycle of spec.md §4.4: it
// owns the shared piece bitmap, the naive work queue, the peer set, and
// the state machine that drives connect → handshake → download → seed.
// All mutable state is touched only from Session.Run's single event-loop
// goroutine (spec.md §5); per-connection I/O runs on its own goroutines
// and communicates back solely through the event channels, mirroring the
// teacher's PieceScheduler.Run pattern.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/wpxe-project/btengine/internal/bitmap"
	"github.com/wpxe-project/btengine/internal/config"
	"github.com/wpxe-project/btengine/internal/delivery"
	"github.com/wpxe-project/btengine/internal/ids"
	"github.com/wpxe-project/btengine/internal/peerconn"
	"github.com/wpxe-project/btengine/internal/transport"
	"github.com/wpxe-project/btengine/internal/uri"
	"github.com/wpxe-project/btengine/internal/wire"
)

// Stats is a snapshot of session progress, safe to read from any
// goroutine via Session.Stats.
type Stats struct {
	State        State
	PiecesHave   int
	NumPieces    int
	PeersActive  int
	WorkRemaining int
}

// rawEvent is produced by goroutines outside the event loop (accept,
// dial) and consumed only by Run, same as peerconn.Event.
type rawEvent interface{ isRaw() }

type acceptedEvent struct{ nc net.Conn }

func (acceptedEvent) isRaw() {}

type connectResultEvent struct {
	targetID int
	nc       net.Conn
	err      error
}

func (connectResultEvent) isRaw() {}

// Session is one leecher-and-seeder pair's view of a single-torrent
// transfer (spec.md §3).
type Session struct {
	cfg config.Config
	log *slog.Logger

	infoHash   [20]byte
	selfPeerID [20]byte
	selfID     int
	numPieces  int
	isLeecher  bool

	sink   delivery.Sink
	source delivery.Source

	state State

	bitmapHave   bitmap.Bitmap
	workQueue    []int
	workQueueSet map[int]bool

	peers       map[int]*peer
	peerRecords []*PeerRecord
	nextSlot    int

	listener *transport.Listener

	events chan peerconn.Event
	raw    chan rawEvent

	statsMu sync.Mutex
	stats   Stats
}

// New constructs a session for a single torrent transfer. sink receives
// completed blocks; source supplies bytes for pieces this node already
// has, to answer inbound REQUESTs (spec.md treats the backing store as
// external, so both are caller-supplied collaborators).
func New(cfg config.Config, infoHash [20]byte, selfID, numPieces int, sink delivery.Sink, source delivery.Source, log *slog.Logger) (*Session, error) {
	peerID, err := ids.GeneratePeerID(selfID)
	if err != nil {
		return nil, fmt.Errorf("session: generating peer id: %w", err)
	}

	targets := uri.PeerSet(selfID, cfg.MaxPeers)
	records := make([]*PeerRecord, 0, len(targets))
	minTarget := selfID
	for _, t := range targets {
		records = append(records, &PeerRecord{TargetID: t})
		if t < minTarget {
			minTarget = t
		}
	}

	workQueue := make([]int, numPieces)
	workQueueSet := make(map[int]bool, numPieces)
	for i := 0; i < numPieces; i++ {
		workQueue[i] = i
		workQueueSet[i] = true
	}

	if sink == nil {
		sink = delivery.Discard
	}

	s := &Session{
		cfg:          cfg,
		log:          log.With("component", "session", "self_id", selfID),
		infoHash:     infoHash,
		selfPeerID:   peerID,
		selfID:       selfID,
		numPieces:    numPieces,
		isLeecher:    selfID <= minTarget,
		sink:         sink,
		source:       source,
		state:        ConnectingToPeers,
		bitmapHave:   bitmap.New(numPieces),
		workQueue:    workQueue,
		workQueueSet: workQueueSet,
		peers:        make(map[int]*peer),
		peerRecords:  records,
		events:       make(chan peerconn.Event, 256),
		raw:          make(chan rawEvent, 32),
	}

	s.refreshStats()

	return s, nil
}

// Stats returns a snapshot of session progress.
func (s *Session) Stats() Stats {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()

	return s.stats
}

func (s *Session) refreshStats() {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()

	s.stats = Stats{
		State:         s.state,
		PiecesHave:    s.bitmapHave.Count(),
		NumPieces:     s.numPieces,
		PeersActive:   len(s.peers),
		WorkRemaining: len(s.workQueue),
	}
}

// Run binds the listener and drives the session's event loop until ctx
// is canceled or the session reaches Complete. It is the only goroutine
// permitted to mutate session state (spec.md §5).
func (s *Session) Run(ctx context.Context) error {
	listener, err := transport.Listen(uri.ListenAddr(s.selfID))
	if err != nil {
		return fmt.Errorf("session: %w", err)
	}
	s.listener = listener
	defer listener.Close()

	go func() {
		if err := listener.Serve(ctx, func(nc net.Conn) {
			s.raw <- acceptedEvent{nc: nc}
		}); err != nil {
			s.log.Error("listener stopped", "err", err)
		}
	}()

	ticker := time.NewTicker(s.cfg.StepInterval)
	defer ticker.Stop()

	s.log.Info("session started", "listen", listener.Addr().String(), "num_pieces", s.numPieces, "designated_leecher", s.isLeecher)

	for {
		select {
		case <-ctx.Done():
			s.teardown()
			return ctx.Err()

		case ev := <-s.events:
			s.handleEvent(ev)
			s.refreshStats()
			if s.state == Complete {
				s.teardown()
				return nil
			}

		case ev := <-s.raw:
			s.handleRaw(ctx, ev)
			s.refreshStats()

		case <-ticker.C:
			s.step(ctx)
			s.refreshStats()
			if s.state == Complete {
				s.teardown()
				return nil
			}
		}
	}
}

func (s *Session) teardown() {
	for _, p := range s.peers {
		if p.conn != nil {
			_ = p.conn.Close()
		}
	}
	if s.listener != nil {
		_ = s.listener.Close()
	}
}

func (s *Session) handleRaw(ctx context.Context, ev rawEvent) {
	switch e := ev.(type) {
	case acceptedEvent:
		s.onAccept(ctx, e.nc)
	case connectResultEvent:
		s.onConnectResult(ctx, e)
	}
}

func (s *Session) onAccept(ctx context.Context, nc net.Conn) {
	slot := s.nextSlot
	s.nextSlot++

	conn := peerconn.NewConn(slot, nc, s.cfg.OutboundQueueBacklog, s.cfg.WriteTimeout)
	p := newPeer(slot, conn, conn, s.numPieces)
	p.state = HandshakeExpected
	p.inFlight = make(map[int]bool)
	s.peers[slot] = p

	go conn.RunReader(s.infoHash, true, s.cfg.HandshakeTimeout, s.cfg.ReadTimeout, func(e peerconn.Event) { s.events <- e })
	go func() {
		if err := conn.RunWriter(ctx); err != nil {
			s.events <- peerconn.ClosedEvent{PeerID: slot, Data: peerconn.ClosedData{Err: err}}
		}
	}()

	s.log.Info("accepted inbound peer", "slot", slot, "remote", nc.RemoteAddr().String())
}

func (s *Session) onConnectResult(ctx context.Context, e connectResultEvent) {
	rec := s.recordFor(e.targetID)
	if rec == nil {
		if e.nc != nil {
			_ = e.nc.Close()
		}
		return
	}
	rec.Dialing = false

	if e.err != nil {
		rec.Retries++
		s.log.Warn("outbound connect failed", "target", e.targetID, "retries", rec.Retries, "err", e.err)
		return
	}

	slot := s.nextSlot
	s.nextSlot++

	conn := peerconn.NewConn(slot, e.nc, s.cfg.OutboundQueueBacklog, s.cfg.WriteTimeout)
	p := newPeer(slot, conn, conn, s.numPieces)
	p.connID = e.targetID
	p.designatedSeeder = s.selfID > e.targetID
	p.inFlight = make(map[int]bool)
	s.peers[slot] = p
	rec.Connected = true

	go conn.RunReader(s.infoHash, false, s.cfg.HandshakeTimeout, s.cfg.ReadTimeout, func(ev peerconn.Event) { s.events <- ev })
	go func() {
		if err := conn.RunWriter(ctx); err != nil {
			s.events <- peerconn.ClosedEvent{PeerID: slot, Data: peerconn.ClosedData{Err: err}}
		}
	}()

	s.log.Info("outbound peer connected", "slot", slot, "target", e.targetID)
}

func (s *Session) recordFor(targetID int) *PeerRecord {
	for _, r := range s.peerRecords {
		if r.TargetID == targetID {
			return r
		}
	}
	return nil
}

func marshal(m *wire.Message) []byte {
	b, _ := m.MarshalBinary()
	return b
}
