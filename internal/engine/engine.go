// Package engine is the bt_open equivalent named in spec.md's design
// notes: it parses a bt:// URI, loads the process-wide config, and wires
// up a session.Session ready for Run.
package engine

import (
	"fmt"
	"log/slog"

	"github.com/wpxe-project/btengine/internal/config"
	"github.com/wpxe-project/btengine/internal/delivery"
	"github.com/wpxe-project/btengine/internal/ids"
	"github.com/wpxe-project/btengine/internal/session"
	"github.com/wpxe-project/btengine/internal/uri"
)

// Open parses target, resolves the torrent identity and piece count from
// the global config, and constructs a session ready to Run. sink receives
// completed blocks; source answers inbound REQUESTs for pieces this node
// already holds (nil is valid for a pure leecher with nothing to serve
// yet).
func Open(target string, sink delivery.Sink, source delivery.Source, log *slog.Logger) (*session.Session, error) {
	t, err := uri.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}

	cfg := *config.Load()
	if cfg.NumPieces <= 0 {
		return nil, fmt.Errorf("engine: config.NumPieces must be set before Open")
	}

	infoHash, err := ids.DecodeInfoHash(cfg.InfoHash)
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}

	if log == nil {
		log = slog.Default()
	}

	sess, err := session.New(cfg, infoHash, t.SelfID, cfg.NumPieces, sink, source, log)
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}

	return sess, nil
}
