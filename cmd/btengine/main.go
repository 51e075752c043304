// Command btengine runs a single peer-wire session against the
// configured node set and reports progress to the terminal.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"log/slog"

	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"
	"golang.org/x/sync/errgroup"

	"github.com/wpxe-project/btengine/internal/config"
	"github.com/wpxe-project/btengine/internal/delivery"
	"github.com/wpxe-project/btengine/internal/engine"
	"github.com/wpxe-project/btengine/internal/logging"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "btengine:", err)
		os.Exit(1)
	}
}

func run() error {
	target := flag.String("uri", "", "bt://<self-id> address to open")
	infoHash := flag.String("info-hash", "", "40-char lower-hex info hash")
	numPieces := flag.Int("num-pieces", 0, "fixed piece count of the torrent")
	verbose := flag.Bool("v", false, "enable debug logging")
	flag.Parse()

	if *target == "" || *infoHash == "" || *numPieces <= 0 {
		return fmt.Errorf("usage: btengine -uri bt://<id> -info-hash <hex> -num-pieces <n>")
	}

	runID := uuid.New().String()

	opts := logging.DefaultOptions()
	if *verbose {
		opts.Level = slog.LevelDebug
	}
	log := logging.New(os.Stderr, opts).With("run_id", runID)

	config.Update(func(c *config.Config) {
		c.InfoHash = *infoHash
		c.NumPieces = *numPieces
	})

	bar := progressbar.NewOptions(*numPieces,
		progressbar.OptionSetDescription("acquiring pieces"),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionClearOnFinish(),
	)

	have := make(map[int]bool)
	sink := delivery.SinkFunc(func(b delivery.Block) {
		idx := int(b.AbsoluteOffset / config.PieceSize)
		if !have[idx] {
			have[idx] = true
			_ = bar.Add(1)
		}
	})

	sess, err := engine.Open(*target, sink, nil, log)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return sess.Run(gctx)
	})
	g.Go(func() error {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				stats := sess.Stats()
				log.Info("progress", "state", stats.State.String(),
					"pieces", stats.PiecesHave, "of", stats.NumPieces,
					"peers", stats.PeersActive)
			}
		}
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	return nil
}
