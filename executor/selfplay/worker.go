package selfplay

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/brensch/chainreaction/executor/mcts"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// RunConfig configures a batch of self-play episodes.
type RunConfig struct {
	Rows    int
	Cols    int
	Players int
	MCTS    mcts.Config

	Workers int
	// Games is the number of episodes to play; 0 plays until ctx is done.
	Games int
	// Seed is the base seed; 0 picks one from the clock. Episode i uses
	// Seed + i*seedStride.
	Seed    int64
	Verbose bool

	// OnStep is called after every move of every episode.
	OnStep func()
}

const seedStride = 1000003

// Run plays episodes on a bounded pool of Workers goroutines and hands each
// completed episode to consumer. Cancelling ctx stops new episodes from
// starting; episodes in flight run to completion. The first error stops the
// run and is returned.
func Run(ctx context.Context, cfg RunConfig, client mcts.Predictor, consumer Consumer) error {
	if cfg.Workers < 1 {
		return fmt.Errorf("workers must be positive, got %d", cfg.Workers)
	}
	if cfg.Games < 0 {
		return fmt.Errorf("games must be non-negative, got %d", cfg.Games)
	}
	if consumer == nil {
		return fmt.Errorf("nil consumer")
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Workers)

	for i := 0; cfg.Games == 0 || i < cfg.Games; i++ {
		if gctx.Err() != nil {
			break
		}
		episodeSeed := seed + int64(i)*seedStride
		index := i
		// Go blocks until a worker slot is free.
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			ep, err := PlayEpisode(EpisodeOptions{
				Rows:    cfg.Rows,
				Cols:    cfg.Cols,
				Players: cfg.Players,
				MCTS:    cfg.MCTS,
				Rng:     rand.New(rand.NewSource(episodeSeed)),
				Verbose: cfg.Verbose,
				OnStep:  cfg.OnStep,
			}, client)
			if err != nil {
				return fmt.Errorf("episode %d: %w", index, err)
			}
			if err := consumer.AddEpisode(ep); err != nil {
				return fmt.Errorf("consume episode %s: %w", ep.ID, err)
			}
			log.Debug().
				Str("episode", ep.ID).
				Int("index", index).
				Int("moves", ep.Moves).
				Int("winner", ep.Winner).
				Dur("took", ep.Duration).
				Msg("episode complete")
			return nil
		})
	}
	return g.Wait()
}
