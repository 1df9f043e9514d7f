package main

import (
	"fmt"
	"time"

	"github.com/brensch/chainreaction/store"
	"github.com/rs/zerolog/log"
)

// batchSink moves finished games from the shared buffer into parquet batch
// files. A batch is finalized once it holds maxRows rows, and on close.
// When a batch fails, its games go back to the buffer for the next flush.
type batchSink struct {
	outDir   string
	maxRows  int
	episodes *store.EpisodeLog

	writer  *store.BatchWriter
	open    []store.GameRows // games in writer
	batches int
}

func newBatchSink(outDir string, maxRows int, episodes *store.EpisodeLog) *batchSink {
	return &batchSink{outDir: outDir, maxRows: maxRows, episodes: episodes}
}

// loop drains buf every period until stop is closed, then drains once more
// and finalizes the open batch.
func (s *batchSink) loop(buf *store.Buffer, period time.Duration, stop <-chan struct{}) error {
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := s.drain(buf); err != nil {
				log.Error().Err(err).Int("requeued", buf.Pending()).Msg("parquet flush failed")
			}
		case <-stop:
			err := s.drain(buf)
			if err == nil {
				err = s.close(buf)
			}
			if err != nil {
				return fmt.Errorf("final flush, %d games unwritten: %w", buf.Pending(), err)
			}
			return nil
		}
	}
}

func (s *batchSink) drain(buf *store.Buffer) error {
	games := buf.Drain()
	for i, g := range games {
		if err := s.add(g); err != nil {
			s.fail(buf, games[i+1:])
			return err
		}
	}
	return nil
}

func (s *batchSink) add(g store.GameRows) error {
	s.open = append(s.open, g)
	if s.writer == nil {
		w, err := store.NewBatchWriter(s.outDir)
		if err != nil {
			return err
		}
		s.writer = w
	}
	if err := s.writer.WriteGame(g.GameID, g.Rows); err != nil {
		return fmt.Errorf("write game %s: %w", g.GameID, err)
	}
	if s.writer.Rows() >= s.maxRows {
		return s.rotate()
	}
	return nil
}

// fail drops the open batch and requeues its games ahead of rest.
func (s *batchSink) fail(buf *store.Buffer, rest []store.GameRows) {
	if s.writer != nil {
		if err := s.writer.Abort(); err != nil {
			log.Warn().Err(err).Str("path", s.writer.Path()).Msg("abort parquet batch")
		}
		s.writer = nil
	}
	buf.Requeue(append(s.open, rest...))
	s.open = nil
}

func (s *batchSink) rotate() error {
	w := s.writer
	s.writer = nil

	batch, err := w.Finalize()
	if err != nil {
		return fmt.Errorf("finalize %s: %w", w.Path(), err)
	}
	s.open = nil
	if batch.Path == "" {
		return nil
	}
	s.batches++
	log.Info().Str("path", batch.Path).Int("rows", batch.Rows).Int("games", len(batch.GameIDs)).Msg("parquet batch written")

	if s.episodes != nil {
		if err := s.episodes.AddMany(batch.Path, batch.GameIDs); err != nil {
			return fmt.Errorf("record episodes: %w", err)
		}
	}
	return nil
}

func (s *batchSink) close(buf *store.Buffer) error {
	if s.writer == nil {
		return nil
	}
	if err := s.rotate(); err != nil {
		s.fail(buf, nil)
		return err
	}
	return nil
}
