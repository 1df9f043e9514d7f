package main

import (
	"context"
	"math/rand"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/brensch/chainreaction/config"
	"github.com/brensch/chainreaction/executor/inference"
	"github.com/brensch/chainreaction/executor/mcts"
	"github.com/brensch/chainreaction/executor/selfplay"
	"github.com/brensch/chainreaction/store"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/require"
)

func TestParseFlagsOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.yaml")
	require.NoError(t, os.WriteFile(path, []byte("rows: 6\ncols: 6\nrun:\n  workers: 3\n"), 0o644))

	cfg, opts, err := parseFlags([]string{"-config", path, "-cols", "7", "-oracle", "uniform", "-verbose", "-sims", "40"})
	require.NoError(t, err)
	require.Equal(t, 6, cfg.Rows, "file value")
	require.Equal(t, 7, cfg.Cols, "flag beats file")
	require.Equal(t, 3, cfg.Run.Workers)
	require.Equal(t, 40, cfg.Search.Simulations)
	require.Equal(t, "uniform", cfg.Oracle.Kind)
	require.Equal(t, "debug", opts.logLevel)
	require.Equal(t, config.Default().Run.OutDir, cfg.Run.OutDir)

	_, _, err = parseFlags([]string{"-sims", "1"})
	require.Error(t, err)
}

func TestNewPredictor(t *testing.T) {
	cfg := config.Default()
	cfg.Rows, cfg.Cols = 3, 4

	for _, kind := range []string{"uniform", "mlp"} {
		cfg.Oracle.Kind = kind
		p, err := newPredictor(cfg)
		require.NoError(t, err, kind)
		require.NoError(t, p.Close())
	}

	cfg.Oracle.Kind = "onnx"
	cfg.Oracle.Model = filepath.Join(t.TempDir(), "missing.onnx")
	_, err := newPredictor(cfg)
	require.Error(t, err)
}

func playRows(t *testing.T, seed int64) (string, []store.TrainingRow) {
	t.Helper()
	mc := mcts.DefaultConfig()
	mc.Simulations = 4
	ep, err := selfplay.PlayEpisode(selfplay.EpisodeOptions{
		Rows: 3, Cols: 3, Players: 2, MCTS: mc,
		Rng: rand.New(rand.NewSource(seed)),
	}, inference.Uniform{})
	require.NoError(t, err)
	return ep.ID, ep.Rows("test", "")
}

func TestBatchSinkRotates(t *testing.T) {
	dir := t.TempDir()
	episodes, err := store.OpenEpisodeLog(filepath.Join(dir, "episodes.log"))
	require.NoError(t, err)
	defer episodes.Close()

	buf := store.NewBuffer()
	id1, rows1 := playRows(t, 1)
	id2, rows2 := playRows(t, 2)
	id3, rows3 := playRows(t, 3)
	buf.AddGame(id1, rows1)
	buf.AddGame(id2, rows2)

	// The second game pushes the batch past the limit.
	sink := newBatchSink(dir, len(rows1)+1, episodes)
	require.NoError(t, sink.drain(buf))
	require.Equal(t, 1, sink.batches)
	require.Nil(t, sink.writer)

	sink.maxRows = 1000
	buf.AddGame(id3, rows3)
	require.NoError(t, sink.drain(buf))
	require.NotNil(t, sink.writer)
	require.NoError(t, sink.close(buf))
	require.Equal(t, 2, sink.batches)

	batches, err := store.ListBatches(dir)
	require.NoError(t, err)
	require.Len(t, batches, 2)

	total := 0
	for _, b := range batches {
		rows, err := store.ReadRows(b)
		require.NoError(t, err)
		total += len(rows)
	}
	require.Equal(t, len(rows1)+len(rows2)+len(rows3), total)

	require.Equal(t, 3, episodes.Count())
	b1, ok := episodes.Batch(id1)
	require.True(t, ok)
	b2, _ := episodes.Batch(id2)
	b3, _ := episodes.Batch(id3)
	require.Equal(t, b1, b2)
	require.NotEqual(t, b1, b3)
}

func TestBatchSinkRequeuesFailedBatch(t *testing.T) {
	dir := t.TempDir()
	outDir := filepath.Join(dir, "out")
	buf := store.NewBuffer()
	sink := newBatchSink(outDir, 1000, nil)

	id1, rows1 := playRows(t, 6)
	buf.AddGame(id1, rows1)
	require.NoError(t, sink.drain(buf))
	require.NotNil(t, sink.writer)

	// Removing the output directory under the open batch breaks its publish.
	require.NoError(t, os.RemoveAll(outDir))
	id2, rows2 := playRows(t, 7)
	buf.AddGame(id2, rows2)
	require.Error(t, sink.close(buf))
	require.Nil(t, sink.writer)
	require.Equal(t, 2, buf.Pending(), "the open batch and the undrained game are kept")

	// A file where the output directory should be fails the next batch too.
	require.NoError(t, os.WriteFile(outDir, []byte("x"), 0o644))
	require.Error(t, sink.drain(buf))
	require.Nil(t, sink.writer)
	require.Equal(t, 2, buf.Pending())

	require.NoError(t, os.Remove(outDir))
	require.NoError(t, sink.drain(buf))
	require.NoError(t, sink.close(buf))
	require.Zero(t, buf.Pending())
	require.Equal(t, 1, sink.batches)

	batches, err := store.ListBatches(outDir)
	require.NoError(t, err)
	require.Len(t, batches, 1)
	back, err := store.ReadRows(batches[0])
	require.NoError(t, err)
	require.Len(t, back, len(rows1)+len(rows2))
	require.Equal(t, id1, back[0].GameID)
	require.Equal(t, id2, back[len(back)-1].GameID)
}

func TestBatchSinkLoopFlushesOnStop(t *testing.T) {
	dir := t.TempDir()
	buf := store.NewBuffer()
	sink := newBatchSink(dir, 1000, nil)

	stop := make(chan struct{})
	done := make(chan error, 1)
	go func() { done <- sink.loop(buf, time.Hour, stop) }()

	id, rows := playRows(t, 4)
	buf.AddGame(id, rows)
	close(stop)
	require.NoError(t, <-done)

	batches, err := store.ListBatches(dir)
	require.NoError(t, err)
	require.Len(t, batches, 1)
	back, err := store.ReadRows(batches[0])
	require.NoError(t, err)
	require.Len(t, back, len(rows))
	require.Equal(t, id, back[0].GameID)
}

func TestRunEndToEnd(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Rows, cfg.Cols = 3, 3
	cfg.Search.Simulations = 4
	cfg.Oracle.Kind = "uniform"
	cfg.Run.Workers = 2
	cfg.Run.Games = 3
	cfg.Run.Seed = 5
	cfg.Run.OutDir = filepath.Join(dir, "out")
	cfg.Run.EpisodeLog = filepath.Join(dir, "episodes.log")

	require.NoError(t, run(context.Background(), cfg, options{logLevel: "info"}))

	batches, err := store.ListBatches(cfg.Run.OutDir)
	require.NoError(t, err)
	require.Len(t, batches, 1)
	rows, err := store.ReadRows(batches[0])
	require.NoError(t, err)

	ids := map[string]bool{}
	for _, r := range rows {
		ids[r.GameID] = true
		require.Equal(t, "selfplay:uniform", r.Source)
	}
	require.Len(t, ids, 3)
}

func TestModelUpdate(t *testing.T) {
	updates := make(chan episodeUpdate, 1)
	m := newModel(updates, inference.NewCounting(inference.Uniform{}))

	next, cmd := m.Update(episodeUpdate{ID: "0123456789abcdef", Winner: 1, Moves: 12, Took: time.Second})
	require.NotNil(t, cmd)
	m = next.(model)
	require.Equal(t, 1, m.gamesPlayed)
	require.Equal(t, 12, m.rows)
	require.Equal(t, 1, m.wins[1])
	require.Contains(t, m.recentGames[0], "01234567")
	require.Contains(t, m.View(), "Games Played:     1")

	next, cmd = m.Update(runFinished{})
	require.NotNil(t, cmd)
	m = next.(model)
	require.True(t, m.done)
	require.Contains(t, m.View(), "Run complete.")

	_, cmd = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	require.NotNil(t, cmd)
}

func TestTUIConsumerDoesNotBlock(t *testing.T) {
	updates := make(chan episodeUpdate)
	c := tuiConsumer(updates)
	require.NoError(t, c.AddEpisode(&selfplay.Episode{ID: "x"}))
}
