package selfplay

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/brensch/chainreaction/executor/inference"
	"github.com/brensch/chainreaction/executor/mcts"
	"github.com/brensch/chainreaction/game"
	"github.com/brensch/chainreaction/rules"
	"github.com/brensch/chainreaction/store"
	"github.com/muesli/termenv"
	"github.com/stretchr/testify/require"
)

func episodeOptions(seed int64) EpisodeOptions {
	cfg := mcts.DefaultConfig()
	cfg.Simulations = 12
	return EpisodeOptions{
		Rows:    5,
		Cols:    5,
		Players: 2,
		MCTS:    cfg,
		Rng:     rand.New(rand.NewSource(seed)),
	}
}

func TestPlayEpisode(t *testing.T) {
	steps := 0
	opts := episodeOptions(1)
	opts.OnStep = func() { steps++ }

	ep, err := PlayEpisode(opts, inference.Uniform{})
	require.NoError(t, err)

	require.NotEmpty(t, ep.ID)
	require.True(t, rules.IsTerminal(ep.Final))
	require.Equal(t, ep.Final.TotalMoves, ep.Moves)
	require.Len(t, ep.Records, ep.Moves)
	require.Equal(t, ep.Moves, steps)

	last := ep.Records[len(ep.Records)-1]
	require.Equal(t, float32(1), last.Outcome, "last mover won")
	require.Equal(t, last.State.CurrentPlayer, ep.Winner)

	for i, r := range ep.Records {
		require.Equal(t, i, r.State.TotalMoves)
		require.Equal(t, i%2, r.State.CurrentPlayer)
		require.True(t, r.State.IsValid(r.Move), "record %d move %s", i, r.Move)
		require.Len(t, r.Prior, 25)
		require.Len(t, r.Policy, 25)
		require.NotEmpty(t, r.Search)

		sum := float32(0)
		for _, p := range r.Policy {
			sum += p
		}
		require.InDelta(t, 1.0, sum, 1e-5)

		if i+1 < len(ep.Records) {
			require.Equal(t, -r.Outcome, ep.Records[i+1].Outcome, "outcomes must alternate at %d", i)
		}

		next := ep.Final
		if i+1 < len(ep.Records) {
			next = ep.Records[i+1].State
		}
		want, err := rules.NextState(r.State, r.Move)
		require.NoError(t, err)
		require.Equal(t, want.Cells, next.Cells, "record %d does not replay", i)
		require.Equal(t, want.PlayerOrbs, next.PlayerOrbs)
	}
}

func TestPlayEpisodeIsDeterministic(t *testing.T) {
	a, err := PlayEpisode(episodeOptions(7), inference.Uniform{})
	require.NoError(t, err)
	b, err := PlayEpisode(episodeOptions(7), inference.Uniform{})
	require.NoError(t, err)

	require.Equal(t, a.ID, b.ID)
	require.Equal(t, len(a.Records), len(b.Records))
	for i := range a.Records {
		require.Equal(t, a.Records[i].Move, b.Records[i].Move)
	}
}

func TestAssignOutcomes(t *testing.T) {
	trace := make([]*mcts.Node, 5)
	for i := range trace {
		trace[i] = &mcts.Node{}
	}
	AssignOutcomes(trace)

	want := []float32{1, -1, 1, -1, 1}
	for i, n := range trace {
		require.Equal(t, want[i], n.Outcome, "entry %d", i)
	}

	AssignOutcomes(nil)
}

func TestEpisodeRows(t *testing.T) {
	ep, err := PlayEpisode(episodeOptions(3), inference.Uniform{})
	require.NoError(t, err)

	rows := ep.Rows("selfplay", "models/x.onnx")
	require.Len(t, rows, len(ep.Records))
	for i, row := range rows {
		r := ep.Records[i]
		require.Equal(t, ep.ID, row.GameID)
		require.Equal(t, int32(i), row.Turn)
		require.Equal(t, int32(r.State.CurrentPlayer), row.Player)
		require.Equal(t, r.Outcome, row.Value)
		require.Equal(t, int32(r.Move.Row), row.MoveRow)
		require.Equal(t, int32(r.Move.Col), row.MoveCol)
		require.Len(t, row.State, 2*25*4)
		require.Equal(t, "selfplay", row.Source)

		var search []EdgeSummary
		require.NoError(t, json.Unmarshal(row.SearchJSON, &search))
		require.Equal(t, r.Search, search)

		back, err := row.GameState()
		require.NoError(t, err)
		require.Equal(t, r.State.Cells, back.Cells)
	}
}

func TestRenderBoard(t *testing.T) {
	s, err := game.NewGameState(2, 3, 2)
	require.NoError(t, err)
	require.NoError(t, rules.ApplyMove(s, game.Move{Row: 1, Col: 2}))

	out := RenderBoard(s)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	require.Contains(t, lines[2], "0:1")
	require.Contains(t, lines[0], "Turn 1")

	require.Equal(t, out, RenderBoardColor(s, termenv.Ascii))
	colored := RenderBoardColor(s, termenv.TrueColor)
	require.Contains(t, colored, "\x1b[")
	require.Contains(t, colored, "0:1")

	enc := RenderEncoded(s)
	require.Contains(t, enc, "Layer 1 (opponent1, player 0)")
	require.Contains(t, enc, "0.25")
}

type collector struct {
	mu  sync.Mutex
	eps []*Episode
}

func (c *collector) AddEpisode(ep *Episode) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.eps = append(c.eps, ep)
	return nil
}

func runConfig(games, workers int) RunConfig {
	cfg := mcts.DefaultConfig()
	cfg.Simulations = 8
	return RunConfig{
		Rows:    4,
		Cols:    4,
		Players: 2,
		MCTS:    cfg,
		Workers: workers,
		Games:   games,
		Seed:    11,
	}
}

func TestRun(t *testing.T) {
	c := &collector{}
	var steps atomic.Int64
	cfg := runConfig(6, 3)
	cfg.OnStep = func() { steps.Add(1) }

	buf := store.NewBuffer()
	consumers := Consumers{c, BufferConsumer{Buffer: buf, Source: "selfplay"}}

	require.NoError(t, Run(context.Background(), cfg, inference.NewCounting(inference.Uniform{}), consumers))
	require.Len(t, c.eps, 6)

	ids := map[string]bool{}
	moves := int64(0)
	for _, ep := range c.eps {
		ids[ep.ID] = true
		moves += int64(ep.Moves)
	}
	require.Len(t, ids, 6, "episode ids must be distinct")
	require.Equal(t, moves, steps.Load())

	games, rows := buf.Totals()
	require.Equal(t, int64(6), games)
	require.Equal(t, moves, rows)
}

type failingPredictor struct{}

func (failingPredictor) Predict(*game.GameState) ([]float32, float32, error) {
	return nil, 0, errors.New("oracle down")
}

func TestRunStopsOnError(t *testing.T) {
	err := Run(context.Background(), runConfig(4, 2), failingPredictor{}, &collector{})
	require.Error(t, err)
	require.Contains(t, err.Error(), "oracle down")

	consumerErr := errors.New("disk full")
	err = Run(context.Background(), runConfig(2, 1), inference.Uniform{}, ConsumerFunc(func(*Episode) error {
		return consumerErr
	}))
	require.ErrorIs(t, err, consumerErr)
}

func TestRunUntilCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var count atomic.Int64
	consumer := ConsumerFunc(func(*Episode) error {
		if count.Add(1) >= 3 {
			cancel()
		}
		return nil
	})

	require.NoError(t, Run(ctx, runConfig(0, 2), inference.Uniform{}, consumer))
	require.GreaterOrEqual(t, count.Load(), int64(3))
}

func TestRunValidates(t *testing.T) {
	require.Error(t, Run(context.Background(), runConfig(1, 0), inference.Uniform{}, &collector{}))
	require.Error(t, Run(context.Background(), runConfig(-1, 1), inference.Uniform{}, &collector{}))
	require.Error(t, Run(context.Background(), runConfig(1, 1), inference.Uniform{}, nil))
}
