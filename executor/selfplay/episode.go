package selfplay

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	"github.com/brensch/chainreaction/executor/convert"
	"github.com/brensch/chainreaction/executor/mcts"
	"github.com/brensch/chainreaction/game"
	"github.com/brensch/chainreaction/rules"
	"github.com/brensch/chainreaction/store"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// EdgeSummary is a JSON-serializable view of one root edge at decision time.
type EdgeSummary struct {
	Row int     `json:"row"`
	Col int     `json:"col"`
	N   int     `json:"n"`
	Q   float32 `json:"q"`
	P   float32 `json:"p"`
	Pi  float32 `json:"pi"`
}

// Record is one decision point of an episode.
type Record struct {
	State *game.GameState
	Move  game.Move
	// Prior is the oracle's raw vector at this state.
	Prior []float32
	// Policy is the visit-derived decision distribution.
	Policy []float32
	// Outcome is +1 if the player to move at State went on to win, -1 otherwise.
	Outcome float32
	Search  []EdgeSummary
	Stats   mcts.SearchStats
}

// Episode is a completed self-play game.
type Episode struct {
	ID      string
	Records []Record
	Final   *game.GameState
	Winner  int
	Moves   int

	Duration time.Duration
}

// EpisodeOptions configures PlayEpisode.
type EpisodeOptions struct {
	Rows    int
	Cols    int
	Players int
	MCTS    mcts.Config
	Rng     *rand.Rand
	Verbose bool
	// OnStep is called after every move.
	OnStep func()
}

// PlayEpisode plays one game from an empty board, searching every move, and
// returns the trace with outcomes assigned.
func PlayEpisode(opts EpisodeOptions, client mcts.Predictor) (*Episode, error) {
	rng := opts.Rng
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	id, err := uuid.NewRandomFromReader(rng)
	if err != nil {
		return nil, fmt.Errorf("episode id: %w", err)
	}

	state, err := game.NewGameState(opts.Rows, opts.Cols, opts.Players)
	if err != nil {
		return nil, err
	}
	tree, err := mcts.NewTree(state, client, opts.MCTS, rng)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	var searches [][]EdgeSummary
	var stats []mcts.SearchStats

	for !rules.IsTerminal(tree.Root().State) {
		root := tree.Root()
		if opts.Verbose {
			log.Debug().Str("episode", id.String()).Msg("\n" + RenderBoard(root.State))
		}

		move, st, err := tree.Decide()
		if err != nil {
			return nil, fmt.Errorf("episode %s turn %d: %w", id, root.State.TotalMoves, err)
		}
		searches = append(searches, summarizeRoot(root))
		stats = append(stats, st)

		if opts.Verbose {
			log.Debug().
				Str("episode", id.String()).
				Int("turn", root.State.TotalMoves).
				Int("player", root.State.CurrentPlayer).
				Str("move", move.String()).
				Float32("pi", root.Decision[move.Index(root.State.Cols)]).
				Msg("move")
		}

		if err := tree.Advance(); err != nil {
			return nil, fmt.Errorf("episode %s turn %d: %w", id, root.State.TotalMoves, err)
		}
		if opts.OnStep != nil {
			opts.OnStep()
		}
	}

	trace := tree.Trace()
	AssignOutcomes(trace)

	final := tree.Root().State
	ep := &Episode{
		ID:       id.String(),
		Records:  make([]Record, len(trace)),
		Final:    final,
		Winner:   winner(final, trace),
		Moves:    final.TotalMoves,
		Duration: time.Since(start),
	}
	for i, n := range trace {
		ep.Records[i] = Record{
			State:   n.State,
			Move:    n.Move,
			Prior:   n.Raw,
			Policy:  n.Decision,
			Outcome: n.Outcome,
			Search:  searches[i],
			Stats:   stats[i],
		}
	}

	if opts.Verbose {
		log.Debug().Str("episode", ep.ID).Msg("\n" + RenderBoard(final))
	}
	return ep, nil
}

// AssignOutcomes walks the trace from last to first. The last mover won, so
// the last entry gets +1 and the sign flips at each step backward.
func AssignOutcomes(trace []*mcts.Node) {
	multiplier := float32(1)
	for i := len(trace) - 1; i >= 0; i-- {
		trace[i].Outcome = multiplier
		multiplier = -multiplier
	}
}

func winner(final *game.GameState, trace []*mcts.Node) int {
	if final.Winner != game.NoPlayer {
		return final.Winner
	}
	if len(trace) == 0 {
		return game.NoPlayer
	}
	return trace[len(trace)-1].State.CurrentPlayer
}

func summarizeRoot(root *mcts.Node) []EdgeSummary {
	out := make([]EdgeSummary, 0, len(root.Edges))
	for _, e := range root.Edges {
		out = append(out, EdgeSummary{
			Row: e.Move.Row,
			Col: e.Move.Col,
			N:   e.N,
			Q:   e.Q,
			P:   e.P,
			Pi:  e.Pi,
		})
	}
	return out
}

// Rows converts the episode into training rows, one per record.
func (ep *Episode) Rows(source, modelPath string) []store.TrainingRow {
	rows := make([]store.TrainingRow, 0, len(ep.Records))
	for _, r := range ep.Records {
		s := r.State
		owners, orbs := store.BoardColumns(s)

		encoded := convert.StateToBytes(s)
		state := append([]byte(nil), (*encoded)...)
		convert.PutBuffer(encoded)

		var searchJSON []byte
		if len(r.Search) > 0 {
			if b, err := json.Marshal(r.Search); err == nil {
				searchJSON = b
			}
		}

		rows = append(rows, store.TrainingRow{
			GameID:     ep.ID,
			Turn:       int32(s.TotalMoves),
			Player:     int32(s.CurrentPlayer),
			Players:    int32(s.NumPlayers),
			Rows:       int32(s.Rows),
			Cols:       int32(s.Cols),
			Owners:     owners,
			Orbs:       orbs,
			State:      state,
			MoveRow:    int32(r.Move.Row),
			MoveCol:    int32(r.Move.Col),
			Prior:      r.Prior,
			Policy:     r.Policy,
			Value:      r.Outcome,
			Source:     source,
			SearchJSON: searchJSON,
			ModelPath:  modelPath,
		})
	}
	return rows
}
