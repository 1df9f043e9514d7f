package mcts

import (
	"errors"
	"fmt"
	"math"

	"github.com/brensch/chainreaction/game"
)

var (
	// ErrTerminalRoot is returned when a decision is requested for a finished game.
	ErrTerminalRoot = errors.New("root state is terminal")
	// ErrNoEdge is returned when the selected move has no edge under the root.
	ErrNoEdge = errors.New("no edge for selected move")
	// ErrNotDecided is returned by Advance before Decide has chosen a move.
	ErrNotDecided = errors.New("root has no decided move")
	// ErrPlayerCount is returned for games that are not two-player.
	ErrPlayerCount = errors.New("search requires exactly two players")
	// ErrPriorSize is returned when the predictor's prior does not cover the board.
	ErrPriorSize = errors.New("prior length does not match board")
	// ErrBadOracleOutput reports a NaN, infinite or negative predictor output.
	ErrBadOracleOutput = errors.New("predictor output is not a valid number")
)

// NormalizationError reports a distribution whose mass over legal moves is zero.
type NormalizationError struct {
	Stage string // "prior" or "decision"
	Sum   float64
	Legal int
}

func (e *NormalizationError) Error() string {
	return fmt.Sprintf("cannot normalise %s: sum %g over %d legal moves", e.Stage, e.Sum, e.Legal)
}

// Node represents a state in the MCTS tree
type Node struct {
	State *game.GameState
	// Edges are ordered by row-major move index.
	Edges []*Edge

	// Move is the move chosen at this node once decided.
	Move    game.Move
	decided bool

	// Outcome is assigned when the episode ends, from the perspective of
	// the player to move at this node.
	Outcome float32

	// Raw is the predictor output, cached at expansion.
	Raw []float32
	// Prior is Raw masked to legal moves and renormalised.
	Prior []float32
	// Decision is the visit-derived move distribution, cached at decision time.
	Decision []float32
}

// Edge owns the child reached by Move.
type Edge struct {
	Move  game.Move
	N     int
	W     float32
	Q     float32
	P     float32
	Pi    float32
	Child *Node
}

// NewNode creates a new MCTS node
func NewNode(state *game.GameState) *Node {
	return &Node{State: state}
}

// IsExpanded reports whether the node has children.
func (n *Node) IsExpanded() bool {
	return len(n.Edges) > 0
}

// Decided reports whether a move has been chosen at this node.
func (n *Node) Decided() bool {
	return n.decided
}

// VisitCount sums the visits of the node's edges.
func (n *Node) VisitCount() int {
	total := 0
	for _, e := range n.Edges {
		total += e.N
	}
	return total
}

// EdgeFor returns the edge for m, or nil.
func (n *Node) EdgeFor(m game.Move) *Edge {
	for _, e := range n.Edges {
		if e.Move == m {
			return e
		}
	}
	return nil
}

func (e *Edge) update(v float32) {
	e.N++
	e.W += v
	e.Q = e.W / float32(e.N)
}

// release drops the subtree below n.
func release(n *Node) {
	if n == nil {
		return
	}
	for _, e := range n.Edges {
		release(e.Child)
		e.Child = nil
	}
	n.Edges = nil
}

// Temperature is a two-stage schedule: Initial while fewer than Moves moves
// have been played, Final afterwards.
type Temperature struct {
	Initial float64 `yaml:"initial"`
	Final   float64 `yaml:"final"`
	Moves   int     `yaml:"moves"`
}

// At returns the temperature for a root that has seen totalMoves moves.
func (t Temperature) At(totalMoves int) float64 {
	if totalMoves < t.Moves {
		return t.Initial
	}
	return t.Final
}

// Config holds MCTS configuration
type Config struct {
	Cpuct       float32
	Simulations int
	Temperature Temperature
}

func DefaultConfig() Config {
	return Config{
		Cpuct:       1.0,
		Simulations: 100,
		Temperature: Temperature{Initial: 1, Final: 0.01, Moves: 10},
	}
}

func (c Config) Validate() error {
	if c.Cpuct < 0 || math.IsNaN(float64(c.Cpuct)) {
		return fmt.Errorf("cpuct must be non-negative, got %v", c.Cpuct)
	}
	// The first simulation only expands the root.
	if c.Simulations < 2 {
		return fmt.Errorf("simulations must be at least 2, got %d", c.Simulations)
	}
	if c.Temperature.Initial < 0 || c.Temperature.Final < 0 {
		return fmt.Errorf("temperatures must be non-negative, got %v", c.Temperature)
	}
	if c.Temperature.Moves < 0 {
		return fmt.Errorf("temperature moves must be non-negative, got %d", c.Temperature.Moves)
	}
	return nil
}

// Predictor defines the interface for inference. Prior has one entry per
// cell in row-major order; value is from the perspective of the player to
// move and lies in [-1, 1].
type Predictor interface {
	Predict(state *game.GameState) (prior []float32, value float32, err error)
}

// SearchStats summarises one decision.
type SearchStats struct {
	Simulations  int
	MaxDepth     int
	Expansions   int
	TerminalHits int
}
