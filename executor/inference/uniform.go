package inference

import (
	"sync/atomic"

	"github.com/brensch/chainreaction/executor/mcts"
	"github.com/brensch/chainreaction/game"
)

// Uniform spreads the prior evenly over every cell and values every state
// at zero. With it the search is plain visit counting.
type Uniform struct{}

func (Uniform) Predict(state *game.GameState) ([]float32, float32, error) {
	n := state.Rows * state.Cols
	prior := make([]float32, n)
	p := 1 / float32(n)
	for i := range prior {
		prior[i] = p
	}
	return prior, 0, nil
}

func (Uniform) Close() error { return nil }

// Counting wraps a predictor and counts inferences.
type Counting struct {
	Inner mcts.Predictor
	calls atomic.Int64
}

func NewCounting(inner mcts.Predictor) *Counting {
	return &Counting{Inner: inner}
}

func (c *Counting) Predict(state *game.GameState) ([]float32, float32, error) {
	c.calls.Add(1)
	return c.Inner.Predict(state)
}

// Calls returns the number of Predict calls so far.
func (c *Counting) Calls() int64 {
	return c.calls.Load()
}
