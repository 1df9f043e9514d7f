package inference

import (
	"fmt"
	"io"
	"sync/atomic"

	"github.com/brensch/chainreaction/executor/mcts"
	"github.com/brensch/chainreaction/game"
)

// Session is a predictor that owns resources.
type Session interface {
	mcts.Predictor
	io.Closer
}

// Pool fans out Predict calls round robin across independent sessions so
// workers do not queue behind a single session lock. Each call still runs a
// single state.
type Pool struct {
	sessions []Session
	rr       atomic.Uint64
}

func NewPool(sessions ...Session) (*Pool, error) {
	if len(sessions) == 0 {
		return nil, fmt.Errorf("pool needs at least one session")
	}
	return &Pool{sessions: sessions}, nil
}

// NewOnnxPool opens n sessions of the same model.
func NewOnnxPool(modelPath string, shape Shape, n int) (*Pool, error) {
	if n <= 0 {
		n = 1
	}

	sessions := make([]Session, 0, n)
	for i := 0; i < n; i++ {
		c, err := NewOnnxClient(modelPath, shape)
		if err != nil {
			for _, created := range sessions {
				_ = created.Close()
			}
			return nil, fmt.Errorf("create onnx client %d/%d: %w", i+1, n, err)
		}
		sessions = append(sessions, c)
	}
	return NewPool(sessions...)
}

// Stats aggregates RuntimeStats over sessions that report them.
func (p *Pool) Stats() RuntimeStats {
	var out RuntimeStats
	for _, s := range p.sessions {
		sp, ok := s.(interface{ Stats() RuntimeStats })
		if !ok {
			continue
		}
		st := sp.Stats()
		out.TotalRuns += st.TotalRuns
		out.TotalRunNanos += st.TotalRunNanos
	}
	if out.TotalRuns > 0 {
		out.AvgRunMs = (float64(out.TotalRunNanos) / 1e6) / float64(out.TotalRuns)
	}
	return out
}

func (p *Pool) Close() error {
	var firstErr error
	for _, s := range p.sessions {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (p *Pool) Predict(state *game.GameState) ([]float32, float32, error) {
	idx := int(p.rr.Add(1)-1) % len(p.sessions)
	return p.sessions[idx].Predict(state)
}
