package mcts

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/brensch/chainreaction/game"
	"github.com/brensch/chainreaction/rules"
	"github.com/rs/zerolog/log"
)

// Tree is the search context for one game. It is not safe for concurrent use.
type Tree struct {
	Config Config
	Client Predictor

	rng   *rand.Rand
	root  *Node
	trace []*Node
	stats SearchStats
}

// NewTree starts a search tree rooted at state.
func NewTree(state *game.GameState, client Predictor, cfg Config, rng *rand.Rand) (*Tree, error) {
	if state.NumPlayers != 2 {
		return nil, fmt.Errorf("%d players: %w", state.NumPlayers, ErrPlayerCount)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("mcts config: %w", err)
	}
	if client == nil {
		return nil, fmt.Errorf("mcts: nil predictor")
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}
	return &Tree{
		Config: cfg,
		Client: client,
		rng:    rng,
		root:   NewNode(state),
	}, nil
}

// Root returns the current root.
func (t *Tree) Root() *Node {
	return t.root
}

// Trace returns the roots the tree has advanced past, oldest first.
func (t *Tree) Trace() []*Node {
	return t.trace
}

// Size counts the nodes reachable from the root.
func (t *Tree) Size() int {
	return size(t.root)
}

func size(n *Node) int {
	if n == nil {
		return 0
	}
	total := 1
	for _, e := range n.Edges {
		total += size(e.Child)
	}
	return total
}

// Decide runs the configured number of simulations from the root, stores the
// visit-derived distribution on the root and its edges, and samples a move.
func (t *Tree) Decide() (game.Move, SearchStats, error) {
	root := t.root
	if rules.IsTerminal(root.State) {
		return game.Move{}, SearchStats{}, ErrTerminalRoot
	}

	t.stats = SearchStats{}
	for i := 0; i < t.Config.Simulations; i++ {
		if _, err := t.simulate(root, 0); err != nil {
			return game.Move{}, t.stats, err
		}
		t.stats.Simulations++
	}

	tau := t.Config.Temperature.At(root.State.TotalMoves)
	dist, err := decision(root, tau)
	if err != nil {
		return game.Move{}, t.stats, err
	}
	for _, e := range root.Edges {
		e.Pi = dist[e.Move.Index(root.State.Cols)]
	}

	idx := sample(t.rng, dist)
	root.Decision = dist
	root.Move = game.MoveAt(idx, root.State.Cols)
	root.decided = true

	log.Debug().
		Int("turn", root.State.TotalMoves).
		Int("player", root.State.CurrentPlayer).
		Str("move", root.Move.String()).
		Float64("temperature", tau).
		Int("simulations", t.stats.Simulations).
		Int("max_depth", t.stats.MaxDepth).
		Int("expansions", t.stats.Expansions).
		Int("terminal_hits", t.stats.TerminalHits).
		Msg("mcts decision")

	return root.Move, t.stats, nil
}

// Advance moves the root to the child of the decided move. The old root is
// appended to the trace and every other subtree is released.
func (t *Tree) Advance() error {
	old := t.root
	if !old.decided {
		return ErrNotDecided
	}
	chosen := old.EdgeFor(old.Move)
	if chosen == nil || chosen.Child == nil {
		return fmt.Errorf("move %s: %w", old.Move, ErrNoEdge)
	}

	next := chosen.Child
	chosen.Child = nil
	release(old)

	t.trace = append(t.trace, old)
	t.root = next
	return nil
}

// simulate runs one selection/expansion/backup pass below n and returns the
// value from the perspective of the player to move at n.
func (t *Tree) simulate(n *Node, depth int) (float32, error) {
	if depth > t.stats.MaxDepth {
		t.stats.MaxDepth = depth
	}

	if !n.IsExpanded() {
		if v, terminal := rules.Reward(n.State); terminal {
			t.stats.TerminalHits++
			return v, nil
		}
		return t.expand(n)
	}

	e := t.selectEdge(n)
	v, err := t.simulate(e.Child, depth+1)
	if err != nil {
		return 0, err
	}
	v = -v
	e.update(v)
	return v, nil
}

// selectEdge picks the edge maximising Q + c*P*sqrt(totalN+1)/(N+1).
// The first edge wins ties.
func (t *Tree) selectEdge(n *Node) *Edge {
	sqrtSumN := float32(math.Sqrt(float64(n.VisitCount() + 1)))

	var best *Edge
	bestScore := float32(math.Inf(-1))
	for _, e := range n.Edges {
		// PUCT formula
		u := e.Q + t.Config.Cpuct*e.P*sqrtSumN/(1+float32(e.N))
		if best == nil || u > bestScore {
			bestScore = u
			best = e
		}
	}
	return best
}

// expand asks the predictor about n once and creates one edge per legal move.
func (t *Tree) expand(n *Node) (float32, error) {
	s := n.State
	raw, value, err := t.Client.Predict(s)
	if err != nil {
		return 0, fmt.Errorf("predict at turn %d: %w", s.TotalMoves, err)
	}
	if len(raw) != s.Rows*s.Cols {
		return 0, fmt.Errorf("got %d entries for %dx%d board: %w", len(raw), s.Rows, s.Cols, ErrPriorSize)
	}
	if math.IsNaN(float64(value)) || math.IsInf(float64(value), 0) {
		return 0, fmt.Errorf("value %v at turn %d: %w", value, s.TotalMoves, ErrBadOracleOutput)
	}

	legal := s.ValidMoves()
	prior, err := maskPrior(raw, legal, s.Cols)
	if err != nil {
		return 0, err
	}

	edges := make([]*Edge, 0, len(legal))
	for _, m := range legal {
		child, err := rules.NextState(s, m)
		if err != nil {
			return 0, err
		}
		edges = append(edges, &Edge{
			Move:  m,
			P:     prior[m.Index(s.Cols)],
			Child: NewNode(child),
		})
	}

	n.Raw = append([]float32(nil), raw...)
	n.Prior = prior
	n.Edges = edges
	t.stats.Expansions++
	return value, nil
}

// maskPrior zeroes illegal entries of raw and renormalises the rest. Legal
// entries must be finite and non-negative.
func maskPrior(raw []float32, legal []game.Move, cols int) ([]float32, error) {
	prior := make([]float32, len(raw))
	sum := float64(0)
	for _, m := range legal {
		p := raw[m.Index(cols)]
		if p < 0 || math.IsNaN(float64(p)) || math.IsInf(float64(p), 0) {
			return nil, fmt.Errorf("prior %v for %s: %w", p, m, ErrBadOracleOutput)
		}
		prior[m.Index(cols)] = p
		sum += float64(p)
	}
	if sum <= 0 {
		return nil, &NormalizationError{Stage: "prior", Sum: sum, Legal: len(legal)}
	}
	inv := 1 / sum
	for _, m := range legal {
		i := m.Index(cols)
		prior[i] = float32(float64(prior[i]) * inv)
	}
	return prior, nil
}

// decision turns root visit counts into a distribution over all cells,
// proportional to N^(1/tau). tau == 0 selects the most visited move.
func decision(root *Node, tau float64) ([]float32, error) {
	cols := root.State.Cols
	dist := make([]float32, root.State.Rows*cols)

	if tau <= 0 {
		var best *Edge
		for _, e := range root.Edges {
			if best == nil || e.N > best.N {
				best = e
			}
		}
		if best == nil || best.N == 0 {
			return nil, &NormalizationError{Stage: "decision", Legal: len(root.Edges)}
		}
		dist[best.Move.Index(cols)] = 1
		return dist, nil
	}

	// Work in log space so small temperatures do not overflow.
	logs := make([]float64, len(root.Edges))
	maxLog := math.Inf(-1)
	for i, e := range root.Edges {
		if e.N == 0 {
			logs[i] = math.Inf(-1)
			continue
		}
		logs[i] = math.Log(float64(e.N)) / tau
		if logs[i] > maxLog {
			maxLog = logs[i]
		}
	}
	if math.IsInf(maxLog, -1) {
		return nil, &NormalizationError{Stage: "decision", Legal: len(root.Edges)}
	}

	sum := 0.0
	weights := make([]float64, len(root.Edges))
	for i := range root.Edges {
		if math.IsInf(logs[i], -1) {
			continue
		}
		weights[i] = math.Exp(logs[i] - maxLog)
		sum += weights[i]
	}
	for i, e := range root.Edges {
		dist[e.Move.Index(cols)] = float32(weights[i] / sum)
	}
	return dist, nil
}

// sample draws an index from probs, falling back to the last non-zero entry.
func sample(rng *rand.Rand, probs []float32) int {
	r := rng.Float32()
	cumulative := float32(0)
	last := -1
	for i, p := range probs {
		if p <= 0 {
			continue
		}
		last = i
		cumulative += p
		if r < cumulative {
			return i
		}
	}
	return last
}
