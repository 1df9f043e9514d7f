package viewer

import (
	"encoding/json"
	"errors"
	"math"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/brensch/chainreaction/executor/mcts"
	"github.com/brensch/chainreaction/rules"
)

const (
	maxSearchSims = 5000
	maxBoardSide  = 64
)

// Server holds shared state for HTTP handlers.
type Server struct {
	hub       *Hub
	predictor mcts.Predictor
	search    mcts.Config
}

// NewServer creates a Server broadcasting through hub. predictor and search
// back /api/search; a nil predictor disables it.
func NewServer(hub *Hub, predictor mcts.Predictor, search mcts.Config) *Server {
	return &Server{hub: hub, predictor: predictor, search: search}
}

// RegisterRoutes sets up all routes on the given mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws", s.hub.ServeWS)
	mux.HandleFunc("/api/episodes", s.handleEpisodes)
	mux.HandleFunc("/api/episodes/", s.handleEpisode)
	mux.HandleFunc("/api/search", s.handleSearch)
}

func (s *Server) handleEpisodes(w http.ResponseWriter, r *http.Request) {
	withCORS(w, r)
	if r.Method == http.MethodOptions {
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	recent := s.hub.Recent()
	limit := parseIntQuery(r, "limit", len(recent))
	if limit < len(recent) {
		recent = recent[len(recent)-limit:]
	}
	writeJSON(w, EpisodesResponse{Total: s.hub.total.Load(), Episodes: recent})
}

func (s *Server) handleEpisode(w http.ResponseWriter, r *http.Request) {
	withCORS(w, r)
	if r.Method == http.MethodOptions {
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/api/episodes/")
	if id == "" {
		http.Error(w, "missing episode id", http.StatusBadRequest)
		return
	}
	ep, ok := s.hub.Find(id)
	if !ok {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, ep)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	withCORS(w, r)
	if r.Method == http.MethodOptions {
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.predictor == nil {
		http.Error(w, "search disabled", http.StatusServiceUnavailable)
		return
	}

	var req SearchRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	state, err := stateFromBoard(req.Board)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	cfg := s.search
	if req.Sims > 0 {
		cfg.Simulations = min(req.Sims, maxSearchSims)
	}
	if req.Cpuct > 0 {
		cfg.Cpuct = req.Cpuct
	}
	// Report the most visited move.
	cfg.Temperature = mcts.Temperature{}

	tree, err := mcts.NewTree(state, s.predictor, cfg, rand.New(rand.NewSource(time.Now().UnixNano())))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	move, stats, err := tree.Decide()
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, mcts.ErrTerminalRoot) {
			status = http.StatusConflict
		}
		http.Error(w, err.Error(), status)
		return
	}

	writeJSON(w, SearchResponse{
		Sims:     stats.Simulations,
		Cpuct:    cfg.Cpuct,
		MaxDepth: stats.MaxDepth,
		BestRow:  move.Row,
		BestCol:  move.Col,
		Root:     buildMCTSNode(tree.Root(), req.Depth, cfg.Cpuct),
	})
}

func buildMCTSNode(n *mcts.Node, depth int, cpuct float32) *MCTSNode {
	if n == nil {
		return nil
	}

	out := &MCTSNode{VisitCount: n.VisitCount(), Terminal: rules.IsTerminal(n.State)}
	sqrtSumN := float32(math.Sqrt(float64(out.VisitCount + 1)))

	for _, e := range n.Edges {
		mv := MCTSMove{
			Row: e.Move.Row,
			Col: e.Move.Col,
			N:   e.N,
			Q:   e.Q,
			P:   e.P,
			UCB: e.Q + cpuct*e.P*sqrtSumN/(1+float32(e.N)),
		}
		if depth > 0 && e.N > 0 {
			mv.Child = buildMCTSNode(e.Child, depth-1, cpuct)
		}
		out.Moves = append(out.Moves, mv)
	}
	return out
}
