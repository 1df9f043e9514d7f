package viewer

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/brensch/chainreaction/executor/selfplay"
	"github.com/brensch/chainreaction/game"
	"github.com/brensch/chainreaction/store"
)

func withCORS(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	_ = enc.Encode(v)
}

func parseIntQuery(r *http.Request, key string, def int) int {
	v := strings.TrimSpace(r.URL.Query().Get(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	if n < 0 {
		return def
	}
	return n
}

func boardFromState(s *game.GameState) Board {
	owners, orbs := store.BoardColumns(s)
	return Board{
		Rows:       s.Rows,
		Cols:       s.Cols,
		Players:    s.NumPlayers,
		Turn:       s.TotalMoves,
		Player:     s.CurrentPlayer,
		Owners:     owners,
		Orbs:       orbs,
		PlayerOrbs: append([]int(nil), s.PlayerOrbs...),
	}
}

// stateFromBoard rebuilds and validates a posted board.
func stateFromBoard(b Board) (*game.GameState, error) {
	if b.Rows > maxBoardSide || b.Cols > maxBoardSide {
		return nil, fmt.Errorf("board %dx%d exceeds %dx%d", b.Rows, b.Cols, maxBoardSide, maxBoardSide)
	}
	players := b.Players
	if players == 0 {
		players = 2
	}
	if players != 2 {
		return nil, fmt.Errorf("search needs a two-player board, got %d players", players)
	}
	row := store.TrainingRow{
		Turn:    int32(b.Turn),
		Player:  int32(b.Player),
		Players: int32(players),
		Rows:    int32(b.Rows),
		Cols:    int32(b.Cols),
		Owners:  b.Owners,
		Orbs:    b.Orbs,
	}
	s, err := row.GameState()
	if err != nil {
		return nil, err
	}
	if s.CurrentPlayer < 0 || s.CurrentPlayer >= s.NumPlayers {
		return nil, fmt.Errorf("player %d out of range", s.CurrentPlayer)
	}
	for i, c := range s.Cells {
		if b.Owners[i] == game.NoPlayer && b.Orbs[i] != 0 {
			return nil, fmt.Errorf("cell %d has orbs but no owner", i)
		}
		if c.Occupied && (c.Orbs <= 0 || c.Orbs >= c.Capacity) {
			return nil, fmt.Errorf("cell %d holds %d orbs, capacity %d", i, c.Orbs, c.Capacity)
		}
	}
	return s, nil
}

func summarize(ep *selfplay.Episode) EpisodeSummary {
	history := make([]MovePlayed, 0, len(ep.Records))
	for _, r := range ep.Records {
		pi := float32(0)
		if idx := r.Move.Index(r.State.Cols); idx < len(r.Policy) {
			pi = r.Policy[idx]
		}
		history = append(history, MovePlayed{
			Turn:    r.State.TotalMoves,
			Player:  r.State.CurrentPlayer,
			Row:     r.Move.Row,
			Col:     r.Move.Col,
			Pi:      pi,
			Outcome: r.Outcome,
		})
	}
	return EpisodeSummary{
		ID:         ep.ID,
		Winner:     ep.Winner,
		Moves:      ep.Moves,
		DurationMs: ep.Duration.Milliseconds(),
		Final:      boardFromState(ep.Final),
		History:    history,
	}
}
