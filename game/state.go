// Package game defines the core game state types for Chain Reaction.
//
// These types represent the minimal state needed for rules evaluation and
// oracle inference. The state is designed to be efficiently clonable for MCTS
// tree exploration: a successor state is always a deep copy followed by a
// single move application, never a mutation of a state someone else holds.
package game

import (
	"fmt"
)

// NoPlayer marks an unowned cell or an undecided winner.
const NoPlayer = -1

// Move is a board coordinate. (0,0) is the top-left cell.
type Move struct {
	Row int
	Col int
}

// Index returns the row-major index of the move on a board with cols columns.
func (m Move) Index(cols int) int {
	return m.Row*cols + m.Col
}

func (m Move) String() string {
	return fmt.Sprintf("(%d,%d)", m.Row, m.Col)
}

// MoveAt converts a row-major index back into a Move.
func MoveAt(index, cols int) Move {
	return Move{Row: index / cols, Col: index % cols}
}

type Cell struct {
	Occupied bool
	Owner    int // NoPlayer when unoccupied
	Orbs     int
	Capacity int
}

// GameState is the complete state needed for rules + inference.
type GameState struct {
	Rows          int
	Cols          int
	NumPlayers    int
	Cells         []Cell // row-major, Rows*Cols
	CurrentPlayer int
	TotalMoves    int

	// PlayerOrbs holds the orb total per player. It is maintained by the
	// rules package alongside Cells.
	PlayerOrbs []int

	// Winner is set once a chain reaction eliminates every opponent of the
	// mover. NoPlayer until then.
	Winner int

	validMoves []Move
	validAt    int
}

// NewGameState returns an empty board with player 0 to move.
func NewGameState(rows, cols, numPlayers int) (*GameState, error) {
	if rows < 2 || cols < 2 {
		return nil, fmt.Errorf("board must be at least 2x2, got %dx%d", rows, cols)
	}
	if numPlayers < 2 {
		return nil, fmt.Errorf("need at least 2 players, got %d", numPlayers)
	}

	s := &GameState{
		Rows:       rows,
		Cols:       cols,
		NumPlayers: numPlayers,
		Cells:      make([]Cell, rows*cols),
		PlayerOrbs: make([]int, numPlayers),
		Winner:     NoPlayer,
		validAt:    -1,
	}
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			s.Cells[r*cols+c] = Cell{Owner: NoPlayer, Capacity: Capacity(rows, cols, r, c)}
		}
	}
	return s, nil
}

// Capacity returns how many orbs make the cell at (row, col) explode:
// 2 in a corner, 3 on an edge, 4 in the interior.
func Capacity(rows, cols, row, col int) int {
	onRowEdge := row == 0 || row == rows-1
	onColEdge := col == 0 || col == cols-1
	switch {
	case onRowEdge && onColEdge:
		return 2
	case onRowEdge || onColEdge:
		return 3
	default:
		return 4
	}
}

// Clone performs a deep copy of the game state.
func (s *GameState) Clone() *GameState {
	if s == nil {
		return nil
	}

	out := &GameState{
		Rows:          s.Rows,
		Cols:          s.Cols,
		NumPlayers:    s.NumPlayers,
		CurrentPlayer: s.CurrentPlayer,
		TotalMoves:    s.TotalMoves,
		Winner:        s.Winner,
		validAt:       s.validAt,
	}

	out.Cells = make([]Cell, len(s.Cells))
	copy(out.Cells, s.Cells)

	out.PlayerOrbs = make([]int, len(s.PlayerOrbs))
	copy(out.PlayerOrbs, s.PlayerOrbs)

	if s.validMoves != nil {
		out.validMoves = make([]Move, len(s.validMoves))
		copy(out.validMoves, s.validMoves)
	}

	return out
}

// InBounds reports whether (row, col) lies on the board.
func (s *GameState) InBounds(row, col int) bool {
	return row >= 0 && row < s.Rows && col >= 0 && col < s.Cols
}

// At returns the cell at (row, col). It panics when out of bounds.
func (s *GameState) At(row, col int) *Cell {
	if !s.InBounds(row, col) {
		panic(fmt.Sprintf("cell (%d,%d) out of bounds on %dx%d board", row, col, s.Rows, s.Cols))
	}
	return &s.Cells[row*s.Cols+col]
}

// ValidMoves returns the cells that are empty or owned by the current
// player, in row-major order. The list is cached and recomputed whenever
// the move count changes. Callers must not modify the returned slice.
func (s *GameState) ValidMoves() []Move {
	if s.validAt == s.TotalMoves && s.validMoves != nil {
		return s.validMoves
	}

	moves := make([]Move, 0, len(s.Cells))
	for i, c := range s.Cells {
		if !c.Occupied || c.Owner == s.CurrentPlayer {
			moves = append(moves, MoveAt(i, s.Cols))
		}
	}
	s.validMoves = moves
	s.validAt = s.TotalMoves
	return moves
}

// IsValid reports whether the current player may place an orb at m.
func (s *GameState) IsValid(m Move) bool {
	if !s.InBounds(m.Row, m.Col) {
		return false
	}
	c := s.Cells[m.Index(s.Cols)]
	return !c.Occupied || c.Owner == s.CurrentPlayer
}

// Full reports whether every cell holds at least one orb.
func (s *GameState) Full() bool {
	for _, c := range s.Cells {
		if !c.Occupied {
			return false
		}
	}
	return true
}

// TotalOrbs sums the orbs over all cells.
func (s *GameState) TotalOrbs() int {
	total := 0
	for _, c := range s.Cells {
		total += c.Orbs
	}
	return total
}

// RoundElapsed reports whether every player has had at least one turn.
func (s *GameState) RoundElapsed() bool {
	return s.TotalMoves >= s.NumPlayers
}

// Recount rebuilds PlayerOrbs from the cells. It is used after a board has
// been assembled by hand (tests, decoding stored rows).
func (s *GameState) Recount() {
	if len(s.PlayerOrbs) != s.NumPlayers {
		s.PlayerOrbs = make([]int, s.NumPlayers)
	}
	clear(s.PlayerOrbs)
	for _, c := range s.Cells {
		if c.Occupied && c.Owner >= 0 && c.Owner < s.NumPlayers {
			s.PlayerOrbs[c.Owner] += c.Orbs
		}
	}
	s.validAt = -1
}
