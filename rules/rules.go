package rules

import (
	"errors"
	"fmt"

	"github.com/brensch/chainreaction/game"
)

// Orthogonal neighbour offsets, visited in this order: up, left, down, right.
var (
	dRow = [4]int{-1, 0, 1, 0}
	dCol = [4]int{0, -1, 0, 1}
)

// ErrChainOverflow is returned when a chain reaction exceeds the explosion
// budget. Chains stop once every opponent is eliminated, so this indicates a
// corrupted board rather than a legal position.
var ErrChainOverflow = errors.New("chain reaction exceeded explosion budget")

// IllegalMoveError reports a move onto a cell the mover may not use.
type IllegalMoveError struct {
	Move   game.Move
	Player int
	Owner  int
	Reason string
}

func (e *IllegalMoveError) Error() string {
	return fmt.Sprintf("illegal move %s by player %d: %s", e.Move, e.Player, e.Reason)
}

// explosionBudget bounds the explosions a single move may trigger:
// rows*cols*(orbs after the placement)*4.
func explosionBudget(s *game.GameState) int {
	return len(s.Cells) * (s.TotalOrbs() + 1) * 4
}

// ApplyMove places one orb for the current player at m, resolves any chain
// reaction and advances the turn. The state is mutated in place; use
// NextState when the state is shared.
func ApplyMove(s *game.GameState, m game.Move) error {
	player := s.CurrentPlayer

	if !s.InBounds(m.Row, m.Col) {
		return &IllegalMoveError{Move: m, Player: player, Owner: game.NoPlayer, Reason: "off the board"}
	}
	if s.Winner != game.NoPlayer {
		return &IllegalMoveError{Move: m, Player: player, Owner: game.NoPlayer, Reason: "game is over"}
	}
	cell := s.At(m.Row, m.Col)
	if cell.Occupied && cell.Owner != player {
		return &IllegalMoveError{Move: m, Player: player, Owner: cell.Owner, Reason: fmt.Sprintf("cell owned by player %d", cell.Owner)}
	}

	c := &chain{
		state:   s,
		player:  player,
		watch:   s.RoundElapsed(),
		budget:  explosionBudget(s),
		settled: false,
	}
	if err := c.put(m.Row, m.Col); err != nil {
		return err
	}
	if c.settled || c.eliminatedAll() {
		s.Winner = player
	}

	s.TotalMoves++
	s.CurrentPlayer = s.TotalMoves % s.NumPlayers
	return nil
}

// NextState returns a copy of s with m applied. s is never modified.
func NextState(s *game.GameState, m game.Move) (*game.GameState, error) {
	next := s.Clone()
	if err := ApplyMove(next, m); err != nil {
		return nil, err
	}
	return next, nil
}

type chain struct {
	state  *game.GameState
	player int
	// watch enables the elimination cut-off. Before a full round has
	// elapsed some players have not placed an orb yet.
	watch      bool
	budget     int
	explosions int
	settled    bool
}

// put adds one of the mover's orbs to (row, col), exploding depth first.
func (c *chain) put(row, col int) error {
	s := c.state
	cell := s.At(row, col)

	if cell.Occupied && cell.Owner != c.player {
		s.PlayerOrbs[cell.Owner] -= cell.Orbs
		s.PlayerOrbs[c.player] += cell.Orbs
	}
	cell.Occupied = true
	cell.Owner = c.player
	cell.Orbs++
	s.PlayerOrbs[c.player]++

	if cell.Orbs < cell.Capacity {
		return nil
	}

	c.explosions++
	if c.explosions > c.budget {
		return fmt.Errorf("move by player %d at (%d,%d): %w", c.player, row, col, ErrChainOverflow)
	}

	s.PlayerOrbs[c.player] -= cell.Orbs
	cell.Occupied = false
	cell.Owner = game.NoPlayer
	cell.Orbs = 0

	for k := 0; k < 4; k++ {
		if c.eliminatedAll() {
			c.settled = true
			return nil
		}
		nr, nc := row+dRow[k], col+dCol[k]
		if !s.InBounds(nr, nc) {
			continue
		}
		if err := c.put(nr, nc); err != nil {
			return err
		}
		if c.settled {
			return nil
		}
	}
	return nil
}

func (c *chain) eliminatedAll() bool {
	if !c.watch {
		return false
	}
	for p, orbs := range c.state.PlayerOrbs {
		if p != c.player && orbs > 0 {
			return false
		}
	}
	return true
}

// Reward reports the outcome from the perspective of the current player.
// The game is over, with value -1, when the current player owns no orbs on
// a fully occupied board after at least one full round, or when a chain
// reaction has already recorded another player as the winner.
func Reward(s *game.GameState) (float32, bool) {
	if s.Winner != game.NoPlayer && s.Winner != s.CurrentPlayer {
		return -1, true
	}
	if !s.RoundElapsed() || !s.Full() {
		return 0, false
	}
	if s.PlayerOrbs[s.CurrentPlayer] == 0 {
		return -1, true
	}
	return 0, false
}

// IsTerminal reports whether the game is over.
func IsTerminal(s *game.GameState) bool {
	_, terminal := Reward(s)
	return terminal
}

// Eliminated reports whether player owns no orbs after having had a turn.
func Eliminated(s *game.GameState, player int) bool {
	return s.TotalMoves > player && s.PlayerOrbs[player] == 0
}
