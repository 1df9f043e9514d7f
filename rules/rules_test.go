package rules

import (
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"testing"

	"github.com/brensch/chainreaction/game"
	"github.com/stretchr/testify/require"
)

func dumpState(state *game.GameState) string {
	if state == nil {
		return "<nil state>"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Moves=%d Size=%dx%d ToMove=%d Winner=%d Orbs=%v\n",
		state.TotalMoves, state.Rows, state.Cols, state.CurrentPlayer, state.Winner, state.PlayerOrbs)
	for r := 0; r < state.Rows; r++ {
		for c := 0; c < state.Cols; c++ {
			cell := state.At(r, c)
			if !cell.Occupied {
				b.WriteString(" .  ")
				continue
			}
			fmt.Fprintf(&b, "%d:%d ", cell.Owner, cell.Orbs)
		}
		b.WriteByte('\n')
	}
	return b.String()
}

func newState(t *testing.T, rows, cols, players int) *game.GameState {
	t.Helper()
	s, err := game.NewGameState(rows, cols, players)
	require.NoError(t, err)
	return s
}

func play(t *testing.T, s *game.GameState, moves ...game.Move) {
	t.Helper()
	for _, m := range moves {
		before := s.Clone()
		require.NoError(t, ApplyMove(s, m), "move %s", m)
		t.Logf("=== move %s ===\nBefore:\n%sAfter:\n%s", m, dumpState(before), dumpState(s))
	}
}

func TestCapacity(t *testing.T) {
	for rows := 2; rows <= 7; rows++ {
		for cols := 2; cols <= 7; cols++ {
			s := newState(t, rows, cols, 2)
			for r := 0; r < rows; r++ {
				for c := 0; c < cols; c++ {
					corner := (r == 0 || r == rows-1) && (c == 0 || c == cols-1)
					edge := r == 0 || r == rows-1 || c == 0 || c == cols-1
					want := 4
					if corner {
						want = 2
					} else if edge {
						want = 3
					}
					require.Equal(t, want, s.At(r, c).Capacity, "%dx%d cell (%d,%d)", rows, cols, r, c)
				}
			}
		}
	}
}

func TestApplyMove(t *testing.T) {
	t.Run("placing advances the turn", func(t *testing.T) {
		s := newState(t, 3, 3, 2)
		play(t, s, game.Move{Row: 1, Col: 1})

		cell := s.At(1, 1)
		require.True(t, cell.Occupied)
		require.Equal(t, 0, cell.Owner)
		require.Equal(t, 1, cell.Orbs)
		require.Equal(t, 1, s.TotalMoves)
		require.Equal(t, 1, s.CurrentPlayer)
		require.Equal(t, []int{1, 0}, s.PlayerOrbs)
	})

	t.Run("corner explosion on 2x2 board", func(t *testing.T) {
		s := newState(t, 2, 2, 2)
		play(t, s, game.Move{Row: 0, Col: 0}, game.Move{Row: 1, Col: 1}, game.Move{Row: 0, Col: 0})

		require.False(t, s.At(0, 0).Occupied, "exploded cell should be empty")
		require.Equal(t, 0, s.At(0, 0).Orbs)
		for _, m := range []game.Move{{Row: 0, Col: 1}, {Row: 1, Col: 0}} {
			cell := s.At(m.Row, m.Col)
			require.True(t, cell.Occupied, "neighbour %s", m)
			require.Equal(t, 0, cell.Owner, "neighbour %s", m)
			require.Equal(t, 1, cell.Orbs, "neighbour %s", m)
		}
		require.Equal(t, 1, s.At(1, 1).Owner, "untouched cell keeps its owner")
		require.Equal(t, []int{2, 1}, s.PlayerOrbs)
		require.Equal(t, game.NoPlayer, s.Winner)
		require.Equal(t, 1, s.CurrentPlayer)
	})

	t.Run("chain eliminating the opponent records the winner", func(t *testing.T) {
		s := newState(t, 2, 2, 2)
		play(t, s,
			game.Move{Row: 0, Col: 0},
			game.Move{Row: 1, Col: 1},
			game.Move{Row: 0, Col: 0},
			game.Move{Row: 1, Col: 1},
		)

		require.Equal(t, 1, s.Winner)
		require.Equal(t, 0, s.PlayerOrbs[0])
		require.Equal(t, 0, s.CurrentPlayer)

		value, terminal := Reward(s)
		require.True(t, terminal)
		require.Equal(t, float32(-1), value)

		err := ApplyMove(s, game.Move{Row: 0, Col: 1})
		var illegal *IllegalMoveError
		require.True(t, errors.As(err, &illegal), "moves after the game ends are illegal")
	})

	t.Run("opponent cell is illegal", func(t *testing.T) {
		s := newState(t, 3, 3, 2)
		play(t, s, game.Move{Row: 0, Col: 0})
		before := s.Clone()

		err := ApplyMove(s, game.Move{Row: 0, Col: 0})
		var illegal *IllegalMoveError
		require.True(t, errors.As(err, &illegal))
		require.Equal(t, 1, illegal.Player)
		require.Equal(t, 0, illegal.Owner)
		require.Equal(t, before, s, "rejected move must not change the state")
	})

	t.Run("off board is illegal", func(t *testing.T) {
		s := newState(t, 3, 3, 2)
		var illegal *IllegalMoveError
		require.True(t, errors.As(ApplyMove(s, game.Move{Row: 3, Col: 0}), &illegal))
		require.True(t, errors.As(ApplyMove(s, game.Move{Row: 0, Col: -1}), &illegal))
	})
}

func TestNextStateLeavesOriginal(t *testing.T) {
	s := newState(t, 3, 3, 2)
	play(t, s, game.Move{Row: 0, Col: 0})
	before := s.Clone()

	next, err := NextState(s, game.Move{Row: 2, Col: 2})
	require.NoError(t, err)

	require.Equal(t, before, s)
	require.Equal(t, 2, next.TotalMoves)
	require.Equal(t, 1, next.At(2, 2).Owner)
	require.False(t, s.At(2, 2).Occupied)

	_, err = NextState(s, game.Move{Row: 0, Col: 0})
	require.Error(t, err)
}

func TestReward(t *testing.T) {
	fullBoard := func() *game.GameState {
		s := newState(t, 3, 3, 2)
		for i := range s.Cells {
			s.Cells[i].Occupied = true
			s.Cells[i].Owner = 1
			s.Cells[i].Orbs = 1
		}
		s.TotalMoves = 10
		s.CurrentPlayer = 0
		s.Recount()
		return s
	}

	t.Run("full board without orbs is a loss", func(t *testing.T) {
		s := fullBoard()
		value, terminal := Reward(s)
		require.True(t, terminal)
		require.Equal(t, float32(-1), value)
	})

	t.Run("one empty cell keeps the game going", func(t *testing.T) {
		s := fullBoard()
		s.Cells[4] = game.Cell{Owner: game.NoPlayer, Capacity: s.Cells[4].Capacity}
		s.Recount()
		value, terminal := Reward(s)
		require.False(t, terminal)
		require.Equal(t, float32(0), value)
	})

	t.Run("no full round yet", func(t *testing.T) {
		s := fullBoard()
		s.TotalMoves = 1
		_, terminal := Reward(s)
		require.False(t, terminal)
	})

	t.Run("fresh board", func(t *testing.T) {
		value, terminal := Reward(newState(t, 5, 5, 2))
		require.False(t, terminal)
		require.Equal(t, float32(0), value)
	})
}

func TestValidMoves(t *testing.T) {
	s := newState(t, 3, 3, 2)
	require.Len(t, s.ValidMoves(), 9)

	play(t, s, game.Move{Row: 0, Col: 0})
	moves := s.ValidMoves()
	require.Len(t, moves, 8, "cache must refresh after a move")
	require.NotContains(t, moves, game.Move{Row: 0, Col: 0})

	play(t, s, game.Move{Row: 1, Col: 1})
	require.Contains(t, s.ValidMoves(), game.Move{Row: 0, Col: 0})
	require.NotContains(t, s.ValidMoves(), game.Move{Row: 1, Col: 1})
}

// TestRandomPlayInvariants plays random games and checks the board
// invariants after every move.
func TestRandomPlayInvariants(t *testing.T) {
	sizes := [][2]int{{2, 2}, {2, 3}, {3, 3}, {4, 3}, {5, 5}, {6, 9}}
	rng := rand.New(rand.NewSource(7))

	for _, size := range sizes {
		for g := 0; g < 20; g++ {
			s := newState(t, size[0], size[1], 2)
			finished := false

			for step := 0; step < 10000; step++ {
				if _, terminal := Reward(s); terminal {
					finished = true
					break
				}

				moves := s.ValidMoves()
				require.NotEmpty(t, moves, "non-terminal state must have moves:\n%s", dumpState(s))
				for _, m := range moves {
					cell := s.At(m.Row, m.Col)
					require.True(t, !cell.Occupied || cell.Owner == s.CurrentPlayer)
				}

				before := s.Clone()
				m := moves[rng.Intn(len(moves))]
				require.NoError(t, ApplyMove(s, m))

				for _, cell := range s.Cells {
					require.LessOrEqual(t, cell.Orbs, cell.Capacity)
					require.Equal(t, cell.Occupied, cell.Orbs > 0)
				}
				if s.Winner == game.NoPlayer {
					require.Equal(t, before.TotalOrbs()+1, s.TotalOrbs(),
						"orbs must grow by one without an elimination:\nBefore:\n%sAfter:\n%s", dumpState(before), dumpState(s))
				}

				counted := s.Clone()
				counted.Recount()
				require.Equal(t, counted.PlayerOrbs, s.PlayerOrbs)
			}
			require.True(t, finished, "%dx%d game did not finish", size[0], size[1])
		}
	}
}

// TestRewardMatchesOrbTotals checks that on reachable two-player states the
// terminal rule agrees with "the player to move has had a turn and owns no
// orbs".
func TestRewardMatchesOrbTotals(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	for g := 0; g < 50; g++ {
		s := newState(t, 4, 4, 2)
		for {
			_, terminal := Reward(s)
			byOrbs := s.RoundElapsed() && s.PlayerOrbs[s.CurrentPlayer] == 0
			require.Equal(t, byOrbs, terminal, "state:\n%s", dumpState(s))
			require.Equal(t, byOrbs, Eliminated(s, s.CurrentPlayer))
			if terminal {
				break
			}
			moves := s.ValidMoves()
			require.NoError(t, ApplyMove(s, moves[rng.Intn(len(moves))]))
		}
	}
}

func TestChainOverflow(t *testing.T) {
	// Five orbs can never settle on a 2x2 board. Before the first round ends
	// nobody counts as eliminated, so only the budget stops the chain.
	s, err := game.NewGameState(2, 2, 2)
	require.NoError(t, err)
	for i := range s.Cells {
		s.Cells[i].Occupied = true
		s.Cells[i].Owner = 0
		s.Cells[i].Orbs = 1
	}
	s.Recount()
	require.Equal(t, 2*2*5*4, explosionBudget(s))

	err = ApplyMove(s, game.Move{Row: 0, Col: 0})
	require.ErrorIs(t, err, ErrChainOverflow)
}
