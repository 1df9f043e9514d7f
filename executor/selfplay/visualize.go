// visualize.go - Console visualization for debugging self-play games.
//
// RenderBoard produces an ASCII grid of owner:orbs cells; RenderEncoded adds
// the oracle input planes for the same state.
package selfplay

import (
	"fmt"
	"strings"

	"github.com/brensch/chainreaction/executor/convert"
	"github.com/brensch/chainreaction/game"
	"github.com/muesli/termenv"
)

var playerColors = []string{"#E74C3C", "#3498DB", "#2ECC71", "#F1C40F", "#9B59B6", "#E67E22"}

func RenderBoard(state *game.GameState) string {
	return renderBoard(state, func(_ int, s string) string { return s })
}

// RenderBoardColor is RenderBoard with every player's cells coloured for the
// given terminal profile. termenv.Ascii renders plain text.
func RenderBoardColor(state *game.GameState, profile termenv.Profile) string {
	if profile == termenv.Ascii {
		return RenderBoard(state)
	}
	return renderBoard(state, func(owner int, s string) string {
		c := profile.Color(playerColors[owner%len(playerColors)])
		return profile.String(s).Foreground(c).String()
	})
}

func renderBoard(state *game.GameState, paint func(owner int, s string) string) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("=== Turn %d (to move: %d, orbs: %v", state.TotalMoves, state.CurrentPlayer, state.PlayerOrbs))
	if state.Winner != game.NoPlayer {
		sb.WriteString(fmt.Sprintf(", winner: %d", state.Winner))
	}
	sb.WriteString(") ===\n")

	for r := 0; r < state.Rows; r++ {
		for c := 0; c < state.Cols; c++ {
			cell := state.At(r, c)
			if !cell.Occupied {
				sb.WriteString(" .  ")
				continue
			}
			sb.WriteString(paint(cell.Owner, fmt.Sprintf("%d:%d", cell.Owner, cell.Orbs)) + " ")
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

// RenderEncoded prints the oracle input planes for state, mover first.
func RenderEncoded(state *game.GameState) string {
	dataPtr := convert.StateToFloat32(state)
	data := *dataPtr
	defer convert.PutFloatBuffer(dataPtr)

	var sb strings.Builder
	sb.WriteString("--- Encoded input layers (C,H,W) ---\n")
	area := state.Rows * state.Cols
	for c := 0; c < convert.Channels(state); c++ {
		name := "mover"
		if c > 0 {
			name = fmt.Sprintf("opponent%d", c)
		}
		sb.WriteString(fmt.Sprintf("Layer %d (%s, player %d):\n", c, name, (state.CurrentPlayer+c)%state.NumPlayers))
		for r := 0; r < state.Rows; r++ {
			for col := 0; col < state.Cols; col++ {
				v := data[c*area+r*state.Cols+col]
				if v == 0 {
					sb.WriteString("   . ")
					continue
				}
				sb.WriteString(fmt.Sprintf("%4.2f ", v))
			}
			sb.WriteString("\n")
		}
	}
	return sb.String()
}
