package main

import "github.com/brensch/chainreaction/game"

// symmetry is a mirror image of a rectangular board. Transposes are left out
// so non-square boards keep their shape.
type symmetry struct {
	flipRows bool
	flipCols bool
}

var (
	identity      = symmetry{}
	allSymmetries = []symmetry{identity, {flipCols: true}, {flipRows: true}, {flipRows: true, flipCols: true}}
)

func (m symmetry) cell(row, col, rows, cols int) (int, int) {
	if m.flipRows {
		row = rows - 1 - row
	}
	if m.flipCols {
		col = cols - 1 - col
	}
	return row, col
}

func (m symmetry) index(row, col, rows, cols int) int {
	r, c := m.cell(row, col, rows, cols)
	return r*cols + c
}

func (m symmetry) applyState(s *game.GameState) *game.GameState {
	if m == identity {
		return s
	}
	out := s.Clone()
	for r := 0; r < s.Rows; r++ {
		for c := 0; c < s.Cols; c++ {
			out.Cells[m.index(r, c, s.Rows, s.Cols)] = s.Cells[r*s.Cols+c]
		}
	}
	out.Recount()
	return out
}

func (m symmetry) applyPolicy(policy []float32, rows, cols int) []float32 {
	out := make([]float32, len(policy))
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			out[m.index(r, c, rows, cols)] = policy[r*cols+c]
		}
	}
	return out
}
