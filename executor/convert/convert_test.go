package convert

import (
	"testing"

	"github.com/brensch/chainreaction/game"
	"github.com/brensch/chainreaction/rules"
	"github.com/stretchr/testify/require"
)

func TestStateToFloat32PutsMoverFirst(t *testing.T) {
	s, err := game.NewGameState(3, 3, 2)
	require.NoError(t, err)
	require.NoError(t, rules.ApplyMove(s, game.Move{Row: 0, Col: 0}))

	// Player 1 to move: player 0's orb lands in channel 1.
	data := StateToFloat32(s)
	defer PutFloatBuffer(data)
	require.Len(t, *data, 18)
	require.Equal(t, float32(1)/OrbScale, (*data)[9])
	require.Equal(t, float32(0), (*data)[0])

	require.NoError(t, rules.ApplyMove(s, game.Move{Row: 2, Col: 2}))
	again := StateToFloat32(s)
	defer PutFloatBuffer(again)
	require.Equal(t, float32(1)/OrbScale, (*again)[0], "player 0 to move: own orb in channel 0")
	require.Equal(t, float32(1)/OrbScale, (*again)[9+8], "opponent orb in channel 1")
}

func TestPooledBuffersAreZeroed(t *testing.T) {
	big, err := game.NewGameState(6, 6, 2)
	require.NoError(t, err)
	for i := range big.Cells {
		big.Cells[i].Occupied = true
		big.Cells[i].Owner = 0
		big.Cells[i].Orbs = 1
	}
	buf := StateToFloat32(big)
	PutFloatBuffer(buf)

	small, err := game.NewGameState(2, 2, 2)
	require.NoError(t, err)
	out := StateToFloat32(small)
	defer PutFloatBuffer(out)
	require.Len(t, *out, 8)
	for _, v := range *out {
		require.Zero(t, v)
	}
}

func TestBytesRoundTrip(t *testing.T) {
	s, err := game.NewGameState(4, 5, 2)
	require.NoError(t, err)
	for _, m := range []game.Move{{Row: 1, Col: 1}, {Row: 3, Col: 4}, {Row: 1, Col: 1}} {
		require.NoError(t, rules.ApplyMove(s, m))
	}

	floats := StateToFloat32(s)
	defer PutFloatBuffer(floats)
	b := StateToBytes(s)
	defer PutBuffer(b)

	require.Equal(t, *floats, BytesToFloat32(*b))

	wide := StateToFloat64(s)
	for i, v := range *floats {
		require.InDelta(t, float64(v), wide[i], 1e-7)
	}
}
