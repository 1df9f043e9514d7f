package convert

import (
	"encoding/binary"
	"math"
	"sync"

	"github.com/brensch/chainreaction/game"
)

const BytesPerFloat = 4

// OrbScale normalises orb counts into (0,1]. No cell holds more than 3 orbs
// between moves.
const OrbScale = 4.0

var floatPool = sync.Pool{
	New: func() interface{} {
		b := make([]float32, 0, 5*5*2)
		return &b
	},
}

var bufferPool = sync.Pool{
	New: func() interface{} {
		b := make([]byte, 0, 5*5*2*BytesPerFloat)
		return &b
	},
}

// Channels returns the number of planes in the encoding of s.
func Channels(s *game.GameState) int {
	return s.NumPlayers
}

// FloatSize returns the flattened length of the encoding of s.
func FloatSize(s *game.GameState) int {
	return s.NumPlayers * s.Rows * s.Cols
}

// GetFloatBuffer returns a zeroed pooled slice of length n.
func GetFloatBuffer(n int) *[]float32 {
	p := floatPool.Get().(*[]float32)
	if cap(*p) < n {
		*p = make([]float32, n)
	}
	*p = (*p)[:n]
	clear(*p)
	return p
}

func PutFloatBuffer(b *[]float32) {
	floatPool.Put(b)
}

// GetBuffer returns a zeroed pooled byte slice of length n.
func GetBuffer(n int) *[]byte {
	p := bufferPool.Get().(*[]byte)
	if cap(*p) < n {
		*p = make([]byte, n)
	}
	*p = (*p)[:n]
	clear(*p)
	return p
}

func PutBuffer(b *[]byte) {
	bufferPool.Put(b)
}

// plane maps a player to its channel. The player to move is always channel 0,
// the next player channel 1 and so on.
func plane(s *game.GameState, owner int) int {
	return (owner - s.CurrentPlayer + s.NumPlayers) % s.NumPlayers
}

// StateToFloat32 encodes the GameState into a pooled float32 slice suitable for ONNX input.
// Output shape: [Players, Rows, Cols] with the player to move in channel 0.
// Each occupied cell holds orbs/OrbScale in its owner's plane.
// Caller must return the slice to the pool using PutFloatBuffer.
func StateToFloat32(s *game.GameState) *[]float32 {
	dataPtr := GetFloatBuffer(FloatSize(s))
	data := *dataPtr

	area := s.Rows * s.Cols
	for i, c := range s.Cells {
		if !c.Occupied {
			continue
		}
		data[plane(s, c.Owner)*area+i] = float32(c.Orbs) / OrbScale
	}
	return dataPtr
}

// StateToFloat64 is StateToFloat32 widened for float64 networks. The
// returned slice is freshly allocated.
func StateToFloat64(s *game.GameState) []float64 {
	out := make([]float64, FloatSize(s))
	area := s.Rows * s.Cols
	for i, c := range s.Cells {
		if !c.Occupied {
			continue
		}
		out[plane(s, c.Owner)*area+i] = float64(c.Orbs) / OrbScale
	}
	return out
}

// StateToBytes flattens the encoding into little endian float32 bytes, the
// format stored in training rows.
// Caller must return the slice to the pool using PutBuffer.
func StateToBytes(s *game.GameState) *[]byte {
	floats := StateToFloat32(s)
	defer PutFloatBuffer(floats)

	dataPtr := GetBuffer(len(*floats) * BytesPerFloat)
	data := *dataPtr
	for i, v := range *floats {
		binary.LittleEndian.PutUint32(data[i*BytesPerFloat:], math.Float32bits(v))
	}
	return dataPtr
}

// BytesToFloat32 decodes little endian float32 bytes written by StateToBytes.
func BytesToFloat32(data []byte) []float32 {
	out := make([]float32, len(data)/BytesPerFloat)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*BytesPerFloat:]))
	}
	return out
}
