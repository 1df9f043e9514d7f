package inference

import (
	"math/rand"
	"os"
	"testing"

	"github.com/brensch/chainreaction/executor/convert"
	"github.com/brensch/chainreaction/game"
	"github.com/brensch/chainreaction/rules"
)

// randomState plays n random legal moves on a fresh 5x5 board.
func randomState(r *rand.Rand, n int) *game.GameState {
	s, _ := game.NewGameState(5, 5, 2)
	for i := 0; i < n && !rules.IsTerminal(s); i++ {
		moves := s.ValidMoves()
		_ = rules.ApplyMove(s, moves[r.Intn(len(moves))])
	}
	return s
}

func BenchmarkStateToFloat32(b *testing.B) {
	r := rand.New(rand.NewSource(1))
	states := make([]*game.GameState, 1024)
	for i := range states {
		states[i] = randomState(r, r.Intn(30))
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		ptr := convert.StateToFloat32(states[i%len(states)])
		convert.PutFloatBuffer(ptr)
	}
}

func BenchmarkMLPPredict(b *testing.B) {
	client, err := NewMLPClient(DefaultMLPConfig(Shape{Rows: 5, Cols: 5, Players: 2}))
	if err != nil {
		b.Fatalf("mlp: %v", err)
	}
	state := randomState(rand.New(rand.NewSource(2)), 12)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, _, err := client.Predict(state); err != nil {
			b.Fatalf("predict: %v", err)
		}
	}
}

func BenchmarkOnnxPredict(b *testing.B) {
	modelPath := os.Getenv("CHAINREACTION_BENCH_ONNX_MODEL")
	if modelPath == "" {
		modelPath = "../../models/chainreaction_5x5.onnx"
	}
	if _, err := os.Stat(modelPath); err != nil {
		b.Skip("ONNX model not found; set CHAINREACTION_BENCH_ONNX_MODEL")
	}
	b.Logf("Using model: %s", modelPath)

	client, err := NewOnnxClient(modelPath, Shape{Rows: 5, Cols: 5, Players: 2})
	if err != nil {
		b.Skipf("ORT session failed: %v", err)
	}
	defer client.Close()

	state := randomState(rand.New(rand.NewSource(3)), 12)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, _, err := client.Predict(state); err != nil {
			b.Fatalf("run: %v", err)
		}
	}
	b.StopTimer()
	dt := b.Elapsed().Seconds()
	if dt > 0 {
		b.ReportMetric(float64(b.N)/dt, "inf/s")
	}
}
