package inference

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brensch/chainreaction/executor/convert"
	"github.com/brensch/chainreaction/game"
	"github.com/rs/zerolog/log"
	ort "github.com/yalue/onnxruntime_go"
)

// Shape describes the board an ONNX model was exported for.
type Shape struct {
	Rows    int
	Cols    int
	Players int
}

func (s Shape) InputSize() int  { return s.Players * s.Rows * s.Cols }
func (s Shape) PolicySize() int { return s.Rows * s.Cols }

// RuntimeStats summarises session usage.
type RuntimeStats struct {
	TotalRuns     int64
	TotalRunNanos int64
	AvgRunMs      float64
}

// OnnxClient runs one inference at a time on an ONNX Runtime session.
// The model takes "input" [1, players, rows, cols] and returns "policy"
// logits [1, rows*cols] and "value" [1, 1].
type OnnxClient struct {
	session *ort.DynamicAdvancedSession
	shape   Shape

	mu       sync.Mutex
	runs     atomic.Int64
	runNanos atomic.Int64
}

var ortInitOnce sync.Once
var ortInitErr error

// ErrNonFinite reports a NaN or infinite model output.
var ErrNonFinite = errors.New("model output is not finite")

func NewOnnxClient(modelPath string, shape Shape) (*OnnxClient, error) {
	if shape.InputSize() <= 0 {
		return nil, fmt.Errorf("invalid model shape %+v", shape)
	}

	if runtime.GOOS == "linux" {
		configureLibraryPath()
	}

	ortInitOnce.Do(func() {
		ortInitErr = ort.InitializeEnvironment()
	})
	if ortInitErr != nil {
		return nil, fmt.Errorf("failed to init ort: %w", ortInitErr)
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, err
	}
	defer options.Destroy()

	inputs := []string{"input"}
	outputs := []string{"policy", "value"}

	// Workers share the machine; one thread per session avoids contention.
	options.SetIntraOpNumThreads(1)
	options.SetInterOpNumThreads(1)

	if disableCUDA() {
		log.Debug().Msg("CUDA provider disabled via CHAINREACTION_ORT_DISABLE_CUDA")
	} else if cudaOptions, err := ort.NewCUDAProviderOptions(); err == nil {
		defer cudaOptions.Destroy()
		if err := options.AppendExecutionProviderCUDA(cudaOptions); err != nil {
			log.Info().Err(err).Msg("failed to append CUDA provider, using CPU")
		} else {
			log.Info().Msg("CUDA provider enabled")
		}
	} else {
		log.Info().Err(err).Msg("CUDA options unavailable, using CPU")
	}

	session, err := ort.NewDynamicAdvancedSession(modelPath, inputs, outputs, options)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	return &OnnxClient{session: session, shape: shape}, nil
}

func disableCUDA() bool {
	v := os.Getenv("CHAINREACTION_ORT_DISABLE_CUDA")
	return v != "" && v != "0" && strings.ToLower(v) != "false"
}

// configureLibraryPath points onnxruntime_go at ORT_SHARED_LIBRARY_PATH or a
// libonnxruntime found in the working directory.
func configureLibraryPath() {
	if p := os.Getenv("ORT_SHARED_LIBRARY_PATH"); p != "" {
		ort.SetSharedLibraryPath(p)
		return
	}
	cwd, err := os.Getwd()
	if err != nil {
		return
	}
	candidates := []string{
		"libonnxruntime.so",
		"libonnxruntime.so.1",
	}
	for _, name := range candidates {
		abs := filepath.Join(cwd, name)
		if _, err := os.Stat(abs); err == nil {
			ort.SetSharedLibraryPath(abs)
			return
		}
	}
}

func (c *OnnxClient) Close() error {
	return c.session.Destroy()
}

func (c *OnnxClient) Stats() RuntimeStats {
	runs := c.runs.Load()
	nanos := c.runNanos.Load()
	avg := 0.0
	if runs > 0 {
		avg = (float64(nanos) / 1e6) / float64(runs)
	}
	return RuntimeStats{TotalRuns: runs, TotalRunNanos: nanos, AvgRunMs: avg}
}

func (c *OnnxClient) Predict(state *game.GameState) ([]float32, float32, error) {
	if state.Rows != c.shape.Rows || state.Cols != c.shape.Cols || state.NumPlayers != c.shape.Players {
		return nil, 0, fmt.Errorf("state %dx%d with %d players does not match model %+v",
			state.Rows, state.Cols, state.NumPlayers, c.shape)
	}

	dataPtr := convert.StateToFloat32(state)
	defer convert.PutFloatBuffer(dataPtr)

	c.mu.Lock()
	defer c.mu.Unlock()

	inputShape := ort.NewShape(1, int64(c.shape.Players), int64(c.shape.Rows), int64(c.shape.Cols))
	inputTensor, err := ort.NewTensor(inputShape, *dataPtr)
	if err != nil {
		return nil, 0, fmt.Errorf("input tensor: %w", err)
	}
	defer inputTensor.Destroy()

	policyTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(c.shape.PolicySize())))
	if err != nil {
		return nil, 0, fmt.Errorf("policy tensor: %w", err)
	}
	defer policyTensor.Destroy()

	valueTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 1))
	if err != nil {
		return nil, 0, fmt.Errorf("value tensor: %w", err)
	}
	defer valueTensor.Destroy()

	start := time.Now()
	if err := c.session.Run([]ort.Value{inputTensor}, []ort.Value{policyTensor, valueTensor}); err != nil {
		return nil, 0, fmt.Errorf("session run: %w", err)
	}
	c.runs.Add(1)
	c.runNanos.Add(time.Since(start).Nanoseconds())

	return decodeOutputs(policyTensor.GetData(), valueTensor.GetData()[0])
}

// decodeOutputs turns raw network heads into a prior and a value in [-1, 1].
// Non-finite outputs are errors; a broken model must not look like a draw.
func decodeOutputs(logits []float32, value float32) ([]float32, float32, error) {
	for i, v := range logits {
		if !finite(v) {
			return nil, 0, fmt.Errorf("policy logit %d is %v: %w", i, v, ErrNonFinite)
		}
	}
	if !finite(value) {
		return nil, 0, fmt.Errorf("value is %v: %w", value, ErrNonFinite)
	}
	return Softmax(logits), clampValue(value), nil
}

func finite(v float32) bool {
	return !math.IsNaN(float64(v)) && !math.IsInf(float64(v), 0)
}

// Softmax converts logits into a fresh probability vector.
func Softmax(logits []float32) []float32 {
	out := make([]float32, len(logits))
	if len(logits) == 0 {
		return out
	}
	maxV := logits[0]
	for _, v := range logits[1:] {
		if v > maxV {
			maxV = v
		}
	}
	sum := float32(0)
	for i, v := range logits {
		e := float32(math.Exp(float64(v - maxV)))
		out[i] = e
		sum += e
	}
	if sum > 0 {
		inv := 1 / sum
		for i := range out {
			out[i] *= inv
		}
	}
	return out
}

func clampValue(v float32) float32 {
	switch {
	case v > 1:
		return 1
	case v < -1:
		return -1
	}
	return v
}
