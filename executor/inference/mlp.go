package inference

import (
	"fmt"
	"math"
	"math/rand"
	"sync"

	"github.com/brensch/chainreaction/executor/convert"
	"github.com/brensch/chainreaction/game"
	"github.com/patrikeh/go-deep"
)

// MLPConfig describes the in-process network.
type MLPConfig struct {
	Shape        Shape
	HiddenLayers []int
	// Seed fixes the initial weights. Equal seeds give equal predictions.
	Seed int64
	// WeightScale is the standard deviation of the initial weights.
	WeightScale float64
}

func DefaultMLPConfig(shape Shape) MLPConfig {
	return MLPConfig{
		Shape:        shape,
		HiddenLayers: []int{64, 32},
		Seed:         1,
		WeightScale:  0.1,
	}
}

// MLPClient is a small multilayer perceptron predictor. The policy head is a
// softmax classifier over cells, the value head a regression squashed with
// tanh. go-deep networks keep activations on their neurons, so predictions
// are serialised.
type MLPClient struct {
	cfg    MLPConfig
	mu     sync.Mutex
	policy *deep.Neural
	value  *deep.Neural
}

func NewMLPClient(cfg MLPConfig) (*MLPClient, error) {
	if cfg.Shape.InputSize() <= 0 {
		return nil, fmt.Errorf("invalid mlp shape %+v", cfg.Shape)
	}
	for _, h := range cfg.HiddenLayers {
		if h <= 0 {
			return nil, fmt.Errorf("hidden layer sizes must be positive, got %v", cfg.HiddenLayers)
		}
	}
	if cfg.WeightScale <= 0 {
		cfg.WeightScale = 0.1
	}

	policyLayout := append(append([]int(nil), cfg.HiddenLayers...), cfg.Shape.PolicySize())
	policy := deep.NewNeural(&deep.Config{
		Inputs:     cfg.Shape.InputSize(),
		Layout:     policyLayout,
		Activation: deep.ActivationReLU,
		Mode:       deep.ModeMultiClass,
		Weight:     deep.NewNormal(0.0, cfg.WeightScale),
		Bias:       true,
	})

	valueLayout := append(append([]int(nil), cfg.HiddenLayers...), 1)
	value := deep.NewNeural(&deep.Config{
		Inputs:     cfg.Shape.InputSize(),
		Layout:     valueLayout,
		Activation: deep.ActivationReLU,
		Mode:       deep.ModeRegression,
		Weight:     deep.NewNormal(0.0, cfg.WeightScale),
		Bias:       true,
	})

	// go-deep draws initial weights from the global source; redraw them from
	// the seed so runs are reproducible.
	rng := rand.New(rand.NewSource(cfg.Seed))
	policy.ApplyWeights(reseed(policy.Weights(), rng, cfg.WeightScale))
	value.ApplyWeights(reseed(value.Weights(), rng, cfg.WeightScale))

	return &MLPClient{cfg: cfg, policy: policy, value: value}, nil
}

func reseed(weights [][][]float64, rng *rand.Rand, scale float64) [][][]float64 {
	for _, layer := range weights {
		for _, neuron := range layer {
			for i := range neuron {
				neuron[i] = rng.NormFloat64() * scale
			}
		}
	}
	return weights
}

// Weights returns copies of the policy and value network weights.
func (c *MLPClient) Weights() (policy, value [][][]float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.policy.Weights(), c.value.Weights()
}

// ApplyWeights replaces the network weights, e.g. with a trained set.
func (c *MLPClient) ApplyWeights(policy, value [][][]float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.policy.ApplyWeights(policy)
	c.value.ApplyWeights(value)
}

func (c *MLPClient) Close() error { return nil }

func (c *MLPClient) Predict(state *game.GameState) ([]float32, float32, error) {
	shape := c.cfg.Shape
	if state.Rows != shape.Rows || state.Cols != shape.Cols || state.NumPlayers != shape.Players {
		return nil, 0, fmt.Errorf("state %dx%d with %d players does not match network %+v",
			state.Rows, state.Cols, state.NumPlayers, shape)
	}
	features := convert.StateToFloat64(state)

	c.mu.Lock()
	policyOut := c.policy.Predict(features)
	valueOut := c.value.Predict(features)
	c.mu.Unlock()

	prior := make([]float32, len(policyOut))
	for i, p := range policyOut {
		prior[i] = float32(p)
	}
	return prior, float32(math.Tanh(valueOut[0])), nil
}
