package main

import (
	"fmt"
	"os"

	"github.com/brensch/chainreaction/config"
	"github.com/brensch/chainreaction/executor/inference"
	"github.com/rs/zerolog/log"
)

// newPredictor builds the predictor named by cfg.Oracle.Kind.
func newPredictor(cfg config.Config) (inference.Session, error) {
	shape := inference.Shape{Rows: cfg.Rows, Cols: cfg.Cols, Players: cfg.Players}

	switch cfg.Oracle.Kind {
	case "onnx":
		if _, err := os.Stat(cfg.Oracle.Model); err != nil {
			return nil, fmt.Errorf("model file %s: %w", cfg.Oracle.Model, err)
		}
		pool, err := inference.NewOnnxPool(cfg.Oracle.Model, shape, max(1, cfg.Oracle.Sessions))
		if err != nil {
			return nil, fmt.Errorf("create onnx pool: %w", err)
		}
		log.Info().Str("model", cfg.Oracle.Model).Int("sessions", max(1, cfg.Oracle.Sessions)).Msg("onnx oracle ready")
		return pool, nil

	case "mlp":
		mc := inference.DefaultMLPConfig(shape)
		if len(cfg.Oracle.Hidden) > 0 {
			mc.HiddenLayers = cfg.Oracle.Hidden
		}
		mc.Seed = cfg.Oracle.Seed
		client, err := inference.NewMLPClient(mc)
		if err != nil {
			return nil, fmt.Errorf("create mlp: %w", err)
		}
		log.Info().Ints("hidden", mc.HiddenLayers).Int64("seed", mc.Seed).Msg("mlp oracle ready")
		return client, nil

	case "uniform":
		return inference.Uniform{}, nil
	}
	return nil, fmt.Errorf("unknown oracle %q", cfg.Oracle.Kind)
}
