// Command debuggame plays a single self-play episode with every board and
// decision logged, then writes it as a one-game parquet batch.
package main

import (
	"flag"
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/brensch/chainreaction/config"
	"github.com/brensch/chainreaction/executor/inference"
	"github.com/brensch/chainreaction/executor/mcts"
	"github.com/brensch/chainreaction/executor/selfplay"
	"github.com/brensch/chainreaction/game"
	"github.com/brensch/chainreaction/store"
	"github.com/muesli/termenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	rows := flag.Int("rows", 5, "Board rows")
	cols := flag.Int("cols", 5, "Board columns")
	sims := flag.Int("sims", 100, "Number of MCTS simulations per move")
	cpuct := flag.Float64("cpuct", 1.0, "MCTS exploration constant")
	oracle := flag.String("oracle", "mlp", "Predictor: onnx, mlp or uniform")
	modelPath := flag.String("model", "models/chainreaction_5x5.onnx", "Path to ONNX model")
	cuda := flag.Bool("cuda", true, "Enable CUDA for ONNX inference")
	seed := flag.Int64("seed", 0, "Episode seed (0 picks one from the clock)")
	outDir := flag.String("out-dir", "debug_games", "Output directory for debug games")
	outFile := flag.String("out", "", "Write the game to this parquet file instead of a new batch in -out-dir")
	encoded := flag.Bool("encoded", false, "Also print the network input planes of every position")
	flag.Parse()

	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}).With().Timestamp().Logger()
	zerolog.SetGlobalLevel(zerolog.DebugLevel)

	if !*cuda {
		os.Setenv("CHAINREACTION_ORT_DISABLE_CUDA", "1")
	}

	shape := inference.Shape{Rows: *rows, Cols: *cols, Players: 2}
	var client inference.Session
	var err error
	switch *oracle {
	case "onnx":
		log.Info().Str("model", *modelPath).Msg("loading model")
		client, err = inference.NewOnnxClient(*modelPath, shape)
	case "mlp":
		client, err = inference.NewMLPClient(inference.DefaultMLPConfig(shape))
	case "uniform":
		client = inference.Uniform{}
	default:
		err = fmt.Errorf("unknown oracle %q", *oracle)
	}
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create predictor")
	}
	defer client.Close()

	cfg := config.Default()
	cfg.Rows, cfg.Cols = *rows, *cols
	cfg.Search.Simulations = *sims
	cfg.Search.Cpuct = float32(*cpuct)
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid settings")
	}

	if *seed == 0 {
		*seed = time.Now().UnixNano()
	}
	counting := inference.NewCounting(client)
	ep, err := selfplay.PlayEpisode(selfplay.EpisodeOptions{
		Rows:    cfg.Rows,
		Cols:    cfg.Cols,
		Players: cfg.Players,
		MCTS:    cfg.MCTS(),
		Rng:     rand.New(rand.NewSource(*seed)),
		Verbose: true,
	}, debugPredictor{inner: counting, encoded: *encoded})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to play debug game")
	}

	log.Info().
		Str("episode", ep.ID).
		Int64("seed", *seed).
		Int("moves", ep.Moves).
		Int("winner", ep.Winner).
		Int64("inferences", counting.Calls()).
		Dur("took", ep.Duration).
		Msg("game complete")
	fmt.Fprintln(os.Stderr, selfplay.RenderBoardColor(ep.Final, termenv.EnvColorProfile()))

	src := ""
	if *oracle == "onnx" {
		src = *modelPath
	}
	gameRows := ep.Rows("debug:"+*oracle, src)
	path := *outFile
	if path != "" {
		err = store.WriteGameParquet(path, gameRows)
	} else {
		path, err = store.WriteBatchParquetAtomic(*outDir, gameRows)
	}
	if err != nil {
		log.Fatal().Err(err).Msg("failed to write debug game")
	}

	fmt.Println()
	fmt.Println("═══════════════════════════════════════════════════════════════")
	fmt.Printf("  Debug game %s written to:\n", ep.ID)
	fmt.Printf("  %s\n", path)
	fmt.Println("═══════════════════════════════════════════════════════════════")
	fmt.Println()
}

// debugPredictor logs the encoded input of every position it is asked about.
type debugPredictor struct {
	inner   mcts.Predictor
	encoded bool
}

func (d debugPredictor) Predict(state *game.GameState) ([]float32, float32, error) {
	prior, value, err := d.inner.Predict(state)
	if d.encoded && err == nil {
		log.Debug().Float32("value", value).Msg("\n" + selfplay.RenderEncoded(state))
	}
	return prior, value, err
}
