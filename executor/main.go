package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/brensch/chainreaction/config"
	"github.com/brensch/chainreaction/executor/inference"
	"github.com/brensch/chainreaction/executor/selfplay"
	"github.com/brensch/chainreaction/store"
	"github.com/brensch/chainreaction/viewer"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var totalMoves atomic.Int64

type options struct {
	configPath string
	logLevel   string
	logJSON    bool
	tui        bool
	dumpConfig bool
}

// parseFlags builds the run configuration: defaults, then the YAML file named
// by -config, then any flag given explicitly on the command line.
func parseFlags(args []string) (config.Config, options, error) {
	var opts options
	fs := flag.NewFlagSet("executor", flag.ContinueOnError)
	fs.StringVar(&opts.configPath, "config", "", "YAML run configuration")
	fs.StringVar(&opts.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	fs.BoolVar(&opts.logJSON, "log-json", false, "Log JSON instead of console output")
	fs.BoolVar(&opts.tui, "tui", false, "Show a live terminal dashboard; logs go to executor.log")
	fs.BoolVar(&opts.dumpConfig, "dump-config", false, "Print the effective configuration and exit")

	rows := fs.Int("rows", 0, "Board rows")
	cols := fs.Int("cols", 0, "Board columns")
	sims := fs.Int("sims", 0, "MCTS simulations per move")
	cpuct := fs.Float64("cpuct", 0, "MCTS exploration constant")
	workers := fs.Int("workers", 0, "Number of concurrent self-play episodes")
	games := fs.Int("games", 0, "Stop after this many episodes (0 runs until interrupted)")
	outDir := fs.String("out", "", "Output directory for training parquet batches")
	maxRows := fs.Int("max-rows", 0, "Rows per parquet batch before rotating")
	oracle := fs.String("oracle", "", "Predictor: onnx, mlp or uniform")
	model := fs.String("model", "", "ONNX model path")
	sessions := fs.Int("sessions", 0, "ONNX sessions to run in parallel")
	seed := fs.Int64("seed", 0, "Base seed (0 picks one from the clock)")
	watchAddr := fs.String("watch-addr", "", "Serve the live episode viewer on this address, e.g. :8080")
	episodeLog := fs.String("episode-log", "", "Append-only log of episode ids per batch file")
	verbose := fs.Bool("verbose", false, "Render every move at debug level")

	if err := fs.Parse(args); err != nil {
		return config.Config{}, opts, err
	}

	cfg := config.Default()
	if opts.configPath != "" {
		loaded, err := config.Load(opts.configPath)
		if err != nil {
			return config.Config{}, opts, err
		}
		cfg = loaded
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "rows":
			cfg.Rows = *rows
		case "cols":
			cfg.Cols = *cols
		case "sims":
			cfg.Search.Simulations = *sims
		case "cpuct":
			cfg.Search.Cpuct = float32(*cpuct)
		case "workers":
			cfg.Run.Workers = *workers
		case "games":
			cfg.Run.Games = *games
		case "out":
			cfg.Run.OutDir = *outDir
		case "max-rows":
			cfg.Run.MaxRows = *maxRows
		case "oracle":
			cfg.Oracle.Kind = *oracle
		case "model":
			cfg.Oracle.Model = *model
		case "sessions":
			cfg.Oracle.Sessions = *sessions
		case "seed":
			cfg.Run.Seed = *seed
		case "watch-addr":
			cfg.Run.WatchAddr = *watchAddr
		case "episode-log":
			cfg.Run.EpisodeLog = *episodeLog
		}
	})
	if *verbose {
		opts.logLevel = "debug"
	}
	return cfg, opts, cfg.Validate()
}

func setupLogging(opts options) (io.Closer, error) {
	level, err := zerolog.ParseLevel(opts.logLevel)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	zerolog.SetGlobalLevel(level)
	zerolog.DurationFieldUnit = time.Millisecond

	var out io.Writer = os.Stderr
	var closer io.Closer
	if opts.tui {
		// Keep the dashboard readable.
		f, err := os.OpenFile("executor.log", os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		out, closer = f, f
	}
	if !opts.logJSON {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.TimeOnly, NoColor: opts.tui}
	}
	log.Logger = zerolog.New(out).With().Timestamp().Logger()
	return closer, nil
}

func main() {
	cfg, opts, err := parseFlags(os.Args[1:])
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if opts.dumpConfig {
		out, err := cfg.Marshal()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		os.Stdout.Write(out)
		return
	}

	logFile, err := setupLogging(opts)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if logFile != nil {
		defer logFile.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, opts); err != nil {
		log.Fatal().Err(err).Msg("self-play failed")
	}
}

func run(ctx context.Context, cfg config.Config, opts options) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	session, err := newPredictor(cfg)
	if err != nil {
		return err
	}
	defer session.Close()
	client := inference.NewCounting(session)

	modelPath := ""
	if cfg.Oracle.Kind == "onnx" {
		modelPath = cfg.Oracle.Model
	}

	var episodes *store.EpisodeLog
	if cfg.Run.EpisodeLog != "" {
		episodes, err = store.OpenEpisodeLog(cfg.Run.EpisodeLog)
		if err != nil {
			return err
		}
		defer episodes.Close()
		log.Info().Int("recorded", episodes.Count()).Str("path", cfg.Run.EpisodeLog).Msg("episode log opened")
	}

	buf := store.NewBuffer()
	consumers := selfplay.Consumers{
		selfplay.BufferConsumer{Buffer: buf, Source: "selfplay:" + cfg.Oracle.Kind, ModelPath: modelPath},
	}

	if cfg.Run.WatchAddr != "" {
		hub := viewer.NewHub(50)
		consumers = append(consumers, hub)
		srv := serveViewer(cfg, hub, client)
		defer func() {
			shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
			defer done()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	var ui *tea.Program
	if opts.tui {
		updates := make(chan episodeUpdate, 64)
		consumers = append(consumers, tuiConsumer(updates))
		ui = tea.NewProgram(newModel(updates, client), tea.WithAltScreen())
	}

	flushEvery, err := cfg.FlushInterval()
	if err != nil {
		return err
	}
	sink := newBatchSink(cfg.Run.OutDir, cfg.Run.MaxRows, episodes)
	writerDone := make(chan error, 1)
	writerStop := make(chan struct{})
	go func() {
		writerDone <- sink.loop(buf, flushEvery, writerStop)
	}()

	runCfg := selfplay.RunConfig{
		Rows:    cfg.Rows,
		Cols:    cfg.Cols,
		Players: cfg.Players,
		MCTS:    cfg.MCTS(),
		Workers: cfg.Run.Workers,
		Games:   cfg.Run.Games,
		Seed:    cfg.Run.Seed,
		Verbose: opts.logLevel == "debug",
		OnStep:  func() { totalMoves.Add(1) },
	}

	log.Info().
		Int("rows", cfg.Rows).
		Int("cols", cfg.Cols).
		Int("workers", cfg.Run.Workers).
		Int("games", cfg.Run.Games).
		Int("simulations", cfg.Search.Simulations).
		Str("oracle", cfg.Oracle.Kind).
		Str("out", cfg.Run.OutDir).
		Msg("starting self-play")

	start := time.Now()
	runDone := make(chan error, 1)
	go func() {
		err := selfplay.Run(ctx, runCfg, client, consumers)
		runDone <- err
		if ui != nil {
			ui.Send(runFinished{err: err})
		}
	}()

	var runErr error
	if ui != nil {
		if _, err := ui.Run(); err != nil {
			log.Error().Err(err).Msg("dashboard stopped")
		}
		// Quitting the dashboard stops the run.
		cancel()
		runErr = <-runDone
	} else {
		runErr = reportUntilDone(runDone, buf, client, session, start)
	}

	close(writerStop)
	writeErr := <-writerDone

	games, rows := buf.Totals()
	log.Info().
		Int64("games", games).
		Int64("rows", rows).
		Int64("moves", totalMoves.Load()).
		Int64("inferences", client.Calls()).
		Int("batches", sink.batches).
		Dur("took", time.Since(start)).
		Msg("self-play finished")

	return errors.Join(runErr, writeErr)
}

// reportUntilDone logs throughput every few seconds until the run ends.
func reportUntilDone(done <-chan error, buf *store.Buffer, client *inference.Counting, session inference.Session, start time.Time) error {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case err := <-done:
			return err
		case <-ticker.C:
			secs := time.Since(start).Seconds()
			games, _ := buf.Totals()
			ev := log.Info().
				Int64("games", games).
				Float64("moves_per_sec", float64(totalMoves.Load())/secs).
				Float64("inf_per_sec", float64(client.Calls())/secs).
				Int("pending", buf.Pending())
			if sp, ok := session.(interface{ Stats() inference.RuntimeStats }); ok {
				st := sp.Stats()
				ev = ev.Float64("run_avg_ms", st.AvgRunMs)
			}
			ev.Msg("stats")
		}
	}
}

func serveViewer(cfg config.Config, hub *viewer.Hub, client *inference.Counting) *http.Server {
	mux := http.NewServeMux()
	viewer.NewServer(hub, client, cfg.MCTS()).RegisterRoutes(mux)
	srv := &http.Server{
		Addr:              cfg.Run.WatchAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info().Str("addr", cfg.Run.WatchAddr).Msg("viewer listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("viewer server failed")
		}
	}()
	return srv
}
