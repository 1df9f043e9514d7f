// Command batch2train turns self-play batch files into flat training shards:
// one row per position with the encoded planes, the search policy and the
// outcome, optionally augmented with the board's mirror images.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/brensch/chainreaction/executor/convert"
	"github.com/brensch/chainreaction/store"
	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress/zstd"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// TrainingXRow is one network training example.
type TrainingXRow struct {
	GameID string `parquet:"game_id,dict"`
	Turn   int32  `parquet:"turn"`
	// Symmetry is 0 for the stored board, 1..3 for its mirror images.
	Symmetry int32 `parquet:"symmetry"`

	X []byte `parquet:"x"`

	Move   int32     `parquet:"move"`
	Policy []float32 `parquet:"policy"`
	Value  float32   `parquet:"value"`

	XC int32 `parquet:"x_c"`
	XH int32 `parquet:"x_h"`
	XW int32 `parquet:"x_w"`

	Source string `parquet:"source,dict"`
}

type options struct {
	rows, cols int
	augment    bool
}

func main() {
	inDir := flag.String("in-dir", "", "Directory containing self-play batch files")
	outDir := flag.String("out-dir", "", "Output directory for training shards")
	rows := flag.Int("rows", 0, "Only keep boards with this many rows (0 keeps all)")
	cols := flag.Int("cols", 0, "Only keep boards with this many columns (0 keeps all)")
	augment := flag.Bool("augment", false, "Also emit the three mirror images of each board")
	flag.Parse()

	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}).With().Timestamp().Logger()

	if *inDir == "" || *outDir == "" {
		fmt.Fprintln(os.Stderr, "-in-dir and -out-dir are required")
		os.Exit(2)
	}

	absIn, _ := filepath.Abs(*inDir)
	absOut, _ := filepath.Abs(*outDir)
	if absIn == absOut {
		fmt.Fprintln(os.Stderr, "out-dir must be different from in-dir")
		os.Exit(2)
	}
	if err := os.MkdirAll(absOut, 0o755); err != nil {
		log.Fatal().Err(err).Msg("create out-dir")
	}

	inputs := findBatches(absIn)
	if len(inputs) == 0 {
		log.Fatal().Str("dir", absIn).Msg("no parquet inputs found")
	}

	opts := options{rows: *rows, cols: *cols, augment: *augment}
	converted, total := 0, 0
	for _, inPath := range inputs {
		base := filepath.Base(inPath)
		outPath := filepath.Join(absOut, strings.TrimSuffix(base, filepath.Ext(base))+".train.parquet")
		n, err := convertOne(inPath, outPath, opts)
		if err != nil {
			log.Error().Err(err).Str("file", inPath).Msg("convert failed")
			continue
		}
		if n > 0 {
			converted++
			total += n
		}
	}

	if converted == 0 {
		log.Fatal().Msg("no output written (no convertible rows)")
	}
	log.Info().Int("files", converted).Int("rows", total).Str("out", absOut).Msg("training shards written")
}

// findBatches lists parquet files under dir, skipping in-progress tmp/ files.
func findBatches(dir string) []string {
	var inputs []string
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if d.Name() == "tmp" {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasSuffix(strings.ToLower(d.Name()), ".parquet") &&
			!strings.HasSuffix(d.Name(), ".train.parquet") {
			inputs = append(inputs, path)
		}
		return nil
	})
	return inputs
}

func convertOne(inPath, outPath string, opts options) (int, error) {
	inF, err := os.Open(inPath)
	if err != nil {
		return 0, err
	}
	defer inF.Close()

	reader := parquet.NewGenericReader[store.TrainingRow](inF)
	defer reader.Close()

	outTmp := outPath + ".tmp"
	_ = os.Remove(outTmp)
	outF, err := os.OpenFile(outTmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return 0, err
	}

	writer := parquet.NewGenericWriter[TrainingXRow](
		outF,
		parquet.Compression(&zstd.Codec{Level: zstd.SpeedBetterCompression}),
	)
	writer.SetKeyValueMetadata("schema", "chainreaction_training_x_row_v1")

	closed := false
	defer func() {
		if !closed {
			_ = writer.Close()
			_ = outF.Close()
			_ = os.Remove(outTmp)
		}
	}()

	buf := make([]store.TrainingRow, 256)
	outBuf := make([]TrainingXRow, 0, 2048)
	rowsWritten := 0

	flush := func() error {
		if len(outBuf) == 0 {
			return nil
		}
		if _, err := writer.Write(outBuf); err != nil {
			return err
		}
		rowsWritten += len(outBuf)
		outBuf = outBuf[:0]
		return nil
	}

	for {
		n, err := reader.Read(buf)
		for i := 0; i < n; i++ {
			row := buf[i]
			if (opts.rows > 0 && row.Rows != int32(opts.rows)) || (opts.cols > 0 && row.Cols != int32(opts.cols)) {
				continue
			}
			examples, convErr := examplesFor(row, opts.augment)
			if convErr != nil {
				return 0, fmt.Errorf("%s: %w", inPath, convErr)
			}
			outBuf = append(outBuf, examples...)
			if len(outBuf) >= 2048 {
				if err := flush(); err != nil {
					return 0, err
				}
			}
		}

		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return 0, err
		}
	}

	if err := flush(); err != nil {
		return 0, err
	}
	closed = true
	if err := writer.Close(); err != nil {
		_ = outF.Close()
		_ = os.Remove(outTmp)
		return 0, err
	}
	if err := outF.Sync(); err != nil {
		_ = outF.Close()
		_ = os.Remove(outTmp)
		return 0, err
	}
	if err := outF.Close(); err != nil {
		_ = os.Remove(outTmp)
		return 0, err
	}

	if rowsWritten == 0 {
		_ = os.Remove(outTmp)
		return 0, nil
	}
	if err := os.Rename(outTmp, outPath); err != nil {
		_ = os.Remove(outTmp)
		return 0, err
	}
	return rowsWritten, nil
}

// examplesFor re-encodes the stored board, and its mirror images when
// augment is set. Mirroring preserves every cell's capacity, so the mirrored
// positions are legal with the same outcome.
func examplesFor(row store.TrainingRow, augment bool) ([]TrainingXRow, error) {
	s, err := row.GameState()
	if err != nil {
		return nil, err
	}
	cells := s.Rows * s.Cols
	if len(row.Policy) != cells {
		return nil, fmt.Errorf("game %s turn %d: policy has %d entries, want %d", row.GameID, row.Turn, len(row.Policy), cells)
	}

	syms := []symmetry{identity}
	if augment {
		syms = allSymmetries
	}

	out := make([]TrainingXRow, 0, len(syms))
	for i, sym := range syms {
		mirrored := sym.applyState(s)

		bPtr := convert.StateToBytes(mirrored)
		x := make([]byte, len(*bPtr))
		copy(x, *bPtr)
		convert.PutBuffer(bPtr)

		move := sym.index(int(row.MoveRow), int(row.MoveCol), s.Rows, s.Cols)
		out = append(out, TrainingXRow{
			GameID:   row.GameID,
			Turn:     row.Turn,
			Symmetry: int32(i),
			X:        x,
			Move:     int32(move),
			Policy:   sym.applyPolicy(row.Policy, s.Rows, s.Cols),
			Value:    row.Value,
			XC:       int32(convert.Channels(s)),
			XH:       int32(s.Rows),
			XW:       int32(s.Cols),
			Source:   row.Source,
		})
	}
	return out, nil
}
