package store

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/brensch/chainreaction/game"
	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress/zstd"
)

const schemaName = "chainreaction_training_row_v1"

// TrainingRow is one decision point of a self-play episode.
//
// The board is stored raw (Owners/Orbs, row-major, owner -1 for empty cells)
// so trainers can featurize it however they like. State carries the encoding
// the oracle saw: little endian float32 planes [players, rows, cols] with the
// player to move first.
//
// Prior is the oracle's raw move distribution, Policy the visit-derived
// search target. Value is the final outcome from Player's perspective.
type TrainingRow struct {
	GameID  string `parquet:"game_id,dict"`
	Turn    int32  `parquet:"turn"`
	Player  int32  `parquet:"player"`
	Players int32  `parquet:"players"`
	Rows    int32  `parquet:"rows"`
	Cols    int32  `parquet:"cols"`

	Owners []int32 `parquet:"owners"`
	Orbs   []int32 `parquet:"orbs"`
	State  []byte  `parquet:"state"`

	MoveRow int32     `parquet:"move_row"`
	MoveCol int32     `parquet:"move_col"`
	Prior   []float32 `parquet:"prior"`
	Policy  []float32 `parquet:"policy"`
	Value   float32   `parquet:"value"`

	Source string `parquet:"source,dict"`

	// SearchJSON summarises the root edges at decision time:
	// JSON array of {move, n, q, p, pi}.
	SearchJSON []byte `parquet:"search_json,optional,zstd"`

	// ModelPath is the oracle that generated this game, if it came from a file.
	ModelPath string `parquet:"model_path,dict,optional"`
}

// BoardColumns flattens a state into the Owners/Orbs columns.
func BoardColumns(s *game.GameState) (owners, orbs []int32) {
	owners = make([]int32, len(s.Cells))
	orbs = make([]int32, len(s.Cells))
	for i, c := range s.Cells {
		owners[i] = game.NoPlayer
		if c.Occupied {
			owners[i] = int32(c.Owner)
			orbs[i] = int32(c.Orbs)
		}
	}
	return owners, orbs
}

// GameState rebuilds the board stored in the row. Winner and the move
// history are not stored; the rebuilt state has no recorded winner.
func (r TrainingRow) GameState() (*game.GameState, error) {
	// Checked before allocating so a corrupt shape cannot size the grid.
	if cells := int64(r.Rows) * int64(r.Cols); int64(len(r.Owners)) != cells || int64(len(r.Orbs)) != cells {
		return nil, fmt.Errorf("row %s/%d: board columns have %d/%d cells, want %dx%d",
			r.GameID, r.Turn, len(r.Owners), len(r.Orbs), r.Rows, r.Cols)
	}
	if r.Players < 2 || int64(r.Players) > int64(len(r.Owners)) {
		return nil, fmt.Errorf("row %s/%d: %d players on %d cells", r.GameID, r.Turn, r.Players, len(r.Owners))
	}
	s, err := game.NewGameState(int(r.Rows), int(r.Cols), int(r.Players))
	if err != nil {
		return nil, err
	}
	for i := range s.Cells {
		owner := int(r.Owners[i])
		if owner == game.NoPlayer {
			continue
		}
		if owner < 0 || owner >= s.NumPlayers {
			return nil, fmt.Errorf("row %s/%d: cell %d owner %d out of range", r.GameID, r.Turn, i, owner)
		}
		s.Cells[i].Occupied = true
		s.Cells[i].Owner = owner
		s.Cells[i].Orbs = int(r.Orbs[i])
	}
	s.TotalMoves = int(r.Turn)
	s.CurrentPlayer = int(r.Player)
	s.Recount()
	return s, nil
}

func writeOptions() []parquet.WriterOption {
	return []parquet.WriterOption{
		parquet.Compression(&zstd.Codec{Level: zstd.SpeedBetterCompression}),
		// Raw feature blobs gain nothing from page bounds.
		parquet.SkipPageBounds("state"),
	}
}

// WriteGameParquet writes rows to outPath through a temp file and rename.
func WriteGameParquet(outPath string, rows []TrainingRow) error {
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	tmpPath := outPath + ".tmp"
	_ = os.Remove(tmpPath)

	opts := append(writeOptions(), parquet.KeyValueMetadata("schema", schemaName))
	if err := parquet.WriteFile(tmpPath, rows, opts...); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("write parquet: %w", err)
	}

	if err := os.Rename(tmpPath, outPath); err != nil {
		return fmt.Errorf("rename parquet: %w", err)
	}
	return nil
}

// WriteBatchParquetAtomic writes a Parquet file into outDir/tmp and then
// atomically moves it into outDir, so readers never observe partial files.
// The returned path is the final parquet file path.
func WriteBatchParquetAtomic(outDir string, rows []TrainingRow) (string, error) {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}

	tmpDir := filepath.Join(outDir, "tmp")
	if err := os.MkdirAll(tmpDir, 0o755); err != nil {
		return "", fmt.Errorf("create tmp dir: %w", err)
	}

	name := fmt.Sprintf("batch_%d.parquet", time.Now().UnixNano())
	finalPath := filepath.Join(outDir, name)
	tmpPath := filepath.Join(tmpDir, name+".tmp")
	_ = os.Remove(tmpPath)

	opts := append(writeOptions(), parquet.KeyValueMetadata("schema", schemaName))
	if err := parquet.WriteFile(tmpPath, rows, opts...); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("write parquet: %w", err)
	}

	if err := os.Rename(tmpPath, finalPath); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("rename parquet: %w", err)
	}

	return finalPath, nil
}

// ReadRows loads every row of a training file.
func ReadRows(path string) ([]TrainingRow, error) {
	rows, err := parquet.ReadFile[TrainingRow](path)
	if err != nil {
		return nil, fmt.Errorf("read parquet %s: %w", path, err)
	}
	return rows, nil
}

// ListBatches returns the finished batch files in outDir, oldest first.
func ListBatches(outDir string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(outDir, "batch_*.parquet"))
	if err != nil {
		return nil, err
	}
	return matches, nil
}
