package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/parquet-go/parquet-go"
)

// Batch is a published batch file.
type Batch struct {
	Path    string
	Rows    int
	GameIDs []string
}

// BatchWriter streams whole games into one parquet file. The file stays under
// <dir>/tmp until Finalize publishes it, so the output directory only ever
// holds complete batches.
type BatchWriter struct {
	dir  string
	name string

	file   *os.File
	writer *parquet.GenericWriter[TrainingRow]

	rows  int
	games []string
}

func NewBatchWriter(outDir string) (*BatchWriter, error) {
	if outDir == "" {
		return nil, fmt.Errorf("outDir is required")
	}
	dir, err := filepath.Abs(outDir)
	if err != nil {
		dir = outDir
	}
	if err := os.MkdirAll(filepath.Join(dir, "tmp"), 0o755); err != nil {
		return nil, fmt.Errorf("create tmp dir: %w", err)
	}

	b := &BatchWriter{dir: dir, name: fmt.Sprintf("batch_%d.parquet", time.Now().UnixNano())}
	b.file, err = os.OpenFile(b.tmpPath(), os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open tmp parquet: %w", err)
	}
	b.writer = parquet.NewGenericWriter[TrainingRow](b.file, writeOptions()...)
	b.writer.SetKeyValueMetadata("schema", schemaName)
	return b, nil
}

func (b *BatchWriter) tmpPath() string { return filepath.Join(b.dir, "tmp", b.name) }

// Path is where Finalize publishes the batch.
func (b *BatchWriter) Path() string { return filepath.Join(b.dir, b.name) }

func (b *BatchWriter) Rows() int  { return b.rows }
func (b *BatchWriter) Games() int { return len(b.games) }

// WriteGame appends every row of one game. Games without rows are skipped.
func (b *BatchWriter) WriteGame(gameID string, rows []TrainingRow) error {
	if b.writer == nil {
		return fmt.Errorf("batch writer is closed")
	}
	if len(rows) == 0 {
		return nil
	}
	if _, err := b.writer.Write(rows); err != nil {
		return err
	}
	b.rows += len(rows)
	b.games = append(b.games, gameID)
	return nil
}

func (b *BatchWriter) closeFile() error {
	if b.writer == nil {
		return nil
	}
	err := b.writer.Close()
	if err != nil {
		err = fmt.Errorf("close parquet writer: %w", err)
	}
	_ = b.file.Sync()
	if cerr := b.file.Close(); cerr != nil {
		err = errors.Join(err, fmt.Errorf("close parquet file: %w", cerr))
	}
	b.writer, b.file = nil, nil
	return err
}

// Abort closes the writer and removes the unpublished file.
func (b *BatchWriter) Abort() error {
	err := b.closeFile()
	if rmErr := os.Remove(b.tmpPath()); rmErr != nil && !os.IsNotExist(rmErr) {
		err = errors.Join(err, rmErr)
	}
	return err
}

// Finalize closes the parquet file and moves it out of tmp/. An empty batch
// is removed and returned with no Path.
func (b *BatchWriter) Finalize() (Batch, error) {
	if b.writer == nil {
		return Batch{}, fmt.Errorf("batch writer is closed")
	}
	if err := b.closeFile(); err != nil {
		_ = os.Remove(b.tmpPath())
		return Batch{}, err
	}
	if b.rows == 0 {
		_ = os.Remove(b.tmpPath())
		return Batch{}, nil
	}
	if err := os.Rename(b.tmpPath(), b.Path()); err != nil {
		return Batch{}, fmt.Errorf("rename parquet: %w", err)
	}
	return Batch{Path: b.Path(), Rows: b.rows, GameIDs: b.games}, nil
}
