package store

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// EpisodeLog records which episodes have landed in which batch file.
// It is backed by an append-only file with one "<episode_id> <batch_file>"
// line per episode. Existing lines are loaded on open; a partial final line
// left by a crash is truncated away.
type EpisodeLog struct {
	mu      sync.RWMutex
	path    string
	file    *os.File
	written map[string]string
}

func OpenEpisodeLog(path string) (*EpisodeLog, error) {
	if path == "" {
		return nil, fmt.Errorf("log path is required")
	}

	written := make(map[string]string)
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		// Drop a torn final line so the next append starts on a fresh line.
		complete := data[:bytes.LastIndexByte(data, '\n')+1]
		if len(complete) < len(data) {
			if err := os.Truncate(path, int64(len(complete))); err != nil {
				return nil, fmt.Errorf("truncate torn log line: %w", err)
			}
		}
		scanner := bufio.NewScanner(bytes.NewReader(complete))
		for scanner.Scan() {
			fields := strings.Fields(scanner.Text())
			if len(fields) != 2 {
				continue
			}
			written[fields[0]] = fields[1]
		}
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("read log: %w", err)
		}
	case !errors.Is(err, fs.ErrNotExist):
		return nil, fmt.Errorf("read log: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	return &EpisodeLog{
		path:    path,
		file:    file,
		written: written,
	}, nil
}

func (l *EpisodeLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// Batch returns the batch file holding the episode.
func (l *EpisodeLog) Batch(episodeID string) (string, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	b, ok := l.written[episodeID]
	return b, ok
}

func (l *EpisodeLog) Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.written)
}

// AddMany records episodes written to batchPath and syncs once.
// Episodes already present are ignored.
func (l *EpisodeLog) AddMany(batchPath string, episodeIDs []string) error {
	if batchPath == "" || strings.ContainsAny(batchPath, " \n") {
		return fmt.Errorf("invalid batch path %q", batchPath)
	}
	batch := filepath.Base(batchPath)

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return fmt.Errorf("log file is closed")
	}

	toAdd := 0
	for _, id := range episodeIDs {
		if id == "" {
			continue
		}
		if _, ok := l.written[id]; ok {
			continue
		}
		if _, err := l.file.WriteString(id + " " + batch + "\n"); err != nil {
			return fmt.Errorf("append log: %w", err)
		}
		l.written[id] = batch
		toAdd++
	}

	if toAdd == 0 {
		return nil
	}
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("sync log: %w", err)
	}
	return nil
}
