package store

import "sync"

// GameRows are the rows of one finished game.
type GameRows struct {
	GameID string
	Rows   []TrainingRow
}

// Buffer is an append-only experience buffer shared by self-play workers.
// Games are added whole and drained whole.
type Buffer struct {
	mu      sync.Mutex
	pending []GameRows

	totalGames int64
	totalRows  int64
}

func NewBuffer() *Buffer {
	return &Buffer{}
}

// AddGame appends one finished game.
func (b *Buffer) AddGame(gameID string, rows []TrainingRow) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending = append(b.pending, GameRows{GameID: gameID, Rows: rows})
	b.totalGames++
	b.totalRows += int64(len(rows))
}

// Drain removes and returns every pending game, oldest first.
func (b *Buffer) Drain() []GameRows {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.pending
	b.pending = nil
	return out
}

// Requeue puts games back ahead of anything added since they were drained.
// Totals are unchanged.
func (b *Buffer) Requeue(games []GameRows) {
	if len(games) == 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending = append(append([]GameRows(nil), games...), b.pending...)
}

// Pending reports the number of games waiting to be drained.
func (b *Buffer) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Totals reports games and rows added since creation.
func (b *Buffer) Totals() (games, rows int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.totalGames, b.totalRows
}
