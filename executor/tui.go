package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/brensch/chainreaction/executor/inference"
	"github.com/brensch/chainreaction/executor/selfplay"
	tea "github.com/charmbracelet/bubbletea"
)

type episodeUpdate struct {
	ID     string
	Winner int
	Moves  int
	Took   time.Duration
}

type runFinished struct{ err error }

type tickMsg time.Time

// tuiConsumer forwards episode summaries to the dashboard without blocking
// workers; updates are dropped while the dashboard is behind.
func tuiConsumer(updates chan<- episodeUpdate) selfplay.Consumer {
	return selfplay.ConsumerFunc(func(ep *selfplay.Episode) error {
		select {
		case updates <- episodeUpdate{ID: ep.ID, Winner: ep.Winner, Moves: ep.Moves, Took: ep.Duration}:
		default:
		}
		return nil
	})
}

type model struct {
	updates <-chan episodeUpdate
	client  *inference.Counting

	gamesPlayed int
	wins        [2]int
	rows        int
	moves       int64
	inferences  int64
	startTime   time.Time
	recentGames []string
	done        bool
	err         error
}

func newModel(updates <-chan episodeUpdate, client *inference.Counting) model {
	return model{
		updates:   updates,
		client:    client,
		startTime: time.Now(),
	}
}

func tickCmd() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func waitForUpdate(updates <-chan episodeUpdate) tea.Cmd {
	return func() tea.Msg {
		return <-updates
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(waitForUpdate(m.updates), tickCmd())
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "q" || msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
	case tickMsg:
		m.moves = totalMoves.Load()
		if m.client != nil {
			m.inferences = m.client.Calls()
		}
		return m, tickCmd()
	case episodeUpdate:
		m.gamesPlayed++
		m.rows += msg.Moves
		if msg.Winner >= 0 && msg.Winner < len(m.wins) {
			m.wins[msg.Winner]++
		}
		id := msg.ID
		if len(id) > 8 {
			id = id[:8]
		}
		line := fmt.Sprintf("%s  winner %d  moves %3d  %s", id, msg.Winner, msg.Moves, msg.Took.Round(time.Millisecond))
		m.recentGames = append([]string{line}, m.recentGames...)
		if len(m.recentGames) > 10 {
			m.recentGames = m.recentGames[:10]
		}
		return m, waitForUpdate(m.updates)
	case runFinished:
		m.done = true
		m.err = msg.err
		return m, tea.Quit
	}
	return m, nil
}

func (m model) View() string {
	duration := time.Since(m.startTime)
	rate := func(n float64) float64 {
		if duration < time.Second {
			return 0
		}
		return n / duration.Seconds()
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Games Played:     %d  (p0 %d / p1 %d)\n", m.gamesPlayed, m.wins[0], m.wins[1])
	fmt.Fprintf(&b, "Training Rows:    %d\n", m.rows)
	fmt.Fprintf(&b, "Total Moves:      %d\n", m.moves)
	fmt.Fprintf(&b, "Total Inferences: %d\n", m.inferences)
	fmt.Fprintf(&b, "Duration:         %s\n", duration.Round(time.Second))
	fmt.Fprintf(&b, "Games/Sec:        %.2f\n", rate(float64(m.gamesPlayed)))
	fmt.Fprintf(&b, "Moves/Sec:        %.2f\n", rate(float64(m.moves)))
	fmt.Fprintf(&b, "Inferences/Sec:   %.2f\n\n", rate(float64(m.inferences)))

	b.WriteString("Recent Games:\n")
	for _, g := range m.recentGames {
		b.WriteString(g + "\n")
	}

	if m.done {
		if m.err != nil {
			fmt.Fprintf(&b, "\nRun failed: %v\n", m.err)
		} else {
			b.WriteString("\nRun complete.\n")
		}
	} else {
		b.WriteString("\nPress q to quit.\n")
	}
	return b.String()
}
