package selfplay

import (
	"errors"

	"github.com/brensch/chainreaction/store"
)

// Consumer receives each completed episode exactly once. Implementations
// must be safe for concurrent use by workers.
type Consumer interface {
	AddEpisode(ep *Episode) error
}

// BufferConsumer converts episodes to training rows and appends them to a
// store.Buffer.
type BufferConsumer struct {
	Buffer    *store.Buffer
	Source    string
	ModelPath string
}

func (c BufferConsumer) AddEpisode(ep *Episode) error {
	c.Buffer.AddGame(ep.ID, ep.Rows(c.Source, c.ModelPath))
	return nil
}

// Consumers fans an episode out to every consumer. All consumers are called
// even if one fails; the errors are joined.
type Consumers []Consumer

func (cs Consumers) AddEpisode(ep *Episode) error {
	var errs []error
	for _, c := range cs {
		if c == nil {
			continue
		}
		if err := c.AddEpisode(ep); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ConsumerFunc adapts a function to Consumer.
type ConsumerFunc func(ep *Episode) error

func (f ConsumerFunc) AddEpisode(ep *Episode) error { return f(ep) }
