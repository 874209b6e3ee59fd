package backend

import (
	"strings"

	"github.com/capitalize-ai/assistant-client/internal/model"
)

// Accumulator folds an ordered event sequence into the final message state:
// display text plus the source list. The fold is pure and order dependent;
// replaying the same sequence always yields identical results.
type Accumulator struct {
	text     strings.Builder
	sources  []model.Source
	done     bool
	streamed int
}

// NewAccumulator returns an empty accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{}
}

// Apply folds one event. Token content is appended in arrival order; a
// metadata event replaces the source list wholesale, so the last one wins.
// An error event halts accumulation and is returned as a *StreamError.
// Events after a terminal one are ignored.
func (a *Accumulator) Apply(ev model.StreamEvent) error {
	if a.done {
		return nil
	}

	switch ev.Type {
	case model.EventTypeToken:
		a.text.WriteString(ev.Content)
		a.streamed++
	case model.EventTypeMetadata:
		a.sources = append([]model.Source(nil), ev.Sources...)
	case model.EventTypeError:
		a.done = true
		return &StreamError{Message: ev.Message}
	case model.EventTypeDone:
		a.done = true
	}
	return nil
}

// Text returns the cumulative text so far. Safe to call after every event
// for incremental rendering; the value only ever grows until a terminal
// event.
func (a *Accumulator) Text() string {
	return a.text.String()
}

// Sources returns the current source list.
func (a *Accumulator) Sources() []model.Source {
	return a.sources
}

// Done reports whether a terminal event has been folded.
func (a *Accumulator) Done() bool {
	return a.done
}

// TokenCount returns the number of token events folded so far.
func (a *Accumulator) TokenCount() int {
	return a.streamed
}
