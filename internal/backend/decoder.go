package backend

import (
	"bufio"
	"context"
	"errors"
	"io"
	"strings"

	"go.uber.org/zap"

	"github.com/capitalize-ai/assistant-client/internal/model"
	"github.com/capitalize-ai/assistant-client/pkg/logger"
	"github.com/capitalize-ai/assistant-client/pkg/metrics"
)

const dataPrefix = "data:"

// Decoder turns the raw byte stream into typed stream events.
//
// Events are blank-line delimited blocks whose payload is a single
// `data: <json>` line. A chunk boundary may fall anywhere, including inside
// the delimiter; partial lines are buffered until complete. Malformed
// blocks are skipped with a warning so a single bad frame cannot abort an
// otherwise good answer.
type Decoder struct {
	reader   *bufio.Reader
	logger   *logger.Logger
	doneSeen bool
}

// NewDecoder wraps the transport's raw stream.
func NewDecoder(r io.Reader, log *logger.Logger) *Decoder {
	return &Decoder{
		reader: bufio.NewReader(r),
		logger: log,
	}
}

// Next returns the next decoded event, in exactly the order the framing
// delimiters complete.
//
// When the stream ends, Next returns ErrIncompleteStream if no done event
// was observed, or io.EOF after one was. Read failures are classified:
// context cancellation passes through untouched, anything else is a
// transport fault.
func (d *Decoder) Next() (model.StreamEvent, error) {
	var payload string
	havePayload := false

	for {
		line, err := d.reader.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				if d.doneSeen {
					return model.StreamEvent{}, io.EOF
				}
				return model.StreamEvent{}, ErrIncompleteStream
			}
			if errors.Is(err, context.Canceled) {
				return model.StreamEvent{}, context.Canceled
			}
			return model.StreamEvent{}, &TransportError{Op: "read", Err: err}
		}

		line = strings.TrimRight(line, "\r\n")

		if line == "" {
			// Block delimiter. Blocks with no payload are ignored.
			if !havePayload {
				continue
			}

			ev, perr := model.ParseStreamEvent([]byte(payload))
			if perr != nil {
				d.logger.Warn("skipping malformed stream frame", zap.Error(perr))
				metrics.DecodeWarnings.Inc()
				payload = ""
				havePayload = false
				continue
			}

			if ev.Type == model.EventTypeDone {
				d.doneSeen = true
			}
			return ev, nil
		}

		if strings.HasPrefix(line, dataPrefix) {
			payload = strings.TrimSpace(line[len(dataPrefix):])
			havePayload = true
		}
		// Lines without the data marker (comments, event names) carry
		// nothing we act on.
	}
}
