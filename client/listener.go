package client

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"strings"

	"github.com/quickdrop-io/quickdrop/logging"
	"github.com/quickdrop-io/quickdrop/models"
)

// Listener reads a server-sent event stream and feeds decoded file records
// into a sink. The stream carries new events only, never history; callers
// seed the sink from the files endpoint before or after connecting.
type Listener struct {
	sink   *EventSink
	onFile func(models.FileRecord)

	logger logging.Logger
}

func NewListener(sink *EventSink, onFile func(models.FileRecord), l logging.Logger) *Listener {
	return &Listener{
		sink:   sink,
		onFile: onFile,
		logger: l,
	}
}

// Listen consumes the stream until EOF, read error or ctx cancellation.
// Comment lines (keep-alives) are skipped; multi-line data fields are
// joined per the SSE framing rules.
func (l *Listener) Listen(ctx context.Context, stream io.Reader) error {
	scanner := bufio.NewScanner(stream)
	var data []string

	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		line := scanner.Text()

		if line == "" {
			if len(data) > 0 {
				l.dispatch(strings.Join(data, "\n"))
				data = data[:0]
			}
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue // keep-alive comment
		}
		if payload, ok := strings.CutPrefix(line, "data:"); ok {
			data = append(data, strings.TrimPrefix(payload, " "))
		}
	}

	if err := scanner.Err(); err != nil {
		return err
	}
	return nil
}

func (l *Listener) dispatch(payload string) {
	var record models.FileRecord
	if err := json.Unmarshal([]byte(payload), &record); err != nil {
		l.logger.Warn("dropping undecodable event", "error", err)
		return
	}

	if !l.sink.Apply(record) {
		l.logger.Debug("duplicate event ignored", "file_id", record.FileId)
		return
	}

	if l.onFile != nil {
		l.onFile(record)
	}
}
