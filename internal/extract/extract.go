package extract

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/meigma/zipentry/internal/file"
)

// Processor copies entries from an Opener into a Sink.
type Processor struct {
	opener   Opener
	password string
	buf      []byte
	logger   *slog.Logger
}

// ProcessorOption configures a Processor.
type ProcessorOption func(*Processor)

// WithPassword sets the password used for encrypted entries.
func WithPassword(password string) ProcessorOption {
	return func(p *Processor) {
		p.password = password
	}
}

// WithBufferSize sets the copy buffer size.
func WithBufferSize(n int) ProcessorOption {
	return func(p *Processor) {
		if n > 0 {
			p.buf = make([]byte, n)
		}
	}
}

// WithProcessorLogger sets the logger for extraction.
// If not set, logging is disabled.
func WithProcessorLogger(logger *slog.Logger) ProcessorOption {
	return func(p *Processor) {
		p.logger = logger
	}
}

// NewProcessor creates a Processor reading entry content from opener.
func NewProcessor(opener Opener, opts ...ProcessorOption) *Processor {
	p := &Processor{opener: opener}
	for _, opt := range opts {
		opt(p)
	}
	if p.buf == nil {
		p.buf = make([]byte, file.DefaultBufferSize)
	}
	return p
}

// log returns the logger, falling back to a discard logger if nil.
func (p *Processor) log() *slog.Logger {
	if p.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return p.logger
}

// Process extracts entries into sink in order. Processing stops on the
// first error; the failing entry is discarded from the sink.
func (p *Processor) Process(ctx context.Context, entries []*Entry, sink Sink) (ProcessStats, error) {
	var stats ProcessStats
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		if !sink.ShouldProcess(e) {
			stats.Skipped++
			continue
		}
		if e.IsDir() {
			if err := sink.Directory(e); err != nil {
				return stats, fmt.Errorf("extract %s: %w", e.Name, err)
			}
			stats.Directories++
			continue
		}
		n, err := p.processFile(ctx, e, sink)
		if err != nil {
			return stats, fmt.Errorf("extract %s: %w", e.Name, err)
		}
		stats.Files++
		stats.TotalBytes += n
	}
	p.log().Debug("extraction finished",
		"files", stats.Files,
		"directories", stats.Directories,
		"skipped", stats.Skipped,
		"bytes", stats.TotalBytes)
	return stats, nil
}

func (p *Processor) processFile(ctx context.Context, e *Entry, sink Sink) (uint64, error) {
	rc, err := p.opener.Open(e, p.password)
	if err != nil {
		return 0, err
	}
	defer rc.Close()

	w, err := sink.Writer(e)
	if err != nil {
		return 0, err
	}
	n, err := file.CopyWithContext(ctx, w, rc, p.buf, nil)
	if err != nil {
		_ = w.Discard() //nolint:errcheck // the copy error is more useful
		return 0, err
	}
	if err := w.Commit(); err != nil {
		return 0, err
	}
	return n, nil
}
