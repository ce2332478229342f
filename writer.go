package zipentry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/meigma/zipentry/internal/file"
	"github.com/meigma/zipentry/internal/sizing"
	"github.com/meigma/zipentry/internal/ziptype"
	"github.com/meigma/zipentry/stream"
)

var errWriterClosed = errors.New("zip: writer closed")

// Writer writes entries, then the central directory, to an output stream.
//
// Entries are written strictly in sequence: every entry's offset depends on
// the exact length of the ones before it. A Writer is not safe for
// concurrent use.
type Writer struct {
	out        stream.Stream
	cfg        writerConfig
	compressor *file.CompressPool
	buf        []byte

	// entries holds a snapshot of every written entry for the central directory.
	entries []*Entry
	closed  bool
}

// NewWriter creates a Writer on w. Outputs that can seek (files, stream.Memory)
// get headers patched in place; anything else gets data descriptors.
// Use stream.Forward to force descriptor mode on a seekable output.
func NewWriter(w io.Writer, opts ...WriterOption) *Writer {
	cfg := defaultWriterConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Writer{
		out:        stream.FromWriter(w),
		cfg:        cfg,
		compressor: file.NewCompressPool(cfg.level),
		buf:        make([]byte, cfg.bufferSize),
	}
}

// log returns the logger, falling back to a discard logger if nil.
func (w *Writer) log() *slog.Logger {
	if w.cfg.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return w.cfg.logger
}

// reportProgress sends a progress event if a callback is configured.
func (w *Writer) reportProgress(stage ProgressStage, name string, done, total uint64) {
	if w.cfg.progress == nil {
		return
	}
	w.cfg.progress(ProgressEvent{
		Stage:      stage,
		Name:       name,
		BytesDone:  done,
		BytesTotal: total,
	})
}

// WriteEntry writes e at the current output position and updates e with the
// final header values: offset, CRC, sizes, flags and ZIP64 decision.
//
// An entry read from another archive is copied byte for byte unless Dirty is
// set, in which case its header is rebuilt around the stored payload. Entries
// whose source header used ZIP64 are rebuilt too when the policy is
// Zip64Never, so no ZIP64 fields reach the output. Either
// way the entry belongs to this output afterwards and its Archive is cleared.
//
// The context is checked between buffer chunks. When a write fails on a
// seekable output, the output is truncated back to where the entry began.
func (w *Writer) WriteEntry(ctx context.Context, e *Entry) error {
	if w.closed {
		return errWriterClosed
	}
	start := w.out.Position()

	var err error
	if e.Archive != nil && !e.Dirty && !(e.InputUsedZip64 && w.cfg.zip64 == Zip64Never) {
		err = w.copyThrough(ctx, e)
	} else {
		s := newSession(w, e)
		err = s.run(ctx)
	}
	if err != nil {
		w.abort(start)
		return entryErr("write", e, start, err)
	}
	w.entries = append(w.entries, e.Clone())
	return nil
}

// abort drops a partially written entry when the output allows it.
func (w *Writer) abort(start int64) {
	if !w.out.CanSeek() {
		return
	}
	if _, err := w.out.Seek(start, io.SeekStart); err != nil {
		w.log().Warn("failed to rewind after write error", "offset", start, "error", err)
		return
	}
	if err := w.out.SetLength(start); err != nil {
		w.log().Warn("failed to truncate after write error", "offset", start, "error", err)
	}
}

// copyThrough copies an unmodified entry's header, payload and trailer verbatim.
func (w *Writer) copyThrough(ctx context.Context, e *Entry) error {
	offset := uint64(w.out.Position()) //nolint:gosec // positions are non-negative
	requires := sizing.Needs64(e.CompressedSize) || sizing.Needs64(e.UncompressedSize) || sizing.Needs64(offset)
	if requires && w.cfg.zip64 == Zip64Never {
		return fmt.Errorf("%w: entry needs zip64", ErrCapacity)
	}

	section := io.NewSectionReader(e.Archive, int64(e.LocalHeaderOffset), e.TotalLength) //nolint:gosec // offsets come from int64 positions
	n, err := file.CopyWithContext(ctx, w.out, section, w.buf, func(done uint64) {
		w.reportProgress(StageCopying, e.Name, done, uint64(e.TotalLength)) //nolint:gosec // non-negative
	})
	if err != nil {
		return err
	}
	if n != uint64(e.TotalLength) { //nolint:gosec // non-negative
		return fmt.Errorf("%w: source entry truncated after %d of %d bytes", ErrFormat, n, e.TotalLength)
	}

	e.LocalHeaderOffset = offset
	e.RequiresZip64 = TristateOf(requires)
	e.OutputUsedZip64 = TristateOf(e.InputUsedZip64 || requires)
	e.Archive = nil
	w.log().Debug("entry copied",
		"name", e.Name,
		"offset", offset,
		"size", e.TotalLength)
	return nil
}

// Close writes the central directory and end records. It does not close
// the underlying writer.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	if err := w.writeDirectory(); err != nil {
		return fmt.Errorf("write central directory: %w", err)
	}
	return nil
}

// TristateOf converts b to a known Tristate.
func TristateOf(b bool) Tristate {
	return ziptype.TristateOf(b)
}
