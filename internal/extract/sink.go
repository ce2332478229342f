// Package extract writes entry content to destinations such as the
// filesystem, committing each file only after its content has been fully
// read and verified.
package extract

import (
	"io"

	"github.com/meigma/zipentry/internal/ziptype"
)

// Entry is an alias for ziptype.Entry.
type Entry = ziptype.Entry

// Sink receives verified entry content.
//
// Implementations determine where content is written (filesystem, discard
// with digests, etc.) and can filter which entries to process.
type Sink interface {
	// ShouldProcess returns false if this entry should be skipped.
	ShouldProcess(entry *Entry) bool

	// Directory materializes a directory entry.
	Directory(entry *Entry) error

	// Writer returns a writer for the entry's content.
	// The returned Committer must have Commit() called once the content
	// has been read to EOF without error, or Discard() called otherwise.
	Writer(entry *Entry) (Committer, error)
}

// Committer is a writer that can be committed or discarded.
//
// Implementations should stage writes until Commit is called. A file-based
// implementation writes to a temp file and renames it on Commit, or deletes
// it on Discard.
type Committer interface {
	io.Writer

	// Commit finalizes the write, making content available.
	Commit() error

	// Discard aborts the write and cleans up any temporary resources.
	Discard() error
}

// Opener returns the decrypted, decompressed and CRC-checked content of an
// entry. The reader reports integrity failures no later than EOF.
type Opener interface {
	Open(entry *Entry, password string) (io.ReadCloser, error)
}
