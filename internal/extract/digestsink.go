package extract

import (
	_ "crypto/sha256" // register the canonical algorithm

	"github.com/opencontainers/go-digest"
)

// DigestSink discards content while recording a digest per file entry.
// It is used to verify archives without writing anything to disk.
type DigestSink struct {
	algorithm digest.Algorithm
	digests   map[string]digest.Digest
}

// NewDigestSink creates a DigestSink. An unavailable algorithm falls back to
// digest.Canonical.
func NewDigestSink(alg digest.Algorithm) *DigestSink {
	if !alg.Available() {
		alg = digest.Canonical
	}
	return &DigestSink{
		algorithm: alg,
		digests:   make(map[string]digest.Digest),
	}
}

// ShouldProcess always returns true.
func (*DigestSink) ShouldProcess(*Entry) bool { return true }

// Directory is a no-op.
func (*DigestSink) Directory(*Entry) error { return nil }

// Writer returns a Committer that hashes content and records the digest on
// Commit.
func (s *DigestSink) Writer(entry *Entry) (Committer, error) {
	return &digestCommitter{
		name:     entry.Name,
		digester: s.algorithm.Digester(),
		sink:     s,
	}, nil
}

// Digest returns the digest recorded for name.
func (s *DigestSink) Digest(name string) (digest.Digest, bool) {
	d, ok := s.digests[name]
	return d, ok
}

type digestCommitter struct {
	name     string
	digester digest.Digester
	sink     *DigestSink
}

func (c *digestCommitter) Write(p []byte) (int, error) {
	return c.digester.Hash().Write(p)
}

func (c *digestCommitter) Commit() error {
	c.sink.digests[c.name] = c.digester.Digest()
	return nil
}

func (*digestCommitter) Discard() error { return nil }
