// Package http reads archives over HTTP range requests.
//
// A Source satisfies zipentry.Source. Reads are served from aligned blocks
// fetched with one range request each, so the many small header reads a
// Reader issues cost a handful of round trips.
package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	nethttp "net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
)

const (
	// DefaultBlockSize is the size of each range request.
	DefaultBlockSize = 256 << 10

	// DefaultMaxBlocks bounds the number of blocks kept in memory.
	DefaultMaxBlocks = 16
)

// ErrRangeUnsupported is returned when the server ignores Range headers.
var ErrRangeUnsupported = errors.New("range requests not supported")

// Source implements random access reads via HTTP range requests.
type Source struct {
	ctx          context.Context
	url          string
	client       *nethttp.Client
	headers      nethttp.Header
	logger       *slog.Logger
	size         int64
	etag         string
	lastModified string

	blockSize int64
	maxBlocks int

	mu     sync.Mutex
	blocks map[int64][]byte
	lru    []int64 // least recently used first

	requests atomic.Int64
}

// Option configures a Source.
type Option func(*Source)

// WithClient sets the HTTP client used for requests.
func WithClient(client *nethttp.Client) Option {
	return func(s *Source) {
		s.client = client
	}
}

// WithHeader sets a single header on each request.
func WithHeader(key, value string) Option {
	return func(s *Source) {
		if s.headers == nil {
			s.headers = make(nethttp.Header)
		}
		s.headers.Set(key, value)
	}
}

// WithBlockSize sets the size of each range request.
func WithBlockSize(n int64) Option {
	return func(s *Source) {
		if n > 0 {
			s.blockSize = n
		}
	}
}

// WithMaxBlocks sets how many fetched blocks are cached.
func WithMaxBlocks(n int) Option {
	return func(s *Source) {
		if n > 0 {
			s.maxBlocks = n
		}
	}
}

// WithLogger sets the logger for request tracing.
// If not set, logging is disabled.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Source) {
		s.logger = logger
	}
}

// NewSource creates a Source for url. It probes the remote to determine the
// content size and fails with ErrRangeUnsupported if ranges are ignored.
//
// ctx bounds every request the Source makes, including later reads.
func NewSource(ctx context.Context, url string, opts ...Option) (*Source, error) {
	s := &Source{
		ctx:       ctx,
		url:       url,
		client:    nethttp.DefaultClient,
		blockSize: DefaultBlockSize,
		maxBlocks: DefaultMaxBlocks,
		blocks:    make(map[int64][]byte),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.client == nil {
		s.client = nethttp.DefaultClient
	}
	if err := s.fetchMetadata(); err != nil {
		return nil, err
	}
	s.log().Debug("remote archive opened", "url", url, "size", s.size)
	return s, nil
}

func (s *Source) log() *slog.Logger {
	if s.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return s.logger
}

// Size returns the total size of the remote content.
func (s *Source) Size() int64 {
	return s.size
}

// Requests returns the number of range requests issued so far.
func (s *Source) Requests() int64 {
	return s.requests.Load()
}

// ReadAt reads len(p) bytes at off, fetching uncached blocks as needed.
func (s *Source) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("read at %d: negative offset", off)
	}
	if off >= s.size {
		return 0, io.EOF
	}
	var n int
	for n < len(p) && off < s.size {
		idx := off / s.blockSize
		block, err := s.block(idx)
		if err != nil {
			return n, err
		}
		c := copy(p[n:], block[off-idx*s.blockSize:])
		n += c
		off += int64(c)
	}
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (s *Source) block(idx int64) ([]byte, error) {
	s.mu.Lock()
	if b, ok := s.blocks[idx]; ok {
		s.touch(idx)
		s.mu.Unlock()
		return b, nil
	}
	s.mu.Unlock()

	b, err := s.fetch(idx)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.blocks[idx]; !ok {
		if len(s.lru) >= s.maxBlocks {
			delete(s.blocks, s.lru[0])
			s.lru = s.lru[1:]
		}
		s.blocks[idx] = b
		s.lru = append(s.lru, idx)
	}
	return b, nil
}

// touch moves idx to the most recently used position. Callers hold mu.
func (s *Source) touch(idx int64) {
	for i, v := range s.lru {
		if v == idx {
			s.lru = append(append(s.lru[:i:i], s.lru[i+1:]...), idx)
			return
		}
	}
}

func (s *Source) fetch(idx int64) ([]byte, error) {
	start := idx * s.blockSize
	end := min(start+s.blockSize, s.size) - 1

	req, err := s.newRequest(nethttp.MethodGet)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", start, end))

	s.requests.Add(1)
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body) //nolint:errcheck // draining for connection reuse
		_ = resp.Body.Close()                 //nolint:errcheck // body fully read
	}()

	switch resp.StatusCode {
	case nethttp.StatusPartialContent:
	case nethttp.StatusRequestedRangeNotSatisfiable:
		return nil, io.ErrUnexpectedEOF
	case nethttp.StatusOK:
		return nil, ErrRangeUnsupported
	case nethttp.StatusPreconditionFailed:
		return nil, errors.New("remote content changed")
	default:
		return nil, fmt.Errorf("range request failed: %s", resp.Status)
	}

	b := make([]byte, end-start+1)
	if _, err := io.ReadFull(resp.Body, b); err != nil {
		return nil, fmt.Errorf("read range %d-%d: %w", start, end, err)
	}
	s.log().Debug("range fetched", "start", start, "end", end)
	return b, nil
}

func (s *Source) fetchMetadata() error {
	headSize := int64(-1)
	if resp, err := s.doHead(); err == nil {
		headSize = resp.ContentLength
		s.etag = resp.Header.Get("ETag")
		s.lastModified = resp.Header.Get("Last-Modified")
		_ = resp.Body.Close() //nolint:errcheck // HEAD has no body
	}

	size, err := s.rangeProbe()
	if err != nil {
		return err
	}
	if headSize > 0 && headSize != size {
		return fmt.Errorf("content size mismatch: head=%d range=%d", headSize, size)
	}
	s.size = size
	return nil
}

func (s *Source) rangeProbe() (int64, error) {
	req, err := s.newRequest(nethttp.MethodGet)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Range", "bytes=0-0")

	s.requests.Add(1)
	resp, err := s.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body) //nolint:errcheck // draining for connection reuse
		_ = resp.Body.Close()                 //nolint:errcheck // body fully read
	}()

	switch resp.StatusCode {
	case nethttp.StatusPartialContent:
	case nethttp.StatusOK:
		return 0, ErrRangeUnsupported
	default:
		return 0, fmt.Errorf("range probe failed: %s", resp.Status)
	}
	if s.etag == "" {
		s.etag = resp.Header.Get("ETag")
	}
	if s.lastModified == "" {
		s.lastModified = resp.Header.Get("Last-Modified")
	}

	crange := resp.Header.Get("Content-Range")
	if crange == "" {
		return 0, errors.New("range probe missing Content-Range")
	}
	return parseContentRange(crange)
}

func (s *Source) doHead() (*nethttp.Response, error) {
	req, err := s.newRequest(nethttp.MethodHead)
	if err != nil {
		return nil, err
	}
	return s.client.Do(req)
}

func (s *Source) newRequest(method string) (*nethttp.Request, error) {
	req, err := nethttp.NewRequestWithContext(s.ctx, method, s.url, nil)
	if err != nil {
		return nil, err
	}
	for key, values := range s.headers {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}
	if req.Header.Get("Accept-Encoding") == "" {
		req.Header.Set("Accept-Encoding", "identity")
	}
	if method == nethttp.MethodGet {
		if s.etag != "" && req.Header.Get("If-Match") == "" {
			req.Header.Set("If-Match", s.etag)
		}
		if s.lastModified != "" && req.Header.Get("If-Unmodified-Since") == "" {
			req.Header.Set("If-Unmodified-Since", s.lastModified)
		}
	}
	return req, nil
}

// parseContentRange returns the complete length from a
// "bytes start-end/length" header.
func parseContentRange(value string) (int64, error) {
	value = strings.TrimSpace(value)
	rest, ok := strings.CutPrefix(value, "bytes ")
	if !ok {
		return 0, fmt.Errorf("invalid Content-Range %q", value)
	}
	_, total, ok := strings.Cut(rest, "/")
	if !ok || total == "*" {
		return 0, fmt.Errorf("invalid Content-Range %q", value)
	}
	size, err := strconv.ParseInt(total, 10, 64)
	if err != nil || size < 0 {
		return 0, fmt.Errorf("invalid Content-Range %q", value)
	}
	return size, nil
}
