// Package cache provides the append-only persistent key/value files used for
// geocode and spatial results. Each file is JSON lines; a later line for the
// same key wins on reload, so writers only ever append.
package cache

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"
)

type entry[V any] struct {
	Key   string `json:"k"`
	Value V      `json:"v"`
}

// Store is a concurrency-safe map backed by an append-only JSON lines file.
// A Store with an empty path is memory-only.
type Store[V any] struct {
	path       string
	flushEvery int
	log        zerolog.Logger

	mu      sync.RWMutex
	data    map[string]V
	pending []entry[V]
	skipped int
}

// Option configures a Store
type Option func(*options)

type options struct {
	flushEvery int
	log        zerolog.Logger
}

// WithFlushEvery flushes automatically after n unflushed puts. Zero disables
// auto flushing.
func WithFlushEvery(n int) Option {
	return func(o *options) { o.flushEvery = n }
}

// WithLogger sets the logger used for load and flush diagnostics
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.log = l }
}

// Open loads path if it exists and returns a Store appending to it
func Open[V any](path string, opts ...Option) (*Store[V], error) {
	o := options{log: zerolog.Nop()}
	for _, opt := range opts {
		opt(&o)
	}
	s := &Store[V]{
		path:       path,
		flushEvery: o.flushEvery,
		log:        o.log,
		data:       make(map[string]V),
	}
	if path == "" {
		return s, nil
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

// Memory returns a Store that never touches disk
func Memory[V any]() *Store[V] {
	s, _ := Open[V]("")
	return s
}

func (s *Store[V]) load() error {
	f, err := os.Open(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open cache %s: %w", s.path, err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var e entry[V]
		if err := json.Unmarshal(line, &e); err != nil || e.Key == "" {
			// a torn final line from an interrupted flush
			s.skipped++
			continue
		}
		s.data[e.Key] = e.Value
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("read cache %s: %w", s.path, err)
	}
	s.log.Debug().Str("path", s.path).Int("entries", len(s.data)).Int("skipped", s.skipped).Msg("cache loaded")
	return nil
}

// Get returns the value stored under key
func (s *Store[V]) Get(key string) (V, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key]
	return v, ok
}

// Put records value under key and queues it for the next flush
func (s *Store[V]) Put(key string, value V) error {
	s.mu.Lock()
	s.data[key] = value
	s.pending = append(s.pending, entry[V]{Key: key, Value: value})
	due := s.flushEvery > 0 && len(s.pending) >= s.flushEvery
	s.mu.Unlock()

	if due {
		return s.Flush()
	}
	return nil
}

// Merge puts every entry of m, in no particular order
func (s *Store[V]) Merge(m map[string]V) error {
	for k, v := range m {
		if err := s.Put(k, v); err != nil {
			return err
		}
	}
	return nil
}

// Snapshot returns a copy of the current contents for read-only use by
// workers
func (s *Store[V]) Snapshot() map[string]V {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]V, len(s.data))
	for k, v := range s.data {
		out[k] = v
	}
	return out
}

// Len returns the number of distinct keys
func (s *Store[V]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

// Pending returns the number of puts not yet flushed
func (s *Store[V]) Pending() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.pending)
}

// Flush appends pending entries to the backing file
func (s *Store[V]) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pending) == 0 || s.path == "" {
		s.pending = s.pending[:0]
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open cache %s for append: %w", s.path, err)
	}

	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for _, e := range s.pending {
		if err := enc.Encode(e); err != nil {
			f.Close()
			return fmt.Errorf("encode cache entry %q: %w", e.Key, err)
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("write cache %s: %w", s.path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close cache %s: %w", s.path, err)
	}

	s.log.Debug().Str("path", s.path).Int("appended", len(s.pending)).Msg("cache flushed")
	s.pending = s.pending[:0]
	return nil
}
