// Package storetest provides an in-memory Store implementation with failure
// injection, for exercising the exporter without a real backend.
package storetest // import "github.com/durastream/telemex/storetest"

import (
	"context"
	"sync"
	"time"

	"github.com/durastream/telemex"
)

// Sink is an in-memory telemex.Store. All methods are safe for concurrent
// use. The zero value is not usable; use NewSink.
type Sink struct {
	mu          sync.Mutex
	connected   bool
	connectErr  error
	insertErr   error
	docs        map[string][]map[string]any
	collections map[string]telemex.CollectionOptions
	indexes     map[string][][]string
	inserts     int
	attempts    int
	insertDelay time.Duration
}

var _ telemex.Store = (*Sink)(nil)

// NewSink returns an empty sink.
func NewSink() *Sink {
	return &Sink{
		docs:        make(map[string][]map[string]any),
		collections: make(map[string]telemex.CollectionOptions),
		indexes:     make(map[string][][]string),
	}
}

// SetConnectErr makes Connect fail with err until cleared with nil.
func (s *Sink) SetConnectErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connectErr = err
}

// SetInsertErr makes BulkInsert fail with err until cleared with nil.
func (s *Sink) SetInsertErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.insertErr = err
}

// SetInsertDelay makes every BulkInsert call sleep for d first, to simulate a
// slow backend.
func (s *Sink) SetInsertDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.insertDelay = d
}

// Disconnect simulates a lost connection: subsequent BulkInsert calls fail
// with a connection-level error until Connect is called again.
func (s *Sink) Disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = false
}

// Connect implements telemex.Store.
func (s *Sink) Connect(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.connectErr != nil {
		return telemex.NewConnectionError(s.connectErr)
	}
	s.connected = true
	return nil
}

// BulkInsert implements telemex.Store.
func (s *Sink) BulkInsert(ctx context.Context, collection string, docs []map[string]any) error {
	s.mu.Lock()
	delay := s.insertDelay
	s.mu.Unlock()
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts++
	if !s.connected {
		return telemex.NewConnectionError(telemex.ErrNotConnected)
	}
	if s.insertErr != nil {
		return s.insertErr
	}
	s.docs[collection] = append(s.docs[collection], docs...)
	s.inserts++
	return nil
}

// EnsureCollection implements telemex.Store.
func (s *Sink) EnsureCollection(_ context.Context, name string, opts telemex.CollectionOptions) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return telemex.NewConnectionError(telemex.ErrNotConnected)
	}
	s.collections[name] = opts
	return nil
}

// CreateIndex implements telemex.Store.
func (s *Sink) CreateIndex(_ context.Context, collection string, keys []string, _ telemex.IndexOptions) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return telemex.NewConnectionError(telemex.ErrNotConnected)
	}
	s.indexes[collection] = append(s.indexes[collection], keys)
	return nil
}

// Close implements telemex.Store.
func (s *Sink) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = false
	return nil
}

// Docs returns the documents inserted into the named collection.
func (s *Sink) Docs(collection string) []map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]map[string]any, len(s.docs[collection]))
	copy(out, s.docs[collection])
	return out
}

// Collections returns the provisioned collection options by name.
func (s *Sink) Collections() map[string]telemex.CollectionOptions {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]telemex.CollectionOptions, len(s.collections))
	for k, v := range s.collections {
		out[k] = v
	}
	return out
}

// Indexes returns the key sets of indexes created on the named collection.
func (s *Sink) Indexes(collection string) [][]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]string, len(s.indexes[collection]))
	copy(out, s.indexes[collection])
	return out
}

// InsertCalls returns the number of successful BulkInsert calls.
func (s *Sink) InsertCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inserts
}

// InsertAttempts returns the number of BulkInsert calls, failed ones included.
func (s *Sink) InsertAttempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}
