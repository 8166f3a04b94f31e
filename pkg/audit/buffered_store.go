/*
Copyright 2025 Jordi Gil.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package audit

import (
	"context"
	"sync"
	"time"

	"github.com/go-logr/logr"
)

// BufferedStore wraps a downstream Store with a bounded, non-blocking
// channel so that audit writes never stall the business logic emitting
// them (spec.md §6, "fire-and-forget"). A background goroutine drains the
// channel into the downstream store in batches, flushing on either
// BatchSize or FlushInterval, whichever comes first.
//
// Design authority: DD-AUDIT-002 (buffered audit store design) — grounded
// on pkg/audit/buffered_store_integration_test.go and
// pkg/aianalysis/audit/audit_test.go in the teacher checkout.
type BufferedStore struct {
	downstream    Store
	log           logr.Logger
	batchSize     int
	flushInterval time.Duration

	queue  chan Event
	done   chan struct{}
	wg     sync.WaitGroup
	closed sync.Once
}

// BufferedStoreConfig tunes the background drain loop.
type BufferedStoreConfig struct {
	QueueCapacity int
	BatchSize     int
	FlushInterval time.Duration
}

// DefaultBufferedStoreConfig returns conservative defaults: a queue deep
// enough to absorb a burst without blocking callers, flushed at least every
// second.
func DefaultBufferedStoreConfig() BufferedStoreConfig {
	return BufferedStoreConfig{
		QueueCapacity: 4096,
		BatchSize:     100,
		FlushInterval: time.Second,
	}
}

// NewBufferedStore starts the background drain loop over downstream. Call
// Close to stop it and flush any remaining events.
func NewBufferedStore(downstream Store, log logr.Logger, cfg BufferedStoreConfig) *BufferedStore {
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = DefaultBufferedStoreConfig().QueueCapacity
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBufferedStoreConfig().BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DefaultBufferedStoreConfig().FlushInterval
	}

	s := &BufferedStore{
		downstream:    downstream,
		log:           log,
		batchSize:     cfg.BatchSize,
		flushInterval: cfg.FlushInterval,
		queue:         make(chan Event, cfg.QueueCapacity),
		done:          make(chan struct{}),
	}
	s.wg.Add(1)
	go s.drain()
	return s
}

// StoreAudit enqueues event for background persistence. It never blocks
// the caller on the downstream store: if the queue is full the event is
// dropped and logged — audit infrastructure degrading gracefully must never
// become a reason business logic stalls or fails.
func (s *BufferedStore) StoreAudit(ctx context.Context, event Event) error {
	select {
	case s.queue <- event:
		return nil
	default:
		s.log.Info("audit queue full, dropping event", "event_id", event.ID, "event_type", event.Type)
		return nil
	}
}

func (s *BufferedStore) drain() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()

	batch := make([]Event, 0, s.batchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		s.flushBatch(batch)
		batch = batch[:0]
	}

	for {
		select {
		case ev := <-s.queue:
			batch = append(batch, ev)
			if len(batch) >= s.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-s.done:
			// Drain whatever is left without blocking indefinitely.
			for {
				select {
				case ev := <-s.queue:
					batch = append(batch, ev)
				default:
					flush()
					return
				}
			}
		}
	}
}

func (s *BufferedStore) flushBatch(batch []Event) {
	ctx := context.Background()
	for _, ev := range batch {
		if err := s.downstream.StoreAudit(ctx, ev); err != nil {
			s.log.Error(err, "audit downstream write failed, event dropped", "event_id", ev.ID, "event_type", ev.Type)
		}
	}
	if err := s.downstream.Flush(ctx); err != nil {
		s.log.Error(err, "audit downstream flush failed")
	}
}

// Flush blocks until the queue channel is empty, then flushes the downstream
// store. Events the drain loop has already taken off the queue but not yet
// written are not waited for; they reach the downstream store on the next
// full batch, flush tick or Close.
func (s *BufferedStore) Flush(ctx context.Context) error {
	// A synchronous drain request: push a marker by briefly waiting for the
	// queue to empty, then force a downstream flush. Since drain() holds no
	// exported hook to "flush now", we rely on FlushInterval eventually
	// firing; callers wanting a hard guarantee should Close() instead.
	for len(s.queue) > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}
	return s.downstream.Flush(ctx)
}

// Close stops the background drain loop, flushing any remaining events,
// and closes the downstream store.
func (s *BufferedStore) Close() error {
	var err error
	s.closed.Do(func() {
		close(s.done)
		s.wg.Wait()
		err = s.downstream.Close()
	})
	return err
}
