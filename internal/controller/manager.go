// Package controller implements reconciliation loops that execute queued runs.
package controller

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/klubi/reagent/internal/store"
	v1 "github.com/klubi/reagent/pkg/apis/v1"
)

// Reconciler processes a single resource key.
type Reconciler interface {
	Reconcile(ctx context.Context, key string) error
}

// DeleteHandler is implemented by reconcilers that must react to a deletion
// right away, even while the deleted key is still being reconciled.
type DeleteHandler interface {
	Deleted(key string)
}

// workItem represents an item in the work queue with backoff tracking.
type workItem struct {
	key       string
	attempts  int
	nextRetry time.Time
}

const (
	initialBackoff = 1 * time.Second
	maxBackoff     = 60 * time.Second
)

// WorkQueue is a rate-limited work queue with exponential backoff.
// A key is never handed to two workers at once: an Add for a key that is
// being processed marks it dirty and it is re-queued on Done.
type WorkQueue struct {
	mu         sync.Mutex
	items      []workItem
	dirty      map[string]bool // keys that changed while processing
	processing map[string]bool
	attempts   map[string]int // consecutive failures per key
	notify     chan struct{}
	closed     bool
}

// NewWorkQueue creates a new work queue.
func NewWorkQueue() *WorkQueue {
	return &WorkQueue{
		dirty:      make(map[string]bool),
		processing: make(map[string]bool),
		attempts:   make(map[string]int),
		notify:     make(chan struct{}, 1),
	}
}

// Add enqueues key for immediate processing.
func (q *WorkQueue) Add(key string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	if q.processing[key] {
		q.dirty[key] = true
		return
	}
	for i, item := range q.items {
		if item.key == key {
			// A fresh event overrides a pending backoff.
			q.items[i].nextRetry = time.Time{}
			q.signal()
			return
		}
	}

	q.items = append(q.items, workItem{key: key})
	q.signal()
}

// signal wakes one waiting Get. Callers hold q.mu.
func (q *WorkQueue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Get returns the next ready item. It blocks until an item is available
// or the queue is closed. Returns ("", false) when closed.
func (q *WorkQueue) Get() (string, bool) {
	for {
		q.mu.Lock()

		if q.closed {
			q.mu.Unlock()
			return "", false
		}

		now := time.Now()
		for i, item := range q.items {
			if !now.Before(item.nextRetry) {
				q.items = append(q.items[:i], q.items[i+1:]...)
				q.processing[item.key] = true
				// Other workers may have ready items too.
				if len(q.items) > 0 {
					q.signal()
				}
				q.mu.Unlock()
				return item.key, true
			}
		}

		// If there are items but none ready, calculate the shortest wait.
		var wait time.Duration
		if len(q.items) > 0 {
			earliest := q.items[0].nextRetry
			for _, item := range q.items[1:] {
				if item.nextRetry.Before(earliest) {
					earliest = item.nextRetry
				}
			}
			wait = time.Until(earliest)
		}

		q.mu.Unlock()

		if wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-q.notify:
				timer.Stop()
			case <-timer.C:
			}
		} else {
			<-q.notify
		}
	}
}

// Done marks key as successfully processed, resetting its backoff. If the key
// changed while it was being processed, it is re-queued.
func (q *WorkQueue) Done(key string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	delete(q.processing, key)
	delete(q.attempts, key)

	if q.dirty[key] && !q.closed {
		delete(q.dirty, key)
		q.items = append(q.items, workItem{key: key})
		q.signal()
	}
}

// Requeue re-adds key with exponential backoff (1s, 2s, 4s, ..., max 60s).
func (q *WorkQueue) Requeue(key string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	delete(q.processing, key)
	delete(q.dirty, key)
	if q.closed {
		return
	}

	q.attempts[key]++
	attempts := q.attempts[key]
	backoff := initialBackoff << (attempts - 1)
	if backoff > maxBackoff || backoff <= 0 {
		backoff = maxBackoff
	}

	q.items = append(q.items, workItem{
		key:       key,
		attempts:  attempts,
		nextRetry: time.Now().Add(backoff),
	})
	q.signal()
}

// Len returns the number of items waiting in the queue.
func (q *WorkQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close shuts down the queue, unblocking any pending Get calls.
func (q *WorkQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.notify)
}

// ---------------------------------------------------------------------------
// Controller Manager
// ---------------------------------------------------------------------------

// Manager coordinates controllers: it feeds store watch events into each
// controller's queue and runs its workers.
type Manager struct {
	store       store.Store
	controllers map[string]*controllerRunner
	logger      *zap.Logger
	wg          sync.WaitGroup
}

type controllerRunner struct {
	name       string
	reconciler Reconciler
	queue      *WorkQueue
	watchKinds []string
	workers    int
	cancel     context.CancelFunc
}

// NewManager creates a new controller manager.
func NewManager(s store.Store, logger *zap.Logger) *Manager {
	return &Manager{
		store:       s,
		controllers: make(map[string]*controllerRunner),
		logger:      logger,
	}
}

// Register adds a controller that watches specific resource kinds and
// reconciles with the given number of concurrent workers.
func (m *Manager) Register(name string, reconciler Reconciler, watchKinds []string, workers int) {
	if workers < 1 {
		workers = 1
	}
	m.controllers[name] = &controllerRunner{
		name:       name,
		reconciler: reconciler,
		queue:      NewWorkQueue(),
		watchKinds: watchKinds,
		workers:    workers,
	}
}

// Start begins all controllers. Each controller:
//  1. Starts a Watch on the store for its kinds
//  2. Enqueues every existing key of those kinds
//  3. Runs its worker goroutines
func (m *Manager) Start(ctx context.Context) error {
	for name, cr := range m.controllers {
		cCtx, cancel := context.WithCancel(ctx)
		cr.cancel = cancel

		m.logger.Info("starting controller",
			zap.String("controller", name),
			zap.Strings("watchKinds", cr.watchKinds),
			zap.Int("workers", cr.workers),
		)

		for _, kind := range cr.watchKinds {
			prefix := store.KindPrefix(kind)
			eventCh, cancelWatch := m.store.Watch(prefix)

			m.wg.Add(1)
			go m.watchLoop(cCtx, cr, eventCh, cancelWatch)

			// Resync records that existed before the watch started.
			keys, err := m.store.Keys(prefix)
			if err != nil {
				cancel()
				return fmt.Errorf("listing %s for controller %s: %w", kind, name, err)
			}
			for _, key := range keys {
				cr.queue.Add(key)
			}
		}

		for i := 0; i < cr.workers; i++ {
			m.wg.Add(1)
			go m.workerLoop(cCtx, name, cr.reconciler, cr.queue)
		}
	}

	return nil
}

// watchLoop reads events from a store watch channel and feeds them into the work queue.
func (m *Manager) watchLoop(ctx context.Context, cr *controllerRunner, eventCh <-chan v1.WatchEvent, cancelWatch func()) {
	defer m.wg.Done()
	defer cancelWatch()

	onDelete, _ := cr.reconciler.(DeleteHandler)

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-eventCh:
			if !ok {
				return
			}
			m.logger.Debug("watch event received",
				zap.String("controller", cr.name),
				zap.String("type", string(event.Type)),
				zap.String("key", event.Key),
			)
			if event.Type == v1.EventDeleted && onDelete != nil {
				onDelete.Deleted(event.Key)
			}
			cr.queue.Add(event.Key)
		}
	}
}

// workerLoop processes items from the work queue using the reconciler.
func (m *Manager) workerLoop(ctx context.Context, controllerName string, reconciler Reconciler, queue *WorkQueue) {
	defer m.wg.Done()

	for {
		key, ok := queue.Get()
		if !ok {
			return
		}

		if ctx.Err() != nil {
			queue.Done(key)
			return
		}

		m.logger.Debug("reconciling",
			zap.String("controller", controllerName),
			zap.String("key", key),
		)

		if err := reconciler.Reconcile(ctx, key); err != nil {
			m.logger.Error("reconcile failed",
				zap.String("controller", controllerName),
				zap.String("key", key),
				zap.Error(err),
			)
			queue.Requeue(key)
		} else {
			queue.Done(key)
		}
	}
}

// Stop shuts down all controllers and waits for in-flight reconciles to return.
func (m *Manager) Stop() {
	for name, cr := range m.controllers {
		m.logger.Info("stopping controller", zap.String("controller", name))
		if cr.cancel != nil {
			cr.cancel()
		}
		cr.queue.Close()
	}
	m.wg.Wait()
}
