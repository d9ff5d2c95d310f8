// Package store persists reagent resources.
//
// Keys follow the convention "/{kind}/{name}".
package store

import (
	"fmt"
	"strings"

	v1 "github.com/klubi/reagent/pkg/apis/v1"
)

// Store is the persistence interface for reagent resources. Values are
// stored as JSON.
type Store interface {
	// Create stores a new object at the given key.
	// Returns ErrAlreadyExists if the key already exists.
	Create(key string, value interface{}) error

	// Get retrieves the object stored at key and deserialises it into target.
	// Returns ErrNotFound if the key does not exist.
	Get(key string, target interface{}) error

	// Update replaces the object at the given key.
	// Returns ErrNotFound if the key does not exist.
	Update(key string, value interface{}) error

	// Delete removes the object at the given key.
	// Returns ErrNotFound if the key does not exist.
	Delete(key string) error

	// Keys returns every key starting with prefix in ascending order.
	Keys(prefix string) ([]string, error)

	// List returns every object whose key starts with prefix, in key order.
	// factory is called once per result to create a zero-value pointer that
	// the stored JSON is unmarshalled into.
	List(prefix string, factory func() interface{}) ([]interface{}, error)

	// Watch returns a channel that emits events for every mutation whose key
	// starts with prefix. The returned cancel function removes the watcher
	// and closes the channel.
	Watch(prefix string) (<-chan v1.WatchEvent, func())

	// Close releases any resources held by the store (e.g. BoltDB file handle).
	Close() error
}

// Common sentinel errors.
var (
	ErrAlreadyExists = fmt.Errorf("key already exists")
	ErrNotFound      = fmt.Errorf("key not found")
)

// ResourceKey builds a canonical store key for a resource.
//
//	ResourceKey("Run", "disk-usage")
//	=> "/Run/disk-usage"
func ResourceKey(kind, name string) string {
	return fmt.Sprintf("/%s/%s", kind, name)
}

// KindPrefix is the key prefix shared by every resource of kind.
func KindPrefix(kind string) string {
	return "/" + kind + "/"
}

// NameFromKey extracts the name segment from a "/{kind}/{name}" key.
func NameFromKey(key string) string {
	parts := strings.SplitN(strings.TrimPrefix(key, "/"), "/", 2)
	if len(parts) == 2 {
		return parts[1]
	}
	return ""
}

// kindFromKey extracts the Kind segment from a "/{kind}/{name}" key.
func kindFromKey(key string) string {
	parts := strings.SplitN(strings.TrimPrefix(key, "/"), "/", 2)
	if len(parts) > 0 {
		return parts[0]
	}
	return ""
}

// watchers fans mutation events out to prefix subscribers. Both store
// implementations embed it.
type watchers struct {
	list []*watcher
}

type watcher struct {
	prefix string
	ch     chan v1.WatchEvent
}

func (ws *watchers) add(prefix string) *watcher {
	w := &watcher{prefix: prefix, ch: make(chan v1.WatchEvent, 64)}
	ws.list = append(ws.list, w)
	return w
}

func (ws *watchers) remove(w *watcher) {
	for i, existing := range ws.list {
		if existing == w {
			ws.list = append(ws.list[:i], ws.list[i+1:]...)
			close(w.ch)
			return
		}
	}
}

func (ws *watchers) closeAll() {
	for _, w := range ws.list {
		close(w.ch)
	}
	ws.list = nil
}

// notify sends evt to every matching watcher without blocking. Events for a
// watcher that is not keeping up are dropped.
func (ws *watchers) notify(evt v1.WatchEvent) {
	for _, w := range ws.list {
		if strings.HasPrefix(evt.Key, w.prefix) {
			select {
			case w.ch <- evt:
			default:
			}
		}
	}
}
