package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	v1 "github.com/klubi/reagent/pkg/apis/v1"
	bolt "go.etcd.io/bbolt"
)

var bucketName = []byte("resources")

// BoltStore persists resources to a BoltDB file on disk. Watches are
// in-process only.
type BoltStore struct {
	db *bolt.DB
	mu sync.RWMutex // protects ws only
	ws watchers
}

// NewBoltStore opens (or creates) a BoltDB database at path, creating its
// parent directory if needed.
func NewBoltStore(path string) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	// A second process holding the file lock fails fast instead of hanging.
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	}); err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// ---------- CRUD ----------

func (b *BoltStore) Create(key string, value interface{}) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}

	err = b.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(bucketName)
		if bkt.Get([]byte(key)) != nil {
			return ErrAlreadyExists
		}
		return bkt.Put([]byte(key), raw)
	})
	if err != nil {
		return err
	}

	b.notify(v1.WatchEvent{
		Type:   v1.EventAdded,
		Kind:   kindFromKey(key),
		Key:    key,
		Object: value,
	})
	return nil
}

func (b *BoltStore) Get(key string, target interface{}) error {
	return b.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketName).Get([]byte(key))
		if raw == nil {
			return ErrNotFound
		}
		return json.Unmarshal(raw, target)
	})
}

func (b *BoltStore) Update(key string, value interface{}) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}

	err = b.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(bucketName)
		if bkt.Get([]byte(key)) == nil {
			return ErrNotFound
		}
		return bkt.Put([]byte(key), raw)
	})
	if err != nil {
		return err
	}

	b.notify(v1.WatchEvent{
		Type:   v1.EventModified,
		Kind:   kindFromKey(key),
		Key:    key,
		Object: value,
	})
	return nil
}

func (b *BoltStore) Delete(key string) error {
	var obj interface{}

	err := b.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(bucketName)
		raw := bkt.Get([]byte(key))
		if raw == nil {
			return ErrNotFound
		}
		// Decoded before deletion; raw is only valid inside the transaction.
		_ = json.Unmarshal(raw, &obj)
		return bkt.Delete([]byte(key))
	})
	if err != nil {
		return err
	}

	b.notify(v1.WatchEvent{
		Type:   v1.EventDeleted,
		Kind:   kindFromKey(key),
		Key:    key,
		Object: obj,
	})
	return nil
}

// ---------- Keys / List ----------

// scan calls fn for every key/value under prefix in key order.
func (b *BoltStore) scan(prefix string, fn func(k, v []byte) error) error {
	return b.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketName).Cursor()
		pfx := []byte(prefix)
		for k, v := c.Seek(pfx); k != nil && bytes.HasPrefix(k, pfx); k, v = c.Next() {
			if err := fn(k, v); err != nil {
				return err
			}
		}
		return nil
	})
}

func (b *BoltStore) Keys(prefix string) ([]string, error) {
	var keys []string
	err := b.scan(prefix, func(k, _ []byte) error {
		keys = append(keys, string(k))
		return nil
	})
	return keys, err
}

func (b *BoltStore) List(prefix string, factory func() interface{}) ([]interface{}, error) {
	var results []interface{}
	err := b.scan(prefix, func(_, v []byte) error {
		obj := factory()
		if err := json.Unmarshal(v, obj); err != nil {
			return err
		}
		results = append(results, obj)
		return nil
	})
	return results, err
}

// ---------- Watch ----------

func (b *BoltStore) Watch(prefix string) (<-chan v1.WatchEvent, func()) {
	b.mu.Lock()
	w := b.ws.add(prefix)
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			b.ws.remove(w)
		})
	}
	return w.ch, cancel
}

// ---------- Close ----------

func (b *BoltStore) Close() error {
	b.mu.Lock()
	b.ws.closeAll()
	b.mu.Unlock()

	return b.db.Close()
}

func (b *BoltStore) notify(evt v1.WatchEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	b.ws.notify(evt)
}
