package storage

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/arenadata/adcm/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	// Bucket names
	bucketEntities       = []byte("entities")
	bucketHostComponents = []byte("hostcomponents")
	bucketPrototypes     = []byte("prototypes")
	bucketActions        = []byte("actions")
	bucketTasks          = []byte("tasks")
	bucketJobs           = []byte("jobs")
	bucketTaskJobs       = []byte("task_jobs")
	bucketLogs           = []byte("logs")
	bucketConcerns       = []byte("concerns")
	bucketEntityConcerns = []byte("entity_concerns")
	bucketHeartbeats     = []byte("worker_heartbeats")
	bucketWorkQueue      = []byte("work_queue")
)

var (
	_ Store = (*BoltStore)(nil)
	_ Tx    = (*boltTx)(nil)
)

// DefaultLockTimeout bounds how long a process waits for the database file lock
const DefaultLockTimeout = 10 * time.Second

// Options configures a BoltStore
type Options struct {
	// Shared opens the database file for every transaction and closes it
	// afterwards, so the runner, scheduler loops and workers can all use the
	// same file. bbolt's file lock serializes writers across processes.
	Shared bool

	// LockTimeout bounds the wait for the file lock (default 10s)
	LockTimeout time.Duration
}

// BoltStore implements Store using BoltDB
type BoltStore struct {
	path string
	opts Options

	mu sync.Mutex
	db *bolt.DB // held open when not shared
}

// NewBoltStore creates a new BoltDB-backed store at path, creating buckets as needed
func NewBoltStore(path string, opts Options) (*BoltStore, error) {
	if opts.LockTimeout <= 0 {
		opts.LockTimeout = DefaultLockTimeout
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: opts.LockTimeout})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			bucketEntities,
			bucketHostComponents,
			bucketPrototypes,
			bucketActions,
			bucketTasks,
			bucketJobs,
			bucketTaskJobs,
			bucketLogs,
			bucketConcerns,
			bucketEntityConcerns,
			bucketHeartbeats,
			bucketWorkQueue,
		}
		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}

		// One nested bucket per entity kind so ids are allocated per kind
		entities := tx.Bucket(bucketEntities)
		for _, kind := range types.EntityKinds {
			if _, err := entities.CreateBucketIfNotExists([]byte(kind)); err != nil {
				return fmt.Errorf("failed to create entity bucket %s: %w", kind, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	s := &BoltStore{path: path, opts: opts}
	if opts.Shared {
		if err := db.Close(); err != nil {
			return nil, fmt.Errorf("failed to close database: %w", err)
		}
	} else {
		s.db = db
	}
	return s, nil
}

// Path returns the database file path
func (s *BoltStore) Path() string {
	return s.path
}

// Close closes the database
func (s *BoltStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// Update runs fn in a read-write transaction
func (s *BoltStore) Update(fn func(tx Tx) error) error {
	return s.withDB(false, func(db *bolt.DB) error {
		return db.Update(func(btx *bolt.Tx) error {
			return fn(&boltTx{tx: btx})
		})
	})
}

// View runs fn in a read-only transaction
func (s *BoltStore) View(fn func(tx Tx) error) error {
	return s.withDB(true, func(db *bolt.DB) error {
		return db.View(func(btx *bolt.Tx) error {
			return fn(&boltTx{tx: btx})
		})
	})
}

// Backup writes a consistent copy of the database to dst. It runs in a
// read transaction, so tasks keep running while the copy is taken.
func (s *BoltStore) Backup(dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return fmt.Errorf("failed to create backup directory: %w", err)
	}
	return s.withDB(true, func(db *bolt.DB) error {
		return db.View(func(btx *bolt.Tx) error {
			return btx.CopyFile(dst, 0600)
		})
	})
}

func (s *BoltStore) withDB(readOnly bool, fn func(db *bolt.DB) error) error {
	if !s.opts.Shared {
		s.mu.Lock()
		db := s.db
		s.mu.Unlock()
		if db == nil {
			return fmt.Errorf("store is closed")
		}
		return fn(db)
	}

	// flock is per open file description, so two opens from one process
	// would contend with each other
	s.mu.Lock()
	defer s.mu.Unlock()

	db, err := bolt.Open(s.path, 0600, &bolt.Options{Timeout: s.opts.LockTimeout, ReadOnly: readOnly})
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()
	return fn(db)
}

// boltTx implements Tx on top of a bbolt transaction
type boltTx struct {
	tx *bolt.Tx
}

// itob encodes an id as a big-endian key so cursors iterate in id order
func itob(v int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(v))
	return b
}

func btoi(b []byte) int64 {
	return int64(binary.BigEndian.Uint64(b))
}

func putJSON(b *bolt.Bucket, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.Put(key, data)
}

func getJSON(b *bolt.Bucket, key []byte, v any) (bool, error) {
	data := b.Get(key)
	if data == nil {
		return false, nil
	}
	return true, json.Unmarshal(data, v)
}

// nextID allocates the next id from the bucket's sequence
func nextID(b *bolt.Bucket) (int64, error) {
	seq, err := b.NextSequence()
	if err != nil {
		return 0, err
	}
	return int64(seq), nil
}

// bumpSequence keeps the bucket sequence ahead of explicitly assigned ids
func bumpSequence(b *bolt.Bucket, id int64) error {
	if uint64(id) > b.Sequence() {
		return b.SetSequence(uint64(id))
	}
	return nil
}
