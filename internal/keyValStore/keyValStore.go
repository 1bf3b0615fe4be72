package keyValStore

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"
)

var log *logrus.Logger

type StoreConfig struct {
	Paths            []string // absolute paths, at the moment only the first path is used
	MinimumFreeSpace int      // in GB
	Logger           *logrus.Logger
}

type KeyValStore struct {
	config       StoreConfig
	badgerDB     *badger.DB
	readCounter  uint64
	writeCounter uint64
}

func NewKeyValStore(config StoreConfig) (*KeyValStore, error) {
	if config.Logger == nil {
		config.Logger = logrus.New()
	}

	log = config.Logger

	err := config.checkConfig()
	if err != nil {
		return nil, fmt.Errorf("error checking config for KeyValStore: %w", err)
	}

	opts := badger.DefaultOptions(config.Paths[0])
	opts.Logger = newBadgerLogger()
	opts.ValueLogFileSize = 1024 * 1024 * 100 // max size of each value log file, 100MB
	opts.SyncWrites = false

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("error opening badger db: %w", err)
	}

	err = displayDiskUsage(config.Paths)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &KeyValStore{
		config:   config,
		badgerDB: db,
	}, nil
}

func (k *KeyValStore) Write(key []byte, content []byte) error {
	atomic.AddUint64(&k.writeCounter, 1)

	return k.badgerDB.Update(func(txn *badger.Txn) error {
		return txn.Set(key, content)
	})
}

// WriteIfAbsent stores content under key unless the key already exists.
// It reports whether a write happened. Concurrent callers writing the
// same content-addressed key are idempotent by construction.
func (k *KeyValStore) WriteIfAbsent(key []byte, content []byte) (bool, error) {
	written := false
	err := k.badgerDB.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(key)
		if err == nil {
			return nil
		}
		if err != badger.ErrKeyNotFound {
			return err
		}
		written = true
		return txn.Set(key, content)
	})
	if err != nil {
		return false, err
	}
	if written {
		atomic.AddUint64(&k.writeCounter, 1)
	}
	return written, nil
}

func (k *KeyValStore) Read(key []byte) ([]byte, error) {
	atomic.AddUint64(&k.readCounter, 1)

	var content []byte
	err := k.badgerDB.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		content, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	return content, nil
}

func (k *KeyValStore) Exists(key []byte) (bool, error) {
	err := k.badgerDB.View(func(txn *badger.Txn) error {
		_, err := txn.Get(key)
		return err
	})
	if err == badger.ErrKeyNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// IsNotFound reports whether err is the store's missing-key error.
func IsNotFound(err error) bool {
	return err == badger.ErrKeyNotFound
}

// GarbageCollect runs one badger value-log GC cycle. badger.ErrNoRewrite
// means there was nothing to collect and is not an error for callers.
func (k *KeyValStore) GarbageCollect() error {
	err := k.badgerDB.RunValueLogGC(0.5)
	if err == badger.ErrNoRewrite {
		return nil
	}
	return err
}

// StartTransactionCounter logs read/write operations per second until
// the store is closed. Used by benchmarks and the daemon's verbose mode.
func (k *KeyValStore) StartTransactionCounter() {
	go func() {
		ticker := time.NewTicker(1 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			if k.badgerDB.IsClosed() {
				return
			}
			readOps := atomic.SwapUint64(&k.readCounter, 0)
			writeOps := atomic.SwapUint64(&k.writeCounter, 0)
			log.WithFields(logrus.Fields{
				"reads_per_sec":  readOps,
				"writes_per_sec": writeOps,
			}).Debug("KeyValStore transaction rates")
		}
	}()
}

func (k *KeyValStore) Close() error {
	return k.badgerDB.Close()
}
