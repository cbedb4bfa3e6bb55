// Package badger implements db.KV on an embedded BadgerDB, for single-node
// deployments and the CLI.
package badger

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"go.uber.org/zap"

	"github.com/kailas-cloud/dsearch/internal/db"
)

// Compile-time check: Store implements db.KV.
var _ db.KV = (*Store)(nil)

// setSep separates a set key from its members: each member is stored as its own entry.
const setSep = "\x00"

// Config holds BadgerDB settings. An empty Path opens an in-memory database.
type Config struct {
	Path string
}

// Store implements db.KV on BadgerDB.
type Store struct {
	db     *badger.DB
	logger *zap.Logger
}

// zapAdapter adapts zap to the badger.Logger interface.
type zapAdapter struct {
	s *zap.SugaredLogger
}

var _ badger.Logger = (*zapAdapter)(nil)

func (a *zapAdapter) Errorf(msg string, items ...any)   { a.s.Errorf(strings.TrimSpace(msg), items...) }
func (a *zapAdapter) Warningf(msg string, items ...any) { a.s.Warnf(strings.TrimSpace(msg), items...) }
func (a *zapAdapter) Infof(msg string, items ...any)    { a.s.Debugf(strings.TrimSpace(msg), items...) }
func (a *zapAdapter) Debugf(msg string, items ...any)   { a.s.Debugf(strings.TrimSpace(msg), items...) }

// NewStore opens a BadgerDB database. The directory is created when missing.
func NewStore(cfg Config, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("badger")

	var opts badger.Options
	if cfg.Path == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create badger dir: %w", err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts.Logger = &zapAdapter{s: logger.Sugar()}
	opts.Compression = options.None

	bdb, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}

	return &Store{db: bdb, logger: logger}, nil
}

// Ping reports whether the database is open.
func (s *Store) Ping(_ context.Context) error {
	if s.db.IsClosed() {
		return errors.New("badger: database closed")
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() {
	if err := s.db.Close(); err != nil {
		s.logger.Warn("Failed to close badger", zap.Error(err))
	}
}

// Get retrieves a value by key.
func (s *Store) Get(_ context.Context, key string) ([]byte, error) {
	var out []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, db.ErrKeyNotFound
		}
		return nil, &db.Error{Op: db.OpGet, Err: err}
	}
	return out, nil
}

// MGet retrieves several values in one read transaction; missing keys yield nil entries.
func (s *Store) MGet(_ context.Context, keys []string) ([][]byte, error) {
	if len(keys) == 0 {
		return nil, nil
	}

	out := make([][]byte, len(keys))
	err := s.db.View(func(txn *badger.Txn) error {
		for i, key := range keys {
			item, err := txn.Get([]byte(key))
			if errors.Is(err, badger.ErrKeyNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			if out[i], err = item.ValueCopy(nil); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, &db.Error{Op: db.OpMGet, Err: err}
	}
	return out, nil
}

// Set stores a value. A zero ttl stores it without expiry.
func (s *Store) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.SetEntry(newEntry([]byte(key), value, ttl))
	})
	if err != nil {
		return &db.Error{Op: db.OpSet, Err: err}
	}
	return nil
}

// Del deletes keys, including every member entry of keys holding sets.
func (s *Store) Del(_ context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		var doomed [][]byte
		for _, key := range keys {
			doomed = append(doomed, []byte(key))
			doomed = append(doomed, collectKeys(txn, []byte(key+setSep))...)
		}
		for _, k := range doomed {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return &db.Error{Op: db.OpDel, Err: err}
	}
	return nil
}

// Exists checks if a plain key or a non-empty set exists.
func (s *Store) Exists(_ context.Context, key string) (bool, error) {
	found := false
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(key))
		switch {
		case err == nil:
			found = true
			return nil
		case !errors.Is(err, badger.ErrKeyNotFound):
			return err
		}
		found = len(collectKeys(txn, []byte(key+setSep))) > 0
		return nil
	})
	if err != nil {
		return false, &db.Error{Op: db.OpExists, Err: err}
	}
	return found, nil
}

// Scan returns keys matching a glob pattern (path.Match syntax, as with Redis SCAN MATCH).
func (s *Store) Scan(_ context.Context, pattern string) ([]string, error) {
	prefix := pattern
	if i := strings.IndexAny(pattern, `*?[\`); i >= 0 {
		prefix = pattern[:i]
	}

	var keys []string
	seen := make(map[string]bool)
	err := s.db.View(func(txn *badger.Txn) error {
		for _, k := range collectKeys(txn, []byte(prefix)) {
			name, _, _ := strings.Cut(string(k), setSep)
			if seen[name] {
				continue
			}
			seen[name] = true
			ok, err := path.Match(pattern, name)
			if err != nil {
				return err
			}
			if ok {
				keys = append(keys, name)
			}
		}
		return nil
	})
	if err != nil {
		return nil, &db.Error{Op: db.OpScan, Err: err}
	}
	return keys, nil
}

// SAdd adds members to a set and refreshes the TTL of every member entry.
func (s *Store) SAdd(_ context.Context, key string, ttl time.Duration, members ...string) error {
	if len(members) == 0 {
		return nil
	}

	prefix := []byte(key + setSep)
	err := s.db.Update(func(txn *badger.Txn) error {
		existing := collectKeys(txn, prefix)
		for _, m := range members {
			existing = append(existing, append(bytes.Clone(prefix), m...))
		}
		for _, k := range existing {
			if err := txn.SetEntry(newEntry(k, nil, ttl)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return &db.Error{Op: db.OpSAdd, Err: err}
	}
	return nil
}

// SMembers returns the members of a set; an absent set is empty.
func (s *Store) SMembers(_ context.Context, key string) ([]string, error) {
	prefix := []byte(key + setSep)
	var members []string
	err := s.db.View(func(txn *badger.Txn) error {
		for _, k := range collectKeys(txn, prefix) {
			members = append(members, string(k[len(prefix):]))
		}
		return nil
	})
	if err != nil {
		return nil, &db.Error{Op: db.OpSMembers, Err: err}
	}
	return members, nil
}

// SRem removes members from a set.
func (s *Store) SRem(_ context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		for _, m := range members {
			if err := txn.Delete([]byte(key + setSep + m)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return &db.Error{Op: db.OpSRem, Err: err}
	}
	return nil
}

// RunGC runs one value-log garbage collection cycle. Nothing to collect is not an error.
func (s *Store) RunGC() error {
	err := s.db.RunValueLogGC(0.5)
	if err == nil || errors.Is(err, badger.ErrNoRewrite) || errors.Is(err, badger.ErrGCInMemoryMode) {
		return nil
	}
	return err
}

func newEntry(key, value []byte, ttl time.Duration) *badger.Entry {
	e := badger.NewEntry(key, value)
	if ttl > 0 {
		e = e.WithTTL(ttl)
	}
	return e
}

// collectKeys returns copies of every live key with the given prefix.
func collectKeys(txn *badger.Txn, prefix []byte) [][]byte {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()

	var keys [][]byte
	for it.Rewind(); it.Valid(); it.Next() {
		keys = append(keys, it.Item().KeyCopy(nil))
	}
	return keys
}
