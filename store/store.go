// Package store caches validation reports by content.
//
// A report is keyed by the program bytes, the fingerprint of the opcode
// table, and the stack limit, the only inputs validation depends on. Reports
// live in memory and, when the store is opened with a path, in a SQLite
// database that survives restarts.
package store

import (
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/tliron/commonlog"
	"golang.org/x/crypto/blake2b"
	_ "modernc.org/sqlite"

	"github.com/chazu/jumpsub/pkg/opcode"
	"github.com/chazu/jumpsub/validator"
	"github.com/chazu/jumpsub/wire"
)

var log = commonlog.GetLogger("jumpsub.store")

// ErrNotFound indicates no report is cached under the key.
var ErrNotFound = errors.New("store: report not found")

// Key identifies one validation.
type Key [32]byte

// KeyFor derives the cache key for validating code under the given table
// fingerprint and stack limit.
func KeyFor(code []byte, table [32]byte, stackLimit int) Key {
	h, _ := blake2b.New256(nil)
	h.Write(table[:])
	var limit [8]byte
	binary.BigEndian.PutUint64(limit[:], uint64(stackLimit))
	h.Write(limit[:])
	h.Write(code)
	var k Key
	copy(k[:], h.Sum(nil))
	return k
}

func (k Key) String() string {
	return fmt.Sprintf("%x", k[:8])
}

// Store is a validation cache. It is safe for concurrent use.
type Store struct {
	mu     sync.RWMutex
	mem    map[Key][]byte // CBOR-encoded reports
	db     *sql.DB
	path   string
	hits   int
	misses int
}

// Open creates a store. An empty path keeps reports in memory only;
// otherwise the SQLite database at path is created if needed.
func Open(path string) (*Store, error) {
	s := &Store{mem: make(map[Key][]byte), path: path}
	if path == "" {
		return s, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("store: creating directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: opening database: %w", err)
	}

	// One connection serializes writers; the busy timeout covers other
	// processes sharing the file.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: setting busy timeout: %w", err)
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS reports (
		key    BLOB PRIMARY KEY,
		report BLOB NOT NULL
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("store: creating table: %w", err)
	}

	s.db = db
	log.Infof("validation cache at %s", path)
	return s, nil
}

// Path returns the database path, or "" for an in-memory store.
func (s *Store) Path() string { return s.path }

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Lookup returns the report cached under k.
func (s *Store) Lookup(k Key) (*validator.Report, error) {
	s.mu.RLock()
	data, ok := s.mem[k]
	s.mu.RUnlock()

	if !ok && s.db != nil {
		err := s.db.QueryRow("SELECT report FROM reports WHERE key = ?", k[:]).Scan(&data)
		switch {
		case errors.Is(err, sql.ErrNoRows):
		case err != nil:
			return nil, fmt.Errorf("store: querying report %s: %w", k, err)
		default:
			ok = true
			s.mu.Lock()
			s.mem[k] = data
			s.mu.Unlock()
		}
	}
	if !ok {
		return nil, ErrNotFound
	}
	return wire.UnmarshalReport(data)
}

// Put caches r under k.
func (s *Store) Put(k Key, r *validator.Report) error {
	data, err := wire.MarshalReport(r)
	if err != nil {
		return fmt.Errorf("store: encoding report %s: %w", k, err)
	}
	if s.db != nil {
		_, err := s.db.Exec("INSERT OR REPLACE INTO reports (key, report) VALUES (?, ?)", k[:], data)
		if err != nil {
			return fmt.Errorf("store: saving report %s: %w", k, err)
		}
	}
	s.mu.Lock()
	s.mem[k] = data
	s.mu.Unlock()
	return nil
}

// ValidateCached returns the cached report for code, validating and caching
// it on a miss. cached reports whether the report came from the cache.
func (s *Store) ValidateCached(code []byte, t *opcode.Table, stackLimit int) (r *validator.Report, cached bool, err error) {
	if stackLimit <= 0 {
		stackLimit = validator.DefaultStackLimit
	}
	k := KeyFor(code, t.Fingerprint(), stackLimit)

	r, err = s.Lookup(k)
	switch {
	case err == nil:
		s.count(true)
		return r, true, nil
	case !errors.Is(err, ErrNotFound):
		return nil, false, err
	}

	s.count(false)
	r = validator.Check(code, validator.WithTable(t), validator.WithStackLimit(stackLimit))
	if err := s.Put(k, r); err != nil {
		return nil, false, err
	}
	log.Debugf("cached report %s (accepted=%t)", k, r.Accepted)
	return r, false, nil
}

// Stats returns the hit and miss counts of ValidateCached.
func (s *Store) Stats() (hits, misses int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hits, s.misses
}

func (s *Store) count(hit bool) {
	s.mu.Lock()
	if hit {
		s.hits++
	} else {
		s.misses++
	}
	s.mu.Unlock()
}
