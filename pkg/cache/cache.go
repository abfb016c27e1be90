// Package cache keeps small API answers (counts, facet tables) on disk so repeated invocations
// don't burn query credits.
package cache

import (
	"bytes"
	"crypto/sha1"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

var magic = []byte("SHNG")

const headerLen = 12 // magic + big-endian unix timestamp

var (
	ErrMiss    = errors.New("cache miss")
	ErrExpired = errors.New("cache entry expired")
)

// Key identifies a cache entry.
type Key interface {
	Hash() string
}

// StringKey is the simplest Key.
type StringKey string

func (s StringKey) Hash() string { return string(s) }

// Entry is a loaded cache entry.
type Entry struct {
	created time.Time
	data    []byte
}

func (e *Entry) Age() time.Duration { return time.Since(e.created) }
func (e *Entry) Bytes() []byte      { return e.data }

// Manager stores entries under dir, fanned out by hash prefix. A zero or negative ttl disables
// the cache: every Load misses and Save is a no-op.
type Manager struct {
	sync.Mutex
	dir string
	ttl time.Duration
	now func() time.Time
}

// NewManager creates the cache directory if needed.
func NewManager(dir string, ttl time.Duration) (*Manager, error) {
	if ttl > 0 {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create cache dir: %w", err)
		}
	}

	return &Manager{dir: dir, ttl: ttl, now: time.Now}, nil
}

func (m *Manager) enabled() bool { return m != nil && m.ttl > 0 }

func (m *Manager) path(key Key) string {
	sum := sha1.Sum([]byte(key.Hash()))
	h := hex.EncodeToString(sum[:])
	return filepath.Join(m.dir, h[0:2], h[2:4], h)
}

// Save writes data for key, replacing any previous entry.
func (m *Manager) Save(key Key, data []byte) error {
	if !m.enabled() {
		return nil
	}

	m.Lock()
	defer m.Unlock()

	fn := m.path(key)
	if err := os.MkdirAll(filepath.Dir(fn), 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}

	var buf bytes.Buffer
	buf.Write(magic)
	if err := binary.Write(&buf, binary.BigEndian, uint64(m.now().Unix())); err != nil {
		return fmt.Errorf("write timestamp: %w", err)
	}
	buf.Write(data)

	if err := os.WriteFile(fn, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write file: %w", err)
	}

	log.Debugf("cached %q in %s", key.Hash(), fn)
	return nil
}

// Load returns the entry for key, ErrMiss if there is none, or ErrExpired if it is older than the
// manager's ttl.
func (m *Manager) Load(key Key) (*Entry, error) {
	if !m.enabled() {
		return nil, ErrMiss
	}

	m.Lock()
	defer m.Unlock()

	dat, err := os.ReadFile(m.path(key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrMiss
		}
		return nil, fmt.Errorf("read: %w", err)
	}

	if len(dat) < headerLen {
		return nil, fmt.Errorf("entry too short: %d bytes", len(dat))
	}

	if !bytes.Equal(dat[:4], magic) {
		return nil, fmt.Errorf("invalid magic: %q", dat[:4])
	}

	ent := &Entry{
		created: time.Unix(int64(binary.BigEndian.Uint64(dat[4:headerLen])), 0),
		data:    dat[headerLen:],
	}

	if age := m.now().Sub(ent.created); age > m.ttl {
		log.Debugf("cache entry for %q expired (age: %s)", key.Hash(), age)
		return nil, ErrExpired
	}

	return ent, nil
}
