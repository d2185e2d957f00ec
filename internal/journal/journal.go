// Package journal records transaction submissions so a retried request with
// the same idempotency key replays the first answer instead of asking a
// signer twice.
package journal

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// DefaultTTL is how long an entry answers replays.
const DefaultTTL = 24 * time.Hour

// OutcomePending marks a reservation held while a signer works on the key.
// Only pending entries can be released.
const OutcomePending = "pending"

// Entry is one submission attempt and the response that was sent for it.
type Entry struct {
	Key        string    `json:"key"`
	Action     string    `json:"action"`
	Actor      string    `json:"actor"`
	Outcome    string    `json:"outcome"`
	TxID       string    `json:"txId,omitempty"`
	StatusCode int       `json:"statusCode"`
	Response   []byte    `json:"response"`
	CreatedAt  time.Time `json:"createdAt"`
	ExpiresAt  time.Time `json:"expiresAt"`
}

func (e Entry) expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && now.After(e.ExpiresAt)
}

// Store persists entries. Get returns nil, nil for unknown or expired keys.
type Store interface {
	Get(ctx context.Context, key string) (*Entry, error)
	Save(ctx context.Context, entry Entry) error
	// Reserve stores entry only if no live entry holds its key. It returns
	// nil when the key was taken, otherwise the live entry already there.
	Reserve(ctx context.Context, entry Entry) (*Entry, error)
	// Release drops key if it is still a pending reservation.
	Release(ctx context.Context, key string) error
	// ByActor lists live entries for actor, newest first.
	ByActor(ctx context.Context, actor string, limit int) ([]Entry, error)
}

var (
	errEmptyKey = errors.New("journal: empty key")
	// ErrContended is returned when Reserve can neither take the key nor
	// read the entry holding it.
	ErrContended = errors.New("journal: reservation contended")
)

// entries is the map shared by the in-process stores. Callers hold the lock.
type entries map[string]Entry

func (m entries) get(key string, now time.Time) (*Entry, bool) {
	e, ok := m[key]
	if !ok {
		return nil, false
	}
	if e.expired(now) {
		delete(m, key)
		return nil, true
	}
	return &e, false
}

func (m entries) reserve(entry Entry, now time.Time) *Entry {
	if existing, _ := m.get(entry.Key, now); existing != nil {
		return existing
	}
	m[entry.Key] = entry
	return nil
}

func (m entries) release(key string) bool {
	e, ok := m[key]
	if !ok || e.Outcome != OutcomePending {
		return false
	}
	delete(m, key)
	return true
}

func (m entries) byActor(actor string, limit int, now time.Time) []Entry {
	var out []Entry
	for _, e := range m {
		if strings.EqualFold(e.Actor, actor) && !e.expired(now) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// MemoryStore keeps entries in process. Used by tests and dry runs.
type MemoryStore struct {
	mu   sync.Mutex
	data entries
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(entries)}
}

func (m *MemoryStore) Get(_ context.Context, key string) (*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, _ := m.data.get(key, time.Now())
	return e, nil
}

func (m *MemoryStore) Save(_ context.Context, entry Entry) error {
	if entry.Key == "" {
		return errEmptyKey
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[entry.Key] = entry
	return nil
}

func (m *MemoryStore) Reserve(_ context.Context, entry Entry) (*Entry, error) {
	if entry.Key == "" {
		return nil, errEmptyKey
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.reserve(entry, time.Now()), nil
}

func (m *MemoryStore) Release(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data.release(key)
	return nil
}

func (m *MemoryStore) ByActor(_ context.Context, actor string, limit int) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.byActor(actor, limit, time.Now()), nil
}

// FileStore keeps entries in a JSON file that is rewritten on every change.
type FileStore struct {
	path string
	mu   sync.Mutex
	data entries
}

func NewFileStore(path string) (*FileStore, error) {
	fs := &FileStore{path: path, data: make(entries)}
	blob, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return fs, nil
	case err != nil:
		return nil, err
	case len(blob) == 0:
		return fs, nil
	}
	if err := json.Unmarshal(blob, &fs.data); err != nil {
		return nil, err
	}
	return fs, nil
}

func (f *FileStore) persist() error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return err
	}
	blob, err := json.MarshalIndent(f.data, "", "  ")
	if err != nil {
		return err
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, blob, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, f.path)
}

func (f *FileStore) Get(_ context.Context, key string) (*Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, dropped := f.data.get(key, time.Now())
	if dropped {
		_ = f.persist()
	}
	return e, nil
}

func (f *FileStore) Save(_ context.Context, entry Entry) error {
	if entry.Key == "" {
		return errEmptyKey
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[entry.Key] = entry
	return f.persist()
}

func (f *FileStore) Reserve(_ context.Context, entry Entry) (*Entry, error) {
	if entry.Key == "" {
		return nil, errEmptyKey
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if existing := f.data.reserve(entry, time.Now()); existing != nil {
		return existing, nil
	}
	if err := f.persist(); err != nil {
		delete(f.data, entry.Key)
		return nil, err
	}
	return nil, nil
}

func (f *FileStore) Release(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.data.release(key) {
		return nil
	}
	return f.persist()
}

func (f *FileStore) ByActor(_ context.Context, actor string, limit int) ([]Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.data.byActor(actor, limit, time.Now()), nil
}
