package rules

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
)

// ErrCorrupt is returned by Storage.Load when the durable document exists
// but cannot be decoded.
var ErrCorrupt = errors.New("rule table is corrupt")

// Storage persists the whole rule table as one document.
type Storage interface {
	// Load returns the stored table and the keys of entries that were
	// dropped as invalid. A missing document is an empty table.
	Load(ctx context.Context) (table map[int]Rule, skipped []string, err error)
	// Save replaces the stored table.
	Save(ctx context.Context, table map[int]Rule) error
}

type entry struct {
	Description string `json:"description"`
	Action      int    `json:"action"`
}

// encodeTable renders the table as a JSON object keyed by decimal rule id.
func encodeTable(table map[int]Rule) ([]byte, error) {
	doc := make(map[string]entry, len(table))
	for id, r := range table {
		doc[strconv.Itoa(id)] = entry{Description: r.Description, Action: int(r.Action)}
	}
	return json.Marshal(doc)
}

// decodeTable parses a stored document. Blank content is an empty table.
// Each entry is checked on its own: one with a non-numeric key, a
// non-positive id, a mistyped field, an unknown action or a blank
// description is dropped and its key returned in skipped. Only a document
// that is not a JSON object is ErrCorrupt.
func decodeTable(data []byte) (table map[int]Rule, skipped []string, err error) {
	table = make(map[int]Rule)
	if len(bytes.TrimSpace(data)) == 0 {
		return table, nil, nil
	}
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	for key, raw := range doc {
		var e entry
		if err := json.Unmarshal(raw, &e); err != nil {
			skipped = append(skipped, key)
			continue
		}
		id, err := strconv.Atoi(key)
		if err != nil {
			skipped = append(skipped, key)
			continue
		}
		r, err := newRule(id, e.Description, Action(e.Action))
		if err != nil {
			skipped = append(skipped, key)
			continue
		}
		table[id] = r
	}
	sort.Strings(skipped)
	return table, skipped, nil
}

func digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// FileStorage keeps the rule table in a JSON file.
type FileStorage struct {
	path string

	mu         sync.Mutex
	lastDigest string
}

// NewFileStorage returns a Storage backed by the file at path.
func NewFileStorage(path string) *FileStorage {
	return &FileStorage{path: filepath.Clean(path)}
}

// Path returns the backing file path.
func (fs *FileStorage) Path() string {
	return fs.path
}

// Load reads the file. A missing file is created holding an empty object.
func (fs *FileStorage) Load(ctx context.Context) (map[int]Rule, []string, error) {
	data, err := os.ReadFile(fs.path)
	if errors.Is(err, os.ErrNotExist) {
		if err := fs.Save(ctx, map[int]Rule{}); err != nil {
			return map[int]Rule{}, nil, err
		}
		return map[int]Rule{}, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("read %s: %w", fs.path, err)
	}
	fs.remember(data)
	table, skipped, err := decodeTable(data)
	if err != nil {
		return nil, nil, fmt.Errorf("decode %s: %w", fs.path, err)
	}
	return table, skipped, nil
}

// Save writes the table to a temp file in the same directory and renames it
// over the target, so readers never see a half-written document.
func (fs *FileStorage) Save(_ context.Context, table map[int]Rule) error {
	data, err := encodeTable(table)
	if err != nil {
		return fmt.Errorf("encode rules: %w", err)
	}
	dir := filepath.Dir(fs.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".rules-*.json")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", tmpName, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmpName, err)
	}
	// Record the digest before the rename so a watcher woken by it already
	// sees the new content as our own.
	prev := fs.swapDigest(digest(data))
	if err := os.Rename(tmpName, fs.path); err != nil {
		fs.swapDigest(prev)
		return fmt.Errorf("rename to %s: %w", fs.path, err)
	}
	return nil
}

// Changed reports whether the file content differs from what this storage
// last read or wrote.
func (fs *FileStorage) Changed() (bool, error) {
	data, err := os.ReadFile(fs.path)
	if err != nil {
		return false, err
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return digest(data) != fs.lastDigest, nil
}

func (fs *FileStorage) remember(data []byte) {
	fs.swapDigest(digest(data))
}

func (fs *FileStorage) swapDigest(d string) string {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	prev := fs.lastDigest
	fs.lastDigest = d
	return prev
}

// MemoryStorage keeps the encoded table in memory. Used in tests and as a
// scratch backend.
type MemoryStorage struct {
	mu   sync.Mutex
	data []byte
	err  error
}

// NewMemoryStorage returns a storage seeded with an optional JSON document.
func NewMemoryStorage(seed []byte) *MemoryStorage {
	return &MemoryStorage{data: seed}
}

// FailWith makes every subsequent Save return err. Pass nil to recover.
func (m *MemoryStorage) FailWith(err error) {
	m.mu.Lock()
	m.err = err
	m.mu.Unlock()
}

// Bytes returns the last saved document.
func (m *MemoryStorage) Bytes() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]byte(nil), m.data...)
}

func (m *MemoryStorage) Load(_ context.Context) (map[int]Rule, []string, error) {
	m.mu.Lock()
	data := m.data
	m.mu.Unlock()
	return decodeTable(data)
}

func (m *MemoryStorage) Save(_ context.Context, table map[int]Rule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	data, err := encodeTable(table)
	if err != nil {
		return err
	}
	m.data = data
	return nil
}
