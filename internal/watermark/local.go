package watermark

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// LocalStore persists watermarks in a single JSON ledger file. Writes are
// serialized through a mutex and committed with a rename so a crashed run
// never leaves a torn ledger.
type LocalStore struct {
	path string
	mu   sync.Mutex
}

// NewLocalStore creates a file-backed watermark ledger at path.
func NewLocalStore(path string) (*LocalStore, error) {
	if path == "" {
		path = filepath.Join(os.TempDir(), "bronze-watermarks.json")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create watermark dir: %w", err)
	}
	return &LocalStore{path: path}, nil
}

// Get returns the stored watermark for the key, or an empty one on first run.
func (s *LocalStore) Get(ctx context.Context, key Key, valueType string) (*Watermark, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	ledger, err := s.readLedger()
	if err != nil {
		return nil, err
	}
	if w, ok := ledger[key.String()]; ok {
		return w, nil
	}
	return &Watermark{Key: key, Type: valueType}, nil
}

// Save upserts the watermark into the ledger.
func (s *LocalStore) Save(ctx context.Context, w *Watermark) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	ledger, err := s.readLedger()
	if err != nil {
		return err
	}
	ledger[w.Key.String()] = w

	data, err := json.MarshalIndent(ledger, "", "  ")
	if err != nil {
		return fmt.Errorf("encode watermark ledger: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write watermark ledger: %w", err)
	}
	return os.Rename(tmp, s.path)
}

func (s *LocalStore) readLedger() (map[string]*Watermark, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]*Watermark{}, nil
		}
		return nil, err
	}
	ledger := map[string]*Watermark{}
	if err := json.Unmarshal(data, &ledger); err != nil {
		return nil, fmt.Errorf("decode watermark ledger: %w", err)
	}
	return ledger, nil
}
