package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
	"whalebot/internal/model"
)

const fileExt = ".json"

// Store owns one identity's state file. Update performs the whole
// read-modify-write-persist under a single mutex so loops sharing the
// record never drop each other's changes.
type Store struct {
	mu    sync.Mutex
	path  string
	state model.IdentityState

	persistMu sync.Mutex
	log       *zap.Logger
}

type Options struct {
	Dir    string
	Name   string
	Logger *zap.Logger
}

func PathFor(dir, name string) string {
	return filepath.Join(dir, name+fileExt)
}

// Open loads the identity's record. A missing, empty or corrupted file
// yields a fresh empty record.
func Open(opts Options) (*Store, error) {
	if opts.Name == "" {
		return nil, errors.New("missing identity name")
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	s := &Store{path: PathFor(opts.Dir, opts.Name), log: log}

	state, err := readState(s.path)
	switch {
	case err == nil:
		s.state = state
	case os.IsNotExist(err):
		log.Warn("state file not found, creating a new one", zap.String("path", s.path))
	case errors.Is(err, errEmpty):
		log.Warn("state file is empty, creating a new one", zap.String("path", s.path))
	default:
		var syntaxErr *json.SyntaxError
		var typeErr *json.UnmarshalTypeError
		if !errors.As(err, &syntaxErr) && !errors.As(err, &typeErr) {
			return nil, fmt.Errorf("load state %s: %w", s.path, err)
		}
		log.Warn("state file is corrupted, creating a new one", zap.String("path", s.path), zap.Error(err))
	}
	return s, nil
}

var errEmpty = errors.New("empty state file")

func readState(path string) (model.IdentityState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return model.IdentityState{}, err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return model.IdentityState{}, errEmpty
	}
	var st model.IdentityState
	if err := json.Unmarshal(data, &st); err != nil {
		return model.IdentityState{}, err
	}
	return st, nil
}

func (s *Store) Path() string { return s.path }

// Snapshot returns a copy of the current record.
func (s *Store) Snapshot() model.IdentityState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone()
}

// Update applies fn to the record and persists the result. Writes reach
// disk in the same order as the in-memory changes.
func (s *Store) Update(fn func(st *model.IdentityState)) error {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	s.mu.Lock()
	fn(&s.state)
	snapshot := s.state.Clone()
	s.mu.Unlock()
	return s.persist(snapshot)
}

// persist must be called with persistMu held.
func (s *Store) persist(st model.IdentityState) error {

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("state persistence: mkdir %s: %w", dir, err)
	}

	data, err := json.MarshalIndent(st, "", "    ")
	if err != nil {
		return fmt.Errorf("state persistence: marshal: %w", err)
	}
	data = append(data, '\n')

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("state persistence: create temp: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("state persistence: chmod temp: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("state persistence: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("state persistence: sync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("state persistence: close temp: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("state persistence: rename: %w", err)
	}
	return nil
}

type Entry struct {
	Name  string
	State model.IdentityState
}

// List reads every state file in dir, sorted by identity name. Unreadable
// files are skipped.
func List(dir string) ([]Entry, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	result := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), fileExt) {
			continue
		}
		st, err := readState(filepath.Join(dir, e.Name()))
		if err != nil {
			continue
		}
		result = append(result, Entry{Name: strings.TrimSuffix(e.Name(), fileExt), State: st})
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

func Load(dir, name string) (model.IdentityState, bool, error) {
	st, err := readState(PathFor(dir, name))
	if err != nil {
		if os.IsNotExist(err) {
			return model.IdentityState{}, false, nil
		}
		return model.IdentityState{}, false, err
	}
	return st, true, nil
}

type Summary struct {
	Identities   int     `json:"identities"`
	TotalBalance float64 `json:"totalBalance"`
	BannedCount  int     `json:"bannedCount"`
}

func Summarize(dir string) (Summary, error) {
	entries, err := List(dir)
	if err != nil {
		return Summary{}, err
	}
	var sum Summary
	for _, e := range entries {
		sum.Identities++
		sum.TotalBalance += e.State.Balance
		if e.State.Banned {
			sum.BannedCount++
		}
	}
	return sum, nil
}
