// Package state holds the in-memory registry of eggs and its on-disk
// persistence. The store's mutex is exported via Lock/Unlock: every
// compound operation (check-then-insert, resolve-then-mutate, a
// snapshot read alongside the field writes it informs) must hold it for
// the operation's full duration, the same way the original's
// state.lock() guard is held across an entire request handler. None of
// the accessor methods below take the lock themselves any more; calling
// them without holding it is a bug.
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"gopkg.in/yaml.v2"

	"github.com/kurvproject/kurv/pkg/egg"
)

// document is the on-disk shape of the state file: a single object
// keyed by "eggs", mapping egg name to egg record.
type document struct {
	Eggs map[string]*egg.Egg `json:"eggs" yaml:"eggs"`
}

// Store is the in-memory registry of eggs, keyed by name. Iteration is
// always by name ascending via a freshly sorted slice, rather than an
// ordered-map type: no component needs incremental insertion-order
// preservation beyond "sorted by name when listed."
type Store struct {
	mu   sync.Mutex
	eggs map[string]*egg.Egg
}

// New returns an empty store.
func New() *Store {
	return &Store{eggs: make(map[string]*egg.Egg)}
}

// Lock acquires the store's mutex. Every httpapi handler and every
// reconcile phase holds it for as long as it reads or writes anything
// reachable through the store — including the *egg.Egg pointers All,
// Get, GetByName and GetByPid hand back, since those are the live
// records, not copies. The mutex is not reentrant: calling Lock again
// before Unlock, even from a method on Store itself, deadlocks.
func (s *Store) Lock() {
	s.mu.Lock()
}

// Unlock releases the store's mutex.
func (s *Store) Unlock() {
	s.mu.Unlock()
}

// Load reads path and returns a populated Store. A missing file yields
// an empty store, not an error. JSON is attempted first; a parse
// failure falls back to YAML for backward compatibility with older
// state files. After loading: plugin-registered eggs are discarded
// (they are rediscovered at boot), ids are reassigned sequentially
// starting at 1 in name order, and any egg persisted as Running is
// downgraded to Pending since the supervisor cannot adopt a foreign
// PID.
func Load(path string) (*Store, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return New(), nil
		}
		return nil, fmt.Errorf("failed to open state file %s: %w", path, err)
	}

	var doc document
	jsonErr := json.Unmarshal(raw, &doc)
	if jsonErr != nil {
		if yamlErr := yaml.Unmarshal(raw, &doc); yamlErr != nil {
			return nil, fmt.Errorf("failed to parse state file %s as JSON (%v) or YAML (%w)", path, jsonErr, yamlErr)
		}
	}

	if doc.Eggs == nil {
		doc.Eggs = make(map[string]*egg.Egg)
	}

	names := sortedNames(doc.Eggs)

	nextID := 1
	cleaned := make(map[string]*egg.Egg, len(names))
	for _, name := range names {
		e := doc.Eggs[name]
		if e.Plugin {
			continue
		}
		id := nextID
		e.ID = &id
		nextID++

		if e.State != nil && e.State.Status == egg.StatusRunning {
			e.State.Status = egg.StatusPending
			e.State.Pid = 0
			e.State.StartTime = nil
		}
		e.Synced = true
		cleaned[name] = e
	}

	return &Store{eggs: cleaned}, nil
}

// Save atomically serializes the store as pretty JSON to path: it
// writes to a sibling temp file and renames it over the target, so a
// crash mid-write never leaves a truncated state file behind. Save
// takes the lock itself — it is always called standalone, never nested
// inside a caller's own Lock/Unlock — so callers must not hold the lock
// when calling it.
func (s *Store) Save(path string) error {
	s.mu.Lock()
	doc := document{Eggs: s.eggs}
	body, err := json.MarshalIndent(doc, "", "  ")
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to serialize state: %w", err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".kurv-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp state file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(body); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp state file: %w", err)
	}
	if err := os.Chmod(tmpPath, 0644); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to chmod temp state file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp state file into place: %w", err)
	}

	return nil
}

func sortedNames(m map[string]*egg.Egg) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Collect assigns the next id (max existing id + 1) to e, inserts it
// keyed by name, and returns the assigned id. If an egg with e.Name is
// already present, Collect rejects the insert: the existing egg keeps
// its entry and id, e is left untouched, and the existing id is
// returned. Callers that must tell the two cases apart check
// Contains(e.Name) first. Requires the store's lock to be held by the
// caller across both calls, or two concurrent registrations of the same
// name can both pass Contains before either Collects.
func (s *Store) Collect(e *egg.Egg) int {
	if existing, ok := s.eggs[e.Name]; ok && existing.ID != nil {
		return *existing.ID
	}

	nextID := 1
	for _, existing := range s.eggs {
		if existing.ID != nil && *existing.ID >= nextID {
			nextID = *existing.ID + 1
		}
	}

	id := nextID
	e.ID = &id
	e.Synced = true
	s.eggs[e.Name] = e
	return id
}

// Names returns every egg name, sorted ascending. Requires the store's
// lock to be held by the caller.
func (s *Store) Names() []string {
	return sortedNames(s.eggs)
}

// All returns every egg, sorted by name ascending. The returned pointers
// are the live records, not copies: the caller must still be holding the
// store's lock for as long as it reads or writes through them. Requires
// the store's lock to be held by the caller.
func (s *Store) All() []*egg.Egg {
	names := sortedNames(s.eggs)
	out := make([]*egg.Egg, 0, len(names))
	for _, name := range names {
		out = append(out, s.eggs[name])
	}
	return out
}

// Get retrieves the egg with the given id. Requires the store's lock to
// be held by the caller.
func (s *Store) Get(id int) *egg.Egg {
	for _, e := range s.eggs {
		if e.ID != nil && *e.ID == id {
			return e
		}
	}
	return nil
}

// GetByName retrieves the egg with the given name. Requires the store's
// lock to be held by the caller.
func (s *Store) GetByName(name string) *egg.Egg {
	return s.eggs[name]
}

// GetByPid retrieves the egg whose observed pid matches. Requires the
// store's lock to be held by the caller.
func (s *Store) GetByPid(pid int) *egg.Egg {
	for _, e := range s.eggs {
		if e.State != nil && e.State.Pid == pid {
			return e
		}
	}
	return nil
}

// Contains reports whether an egg with the given name exists. Requires
// the store's lock to be held by the caller.
func (s *Store) Contains(name string) bool {
	_, ok := s.eggs[name]
	return ok
}

// GetIDByToken resolves a user-supplied token to an egg id, trying
// (in order) numeric id, numeric pid, then name. The first match wins.
// Requires the store's lock to be held by the caller.
func (s *Store) GetIDByToken(token string) (int, bool) {
	if id, err := parseInt(token); err == nil {
		if e := s.Get(id); e != nil {
			return *e.ID, true
		}
	}
	if pid, err := parseInt(token); err == nil {
		if e := s.GetByPid(pid); e != nil && e.ID != nil {
			return *e.ID, true
		}
	}
	if e := s.GetByName(token); e != nil && e.ID != nil {
		return *e.ID, true
	}
	return 0, false
}

func parseInt(s string) (int, error) {
	var n int
	_, err := fmt.Sscanf(s, "%d", &n)
	if err != nil {
		return 0, err
	}
	// Sscanf accepts leading-numeric prefixes like "12abc"; reject those
	// explicitly so tokens like "12abc" aren't misread as id 12.
	if fmt.Sprintf("%d", n) != s {
		return 0, fmt.Errorf("not a plain integer: %s", s)
	}
	return n, nil
}

// Remove deletes the egg with the given id and returns it. It refuses
// (returning an error) if the egg's observed pid is still > 0 — the
// caller must stop it first. Requires the store's lock to be held by
// the caller.
func (s *Store) Remove(id int) (*egg.Egg, error) {
	var found *egg.Egg
	for name, e := range s.eggs {
		if e.ID != nil && *e.ID == id {
			found = e
			if e.State != nil && e.State.Pid > 0 {
				return nil, fmt.Errorf("egg '%s' is still running with pid %d, please stop it first", e.Name, e.State.Pid)
			}
			delete(s.eggs, name)
			return found, nil
		}
	}
	return nil, fmt.Errorf("egg with id '%d' not found", id)
}

// Plugins returns every plugin-registered egg, sorted by name. Requires
// the store's lock to be held by the caller.
func (s *Store) Plugins() []*egg.Egg {
	return filterByPlugin(s.All(), true)
}

// NonPlugins returns every non-plugin egg, sorted by name. Requires the
// store's lock to be held by the caller.
func (s *Store) NonPlugins() []*egg.Egg {
	return filterByPlugin(s.All(), false)
}

func filterByPlugin(eggs []*egg.Egg, plugin bool) []*egg.Egg {
	out := make([]*egg.Egg, 0, len(eggs))
	for _, e := range eggs {
		if e.Plugin == plugin {
			out = append(out, e)
		}
	}
	return out
}
