package store

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"sync"
)

// agentIDPattern restricts agent ids to path-safe names, since each agent id
// becomes a directory on disk.
var agentIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)

// Registry owns the live store handles, one per agent id. It is constructed
// once at the application root and passed down explicitly; there is no
// package-level instance.
type Registry struct {
	mu      sync.Mutex
	dataDir string
	stores  map[string]*SQLiteStore
}

// NewRegistry creates a registry rooted at dataDir. Stores are opened lazily
// as agents are first referenced.
func NewRegistry(dataDir string) *Registry {
	return &Registry{
		dataDir: dataDir,
		stores:  make(map[string]*SQLiteStore),
	}
}

// GetOrCreate returns the agent's store, opening (and provisioning the
// directory for) its database file on first use. Each agent's file is
// independent, so contention is isolated per agent.
func (r *Registry) GetOrCreate(agentID string) (*SQLiteStore, error) {
	if agentID == "" {
		agentID = DefaultAgentID
	}
	if !agentIDPattern.MatchString(agentID) {
		return nil, fmt.Errorf("registry: invalid agent id %q", agentID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.stores[agentID]; ok {
		return s, nil
	}

	dir := filepath.Join(r.dataDir, "agents", agentID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("registry: provision %s: %w", dir, err)
	}

	s, err := NewSQLiteStoreWithDSN(filepath.Join(dir, "graph.db"))
	if err != nil {
		return nil, fmt.Errorf("registry: open store for agent %s: %w", agentID, err)
	}
	r.stores[agentID] = s
	return s, nil
}

// ListAgents returns the agent ids that have stores on disk, plus any opened
// in-process but not yet flushed, sorted.
func (r *Registry) ListAgents() ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	agents := make(map[string]bool, len(r.stores))
	for id := range r.stores {
		agents[id] = true
	}

	entries, err := os.ReadDir(filepath.Join(r.dataDir, "agents"))
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("registry: list agents: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() {
			agents[e.Name()] = true
		}
	}

	ids := make([]string, 0, len(agents))
	for id := range agents {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// CloseAll closes every open store. The registry remains usable; stores
// reopen on the next GetOrCreate.
func (r *Registry) CloseAll() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var firstErr error
	for id, s := range r.stores {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("registry: close store for agent %s: %w", id, err)
		}
		delete(r.stores, id)
	}
	return firstErr
}
