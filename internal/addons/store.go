package addons

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// HistoryEntry records one installed add-on
type HistoryEntry struct {
	Name        string      `json:"name"`
	Kind        Kind        `json:"kind"`
	Source      string      `json:"source"`
	Mode        InstallMode `json:"mode"`
	Size        int64       `json:"size"`
	Cycle       string      `json:"cycle,omitempty"`
	InstalledAt time.Time   `json:"installed_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// History is the persisted install history, keyed by target path
type History struct {
	Installs map[string]HistoryEntry `json:"installs"`
}

// HistoryStore handles persistence of the install history
type HistoryStore struct {
	path    string
	history *History
	mu      sync.RWMutex
}

// NewHistoryStore creates a history store in dataDir
func NewHistoryStore(dataDir string) *HistoryStore {
	return &HistoryStore{
		path: filepath.Join(dataDir, "history.json"),
		history: &History{
			Installs: make(map[string]HistoryEntry),
		},
	}
}

// Path returns the history file location
func (hs *HistoryStore) Path() string { return hs.path }

// Load reads the history from disk
func (hs *HistoryStore) Load() error {
	hs.mu.Lock()
	defer hs.mu.Unlock()

	data, err := os.ReadFile(hs.path)
	if err != nil {
		if os.IsNotExist(err) {
			// Initialize empty history
			hs.history = &History{
				Installs: make(map[string]HistoryEntry),
			}
			return nil
		}
		return err
	}

	var history History
	if err := json.Unmarshal(data, &history); err != nil {
		return err
	}

	if history.Installs == nil {
		history.Installs = make(map[string]HistoryEntry)
	}

	hs.history = &history
	return nil
}

// Save writes the history to disk
func (hs *HistoryStore) Save() error {
	hs.mu.Lock()
	defer hs.mu.Unlock()

	// Ensure directory exists
	dir := filepath.Dir(hs.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(hs.history, "", "  ")
	if err != nil {
		return err
	}

	// Write via rename so a crash never leaves a truncated file
	tmp := hs.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, hs.path)
}

// Record stores a completed install, keeping the first install time when the
// target was installed before
func (hs *HistoryStore) Record(target string, entry HistoryEntry) {
	hs.mu.Lock()
	defer hs.mu.Unlock()

	now := time.Now()
	if entry.UpdatedAt.IsZero() {
		entry.UpdatedAt = now
	}
	if prev, ok := hs.history.Installs[target]; ok && !prev.InstalledAt.IsZero() {
		entry.InstalledAt = prev.InstalledAt
	} else if entry.InstalledAt.IsZero() {
		entry.InstalledAt = entry.UpdatedAt
	}
	hs.history.Installs[target] = entry
}

// Get retrieves the entry for a target path
func (hs *HistoryStore) Get(target string) (HistoryEntry, bool) {
	hs.mu.RLock()
	defer hs.mu.RUnlock()

	entry, ok := hs.history.Installs[target]
	return entry, ok
}

// Delete removes the entry for a target path
func (hs *HistoryStore) Delete(target string) {
	hs.mu.Lock()
	defer hs.mu.Unlock()

	delete(hs.history.Installs, target)
}

// Targets returns all recorded target paths, sorted
func (hs *HistoryStore) Targets() []string {
	hs.mu.RLock()
	defer hs.mu.RUnlock()

	targets := make([]string, 0, len(hs.history.Installs))
	for target := range hs.history.Installs {
		targets = append(targets, target)
	}
	sort.Strings(targets)
	return targets
}

// Prune drops entries whose target no longer exists and returns them
func (hs *HistoryStore) Prune() []string {
	hs.mu.Lock()
	defer hs.mu.Unlock()

	var removed []string
	for target := range hs.history.Installs {
		if _, err := os.Stat(target); os.IsNotExist(err) {
			delete(hs.history.Installs, target)
			removed = append(removed, target)
		}
	}
	sort.Strings(removed)
	return removed
}
