package autoscaler

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// ForbiddenSet tracks machines that produced stuck or errored instances.
// Additive within a process and persisted to disk between runs, so a bad
// host is never rented twice.
type ForbiddenSet struct {
	path string

	mu    sync.Mutex
	hosts map[int64]bool
}

// LoadForbiddenSet reads the persisted set; a missing file yields an empty
// set.
func LoadForbiddenSet(path string) (*ForbiddenSet, error) {
	fs := &ForbiddenSet{path: path, hosts: map[int64]bool{}}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return fs, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read forbidden set: %w", err)
	}
	var ids []int64
	if err := json.Unmarshal(data, &ids); err != nil {
		return nil, fmt.Errorf("decode forbidden set %q: %w", path, err)
	}
	for _, id := range ids {
		fs.hosts[id] = true
	}
	return fs, nil
}

// Contains reports whether a machine is forbidden.
func (fs *ForbiddenSet) Contains(machineID int64) bool {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.hosts[machineID]
}

// Add marks a machine forbidden and persists the set. Persistence is
// write-to-temp-then-rename so a crash never truncates the file.
func (fs *ForbiddenSet) Add(machineID int64) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.hosts[machineID] {
		return nil
	}
	fs.hosts[machineID] = true
	return fs.persistLocked()
}

func (fs *ForbiddenSet) persistLocked() error {
	ids := make([]int64, 0, len(fs.hosts))
	for id := range fs.hosts {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	data, err := json.Marshal(ids)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(fs.path), 0o755); err != nil {
		return err
	}
	tmp := fs.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write forbidden set: %w", err)
	}
	if err := os.Rename(tmp, fs.path); err != nil {
		return fmt.Errorf("persist forbidden set: %w", err)
	}
	return nil
}

// Len returns the number of forbidden machines.
func (fs *ForbiddenSet) Len() int {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return len(fs.hosts)
}
