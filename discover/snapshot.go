package discover

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/justapithecus/prospector/types"
)

const (
	snapshotPrefix = "population_"
	snapshotSuffix = ".json"
	// snapshotTimeLayout encodes the creation time in the filename. The
	// filename timestamp is the freshness source of truth: file mtimes are
	// unreliable when snapshots move between machines.
	snapshotTimeLayout = "20060102_150405"
)

// SnapshotPolicy decides when a cached snapshot may be trusted over a fresh
// discovery pass.
type SnapshotPolicy struct {
	// MaxAge is the freshness threshold.
	MaxAge time.Duration
	// MinSize is the minimum candidate count.
	MinSize int
}

// DefaultSnapshotPolicy trusts snapshots younger than a day holding at
// least twenty thousand candidates.
func DefaultSnapshotPolicy() SnapshotPolicy {
	return SnapshotPolicy{MaxAge: 24 * time.Hour, MinSize: 20000}
}

// SnapshotStore persists population snapshots under a data directory.
// Snapshots are never mutated in place: every save writes a new file named
// by creation time.
type SnapshotStore struct {
	dir string
	now func() time.Time
}

// NewSnapshotStore creates a store rooted at dir.
func NewSnapshotStore(dir string) *SnapshotStore {
	return &SnapshotStore{dir: dir, now: time.Now}
}

// Save writes the snapshot as a timestamped JSON file and returns its path.
func (s *SnapshotStore) Save(snapshot *types.Snapshot) (string, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("create snapshot dir: %w", err)
	}

	name := snapshotPrefix + snapshot.CollectedAt.UTC().Format(snapshotTimeLayout) + snapshotSuffix
	path := filepath.Join(s.dir, name)

	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write snapshot: %w", err)
	}
	return path, nil
}

// LoadLatest returns the newest snapshot satisfying the policy, or nil when
// no usable snapshot exists. Corrupt or unreadable files are skipped, not
// fatal: the caller falls back to fresh discovery.
func (s *SnapshotStore) LoadLatest(policy SnapshotPolicy) (*types.Snapshot, string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, "", nil
		}
		return nil, "", fmt.Errorf("read snapshot dir: %w", err)
	}

	type candidate struct {
		name      string
		createdAt time.Time
	}
	var candidates []candidate
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		createdAt, ok := parseSnapshotName(entry.Name())
		if !ok {
			continue
		}
		candidates = append(candidates, candidate{name: entry.Name(), createdAt: createdAt})
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].createdAt.After(candidates[j].createdAt)
	})

	now := s.now().UTC()
	for _, cand := range candidates {
		if now.Sub(cand.createdAt) > policy.MaxAge {
			// Newest first: everything after this is older still.
			break
		}

		path := filepath.Join(s.dir, cand.name)
		snapshot, err := readSnapshot(path)
		if err != nil {
			continue
		}
		if snapshot.Count() < policy.MinSize {
			continue
		}
		return snapshot, path, nil
	}

	return nil, "", nil
}

func readSnapshot(path string) (*types.Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var snapshot types.Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, err
	}
	if len(snapshot.Usernames) == 0 {
		return nil, fmt.Errorf("snapshot %s holds no candidates", path)
	}
	return &snapshot, nil
}

// parseSnapshotName extracts the creation time from a snapshot filename.
func parseSnapshotName(name string) (time.Time, bool) {
	if !strings.HasPrefix(name, snapshotPrefix) || !strings.HasSuffix(name, snapshotSuffix) {
		return time.Time{}, false
	}
	stamp := strings.TrimSuffix(strings.TrimPrefix(name, snapshotPrefix), snapshotSuffix)
	createdAt, err := time.Parse(snapshotTimeLayout, stamp)
	if err != nil {
		return time.Time{}, false
	}
	return createdAt, true
}
