package sync

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// StateFileName is the well-known state file under the local mirror root.
const StateFileName = ".hq-sync-state.json"

// IgnoreFileName is the per-directory rule file consulted by the poller.
const IgnoreFileName = ".hqignore"

// stateVersion is the on-disk schema version.
const stateVersion = 1

// StateEntry records the synced identity of one local file. The file is
// in-sync iff its remote etag equals the stored one.
type StateEntry struct {
	RelativePath string    `json:"relativePath"`
	LastModified int64     `json:"lastModified"` // ms since epoch
	ETag         string    `json:"etag"`
	Size         int64     `json:"size"`
	SyncedAt     time.Time `json:"syncedAt"`
}

// State is the poller's persisted view of the mirror.
type State struct {
	Version    int                   `json:"version"`
	UserID     string                `json:"userId,omitempty"`
	S3Prefix   string                `json:"s3Prefix,omitempty"`
	LastPollAt *time.Time            `json:"lastPollAt,omitempty"`
	Entries    map[string]StateEntry `json:"entries"`
}

// NewState returns an empty state for the prefix.
func NewState(userID, s3Prefix string) *State {
	return &State{
		Version:  stateVersion,
		UserID:   userID,
		S3Prefix: s3Prefix,
		Entries:  make(map[string]StateEntry),
	}
}

// LoadState reads the state file. A missing file yields a fresh state; a
// corrupt or wrong-version file is discarded the same way, so a damaged
// mirror heals by re-downloading.
func LoadState(path, userID, s3Prefix string) *State {
	data, err := os.ReadFile(path)
	if err != nil {
		return NewState(userID, s3Prefix)
	}
	var st State
	if err := json.Unmarshal(data, &st); err != nil || st.Version != stateVersion {
		return NewState(userID, s3Prefix)
	}
	if st.Entries == nil {
		st.Entries = make(map[string]StateEntry)
	}
	return &st
}

// Save writes the state atomically: temp file in the same directory, then
// rename. An external reader sees either the prior or the new full state.
func (s *State) Save(path string) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal sync state: %w", err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".hq-sync-state-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp state file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace state file: %w", err)
	}
	return nil
}

// Remove deletes the on-disk state file if present.
func (s *State) Remove(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
