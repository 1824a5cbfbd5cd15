package sync

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	gosync "sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hq-ai/hq/pkg/ignore"
)

// DeletedFilePolicy controls what happens to a tracked local file whose
// remote counterpart disappeared.
type DeletedFilePolicy string

// Delete policies.
const (
	// DeletePolicyKeep leaves the local file in place and stops tracking it.
	DeletePolicyKeep DeletedFilePolicy = "keep"
	// DeletePolicyTrash moves the local file into the trash directory.
	DeletePolicyTrash DeletedFilePolicy = "trash"
	// DeletePolicyDelete removes the local file.
	DeletePolicyDelete DeletedFilePolicy = "delete"
)

// TrashDirName is where trashed files land under the mirror root.
const TrashDirName = ".hq-trash"

// Defaults for PollerConfig zero values.
const (
	DefaultPollInterval = 30 * time.Second
	DefaultConcurrency  = 5
	DefaultMaxListPages = 10
)

// PollerConfig configures one mirror.
type PollerConfig struct {
	LocalDir     string
	RemotePrefix string
	UserID       string

	Interval     time.Duration
	Concurrency  int
	MaxListPages int
	DeletePolicy DeletedFilePolicy

	// PreserveTimestamps stamps downloaded files with the remote
	// LastModified instead of the download time.
	PreserveTimestamps bool
}

func (c *PollerConfig) applyDefaults() {
	if c.Interval <= 0 {
		c.Interval = DefaultPollInterval
	}
	if c.Concurrency <= 0 {
		c.Concurrency = DefaultConcurrency
	}
	if c.MaxListPages <= 0 {
		c.MaxListPages = DefaultMaxListPages
	}
	if c.DeletePolicy == "" {
		c.DeletePolicy = DeletePolicyKeep
	}
}

// PollResult summarizes one cycle.
type PollResult struct {
	Success         bool `json:"success"`
	ChangesDetected int  `json:"changesDetected"`
	FilesDownloaded int  `json:"filesDownloaded"`
	Errors          int  `json:"errors"`
}

// Poller mirrors a remote prefix into a local directory. Cycles never
// overlap: a tick that arrives while a cycle is still running is skipped.
type Poller struct {
	cfg    PollerConfig
	store  ObjectStore
	logger *slog.Logger

	Events Emitter

	pollMu   gosync.Mutex // held for the duration of one cycle
	stateMu  gosync.Mutex // guards state
	state    *State
	matchers *ignore.Cache

	runMu   gosync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewPoller creates a poller over the store. State is loaded lazily on the
// first cycle.
func NewPoller(cfg PollerConfig, store ObjectStore) *Poller {
	cfg.applyDefaults()
	return &Poller{
		cfg:      cfg,
		store:    store,
		logger:   slog.Default().With("component", "sync.poller"),
		matchers: ignore.NewCache(),
	}
}

// Start launches the polling loop. Calling Start on a running poller is a
// no-op.
func (p *Poller) Start(ctx context.Context) {
	p.runMu.Lock()
	defer p.runMu.Unlock()
	if p.running {
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	p.running = true
	p.cancel = cancel
	p.done = make(chan struct{})

	go func() {
		defer close(p.done)
		ticker := time.NewTicker(p.cfg.Interval)
		defer ticker.Stop()

		// First cycle runs immediately rather than one interval in.
		p.PollOnce(loopCtx)
		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				p.PollOnce(loopCtx)
			}
		}
	}()

	p.logger.Info("Sync poller started",
		"localDir", p.cfg.LocalDir,
		"remotePrefix", p.cfg.RemotePrefix,
		"interval", p.cfg.Interval)
}

// Stop halts the polling loop and waits for an in-flight cycle to finish.
// Calling Stop on a stopped poller is a no-op.
func (p *Poller) Stop() {
	p.runMu.Lock()
	if !p.running {
		p.runMu.Unlock()
		return
	}
	p.running = false
	cancel := p.cancel
	done := p.done
	p.runMu.Unlock()

	cancel()
	<-done
	p.logger.Info("Sync poller stopped", "localDir", p.cfg.LocalDir)
}

// ResetState discards the persisted mirror state so the next cycle treats
// every remote object as new. Local files are left untouched.
func (p *Poller) ResetState() error {
	p.stateMu.Lock()
	defer p.stateMu.Unlock()
	p.state = NewState(p.cfg.UserID, p.cfg.RemotePrefix)
	return p.state.Remove(p.statePath())
}

// PollOnce runs one reconciliation cycle. If another cycle is in flight the
// call is skipped and the zero result is returned.
func (p *Poller) PollOnce(ctx context.Context) PollResult {
	if !p.pollMu.TryLock() {
		p.logger.Debug("Poll skipped, previous cycle still running")
		p.Events.emitPollSkipped()
		return PollResult{}
	}
	defer p.pollMu.Unlock()

	result := p.poll(ctx)
	if result.Success {
		p.Events.emitPollComplete(PollComplete{Result: result})
	}
	return result
}

func (p *Poller) poll(ctx context.Context) PollResult {
	var result PollResult

	state := p.loadState()
	matcher := p.loadMatcher()

	objects, err := p.store.List(ctx, p.cfg.RemotePrefix, p.cfg.MaxListPages)
	if err != nil {
		p.logger.Error("Remote listing failed", "error", err)
		p.Events.emitError(PollError{Err: err})
		result.Errors++
		return result
	}

	remote := make(map[string]Object, len(objects))
	for _, obj := range objects {
		rel := p.relativePath(obj.Key)
		if rel == "" || strings.HasSuffix(obj.Key, "/") {
			continue
		}
		if rel == StateFileName || matcher.Match(rel, false) {
			continue
		}
		remote[rel] = obj
	}

	// Detect additions and modifications against the stored etags. The
	// diff is computed under the lock, events fire after it is released.
	var changed []Object
	var changeEvents []ChangeDetected
	var removed []string
	p.stateMu.Lock()
	for rel, obj := range remote {
		entry, tracked := state.Entries[rel]
		switch {
		case !tracked:
			changeEvents = append(changeEvents, ChangeDetected{
				RelativePath: rel, Reason: ChangeNew, ETag: obj.ETag, Size: obj.Size})
			changed = append(changed, obj)
		case entry.ETag != obj.ETag:
			changeEvents = append(changeEvents, ChangeDetected{
				RelativePath: rel, Reason: ChangeModified, ETag: obj.ETag, Size: obj.Size})
			changed = append(changed, obj)
		}
	}
	for rel := range state.Entries {
		if _, ok := remote[rel]; !ok {
			removed = append(removed, rel)
		}
	}
	p.stateMu.Unlock()

	for _, ev := range changeEvents {
		p.Events.emitChangeDetected(ev)
	}

	result.ChangesDetected = len(changed) + len(removed)

	downloaded, errCount := p.downloadAll(ctx, changed)
	result.FilesDownloaded = downloaded
	result.Errors += errCount

	for _, rel := range removed {
		if err := p.applyDeletePolicy(rel); err != nil {
			p.logger.Warn("Delete policy failed", "path", rel, "error", err)
			p.Events.emitError(PollError{RelativePath: rel, Err: err})
			result.Errors++
			continue
		}
		p.stateMu.Lock()
		delete(state.Entries, rel)
		p.stateMu.Unlock()
		p.Events.emitFileDeleted(FileDeleted{RelativePath: rel, Policy: p.cfg.DeletePolicy})
	}

	now := time.Now().UTC()
	p.stateMu.Lock()
	state.LastPollAt = &now
	saveErr := state.Save(p.statePath())
	p.stateMu.Unlock()
	if saveErr != nil {
		p.logger.Error("Failed to persist sync state", "error", saveErr)
		p.Events.emitError(PollError{Err: saveErr})
		result.Errors++
		return result
	}

	result.Success = true
	return result
}

// downloadAll fetches changed objects with a bounded worker pool. A single
// failed download is counted and skipped; it does not abort the cycle.
func (p *Poller) downloadAll(ctx context.Context, objects []Object) (int, int) {
	if len(objects) == 0 {
		return 0, 0
	}

	var mu gosync.Mutex
	downloaded, failed := 0, 0

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Concurrency)
	for _, obj := range objects {
		obj := obj
		g.Go(func() error {
			if err := p.downloadOne(gctx, obj); err != nil {
				p.logger.Warn("Download failed", "key", obj.Key, "error", err)
				p.Events.emitError(PollError{RelativePath: p.relativePath(obj.Key), Err: err})
				mu.Lock()
				failed++
				mu.Unlock()
				return nil
			}
			mu.Lock()
			downloaded++
			mu.Unlock()
			return nil
		})
	}
	g.Wait()
	return downloaded, failed
}

func (p *Poller) downloadOne(ctx context.Context, obj Object) error {
	rel := p.relativePath(obj.Key)
	dest := filepath.Join(p.cfg.LocalDir, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("create parent directory: %w", err)
	}

	body, err := p.store.Download(ctx, obj.Key)
	if err != nil {
		return err
	}
	defer body.Close()

	// Write to a sibling temp file and rename, so a reader never observes a
	// half-written file.
	tmp, err := os.CreateTemp(filepath.Dir(dest), ".hq-download-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	size, err := io.Copy(tmp, body)
	if err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write file body: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, dest); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace file: %w", err)
	}
	if p.cfg.PreserveTimestamps && !obj.LastModified.IsZero() {
		if err := os.Chtimes(dest, obj.LastModified, obj.LastModified); err != nil {
			p.logger.Debug("Failed to preserve timestamp", "path", rel, "error", err)
		}
	}

	p.stateMu.Lock()
	p.state.Entries[rel] = StateEntry{
		RelativePath: rel,
		LastModified: obj.LastModified.UnixMilli(),
		ETag:         obj.ETag,
		Size:         size,
		SyncedAt:     time.Now().UTC(),
	}
	p.stateMu.Unlock()

	p.Events.emitFileDownloaded(FileDownloaded{RelativePath: rel, Size: size, ETag: obj.ETag})
	return nil
}

func (p *Poller) applyDeletePolicy(rel string) error {
	local := filepath.Join(p.cfg.LocalDir, filepath.FromSlash(rel))
	switch p.cfg.DeletePolicy {
	case DeletePolicyKeep:
		return nil
	case DeletePolicyTrash:
		trashed := filepath.Join(p.cfg.LocalDir, TrashDirName, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(trashed), 0o755); err != nil {
			return fmt.Errorf("create trash directory: %w", err)
		}
		if err := os.Rename(local, trashed); err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return fmt.Errorf("move to trash: %w", err)
		}
		return nil
	case DeletePolicyDelete:
		if err := os.Remove(local); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove file: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("unknown delete policy %q", p.cfg.DeletePolicy)
	}
}

// loadState lazily loads the persisted state on first use.
func (p *Poller) loadState() *State {
	p.stateMu.Lock()
	defer p.stateMu.Unlock()
	if p.state == nil {
		p.state = LoadState(p.statePath(), p.cfg.UserID, p.cfg.RemotePrefix)
	}
	return p.state
}

// FileCount returns the number of files tracked by the sync state.
func (p *Poller) FileCount() int {
	p.stateMu.Lock()
	defer p.stateMu.Unlock()
	if p.state == nil {
		p.state = LoadState(p.statePath(), p.cfg.UserID, p.cfg.RemotePrefix)
	}
	return len(p.state.Entries)
}

// loadMatcher combines the built-in rules with the mirror's .hqignore, if
// present. Compiled matchers are memoized by content.
func (p *Poller) loadMatcher() *ignore.Matcher {
	content := strings.Join(ignore.DefaultRules, "\n")
	data, err := os.ReadFile(filepath.Join(p.cfg.LocalDir, IgnoreFileName))
	if err == nil {
		content = content + "\n" + string(data)
	}
	return p.matchers.Get(content)
}

func (p *Poller) relativePath(key string) string {
	rel := strings.TrimPrefix(key, p.cfg.RemotePrefix)
	return strings.TrimPrefix(rel, "/")
}

func (p *Poller) statePath() string {
	return filepath.Join(p.cfg.LocalDir, StateFileName)
}
