package sync

import "sync"

// The poller emits typed, synchronous in-process events. Each variant has
// its own subscriber set and emit method, keeping payloads strongly typed.

// ChangeReason explains why a remote entry was marked changed.
type ChangeReason string

// Change reasons.
const (
	ChangeNew      ChangeReason = "new"
	ChangeModified ChangeReason = "modified"
)

// ChangeDetected is emitted once per detected remote change.
type ChangeDetected struct {
	RelativePath string
	Reason       ChangeReason
	ETag         string
	Size         int64
}

// FileDownloaded is emitted after a blob lands atomically on disk.
type FileDownloaded struct {
	RelativePath string
	Size         int64
	ETag         string
}

// FileDeleted is emitted after the delete policy was applied to a locally
// tracked file that disappeared remotely.
type FileDeleted struct {
	RelativePath string
	Policy       DeletedFilePolicy
}

// PollComplete is emitted at the end of a successful cycle.
type PollComplete struct {
	Result PollResult
}

// PollError is emitted when a cycle aborts or a single file fails.
type PollError struct {
	RelativePath string // empty for cycle-level failures
	Err          error
}

// Emitter holds one subscriber set per event variant. Emission is
// synchronous in the poller's goroutine.
type Emitter struct {
	mu             sync.RWMutex
	pollSkipped    []func()
	changeDetected []func(ChangeDetected)
	fileDownloaded []func(FileDownloaded)
	fileDeleted    []func(FileDeleted)
	pollComplete   []func(PollComplete)
	errors         []func(PollError)
}

// OnPollSkipped subscribes to skipped-cycle notifications.
func (e *Emitter) OnPollSkipped(fn func()) {
	e.mu.Lock()
	e.pollSkipped = append(e.pollSkipped, fn)
	e.mu.Unlock()
}

// OnChangeDetected subscribes to change detections.
func (e *Emitter) OnChangeDetected(fn func(ChangeDetected)) {
	e.mu.Lock()
	e.changeDetected = append(e.changeDetected, fn)
	e.mu.Unlock()
}

// OnFileDownloaded subscribes to completed downloads.
func (e *Emitter) OnFileDownloaded(fn func(FileDownloaded)) {
	e.mu.Lock()
	e.fileDownloaded = append(e.fileDownloaded, fn)
	e.mu.Unlock()
}

// OnFileDeleted subscribes to applied deletions.
func (e *Emitter) OnFileDeleted(fn func(FileDeleted)) {
	e.mu.Lock()
	e.fileDeleted = append(e.fileDeleted, fn)
	e.mu.Unlock()
}

// OnPollComplete subscribes to cycle completions.
func (e *Emitter) OnPollComplete(fn func(PollComplete)) {
	e.mu.Lock()
	e.pollComplete = append(e.pollComplete, fn)
	e.mu.Unlock()
}

// OnError subscribes to cycle and per-file errors.
func (e *Emitter) OnError(fn func(PollError)) {
	e.mu.Lock()
	e.errors = append(e.errors, fn)
	e.mu.Unlock()
}

func (e *Emitter) emitPollSkipped() {
	e.mu.RLock()
	subs := e.pollSkipped
	e.mu.RUnlock()
	for _, fn := range subs {
		fn()
	}
}

func (e *Emitter) emitChangeDetected(ev ChangeDetected) {
	e.mu.RLock()
	subs := e.changeDetected
	e.mu.RUnlock()
	for _, fn := range subs {
		fn(ev)
	}
}

func (e *Emitter) emitFileDownloaded(ev FileDownloaded) {
	e.mu.RLock()
	subs := e.fileDownloaded
	e.mu.RUnlock()
	for _, fn := range subs {
		fn(ev)
	}
}

func (e *Emitter) emitFileDeleted(ev FileDeleted) {
	e.mu.RLock()
	subs := e.fileDeleted
	e.mu.RUnlock()
	for _, fn := range subs {
		fn(ev)
	}
}

func (e *Emitter) emitPollComplete(ev PollComplete) {
	e.mu.RLock()
	subs := e.pollComplete
	e.mu.RUnlock()
	for _, fn := range subs {
		fn(ev)
	}
}

func (e *Emitter) emitError(ev PollError) {
	e.mu.RLock()
	subs := e.errors
	e.mu.RUnlock()
	for _, fn := range subs {
		fn(ev)
	}
}
