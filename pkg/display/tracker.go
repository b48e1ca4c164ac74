// Package display renders download progress to the terminal (or as
// JSON, or not at all), and tracks transfer-speed history for the CLI.
//
// Grounded on CloudPull's pkg/progress: same thread-safe batching
// tracker, moving-average speed collector, and schollz/progressbar-backed
// terminal reporter, generalized from "files synced" to "resources
// downloaded" and wired to internal/progress.Node via Bind instead of
// driving its own counters directly from sync-engine callbacks.
package display

import (
	"sync"
	"sync/atomic"
	"time"
)

// State represents the current state of a download operation.
type State int

const (
	StateIdle State = iota
	StateRunning
	StatePaused
	StateCompleted
	StateError
)

// String returns the human-readable name of a State.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StatePaused:
		return "paused"
	case StateCompleted:
		return "completed"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Progress holds the mutable counters behind a Tracker.
type Progress struct {
	startTime      time.Time
	lastFlush      time.Time
	lastPauseTime  time.Time
	currentFile    string
	errors         []error
	pendingUpdates []Update
	state          State
	processedBytes atomic.Int64
	pausedDuration time.Duration
	totalBytes     atomic.Int64
	totalFiles     atomic.Int64
	batchSize      int
	processedFiles atomic.Int64
	mu             sync.RWMutex
	batchMu        sync.Mutex
}

// Update represents a single progress update.
type Update struct {
	Timestamp time.Time
	Error     error
	FileName  string
	Type      UpdateType
	Files     int64
	Bytes     int64
}

// UpdateType identifies the kind of Update.
type UpdateType int

const (
	UpdateTypeFile UpdateType = iota
	UpdateTypeBytes
	UpdateTypeError
	UpdateTypeState
)

// Tracker accumulates download progress and fans out updates to
// subscribers in batches.
type Tracker struct {
	progress    *Progress
	done        chan struct{}
	listeners   []chan Update
	wg          sync.WaitGroup
	listenersMu sync.RWMutex
}

// NewTracker creates a Tracker that batches updates to at most
// batchSize entries (or every 100ms, whichever comes first).
func NewTracker(batchSize int) *Tracker {
	if batchSize <= 0 {
		batchSize = 100
	}

	return &Tracker{
		progress: &Progress{
			state:          StateIdle,
			batchSize:      batchSize,
			pendingUpdates: make([]Update, 0, batchSize),
		},
		listeners: make([]chan Update, 0),
		done:      make(chan struct{}),
	}
}

// Start begins tracking progress.
func (t *Tracker) Start() {
	t.progress.mu.Lock()
	defer t.progress.mu.Unlock()

	if t.progress.state != StateIdle {
		return
	}

	t.progress.state = StateRunning
	t.progress.startTime = time.Now()
	t.progress.lastFlush = time.Now()

	t.wg.Add(1)
	go t.processBatches()
}

// Stop stops tracking progress and flushes any pending updates.
func (t *Tracker) Stop() {
	t.progress.mu.Lock()
	t.progress.state = StateCompleted
	t.progress.mu.Unlock()

	close(t.done)
	t.wg.Wait()
}

// Pause pauses progress tracking.
func (t *Tracker) Pause() {
	t.progress.mu.Lock()
	defer t.progress.mu.Unlock()

	if t.progress.state != StateRunning {
		return
	}

	t.progress.state = StatePaused
	t.progress.lastPauseTime = time.Now()
}

// Resume resumes progress tracking after a Pause.
func (t *Tracker) Resume() {
	t.progress.mu.Lock()
	defer t.progress.mu.Unlock()

	if t.progress.state != StatePaused {
		return
	}

	t.progress.state = StateRunning
	if !t.progress.lastPauseTime.IsZero() {
		t.progress.pausedDuration += time.Since(t.progress.lastPauseTime)
	}
}

// SetTotals sets the total files and bytes expected.
func (t *Tracker) SetTotals(files, bytes int64) {
	t.progress.totalFiles.Store(files)
	t.progress.totalBytes.Store(bytes)
}

// AddFile records one completed resource.
func (t *Tracker) AddFile(filename string, bytes int64) {
	t.progress.processedFiles.Add(1)
	t.progress.processedBytes.Add(bytes)

	t.addUpdate(Update{
		Type:      UpdateTypeFile,
		Files:     1,
		Bytes:     bytes,
		FileName:  filename,
		Timestamp: time.Now(),
	})
}

// AddBytes records incremental bytes transferred.
func (t *Tracker) AddBytes(bytes int64) {
	t.progress.processedBytes.Add(bytes)

	t.addUpdate(Update{
		Type:      UpdateTypeBytes,
		Bytes:     bytes,
		Timestamp: time.Now(),
	})
}

// AddError records a failed resource.
func (t *Tracker) AddError(err error) {
	t.progress.mu.Lock()
	t.progress.errors = append(t.progress.errors, err)
	t.progress.mu.Unlock()

	t.notifyListeners([]Update{{
		Type:      UpdateTypeError,
		Error:     err,
		Timestamp: time.Now(),
	}})
}

// GetSnapshot returns a point-in-time view of progress.
func (t *Tracker) GetSnapshot() ProgressSnapshot {
	t.progress.mu.RLock()
	defer t.progress.mu.RUnlock()

	return ProgressSnapshot{
		TotalFiles:     t.progress.totalFiles.Load(),
		ProcessedFiles: t.progress.processedFiles.Load(),
		TotalBytes:     t.progress.totalBytes.Load(),
		ProcessedBytes: t.progress.processedBytes.Load(),
		State:          t.progress.state,
		StartTime:      t.progress.startTime,
		ElapsedTime:    t.calculateElapsed(),
		CurrentFile:    t.progress.currentFile,
		ErrorCount:     len(t.progress.errors),
	}
}

// Subscribe creates a new listener channel for progress updates.
func (t *Tracker) Subscribe() <-chan Update {
	t.listenersMu.Lock()
	defer t.listenersMu.Unlock()

	ch := make(chan Update, 100)
	t.listeners = append(t.listeners, ch)
	return ch
}

// Unsubscribe removes a listener channel.
func (t *Tracker) Unsubscribe(ch <-chan Update) {
	t.listenersMu.Lock()
	defer t.listenersMu.Unlock()

	for i, listener := range t.listeners {
		if listener == ch {
			close(listener)
			t.listeners = append(t.listeners[:i], t.listeners[i+1:]...)
			break
		}
	}
}

func (t *Tracker) addUpdate(update Update) {
	t.progress.batchMu.Lock()
	defer t.progress.batchMu.Unlock()

	t.progress.pendingUpdates = append(t.progress.pendingUpdates, update)

	if len(t.progress.pendingUpdates) >= t.progress.batchSize ||
		time.Since(t.progress.lastFlush) > 100*time.Millisecond {
		t.flushUpdates()
	}
}

func (t *Tracker) flushUpdates() {
	if len(t.progress.pendingUpdates) == 0 {
		return
	}

	updates := make([]Update, len(t.progress.pendingUpdates))
	copy(updates, t.progress.pendingUpdates)
	t.progress.pendingUpdates = t.progress.pendingUpdates[:0]
	t.progress.lastFlush = time.Now()

	go t.notifyListeners(updates)
}

func (t *Tracker) notifyListeners(updates []Update) {
	t.listenersMu.RLock()
	defer t.listenersMu.RUnlock()

	for _, listener := range t.listeners {
		for _, update := range updates {
			select {
			case listener <- update:
			default:
			}
		}
	}
}

func (t *Tracker) processBatches() {
	defer t.wg.Done()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			t.progress.batchMu.Lock()
			t.flushUpdates()
			t.progress.batchMu.Unlock()
		case <-t.done:
			t.progress.batchMu.Lock()
			t.flushUpdates()
			t.progress.batchMu.Unlock()
			return
		}
	}
}

func (t *Tracker) calculateElapsed() time.Duration {
	if t.progress.startTime.IsZero() {
		return 0
	}

	elapsed := time.Since(t.progress.startTime) - t.progress.pausedDuration

	if t.progress.state == StatePaused && !t.progress.lastPauseTime.IsZero() {
		elapsed -= time.Since(t.progress.lastPauseTime)
	}

	return elapsed
}

// ProgressSnapshot is a point-in-time view of download progress.
type ProgressSnapshot struct {
	StartTime      time.Time
	CurrentFile    string
	TotalFiles     int64
	ProcessedFiles int64
	TotalBytes     int64
	ProcessedBytes int64
	State          State
	ElapsedTime    time.Duration
	ErrorCount     int
}

// PercentComplete returns the completion percentage.
func (ps ProgressSnapshot) PercentComplete() float64 {
	if ps.TotalBytes == 0 {
		if ps.TotalFiles == 0 {
			return 0
		}
		return float64(ps.ProcessedFiles) / float64(ps.TotalFiles) * 100
	}
	return float64(ps.ProcessedBytes) / float64(ps.TotalBytes) * 100
}

// BytesPerSecond returns the average transfer speed over the whole run.
func (ps ProgressSnapshot) BytesPerSecond() float64 {
	if ps.ElapsedTime == 0 {
		return 0
	}
	return float64(ps.ProcessedBytes) / ps.ElapsedTime.Seconds()
}

// ETA estimates the time remaining at the current average speed.
func (ps ProgressSnapshot) ETA() time.Duration {
	if ps.ProcessedBytes == 0 || ps.ElapsedTime == 0 {
		return 0
	}

	bytesPerSecond := ps.BytesPerSecond()
	if bytesPerSecond == 0 {
		return 0
	}

	remainingBytes := ps.TotalBytes - ps.ProcessedBytes
	return time.Duration(float64(remainingBytes)/bytesPerSecond) * time.Second
}
