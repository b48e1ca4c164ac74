/**
 * Transport interfaces: Downloadable (a transport-specific attempt
 * handle) and Processor (a plugin that drives Downloadables of one
 * concrete type).
 *
 * Grounded on CloudPull's DownloadManager/DriveClient split
 * (internal/sync/downloader.go, internal/api/client.go): a manager
 * that owns the retry/progress loop around a transport-specific
 * fetch call. Generalized into an explicit polymorphic interface pair
 * per the spec's can_process/Downloadable design, since CloudPull only
 * ever drives one transport (Drive) and never needed the abstraction.
 */

package transport

import (
	"context"
	"time"
)

// Downloadable is a transport-specific handle for one in-progress
// download attempt. It is owned exclusively by its Task for the
// attempt's lifetime; the Processor holds only a weak reference to it
// (it never outlives the attempt, and no Processor method retains a
// Downloadable after Process returns).
type Downloadable interface {
	Identifier() string
	Location() string
	Start(ctx context.Context, params map[string]interface{}) error
	Cancel() error
	Pause() error
	TotalSize() int64
	TransferredBytes() int64
	StartDate() time.Time
	FinishDate() time.Time
}

// Observer receives the totally-ordered lifecycle events a Processor
// emits for one Downloadable: begin, an optional start-transfer just
// before the payload is read, zero or more bytes-transferred, then either
// finish-transfer+finish or a terminal error.
//
// Observer is held by weak reference by the Processor, which MUST
// tolerate a nil Observer (dropped events, not a panic).
type Observer interface {
	Begin(d Downloadable)
	StartTransfer(d Downloadable)
	BytesTransferred(d Downloadable, delta int64)
	// FinishTransfer hands the observer a transport-owned temporary
	// location. The observer MUST consume or move tmpURL before
	// returning; the Processor may delete it immediately afterward.
	FinishTransfer(d Downloadable, tmpURL string)
	Finish(d Downloadable)
	Error(d Downloadable, err error)
}

// State is a Processor's active/paused state machine (§4.D). Only
// active processors are offered new work.
type State int

const (
	StateActive State = iota
	StatePaused
)

// Processor is a pluggable download transport.
type Processor interface {
	// CanProcess reports whether this processor supports d's concrete
	// type and is currently active.
	CanProcess(d Downloadable) bool
	// Process begins the transfer asynchronously, emitting lifecycle
	// events to observer (which may be nil) as described on Observer.
	Process(ctx context.Context, d Downloadable, observer Observer)
	// Pause transitions the processor to paused; Resume back to active.
	Pause()
	Resume()
	State() State
	// EnqueuePending replays persisted pending downloads (e.g. after a
	// process restart), emitting Begin for each replayed task.
	EnqueuePending(ctx context.Context, observer Observer) error
}
