/**
 * Download Queue: central scheduler dispatching admitted tasks onto
 * pluggable processors under a simultaneous-download cap.
 *
 * Grounded on CloudPull's WorkerPool (internal/sync/worker.go): same
 * admit-then-dispatch shape and dedup-by-id bookkeeping, replacing the
 * fixed-size worker-goroutine/channel pipeline with a direct
 * processor-picking dispatch loop that fires on every admission,
 * cancellation, and completion (dispatch loop invariant), since this
 * queue's concurrency bound is "at most N in-flight processor calls",
 * not "at most N worker goroutines".
 */

package downloadqueue

import (
	"context"
	"sync"
	"time"

	"github.com/fetchkit/fetchkit/internal/logger"
	"github.com/fetchkit/fetchkit/internal/mirror"
	"github.com/fetchkit/fetchkit/internal/queue"
	"github.com/fetchkit/fetchkit/internal/taxonomy"
	"github.com/fetchkit/fetchkit/internal/transport"
)

// Task ties a Resource, its currently selected Mirror, and the
// in-flight Downloadable together, per the glossary's Task definition.
type Task struct {
	ID             string
	Resource       mirror.Resource
	SelectedMirror mirror.Mirror
	Downloadable   transport.Downloadable
	Priority       int64
	CreatedAt      time.Time
}

// Priority tiers, highest first (urgent > high > normal); used to
// derive Task.Priority so a single heap orders all three.
const (
	PriorityNormal int64 = iota
	PriorityHigh
	PriorityUrgent
)

// Observer receives queue-level lifecycle callbacks, one level above
// the raw transport.Observer events: did_start, did_transfer_data,
// did_finish(url), did_fail(err), will_retry(context).
type Observer interface {
	DidStart(task *Task)
	DidTransferData(task *Task, delta int64)
	DidFinish(task *Task, tmpURL string)
	DidFail(task *Task, err error)
	WillRetry(task *Task, context map[string]interface{})
}

// Policy is the subset of mirror.Policy the queue consults on retry.
type Policy interface {
	Next(r mirror.Resource, lastMirrorID string, lastErr error) (transport.Downloadable, mirror.Mirror, bool)
	DownloadComplete(resourceID string)
}

// Queue is the single-owner-actor download scheduler described in
// §4.E. All mutating operations are serialized behind mu, matching
// the engine's cooperative-actor concurrency model.
type Queue struct {
	mu sync.Mutex

	heap       *queue.PriorityQueue[*Task]
	inFlight   map[string]*Task
	processors []transport.Processor
	byDownload map[string]*Task // downloadable identifier -> task, for observer dispatch

	simultaneousDownloads int
	observer              Observer
	policy                Policy
	logger                *logger.Logger

	ctx context.Context
}

// New creates a Queue with the given simultaneous-download cap and
// retry policy. ctx bounds every Process call the queue issues to a
// processor. A nil log falls back to logger.New(nil)'s defaults.
func New(ctx context.Context, simultaneousDownloads int, policy Policy, log *logger.Logger) *Queue {
	if simultaneousDownloads <= 0 {
		simultaneousDownloads = 4
	}
	if log == nil {
		log = logger.New(nil)
	}
	return &Queue{
		heap:                  queue.New(taskLess),
		inFlight:              make(map[string]*Task),
		byDownload:            make(map[string]*Task),
		simultaneousDownloads: simultaneousDownloads,
		policy:                policy,
		logger:                log,
		ctx:                   ctx,
	}
}

func taskLess(a, b *Task) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	return a.CreatedAt.Before(b.CreatedAt)
}

// SetObserver installs the queue's single observer.
func (q *Queue) SetObserver(o Observer) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.observer = o
}

// AddProcessor registers a processor, in registration order.
func (q *Queue) AddProcessor(p transport.Processor) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.processors = append(q.processors, p)
}

// SetSimultaneousDownloads updates the concurrency cap and re-runs
// the dispatch loop (it may now admit more, or simply have no effect
// if it was lowered below current_count — in-flight tasks are never
// preempted by a cap decrease).
func (q *Queue) SetSimultaneousDownloads(n int) {
	q.mu.Lock()
	q.simultaneousDownloads = n
	q.mu.Unlock()
	q.dispatch()
}

// HasDownload reports whether id exists anywhere in the queue
// (queued or in-flight).
func (q *Queue) HasDownload(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.inFlight[id]; ok {
		return true
	}
	for _, t := range q.heap.Snapshot() {
		if t.ID == id {
			return true
		}
	}
	return false
}

// DownloadFor returns the task for id, if any.
func (q *Queue) DownloadFor(id string) (*Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if t, ok := q.inFlight[id]; ok {
		return t, true
	}
	for _, t := range q.heap.Snapshot() {
		if t.ID == id {
			return t, true
		}
	}
	return nil, false
}

// IsDownloading reports whether id is currently in-flight.
func (q *Queue) IsDownloading(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.inFlight[id]
	return ok
}

// QueuedCount returns the number of tasks waiting to be dispatched.
func (q *Queue) QueuedCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.heap.Len()
}

// CurrentCount returns the number of in-flight tasks.
func (q *Queue) CurrentCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.inFlight)
}

// Snapshot returns the tasks currently waiting to be dispatched,
// without removing them from the queue.
func (q *Queue) Snapshot() []*Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.heap.Snapshot()
}

// Download admits task. If a task with the same id already exists
// anywhere in the queue, this is a no-op (I1 dedup). Otherwise the task
// is enqueued and the dispatch loop runs.
func (q *Queue) Download(task *Task) {
	q.mu.Lock()
	if _, inFlight := q.inFlight[task.ID]; inFlight {
		q.mu.Unlock()
		return
	}
	for _, t := range q.heap.Snapshot() {
		if t.ID == task.ID {
			q.mu.Unlock()
			return
		}
	}
	q.heap.Enqueue(task)
	q.mu.Unlock()

	q.logger.Debug("task submitted to queue",
		"resource_id", task.ID,
		"priority", task.Priority,
		"queue_size", q.heap.Len(),
	)

	q.dispatch()
}

// Cancel cancels id wherever it currently is. If in-flight, the
// downloadable is asked to cancel and the queue synthesizes a
// terminal cancellation failure; if only queued, it is removed from
// the heap and the same synthetic failure fires.
func (q *Queue) Cancel(id string) {
	q.mu.Lock()
	if t, ok := q.inFlight[id]; ok {
		delete(q.inFlight, id)
		delete(q.byDownload, t.Downloadable.Identifier())
		observer := q.observer
		q.mu.Unlock()

		q.logger.Debug("cancelling in-flight task", "resource_id", id)
		t.Downloadable.Cancel()
		if observer != nil {
			observer.DidFail(t, taxonomy.New(taxonomy.NetworkCancelled, "", nil))
		}
		q.dispatch()
		return
	}

	removed := q.heap.RemoveWhere(func(t *Task) bool { return t.ID == id })
	observer := q.observer
	q.mu.Unlock()

	for _, t := range removed {
		if observer != nil {
			observer.DidFail(t, taxonomy.New(taxonomy.QueueCancelled, id, nil))
		}
	}
}

// CancelAll cancels every queued and in-flight task.
func (q *Queue) CancelAll() {
	q.mu.Lock()
	ids := make([]string, 0, len(q.inFlight)+q.heap.Len())
	for id := range q.inFlight {
		ids = append(ids, id)
	}
	for _, t := range q.heap.Snapshot() {
		ids = append(ids, t.ID)
	}
	q.mu.Unlock()

	for _, id := range ids {
		q.Cancel(id)
	}
}

// dispatch implements the dispatch loop invariant: while
// current_count < cap, the heap has a head, and some registered
// active processor accepts the head's downloadable, pop it, move it
// in-flight, and start it. If no processor accepts the head, stop —
// the head is left in place rather than reordered past.
func (q *Queue) dispatch() {
	for {
		q.mu.Lock()
		if len(q.inFlight) >= q.simultaneousDownloads {
			q.mu.Unlock()
			return
		}
		head, ok := q.heap.Peek()
		if !ok {
			q.mu.Unlock()
			return
		}

		var chosen transport.Processor
		for _, p := range q.processors {
			if p.CanProcess(head.Downloadable) {
				chosen = p
				break
			}
		}
		if chosen == nil {
			q.mu.Unlock()
			return
		}

		task, _ := q.heap.Dequeue()
		q.inFlight[task.ID] = task
		q.byDownload[task.Downloadable.Identifier()] = task
		observer := q.observer
		q.mu.Unlock()

		q.logger.Debug("task dispatched to processor",
			"resource_id", task.ID,
			"mirror_id", task.SelectedMirror.ID,
			"priority", task.Priority,
		)

		if observer != nil {
			observer.DidStart(task)
		}
		chosen.Process(q.ctx, task.Downloadable, (*queueTransportObserver)(q))
	}
}

// queueTransportObserver adapts the queue to transport.Observer so it
// can receive processor lifecycle events and translate them into
// queue-level Observer callbacks plus retry/completion bookkeeping.
type queueTransportObserver Queue

func (o *queueTransportObserver) q() *Queue { return (*Queue)(o) }

func (o *queueTransportObserver) Begin(d transport.Downloadable) {}

func (o *queueTransportObserver) StartTransfer(d transport.Downloadable) {}

func (o *queueTransportObserver) BytesTransferred(d transport.Downloadable, delta int64) {
	q := o.q()
	q.mu.Lock()
	task, ok := q.byDownload[d.Identifier()]
	observer := q.observer
	q.mu.Unlock()

	if ok && observer != nil {
		observer.DidTransferData(task, delta)
	}
}

func (o *queueTransportObserver) FinishTransfer(d transport.Downloadable, tmpURL string) {
	q := o.q()
	q.mu.Lock()
	task, ok := q.byDownload[d.Identifier()]
	observer := q.observer
	q.mu.Unlock()

	if ok && observer != nil {
		observer.DidFinish(task, tmpURL)
	}
}

func (o *queueTransportObserver) Finish(d transport.Downloadable) {
	q := o.q()
	q.mu.Lock()
	task, ok := q.byDownload[d.Identifier()]
	if ok {
		delete(q.inFlight, task.ID)
		delete(q.byDownload, d.Identifier())
	}
	q.mu.Unlock()

	if ok && q.policy != nil {
		q.policy.DownloadComplete(task.ID)
	}
	q.dispatch()
}

func (o *queueTransportObserver) Error(d transport.Downloadable, err error) {
	q := o.q()
	q.mu.Lock()
	task, ok := q.byDownload[d.Identifier()]
	if ok {
		delete(q.inFlight, task.ID)
		delete(q.byDownload, d.Identifier())
	}
	observer := q.observer
	policy := q.policy
	q.mu.Unlock()

	if !ok {
		return
	}

	if taxonomy.Of(err, taxonomy.NetworkCancelled) || taxonomy.Of(err, taxonomy.QueueCancelled) {
		if observer != nil {
			observer.DidFail(task, err)
		}
		q.dispatch()
		return
	}

	if policy != nil {
		if newDownloadable, newMirror, ok := policy.Next(task.Resource, task.SelectedMirror.ID, err); ok {
			task.SelectedMirror = newMirror
			task.Downloadable = newDownloadable

			q.mu.Lock()
			q.heap.Enqueue(task)
			q.mu.Unlock()

			q.logger.Warn("retrying task on next mirror",
				"resource_id", task.ID,
				"mirror_id", newMirror.ID,
				"error", err,
			)

			if observer != nil {
				observer.WillRetry(task, map[string]interface{}{"error": err, "mirror_id": newMirror.ID})
			}
			q.dispatch()
			return
		}
	}

	q.logger.Error(err, "task failed, no mirror left to retry",
		"resource_id", task.ID,
		"mirror_id", task.SelectedMirror.ID,
	)

	if observer != nil {
		observer.DidFail(task, err)
	}
	q.dispatch()
}
