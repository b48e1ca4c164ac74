/**
 * Resource Manager: the public façade over Cache, Mirror Policy, and
 * the download queue(s) (§4.F).
 *
 * Grounded on CloudPull's Engine (internal/sync/engine.go): same
 * "accept a request, consult state, admit work, fan out completions"
 * orchestration shape and injected-collaborator constructor, trimmed
 * to fetchkit's two-tier (normal + optional priority) queue model in
 * place of the teacher's single folder-walk-then-download pipeline,
 * since this engine has no tree to walk — only a flat set of
 * resource requests with independently adjustable priority.
 */

package resource

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/fetchkit/fetchkit/internal/cache"
	"github.com/fetchkit/fetchkit/internal/downloadqueue"
	"github.com/fetchkit/fetchkit/internal/logger"
	"github.com/fetchkit/fetchkit/internal/metrics"
	"github.com/fetchkit/fetchkit/internal/mirror"
	"github.com/fetchkit/fetchkit/internal/progress"
	"github.com/fetchkit/fetchkit/internal/taxonomy"
	"github.com/fetchkit/fetchkit/internal/transport"
)

// Priority mirrors the three admission tiers §4.F describes.
type Priority int

const (
	PriorityNormal Priority = iota
	PriorityHigh
	PriorityUrgent
)

// Options carries the caller's request-scoped preferences.
type Options struct {
	StoragePriority cache.StorageClass
}

// Request is a caller-submitted resource to fetch.
type Request struct {
	Resource mirror.Resource
	Options  Options
}

// DownloadRequest is the outcome of Manager.Request for one cache-miss
// resource: a not-yet-enqueued task. Cache hits fire their completion
// synthetically inside Request and produce no DownloadRequest.
type DownloadRequest struct {
	ResourceID string
	Task       *downloadqueue.Task
}

// CompletionFunc is invoked exactly once per admission cycle for a
// resource id, with success=true and the file's local path on
// success, or success=false and the terminal error on failure.
type CompletionFunc func(success bool, resourceID string, localPath string, err error)

// Manager coordinates a normal download queue and an optional
// priority queue against a shared Cache and Mirror Policy.
type Manager struct {
	normal   *downloadqueue.Queue
	priority *downloadqueue.Queue // nil if not configured

	cache    *cache.Manager
	policy   *mirror.Policy
	metrics  *metrics.Metrics
	logger   *logger.Logger

	mu               sync.Mutex
	completions      map[string][]CompletionFunc
	tasksByID        map[string]*downloadqueue.Task
	storageClassByID map[string]cache.StorageClass

	progressMu sync.Mutex
	prog       *progress.Node
}

// New creates a Manager. priorityCap <= 0 means no priority queue is
// configured; all admissions then go to the normal queue regardless
// of requested priority tier. A nil log falls back to
// logger.New(nil)'s defaults.
func New(ctx context.Context, normalCap, priorityCap int, c *cache.Manager, policy *mirror.Policy, m *metrics.Metrics, log *logger.Logger) *Manager {
	if log == nil {
		log = logger.New(nil)
	}
	mgr := &Manager{
		cache:       c,
		policy:      policy,
		metrics:     m,
		logger:      log,
		completions:      make(map[string][]CompletionFunc),
		tasksByID:        make(map[string]*downloadqueue.Task),
		storageClassByID: make(map[string]cache.StorageClass),
		prog:             progress.NewNode(progress.ByteMode, nil, nil),
	}

	mgr.normal = downloadqueue.New(ctx, normalCap, &policyAdapter{policy}, log)
	mgr.normal.SetObserver(&queueObserver{mgr: mgr})

	if priorityCap > 0 {
		mgr.priority = downloadqueue.New(ctx, priorityCap, &policyAdapter{policy}, log)
		mgr.priority.SetObserver(&queueObserver{mgr: mgr})
	}

	return mgr
}

// AddProcessor registers a transport processor with both queues.
func (mgr *Manager) AddProcessor(p transport.Processor) {
	mgr.normal.AddProcessor(p)
	if mgr.priority != nil {
		mgr.priority.AddProcessor(p)
	}
}

// AddResourceCompletion registers fn to fire exactly once the next
// time resourceID's admission cycle concludes, whether by cache hit,
// successful download, or terminal failure.
func (mgr *Manager) AddResourceCompletion(resourceID string, fn CompletionFunc) {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	mgr.completions[resourceID] = append(mgr.completions[resourceID], fn)
}

func (mgr *Manager) fireCompletions(resourceID string, success bool, localPath string, err error) {
	mgr.mu.Lock()
	fns := mgr.completions[resourceID]
	delete(mgr.completions, resourceID)
	mgr.mu.Unlock()

	for _, fn := range fns {
		fn(success, resourceID, localPath, err)
	}
}

// Request consults the Cache for each requested resource (§4.F,
// step 1-3) and returns a DownloadRequest for every resource that
// still needs an actual download; resources already satisfied by the
// cache fire their completions synchronously and are omitted.
func (mgr *Manager) Request(ctx context.Context, requests []Request) []DownloadRequest {
	out := make([]DownloadRequest, 0, len(requests))

	for _, req := range requests {
		r := req.Resource
		wanted := req.Options.StoragePriority
		if wanted == "" {
			wanted = cache.StorageCached
		}

		mgr.metrics.IncRequested()

		if existing, ok := mgr.cache.StorageClassOf(ctx, r.ID); ok {
			if cache.Dominates(existing, wanted) {
				mgr.metrics.IncCacheHits()
				mgr.logger.Debug("resource satisfied from cache", "resource_id", r.ID, "storage_class", string(existing))
				path, _ := mgr.cache.FileURL(ctx, r.ID)
				mgr.fireCompletions(r.ID, true, path, nil)
				continue
			}

			mgr.metrics.IncCacheHits()
			if _, err := mgr.cache.UpdateStorage(ctx, []string{r.ID}, wanted); err != nil {
				mgr.fireCompletions(r.ID, false, "", err)
				continue
			}
			path, _ := mgr.cache.FileURL(ctx, r.ID)
			mgr.fireCompletions(r.ID, true, path, nil)
			continue
		}

		mgr.metrics.IncCacheMisses()

		dl, m, ok := mgr.policy.Next(r, "", nil)
		if !ok {
			mgr.fireCompletions(r.ID, false, "", mirror.AllExhaustedErr(r.ID))
			continue
		}
		transportDl, ok := dl.(transport.Downloadable)
		if !ok {
			mgr.fireCompletions(r.ID, false, "", taxonomy.New(taxonomy.ProcessorCannotProcess, "downloadable is not a transport.Downloadable", nil))
			continue
		}

		task := &downloadqueue.Task{
			ID:             r.ID,
			Resource:       r,
			SelectedMirror: m,
			Downloadable:   transportDl,
			Priority:       int64(PriorityNormal),
			CreatedAt:      time.Now(),
		}

		mgr.mu.Lock()
		mgr.storageClassByID[r.ID] = wanted
		mgr.mu.Unlock()

		out = append(out, DownloadRequest{ResourceID: r.ID, Task: task})
	}

	return out
}

// Process admits tasks at the given priority tier, implementing the
// preemption rules of §4.F.
func (mgr *Manager) Process(tasks []*downloadqueue.Task, priority Priority) {
	if mgr.priority == nil {
		priority = PriorityNormal
	}

	switch priority {
	case PriorityNormal:
		for _, t := range tasks {
			t.Priority = int64(downloadqueue.PriorityNormal)
			mgr.track(t)
			mgr.normal.Download(t)
		}

	case PriorityHigh:
		for _, t := range tasks {
			mgr.normal.Cancel(t.ID)
			t.Priority = int64(downloadqueue.PriorityHigh)
			mgr.track(t)
			mgr.priority.Download(t)
			mgr.metrics.IncPriorityRaised()
		}

	case PriorityUrgent:
		for _, t := range tasks {
			t.Priority = int64(downloadqueue.PriorityUrgent)
			mgr.track(t)
			mgr.priority.Download(t)
		}

		for _, other := range mgr.drainOtherPriorityTasks(tasks) {
			other.Priority = int64(downloadqueue.PriorityNormal)
			mgr.normal.Download(other)
			mgr.metrics.IncPriorityLowered()
		}
	}
}

// drainOtherPriorityTasks removes every task from the priority queue
// other than the ones just admitted in this cycle, returning them for
// re-admission to the normal queue.
func (mgr *Manager) drainOtherPriorityTasks(justAdmitted []*downloadqueue.Task) []*downloadqueue.Task {
	admitted := make(map[string]bool, len(justAdmitted))
	for _, t := range justAdmitted {
		admitted[t.ID] = true
	}

	var moved []*downloadqueue.Task
	for _, t := range mgr.priority.Snapshot() {
		if admitted[t.ID] {
			continue
		}
		mgr.priority.Cancel(t.ID)
		moved = append(moved, t)
	}
	return moved
}

func (mgr *Manager) track(t *downloadqueue.Task) {
	mgr.mu.Lock()
	mgr.tasksByID[t.ID] = t
	mgr.mu.Unlock()

	mgr.progressMu.Lock()
	size := t.Downloadable.TotalSize()
	mgr.prog = mgr.prog.Merge(progress.NewNode(progress.ByteMode, []string{t.ID}, map[string]int64{t.ID: size}))
	mgr.progressMu.Unlock()
}

// Cancel cancels resourceID wherever it currently sits.
func (mgr *Manager) Cancel(resourceID string) {
	mgr.normal.Cancel(resourceID)
	if mgr.priority != nil {
		mgr.priority.Cancel(resourceID)
	}
}

// CancelAll cancels every queued and in-flight task in both queues.
func (mgr *Manager) CancelAll() {
	mgr.normal.CancelAll()
	if mgr.priority != nil {
		mgr.priority.CancelAll()
	}
}

// FileURL returns the cached local path for resourceID, if available.
func (mgr *Manager) FileURL(ctx context.Context, resourceID string) (string, bool) {
	return mgr.cache.FileURL(ctx, resourceID)
}

// Metrics returns the manager's monotonic counters.
func (mgr *Manager) Metrics() *metrics.Metrics {
	return mgr.metrics
}

// QueuedDownloadCount returns the total number of queued (not yet
// in-flight) tasks across both queues.
func (mgr *Manager) QueuedDownloadCount() int {
	n := mgr.normal.QueuedCount()
	if mgr.priority != nil {
		n += mgr.priority.QueuedCount()
	}
	return n
}

// CurrentDownloadCount returns the total number of in-flight tasks
// across both queues.
func (mgr *Manager) CurrentDownloadCount() int {
	n := mgr.normal.CurrentCount()
	if mgr.priority != nil {
		n += mgr.priority.CurrentCount()
	}
	return n
}

// Progress returns the manager's aggregate progress node.
func (mgr *Manager) Progress() *progress.Node {
	mgr.progressMu.Lock()
	defer mgr.progressMu.Unlock()
	return mgr.prog
}

// queueObserver adapts downloadqueue.Observer callbacks from either
// queue into cache population and completion fan-out.
type queueObserver struct {
	mgr *Manager
}

func (o *queueObserver) DidStart(t *downloadqueue.Task) {
	o.mgr.metrics.IncDownloadBegan()
}

func (o *queueObserver) DidTransferData(t *downloadqueue.Task, delta int64) {}

func (o *queueObserver) DidFinish(t *downloadqueue.Task, tmpURL string) {
	o.mgr.metrics.IncDownloadFinished()
	o.mgr.progressMu.Lock()
	o.mgr.prog.Complete(t.ID)
	o.mgr.progressMu.Unlock()

	localTemp := strings.TrimPrefix(tmpURL, "file://")

	o.mgr.mu.Lock()
	wanted := o.mgr.storageClassByID[t.ID]
	delete(o.mgr.storageClassByID, t.ID)
	delete(o.mgr.tasksByID, t.ID)
	o.mgr.mu.Unlock()

	lf, err := o.mgr.cache.Store(context.Background(), t.ID,
		cache.Mirror{ID: t.SelectedMirror.ID, Location: t.SelectedMirror.Location},
		localTemp, cache.StoreOptions{StorageClass: wanted})

	if err != nil {
		o.mgr.fireCompletions(t.ID, false, "", err)
		return
	}
	o.mgr.fireCompletions(t.ID, true, lf.LocalPath, nil)
}

func (o *queueObserver) DidFail(t *downloadqueue.Task, err error) {
	o.mgr.metrics.IncDownloadFailed()
	if taxonomy.Of(err, taxonomy.NetworkCancelled) || taxonomy.Of(err, taxonomy.QueueCancelled) {
		o.mgr.metrics.IncDownloadCancelled()
	}

	o.mgr.progressMu.Lock()
	o.mgr.prog.CompleteWithError(t.ID, err)
	o.mgr.progressMu.Unlock()

	o.mgr.mu.Lock()
	delete(o.mgr.tasksByID, t.ID)
	delete(o.mgr.storageClassByID, t.ID)
	o.mgr.mu.Unlock()

	o.mgr.fireCompletions(t.ID, false, "", err)
}

func (o *queueObserver) WillRetry(t *downloadqueue.Task, ctx map[string]interface{}) {
	o.mgr.metrics.IncRetries()
}

// DefaultFactory builds a mirror.Factory that picks a transport based
// on a mirror's location scheme: "gs://" selects CloudDownload,
// anything else selects WebDownload. This is the pluggable-transport
// seam §9 describes: a deployment wiring in a third scheme only needs
// to extend this switch.
func DefaultFactory() mirror.Factory {
	return func(m mirror.Mirror) (mirror.Downloadable, error) {
		if strings.HasPrefix(m.Location, transport.CloudScheme+"://") {
			return transport.NewCloudDownload(m.ID, m.Location)
		}
		return transport.NewWebDownload(m.ID, m.Location), nil
	}
}

// policyAdapter narrows *mirror.Policy's Next to the
// transport.Downloadable-returning shape downloadqueue.Policy
// requires, since mirror.Policy deliberately only knows about its own
// minimal Downloadable interface (to stay decoupled from transport).
type policyAdapter struct {
	policy *mirror.Policy
}

func (a *policyAdapter) Next(r mirror.Resource, lastMirrorID string, lastErr error) (transport.Downloadable, mirror.Mirror, bool) {
	dl, m, ok := a.policy.Next(r, lastMirrorID, lastErr)
	if !ok {
		return nil, mirror.Mirror{}, false
	}
	transportDl, ok := dl.(transport.Downloadable)
	if !ok {
		return nil, mirror.Mirror{}, false
	}
	return transportDl, m, true
}

func (a *policyAdapter) DownloadComplete(resourceID string) {
	a.policy.DownloadComplete(resourceID)
}
