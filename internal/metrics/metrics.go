/**
 * Monotonic counters for the resource manager and download queue (§4.I).
 *
 * Grounded on CloudPull's SyncProgress snapshot style
 * (internal/sync/progress.go): a mutex-guarded struct of int64 fields
 * with a Snapshot method returning a value copy, rather than a metrics
 * library, since these counters are best-effort and not transactional
 * with state changes — exactly the teacher's own caveat for its
 * progress counters.
 */

package metrics

import "sync"

// Metrics holds monotonic, best-effort counters. Zero value is ready
// to use.
type Metrics struct {
	mu sync.Mutex

	Requested        int64
	DownloadBegan    int64
	DownloadFinished int64
	DownloadFailed   int64
	DownloadCancelled int64
	PriorityRaised   int64
	PriorityLowered  int64
	CacheHits        int64
	CacheMisses      int64
	Retries          int64
}

// New returns a ready-to-use Metrics.
func New() *Metrics {
	return &Metrics{}
}

func (m *Metrics) IncRequested()        { m.mu.Lock(); m.Requested++; m.mu.Unlock() }
func (m *Metrics) IncDownloadBegan()    { m.mu.Lock(); m.DownloadBegan++; m.mu.Unlock() }
func (m *Metrics) IncDownloadFinished() { m.mu.Lock(); m.DownloadFinished++; m.mu.Unlock() }
func (m *Metrics) IncDownloadFailed()   { m.mu.Lock(); m.DownloadFailed++; m.mu.Unlock() }
func (m *Metrics) IncDownloadCancelled() {
	m.mu.Lock()
	m.DownloadCancelled++
	m.mu.Unlock()
}
func (m *Metrics) IncPriorityRaised()  { m.mu.Lock(); m.PriorityRaised++; m.mu.Unlock() }
func (m *Metrics) IncPriorityLowered() { m.mu.Lock(); m.PriorityLowered++; m.mu.Unlock() }
func (m *Metrics) IncCacheHits()       { m.mu.Lock(); m.CacheHits++; m.mu.Unlock() }
func (m *Metrics) IncCacheMisses()     { m.mu.Lock(); m.CacheMisses++; m.mu.Unlock() }
func (m *Metrics) IncRetries()         { m.mu.Lock(); m.Retries++; m.mu.Unlock() }

// Snapshot returns a value copy safe for a caller to read without
// further synchronization.
func (m *Metrics) Snapshot() Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Metrics{
		Requested:         m.Requested,
		DownloadBegan:     m.DownloadBegan,
		DownloadFinished:  m.DownloadFinished,
		DownloadFailed:    m.DownloadFailed,
		DownloadCancelled: m.DownloadCancelled,
		PriorityRaised:    m.PriorityRaised,
		PriorityLowered:   m.PriorityLowered,
		CacheHits:         m.CacheHits,
		CacheMisses:       m.CacheMisses,
		Retries:           m.Retries,
	}
}
