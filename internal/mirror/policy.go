/**
 * Weighted mirror selection policy.
 *
 * Grounded on CloudPull's retry/backoff bookkeeping style in
 * internal/errors (per-attempt counters gating retry eligibility) and
 * the transport-negotiation pattern in internal/sync/downloader.go
 * (a download attempt is tied to one concrete transport instance at a
 * time, re-selected on failure). No CloudPull component chooses among
 * multiple source locations for the same file — Drive sync has one
 * source of truth per file — so the weighted-candidate-list algorithm
 * itself is new, built the way the teacher builds its other per-id
 * counters: a mutex-guarded map keyed by resource id.
 */

package mirror

import (
	"sort"
	"sync"

	"github.com/fetchkit/fetchkit/internal/logger"
	"github.com/fetchkit/fetchkit/internal/taxonomy"
)

// Resource is the minimal view of a resource the policy needs: its id
// and its ordered candidate mirrors (main first, then alternatives).
type Resource struct {
	ID      string
	Main    Mirror
	Mirrors []Mirror // alternatives, in declaration order
}

// Mirror is an immutable download location.
type Mirror struct {
	ID       string
	Location string
	Info     map[string]interface{}
}

func (m Mirror) weight() int {
	if w, ok := m.Info["weight"]; ok {
		if wi, ok := w.(int); ok {
			return wi
		}
	}
	return 0
}

// Downloadable is the transport handle a Policy hands back once it
// has picked a mirror; instantiation is delegated to a Factory so the
// policy never imports a concrete transport.
type Downloadable interface {
	Identifier() string
}

// Factory instantiates a Downloadable for a mirror, failing if the
// mirror's location uses an unsupported scheme.
type Factory func(m Mirror) (Downloadable, error)

// Delegate receives policy notifications that have no other return
// path: a mirror that could not be instantiated, and total exhaustion
// for a resource.
type Delegate interface {
	FailedToGenerateDownloadable(resourceID string, m Mirror, err error)
	ExhaustedAllMirrors(resourceID string)
}

// Policy implements the default weighted mirror-selection algorithm
// (§4.C): candidates sorted by descending info["weight"] (ties broken
// by insertion order), a per-mirror retry budget, and exhaustion
// notification when no candidate remains.
type Policy struct {
	mu      sync.Mutex
	budget  int
	factory Factory
	delegate Delegate
	logger  *logger.Logger

	retries map[string]map[string]int // resource id -> mirror id -> attempts
	exhausted map[string]map[string]bool
}

// DefaultRetryBudget is the number of failed attempts a single mirror
// tolerates before the policy excludes it for that resource (I4).
const DefaultRetryBudget = 3

// New creates a Policy with the given per-mirror retry budget. A
// budget <= 0 uses DefaultRetryBudget. A nil log falls back to
// logger.New(nil)'s defaults.
func New(budget int, factory Factory, delegate Delegate, log *logger.Logger) *Policy {
	if budget <= 0 {
		budget = DefaultRetryBudget
	}
	if log == nil {
		log = logger.New(nil)
	}
	return &Policy{
		budget:    budget,
		factory:   factory,
		delegate:  delegate,
		logger:    log,
		retries:   make(map[string]map[string]int),
		exhausted: make(map[string]map[string]bool),
	}
}

// candidates returns r's mirrors sorted by descending weight, ties
// broken by insertion order (main first, then alternatives in order).
func candidates(r Resource) []Mirror {
	all := make([]Mirror, 0, 1+len(r.Mirrors))
	all = append(all, r.Main)
	all = append(all, r.Mirrors...)

	sort.SliceStable(all, func(i, j int) bool {
		return all[i].weight() > all[j].weight()
	})
	return all
}

// Next implements the algorithm described in §4.C: assemble
// candidates, record a failure against lastMirrorID if one occurred,
// and select+instantiate the highest-weight remaining mirror whose
// retry counter is below budget. Returns (nil, Mirror{}, false) once every
// candidate is exhausted, after notifying the delegate.
func (p *Policy) Next(r Resource, lastMirrorID string, lastErr error) (Downloadable, Mirror, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if lastMirrorID != "" && lastErr != nil {
		p.recordFailureLocked(r.ID, lastMirrorID)
	}

	return p.selectLocked(r)
}

func (p *Policy) selectLocked(r Resource) (Downloadable, Mirror, bool) {
	for _, m := range candidates(r) {
		if p.isExhaustedLocked(r.ID, m.ID) {
			continue
		}
		if p.attemptsLocked(r.ID, m.ID) >= p.budget {
			p.markExhaustedLocked(r.ID, m.ID)
			continue
		}

		dl, err := p.factory(m)
		if err != nil {
			p.markExhaustedLocked(r.ID, m.ID)
			p.logger.Warn("failed to generate downloadable for mirror",
				"resource_id", r.ID,
				"mirror_id", m.ID,
				"error", err,
			)
			if p.delegate != nil {
				p.delegate.FailedToGenerateDownloadable(r.ID, m, err)
			}
			continue
		}
		return dl, m, true
	}

	p.logger.Error(nil, "all mirrors exhausted for resource", "resource_id", r.ID)
	if p.delegate != nil {
		p.delegate.ExhaustedAllMirrors(r.ID)
	}
	return nil, Mirror{}, false
}

func (p *Policy) recordFailureLocked(resourceID, mirrorID string) {
	byMirror, ok := p.retries[resourceID]
	if !ok {
		byMirror = make(map[string]int)
		p.retries[resourceID] = byMirror
	}
	byMirror[mirrorID]++
	if byMirror[mirrorID] >= p.budget {
		p.markExhaustedLocked(resourceID, mirrorID)
	}
}

func (p *Policy) attemptsLocked(resourceID, mirrorID string) int {
	if byMirror, ok := p.retries[resourceID]; ok {
		return byMirror[mirrorID]
	}
	return 0
}

func (p *Policy) isExhaustedLocked(resourceID, mirrorID string) bool {
	if byMirror, ok := p.exhausted[resourceID]; ok {
		return byMirror[mirrorID]
	}
	return false
}

func (p *Policy) markExhaustedLocked(resourceID, mirrorID string) {
	byMirror, ok := p.exhausted[resourceID]
	if !ok {
		byMirror = make(map[string]bool)
		p.exhausted[resourceID] = byMirror
	}
	byMirror[mirrorID] = true
}

// DownloadComplete clears every retry counter and exhaustion mark for
// resourceID, per §4.C.
func (p *Policy) DownloadComplete(resourceID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.retries, resourceID)
	delete(p.exhausted, resourceID)
}

// NoMirrorsErr returns a taxonomy error for a resource with no
// candidate mirrors at all, distinct from budget exhaustion.
func NoMirrorsErr(resourceID string) *taxonomy.Error {
	return taxonomy.New(taxonomy.MirrorNoMirrors, resourceID, nil)
}

// AllExhaustedErr returns a taxonomy error for a resource whose
// candidates have all hit their retry budget.
func AllExhaustedErr(resourceID string) *taxonomy.Error {
	return taxonomy.New(taxonomy.MirrorAllExhausted, resourceID, nil)
}
