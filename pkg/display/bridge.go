package display

import (
	"sync"

	"github.com/fetchkit/fetchkit/internal/progress"
)

// Bind subscribes a Tracker to a progress.Node's events, translating
// completions and failures into tracker updates so the CLI can render
// the resource manager's aggregate progress without the manager
// knowing anything about terminal output.
func Bind(node *progress.Node, tracker *Tracker) {
	tracker.SetTotals(0, node.Total())

	var mu sync.Mutex
	var credited int64
	node.Observe(func(ev progress.Event) {
		switch ev.Type {
		case progress.EventCompleted:
			// Credit the growth of the node's completed amount, which is
			// in the same units as the total passed to SetTotals.
			mu.Lock()
			delta := ev.Completed - credited
			credited = ev.Completed
			mu.Unlock()
			tracker.AddFile(ev.TaskID, delta)
		case progress.EventErrored:
			tracker.AddError(ev.Err)
		case progress.EventRetried:
			// no terminal representation; speed/ETA derive from completions.
		}

		tracker.SetTotals(0, ev.Total)
	})
}
