package scheduler

import (
	"fmt"
	"strings"
	"sync"

	"github.com/gammazero/toposort"

	"github.com/aristath/parallel-agents/internal/task"
)

// node is a microtask plus its execution state.
type node struct {
	mt       task.Microtask
	status   task.MicrotaskStatus
	result   *task.TaskResult
	attempts int
}

// DAG tracks the microtasks of one task and the dependency edges between them.
type DAG struct {
	mu         sync.RWMutex
	nodes      map[string]*node
	order      []string            // insertion order
	dependents map[string][]string // microtask ID -> microtasks that depend on it
}

// Progress is a point-in-time count of microtasks by state.
// Running covers dispatched and running; Pending covers pending and timed-out.
type Progress struct {
	Total     int
	Completed int
	Running   int
	Failed    int
	Pending   int
}

// NewDAG creates an empty DAG.
func NewDAG() *DAG {
	return &DAG{
		nodes:      make(map[string]*node),
		dependents: make(map[string][]string),
	}
}

// Add inserts a microtask. Returns error if the ID already exists.
func (d *DAG) Add(mt task.Microtask) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.nodes[mt.ID]; exists {
		return fmt.Errorf("microtask with ID %q already exists", mt.ID)
	}

	mt.Dependencies = append([]string(nil), mt.Dependencies...)
	d.nodes[mt.ID] = &node{mt: mt, status: task.MicrotaskPending}
	d.order = append(d.order, mt.ID)

	for _, depID := range mt.Dependencies {
		d.dependents[depID] = append(d.dependents[depID], mt.ID)
	}
	return nil
}

// Len returns the number of microtasks.
func (d *DAG) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.nodes)
}

// Validate runs a topological sort over the dependency edges.
// Returns ordered microtask IDs, or an error on a cycle or an unknown dependency.
func (d *DAG) Validate() ([]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.validateLocked()
}

func (d *DAG) validateLocked() ([]string, error) {
	for _, id := range d.order {
		for _, depID := range d.nodes[id].mt.Dependencies {
			if _, exists := d.nodes[depID]; !exists {
				return nil, fmt.Errorf("microtask %q depends on non-existent microtask %q", id, depID)
			}
		}
	}

	var edges []toposort.Edge
	for _, id := range d.order {
		deps := d.nodes[id].mt.Dependencies
		if len(deps) == 0 {
			// Root: edge from nil keeps it in the sorted output
			edges = append(edges, toposort.Edge{nil, id})
			continue
		}
		for _, depID := range deps {
			edges = append(edges, toposort.Edge{depID, id})
		}
	}

	sorted, err := toposort.Toposort(edges)
	if err != nil {
		return nil, fmt.Errorf("dependency graph contains cycle: %w", err)
	}

	order := make([]string, 0, len(sorted))
	for _, id := range sorted {
		if id != nil {
			order = append(order, id.(string))
		}
	}

	if len(order) != len(d.nodes) {
		found := make(map[string]bool, len(order))
		for _, id := range order {
			found[id] = true
		}
		var missing []string
		for _, id := range d.order {
			if !found[id] {
				missing = append(missing, id)
			}
		}
		return nil, fmt.Errorf("topological sort lost %d microtasks: %s", len(missing), strings.Join(missing, ", "))
	}

	return order, nil
}

// Depth returns the number of microtasks on the longest dependency chain.
// A graph of independent microtasks has depth 1; an empty graph has depth 0.
func (d *DAG) Depth() (int, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	sorted, err := d.validateLocked()
	if err != nil {
		return 0, err
	}

	depth := make(map[string]int, len(sorted))
	longest := 0
	for _, id := range sorted {
		level := 1
		for _, depID := range d.nodes[id].mt.Dependencies {
			level = max(level, depth[depID]+1)
		}
		depth[id] = level
		longest = max(longest, level)
	}
	return longest, nil
}

// Order returns microtask IDs in dependency-respecting insertion order:
// each position holds the earliest-inserted microtask whose dependencies
// all appear before it.
func (d *DAG) Order() ([]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if _, err := d.validateLocked(); err != nil {
		return nil, err
	}

	placed := make(map[string]bool, len(d.order))
	order := make([]string, 0, len(d.order))
	for len(order) < len(d.order) {
		for _, id := range d.order {
			if placed[id] || !allIn(d.nodes[id].mt.Dependencies, placed) {
				continue
			}
			placed[id] = true
			order = append(order, id)
			break
		}
	}
	return order, nil
}

func allIn(ids []string, set map[string]bool) bool {
	for _, id := range ids {
		if !set[id] {
			return false
		}
	}
	return true
}

// Ready returns pending microtasks whose dependencies are all terminal, in
// insertion order. A failed dependency still resolves its dependents; the
// results of all dependencies are attached as Upstream.
func (d *DAG) Ready() []task.Microtask {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var ready []task.Microtask
	for _, id := range d.order {
		n := d.nodes[id]
		if n.status != task.MicrotaskPending {
			continue
		}

		resolved := true
		upstream := make([]task.TaskResult, 0, len(n.mt.Dependencies))
		for _, depID := range n.mt.Dependencies {
			dep, exists := d.nodes[depID]
			if !exists || !dep.status.Terminal() {
				resolved = false
				break
			}
			if dep.result != nil {
				upstream = append(upstream, *dep.result)
			}
		}
		if !resolved {
			continue
		}

		mt := cloneMicrotask(n.mt)
		if len(upstream) > 0 {
			mt.Upstream = upstream
		}
		mt.Attempt = n.attempts + 1
		ready = append(ready, mt)
	}
	return ready
}

func (d *DAG) transition(id string, from []task.MicrotaskStatus, to task.MicrotaskStatus) (*node, error) {
	n, exists := d.nodes[id]
	if !exists {
		return nil, fmt.Errorf("microtask %q not found", id)
	}
	if len(from) > 0 {
		allowed := false
		for _, s := range from {
			if n.status == s {
				allowed = true
				break
			}
		}
		if !allowed {
			return nil, fmt.Errorf("microtask %q: cannot move from %s to %s", id, n.status, to)
		}
	}
	n.status = to
	return n, nil
}

// MarkDispatched records that an agent was selected and counts the attempt.
func (d *DAG) MarkDispatched(id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	n, err := d.transition(id, []task.MicrotaskStatus{task.MicrotaskPending}, task.MicrotaskDispatched)
	if err != nil {
		return err
	}
	n.attempts++
	return nil
}

// MarkRunning sets status to running.
func (d *DAG) MarkRunning(id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	_, err := d.transition(id, []task.MicrotaskStatus{task.MicrotaskDispatched}, task.MicrotaskRunning)
	return err
}

// MarkTimedOut records a timed-out attempt. The microtask then either
// returns to pending via ResetPending or terminates via MarkFailed.
func (d *DAG) MarkTimedOut(id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	_, err := d.transition(id, []task.MicrotaskStatus{task.MicrotaskDispatched, task.MicrotaskRunning}, task.MicrotaskTimedOut)
	return err
}

// ResetPending returns a non-terminal microtask to pending for another attempt.
func (d *DAG) ResetPending(id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	_, err := d.transition(id, []task.MicrotaskStatus{
		task.MicrotaskDispatched, task.MicrotaskRunning, task.MicrotaskTimedOut,
	}, task.MicrotaskPending)
	return err
}

// MarkCompleted stores a successful result.
func (d *DAG) MarkCompleted(id string, result task.TaskResult) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	n, err := d.transition(id, []task.MicrotaskStatus{task.MicrotaskDispatched, task.MicrotaskRunning}, task.MicrotaskCompleted)
	if err != nil {
		return err
	}
	n.result = &result
	return nil
}

// MarkFailed stores a terminal failure. Allowed from any non-terminal state,
// including pending when a deadline cancels a microtask that never started.
func (d *DAG) MarkFailed(id string, result task.TaskResult) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	n, err := d.transition(id, []task.MicrotaskStatus{
		task.MicrotaskPending, task.MicrotaskDispatched, task.MicrotaskRunning, task.MicrotaskTimedOut,
	}, task.MicrotaskFailed)
	if err != nil {
		return err
	}
	if result.Success {
		result.Success = false
	}
	if result.Error == "" {
		result.Error = "microtask failed"
	}
	n.result = &result
	return nil
}

// Get returns a copy of the microtask and its status.
func (d *DAG) Get(id string) (task.Microtask, task.MicrotaskStatus, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	n, exists := d.nodes[id]
	if !exists {
		return task.Microtask{}, task.MicrotaskPending, false
	}
	return cloneMicrotask(n.mt), n.status, true
}

// Attempts returns how many times the microtask has been dispatched.
func (d *DAG) Attempts(id string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if n, exists := d.nodes[id]; exists {
		return n.attempts
	}
	return 0
}

// Microtasks returns all microtasks in insertion order.
func (d *DAG) Microtasks() []task.Microtask {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]task.Microtask, 0, len(d.order))
	for _, id := range d.order {
		out = append(out, cloneMicrotask(d.nodes[id].mt))
	}
	return out
}

// Done reports whether every microtask is terminal.
func (d *DAG) Done() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	for _, n := range d.nodes {
		if !n.status.Terminal() {
			return false
		}
	}
	return true
}

// Results returns one result per microtask in insertion order. Microtasks
// without a stored result yield a failure.
func (d *DAG) Results() []task.TaskResult {
	d.mu.RLock()
	defer d.mu.RUnlock()

	results := make([]task.TaskResult, 0, len(d.order))
	for _, id := range d.order {
		n := d.nodes[id]
		if n.result != nil {
			results = append(results, *n.result)
			continue
		}
		r := task.Failure(fmt.Errorf("microtask %q did not finish (%s)", id, n.status))
		r.TaskID = n.mt.TaskID
		r.MicrotaskID = id
		results = append(results, r)
	}
	return results
}

// Progress counts microtasks by state.
func (d *DAG) Progress() Progress {
	d.mu.RLock()
	defer d.mu.RUnlock()

	p := Progress{Total: len(d.nodes)}
	for _, n := range d.nodes {
		switch n.status {
		case task.MicrotaskCompleted:
			p.Completed++
		case task.MicrotaskFailed:
			p.Failed++
		case task.MicrotaskDispatched, task.MicrotaskRunning:
			p.Running++
		default:
			p.Pending++
		}
	}
	return p
}

func cloneMicrotask(mt task.Microtask) task.Microtask {
	cp := mt
	if mt.Dependencies != nil {
		cp.Dependencies = append([]string(nil), mt.Dependencies...)
	}
	if mt.Upstream != nil {
		cp.Upstream = append([]task.TaskResult(nil), mt.Upstream...)
	}
	return cp
}
