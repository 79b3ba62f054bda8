package pool

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/aristath/parallel-agents/internal/events"
	"github.com/aristath/parallel-agents/internal/metrics"
	"github.com/aristath/parallel-agents/internal/task"
)

// PoolSpec describes a pool to create.
type PoolSpec struct {
	Type    string
	MinSize int
	MaxSize int
	Factory Factory // Optional; without it the pool only grows through Register
}

// PoolInfo is a point-in-time description of a pool.
type PoolInfo struct {
	Type        string
	Status      Status
	MinSize     int
	MaxSize     int
	CurrentSize int // Agents not scheduled for removal
	AgentIDs    []string
}

// AgentPoolStats is point-in-time pool telemetry.
type AgentPoolStats struct {
	TotalAgents     int
	ActiveAgents    int // Agents executing a microtask
	QueuedTasks     int // Acquire calls waiting for an agent
	Utilization     float64
	AvgResponseTime time.Duration
}

// member is an agent plus its bookkeeping.
type member struct {
	agent     Agent
	order     int64
	added     time.Time
	busy      bool
	busySince time.Time
	busyTotal time.Duration
	retiring  bool // Removed on release
}

func (m *member) utilization(now time.Time) float64 {
	age := now.Sub(m.added)
	if age <= 0 {
		return 0
	}
	busy := m.busyTotal
	if m.busy {
		busy += now.Sub(m.busySince)
	}
	return min(1, max(0, float64(busy)/float64(age)))
}

// agentPool is guarded by mu; changed is closed and replaced whenever an
// agent is added or released so waiters can re-check.
type agentPool struct {
	mu        sync.Mutex
	spec      PoolSpec
	status    Status
	members   []*member
	seq       int
	waiting   int
	changed   chan struct{}
	responses int
	respTotal time.Duration
}

func (p *agentPool) notifyLocked() {
	close(p.changed)
	p.changed = make(chan struct{})
}

func (p *agentPool) sizeLocked() int {
	n := 0
	for _, m := range p.members {
		if !m.retiring {
			n++
		}
	}
	return n
}

func (p *agentPool) busyLocked() int {
	n := 0
	for _, m := range p.members {
		if m.busy {
			n++
		}
	}
	return n
}

func (p *agentPool) removeLocked(target *member) {
	for i, m := range p.members {
		if m == target {
			p.members = append(p.members[:i], p.members[i+1:]...)
			return
		}
	}
}

// Manager owns one pool per agent type and is the only mutator of pool state.
type Manager struct {
	mu            sync.RWMutex
	pools         map[string]*agentPool
	order         int64
	assignTimeout time.Duration
	logger        *zap.Logger
	bus           *events.EventBus
	metrics       *metrics.Collector
	now           func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithEventBus publishes pool status changes on bus.
func WithEventBus(bus *events.EventBus) Option {
	return func(m *Manager) { m.bus = bus }
}

// WithMetrics records pool sizes on c.
func WithMetrics(c *metrics.Collector) Option {
	return func(m *Manager) { m.metrics = c }
}

// WithAssignmentTimeout bounds how long Acquire waits for an idle agent.
// Zero fails immediately when every agent is busy.
func WithAssignmentTimeout(d time.Duration) Option {
	return func(m *Manager) { m.assignTimeout = d }
}

// WithClock overrides time.Now, for utilization tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates an empty manager.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		pools:  make(map[string]*agentPool),
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// CreatePool adds a pool and, when it has a factory, fills it to MinSize.
func (m *Manager) CreatePool(ctx context.Context, spec PoolSpec) error {
	if spec.Type == "" {
		return errors.New("pool type is empty")
	}
	if spec.MinSize < 0 || spec.MaxSize < 1 || spec.MinSize > spec.MaxSize {
		return fmt.Errorf("pool %q: invalid size range [%d,%d]", spec.Type, spec.MinSize, spec.MaxSize)
	}

	m.mu.Lock()
	if _, exists := m.pools[spec.Type]; exists {
		m.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrPoolExists, spec.Type)
	}
	m.pools[spec.Type] = &agentPool{
		spec:    spec,
		status:  StatusInactive,
		changed: make(chan struct{}),
	}
	m.mu.Unlock()

	if spec.Factory != nil && spec.MinSize > 0 {
		if err := m.Scale(ctx, spec.Type, spec.MinSize); err != nil {
			return fmt.Errorf("filling pool %q: %w", spec.Type, err)
		}
	}
	return nil
}

func (m *Manager) pool(agentType string) (*agentPool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, exists := m.pools[agentType]
	if !exists {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPool, agentType)
	}
	return p, nil
}

func (m *Manager) nextOrder() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.order++
	return m.order
}

// Types returns the pool types in sorted order.
func (m *Manager) Types() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	types := make([]string, 0, len(m.pools))
	for t := range m.pools {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Register adds an externally built agent to the pool of its type.
// The first agent moves an inactive pool to active.
func (m *Manager) Register(agent Agent) error {
	p, err := m.pool(agent.Type())
	if err != nil {
		return err
	}
	order := m.nextOrder()

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.status == StatusDraining {
		return fmt.Errorf("%w: %q is draining", ErrPoolUnavailable, agent.Type())
	}
	if p.sizeLocked() >= p.spec.MaxSize {
		return fmt.Errorf("%w: %q", ErrPoolFull, agent.Type())
	}
	for _, existing := range p.members {
		if existing.agent.ID() == agent.ID() {
			return fmt.Errorf("agent %q already registered", agent.ID())
		}
	}

	p.members = append(p.members, &member{agent: agent, order: order, added: m.now()})
	if p.status == StatusInactive {
		p.status = StatusActive
	}
	p.notifyLocked()
	m.publishLocked(p)
	return nil
}

// GetPool describes the pool for agentType.
func (m *Manager) GetPool(agentType string) (PoolInfo, error) {
	p, err := m.pool(agentType)
	if err != nil {
		return PoolInfo{}, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	info := PoolInfo{
		Type:        p.spec.Type,
		Status:      p.status,
		MinSize:     p.spec.MinSize,
		MaxSize:     p.spec.MaxSize,
		CurrentSize: p.sizeLocked(),
	}
	for _, mem := range p.members {
		if !mem.retiring {
			info.AgentIDs = append(info.AgentIDs, mem.agent.ID())
		}
	}
	return info, nil
}

// Stats returns telemetry for the pool of agentType.
func (m *Manager) Stats(agentType string) (AgentPoolStats, error) {
	p, err := m.pool(agentType)
	if err != nil {
		return AgentPoolStats{}, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	stats := AgentPoolStats{
		TotalAgents:  len(p.members),
		ActiveAgents: p.busyLocked(),
		QueuedTasks:  p.waiting,
	}
	if stats.TotalAgents > 0 {
		stats.Utilization = float64(stats.ActiveAgents) / float64(stats.TotalAgents)
	}
	if p.responses > 0 {
		stats.AvgResponseTime = p.respTotal / time.Duration(p.responses)
	}
	return stats, nil
}

// Scale resizes the pool to target, clamped to [MinSize, MaxSize].
// Growth uses the pool factory; shrinking removes idle agents newest first
// and retires busy ones when they are released.
func (m *Manager) Scale(ctx context.Context, agentType string, target int) error {
	p, err := m.pool(agentType)
	if err != nil {
		return err
	}

	clamped := min(max(target, p.spec.MinSize), p.spec.MaxSize)
	if clamped != target {
		m.logger.Warn("scale target clamped to pool bounds",
			zap.String("agent_type", agentType),
			zap.Int("requested", target),
			zap.Int("target", clamped),
			zap.Int("min", p.spec.MinSize),
			zap.Int("max", p.spec.MaxSize))
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.status == StatusDraining {
		return fmt.Errorf("%w: %q is draining", ErrPoolUnavailable, agentType)
	}

	current := p.sizeLocked()
	if clamped == current {
		return nil
	}
	if clamped > current && p.spec.Factory == nil {
		return fmt.Errorf("pool %q has no agent factory", agentType)
	}

	p.status = StatusScaling
	m.publishLocked(p)

	var scaleErr error
	if clamped > current {
		scaleErr = m.growLocked(ctx, p, clamped-current)
	} else {
		m.shrinkLocked(p, current-clamped)
	}

	if p.sizeLocked() > 0 {
		p.status = StatusActive
	} else {
		p.status = StatusInactive
	}
	p.notifyLocked()
	m.publishLocked(p)

	m.logger.Info("pool scaled",
		zap.String("agent_type", agentType),
		zap.Int("from", current),
		zap.Int("to", p.sizeLocked()),
		zap.Error(scaleErr))
	return scaleErr
}

func (m *Manager) growLocked(ctx context.Context, p *agentPool, n int) error {
	for range n {
		if err := ctx.Err(); err != nil {
			return err
		}
		p.seq++
		agent, err := p.spec.Factory(p.spec.Type, p.seq)
		if err != nil {
			return fmt.Errorf("creating agent %d for %q: %w", p.seq, p.spec.Type, err)
		}
		p.members = append(p.members, &member{agent: agent, order: m.nextOrder(), added: m.now()})
	}
	return nil
}

func (m *Manager) shrinkLocked(p *agentPool, n int) {
	for i := len(p.members) - 1; i >= 0 && n > 0; i-- {
		mem := p.members[i]
		if mem.busy || mem.retiring {
			continue
		}
		p.members = append(p.members[:i], p.members[i+1:]...)
		n--
	}
	for i := len(p.members) - 1; i >= 0 && n > 0; i-- {
		mem := p.members[i]
		if mem.retiring {
			continue
		}
		mem.retiring = true
		n--
	}
}

// Acquire leases an idle agent of mt.AgentType chosen by sel. Agents in
// exclude are skipped while the pool has any other agent. When every
// candidate is busy it waits up to the assignment timeout.
// All failures are DispatchErrors.
func (m *Manager) Acquire(ctx context.Context, mt task.Microtask, sel Selector, exclude map[string]bool) (*Lease, error) {
	p, err := m.pool(mt.AgentType)
	if err != nil {
		return nil, task.NewDispatchError(mt.AgentType, err)
	}

	var expired <-chan time.Time
	if m.assignTimeout > 0 {
		timer := time.NewTimer(m.assignTimeout)
		defer timer.Stop()
		expired = timer.C
	}

	for {
		p.mu.Lock()
		if p.status == StatusDraining || p.status == StatusInactive {
			status := p.status
			p.mu.Unlock()
			return nil, task.NewDispatchError(mt.AgentType, fmt.Errorf("%w: pool is %s", ErrPoolUnavailable, status))
		}

		snap := p.snapshotLocked(exclude, m.now())
		id, selErr := sel.SelectAgent(mt, snap)
		if selErr == nil {
			lease, err := m.leaseLocked(p, id)
			p.mu.Unlock()
			if err != nil {
				return nil, task.NewDispatchError(mt.AgentType, err)
			}
			return lease, nil
		}
		if !errors.Is(selErr, ErrNoIdleAgent) || expired == nil {
			p.mu.Unlock()
			return nil, asDispatch(mt.AgentType, selErr)
		}

		wait := p.changed
		p.waiting++
		p.mu.Unlock()

		var waitErr error
		select {
		case <-wait:
		case <-ctx.Done():
			waitErr = ctx.Err()
		case <-expired:
			waitErr = ErrAssignTimeout
		}

		p.mu.Lock()
		p.waiting--
		p.mu.Unlock()

		if waitErr != nil {
			return nil, task.NewDispatchError(mt.AgentType, waitErr)
		}
	}
}

func asDispatch(agentType string, err error) error {
	if task.IsDispatch(err) {
		return err
	}
	return task.NewDispatchError(agentType, err)
}

// snapshotLocked lists non-retiring agents, honoring exclude only while
// some agent outside it exists.
func (p *agentPool) snapshotLocked(exclude map[string]bool, now time.Time) Snapshot {
	honor := false
	for _, mem := range p.members {
		if !mem.retiring && !exclude[mem.agent.ID()] {
			honor = true
			break
		}
	}

	snap := Snapshot{AgentType: p.spec.Type}
	for _, mem := range p.members {
		if mem.retiring || (honor && exclude[mem.agent.ID()]) {
			continue
		}
		state := AgentState{
			ID:          mem.agent.ID(),
			Busy:        mem.busy,
			Utilization: mem.utilization(now),
			Order:       mem.order,
		}
		if w, ok := mem.agent.(Weighter); ok {
			state.Weight = w.Weight()
		}
		snap.Agents = append(snap.Agents, state)
	}
	return snap
}

func (m *Manager) leaseLocked(p *agentPool, id string) (*Lease, error) {
	for _, mem := range p.members {
		if mem.agent.ID() != id || mem.retiring {
			continue
		}
		if mem.busy {
			return nil, fmt.Errorf("agent %q is busy", id)
		}
		mem.busy = true
		mem.busySince = m.now()
		m.metrics.PoolChanged(p.spec.Type, p.sizeLocked(), p.busyLocked())
		return &Lease{manager: m, pool: p, member: mem, Agent: mem.agent}, nil
	}
	return nil, fmt.Errorf("selected agent %q is not in pool %q", id, p.spec.Type)
}

// Lease is exclusive use of one agent. Release must be called exactly once
// per lease on every exit path; extra calls are ignored.
type Lease struct {
	Agent Agent

	manager *Manager
	pool    *agentPool
	member  *member
	once    sync.Once
}

// Release returns the agent to its pool and records the response time.
func (l *Lease) Release() {
	l.once.Do(func() {
		m, p := l.manager, l.pool
		p.mu.Lock()
		defer p.mu.Unlock()

		now := m.now()
		elapsed := now.Sub(l.member.busySince)
		l.member.busy = false
		l.member.busyTotal += elapsed
		p.responses++
		p.respTotal += elapsed

		if l.member.retiring {
			p.removeLocked(l.member)
			m.logger.Debug("retired agent removed",
				zap.String("agent_type", p.spec.Type),
				zap.String("agent_id", l.Agent.ID()))
		}
		if p.status == StatusDraining && p.busyLocked() == 0 {
			p.members = nil
			p.status = StatusInactive
			m.publishLocked(p)
		}
		m.metrics.PoolChanged(p.spec.Type, p.sizeLocked(), p.busyLocked())
		p.notifyLocked()
	})
}

// Drain stops dispatch to the pool, waits for in-flight work, then removes
// every agent and leaves the pool inactive.
func (m *Manager) Drain(ctx context.Context, agentType string) error {
	p, err := m.pool(agentType)
	if err != nil {
		return err
	}

	p.mu.Lock()
	if p.status != StatusInactive || len(p.members) > 0 {
		p.status = StatusDraining
		m.publishLocked(p)
		p.notifyLocked()
	}
	p.mu.Unlock()

	for {
		p.mu.Lock()
		if p.busyLocked() == 0 {
			p.members = nil
			if p.status != StatusInactive {
				p.status = StatusInactive
				m.publishLocked(p)
			}
			p.mu.Unlock()
			m.logger.Info("pool drained", zap.String("agent_type", agentType))
			return nil
		}
		wait := p.changed
		p.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return fmt.Errorf("draining %q: %w", agentType, ctx.Err())
		}
	}
}

// Shutdown drains every pool.
func (m *Manager) Shutdown(ctx context.Context) error {
	var errs []error
	for _, agentType := range m.Types() {
		if err := m.Drain(ctx, agentType); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) publishLocked(p *agentPool) {
	size := p.sizeLocked()
	m.metrics.PoolChanged(p.spec.Type, size, p.busyLocked())
	m.bus.Publish(events.TopicPool, events.PoolStatusEvent{
		AgentType: p.spec.Type,
		Status:    p.status.String(),
		Size:      size,
		Timestamp: m.now(),
	})
}
