package scheduler

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"unicode"

	"go.uber.org/zap"

	"github.com/aristath/parallel-agents/internal/config"
	"github.com/aristath/parallel-agents/internal/task"
)

// Microtask types assigned by the complexity and hybrid strategies.
const (
	TypeFoundation = "foundation"
	TypeDeepDive   = "deep-dive"
	TypeSynthesis  = "synthesis"
)

// DefaultAgentType is used when neither the content nor the task names a domain.
const DefaultAgentType = "general"

// focusAreas label the microtasks of one domain so parallel agents do not
// receive identical instructions.
var focusAreas = []string{
	"overview", "key factors", "evidence", "risks", "opportunities",
	"outlook", "comparisons", "open questions", "constraints", "examples",
}

// Decomposer splits tasks into microtasks.
type Decomposer struct {
	logger *zap.Logger
}

// NewDecomposer creates a decomposer. A nil logger disables logging.
func NewDecomposer(logger *zap.Logger) *Decomposer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Decomposer{logger: logger}
}

// MicrotaskCount is clamp(floor(complexity/10 * (max-min)) + min, min, max).
func MicrotaskCount(complexity int, cfg config.DecompositionConfig) int {
	span := cfg.MaxMicrotasks - cfg.MinMicrotasks
	count := complexity*span/task.MaxComplexity + cfg.MinMicrotasks
	return min(max(count, cfg.MinMicrotasks), cfg.MaxMicrotasks)
}

// Decompose splits t according to cfg. The returned microtasks are in
// dependency-respecting order with Index matching their position.
// Every error is a *task.DecompositionError; no microtasks are returned with one.
func (d *Decomposer) Decompose(t task.Task, cfg config.DecompositionConfig) ([]task.Microtask, error) {
	if err := t.Validate(); err != nil {
		return nil, task.NewDecompositionError(t.ID, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, task.NewDecompositionError(t.ID, err)
	}

	var (
		plan []task.Microtask
		err  error
	)
	switch cfg.Strategy {
	case config.StrategyManual:
		plan, err = d.manual(t, cfg)
	case config.StrategyDomain:
		plan = d.domain(t, cfg, MicrotaskCount(t.Complexity, cfg))
	case config.StrategyComplexity:
		plan = d.layered(t, cfg, MicrotaskCount(t.Complexity, cfg))
	case config.StrategyHybrid:
		plan, err = d.hybrid(t, cfg)
	}
	if err != nil {
		return nil, task.NewDecompositionError(t.ID, err)
	}

	microtasks, err := finalize(t, cfg, plan)
	if err != nil {
		return nil, task.NewDecompositionError(t.ID, err)
	}

	d.logger.Debug("task decomposed",
		zap.String("task_id", t.ID),
		zap.String("strategy", string(cfg.Strategy)),
		zap.Int("complexity", t.Complexity),
		zap.Int("microtasks", len(microtasks)))
	return microtasks, nil
}

// domain assigns keyword groups round-robin; all microtasks are independent.
func (d *Decomposer) domain(t task.Task, cfg config.DecompositionConfig, count int) []task.Microtask {
	groups := MatchDomains(t.Content, cfg.Domains)
	if len(groups) == 0 {
		groups = []string{fallbackAgentType(t)}
	}

	plan := make([]task.Microtask, 0, count)
	perGroup := make(map[string]int)
	for i := range count {
		group := groups[i%len(groups)]
		focus := focusAreas[perGroup[group]%len(focusAreas)]
		perGroup[group]++
		plan = append(plan, task.Microtask{
			ID:        planID(i),
			Type:      group,
			AgentType: group,
			Content:   fmt.Sprintf("%s\n\nFocus: %s (%s)", t.Content, focus, group),
		})
	}
	return plan
}

// layered builds foundation, deep-dive and synthesis layers bounded by MaxDepth.
// Depth 1 yields independent microtasks; depth 2 adds a synthesis on top;
// depth 3 and up inserts deep-dives between foundations and the synthesis.
func (d *Decomposer) layered(t task.Task, cfg config.DecompositionConfig, count int) []task.Microtask {
	agentType := primaryAgentType(t, cfg)
	step := func(i int, kind, focus string, deps ...string) task.Microtask {
		return task.Microtask{
			ID:           planID(i),
			Type:         kind,
			AgentType:    agentType,
			Content:      fmt.Sprintf("%s\n\nFocus: %s (%s)", t.Content, focus, kind),
			Dependencies: deps,
		}
	}

	if count == 1 || cfg.MaxDepth == 1 {
		plan := make([]task.Microtask, 0, count)
		for i := range count {
			plan = append(plan, step(i, TypeFoundation, focusAreas[i%len(focusAreas)]))
		}
		return plan
	}

	rest := count - 1
	foundations := rest
	if cfg.MaxDepth >= 3 && rest >= 2 {
		foundations = (rest + 1) / 2
	}

	plan := make([]task.Microtask, 0, count)
	var all []string
	for i := range foundations {
		mt := step(i, TypeFoundation, focusAreas[i%len(focusAreas)])
		plan = append(plan, mt)
		all = append(all, mt.ID)
	}
	for j := range rest - foundations {
		i := foundations + j
		base := plan[j%foundations]
		mt := step(i, TypeDeepDive, "deep dive on "+focusAreas[j%foundations%len(focusAreas)], base.ID)
		plan = append(plan, mt)
		all = append(all, mt.ID)
	}
	plan = append(plan, step(count-1, TypeSynthesis, "synthesis of all findings", all...))
	return plan
}

// hybrid uses caller splits when present; otherwise domain-typed microtasks,
// topped by a synthesis step for complex tasks when depth allows.
func (d *Decomposer) hybrid(t task.Task, cfg config.DecompositionConfig) ([]task.Microtask, error) {
	if len(t.Splits) > 0 {
		return d.manual(t, cfg)
	}

	count := MicrotaskCount(t.Complexity, cfg)
	if t.Complexity < 7 || count < 3 || cfg.MaxDepth < 2 {
		return d.domain(t, cfg, count), nil
	}

	plan := d.domain(t, cfg, count-1)
	deps := make([]string, 0, len(plan))
	for _, mt := range plan {
		deps = append(deps, mt.ID)
	}
	plan = append(plan, task.Microtask{
		ID:           planID(count - 1),
		Type:         TypeSynthesis,
		AgentType:    primaryAgentType(t, cfg),
		Content:      fmt.Sprintf("%s\n\nFocus: synthesis of all findings", t.Content),
		Dependencies: deps,
	})
	return plan, nil
}

// manual turns caller-supplied splits into microtasks.
func (d *Decomposer) manual(t task.Task, cfg config.DecompositionConfig) ([]task.Microtask, error) {
	if len(t.Splits) == 0 {
		return nil, errors.New("manual strategy requires splits")
	}
	if n := len(t.Splits); n < cfg.MinMicrotasks || n > cfg.MaxMicrotasks {
		return nil, fmt.Errorf("%d splits outside [%d,%d]", n, cfg.MinMicrotasks, cfg.MaxMicrotasks)
	}

	keys := make(map[string]bool, len(t.Splits))
	for _, s := range t.Splits {
		if s.Key == "" {
			return nil, errors.New("split key is empty")
		}
		if keys[s.Key] {
			return nil, fmt.Errorf("duplicate split key %q", s.Key)
		}
		keys[s.Key] = true
	}

	plan := make([]task.Microtask, 0, len(t.Splits))
	for _, s := range t.Splits {
		for _, dep := range s.DependsOn {
			if !keys[dep] {
				return nil, fmt.Errorf("split %q depends on unknown split %q", s.Key, dep)
			}
		}
		agentType := s.AgentType
		if agentType == "" {
			agentType = s.Type
		}
		if agentType == "" {
			agentType = fallbackAgentType(t)
		}
		kind := s.Type
		if kind == "" {
			kind = agentType
		}
		plan = append(plan, task.Microtask{
			ID:           s.Key,
			Type:         kind,
			AgentType:    agentType,
			Content:      s.Content,
			Dependencies: append([]string(nil), s.DependsOn...),
		})
	}
	return plan, nil
}

// finalize validates the plan graph, orders it, and assigns final IDs,
// indexes, priority and timeout.
func finalize(t task.Task, cfg config.DecompositionConfig, plan []task.Microtask) ([]task.Microtask, error) {
	dag := NewDAG()
	byID := make(map[string]task.Microtask, len(plan))
	for _, mt := range plan {
		if err := dag.Add(mt); err != nil {
			return nil, err
		}
		byID[mt.ID] = mt
	}

	depth, err := dag.Depth()
	if err != nil {
		return nil, err
	}
	if depth > cfg.MaxDepth {
		return nil, fmt.Errorf("dependency chain of %d exceeds max depth %d", depth, cfg.MaxDepth)
	}

	order, err := dag.Order()
	if err != nil {
		return nil, err
	}

	ids := make(map[string]string, len(order))
	for i, planned := range order {
		ids[planned] = MicrotaskID(t.ID, i)
	}

	out := make([]task.Microtask, 0, len(order))
	for i, planned := range order {
		mt := byID[planned]
		deps := make([]string, 0, len(mt.Dependencies))
		for _, dep := range mt.Dependencies {
			deps = append(deps, ids[dep])
		}
		mt.ID = ids[planned]
		mt.TaskID = t.ID
		mt.Index = i
		mt.Priority = t.Priority
		mt.Timeout = cfg.TimeoutPerMicrotask.Std()
		mt.Dependencies = nil
		if len(deps) > 0 {
			mt.Dependencies = deps
		}
		out = append(out, mt)
	}
	return out, nil
}

// MicrotaskID names the i-th (0-based) microtask of a task.
func MicrotaskID(taskID string, i int) string {
	return fmt.Sprintf("%s-mt-%d", taskID, i+1)
}

func planID(i int) string {
	return fmt.Sprintf("step-%d", i+1)
}

// MatchDomains returns the agent types whose keywords appear in content,
// ordered by first appearance. A keyword matches a word it prefixes.
func MatchDomains(content string, domains map[string][]string) []string {
	words := strings.FieldsFunc(strings.ToLower(content), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	first := make(map[string]int)
	for name, keywords := range domains {
		for pos, word := range words {
			if matchesAny(word, keywords) {
				first[name] = pos
				break
			}
		}
	}

	matched := make([]string, 0, len(first))
	for name := range first {
		matched = append(matched, name)
	}
	sort.Slice(matched, func(i, j int) bool {
		if first[matched[i]] != first[matched[j]] {
			return first[matched[i]] < first[matched[j]]
		}
		return matched[i] < matched[j]
	})
	return matched
}

func matchesAny(word string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.HasPrefix(word, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

func primaryAgentType(t task.Task, cfg config.DecompositionConfig) string {
	if groups := MatchDomains(t.Content, cfg.Domains); len(groups) > 0 {
		return groups[0]
	}
	return fallbackAgentType(t)
}

func fallbackAgentType(t task.Task) string {
	if t.Type != "" {
		return t.Type
	}
	return DefaultAgentType
}
