package pool

import (
	"context"
	"fmt"

	"github.com/aristath/parallel-agents/internal/task"
)

type fakeAgent struct {
	id, typ string
	weight  float64
}

func (a *fakeAgent) ID() string   { return a.id }
func (a *fakeAgent) Type() string { return a.typ }

func (a *fakeAgent) Weight() float64 { return a.weight }

func (a *fakeAgent) Execute(ctx context.Context, mt task.Microtask) (task.TaskResult, error) {
	return task.TaskResult{MicrotaskID: mt.ID, Success: true, Content: task.TextContent(a.id), AgentID: a.id}, nil
}

func fakeFactory(agentType string, seq int) (Agent, error) {
	return &fakeAgent{id: fmt.Sprintf("%s-%d", agentType, seq), typ: agentType}, nil
}
