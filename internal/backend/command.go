package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/aristath/parallel-agents/internal/task"
)

// Environment variables set on every agent subprocess.
const (
	EnvAgentID     = "PARALLEL_AGENTS_AGENT_ID"
	EnvAgentType   = "PARALLEL_AGENTS_AGENT_TYPE"
	EnvMicrotaskID = "PARALLEL_AGENTS_MICROTASK_ID"
	EnvAttemptID   = "PARALLEL_AGENTS_ATTEMPT_ID"
)

// commandRequest is written to the subprocess stdin.
type commandRequest struct {
	AttemptID string         `json:"attempt_id"`
	AgentID   string         `json:"agent_id"`
	Microtask task.Microtask `json:"microtask"`
}

// commandOutput is the JSON document a subprocess may print on stdout.
// Any stdout that does not decode into it is treated as plain text content.
type commandOutput struct {
	Success    *bool         `json:"success"`
	Content    *task.Content `json:"content"`
	Error      string        `json:"error"`
	Confidence *float64      `json:"confidence"`
}

// CommandAgent runs one subprocess per microtask. The microtask is sent as
// JSON on stdin and the result is read from stdout.
type CommandAgent struct {
	id        string
	agentType string
	command   string
	args      []string
	procMgr   *ProcessManager
}

// NewCommandAgent creates an agent that invokes command with args for each microtask.
func NewCommandAgent(id, agentType, command string, args []string, pm *ProcessManager) *CommandAgent {
	return &CommandAgent{
		id:        id,
		agentType: agentType,
		command:   command,
		args:      append([]string(nil), args...),
		procMgr:   pm,
	}
}

func (a *CommandAgent) ID() string   { return a.id }
func (a *CommandAgent) Type() string { return a.agentType }

// Execute runs the subprocess under ctx. Cancellation kills the process group
// and is reported as a timeout.
func (a *CommandAgent) Execute(ctx context.Context, mt task.Microtask) (task.TaskResult, error) {
	start := time.Now()
	attemptID := uuid.NewString()

	payload, err := json.Marshal(commandRequest{AttemptID: attemptID, AgentID: a.id, Microtask: mt})
	if err != nil {
		return a.fail(mt, start, fmt.Errorf("encoding microtask: %w", err))
	}

	cmd := newCommand(ctx, a.command, a.args...)
	cmd.Env = append(os.Environ(),
		EnvAgentID+"="+a.id,
		EnvAgentType+"="+a.agentType,
		EnvMicrotaskID+"="+mt.ID,
		EnvAttemptID+"="+attemptID,
	)

	stdout, _, err := executeCommand(ctx, cmd, a.procMgr, payload)
	if err != nil {
		if ctx.Err() != nil {
			result := task.Failure(task.NewTimeoutError(a.id, err))
			return a.annotate(result, mt, start), task.NewTimeoutError(a.id, err)
		}
		return a.fail(mt, start, err)
	}

	result := parseOutput(stdout)
	result = a.annotate(result, mt, start)
	if !result.Success {
		return result, task.NewExecutionError(a.id, errors.New(result.Error))
	}
	return result, nil
}

func (a *CommandAgent) fail(mt task.Microtask, start time.Time, err error) (task.TaskResult, error) {
	wrapped := task.NewExecutionError(a.id, err)
	return a.annotate(task.Failure(wrapped), mt, start), wrapped
}

func (a *CommandAgent) annotate(r task.TaskResult, mt task.Microtask, start time.Time) task.TaskResult {
	r.TaskID = mt.TaskID
	r.MicrotaskID = mt.ID
	r.AgentID = a.id
	r.Duration = time.Since(start)
	return r
}

// parseOutput decodes a subprocess's stdout. A JSON object carrying a success
// or content field is a structured result; anything else is plain text.
func parseOutput(stdout []byte) task.TaskResult {
	trimmed := bytes.TrimSpace(stdout)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var out commandOutput
		if err := json.Unmarshal(trimmed, &out); err == nil && (out.Success != nil || out.Content != nil) {
			return out.result()
		}
	}
	if len(trimmed) == 0 {
		return task.TaskResult{Success: true}
	}
	return task.TaskResult{Success: true, Content: task.TextContent(string(trimmed))}
}

func (o commandOutput) result() task.TaskResult {
	r := task.TaskResult{Success: o.Success == nil || *o.Success, Error: o.Error}
	if o.Content != nil {
		r.Content = *o.Content
	}
	if o.Confidence != nil {
		r.Confidence = task.Float(min(max(*o.Confidence, 0), 1))
	}
	if !r.Success && r.Error == "" {
		r.Error = "agent reported failure"
	}
	if r.Success {
		r.Error = ""
	}
	return r
}
