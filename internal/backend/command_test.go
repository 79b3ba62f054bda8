package backend

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/aristath/parallel-agents/internal/task"
)

func testMicrotask() task.Microtask {
	return task.Microtask{
		ID:        "t1-mt-0",
		TaskID:    "t1",
		Type:      "foundation",
		AgentType: "research",
		Content:   "survey the market",
		Timeout:   time.Minute,
		Attempt:   1,
	}
}

func TestParseOutput(t *testing.T) {
	tests := []struct {
		name        string
		stdout      string
		wantSuccess bool
		wantKind    task.ContentKind
		wantText    string
		wantError   string
		wantConf    *float64
	}{
		{
			name:        "plain text",
			stdout:      "found three sources\n",
			wantSuccess: true,
			wantKind:    task.KindText,
			wantText:    "found three sources",
		},
		{
			name:        "empty output",
			stdout:      "  \n",
			wantSuccess: true,
			wantKind:    task.KindEmpty,
		},
		{
			name:        "structured research",
			stdout:      `{"success":true,"content":{"kind":"research","value":{"sources":[{"title":"a","url":"https://a"}]}},"confidence":0.9}`,
			wantSuccess: true,
			wantKind:    task.KindResearch,
			wantConf:    task.Float(0.9),
		},
		{
			name:        "content without success field",
			stdout:      `{"content":{"kind":"text","value":"hi"}}`,
			wantSuccess: true,
			wantKind:    task.KindText,
			wantText:    "hi",
		},
		{
			name:      "reported failure",
			stdout:    `{"success":false,"error":"rate limited"}`,
			wantKind:  task.KindEmpty,
			wantError: "rate limited",
		},
		{
			name:      "failure without message",
			stdout:    `{"success":false}`,
			wantKind:  task.KindEmpty,
			wantError: "agent reported failure",
		},
		{
			name:        "confidence clamped",
			stdout:      `{"success":true,"content":{"kind":"text","value":"x"},"confidence":1.7}`,
			wantSuccess: true,
			wantKind:    task.KindText,
			wantText:    "x",
			wantConf:    task.Float(1),
		},
		{
			name:        "unrelated json is text",
			stdout:      `{"foo":"bar"}`,
			wantSuccess: true,
			wantKind:    task.KindText,
			wantText:    `{"foo":"bar"}`,
		},
		{
			name:        "unknown content kind is text",
			stdout:      `{"success":true,"content":{"kind":"video"}}`,
			wantSuccess: true,
			wantKind:    task.KindText,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := parseOutput([]byte(tt.stdout))
			if r.Success != tt.wantSuccess {
				t.Errorf("Success = %v, want %v", r.Success, tt.wantSuccess)
			}
			if r.Content.Kind != tt.wantKind {
				t.Errorf("Kind = %s, want %s", r.Content.Kind, tt.wantKind)
			}
			if tt.wantText != "" && r.Content.Text != tt.wantText {
				t.Errorf("Text = %q, want %q", r.Content.Text, tt.wantText)
			}
			if r.Error != tt.wantError {
				t.Errorf("Error = %q, want %q", r.Error, tt.wantError)
			}
			if tt.wantConf != nil && (r.Confidence == nil || *r.Confidence != *tt.wantConf) {
				t.Errorf("Confidence = %v, want %v", r.Confidence, *tt.wantConf)
			}
		})
	}
}

func TestCommandAgent_ReceivesMicrotaskOnStdin(t *testing.T) {
	// Echo the request back as text content.
	agent := NewCommandAgent("research-1", "research", "cat", nil, NewProcessManager())

	r, err := agent.Execute(context.Background(), testMicrotask())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !r.Success {
		t.Fatalf("expected success, got %+v", r)
	}
	for _, want := range []string{`"attempt_id"`, `"agent_id":"research-1"`, `"id":"t1-mt-0"`, `"survey the market"`} {
		if !strings.Contains(r.Content.Text, want) {
			t.Errorf("stdin payload missing %s: %s", want, r.Content.Text)
		}
	}
	if r.AgentID != "research-1" || r.MicrotaskID != "t1-mt-0" || r.TaskID != "t1" {
		t.Errorf("result not annotated: %+v", r)
	}
}

func TestCommandAgent_Environment(t *testing.T) {
	script := `echo "$` + EnvAgentID + ` $` + EnvAgentType + ` $` + EnvMicrotaskID + `"`
	agent := NewCommandAgent("research-2", "research", "sh", []string{"-c", script}, nil)

	r, err := agent.Execute(context.Background(), testMicrotask())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if r.Content.Text != "research-2 research t1-mt-0" {
		t.Errorf("unexpected environment: %q", r.Content.Text)
	}
}

func TestCommandAgent_StructuredFailure(t *testing.T) {
	agent := NewCommandAgent("a-1", "analysis", "sh", []string{"-c", `echo '{"success":false,"error":"no data"}'`}, nil)

	r, err := agent.Execute(context.Background(), testMicrotask())
	if err == nil {
		t.Fatal("expected an error for a reported failure")
	}
	if task.IsTimeout(err) || !task.IsRetryable(err) {
		t.Errorf("reported failure should be a retryable execution error, got %v", err)
	}
	if r.Success || r.Error != "no data" {
		t.Errorf("unexpected result: %+v", r)
	}
}

func TestCommandAgent_ExitFailure(t *testing.T) {
	agent := NewCommandAgent("a-1", "analysis", "sh", []string{"-c", "echo boom 1>&2; exit 2"}, nil)

	r, err := agent.Execute(context.Background(), testMicrotask())
	if err == nil {
		t.Fatal("expected an error for non-zero exit")
	}
	if task.IsTimeout(err) {
		t.Errorf("exit failure is not a timeout: %v", err)
	}
	if r.Success || !strings.Contains(r.Error, "boom") {
		t.Errorf("unexpected result: %+v", r)
	}
}

func TestCommandAgent_Timeout(t *testing.T) {
	pm := NewProcessManager()
	agent := NewCommandAgent("slow-1", "research", "sleep", []string{"30"}, pm)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	r, err := agent.Execute(ctx, testMicrotask())
	if !task.IsTimeout(err) {
		t.Fatalf("expected timeout error, got %v", err)
	}
	if r.Success || r.Error == "" {
		t.Errorf("timed out result must be a failure with an error: %+v", r)
	}
	if pm.Count() != 0 {
		t.Errorf("process still tracked after timeout: %d", pm.Count())
	}
}

func TestCommandAgent_MissingBinary(t *testing.T) {
	agent := NewCommandAgent("x-1", "general", "/nonexistent/agent-binary", nil, nil)

	r, err := agent.Execute(context.Background(), testMicrotask())
	if err == nil || r.Success {
		t.Fatal("expected failure for missing binary")
	}
	if !task.IsRetryable(err) {
		t.Errorf("start failure should be an execution error, got %v", err)
	}
}
