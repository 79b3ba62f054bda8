// Package merger reduces the results of a task's microtasks into one result.
package merger

import (
	"fmt"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/aristath/parallel-agents/internal/task"
)

// maxReportedErrors caps how many failure messages an all-failed merge reports.
const maxReportedErrors = 3

// Merger combines TaskResults. It holds no per-merge state and is safe for
// concurrent use.
type Merger struct {
	logger *zap.Logger
}

// New creates a merger. A nil logger disables logging.
func New(logger *zap.Logger) *Merger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Merger{logger: logger}
}

// Merge reduces results, given in submission order, to a single result.
// Zero results is a precondition violation and returns a *task.MergeError;
// a single result is returned unchanged.
func (m *Merger) Merge(results []task.TaskResult) (task.TaskResult, error) {
	switch len(results) {
	case 0:
		return task.TaskResult{}, task.NewMergeError(task.ErrNoResults)
	case 1:
		return results[0], nil
	}

	var successes, failures []task.TaskResult
	for _, r := range results {
		if r.Success {
			successes = append(successes, r)
		} else {
			failures = append(failures, r)
		}
	}

	out := task.TaskResult{
		TaskID:   results[0].TaskID,
		Duration: longest(results),
		Metadata: task.Metadata{
			MergeStrategy:  Strategy(len(successes), len(results)),
			AgentCount:     agentCount(results),
			MicrotaskCount: len(results),
			SuccessCount:   len(successes),
			FailureCount:   len(failures),
		},
	}

	if len(successes) == 0 {
		out.Success = false
		out.Error = failureMessage(failures)
		out.Confidence = task.Float(0)
		out.Metadata.Consensus = task.Float(0)
		m.logger.Debug("merged all-failed results",
			zap.String("task_id", out.TaskID),
			zap.Int("failures", len(failures)))
		return out, nil
	}

	consensus := Consensus(successes)
	confidence := Confidence(successes, len(results))

	out.Success = true
	out.Content = MergeContent(successes, consensus)
	out.Confidence = task.Float(confidence)
	out.Metadata.Consensus = task.Float(consensus)

	m.logger.Debug("merged results",
		zap.String("task_id", out.TaskID),
		zap.String("merge_strategy", out.Metadata.MergeStrategy),
		zap.String("content_kind", out.Content.Kind.String()),
		zap.Float64("confidence", confidence),
		zap.Float64("consensus", consensus))
	return out, nil
}

// Strategy tags a merge by its success count.
func Strategy(successes, total int) string {
	switch {
	case successes == 0:
		return task.MergeStrategyError
	case successes == 1:
		return task.MergeSingle
	case successes == total:
		return task.MergeAllSuccess
	default:
		return task.MergePartialSuccess
	}
}

// Confidence averages the mean reported confidence of successes with their
// length similarity, clamped to [0,1]. When some of the total failed, the
// value is scaled by the success ratio so partial results stay below 1.
func Confidence(successes []task.TaskResult, total int) float64 {
	if len(successes) == 0 || total == 0 {
		return 0
	}
	sum := 0.0
	for _, r := range successes {
		sum += r.ConfidenceOr(task.DefaultConfidence)
	}
	avg := sum / float64(len(successes))

	confidence := clamp01((avg + Similarity(successes)) / 2)
	if len(successes) < total {
		confidence *= float64(len(successes)) / float64(total)
	}
	return confidence
}

// Similarity is 1/(1 + variance/mean²) of the rendered content lengths:
// 1 for equal lengths, approaching 0 as lengths diverge.
func Similarity(results []task.TaskResult) float64 {
	if len(results) < 2 {
		return 1
	}
	lengths := make([]float64, len(results))
	mean := 0.0
	for i, r := range results {
		lengths[i] = float64(len(r.Content.String()))
		mean += lengths[i]
	}
	mean /= float64(len(lengths))
	if mean == 0 {
		return 1
	}

	variance := 0.0
	for _, l := range lengths {
		variance += (l - mean) * (l - mean)
	}
	variance /= float64(len(lengths))
	return 1 / (1 + variance/(mean*mean))
}

func failureMessage(failures []task.TaskResult) string {
	if len(failures) == 1 {
		return errorText(failures[0])
	}
	msgs := make([]string, 0, maxReportedErrors)
	for _, f := range failures[:min(len(failures), maxReportedErrors)] {
		msgs = append(msgs, errorText(f))
	}
	return "Multiple errors: " + strings.Join(msgs, "; ")
}

func errorText(r task.TaskResult) string {
	if r.Error != "" {
		return r.Error
	}
	if r.MicrotaskID != "" {
		return fmt.Sprintf("microtask %s failed", r.MicrotaskID)
	}
	return "unknown error"
}

func agentCount(results []task.TaskResult) int {
	seen := make(map[string]bool)
	for _, r := range results {
		if r.AgentID != "" {
			seen[r.AgentID] = true
		}
	}
	return len(seen)
}

func longest(results []task.TaskResult) time.Duration {
	var d time.Duration
	for _, r := range results {
		d = max(d, r.Duration)
	}
	return d
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return min(1, max(0, v))
}
