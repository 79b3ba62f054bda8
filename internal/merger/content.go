package merger

import (
	"encoding/json"
	"fmt"
	"maps"
	"strings"

	"github.com/aristath/parallel-agents/internal/task"
)

// fullCoverageSources is the source count at which research coverage reaches 1.
const fullCoverageSources = 10

// MergeContent merges the content of successful results by kind. Results
// with empty content are ignored; mixed kinds fall back to joined text.
// consensus is embedded into merged analysis payloads.
func MergeContent(results []task.TaskResult, consensus float64) task.Content {
	var contents []task.Content
	kinds := make(map[task.ContentKind]bool)
	for _, r := range results {
		if r.Content.IsEmpty() {
			continue
		}
		contents = append(contents, r.Content)
		kinds[r.Content.Kind] = true
	}

	if len(contents) == 0 {
		return task.Content{}
	}
	if len(kinds) > 1 {
		return mergeFallback(contents)
	}

	switch contents[0].Kind {
	case task.KindText:
		return mergeText(contents)
	case task.KindArray:
		return mergeArrays(contents)
	case task.KindObject:
		return mergeObjects(contents)
	case task.KindResearch:
		return mergeResearch(contents)
	case task.KindAnalysis:
		return mergeAnalysis(contents, consensus)
	case task.KindValidation:
		return mergeValidation(contents)
	default:
		return mergeFallback(contents)
	}
}

func mergeText(contents []task.Content) task.Content {
	parts := make([]string, 0, len(contents))
	for _, c := range contents {
		parts = append(parts, c.Text)
	}
	return task.TextContent(strings.Join(parts, "\n"))
}

// mergeArrays concatenates and drops items whose JSON encoding was already seen.
// encoding/json sorts map keys, so equal structures encode identically.
func mergeArrays(contents []task.Content) task.Content {
	seen := make(map[string]bool)
	merged := make([]any, 0)
	for _, c := range contents {
		for _, item := range c.Array {
			key := structuralKey(item)
			if seen[key] {
				continue
			}
			seen[key] = true
			merged = append(merged, item)
		}
	}
	return task.ArrayContent(merged)
}

func structuralKey(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%T:%v", v, v)
	}
	return string(data)
}

// mergeObjects is a shallow merge; later results overwrite earlier keys.
func mergeObjects(contents []task.Content) task.Content {
	merged := make(map[string]any)
	for _, c := range contents {
		maps.Copy(merged, c.Object)
	}
	return task.ObjectContent(merged)
}

func mergeResearch(contents []task.Content) task.Content {
	var out task.ResearchPayload
	seenSource := make(map[string]bool)
	seenInsight := make(map[string]bool)
	var summaries []string

	for _, c := range contents {
		p := c.Research
		if p == nil {
			continue
		}
		for _, s := range p.Sources {
			key := s.URL
			if key == "" {
				key = "title:" + s.Title
			}
			if seenSource[key] {
				continue
			}
			seenSource[key] = true
			out.Sources = append(out.Sources, s)
		}
		out.Insights = appendUnique(out.Insights, seenInsight, p.Insights...)
		if p.Summary != "" {
			summaries = append(summaries, p.Summary)
		}
	}

	out.Summary = strings.Join(summaries, "\n")
	out.Metadata = task.ResearchMetadata{
		TotalSources: len(out.Sources),
		Coverage:     min(1, float64(len(out.Sources))/fullCoverageSources),
	}
	return task.ResearchContent(out)
}

func mergeAnalysis(contents []task.Content, consensus float64) task.Content {
	var out task.AnalysisPayload
	seenInsight := make(map[string]bool)
	seenPattern := make(map[string]bool)
	insightCount := make(map[string]int)
	var firstSeen []string

	metricSum := make(map[string]float64)
	metricN := make(map[string]int)

	for _, c := range contents {
		p := c.Analysis
		if p == nil {
			continue
		}
		for _, insight := range p.Insights {
			if insightCount[insight] == 0 {
				firstSeen = append(firstSeen, insight)
			}
			insightCount[insight]++
		}
		out.Insights = appendUnique(out.Insights, seenInsight, p.Insights...)
		out.Patterns = appendUnique(out.Patterns, seenPattern, p.Patterns...)
		for k, v := range p.Metrics {
			metricSum[k] += v
			metricN[k]++
		}
	}

	if len(metricSum) > 0 {
		out.Metrics = make(map[string]float64, len(metricSum))
		for k, sum := range metricSum {
			out.Metrics[k] = sum / float64(metricN[k])
		}
	}

	out.Consensus = consensus
	out.Summary = fmt.Sprintf("Consensus analysis of %d results", len(contents))
	if top := topInsight(firstSeen, insightCount); top != "" {
		out.Summary += ": " + top
	}
	return task.AnalysisContent(out)
}

// topInsight is the most frequent insight; ties go to the first seen.
func topInsight(order []string, counts map[string]int) string {
	top, best := "", 0
	for _, insight := range order {
		if counts[insight] > best {
			top, best = insight, counts[insight]
		}
	}
	return top
}

func mergeValidation(contents []task.Content) task.Content {
	var out task.ValidationPayload
	for _, c := range contents {
		p := c.Validation
		if p == nil {
			continue
		}
		passed, total := p.Counts()
		out.Passed += passed
		out.Total += total
		out.Checks = append(out.Checks, p.Checks...)
	}
	if out.Total > 0 {
		out.PassRate = float64(out.Passed) / float64(out.Total)
	}
	return task.ValidationContent(out)
}

func mergeFallback(contents []task.Content) task.Content {
	parts := make([]string, 0, len(contents))
	for _, c := range contents {
		parts = append(parts, c.String())
	}
	return task.TextContent(strings.Join(parts, "\n"))
}

func appendUnique(dst []string, seen map[string]bool, items ...string) []string {
	for _, item := range items {
		if item == "" || seen[item] {
			continue
		}
		seen[item] = true
		dst = append(dst, item)
	}
	return dst
}
