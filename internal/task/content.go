package task

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// ContentKind tags the payload carried by a Content value.
// The producer sets it; the merger switches on it.
type ContentKind int

const (
	KindEmpty ContentKind = iota
	KindText
	KindObject
	KindArray
	KindResearch
	KindAnalysis
	KindValidation
)

var kindNames = map[ContentKind]string{
	KindEmpty:      "empty",
	KindText:       "text",
	KindObject:     "object",
	KindArray:      "array",
	KindResearch:   "research",
	KindAnalysis:   "analysis",
	KindValidation: "validation",
}

func (k ContentKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ParseContentKind maps a kind name back to its ContentKind.
func ParseContentKind(s string) (ContentKind, error) {
	for k, name := range kindNames {
		if name == s {
			return k, nil
		}
	}
	return KindEmpty, fmt.Errorf("unknown content kind %q", s)
}

// Source is one reference gathered by a research agent.
type Source struct {
	Title string `json:"title"`
	URL   string `json:"url,omitempty"`
}

// ResearchMetadata is derived when research payloads are merged.
type ResearchMetadata struct {
	TotalSources int     `json:"total_sources"`
	Coverage     float64 `json:"coverage"`
}

// ResearchPayload is produced by research agents.
type ResearchPayload struct {
	Sources  []Source         `json:"sources,omitempty"`
	Insights []string         `json:"insights,omitempty"`
	Summary  string           `json:"summary,omitempty"`
	Metadata ResearchMetadata `json:"metadata"`
}

// AnalysisPayload is produced by analysis agents.
type AnalysisPayload struct {
	Insights  []string           `json:"insights,omitempty"`
	Patterns  []string           `json:"patterns,omitempty"`
	Metrics   map[string]float64 `json:"metrics,omitempty"`
	Summary   string             `json:"summary,omitempty"`
	Consensus float64            `json:"consensus"`
}

// Check is a single validation outcome.
type Check struct {
	Name    string `json:"name"`
	Passed  bool   `json:"passed"`
	Message string `json:"message,omitempty"`
}

// ValidationPayload is produced by validation agents.
type ValidationPayload struct {
	Checks   []Check `json:"checks,omitempty"`
	Passed   int     `json:"passed"`
	Total    int     `json:"total"`
	PassRate float64 `json:"pass_rate"`
}

// Counts returns passed/total, deriving them from Checks when Total is unset.
func (v ValidationPayload) Counts() (passed, total int) {
	if v.Total > 0 {
		return v.Passed, v.Total
	}
	for _, c := range v.Checks {
		if c.Passed {
			passed++
		}
	}
	return passed, len(v.Checks)
}

// Content is a tagged union of the payload shapes agents produce.
// Only the field matching Kind is meaningful.
type Content struct {
	Kind       ContentKind
	Text       string
	Object     map[string]any
	Array      []any
	Research   *ResearchPayload
	Analysis   *AnalysisPayload
	Validation *ValidationPayload
}

func TextContent(s string) Content { return Content{Kind: KindText, Text: s} }

func ObjectContent(m map[string]any) Content { return Content{Kind: KindObject, Object: m} }

func ArrayContent(items []any) Content { return Content{Kind: KindArray, Array: items} }

func ResearchContent(p ResearchPayload) Content { return Content{Kind: KindResearch, Research: &p} }

func AnalysisContent(p AnalysisPayload) Content { return Content{Kind: KindAnalysis, Analysis: &p} }

func ValidationContent(p ValidationPayload) Content {
	return Content{Kind: KindValidation, Validation: &p}
}

// IsEmpty reports whether no payload is set.
func (c Content) IsEmpty() bool {
	return c.Kind == KindEmpty
}

// value returns the payload for the active kind.
func (c Content) value() any {
	switch c.Kind {
	case KindText:
		return c.Text
	case KindObject:
		return c.Object
	case KindArray:
		return c.Array
	case KindResearch:
		return c.Research
	case KindAnalysis:
		return c.Analysis
	case KindValidation:
		return c.Validation
	default:
		return nil
	}
}

// String renders the payload as text: plain text as-is, everything else as JSON.
func (c Content) String() string {
	switch c.Kind {
	case KindEmpty:
		return ""
	case KindText:
		return c.Text
	}
	data, err := json.Marshal(c.value())
	if err != nil {
		return fmt.Sprintf("%v", c.value())
	}
	return string(data)
}

// Prose returns the human-readable text of the payload, used for token
// comparison. Structured payloads contribute their summaries and insights.
func (c Content) Prose() string {
	switch c.Kind {
	case KindText:
		return c.Text
	case KindResearch:
		if c.Research == nil {
			return ""
		}
		parts := append([]string{c.Research.Summary}, c.Research.Insights...)
		return strings.Join(parts, " ")
	case KindAnalysis:
		if c.Analysis == nil {
			return ""
		}
		parts := append([]string{c.Analysis.Summary}, c.Analysis.Insights...)
		parts = append(parts, c.Analysis.Patterns...)
		return strings.Join(parts, " ")
	case KindValidation:
		if c.Validation == nil {
			return ""
		}
		parts := make([]string, 0, len(c.Validation.Checks))
		for _, check := range c.Validation.Checks {
			parts = append(parts, check.Name+" "+check.Message)
		}
		return strings.Join(parts, " ")
	case KindObject:
		keys := make([]string, 0, len(c.Object))
		for k := range c.Object {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("%s %v", k, c.Object[k]))
		}
		return strings.Join(parts, " ")
	default:
		return c.String()
	}
}

type contentJSON struct {
	Kind  string          `json:"kind"`
	Value json.RawMessage `json:"value,omitempty"`
}

// MarshalJSON encodes content as {"kind": ..., "value": ...}.
func (c Content) MarshalJSON() ([]byte, error) {
	out := contentJSON{Kind: c.Kind.String()}
	if c.Kind != KindEmpty {
		raw, err := json.Marshal(c.value())
		if err != nil {
			return nil, fmt.Errorf("encoding %s content: %w", c.Kind, err)
		}
		out.Value = raw
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes the {"kind": ..., "value": ...} form.
func (c *Content) UnmarshalJSON(data []byte) error {
	var in contentJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	if in.Kind == "" {
		*c = Content{}
		return nil
	}
	kind, err := ParseContentKind(in.Kind)
	if err != nil {
		return err
	}

	out := Content{Kind: kind}
	if len(in.Value) == 0 || kind == KindEmpty {
		*c = out
		return nil
	}

	var target any
	switch kind {
	case KindText:
		target = &out.Text
	case KindObject:
		target = &out.Object
	case KindArray:
		target = &out.Array
	case KindResearch:
		out.Research = &ResearchPayload{}
		target = out.Research
	case KindAnalysis:
		out.Analysis = &AnalysisPayload{}
		target = out.Analysis
	case KindValidation:
		out.Validation = &ValidationPayload{}
		target = out.Validation
	}
	if err := json.Unmarshal(in.Value, target); err != nil {
		return fmt.Errorf("decoding %s content: %w", kind, err)
	}
	*c = out
	return nil
}
