// Package modeljson cleans up the loosely formatted JSON that vision models
// tend to produce and decodes it into label suggestions.
package modeljson

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/menta2k/image-annotator/pkg/types"
)

var (
	reBlock    = regexp.MustCompile(`(?s)/\*.*?\*/`)
	reLine     = regexp.MustCompile(`(?m)^\s*//.*$`)
	reInline   = regexp.MustCompile(`(?m)//.*$`)
	reTrailing = regexp.MustCompile(`,(\s*[}\]])`)
)

// Sanitize removes code fences, comments, and trailing commas, keeping only
// the outermost {...}
func Sanitize(raw string) string {
	raw = strings.TrimSpace(raw)

	// Strip triple-backtick fences if present
	if strings.HasPrefix(raw, "```") {
		if i := strings.Index(raw, "\n"); i >= 0 {
			raw = raw[i+1:]
		}
		if j := strings.LastIndex(raw, "```"); j >= 0 {
			raw = raw[:j]
		}
	}
	raw = strings.Trim(strings.TrimSpace(raw), "`")

	raw = reBlock.ReplaceAllString(raw, "")
	raw = reLine.ReplaceAllString(raw, "")
	raw = reInline.ReplaceAllString(raw, "")
	raw = reTrailing.ReplaceAllString(raw, "$1")

	if start := strings.Index(raw, "{"); start >= 0 {
		if end := strings.LastIndex(raw, "}"); end > start {
			raw = raw[start : end+1]
		}
	}
	return strings.TrimSpace(raw)
}

// FallbackLabel is reported when the model answer could not be understood
const FallbackLabel = "unknown"

// ParseSuggestion decodes a model answer into a label suggestion. Answers
// that are not JSON degrade to a low-confidence fallback rather than an error.
// A bare word or short phrase is taken as the label itself.
func ParseSuggestion(raw string) *types.LabelSuggestion {
	clean := Sanitize(raw)

	if !strings.HasPrefix(clean, "{") {
		if label := plainLabel(raw); label != "" {
			return &types.LabelSuggestion{Label: label, Confidence: 0.3, Tags: []string{"non-json"}}
		}
		return fallback("non-json")
	}

	var s types.LabelSuggestion
	if err := json.Unmarshal([]byte(clean), &s); err != nil {
		return fallback("parse-error")
	}
	if strings.TrimSpace(s.Label) == "" {
		return fallback("empty")
	}
	return &s
}

func fallback(tag string) *types.LabelSuggestion {
	return &types.LabelSuggestion{
		Label:      FallbackLabel,
		Confidence: 0.1,
		Tags:       []string{tag, "fallback"},
	}
}

// plainLabel accepts answers of at most four words on a single line
func plainLabel(raw string) string {
	raw = strings.Trim(strings.TrimSpace(raw), "`\"'.")
	if raw == "" || strings.ContainsAny(raw, "\n{}[]") {
		return ""
	}
	if len(strings.Fields(raw)) > 4 {
		return ""
	}
	return raw
}
