package prompts

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/loqalabs/recon/internal/session"
)

var listPrefix = regexp.MustCompile(`^\s*(?:(?:\d+|[A-Za-z])[.):]|[-*•]|Q\d+[.):]?)\s*`)

// ParseQuestions splits a numbered list into at most limit questions. List
// markers and surrounding markdown emphasis are removed; blank lines,
// headings and preamble lines ending in a colon are dropped.
func ParseQuestions(text string, limit int) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") || strings.HasSuffix(line, ":") {
			continue
		}
		line = listPrefix.ReplaceAllString(line, "")
		line = strings.TrimSpace(strings.Trim(line, "*_"))
		if line == "" {
			continue
		}
		out = append(out, line)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

// ErrNoJSON is returned when a response holds no JSON object.
var ErrNoJSON = errors.New("no json object in response")

// ParseAnalysis extracts the scoring object from a model response, tolerating
// code fences and surrounding prose. Scores are clamped to 0..100.
func ParseAnalysis(text string) (session.Analysis, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return session.Analysis{}, ErrNoJSON
	}
	var raw struct {
		Relevance  json.RawMessage `json:"relevance"`
		Clarity    json.RawMessage `json:"clarity"`
		Confidence json.RawMessage `json:"confidence"`
		Feedback   string          `json:"feedback"`
		Suggestion string          `json:"suggestion"`
	}
	if err := json.Unmarshal([]byte(text[start:end+1]), &raw); err != nil {
		return session.Analysis{}, fmt.Errorf("decode analysis: %w", err)
	}
	var a session.Analysis
	var err error
	if a.Relevance, err = score("relevance", raw.Relevance); err != nil {
		return session.Analysis{}, err
	}
	if a.Clarity, err = score("clarity", raw.Clarity); err != nil {
		return session.Analysis{}, err
	}
	if a.Confidence, err = score("confidence", raw.Confidence); err != nil {
		return session.Analysis{}, err
	}
	a.Feedback = strings.TrimSpace(raw.Feedback)
	a.Suggestion = strings.TrimSpace(raw.Suggestion)
	return a, nil
}

// score accepts a number or a numeric string.
func score(field string, raw json.RawMessage) (int, error) {
	text := strings.Trim(strings.TrimSpace(string(raw)), `"`)
	if text == "" || text == "null" {
		return 0, fmt.Errorf("analysis missing %s", field)
	}
	v, err := strconv.ParseFloat(strings.TrimSuffix(text, "%"), 64)
	if err != nil || math.IsNaN(v) {
		return 0, fmt.Errorf("analysis %s is not a number: %s", field, raw)
	}
	return int(math.Round(math.Max(0, math.Min(100, v)))), nil
}
