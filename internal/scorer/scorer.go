// Package scorer turns raw provider and page payloads into structured
// relevance and quality judgments using the inference endpoint. Model output
// is parsed defensively: a fenced JSON block, a bare JSON object, or raw text
// are all acceptable, and a parse failure never fails the overall search.
package scorer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// maxContentChars is the deterministic truncation budget applied before any
// payload is sent to the inference endpoint.
const maxContentChars = 4000

// PromptResponder is the inference-endpoint collaborator.
type PromptResponder interface {
	Respond(ctx context.Context, prompt string) (string, error)
}

// Judgment is the structured verdict for one source's payload. When the model
// response could not be parsed, FromFallback is true, Raw carries the model
// text, and the numeric scores are out of range so downstream normalization
// applies its neutral default.
type Judgment struct {
	Source       string   `json:"-"`
	KeyFindings  []string `json:"keyFindings"`
	Relevance    float64  `json:"relevance"`
	Quality      float64  `json:"quality"`
	Freshness    string   `json:"freshness"`
	Raw          string   `json:"-"`
	FromFallback bool     `json:"-"`
}

// Analysis is the structured summary produced once per iteration over the
// merged result set.
type Analysis struct {
	Summary     string   `json:"summary"`
	KeyFindings []string `json:"keyFindings"`
	Confidence  float64  `json:"confidence"`
	Raw         string   `json:"-"`
}

type Scorer struct {
	responder PromptResponder
}

func New(responder PromptResponder) Scorer {
	return Scorer{responder: responder}
}

// Score judges one source's payload against the search objective.
func (s Scorer) Score(ctx context.Context, source, objective, content string) (Judgment, error) {
	if s.responder == nil {
		return Judgment{}, errors.New("scorer responder unavailable")
	}

	raw, err := s.responder.Respond(ctx, buildScorePrompt(source, objective, truncateContent(content)))
	if err != nil {
		return Judgment{}, fmt.Errorf("score %s: %w", source, err)
	}

	judgment, parseErr := parseJudgment(raw)
	if parseErr != nil {
		return Judgment{
			Source:       source,
			Raw:          strings.TrimSpace(raw),
			Relevance:    -1,
			Quality:      -1,
			FromFallback: true,
		}, nil
	}
	judgment.Source = source
	return judgment, nil
}

// Analyze summarizes the merged result set for one iteration. A malformed
// model response degrades to a raw-text summary.
func (s Scorer) Analyze(ctx context.Context, objective, summary string) (Analysis, error) {
	if s.responder == nil {
		return Analysis{}, errors.New("scorer responder unavailable")
	}

	raw, err := s.responder.Respond(ctx, buildAnalysisPrompt(objective, truncateContent(summary)))
	if err != nil {
		return Analysis{}, fmt.Errorf("analyze results: %w", err)
	}

	jsonRaw := extractJSONBlock(raw)
	if jsonRaw != "" {
		var analysis Analysis
		if jsonErr := json.Unmarshal([]byte(jsonRaw), &analysis); jsonErr == nil && strings.TrimSpace(analysis.Summary) != "" {
			analysis.Raw = strings.TrimSpace(raw)
			return analysis, nil
		}
	}
	return Analysis{Summary: strings.TrimSpace(raw), Raw: strings.TrimSpace(raw)}, nil
}

func parseJudgment(raw string) (Judgment, error) {
	jsonRaw := extractJSONBlock(raw)
	if jsonRaw == "" {
		return Judgment{}, errors.New("scorer response did not include json")
	}
	var judgment Judgment
	if err := json.Unmarshal([]byte(jsonRaw), &judgment); err != nil {
		return Judgment{}, err
	}
	return judgment, nil
}

// extractJSONBlock accepts a fenced ```json block, a bare object, or an
// object embedded in surrounding prose.
func extractJSONBlock(raw string) string {
	value := strings.TrimSpace(raw)

	if idx := strings.Index(value, "```"); idx >= 0 {
		fenced := value[idx+3:]
		fenced = strings.TrimPrefix(fenced, "json")
		if end := strings.Index(fenced, "```"); end >= 0 {
			fenced = fenced[:end]
		}
		value = strings.TrimSpace(fenced)
	}

	if strings.HasPrefix(value, "{") && strings.HasSuffix(value, "}") {
		return value
	}
	start := strings.Index(value, "{")
	end := strings.LastIndex(value, "}")
	if start == -1 || end == -1 || end <= start {
		return ""
	}
	return strings.TrimSpace(value[start : end+1])
}

func truncateContent(raw string) string {
	if utf8.RuneCountInString(raw) <= maxContentChars {
		return raw
	}
	return string([]rune(raw)[:maxContentChars])
}

func buildScorePrompt(source, objective, content string) string {
	var b strings.Builder
	b.WriteString("You are a research content evaluator. Respond with strict JSON only.\n")
	b.WriteString("Schema: {\"keyFindings\":string[],\"relevance\":number,\"quality\":number,\"freshness\":string}\n")
	b.WriteString("Rules:\n")
	b.WriteString("- relevance and quality must be between 0 and 1.\n")
	b.WriteString("- freshness is a short note on how current the content appears.\n")
	b.WriteString("- keyFindings lists at most five concrete facts relevant to the objective.\n")
	b.WriteString("\nObjective:\n")
	b.WriteString(strings.TrimSpace(objective))
	b.WriteString("\n\nSource: ")
	b.WriteString(strings.TrimSpace(source))
	b.WriteString("\n\nContent:\n")
	b.WriteString(content)
	return strings.TrimSpace(b.String())
}

func buildAnalysisPrompt(objective, summary string) string {
	var b strings.Builder
	b.WriteString("You are a research analyst. Respond with strict JSON only.\n")
	b.WriteString("Schema: {\"summary\":string,\"keyFindings\":string[],\"confidence\":number}\n")
	b.WriteString("Rules:\n")
	b.WriteString("- summary condenses what the collected results establish about the objective.\n")
	b.WriteString("- confidence must be between 0 and 1.\n")
	b.WriteString("\nObjective:\n")
	b.WriteString(strings.TrimSpace(objective))
	b.WriteString("\n\nCollected results:\n")
	b.WriteString(summary)
	return strings.TrimSpace(b.String())
}
