// Package learning evaluates how useful each source's results were for a
// search and proposes query rewrites when aggregate usefulness is low. It is
// the only writer of usefulness values fed into the quota ledger.
package learning

import (
	"context"
	"fmt"
	"log"
	"math"
	"strings"
	"sync"
	"unicode/utf8"

	"webresearch/backend/internal/provider"
	"webresearch/backend/internal/scorer"
)

const (
	// rewriteThreshold is the mean score at or above which the original
	// query is kept unchanged.
	rewriteThreshold = 0.7
	// neutralScore is the conservative default for scores the model
	// produced out of range or not at all.
	neutralScore = 0.5

	perSourceContentBudget = 4000
)

// ContentScorer is the judgment side of the scorer package.
type ContentScorer interface {
	Score(ctx context.Context, source, objective, content string) (scorer.Judgment, error)
}

// PromptResponder is the inference-endpoint collaborator used for rewrites.
type PromptResponder interface {
	Respond(ctx context.Context, prompt string) (string, error)
}

// Loop scores sources, remembers rewrites it has proposed, and hands
// usefulness values back to the caller for quota and reputation feedback.
type Loop struct {
	scorer    ContentScorer
	responder PromptResponder

	mu       sync.Mutex
	rewrites map[string]string
}

func NewLoop(contentScorer ContentScorer, responder PromptResponder) *Loop {
	return &Loop{
		scorer:    contentScorer,
		responder: responder,
		rewrites:  make(map[string]string),
	}
}

// Evaluate scores every successful source in the merged result set. Each
// score is normalized into [0,1]; anything out of range or non-numeric
// becomes the neutral default rather than a guess.
func (l *Loop) Evaluate(ctx context.Context, searchID string, results map[string]provider.Result, objective string) map[string]float64 {
	scores := make(map[string]float64, len(results))
	for source, result := range results {
		if result.Status != provider.StatusSuccess || len(result.Items) == 0 {
			continue
		}
		content := summarizeItems(result.Items)
		if content == "" {
			continue
		}

		if l.scorer == nil {
			scores[source] = neutralScore
			continue
		}
		judgment, err := l.scorer.Score(ctx, source, objective, content)
		if err != nil {
			log.Printf("evaluate score failed: search_id=%s source=%s err=%v", searchID, source, err)
			scores[source] = neutralScore
			continue
		}
		scores[source] = NormalizeScore(judgment.Relevance)
	}
	return scores
}

// SuggestRewrite returns the original query unchanged when the mean score
// clears the threshold; otherwise it asks the inference endpoint for a
// reformulation and records the mapping for later inspection.
func (l *Loop) SuggestRewrite(ctx context.Context, originalQuery string, scores map[string]float64) (string, bool) {
	original := strings.TrimSpace(originalQuery)
	if original == "" {
		return originalQuery, false
	}
	if len(scores) > 0 && Mean(scores) >= rewriteThreshold {
		return original, false
	}
	if l.responder == nil {
		return original, false
	}

	raw, err := l.responder.Respond(ctx, buildRewritePrompt(original, scores))
	if err != nil {
		log.Printf("rewrite request failed: err=%v", err)
		return original, false
	}

	improved := cleanRewrite(raw)
	if improved == "" || strings.EqualFold(improved, original) {
		return original, false
	}

	l.mu.Lock()
	l.rewrites[original] = improved
	l.mu.Unlock()
	return improved, true
}

// Rewrites returns a snapshot of every rewrite proposed so far.
func (l *Loop) Rewrites() map[string]string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]string, len(l.rewrites))
	for original, improved := range l.rewrites {
		out[original] = improved
	}
	return out
}

// NormalizeScore validates one model-produced score. Values outside [0,1] or
// NaN collapse to the neutral default.
func NormalizeScore(value float64) float64 {
	if math.IsNaN(value) || value < 0 || value > 1 {
		return neutralScore
	}
	return value
}

// Mean averages a score map; zero scores count, an empty map is 0.
func Mean(scores map[string]float64) float64 {
	if len(scores) == 0 {
		return 0
	}
	total := 0.0
	for _, score := range scores {
		total += score
	}
	return total / float64(len(scores))
}

func summarizeItems(items []provider.Item) string {
	var builder strings.Builder
	for _, item := range items {
		line := strings.TrimSpace(item.Title)
		if snippet := strings.TrimSpace(item.Snippet); snippet != "" {
			line = strings.TrimSpace(line + " - " + snippet)
		}
		if content := strings.TrimSpace(item.Content); content != "" && item.Snippet == "" {
			line = strings.TrimSpace(line + " - " + content)
		}
		if line == "" {
			continue
		}
		if builder.Len() > 0 {
			builder.WriteByte('\n')
		}
		builder.WriteString(line)
		if builder.Len() >= perSourceContentBudget {
			break
		}
	}
	out := builder.String()
	if utf8.RuneCountInString(out) > perSourceContentBudget {
		out = string([]rune(out)[:perSourceContentBudget])
	}
	return strings.TrimSpace(out)
}

func cleanRewrite(raw string) string {
	line := strings.TrimSpace(raw)
	if idx := strings.IndexByte(line, '\n'); idx >= 0 {
		line = line[:idx]
	}
	line = strings.Trim(line, "\"'` ")
	line = strings.TrimPrefix(line, "Query:")
	line = strings.Join(strings.Fields(line), " ")
	if len(line) > 300 {
		return ""
	}
	return line
}

func buildRewritePrompt(original string, scores map[string]float64) string {
	var b strings.Builder
	b.WriteString("You are a search query optimizer. The query below returned low-value results.\n")
	b.WriteString("Respond with a single improved query on one line. No explanation.\n")
	b.WriteString("\nOriginal query:\n")
	b.WriteString(original)
	if len(scores) > 0 {
		b.WriteString("\n\nPer-source usefulness scores:\n")
		for source, score := range scores {
			b.WriteString("- ")
			b.WriteString(source)
			b.WriteString(": ")
			b.WriteString(fmt.Sprintf("%.2f", score))
			b.WriteByte('\n')
		}
	}
	return strings.TrimSpace(b.String())
}
