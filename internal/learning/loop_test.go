package learning

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"webresearch/backend/internal/provider"
	"webresearch/backend/internal/scorer"
)

type stubScorer struct {
	judgments map[string]scorer.Judgment
	err       error
}

func (s stubScorer) Score(_ context.Context, source, _, _ string) (scorer.Judgment, error) {
	if s.err != nil {
		return scorer.Judgment{}, s.err
	}
	return s.judgments[source], nil
}

type stubResponder struct {
	response string
	err      error
	calls    int
}

func (s *stubResponder) Respond(_ context.Context, _ string) (string, error) {
	s.calls++
	return s.response, s.err
}

func successResult(providerName, link string) provider.Result {
	return provider.Result{
		Provider: providerName,
		Status:   provider.StatusSuccess,
		Items:    []provider.Item{{URL: link, Title: "Title", Snippet: "Snippet"}},
	}
}

func TestEvaluateScoresSuccessfulSources(t *testing.T) {
	loop := NewLoop(stubScorer{judgments: map[string]scorer.Judgment{
		"google":  {Relevance: 0.8},
		"newsapi": {Relevance: 0.3},
	}}, nil)

	results := map[string]provider.Result{
		"google":  successResult("google", "https://example.com/a"),
		"newsapi": successResult("newsapi", "https://example.com/b"),
		"crawl":   {Provider: "crawl", Status: provider.StatusError},
	}

	scores := loop.Evaluate(context.Background(), "search-1", results, "objective")
	if len(scores) != 2 {
		t.Fatalf("expected failed sources to be skipped, got %v", scores)
	}
	if scores["google"] != 0.8 || scores["newsapi"] != 0.3 {
		t.Fatalf("unexpected scores %v", scores)
	}
}

func TestEvaluateNormalizesOutOfRangeScores(t *testing.T) {
	loop := NewLoop(stubScorer{judgments: map[string]scorer.Judgment{
		"google": {Relevance: -1, FromFallback: true},
	}}, nil)

	scores := loop.Evaluate(context.Background(), "search-1", map[string]provider.Result{
		"google": successResult("google", "https://example.com/a"),
	}, "objective")
	if scores["google"] != 0.5 {
		t.Fatalf("expected the neutral default, got %v", scores)
	}
}

func TestEvaluateDefaultsOnScorerError(t *testing.T) {
	loop := NewLoop(stubScorer{err: errors.New("inference down")}, nil)

	scores := loop.Evaluate(context.Background(), "search-1", map[string]provider.Result{
		"google": successResult("google", "https://example.com/a"),
	}, "objective")
	if scores["google"] != 0.5 {
		t.Fatalf("expected the neutral default on error, got %v", scores)
	}
}

func TestSuggestRewriteSkipsHighScores(t *testing.T) {
	responder := &stubResponder{response: "better query"}
	loop := NewLoop(nil, responder)

	improved, changed := loop.SuggestRewrite(context.Background(), "original", map[string]float64{"google": 0.9, "newsapi": 0.7})
	if changed || improved != "original" {
		t.Fatalf("expected no rewrite above the threshold, got %q changed=%v", improved, changed)
	}
	if responder.calls != 0 {
		t.Fatalf("expected the responder to stay untouched")
	}
}

func TestSuggestRewriteProposesNewQuery(t *testing.T) {
	responder := &stubResponder{response: "\"golang test coverage best practices\"\nextra line"}
	loop := NewLoop(nil, responder)

	improved, changed := loop.SuggestRewrite(context.Background(), "go tests", map[string]float64{"google": 0.2})
	if !changed {
		t.Fatalf("expected a rewrite below the threshold")
	}
	if improved != "golang test coverage best practices" {
		t.Fatalf("unexpected rewrite %q", improved)
	}

	rewrites := loop.Rewrites()
	if rewrites["go tests"] != improved {
		t.Fatalf("expected the rewrite to be recorded, got %v", rewrites)
	}
}

func TestSuggestRewriteKeepsOriginalOnFailure(t *testing.T) {
	responder := &stubResponder{err: errors.New("inference down")}
	loop := NewLoop(nil, responder)

	improved, changed := loop.SuggestRewrite(context.Background(), "original", map[string]float64{"google": 0.1})
	if changed || improved != "original" {
		t.Fatalf("expected the original on responder failure, got %q", improved)
	}
}

func TestSuggestRewriteIgnoresIdenticalResponse(t *testing.T) {
	responder := &stubResponder{response: "Original"}
	loop := NewLoop(nil, responder)

	if _, changed := loop.SuggestRewrite(context.Background(), "original", nil); changed {
		t.Fatalf("expected a case-insensitive identical rewrite to be dropped")
	}
}

func TestNormalizeScore(t *testing.T) {
	cases := []struct {
		in   float64
		want float64
	}{
		{0.0, 0.0},
		{1.0, 1.0},
		{0.42, 0.42},
		{-0.1, 0.5},
		{1.5, 0.5},
	}
	for _, tc := range cases {
		if got := NormalizeScore(tc.in); got != tc.want {
			t.Errorf("NormalizeScore(%v) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestMean(t *testing.T) {
	if got := Mean(nil); got != 0 {
		t.Fatalf("expected 0 for an empty map, got %v", got)
	}
	if got := Mean(map[string]float64{"a": 0.5, "b": 0.75}); got != 0.625 {
		t.Fatalf("expected 0.625, got %v", got)
	}
}

func TestSummarizeItemsKeepsRunesIntact(t *testing.T) {
	items := []provider.Item{
		{Title: "検索結果", Snippet: strings.Repeat("知識グラフ", 300)},
	}

	summary := summarizeItems(items)
	if !utf8.ValidString(summary) {
		t.Fatalf("summary truncation split a rune: %q", summary[:20])
	}
	if utf8.RuneCountInString(summary) > perSourceContentBudget {
		t.Fatalf("expected at most %d runes, got %d", perSourceContentBudget, utf8.RuneCountInString(summary))
	}
}
