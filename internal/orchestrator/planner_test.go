package orchestrator

import (
	"context"
	"errors"
	"strings"
	"testing"

	"webresearch/backend/internal/reputation"
)

type stubResponder struct {
	response   string
	err        error
	lastPrompt string
}

func (s *stubResponder) Respond(_ context.Context, prompt string) (string, error) {
	s.lastPrompt = prompt
	return s.response, s.err
}

func TestHeuristicPlannerFirstIteration(t *testing.T) {
	strategy, err := HeuristicPlanner{}.Plan(context.Background(), PlanInput{
		Query:           "go scheduler internals",
		Iteration:       1,
		RankedProviders: []string{"google", "newsapi"},
	})
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if len(strategy.QueryVariants) != 1 || strategy.QueryVariants[0] != "go scheduler internals" {
		t.Fatalf("unexpected variants %v", strategy.QueryVariants)
	}
	if strategy.Depth != DepthShallow {
		t.Fatalf("expected shallow depth, got %s", strategy.Depth)
	}
	if len(strategy.Providers) != 2 {
		t.Fatalf("expected all ranked providers, got %v", strategy.Providers)
	}
}

func TestHeuristicPlannerLaterIterationsWidenAndDeepen(t *testing.T) {
	strategy, err := HeuristicPlanner{}.Plan(context.Background(), PlanInput{
		Query:           "go scheduler",
		Iteration:       3,
		RankedProviders: []string{"google"},
		FocusedSites:    []reputation.Profile{{Domain: "docs.example.com"}},
	})
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if len(strategy.QueryVariants) != maxQueryVariants {
		t.Fatalf("expected %d variants, got %v", maxQueryVariants, strategy.QueryVariants)
	}
	if strategy.Depth != DepthDeep {
		t.Fatalf("expected deep depth, got %s", strategy.Depth)
	}
	if len(strategy.FocusDomains) != 1 || strategy.FocusDomains[0] != "docs.example.com" {
		t.Fatalf("unexpected focus domains %v", strategy.FocusDomains)
	}
}

func TestHeuristicPlannerRejectsEmptyQuery(t *testing.T) {
	if _, err := (HeuristicPlanner{}).Plan(context.Background(), PlanInput{Query: "   "}); err == nil {
		t.Fatalf("expected an error for an empty query")
	}
}

func TestJSONPlannerUsesModelStrategy(t *testing.T) {
	planner := NewJSONPlanner(&stubResponder{response: `{
		"providers": ["newsapi", "google"],
		"focusDomains": ["docs.example.com", "unknown.example.com"],
		"queryVariants": ["one", "two", "three", "four"],
		"depth": "bottomless"
	}`})

	strategy, err := planner.Plan(context.Background(), PlanInput{
		Query:           "query",
		Iteration:       1,
		RankedProviders: []string{"google", "newsapi"},
		FocusedSites:    []reputation.Profile{{Domain: "docs.example.com"}},
	})
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if len(strategy.Providers) != 2 || strategy.Providers[0] != "newsapi" {
		t.Fatalf("unexpected providers %v", strategy.Providers)
	}
	if len(strategy.QueryVariants) != maxQueryVariants {
		t.Fatalf("expected variants clamped to %d, got %v", maxQueryVariants, strategy.QueryVariants)
	}
	if len(strategy.FocusDomains) != 1 || strategy.FocusDomains[0] != "docs.example.com" {
		t.Fatalf("expected unknown domains to be dropped, got %v", strategy.FocusDomains)
	}
	if strategy.Depth != DepthMedium {
		t.Fatalf("expected an invalid depth to default to medium, got %s", strategy.Depth)
	}
}

func TestPlanPromptIncludesCallerContext(t *testing.T) {
	responder := &stubResponder{response: `{"providers": ["google"], "queryVariants": ["q"]}`}
	planner := NewJSONPlanner(responder)

	_, err := planner.Plan(context.Background(), PlanInput{
		Query:           "query",
		Context:         map[string]any{"audience": "security analysts", "year": 2026},
		Iteration:       1,
		RankedProviders: []string{"google"},
	})
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if !strings.Contains(responder.lastPrompt, "audience: security analysts") {
		t.Fatalf("expected caller context in the prompt, got:\n%s", responder.lastPrompt)
	}
	if !strings.Contains(responder.lastPrompt, "year: 2026") {
		t.Fatalf("expected non-string context values in the prompt, got:\n%s", responder.lastPrompt)
	}
}

func TestJSONPlannerDropsUnknownProviders(t *testing.T) {
	planner := NewJSONPlanner(&stubResponder{response: `{"providers": ["made-up"], "queryVariants": ["q"]}`})
	strategy, err := planner.Plan(context.Background(), PlanInput{
		Query:           "query",
		Iteration:       1,
		RankedProviders: []string{"google"},
	})
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if len(strategy.Providers) != 1 || strategy.Providers[0] != "google" {
		t.Fatalf("expected the ranked set to replace unknown providers, got %v", strategy.Providers)
	}
}

func TestJSONPlannerFallsBackOnResponderError(t *testing.T) {
	planner := NewJSONPlanner(&stubResponder{err: errors.New("inference down")})
	strategy, err := planner.Plan(context.Background(), PlanInput{
		Query:           "query",
		Iteration:       1,
		RankedProviders: []string{"google"},
	})
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if len(strategy.Providers) != 1 || strategy.Providers[0] != "google" {
		t.Fatalf("expected the heuristic fallback, got %v", strategy.Providers)
	}
}

func TestJSONPlannerFallsBackOnMalformedResponse(t *testing.T) {
	planner := NewJSONPlanner(&stubResponder{response: "sure, here is a plan: use google"})
	strategy, err := planner.Plan(context.Background(), PlanInput{
		Query:           "query",
		Iteration:       2,
		RankedProviders: []string{"google"},
	})
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if strategy.Depth != DepthMedium {
		t.Fatalf("expected the heuristic fallback depth, got %s", strategy.Depth)
	}
}
