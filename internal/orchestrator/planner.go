package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"webresearch/backend/internal/reputation"
)

const maxQueryVariants = 3

// PromptResponder is the inference-endpoint collaborator used for planning.
type PromptResponder interface {
	Respond(ctx context.Context, prompt string) (string, error)
}

// PlanInput carries everything a planner may consider for one pass.
type PlanInput struct {
	Query           string
	Context         map[string]any
	Iteration       int
	RankedProviders []string
	FocusedSites    []reputation.Profile
	PreviousScores  map[string]float64
	PreviousErrors  []string
	TargetLanguage  string
}

// Planner produces a fresh Strategy each planning pass.
type Planner interface {
	Plan(ctx context.Context, input PlanInput) (Strategy, error)
}

// JSONPlanner asks the inference endpoint for a strategy and falls back to
// the deterministic heuristic when the response is unusable.
type JSONPlanner struct {
	responder PromptResponder
	fallback  HeuristicPlanner
}

func NewJSONPlanner(responder PromptResponder) JSONPlanner {
	return JSONPlanner{responder: responder, fallback: HeuristicPlanner{}}
}

func (p JSONPlanner) Plan(ctx context.Context, input PlanInput) (Strategy, error) {
	if p.responder == nil {
		return p.fallback.Plan(ctx, input)
	}
	raw, err := p.responder.Respond(ctx, buildPlanPrompt(input))
	if err != nil {
		return p.fallback.Plan(ctx, input)
	}
	strategy, err := parseStrategy(raw)
	if err != nil {
		return p.fallback.Plan(ctx, input)
	}
	return sanitizeStrategy(strategy, input), nil
}

// HeuristicPlanner is the deterministic fallback: ranked providers in order,
// focused sites as-is, and query variants derived from the original query.
type HeuristicPlanner struct{}

func (HeuristicPlanner) Plan(_ context.Context, input PlanInput) (Strategy, error) {
	query := strings.TrimSpace(input.Query)
	if query == "" {
		return Strategy{}, errors.New("cannot plan an empty query")
	}

	variants := []string{query}
	if input.Iteration > 1 {
		variants = append(variants, query+" in depth", query+" latest")
	}
	if len(variants) > maxQueryVariants {
		variants = variants[:maxQueryVariants]
	}

	domains := make([]string, 0, len(input.FocusedSites))
	for _, site := range input.FocusedSites {
		domains = append(domains, site.Domain)
	}

	depth := DepthShallow
	switch {
	case input.Iteration >= 3:
		depth = DepthDeep
	case input.Iteration == 2:
		depth = DepthMedium
	}

	return Strategy{
		Providers:     append([]string(nil), input.RankedProviders...),
		FocusDomains:  domains,
		QueryVariants: variants,
		ContentTypes:  []string{"article", "documentation"},
		Depth:         depth,
	}, nil
}

func parseStrategy(raw string) (Strategy, error) {
	jsonRaw := extractJSONObject(raw)
	if jsonRaw == "" {
		return Strategy{}, errors.New("planner response did not include json")
	}
	var strategy Strategy
	if err := json.Unmarshal([]byte(jsonRaw), &strategy); err != nil {
		return Strategy{}, err
	}
	if len(strategy.Providers) == 0 && len(strategy.FocusDomains) == 0 {
		return Strategy{}, errors.New("planner strategy selected no sources")
	}
	return strategy, nil
}

// sanitizeStrategy clamps a model-produced strategy to what the deployment
// can actually execute: known providers only, bounded variants, valid depth.
func sanitizeStrategy(strategy Strategy, input PlanInput) Strategy {
	known := make(map[string]struct{}, len(input.RankedProviders))
	for _, id := range input.RankedProviders {
		known[id] = struct{}{}
	}
	providers := make([]string, 0, len(strategy.Providers))
	for _, id := range strategy.Providers {
		id = strings.TrimSpace(strings.ToLower(id))
		if _, ok := known[id]; ok {
			providers = append(providers, id)
		}
	}
	if len(providers) == 0 {
		providers = append([]string(nil), input.RankedProviders...)
	}
	strategy.Providers = dedupeStrings(providers)

	variants := dedupeStrings(strategy.QueryVariants)
	if len(variants) == 0 {
		variants = []string{strings.TrimSpace(input.Query)}
	}
	if len(variants) > maxQueryVariants {
		variants = variants[:maxQueryVariants]
	}
	strategy.QueryVariants = variants

	allowed := make(map[string]struct{}, len(input.FocusedSites))
	for _, site := range input.FocusedSites {
		allowed[site.Domain] = struct{}{}
	}
	domains := make([]string, 0, len(strategy.FocusDomains))
	for _, domain := range strategy.FocusDomains {
		domain = strings.ToLower(strings.TrimSpace(domain))
		if _, ok := allowed[domain]; ok {
			domains = append(domains, domain)
		}
	}
	strategy.FocusDomains = dedupeStrings(domains)

	switch strategy.Depth {
	case DepthShallow, DepthMedium, DepthDeep:
	default:
		strategy.Depth = DepthMedium
	}
	return strategy
}

func buildPlanPrompt(input PlanInput) string {
	var b strings.Builder
	b.WriteString("You are a web research strategist. Respond with strict JSON only.\n")
	b.WriteString("Schema: {\"providers\":string[],\"focusDomains\":string[],\"queryVariants\":string[],\"contentTypes\":string[],\"depth\":\"shallow|medium|deep\"}\n")
	b.WriteString("Rules:\n")
	b.WriteString("- Choose providers only from the available list, best first.\n")
	b.WriteString("- At most three query variants, concise and specific.\n")
	b.WriteString("- Focus domains only from the proven list.\n")
	b.WriteString("\nQuery:\n")
	b.WriteString(strings.TrimSpace(input.Query))
	if len(input.Context) > 0 {
		keys := make([]string, 0, len(input.Context))
		for key := range input.Context {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		b.WriteString("\n\nCaller context:\n")
		for _, key := range keys {
			b.WriteString(fmt.Sprintf("- %s: %v\n", key, input.Context[key]))
		}
	}
	b.WriteString("\n\nAvailable providers (ranked by usefulness):\n")
	for _, id := range input.RankedProviders {
		b.WriteString("- ")
		b.WriteString(id)
		b.WriteByte('\n')
	}
	if len(input.FocusedSites) > 0 {
		b.WriteString("\nProven domains:\n")
		for _, site := range input.FocusedSites {
			b.WriteString(fmt.Sprintf("- %s (success=%.2f relevance=%.2f visits=%d)\n",
				site.Domain, site.SuccessRate, site.AvgRelevance, site.TotalVisits))
		}
	}
	if len(input.PreviousScores) > 0 {
		b.WriteString("\nPrevious iteration scores:\n")
		for source, score := range input.PreviousScores {
			b.WriteString(fmt.Sprintf("- %s: %.2f\n", source, score))
		}
	}
	if len(input.PreviousErrors) > 0 {
		b.WriteString("\nPrevious iteration errors:\n")
		for _, message := range input.PreviousErrors {
			b.WriteString("- ")
			b.WriteString(message)
			b.WriteByte('\n')
		}
	}
	b.WriteString(fmt.Sprintf("\nIteration: %d of 3\n", input.Iteration))
	if lang := strings.TrimSpace(input.TargetLanguage); lang != "" {
		b.WriteString("Preferred result language: " + lang + "\n")
	}
	return strings.TrimSpace(b.String())
}

func extractJSONObject(raw string) string {
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

func dedupeStrings(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			continue
		}
		key := strings.ToLower(trimmed)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, trimmed)
	}
	return out
}
