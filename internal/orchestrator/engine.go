// Package orchestrator drives one search request through an explicit state
// machine: Plan -> Execute -> Analyze -> Assess -> (Plan | Optimize). Every
// state failure is captured into the workflow error log and the machine moves
// on with whatever partial data exists; reaching Optimize is the only
// unconditional termination path.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"webresearch/backend/internal/learning"
	"webresearch/backend/internal/provider"
	"webresearch/backend/internal/reputation"
	"webresearch/backend/internal/scorer"
)

const (
	defaultMaxIterations      = 3
	defaultQualityTarget      = 0.6
	defaultMaxConcurrent      = 5
	defaultResultsPerProvider = 5
	defaultFocusLimit         = 3
	summaryCharBudget         = 5000
)

// QuotaLedger is the planning and feedback surface of the quota package.
type QuotaLedger interface {
	ShouldUse(providerID string) bool
	RecordUsage(providerID string, usefulness float64) error
	RankProviders() []string
}

// SiteReputation is the planning and feedback surface of the reputation
// package.
type SiteReputation interface {
	RecordOutcome(domain string, outcome reputation.Outcome) error
	FocusedSites(limit int) ([]reputation.Profile, error)
}

// ResultAnalyzer produces the per-iteration structured analysis.
type ResultAnalyzer interface {
	Analyze(ctx context.Context, objective, summary string) (scorer.Analysis, error)
}

// LearningLoop scores sources and proposes query rewrites.
type LearningLoop interface {
	Evaluate(ctx context.Context, searchID string, results map[string]provider.Result, objective string) map[string]float64
	SuggestRewrite(ctx context.Context, originalQuery string, scores map[string]float64) (string, bool)
}

type Config struct {
	MaxIterations      int
	QualityTarget      float64
	MaxConcurrent      int
	ResultsPerProvider int
	FocusLimit         int
	SearchTimeout      time.Duration
}

// Deps are the collaborators injected into the engine. Searchers are keyed
// API adapters; Crawler reaches pages through the browser agent.
type Deps struct {
	Searchers []provider.Adapter
	Crawler   provider.Adapter
	Planner   Planner
	Learning  LearningLoop
	Analyzer  ResultAnalyzer
	Quota     QuotaLedger
	Sites     SiteReputation
}

type search struct {
	id     string
	cancel context.CancelFunc
	done   chan struct{}

	mu         sync.Mutex
	state      State
	iterations int
	errors     int
	bundle     Bundle
}

func (s *search) snapshot() StatusSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return StatusSnapshot{SearchID: s.id, State: s.state, Iterations: s.iterations, Errors: s.errors}
}

// Engine owns the active-search registry and runs each search as an
// independent task.
type Engine struct {
	searchers map[string]provider.Adapter
	crawler   provider.Adapter
	planner   Planner
	loop      LearningLoop
	analyzer  ResultAnalyzer
	ledger    QuotaLedger
	sites     SiteReputation
	cfg       Config

	mu       sync.Mutex
	active   map[string]*search
	finished map[string]*search
}

func NewEngine(deps Deps, cfg Config) *Engine {
	if cfg.MaxIterations < 1 {
		cfg.MaxIterations = defaultMaxIterations
	}
	if cfg.QualityTarget <= 0 {
		cfg.QualityTarget = defaultQualityTarget
	}
	if cfg.MaxConcurrent < 1 {
		cfg.MaxConcurrent = defaultMaxConcurrent
	}
	if cfg.ResultsPerProvider < 1 {
		cfg.ResultsPerProvider = defaultResultsPerProvider
	}
	if cfg.FocusLimit < 1 {
		cfg.FocusLimit = defaultFocusLimit
	}

	planner := deps.Planner
	if planner == nil {
		planner = NewJSONPlanner(nil)
	}

	searchers := make(map[string]provider.Adapter, len(deps.Searchers))
	for _, adapter := range deps.Searchers {
		if adapter != nil {
			searchers[adapter.Name()] = adapter
		}
	}

	return &Engine{
		searchers: searchers,
		crawler:   deps.Crawler,
		planner:   planner,
		loop:      deps.Learning,
		analyzer:  deps.Analyzer,
		ledger:    deps.Quota,
		sites:     deps.Sites,
		cfg:       cfg,
		active:    make(map[string]*search),
		finished:  make(map[string]*search),
	}
}

// StartSearch registers a new search and runs it in the background. The
// returned id is usable immediately for status polling and cancellation.
func (e *Engine) StartSearch(req Request) (string, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return "", errors.New("query is required")
	}
	req.Query = query

	runCtx := context.Background()
	cancel := context.CancelFunc(func() {})
	if e.cfg.SearchTimeout > 0 {
		runCtx, cancel = context.WithTimeout(runCtx, e.cfg.SearchTimeout)
	}
	runCtx, cancelRun := context.WithCancel(runCtx)

	s := &search{
		id:    uuid.NewString(),
		state: StatePlan,
		done:  make(chan struct{}),
		cancel: func() {
			cancelRun()
			cancel()
		},
	}

	e.mu.Lock()
	e.active[s.id] = s
	e.mu.Unlock()

	go e.run(runCtx, s, req)
	return s.id, nil
}

// Status reports the current state of an active or finished search.
func (e *Engine) Status(searchID string) (StatusSnapshot, bool) {
	s, ok := e.lookup(searchID)
	if !ok {
		return StatusSnapshot{}, false
	}
	return s.snapshot(), true
}

// Cancel stops scheduling further provider calls for the search. In-flight
// adapter calls drain on their own timeouts.
func (e *Engine) Cancel(searchID string) bool {
	e.mu.Lock()
	s, ok := e.active[searchID]
	e.mu.Unlock()
	if !ok {
		return false
	}
	s.cancel()
	return true
}

// Result returns the final bundle once the search has terminated.
func (e *Engine) Result(searchID string) (Bundle, bool, bool) {
	s, ok := e.lookup(searchID)
	if !ok {
		return Bundle{}, false, false
	}
	select {
	case <-s.done:
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.bundle, true, true
	default:
		return Bundle{}, false, true
	}
}

// Await blocks until the search terminates or the caller's context ends.
func (e *Engine) Await(ctx context.Context, searchID string) (Bundle, error) {
	s, ok := e.lookup(searchID)
	if !ok {
		return Bundle{}, fmt.Errorf("unknown search %q", searchID)
	}
	select {
	case <-ctx.Done():
		return Bundle{}, ctx.Err()
	case <-s.done:
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.bundle, nil
	}
}

func (e *Engine) lookup(searchID string) (*search, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if s, ok := e.active[searchID]; ok {
		return s, true
	}
	s, ok := e.finished[searchID]
	return s, ok
}

func (e *Engine) run(ctx context.Context, s *search, req Request) {
	startedAt := time.Now().UTC()
	ws := &WorkflowState{
		SearchID: s.id,
		Request:  req,
		Results:  make(map[string]provider.Result),
	}

	log.Printf("search start: search_id=%s query_chars=%d language=%s",
		s.id, len([]rune(req.Query)), req.Options.TargetLanguage)

	for {
		if ctx.Err() != nil {
			break
		}

		e.setState(s, ws, StatePlan)
		ws.Iterations++
		s.mu.Lock()
		s.iterations = ws.Iterations
		s.mu.Unlock()

		strategy, err := e.plan(ctx, ws)
		if err != nil {
			// A plan-stage failure is the only early termination: no
			// strategy means nothing to execute, so fall through to a
			// best-effort bundle.
			appendError(ws, err, "")
			break
		}
		ws.Strategy = strategy

		e.setState(s, ws, StateExecute)
		e.guard(ws, func() { e.execute(ctx, ws) })

		e.setState(s, ws, StateAnalyze)
		e.guard(ws, func() { e.analyze(ctx, ws) })

		e.setState(s, ws, StateAssess)
		e.guard(ws, func() { e.assess(ctx, ws) })

		s.mu.Lock()
		s.errors = len(ws.ErrorLog)
		s.mu.Unlock()

		if ws.Iterations >= e.cfg.MaxIterations {
			break
		}
		if learning.Mean(ws.QualityScores) < e.cfg.QualityTarget {
			continue
		}
		break
	}

	e.setState(s, ws, StateOptimize)
	bundle := e.optimize(ctx, ws, startedAt)

	final := StateCompleted
	if errors.Is(ctx.Err(), context.Canceled) {
		final = StateCancelled
	}
	e.complete(s, bundle, final)

	log.Printf("search completed: search_id=%s state=%s iterations=%d results=%d errors=%d quality=%.3f elapsed_ms=%d",
		s.id, final, bundle.Metadata.Iterations, len(bundle.Results), bundle.Metadata.Errors,
		bundle.QualityScore, time.Since(startedAt).Milliseconds())
}

func (e *Engine) plan(ctx context.Context, ws *WorkflowState) (Strategy, error) {
	ranked := make([]string, 0, len(e.searchers))
	if e.ledger != nil {
		for _, id := range e.ledger.RankProviders() {
			if _, ok := e.searchers[id]; ok {
				ranked = append(ranked, id)
			}
		}
	} else {
		for id := range e.searchers {
			ranked = append(ranked, id)
		}
		sort.Strings(ranked)
	}

	var focused []reputation.Profile
	if e.sites != nil && e.crawler != nil {
		profiles, err := e.sites.FocusedSites(e.cfg.FocusLimit)
		if err != nil {
			log.Printf("focused sites unavailable: search_id=%s err=%v", ws.SearchID, err)
		} else {
			focused = profiles
		}
	}

	if len(ranked) == 0 && len(focused) == 0 {
		return Strategy{}, errors.New("no usable providers or focus domains")
	}

	strategy, err := e.planner.Plan(ctx, PlanInput{
		Query:           ws.Request.Query,
		Context:         ws.Request.Context,
		Iteration:       ws.Iterations,
		RankedProviders: ranked,
		FocusedSites:    focused,
		PreviousScores:  ws.QualityScores,
		PreviousErrors:  recentErrors(ws, 3),
		TargetLanguage:  ws.Request.Options.TargetLanguage,
	})
	if err != nil {
		return Strategy{}, fmt.Errorf("plan strategy: %w", err)
	}
	if len(strategy.Providers) == 0 && len(strategy.FocusDomains) == 0 {
		return Strategy{}, errors.New("planned strategy selected no sources")
	}

	ws.FocusProfiles = make(map[string]reputation.Profile, len(focused))
	for _, profile := range focused {
		ws.FocusProfiles[profile.Domain] = profile
	}
	return strategy, nil
}

// execute fans out one adapter call per query variant per selected source,
// bounded by the concurrency limit. Results merge keyed by source; one
// source's failure never aborts the batch.
func (e *Engine) execute(ctx context.Context, ws *WorkflowState) {
	type job struct {
		adapter provider.Adapter
		query   string
		opts    provider.Options
		domain  string
	}

	variants := ws.Strategy.QueryVariants
	if len(variants) > maxQueryVariants {
		variants = variants[:maxQueryVariants]
	}
	language := ws.Request.Options.TargetLanguage

	jobs := make([]job, 0, len(variants)*(len(ws.Strategy.Providers)+len(ws.Strategy.FocusDomains)))
	for _, variant := range variants {
		for _, name := range ws.Strategy.Providers {
			adapter, ok := e.searchers[name]
			if !ok {
				continue
			}
			jobs = append(jobs, job{
				adapter: adapter,
				query:   variant,
				opts:    provider.Options{MaxResults: e.cfg.ResultsPerProvider, Language: language},
			})
		}
		if e.crawler == nil {
			continue
		}
		for _, domain := range ws.Strategy.FocusDomains {
			jobs = append(jobs, job{
				adapter: e.crawler,
				query:   variant,
				opts: provider.Options{
					TargetURL:   e.crawlTarget(ws, domain),
					ExtractMode: "article",
					Language:    language,
				},
				domain: domain,
			})
		}
	}

	sem := make(chan struct{}, e.cfg.MaxConcurrent)
	var wg sync.WaitGroup
	var mu sync.Mutex

	for _, j := range jobs {
		if ctx.Err() != nil {
			// Cancellation stops scheduling; dispatched calls drain below.
			break
		}
		sem <- struct{}{}
		wg.Add(1)
		go func(j job) {
			defer wg.Done()
			defer func() { <-sem }()

			result, err := j.adapter.Search(ctx, j.query, j.opts)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				ws.ErrorLog = append(ws.ErrorLog, ErrorEntry{
					Timestamp:    time.Now().UTC(),
					Error:        err.Error(),
					QueryVariant: j.query,
				})
				if j.domain != "" && e.sites != nil {
					if recordErr := e.sites.RecordOutcome(j.domain, reputation.Outcome{Success: false}); recordErr != nil {
						log.Printf("site outcome record failed: domain=%s err=%v", j.domain, recordErr)
					}
				}
				return
			}

			key := j.adapter.Name()
			if j.domain != "" {
				key = j.domain
			}
			ws.Results[key] = mergeResults(ws.Results[key], result)
		}(j)
	}
	wg.Wait()
}

func (e *Engine) crawlTarget(ws *WorkflowState, domain string) string {
	path := "/"
	if profile, ok := ws.FocusProfiles[domain]; ok && len(profile.ValuablePaths) > 0 {
		// Most recently valuable path wins.
		path = profile.ValuablePaths[len(profile.ValuablePaths)-1]
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return "https://" + domain + path
}

func (e *Engine) analyze(ctx context.Context, ws *WorkflowState) {
	if e.analyzer == nil {
		return
	}
	summary := summarizeResults(ws.Results, summaryCharBudget)
	if summary == "" {
		return
	}
	analysis, err := e.analyzer.Analyze(ctx, ws.Request.Query, summary)
	if err != nil {
		appendError(ws, fmt.Errorf("analyze results: %w", err), "")
		return
	}
	ws.Analysis = analysis
	if len(analysis.KeyFindings) > 0 {
		ws.Suggestions = analysis.KeyFindings
	}
}

// assess scores every merged source and feeds the outcomes back: usefulness
// into the quota ledger, and crawl outcomes into site reputation. Failed
// sources have no score, so a timed-out provider records no usage.
func (e *Engine) assess(ctx context.Context, ws *WorkflowState) {
	if e.loop == nil {
		return
	}
	scores := e.loop.Evaluate(ctx, ws.SearchID, ws.Results, ws.Request.Query)
	ws.QualityScores = scores

	crawlName := ""
	if e.crawler != nil {
		crawlName = e.crawler.Name()
	}

	for source, score := range scores {
		result := ws.Results[source]
		if e.ledger != nil {
			if err := e.ledger.RecordUsage(result.Provider, score); err != nil {
				log.Printf("quota usage record failed: search_id=%s provider=%s err=%v", ws.SearchID, result.Provider, err)
			}
		}
		if e.sites != nil && crawlName != "" && result.Provider == crawlName {
			relevance := score
			outcome := reputation.Outcome{Success: true, Relevance: &relevance}
			if len(result.Items) > 0 {
				outcome.Path = pathFromURL(result.Items[0].URL)
			}
			if err := e.sites.RecordOutcome(source, outcome); err != nil {
				log.Printf("site outcome record failed: domain=%s err=%v", source, err)
			}
		}
	}
}

func (e *Engine) optimize(ctx context.Context, ws *WorkflowState, startedAt time.Time) Bundle {
	improved := ""
	if e.loop != nil {
		if rewritten, changed := e.loop.SuggestRewrite(ctx, ws.Request.Query, ws.QualityScores); changed {
			improved = rewritten
		}
	}

	return Bundle{
		SearchID:      ws.SearchID,
		Query:         ws.Request.Query,
		ImprovedQuery: improved,
		Results:       sortedResults(ws.Results),
		QualityScore:  learning.Mean(ws.QualityScores),
		Analysis:      ws.Analysis.Summary,
		Suggestions:   ws.Suggestions,
		Metadata: Metadata{
			Iterations:       ws.Iterations,
			Errors:           len(ws.ErrorLog),
			ProvidersUsed:    ws.Strategy.Providers,
			FocusDomains:     ws.Strategy.FocusDomains,
			TargetLanguage:   ws.Request.Options.TargetLanguage,
			TranslateResults: ws.Request.Options.TranslateResults,
			TranslateContent: ws.Request.Options.TranslateContent,
			StartedAt:        startedAt,
			CompletedAt:      time.Now().UTC(),
		},
	}
}

func (e *Engine) complete(s *search, bundle Bundle, final State) {
	s.mu.Lock()
	s.state = final
	s.bundle = bundle
	s.errors = bundle.Metadata.Errors
	s.mu.Unlock()

	e.mu.Lock()
	delete(e.active, s.id)
	e.finished[s.id] = s
	e.mu.Unlock()

	close(s.done)
}

func (e *Engine) setState(s *search, ws *WorkflowState, state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
	log.Printf("search state: search_id=%s state=%s iteration=%d", ws.SearchID, state, ws.Iterations)
}

// guard keeps a state-internal panic from tearing down the whole search; the
// failure lands in the error log and the machine proceeds.
func (e *Engine) guard(ws *WorkflowState, fn func()) {
	defer func() {
		if recovered := recover(); recovered != nil {
			appendError(ws, fmt.Errorf("state panic: %v", recovered), "")
		}
	}()
	fn()
}

func appendError(ws *WorkflowState, err error, variant string) {
	ws.ErrorLog = append(ws.ErrorLog, ErrorEntry{
		Timestamp:    time.Now().UTC(),
		Error:        err.Error(),
		QueryVariant: variant,
	})
}

func recentErrors(ws *WorkflowState, limit int) []string {
	if len(ws.ErrorLog) == 0 || limit <= 0 {
		return nil
	}
	start := len(ws.ErrorLog) - limit
	if start < 0 {
		start = 0
	}
	out := make([]string, 0, limit)
	for _, entry := range ws.ErrorLog[start:] {
		out = append(out, entry.Error)
	}
	return out
}

// mergeResults folds a later result for the same source into the earlier
// one: status and error are overwritten, items are deduped by URL with the
// later item winning.
func mergeResults(existing, incoming provider.Result) provider.Result {
	if existing.Provider == "" {
		return incoming
	}
	merged := existing
	merged.Status = incoming.Status
	merged.Err = incoming.Err

	byURL := make(map[string]int, len(merged.Items))
	for i, item := range merged.Items {
		byURL[item.URL] = i
	}
	for _, item := range incoming.Items {
		if idx, ok := byURL[item.URL]; ok {
			merged.Items[idx] = item
			continue
		}
		byURL[item.URL] = len(merged.Items)
		merged.Items = append(merged.Items, item)
	}
	return merged
}

func sortedResults(results map[string]provider.Result) []provider.Result {
	keys := make([]string, 0, len(results))
	for key := range results {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	out := make([]provider.Result, 0, len(keys))
	for _, key := range keys {
		out = append(out, results[key])
	}
	return out
}

func summarizeResults(results map[string]provider.Result, budget int) string {
	keys := make([]string, 0, len(results))
	for key := range results {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var builder strings.Builder
	for _, key := range keys {
		result := results[key]
		if result.Status != provider.StatusSuccess {
			continue
		}
		for _, item := range result.Items {
			line := "[" + key + "] " + strings.TrimSpace(item.Title)
			if snippet := strings.TrimSpace(item.Snippet); snippet != "" {
				line += " - " + snippet
			}
			if builder.Len() > 0 {
				builder.WriteByte('\n')
			}
			builder.WriteString(line)
			if builder.Len() >= budget {
				return strings.TrimSpace(clipRunes(builder.String(), budget))
			}
		}
	}
	return strings.TrimSpace(builder.String())
}

// clipRunes truncates s to at most limit runes so a cut never lands inside a
// multibyte character.
func clipRunes(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	return string([]rune(s)[:limit])
}

func pathFromURL(rawURL string) string {
	idx := strings.Index(rawURL, "://")
	if idx < 0 {
		return "/"
	}
	rest := rawURL[idx+3:]
	slash := strings.Index(rest, "/")
	if slash < 0 {
		return "/"
	}
	path := rest[slash:]
	if q := strings.IndexAny(path, "?#"); q >= 0 {
		path = path[:q]
	}
	if path == "" {
		return "/"
	}
	return path
}
