package orchestrator

import (
	"time"

	"webresearch/backend/internal/provider"
	"webresearch/backend/internal/reputation"
	"webresearch/backend/internal/scorer"
)

// State is one stop in the search workflow:
// Plan -> Execute -> Analyze -> Assess -> (Plan | Optimize) -> terminal.
type State string

const (
	StatePlan      State = "plan"
	StateExecute   State = "execute"
	StateAnalyze   State = "analyze"
	StateAssess    State = "assess"
	StateOptimize  State = "optimize"
	StateCompleted State = "completed"
	StateCancelled State = "cancelled"
)

// Depth hints for how aggressively Execute should pursue sources.
const (
	DepthShallow = "shallow"
	DepthMedium  = "medium"
	DepthDeep    = "deep"
)

// Options are the caller's per-request knobs. Translation itself is an
// external collaborator; the flags ride along into bundle metadata.
type Options struct {
	TargetLanguage   string `json:"targetLanguage,omitempty"`
	TranslateResults bool   `json:"translateResults,omitempty"`
	TranslateContent bool   `json:"translateContent,omitempty"`
}

// Request is an immutable search submission.
type Request struct {
	Query   string         `json:"query"`
	Context map[string]any `json:"context,omitempty"`
	Options Options        `json:"options"`
}

// Strategy is the output of one planning pass. It lives only for the active
// search and is rebuilt fresh each iteration.
type Strategy struct {
	Providers     []string `json:"providers"`
	FocusDomains  []string `json:"focusDomains,omitempty"`
	QueryVariants []string `json:"queryVariants"`
	ContentTypes  []string `json:"contentTypes,omitempty"`
	Depth         string   `json:"depth"`
}

// ErrorEntry is one captured failure inside the workflow.
type ErrorEntry struct {
	Timestamp    time.Time `json:"timestamp"`
	Error        string    `json:"error"`
	QueryVariant string    `json:"queryVariant,omitempty"`
}

// WorkflowState is owned exclusively by the engine for the lifetime of one
// search. Its side effects on quota and reputation persist after it is
// discarded.
type WorkflowState struct {
	SearchID      string
	Request       Request
	Strategy      Strategy
	FocusProfiles map[string]reputation.Profile
	Results       map[string]provider.Result
	QualityScores map[string]float64
	Suggestions   []string
	Analysis      scorer.Analysis
	ErrorLog      []ErrorEntry
	Iterations    int
}

// Metadata summarizes how a search ran.
type Metadata struct {
	Iterations       int       `json:"iterations"`
	Errors           int       `json:"errors"`
	ProvidersUsed    []string  `json:"providersUsed,omitempty"`
	FocusDomains     []string  `json:"focusDomains,omitempty"`
	TargetLanguage   string    `json:"targetLanguage,omitempty"`
	TranslateResults bool      `json:"translateResults,omitempty"`
	TranslateContent bool      `json:"translateContent,omitempty"`
	StartedAt        time.Time `json:"startedAt"`
	CompletedAt      time.Time `json:"completedAt"`
}

// Bundle is the evaluated result set returned to callers. It is always
// produced, even for searches that collected nothing.
type Bundle struct {
	SearchID      string            `json:"searchId"`
	Query         string            `json:"query"`
	ImprovedQuery string            `json:"improvedQuery,omitempty"`
	Results       []provider.Result `json:"results"`
	QualityScore  float64           `json:"qualityScore"`
	Analysis      string            `json:"analysis,omitempty"`
	Suggestions   []string          `json:"suggestions,omitempty"`
	Metadata      Metadata          `json:"metadata"`
}

// StatusSnapshot is the externally visible view of an active or finished
// search. Eventually consistent; good enough for polling.
type StatusSnapshot struct {
	SearchID   string `json:"searchId"`
	State      State  `json:"state"`
	Iterations int    `json:"iterationCount"`
	Errors     int    `json:"errors"`
}
