// Package provider gives the orchestrator a uniform capability over
// heterogeneous search and crawl backends. Every backend normalizes its
// response at this boundary so orchestration code never branches on provider
// identity.
package provider

import (
	"context"
	"errors"
	"time"
)

const (
	StatusSuccess       = "success"
	StatusError         = "error"
	StatusQuotaExceeded = "quota_exceeded"
)

const (
	// DefaultAPITimeout bounds keyed search API calls.
	DefaultAPITimeout = 30 * time.Second
	// DefaultCrawlTimeout bounds crawl and download calls.
	DefaultCrawlTimeout = 60 * time.Second
)

var (
	// ErrProviderUnavailable marks missing or invalid credentials; the
	// provider is skipped for the rest of the search.
	ErrProviderUnavailable = errors.New("provider credentials are not configured")
	// ErrQuotaExceeded marks an exhausted quota window; the provider is
	// deprioritized until the window resets.
	ErrQuotaExceeded = errors.New("provider quota exhausted")
	// ErrMalformedResponse marks an unparseable upstream payload.
	ErrMalformedResponse = errors.New("malformed provider response")
	// ErrUnsafeTarget marks a crawl target rejected before dispatch.
	ErrUnsafeTarget = errors.New("unsafe crawl target")
)

// Item is one normalized result from any backend.
type Item struct {
	URL     string `json:"url"`
	Title   string `json:"title"`
	Snippet string `json:"snippet,omitempty"`
	Content string `json:"content,omitempty"`
	Source  string `json:"source"`
}

// Result is the normalized adapter response. Status is always set; Err holds
// the upstream failure message when Status is not success.
type Result struct {
	Provider string `json:"provider"`
	Status   string `json:"status"`
	Items    []Item `json:"items"`
	Err      string `json:"error,omitempty"`
}

// Options tunes one adapter call.
type Options struct {
	MaxResults int
	Language   string
	// TargetURL directs the crawl adapter at a specific page. Ignored by
	// keyed search adapters.
	TargetURL string
	// Download switches the crawl adapter from page extraction to file
	// download with artifact persistence.
	Download bool
	// ExtractMode is passed through to the browser agent.
	ExtractMode string
}

// Adapter is the uniform capability. A failed call returns a structured
// error Result; adapters never panic past the orchestrator boundary.
type Adapter interface {
	Name() string
	Search(ctx context.Context, query string, opts Options) (Result, error)
}

func errorResult(name string, err error) Result {
	return Result{Provider: name, Status: StatusError, Err: err.Error()}
}
