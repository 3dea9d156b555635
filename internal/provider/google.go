package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"webresearch/backend/internal/config"

	"google.golang.org/api/customsearch/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const googleMaxPageSize = 10

// GoogleAdapter searches the web through the Custom Search JSON API.
type GoogleAdapter struct {
	engineID string
	service  *customsearch.Service
}

// NewGoogleAdapter builds the adapter. A missing key or engine id is not a
// construction error; Search reports ErrProviderUnavailable instead so the
// orchestrator can simply skip the provider.
func NewGoogleAdapter(cfg config.Config, opts ...option.ClientOption) (*GoogleAdapter, error) {
	adapter := &GoogleAdapter{engineID: strings.TrimSpace(cfg.GoogleSearchEngineID)}

	apiKey := strings.TrimSpace(cfg.GoogleAPIKey)
	if apiKey == "" || adapter.engineID == "" {
		return adapter, nil
	}

	serviceOpts := append([]option.ClientOption{option.WithAPIKey(apiKey)}, opts...)
	service, err := customsearch.NewService(context.Background(), serviceOpts...)
	if err != nil {
		return nil, fmt.Errorf("build customsearch service: %w", err)
	}
	adapter.service = service
	return adapter, nil
}

func (a *GoogleAdapter) Name() string { return "google" }

func (a *GoogleAdapter) Search(ctx context.Context, query string, opts Options) (Result, error) {
	if a.service == nil {
		return errorResult(a.Name(), ErrProviderUnavailable), ErrProviderUnavailable
	}

	trimmed := strings.TrimSpace(query)
	if trimmed == "" {
		return Result{Provider: a.Name(), Status: StatusSuccess}, nil
	}

	count := opts.MaxResults
	if count <= 0 || count > googleMaxPageSize {
		count = googleMaxPageSize
	}

	callCtx, cancel := context.WithTimeout(ctx, DefaultAPITimeout)
	defer cancel()

	call := a.service.Cse.List().
		Q(trimmed).
		Cx(a.engineID).
		Num(int64(count)).
		Context(callCtx)
	if lang := strings.TrimSpace(opts.Language); lang != "" {
		call = call.Lr("lang_" + strings.ToLower(lang))
	}

	resp, err := call.Do()
	if err != nil {
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) && (apiErr.Code == http.StatusTooManyRequests || apiErr.Code == http.StatusForbidden) {
			result := Result{Provider: a.Name(), Status: StatusQuotaExceeded, Err: apiErr.Message}
			return result, fmt.Errorf("%w: %v", ErrQuotaExceeded, apiErr.Message)
		}
		return errorResult(a.Name(), err), fmt.Errorf("google search: %w", err)
	}

	items := make([]Item, 0, len(resp.Items))
	seen := make(map[string]struct{}, len(resp.Items))
	for _, raw := range resp.Items {
		link := strings.TrimSpace(raw.Link)
		if link == "" {
			continue
		}
		if _, exists := seen[link]; exists {
			continue
		}
		seen[link] = struct{}{}

		title := strings.TrimSpace(raw.Title)
		if title == "" {
			title = link
		}
		items = append(items, Item{
			URL:     link,
			Title:   title,
			Snippet: strings.TrimSpace(raw.Snippet),
			Source:  a.Name(),
		})
		if len(items) >= count {
			break
		}
	}

	return Result{Provider: a.Name(), Status: StatusSuccess, Items: items}, nil
}
