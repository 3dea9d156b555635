package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"webresearch/backend/internal/config"
)

const (
	newsMaxErrorBodyBytes = 8 * 1024
	newsMaxQueryWords     = 50
	newsDefaultPageSize   = 5
	newsDefaultBaseURL    = "https://newsapi.org/v2"
)

type newsAPIResponse struct {
	Status   string           `json:"status"`
	Code     string           `json:"code"`
	Message  string           `json:"message"`
	Articles []newsAPIArticle `json:"articles"`
}

type newsAPIArticle struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	URL         string `json:"url"`
	PublishedAt string `json:"publishedAt"`
	Source      struct {
		Name string `json:"name"`
	} `json:"source"`
}

// NewsAdapter searches recent news coverage through the NewsAPI everything
// endpoint.
type NewsAdapter struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

func NewNewsAdapter(cfg config.Config, httpClient *http.Client) *NewsAdapter {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &NewsAdapter{
		apiKey:     strings.TrimSpace(cfg.NewsAPIKey),
		baseURL:    newsDefaultBaseURL,
		httpClient: httpClient,
	}
}

// WithBaseURL points the adapter at a different endpoint. Used in tests.
func (a *NewsAdapter) WithBaseURL(baseURL string) *NewsAdapter {
	a.baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	return a
}

func (a *NewsAdapter) Name() string { return "newsapi" }

func (a *NewsAdapter) Search(ctx context.Context, query string, opts Options) (Result, error) {
	if a.apiKey == "" {
		return errorResult(a.Name(), ErrProviderUnavailable), ErrProviderUnavailable
	}

	trimmed := trimToWordLimit(strings.TrimSpace(query), newsMaxQueryWords)
	if trimmed == "" {
		return Result{Provider: a.Name(), Status: StatusSuccess}, nil
	}

	count := opts.MaxResults
	if count <= 0 {
		count = newsDefaultPageSize
	}

	endpoint, err := url.Parse(a.baseURL + "/everything")
	if err != nil {
		return errorResult(a.Name(), err), fmt.Errorf("parse newsapi endpoint: %w", err)
	}
	params := endpoint.Query()
	params.Set("q", trimmed)
	params.Set("pageSize", fmt.Sprintf("%d", count))
	params.Set("sortBy", "relevancy")
	if lang := strings.TrimSpace(opts.Language); lang != "" {
		params.Set("language", strings.ToLower(lang))
	}
	endpoint.RawQuery = params.Encode()

	callCtx, cancel := context.WithTimeout(ctx, DefaultAPITimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(callCtx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return errorResult(a.Name(), err), fmt.Errorf("build newsapi request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("X-Api-Key", a.apiKey)

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return errorResult(a.Name(), err), fmt.Errorf("request newsapi: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, newsMaxErrorBodyBytes))
		message := strings.TrimSpace(string(body))
		return Result{Provider: a.Name(), Status: StatusQuotaExceeded, Err: message},
			fmt.Errorf("%w: %s", ErrQuotaExceeded, message)
	}
	if resp.StatusCode == http.StatusUnauthorized {
		return errorResult(a.Name(), ErrProviderUnavailable), ErrProviderUnavailable
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, newsMaxErrorBodyBytes))
		err := fmt.Errorf("newsapi returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
		return errorResult(a.Name(), err), err
	}

	var parsed newsAPIResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return errorResult(a.Name(), ErrMalformedResponse), fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if parsed.Status == "error" {
		if parsed.Code == "rateLimited" {
			return Result{Provider: a.Name(), Status: StatusQuotaExceeded, Err: parsed.Message},
				fmt.Errorf("%w: %s", ErrQuotaExceeded, parsed.Message)
		}
		err := fmt.Errorf("newsapi error %s: %s", parsed.Code, parsed.Message)
		return errorResult(a.Name(), err), err
	}

	items := make([]Item, 0, len(parsed.Articles))
	seen := make(map[string]struct{}, len(parsed.Articles))
	for _, article := range parsed.Articles {
		link := strings.TrimSpace(article.URL)
		if link == "" {
			continue
		}
		if _, exists := seen[link]; exists {
			continue
		}
		seen[link] = struct{}{}

		title := strings.TrimSpace(article.Title)
		if title == "" {
			title = link
		}
		snippet := strings.TrimSpace(article.Description)
		if article.PublishedAt != "" {
			snippet = strings.TrimSpace(snippet + " (" + article.PublishedAt + ")")
		}
		items = append(items, Item{
			URL:     link,
			Title:   title,
			Snippet: snippet,
			Source:  a.Name(),
		})
		if len(items) >= count {
			break
		}
	}

	return Result{Provider: a.Name(), Status: StatusSuccess, Items: items}, nil
}

func trimToWordLimit(input string, maxWords int) string {
	if maxWords <= 0 {
		return ""
	}
	words := strings.Fields(strings.TrimSpace(input))
	if len(words) <= maxWords {
		return strings.Join(words, " ")
	}
	return strings.Join(words[:maxWords], " ")
}
