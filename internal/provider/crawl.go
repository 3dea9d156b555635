package provider

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path"
	"path/filepath"
	"strings"

	"webresearch/backend/internal/agent"
	"webresearch/backend/internal/cache"
)

const crawlMaxTextRunes = 16_000

// AgentRunner is the slice of the browser-automation agent the crawl adapter
// needs. The real implementation lives in internal/agent.
type AgentRunner interface {
	Execute(ctx context.Context, cmd agent.Command) (agent.Result, error)
}

// CrawlAdapter fetches JS-heavy or authenticated pages through the external
// browser-automation agent. Lookups are cache-first and every target URL is
// validated before dispatch.
type CrawlAdapter struct {
	runner       AgentRunner
	contentCache *cache.Cache
	artifactDir  string
}

func NewCrawlAdapter(runner AgentRunner, contentCache *cache.Cache, artifactDir string) *CrawlAdapter {
	return &CrawlAdapter{
		runner:       runner,
		contentCache: contentCache,
		artifactDir:  strings.TrimSpace(artifactDir),
	}
}

func (a *CrawlAdapter) Name() string { return "crawl" }

func (a *CrawlAdapter) Search(ctx context.Context, query string, opts Options) (Result, error) {
	if a.runner == nil {
		return errorResult(a.Name(), ErrProviderUnavailable), ErrProviderUnavailable
	}

	parsed, err := validateTargetURL(opts.TargetURL)
	if err != nil {
		return errorResult(a.Name(), err), err
	}

	action := agent.ActionCrawlWeb
	if opts.Download {
		action = agent.ActionDownloadFile
	}

	fingerprint := cache.Fingerprint("crawl:"+action, map[string]string{
		"url":          parsed.String(),
		"query":        strings.TrimSpace(query),
		"extract_mode": opts.ExtractMode,
	})
	if cached, ok := a.cachedResult(fingerprint); ok {
		return cached, nil
	}

	callCtx, cancel := context.WithTimeout(ctx, DefaultCrawlTimeout)
	defer cancel()

	agentResult, err := a.runner.Execute(callCtx, agent.Command{
		Action:      action,
		URL:         parsed.String(),
		Query:       strings.TrimSpace(query),
		ExtractMode: opts.ExtractMode,
	})
	if err != nil {
		return errorResult(a.Name(), err), fmt.Errorf("agent %s: %w", action, err)
	}

	item := Item{
		URL:    parsed.String(),
		Title:  strings.TrimSpace(agentResult.ExtractedData["title"]),
		Source: strings.ToLower(parsed.Hostname()),
	}
	if item.Title == "" {
		item.Title = parsed.String()
	}

	if opts.Download {
		content, err := a.persistArtifact(parsed.Path, agentResult)
		if err != nil {
			return errorResult(a.Name(), err), err
		}
		item.Content = content
	} else {
		item.Content = trimToRunes(normalizeText(agentResult.Content), crawlMaxTextRunes)
	}
	item.Snippet = trimToRunes(item.Content, 800)

	result := Result{Provider: a.Name(), Status: StatusSuccess, Items: []Item{item}}
	a.storeResult(fingerprint, result)
	return result, nil
}

// persistArtifact writes a downloaded file under the artifact directory with
// a sanitized name and returns its extracted text.
func (a *CrawlAdapter) persistArtifact(urlPath string, agentResult agent.Result) (string, error) {
	data := []byte(agentResult.Content)
	if agentResult.ExtractedData["encoding"] == "base64" {
		decoded, err := base64.StdEncoding.DecodeString(agentResult.Content)
		if err != nil {
			return "", fmt.Errorf("%w: decode download payload: %v", ErrMalformedResponse, err)
		}
		data = decoded
	}

	if a.artifactDir != "" {
		filename := sanitizeFilename(path.Base(urlPath))
		if err := os.MkdirAll(a.artifactDir, 0o700); err != nil {
			log.Printf("artifact dir create failed: dir=%s err=%v", a.artifactDir, err)
		} else if err := os.WriteFile(filepath.Join(a.artifactDir, filename), data, 0o600); err != nil {
			log.Printf("artifact write failed: file=%s err=%v", filename, err)
		}
	}

	contentType := strings.TrimSpace(agentResult.ExtractedData["content_type"])
	if contentType == "" {
		contentType = "text/plain"
	}
	_, text, err := extractText(contentType, data, crawlMaxTextRunes)
	if err != nil {
		// Unsupported artifact types degrade to whatever the agent already
		// extracted rather than failing the crawl.
		return trimToRunes(normalizeText(agentResult.Content), crawlMaxTextRunes), nil
	}
	return text, nil
}

func (a *CrawlAdapter) cachedResult(fingerprint string) (Result, bool) {
	if a.contentCache == nil {
		return Result{}, false
	}
	payload, ok := a.contentCache.Get(fingerprint)
	if !ok {
		return Result{}, false
	}
	var result Result
	if err := json.Unmarshal(payload, &result); err != nil {
		log.Printf("crawl cache decode failed: err=%v", err)
		return Result{}, false
	}
	return result, true
}

func (a *CrawlAdapter) storeResult(fingerprint string, result Result) {
	if a.contentCache == nil {
		return
	}
	payload, err := json.Marshal(result)
	if err != nil {
		return
	}
	a.contentCache.Set(fingerprint, payload)
}
