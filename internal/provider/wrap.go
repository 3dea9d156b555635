package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"strings"

	"golang.org/x/time/rate"

	"webresearch/backend/internal/cache"
)

// QuotaChecker is the slice of the quota ledger adapters consult before
// dispatching to a backend.
type QuotaChecker interface {
	ShouldUse(providerID string) bool
}

type quotaGuard struct {
	inner  Adapter
	ledger QuotaChecker
}

// WithQuota rejects calls up front when the provider's quota window is
// exhausted. Usage recording stays with the learning loop; the guard only
// gates dispatch.
func WithQuota(inner Adapter, ledger QuotaChecker) Adapter {
	if ledger == nil {
		return inner
	}
	return quotaGuard{inner: inner, ledger: ledger}
}

func (g quotaGuard) Name() string { return g.inner.Name() }

func (g quotaGuard) Search(ctx context.Context, query string, opts Options) (Result, error) {
	if !g.ledger.ShouldUse(g.inner.Name()) {
		return Result{Provider: g.inner.Name(), Status: StatusQuotaExceeded, Err: ErrQuotaExceeded.Error()},
			ErrQuotaExceeded
	}
	return g.inner.Search(ctx, query, opts)
}

type rateLimited struct {
	inner   Adapter
	limiter *rate.Limiter
}

// WithRateLimit spaces calls to a backend with a token bucket, keeping the
// adapter inside provider-side request rates independently of quota windows.
func WithRateLimit(inner Adapter, requestsPerSecond float64, burst int) Adapter {
	if requestsPerSecond <= 0 {
		return inner
	}
	if burst < 1 {
		burst = 1
	}
	return rateLimited{inner: inner, limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), burst)}
}

func (r rateLimited) Name() string { return r.inner.Name() }

func (r rateLimited) Search(ctx context.Context, query string, opts Options) (Result, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return errorResult(r.inner.Name(), err), fmt.Errorf("rate limit wait: %w", err)
	}
	return r.inner.Search(ctx, query, opts)
}

type cachedAdapter struct {
	inner        Adapter
	contentCache *cache.Cache
}

// WithCache serves identical requests from the content cache and stores
// successful responses. Only success results are cached so transient errors
// are retried on the next pass.
func WithCache(inner Adapter, contentCache *cache.Cache) Adapter {
	if contentCache == nil {
		return inner
	}
	return cachedAdapter{inner: inner, contentCache: contentCache}
}

func (c cachedAdapter) Name() string { return c.inner.Name() }

func (c cachedAdapter) Search(ctx context.Context, query string, opts Options) (Result, error) {
	fingerprint := cache.Fingerprint(c.inner.Name(), map[string]string{
		"query":        strings.ToLower(strings.Join(strings.Fields(strings.TrimSpace(query)), " ")),
		"max_results":  strconv.Itoa(opts.MaxResults),
		"language":     strings.ToLower(opts.Language),
		"target_url":   opts.TargetURL,
		"download":     strconv.FormatBool(opts.Download),
		"extract_mode": opts.ExtractMode,
	})

	if payload, ok := c.contentCache.Get(fingerprint); ok {
		var result Result
		if err := json.Unmarshal(payload, &result); err == nil {
			return result, nil
		}
		log.Printf("provider cache decode failed: provider=%s", c.inner.Name())
	}

	result, err := c.inner.Search(ctx, query, opts)
	if err == nil && result.Status == StatusSuccess {
		if payload, marshalErr := json.Marshal(result); marshalErr == nil {
			c.contentCache.Set(fingerprint, payload)
		}
	}
	return result, err
}
