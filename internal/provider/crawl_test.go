package provider

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"webresearch/backend/internal/agent"
	"webresearch/backend/internal/cache"
)

type fakeRunner struct {
	calls  int
	result agent.Result
	err    error
	lastCmd agent.Command
}

func (f *fakeRunner) Execute(_ context.Context, cmd agent.Command) (agent.Result, error) {
	f.calls++
	f.lastCmd = cmd
	return f.result, f.err
}

func TestCrawlAdapterReturnsExtractedContent(t *testing.T) {
	runner := &fakeRunner{result: agent.Result{
		Content:       "  The page   body\n\n\nwith details  ",
		ExtractedData: map[string]string{"title": "Page Title"},
	}}
	adapter := NewCrawlAdapter(runner, nil, "")

	result, err := adapter.Search(context.Background(), "find details", Options{TargetURL: "https://example.com/docs"})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if result.Status != StatusSuccess || len(result.Items) != 1 {
		t.Fatalf("unexpected result %+v", result)
	}

	item := result.Items[0]
	if item.Title != "Page Title" {
		t.Fatalf("unexpected title %q", item.Title)
	}
	if item.Source != "example.com" {
		t.Fatalf("unexpected source %q", item.Source)
	}
	if strings.Contains(item.Content, "\n\n\n") {
		t.Fatalf("expected normalized content, got %q", item.Content)
	}
	if runner.lastCmd.Action != agent.ActionCrawlWeb {
		t.Fatalf("unexpected action %q", runner.lastCmd.Action)
	}
}

func TestCrawlAdapterRejectsUnsafeTargets(t *testing.T) {
	runner := &fakeRunner{}
	adapter := NewCrawlAdapter(runner, nil, "")

	_, err := adapter.Search(context.Background(), "anything", Options{TargetURL: "https://169.254.169.254/latest"})
	if !errors.Is(err, ErrUnsafeTarget) {
		t.Fatalf("expected ErrUnsafeTarget, got %v", err)
	}
	if runner.calls != 0 {
		t.Fatalf("expected the agent to never be dispatched")
	}
}

func TestCrawlAdapterServesRepeatLookupsFromCache(t *testing.T) {
	runner := &fakeRunner{result: agent.Result{Content: "cached page body"}}
	adapter := NewCrawlAdapter(runner, cache.New(nil, time.Hour), "")

	first, err := adapter.Search(context.Background(), "repeat", Options{TargetURL: "https://example.com/page"})
	if err != nil {
		t.Fatalf("first search: %v", err)
	}
	second, err := adapter.Search(context.Background(), "repeat", Options{TargetURL: "https://example.com/page"})
	if err != nil {
		t.Fatalf("second search: %v", err)
	}
	if runner.calls != 1 {
		t.Fatalf("expected one agent dispatch, got %d", runner.calls)
	}
	if len(second.Items) != 1 || second.Items[0].Content != first.Items[0].Content {
		t.Fatalf("expected identical cached content")
	}
}

func TestCrawlAdapterPropagatesAgentFailure(t *testing.T) {
	runner := &fakeRunner{err: agent.ErrAgentUnavailable}
	adapter := NewCrawlAdapter(runner, nil, "")

	result, err := adapter.Search(context.Background(), "anything", Options{TargetURL: "https://example.com/page"})
	if err == nil {
		t.Fatalf("expected an error")
	}
	if result.Status != StatusError {
		t.Fatalf("expected error status, got %s", result.Status)
	}
}

func TestCrawlAdapterDownloadDecodesBase64(t *testing.T) {
	runner := &fakeRunner{result: agent.Result{
		Content: "aGVsbG8gYXJ0aWZhY3Q=",
		ExtractedData: map[string]string{
			"encoding":     "base64",
			"content_type": "text/plain",
		},
	}}
	adapter := NewCrawlAdapter(runner, nil, t.TempDir())

	result, err := adapter.Search(context.Background(), "", Options{TargetURL: "https://example.com/files/note.txt", Download: true})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(result.Items) != 1 || !strings.Contains(result.Items[0].Content, "hello artifact") {
		t.Fatalf("unexpected content %+v", result.Items)
	}
	if runner.lastCmd.Action != agent.ActionDownloadFile {
		t.Fatalf("unexpected action %q", runner.lastCmd.Action)
	}
}
