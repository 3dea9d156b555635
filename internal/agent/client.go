package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"webresearch/backend/internal/config"
)

const (
	ActionCrawlWeb     = "crawl_web"
	ActionDownloadFile = "download_file"

	maxErrorBodyBytes     = 8 * 1024
	defaultCommandTimeout = 60 * time.Second
)

var ErrAgentUnavailable = errors.New("browser agent is not configured")

// Command is one instruction for the external browser-automation agent.
type Command struct {
	Action      string `json:"action"`
	URL         string `json:"url"`
	Query       string `json:"query,omitempty"`
	ExtractMode string `json:"extract_mode,omitempty"`
}

// Result is the agent's structured reply. The agent itself is a black box;
// only this shape is contractual.
type Result struct {
	Content        string            `json:"content"`
	ExtractedData  map[string]string `json:"extracted_data,omitempty"`
	ScreenshotPath string            `json:"screenshot_path,omitempty"`
	Error          string            `json:"error,omitempty"`
}

// Client issues commands to the external browser-automation agent and awaits
// structured results within a bounded timeout.
type Client struct {
	baseURL    string
	timeout    time.Duration
	httpClient *http.Client
}

func NewClient(cfg config.Config, httpClient *http.Client) Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(cfg.AgentBaseURL), "/"),
		timeout:    defaultCommandTimeout,
		httpClient: httpClient,
	}
}

func (c Client) Execute(ctx context.Context, cmd Command) (Result, error) {
	if strings.TrimSpace(c.baseURL) == "" {
		return Result{}, ErrAgentUnavailable
	}
	if cmd.Action != ActionCrawlWeb && cmd.Action != ActionDownloadFile {
		return Result{}, fmt.Errorf("unsupported agent action %q", cmd.Action)
	}

	commandCtx := ctx
	cancel := func() {}
	if c.timeout > 0 {
		commandCtx, cancel = context.WithTimeout(ctx, c.timeout)
	}
	defer cancel()

	payload, err := json.Marshal(cmd)
	if err != nil {
		return Result{}, fmt.Errorf("marshal agent command: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(commandCtx, http.MethodPost, c.baseURL+"/commands", bytes.NewReader(payload))
	if err != nil {
		return Result{}, fmt.Errorf("build agent request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return Result{}, fmt.Errorf("request agent: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return Result{}, fmt.Errorf("agent returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return Result{}, fmt.Errorf("decode agent response: %w", err)
	}
	if strings.TrimSpace(result.Error) != "" {
		return result, errors.New(strings.TrimSpace(result.Error))
	}
	return result, nil
}
