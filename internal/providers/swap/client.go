package swap

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"charactercam/server/internal/infra"
)

// TaskStatus is the provider-side lifecycle of one generation task.
type TaskStatus string

const (
	TaskQueued    TaskStatus = "queued"
	TaskRunning   TaskStatus = "running"
	TaskSucceeded TaskStatus = "succeeded"
	TaskFailed    TaskStatus = "failed"
)

// Terminal reports whether the provider will make no further progress.
func (s TaskStatus) Terminal() bool {
	return s == TaskSucceeded || s == TaskFailed
}

// Request carries the references for one motion-swap call.
type Request struct {
	VideoURL          string
	CharacterImageURL string
	RequestID         string
}

// Result is the normalized artifact returned on success.
type Result struct {
	Data      []byte
	Format    string
	SourceURL string
}

// Generator is the contract the job runner depends on.
type Generator interface {
	Generate(ctx context.Context, req Request) (*Result, error)
}

// Options controls how the motion-swap client is configured.
type Options struct {
	APIKey       string
	BaseURL      string
	Model        string
	HTTPClient   *http.Client
	PollInterval time.Duration
	PollDeadline time.Duration
	Logger       *infra.Logger
}

// Client drives the provider's async task protocol: submit, poll until the
// provider reports a terminal state, download the artifact. Calls run for
// minutes; the HTTP client must come from NewHTTPClient (or carry an
// equally generous timeout), never the default client.
type Client struct {
	apiKey       string
	baseURL      string
	model        string
	httpClient   *http.Client
	pollInterval time.Duration
	pollDeadline time.Duration
	logger       *infra.Logger
}

// DefaultCallTimeout bounds a single artifact download or API exchange.
// Provider runs of up to ~14 minutes have been observed; the default
// 5-minute style client timeout loses every slow run.
const DefaultCallTimeout = 30 * time.Minute

// NewHTTPClient builds the extended-timeout client shared by all in-flight
// generations. It carries no per-job state and is safe for concurrent use.
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			MaxIdleConns:          16,
			IdleConnTimeout:       90 * time.Second,
			ResponseHeaderTimeout: 2 * time.Minute,
		},
	}
}

// NewClient constructs a motion-swap client with sane defaults.
func NewClient(opts Options) (*Client, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, fmt.Errorf("swap: api key is required")
	}

	client := opts.HTTPClient
	if client == nil {
		client = NewHTTPClient(DefaultCallTimeout)
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.motionswap.dev/v1"
	}

	model := opts.Model
	if model == "" {
		model = "motion-swap-1.5"
	}

	pollInterval := opts.PollInterval
	if pollInterval <= 0 {
		pollInterval = 10 * time.Second
	}
	pollDeadline := opts.PollDeadline
	if pollDeadline <= 0 {
		pollDeadline = 20 * time.Minute
	}

	var logger *infra.Logger
	if opts.Logger != nil {
		logger = opts.Logger
	} else {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}

	return &Client{
		apiKey:       strings.TrimSpace(opts.APIKey),
		baseURL:      baseURL,
		model:        model,
		httpClient:   client,
		pollInterval: pollInterval,
		pollDeadline: pollDeadline,
		logger:       logger,
	}, nil
}

// Model returns the configured provider model identifier.
func (c *Client) Model() string {
	return c.model
}

type taskEnvelope struct {
	Task struct {
		ID     string     `json:"id"`
		Status TaskStatus `json:"status"`
		Output struct {
			VideoURL string `json:"video_url"`
			Format   string `json:"format"`
		} `json:"output"`
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	} `json:"task"`
}

type submitRequest struct {
	Model             string `json:"model"`
	VideoURL          string `json:"video_url"`
	CharacterImageURL string `json:"character_image_url"`
	RequestID         string `json:"request_id,omitempty"`
}

// Generate runs one full motion-swap: submit, poll to a terminal provider
// state, then download the produced video.
func (c *Client) Generate(ctx context.Context, req Request) (*Result, error) {
	if req.VideoURL == "" || req.CharacterImageURL == "" {
		return nil, wrapError(0, "missing_input", "video and character image references are required", "", nil)
	}

	taskID, err := c.submit(ctx, req)
	if err != nil {
		return nil, err
	}

	c.logger.Debug().
		Str("request_id", req.RequestID).
		Str("task_id", taskID).
		Str("model", c.model).
		Msg("swap: task submitted")

	task, err := c.awaitTerminal(ctx, taskID)
	if err != nil {
		return nil, err
	}

	data, format, err := c.download(ctx, task.Task.Output.VideoURL)
	if err != nil {
		return nil, err
	}
	if task.Task.Output.Format != "" {
		format = task.Task.Output.Format
	}
	if format == "" {
		format = "video/mp4"
	}

	c.logger.Debug().
		Str("request_id", req.RequestID).
		Str("task_id", taskID).
		Int("bytes", len(data)).
		Msg("swap: task finished")

	return &Result{Data: data, Format: format, SourceURL: task.Task.Output.VideoURL}, nil
}

func (c *Client) submit(ctx context.Context, req Request) (string, error) {
	payload := submitRequest{
		Model:             c.model,
		VideoURL:          req.VideoURL,
		CharacterImageURL: req.CharacterImageURL,
		RequestID:         req.RequestID,
	}
	var envelope taskEnvelope
	if err := c.invoke(ctx, http.MethodPost, "/motion-swap/tasks", payload, &envelope); err != nil {
		return "", err
	}
	if envelope.Task.ID == "" {
		return "", wrapError(0, "bad_response", "provider returned no task id", "", nil)
	}
	return envelope.Task.ID, nil
}

// awaitTerminal polls the provider on a fixed interval with an absolute
// deadline. A deadline hit is treated as a provider failure, not retried
// transport noise.
func (c *Client) awaitTerminal(ctx context.Context, taskID string) (*taskEnvelope, error) {
	deadline := time.NewTimer(c.pollDeadline)
	defer deadline.Stop()
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	path := "/motion-swap/tasks/" + url.PathEscape(taskID)
	for {
		var envelope taskEnvelope
		if err := c.invoke(ctx, http.MethodGet, path, nil, &envelope); err != nil {
			return nil, err
		}
		if envelope.Task.Status.Terminal() {
			if envelope.Task.Status == TaskFailed {
				details, _ := json.Marshal(envelope.Task)
				return nil, wrapError(0, envelope.Task.Error.Code, firstNonEmpty(envelope.Task.Error.Message, "generation failed"), string(details), nil)
			}
			return &envelope, nil
		}

		select {
		case <-ctx.Done():
			return nil, wrapError(0, "cancelled", "generation abandoned", "", ctx.Err())
		case <-deadline.C:
			return nil, wrapError(0, "poll_deadline_exceeded",
				fmt.Sprintf("task %s not finished after %s", taskID, c.pollDeadline), "", nil)
		case <-ticker.C:
		}
	}
}

func (c *Client) invoke(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("swap: marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("swap: create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return wrapError(0, "transport", "provider call failed", "", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= http.StatusBadRequest {
		message := fmt.Sprintf("provider status %d", resp.StatusCode)
		code := ""
		var apiErr struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error.Message != "" {
			message = apiErr.Error.Message
			code = apiErr.Error.Code
		}
		return wrapError(resp.StatusCode, code, message, string(raw), nil)
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return wrapError(resp.StatusCode, "bad_response", "decode provider response", string(raw), err)
		}
	}
	return nil
}

func (c *Client) download(ctx context.Context, uri string) ([]byte, string, error) {
	if uri == "" {
		return nil, "", wrapError(0, "bad_response", "provider returned no output url", "", nil)
	}
	target := uri
	if !strings.HasPrefix(uri, "http://") && !strings.HasPrefix(uri, "https://") {
		target = c.baseURL + "/" + strings.TrimLeft(uri, "/")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, "", fmt.Errorf("swap: create download request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", wrapError(0, "transport", "artifact download failed", "", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		raw, _ := io.ReadAll(resp.Body)
		return nil, "", wrapError(resp.StatusCode, "", fmt.Sprintf("artifact download status %d", resp.StatusCode), string(raw), nil)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", wrapError(0, "transport", "read artifact body", "", err)
	}
	return data, resp.Header.Get("Content-Type"), nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

var _ Generator = (*Client)(nil)
