package modelclient

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"vagus/internal/logging"
)

// HTTPClient talks to OpenAI-compatible chat completion endpoints. Each role
// may point at a different base URL and model; resilience state (breakers)
// is tracked per role.
type HTTPClient struct {
	registry *Registry
	http     *http.Client
	breakers map[Role]*breaker
	log      *zap.Logger

	maxRetries  int
	backoffBase time.Duration
}

// HTTPClientOption customizes an HTTPClient.
type HTTPClientOption func(*HTTPClient)

// WithMaxRetries bounds retry attempts for transport failures.
func WithMaxRetries(n int) HTTPClientOption {
	return func(c *HTTPClient) { c.maxRetries = n }
}

// WithBackoffBase sets the first retry delay; later delays double it.
func WithBackoffBase(d time.Duration) HTTPClientOption {
	return func(c *HTTPClient) { c.backoffBase = d }
}

// WithBreaker configures circuit breaker thresholds for all roles.
func WithBreaker(threshold int, cooldown time.Duration) HTTPClientOption {
	return func(c *HTTPClient) {
		for _, r := range Roles {
			c.breakers[r] = newBreaker(threshold, cooldown)
		}
	}
}

// NewHTTPClient creates a client over the given role registry.
func NewHTTPClient(registry *Registry, opts ...HTTPClientOption) *HTTPClient {
	c := &HTTPClient{
		registry:    registry,
		http:        &http.Client{},
		breakers:    make(map[Role]*breaker),
		log:         logging.For("modelclient"),
		maxRetries:  3,
		backoffBase: time.Second,
	}
	for _, r := range Roles {
		c.breakers[r] = newBreaker(5, 30*time.Second)
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// wire format for OpenAI-compatible chat completions

type wireRequest struct {
	Model       string        `json:"model"`
	Messages    []Message     `json:"messages"`
	Tools       []wireTool    `json:"tools,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
	Stream      bool          `json:"stream,omitempty"`
}

type wireTool struct {
	Type     string       `json:"type"`
	Function wireFunction `json:"function"`
}

type wireFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type wireToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type wireResponse struct {
	Choices []struct {
		Message struct {
			Role      string         `json:"role"`
			Content   string         `json:"content"`
			Reasoning string         `json:"reasoning,omitempty"`
			ToolCalls []wireToolCall `json:"tool_calls,omitempty"`
		} `json:"message"`
		Delta *struct {
			Content string `json:"content,omitempty"`
		} `json:"delta,omitempty"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage Usage `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// Respond issues one model call with bounded retries for transport failures.
func (c *HTTPClient) Respond(ctx context.Context, role Role, history []Message, opts Options) (*Response, error) {
	cfg, ok := c.registry.Config(role)
	if !ok {
		return nil, &Error{Kind: KindInvalidResponse, Role: role, Err: fmt.Errorf("role not configured: %s", role)}
	}

	br := c.breakers[role]
	if br != nil && !br.allow() {
		return nil, &Error{Kind: KindConnection, Role: role, Err: errors.New("circuit breaker open")}
	}

	timeout := cfg.Timeout
	if opts.Timeout > 0 {
		timeout = opts.Timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	body := c.buildRequest(cfg, history, opts, false)

	start := time.Now()
	var lastErr *Error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			delay := c.backoffBase << uint(attempt-1)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				if ctxErr := c.classifyCtx(ctx, role); ctxErr != nil {
					return nil, ctxErr
				}
			}
		}

		resp, err := c.doOnce(ctx, cfg, role, body)
		if err == nil {
			if br != nil {
				br.record(false)
			}
			resp.Role = role
			resp.Latency = time.Since(start)
			c.log.Debug("model call completed",
				zap.String("role", string(role)),
				zap.Duration("latency", resp.Latency),
				zap.Int("tool_calls", len(resp.ToolCalls)),
				zap.Int("total_tokens", resp.Usage.TotalTokens),
			)
			return resp, nil
		}

		var me *Error
		if !errors.As(err, &me) {
			me = &Error{Kind: KindConnection, Role: role, Err: err}
		}
		lastErr = me
		if !me.Kind.retryable() {
			break
		}
		if br != nil {
			br.record(me.Kind != KindInvalidResponse)
		}
		c.log.Warn("model call attempt failed",
			zap.String("role", string(role)),
			zap.Int("attempt", attempt),
			zap.String("kind", string(me.Kind)),
			zap.Error(me.Err),
		)
	}

	return nil, lastErr
}

func (c *HTTPClient) buildRequest(cfg RoleConfig, history []Message, opts Options, stream bool) wireRequest {
	req := wireRequest{
		Model:       cfg.Model,
		Messages:    history,
		MaxTokens:   cfg.MaxTokens,
		Temperature: cfg.Temperature,
		Stream:      stream,
	}
	if opts.MaxTokens > 0 {
		req.MaxTokens = opts.MaxTokens
	}
	if opts.Temperature > 0 {
		req.Temperature = opts.Temperature
	}
	for _, t := range opts.Tools {
		req.Tools = append(req.Tools, wireTool{
			Type: "function",
			Function: wireFunction{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}
	return req
}

func (c *HTTPClient) doOnce(ctx context.Context, cfg RoleConfig, role Role, body wireRequest) (*Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, &Error{Kind: KindInvalidResponse, Role: role, Err: fmt.Errorf("marshal request: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(cfg.BaseURL, "/")+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, &Error{Kind: KindConnection, Role: role, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+cfg.APIKey)
	}

	httpResp, err := c.http.Do(req)
	if err != nil {
		return nil, c.classifyTransport(ctx, role, err)
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, c.classifyTransport(ctx, role, err)
	}

	switch {
	case httpResp.StatusCode == http.StatusTooManyRequests:
		return nil, &Error{Kind: KindRateLimit, Role: role, Err: fmt.Errorf("backend returned 429: %s", truncate(raw, 200))}
	case httpResp.StatusCode >= 500:
		return nil, &Error{Kind: KindServer, Role: role, Err: fmt.Errorf("backend returned %d: %s", httpResp.StatusCode, truncate(raw, 200))}
	case httpResp.StatusCode != http.StatusOK:
		return nil, &Error{Kind: KindInvalidResponse, Role: role, Err: fmt.Errorf("backend returned %d: %s", httpResp.StatusCode, truncate(raw, 200))}
	}

	var wr wireResponse
	if err := json.Unmarshal(raw, &wr); err != nil {
		return nil, &Error{Kind: KindInvalidResponse, Role: role, Err: fmt.Errorf("parse response: %w", err)}
	}
	if wr.Error != nil {
		return nil, &Error{Kind: KindServer, Role: role, Err: fmt.Errorf("backend error: %s", wr.Error.Message)}
	}
	if len(wr.Choices) == 0 {
		return nil, &Error{Kind: KindInvalidResponse, Role: role, Err: errors.New("no completion returned")}
	}

	msg := wr.Choices[0].Message
	resp := &Response{
		Text:      strings.TrimSpace(msg.Content),
		Reasoning: msg.Reasoning,
		Usage:     wr.Usage,
	}
	for _, tc := range msg.ToolCalls {
		resp.ToolCalls = append(resp.ToolCalls, ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: json.RawMessage(tc.Function.Arguments),
		})
	}
	return resp, nil
}

// classifyTransport converts a low-level transport error into a typed kind.
func (c *HTTPClient) classifyTransport(ctx context.Context, role Role, err error) *Error {
	if ctxErr := c.classifyCtx(ctx, role); ctxErr != nil {
		return ctxErr
	}
	return &Error{Kind: KindConnection, Role: role, Err: err}
}

func (c *HTTPClient) classifyCtx(ctx context.Context, role Role) *Error {
	switch ctx.Err() {
	case context.DeadlineExceeded:
		return &Error{Kind: KindTimeout, Role: role, Err: context.DeadlineExceeded}
	case context.Canceled:
		return &Error{Kind: KindConnection, Role: role, Err: context.Canceled}
	default:
		return nil
	}
}

// Stream issues a streaming call and returns incremental text deltas.
// Display-only: the stream carries no tool calls and is never parsed.
func (c *HTTPClient) Stream(ctx context.Context, role Role, history []Message, opts Options) (<-chan string, <-chan error) {
	contentCh := make(chan string, 100)
	errCh := make(chan error, 1)

	go func() {
		defer close(contentCh)
		defer close(errCh)

		cfg, ok := c.registry.Config(role)
		if !ok {
			errCh <- &Error{Kind: KindInvalidResponse, Role: role, Err: fmt.Errorf("role not configured: %s", role)}
			return
		}

		br := c.breakers[role]
		if br != nil && !br.allow() {
			errCh <- &Error{Kind: KindConnection, Role: role, Err: errors.New("circuit breaker open")}
			return
		}

		timeout := cfg.Timeout
		if opts.Timeout > 0 {
			timeout = opts.Timeout
		}
		streamCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		// Streaming requests never carry tool schemas.
		streamOpts := opts
		streamOpts.Tools = nil
		body := c.buildRequest(cfg, history, streamOpts, true)

		payload, err := json.Marshal(body)
		if err != nil {
			errCh <- &Error{Kind: KindInvalidResponse, Role: role, Err: err}
			return
		}

		req, err := http.NewRequestWithContext(streamCtx, http.MethodPost, strings.TrimRight(cfg.BaseURL, "/")+"/chat/completions", bytes.NewReader(payload))
		if err != nil {
			errCh <- &Error{Kind: KindConnection, Role: role, Err: err}
			return
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "text/event-stream")
		if cfg.APIKey != "" {
			req.Header.Set("Authorization", "Bearer "+cfg.APIKey)
		}

		httpResp, err := c.http.Do(req)
		if err != nil {
			if br != nil {
				br.record(true)
			}
			errCh <- c.classifyTransport(streamCtx, role, err)
			return
		}
		defer httpResp.Body.Close()

		if httpResp.StatusCode != http.StatusOK {
			raw, _ := io.ReadAll(httpResp.Body)
			if br != nil {
				br.record(httpResp.StatusCode >= 500)
			}
			errCh <- &Error{Kind: KindServer, Role: role, Err: fmt.Errorf("backend returned %d: %s", httpResp.StatusCode, truncate(raw, 200))}
			return
		}
		if br != nil {
			br.record(false)
		}

		scanner := bufio.NewScanner(httpResp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if data == "" || data == "[DONE]" {
				if data == "[DONE]" {
					return
				}
				continue
			}
			var chunk wireResponse
			if err := json.Unmarshal([]byte(data), &chunk); err != nil {
				continue
			}
			if len(chunk.Choices) > 0 && chunk.Choices[0].Delta != nil {
				if delta := chunk.Choices[0].Delta.Content; delta != "" {
					select {
					case contentCh <- delta:
					case <-streamCtx.Done():
						errCh <- c.classifyCtx(streamCtx, role)
						return
					}
				}
			}
		}
		if err := scanner.Err(); err != nil {
			errCh <- c.classifyTransport(streamCtx, role, err)
		}
	}()

	return contentCh, errCh
}

func truncate(b []byte, n int) string {
	s := strings.TrimSpace(string(b))
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}
