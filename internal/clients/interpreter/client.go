package interpreter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/yungbote/famlink-backend/internal/domain/aggregates"
	"github.com/yungbote/famlink-backend/internal/domain/emotions"
	"github.com/yungbote/famlink-backend/internal/domain/reports"
	"github.com/yungbote/famlink-backend/internal/observability"
	"github.com/yungbote/famlink-backend/internal/platform/httpx"
	"github.com/yungbote/famlink-backend/internal/platform/logger"
	"github.com/yungbote/famlink-backend/internal/platform/promptstyle"
)

// InterpretRequest carries one child utterance plus whatever profile data the
// caller has. Everything except Text is optional.
type InterpretRequest struct {
	Text      string
	ChildAge  int
	ChildName string
	Context   map[string]string
	Language  string
	Traits    []string
}

// RecommendRequest summarizes one family week for the advice call behind
// weekly reports.
type RecommendRequest struct {
	WeekStart         string
	WeekEnd           string
	MeanMood          *float64
	CheckInsCompleted int
	Trend             string
	Children          []ChildSummary
	Language          string
}

// ChildSummary is the per-child slice of a RecommendRequest.
type ChildSummary struct {
	Name          string
	Age           int
	Translations  int
	EmotionCounts map[string]int
}

// ReportAdvice is the AI-authored part of a weekly report.
type ReportAdvice struct {
	Summary         string
	Highlights      []string
	Recommendations []reports.Recommendation
}

// Client is the structured-output interpreter behind emotion translation and
// weekly report advice.
type Client interface {
	Interpret(ctx context.Context, req InterpretRequest) (*emotions.Interpretation, error)
	Recommend(ctx context.Context, req RecommendRequest) (*ReportAdvice, error)
}

type client struct {
	log        *logger.Logger
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
	maxRetries int

	temperature *float64
	// Set once the backend rejects the temperature parameter; omitted after.
	noTemp atomic.Bool
}

func NewClient(log *logger.Logger) (Client, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}

	apiKey := strings.TrimSpace(os.Getenv("INTERPRETER_API_KEY"))
	if apiKey == "" {
		return nil, fmt.Errorf("missing INTERPRETER_API_KEY")
	}

	baseURL := strings.TrimSpace(os.Getenv("INTERPRETER_BASE_URL"))
	if baseURL == "" {
		baseURL = "https://api.openai.com"
	}
	baseURL = strings.TrimRight(baseURL, "/")

	model := strings.TrimSpace(os.Getenv("INTERPRETER_MODEL"))
	if model == "" {
		model = "gpt-5.2"
	}

	timeoutSec := 30
	if v := strings.TrimSpace(os.Getenv("INTERPRETER_TIMEOUT_SECONDS")); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			timeoutSec = parsed
		}
	}

	maxRetries := 3
	if v := strings.TrimSpace(os.Getenv("INTERPRETER_MAX_RETRIES")); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed >= 0 {
			maxRetries = parsed
		}
	}

	tempPtr := (*float64)(nil)
	if v := strings.ToLower(strings.TrimSpace(os.Getenv("INTERPRETER_TEMPERATURE"))); v != "off" && v != "none" && v != "false" {
		temp := 0.2
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			temp = f
		}
		tempPtr = &temp
	}

	return &client{
		log:         log.With("service", "InterpreterClient"),
		baseURL:     baseURL,
		apiKey:      apiKey,
		model:       model,
		httpClient:  &http.Client{Timeout: time.Duration(timeoutSec) * time.Second},
		maxRetries:  maxRetries,
		temperature: tempPtr,
	}, nil
}

// NewClientWithHTTP builds a client against an explicit base URL and http
// client. Tests use it to point at a stub server.
func NewClientWithHTTP(log *logger.Logger, baseURL, apiKey, model string, httpClient *http.Client, maxRetries int) Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &client{
		log:        log.With("service", "InterpreterClient"),
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiKey:     apiKey,
		model:      model,
		httpClient: httpClient,
		maxRetries: maxRetries,
	}
}

func (c *client) Interpret(ctx context.Context, req InterpretRequest) (*emotions.Interpretation, error) {
	const op = "interpreter.Interpret"
	if strings.TrimSpace(req.Text) == "" {
		return nil, aggregates.Errorf(aggregates.CodeValidation, op, "text required")
	}

	out, err := c.generateJSON(ctx, interpretSystemPrompt, buildInterpretPrompt(req), "emotion_interpretation", interpretationSchema())
	if err != nil {
		return nil, classify(op, err)
	}

	interp, err := decodeInterpretation(out)
	if err != nil {
		observability.ReportDataQualityErrors(ctx, c.log, "interpret", []string{err.Error()}, map[string]any{"model": c.model})
		return nil, aggregates.Wrap(aggregates.CodeInternal, op, err)
	}
	return interp, nil
}

func (c *client) Recommend(ctx context.Context, req RecommendRequest) (*ReportAdvice, error) {
	const op = "interpreter.Recommend"

	out, err := c.generateJSON(ctx, recommendSystemPrompt, buildRecommendPrompt(req), "weekly_report_advice", adviceSchema())
	if err != nil {
		return nil, classify(op, err)
	}

	advice, err := decodeAdvice(out)
	if err != nil {
		observability.ReportDataQualityErrors(ctx, c.log, "recommend", []string{err.Error()}, map[string]any{"model": c.model})
		return nil, aggregates.Wrap(aggregates.CodeInternal, op, err)
	}
	return advice, nil
}

// classify folds transport failures into the service error taxonomy. Bounded
// waits that ran out become timeouts; everything else is the upstream being
// unavailable.
func classify(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return aggregates.Wrap(aggregates.CodeTimeout, op, err)
	}
	return aggregates.Wrap(aggregates.CodeUnavailable, op, err)
}

// -------------------- Responses API --------------------

type responsesInput struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responsesText struct {
	Format map[string]any `json:"format,omitempty"`
}

type responsesRequest struct {
	Model       string           `json:"model"`
	Input       []responsesInput `json:"input"`
	Text        responsesText    `json:"text,omitempty"`
	Temperature *float64         `json:"temperature,omitempty"`
}

type responsesResponse struct {
	Output []struct {
		Type    string `json:"type"`
		Role    string `json:"role,omitempty"`
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text,omitempty"`
		} `json:"content,omitempty"`
	} `json:"output"`
	Refusal string `json:"refusal,omitempty"`
}

func extractOutputText(resp responsesResponse) string {
	var out strings.Builder
	for _, item := range resp.Output {
		if item.Type == "message" && item.Role == "assistant" {
			for _, c := range item.Content {
				if c.Type == "output_text" && c.Text != "" {
					out.WriteString(c.Text)
				}
			}
		}
	}
	return out.String()
}

func (c *client) generateJSON(ctx context.Context, system, user, schemaName string, schema map[string]any) (string, error) {
	system = promptstyle.ApplySystem(system, "json")

	req := &responsesRequest{
		Model: c.model,
		Input: []responsesInput{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
	}
	req.Text.Format = map[string]any{
		"type":   "json_schema",
		"name":   schemaName,
		"schema": schema,
		"strict": true,
	}
	if c.temperature != nil && !c.noTemp.Load() {
		req.Temperature = c.temperature
	}

	var resp responsesResponse
	err := c.do(ctx, "/v1/responses", req, &resp)
	if err != nil && req.Temperature != nil && isUnsupportedTemperature(err) {
		c.noTemp.Store(true)
		req.Temperature = nil
		err = c.do(ctx, "/v1/responses", req, &resp)
	}
	if err != nil {
		return "", err
	}
	if resp.Refusal != "" {
		return "", fmt.Errorf("model refused: %s", resp.Refusal)
	}

	text := extractOutputText(resp)
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("no output_text found in response")
	}
	return text, nil
}

type interpreterHTTPError struct {
	StatusCode int
	Body       string
}

func (e *interpreterHTTPError) Error() string {
	return fmt.Sprintf("interpreter http %d: %s", e.StatusCode, e.Body)
}

func (e *interpreterHTTPError) HTTPStatusCode() int {
	if e == nil {
		return 0
	}
	return e.StatusCode
}

func isUnsupportedTemperature(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	if !strings.Contains(msg, "temperature") {
		return false
	}
	return strings.Contains(msg, "unsupported parameter") ||
		strings.Contains(msg, "unknown parameter") ||
		strings.Contains(msg, "does not support") ||
		strings.Contains(msg, "unsupported_value")
}

func (c *client) doOnce(ctx context.Context, path string, body any) (*http.Response, []byte, error) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return nil, nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, &buf)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, err
	}

	raw, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return resp, nil, readErr
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp, raw, &interpreterHTTPError{StatusCode: resp.StatusCode, Body: string(raw)}
	}
	return resp, raw, nil
}

func (c *client) do(ctx context.Context, path string, body *responsesRequest, out any) error {
	backoff := 1 * time.Second
	start := time.Now()

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		resp, raw, err := c.doOnce(ctx, path, body)
		if err == nil {
			if metrics := observability.Current(); metrics != nil {
				inTokens, outTokens := extractUsage(raw)
				metrics.ObserveLLMRequest(body.Model, path, statusFromResp(resp), time.Since(start), inTokens, outTokens)
			}
			if out == nil {
				return nil
			}
			if uErr := json.Unmarshal(raw, out); uErr != nil {
				return fmt.Errorf("interpreter decode error: %w", uErr)
			}
			return nil
		}

		if !httpx.IsRetryableError(err) || attempt == c.maxRetries {
			if metrics := observability.Current(); metrics != nil {
				metrics.ObserveLLMRequest(body.Model, path, statusFromRespErr(resp, err), time.Since(start), 0, 0)
			}
			return err
		}

		sleepFor := httpx.JitterSleep(httpx.RetryAfterDuration(resp, backoff, 10*time.Second))

		c.log.Warn("Interpreter request retrying",
			"path", path,
			"attempt", attempt+1,
			"max_retries", c.maxRetries,
			"sleep", sleepFor.String(),
			"error", err.Error(),
		)

		time.Sleep(sleepFor)
		backoff *= 2
	}

	return fmt.Errorf("unreachable retry loop")
}

func extractUsage(raw []byte) (int, int) {
	var payload struct {
		Usage struct {
			InputTokens      int `json:"input_tokens"`
			OutputTokens     int `json:"output_tokens"`
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
		} `json:"usage"`
	}
	if len(raw) == 0 || json.Unmarshal(raw, &payload) != nil {
		return 0, 0
	}
	in, out := payload.Usage.InputTokens, payload.Usage.OutputTokens
	if in == 0 && out == 0 {
		in, out = payload.Usage.PromptTokens, payload.Usage.CompletionTokens
	}
	return in, out
}

func statusFromResp(resp *http.Response) string {
	if resp == nil {
		return "unknown"
	}
	return strconv.Itoa(resp.StatusCode)
}

func statusFromRespErr(resp *http.Response, err error) string {
	if resp != nil {
		return strconv.Itoa(resp.StatusCode)
	}
	var httpErr *interpreterHTTPError
	if err != nil && errors.As(err, &httpErr) {
		return strconv.Itoa(httpErr.StatusCode)
	}
	if errors.Is(err, context.Canceled) {
		return "canceled"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	return "error"
}
