package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/MegaGrindStone/assistant-web-ui/internal/models"
)

// Assistant is the transport client of the remote assistant endpoint. It supports the health check, single-shot
// chat, chat with history and streamed chat requests.
type Assistant struct {
	baseURL string
	timeout time.Duration

	client  *http.Client
	decoder StreamDecoder
	metrics *Metrics

	logger *slog.Logger
}

// ApplicationError is returned when the assistant answered but reported a failure, either with success=false or
// with an error status carrying a detail message.
type ApplicationError struct {
	Message string
}

// StatusError is returned when the streaming endpoint answers with a non-2xx status.
type StatusError struct {
	StatusCode int
	Body       string
}

type chatRequest struct {
	Message string `json:"message"`
	Stream  bool   `json:"stream"`
}

type chatHistoryRequest struct {
	Messages []string `json:"messages"`
	Stream   bool     `json:"stream"`
}

type chatResponse struct {
	Success  bool   `json:"success"`
	Response string `json:"response"`
	Error    string `json:"error"`

	// Detail is filled by the endpoint when it rejects the request before running the assistant.
	Detail string `json:"detail"`
}

const (
	// DefaultErrorMessage is surfaced when the assistant reports a failure without explaining it.
	DefaultErrorMessage = "Unknown error occurred"

	// DefaultTimeout bounds single-shot requests and the wait for streaming response headers.
	DefaultTimeout = 60 * time.Second
)

// NewAssistant creates an Assistant for the endpoint at baseURL. A zero timeout selects DefaultTimeout. The
// timeout bounds the whole exchange of single-shot requests, but only the response headers of streamed requests,
// since a stream may legitimately stay open for a long time.
func NewAssistant(baseURL string, timeout time.Duration, logger *slog.Logger, metrics *Metrics) Assistant {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = timeout

	return Assistant{
		baseURL: strings.TrimRight(baseURL, "/"),
		timeout: timeout,
		client:  &http.Client{Transport: transport},
		decoder: NewStreamDecoder(logger, metrics),
		metrics: metrics,
		logger:  logger.With(slog.String("module", "assistant")),
	}
}

// Health queries the health endpoint of the assistant.
func (a Assistant) Health(ctx context.Context) (health models.Health, err error) {
	start := time.Now()
	defer func() { a.metrics.recordRequest(ctx, modeHealth, start, err) }()

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/health", nil)
	if err != nil {
		return models.Health{}, fmt.Errorf("error creating request: %w", err)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return models.Health{}, fmt.Errorf("error sending request: %w", err)
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return models.Health{}, fmt.Errorf("error decoding response: %w", err)
	}
	return health, nil
}

// Chat sends message in single-shot mode and returns the whole response text. A failure reported by the
// assistant is returned as *ApplicationError; everything else is a transport error.
func (a Assistant) Chat(ctx context.Context, message string) (response string, err error) {
	start := time.Now()
	defer func() { a.metrics.recordRequest(ctx, modeSingleShot, start, err) }()

	return a.postJSON(ctx, "/chat", chatRequest{Message: message})
}

// ChatHistory sends a list of previous user messages, oldest first, in single-shot mode and returns the
// response text. Errors are reported like Chat does.
func (a Assistant) ChatHistory(ctx context.Context, messages []string) (response string, err error) {
	start := time.Now()
	defer func() { a.metrics.recordRequest(ctx, modeHistory, start, err) }()

	if messages == nil {
		messages = []string{}
	}
	return a.postJSON(ctx, "/chat/history", chatHistoryRequest{Messages: messages})
}

// ChatStream sends message in streaming mode. It returns as soon as the response headers are available; the
// body is consumed through the returned Stream, which the caller must close.
func (a Assistant) ChatStream(ctx context.Context, message string) (stream Stream, err error) {
	start := time.Now()
	defer func() { a.metrics.recordRequest(ctx, modeStream, start, err) }()

	resp, err := a.doRequest(ctx, "/chat/stream", chatRequest{Message: message, Stream: true})
	if err != nil {
		return Stream{}, err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return Stream{}, &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	return Stream{body: resp.Body, decoder: a.decoder}, nil
}

func (a Assistant) postJSON(ctx context.Context, path string, body any) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	resp, err := a.doRequest(ctx, path, body)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var res chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return "", &StatusError{StatusCode: resp.StatusCode}
		}
		return "", fmt.Errorf("error decoding response: %w", err)
	}

	if !res.Success {
		msg := res.Error
		if msg == "" {
			msg = res.Detail
		}
		if msg == "" {
			msg = DefaultErrorMessage
		}
		a.logger.Warn("Assistant reported a failure",
			slog.String("path", path),
			slog.Int("status", resp.StatusCode),
			slog.String(errLoggerKey, msg))
		return "", &ApplicationError{Message: msg}
	}

	return res.Response, nil
}

func (a Assistant) doRequest(ctx context.Context, path string, body any) (*http.Response, error) {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("error marshaling request: %w", err)
	}

	a.logger.Debug("Request Body", slog.String("path", path), slog.String("body", string(jsonBody)))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+path, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error sending request: %w", err)
	}
	return resp, nil
}

func (e *ApplicationError) Error() string {
	return e.Message
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("unexpected status code: %d", e.StatusCode)
	}
	return fmt.Sprintf("unexpected status code: %d, body: %s", e.StatusCode, e.Body)
}

// IsApplicationError reports whether err is, or wraps, an *ApplicationError.
func IsApplicationError(err error) bool {
	var appErr *ApplicationError
	return errors.As(err, &appErr)
}
