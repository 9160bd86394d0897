// Package mockassistant serves canned answers with the same wire protocol as the real assistant endpoint. It
// backs the tests of the client packages and can be started with cmd/mockassistant for local runs of the UI.
package mockassistant

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/MegaGrindStone/assistant-web-ui/internal/models"
	"github.com/tmaxmax/go-sse"
)

// Assistant answers chat requests by cycling through Responses. Streamed answers are sent word by word.
type Assistant struct {
	responses []string
	opts      Options

	mu   sync.Mutex
	next int

	logger *slog.Logger
}

// Options tunes the behavior of the mock.
type Options struct {
	// Unavailable makes the health endpoint report a degraded assistant and every chat endpoint answer 503.
	Unavailable bool
	// FailWith makes single-shot requests answer success=false with this error text.
	FailWith string
	// ChunkDelay is slept between two streamed chunks.
	ChunkDelay time.Duration
}

type chatMessage struct {
	Message string `json:"message"`
	Stream  bool   `json:"stream"`
}

type chatHistory struct {
	Messages []string `json:"messages"`
	Stream   bool     `json:"stream"`
}

type chatResponse struct {
	Response string `json:"response"`
	Success  bool   `json:"success"`
	Error    string `json:"error,omitempty"`
}

// DefaultResponses are used when New is given no responses.
var DefaultResponses = []string{
	"Hello! I'm your **manual assistant**. Ask me anything about your vehicle.",
	"The recommended service interval is every *10,000 km* or 12 months.\nCheck `engine oil` and filters at each visit.",
}

// New creates a mock Assistant.
func New(responses []string, opts Options, logger *slog.Logger) *Assistant {
	if len(responses) == 0 {
		responses = DefaultResponses
	}
	return &Assistant{
		responses: responses,
		opts:      opts,
		logger:    logger.With(slog.String("module", "mockassistant")),
	}
}

// Handler returns the HTTP handler exposing /health, /chat, /chat/stream and /chat/history.
func (a *Assistant) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", a.handleHealth)
	mux.HandleFunc("POST /chat", a.handleChat)
	mux.HandleFunc("POST /chat/stream", a.handleStream)
	mux.HandleFunc("POST /chat/history", a.handleHistory)
	return mux
}

func (a *Assistant) handleHealth(w http.ResponseWriter, _ *http.Request) {
	health := models.Health{
		Status:             "healthy",
		AssistantAvailable: true,
		Message:            "Assistant ready",
	}
	if a.opts.Unavailable {
		health = models.Health{
			Status:  "degraded",
			Message: "Assistant initialization failed",
		}
	}
	writeJSON(w, http.StatusOK, health)
}

func (a *Assistant) handleChat(w http.ResponseWriter, r *http.Request) {
	if a.unavailable(w) {
		return
	}
	var req chatMessage
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Message == "" {
		http.Error(w, "message is required", http.StatusUnprocessableEntity)
		return
	}
	a.reply(w, req.Message)
}

func (a *Assistant) handleHistory(w http.ResponseWriter, r *http.Request) {
	if a.unavailable(w) {
		return
	}
	var req chatHistory
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Messages) == 0 {
		http.Error(w, "messages are required", http.StatusUnprocessableEntity)
		return
	}
	a.reply(w, req.Messages[len(req.Messages)-1])
}

func (a *Assistant) reply(w http.ResponseWriter, message string) {
	a.logger.Info("Chat request", slog.String("message", message))

	if a.opts.FailWith != "" {
		writeJSON(w, http.StatusOK, chatResponse{Success: false, Error: a.opts.FailWith})
		return
	}
	writeJSON(w, http.StatusOK, chatResponse{Success: true, Response: a.nextResponse()})
}

func (a *Assistant) handleStream(w http.ResponseWriter, r *http.Request) {
	if a.unavailable(w) {
		return
	}
	var req chatMessage
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Message == "" {
		http.Error(w, "message is required", http.StatusUnprocessableEntity)
		return
	}
	a.logger.Info("Streaming chat request", slog.String("message", req.Message))

	w.Header().Set("Content-Type", "text/plain")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	for _, chunk := range Chunks(a.nextResponse()) {
		if err := WriteFrame(w, chunk); err != nil {
			a.logger.Warn("Failed to write stream frame", slog.String("err", err.Error()))
			return
		}
		if a.opts.ChunkDelay > 0 {
			select {
			case <-r.Context().Done():
				return
			case <-time.After(a.opts.ChunkDelay):
			}
		}
	}
	if err := WriteFrame(w, models.SentinelContent); err != nil {
		a.logger.Warn("Failed to write stream sentinel", slog.String("err", err.Error()))
	}
}

func (a *Assistant) unavailable(w http.ResponseWriter) bool {
	if !a.opts.Unavailable {
		return false
	}
	writeJSON(w, http.StatusServiceUnavailable, map[string]string{"detail": "Assistant not available"})
	return true
}

func (a *Assistant) nextResponse() string {
	a.mu.Lock()
	defer a.mu.Unlock()

	res := a.responses[a.next%len(a.responses)]
	a.next++
	return res
}

// Chunks splits text the way the streaming endpoint does: the first word alone, then every following word
// prefixed by a single space.
func Chunks(text string) []string {
	words := strings.Fields(text)
	chunks := make([]string, len(words))
	for i, w := range words {
		if i == 0 {
			chunks[i] = w
			continue
		}
		chunks[i] = " " + w
	}
	return chunks
}

// WriteFrame writes one "data: {...}" frame carrying content and flushes it when w supports flushing.
func WriteFrame(w http.ResponseWriter, content string) error {
	payload, err := json.Marshal(map[string]string{"content": content})
	if err != nil {
		return err
	}

	msg := &sse.Message{}
	msg.AppendData(string(payload))
	if _, err := msg.WriteTo(w); err != nil {
		return err
	}

	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
