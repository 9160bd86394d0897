package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/MegaGrindStone/assistant-web-ui/internal/chat"
)

type healthResponse struct {
	Status string `json:"status"`
	Level  string `json:"level"`
}

// HandleChats accepts a user message through HTTP POST form data and starts sending it to the assistant. The
// reply is not part of the response: the user message, the typing indicator and the assistant reply are all
// pushed to the page through server-sent events.
//
// The handler expects a "message" form field. The optional "mode" field selects "single", "stream" or
// "history"; the "stream" checkbox field is honored too when "mode" is absent. It answers 202 once the request
// has been started, 400 for an empty message or unknown mode, and 409 while a previous request is in flight.
func (m Main) HandleChats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		m.logger.Error("Method not allowed", slog.String("method", r.Method))
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	mode, err := m.requestMode(r)
	if err != nil {
		m.logger.Error("Invalid mode", slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	// The request outlives this handler, so it must not be bound to the request context.
	err = m.session.SendAsync(context.Background(), r.FormValue("message"), mode)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusAccepted)
	case errors.Is(err, chat.ErrEmptyMessage):
		m.logger.Error("Message is required")
		http.Error(w, "Message is required", http.StatusBadRequest)
	case errors.Is(err, chat.ErrBusy):
		m.logger.Warn("Rejected message while a request is in flight")
		http.Error(w, "A reply is still being received", http.StatusConflict)
	default:
		m.logger.Error("Failed to send message", slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	}
}

// HandleClear aborts the request in flight and empties the conversation.
func (m Main) HandleClear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	m.session.Clear()
	w.WriteHeader(http.StatusNoContent)
}

// HandleHealth checks the assistant and answers with the resulting status. The status is also pushed to every
// connected page.
func (m Main) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	status := m.session.Health(r.Context())

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(healthResponse{
		Status: status.Text,
		Level:  string(status.Level),
	}); err != nil {
		m.logger.Error("Failed to encode health response", slog.String(errLoggerKey, err.Error()))
	}
}

// HandleSSE streams conversation events to a page.
func (m Main) HandleSSE(w http.ResponseWriter, r *http.Request) {
	m.sseSrv.ServeHTTP(w, r)
}

func (m Main) requestMode(r *http.Request) (chat.Mode, error) {
	if v := r.FormValue("mode"); v != "" {
		return chat.ParseMode(v)
	}
	switch r.FormValue("stream") {
	case "on", "true", "1":
		return chat.ModeStream, nil
	case "off", "false", "0":
		return chat.ModeSingleShot, nil
	}
	return m.defaultMode, nil
}
