package handlers

import (
	"encoding/json"
	"html/template"
	"log/slog"
	"strings"
	"time"

	"github.com/MegaGrindStone/assistant-web-ui/internal/chat"
	"github.com/MegaGrindStone/assistant-web-ui/internal/models"
	"github.com/tmaxmax/go-sse"
)

// sseView publishes conversation changes and session notifications to every connected page.
type sseView struct {
	srv       *sse.Server
	templates *template.Template

	logger *slog.Logger
}

type message struct {
	ID string
	// Content is the formatted markup. It is trusted, the formatter output is not escaped again.
	Content   template.HTML
	Role      string
	Timestamp time.Time

	StreamingState string
}

type messageEvent struct {
	ID   string `json:"id"`
	HTML string `json:"html"`
}

// SSE event types for real-time updates.
const (
	messageSSEType = "message"
	updateSSEType  = "update"
	clearSSEType   = "clear"
	scrollSSEType  = "scroll"
	typingSSEType  = "typing"
	errorSSEType   = "toast"
	statusSSEType  = "status"
)

func newMessage(msg models.Message, markup string) message {
	return message{
		ID:             msg.ID,
		Content:        template.HTML(markup), //nolint:gosec // assistant output is trusted
		Role:           string(msg.Role),
		Timestamp:      msg.Timestamp,
		StreamingState: string(msg.StreamingState),
	}
}

func (v *sseView) MessageAppended(msg models.Message, markup string) {
	v.publishMessage(messageSSEType, msg, markup)
}

func (v *sseView) MessageUpdated(msg models.Message, markup string) {
	v.publishMessage(updateSSEType, msg, markup)
}

func (v *sseView) Cleared() {
	v.publish(clearSSEType, "clear")
}

func (v *sseView) ScrollToLatest() {
	v.publish(scrollSSEType, "latest")
}

func (v *sseView) ShowTyping() {
	v.publish(typingSSEType, "show")
}

func (v *sseView) HideTyping() {
	v.publish(typingSSEType, "hide")
}

func (v *sseView) ShowError(text string) {
	v.publishPartial(errorSSEType, "error_toast", text)
}

func (v *sseView) ShowStatus(status chat.Status) {
	v.publishPartial(statusSSEType, "status", status)
}

func (v *sseView) publishMessage(typ string, msg models.Message, markup string) {
	var sb strings.Builder
	if err := v.templates.ExecuteTemplate(&sb, "message", newMessage(msg, markup)); err != nil {
		v.logger.Error("Failed to render message",
			slog.String("id", msg.ID),
			slog.String(errLoggerKey, err.Error()))
		return
	}

	data, err := json.Marshal(messageEvent{ID: msg.ID, HTML: sb.String()})
	if err != nil {
		v.logger.Error("Failed to marshal message event",
			slog.String("id", msg.ID),
			slog.String(errLoggerKey, err.Error()))
		return
	}
	v.publish(typ, string(data))
}

func (v *sseView) publishPartial(typ string, name string, data any) {
	var sb strings.Builder
	if err := v.templates.ExecuteTemplate(&sb, name, data); err != nil {
		v.logger.Error("Failed to render partial",
			slog.String("template", name),
			slog.String(errLoggerKey, err.Error()))
		return
	}
	v.publish(typ, sb.String())
}

func (v *sseView) publish(typ string, data string) {
	msg := sse.Message{
		Type: sse.Type(typ),
	}
	msg.AppendData(data)

	if err := v.srv.Publish(&msg); err != nil {
		v.logger.Error("Failed to publish event",
			slog.String("type", typ),
			slog.String(errLoggerKey, err.Error()))
	}
}
