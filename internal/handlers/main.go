package handlers

import (
	"context"
	"html/template"
	"log/slog"
	"time"

	assistantwebui "github.com/MegaGrindStone/assistant-web-ui"
	"github.com/MegaGrindStone/assistant-web-ui/internal/chat"
	"github.com/MegaGrindStone/assistant-web-ui/internal/conversation"
	"github.com/MegaGrindStone/assistant-web-ui/internal/models"
	"github.com/tmaxmax/go-sse"
)

// Main handles the browser side of the chat application: it serves the page, accepts submissions and pushes
// every conversation change to the connected pages through server-sent events.
type Main struct {
	sseSrv    *sse.Server
	templates *template.Template

	session        *chat.Session
	defaultMode    chat.Mode
	quickQuestions []string

	logger *slog.Logger
}

const errLoggerKey = "err"

// NewMain creates a Main whose conversation is rendered with formatter and whose messages are sent through
// assistant. defaultMode is used for submissions that do not select a mode. quickQuestions are offered on the
// welcome section of an empty conversation. The HTML templates are parsed from the embedded filesystem.
func NewMain(
	assistant chat.Assistant,
	formatter models.Formatter,
	defaultMode chat.Mode,
	quickQuestions []string,
	logger *slog.Logger,
) (Main, error) {
	// We parse templates from three distinct directories to separate layout, pages, and partial views
	tmpl, err := template.ParseFS(
		assistantwebui.TemplateFS,
		"templates/layout/*.html",
		"templates/pages/*.html",
		"templates/partials/*.html",
	)
	if err != nil {
		return Main{}, err
	}

	logger = logger.With(slog.String("module", "main"))
	sseSrv := &sse.Server{}

	view := &sseView{
		srv:       sseSrv,
		templates: tmpl,
		logger:    logger,
	}
	conv := conversation.New(formatter, view, logger)

	return Main{
		sseSrv:         sseSrv,
		templates:      tmpl,
		session:        chat.NewSession(assistant, conv, view, logger),
		defaultMode:    defaultMode,
		quickQuestions: quickQuestions,
		logger:         logger,
	}, nil
}

// Shutdown aborts the request in flight and terminates the SSE server. It broadcasts a close message to all
// connected clients and waits up to 5 seconds for connections to terminate. After the timeout, any remaining
// connections are forcefully closed.
func (m Main) Shutdown(ctx context.Context) error {
	m.session.Close()

	e := &sse.Message{Type: sse.Type("close")}
	// An event without data is not dispatched by browsers
	e.AppendData("bye")

	// We ignore the error here since we're shutting down anyway
	_ = m.sseSrv.Publish(e)

	ctx, cancel := context.WithTimeout(ctx, time.Second*5)
	defer cancel()

	return m.sseSrv.Shutdown(ctx)
}
