package terminal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/MegaGrindStone/assistant-web-ui/internal/chat"
	"github.com/peterh/liner"
)

// Prompter reads one line of user input. *liner.State implements it.
type Prompter interface {
	Prompt(prompt string) (string, error)
	AppendHistory(item string)
}

// REPL reads user input and sends it through a session until the user quits.
type REPL struct {
	session *chat.Session
	view    *View
	input   Prompter
	mode    chat.Mode
}

const helpText = `Commands:
  /help            Show this help
  /clear           Clear the conversation
  /mode [name]     Show or set the request mode (single, stream, history)
  /stream on|off   Shortcut for /mode stream and /mode single
  /health          Check the assistant status
  /quit            Exit (also Ctrl+D)
Ctrl+C cancels the reply being received.`

// NewREPL creates a REPL sending messages with mode by default.
func NewREPL(session *chat.Session, view *View, input Prompter, mode chat.Mode) *REPL {
	return &REPL{
		session: session,
		view:    view,
		input:   input,
		mode:    mode,
	}
}

// Run loops until the input ends, the user quits or ctx is done.
func (r *REPL) Run(ctx context.Context) error {
	r.session.Health(ctx)
	r.view.Info("Type /help for commands.")

	for ctx.Err() == nil {
		line, err := r.input.Prompt("you> ")
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("error reading input: %w", err)
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		r.input.AppendHistory(line)

		if strings.HasPrefix(line, "/") {
			if !r.command(ctx, line) {
				return nil
			}
			continue
		}

		r.send(ctx, line)
	}
	return nil
}

// send blocks until the reply is complete. Ctrl+C while waiting cancels the request instead of exiting.
func (r *REPL) send(ctx context.Context, text string) {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	err := r.session.Send(ctx, text, r.mode)
	if errors.Is(err, context.Canceled) {
		r.view.Info("[Cancelled]")
	}
}

func (r *REPL) command(ctx context.Context, line string) bool {
	fields := strings.Fields(line)
	cmd, args := fields[0], fields[1:]

	switch cmd {
	case "/quit", "/q", "/exit":
		return false
	case "/help", "/h":
		r.view.Info("%s", helpText)
	case "/clear", "/c":
		r.session.Clear()
	case "/health":
		r.session.Health(ctx)
	case "/mode":
		if len(args) == 0 {
			r.view.Info("Mode: %s", r.mode)
			break
		}
		mode, err := chat.ParseMode(args[0])
		if err != nil {
			r.view.ShowError(err.Error())
			break
		}
		r.mode = mode
		r.view.Info("Mode: %s", r.mode)
	case "/stream":
		switch {
		case len(args) == 1 && args[0] == "on":
			r.mode = chat.ModeStream
		case len(args) == 1 && args[0] == "off":
			r.mode = chat.ModeSingleShot
		default:
			r.view.ShowError("usage: /stream on|off")
		}
		r.view.Info("Mode: %s", r.mode)
	default:
		r.view.ShowError(fmt.Sprintf("unknown command: %s", cmd))
	}
	return true
}
