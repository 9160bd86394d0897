// Package chat drives one conversation with the remote assistant. A Session is the context object shared by the
// views: it submits user input through the transport client, feeds the replies into the conversation and
// reports progress and failures to a Notifier.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/MegaGrindStone/assistant-web-ui/internal/conversation"
	"github.com/MegaGrindStone/assistant-web-ui/internal/models"
	"github.com/MegaGrindStone/assistant-web-ui/internal/services"
)

// Assistant is the transport used by a Session. services.Assistant implements it.
type Assistant interface {
	Health(ctx context.Context) (models.Health, error)
	Chat(ctx context.Context, message string) (string, error)
	ChatHistory(ctx context.Context, messages []string) (string, error)
	ChatStream(ctx context.Context, message string) (services.Stream, error)
}

// Notifier shows the transient feedback of a Session: the typing indicator, error notifications and the
// assistant status.
type Notifier interface {
	ShowTyping()
	HideTyping()
	ShowError(message string)
	ShowStatus(status Status)
}

// Session submits user messages to the assistant and renders the replies into a conversation. It allows a
// single request in flight at a time.
type Session struct {
	assistant Assistant
	conv      *conversation.Conversation
	notifier  Notifier

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	closed bool

	logger *slog.Logger
}

// Mode selects how a message is sent to the assistant.
type Mode string

const (
	// ModeSingleShot waits for the whole reply and appends it at once.
	ModeSingleShot Mode = "single"
	// ModeStream appends an empty reply and grows it as deltas arrive.
	ModeStream Mode = "stream"
	// ModeHistory sends every previous user message along with the new one and waits for the whole reply.
	ModeHistory Mode = "history"
)

var (
	// ErrBusy is returned when a message is sent while the previous request is still in flight.
	ErrBusy = errors.New("a request is already in flight")
	// ErrEmptyMessage is returned when the message is empty after trimming.
	ErrEmptyMessage = errors.New("message is required")
	// ErrClosed is returned when the session has been closed.
	ErrClosed = errors.New("session is closed")
)

const errLoggerKey = "err"

// NewSession creates a Session rendering into conv. A nil notifier discards notifications.
func NewSession(assistant Assistant, conv *conversation.Conversation, notifier Notifier, logger *slog.Logger) *Session {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	return &Session{
		assistant: assistant,
		conv:      conv,
		notifier:  notifier,
		logger:    logger.With(slog.String("module", "session")),
	}
}

// ParseMode parses a mode name. An empty name selects ModeSingleShot.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeSingleShot:
		return ModeSingleShot, nil
	case ModeStream, ModeHistory:
		return Mode(s), nil
	default:
		return "", fmt.Errorf("unknown mode: %s", s)
	}
}

// Conversation returns the conversation the session renders into.
func (s *Session) Conversation() *conversation.Conversation {
	return s.conv
}

// Send submits text and blocks until the reply has been rendered or the request failed. Failures are also
// reported to the Notifier; the conversation is never rolled back.
func (s *Session) Send(ctx context.Context, text string, mode Mode) error {
	ctx, text, err := s.begin(ctx, text)
	if err != nil {
		return err
	}
	defer s.end()

	return s.run(ctx, text, mode)
}

// SendAsync validates text and reserves the session like Send, then processes the request in the background.
// ErrBusy, ErrEmptyMessage and ErrClosed are returned synchronously.
func (s *Session) SendAsync(ctx context.Context, text string, mode Mode) error {
	ctx, text, err := s.begin(ctx, text)
	if err != nil {
		return err
	}

	go func() {
		defer s.end()
		_ = s.run(ctx, text, mode)
	}()
	return nil
}

// Busy reports whether a request is in flight.
func (s *Session) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.done != nil
}

// Cancel aborts the request in flight, if any, and waits for it to stop touching the conversation.
func (s *Session) Cancel() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Clear aborts the request in flight and removes every message.
func (s *Session) Clear() {
	s.Cancel()
	s.conv.Clear()
}

// Close aborts the request in flight and rejects further messages.
func (s *Session) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.Cancel()
}

// Health checks the assistant, reports the resulting status to the Notifier and returns it.
func (s *Session) Health(ctx context.Context) Status {
	health, err := s.assistant.Health(ctx)
	status := statusFromHealth(health, err)
	if err != nil {
		s.logger.Warn("Health check failed", slog.String(errLoggerKey, err.Error()))
	}

	s.notifier.ShowStatus(status)
	return status
}

func (s *Session) begin(ctx context.Context, text string) (context.Context, string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, "", ErrEmptyMessage
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, "", ErrClosed
	}
	if s.done != nil {
		return nil, "", ErrBusy
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	return ctx, text, nil
}

func (s *Session) end() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cancel()
	close(s.done)
	s.cancel = nil
	s.done = nil
}

func (s *Session) run(ctx context.Context, text string, mode Mode) error {
	history := s.userMessages()
	s.conv.Append(models.RoleUser, text)
	s.notifier.ShowTyping()

	var err error
	switch mode {
	case ModeStream:
		err = s.stream(ctx, text)
	case ModeHistory:
		err = s.singleShot(ctx, func() (string, error) {
			return s.assistant.ChatHistory(ctx, append(history, text))
		})
	default:
		err = s.singleShot(ctx, func() (string, error) {
			return s.assistant.Chat(ctx, text)
		})
	}
	if err == nil {
		return nil
	}

	s.notifier.HideTyping()
	switch {
	case errors.Is(err, context.Canceled):
		s.logger.Info("Request canceled", slog.String("mode", string(mode)))
	case services.IsApplicationError(err):
		s.logger.Warn("Assistant reported an error", slog.String(errLoggerKey, err.Error()))
		s.notifier.ShowError(err.Error())
	default:
		s.logger.Error("Failed to send message",
			slog.String("mode", string(mode)),
			slog.String(errLoggerKey, err.Error()))
		s.notifier.ShowError("Failed to send message: " + err.Error())
	}
	return err
}

func (s *Session) singleShot(ctx context.Context, send func() (string, error)) error {
	res, err := send()
	if err != nil {
		return err
	}
	s.notifier.HideTyping()

	if err := ctx.Err(); err != nil {
		return err
	}
	s.conv.Append(models.RoleAssistant, res)
	return nil
}

func (s *Session) stream(ctx context.Context, text string) error {
	stream, err := s.assistant.ChatStream(ctx, text)
	if err != nil {
		return err
	}
	defer stream.Close()

	s.notifier.HideTyping()
	if err := ctx.Err(); err != nil {
		return err
	}

	// Only this request writes to the open message; ErrBusy keeps other requests out until it is finished.
	id := s.conv.Open(models.RoleAssistant)
	defer s.conv.Finish(id)

	var sb strings.Builder
	for frame, err := range stream.Frames() {
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return err
		}
		if frame.Done {
			break
		}
		sb.WriteString(frame.Content)
		s.conv.Update(id, sb.String())
	}
	return nil
}

func (s *Session) userMessages() []string {
	var msgs []string
	for _, m := range s.conv.Messages() {
		if m.Role == models.RoleUser {
			msgs = append(msgs, m.Content)
		}
	}
	return msgs
}

type nopNotifier struct{}

func (nopNotifier) ShowTyping()       {}
func (nopNotifier) HideTyping()       {}
func (nopNotifier) ShowError(string)  {}
func (nopNotifier) ShowStatus(Status) {}
