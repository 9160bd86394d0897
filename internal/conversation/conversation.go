// Package conversation keeps the ordered list of chat messages and renders them through a Formatter into a View.
//
// Messages are only ever appended, updated in place or cleared all at once, so the display order is always the
// insertion order. The markup of a message is recomputed from its whole raw text on every change; formatting
// tokens such as "**" may be split across stream deltas and only the full text formats correctly.
package conversation

import (
	"log/slog"
	"sync"
	"time"

	"github.com/MegaGrindStone/assistant-web-ui/internal/models"
	"github.com/google/uuid"
)

// View receives the render events of a Conversation. Calls are made while the conversation is locked, in the
// order the changes happened, so implementations must not call back into the Conversation.
type View interface {
	MessageAppended(msg models.Message, markup string)
	MessageUpdated(msg models.Message, markup string)
	Cleared()
	// ScrollToLatest is a best-effort hint that the newest content should be brought into view.
	ScrollToLatest()
}

// Conversation is the ordered sequence of messages of one chat. It is safe for concurrent use.
type Conversation struct {
	formatter models.Formatter
	view      View

	mu       sync.Mutex
	messages []*entry
	index    map[string]*entry

	now    func() time.Time
	logger *slog.Logger
}

type entry struct {
	msg models.Message

	// markup is the formatted form of rendered, which is the raw text it was computed from.
	markup    string
	rendered  string
	formatted bool
}

// New creates an empty Conversation. A nil view discards render events.
func New(formatter models.Formatter, view View, logger *slog.Logger) *Conversation {
	if view == nil {
		view = nopView{}
	}
	return &Conversation{
		formatter: formatter,
		view:      view,
		index:     make(map[string]*entry),
		now:       time.Now,
		logger:    logger.With(slog.String("module", "conversation")),
	}
}

// Append creates a frozen message with the given text, displays it and returns its id.
func (c *Conversation) Append(role models.Role, text string) string {
	return c.append(role, text, models.StreamingStateEnded)
}

// Open creates an empty message that accepts updates until Finish is called, and returns its id. It anchors
// the place of a streamed reply before the first delta arrives.
func (c *Conversation) Open(role models.Role) string {
	return c.append(role, "", models.StreamingStateLoading)
}

func (c *Conversation) append(role models.Role, text string, state models.StreamingState) string {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := &entry{
		msg: models.Message{
			ID:             uuid.New().String(),
			Role:           role,
			Content:        text,
			Timestamp:      c.now(),
			StreamingState: state,
		},
	}
	c.render(e)
	c.messages = append(c.messages, e)
	c.index[e.msg.ID] = e

	c.view.MessageAppended(e.msg, e.markup)
	c.view.ScrollToLatest()

	return e.msg.ID
}

// Update replaces the raw text of the open message id and re-renders it in place. Unknown ids and frozen
// messages are ignored.
func (c *Conversation) Update(id, raw string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.index[id]
	if !ok {
		c.logger.Debug("Ignoring update of unknown message", slog.String("id", id))
		return
	}
	if !e.msg.StreamingState.Open() {
		c.logger.Debug("Ignoring update of frozen message", slog.String("id", id))
		return
	}

	stateChanged := e.msg.StreamingState != models.StreamingStateStreaming
	if !stateChanged && raw == e.rendered {
		return
	}

	e.msg.Content = raw
	e.msg.StreamingState = models.StreamingStateStreaming
	c.render(e)

	c.view.MessageUpdated(e.msg, e.markup)
	c.view.ScrollToLatest()
}

// Finish freezes the message id. It is a no-op for unknown or already frozen messages.
func (c *Conversation) Finish(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.index[id]
	if !ok || !e.msg.StreamingState.Open() {
		return
	}
	e.msg.StreamingState = models.StreamingStateEnded

	c.view.MessageUpdated(e.msg, e.markup)
}

// Clear removes every message.
func (c *Conversation) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.messages = nil
	c.index = make(map[string]*entry)

	c.view.Cleared()
	c.view.ScrollToLatest()
}

// Messages returns a snapshot of the messages in display order.
func (c *Conversation) Messages() []models.Message {
	c.mu.Lock()
	defer c.mu.Unlock()

	msgs := make([]models.Message, len(c.messages))
	for i, e := range c.messages {
		msgs[i] = e.msg
	}
	return msgs
}

// Message returns the message id and its current markup.
func (c *Conversation) Message(id string) (models.Message, string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.index[id]
	if !ok {
		return models.Message{}, "", false
	}
	return e.msg, e.markup, true
}

// Len returns the number of messages.
func (c *Conversation) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.messages)
}

// Rendered pairs a message with its markup.
type Rendered struct {
	models.Message
	Markup string
}

// Render returns every message with its markup, in display order.
func (c *Conversation) Render() []Rendered {
	c.mu.Lock()
	defer c.mu.Unlock()

	res := make([]Rendered, len(c.messages))
	for i, e := range c.messages {
		res[i] = Rendered{Message: e.msg, Markup: e.markup}
	}
	return res
}

func (c *Conversation) render(e *entry) {
	if e.formatted && e.msg.Content == e.rendered {
		return
	}
	e.markup = c.formatter.Format(e.msg.Content)
	e.rendered = e.msg.Content
	e.formatted = true
}

type nopView struct{}

func (nopView) MessageAppended(models.Message, string) {}
func (nopView) MessageUpdated(models.Message, string)  {}
func (nopView) Cleared()                               {}
func (nopView) ScrollToLatest()                        {}
