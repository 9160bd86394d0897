// Package terminal is the command line front end of the chat: a line-edited REPL and a View printing the
// conversation to a terminal.
package terminal

import (
	"fmt"
	"io"
	"regexp"
	"sync"

	"github.com/MegaGrindStone/assistant-web-ui/internal/chat"
	"github.com/MegaGrindStone/assistant-web-ui/internal/models"
	"github.com/charmbracelet/lipgloss"
)

var (
	userStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("12")).
			Bold(true)
	assistantStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("10")).
			Bold(true)
	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("8"))
	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("9")).
			Bold(true)
	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("11"))
	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("10"))

	boldStyle   = lipgloss.NewStyle().Bold(true)
	italicStyle = lipgloss.NewStyle().Italic(true)
	codeStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("13"))
)

var (
	boldPattern   = regexp.MustCompile(`\*\*(.*?)\*\*`)
	italicPattern = regexp.MustCompile(`\*(.*?)\*`)
	codePattern   = regexp.MustCompile("`(.*?)`")
)

// Formatter renders the same subset as models.SimpleFormatter with terminal styles instead of HTML. Line breaks
// are kept as they are.
type Formatter struct{}

// View prints conversation changes and session notifications. Streamed messages are printed as their deltas
// arrive; other messages are printed formatted once.
type View struct {
	mu      sync.Mutex
	out     io.Writer
	printed map[string]int
	typing  bool
}

// Format implements models.Formatter. Spans do not cross line breaks.
func (Formatter) Format(raw string) string {
	if raw == "" {
		return ""
	}

	s := replaceStyled(boldPattern, raw, boldStyle)
	s = replaceStyled(italicPattern, s, italicStyle)
	return replaceStyled(codePattern, s, codeStyle)
}

func replaceStyled(re *regexp.Regexp, s string, style lipgloss.Style) string {
	return re.ReplaceAllStringFunc(s, func(m string) string {
		return style.Render(re.FindStringSubmatch(m)[1])
	})
}

// NewView creates a View writing to out.
func NewView(out io.Writer) *View {
	return &View{
		out:     out,
		printed: make(map[string]int),
	}
}

// MessageAppended implements conversation.View.
func (v *View) MessageAppended(msg models.Message, markup string) {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.clearTyping()
	if msg.Role == models.RoleUser {
		// The user already sees what they typed at the prompt.
		return
	}

	fmt.Fprint(v.out, rolePrefix(msg.Role))
	if msg.StreamingState.Open() {
		v.printed[msg.ID] = 0
		return
	}
	fmt.Fprintln(v.out, markup)
}

// MessageUpdated implements conversation.View.
func (v *View) MessageUpdated(msg models.Message, _ string) {
	v.mu.Lock()
	defer v.mu.Unlock()

	n, ok := v.printed[msg.ID]
	if !ok {
		return
	}
	if len(msg.Content) > n {
		fmt.Fprint(v.out, msg.Content[n:])
		v.printed[msg.ID] = len(msg.Content)
	}
	if !msg.StreamingState.Open() {
		fmt.Fprintln(v.out)
		delete(v.printed, msg.ID)
	}
}

// Cleared implements conversation.View.
func (v *View) Cleared() {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.printed = make(map[string]int)
	fmt.Fprintln(v.out, dimStyle.Render("[Conversation cleared]"))
}

// ScrollToLatest implements conversation.View. Terminals follow the output on their own.
func (v *View) ScrollToLatest() {}

// ShowTyping implements chat.Notifier.
func (v *View) ShowTyping() {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.typing = true
	fmt.Fprint(v.out, dimStyle.Render("Assistant is typing..."))
}

// HideTyping implements chat.Notifier.
func (v *View) HideTyping() {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.clearTyping()
}

// ShowError implements chat.Notifier.
func (v *View) ShowError(message string) {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.clearTyping()
	fmt.Fprintf(v.out, "%s %s\n", errorStyle.Render("[Error]"), message)
}

// ShowStatus implements chat.Notifier.
func (v *View) ShowStatus(status chat.Status) {
	v.mu.Lock()
	defer v.mu.Unlock()

	style := successStyle
	switch status.Level {
	case chat.LevelWarning:
		style = warningStyle
	case chat.LevelDanger:
		style = errorStyle
	}
	fmt.Fprintf(v.out, "%s %s\n", dimStyle.Render("Status:"), style.Render(status.Text))
}

// Info prints a dimmed informational line.
func (v *View) Info(format string, args ...any) {
	v.mu.Lock()
	defer v.mu.Unlock()

	fmt.Fprintln(v.out, dimStyle.Render(fmt.Sprintf(format, args...)))
}

func (v *View) clearTyping() {
	if !v.typing {
		return
	}
	v.typing = false
	// Carriage return and erase line.
	fmt.Fprint(v.out, "\r\033[K")
}

func rolePrefix(role models.Role) string {
	if role == models.RoleUser {
		return userStyle.Render("you> ")
	}
	return assistantStyle.Render("assistant> ")
}
