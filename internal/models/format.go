package models

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"github.com/yuin/goldmark"
	highlighting "github.com/yuin/goldmark-highlighting"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
)

// Formatter turns the raw text of a message into display markup. Implementations must be deterministic, so the
// markup of a message can always be recomputed from its accumulated raw text.
type Formatter interface {
	Format(raw string) string
}

// SimpleFormatter renders line breaks and a small markdown-like subset: bold, italic and inline code spans. Raw
// text is trusted and is not escaped.
type SimpleFormatter struct{}

// MarkdownFormatter renders raw text as GitHub flavored markdown with syntax highlighted code blocks.
type MarkdownFormatter struct {
	md goldmark.Markdown
}

const (
	// FormatterSimple is the configuration name of SimpleFormatter.
	FormatterSimple = "simple"
	// FormatterMarkdown is the configuration name of MarkdownFormatter.
	FormatterMarkdown = "markdown"
)

var (
	boldPattern   = regexp.MustCompile(`\*\*(.*?)\*\*`)
	italicPattern = regexp.MustCompile(`\*(.*?)\*`)
	codePattern   = regexp.MustCompile("`(.*?)`")
)

// NewFormatter returns the formatter registered under name. An empty name selects SimpleFormatter.
func NewFormatter(name string) (Formatter, error) {
	switch name {
	case "", FormatterSimple:
		return SimpleFormatter{}, nil
	case FormatterMarkdown:
		return NewMarkdownFormatter(), nil
	default:
		return nil, fmt.Errorf("unknown formatter: %s", name)
	}
}

// Format applies, in this order: line breaks, bold, italic, inline code. Bold has to run before italic, otherwise
// the single asterisk pattern would consume half of every "**" pair.
func (SimpleFormatter) Format(raw string) string {
	if raw == "" {
		return ""
	}

	s := strings.ReplaceAll(raw, "\n", "<br>")
	s = boldPattern.ReplaceAllString(s, "<strong>${1}</strong>")
	s = italicPattern.ReplaceAllString(s, "<em>${1}</em>")
	s = codePattern.ReplaceAllString(s, "<code>${1}</code>")

	return s
}

// NewMarkdownFormatter creates a MarkdownFormatter with GFM and code highlighting enabled. Soft line breaks are
// rendered as hard breaks to keep the line structure of streamed answers.
func NewMarkdownFormatter() MarkdownFormatter {
	return MarkdownFormatter{
		md: goldmark.New(
			goldmark.WithExtensions(
				extension.GFM,
				highlighting.NewHighlighting(highlighting.WithStyle("github")),
			),
			goldmark.WithRendererOptions(html.WithHardWraps()),
		),
	}
}

// Format renders raw as markdown. If goldmark fails, which only happens on writer errors, the raw text is
// returned unchanged.
func (m MarkdownFormatter) Format(raw string) string {
	if raw == "" {
		return ""
	}

	var buf bytes.Buffer
	if err := m.md.Convert([]byte(raw), &buf); err != nil {
		return raw
	}
	return buf.String()
}
