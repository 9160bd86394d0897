package handlers

import (
	"net/http"

	"github.com/MegaGrindStone/assistant-web-ui/internal/chat"
)

type homePageData struct {
	Messages       []message
	QuickQuestions []string
	Stream         bool
	Busy           bool
}

// HandleHome renders the page with the current conversation. Later changes reach the page through /sse.
func (m Main) HandleHome(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	rendered := m.session.Conversation().Render()
	msgs := make([]message, len(rendered))
	for i, rm := range rendered {
		msgs[i] = newMessage(rm.Message, rm.Markup)
	}

	data := homePageData{
		Messages:       msgs,
		QuickQuestions: m.quickQuestions,
		Stream:         m.defaultMode == chat.ModeStream,
		Busy:           m.session.Busy(),
	}

	err := m.templates.ExecuteTemplate(w, "home.html", data)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
}
