package handlers_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/MegaGrindStone/assistant-web-ui/internal/chat"
	"github.com/MegaGrindStone/assistant-web-ui/internal/handlers"
	"github.com/MegaGrindStone/assistant-web-ui/internal/mockassistant"
	"github.com/MegaGrindStone/assistant-web-ui/internal/models"
	"github.com/MegaGrindStone/assistant-web-ui/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmaxmax/go-sse"
)

type pushedEvent struct {
	typ  string
	data string
}

type pushedMessage struct {
	ID   string `json:"id"`
	HTML string `json:"html"`
}

var quickQuestions = []string{"Where is the spare wheel?", "How often should I change the oil?"}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newMain(t *testing.T, responses []string, opts mockassistant.Options) handlers.Main {
	t.Helper()

	logger := discardLogger()
	srv := httptest.NewServer(mockassistant.New(responses, opts, logger).Handler())
	t.Cleanup(srv.Close)

	assistant := services.NewAssistant(srv.URL, 2*time.Second, logger, services.NoopMetrics())
	main, err := handlers.NewMain(assistant, models.SimpleFormatter{}, chat.ModeSingleShot, quickQuestions, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = main.Shutdown(context.Background()) })

	return main
}

func postForm(h http.HandlerFunc, path string, form url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	h(w, req)
	return w
}

func home(main handlers.Main) string {
	w := httptest.NewRecorder()
	main.HandleHome(w, httptest.NewRequest(http.MethodGet, "/", nil))
	return w.Body.String()
}

// subscribe connects a page to HandleSSE and returns the events it receives. Headers may only be sent with the
// first event, so health checks are published until the subscription is live.
func subscribe(t *testing.T, main handlers.Main) <-chan pushedEvent {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(main.HandleSSE))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	connected := make(chan *http.Response, 1)
	go func() {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
		if err != nil {
			return
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return
		}
		connected <- resp
	}()

	var resp *http.Response
	require.Eventually(t, func() bool {
		main.HandleHealth(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))
		select {
		case resp = <-connected:
			return true
		default:
			return false
		}
	}, 2*time.Second, 20*time.Millisecond)

	events := make(chan pushedEvent, 256)
	go func() {
		defer close(events)
		defer resp.Body.Close()

		for ev, err := range sse.Read(resp.Body, nil) {
			if err != nil {
				return
			}
			events <- pushedEvent{typ: ev.Type, data: ev.Data}
		}
	}()

	// The subscription is live once a published event reaches the page.
	require.Eventually(t, func() bool {
		main.HandleHealth(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))
		select {
		case ev := <-events:
			return ev.typ == "status"
		case <-time.After(50 * time.Millisecond):
			return false
		}
	}, 2*time.Second, 20*time.Millisecond)

	return events
}

// waitFor reads events until match returns true and returns every event read, status events excluded.
func waitFor(t *testing.T, events <-chan pushedEvent, match func(pushedEvent) bool) []pushedEvent {
	t.Helper()

	var got []pushedEvent
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			require.True(t, ok, "event stream ended, got %v", got)
			if ev.typ != "status" {
				got = append(got, ev)
			}
			if match(ev) {
				return got
			}
		case <-timeout:
			require.FailNow(t, "timed out waiting for event", "got %v", got)
		}
	}
}

func decodeMessage(t *testing.T, ev pushedEvent) pushedMessage {
	t.Helper()

	var msg pushedMessage
	require.NoError(t, json.Unmarshal([]byte(ev.data), &msg))
	return msg
}

func types(events []pushedEvent) []string {
	res := make([]string, len(events))
	for i, ev := range events {
		res[i] = ev.typ
	}
	return res
}

func TestNewMain(t *testing.T) {
	main, err := handlers.NewMain(nil, models.SimpleFormatter{}, chat.ModeStream, nil, discardLogger())
	require.NoError(t, err)

	assert.NoError(t, main.Shutdown(context.Background()))
}

func TestHandleHome(t *testing.T) {
	main := newMain(t, []string{"**Hi** there"}, mockassistant.Options{})

	tests := []struct {
		name       string
		url        string
		wantStatus int
		wantBody   string
	}{
		{
			name:       "Home page",
			url:        "/",
			wantStatus: http.StatusOK,
			wantBody:   "chatContainer",
		},
		{
			name:       "Unknown page",
			url:        "/missing",
			wantStatus: http.StatusNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.url, nil)
			w := httptest.NewRecorder()

			main.HandleHome(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Contains(t, w.Body.String(), tt.wantBody)
		})
	}
}

func TestHandleHomeWelcome(t *testing.T) {
	main := newMain(t, []string{"Hi"}, mockassistant.Options{})

	body := home(main)
	assert.Contains(t, body, `<section id="welcome" class="welcome-section">`)
	for _, q := range quickQuestions {
		assert.Contains(t, body, `data-question="`+q+`"`)
	}

	w := postForm(main.HandleChats, "/chats", url.Values{"message": {quickQuestions[0]}})
	require.Equal(t, http.StatusAccepted, w.Code)
	require.Eventually(t, func() bool {
		return strings.Contains(home(main), `<section id="welcome" class="welcome-section" hidden>`)
	}, 2*time.Second, 10*time.Millisecond)

	w = postForm(main.HandleClear, "/clear", nil)
	require.Equal(t, http.StatusNoContent, w.Code)
	assert.Contains(t, home(main), `<section id="welcome" class="welcome-section">`)
}

func TestHandleChats(t *testing.T) {
	main := newMain(t, []string{"**Hi** there"}, mockassistant.Options{})

	tests := []struct {
		name       string
		method     string
		form       url.Values
		wantStatus int
	}{
		{
			name:       "Invalid method",
			method:     http.MethodGet,
			wantStatus: http.StatusMethodNotAllowed,
		},
		{
			name:       "Empty message",
			method:     http.MethodPost,
			form:       url.Values{"message": {"   "}},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "Unknown mode",
			method:     http.MethodPost,
			form:       url.Values{"message": {"Hello"}, "mode": {"batch"}},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "Accepted",
			method:     http.MethodPost,
			form:       url.Values{"message": {"Hello"}},
			wantStatus: http.StatusAccepted,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/chats", strings.NewReader(tt.form.Encode()))
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			w := httptest.NewRecorder()

			main.HandleChats(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
		})
	}

	require.Eventually(t, func() bool {
		return strings.Contains(home(main), "<strong>Hi</strong> there")
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHandleChatsStreamed(t *testing.T) {
	main := newMain(t, []string{"a *streamed* reply"}, mockassistant.Options{})

	w := postForm(main.HandleChats, "/chats", url.Values{"message": {"Hello"}, "stream": {"on"}})
	require.Equal(t, http.StatusAccepted, w.Code)

	require.Eventually(t, func() bool {
		body := home(main)
		return strings.Contains(body, "a <em>streamed</em> reply") &&
			strings.Contains(body, `data-streaming-state="ended"`) &&
			!strings.Contains(body, `data-streaming-state="streaming"`)
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHandleChatsBusy(t *testing.T) {
	main := newMain(t, nil, mockassistant.Options{ChunkDelay: 200 * time.Millisecond})

	w := postForm(main.HandleChats, "/chats", url.Values{"message": {"first"}, "mode": {"stream"}})
	require.Equal(t, http.StatusAccepted, w.Code)

	w = postForm(main.HandleChats, "/chats", url.Values{"message": {"second"}, "mode": {"stream"}})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = postForm(main.HandleClear, "/clear", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.NotContains(t, home(main), "first")
}

func TestHandleClear(t *testing.T) {
	main := newMain(t, []string{"Hi"}, mockassistant.Options{})

	w := httptest.NewRecorder()
	main.HandleClear(w, httptest.NewRequest(http.MethodGet, "/clear", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)

	w = postForm(main.HandleChats, "/chats", url.Values{"message": {"Hello"}})
	require.Equal(t, http.StatusAccepted, w.Code)
	require.Eventually(t, func() bool {
		return strings.Contains(home(main), ">Hi</div>")
	}, 2*time.Second, 10*time.Millisecond)

	w = postForm(main.HandleClear, "/clear", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.NotContains(t, home(main), "data-message-id")
}

func TestHandleHealth(t *testing.T) {
	tests := []struct {
		name       string
		opts       mockassistant.Options
		wantStatus string
		wantLevel  string
	}{
		{name: "Ready", wantStatus: "Ready", wantLevel: "success"},
		{name: "Unavailable", opts: mockassistant.Options{Unavailable: true}, wantStatus: "Assistant Unavailable", wantLevel: "warning"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			main := newMain(t, nil, tt.opts)

			w := httptest.NewRecorder()
			main.HandleHealth(w, httptest.NewRequest(http.MethodGet, "/health", nil))
			require.Equal(t, http.StatusOK, w.Code)

			var got map[string]string
			require.NoError(t, json.NewDecoder(w.Body).Decode(&got))
			assert.Equal(t, tt.wantStatus, got["status"])
			assert.Equal(t, tt.wantLevel, got["level"])
		})
	}
}

func TestHandleSSEStatus(t *testing.T) {
	main := newMain(t, nil, mockassistant.Options{})
	events := subscribe(t, main)

	main.HandleHealth(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))

	var status pushedEvent
	waitFor(t, events, func(ev pushedEvent) bool {
		if ev.typ == "status" {
			status = ev
			return true
		}
		return false
	})
	assert.Equal(t, `<span class="status-success">Ready</span>`, status.data)
}

func TestHandleSSEStreamedReply(t *testing.T) {
	main := newMain(t, []string{"a **b** c"}, mockassistant.Options{})
	events := subscribe(t, main)

	w := postForm(main.HandleChats, "/chats", url.Values{"message": {"Hello"}, "mode": {"stream"}})
	require.Equal(t, http.StatusAccepted, w.Code)

	got := waitFor(t, events, func(ev pushedEvent) bool {
		return ev.typ == "update" && strings.Contains(ev.data, `data-streaming-state=\"ended\"`)
	})

	require.GreaterOrEqual(t, len(got), 7)
	assert.Equal(t, []string{"message", "scroll", "typing", "typing", "message", "scroll"}, types(got[:6]))
	assert.Equal(t, "show", got[2].data)
	assert.Equal(t, "hide", got[3].data)

	user := decodeMessage(t, got[0])
	assert.Contains(t, user.HTML, "Hello")
	assert.Contains(t, user.HTML, `data-message-id="`+user.ID+`"`)

	opened := decodeMessage(t, got[4])
	assert.Contains(t, opened.HTML, `data-streaming-state="loading"`)

	final := decodeMessage(t, got[len(got)-1])
	assert.Equal(t, opened.ID, final.ID)
	assert.Contains(t, final.HTML, "a <strong>b</strong> c")
	assert.Contains(t, final.HTML, `data-streaming-state="ended"`)

	for _, ev := range got[6 : len(got)-1] {
		assert.Contains(t, []string{"update", "scroll"}, ev.typ)
	}

	w = postForm(main.HandleClear, "/clear", nil)
	require.Equal(t, http.StatusNoContent, w.Code)

	got = waitFor(t, events, func(ev pushedEvent) bool { return ev.typ == "scroll" })
	assert.Equal(t, []string{"clear", "scroll"}, types(got))
}

func TestHandleSSEErrorToast(t *testing.T) {
	main := newMain(t, nil, mockassistant.Options{FailWith: "oops"})
	events := subscribe(t, main)

	w := postForm(main.HandleChats, "/chats", url.Values{"message": {"Hello"}})
	require.Equal(t, http.StatusAccepted, w.Code)

	got := waitFor(t, events, func(ev pushedEvent) bool { return ev.typ == "toast" })

	assert.Equal(t, []string{"message", "scroll", "typing", "typing", "toast"}, types(got))
	assert.Equal(t, "hide", got[3].data)
	assert.Equal(t, `<span class="toast-error">oops</span>`, got[4].data)
}
