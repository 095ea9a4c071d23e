package server

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cchalm/colloquy/internal/auth"
	"github.com/cchalm/colloquy/internal/chat"
	"github.com/cchalm/colloquy/internal/generate"
	"github.com/cchalm/colloquy/internal/store/memory"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	store := memory.New()
	svc := chat.NewService(chat.ServiceConfig{
		Registry: store,
		Ledger:   store,
		// No emission ceiling, so streams complete instantly in tests
		Generator: generate.NewSimulated(0),
		Logger:    zerolog.Nop(),
	})
	srv := New(svc, auth.StaticTokens{"tok-alice": "alice", "tok-bob": "bob"}, zerolog.Nop())

	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts
}

func doJSON(t *testing.T, method, url, token, body string) (*http.Response, map[string]any) {
	t.Helper()

	var reader *strings.Reader
	if body != "" {
		reader = strings.NewReader(body)
	} else {
		reader = strings.NewReader("")
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })

	var decoded map[string]any
	if strings.Contains(resp.Header.Get("Content-Type"), "application/json") {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	}
	return resp, decoded
}

func startChat(t *testing.T, ts *httptest.Server, token string) string {
	t.Helper()
	resp, body := doJSON(t, http.MethodPost, ts.URL+"/api/chats", token, "")
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	conv := body["conversation"].(map[string]any)
	return conv["id"].(string)
}

func TestAuthentication_Required(t *testing.T) {
	ts := newTestServer(t)

	resp, _ := doJSON(t, http.MethodGet, ts.URL+"/api/chats", "", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodGet, ts.URL+"/api/chats", "tok-unknown", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestStartChat_IdempotentWhileEmpty(t *testing.T) {
	ts := newTestServer(t)

	resp, body := doJSON(t, http.MethodPost, ts.URL+"/api/chats", "tok-alice", "")
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, true, body["created"])
	first := body["conversation"].(map[string]any)["id"].(string)

	resp, body = doJSON(t, http.MethodPost, ts.URL+"/api/chats", "tok-alice", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, body["created"])
	assert.Equal(t, first, body["conversation"].(map[string]any)["id"].(string))
}

func TestGetChat_OwnershipEnforced(t *testing.T) {
	ts := newTestServer(t)
	id := startChat(t, ts, "tok-alice")

	resp, _ := doJSON(t, http.MethodGet, ts.URL+"/api/chats/"+id, "tok-alice", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodGet, ts.URL+"/api/chats/"+id, "tok-bob", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestStream_RejectsEmptyContent(t *testing.T) {
	ts := newTestServer(t)
	id := startChat(t, ts, "tok-alice")

	resp, _ := doJSON(t, http.MethodPost, ts.URL+"/api/chats/"+id+"/stream", "tok-alice", `{"content":"  "}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStream_MalformedConversationID(t *testing.T) {
	ts := newTestServer(t)

	resp, _ := doJSON(t, http.MethodPost, ts.URL+"/api/chats/not-a-uuid/stream", "tok-alice", `{"content":"hi"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

// readSSE collects message events until the done event
func readSSE(t *testing.T, resp *http.Response) []chat.StreamEvent {
	t.Helper()

	var collected []chat.StreamEvent
	scanner := bufio.NewScanner(resp.Body)
	inDone := false
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "event: done":
			inDone = true
		case strings.HasPrefix(line, "data: "):
			if inDone {
				return collected
			}
			var event chat.StreamEvent
			require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &event))
			collected = append(collected, event)
		}
	}
	t.Fatal("stream ended without done event")
	return nil
}

func TestStream_FullTurn(t *testing.T) {
	ts := newTestServer(t)
	id := startChat(t, ts, "tok-alice")

	req, err := http.NewRequest(http.MethodPost, ts.URL+"/api/chats/"+id+"/stream",
		strings.NewReader(`{"content":"Explain what this backend is doing in two sentences."}`))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer tok-alice")
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/event-stream")

	events := readSSE(t, resp)
	require.GreaterOrEqual(t, len(events), 2)

	echo := events[0]
	assert.Equal(t, chat.RolePrompt, echo.Role)
	assert.Equal(t, 0, echo.Position)
	assert.Nil(t, echo.PreviousEntryID)

	var replyContent strings.Builder
	for i, event := range events[1:] {
		assert.Equal(t, chat.RoleReply, event.Role)
		assert.Equal(t, i, event.Position)
		replyContent.WriteString(event.Content)
	}

	// The reply was committed; the history endpoint shows both entries in
	// reading order
	var page chat.HistoryPage
	require.Eventually(t, func() bool {
		resp, err := http.DefaultClient.Do(mustRequest(t, http.MethodGet, ts.URL+"/api/chats/"+id+"/messages", "tok-alice"))
		if err != nil {
			return false
		}
		defer func() { _ = resp.Body.Close() }()
		if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
			return false
		}
		return page.Total == 2 && page.Items[1].Content != ""
	}, time.Second, 20*time.Millisecond)

	assert.Equal(t, chat.RolePrompt, page.Items[0].Role)
	assert.Equal(t, chat.RoleReply, page.Items[1].Role)
	assert.Equal(t, strings.TrimSpace(replyContent.String()), strings.TrimSpace(page.Items[1].Content))
}

func TestStream_ContentViaQueryForEventSource(t *testing.T) {
	ts := newTestServer(t)
	id := startChat(t, ts, "tok-alice")

	// EventSource clients authenticate via query parameter
	url := fmt.Sprintf("%s/api/chats/%s/stream?content=hello&access_token=tok-alice", ts.URL, id)
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	events := readSSE(t, resp)
	require.NotEmpty(t, events)
	assert.Equal(t, "hello", events[0].Content)
}

func TestListMessages_QueryValidation(t *testing.T) {
	ts := newTestServer(t)
	id := startChat(t, ts, "tok-alice")

	resp, _ := doJSON(t, http.MethodGet, ts.URL+"/api/chats/"+id+"/messages?page=abc", "tok-alice", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodGet, ts.URL+"/api/chats/"+id+"/messages?role=banana", "tok-alice", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodGet, ts.URL+"/api/chats/"+id+"/messages?before=yesterday", "tok-alice", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func mustRequest(t *testing.T, method, url, token string) *http.Request {
	t.Helper()
	req, err := http.NewRequest(method, url, nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}
