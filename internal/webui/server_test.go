package webui

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seliel/aria/internal/memory"
	"github.com/seliel/aria/internal/metrics"
	"github.com/seliel/aria/internal/prompt"
)

func testServer(t *testing.T, deps Deps) (*Server, *httptest.Server) {
	t.Helper()
	s := New("127.0.0.1:0", deps, nil)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, ts
}

func TestHealth(t *testing.T) {
	_, ts := testServer(t, Deps{})
	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHistory(t *testing.T) {
	deps := Deps{History: func() []prompt.Exchange {
		return []prompt.Exchange{{User: "hi", AI: "hello"}}
	}}
	_, ts := testServer(t, deps)

	resp, err := http.Get(ts.URL + "/history")
	require.NoError(t, err)
	defer resp.Body.Close()

	var out []struct {
		User string `json:"user"`
		AI   string `json:"ai"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Len(t, out, 1)
	assert.Equal(t, "hi", out[0].User)
	assert.Equal(t, "hello", out[0].AI)
}

func TestStats(t *testing.T) {
	collector := metrics.NewCollector()
	collector.RecordTiming(metrics.OpMemoryStore, 5*time.Millisecond)
	deps := Deps{
		Metrics: collector,
		StoreStats: func(context.Context) memory.Stats {
			return memory.Stats{Turns: 7}
		},
	}
	_, ts := testServer(t, deps)

	resp, err := http.Get(ts.URL + "/stats")
	require.NoError(t, err)
	defer resp.Body.Close()

	var out struct {
		Store struct {
			Turns int64 `json:"turns"`
		} `json:"store"`
		Runtime struct {
			MemoryStore *struct {
				Count int64 `json:"count"`
			} `json:"memory_store"`
		} `json:"runtime"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, int64(7), out.Store.Turns)
	require.NotNil(t, out.Runtime.MemoryStore)
	assert.Equal(t, int64(1), out.Runtime.MemoryStore.Count)
}

func TestChatQueuesInputAndEnqueuesPipe(t *testing.T) {
	enqueued := 0
	var s *Server
	s, ts := testServer(t, Deps{EnqueueChat: func() { enqueued++ }})

	resp, err := http.Post(ts.URL+"/chat", "application/json",
		strings.NewReader(`{"user":"alice","text":"hello there"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, 1, enqueued)

	msg, ok := s.NextInput()
	require.True(t, ok)
	assert.Equal(t, "alice", msg.User)
	assert.Equal(t, "hello there", msg.Text)

	_, ok = s.NextInput()
	assert.False(t, ok)
}

func TestChatValidation(t *testing.T) {
	_, ts := testServer(t, Deps{})

	resp, err := http.Post(ts.URL+"/chat", "application/json", strings.NewReader(`{"text":"   "}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/chat")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestChatDefaultsUser(t *testing.T) {
	s, ts := testServer(t, Deps{})
	resp, err := http.Post(ts.URL+"/chat", "application/json", strings.NewReader(`{"text":"anonymous"}`))
	require.NoError(t, err)
	resp.Body.Close()

	msg, ok := s.NextInput()
	require.True(t, ok)
	assert.Equal(t, "web", msg.User)
}

func TestNext(t *testing.T) {
	enqueued := 0
	_, ts := testServer(t, Deps{EnqueueNext: func() { enqueued++ }})

	resp, err := http.Post(ts.URL+"/next", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, 1, enqueued)
}

func TestWebsocketBroadcast(t *testing.T) {
	s, ts := testServer(t, Deps{})

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	// Wait for registration before broadcasting.
	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return len(s.clients) == 1
	}, time.Second, 5*time.Millisecond)

	s.BroadcastChunk("hel")
	s.BroadcastResponse("hello")

	var ev struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, "chunk", ev.Type)
	assert.Equal(t, "hel", ev.Text)

	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, "response", ev.Type)
	assert.Equal(t, "hello", ev.Text)
}
