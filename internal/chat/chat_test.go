package chat

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"github.com/seliel/aria/internal/character"
	"github.com/seliel/aria/internal/embedding"
	"github.com/seliel/aria/internal/memory"
)

// fakeModel is a scripted llms.Model.
type fakeModel struct {
	mu         sync.Mutex
	response   string
	err        error
	chunks     []string
	lastSystem string
	lastMax    int
	calls      int

	started chan struct{}
	release chan struct{}
}

func (f *fakeModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	f.mu.Lock()
	f.calls++
	for _, m := range messages {
		if m.Role == llms.ChatMessageTypeSystem {
			if text, ok := m.Parts[0].(llms.TextContent); ok {
				f.lastSystem = text.Text
			}
		}
	}
	co := llms.CallOptions{}
	for _, o := range options {
		o(&co)
	}
	f.lastMax = co.MaxTokens
	f.mu.Unlock()

	if f.started != nil {
		close(f.started)
		<-f.release
	}
	if co.StreamingFunc != nil {
		var b strings.Builder
		for _, chunk := range f.chunks {
			if err := co.StreamingFunc(ctx, []byte(chunk)); err != nil {
				return nil, err
			}
			b.WriteString(chunk)
		}
		return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: b.String()}}}, nil
	}
	if f.err != nil {
		return nil, f.err
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: f.response}}}, nil
}

func (f *fakeModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return f.response, f.err
}

func testDeps(t *testing.T) Deps {
	t.Helper()
	char, err := character.Load(filepath.Join(t.TempDir(), "character.json"), "Aria", nil)
	require.NoError(t, err)
	store := memory.New(filepath.Join(t.TempDir(), "aria.db"), embedding.NewFeature(), memory.DefaultOptions(), nil, nil)
	t.Cleanup(func() { _ = store.Close() })
	return Deps{Store: store, Character: char}
}

func newTestController(t *testing.T, model llms.Model, opts Options) *Controller {
	t.Helper()
	return NewController(model, testDeps(t), opts, nil, nil)
}

func TestClean(t *testing.T) {
	all := CleanOptions{RemoveAsterisks: true, StripStageDirections: true, NewlineCut: true}
	tests := []struct {
		name string
		in   string
		opts CleanOptions
		want string
	}{
		{"role prefix stripped", "Assistant: hello there", CleanOptions{}, "hello there"},
		{"ai prefix stripped", "AI: hi", CleanOptions{}, "hi"},
		{"asterisks removed", "*waves* hello", CleanOptions{RemoveAsterisks: true}, "waves hello"},
		{"asterisks kept when off", "*waves* hi", CleanOptions{}, "*waves* hi"},
		{"stage directions stripped", "hello [smiles warmly] there (giggles)", CleanOptions{StripStageDirections: true}, "hello there"},
		{"newline cut keeps first line", "first line\nsecond line", CleanOptions{NewlineCut: true}, "first line"},
		{"all stages", "Reply: *grins* sure! [nods]\nmore text", all, "grins sure!"},
		{"whitespace collapsed", "too   many    spaces", CleanOptions{}, "too many spaces"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Clean(tt.in, tt.opts))
		})
	}
}

func TestSendMessageRecordsExchange(t *testing.T) {
	model := &fakeModel{response: "hello friend"}
	c := newTestController(t, model, Options{})

	resp, err := c.SendMessage(context.Background(), "u", "hi there", "local", "s1")
	require.NoError(t, err)
	assert.Equal(t, "hello friend", resp)
	assert.Equal(t, "hello friend", c.LastResponse())

	history := c.History()
	require.Len(t, history, 1)
	assert.Equal(t, "hi there", history[0].User)
	assert.Equal(t, StateIdle, c.State())
}

func TestSendMessagePromptContainsPersonaAndHistory(t *testing.T) {
	model := &fakeModel{response: "ok"}
	c := newTestController(t, model, Options{})
	ctx := context.Background()

	_, err := c.SendMessage(ctx, "u", "first message", "local", "s1")
	require.NoError(t, err)
	_, err = c.SendMessage(ctx, "u", "second message", "local", "s1")
	require.NoError(t, err)

	assert.Contains(t, model.lastSystem, "You are Aria")
	assert.Contains(t, model.lastSystem, "User: first message")
}

func TestSendMessagePromptContainsInsights(t *testing.T) {
	model := &fakeModel{response: "ok"}
	deps := testDeps(t)
	deps.Insights = func(ctx context.Context, query string, limit int) []string {
		return []string{"user chats mostly in the evening"}
	}
	c := NewController(model, deps, Options{Retrieval: true}, nil, nil)

	_, err := c.SendMessage(context.Background(), "u", "good evening", "local", "s1")
	require.NoError(t, err)

	assert.Contains(t, model.lastSystem, "Observations from past sessions:")
	assert.Contains(t, model.lastSystem, "user chats mostly in the evening")
}

func TestSendMessageFallbackOnProviderError(t *testing.T) {
	model := &fakeModel{err: errors.New("provider down")}
	c := newTestController(t, model, Options{})

	resp, err := c.SendMessage(context.Background(), "u", "hi", "local", "s1")
	require.NoError(t, err)
	assert.Equal(t, Fallback, resp)

	// The failed exchange is still recorded.
	history := c.History()
	require.Len(t, history, 1)
	assert.Equal(t, Fallback, history[0].AI)
}

func TestSendMessageBusy(t *testing.T) {
	model := &fakeModel{response: "slow", started: make(chan struct{}), release: make(chan struct{})}
	c := newTestController(t, model, Options{})
	ctx := context.Background()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = c.SendMessage(ctx, "u", "first", "local", "s1")
	}()

	<-model.started
	_, err := c.SendMessage(ctx, "u", "second", "local", "s1")
	assert.ErrorIs(t, err, ErrBusy)

	close(model.release)
	<-done
	assert.Equal(t, StateIdle, c.State())
}

func TestStopGenerationKeepsPartial(t *testing.T) {
	model := &fakeModel{chunks: []string{"partial ", "rest ", "never"}}
	c := newTestController(t, model, Options{Stream: true})

	var chunks []string
	c.OnChunk(func(chunk string) {
		chunks = append(chunks, chunk)
		c.StopGeneration()
	})

	resp, err := c.SendMessage(context.Background(), "u", "hi", "local", "s1")
	require.NoError(t, err)
	assert.Equal(t, "partial", resp)
	assert.Equal(t, []string{"partial "}, chunks)
}

func TestKillPhrase(t *testing.T) {
	model := &fakeModel{response: "something /ripout/ here"}
	c := newTestController(t, model, Options{KillPhrase: "/ripout/"})

	resp, err := c.SendMessage(context.Background(), "u", "hi", "local", "s1")
	assert.ErrorIs(t, err, ErrKillPhrase)
	assert.NotEmpty(t, resp)
	// The exchange is recorded before the harness shuts down.
	assert.Len(t, c.History(), 1)
}

func TestRegenerateLast(t *testing.T) {
	model := &fakeModel{response: "first answer"}
	c := newTestController(t, model, Options{})
	ctx := context.Background()

	_, err := c.SendMessage(ctx, "u", "question", "local", "s1")
	require.NoError(t, err)

	model.response = "second answer"
	resp, err := c.RegenerateLast(ctx)
	require.NoError(t, err)
	assert.Equal(t, "second answer", resp)

	history := c.History()
	require.Len(t, history, 1)
	assert.Equal(t, "second answer", history[0].AI)
}

func TestRegenerateWithoutHistory(t *testing.T) {
	c := newTestController(t, &fakeModel{response: "x"}, Options{})
	_, err := c.RegenerateLast(context.Background())
	require.Error(t, err)
}

func TestHistoryWindow(t *testing.T) {
	model := &fakeModel{response: "ok"}
	c := newTestController(t, model, Options{HistoryWindow: 2})
	ctx := context.Background()

	for _, msg := range []string{"one", "two", "three"} {
		_, err := c.SendMessage(ctx, "u", msg, "local", "s1")
		require.NoError(t, err)
	}

	history := c.History()
	require.Len(t, history, 2)
	assert.Equal(t, "two", history[0].User)
	assert.Equal(t, "three", history[1].User)
}

func TestSetMaxTokens(t *testing.T) {
	model := &fakeModel{response: "ok"}
	c := newTestController(t, model, Options{MaxTokens: 100})

	c.SetMaxTokens(42)
	_, err := c.SendMessage(context.Background(), "u", "hi", "local", "s1")
	require.NoError(t, err)
	assert.Equal(t, 42, model.lastMax)

	// Non-positive values are ignored.
	c.SetMaxTokens(0)
	assert.Equal(t, 42, c.MaxTokens())
}

func TestClearHistory(t *testing.T) {
	model := &fakeModel{response: "ok"}
	c := newTestController(t, model, Options{})

	_, err := c.SendMessage(context.Background(), "u", "hi", "local", "s1")
	require.NoError(t, err)
	c.ClearHistory()
	assert.Empty(t, c.History())
	assert.Empty(t, c.LastResponse())
}
