package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tmc/langchaingo/llms"

	"github.com/seliel/aria/internal/character"
	"github.com/seliel/aria/internal/lorebook"
	"github.com/seliel/aria/internal/memory"
	"github.com/seliel/aria/internal/metrics"
	"github.com/seliel/aria/internal/prompt"
	"github.com/seliel/aria/internal/tags"
	"github.com/seliel/aria/internal/taskprofile"
)

// State of the controller.
type State int32

const (
	StateIdle State = iota
	StateGenerating
)

// Fallback is spoken when the provider fails; the exchange is still
// recorded so the conversation log has no holes.
const Fallback = "I'm having trouble thinking right now. Could you try again?"

var (
	// ErrBusy means a response is already being generated.
	ErrBusy = errors.New("response generation already in progress")
	// ErrKillPhrase is returned alongside the response when the model
	// output contains the configured kill phrase.
	ErrKillPhrase = errors.New("kill phrase detected in response")

	errStopped = errors.New("generation stopped")
)

// Deps are the collaborators the controller draws prompt sections from.
// Everything except Character may be nil; nil collaborators contribute
// nothing to the prompt.
type Deps struct {
	Store     *memory.Store
	Character *character.Character
	Tasks     *taskprofile.Manager
	Lore      *lorebook.Book
	Tags      *tags.Manager
	// Insights returns background-analyzer observations relevant to a query.
	Insights func(ctx context.Context, query string, limit int) []string
}

// Options tunes generation and post-processing.
type Options struct {
	Temperature   float64
	TopP          float64
	MaxTokens     int
	HistoryWindow int
	PromptBudget  int
	Stream        bool
	// Retrieval enables the memory and similar-turn prompt sections.
	// Turns are persisted either way.
	Retrieval  bool
	KillPhrase string
	// AutoTask switches the task profile to the one recommended by the
	// active tags after every exchange.
	AutoTask bool
	Clean    CleanOptions
}

// Controller owns the conversation state and drives the LLM.
type Controller struct {
	model  llms.Model
	deps   Deps
	opts   Options
	logger *slog.Logger
	stats  *metrics.Collector

	mu        sync.Mutex
	state     State
	history   []prompt.Exchange
	last      *pendingInput
	maxTokens int

	stop atomic.Bool

	obsMu    sync.RWMutex
	onChunk  []func(string)
	onAnswer []func(string)
}

type pendingInput struct {
	userID    string
	text      string
	platform  string
	sessionID string
}

// NewController builds a controller. The model and character are required.
func NewController(model llms.Model, deps Deps, opts Options, logger *slog.Logger, stats *metrics.Collector) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.HistoryWindow <= 0 {
		opts.HistoryWindow = 10
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 300
	}
	return &Controller{
		model:     model,
		deps:      deps,
		opts:      opts,
		logger:    logger,
		stats:     stats,
		maxTokens: opts.MaxTokens,
	}
}

// State returns the current controller state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// OnChunk registers an observer for streamed chunks.
func (c *Controller) OnChunk(fn func(string)) {
	c.obsMu.Lock()
	defer c.obsMu.Unlock()
	c.onChunk = append(c.onChunk, fn)
}

// OnResponse registers an observer for finished responses.
func (c *Controller) OnResponse(fn func(string)) {
	c.obsMu.Lock()
	defer c.obsMu.Unlock()
	c.onAnswer = append(c.onAnswer, fn)
}

// SendMessage generates a reply to the user's text. Provider failures yield
// the fallback apology instead of an error; the only non-nil errors are
// ErrBusy and ErrKillPhrase (the latter still carries a valid response).
func (c *Controller) SendMessage(ctx context.Context, userID, text, platform, sessionID string) (string, error) {
	c.mu.Lock()
	if c.state == StateGenerating {
		c.mu.Unlock()
		return "", ErrBusy
	}
	c.state = StateGenerating
	c.last = &pendingInput{userID: userID, text: text, platform: platform, sessionID: sessionID}
	maxTokens := c.maxTokens
	c.mu.Unlock()

	c.stop.Store(false)
	defer func() {
		c.mu.Lock()
		c.state = StateIdle
		c.mu.Unlock()
	}()

	system := c.buildPrompt(ctx, userID, text)

	start := time.Now()
	raw, err := c.generate(ctx, system, text, maxTokens)
	duration := time.Since(start)

	op := metrics.OpGenerate
	if c.opts.Stream {
		op = metrics.OpStream
	}
	if c.stats != nil {
		c.stats.RecordLLMUsage(op, duration, estimateTokens(system)+estimateTokens(text), estimateTokens(raw))
	}

	if err != nil {
		c.logger.Error("generation failed", "error", err, "duration_ms", duration.Milliseconds())
		raw = Fallback
	}

	response := Clean(raw, c.opts.Clean)
	if response == "" {
		response = Fallback
	}

	c.record(ctx, userID, text, response, platform, sessionID)
	c.notifyResponse(response)

	if c.opts.KillPhrase != "" && strings.Contains(raw, c.opts.KillPhrase) {
		c.logger.Warn("kill phrase detected", "phrase", c.opts.KillPhrase)
		return response, ErrKillPhrase
	}
	return response, nil
}

// buildPrompt renders every prompt section and assembles them under budget.
func (c *Controller) buildPrompt(ctx context.Context, userID, text string) string {
	var s prompt.Sections
	name := "Assistant"
	if c.deps.Character != nil {
		s.Persona = c.deps.Character.Prompt()
		name = c.deps.Character.Name()
	}
	if c.deps.Tasks != nil {
		s.Task = c.deps.Tasks.Prompt()
	}
	if c.deps.Tags != nil {
		s.Tags = c.deps.Tags.Context()
	}
	if c.deps.Lore != nil {
		s.Lore = c.deps.Lore.Context(text)
	}
	if c.deps.Store != nil && c.opts.Retrieval {
		s.Memories = formatMemories(c.deps.Store.RelevantMemories(ctx, text, userID, 5))
		s.SimilarTurns = formatSimilar(c.deps.Store.SearchSimilarTurns(ctx, text, 3))
	}
	if c.deps.Insights != nil && c.opts.Retrieval {
		s.Insights = formatInsights(c.deps.Insights(ctx, text, 3))
	}

	c.mu.Lock()
	history := make([]prompt.Exchange, len(c.history))
	copy(history, c.history)
	c.mu.Unlock()
	s.History = prompt.FormatHistory(name, history, c.opts.HistoryWindow)

	return prompt.Build(s, c.opts.PromptBudget)
}

func formatMemories(facts []memory.FactMatch) string {
	if len(facts) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Relevant memories about the user:\n")
	for _, f := range facts {
		fmt.Fprintf(&b, "- [%s] %s\n", f.Kind, f.Content)
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatInsights(insights []string) string {
	if len(insights) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Observations from past sessions:\n")
	for _, in := range insights {
		fmt.Fprintf(&b, "- %s\n", in)
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatSimilar(matches []memory.TurnMatch) string {
	if len(matches) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Similar past conversations:\n")
	for _, m := range matches {
		fmt.Fprintf(&b, "- User said: %q and you replied: %q\n", m.UserText, m.AIText)
	}
	return strings.TrimRight(b.String(), "\n")
}

// generate runs one completion. In streaming mode the stop flag is checked
// per chunk; a stop keeps the partial text instead of failing.
func (c *Controller) generate(ctx context.Context, system, user string, maxTokens int) (string, error) {
	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, system),
		llms.TextParts(llms.ChatMessageTypeHuman, user),
	}

	callOpts := []llms.CallOption{
		llms.WithTemperature(c.opts.Temperature),
		llms.WithTopP(c.opts.TopP),
		llms.WithMaxTokens(maxTokens),
	}

	var partial strings.Builder
	if c.opts.Stream {
		callOpts = append(callOpts, llms.WithStreamingFunc(func(_ context.Context, chunk []byte) error {
			if c.stop.Load() {
				return errStopped
			}
			partial.Write(chunk)
			c.notifyChunk(string(chunk))
			return nil
		}))
	}

	resp, err := c.model.GenerateContent(ctx, messages, callOpts...)
	if err != nil {
		if c.opts.Stream && errors.Is(err, errStopped) {
			c.logger.Info("generation stopped, keeping partial response", "len", partial.Len())
			return partial.String(), nil
		}
		return "", fmt.Errorf("generate: %w", err)
	}
	if len(resp.Choices) == 0 {
		if c.opts.Stream && partial.Len() > 0 {
			return partial.String(), nil
		}
		return "", fmt.Errorf("no response choices")
	}
	if content := resp.Choices[0].Content; content != "" {
		return content, nil
	}
	return partial.String(), nil
}

// record appends the exchange to history, persists it and runs the
// follow-up hooks (tag detection, task switching).
func (c *Controller) record(ctx context.Context, userID, userText, response, platform, sessionID string) {
	c.mu.Lock()
	c.history = append(c.history, prompt.Exchange{User: userText, AI: response})
	if len(c.history) > c.opts.HistoryWindow {
		c.history = c.history[len(c.history)-c.opts.HistoryWindow:]
	}
	c.mu.Unlock()

	if c.deps.Store != nil {
		c.deps.Store.StoreTurn(ctx, memory.TurnInput{
			UserID:    userID,
			UserText:  userText,
			AIText:    response,
			Platform:  platform,
			SessionID: sessionID,
		})
	}
	c.logger.Info("exchange recorded",
		"user", userID,
		"platform", platform,
		"input_chars", len(userText),
		"response_chars", len(response),
	)

	if c.deps.Tags != nil {
		c.deps.Tags.Detect(userText)
		if c.opts.AutoTask && c.deps.Tasks != nil {
			if task := c.deps.Tags.RecommendedTask(); task != "" {
				if err := c.deps.Tasks.SetCurrent(task); err != nil {
					c.logger.Warn("task switch failed", "task", task, "error", err)
				}
			}
		}
	}
}

// RegenerateLast drops the last exchange and answers the same input again.
// No-op error when there is nothing to regenerate.
func (c *Controller) RegenerateLast(ctx context.Context) (string, error) {
	c.mu.Lock()
	if c.state == StateGenerating {
		c.mu.Unlock()
		return "", ErrBusy
	}
	if c.last == nil || len(c.history) == 0 || c.history[len(c.history)-1].AI == "" {
		c.mu.Unlock()
		return "", errors.New("nothing to regenerate")
	}
	c.history = c.history[:len(c.history)-1]
	last := *c.last
	c.mu.Unlock()

	return c.SendMessage(ctx, last.userID, last.text, last.platform, last.sessionID)
}

// StopGeneration requests a cooperative stop of the current streaming
// generation. Single-shot generations are unaffected.
func (c *Controller) StopGeneration() {
	c.stop.Store(true)
}

// SetMaxTokens adjusts the response length cap for subsequent generations.
func (c *Controller) SetMaxTokens(n int) {
	if n <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.maxTokens = n
}

// MaxTokens returns the current response length cap.
func (c *Controller) MaxTokens() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.maxTokens
}

// ClearHistory wipes the in-memory conversation window. The persisted log
// is untouched.
func (c *Controller) ClearHistory() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.history = nil
	c.last = nil
}

// History returns a copy of the conversation window.
func (c *Controller) History() []prompt.Exchange {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]prompt.Exchange, len(c.history))
	copy(out, c.history)
	return out
}

// LastResponse returns the most recent AI reply, or "".
func (c *Controller) LastResponse() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.history) == 0 {
		return ""
	}
	return c.history[len(c.history)-1].AI
}

func (c *Controller) notifyChunk(chunk string) {
	c.obsMu.RLock()
	defer c.obsMu.RUnlock()
	for _, fn := range c.onChunk {
		fn(chunk)
	}
}

func (c *Controller) notifyResponse(response string) {
	c.obsMu.RLock()
	defer c.obsMu.RUnlock()
	for _, fn := range c.onAnswer {
		fn(response)
	}
}

// estimateTokens is a rough chars/4 estimate, good enough for metrics.
func estimateTokens(text string) int64 {
	return int64(len(text)/4) + 1
}
