// Package app wires the harness together: an explicit, ordered bootstrap
// of every subsystem, the pipe handlers that serialize conversation work,
// and the foreground command loop.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/google/uuid"

	"github.com/seliel/aria/internal/alarm"
	"github.com/seliel/aria/internal/avatar"
	"github.com/seliel/aria/internal/character"
	"github.com/seliel/aria/internal/chat"
	"github.com/seliel/aria/internal/config"
	"github.com/seliel/aria/internal/embedding"
	"github.com/seliel/aria/internal/gaming"
	"github.com/seliel/aria/internal/lorebook"
	"github.com/seliel/aria/internal/memory"
	"github.com/seliel/aria/internal/metrics"
	"github.com/seliel/aria/internal/pipes"
	"github.com/seliel/aria/internal/retrospect"
	"github.com/seliel/aria/internal/tags"
	"github.com/seliel/aria/internal/taskprofile"
	"github.com/seliel/aria/internal/voice"
	"github.com/seliel/aria/internal/webui"
)

// LocalUser is the user ID of the person at the keyboard.
const LocalUser = "local"

// fitCorpusLimit bounds how many turns seed the TF-IDF vocabulary.
const fitCorpusLimit = 2000

// App is the assembled harness.
type App struct {
	cfg     config.Config
	logger  *slog.Logger
	cleanup func() error
	stats   *metrics.Collector

	store      *memory.Store
	char       *character.Character
	tasks      *taskprofile.Manager
	lore       *lorebook.Book
	tags       *tags.Manager
	controller *chat.Controller
	dispatcher *pipes.Dispatcher
	alarms     *alarm.Scheduler
	speaker    voice.Speaker
	avatar     *avatar.Client
	web        *webui.Server
	game       *gaming.Mode
	retro      *retrospect.Analyzer

	sessionID string

	// pending inputs for the main chat and alarm pipes
	mu           sync.Mutex
	pendingText  string
	pendingAlarm []alarm.Alarm
}

// New bootstraps every subsystem in dependency order. Any failure aborts
// startup; nothing starts half-wired.
func New(ctx context.Context, cfg config.Config) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	logger, cleanup := config.SetupLogger(cfg.Path(cfg.LogFile), cfg.LogLevel)
	a := &App{
		cfg:       cfg,
		logger:    logger,
		cleanup:   cleanup,
		stats:     metrics.NewCollector(),
		sessionID: uuid.NewString(),
	}

	embedder, err := a.buildEmbedder(ctx)
	if err != nil {
		cleanup()
		return nil, err
	}

	a.char, err = character.Load(cfg.Path("character.json"), cfg.CharacterName, logger)
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("load character: %w", err)
	}
	a.tasks, err = taskprofile.LoadDir(cfg.Path("profiles"), logger)
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("load task profiles: %w", err)
	}
	if cfg.LorebookEnabled {
		a.lore, err = lorebook.Load(cfg.Path("lorebook.json"), logger)
		if err != nil {
			cleanup()
			return nil, fmt.Errorf("load lorebook: %w", err)
		}
	}
	if cfg.AutoTagging {
		rules, err := tags.LoadRules(cfg.Path("tag_rules.json"), logger)
		if err != nil {
			cleanup()
			return nil, fmt.Errorf("load tag rules: %w", err)
		}
		a.tags = tags.NewManager(rules, cfg.Path("tag_history.jsonl"), cfg.TagTTL, cfg.MaxActiveTags, logger)
	}

	model, err := chat.NewModel(ctx, cfg)
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("create model: %w", err)
	}
	a.retro = retrospect.New(model, a.store, logger)
	a.controller = chat.NewController(model, chat.Deps{
		Store:     a.store,
		Character: a.char,
		Tasks:     a.tasks,
		Lore:      a.lore,
		Tags:      a.tags,
		Insights:  a.retro.Relevant,
	}, chat.Options{
		Temperature:   cfg.Temperature,
		TopP:          cfg.TopP,
		MaxTokens:     cfg.MaxTokens,
		HistoryWindow: cfg.HistoryWindow,
		PromptBudget:  cfg.ContextBudget,
		Stream:        cfg.StreamChats,
		Retrieval:     cfg.RAGEnabled,
		KillPhrase:    cfg.KillPhrase,
		AutoTask:      cfg.AutoTagging,
		Clean: chat.CleanOptions{
			RemoveAsterisks:      cfg.RemoveAsterisks,
			StripStageDirections: cfg.RPSuppression,
			NewlineCut:           cfg.NewlineCut,
		},
	}, logger, a.stats)

	a.alarms, err = alarm.Load(cfg.Path("alarms.json"), logger)
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("load alarms: %w", err)
	}

	a.speaker = voice.NewConsoleSpeaker(logger)

	if cfg.VTubeEnabled {
		emotes, err := avatar.LoadEmotes(cfg.Path("emotes.json"), logger)
		if err != nil {
			cleanup()
			return nil, fmt.Errorf("load emote map: %w", err)
		}
		a.avatar = avatar.NewClient(cfg.VTubeURL, emotes, logger)
		a.controller.OnResponse(a.avatar.SetEmotionHint)
	}

	if cfg.GamingMode {
		a.game, err = gaming.Load(cfg.Path("game.json"), logger)
		if err != nil {
			cleanup()
			return nil, fmt.Errorf("load game profile: %w", err)
		}
	}

	a.dispatcher = pipes.New(logger, a.stats)
	a.registerHandlers()

	if cfg.WebUIEnabled {
		a.web = webui.New(fmt.Sprintf("localhost:%d", cfg.WebUIPort), webui.Deps{
			History:     a.controller.History,
			StoreStats:  a.store.CountStats,
			Metrics:     a.stats,
			EnqueueChat: func() { a.dispatcher.Enqueue(procWebChat) },
			EnqueueNext: func() { a.dispatcher.Enqueue(procWebNext) },
		}, logger)
		a.controller.OnChunk(a.web.BroadcastChunk)
		a.controller.OnResponse(a.web.BroadcastResponse)
	}

	logger.Info("bootstrap complete",
		"provider", cfg.LLMProvider,
		"model", cfg.LLMModel,
		"embed_scheme", embedder.Scheme(),
		"memory_only", a.store.MemoryOnly(),
		"session", a.sessionID,
	)
	return a, nil
}

// buildEmbedder creates the configured embedding scheme and the store on
// top of it, fitting the TF-IDF vocabulary from the existing log.
func (a *App) buildEmbedder(ctx context.Context) (embedding.Embedder, error) {
	var embedder embedding.Embedder
	switch a.cfg.EmbedScheme {
	case config.SchemeFeature:
		embedder = embedding.NewFeature()
	case config.SchemeTFIDF:
		embedder = embedding.NewTFIDF(a.cfg.EmbedDimension)
	default:
		return nil, fmt.Errorf("unsupported embedding scheme: %s", a.cfg.EmbedScheme)
	}

	a.store = memory.New(a.cfg.Path("aria.db"), embedder, memory.Options{
		Threshold:       a.cfg.SimilarityThreshold,
		SearchWindow:    a.cfg.SearchWindow,
		RecentCacheSize: a.cfg.RecentCacheSize,
		ContextBudget:   a.cfg.ContextBudget,
	}, a.logger, a.stats)

	if tfidf, ok := embedder.(*embedding.TFIDF); ok {
		corpus := a.store.AllTexts(ctx, fitCorpusLimit)
		tfidf.Fit(corpus)
		if !tfidf.Fitted() {
			a.logger.Info("empty corpus, similarity search starts cold")
		}
	}
	return embedder, nil
}

// Close releases the store and flushes the log file.
func (a *App) Close() {
	if a.avatar != nil {
		_ = a.avatar.Close()
	}
	if a.store != nil {
		_ = a.store.Close()
	}
	if a.cleanup != nil {
		_ = a.cleanup()
	}
}

// Store exposes the memory store for the CLI subcommands.
func (a *App) Store() *memory.Store { return a.store }
