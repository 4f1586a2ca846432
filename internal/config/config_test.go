package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ARIA_DATA_DIR", t.TempDir())

	cfg := Load()

	assert.Equal(t, ProviderGoogleAI, cfg.LLMProvider)
	assert.Equal(t, "gemini-2.0-flash", cfg.LLMModel)
	assert.Equal(t, SchemeTFIDF, cfg.EmbedScheme)
	assert.Equal(t, 100, cfg.EmbedDimension)
	assert.InDelta(t, 0.3, cfg.SimilarityThreshold, 1e-9)
	assert.Equal(t, 8000, cfg.ContextBudget)
	assert.Equal(t, 10, cfg.HistoryWindow)
	assert.Equal(t, "/ripout/", cfg.KillPhrase)
	assert.Equal(t, 5000, cfg.WebUIPort)
	assert.Equal(t, "Aria", cfg.CharacterName)
	assert.True(t, cfg.RAGEnabled)
	assert.False(t, cfg.GamingMode)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("ARIA_DATA_DIR", t.TempDir())
	t.Setenv("ARIA_LLM_PROVIDER", "ollama")
	t.Setenv("ARIA_LLM_MODEL", "llama3")
	t.Setenv("ARIA_TEMPERATURE", "0.2")
	t.Setenv("ARIA_MAX_TOKENS", "512")
	t.Setenv("ARIA_RAG_ENABLED", "false")
	t.Setenv("ARIA_GAMING_MODE", "1")
	t.Setenv("ARIA_TAG_TTL", "30m")
	t.Setenv("ARIA_LOG_LEVEL", "debug")

	cfg := Load()

	assert.Equal(t, ProviderOllama, cfg.LLMProvider)
	assert.Equal(t, "llama3", cfg.LLMModel)
	assert.InDelta(t, 0.2, cfg.Temperature, 1e-9)
	assert.Equal(t, 512, cfg.MaxTokens)
	assert.False(t, cfg.RAGEnabled)
	assert.True(t, cfg.GamingMode)
	assert.Equal(t, "30m0s", cfg.TagTTL.String())
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
}

func TestLoadIgnoresMalformedEnv(t *testing.T) {
	t.Setenv("ARIA_DATA_DIR", t.TempDir())
	t.Setenv("ARIA_MAX_TOKENS", "not-a-number")
	t.Setenv("ARIA_TEMPERATURE", "warm")
	t.Setenv("ARIA_TAG_TTL", "later")

	cfg := Load()

	assert.Equal(t, 300, cfg.MaxTokens)
	assert.InDelta(t, 0.7, cfg.Temperature, 1e-9)
	assert.Equal(t, "1h0m0s", cfg.TagTTL.String())
}

func TestLoadOverlaysYAMLFile(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("ARIA_DATA_DIR", dir)

	yaml := `
llm_provider: openai
llm_model: gpt-4o-mini
max_tokens: 150
character_name: Nova
web_ui_enabled: false
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "aria.yaml"), []byte(yaml), 0o644))

	cfg := Load()

	assert.Equal(t, ProviderOpenAI, cfg.LLMProvider)
	assert.Equal(t, "gpt-4o-mini", cfg.LLMModel)
	assert.Equal(t, 150, cfg.MaxTokens)
	assert.Equal(t, "Nova", cfg.CharacterName)
	assert.False(t, cfg.WebUIEnabled)
	// Values the file does not set keep their defaults.
	assert.Equal(t, SchemeTFIDF, cfg.EmbedScheme)
}

func TestLoadSurvivesBrokenYAML(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("ARIA_DATA_DIR", dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "aria.yaml"), []byte("{not yaml"), 0o644))

	cfg := Load()
	assert.Equal(t, ProviderGoogleAI, cfg.LLMProvider)
}

func TestValidate(t *testing.T) {
	base := func() Config {
		return Config{
			LLMProvider:         ProviderGoogleAI,
			EmbedScheme:         SchemeTFIDF,
			SimilarityThreshold: 0.3,
			ContextBudget:       8000,
		}
	}

	t.Run("valid", func(t *testing.T) {
		assert.NoError(t, base().Validate())
	})

	t.Run("unknown provider", func(t *testing.T) {
		cfg := base()
		cfg.LLMProvider = "skynet"
		assert.ErrorContains(t, cfg.Validate(), "unsupported LLM provider")
	})

	t.Run("unknown scheme", func(t *testing.T) {
		cfg := base()
		cfg.EmbedScheme = "word2vec"
		assert.ErrorContains(t, cfg.Validate(), "unsupported embedding scheme")
	})

	t.Run("threshold out of range", func(t *testing.T) {
		cfg := base()
		cfg.SimilarityThreshold = 1.5
		assert.ErrorContains(t, cfg.Validate(), "similarity threshold")
	})

	t.Run("zero budget", func(t *testing.T) {
		cfg := base()
		cfg.ContextBudget = 0
		assert.ErrorContains(t, cfg.Validate(), "context budget")
	})
}

func TestPath(t *testing.T) {
	cfg := Config{DataDir: "/var/lib/aria"}
	assert.Equal(t, filepath.Join("/var/lib/aria", "aria.db"), cfg.Path("aria.db"))
	assert.Equal(t, filepath.Join("/var/lib/aria", "profiles", "gaming.json"), cfg.Path("profiles", "gaming.json"))
}

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLogLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, parseLogLevel("warning"))
	assert.Equal(t, slog.LevelError, parseLogLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLogLevel("chatty"))
}
