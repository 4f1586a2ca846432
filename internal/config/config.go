// Package config holds runtime configuration for the aria harness.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// LLM provider names.
const (
	ProviderGoogleAI  = "googleai"
	ProviderOllama    = "ollama"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderBedrock   = "bedrock"
)

// Embedding scheme names. A store only ever holds vectors from one scheme.
const (
	SchemeTFIDF   = "tfidf"
	SchemeFeature = "feature"
)

// Config holds all configuration values.
type Config struct {
	// Data layout
	DataDir string `yaml:"data_dir"`

	// LLM generation
	LLMProvider     string  `yaml:"llm_provider"`
	LLMModel        string  `yaml:"llm_model"`
	GeminiAPIKey    string  `yaml:"-"`
	OpenAIAPIKey    string  `yaml:"-"`
	AnthropicAPIKey string  `yaml:"-"`
	OllamaHost      string  `yaml:"ollama_host"`
	Temperature     float64 `yaml:"temperature"`
	TopP            float64 `yaml:"top_p"`
	MaxTokens       int     `yaml:"max_tokens"`

	// Embedding / retrieval
	EmbedScheme         string  `yaml:"embed_scheme"`
	EmbedDimension      int     `yaml:"embed_dimension"`
	SimilarityThreshold float64 `yaml:"similarity_threshold"`
	SearchWindow        int     `yaml:"search_window"`
	RecentCacheSize     int     `yaml:"recent_cache_size"`
	ContextBudget       int     `yaml:"context_budget"`
	HistoryWindow       int     `yaml:"history_window"`

	// Feature toggles
	RAGEnabled      bool `yaml:"rag_enabled"`
	LorebookEnabled bool `yaml:"lorebook_enabled"`
	AutoTagging     bool `yaml:"auto_tagging"`
	StreamChats     bool `yaml:"stream_chats"`
	SpeakShadowChat bool `yaml:"speak_shadow_chats"`
	SemiAutoChat    bool `yaml:"semi_auto_chat"`
	AutoChat        bool `yaml:"auto_chat"`
	GamingMode      bool `yaml:"gaming_mode"`
	VTubeEnabled    bool `yaml:"vtube_enabled"`
	WebUIEnabled    bool `yaml:"web_ui_enabled"`

	// Response cleanup
	RemoveAsterisks bool `yaml:"remove_asterisks"`
	RPSuppression   bool `yaml:"rp_suppression"`
	NewlineCut      bool `yaml:"newline_cut"`

	// Tags
	TagTTL           time.Duration `yaml:"tag_ttl"`
	TagDecayInterval time.Duration `yaml:"tag_decay_interval"`
	MaxActiveTags    int           `yaml:"max_active_tags"`

	// Background analyzers
	RetrospectInterval time.Duration `yaml:"retrospect_interval"`

	// External surfaces
	WebUIPort int    `yaml:"web_ui_port"`
	VTubeURL  string `yaml:"vtube_url"`

	// Character
	CharacterName string `yaml:"character_name"`

	// Logging
	LogFile  string     `yaml:"log_file"`
	LogLevel slog.Level `yaml:"-"`

	// Hard shutdown phrase checked in AI output.
	KillPhrase string `yaml:"kill_phrase"`
}

// Load reads configuration from environment variables, then overlays an
// optional aria.yaml in the data directory.
func Load() Config {
	cfg := Config{
		DataDir: getEnv("ARIA_DATA_DIR", "data"),

		LLMProvider:     getEnv("ARIA_LLM_PROVIDER", ProviderGoogleAI),
		LLMModel:        getEnv("ARIA_LLM_MODEL", "gemini-2.0-flash"),
		GeminiAPIKey:    os.Getenv("GEMINI_API_KEY"),
		OpenAIAPIKey:    os.Getenv("OPENAI_API_KEY"),
		AnthropicAPIKey: os.Getenv("ANTHROPIC_API_KEY"),
		OllamaHost:      getEnv("OLLAMA_HOST", "http://localhost:11434"),
		Temperature:     getEnvFloat("ARIA_TEMPERATURE", 0.7),
		TopP:            getEnvFloat("ARIA_TOP_P", 0.9),
		MaxTokens:       getEnvInt("ARIA_MAX_TOKENS", 300),

		EmbedScheme:         getEnv("ARIA_EMBED_SCHEME", SchemeTFIDF),
		EmbedDimension:      getEnvInt("ARIA_EMBED_DIMENSION", 100),
		SimilarityThreshold: getEnvFloat("ARIA_SIMILARITY_THRESHOLD", 0.3),
		SearchWindow:        getEnvInt("ARIA_SEARCH_WINDOW", 1000),
		RecentCacheSize:     getEnvInt("ARIA_RECENT_CACHE", 50),
		ContextBudget:       getEnvInt("ARIA_CONTEXT_BUDGET", 8000),
		HistoryWindow:       getEnvInt("ARIA_HISTORY_WINDOW", 10),

		RAGEnabled:      getEnvBool("ARIA_RAG_ENABLED", true),
		LorebookEnabled: getEnvBool("ARIA_LOREBOOK_ENABLED", true),
		AutoTagging:     getEnvBool("ARIA_AUTO_TAGGING", true),
		StreamChats:     getEnvBool("ARIA_STREAM_CHATS", true),
		SpeakShadowChat: getEnvBool("ARIA_SPEAK_SHADOWCHATS", false),
		SemiAutoChat:    getEnvBool("ARIA_SEMI_AUTO_CHAT", false),
		AutoChat:        getEnvBool("ARIA_AUTO_CHAT", false),
		GamingMode:      getEnvBool("ARIA_GAMING_MODE", false),
		VTubeEnabled:    getEnvBool("ARIA_VTUBE_ENABLED", false),
		WebUIEnabled:    getEnvBool("ARIA_WEB_UI_ENABLED", true),

		RemoveAsterisks: getEnvBool("ARIA_REMOVE_ASTERISKS", true),
		RPSuppression:   getEnvBool("ARIA_RP_SUPPRESSION", true),
		NewlineCut:      getEnvBool("ARIA_NEWLINE_CUT", true),

		TagTTL:           getEnvDuration("ARIA_TAG_TTL", time.Hour),
		TagDecayInterval: getEnvDuration("ARIA_TAG_DECAY_INTERVAL", 5*time.Minute),
		MaxActiveTags:    getEnvInt("ARIA_MAX_ACTIVE_TAGS", 10),

		RetrospectInterval: getEnvDuration("ARIA_RETROSPECT_INTERVAL", time.Hour),

		WebUIPort: getEnvInt("ARIA_WEB_UI_PORT", 5000),
		VTubeURL:  getEnv("ARIA_VTUBE_URL", "ws://localhost:8001"),

		CharacterName: getEnv("ARIA_CHAR_NAME", "Aria"),

		LogFile:  getEnv("ARIA_LOG_FILE", "aria.log"),
		LogLevel: parseLogLevel(getEnv("ARIA_LOG_LEVEL", "INFO")),

		KillPhrase: getEnv("ARIA_KILL_PHRASE", "/ripout/"),
	}

	if err := cfg.overlayFile(filepath.Join(cfg.DataDir, "aria.yaml")); err != nil {
		slog.Warn("config file ignored", "error", err)
	}

	return cfg
}

// Validate checks values that would break startup.
func (c Config) Validate() error {
	switch c.LLMProvider {
	case ProviderGoogleAI, ProviderOllama, ProviderOpenAI, ProviderAnthropic, ProviderBedrock:
	default:
		return fmt.Errorf("unsupported LLM provider: %s", c.LLMProvider)
	}
	switch c.EmbedScheme {
	case SchemeTFIDF, SchemeFeature:
	default:
		return fmt.Errorf("unsupported embedding scheme: %s", c.EmbedScheme)
	}
	if c.SimilarityThreshold < 0 || c.SimilarityThreshold > 1 {
		return fmt.Errorf("similarity threshold out of range: %v", c.SimilarityThreshold)
	}
	if c.ContextBudget <= 0 {
		return fmt.Errorf("context budget must be positive: %d", c.ContextBudget)
	}
	return nil
}

// Path resolves a file name inside the data directory.
func (c Config) Path(parts ...string) string {
	return filepath.Join(append([]string{c.DataDir}, parts...)...)
}

// overlayFile merges an optional YAML file over the env-derived config.
// A missing file is not an error.
func (c *Config) overlayFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return strings.EqualFold(val, "true") || val == "1"
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
