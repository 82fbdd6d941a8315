// Package config loads configuration from environment variables and the
// character roster file.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/easeaico/agora/internal/evolution"
)

// Config holds runtime settings.
type Config struct {
	Port        int
	LogLevel    slog.Level
	DatabaseURL string
	RedisURL    string
	JournalPath string
	WorkDir     string
	RosterPath  string

	GoogleAPIKey     string
	OpenAIAPIKey     string
	AnthropicAPIKey  string
	XAIAPIKey        string
	OpenRouterAPIKey string
	ElevenLabsAPIKey string

	ClaudeModel     string
	GPTModel        string
	GrokModel       string
	GeminiModel     string
	OpenRouterModel string
	JudgeModel      string
	TTSModel        string
	EmbeddingModel  string
	RhubarbPath     string

	TextTimeout   time.Duration
	SynthTimeout  time.Duration
	VisemeTimeout time.Duration

	HistoryLimit        int
	TopK                int
	SimilarityThreshold float64
	MaxRounds           int
	TurnRetries         int
	TurnDelay           time.Duration
	// SessionRetention is how long finished sessions stay queryable.
	// Zero keeps them until the process exits.
	SessionRetention time.Duration
	CueGapTolerance  float64
	BroadcastBuffer  int

	Evolution evolution.Params

	TopicSources     []string
	RedditSubreddits []string
	AllowedOrigins   []string
}

// AudioDir is where synthesized audio is written.
func (c Config) AudioDir() string {
	return filepath.Join(c.WorkDir, "audio")
}

// APIKey returns the credential of a model provider kind.
func (c Config) APIKey(kind string) string {
	switch kind {
	case "gemini":
		return c.GoogleAPIKey
	case "openai":
		return c.OpenAIAPIKey
	case "anthropic":
		return c.AnthropicAPIKey
	case "grok":
		return c.XAIAPIKey
	case "openrouter":
		return c.OpenRouterAPIKey
	}
	return ""
}

// TextModel returns the configured model name of a provider kind.
func (c Config) TextModel(kind string) string {
	switch kind {
	case "gemini":
		return c.GeminiModel
	case "openai":
		return c.GPTModel
	case "anthropic":
		return c.ClaudeModel
	case "grok":
		return c.GrokModel
	case "openrouter":
		return c.OpenRouterModel
	}
	return ""
}

// Load reads a .env file when present, then env vars, applies defaults and
// validates.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := Config{
		DatabaseURL: os.Getenv("DATABASE_URL"),
		RedisURL:    os.Getenv("REDIS_URL"),
		JournalPath: os.Getenv("JOURNAL_PATH"),
		WorkDir:     os.Getenv("WORK_DIR"),
		RosterPath:  getEnv("ROSTER_PATH", "roster.yaml"),

		GoogleAPIKey:     os.Getenv("GOOGLE_API_KEY"),
		OpenAIAPIKey:     os.Getenv("OPENAI_API_KEY"),
		AnthropicAPIKey:  os.Getenv("ANTHROPIC_API_KEY"),
		XAIAPIKey:        os.Getenv("XAI_API_KEY"),
		OpenRouterAPIKey: os.Getenv("OPENROUTER_API_KEY"),
		ElevenLabsAPIKey: os.Getenv("ELEVENLABS_API_KEY"),

		ClaudeModel:     getEnv("CLAUDE_MODEL", "claude-sonnet-4-5"),
		GPTModel:        getEnv("GPT_MODEL", "gpt-4o-mini"),
		GrokModel:       getEnv("GROK_MODEL", "grok-4-fast"),
		GeminiModel:     getEnv("GEMINI_MODEL", "gemini-2.5-flash"),
		OpenRouterModel: getEnv("OPENROUTER_MODEL", "meta-llama/llama-3.3-70b-instruct"),
		JudgeModel:      getEnv("JUDGE_MODEL", "gemini-2.5-flash"),
		TTSModel:        getEnv("TTS_MODEL", "gemini-2.5-flash-preview-tts"),
		EmbeddingModel:  getEnv("EMBEDDING_MODEL", "text-embedding-004"),
		RhubarbPath:     getEnv("RHUBARB_PATH", "rhubarb"),
	}

	cfg.Port = getEnvInt("PORT", 8080)
	cfg.TextTimeout = getEnvDuration("TEXT_TIMEOUT", 30*time.Second)
	cfg.SynthTimeout = getEnvDuration("SYNTH_TIMEOUT", 45*time.Second)
	cfg.VisemeTimeout = getEnvDuration("VISEME_TIMEOUT", 30*time.Second)
	cfg.HistoryLimit = getEnvInt("HISTORY_LIMIT", 6)
	cfg.TopK = getEnvInt("TOP_K", 3)
	cfg.SimilarityThreshold = getEnvFloat("SIMILARITY_THRESHOLD", 0.5)
	cfg.MaxRounds = getEnvInt("MAX_ROUNDS", 20)
	cfg.TurnRetries = getEnvInt("TURN_RETRIES", 1)
	cfg.TurnDelay = getEnvDuration("TURN_DELAY", 0)
	cfg.SessionRetention = getEnvDuration("SESSION_RETENTION", 30*time.Minute)
	cfg.CueGapTolerance = getEnvFloat("CUE_GAP_TOLERANCE", 0.05)
	cfg.BroadcastBuffer = getEnvInt("BROADCAST_BUFFER", 64)
	cfg.TopicSources = getEnvList("TOPIC_SOURCES", []string{"static"})
	cfg.RedditSubreddits = getEnvList("REDDIT_SUBREDDITS", []string{"artificial", "MachineLearning", "singularity"})
	cfg.AllowedOrigins = getEnvList("ALLOWED_ORIGINS", []string{"*"})

	params := evolution.DefaultParams()
	params.LearningRate = getEnvFloat("LEARNING_RATE", params.LearningRate)
	params.MaxEnergyDelta = getEnvFloat("MAX_ENERGY_DELTA", params.MaxEnergyDelta)
	params.DegradedPenalty = getEnvFloat("DEGRADED_PENALTY", params.DegradedPenalty)
	params.TraitRate = getEnvFloat("TRAIT_RATE", params.TraitRate)
	params.PlasticityDecay = getEnvFloat("PLASTICITY_DECAY", params.PlasticityDecay)
	params.BreakthroughThreshold = getEnvFloat("BREAKTHROUGH_THRESHOLD", params.BreakthroughThreshold)
	cfg.Evolution = params

	level, err := parseLevel(getEnv("LOG_LEVEL", "info"))
	if err != nil {
		return Config{}, err
	}
	cfg.LogLevel = level

	if cfg.WorkDir == "" {
		cfg.WorkDir, _ = os.Getwd()
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings the engine cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("PORT %d out of range", c.Port))
	}
	if c.HistoryLimit <= 0 {
		errs = append(errs, fmt.Errorf("HISTORY_LIMIT must be positive"))
	}
	if c.TopK < 0 {
		errs = append(errs, fmt.Errorf("TOP_K must not be negative"))
	}
	if c.SimilarityThreshold < 0 || c.SimilarityThreshold > 1 {
		errs = append(errs, fmt.Errorf("SIMILARITY_THRESHOLD must be within [0,1]"))
	}
	if c.MaxRounds <= 0 {
		errs = append(errs, fmt.Errorf("MAX_ROUNDS must be positive"))
	}
	if c.TurnRetries < 0 {
		errs = append(errs, fmt.Errorf("TURN_RETRIES must not be negative"))
	}
	if c.TurnDelay < 0 {
		errs = append(errs, fmt.Errorf("TURN_DELAY must not be negative"))
	}
	if c.SessionRetention < 0 {
		errs = append(errs, fmt.Errorf("SESSION_RETENTION must not be negative"))
	}
	if c.CueGapTolerance < 0 {
		errs = append(errs, fmt.Errorf("CUE_GAP_TOLERANCE must not be negative"))
	}
	if c.BroadcastBuffer <= 0 {
		errs = append(errs, fmt.Errorf("BROADCAST_BUFFER must be positive"))
	}
	for name, d := range map[string]time.Duration{
		"TEXT_TIMEOUT":   c.TextTimeout,
		"SYNTH_TIMEOUT":  c.SynthTimeout,
		"VISEME_TIMEOUT": c.VisemeTimeout,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}
	if err := c.Evolution.Validate(); err != nil {
		errs = append(errs, err)
	}
	if len(c.TopicSources) == 0 {
		errs = append(errs, fmt.Errorf("TOPIC_SOURCES must name at least one source"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("invalid LOG_LEVEL %q: %w", s, err)
	}
	return level, nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseFloat(val, 64); err == nil {
			return parsed
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if parsed, err := time.ParseDuration(val); err == nil {
			return parsed
		}
	}
	return defaultVal
}

func getEnvList(key string, defaultVal []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultVal
	}
	return out
}
