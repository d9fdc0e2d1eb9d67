// Package config loads the bot's configuration from environment
// variables, with optional .env overlays for local development. Every
// knob has a default; only the X and OpenAI credentials are required.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// XConfig holds the X API OAuth 1.0a user-context credentials.
type XConfig struct {
	APIKey       string
	APISecret    string
	AccessToken  string
	AccessSecret string
}

// LLMConfig holds the OpenAI-compatible provider settings.
type LLMConfig struct {
	APIKey  string
	BaseURL string // empty means the native OpenAI endpoint
	Model   string
}

// PostingConfig controls the posting cadence.
type PostingConfig struct {
	IntervalMin      time.Duration
	IntervalMax      time.Duration
	PostImmediately  bool
	MaxLength        int
	ActiveHoursStart string // "HH:MM"; empty disables the window
	ActiveHoursEnd   string
	Timezone         string
}

// ImageConfig controls image posts.
type ImageConfig struct {
	Enabled         bool
	Frequency       int // every Nth cycle
	Size            string
	Style           string
	PromptMode      string // text | hybrid | persona
	PersonaWeight   float64
	PromptMaxTokens int
	PromptOverride  string
	PromptPrefix    string
	PromptSuffix    string
	RefURL          string
	RefPath         string
	MaskURL         string
	MaskPath        string
}

// MemoryConfig controls the novelty memory store.
type MemoryConfig struct {
	Enabled             bool
	File                string
	MaxPosts            int
	TTLDays             int
	SimilarityThreshold float64
	TopicCooldown       time.Duration
	MaxRegenTries       int
	SkipOnDuplicate     bool
}

// DiscoveryConfig controls the reply discovery loop.
type DiscoveryConfig struct {
	Enabled         bool
	Queries         []string
	MinFollowers    int
	RequireVerified bool
	MinRetweets     int
	Lookback        time.Duration
	CheckMin        time.Duration
	CheckMax        time.Duration
	Probability     float64
	MaxPerRun       int
	AuthorCooldown  time.Duration
	ReplyDailyCap   int
	ReplyMinLen     int
	ReplyMaxLen     int
}

// RetryConfig controls provider retry and cool-off behavior.
type RetryConfig struct {
	Max       int
	BaseDelay time.Duration
	CoolOff   time.Duration
}

// TelegramConfig holds the operator control channel settings.
type TelegramConfig struct {
	BotToken string // empty disables the bridge
	ChatID   int64  // 0 allows any chat
}

// Config is the full bot configuration.
type Config struct {
	X         XConfig
	LLM       LLMConfig
	Posting   PostingConfig
	Image     ImageConfig
	Memory    MemoryConfig
	Discovery DiscoveryConfig
	Retry     RetryConfig
	Telegram  TelegramConfig

	DryRun      bool
	PersonaFile string // empty uses the built-in persona
	StateDB     string
	LogFile     string
	LogLevel    string
}

// LoadEnvFiles overlays .env and .env.dev onto the process environment
// when present. Values in the files win over inherited environment, so
// local development overrides are predictable.
func LoadEnvFiles() []string {
	var loaded []string
	for _, file := range []string{".env", ".env.dev"} {
		if _, err := os.Stat(file); err != nil {
			continue
		}
		if err := godotenv.Overload(file); err != nil {
			continue
		}
		loaded = append(loaded, file)
	}
	return loaded
}

// Load reads the configuration from the environment and validates the
// required credentials.
func Load() (*Config, error) {
	cfg := &Config{
		X: XConfig{
			APIKey:       os.Getenv("X_API_KEY"),
			APISecret:    os.Getenv("X_API_SECRET"),
			AccessToken:  os.Getenv("X_ACCESS_TOKEN"),
			AccessSecret: os.Getenv("X_ACCESS_SECRET"),
		},
		LLM: LLMConfig{
			APIKey:  os.Getenv("OPENAI_API_KEY"),
			BaseURL: os.Getenv("OPENAI_BASE_URL"),
			Model:   getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		},
		DryRun:      getEnvBool("DRY_RUN", true),
		PersonaFile: os.Getenv("PERSONA_FILE"),
		StateDB:     getEnv("STATE_DB", "/tmp/xbot_state.db"),
		LogFile:     getEnv("LOG_FILE", "/tmp/xbot.log"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
	}

	minMin := clampMin(getEnvInt("POST_INTERVAL_MIN", 120), 5)
	maxMin := clampMin(getEnvInt("POST_INTERVAL_MAX", 240), minMin)
	cfg.Posting = PostingConfig{
		IntervalMin:      time.Duration(minMin) * time.Minute,
		IntervalMax:      time.Duration(maxMin) * time.Minute,
		PostImmediately:  getEnvBool("POST_IMMEDIATELY", false),
		MaxLength:        clamp(getEnvInt("MAX_TWEET_LENGTH", 280), 80, 1000),
		ActiveHoursStart: os.Getenv("ACTIVE_HOURS_START"),
		ActiveHoursEnd:   os.Getenv("ACTIVE_HOURS_END"),
		Timezone:         getEnv("TIMEZONE", "Europe/Athens"),
	}

	cfg.Image = ImageConfig{
		Enabled:         getEnvBool("ENABLE_IMAGE_POSTS", false),
		Frequency:       clampMin(getEnvInt("IMAGE_FREQUENCY", 3), 1),
		Size:            getEnv("IMAGE_SIZE", "1024x1024"),
		Style:           getEnv("IMAGE_STYLE", "high-contrast, clean composition, cinematic lighting"),
		PromptMode:      strings.ToLower(getEnv("IMAGE_PROMPT_MODE", "hybrid")),
		PersonaWeight:   clampFloat(getEnvFloat("IMAGE_PROMPT_PERSONA_WEIGHT", 0.25), 0, 1),
		PromptMaxTokens: clamp(getEnvInt("IMAGE_PROMPT_MAX_TOKENS", 120), 60, 300),
		PromptOverride:  os.Getenv("IMAGE_PROMPT_OVERRIDE"),
		PromptPrefix:    os.Getenv("IMAGE_PROMPT_PREFIX"),
		PromptSuffix:    os.Getenv("IMAGE_PROMPT_SUFFIX"),
		RefURL:          os.Getenv("IMAGE_REF_URL"),
		RefPath:         os.Getenv("IMAGE_REF_PATH"),
		MaskURL:         os.Getenv("IMAGE_MASK_URL"),
		MaskPath:        os.Getenv("IMAGE_MASK_PATH"),
	}

	cfg.Memory = MemoryConfig{
		Enabled:             getEnvBool("MEMORY_ENABLED", true),
		File:                getEnv("MEMORY_FILE", "/tmp/post_memory.json"),
		MaxPosts:            clampMin(getEnvInt("MEMORY_MAX_POSTS", 500), 1),
		TTLDays:             clampMin(getEnvInt("MEMORY_TTL_DAYS", 14), 1),
		SimilarityThreshold: clampFloat(getEnvFloat("SIMILARITY_THRESHOLD", 0.5), 0, 1),
		TopicCooldown:       time.Duration(clampMin(getEnvInt("TOPIC_COOLDOWN_MINUTES", 240), 0)) * time.Minute,
		MaxRegenTries:       clampMin(getEnvInt("MAX_REGEN_TRIES", 3), 1),
		SkipOnDuplicate:     getEnvBool("SKIP_ON_DUPLICATE", true),
	}

	checkMin := clampMin(getEnvInt("DISCOVERY_CHECK_INTERVAL_MIN", 20), 5)
	checkMax := clampMin(getEnvInt("DISCOVERY_CHECK_INTERVAL_MAX", 60), checkMin)
	cfg.Discovery = DiscoveryConfig{
		Enabled:         getEnvBool("ENABLE_DISCOVERY", true),
		Queries:         splitList(getEnv("DISCOVERY_QUERIES", "crypto,dao,defi,memecoin,airdrops")),
		MinFollowers:    clampMin(getEnvInt("DISCOVERY_MIN_FOLLOWERS", 300000), 0),
		RequireVerified: getEnvBool("DISCOVERY_REQUIRE_VERIFIED", true),
		MinRetweets:     clampMin(getEnvInt("DISCOVERY_MIN_RETWEETS", 50), 0),
		Lookback:        time.Duration(clampMin(getEnvInt("DISCOVERY_LOOKBACK_MINUTES", 360), 15)) * time.Minute,
		CheckMin:        time.Duration(checkMin) * time.Minute,
		CheckMax:        time.Duration(checkMax) * time.Minute,
		Probability:     clampFloat(getEnvFloat("DISCOVERY_PROBABILITY", 0.5), 0, 1),
		MaxPerRun:       clampMin(getEnvInt("DISCOVERY_MAX_PER_RUN", 1), 1),
		AuthorCooldown:  time.Duration(clampMin(getEnvInt("RECENT_AUTHOR_COOLDOWN_MINUTES", 240), 0)) * time.Minute,
		ReplyDailyCap:   clampMin(getEnvInt("REPLY_DAILY_CAP", 12), 0),
		ReplyMinLen:     clampMin(getEnvInt("REPLY_MIN_LEN", 12), 1),
		ReplyMaxLen:     clamp(getEnvInt("REPLY_MAX_LEN", 280), 60, 280),
	}

	cfg.Retry = RetryConfig{
		Max:       clampMin(getEnvInt("LLM_RETRY_MAX", 4), 0),
		BaseDelay: time.Duration(clampMin(getEnvInt("LLM_RETRY_BASE_MS", 1500), 250)) * time.Millisecond,
		CoolOff:   time.Duration(clampMin(getEnvInt("LLM_COOL_OFF_MINUTES", 60), 5)) * time.Minute,
	}

	cfg.Telegram = TelegramConfig{
		BotToken: os.Getenv("TELEGRAM_BOT_TOKEN"),
	}
	if raw := os.Getenv("TELEGRAM_CHAT_ID"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("TELEGRAM_CHAT_ID: %w", err)
		}
		cfg.Telegram.ChatID = id
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	var missing []string
	for _, kv := range []struct{ name, val string }{
		{"X_API_KEY", c.X.APIKey},
		{"X_API_SECRET", c.X.APISecret},
		{"X_ACCESS_TOKEN", c.X.AccessToken},
		{"X_ACCESS_SECRET", c.X.AccessSecret},
		{"OPENAI_API_KEY", c.LLM.APIKey},
	} {
		if kv.val == "" {
			missing = append(missing, kv.name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required env: %s", strings.Join(missing, ", "))
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(strings.ToLower(v)); err == nil {
			return b
		}
	}
	return fallback
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampMin(v, lo int) int {
	if v < lo {
		return lo
	}
	return v
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
