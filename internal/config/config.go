package config

import (
	"errors"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

type Config struct {
	DiscordToken  string            `yaml:"discord_token"`
	DatabaseURL   string            `yaml:"database_url"`
	LogLevel      string            `yaml:"log_level"`
	Mode          string            `yaml:"mode"`
	RulePreset    string            `yaml:"rule_preset"`
	RetentionDays int               `yaml:"retention_days"`
	Health        HealthConfig      `yaml:"health"`
	Policy        PolicyConfig      `yaml:"policy"`
	Evaluator     EvaluatorConfig   `yaml:"evaluator"`
	Enforcement   EnforcementConfig `yaml:"enforcement"`
}

type HealthConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// PolicyConfig holds the values a guild policy starts from before any
// configuration command touches it.
type PolicyConfig struct {
	RapidWindowSeconds     int     `yaml:"rapid_window_seconds"`
	RapidMaxMessages       int     `yaml:"rapid_max_messages"`
	RapidScoreWeight       float64 `yaml:"rapid_score_weight"`
	DuplicateWindowSeconds int     `yaml:"duplicate_window_seconds"`
	DuplicateScoreWeight   float64 `yaml:"duplicate_score_weight"`
	URLMaxBeforePenalty    int     `yaml:"url_max_before_penalty"`
	URLScoreWeight         float64 `yaml:"url_score_weight"`
	URLRepeatWindowSeconds int     `yaml:"url_repeat_window_seconds"`
	URLRepeatMax           int     `yaml:"url_repeat_max"`
	URLRepeatScoreWeight   float64 `yaml:"url_repeat_score_weight"`
	MentionMax             int     `yaml:"mention_max"`
	MentionScoreWeight     float64 `yaml:"mention_score_weight"`
	NewAccountBonusDays    int     `yaml:"new_account_bonus_days"`
	NewAccountScoreWeight  float64 `yaml:"new_account_score_weight"`
	ScoreDecayPerSecond    float64 `yaml:"score_decay_per_second"`
	FlagThreshold          float64 `yaml:"flag_threshold"`
	FlagReduction          string  `yaml:"flag_reduction"`
	TimeoutMinutes         int     `yaml:"timeout_minutes"`
	TimeoutAfterOffenses   int     `yaml:"timeout_after_offenses"`
	OffenseWindowSeconds   int     `yaml:"offense_window_seconds"`
	SevereFactor           float64 `yaml:"severe_factor"`
	DeleteMessages         bool    `yaml:"delete_messages"`
	LogChannelID           string  `yaml:"log_channel_id"`
}

type EvaluatorConfig struct {
	TimeoutMillis        int `yaml:"timeout_ms"`
	RetentionMultiplier  int `yaml:"retention_multiplier"`
	SweepIntervalSeconds int `yaml:"sweep_interval_seconds"`
}

type EnforcementConfig struct {
	RatePerSecond          float64 `yaml:"rate_per_second"`
	Burst                  int     `yaml:"burst"`
	BreakerFailures        int     `yaml:"breaker_failures"`
	BreakerCooldownSeconds int     `yaml:"breaker_cooldown_seconds"`
	ExcerptChars           int     `yaml:"excerpt_chars"`
	// StrikeExpiryDays is how long stored strikes live after the last one.
	// 0 keeps them until a moderator forgives the user.
	StrikeExpiryDays int `yaml:"strike_expiry_days"`
}

func DefaultConfig() Config {
	return Config{
		DatabaseURL:   "/data/spamguard.db",
		LogLevel:      "info",
		Mode:          "normal",
		RulePreset:    "medium",
		RetentionDays: 14,
		Health:        HealthConfig{Enabled: false, Addr: ":8080"},
		Policy: PolicyConfig{
			RapidWindowSeconds:     12,
			RapidMaxMessages:       5,
			RapidScoreWeight:       2,
			DuplicateWindowSeconds: 120,
			DuplicateScoreWeight:   3,
			URLMaxBeforePenalty:    1,
			URLScoreWeight:         3,
			URLRepeatWindowSeconds: 120,
			URLRepeatMax:           2,
			URLRepeatScoreWeight:   3,
			MentionMax:             3,
			MentionScoreWeight:     3,
			NewAccountBonusDays:    1,
			NewAccountScoreWeight:  1,
			ScoreDecayPerSecond:    0.05,
			FlagThreshold:          6,
			FlagReduction:          "subtract",
			TimeoutMinutes:         10,
			TimeoutAfterOffenses:   2,
			OffenseWindowSeconds:   3600,
			SevereFactor:           2,
			DeleteMessages:         true,
		},
		Evaluator: EvaluatorConfig{
			TimeoutMillis:        250,
			RetentionMultiplier:  2,
			SweepIntervalSeconds: 60,
		},
		Enforcement: EnforcementConfig{
			RatePerSecond:          5,
			Burst:                  10,
			BreakerFailures:        5,
			BreakerCooldownSeconds: 30,
			ExcerptChars:           300,
			StrikeExpiryDays:       30,
		},
	}
}

// Load builds the configuration from defaults, the YAML file named by
// CONFIG_PATH, a .env file and the process environment, in that order.
func Load() (Config, error) {
	cfg := DefaultConfig()

	_ = godotenv.Load()

	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "config.yaml"
	}
	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, err
		}
	}

	applyEnv(&cfg)

	cfg.Mode = normalizeMode(cfg.Mode)
	cfg.RulePreset = normalizePreset(cfg.RulePreset)
	applyPreset(&cfg)

	return cfg, nil
}

// RequireDiscord reports whether the gateway can be started.
func (c Config) RequireDiscord() error {
	if c.DiscordToken == "" {
		return errors.New("DISCORD_TOKEN is required")
	}
	return nil
}

func (c Config) AuditOnly() bool {
	return c.Mode == "audit"
}

func applyEnv(cfg *Config) {
	cfg.DiscordToken = envString("DISCORD_TOKEN", cfg.DiscordToken)
	cfg.DatabaseURL = envString("DATABASE_URL", cfg.DatabaseURL)
	cfg.LogLevel = envString("LOG_LEVEL", cfg.LogLevel)
	cfg.Mode = envString("MODE", cfg.Mode)
	cfg.RulePreset = envString("RULE_PRESET", cfg.RulePreset)
	cfg.RetentionDays = envInt("RETENTION_DAYS", cfg.RetentionDays)
	cfg.Health.Enabled = envBool("HEALTH_ENABLED", cfg.Health.Enabled)
	cfg.Health.Addr = envString("HEALTH_ADDR", cfg.Health.Addr)
	cfg.Policy.RapidWindowSeconds = envInt("RAPID_WINDOW_SECONDS", cfg.Policy.RapidWindowSeconds)
	cfg.Policy.RapidMaxMessages = envInt("RAPID_MAX_MESSAGES", cfg.Policy.RapidMaxMessages)
	cfg.Policy.DuplicateWindowSeconds = envInt("DUPLICATE_WINDOW_SECONDS", cfg.Policy.DuplicateWindowSeconds)
	cfg.Policy.FlagThreshold = envFloat("FLAG_THRESHOLD", cfg.Policy.FlagThreshold)
	cfg.Policy.ScoreDecayPerSecond = envFloat("SCORE_DECAY_PER_SECOND", cfg.Policy.ScoreDecayPerSecond)
	cfg.Policy.TimeoutMinutes = envInt("TIMEOUT_MINUTES", cfg.Policy.TimeoutMinutes)
	cfg.Policy.LogChannelID = envString("DEFAULT_LOG_CHANNEL", cfg.Policy.LogChannelID)
	cfg.Evaluator.TimeoutMillis = envInt("EVALUATION_TIMEOUT_MS", cfg.Evaluator.TimeoutMillis)
	cfg.Evaluator.RetentionMultiplier = envInt("RETENTION_MULTIPLIER", cfg.Evaluator.RetentionMultiplier)
	cfg.Enforcement.RatePerSecond = envFloat("ENFORCEMENT_RATE_PER_SECOND", cfg.Enforcement.RatePerSecond)
	cfg.Enforcement.BreakerFailures = envInt("ENFORCEMENT_BREAKER_FAILURES", cfg.Enforcement.BreakerFailures)
	cfg.Enforcement.StrikeExpiryDays = envInt("STRIKE_EXPIRY_DAYS", cfg.Enforcement.StrikeExpiryDays)
}

func BuildLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "json"
	cfg.EncoderConfig.TimeKey = "time"
	cfg.EncoderConfig.MessageKey = "message"
	cfg.EncoderConfig.LevelKey = "level"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.Level = zap.NewAtomicLevelAt(parseLevel(strings.ToLower(level)))

	return cfg.Build()
}

func parseLevel(level string) zapcore.Level {
	switch level {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func envString(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		lower := strings.ToLower(value)
		return lower == "1" || lower == "true" || lower == "yes"
	}
	return fallback
}

func normalizeMode(value string) string {
	switch strings.ToLower(value) {
	case "audit":
		return "audit"
	default:
		return "normal"
	}
}

func normalizePreset(value string) string {
	switch strings.ToLower(value) {
	case "low", "medium", "high":
		return strings.ToLower(value)
	default:
		return "medium"
	}
}

// applyPreset tightens or relaxes the default rapid-posting limit and flag
// threshold. The medium preset keeps whatever was configured.
func applyPreset(cfg *Config) {
	switch cfg.RulePreset {
	case "low":
		cfg.Policy.RapidMaxMessages = 8
		cfg.Policy.FlagThreshold = 9
	case "high":
		cfg.Policy.RapidMaxMessages = 4
		cfg.Policy.FlagThreshold = 4
	}
}
