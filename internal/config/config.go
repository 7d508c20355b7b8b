package config

import (
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

const (
	defaultTimezone = "UTC"
	configPathEnv   = "NEWSDESK_CONFIG"
)

// Config is the hierarchical configuration tree.
type Config struct {
	Logging             LoggingConfig              `yaml:"logging"`
	Database            DatabaseConfig             `yaml:"database"`
	Scheduler           SchedulerConfig            `yaml:"scheduler"`
	Sites               []SiteConfig               `yaml:"sites"`
	Telegram            TelegramConfig             `yaml:"telegram"`
	LargeModel          LargeModelConfig           `yaml:"large_model"`
	ChatGPT             ChatGPTConfig              `yaml:"chatgpt"`
	Gemini              GeminiConfig               `yaml:"gemini"`
	Features            FeaturesConfig             `yaml:"features"`
	Prefilter           PrefilterConfig            `yaml:"prefilter"`
	Cache               CacheConfig                `yaml:"cache"`
	DefaultThresholds   ThresholdConfig            `yaml:"default_thresholds"`
	CategoryThresholds  map[string]ThresholdConfig `yaml:"category_thresholds"`
	LocalPredictor      LocalPredictorConfig       `yaml:"local_predictor"`
	Cascade             CascadeConfig              `yaml:"cascade"`
	SelfTuning          SelfTuningConfig           `yaml:"self_tuning"`
	Autopublish         AutopublishConfig          `yaml:"autopublish"`
	AutopublishSchedule map[string]WindowConfig    `yaml:"autopublish_schedule"`
	SmartPosting        SmartPostingConfig         `yaml:"smart_posting"`
	Review              ReviewConfig               `yaml:"review"`
	Feedback            FeedbackConfig             `yaml:"feedback"`
	Paths               PathsConfig                `yaml:"paths"`
	Baseline            BaselineConfig             `yaml:"baseline"`
	HTTP                HTTPConfig                 `yaml:"http"`
	Backup              BackupConfig               `yaml:"backup"`
}

// LoggingConfig controls the console logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DatabaseConfig selects the SQL driver and DSN.
type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// SchedulerConfig defines when ingestion runs.
type SchedulerConfig struct {
	CronExpression string         `yaml:"cron_expression"`
	Timezone       string         `yaml:"timezone"`
	location       *time.Location `yaml:"-"`
}

// Location resolves the scheduler timezone string to a time.Location.
func (s SchedulerConfig) Location() *time.Location {
	if s.location != nil {
		return s.location
	}
	loc, _ := time.LoadLocation(defaultTimezone)
	return loc
}

// SiteConfig describes a single provider with its scanner strategy.
type SiteConfig struct {
	Name       string            `yaml:"name"`
	Scanner    string            `yaml:"scanner"`
	Category   string            `yaml:"category"`
	Categories []CategoryConfig  `yaml:"categories"`
	Options    map[string]string `yaml:"options"`
}

// CategoryConfig holds the concrete endpoints to crawl.
type CategoryConfig struct {
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
}

// TelegramConfig wires the bot token, the publishing channel and the review admin.
type TelegramConfig struct {
	BotToken    string `yaml:"bot_token"`
	ChannelID   string `yaml:"channel_id"`
	AdminChatID string `yaml:"admin_chat_id"`
}

// LargeModelConfig selects the expensive scorer backend.
type LargeModelConfig struct {
	Provider       string  `yaml:"provider"`
	MaxTokens      int     `yaml:"max_tokens"`
	TimeoutSeconds int     `yaml:"timeout_seconds"`
	RatePerSecond  float64 `yaml:"rate_per_second"`
	Burst          int     `yaml:"burst"`
}

// ChatGPTConfig defines how to contact an OpenAI-compatible API.
type ChatGPTConfig struct {
	Endpoint     string `yaml:"endpoint"`
	Model        string `yaml:"model"`
	APIKey       string `yaml:"api_key"`
	SystemPrompt string `yaml:"system_prompt"`
}

// GeminiConfig defines how to contact the Gemini API.
type GeminiConfig struct {
	Model  string `yaml:"model"`
	APIKey string `yaml:"api_key"`
}

// FeaturesConfig holds per-feature switches.
type FeaturesConfig struct {
	PrefilterEnabled          bool              `yaml:"prefilter_enabled"`
	CacheEnabled              bool              `yaml:"cache_enabled"`
	CacheTTLEnabled           bool              `yaml:"cache_ttl_enabled"`
	LocalPredictorEnabled     bool              `yaml:"local_predictor_enabled"`
	AdaptiveThresholdsEnabled bool              `yaml:"adaptive_thresholds_enabled"`
	SelfTuningEnabled         bool              `yaml:"self_tuning_enabled"`
	AutoTrainEnabled          bool              `yaml:"auto_train_enabled"`
	SmartPosting              SmartPostingFlags `yaml:"smart_posting"`
	ReviewMode                bool              `yaml:"review_mode"`
}

// SmartPostingFlags are the feature-level smart posting switches.
type SmartPostingFlags struct {
	Enabled          bool `yaml:"enabled"`
	AdaptiveSchedule bool `yaml:"adaptive_schedule"`
	ReactionTracking bool `yaml:"reaction_tracking"`
	TeaserGenerator  bool `yaml:"teaser_generator"`
	ReviewMode       bool `yaml:"review_mode"`
}

// PrefilterConfig holds rule inputs.
type PrefilterConfig struct {
	MinTitleWords      int                 `yaml:"min_title_words"`
	StopMarkers        []string            `yaml:"stop_markers"`
	ImportanceMarkers  map[string][]string `yaml:"importance_markers"`
	HighImpactKeywords []string            `yaml:"high_impact_keywords"`
}

// CacheConfig holds cache policy.
type CacheConfig struct {
	MaxSize              int    `yaml:"max_size"`
	TTLDays              int    `yaml:"ttl_days"`
	TTLSeconds           int    `yaml:"ttl_seconds"`
	PartialUpdate        bool   `yaml:"partial_update"`
	RefreshWindowSeconds int    `yaml:"refresh_window_seconds"`
	DedupKeyFormat       string `yaml:"dedup_key_format"`
	SnapshotPath         string `yaml:"snapshot_path"`
}

// TTL returns the effective entry lifetime.
func (c CacheConfig) TTL() time.Duration {
	if c.TTLSeconds > 0 {
		return time.Duration(c.TTLSeconds) * time.Second
	}
	return time.Duration(c.TTLDays) * 24 * time.Hour
}

// RefreshWindow returns the partial-refresh window.
func (c CacheConfig) RefreshWindow() time.Duration {
	if c.RefreshWindowSeconds <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(c.RefreshWindowSeconds) * time.Second
}

// ThresholdConfig holds per-dimension minima.
type ThresholdConfig struct {
	Importance  float64 `yaml:"importance"`
	Credibility float64 `yaml:"credibility"`
}

// LocalPredictorConfig selects the predictor backend.
type LocalPredictorConfig struct {
	ModelType            string             `yaml:"model_type"`
	ModelDir             string             `yaml:"model_dir"`
	Weights              map[string]float64 `yaml:"weights"`
	ImportanceThreshold  float64            `yaml:"importance_threshold"`
	CredibilityThreshold float64            `yaml:"credibility_threshold"`
	WatchArtifacts       bool               `yaml:"watch_artifacts"`
}

// CascadeConfig tunes the scoring cascade.
type CascadeConfig struct {
	InflightWaitMS    int      `yaml:"inflight_wait_ms"`
	RefreshDimensions []string `yaml:"refresh_dimensions"`
	Concurrency       int      `yaml:"concurrency"`
	Model             string   `yaml:"model"`
}

// InflightWait returns the wait slice used while another worker scores the same item.
func (c CascadeConfig) InflightWait() time.Duration {
	if c.InflightWaitMS <= 0 {
		return 100 * time.Millisecond
	}
	return time.Duration(c.InflightWaitMS) * time.Millisecond
}

// SelfTuningConfig drives the collector and trainer.
type SelfTuningConfig struct {
	MinSamples       int     `yaml:"min_samples"`
	MaxSamples       int     `yaml:"max_samples"`
	IntervalDays     int     `yaml:"interval_days"`
	ReplaceThreshold float64 `yaml:"replace_threshold"`
	BackupEnabled    bool    `yaml:"backup_enabled"`
	CronExpression   string  `yaml:"cron_expression"`
	Seed             int64   `yaml:"seed"`
}

// AutopublishConfig drives the publisher.
type AutopublishConfig struct {
	Enabled         bool   `yaml:"enabled"`
	DryRun          bool   `yaml:"dry_run"`
	IntervalMinutes int    `yaml:"interval_minutes"`
	MinGapMinutes   int    `yaml:"min_gap_minutes"`
	Format          string `yaml:"format"`
	MaxRetries      int    `yaml:"max_retries"`
	SendTimeoutSecs int    `yaml:"send_timeout_seconds"`
	DigestTTLHours  int    `yaml:"digest_ttl_hours"`
}

// WindowConfig is one named posting window.
type WindowConfig struct {
	StartHour  int      `yaml:"start_hour"`
	EndHour    int      `yaml:"end_hour"`
	Categories []string `yaml:"categories"`
}

// SmartPostingConfig holds selector, schedule and review policy.
type SmartPostingConfig struct {
	Enabled          bool               `yaml:"enabled"`
	AdaptiveSchedule bool               `yaml:"adaptive_schedule"`
	ReactionTracking bool               `yaml:"reaction_tracking"`
	TeaserGenerator  bool               `yaml:"teaser_generator"`
	ReviewMode       bool               `yaml:"review_mode"`
	TopK             int                `yaml:"top_k"`
	ImportanceMin    float64            `yaml:"importance_min"`
	CredibilityMin   float64            `yaml:"credibility_min"`
	EngagementWeight float64            `yaml:"engagement_weight"`
	CategoryBoosts   map[string]float64 `yaml:"category_boosts"`
	ReputationBoost  float64            `yaml:"reputation_boost"`
	ReputableSources []string           `yaml:"reputable_sources"`
	RecentCapacity   int                `yaml:"recent_capacity"`
}

// ReviewConfig configures the human-in-the-loop gate.
type ReviewConfig struct {
	AutoPostTimeoutMin int `yaml:"auto_post_timeout_min"`
}

// FeedbackConfig configures reaction polling.
type FeedbackConfig struct {
	PollIntervalMinutes int                `yaml:"poll_interval_minutes"`
	WindowHours         int                `yaml:"window_hours"`
	SignalThreshold     int                `yaml:"signal_threshold"`
	Weights             map[string]float64 `yaml:"weights"`
}

// PathsConfig lists append-only files.
type PathsConfig struct {
	RejectionLog string `yaml:"rejection_log"`
	DatasetFile  string `yaml:"dataset_file"`
	PublishLog   string `yaml:"publish_log"`
	EventLog     string `yaml:"event_log"`
}

// BaselineConfig drives the one-shot baseline dataset builder.
type BaselineConfig struct {
	Seeds           []SeedConfig      `yaml:"seeds"`
	MinTitleWords   int               `yaml:"min_title_words"`
	Blacklist       []string          `yaml:"blacklist"`
	CategoryAliases map[string]string `yaml:"category_aliases"`
	Balance         bool              `yaml:"balance"`
	Seed            int64             `yaml:"seed"`
	MinPerClass     int               `yaml:"min_per_class"`
	Output          string            `yaml:"output"`
	Report          string            `yaml:"report"`
}

// SeedConfig is one external seed dataset.
type SeedConfig struct {
	Name     string `yaml:"name"`
	Path     string `yaml:"path"`
	URL      string `yaml:"url"`
	Format   string `yaml:"format"`
	Category string `yaml:"category"`
}

// HTTPConfig configures the observability listener.
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// BackupConfig configures the optional S3 mirror of model backups.
type BackupConfig struct {
	S3Enabled bool   `yaml:"s3_enabled"`
	Endpoint  string `yaml:"endpoint"`
	Region    string `yaml:"region"`
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
}

// Load reads YAML configuration from path (or $NEWSDESK_CONFIG) on top of
// defaults and applies environment overrides. A missing file named by the
// environment falls back to defaults; an explicit path must exist.
func Load(path string) (Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = os.Getenv(configPathEnv)
	}

	if path != "" {
		raw, err := os.ReadFile(path)
		switch {
		case err != nil && explicit:
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		case err != nil:
			log.Printf("config: cannot read %s: %v (falling back to defaults)", path, err)
		default:
			if err := yaml.Unmarshal(raw, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse config %s: %w", path, err)
			}
			var fileCfg Config
			if err := yaml.Unmarshal(raw, &fileCfg); err != nil {
				return Config{}, fmt.Errorf("parse config %s: %w", path, err)
			}
			cfg.replaceMaps(fileCfg)
		}
	}

	_ = godotenv.Load()
	if err := cfg.applyEnvOverrides(); err != nil {
		return Config{}, err
	}
	cfg.bindTimezone()
	cfg.normalize()

	if len(cfg.Sites) == 0 {
		cfg.Sites = Default().Sites
	}

	return cfg, nil
}

// replaceMaps swaps in every map section the file sets. yaml.v3 decodes
// into existing maps key by key, so defaults would otherwise survive.
func (c *Config) replaceMaps(file Config) {
	if file.CategoryThresholds != nil {
		c.CategoryThresholds = file.CategoryThresholds
	}
	if file.AutopublishSchedule != nil {
		c.AutopublishSchedule = file.AutopublishSchedule
	}
	if file.Prefilter.ImportanceMarkers != nil {
		c.Prefilter.ImportanceMarkers = file.Prefilter.ImportanceMarkers
	}
	if file.LocalPredictor.Weights != nil {
		c.LocalPredictor.Weights = file.LocalPredictor.Weights
	}
	if file.SmartPosting.CategoryBoosts != nil {
		c.SmartPosting.CategoryBoosts = file.SmartPosting.CategoryBoosts
	}
	if file.Feedback.Weights != nil {
		c.Feedback.Weights = file.Feedback.Weights
	}
	if file.Baseline.CategoryAliases != nil {
		c.Baseline.CategoryAliases = file.Baseline.CategoryAliases
	}
}

// Overrides lists the environment variables honored on startup. Only
// variables that are set replace file values.
type Overrides struct {
	DefaultImportanceMin    *float64 `envconfig:"NEWSDESK_DEFAULT_IMPORTANCE_MIN"`
	DefaultCredibilityMin   *float64 `envconfig:"NEWSDESK_DEFAULT_CREDIBILITY_MIN"`
	PredictorImportanceMin  *float64 `envconfig:"NEWSDESK_PREDICTOR_IMPORTANCE_THRESHOLD"`
	PredictorCredibilityMin *float64 `envconfig:"NEWSDESK_PREDICTOR_CREDIBILITY_THRESHOLD"`
	CacheTTLDays            *int     `envconfig:"NEWSDESK_CACHE_TTL_DAYS"`
	CacheMaxSize            *int     `envconfig:"NEWSDESK_CACHE_MAX_SIZE"`
	ReplaceThreshold        *float64 `envconfig:"NEWSDESK_REPLACE_THRESHOLD"`
	MinSamples              *int     `envconfig:"NEWSDESK_MIN_SAMPLES"`
	MinGapMinutes           *int     `envconfig:"NEWSDESK_MIN_GAP_MINUTES"`
	ReviewTimeoutMin        *int     `envconfig:"NEWSDESK_REVIEW_TIMEOUT_MIN"`
	DatabaseDSN             *string  `envconfig:"DATABASE_DSN"`
	TelegramBotToken        *string  `envconfig:"TELEGRAM_BOT_TOKEN"`
	TelegramChannelID       *string  `envconfig:"TELEGRAM_CHANNEL_ID"`
	TelegramAdminChatID     *string  `envconfig:"TELEGRAM_ADMIN_CHAT_ID"`
	ChatGPTAPIKey           *string  `envconfig:"CHATGPT_API_KEY"`
	ChatGPTModel            *string  `envconfig:"CHATGPT_MODEL"`
	GeminiAPIKey            *string  `envconfig:"GEMINI_API_KEY"`
	BackupS3AccessKey       *string  `envconfig:"NEWSDESK_BACKUP_S3_ACCESS_KEY"`
	BackupS3SecretKey       *string  `envconfig:"NEWSDESK_BACKUP_S3_SECRET_KEY"`
}

func (c *Config) applyEnvOverrides() error {
	var o Overrides
	if err := envconfig.Process("", &o); err != nil {
		return fmt.Errorf("env overrides: %w", err)
	}

	setFloat(&c.DefaultThresholds.Importance, o.DefaultImportanceMin)
	setFloat(&c.DefaultThresholds.Credibility, o.DefaultCredibilityMin)
	setFloat(&c.LocalPredictor.ImportanceThreshold, o.PredictorImportanceMin)
	setFloat(&c.LocalPredictor.CredibilityThreshold, o.PredictorCredibilityMin)
	setInt(&c.Cache.TTLDays, o.CacheTTLDays)
	setInt(&c.Cache.MaxSize, o.CacheMaxSize)
	setFloat(&c.SelfTuning.ReplaceThreshold, o.ReplaceThreshold)
	setInt(&c.SelfTuning.MinSamples, o.MinSamples)
	setInt(&c.Autopublish.MinGapMinutes, o.MinGapMinutes)
	setInt(&c.Review.AutoPostTimeoutMin, o.ReviewTimeoutMin)
	setString(&c.Database.DSN, o.DatabaseDSN)
	setString(&c.Telegram.BotToken, o.TelegramBotToken)
	setString(&c.Telegram.ChannelID, o.TelegramChannelID)
	setString(&c.Telegram.AdminChatID, o.TelegramAdminChatID)
	setString(&c.ChatGPT.APIKey, o.ChatGPTAPIKey)
	setString(&c.ChatGPT.Model, o.ChatGPTModel)
	setString(&c.Gemini.APIKey, o.GeminiAPIKey)
	setString(&c.Backup.AccessKey, o.BackupS3AccessKey)
	setString(&c.Backup.SecretKey, o.BackupS3SecretKey)
	return nil
}

func setFloat(dst *float64, v *float64) {
	if v != nil {
		*dst = *v
	}
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

func setString(dst *string, v *string) {
	if v != nil && *v != "" {
		*dst = *v
	}
}

func (c *Config) bindTimezone() {
	tz := c.Scheduler.Timezone
	if tz == "" {
		tz = defaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		log.Printf("config: unknown timezone %s, reverting to %s", tz, defaultTimezone)
		loc, _ = time.LoadLocation(defaultTimezone)
	}
	c.Scheduler.location = loc
}

func (c *Config) normalize() {
	if len(c.CategoryThresholds) > 0 {
		normalized := make(map[string]ThresholdConfig, len(c.CategoryThresholds))
		for k, v := range c.CategoryThresholds {
			normalized[strings.ToLower(strings.TrimSpace(k))] = v
		}
		c.CategoryThresholds = normalized
	}
	if c.SmartPosting.RecentCapacity < 50 {
		c.SmartPosting.RecentCapacity = 50
	}
	if c.Autopublish.MaxRetries <= 0 {
		c.Autopublish.MaxRetries = 3
	}
	if c.SmartPosting.TopK <= 0 {
		c.SmartPosting.TopK = 3
	}
}

// SmartPostingEnabled combines the feature flag and the section switch.
func (c Config) SmartPostingEnabled() bool {
	return c.Features.SmartPosting.Enabled && c.SmartPosting.Enabled
}

// AdaptiveScheduleEnabled reports whether time windows restrict categories.
func (c Config) AdaptiveScheduleEnabled() bool {
	return c.Features.SmartPosting.AdaptiveSchedule && c.SmartPosting.AdaptiveSchedule
}

// ReactionTrackingEnabled reports whether feedback polling runs after a send.
func (c Config) ReactionTrackingEnabled() bool {
	return c.Features.SmartPosting.ReactionTracking && c.SmartPosting.ReactionTracking
}

// ReviewEnabled reports whether digests are held for admin review.
func (c Config) ReviewEnabled() bool {
	return c.Features.ReviewMode || (c.Features.SmartPosting.ReviewMode && c.SmartPosting.ReviewMode)
}

// TeaserEnabled reports whether long summaries are cut to a teaser.
func (c Config) TeaserEnabled() bool {
	return c.Features.SmartPosting.TeaserGenerator && c.SmartPosting.TeaserGenerator
}
