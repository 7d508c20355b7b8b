package config

import "time"

// Default returns the built-in configuration.
func Default() Config {
	tz, _ := time.LoadLocation(defaultTimezone)
	return Config{
		Logging:   LoggingConfig{Level: "info", Format: "text"},
		Database:  DatabaseConfig{Driver: "sqlite", DSN: "data/newsdesk.db"},
		Scheduler: SchedulerConfig{CronExpression: "*/30 * * * *", Timezone: defaultTimezone, location: tz},
		Telegram:  TelegramConfig{},
		LargeModel: LargeModelConfig{
			Provider:       "chatgpt",
			MaxTokens:      120,
			TimeoutSeconds: 20,
			RatePerSecond:  2,
			Burst:          4,
		},
		ChatGPT: ChatGPTConfig{
			Endpoint:     "https://api.openai.com/v1/chat/completions",
			Model:        "gpt-4o-mini",
			SystemPrompt: "You rate news items for importance and credibility.",
		},
		Gemini: GeminiConfig{Model: "gemini-2.0-flash"},
		Features: FeaturesConfig{
			PrefilterEnabled:          true,
			CacheEnabled:              true,
			CacheTTLEnabled:           true,
			LocalPredictorEnabled:     true,
			AdaptiveThresholdsEnabled: true,
			SelfTuningEnabled:         true,
			AutoTrainEnabled:          true,
			SmartPosting: SmartPostingFlags{
				Enabled:          true,
				AdaptiveSchedule: true,
				ReactionTracking: true,
			},
		},
		Prefilter: PrefilterConfig{
			MinTitleWords: 4,
			StopMarkers:   []string{"sponsored", "advertisement", "promo code", "giveaway", "click here"},
			ImportanceMarkers: map[string][]string{
				"crypto":   {"bitcoin", "ethereum", "etf", "sec", "halving", "stablecoin", "exchange", "regulation"},
				"markets":  {"fed", "rate", "inflation", "earnings", "stocks", "index", "bond", "yield"},
				"sports":   {"final", "championship", "transfer", "injury", "record", "match"},
				"tech":     {"launch", "release", "ai", "chip", "security", "acquisition", "outage"},
				"politics": {"election", "parliament", "sanctions", "summit", "vote", "minister"},
				"economy":  {"gdp", "unemployment", "inflation", "budget", "tariff", "trade"},
			},
			HighImpactKeywords: []string{"breaking", "crash", "record", "emergency", "hack", "ban", "bankrupt"},
		},
		Cache: CacheConfig{
			MaxSize:        10000,
			TTLDays:        7,
			PartialUpdate:  true,
			DedupKeyFormat: "{title}|{url}|{source}|{date}",
		},
		DefaultThresholds: ThresholdConfig{Importance: 0.5, Credibility: 0.6},
		CategoryThresholds: map[string]ThresholdConfig{
			"crypto":  {Importance: 0.55, Credibility: 0.65},
			"markets": {Importance: 0.5, Credibility: 0.7},
			"sports":  {Importance: 0.45, Credibility: 0.5},
		},
		LocalPredictor: LocalPredictorConfig{
			ModelType: "rules",
			ModelDir:  "models",
			Weights: map[string]float64{
				"title":    0.2,
				"source":   0.35,
				"category": 0.15,
				"keywords": 0.3,
			},
			ImportanceThreshold:  0.5,
			CredibilityThreshold: 0.5,
			WatchArtifacts:       true,
		},
		Cascade: CascadeConfig{
			InflightWaitMS:    100,
			RefreshDimensions: []string{"credibility"},
			Concurrency:       4,
		},
		SelfTuning: SelfTuningConfig{
			MinSamples:       200,
			MaxSamples:       20000,
			IntervalDays:     7,
			ReplaceThreshold: 0.01,
			BackupEnabled:    true,
			CronExpression:   "15 3 * * *",
			Seed:             42,
		},
		Autopublish: AutopublishConfig{
			Enabled:         true,
			IntervalMinutes: 60,
			MinGapMinutes:   20,
			Format:          "v2",
			MaxRetries:      3,
			SendTimeoutSecs: 10,
			DigestTTLHours:  48,
		},
		AutopublishSchedule: map[string]WindowConfig{
			"morning": {StartHour: 7, EndHour: 12, Categories: []string{"markets", "economy", "politics", "world"}},
			"day":     {StartHour: 12, EndHour: 18, Categories: []string{"tech", "crypto", "markets", "science"}},
			"evening": {StartHour: 18, EndHour: 23, Categories: []string{"sports", "crypto", "world", "tech"}},
			"night":   {StartHour: 23, EndHour: 7, Categories: []string{"crypto"}},
		},
		SmartPosting: SmartPostingConfig{
			Enabled:          true,
			AdaptiveSchedule: true,
			ReactionTracking: true,
			TopK:             3,
			ImportanceMin:    0.5,
			CredibilityMin:   0.6,
			EngagementWeight: 0.2,
			CategoryBoosts:   map[string]float64{"crypto": 0.05, "markets": 0.05},
			ReputationBoost:  0.05,
			ReputableSources: []string{"reuters", "bloomberg", "apnews", "ft.com", "bbc", "coindesk"},
			RecentCapacity:   100,
		},
		Review: ReviewConfig{AutoPostTimeoutMin: 30},
		Feedback: FeedbackConfig{
			PollIntervalMinutes: 30,
			WindowHours:         24,
			SignalThreshold:     5,
			Weights: map[string]float64{
				"👍": 1.0,
				"🔥": 1.0,
				"❤": 0.9,
				"😂": 0.4,
				"😢": 0.2,
				"👎": 0.0,
			},
		},
		Paths: PathsConfig{
			RejectionLog: "data/rejections.log",
			DatasetFile:  "data/dataset.csv",
			PublishLog:   "data/publish.log",
			EventLog:     "data/events.log",
		},
		Baseline: BaselineConfig{
			MinTitleWords: 4,
			Balance:       true,
			Seed:          42,
			MinPerClass:   50,
			Output:        "data/baseline.csv",
			Report:        "data/baseline_report.json",
			CategoryAliases: map[string]string{
				"cryptocurrency": "crypto",
				"blockchain":     "crypto",
				"finance":        "markets",
				"stocks":         "markets",
				"business":       "economy",
				"technology":     "tech",
				"sport":          "sports",
				"football":       "sports",
			},
		},
		HTTP: HTTPConfig{Addr: ":8080"},
		Sites: []SiteConfig{
			{
				Name:     "arxiv-default",
				Scanner:  "arxiv",
				Category: "science",
				Categories: []CategoryConfig{
					{Name: "cs.AI", URL: "https://export.arxiv.org/list/cs.AI/pastweek"},
				},
			},
		},
	}
}
