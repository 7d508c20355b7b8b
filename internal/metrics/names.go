package metrics

// Counter names shared by the pipeline stages.
const (
	ItemsFetched          = "items_fetched_total"
	FetchErrors           = "fetch_errors_total"
	ItemsProcessed        = "items_processed_total"
	ItemsScored           = "items_scored_total"
	PrefilterRejected     = "prefilter_rejected_total"
	CacheHit              = "cache_hit_total"
	CacheMiss             = "cache_miss_total"
	CachePartialRefresh   = "cache_partial_refresh_total"
	CacheParseAnomaly     = "cache_parse_anomaly_total"
	PredictorSkip         = "predictor_skip_total"
	PredictorFallback     = "predictor_fallback_total"
	LLMCalls              = "llm_calls_total"
	LLMErrors             = "llm_errors_total"
	LLMParseErrors        = "llm_parse_errors_total"
	LLMDiscarded          = "llm_discarded_total"
	InflightWaits         = "inflight_waits_total"
	ThresholdRejected     = "threshold_rejected_total"
	DigestsCreated        = "digests_created_total"
	DigestsExpired        = "digests_expired_total"
	PublishTotal          = "publish_total"
	PublishErrors         = "publish_errors_total"
	PublishRetries        = "publish_retries_total"
	PublishDryRun         = "publish_dry_run_total"
	ReviewRequested       = "review_requested_total"
	ReviewApproved        = "review_approved_total"
	ReviewAutoApproved    = "review_auto_approved_total"
	ReviewRejected        = "review_rejected_total"
	ReviewExpired         = "review_expired_total"
	FeedbackPolls         = "feedback_polls_total"
	FeedbackSignals       = "feedback_signals_total"
	ModelRetrained        = "model_retrained_total"
	ModelTrainingSkipped  = "model_training_skipped_total"
	ReactorEvents         = "reactor_events_total"
	ReactorHandlerErrors  = "reactor_handler_errors_total"
	WindowPublishedPrefix = "window_published_total:"
)

// Histogram names.
const (
	LLMLatency     = "llm_latency"
	ScoreLatency   = "score_latency"
	PublishLatency = "publish_latency"
)

// Gauge names.
const (
	CacheSize        = "cache_size"
	InflightRequests = "inflight_requests"
	ModelVersion     = "model_version"
	PendingReviews   = "pending_reviews"
)
