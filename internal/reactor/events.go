package reactor

// Event names.
const (
	ItemScored       = "item_scored"
	ItemRejected     = "item_rejected"
	DigestCreated    = "digest_created"
	DigestPublished  = "digest_published"
	DigestExpired    = "digest_expired"
	ReviewRequested  = "review_requested"
	ReviewResolved   = "review_resolved"
	ModelRetrained   = "model_retrained"
	EngagementSignal = "engagement_signal"
	SystemHealth     = "system_health"
	Heartbeat        = "heartbeat"
)

// Catalog lists every event the pipeline emits.
func Catalog() []string {
	return []string{
		ItemScored, ItemRejected, DigestCreated, DigestPublished, DigestExpired,
		ReviewRequested, ReviewResolved, ModelRetrained, EngagementSignal,
		SystemHealth, Heartbeat,
	}
}
