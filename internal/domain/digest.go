package domain

import "time"

// DigestStatus enumerates the digest lifecycle.
type DigestStatus string

const (
	DigestDraft     DigestStatus = "draft"
	DigestReady     DigestStatus = "ready"
	DigestReviewing DigestStatus = "reviewing"
	DigestApproved  DigestStatus = "approved"
	DigestRejected  DigestStatus = "rejected"
	DigestPublished DigestStatus = "published"
	DigestExpired   DigestStatus = "expired"
)

// Digest is a publishable summary unit.
type Digest struct {
	ID           string
	Fingerprint  string
	Title        string
	Summary      string
	WhyImportant string
	Category     string
	Source       string
	URL          string
	Importance   float64
	Credibility  float64
	// EngagementScore is nil until feedback tracking reports a value.
	EngagementScore *float64
	ReactionTotal   int
	Status          DigestStatus
	Published       bool
	PublishedAt     *time.Time
	CreatedAt       time.Time
}

// Publishable reports whether the digest may be sent.
func (d Digest) Publishable() bool {
	return d.Status == DigestReady && !d.Published
}

// PublicationRecord is created on a successful send.
type PublicationRecord struct {
	DigestID  string
	ChannelID string
	MessageID int64
	SentAt    time.Time
	DryRun    bool
}

// ReviewStatus is the state of a pending human review.
type ReviewStatus string

const (
	ReviewPending  ReviewStatus = "pending"
	ReviewApproved ReviewStatus = "approved"
	ReviewRejected ReviewStatus = "rejected"
	ReviewExpired  ReviewStatus = "expired"
)

// Terminal reports whether no further transition is allowed.
func (s ReviewStatus) Terminal() bool {
	return s != ReviewPending
}

// ReviewRequest is a process-local hold placed on a digest before publishing.
type ReviewRequest struct {
	ID             string
	DigestID       string
	Text           string
	AdminMessageID int64
	CreatedAt      time.Time
	ExpiresAt      time.Time
	Status         ReviewStatus
}

// TimeWindow is a named daily hour range with an allowed category set.
// Ranges with End <= Start wrap past midnight.
type TimeWindow struct {
	Name       string
	StartHour  int
	EndHour    int
	Categories []string
}

// Contains reports whether hour falls inside the window.
func (w TimeWindow) Contains(hour int) bool {
	if w.EndHour > w.StartHour {
		return hour >= w.StartHour && hour < w.EndHour
	}
	return hour >= w.StartHour || hour < w.EndHour
}
