package ports

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"NewsDesk/internal/domain"
)

// ItemSource pulls fresh news items from upstream providers.
type ItemSource interface {
	FetchDaily(ctx context.Context, day time.Time) ([]domain.NewsItem, error)
}

// ItemStore persists scored items; the training collector reads them back.
type ItemStore interface {
	AlreadyScored(ctx context.Context, fingerprints []string) (map[string]bool, error)
	SaveScored(ctx context.Context, item domain.ScoredItem) error
	ScoredItems(ctx context.Context, limit int) ([]domain.ScoredItem, error)
}

// DigestStore persists digests and their publication state.
type DigestStore interface {
	SaveDigest(ctx context.Context, d domain.Digest) error
	Digest(ctx context.Context, id string) (domain.Digest, error)
	DigestsByStatus(ctx context.Context, status domain.DigestStatus, limit int) ([]domain.Digest, error)
	UpdateStatus(ctx context.Context, id string, status domain.DigestStatus) error
	// MarkPublished flips published=true exactly once; it reports false when
	// the digest was already published.
	MarkPublished(ctx context.Context, rec domain.PublicationRecord) (bool, error)
	UpdateEngagement(ctx context.Context, id string, score float64, reactions int) error
	EngagedDigests(ctx context.Context, threshold int) ([]domain.Digest, error)
	ExpireReady(ctx context.Context, olderThan time.Time) (int, error)
}

// MetaStore keeps small key/value pointers (last published digest id).
type MetaStore interface {
	SetMeta(ctx context.Context, key, value string) error
	Meta(ctx context.Context, key string) (string, error)
}

// LargeModel is the expensive external scorer.
type LargeModel interface {
	Ask(ctx context.Context, prompt, model string, maxTokens int) (string, error)
}

// ChatTransport delivers messages to the chat channel.
type ChatTransport interface {
	SendMessage(ctx context.Context, channel, text, parseMode string) (int64, error)
}

// ReviewTransport sends review previews with inline controls to an admin.
type ReviewTransport interface {
	SendReview(ctx context.Context, chatID, text, digestID string) (int64, error)
	EditMessage(ctx context.Context, chatID string, messageID int64, text string) error
}

// ReactionSource reports reaction counts by class for a published message.
type ReactionSource interface {
	Reactions(ctx context.Context, channel string, messageID int64) (map[string]int, error)
}

// RejectionLog appends one line per rejected item.
type RejectionLog interface {
	Append(ctx context.Context, rec domain.Rejection) error
}

// ArtifactMirror copies model backups off-host.
type ArtifactMirror interface {
	Upload(ctx context.Context, key string, body io.Reader) error
}

// TransportError classifies chat transport failures for the retry policy.
type TransportError struct {
	Code       int
	RetryAfter time.Duration
	Temporary  bool
	Err        error
}

func (e *TransportError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("transport error %d (retry after %s): %v", e.Code, e.RetryAfter, e.Err)
	}
	return fmt.Sprintf("transport error %d: %v", e.Code, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsTemporary reports whether err is a retryable transport failure.
func IsTemporary(err error) bool {
	var te *TransportError
	if errors.As(err, &te) {
		return te.Temporary
	}
	return false
}

// RetryAfter extracts the retry-after hint from err, if any.
func RetryAfter(err error) time.Duration {
	var te *TransportError
	if errors.As(err, &te) {
		return te.RetryAfter
	}
	return 0
}
