package storage

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"NewsDesk/internal/config"
	"NewsDesk/internal/domain"
	"NewsDesk/internal/logging"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "newsdesk.db")
	s, err := Open(context.Background(), config.DatabaseConfig{Driver: "sqlite", DSN: dsn}, logging.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func readyDigest(id string, created time.Time) domain.Digest {
	return domain.Digest{
		ID:          id,
		Fingerprint: "fp-" + id,
		Title:       "Title " + id,
		Summary:     "summary",
		Category:    domain.CategoryTech,
		Source:      "Reuters",
		URL:         "https://example.com/" + id,
		Importance:  0.8,
		Credibility: 0.9,
		Status:      domain.DigestReady,
		CreatedAt:   created,
	}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), config.DatabaseConfig{Driver: "mysql", DSN: "x"}, logging.Discard())
	require.Error(t, err)
}

func TestScoredItemsRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	for i, fp := range []string{"a", "b", "c"} {
		require.NoError(t, s.SaveScored(ctx, domain.ScoredItem{
			Item:        domain.NewsItem{ID: "id-" + fp, Title: "Item " + fp, Source: "Reuters", PublishedAt: base},
			Fingerprint: fp,
			Scores:      domain.Scores{Importance: 0.5, Credibility: 0.7, Scorer: "rules"},
			ScoredAt:    base.Add(time.Duration(i) * time.Minute),
		}))
	}

	seen, err := s.AlreadyScored(ctx, []string{"a", "c", "zzz"})
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"a": true, "c": true}, seen)

	all, err := s.ScoredItems(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "c", all[0].Fingerprint)
	assert.Equal(t, base, all[2].Item.PublishedAt)

	limited, err := s.ScoredItems(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	// Upsert keeps a single row.
	require.NoError(t, s.SaveScored(ctx, domain.ScoredItem{
		Item:        domain.NewsItem{ID: "id-a", Title: "Item a"},
		Fingerprint: "a",
		Scores:      domain.Scores{Importance: 0.9, Credibility: 0.9},
		ScoredAt:    base.Add(time.Hour),
	}))
	all, err = s.ScoredItems(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "a", all[0].Fingerprint)
	assert.InDelta(t, 0.9, all[0].Scores.Importance, 1e-9)
}

func TestDigestLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	created := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)

	require.NoError(t, s.SaveDigest(ctx, readyDigest("d1", created)))
	require.NoError(t, s.SaveDigest(ctx, readyDigest("d2", created.Add(time.Minute))))

	got, err := s.Digest(ctx, "d1")
	require.NoError(t, err)
	assert.True(t, got.Publishable())
	assert.Nil(t, got.EngagementScore)
	assert.Nil(t, got.PublishedAt)
	assert.Equal(t, created, got.CreatedAt)

	_, err = s.Digest(ctx, "missing")
	assert.True(t, errors.Is(err, ErrNotFound))

	ready, err := s.DigestsByStatus(ctx, domain.DigestReady, 0)
	require.NoError(t, err)
	require.Len(t, ready, 2)
	assert.Equal(t, "d1", ready[0].ID)

	require.NoError(t, s.UpdateStatus(ctx, "d2", domain.DigestReviewing))
	assert.ErrorIs(t, s.UpdateStatus(ctx, "missing", domain.DigestReady), ErrNotFound)

	sent := created.Add(time.Hour)
	ok, err := s.MarkPublished(ctx, domain.PublicationRecord{DigestID: "d1", ChannelID: "@news", MessageID: 42, SentAt: sent})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.MarkPublished(ctx, domain.PublicationRecord{DigestID: "d1", ChannelID: "@news", MessageID: 43, SentAt: sent})
	require.NoError(t, err)
	assert.False(t, ok)

	got, err = s.Digest(ctx, "d1")
	require.NoError(t, err)
	assert.True(t, got.Published)
	assert.Equal(t, domain.DigestPublished, got.Status)
	require.NotNil(t, got.PublishedAt)
	assert.Equal(t, sent, *got.PublishedAt)

	// Re-saving a published digest must not clear the flag.
	d := readyDigest("d1", created)
	require.NoError(t, s.SaveDigest(ctx, d))
	got, err = s.Digest(ctx, "d1")
	require.NoError(t, err)
	assert.True(t, got.Published)
}

func TestMarkPublishedConcurrent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.SaveDigest(ctx, readyDigest("d1", time.Now())))

	var (
		wg   sync.WaitGroup
		wins atomic.Int32
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(msg int64) {
			defer wg.Done()
			ok, err := s.MarkPublished(ctx, domain.PublicationRecord{DigestID: "d1", MessageID: msg})
			if err == nil && ok {
				wins.Add(1)
			}
		}(int64(i))
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}

func TestEngagementAndExpiry(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2025, 3, 2, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.SaveDigest(ctx, readyDigest("old", now.Add(-48*time.Hour))))
	require.NoError(t, s.SaveDigest(ctx, readyDigest("fresh", now.Add(-time.Hour))))
	require.NoError(t, s.SaveDigest(ctx, readyDigest("liked", now.Add(-72*time.Hour))))
	require.NoError(t, s.SaveDigest(ctx, readyDigest("dry", now.Add(-72*time.Hour))))
	require.NoError(t, s.SaveDigest(ctx, readyDigest("tied", now.Add(-72*time.Hour))))

	ok, err := s.MarkPublished(ctx, domain.PublicationRecord{DigestID: "liked", MessageID: 7, SentAt: now})
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = s.MarkPublished(ctx, domain.PublicationRecord{DigestID: "dry", SentAt: now, DryRun: true})
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = s.MarkPublished(ctx, domain.PublicationRecord{DigestID: "tied", MessageID: 8, SentAt: now})
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, s.UpdateEngagement(ctx, "liked", 0.75, 12))
	require.NoError(t, s.UpdateEngagement(ctx, "dry", 0.9, 50))
	require.NoError(t, s.UpdateEngagement(ctx, "tied", 0.5, 10))

	engaged, err := s.EngagedDigests(ctx, 10)
	require.NoError(t, err)
	require.Len(t, engaged, 1)
	assert.Equal(t, "liked", engaged[0].ID)
	require.NotNil(t, engaged[0].EngagementScore)
	assert.InDelta(t, 0.75, *engaged[0].EngagementScore, 1e-9)
	assert.Equal(t, 12, engaged[0].ReactionTotal)

	n, err := s.ExpireReady(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	old, err := s.Digest(ctx, "old")
	require.NoError(t, err)
	assert.Equal(t, domain.DigestExpired, old.Status)
	assert.False(t, old.Publishable())
}

func TestMetaAndReactions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	v, err := s.Meta(ctx, "last_published_digest")
	require.NoError(t, err)
	assert.Empty(t, v)

	require.NoError(t, s.SetMeta(ctx, "last_published_digest", "d1"))
	require.NoError(t, s.SetMeta(ctx, "last_published_digest", "d2"))
	v, err = s.Meta(ctx, "last_published_digest")
	require.NoError(t, err)
	assert.Equal(t, "d2", v)

	require.NoError(t, s.RecordReactions(ctx, "@news", 42, map[string]int{"👍": 3, "🔥": 2}))
	require.NoError(t, s.RecordReactions(ctx, "@news", 42, map[string]int{"👍": 5}))

	counts, err := s.Reactions(ctx, "@news", 42)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"👍": 5}, counts)

	empty, err := s.Reactions(ctx, "@news", 99)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

type fakePutter struct {
	key  string
	body []byte
}

func (f *fakePutter) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.key = *in.Key
	buf := new(bytes.Buffer)
	_, _ = buf.ReadFrom(in.Body)
	f.body = buf.Bytes()
	return &s3.PutObjectOutput{}, nil
}

func TestS3MirrorPrefixesKeys(t *testing.T) {
	put := &fakePutter{}
	m, err := NewS3Mirror(put, "models", "/newsdesk/", logging.Discard())
	require.NoError(t, err)

	require.NoError(t, m.Upload(context.Background(), "backup/model.json.20250301", bytes.NewBufferString("{}")))
	assert.Equal(t, "newsdesk/backup/model.json.20250301", put.key)
	assert.Equal(t, []byte("{}"), put.body)

	_, err = NewS3Mirror(put, " ", "", nil)
	assert.Error(t, err)
}
