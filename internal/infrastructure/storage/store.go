package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"NewsDesk/internal/config"
	"NewsDesk/internal/domain"
	"NewsDesk/internal/ports"
)

// ErrNotFound is returned when a keyed lookup matches no row.
var ErrNotFound = errors.New("storage: not found")

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS scored_items (
		fingerprint  TEXT PRIMARY KEY,
		item_id      TEXT NOT NULL,
		title        TEXT NOT NULL,
		body         TEXT NOT NULL DEFAULT '',
		source       TEXT NOT NULL DEFAULT '',
		url          TEXT NOT NULL DEFAULT '',
		category     TEXT NOT NULL DEFAULT '',
		published_at BIGINT NOT NULL DEFAULT 0,
		importance   DOUBLE PRECISION NOT NULL,
		credibility  DOUBLE PRECISION NOT NULL,
		summary      TEXT NOT NULL DEFAULT '',
		scorer       TEXT NOT NULL DEFAULT '',
		scored_at    BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS digests (
		id               TEXT PRIMARY KEY,
		fingerprint      TEXT NOT NULL DEFAULT '',
		title            TEXT NOT NULL,
		summary          TEXT NOT NULL DEFAULT '',
		why_important    TEXT NOT NULL DEFAULT '',
		category         TEXT NOT NULL DEFAULT '',
		source           TEXT NOT NULL DEFAULT '',
		url              TEXT NOT NULL DEFAULT '',
		importance       DOUBLE PRECISION NOT NULL,
		credibility      DOUBLE PRECISION NOT NULL,
		engagement_score DOUBLE PRECISION,
		reaction_total   INTEGER NOT NULL DEFAULT 0,
		status           TEXT NOT NULL,
		published        INTEGER NOT NULL DEFAULT 0,
		published_at     BIGINT,
		channel_id       TEXT NOT NULL DEFAULT '',
		message_id       BIGINT NOT NULL DEFAULT 0,
		dry_run          INTEGER NOT NULL DEFAULT 0,
		created_at       BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS digests_status_idx ON digests (status, created_at)`,
	`CREATE TABLE IF NOT EXISTS reactions (
		channel_id TEXT NOT NULL,
		message_id BIGINT NOT NULL,
		class      TEXT NOT NULL,
		count      INTEGER NOT NULL,
		updated_at BIGINT NOT NULL,
		PRIMARY KEY (channel_id, message_id, class)
	)`,
	`CREATE TABLE IF NOT EXISTS meta (
		key        TEXT PRIMARY KEY,
		value      TEXT NOT NULL,
		updated_at BIGINT NOT NULL
	)`,
}

var digestColumns = []string{
	"id", "fingerprint", "title", "summary", "why_important", "category", "source", "url",
	"importance", "credibility", "engagement_score", "reaction_total", "status",
	"published", "published_at", "created_at",
}

var scoredColumns = []string{
	"fingerprint", "item_id", "title", "body", "source", "url", "category", "published_at",
	"importance", "credibility", "summary", "scorer", "scored_at",
}

// Store persists scored items, digests, reactions and meta pointers in SQL.
type Store struct {
	db     *sql.DB
	driver string
	qb     sq.StatementBuilderType
	logger *slog.Logger
	now    func() time.Time
}

var (
	_ ports.ItemStore      = (*Store)(nil)
	_ ports.DigestStore    = (*Store)(nil)
	_ ports.MetaStore      = (*Store)(nil)
	_ ports.ReactionSource = (*Store)(nil)
)

// Open connects to the configured database and applies the schema.
func Open(ctx context.Context, cfg config.DatabaseConfig, logger *slog.Logger) (*Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "", "sqlite3", DriverSQLite:
		driver = DriverSQLite
	case "postgresql", DriverPostgres:
		driver = DriverPostgres
	default:
		return nil, fmt.Errorf("storage: unsupported driver %q", cfg.Driver)
	}
	if cfg.DSN == "" {
		return nil, errors.New("storage: dsn is required")
	}

	db, err := sql.Open(driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("storage: open database: %w", err)
	}
	if driver == DriverSQLite {
		// modernc connections do not share in-memory state or write locks.
		db.SetMaxOpenConns(1)
	}

	store, err := New(ctx, db, driver, logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// New wraps an existing handle and migrates it.
func New(ctx context.Context, db *sql.DB, driver string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var format sq.PlaceholderFormat = sq.Question
	if driver == DriverPostgres {
		format = sq.Dollar
	}
	s := &Store{
		db:     db,
		driver: driver,
		qb:     sq.StatementBuilder.PlaceholderFormat(format),
		logger: logger.With("component", "storage", "driver", driver),
		now:    time.Now,
	}
	if err := s.migrate(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	if s.driver == DriverSQLite {
		if _, err := s.db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
			return fmt.Errorf("storage: set WAL mode: %w", err)
		}
	}
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("storage: migrate: %w", err)
		}
	}
	s.logger.Debug("schema ready", "tables", 4)
	return nil
}

// Ping checks the connection; the readiness probe calls it.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// AlreadyScored returns the subset of fingerprints already persisted.
func (s *Store) AlreadyScored(ctx context.Context, fingerprints []string) (map[string]bool, error) {
	result := make(map[string]bool)
	if len(fingerprints) == 0 {
		return result, nil
	}

	query, args, err := s.qb.Select("fingerprint").
		From("scored_items").
		Where(sq.Eq{"fingerprint": fingerprints}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build scored query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query scored: %w", err)
	}
	for rows.Next() {
		var fp string
		if err := rows.Scan(&fp); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan fingerprint: %w", err)
		}
		result[fp] = true
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("rows iteration: %w", rowsErr)
	}
	if closeErr := rows.Close(); closeErr != nil {
		return nil, fmt.Errorf("close rows: %w", closeErr)
	}
	return result, nil
}

// SaveScored upserts a scored item keyed by fingerprint.
func (s *Store) SaveScored(ctx context.Context, item domain.ScoredItem) error {
	if item.Fingerprint == "" {
		return errors.New("save scored: empty fingerprint")
	}
	scoredAt := item.ScoredAt
	if scoredAt.IsZero() {
		scoredAt = s.now()
	}

	query, args, err := s.qb.Insert("scored_items").
		Columns(scoredColumns...).
		Values(
			item.Fingerprint, item.Item.ID, item.Item.Title, item.Item.Body, item.Item.Source,
			item.Item.URL, item.Item.Category, millis(item.Item.PublishedAt),
			item.Scores.Importance, item.Scores.Credibility, item.Scores.Summary, item.Scores.Scorer,
			millis(scoredAt),
		).
		Suffix(`ON CONFLICT (fingerprint) DO UPDATE SET
			importance = excluded.importance,
			credibility = excluded.credibility,
			summary = excluded.summary,
			scorer = excluded.scorer,
			scored_at = excluded.scored_at`).
		ToSql()
	if err != nil {
		return fmt.Errorf("build upsert scored: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert scored: %w", err)
	}
	return nil
}

// ScoredItems returns the newest scored items first; limit <= 0 means all.
func (s *Store) ScoredItems(ctx context.Context, limit int) ([]domain.ScoredItem, error) {
	b := s.qb.Select(scoredColumns...).From("scored_items").OrderBy("scored_at DESC", "fingerprint")
	if limit > 0 {
		b = b.Limit(uint64(limit))
	}
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build scored list: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query scored list: %w", err)
	}
	var out []domain.ScoredItem
	for rows.Next() {
		var (
			it                  domain.ScoredItem
			publishedAt, scored int64
		)
		if err := rows.Scan(
			&it.Fingerprint, &it.Item.ID, &it.Item.Title, &it.Item.Body, &it.Item.Source,
			&it.Item.URL, &it.Item.Category, &publishedAt,
			&it.Scores.Importance, &it.Scores.Credibility, &it.Scores.Summary, &it.Scores.Scorer,
			&scored,
		); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan scored: %w", err)
		}
		it.Item.PublishedAt = fromMillis(publishedAt)
		it.ScoredAt = fromMillis(scored)
		out = append(out, it)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("rows iteration: %w", rowsErr)
	}
	if closeErr := rows.Close(); closeErr != nil {
		return nil, fmt.Errorf("close rows: %w", closeErr)
	}
	return out, nil
}

// SaveDigest upserts the editable part of a digest. Publication columns are
// owned by MarkPublished and never overwritten here.
func (s *Store) SaveDigest(ctx context.Context, d domain.Digest) error {
	if d.ID == "" {
		return errors.New("save digest: empty id")
	}
	created := d.CreatedAt
	if created.IsZero() {
		created = s.now()
	}
	status := d.Status
	if status == "" {
		status = domain.DigestDraft
	}

	query, args, err := s.qb.Insert("digests").
		Columns(
			"id", "fingerprint", "title", "summary", "why_important", "category", "source", "url",
			"importance", "credibility", "engagement_score", "reaction_total", "status", "created_at",
		).
		Values(
			d.ID, d.Fingerprint, d.Title, d.Summary, d.WhyImportant, d.Category, d.Source, d.URL,
			d.Importance, d.Credibility, nullFloat(d.EngagementScore), d.ReactionTotal, string(status),
			millis(created),
		).
		Suffix(`ON CONFLICT (id) DO UPDATE SET
			title = excluded.title,
			summary = excluded.summary,
			why_important = excluded.why_important,
			category = excluded.category,
			importance = excluded.importance,
			credibility = excluded.credibility,
			status = excluded.status`).
		ToSql()
	if err != nil {
		return fmt.Errorf("build upsert digest: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert digest %s: %w", d.ID, err)
	}
	return nil
}

// Digest loads one digest by id.
func (s *Store) Digest(ctx context.Context, id string) (domain.Digest, error) {
	query, args, err := s.qb.Select(digestColumns...).From("digests").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return domain.Digest{}, fmt.Errorf("build digest query: %w", err)
	}
	d, err := scanDigest(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Digest{}, fmt.Errorf("digest %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return domain.Digest{}, fmt.Errorf("query digest %s: %w", id, err)
	}
	return d, nil
}

// DigestsByStatus lists digests in creation order; limit <= 0 means all.
func (s *Store) DigestsByStatus(ctx context.Context, status domain.DigestStatus, limit int) ([]domain.Digest, error) {
	b := s.qb.Select(digestColumns...).
		From("digests").
		Where(sq.Eq{"status": string(status)}).
		OrderBy("created_at", "id")
	if limit > 0 {
		b = b.Limit(uint64(limit))
	}
	return s.queryDigests(ctx, b)
}

// UpdateStatus moves a digest to a new lifecycle state.
func (s *Store) UpdateStatus(ctx context.Context, id string, status domain.DigestStatus) error {
	query, args, err := s.qb.Update("digests").
		Set("status", string(status)).
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build status update: %w", err)
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update status %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("digest %s: %w", id, ErrNotFound)
	}
	return nil
}

// MarkPublished flips the published flag only when it is still unset, so
// concurrent publishers cannot both win.
func (s *Store) MarkPublished(ctx context.Context, rec domain.PublicationRecord) (bool, error) {
	sentAt := rec.SentAt
	if sentAt.IsZero() {
		sentAt = s.now()
	}
	query, args, err := s.qb.Update("digests").
		Set("published", 1).
		Set("status", string(domain.DigestPublished)).
		Set("published_at", millis(sentAt)).
		Set("channel_id", rec.ChannelID).
		Set("message_id", rec.MessageID).
		Set("dry_run", boolInt(rec.DryRun)).
		Where(sq.Eq{"id": rec.DigestID, "published": 0}).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build publish update: %w", err)
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("mark published %s: %w", rec.DigestID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

// UpdateEngagement stores the latest engagement score and reaction total.
func (s *Store) UpdateEngagement(ctx context.Context, id string, score float64, reactions int) error {
	query, args, err := s.qb.Update("digests").
		Set("engagement_score", score).
		Set("reaction_total", reactions).
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build engagement update: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("update engagement %s: %w", id, err)
	}
	return nil
}

// EngagedDigests returns published digests whose reaction total exceeds threshold.
func (s *Store) EngagedDigests(ctx context.Context, threshold int) ([]domain.Digest, error) {
	b := s.qb.Select(digestColumns...).
		From("digests").
		Where(sq.And{
			sq.Eq{"published": 1, "dry_run": 0},
			sq.Gt{"reaction_total": threshold},
		}).
		OrderBy("created_at", "id")
	return s.queryDigests(ctx, b)
}

// ExpireReady marks unpublished ready digests created before olderThan as
// expired and returns how many changed.
func (s *Store) ExpireReady(ctx context.Context, olderThan time.Time) (int, error) {
	query, args, err := s.qb.Update("digests").
		Set("status", string(domain.DigestExpired)).
		Where(sq.And{
			sq.Eq{"status": string(domain.DigestReady), "published": 0},
			sq.Lt{"created_at": millis(olderThan)},
		}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build expire update: %w", err)
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("expire ready: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return int(n), nil
}

// SetMeta upserts a key/value pointer.
func (s *Store) SetMeta(ctx context.Context, key, value string) error {
	query, args, err := s.qb.Insert("meta").
		Columns("key", "value", "updated_at").
		Values(key, value, millis(s.now())).
		Suffix("ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at").
		ToSql()
	if err != nil {
		return fmt.Errorf("build meta upsert: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("set meta %s: %w", key, err)
	}
	return nil
}

// Meta returns the stored value, or an empty string when key is unset.
func (s *Store) Meta(ctx context.Context, key string) (string, error) {
	query, args, err := s.qb.Select("value").From("meta").Where(sq.Eq{"key": key}).ToSql()
	if err != nil {
		return "", fmt.Errorf("build meta query: %w", err)
	}
	var value string
	err = s.db.QueryRowContext(ctx, query, args...).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get meta %s: %w", key, err)
	}
	return value, nil
}

// RecordReactions replaces the reaction counts of one channel message.
func (s *Store) RecordReactions(ctx context.Context, channel string, messageID int64, counts map[string]int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin reactions tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	del, args, err := s.qb.Delete("reactions").
		Where(sq.Eq{"channel_id": channel, "message_id": messageID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build reactions delete: %w", err)
	}
	if _, err := tx.ExecContext(ctx, del, args...); err != nil {
		return fmt.Errorf("clear reactions: %w", err)
	}

	if len(counts) > 0 {
		now := millis(s.now())
		ins := s.qb.Insert("reactions").Columns("channel_id", "message_id", "class", "count", "updated_at")
		for class, n := range counts {
			if n < 0 {
				n = 0
			}
			ins = ins.Values(channel, messageID, class, n, now)
		}
		query, args, err := ins.ToSql()
		if err != nil {
			return fmt.Errorf("build reactions insert: %w", err)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("insert reactions: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit reactions: %w", err)
	}
	return nil
}

// Reactions returns the latest counts recorded for a channel message.
func (s *Store) Reactions(ctx context.Context, channel string, messageID int64) (map[string]int, error) {
	query, args, err := s.qb.Select("class", "count").
		From("reactions").
		Where(sq.Eq{"channel_id": channel, "message_id": messageID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build reactions query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query reactions: %w", err)
	}
	counts := make(map[string]int)
	for rows.Next() {
		var (
			class string
			n     int
		)
		if err := rows.Scan(&class, &n); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan reaction: %w", err)
		}
		counts[class] = n
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("rows iteration: %w", rowsErr)
	}
	if closeErr := rows.Close(); closeErr != nil {
		return nil, fmt.Errorf("close rows: %w", closeErr)
	}
	return counts, nil
}

func (s *Store) queryDigests(ctx context.Context, b sq.SelectBuilder) ([]domain.Digest, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build digest list: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query digests: %w", err)
	}
	var out []domain.Digest
	for rows.Next() {
		d, err := scanDigest(rows)
		if err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan digest: %w", err)
		}
		out = append(out, d)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("rows iteration: %w", rowsErr)
	}
	if closeErr := rows.Close(); closeErr != nil {
		return nil, fmt.Errorf("close rows: %w", closeErr)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDigest(row rowScanner) (domain.Digest, error) {
	var (
		d           domain.Digest
		status      string
		published   int
		engagement  sql.NullFloat64
		publishedAt sql.NullInt64
		created     int64
	)
	if err := row.Scan(
		&d.ID, &d.Fingerprint, &d.Title, &d.Summary, &d.WhyImportant, &d.Category, &d.Source, &d.URL,
		&d.Importance, &d.Credibility, &engagement, &d.ReactionTotal, &status,
		&published, &publishedAt, &created,
	); err != nil {
		return domain.Digest{}, err
	}
	d.Status = domain.DigestStatus(status)
	d.Published = published != 0
	if engagement.Valid {
		v := engagement.Float64
		d.EngagementScore = &v
	}
	if publishedAt.Valid {
		t := fromMillis(publishedAt.Int64)
		d.PublishedAt = &t
	}
	d.CreatedAt = fromMillis(created)
	return d, nil
}

func millis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(v int64) time.Time {
	if v == 0 {
		return time.Time{}
	}
	return time.UnixMilli(v).UTC()
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func boolInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
