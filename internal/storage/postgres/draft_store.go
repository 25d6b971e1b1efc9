// Package postgres provides the Postgres-backed moderation queue.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"regexp"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Athena-vivi/LMSY.space-sub002/internal/ingest"
)

const (
	uniqueViolation = "23505"
	defaultTable    = "draft_items"
	defaultLimit    = 50
	maxLimit        = 200
	eventDateLayout = "2006-01-02"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool used for draft rows.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Ping(context.Context) error
	Close()
}

// DraftStore reads and writes draft_items.
type DraftStore struct {
	pool    pool
	table   string
	builder sq.StatementBuilderType
}

var _ ingest.DraftStore = (*DraftStore)(nil)

// NewDraftStore connects a pgx pool using cfg.
func NewDraftStore(ctx context.Context, cfg Config) (*DraftStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	store, err := NewDraftStoreWithPool(p, cfg.Table)
	if err != nil {
		p.Close()
		return nil, err
	}
	return store, nil
}

// NewDraftStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewDraftStoreWithPool(p pool, table string) (*DraftStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &DraftStore{
		pool:    p,
		table:   table,
		builder: sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}, nil
}

// Close releases the underlying pool resources.
func (s *DraftStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Ping checks connectivity for readiness probes.
func (s *DraftStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return mapError("ping", err)
	}
	return nil
}

// ExistsBySourceURL reports whether a row with the normalized URL exists.
func (s *DraftStore) ExistsBySourceURL(ctx context.Context, sourceURL string) (bool, error) {
	if normalized, err := ingest.NormalizeSourceURL(sourceURL); err == nil {
		sourceURL = normalized
	}
	query := fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE normalize_url(source_url) = normalize_url($1))`, s.table)
	return s.exists(ctx, "exists by source url", query, sourceURL)
}

// ExistsByFileHash reports whether any row, regardless of status, carries fileHash.
func (s *DraftStore) ExistsByFileHash(ctx context.Context, fileHash string) (bool, error) {
	if fileHash == "" {
		return false, nil
	}
	query := fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE file_hash = $1)`, s.table)
	return s.exists(ctx, "exists by file hash", query, fileHash)
}

func (s *DraftStore) exists(ctx context.Context, op, query string, arg any) (bool, error) {
	var ok bool
	if err := s.pool.QueryRow(ctx, query, arg).Scan(&ok); err != nil {
		return false, mapError(op, err)
	}
	return ok, nil
}

// InsertStaged writes record and returns its id. Unique violations map to duplicate errors.
func (s *DraftStore) InsertStaged(ctx context.Context, record ingest.StagedRecord) (string, error) {
	if err := record.Validate(); err != nil {
		return "", fmt.Errorf("invalid record: %w", err)
	}
	if normalized, err := ingest.NormalizeSourceURL(record.SourceURL); err == nil {
		record.SourceURL = normalized
	}
	if record.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return "", fmt.Errorf("generate id: %w", err)
		}
		record.ID = id.String()
	}
	eventDate, err := time.Parse(eventDateLayout, record.EventDate)
	if err != nil {
		return "", fmt.Errorf("invalid event date %q: %w", record.EventDate, err)
	}
	title, err := marshalLocalized(record.Title)
	if err != nil {
		return "", err
	}
	description, err := marshalLocalized(record.Description)
	if err != nil {
		return "", err
	}
	tags := record.Tags
	if tags == nil {
		tags = []string{}
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	if record.UpdatedAt.IsZero() {
		record.UpdatedAt = record.CreatedAt
	}

	query, args, err := s.builder.Insert(s.table).
		Columns(
			"id", "source_url", "source_platform", "source_post_id", "file_hash",
			"r2_key", "r2_media_url", "media_type", "content_type", "file_size",
			"title", "description", "event_date", "tags", "status",
			"ingestion_stage", "ai_translation_status", "ai_translation_model",
			"created_at", "updated_at", "published_at",
		).
		Values(
			record.ID, record.SourceURL, string(record.SourcePlatform), nullable(record.SourcePostID), nullable(record.FileHash),
			nullable(record.R2Key), nullable(record.R2MediaURL), string(record.MediaType), nullable(record.ContentType), record.FileSize,
			title, description, eventDate, tags, string(record.Status),
			string(record.IngestionStage), string(record.AITranslationStatus), nullable(record.AITranslationModel),
			record.CreatedAt, record.UpdatedAt, record.PublishedAt,
		).
		Suffix("RETURNING id").
		ToSql()
	if err != nil {
		return "", fmt.Errorf("build insert: %w", err)
	}

	var id string
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&id); err != nil {
		return "", mapError("insert draft", err)
	}
	return id, nil
}

// Get returns the row with id.
func (s *DraftStore) Get(ctx context.Context, id string) (ingest.StagedRecord, error) {
	query, args, err := s.selectRecords().Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return ingest.StagedRecord{}, fmt.Errorf("build get: %w", err)
	}
	rec, err := scanRecord(s.pool.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ingest.StagedRecord{}, ingest.ErrNotFound
		}
		return ingest.StagedRecord{}, mapError("get draft", err)
	}
	return rec, nil
}

// List returns rows matching filter, newest first.
func (s *DraftStore) List(ctx context.Context, filter ingest.ListFilter) ([]ingest.StagedRecord, error) {
	q := s.selectRecords()
	where := sq.Eq{}
	if filter.Status != "" {
		where["status"] = string(filter.Status)
	}
	if filter.Stage != "" {
		where["ingestion_stage"] = string(filter.Stage)
	}
	if filter.Platform != "" {
		where["source_platform"] = string(filter.Platform)
	}
	if len(where) > 0 {
		q = q.Where(where)
	}
	q = q.OrderBy("created_at DESC", "id DESC").Limit(clampLimit(filter.Limit))
	if filter.Offset > 0 {
		q = q.Offset(uint64(filter.Offset))
	}
	return s.queryRecords(ctx, "list drafts", q)
}

// ListTranslationFailures returns failed-partial rows still waiting for a
// translation, oldest first.
func (s *DraftStore) ListTranslationFailures(ctx context.Context, limit int) ([]ingest.StagedRecord, error) {
	q := s.selectRecords().
		Where(sq.Eq{
			"ingestion_stage":       string(ingest.StageFailed),
			"ai_translation_status": backlogStatuses,
		}).
		OrderBy("created_at ASC").
		Limit(clampLimit(limit))
	return s.queryRecords(ctx, "list translation failures", q)
}

// Stats counts rows by status, stage, translation status, and platform.
func (s *DraftStore) Stats(ctx context.Context) (ingest.Stats, error) {
	query, args, err := s.builder.
		Select("status", "ingestion_stage", "ai_translation_status", "source_platform", "count(*)").
		From(s.table).
		GroupBy("status", "ingestion_stage", "ai_translation_status", "source_platform").
		ToSql()
	if err != nil {
		return ingest.Stats{}, fmt.Errorf("build stats: %w", err)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return ingest.Stats{}, mapError("stats", err)
	}
	defer rows.Close()

	stats := ingest.Stats{
		ByStatus: make(map[ingest.Status]int),
		ByStage:  make(map[ingest.Stage]int),
		ByAI:     make(map[string]int),
		Platform: make(map[ingest.Platform]int),
	}
	for rows.Next() {
		var status, stage, ai, platform string
		var count int64
		if err := rows.Scan(&status, &stage, &ai, &platform, &count); err != nil {
			return ingest.Stats{}, fmt.Errorf("scan stats: %w", err)
		}
		n := int(count)
		stats.Total += n
		stats.ByStatus[ingest.Status(status)] += n
		stats.ByStage[ingest.Stage(stage)] += n
		stats.ByAI[ai] += n
		stats.Platform[ingest.Platform(platform)] += n
	}
	if err := rows.Err(); err != nil {
		return ingest.Stats{}, mapError("stats", err)
	}
	return stats, nil
}

// SetStatus applies a moderation transition. The update is guarded by the previous status.
func (s *DraftStore) SetStatus(ctx context.Context, id string, status ingest.Status, at time.Time) (ingest.StagedRecord, error) {
	current, err := s.Get(ctx, id)
	if err != nil {
		return ingest.StagedRecord{}, err
	}
	updated, err := ingest.ApplyStatus(current, status, at)
	if err != nil {
		return ingest.StagedRecord{}, err
	}
	query, args, err := s.builder.Update(s.table).
		Set("status", string(updated.Status)).
		Set("published_at", updated.PublishedAt).
		Set("updated_at", updated.UpdatedAt).
		Where(sq.Eq{"id": id, "status": string(current.Status)}).
		ToSql()
	if err != nil {
		return ingest.StagedRecord{}, fmt.Errorf("build status update: %w", err)
	}
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return ingest.StagedRecord{}, mapError("set status", err)
	}
	if tag.RowsAffected() == 0 {
		return ingest.StagedRecord{}, fmt.Errorf("%w: %s changed concurrently", ingest.ErrInvalidTransition, id)
	}
	return updated, nil
}

// Delete removes a row.
func (s *DraftStore) Delete(ctx context.Context, id string) error {
	query, args, err := s.builder.Delete(s.table).Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return fmt.Errorf("build delete: %w", err)
	}
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return mapError("delete draft", err)
	}
	if tag.RowsAffected() == 0 {
		return ingest.ErrNotFound
	}
	return nil
}

// UpdateTranslation writes backfilled localized text.
func (s *DraftStore) UpdateTranslation(ctx context.Context, update ingest.TranslationUpdate) error {
	title, err := marshalLocalized(update.Title)
	if err != nil {
		return err
	}
	description, err := marshalLocalized(update.Description)
	if err != nil {
		return err
	}
	query, args, err := s.builder.Update(s.table).
		Set("title", title).
		Set("description", description).
		Set("ingestion_stage", string(update.Stage)).
		Set("ai_translation_status", string(update.Status)).
		Set("ai_translation_model", nullable(update.Model)).
		Set("updated_at", update.UpdatedAt).
		Where(sq.Eq{"id": update.ID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build translation update: %w", err)
	}
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return mapError("update translation", err)
	}
	if tag.RowsAffected() == 0 {
		return ingest.ErrNotFound
	}
	return nil
}

var backlogStatuses = []string{string(ingest.TranslationFailed), string(ingest.TranslationPending)}

var recordColumns = []string{
	"id::text",
	"source_url",
	"source_platform",
	"COALESCE(source_post_id, '')",
	"COALESCE(file_hash, '')",
	"COALESCE(r2_key, '')",
	"COALESCE(r2_media_url, '')",
	"media_type",
	"COALESCE(content_type, '')",
	"file_size",
	"title",
	"description",
	"to_char(event_date, 'YYYY-MM-DD')",
	"tags",
	"status",
	"ingestion_stage",
	"ai_translation_status",
	"COALESCE(ai_translation_model, '')",
	"created_at",
	"updated_at",
	"published_at",
}

func (s *DraftStore) selectRecords() sq.SelectBuilder {
	return s.builder.Select(recordColumns...).From(s.table)
}

func (s *DraftStore) queryRecords(ctx context.Context, op string, q sq.SelectBuilder) ([]ingest.StagedRecord, error) {
	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build %s: %w", op, err)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, mapError(op, err)
	}
	defer rows.Close()

	out := []ingest.StagedRecord{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(op, err)
	}
	return out, nil
}

func scanRecord(row pgx.Row) (ingest.StagedRecord, error) {
	var (
		rec                                ingest.StagedRecord
		platform, mediaType, status, stage string
		aiStatus                           string
		title, description                 []byte
	)
	err := row.Scan(
		&rec.ID, &rec.SourceURL, &platform, &rec.SourcePostID, &rec.FileHash,
		&rec.R2Key, &rec.R2MediaURL, &mediaType, &rec.ContentType, &rec.FileSize,
		&title, &description, &rec.EventDate, &rec.Tags, &status,
		&stage, &aiStatus, &rec.AITranslationModel,
		&rec.CreatedAt, &rec.UpdatedAt, &rec.PublishedAt,
	)
	if err != nil {
		return ingest.StagedRecord{}, err
	}
	rec.SourcePlatform = ingest.Platform(platform)
	rec.MediaType = ingest.MediaType(mediaType)
	rec.Status = ingest.Status(status)
	rec.IngestionStage = ingest.Stage(stage)
	rec.AITranslationStatus = ingest.TranslationStatus(aiStatus)
	if rec.Title, err = unmarshalLocalized(title); err != nil {
		return ingest.StagedRecord{}, err
	}
	if rec.Description, err = unmarshalLocalized(description); err != nil {
		return ingest.StagedRecord{}, err
	}
	return rec, nil
}

func marshalLocalized(l ingest.Localized) ([]byte, error) {
	if l == nil {
		l = ingest.Localized{}
	}
	b, err := json.Marshal(l)
	if err != nil {
		return nil, fmt.Errorf("marshal localized text: %w", err)
	}
	return b, nil
}

func unmarshalLocalized(b []byte) (ingest.Localized, error) {
	out := ingest.Localized{}
	if len(b) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("decode localized text: %w", err)
	}
	return out, nil
}

// nullable stores empty strings as NULL so partial unique indexes ignore them.
func nullable(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

func clampLimit(limit int) uint64 {
	switch {
	case limit <= 0:
		return defaultLimit
	case limit > maxLimit:
		return maxLimit
	default:
		return uint64(limit)
	}
}

// mapError translates driver failures into ingest sentinels.
func mapError(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		if strings.Contains(pgErr.ConstraintName, "file_hash") {
			return fmt.Errorf("%s: %w", op, ingest.ErrDuplicateFileHash)
		}
		return fmt.Errorf("%s: %w", op, ingest.ErrDuplicateSourceURL)
	}
	if isUnavailable(err) {
		return fmt.Errorf("%s: %w: %w", op, ingest.ErrUnavailable, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isUnavailable(err error) bool {
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}
