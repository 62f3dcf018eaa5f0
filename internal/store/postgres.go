package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/crosswire-ai/crosswire/internal/model"
)

const embeddingDim = 1536

// PostgresStore is the canonical Store backed by Postgres with the
// pgvector extension.
type PostgresStore struct {
	db     *sql.DB
	logger *zap.Logger
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore connects, verifies reachability, and applies the
// idempotent schema.
func NewPostgresStore(ctx context.Context, dsn string, logger *zap.Logger) (*PostgresStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, dbErr("open", err)
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, dbErr("ping", err)
	}

	s := &PostgresStore{db: db, logger: logger}
	if err := s.ensureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error { return s.db.Close() }

func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		`CREATE TABLE IF NOT EXISTS content_sources (
			id UUID PRIMARY KEY,
			organization_id TEXT NOT NULL,
			source_type TEXT NOT NULL,
			name TEXT NOT NULL,
			config JSONB NOT NULL DEFAULT '{}',
			encrypted_credentials TEXT NOT NULL DEFAULT '',
			sync_status TEXT NOT NULL DEFAULT 'idle',
			last_sync_at TIMESTAMPTZ,
			error_message TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sources_org ON content_sources (organization_id)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS content_items (
			id UUID PRIMARY KEY,
			organization_id TEXT NOT NULL,
			source_id UUID NOT NULL REFERENCES content_sources(id) ON DELETE CASCADE,
			content_type TEXT NOT NULL,
			external_id TEXT NOT NULL,
			title TEXT NOT NULL DEFAULT '',
			content TEXT NOT NULL DEFAULT '',
			rich_content TEXT NOT NULL DEFAULT '',
			author_user_id TEXT NOT NULL DEFAULT '',
			author_external_id TEXT NOT NULL DEFAULT '',
			author_name TEXT NOT NULL DEFAULT '',
			source_created_at TIMESTAMPTZ,
			source_updated_at TIMESTAMPTZ,
			metadata JSONB,
			tags TEXT[] NOT NULL DEFAULT '{}',
			processing_status TEXT NOT NULL DEFAULT 'pending',
			summary TEXT NOT NULL DEFAULT '',
			key_points TEXT[] NOT NULL DEFAULT '{}',
			sentiment TEXT NOT NULL DEFAULT '',
			embedding vector(%d),
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			UNIQUE (source_id, external_id)
		)`, embeddingDim),
		`CREATE INDEX IF NOT EXISTS idx_items_org ON content_items (organization_id)`,
		`CREATE INDEX IF NOT EXISTS idx_items_pending ON content_items (processing_status) WHERE processing_status = 'pending'`,
		`CREATE INDEX IF NOT EXISTS idx_items_metadata ON content_items USING gin (metadata)`,
		`CREATE INDEX IF NOT EXISTS idx_items_embedding ON content_items USING ivfflat (embedding vector_cosine_ops) WITH (lists = 100)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS content_chunks (
			id UUID PRIMARY KEY,
			content_item_id UUID NOT NULL REFERENCES content_items(id) ON DELETE CASCADE,
			chunk_index INT NOT NULL,
			content TEXT NOT NULL,
			start_offset INT NOT NULL DEFAULT 0,
			end_offset INT NOT NULL DEFAULT 0,
			start_second DOUBLE PRECISION,
			end_second DOUBLE PRECISION,
			embedding vector(%d),
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			UNIQUE (content_item_id, chunk_index)
		)`, embeddingDim),
		`CREATE TABLE IF NOT EXISTS sync_cursors (
			source_id UUID NOT NULL REFERENCES content_sources(id) ON DELETE CASCADE,
			subresource_key TEXT NOT NULL,
			cursor TEXT NOT NULL DEFAULT '',
			last_synced_at TIMESTAMPTZ,
			items_synced INT NOT NULL DEFAULT 0,
			last_error TEXT NOT NULL DEFAULT '',
			meta JSONB NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (source_id, subresource_key)
		)`,
		`CREATE TABLE IF NOT EXISTS content_relationships (
			id UUID PRIMARY KEY,
			source_item_id UUID NOT NULL REFERENCES content_items(id) ON DELETE CASCADE,
			target_item_id UUID NOT NULL REFERENCES content_items(id) ON DELETE CASCADE,
			relationship_type TEXT NOT NULL,
			confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			UNIQUE (source_item_id, target_item_id, relationship_type)
		)`,
		`CREATE TABLE IF NOT EXISTS content_participants (
			id UUID PRIMARY KEY,
			content_item_id UUID NOT NULL REFERENCES content_items(id) ON DELETE CASCADE,
			role TEXT NOT NULL,
			user_id TEXT NOT NULL DEFAULT '',
			external_id TEXT NOT NULL DEFAULT '',
			name TEXT NOT NULL DEFAULT '',
			email TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			UNIQUE (content_item_id, role, user_id, external_id)
		)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS topic_clusters (
			id TEXT PRIMARY KEY,
			organization_id TEXT NOT NULL,
			label TEXT NOT NULL DEFAULT '',
			centroid vector(%d),
			content_count INT NOT NULL DEFAULT 0,
			source_breakdown JSONB NOT NULL DEFAULT '{}',
			participant_count INT NOT NULL DEFAULT 0,
			trending_score DOUBLE PRECISION NOT NULL DEFAULT 0,
			member_hash TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, embeddingDim),
		`CREATE INDEX IF NOT EXISTS idx_clusters_org ON topic_clusters (organization_id)`,
		`CREATE TABLE IF NOT EXISTS topic_cluster_members (
			cluster_id TEXT NOT NULL REFERENCES topic_clusters(id) ON DELETE CASCADE,
			content_item_id UUID NOT NULL REFERENCES content_items(id) ON DELETE CASCADE,
			similarity DOUBLE PRECISION NOT NULL DEFAULT 0,
			primary_topic BOOLEAN NOT NULL DEFAULT false,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (cluster_id, content_item_id)
		)`,
		`CREATE TABLE IF NOT EXISTS topic_expertise (
			cluster_id TEXT NOT NULL REFERENCES topic_clusters(id) ON DELETE CASCADE,
			person_key TEXT NOT NULL,
			contribution_count INT NOT NULL DEFAULT 0,
			last_contribution_at TIMESTAMPTZ,
			PRIMARY KEY (cluster_id, person_key)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return dbErr("ensure schema", err)
		}
	}
	return nil
}

// toVectorLiteral renders a pgvector input literal.
func toVectorLiteral(vec []float32) any {
	if len(vec) == 0 {
		return nil
	}
	parts := make([]string, len(vec))
	for i, v := range vec {
		parts[i] = strconv.FormatFloat(float64(v), 'f', -1, 32)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

// parseVector reads back a pgvector text rendering.
func parseVector(s sql.NullString) ([]float32, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	trimmed := strings.Trim(s.String, "[]")
	if trimmed == "" {
		return nil, nil
	}
	parts := strings.Split(trimmed, ",")
	vec := make([]float32, len(parts))
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return nil, fmt.Errorf("parse vector component %d: %w", i, err)
		}
		vec[i] = float32(f)
	}
	return vec, nil
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func (s *PostgresStore) CreateSource(ctx context.Context, src *model.ContentSource) error {
	if src.ID == "" {
		src.ID = uuid.NewString()
	}
	if src.SyncStatus == "" {
		src.SyncStatus = model.SyncIdle
	}
	cfg, err := src.Config.JSON()
	if err != nil {
		return dbErr("create source", err)
	}
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO content_sources
			(id, organization_id, source_type, name, config, encrypted_credentials, sync_status, error_message)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at`,
		src.ID, src.OrganizationID, src.Type, src.Name, cfg,
		src.EncryptedCredentials, src.SyncStatus, src.ErrorMessage)
	if err := row.Scan(&src.CreatedAt, &src.UpdatedAt); err != nil {
		return dbErr("create source", err)
	}
	return nil
}

const sourceColumns = `id, organization_id, source_type, name, config, encrypted_credentials,
	sync_status, last_sync_at, error_message, created_at, updated_at`

func scanSource(row interface{ Scan(...any) error }) (*model.ContentSource, error) {
	var (
		src      model.ContentSource
		cfg      []byte
		lastSync sql.NullTime
	)
	err := row.Scan(&src.ID, &src.OrganizationID, &src.Type, &src.Name, &cfg,
		&src.EncryptedCredentials, &src.SyncStatus, &lastSync, &src.ErrorMessage,
		&src.CreatedAt, &src.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := src.Config.FromJSON(cfg); err != nil {
		return nil, err
	}
	if lastSync.Valid {
		t := lastSync.Time
		src.LastSyncAt = &t
	}
	return &src, nil
}

func (s *PostgresStore) GetSource(ctx context.Context, id string) (*model.ContentSource, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sourceColumns+` FROM content_sources WHERE id = $1`, id)
	src, err := scanSource(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, dbErr("get source", err)
	}
	return src, nil
}

func (s *PostgresStore) listSources(ctx context.Context, query string, args ...any) ([]*model.ContentSource, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, dbErr("list sources", err)
	}
	defer rows.Close()

	var out []*model.ContentSource
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, dbErr("list sources", err)
		}
		out = append(out, src)
	}
	return out, dbErr("list sources", rows.Err())
}

func (s *PostgresStore) ListSources(ctx context.Context, orgID string) ([]*model.ContentSource, error) {
	return s.listSources(ctx,
		`SELECT `+sourceColumns+` FROM content_sources WHERE organization_id = $1 ORDER BY created_at, id`,
		orgID)
}

func (s *PostgresStore) ListActiveSources(ctx context.Context) ([]*model.ContentSource, error) {
	return s.listSources(ctx,
		`SELECT `+sourceColumns+` FROM content_sources WHERE sync_status <> 'disabled' ORDER BY created_at, id`)
}

func (s *PostgresStore) UpdateSourceStatus(ctx context.Context, id string, status model.SyncStatus, errMsg string, lastSyncAt *time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE content_sources
		SET sync_status = $2,
		    error_message = $3,
		    last_sync_at = COALESCE($4, last_sync_at),
		    updated_at = now()
		WHERE id = $1`,
		id, status, errMsg, nullTime(lastSyncAt))
	if err != nil {
		return dbErr("update source status", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) UpdateSourceCredentials(ctx context.Context, id string, encrypted string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE content_sources SET encrypted_credentials = $2, updated_at = now() WHERE id = $1`,
		id, encrypted)
	if err != nil {
		return dbErr("update source credentials", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) DeleteSource(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM content_sources WHERE id = $1`, id)
	if err != nil {
		return dbErr("delete source", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) UpsertContentItem(ctx context.Context, item *model.ContentItem) (bool, error) {
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if item.ProcessingStatus == "" {
		item.ProcessingStatus = model.ProcessingPending
	}
	meta, err := model.MarshalMetadata(item.Metadata)
	if err != nil {
		return false, dbErr("upsert item", err)
	}

	// AI fields (summary, key_points, sentiment, embedding) are never
	// touched on conflict; changed source content resets the item to
	// pending so enrichment re-runs.
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO content_items
			(id, organization_id, source_id, content_type, external_id, title, content,
			 rich_content, author_user_id, author_external_id, author_name,
			 source_created_at, source_updated_at, metadata, tags, processing_status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (source_id, external_id) DO UPDATE SET
			content_type = EXCLUDED.content_type,
			title = EXCLUDED.title,
			content = EXCLUDED.content,
			rich_content = EXCLUDED.rich_content,
			author_user_id = EXCLUDED.author_user_id,
			author_external_id = EXCLUDED.author_external_id,
			author_name = EXCLUDED.author_name,
			source_created_at = EXCLUDED.source_created_at,
			source_updated_at = EXCLUDED.source_updated_at,
			metadata = EXCLUDED.metadata,
			tags = EXCLUDED.tags,
			processing_status = CASE
				WHEN content_items.content IS DISTINCT FROM EXCLUDED.content
				  OR content_items.title IS DISTINCT FROM EXCLUDED.title
				THEN 'pending'
				ELSE content_items.processing_status
			END,
			updated_at = now()
		RETURNING id, processing_status, created_at, updated_at, (xmax = 0) AS inserted`,
		item.ID, item.OrganizationID, item.SourceID, item.Type, item.ExternalID,
		item.Title, item.Content, item.RichContent,
		item.AuthorUserID, item.AuthorExternalID, item.AuthorName,
		nullTime(item.SourceCreatedAt), nullTime(item.SourceUpdatedAt),
		meta, pq.Array(item.Tags), item.ProcessingStatus)

	var inserted bool
	if err := row.Scan(&item.ID, &item.ProcessingStatus, &item.CreatedAt, &item.UpdatedAt, &inserted); err != nil {
		return false, dbErr("upsert item", err)
	}
	return inserted, nil
}

const itemColumns = `id, organization_id, source_id, content_type, external_id, title, content,
	rich_content, author_user_id, author_external_id, author_name,
	source_created_at, source_updated_at, metadata, tags, processing_status,
	summary, key_points, sentiment, embedding::text, created_at, updated_at`

func scanItem(row interface{ Scan(...any) error }) (*model.ContentItem, error) {
	var (
		it        model.ContentItem
		meta      []byte
		createdAt sql.NullTime
		updatedAt sql.NullTime
		embedding sql.NullString
		tags      pq.StringArray
		keyPoints pq.StringArray
	)
	err := row.Scan(&it.ID, &it.OrganizationID, &it.SourceID, &it.Type, &it.ExternalID,
		&it.Title, &it.Content, &it.RichContent,
		&it.AuthorUserID, &it.AuthorExternalID, &it.AuthorName,
		&createdAt, &updatedAt, &meta, &tags, &it.ProcessingStatus,
		&it.Summary, &keyPoints, &it.Sentiment, &embedding, &it.CreatedAt, &it.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if createdAt.Valid {
		t := createdAt.Time
		it.SourceCreatedAt = &t
	}
	if updatedAt.Valid {
		t := updatedAt.Time
		it.SourceUpdatedAt = &t
	}
	if it.Metadata, err = model.UnmarshalMetadata(meta); err != nil {
		return nil, err
	}
	it.Tags = []string(tags)
	it.KeyPoints = []string(keyPoints)
	if it.Embedding, err = parseVector(embedding); err != nil {
		return nil, err
	}
	return &it, nil
}

func (s *PostgresStore) GetItem(ctx context.Context, id string) (*model.ContentItem, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+itemColumns+` FROM content_items WHERE id = $1`, id)
	it, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, dbErr("get item", err)
	}
	return it, nil
}

func (s *PostgresStore) GetItemByExternalID(ctx context.Context, sourceID, externalID string) (*model.ContentItem, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+itemColumns+` FROM content_items WHERE source_id = $1 AND external_id = $2`,
		sourceID, externalID)
	it, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, dbErr("get item by external id", err)
	}
	return it, nil
}

func (s *PostgresStore) GetItemWithRelations(ctx context.Context, id string) (*ItemWithRelations, error) {
	item, err := s.GetItem(ctx, id)
	if err != nil {
		return nil, err
	}
	chunks, err := s.ListChunks(ctx, id)
	if err != nil {
		return nil, err
	}
	parts, err := s.ListParticipants(ctx, id)
	if err != nil {
		return nil, err
	}
	rels, err := s.ListRelationships(ctx, id)
	if err != nil {
		return nil, err
	}
	return &ItemWithRelations{Item: item, Chunks: chunks, Participants: parts, Relationships: rels}, nil
}

func (s *PostgresStore) listItems(ctx context.Context, op, query string, args ...any) ([]*model.ContentItem, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, dbErr(op, err)
	}
	defer rows.Close()

	var out []*model.ContentItem
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, dbErr(op, err)
		}
		out = append(out, it)
	}
	return out, dbErr(op, rows.Err())
}

func (s *PostgresStore) ListItemsBySource(ctx context.Context, sourceID string, limit int) ([]*model.ContentItem, error) {
	if limit <= 0 {
		limit = 1000
	}
	return s.listItems(ctx, "list items by source",
		`SELECT `+itemColumns+` FROM content_items WHERE source_id = $1 ORDER BY created_at, id LIMIT $2`,
		sourceID, limit)
}

func (s *PostgresStore) ListPendingItems(ctx context.Context, limit int) ([]*model.ContentItem, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.listItems(ctx, "list pending items",
		`SELECT `+itemColumns+` FROM content_items WHERE processing_status = 'pending' ORDER BY created_at, id LIMIT $1`,
		limit)
}

func (s *PostgresStore) ListEmbeddedItems(ctx context.Context, orgID string) ([]*model.ContentItem, error) {
	return s.listItems(ctx, "list embedded items",
		`SELECT `+itemColumns+` FROM content_items WHERE organization_id = $1 AND embedding IS NOT NULL ORDER BY created_at, id`,
		orgID)
}

func (s *PostgresStore) SetProcessingStatus(ctx context.Context, itemID string, status model.ProcessingStatus) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE content_items SET processing_status = $2, updated_at = now() WHERE id = $1`,
		itemID, status)
	if err != nil {
		return dbErr("set processing status", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) SaveEnrichment(ctx context.Context, itemID string, resu EnrichmentResult) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE content_items
		SET summary = $2, key_points = $3, sentiment = $4, embedding = $5,
		    processing_status = 'completed', updated_at = now()
		WHERE id = $1`,
		itemID, resu.Summary, pq.Array(resu.KeyPoints), resu.Sentiment, toVectorLiteral(resu.Embedding))
	if err != nil {
		return dbErr("save enrichment", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) DeleteItemsBySource(ctx context.Context, sourceID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM content_items WHERE source_id = $1`, sourceID)
	return dbErr("delete items by source", err)
}

func (s *PostgresStore) ReplaceChunks(ctx context.Context, itemID string, chunks []*model.ContentChunk) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return dbErr("replace chunks", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM content_chunks WHERE content_item_id = $1`, itemID); err != nil {
		return dbErr("replace chunks", err)
	}
	for _, c := range chunks {
		id := c.ID
		if id == "" {
			id = uuid.NewString()
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO content_chunks
				(id, content_item_id, chunk_index, content, start_offset, end_offset,
				 start_second, end_second, embedding)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			id, itemID, c.ChunkIndex, c.Content, c.StartOffset, c.EndOffset,
			c.StartSecond, c.EndSecond, toVectorLiteral(c.Embedding))
		if err != nil {
			return dbErr("replace chunks", err)
		}
	}
	return dbErr("replace chunks", tx.Commit())
}

func (s *PostgresStore) ListChunks(ctx context.Context, itemID string) ([]*model.ContentChunk, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, content_item_id, chunk_index, content, start_offset, end_offset,
		       start_second, end_second, embedding::text, created_at
		FROM content_chunks WHERE content_item_id = $1 ORDER BY chunk_index`,
		itemID)
	if err != nil {
		return nil, dbErr("list chunks", err)
	}
	defer rows.Close()

	var out []*model.ContentChunk
	for rows.Next() {
		var (
			c         model.ContentChunk
			embedding sql.NullString
		)
		err := rows.Scan(&c.ID, &c.ContentItemID, &c.ChunkIndex, &c.Content,
			&c.StartOffset, &c.EndOffset, &c.StartSecond, &c.EndSecond,
			&embedding, &c.CreatedAt)
		if err != nil {
			return nil, dbErr("list chunks", err)
		}
		if c.Embedding, err = parseVector(embedding); err != nil {
			return nil, dbErr("list chunks", err)
		}
		out = append(out, &c)
	}
	return out, dbErr("list chunks", rows.Err())
}

func (s *PostgresStore) GetCursor(ctx context.Context, sourceID, subresourceKey string) (*model.SyncCursor, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT source_id, subresource_key, cursor, last_synced_at, items_synced,
		       last_error, meta, created_at, updated_at
		FROM sync_cursors WHERE source_id = $1 AND subresource_key = $2`,
		sourceID, subresourceKey)
	cur, err := scanCursor(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, dbErr("get cursor", err)
	}
	return cur, nil
}

func scanCursor(row interface{ Scan(...any) error }) (*model.SyncCursor, error) {
	var (
		cur      model.SyncCursor
		lastSync sql.NullTime
		meta     []byte
	)
	err := row.Scan(&cur.SourceID, &cur.SubresourceKey, &cur.Cursor, &lastSync,
		&cur.ItemsSynced, &cur.LastError, &meta, &cur.CreatedAt, &cur.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if lastSync.Valid {
		t := lastSync.Time
		cur.LastSyncedAt = &t
	}
	if len(meta) > 0 {
		if err := jsonUnmarshalMap(meta, &cur.Meta); err != nil {
			return nil, err
		}
	}
	return &cur, nil
}

func (s *PostgresStore) UpsertCursor(ctx context.Context, sourceID, subresourceKey string, upd model.CursorUpdate) error {
	metaJSON, err := jsonMarshalMap(upd.Meta)
	if err != nil {
		return dbErr("upsert cursor", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sync_cursors (source_id, subresource_key, cursor, last_synced_at, items_synced, last_error, meta)
		VALUES ($1, $2, COALESCE($3, ''), $4, $5, COALESCE($6, ''), $7)
		ON CONFLICT (source_id, subresource_key) DO UPDATE SET
			cursor = COALESCE($3, sync_cursors.cursor),
			last_synced_at = COALESCE($4, sync_cursors.last_synced_at),
			items_synced = sync_cursors.items_synced + $5,
			last_error = COALESCE($6, sync_cursors.last_error),
			meta = sync_cursors.meta || $7,
			updated_at = now()`,
		sourceID, subresourceKey, upd.Cursor, nullTime(upd.LastSyncedAt),
		upd.ItemsDelta, upd.LastError, metaJSON)
	return dbErr("upsert cursor", err)
}

func (s *PostgresStore) ListCursors(ctx context.Context, sourceID string) ([]*model.SyncCursor, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT source_id, subresource_key, cursor, last_synced_at, items_synced,
		       last_error, meta, created_at, updated_at
		FROM sync_cursors WHERE source_id = $1 ORDER BY subresource_key`,
		sourceID)
	if err != nil {
		return nil, dbErr("list cursors", err)
	}
	defer rows.Close()

	var out []*model.SyncCursor
	for rows.Next() {
		cur, err := scanCursor(rows)
		if err != nil {
			return nil, dbErr("list cursors", err)
		}
		out = append(out, cur)
	}
	return out, dbErr("list cursors", rows.Err())
}

func (s *PostgresStore) DeleteCursors(ctx context.Context, sourceID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sync_cursors WHERE source_id = $1`, sourceID)
	return dbErr("delete cursors", err)
}

func (s *PostgresStore) UpsertRelationship(ctx context.Context, rel *model.ContentRelationship) error {
	if rel.ID == "" {
		rel.ID = uuid.NewString()
	}
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO content_relationships (id, source_item_id, target_item_id, relationship_type, confidence)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (source_item_id, target_item_id, relationship_type) DO UPDATE SET
			confidence = EXCLUDED.confidence,
			updated_at = now()
		RETURNING id, created_at, updated_at`,
		rel.ID, rel.SourceItemID, rel.TargetItemID, rel.Type, rel.Confidence)
	if err := row.Scan(&rel.ID, &rel.CreatedAt, &rel.UpdatedAt); err != nil {
		return dbErr("upsert relationship", err)
	}
	return nil
}

func (s *PostgresStore) ListRelationships(ctx context.Context, itemID string) ([]*model.ContentRelationship, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, source_item_id, target_item_id, relationship_type, confidence, created_at, updated_at
		FROM content_relationships
		WHERE source_item_id = $1 OR target_item_id = $1
		ORDER BY source_item_id, target_item_id, relationship_type`,
		itemID)
	if err != nil {
		return nil, dbErr("list relationships", err)
	}
	defer rows.Close()

	var out []*model.ContentRelationship
	for rows.Next() {
		var rel model.ContentRelationship
		err := rows.Scan(&rel.ID, &rel.SourceItemID, &rel.TargetItemID, &rel.Type,
			&rel.Confidence, &rel.CreatedAt, &rel.UpdatedAt)
		if err != nil {
			return nil, dbErr("list relationships", err)
		}
		out = append(out, &rel)
	}
	return out, dbErr("list relationships", rows.Err())
}

func (s *PostgresStore) UpsertParticipant(ctx context.Context, p *model.ContentParticipant) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO content_participants (id, content_item_id, role, user_id, external_id, name, email)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (content_item_id, role, user_id, external_id) DO UPDATE SET
			name = EXCLUDED.name,
			email = EXCLUDED.email
		RETURNING id, created_at`,
		p.ID, p.ContentItemID, p.Role, p.UserID, p.ExternalID, p.Name, p.Email)
	if err := row.Scan(&p.ID, &p.CreatedAt); err != nil {
		return dbErr("upsert participant", err)
	}
	return nil
}

func (s *PostgresStore) ReplaceParticipants(ctx context.Context, itemID string, parts []*model.ContentParticipant) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return dbErr("replace participants", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM content_participants WHERE content_item_id = $1`, itemID); err != nil {
		return dbErr("replace participants", err)
	}
	for _, p := range parts {
		if p.ID == "" {
			p.ID = uuid.NewString()
		}
		p.ContentItemID = itemID
		_, err := tx.ExecContext(ctx, `
			INSERT INTO content_participants (id, content_item_id, role, user_id, external_id, name, email)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (content_item_id, role, user_id, external_id) DO UPDATE SET
				name = EXCLUDED.name,
				email = EXCLUDED.email`,
			p.ID, p.ContentItemID, p.Role, p.UserID, p.ExternalID, p.Name, p.Email)
		if err != nil {
			return dbErr("replace participants", err)
		}
	}
	return dbErr("replace participants", tx.Commit())
}

func (s *PostgresStore) ListParticipants(ctx context.Context, itemID string) ([]*model.ContentParticipant, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, content_item_id, role, user_id, external_id, name, email, created_at
		FROM content_participants WHERE content_item_id = $1 ORDER BY role, external_id`,
		itemID)
	if err != nil {
		return nil, dbErr("list participants", err)
	}
	defer rows.Close()

	var out []*model.ContentParticipant
	for rows.Next() {
		var p model.ContentParticipant
		err := rows.Scan(&p.ID, &p.ContentItemID, &p.Role, &p.UserID, &p.ExternalID,
			&p.Name, &p.Email, &p.CreatedAt)
		if err != nil {
			return nil, dbErr("list participants", err)
		}
		out = append(out, &p)
	}
	return out, dbErr("list participants", rows.Err())
}

func (s *PostgresStore) ReplaceClusters(ctx context.Context, orgID string, clusters []*model.TopicCluster, members []*model.TopicClusterMember) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return dbErr("replace clusters", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM topic_clusters WHERE organization_id = $1`, orgID); err != nil {
		return dbErr("replace clusters", err)
	}
	for _, c := range clusters {
		breakdown, err := jsonMarshalCounts(c.SourceBreakdown)
		if err != nil {
			return dbErr("replace clusters", err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO topic_clusters
				(id, organization_id, label, centroid, content_count, source_breakdown,
				 participant_count, trending_score, member_hash)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			c.ID, orgID, c.Label, toVectorLiteral(c.Centroid), c.ContentCount,
			breakdown, c.ParticipantCount, c.TrendingScore, c.MemberHash)
		if err != nil {
			return dbErr("replace clusters", err)
		}
	}
	for _, mem := range members {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO topic_cluster_members (cluster_id, content_item_id, similarity, primary_topic)
			VALUES ($1, $2, $3, $4)`,
			mem.ClusterID, mem.ContentItemID, mem.Similarity, mem.PrimaryTopic)
		if err != nil {
			return dbErr("replace clusters", err)
		}
	}
	return dbErr("replace clusters", tx.Commit())
}

func (s *PostgresStore) ListClusters(ctx context.Context, orgID string) ([]*model.TopicCluster, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, organization_id, label, centroid::text, content_count, source_breakdown,
		       participant_count, trending_score, member_hash, created_at, updated_at
		FROM topic_clusters WHERE organization_id = $1 ORDER BY id`,
		orgID)
	if err != nil {
		return nil, dbErr("list clusters", err)
	}
	defer rows.Close()

	var out []*model.TopicCluster
	for rows.Next() {
		var (
			c         model.TopicCluster
			centroid  sql.NullString
			breakdown []byte
		)
		err := rows.Scan(&c.ID, &c.OrganizationID, &c.Label, &centroid, &c.ContentCount,
			&breakdown, &c.ParticipantCount, &c.TrendingScore, &c.MemberHash,
			&c.CreatedAt, &c.UpdatedAt)
		if err != nil {
			return nil, dbErr("list clusters", err)
		}
		if c.Centroid, err = parseVector(centroid); err != nil {
			return nil, dbErr("list clusters", err)
		}
		if err := jsonUnmarshalCounts(breakdown, &c.SourceBreakdown); err != nil {
			return nil, dbErr("list clusters", err)
		}
		out = append(out, &c)
	}
	return out, dbErr("list clusters", rows.Err())
}

func (s *PostgresStore) ListClusterMembers(ctx context.Context, clusterID string) ([]*model.TopicClusterMember, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT cluster_id, content_item_id, similarity, primary_topic, created_at
		FROM topic_cluster_members WHERE cluster_id = $1 ORDER BY content_item_id`,
		clusterID)
	if err != nil {
		return nil, dbErr("list cluster members", err)
	}
	defer rows.Close()

	var out []*model.TopicClusterMember
	for rows.Next() {
		var mem model.TopicClusterMember
		err := rows.Scan(&mem.ClusterID, &mem.ContentItemID, &mem.Similarity,
			&mem.PrimaryTopic, &mem.CreatedAt)
		if err != nil {
			return nil, dbErr("list cluster members", err)
		}
		out = append(out, &mem)
	}
	return out, dbErr("list cluster members", rows.Err())
}

func (s *PostgresStore) UpsertExpertise(ctx context.Context, e *model.TopicExpertise) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO topic_expertise (cluster_id, person_key, contribution_count, last_contribution_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (cluster_id, person_key) DO UPDATE SET
			contribution_count = EXCLUDED.contribution_count,
			last_contribution_at = GREATEST(topic_expertise.last_contribution_at, EXCLUDED.last_contribution_at)`,
		e.ClusterID, e.PersonKey, e.ContributionCount, e.LastContributionAt)
	return dbErr("upsert expertise", err)
}

func (s *PostgresStore) ListExpertise(ctx context.Context, clusterID string) ([]*model.TopicExpertise, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT cluster_id, person_key, contribution_count, last_contribution_at
		FROM topic_expertise WHERE cluster_id = $1
		ORDER BY contribution_count DESC, person_key`,
		clusterID)
	if err != nil {
		return nil, dbErr("list expertise", err)
	}
	defer rows.Close()

	var out []*model.TopicExpertise
	for rows.Next() {
		var (
			e    model.TopicExpertise
			last sql.NullTime
		)
		if err := rows.Scan(&e.ClusterID, &e.PersonKey, &e.ContributionCount, &last); err != nil {
			return nil, dbErr("list expertise", err)
		}
		if last.Valid {
			e.LastContributionAt = last.Time
		}
		out = append(out, &e)
	}
	return out, dbErr("list expertise", rows.Err())
}
