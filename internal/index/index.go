package index

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
	"unicode"

	"filedepot/internal/store"
)

// FileRecord is the canonical metadata row for one uploaded file,
// independent of which backend holds the bytes.
type FileRecord struct {
	ID          string    `json:"id"`
	SourceID    int64     `json:"-"`
	SourceSlug  string    `json:"source"`
	Path        string    `json:"path"`
	Filename    string    `json:"filename"`
	ContentType string    `json:"content_type"`
	ContentHash string    `json:"content_hash"`
	Size        int64     `json:"size"`
	Width       int64     `json:"width,omitempty"`
	Height      int64     `json:"height,omitempty"`
	UploadedBy  string    `json:"uploaded_by,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	Metadata    string    `json:"metadata"`
	SearchText  string    `json:"search_text"`
}

// Index owns the files table and keeps the files_search projection in
// lockstep with it. Every write to files happens in the same transaction
// as the matching search-row write, so a search row never outlives (or
// predates) its file row.
type Index struct {
	store *store.Store
}

func New(s *store.Store) *Index {
	return &Index{store: s}
}

const selectColumns = `f.id, f.source_id, s.slug AS source_slug, f.path, f.filename,
	f.content_type, f.content_hash, f.size, f.width, f.height,
	f.uploaded_by, f.created_at, f.metadata, f.search_text`

// UpsertSource inserts or updates a source row by slug and returns its
// numeric id. Called once per configured source at startup.
func (ix *Index) UpsertSource(ctx context.Context, slug, storageType, configJSON string) (int64, error) {
	pb := ix.store.Dialect.NewParamBuilder()
	upsert := fmt.Sprintf(`INSERT INTO files_sources (slug, storage_type, config)
		VALUES (%s, %s, %s)
		ON CONFLICT (slug) DO UPDATE SET
			storage_type = excluded.storage_type,
			config = excluded.config`,
		pb.Add(slug), pb.Add(storageType), pb.Add(configJSON))
	if _, err := store.Exec(ctx, ix.store.DB, upsert, pb.Params()...); err != nil {
		return 0, fmt.Errorf("upsert source %q: %w", slug, err)
	}

	pb = ix.store.Dialect.NewParamBuilder()
	row, err := store.QueryRow(ctx, ix.store.DB,
		fmt.Sprintf("SELECT id FROM files_sources WHERE slug = %s", pb.Add(slug)),
		pb.Params()...)
	if err != nil {
		return 0, fmt.Errorf("select source %q: %w", slug, err)
	}
	return asInt64(row["id"]), nil
}

// Insert writes a new file record and its search row atomically.
func (ix *Index) Insert(ctx context.Context, rec *FileRecord) error {
	tx, err := ix.store.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	pb := ix.store.Dialect.NewParamBuilder()
	insert := fmt.Sprintf(`INSERT INTO files
		(id, source_id, path, filename, content_type, content_hash, size,
		 width, height, uploaded_by, metadata, search_text)
		VALUES (%s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s)`,
		pb.Add(rec.ID), pb.Add(rec.SourceID), pb.Add(rec.Path),
		pb.Add(rec.Filename), pb.Add(rec.ContentType), pb.Add(rec.ContentHash),
		pb.Add(rec.Size), pb.Add(nullableInt(rec.Width)), pb.Add(nullableInt(rec.Height)),
		pb.Add(nullableString(rec.UploadedBy)), pb.Add(orDefault(rec.Metadata, "{}")),
		pb.Add(rec.SearchText))
	if _, err := store.Exec(ctx, tx, insert, pb.Params()...); err != nil {
		return ix.store.Dialect.MapError(err)
	}

	if err := ix.syncSearch(ctx, tx, rec.ID, rec.Filename, rec.ContentType, rec.SearchText); err != nil {
		return err
	}
	return tx.Commit()
}

// UpdateSearchText replaces the mutable annotation on a file record and
// refreshes the search row in the same transaction.
func (ix *Index) UpdateSearchText(ctx context.Context, id, text string) error {
	tx, err := ix.store.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	pb := ix.store.Dialect.NewParamBuilder()
	update := fmt.Sprintf("UPDATE files SET search_text = %s WHERE id = %s",
		pb.Add(text), pb.Add(id))
	n, err := store.Exec(ctx, tx, update, pb.Params()...)
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}

	pb = ix.store.Dialect.NewParamBuilder()
	row, err := store.QueryRow(ctx, tx,
		fmt.Sprintf("SELECT filename, content_type FROM files WHERE id = %s", pb.Add(id)),
		pb.Params()...)
	if err != nil {
		return err
	}

	if err := ix.syncSearch(ctx, tx, id, asString(row["filename"]), asString(row["content_type"]), text); err != nil {
		return err
	}
	return tx.Commit()
}

// Delete removes a file record and its search row atomically.
func (ix *Index) Delete(ctx context.Context, id string) error {
	tx, err := ix.store.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	pb := ix.store.Dialect.NewParamBuilder()
	if _, err := store.Exec(ctx, tx,
		fmt.Sprintf("DELETE FROM files_search WHERE file_id = %s", pb.Add(id)),
		pb.Params()...); err != nil {
		return err
	}

	pb = ix.store.Dialect.NewParamBuilder()
	n, err := store.Exec(ctx, tx,
		fmt.Sprintf("DELETE FROM files WHERE id = %s", pb.Add(id)),
		pb.Params()...)
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return tx.Commit()
}

// syncSearch replaces the search row for a file: delete the old entry,
// insert a fresh one. The replace must stay a delete-then-insert pair so
// interleaved updates still converge to a single row per file id.
func (ix *Index) syncSearch(ctx context.Context, tx *sql.Tx, id, filename, contentType, searchText string) error {
	pb := ix.store.Dialect.NewParamBuilder()
	if _, err := store.Exec(ctx, tx,
		fmt.Sprintf("DELETE FROM files_search WHERE file_id = %s", pb.Add(id)),
		pb.Params()...); err != nil {
		return fmt.Errorf("delete search row: %w", err)
	}

	pb = ix.store.Dialect.NewParamBuilder()
	insert := fmt.Sprintf(`INSERT INTO files_search (file_id, filename, content_type, search_text)
		VALUES (%s, %s, %s, %s)`,
		pb.Add(id), pb.Add(filename), pb.Add(contentType), pb.Add(searchText))
	if _, err := store.Exec(ctx, tx, insert, pb.Params()...); err != nil {
		return fmt.Errorf("insert search row: %w", err)
	}
	return nil
}

// GetByID returns a single record with its source slug resolved, or
// store.ErrNotFound.
func (ix *Index) GetByID(ctx context.Context, id string) (*FileRecord, error) {
	pb := ix.store.Dialect.NewParamBuilder()
	query := fmt.Sprintf(`SELECT %s
		FROM files f
		JOIN files_sources s ON f.source_id = s.id
		WHERE f.id = %s`, selectColumns, pb.Add(id))
	row, err := store.QueryRow(ctx, ix.store.DB, query, pb.Params()...)
	if err != nil {
		return nil, err
	}
	return recordFromRow(row), nil
}

// QueryRecent returns the newest records across the given source slugs.
func (ix *Index) QueryRecent(ctx context.Context, slugs []string, limit int) ([]*FileRecord, error) {
	if len(slugs) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}

	pb := ix.store.Dialect.NewParamBuilder()
	cond := ix.store.Dialect.InExpr("s.slug", pb, toAnySlice(slugs))
	query := fmt.Sprintf(`SELECT %s
		FROM files f
		JOIN files_sources s ON f.source_id = s.id
		WHERE %s
		ORDER BY f.created_at DESC, f.id DESC
		LIMIT %s`, selectColumns, cond, pb.Add(limit))

	rows, err := store.QueryRows(ctx, ix.store.DB, query, pb.Params()...)
	if err != nil {
		return nil, err
	}
	return recordsFromRows(rows), nil
}

// Search runs a ranked prefix search over the projection, restricted to
// the given source slugs. An empty slug set or a query with no usable
// tokens returns nothing without touching the database.
func (ix *Index) Search(ctx context.Context, query string, slugs []string, limit int) ([]*FileRecord, error) {
	if len(slugs) == 0 {
		return nil, nil
	}
	tokens := Tokenize(query)
	if len(tokens) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}

	pb := ix.store.Dialect.NewParamBuilder()
	matchCond, orderBy := ix.store.Dialect.SearchPredicate(pb, tokens)
	slugCond := ix.store.Dialect.InExpr("s.slug", pb, toAnySlice(slugs))
	sqlStr := fmt.Sprintf(`SELECT %s
		FROM files_search
		JOIN files f ON f.id = files_search.file_id
		JOIN files_sources s ON f.source_id = s.id
		WHERE %s AND %s
		ORDER BY %s
		LIMIT %s`, selectColumns, matchCond, slugCond, orderBy, pb.Add(limit))

	rows, err := store.QueryRows(ctx, ix.store.DB, sqlStr, pb.Params()...)
	if err != nil {
		return nil, err
	}
	return recordsFromRows(rows), nil
}

// Tokenize splits a free-text query on whitespace and strips characters
// that carry meaning inside FTS query syntax. Each surviving token is
// used as a prefix match, OR-combined.
func Tokenize(query string) []string {
	var tokens []string
	for _, raw := range strings.Fields(query) {
		var b strings.Builder
		for _, r := range raw {
			if unicode.IsLetter(r) || unicode.IsDigit(r) {
				b.WriteRune(r)
			}
		}
		if b.Len() > 0 {
			tokens = append(tokens, b.String())
		}
	}
	return tokens
}

func recordsFromRows(rows []map[string]any) []*FileRecord {
	records := make([]*FileRecord, 0, len(rows))
	for _, row := range rows {
		records = append(records, recordFromRow(row))
	}
	return records
}

func recordFromRow(row map[string]any) *FileRecord {
	return &FileRecord{
		ID:          asString(row["id"]),
		SourceID:    asInt64(row["source_id"]),
		SourceSlug:  asString(row["source_slug"]),
		Path:        asString(row["path"]),
		Filename:    asString(row["filename"]),
		ContentType: asString(row["content_type"]),
		ContentHash: asString(row["content_hash"]),
		Size:        asInt64(row["size"]),
		Width:       asInt64(row["width"]),
		Height:      asInt64(row["height"]),
		UploadedBy:  asString(row["uploaded_by"]),
		CreatedAt:   asTime(row["created_at"]),
		Metadata:    asString(row["metadata"]),
		SearchText:  asString(row["search_text"]),
	}
}

func asString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

func asInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	default:
		return 0
	}
}

// asTime accepts the timestamp shapes the two drivers produce: pgx
// returns time.Time, sqlite returns the text the column stores.
func asTime(v any) time.Time {
	switch t := v.(type) {
	case time.Time:
		return t
	case string:
		if parsed, err := time.Parse("2006-01-02 15:04:05", t); err == nil {
			return parsed
		}
		if parsed, err := time.Parse(time.RFC3339Nano, t); err == nil {
			return parsed
		}
	}
	return time.Time{}
}

func toAnySlice(values []string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}

func nullableInt(v int64) any {
	if v == 0 {
		return nil
	}
	return v
}

func nullableString(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
