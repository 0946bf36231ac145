package index

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"filedepot/internal/config"
	"filedepot/internal/store"
)

func testIndex(t *testing.T) *Index {
	t.Helper()
	ctx := context.Background()
	s, err := store.New(ctx, config.DatabaseConfig{
		Driver: "sqlite",
		Path:   t.TempDir(),
		Name:   "test",
	})
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(s.Close)
	if err := s.Bootstrap(ctx); err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	return New(s)
}

func testSource(t *testing.T, ix *Index, slug string) int64 {
	t.Helper()
	id, err := ix.UpsertSource(context.Background(), slug, "filesystem", "{}")
	if err != nil {
		t.Fatalf("UpsertSource(%q): %v", slug, err)
	}
	return id
}

func testRecord(id string, sourceID int64, path, filename string) *FileRecord {
	return &FileRecord{
		ID:          id,
		SourceID:    sourceID,
		Path:        path,
		Filename:    filename,
		ContentType: "text/plain",
		ContentHash: "sha256:0000",
		Size:        int64(len(filename)),
	}
}

func searchRows(t *testing.T, ix *Index, fileID string) []map[string]any {
	t.Helper()
	rows, err := store.QueryRows(context.Background(), ix.store.DB,
		"SELECT file_id, filename, content_type, search_text FROM files_search WHERE file_id = ?1", fileID)
	if err != nil {
		t.Fatalf("query files_search: %v", err)
	}
	return rows
}

func TestUpsertSource_Idempotent(t *testing.T) {
	ix := testIndex(t)
	ctx := context.Background()

	first, err := ix.UpsertSource(ctx, "media", "filesystem", `{"root":"/a"}`)
	if err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	second, err := ix.UpsertSource(ctx, "media", "s3", `{"bucket":"b"}`)
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if first != second {
		t.Fatalf("upsert changed the numeric id: %d then %d", first, second)
	}

	row, err := store.QueryRow(ctx, ix.store.DB,
		"SELECT storage_type FROM files_sources WHERE slug = ?1", "media")
	if err != nil {
		t.Fatalf("select source: %v", err)
	}
	if row["storage_type"] != "s3" {
		t.Fatalf("storage_type not updated: %v", row["storage_type"])
	}
}

func TestInsertAndGetByID(t *testing.T) {
	ix := testIndex(t)
	ctx := context.Background()
	srcID := testSource(t, ix, "media")

	rec := testRecord("df-01jm0000000000000000000001", srcID, "x/report.pdf", "report.pdf")
	rec.UploadedBy = "alice"
	if err := ix.Insert(ctx, rec); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	got, err := ix.GetByID(ctx, rec.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.SourceSlug != "media" {
		t.Errorf("source slug = %q, want media", got.SourceSlug)
	}
	if got.Filename != "report.pdf" || got.Path != "x/report.pdf" || got.UploadedBy != "alice" {
		t.Errorf("record mismatch: %+v", got)
	}
	if got.CreatedAt.IsZero() {
		t.Error("created_at not populated")
	}

	// The search row landed in the same transaction
	rows := searchRows(t, ix, rec.ID)
	if len(rows) != 1 {
		t.Fatalf("expected 1 search row, got %d", len(rows))
	}
}

func TestInsert_DuplicatePath(t *testing.T) {
	ix := testIndex(t)
	ctx := context.Background()
	srcID := testSource(t, ix, "media")

	a := testRecord("df-01jm0000000000000000000001", srcID, "same/path.txt", "path.txt")
	b := testRecord("df-01jm0000000000000000000002", srcID, "same/path.txt", "path.txt")
	if err := ix.Insert(ctx, a); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	err := ix.Insert(ctx, b)
	if !errors.Is(err, store.ErrUniqueViolation) {
		t.Fatalf("expected unique violation, got %v", err)
	}
	// The failed insert must not leave a search row behind
	if rows := searchRows(t, ix, b.ID); len(rows) != 0 {
		t.Fatalf("rolled-back insert left %d search rows", len(rows))
	}
}

func TestGetByID_NotFound(t *testing.T) {
	ix := testIndex(t)
	_, err := ix.GetByID(context.Background(), "df-01jm0000000000000000000009")
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestQueryRecent_OrderAndScope(t *testing.T) {
	ix := testIndex(t)
	ctx := context.Background()
	mediaID := testSource(t, ix, "media")
	docsID := testSource(t, ix, "docs")

	// Ids are time-ordered; later ids are newer even within one
	// timestamp granule.
	older := testRecord("df-01jm0000000000000000000001", mediaID, "a/one.txt", "one.txt")
	newer := testRecord("df-01jm0000000000000000000002", mediaID, "b/two.txt", "two.txt")
	other := testRecord("df-01jm0000000000000000000003", docsID, "c/three.txt", "three.txt")
	for _, rec := range []*FileRecord{older, newer, other} {
		if err := ix.Insert(ctx, rec); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}

	got, err := ix.QueryRecent(ctx, []string{"media"}, 10)
	if err != nil {
		t.Fatalf("QueryRecent: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 media records, got %d", len(got))
	}
	if got[0].ID != newer.ID || got[1].ID != older.ID {
		t.Fatalf("not newest-first: %s, %s", got[0].ID, got[1].ID)
	}

	// Empty slug set short-circuits
	got, err = ix.QueryRecent(ctx, nil, 10)
	if err != nil || len(got) != 0 {
		t.Fatalf("empty slug set: got %v, %v", got, err)
	}
}

func TestSearch_PrefixAndOr(t *testing.T) {
	ix := testIndex(t)
	ctx := context.Background()
	srcID := testSource(t, ix, "media")

	report := testRecord("df-01jm0000000000000000000001", srcID, "a/report.pdf", "report.pdf")
	report.ContentType = "application/pdf"
	photo := testRecord("df-01jm0000000000000000000002", srcID, "b/photo.jpg", "photo.jpg")
	photo.ContentType = "image/jpeg"
	for _, rec := range []*FileRecord{report, photo} {
		if err := ix.Insert(ctx, rec); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}

	got, err := ix.Search(ctx, "report", []string{"media"}, 50)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 1 || got[0].Filename != "report.pdf" {
		t.Fatalf("Search(report) = %+v", got)
	}

	// Prefix match
	got, err = ix.Search(ctx, "rep", []string{"media"}, 50)
	if err != nil || len(got) != 1 {
		t.Fatalf("Search(rep) = %v, %v", got, err)
	}

	// Multiple tokens OR together
	got, err = ix.Search(ctx, "report photo", []string{"media"}, 50)
	if err != nil || len(got) != 2 {
		t.Fatalf("Search(report photo) = %v, %v", got, err)
	}

	// Content type is searchable
	got, err = ix.Search(ctx, "jpeg", []string{"media"}, 50)
	if err != nil || len(got) != 1 || got[0].Filename != "photo.jpg" {
		t.Fatalf("Search(jpeg) = %v, %v", got, err)
	}

	// Empty allowed set never touches the database
	got, err = ix.Search(ctx, "report", nil, 50)
	if err != nil || len(got) != 0 {
		t.Fatalf("empty slug set: %v, %v", got, err)
	}
}

func TestUpdateSearchText_ReplacesSearchRow(t *testing.T) {
	ix := testIndex(t)
	ctx := context.Background()
	srcID := testSource(t, ix, "media")

	rec := testRecord("df-01jm0000000000000000000001", srcID, "a/scan.png", "scan.png")
	if err := ix.Insert(ctx, rec); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	// Interleave several updates; the projection must converge to one
	// row carrying the latest state.
	for i := 0; i < 5; i++ {
		text := fmt.Sprintf("annotation generation %d", i)
		if err := ix.UpdateSearchText(ctx, rec.ID, text); err != nil {
			t.Fatalf("UpdateSearchText: %v", err)
		}
	}

	rows := searchRows(t, ix, rec.ID)
	if len(rows) != 1 {
		t.Fatalf("expected exactly 1 search row after updates, got %d", len(rows))
	}
	if rows[0]["search_text"] != "annotation generation 4" {
		t.Fatalf("search row is stale: %v", rows[0]["search_text"])
	}

	got, err := ix.Search(ctx, "annotation", []string{"media"}, 50)
	if err != nil || len(got) != 1 {
		t.Fatalf("Search(annotation) = %v, %v", got, err)
	}
	if got[0].SearchText != "annotation generation 4" {
		t.Fatalf("record search_text = %q", got[0].SearchText)
	}
}

func TestUpdateSearchText_TimestampShapedText(t *testing.T) {
	ix := testIndex(t)
	ctx := context.Background()
	srcID := testSource(t, ix, "media")

	// Text that happens to look like a timestamp must stay text; only
	// created_at is a timestamp column.
	rec := testRecord("df-01jm0000000000000000000001", srcID, "a/2024-01-01.log", "2024-01-01.log")
	if err := ix.Insert(ctx, rec); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := ix.UpdateSearchText(ctx, rec.ID, "2024-01-01 10:00:00"); err != nil {
		t.Fatalf("UpdateSearchText: %v", err)
	}

	got, err := ix.GetByID(ctx, rec.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.SearchText != "2024-01-01 10:00:00" {
		t.Fatalf("search_text round-trip lost data: %q", got.SearchText)
	}
	if got.Filename != "2024-01-01.log" {
		t.Fatalf("filename round-trip lost data: %q", got.Filename)
	}
	if got.CreatedAt.IsZero() {
		t.Fatal("created_at not parsed")
	}
}

func TestUpdateSearchText_NotFound(t *testing.T) {
	ix := testIndex(t)
	err := ix.UpdateSearchText(context.Background(), "df-01jm0000000000000000000009", "x")
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDelete_RemovesSearchRow(t *testing.T) {
	ix := testIndex(t)
	ctx := context.Background()
	srcID := testSource(t, ix, "media")

	rec := testRecord("df-01jm0000000000000000000001", srcID, "a/bye.txt", "bye.txt")
	if err := ix.Insert(ctx, rec); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := ix.Delete(ctx, rec.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if rows := searchRows(t, ix, rec.ID); len(rows) != 0 {
		t.Fatalf("search row survived delete: %d rows", len(rows))
	}
	if _, err := ix.GetByID(ctx, rec.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
	if err := ix.Delete(ctx, rec.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("second delete: expected ErrNotFound, got %v", err)
	}
}

func TestTokenize(t *testing.T) {
	cases := []struct {
		in   string
		want int
	}{
		{"", 0},
		{"   ", 0},
		{"report", 1},
		{"report photo", 2},
		{`"*:()`, 0},
		{`rep"ort`, 1},
	}
	for _, tc := range cases {
		if got := Tokenize(tc.in); len(got) != tc.want {
			t.Errorf("Tokenize(%q) = %v, want %d tokens", tc.in, got, tc.want)
		}
	}
}
