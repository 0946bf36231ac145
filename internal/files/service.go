package files

import (
	"context"
	"errors"
	"log"
	"time"

	"filedepot/internal/access"
	"filedepot/internal/index"
	"filedepot/internal/registry"
	"filedepot/internal/storage"
	"filedepot/internal/store"
)

const signedURLTTL = 5 * time.Minute

// Service coordinates backends, the metadata index and access control.
type Service struct {
	idx      *index.Index
	reg      *registry.Registry
	resolver *access.Resolver
}

func NewService(idx *index.Index, reg *registry.Registry, resolver *access.Resolver) *Service {
	return &Service{idx: idx, reg: reg, resolver: resolver}
}

// Upload stores content in the named source and registers it in the
// metadata index.
func (s *Service) Upload(ctx context.Context, slug, filename, contentType string, content []byte, actor *access.Actor) (*index.FileRecord, error) {
	src, ok := s.reg.Resolve(slug)
	if !ok {
		return nil, NotFoundError("Source not found: " + slug)
	}
	if !s.resolver.IsAllowed(actor, access.ActionUpload, slug) {
		return nil, ForbiddenError("upload")
	}

	caps := src.Backend.Capabilities()
	if !caps.CanUpload {
		return nil, UnsupportedError("Source does not accept uploads: " + slug)
	}
	if caps.MaxFileSize > 0 && int64(len(content)) > caps.MaxFileSize {
		return nil, FileTooLargeError(int64(len(content)), caps.MaxFileSize)
	}

	filename = SanitizeFilename(filename)
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	id := NewFileID()
	path := BackendPath(id, filename)

	meta, err := src.Backend.ReceiveUpload(ctx, path, content, contentType)
	if err != nil {
		return nil, StorageWriteError(err)
	}

	rec := &index.FileRecord{
		ID:          id,
		SourceID:    src.NumericID,
		SourceSlug:  slug,
		Path:        path,
		Filename:    filename,
		ContentType: orDefault(meta.ContentType, contentType),
		ContentHash: meta.ContentHash,
		Size:        meta.Size,
		Width:       int64(meta.Width),
		Height:      int64(meta.Height),
		UploadedBy:  actorID(actor),
	}
	if err := s.idx.Insert(ctx, rec); err != nil {
		// The blob is now unreferenced. Reclaim it when the backend
		// can, otherwise leave it for external reconciliation.
		if caps.CanDelete {
			if delErr := src.Backend.DeleteFile(ctx, path); delErr != nil {
				log.Printf("WARN: orphaned blob %s/%s: %v", slug, path, delErr)
			}
		}
		return nil, NewAppError("INTERNAL_ERROR", 500, "Failed to index uploaded file")
	}
	return rec, nil
}

// GetFile returns a file's metadata if the actor may browse its source.
// Malformed ids and absent ids are indistinguishable.
func (s *Service) GetFile(ctx context.Context, id string, actor *access.Actor) (*index.FileRecord, error) {
	rec, err := s.lookup(ctx, id)
	if err != nil {
		return nil, err
	}
	if !s.resolver.IsAllowed(actor, access.ActionBrowse, rec.SourceSlug) {
		return nil, ForbiddenError("browse")
	}
	return rec, nil
}

// DownloadResult is either a redirect to a signed URL or proxied bytes.
type DownloadResult struct {
	RedirectURL string
	Content     []byte
	ContentType string
	Filename    string
}

// Download resolves a file to a signed URL when the backend supports
// them, or reads and proxies the bytes otherwise.
func (s *Service) Download(ctx context.Context, id string, actor *access.Actor) (*DownloadResult, error) {
	rec, err := s.GetFile(ctx, id, actor)
	if err != nil {
		return nil, err
	}
	src, ok := s.reg.Resolve(rec.SourceSlug)
	if !ok {
		return nil, NotFoundError("Source not found: " + rec.SourceSlug)
	}

	contentType := orDefault(rec.ContentType, "application/octet-stream")

	if src.Backend.Capabilities().CanGenerateSignedURLs {
		url, err := src.Backend.DownloadURL(ctx, rec.Path, signedURLTTL)
		if err != nil {
			return nil, StorageReadError(err)
		}
		return &DownloadResult{RedirectURL: url, ContentType: contentType, Filename: rec.Filename}, nil
	}

	content, err := src.Backend.ReadFile(ctx, rec.Path)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, NotFoundError("File not found: " + id)
		}
		return nil, StorageReadError(err)
	}
	return &DownloadResult{Content: content, ContentType: contentType, Filename: rec.Filename}, nil
}

// UpdateSearchText changes the one mutable field on a file record.
func (s *Service) UpdateSearchText(ctx context.Context, id, text string, actor *access.Actor) (*index.FileRecord, error) {
	rec, err := s.lookup(ctx, id)
	if err != nil {
		return nil, err
	}
	if !s.resolver.IsAllowed(actor, access.ActionEdit, rec.SourceSlug) {
		return nil, ForbiddenError("edit")
	}
	if err := s.idx.UpdateSearchText(ctx, id, text); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, NotFoundError("File not found: " + id)
		}
		return nil, NewAppError("INTERNAL_ERROR", 500, "Failed to update search text")
	}
	rec.SearchText = text
	return rec, nil
}

// Delete removes a file's bytes and its index entry.
func (s *Service) Delete(ctx context.Context, id string, actor *access.Actor) error {
	rec, err := s.lookup(ctx, id)
	if err != nil {
		return err
	}
	if !s.resolver.IsAllowed(actor, access.ActionDelete, rec.SourceSlug) {
		return ForbiddenError("delete")
	}
	src, ok := s.reg.Resolve(rec.SourceSlug)
	if !ok {
		return NotFoundError("Source not found: " + rec.SourceSlug)
	}
	if !src.Backend.Capabilities().CanDelete {
		return UnsupportedError("Source does not support deletion: " + rec.SourceSlug)
	}

	if err := src.Backend.DeleteFile(ctx, rec.Path); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return StorageWriteError(err)
	}
	if err := s.idx.Delete(ctx, id); err != nil && !errors.Is(err, store.ErrNotFound) {
		return NewAppError("INTERNAL_ERROR", 500, "Failed to remove index entry")
	}
	return nil
}

// SearchResult carries the matches plus the sources the actor may browse.
type SearchResult struct {
	Query   string              `json:"query"`
	Sources []string            `json:"sources"`
	Results []*index.FileRecord `json:"results"`
}

// Search answers a free-text query restricted to the actor's browsable
// sources. An empty query lists recent files instead of ranking.
func (s *Service) Search(ctx context.Context, query, sourceFilter string, limit int, actor *access.Actor) (*SearchResult, error) {
	allowed := s.resolver.AllowedSources(actor, access.ActionBrowse)
	result := &SearchResult{Query: query, Sources: allowed, Results: []*index.FileRecord{}}
	if result.Sources == nil {
		result.Sources = []string{}
	}

	scope := allowed
	if sourceFilter != "" {
		scope = nil
		for _, slug := range allowed {
			if slug == sourceFilter {
				scope = []string{slug}
				break
			}
		}
	}
	if len(scope) == 0 {
		return result, nil
	}

	var (
		records []*index.FileRecord
		err     error
	)
	if len(index.Tokenize(query)) == 0 {
		records, err = s.idx.QueryRecent(ctx, scope, limit)
	} else {
		records, err = s.idx.Search(ctx, query, scope, limit)
	}
	if err != nil {
		return nil, NewAppError("INTERNAL_ERROR", 500, "Search failed")
	}
	if records != nil {
		result.Results = records
	}
	return result, nil
}

// BatchLookup resolves many ids at once, silently omitting anything the
// actor cannot browse. Unlike single lookups it never reports Forbidden.
func (s *Service) BatchLookup(ctx context.Context, ids []string, actor *access.Actor) (map[string]*index.FileRecord, error) {
	found := make(map[string]*index.FileRecord)
	for _, id := range ids {
		rec, err := s.lookup(ctx, id)
		if err != nil {
			var appErr *AppError
			if errors.As(err, &appErr) && appErr.Code == "NOT_FOUND" {
				continue
			}
			return nil, err
		}
		if !s.resolver.IsAllowed(actor, access.ActionBrowse, rec.SourceSlug) {
			continue
		}
		found[id] = rec
	}
	return found, nil
}

// SourceInfo is the read-only introspection view of one source.
type SourceInfo struct {
	Slug         string               `json:"slug"`
	StorageType  string               `json:"storage_type"`
	Capabilities storage.Capabilities `json:"capabilities"`
}

// Sources lists every configured source with its capability flags.
// No secrets: backend config stays internal.
func (s *Service) Sources() []SourceInfo {
	slugs := s.reg.Slugs()
	infos := make([]SourceInfo, 0, len(slugs))
	for _, slug := range slugs {
		src, _ := s.reg.Resolve(slug)
		infos = append(infos, SourceInfo{
			Slug:         slug,
			StorageType:  src.StorageType,
			Capabilities: src.Backend.Capabilities(),
		})
	}
	return infos
}

// lookup validates the id shape and fetches the record. The pattern
// check runs first so malformed ids never reach the index and respond
// exactly like absent ones.
func (s *Service) lookup(ctx context.Context, id string) (*index.FileRecord, error) {
	if !ValidFileID(id) {
		return nil, NotFoundError("File not found: " + id)
	}
	rec, err := s.idx.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, NotFoundError("File not found: " + id)
		}
		return nil, NewAppError("INTERNAL_ERROR", 500, "File lookup failed")
	}
	return rec, nil
}

func actorID(actor *access.Actor) string {
	if actor == nil {
		return ""
	}
	return actor.ID
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
