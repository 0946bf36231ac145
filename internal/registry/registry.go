package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"

	"filedepot/internal/config"
	"filedepot/internal/index"
	"filedepot/internal/storage"
)

// Source is one configured storage destination: a live backend plus its
// numeric identity in the metadata index.
type Source struct {
	Slug        string
	StorageType string
	NumericID   int64
	Backend     storage.Backend
}

// Registry maps user-facing source slugs to configured backends. It is
// built once at startup and read-only afterwards.
type Registry struct {
	sources map[string]*Source
}

// Build resolves every configured source: the storage type must name a
// registered backend, the backend must configure cleanly, and the source
// row is upserted in the metadata index. Any failure aborts startup.
func Build(ctx context.Context, cfgs map[string]config.SourceConfig, ix *index.Index) (*Registry, error) {
	reg := &Registry{sources: make(map[string]*Source, len(cfgs))}

	// Deterministic order so a broken config fails on the same source
	// every run.
	slugs := make([]string, 0, len(cfgs))
	for slug := range cfgs {
		slugs = append(slugs, slug)
	}
	sort.Strings(slugs)

	for _, slug := range slugs {
		src := cfgs[slug]
		backend, err := storage.New(src.Storage)
		if err != nil {
			return nil, fmt.Errorf("source %q: %w", slug, err)
		}
		if err := backend.Configure(src.Config); err != nil {
			return nil, fmt.Errorf("configure source %q: %w", slug, err)
		}

		configJSON, err := json.Marshal(src.Config)
		if err != nil {
			return nil, fmt.Errorf("encode config for source %q: %w", slug, err)
		}
		numericID, err := ix.UpsertSource(ctx, slug, src.Storage, string(configJSON))
		if err != nil {
			return nil, err
		}

		reg.sources[slug] = &Source{
			Slug:        slug,
			StorageType: src.Storage,
			NumericID:   numericID,
			Backend:     backend,
		}
		log.Printf("Registered source %q (storage=%s, id=%d)", slug, src.Storage, numericID)
	}

	return reg, nil
}

// Resolve returns the source for a slug, or false if it is not configured.
func (r *Registry) Resolve(slug string) (*Source, bool) {
	src, ok := r.sources[slug]
	return src, ok
}

// CapabilitiesOf returns the capability flags of a source's backend.
func (r *Registry) CapabilitiesOf(slug string) (storage.Capabilities, bool) {
	src, ok := r.sources[slug]
	if !ok {
		return storage.Capabilities{}, false
	}
	return src.Backend.Capabilities(), true
}

// Slugs returns all configured source slugs, sorted.
func (r *Registry) Slugs() []string {
	slugs := make([]string, 0, len(r.sources))
	for slug := range r.sources {
		slugs = append(slugs, slug)
	}
	sort.Strings(slugs)
	return slugs
}
