package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

var (
	// ErrNotFound reports a path that does not exist in the backend.
	ErrNotFound = errors.New("file not found")

	// ErrUnsupported reports a call to an operation the backend does not
	// declare in its capabilities. Callers must check capability flags
	// before calling; hitting this is a programming error.
	ErrUnsupported = errors.New("operation not supported by storage backend")
)

// Capabilities declares what a storage backend supports.
type Capabilities struct {
	CanUpload             bool  `json:"can_upload"`
	CanDelete             bool  `json:"can_delete"`
	CanList               bool  `json:"can_list"`
	CanGenerateSignedURLs bool  `json:"can_generate_signed_urls"`
	CanGenerateThumbnails bool  `json:"can_generate_thumbnails"`
	RequiresProxyDownload bool  `json:"requires_proxy_download"`
	MaxFileSize           int64 `json:"max_file_size,omitempty"` // 0 = unlimited
}

// FileMetadata describes a file as seen by a backend.
type FileMetadata struct {
	Path        string
	Filename    string
	ContentType string
	ContentHash string // algorithm-tagged, e.g. "sha256:<hex>"
	Size        int64
	Width       int
	Height      int
}

// Backend is a capability-declaring adapter over one storage medium.
// Configure is called exactly once, at startup, before any other method.
// Methods gated by a false capability flag return ErrUnsupported.
type Backend interface {
	Type() string
	Capabilities() Capabilities

	Configure(config map[string]any) error
	ReceiveUpload(ctx context.Context, path string, content []byte, contentType string) (*FileMetadata, error)
	ReadFile(ctx context.Context, path string) ([]byte, error)
	ListFiles(ctx context.Context, prefix, cursor string, limit int) ([]FileMetadata, string, error)
	DownloadURL(ctx context.Context, path string, expiresIn time.Duration) (string, error)
	DeleteFile(ctx context.Context, path string) error
}

// Factory constructs an unconfigured Backend instance.
type Factory func() Backend

var (
	mu        sync.RWMutex
	factories = map[string]Factory{}
)

// Register makes a backend type available under the given name.
// Built-in backends register themselves in init; external code may add
// more before the source registry is built.
func Register(typeName string, factory Factory) {
	mu.Lock()
	defer mu.Unlock()
	factories[typeName] = factory
}

// New constructs a backend of the given type, or fails with the list of
// known types.
func New(typeName string) (Backend, error) {
	mu.RLock()
	factory, ok := factories[typeName]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown storage type %q (available: %v)", typeName, Types())
	}
	return factory(), nil
}

// Types returns the registered backend type names, sorted.
func Types() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// configString reads a required string key from a backend config map.
func configString(config map[string]any, key string) (string, error) {
	v, ok := config[key]
	if !ok {
		return "", fmt.Errorf("missing required config key %q", key)
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", fmt.Errorf("config key %q must be a non-empty string", key)
	}
	return s, nil
}

// configInt64 reads an optional numeric key, tolerating the types viper
// hands back for YAML numbers.
func configInt64(config map[string]any, key string) int64 {
	switch v := config[key].(type) {
	case int:
		return int64(v)
	case int64:
		return v
	case float64:
		return int64(v)
	default:
		return 0
	}
}

// configBool reads an optional boolean key.
func configBool(config map[string]any, key string) bool {
	b, _ := config[key].(bool)
	return b
}
