package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

func init() {
	Register("filesystem", func() Backend { return &FilesystemBackend{} })
}

// FilesystemBackend stores files under a root directory on local disk.
type FilesystemBackend struct {
	root        string
	maxFileSize int64
}

func (b *FilesystemBackend) Type() string { return "filesystem" }

func (b *FilesystemBackend) Capabilities() Capabilities {
	return Capabilities{
		CanUpload:             true,
		CanDelete:             true,
		CanList:               true,
		RequiresProxyDownload: true,
		MaxFileSize:           b.maxFileSize,
	}
}

func (b *FilesystemBackend) Configure(config map[string]any) error {
	root, err := configString(config, "root")
	if err != nil {
		return err
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("resolve root %q: %w", root, err)
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return fmt.Errorf("create root %q: %w", abs, err)
	}
	b.root = abs
	b.maxFileSize = configInt64(config, "max_file_size")
	return nil
}

// resolve maps a backend-relative path to an absolute one, refusing
// anything that would escape the root. The root itself is never a valid
// file path, so a path that cleans to it is refused too. Escapes report
// ErrNotFound so a caller cannot distinguish them from missing files.
func (b *FilesystemBackend) resolve(path string) (string, error) {
	target := filepath.Join(b.root, filepath.FromSlash(path))
	target = filepath.Clean(target)
	if !strings.HasPrefix(target, b.root+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	return target, nil
}

func (b *FilesystemBackend) ReceiveUpload(_ context.Context, path string, content []byte, contentType string) (*FileMetadata, error) {
	target, err := b.resolve(path)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return nil, fmt.Errorf("create parent dir: %w", err)
	}

	// Write to a temp file in the same directory, then rename, so a
	// concurrent reader never sees a partial file.
	tmp := target + "." + uuid.New().String() + ".tmp"
	if err := os.WriteFile(tmp, content, 0644); err != nil {
		return nil, fmt.Errorf("write file: %w", err)
	}
	if err := os.Rename(tmp, target); err != nil {
		os.Remove(tmp)
		return nil, fmt.Errorf("rename file: %w", err)
	}

	sum := sha256.Sum256(content)
	return &FileMetadata{
		Path:        path,
		Filename:    filepath.Base(target),
		ContentType: contentType,
		ContentHash: "sha256:" + hex.EncodeToString(sum[:]),
		Size:        int64(len(content)),
	}, nil
}

func (b *FilesystemBackend) ReadFile(_ context.Context, path string) ([]byte, error) {
	target, err := b.resolve(path)
	if err != nil {
		return nil, err
	}
	content, err := os.ReadFile(target)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("read file: %w", err)
	}
	return content, nil
}

func (b *FilesystemBackend) ListFiles(_ context.Context, prefix, cursor string, limit int) ([]FileMetadata, string, error) {
	var paths []string
	err := filepath.WalkDir(b.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(b.root, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if prefix != "" && !strings.HasPrefix(rel, prefix) {
			return nil
		}
		paths = append(paths, rel)
		return nil
	})
	if err != nil {
		return nil, "", fmt.Errorf("walk root: %w", err)
	}
	sort.Strings(paths)

	if limit <= 0 {
		limit = 1000
	}
	var files []FileMetadata
	var next string
	for _, rel := range paths {
		if cursor != "" && rel <= cursor {
			continue
		}
		if len(files) == limit {
			next = files[len(files)-1].Path
			break
		}
		target := filepath.Join(b.root, filepath.FromSlash(rel))
		info, err := os.Stat(target)
		if err != nil {
			continue
		}
		files = append(files, FileMetadata{
			Path:     rel,
			Filename: filepath.Base(target),
			Size:     info.Size(),
		})
	}
	return files, next, nil
}

func (b *FilesystemBackend) DownloadURL(_ context.Context, _ string, _ time.Duration) (string, error) {
	return "", fmt.Errorf("%w: filesystem signed URLs", ErrUnsupported)
}

func (b *FilesystemBackend) DeleteFile(_ context.Context, path string) error {
	target, err := b.resolve(path)
	if err != nil {
		return err
	}
	if _, err := os.Stat(target); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return fmt.Errorf("stat file: %w", err)
	}
	if err := os.Remove(target); err != nil {
		return fmt.Errorf("remove file: %w", err)
	}
	// Remove the containing dir if it is now empty.
	_ = os.Remove(filepath.Dir(target))
	return nil
}
