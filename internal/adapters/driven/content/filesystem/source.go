// Package filesystem reads catalog content from a local directory.
//
// Layout: <root>/<content type>/<id>.<ext>. Nested directories become part
// of the ID ("guides/returns.md" under page/ is page "guides/returns").
// The extension selects the MIME type; .json files carry a full item
// document. Modification time comes from the file unless the document
// sets modified_at.
package filesystem

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/custodia-labs/storekb/internal/core/domain"
	"github.com/custodia-labs/storekb/internal/core/ports/driven"
	"github.com/custodia-labs/storekb/internal/logger"
)

// Ensure Source implements the interfaces.
var (
	_ driven.ContentSource  = (*Source)(nil)
	_ driven.ContentWatcher = (*Source)(nil)
)

// DefaultDebounce coalesces bursts of file events into one notification.
const DefaultDebounce = 2 * time.Second

// mimeByExt maps supported extensions to MIME types.
var mimeByExt = map[string]string{
	".html":     "text/html",
	".htm":      "text/html",
	".md":       "text/markdown",
	".markdown": "text/markdown",
	".txt":      "text/plain",
	".csv":      "text/csv",
	".json":     "application/json",
}

// Config configures a filesystem source.
type Config struct {
	// Root is the catalog directory (required).
	Root string

	// BaseURL prefixes citation URLs: <BaseURL>/<type>/<id>.
	BaseURL string

	// Debounce is the quiet period before Watch emits (default 2s).
	Debounce time.Duration
}

// Source is a ContentSource over a directory tree.
type Source struct {
	root     string
	baseURL  string
	debounce time.Duration
}

// document is the on-disk form of a .json item. The file name is the ID.
type document struct {
	Title      string         `json:"title"`
	URL        string         `json:"url"`
	MIMEType   string         `json:"mime_type"`
	Body       string         `json:"body"`
	ModifiedAt *time.Time     `json:"modified_at"`
	Metadata   map[string]any `json:"metadata"`
}

// New creates a filesystem source. The root must exist.
func New(cfg Config) (*Source, error) {
	if cfg.Root == "" {
		return nil, fmt.Errorf("filesystem: root is required")
	}
	info, err := os.Stat(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("filesystem: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("filesystem: %s is not a directory", cfg.Root)
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	return &Source{
		root:     cfg.Root,
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		debounce: cfg.Debounce,
	}, nil
}

// Name identifies the source.
func (s *Source) Name() string {
	return "filesystem:" + s.root
}

// ListModifiedSince returns items modified strictly after since.
func (s *Source) ListModifiedSince(
	ctx context.Context, contentType domain.ContentType, since time.Time,
) ([]domain.ContentItem, error) {
	files, err := s.scan(ctx, contentType)
	if err != nil {
		return nil, err
	}

	items := make([]domain.ContentItem, 0, len(files))
	for _, f := range files {
		if !since.IsZero() && !f.modTime.After(since) {
			// A .json document may override the file time; read it to know.
			if filepath.Ext(f.path) != ".json" {
				continue
			}
		}
		item, err := s.load(contentType, f)
		if err != nil {
			return nil, err
		}
		if !since.IsZero() && !item.ModifiedAt.After(since) {
			continue
		}
		items = append(items, *item)
	}
	return items, nil
}

// ListAllIDs returns every item ID of the type.
func (s *Source) ListAllIDs(ctx context.Context, contentType domain.ContentType) ([]string, error) {
	files, err := s.scan(ctx, contentType)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(files))
	for i, f := range files {
		ids[i] = f.id
	}
	return ids, nil
}

// Fetch loads one item, or returns nil if no file has that ID.
func (s *Source) Fetch(ctx context.Context, contentType domain.ContentType, contentID string) (*domain.ContentItem, error) {
	files, err := s.scan(ctx, contentType)
	if err != nil {
		return nil, err
	}
	for _, f := range files {
		if f.id == contentID {
			return s.load(contentType, f)
		}
	}
	return nil, nil
}

type file struct {
	id      string
	path    string
	modTime time.Time
}

// scan lists supported files under the type directory, sorted by ID.
// A missing type directory is an empty type, not an error.
func (s *Source) scan(ctx context.Context, contentType domain.ContentType) ([]file, error) {
	if !contentType.IsValid() {
		return nil, domain.NewValidationError(domain.ContentRef{ContentType: contentType}, "invalid content type")
	}
	dir := filepath.Join(s.root, string(contentType))

	seen := make(map[string]struct{})
	var files []file
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && path == dir {
				return fs.SkipAll
			}
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		name := d.Name()
		if strings.HasPrefix(name, ".") && path != dir {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(name))
		if _, ok := mimeByExt[ext]; !ok {
			return nil
		}

		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		id := filepath.ToSlash(strings.TrimSuffix(rel, filepath.Ext(rel)))
		if _, dup := seen[id]; dup {
			logger.Warn("filesystem: skipping %s: duplicate id %s/%s", path, contentType, id)
			return nil
		}
		seen[id] = struct{}{}

		info, err := d.Info()
		if err != nil {
			return err
		}
		files = append(files, file{id: id, path: path, modTime: info.ModTime().UTC()})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("filesystem: scanning %s: %w", dir, err)
	}

	sort.Slice(files, func(i, j int) bool { return files[i].id < files[j].id })
	return files, nil
}

func (s *Source) load(contentType domain.ContentType, f file) (*domain.ContentItem, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return nil, fmt.Errorf("filesystem: reading %s: %w", f.path, err)
	}

	item := &domain.ContentItem{
		ID:          f.id,
		ContentType: contentType,
		ModifiedAt:  f.modTime,
		MIMEType:    mimeByExt[strings.ToLower(filepath.Ext(f.path))],
		RawPayload:  data,
		URL:         s.itemURL(contentType, f.id),
		SourceMetadata: map[string]any{
			"path": f.path,
		},
	}

	if item.MIMEType == "application/json" {
		var doc document
		if err := json.Unmarshal(data, &doc); err != nil {
			// Left as application/json so normalisation rejects the item.
			logger.Warn("filesystem: malformed item document %s: %v", f.path, err)
			return item, nil
		}
		item.MIMEType = doc.MIMEType
		if item.MIMEType == "" {
			item.MIMEType = "text/plain"
		}
		item.RawPayload = []byte(doc.Body)
		item.Title = doc.Title
		if doc.URL != "" {
			item.URL = doc.URL
		}
		if doc.ModifiedAt != nil {
			item.ModifiedAt = doc.ModifiedAt.UTC()
		}
		for k, v := range doc.Metadata {
			item.SourceMetadata[k] = v
		}
	}

	return item, nil
}

func (s *Source) itemURL(contentType domain.ContentType, id string) string {
	if s.baseURL == "" {
		return ""
	}
	return s.baseURL + "/" + string(contentType) + "/" + id
}
