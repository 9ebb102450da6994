// Package rest reads catalog content from the host store's JSON API.
//
// Endpoints (relative to the base URL):
//
//	GET /items?type=T&modified_after=RFC3339&page=N&per_page=M
//	GET /items/ids?type=T&page=N&per_page=M
//	GET /items/T/ID
//
// List responses carry a next_page number; zero ends pagination.
package rest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/custodia-labs/storekb/internal/adapters/driven/provider"
	"github.com/custodia-labs/storekb/internal/core/domain"
	"github.com/custodia-labs/storekb/internal/core/ports/driven"
)

// Ensure Source implements the interface.
var _ driven.ContentSource = (*Source)(nil)

// Defaults.
const (
	DefaultPageSize = 100
	DefaultTimeout  = 30 * time.Second

	// maxPages stops a server that never ends pagination.
	maxPages = 10000
)

// Config configures the REST source.
type Config struct {
	// BaseURL is the API root (required).
	BaseURL string

	// APIKey is sent as a bearer token when set.
	APIKey string

	// PageSize is the per_page parameter (default 100).
	PageSize int

	// RequestsPerSecond limits the request rate. Zero disables limiting.
	RequestsPerSecond float64

	// Timeout is the per-request timeout (default 30s).
	Timeout time.Duration

	// MaxRetries is the number of retries for transient failures.
	MaxRetries int
}

// Source is a ContentSource backed by the store's REST API.
type Source struct {
	client   *provider.Client
	baseURL  string
	pageSize int
}

// item is the wire form of one content item.
type item struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	Title      string         `json:"title"`
	URL        string         `json:"url"`
	MIMEType   string         `json:"mime_type"`
	Body       string         `json:"body"`
	ModifiedAt time.Time      `json:"modified_at"`
	Metadata   map[string]any `json:"metadata"`
}

type itemsPage struct {
	Items    []item `json:"items"`
	NextPage int    `json:"next_page"`
}

type idsPage struct {
	IDs      []string `json:"ids"`
	NextPage int      `json:"next_page"`
}

// New creates a REST content source.
func New(cfg Config) (*Source, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("rest: base URL is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("rest: invalid base URL: %w", err)
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	opts := []provider.Option{
		provider.WithTimeout(cfg.Timeout),
		provider.WithRateLimit(provider.RateLimitConfig{RequestsPerSecond: cfg.RequestsPerSecond, BurstSize: 1}),
		provider.WithHeader("Accept", "application/json"),
	}
	if cfg.APIKey != "" {
		opts = append(opts, provider.WithHeader("Authorization", "Bearer "+cfg.APIKey))
	}
	if cfg.MaxRetries > 0 {
		opts = append(opts, provider.WithMaxRetries(cfg.MaxRetries))
	}

	return &Source{
		client:   provider.NewClient("rest", opts...),
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		pageSize: cfg.PageSize,
	}, nil
}

// Name identifies the source.
func (s *Source) Name() string {
	return "rest:" + s.baseURL
}

// ListModifiedSince pages through items modified strictly after since.
// The filter is applied again locally in case the server treats the
// bound as inclusive.
func (s *Source) ListModifiedSince(
	ctx context.Context, contentType domain.ContentType, since time.Time,
) ([]domain.ContentItem, error) {
	var items []domain.ContentItem
	for page := 1; page > 0; {
		q := url.Values{}
		q.Set("type", string(contentType))
		if !since.IsZero() {
			q.Set("modified_after", since.UTC().Format(time.RFC3339Nano))
		}

		var resp itemsPage
		if err := s.getPage(ctx, "list", "/items", q, page, &resp); err != nil {
			return nil, err
		}
		for i := range resp.Items {
			it := s.toDomain(contentType, &resp.Items[i])
			if !since.IsZero() && !it.ModifiedAt.After(since) {
				continue
			}
			items = append(items, *it)
		}

		next, err := nextPage(page, resp.NextPage)
		if err != nil {
			return nil, err
		}
		page = next
	}
	return items, nil
}

// ListAllIDs pages through every live ID of the type.
func (s *Source) ListAllIDs(ctx context.Context, contentType domain.ContentType) ([]string, error) {
	var ids []string
	for page := 1; page > 0; {
		q := url.Values{}
		q.Set("type", string(contentType))

		var resp idsPage
		if err := s.getPage(ctx, "list ids", "/items/ids", q, page, &resp); err != nil {
			return nil, err
		}
		ids = append(ids, resp.IDs...)

		next, err := nextPage(page, resp.NextPage)
		if err != nil {
			return nil, err
		}
		page = next
	}
	return ids, nil
}

// Fetch returns one item, or nil if the API answers 404.
func (s *Source) Fetch(ctx context.Context, contentType domain.ContentType, contentID string) (*domain.ContentItem, error) {
	u := s.baseURL + "/items/" + url.PathEscape(string(contentType)) + "/" + url.PathEscape(contentID)

	body, err := s.client.Do(ctx, "fetch", func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, u, http.NoBody)
	})
	if provider.IsStatus(err, http.StatusNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var it item
	if err := json.Unmarshal(body, &it); err != nil {
		return nil, &domain.FatalProviderError{Provider: "rest", Op: "fetch", Err: fmt.Errorf("decode response: %w", err)}
	}
	if it.ID == "" {
		it.ID = contentID
	}
	return s.toDomain(contentType, &it), nil
}

func (s *Source) getPage(ctx context.Context, op, path string, q url.Values, page int, out any) error {
	q.Set("page", strconv.Itoa(page))
	q.Set("per_page", strconv.Itoa(s.pageSize))
	u := s.baseURL + path + "?" + q.Encode()

	body, err := s.client.Do(ctx, op, func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, u, http.NoBody)
	})
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &domain.FatalProviderError{Provider: "rest", Op: op, Err: fmt.Errorf("decode page %d: %w", page, err)}
	}
	return nil
}

// nextPage validates the server's pagination cursor.
func nextPage(current, next int) (int, error) {
	switch {
	case next <= 0:
		return 0, nil
	case next <= current:
		return 0, &domain.FatalProviderError{Provider: "rest", Op: "paginate",
			Err: fmt.Errorf("next_page %d does not advance past %d", next, current)}
	case next > maxPages:
		return 0, &domain.FatalProviderError{Provider: "rest", Op: "paginate",
			Err: fmt.Errorf("more than %d pages", maxPages)}
	default:
		return next, nil
	}
}

func (s *Source) toDomain(contentType domain.ContentType, it *item) *domain.ContentItem {
	ct := contentType
	if it.Type != "" {
		ct = domain.ContentType(it.Type)
	}
	return &domain.ContentItem{
		ID:             it.ID,
		ContentType:    ct,
		ModifiedAt:     it.ModifiedAt.UTC(),
		MIMEType:       it.MIMEType,
		RawPayload:     []byte(it.Body),
		Title:          it.Title,
		URL:            it.URL,
		SourceMetadata: it.Metadata,
	}
}
