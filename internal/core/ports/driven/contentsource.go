package driven

import (
	"context"
	"time"

	"github.com/custodia-labs/storekb/internal/core/domain"
)

// ContentSource is the host content repository seen from the core.
// Implementations exist for a local catalog directory and the store's REST API.
type ContentSource interface {
	// Name identifies the source for logging.
	Name() string

	// ListModifiedSince returns items of the given type modified strictly
	// after since. A zero since returns every live item.
	ListModifiedSince(ctx context.Context, contentType domain.ContentType, since time.Time) ([]domain.ContentItem, error)

	// ListAllIDs returns the IDs of every live item of the given type.
	ListAllIDs(ctx context.Context, contentType domain.ContentType) ([]string, error)

	// Fetch returns a single item, or nil and no error if it no longer exists.
	Fetch(ctx context.Context, contentType domain.ContentType, contentID string) (*domain.ContentItem, error)
}

// ContentWatcher is implemented by sources that can push change notifications.
type ContentWatcher interface {
	// Watch emits a content type each time items of that type change.
	// The channel is closed when ctx is cancelled.
	Watch(ctx context.Context) (<-chan domain.ContentType, error)
}
