package filesystem

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/custodia-labs/storekb/internal/core/domain"
	"github.com/custodia-labs/storekb/internal/logger"
)

// Watch reports content types whose files changed. Events are coalesced
// until the directory has been quiet for the debounce period, then each
// changed type is emitted once. The channel closes when ctx is done.
func (s *Source) Watch(ctx context.Context) (<-chan domain.ContentType, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("filesystem: creating watcher: %w", err)
	}
	if err := s.addTree(watcher, s.root); err != nil {
		watcher.Close()
		return nil, err
	}

	out := make(chan domain.ContentType)
	go s.watchLoop(ctx, watcher, out)
	return out, nil
}

func (s *Source) watchLoop(ctx context.Context, watcher *fsnotify.Watcher, out chan<- domain.ContentType) {
	defer close(out)
	defer watcher.Close()

	pending := make(map[domain.ContentType]struct{})
	var timer *time.Timer
	var fire <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&fsnotify.Create != 0 {
				// New directories need their own watch.
				if err := s.addTree(watcher, event.Name); err != nil {
					logger.Warn("%v", err)
				}
			}
			contentType, ok := s.typeOf(event.Name)
			if !ok {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			logger.Debug("filesystem: %s %s", event.Op, event.Name)
			pending[contentType] = struct{}{}
			if timer == nil {
				timer = time.NewTimer(s.debounce)
			} else {
				timer.Reset(s.debounce)
			}
			fire = timer.C

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logger.Warn("filesystem: watch error: %v", err)

		case <-fire:
			fire = nil
			types := make([]domain.ContentType, 0, len(pending))
			for t := range pending {
				types = append(types, t)
			}
			sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
			clear(pending)
			for _, t := range types {
				select {
				case out <- t:
				case <-ctx.Done():
					return
				}
			}
		}
	}
}

// typeOf maps a path to the content type directory it lives under.
// Files directly in the root and hidden entries are ignored.
func (s *Source) typeOf(path string) (domain.ContentType, bool) {
	rel, err := filepath.Rel(s.root, path)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", false
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	if len(parts) < 2 {
		return "", false
	}
	for _, p := range parts {
		if strings.HasPrefix(p, ".") {
			return "", false
		}
	}
	ct := domain.ContentType(parts[0])
	return ct, ct.IsValid()
}

// addTree watches dir and every non-hidden directory below it.
func (s *Source) addTree(watcher *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Vanished between the event and the walk.
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != dir && strings.HasPrefix(d.Name(), ".") {
			return fs.SkipDir
		}
		if err := watcher.Add(path); err != nil {
			return fmt.Errorf("filesystem: watching %s: %w", path, err)
		}
		return nil
	})
}
