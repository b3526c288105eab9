package routing

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"agentmux/internal/logging"
)

// =============================================================================
// KEYWORD FILE WATCHER
// =============================================================================

// KeywordWatcher hot-reloads the keyword YAML file into a classifier when it
// changes on disk, and clears the routing cache so stale decisions don't
// outlive the rules that produced them. The parent directory is watched
// rather than the file itself, because editors replace files atomically.
type KeywordWatcher struct {
	mu          sync.RWMutex
	watcher     *fsnotify.Watcher
	classifier  *KeywordClassifier
	cache       *Cache
	path        string
	debounceMap map[string]time.Time
	debounceDur time.Duration
	stopCh      chan struct{}
	doneCh      chan struct{}
	running     bool

	stats KeywordWatcherStats
}

// KeywordWatcherStats tracks watcher activity for debugging.
type KeywordWatcherStats struct {
	EventsSeen    int
	Reloads       int
	ReloadErrors  int
	LastEventTime time.Time
	LastEventPath string
}

// NewKeywordWatcher creates a watcher for the given keyword file. cache may
// be nil when there is no routing cache to invalidate.
func NewKeywordWatcher(path string, classifier *KeywordClassifier, cache *Cache) (*KeywordWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &KeywordWatcher{
		watcher:     watcher,
		classifier:  classifier,
		cache:       cache,
		path:        filepath.Clean(path),
		debounceMap: make(map[string]time.Time),
		debounceDur: 500 * time.Millisecond, // Debounce rapid saves
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}, nil
}

// Start begins watching. Non-blocking; the event loop runs in a goroutine.
func (kw *KeywordWatcher) Start(ctx context.Context) error {
	kw.mu.Lock()
	if kw.running {
		kw.mu.Unlock()
		return nil // Already running
	}
	kw.running = true
	kw.mu.Unlock()

	dir := filepath.Dir(kw.path)
	if err := kw.watcher.Add(dir); err != nil {
		logging.Get(logging.CategoryRouting).Warn("KeywordWatcher: initial watch failed (dir may not exist): %v", err)
	} else {
		logging.Routing("KeywordWatcher: watching %s for changes to %s", dir, filepath.Base(kw.path))
	}

	go kw.run(ctx)

	return nil
}

// Stop stops the watcher and waits for cleanup.
func (kw *KeywordWatcher) Stop() {
	kw.mu.Lock()
	if !kw.running {
		kw.mu.Unlock()
		return
	}
	kw.running = false
	kw.mu.Unlock()

	close(kw.stopCh)
	<-kw.doneCh

	if err := kw.watcher.Close(); err != nil {
		logging.Get(logging.CategoryRouting).Error("KeywordWatcher: error closing watcher: %v", err)
	}
	logging.Routing("KeywordWatcher: stopped")
}

// IsWatching returns true while the event loop is running.
func (kw *KeywordWatcher) IsWatching() bool {
	kw.mu.RLock()
	defer kw.mu.RUnlock()
	return kw.running
}

// Stats returns a copy of the watcher statistics.
func (kw *KeywordWatcher) Stats() KeywordWatcherStats {
	kw.mu.RLock()
	defer kw.mu.RUnlock()
	return kw.stats
}

func (kw *KeywordWatcher) run(ctx context.Context) {
	defer close(kw.doneCh)

	debounceTicker := time.NewTicker(100 * time.Millisecond)
	defer debounceTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			logging.Routing("KeywordWatcher: context cancelled")
			return

		case <-kw.stopCh:
			return

		case event, ok := <-kw.watcher.Events:
			if !ok {
				return
			}
			kw.handleEvent(event)

		case err, ok := <-kw.watcher.Errors:
			if !ok {
				return
			}
			logging.Get(logging.CategoryRouting).Error("KeywordWatcher error: %v", err)

		case <-debounceTicker.C:
			kw.processDebounced()
		}
	}
}

func (kw *KeywordWatcher) handleEvent(event fsnotify.Event) {
	// Only the keyword file itself matters.
	if filepath.Clean(event.Name) != kw.path {
		return
	}
	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
		return
	}

	logging.RoutingDebug("KeywordWatcher: %s event for %s", event.Op, event.Name)

	kw.mu.Lock()
	kw.stats.EventsSeen++
	kw.stats.LastEventTime = time.Now()
	kw.stats.LastEventPath = event.Name
	kw.debounceMap[kw.path] = time.Now()
	kw.mu.Unlock()
}

func (kw *KeywordWatcher) processDebounced() {
	kw.mu.Lock()
	now := time.Now()
	var toReload []string
	for path, eventTime := range kw.debounceMap {
		if now.Sub(eventTime) >= kw.debounceDur {
			toReload = append(toReload, path)
			delete(kw.debounceMap, path)
		}
	}
	kw.mu.Unlock()

	for range toReload {
		kw.Reload()
	}
}

// Reload re-reads the keyword file, swaps the classifier tables and clears
// the routing cache. Safe to call manually (e.g. at startup).
func (kw *KeywordWatcher) Reload() {
	if _, err := os.Stat(kw.path); os.IsNotExist(err) {
		logging.RoutingDebug("KeywordWatcher: keyword file removed, keeping current tables")
		return
	}

	tables, err := LoadKeywordTables(kw.path)
	if err != nil {
		logging.Get(logging.CategoryRouting).Error("KeywordWatcher: reload failed: %v", err)
		kw.mu.Lock()
		kw.stats.ReloadErrors++
		kw.mu.Unlock()
		return
	}

	kw.classifier.SetTables(tables)
	if kw.cache != nil {
		kw.cache.Clear()
	}

	kw.mu.Lock()
	kw.stats.Reloads++
	kw.mu.Unlock()

	logging.Routing("KeywordWatcher: reloaded %s and cleared routing cache", filepath.Base(kw.path))
}
