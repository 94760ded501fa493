package catalog

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"promoagent/internal/domain"
)

// reloadDelay coalesces the burst of events an editor or a copy produces
// into a single reload.
var reloadDelay = 100 * time.Millisecond

// newWatcher creates an fsnotify watcher; tests may replace it to inject errors.
var newWatcher = fsnotify.NewWatcher

// Watched serves a YAML catalog file and swaps in a fresh Memory whenever the
// file changes. A file that fails to parse or validate leaves the previous
// catalog in place.
type Watched struct {
	path    string
	current atomic.Pointer[Memory]
	watcher *fsnotify.Watcher
	logger  *slog.Logger
	done    chan struct{}
	wg      sync.WaitGroup

	closeOnce sync.Once
	onReload  func(n int, err error)
}

// reloadHook, when set, is copied into each new Watched and called after
// every reload attempt with the number of records served.
var reloadHook func(n int, err error)

// NewWatched loads path and starts watching it. The first load must succeed.
// Call Close to stop watching.
func NewWatched(path string, logger *slog.Logger) (*Watched, error) {
	if path == "" {
		return nil, errors.New("catalog watch: path is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	m, err := NewMemoryFromFile(path)
	if err != nil {
		return nil, err
	}
	watcher, err := newWatcher()
	if err != nil {
		return nil, err
	}
	// The directory, not the file: editors replace files by rename, which
	// would drop a watch on the file itself.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, err
	}
	w := &Watched{
		path:     path,
		watcher:  watcher,
		logger:   logger.With("catalog", path),
		done:     make(chan struct{}),
		onReload: reloadHook,
	}
	w.current.Store(m)
	w.wg.Add(1)
	go w.loop()
	return w, nil
}

// Len returns the number of records currently served.
func (w *Watched) Len() int { return w.current.Load().Len() }

// ListByCountry implements domain.PromotionSource.
func (w *Watched) ListByCountry(ctx context.Context, q domain.ListQuery) (*domain.ToolResponse, error) {
	return w.current.Load().ListByCountry(ctx, q)
}

// GetByID implements domain.PromotionSource.
func (w *Watched) GetByID(ctx context.Context, id int, include []string) (*domain.ToolResponse, error) {
	return w.current.Load().GetByID(ctx, id, include)
}

// Close stops watching. It is safe to call more than once.
func (w *Watched) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.done)
		err = w.watcher.Close()
		w.wg.Wait()
	})
	return err
}

func (w *Watched) loop() {
	defer w.wg.Done()
	target := filepath.Base(w.path)
	var (
		timer  *time.Timer
		reload <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-w.done:
			return
		case <-reload:
			reload = nil
			w.reload()
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(reloadDelay)
			} else {
				timer.Reset(reloadDelay)
			}
			reload = timer.C
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("catalog watch error", "error", err)
		}
	}
}

func (w *Watched) reload() {
	m, err := NewMemoryFromFile(w.path)
	if err != nil {
		w.logger.Warn("catalog reload failed; keeping previous catalog", "error", err)
	} else {
		w.current.Store(m)
		w.logger.Info("catalog reloaded", "promotions", m.Len())
	}
	if w.onReload != nil {
		w.onReload(w.Len(), err)
	}
}

var _ domain.PromotionSource = (*Watched)(nil)
