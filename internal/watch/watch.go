// Package watch feeds CSV files dropped into a directory to the ingester.
package watch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/artificers/ingest/internal/importer"
	"github.com/artificers/ingest/internal/ingest"
)

// DefaultRescan is the full-scan interval when none is configured.
const DefaultRescan = 30 * time.Second

// DefaultSettle is how long a file's size and mtime must hold before it is
// handed to the ingester.
const DefaultSettle = time.Second

// FileIngester handles one discovered file.
type FileIngester interface {
	IngestFile(ctx context.Context, path string) (ingest.Result, error)
}

// stamp identifies one version of a file.
type stamp struct {
	size    int64
	modTime int64
}

func stampOf(fi os.FileInfo) stamp {
	return stamp{size: fi.Size(), modTime: fi.ModTime().UnixNano()}
}

// sighting is the stamp a pending file had and when it was first seen with it.
type sighting struct {
	stamp stamp
	since time.Time
}

// Service watches one directory. All files are handled on the Run goroutine,
// which is the only user of pending and ignored.
type Service struct {
	dir      string
	ingester FileIngester
	rescan   time.Duration
	settle   time.Duration
	log      zerolog.Logger
	now      func() time.Time

	// pending holds files waiting for their stamp to hold for settle.
	pending map[string]sighting
	// ignored holds files the ingester skipped for their name; they are
	// retried only once they change.
	ignored map[string]stamp
}

// New returns a Service. rescan <= 0 uses DefaultRescan and settle <= 0 uses
// DefaultSettle.
func New(dir string, ingester FileIngester, rescan, settle time.Duration, log zerolog.Logger) *Service {
	if rescan <= 0 {
		rescan = DefaultRescan
	}
	if settle <= 0 {
		settle = DefaultSettle
	}
	return &Service{
		dir:      dir,
		ingester: ingester,
		rescan:   rescan,
		settle:   settle,
		log:      log.With().Str("dir", dir).Logger(),
		now:      time.Now,
		pending:  make(map[string]sighting),
		ignored:  make(map[string]stamp),
	}
}

// Run blocks until ctx is cancelled. Files present at startup are picked up
// by an initial scan; files whose events are lost are picked up by the
// periodic rescan. A file is ingested only once its size and mtime have held
// for the settle interval.
func (s *Service) Run(ctx context.Context) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("creating watch dir: %w", err)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer w.Close()

	if err := w.Add(s.dir); err != nil {
		return fmt.Errorf("watching %s: %w", s.dir, err)
	}
	s.log.Info().Dur("rescan", s.rescan).Dur("settle", s.settle).Msg("watching for CSV files")

	s.scan(ctx)

	ticker := time.NewTicker(s.rescan)
	defer ticker.Stop()
	settle := time.NewTicker(s.settle)
	defer settle.Stop()

	events, errs := w.Events, w.Errors
	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("watch stopped")
			return nil

		case ev, ok := <-events:
			if !ok {
				s.log.Warn().Msg("watch event channel closed, falling back to rescans")
				events = nil
				continue
			}
			if !relevant(ev) {
				continue
			}
			s.observe(ctx, ev.Name)

		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			s.log.Warn().Err(err).Msg("watch error")

		case <-settle.C:
			s.recheck(ctx)

		case <-ticker.C:
			s.scan(ctx)
		}
	}
}

func relevant(ev fsnotify.Event) bool {
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
		return false
	}
	return strings.HasSuffix(strings.ToLower(ev.Name), ".csv")
}

// observe takes one look at path. A new or changed file is parked in pending;
// a file unchanged for the settle interval is ingested.
func (s *Service) observe(ctx context.Context, path string) {
	if ctx.Err() != nil {
		return
	}
	fi, err := os.Stat(path)
	if err != nil {
		// renamed away or already moved by a previous event
		s.forget(path)
		s.log.Debug().Str("file", filepath.Base(path)).Msg("file gone before handling")
		return
	}
	st := stampOf(fi)
	if prev, ok := s.ignored[path]; ok {
		if prev == st {
			return
		}
		delete(s.ignored, path)
	}
	now := s.now()
	prev, ok := s.pending[path]
	if !ok || prev.stamp != st {
		s.pending[path] = sighting{stamp: st, since: now}
		return
	}
	if now.Sub(prev.since) < s.settle {
		return
	}
	delete(s.pending, path)
	s.handle(ctx, path, st)
}

func (s *Service) handle(ctx context.Context, path string, st stamp) {
	res, err := s.ingester.IngestFile(ctx, path)
	if err != nil {
		s.log.Warn().Err(err).Str("file", path).Str("state", string(res.State)).Msg("file not ingested")
		return
	}
	if res.State == ingest.Skipped && res.Shorthand == "" {
		// the name will not change by itself; wait for a new version
		s.ignored[path] = st
	}
}

// recheck looks again at every pending file.
func (s *Service) recheck(ctx context.Context) {
	if len(s.pending) == 0 {
		return
	}
	paths := make([]string, 0, len(s.pending))
	for p := range s.pending {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	for _, p := range paths {
		s.observe(ctx, p)
	}
}

func (s *Service) forget(path string) {
	delete(s.pending, path)
	delete(s.ignored, path)
}

func (s *Service) scan(ctx context.Context) {
	files, err := importer.Scan(s.dir)
	if err != nil {
		s.log.Warn().Err(err).Msg("rescan failed")
		return
	}
	present := make(map[string]bool, len(files))
	for _, f := range files {
		if ctx.Err() != nil {
			return
		}
		present[f.Path] = true
		s.observe(ctx, f.Path)
	}
	for p := range s.ignored {
		if !present[p] {
			delete(s.ignored, p)
		}
	}
}
