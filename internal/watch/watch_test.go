package watch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artificers/ingest/internal/ingest"
)

// movingIngester records files and moves them to processed/ like the real
// orchestrator so rescans do not see them again.
type movingIngester struct {
	mu    sync.Mutex
	seen  []string
	fail  string
	calls chan string
}

func newMovingIngester() *movingIngester {
	return &movingIngester{calls: make(chan string, 16)}
}

func (m *movingIngester) IngestFile(_ context.Context, path string) (ingest.Result, error) {
	m.mu.Lock()
	m.seen = append(m.seen, filepath.Base(path))
	m.mu.Unlock()
	defer func() { m.calls <- filepath.Base(path) }()

	if filepath.Base(path) == m.fail {
		_ = os.Remove(path)
		return ingest.Result{Path: path, State: ingest.Error}, errors.New("bad file")
	}
	dst := filepath.Join(filepath.Dir(path), "processed")
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return ingest.Result{}, err
	}
	if err := os.Rename(path, filepath.Join(dst, filepath.Base(path))); err != nil {
		return ingest.Result{}, err
	}
	return ingest.Result{Path: path, State: ingest.Processed}, nil
}

func (m *movingIngester) names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.seen...)
}

func waitFor(t *testing.T, ch <-chan string, want string) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case got := <-ch:
			if got == want {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", want)
		}
	}
}

func startService(t *testing.T, dir string, ing FileIngester, rescan time.Duration) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	svc := New(dir, ing, rescan, 20*time.Millisecond, zerolog.Nop())
	go func() { done <- svc.Run(ctx) }()
	return cancel, done
}

func stop(t *testing.T, cancel context.CancelFunc, done <-chan error) {
	t.Helper()
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not stop")
	}
}

func TestRun_PicksUpExistingFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "co1828.csv"), []byte("x"), 0o644))

	ing := newMovingIngester()
	cancel, done := startService(t, dir, ing, time.Hour)
	waitFor(t, ing.calls, "co1828.csv")
	stop(t, cancel, done)

	assert.Equal(t, []string{"co1828.csv"}, ing.names())
}

func TestRun_IngestsNewFiles(t *testing.T) {
	dir := t.TempDir()
	ing := newMovingIngester()
	cancel, done := startService(t, dir, ing, time.Hour)

	// give the watcher a moment to register
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ch1234.csv"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))
	waitFor(t, ing.calls, "ch1234.csv")
	stop(t, cancel, done)

	assert.NotContains(t, ing.names(), "notes.txt")
	_, err := os.Stat(filepath.Join(dir, "processed", "ch1234.csv"))
	assert.NoError(t, err)
}

func TestRun_FailureDoesNotStopLoop(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "aa0001.csv"), []byte("x"), 0o644))

	ing := newMovingIngester()
	ing.fail = "aa0001.csv"
	cancel, done := startService(t, dir, ing, 50*time.Millisecond)
	waitFor(t, ing.calls, "aa0001.csv")

	require.NoError(t, os.WriteFile(filepath.Join(dir, "bb0002.csv"), []byte("x"), 0o644))
	waitFor(t, ing.calls, "bb0002.csv")
	stop(t, cancel, done)
}

func TestRun_CreatesDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "incoming")
	cancel, done := startService(t, dir, newMovingIngester(), time.Hour)
	require.Eventually(t, func() bool {
		_, err := os.Stat(dir)
		return err == nil
	}, 5*time.Second, 10*time.Millisecond)
	stop(t, cancel, done)
}

func TestRelevant(t *testing.T) {
	assert.True(t, relevant(fsnotify.Event{Name: "/in/co1828.csv", Op: fsnotify.Create}))
	assert.True(t, relevant(fsnotify.Event{Name: "/in/CO1828.CSV", Op: fsnotify.Rename}))
	assert.False(t, relevant(fsnotify.Event{Name: "/in/co1828.csv", Op: fsnotify.Remove}))
	assert.False(t, relevant(fsnotify.Event{Name: "/in/co1828.txt", Op: fsnotify.Create}))
}

func TestNew_Defaults(t *testing.T) {
	s := New("x", newMovingIngester(), 0, 0, zerolog.Nop())
	assert.Equal(t, DefaultRescan, s.rescan)
	assert.Equal(t, DefaultSettle, s.settle)
}

// skippingIngester leaves every file in place and reports it skipped.
type skippingIngester struct {
	mu        sync.Mutex
	calls     int
	shorthand string
}

func (s *skippingIngester) IngestFile(_ context.Context, path string) (ingest.Result, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	return ingest.Result{Path: path, Shorthand: s.shorthand, State: ingest.Skipped}, nil
}

func (s *skippingIngester) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newClockedService(dir string, ing FileIngester) (*Service, *fakeClock) {
	s := New(dir, ing, time.Hour, time.Second, zerolog.Nop())
	c := &fakeClock{t: time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)}
	s.now = c.now
	return s, c
}

func appendTo(t *testing.T, path, data string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(data)
	require.NoError(t, err)
	require.NoError(t, f.Close())
}

func TestObserve_WaitsForStableFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "co1828.csv")
	require.NoError(t, os.WriteFile(path, []byte("Transaction Date,"), 0o644))

	ing := newMovingIngester()
	s, clock := newClockedService(dir, ing)
	ctx := context.Background()

	s.observe(ctx, path)
	assert.Empty(t, ing.names(), "first sighting only parks the file")

	clock.advance(500 * time.Millisecond)
	appendTo(t, path, "Posted Date,Card No.\n")
	s.observe(ctx, path)
	assert.Empty(t, ing.names(), "a growing file restarts the wait")

	clock.advance(900 * time.Millisecond)
	s.observe(ctx, path)
	assert.Empty(t, ing.names(), "unchanged for less than the settle interval")

	clock.advance(200 * time.Millisecond)
	s.observe(ctx, path)
	assert.Equal(t, []string{"co1828.csv"}, ing.names())
	assert.Empty(t, s.pending)
}

func TestObserve_VanishedFileIsForgotten(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "co1828.csv")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	ing := newMovingIngester()
	s, clock := newClockedService(dir, ing)
	s.observe(context.Background(), path)
	require.Contains(t, s.pending, path)

	require.NoError(t, os.Remove(path))
	clock.advance(2 * time.Second)
	s.recheck(context.Background())
	assert.Empty(t, s.pending)
	assert.Empty(t, ing.names())
}

func TestObserve_RemembersUnrecognizedFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notes.csv")
	require.NoError(t, os.WriteFile(path, []byte("a,b\n"), 0o644))

	ing := &skippingIngester{}
	s, clock := newClockedService(dir, ing)
	ctx := context.Background()

	settled := func() {
		s.observe(ctx, path)
		clock.advance(2 * time.Second)
		s.observe(ctx, path)
	}

	settled()
	require.Equal(t, 1, ing.count())

	for i := 0; i < 5; i++ {
		settled()
		s.scan(ctx)
		clock.advance(time.Minute)
	}
	assert.Equal(t, 1, ing.count(), "an unchanged file is not offered again")

	appendTo(t, path, "1,2\n")
	settled()
	assert.Equal(t, 2, ing.count(), "a new version is offered again")

	require.NoError(t, os.Remove(path))
	s.scan(ctx)
	assert.Empty(t, s.ignored)
}

func TestObserve_InFlightSkipIsRetried(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "co1828.csv")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	ing := &skippingIngester{shorthand: "co1828"}
	s, clock := newClockedService(dir, ing)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		s.observe(ctx, path)
		clock.advance(2 * time.Second)
		s.observe(ctx, path)
	}
	assert.Equal(t, 2, ing.count())
	assert.Empty(t, s.ignored)
}

func TestRun_StrayFileOfferedOnce(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.csv"), []byte("a,b\n"), 0o644))

	ing := &skippingIngester{}
	cancel, done := startService(t, dir, ing, 10*time.Millisecond)
	require.Eventually(t, func() bool { return ing.count() > 0 }, 5*time.Second, 5*time.Millisecond)

	// many rescans and settle ticks later
	time.Sleep(250 * time.Millisecond)
	stop(t, cancel, done)

	assert.Equal(t, 1, ing.count())
}
