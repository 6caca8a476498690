package pcapingest

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"EnigmaNetz/Enigma-Tshark/internal/capture/common"
	"EnigmaNetz/Enigma-Tshark/internal/catalog"
	"EnigmaNetz/Enigma-Tshark/internal/logger"
	"EnigmaNetz/Enigma-Tshark/internal/testutil"
)

type mockAnalyzer struct {
	calls  int
	fail   bool
	stats  common.Statistics
	paths  []string
	onCall func(path string)
}

func (m *mockAnalyzer) Statistics(ctx context.Context, path string) (common.Statistics, error) {
	m.calls++
	m.paths = append(m.paths, path)
	if m.onCall != nil {
		m.onCall(path)
	}
	if m.fail {
		return common.Statistics{}, &common.Error{Kind: common.KindStatisticsParse, Op: "statistics", Output: "garbage"}
	}
	return m.stats, nil
}

type mockStore struct {
	calls    int
	fail     bool
	recorded map[string]common.Statistics
	missing  []string // recorded paths that did not exist when recorded
}

func (m *mockStore) RecordStatistics(path string, stats common.Statistics) error {
	m.calls++
	if m.fail {
		return errors.New("database is locked")
	}
	if m.recorded == nil {
		m.recorded = make(map[string]common.Statistics)
	}
	m.recorded[path] = stats
	if _, err := os.Stat(path); err != nil {
		m.missing = append(m.missing, path)
	}
	return nil
}

func newTestWatcher(t *testing.T, analyzer Analyzer, store Store) (*Watcher, string) {
	t.Helper()
	dir := t.TempDir()
	w := NewWatcher(WatcherConfig{
		WatchDir:          dir,
		PollInterval:      50 * time.Millisecond,
		FileStableSeconds: 0, // no wait in tests
		Logger:            logger.Nop(),
	}, analyzer, store)
	return w, dir
}

func createTestPCAP(t *testing.T, dir, name string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0755))
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("fake pcap data"), 0644))
	return path
}

// runFor runs the watcher for d and returns its error.
func runFor(t *testing.T, w *Watcher, d time.Duration) error {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- w.Run(ctx)
	}()
	time.Sleep(d)
	cancel()
	select {
	case err := <-done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("Watcher did not stop after context cancellation")
		return nil
	}
}

func TestWatcher_CreatesSubdirectories(t *testing.T) {
	w, dir := newTestWatcher(t, &mockAnalyzer{}, &mockStore{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // cancel immediately so Run exits after creating dirs
	require.NoError(t, w.Run(ctx))

	for _, sub := range []string{"incoming", "processing", "processed", "failed"} {
		info, err := os.Stat(filepath.Join(dir, sub))
		require.NoError(t, err, sub)
		assert.True(t, info.IsDir(), sub)
	}
}

func TestWatcher_MoveToProcessed(t *testing.T) {
	analyzer := &mockAnalyzer{stats: common.Statistics{Duration: 1, Interval: 1, Frames: 3, Bytes: 180}}
	store := &mockStore{}
	w, dir := newTestWatcher(t, analyzer, store)

	incomingDir := filepath.Join(dir, "incoming")
	processedDir := filepath.Join(dir, "processed")
	createTestPCAP(t, incomingDir, "test.pcap")

	require.NoError(t, runFor(t, w, 200*time.Millisecond))

	assert.Equal(t, 1, analyzer.calls)
	assert.Equal(t, filepath.Join(dir, "processing", "test.pcap"), analyzer.paths[0])
	assert.FileExists(t, filepath.Join(processedDir, "test.pcap"))
	assert.NoFileExists(t, filepath.Join(incomingDir, "test.pcap"))

	require.Equal(t, 1, store.calls)
	assert.Equal(t, analyzer.stats, store.recorded[filepath.Join(processedDir, "test.pcap")])
	assert.Empty(t, store.missing)
}

func TestWatcher_ProcessedMoveFailureIsNotRecorded(t *testing.T) {
	store := &mockStore{}
	analyzer := &mockAnalyzer{stats: common.Statistics{Frames: 3, Bytes: 180}}
	w, dir := newTestWatcher(t, analyzer, store)

	// a non-empty directory in the way makes the move into processed fail
	blocker := filepath.Join(dir, "processed", "test.pcap")
	analyzer.onCall = func(string) {
		assert.NoError(t, os.MkdirAll(blocker, 0755))
		assert.NoError(t, os.WriteFile(filepath.Join(blocker, "keep"), []byte("x"), 0644))
	}

	var results []Result
	w.OnResult(func(r Result) { results = append(results, r) })
	createTestPCAP(t, filepath.Join(dir, "incoming"), "test.pcap")

	require.NoError(t, runFor(t, w, 200*time.Millisecond))

	assert.Equal(t, 0, store.calls)
	require.Len(t, results, 1)
	assert.Error(t, results[0].Err)
	assert.Equal(t, filepath.Join(dir, "processing", "test.pcap"), results[0].Path)
	assert.FileExists(t, results[0].Path)
}

func TestWatcher_MoveToFailed(t *testing.T) {
	analyzer := &mockAnalyzer{fail: true}
	store := &mockStore{}
	w, dir := newTestWatcher(t, analyzer, store)

	var results []Result
	w.OnResult(func(r Result) { results = append(results, r) })
	createTestPCAP(t, filepath.Join(dir, "incoming"), "bad.pcap")

	require.NoError(t, runFor(t, w, 200*time.Millisecond))

	assert.FileExists(t, filepath.Join(dir, "failed", "bad.pcap"))
	assert.Equal(t, 0, store.calls)
	require.Len(t, results, 1)
	assert.True(t, errors.Is(results[0].Err, common.ErrStatisticsParse))
	assert.Equal(t, filepath.Join(dir, "failed", "bad.pcap"), results[0].Path)
}

func TestWatcher_StoreFailureMovesToFailed(t *testing.T) {
	w, dir := newTestWatcher(t, &mockAnalyzer{}, &mockStore{fail: true})
	createTestPCAP(t, filepath.Join(dir, "incoming"), "test.pcap")

	require.NoError(t, runFor(t, w, 200*time.Millisecond))
	assert.FileExists(t, filepath.Join(dir, "failed", "test.pcap"))
	assert.NoFileExists(t, filepath.Join(dir, "processed", "test.pcap"))
}

func TestWatcher_NilStore(t *testing.T) {
	analyzer := &mockAnalyzer{}
	w, dir := newTestWatcher(t, analyzer, nil)
	createTestPCAP(t, filepath.Join(dir, "incoming"), "test.pcap")

	require.NoError(t, runFor(t, w, 200*time.Millisecond))
	assert.Equal(t, 1, analyzer.calls)
	assert.FileExists(t, filepath.Join(dir, "processed", "test.pcap"))
}

func TestWatcher_IgnoresNonPCAP(t *testing.T) {
	analyzer := &mockAnalyzer{}
	w, dir := newTestWatcher(t, analyzer, &mockStore{})

	incomingDir := filepath.Join(dir, "incoming")
	createTestPCAP(t, incomingDir, "readme.txt")
	createTestPCAP(t, incomingDir, "data.csv")
	require.NoError(t, os.MkdirAll(filepath.Join(incomingDir, "subdir.pcap"), 0755))

	require.NoError(t, runFor(t, w, 200*time.Millisecond))
	assert.Equal(t, 0, analyzer.calls)
	assert.FileExists(t, filepath.Join(incomingDir, "readme.txt"))
}

func TestWatcher_OldestFirst(t *testing.T) {
	analyzer := &mockAnalyzer{}
	w, dir := newTestWatcher(t, analyzer, &mockStore{})

	incomingDir := filepath.Join(dir, "incoming")
	newer := createTestPCAP(t, incomingDir, "a-newer.pcap")
	older := createTestPCAP(t, incomingDir, "b-older.pcapng")
	now := time.Now()
	require.NoError(t, os.Chtimes(newer, now, now))
	require.NoError(t, os.Chtimes(older, now.Add(-time.Hour), now.Add(-time.Hour)))

	require.NoError(t, runFor(t, w, 200*time.Millisecond))
	require.Len(t, analyzer.paths, 2)
	assert.Equal(t, "b-older.pcapng", filepath.Base(analyzer.paths[0]))
	assert.Equal(t, "a-newer.pcap", filepath.Base(analyzer.paths[1]))
}

func TestWatcher_EmptyDirectory(t *testing.T) {
	analyzer := &mockAnalyzer{}
	w, _ := newTestWatcher(t, analyzer, &mockStore{})

	require.NoError(t, runFor(t, w, 150*time.Millisecond))
	assert.Equal(t, 0, analyzer.calls)
}

func TestIsPCAPFile(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		expect bool
	}{
		{"pcap lowercase", "test.pcap", true},
		{"pcap uppercase", "TEST.PCAP", true},
		{"pcapng lowercase", "test.pcapng", true},
		{"pcapng uppercase", "TEST.PCAPNG", true},
		{"txt file", "test.txt", false},
		{"csv file", "data.csv", false},
		{"no extension", "pcap", false},
		{"empty string", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expect, isPCAPFile(tt.input))
		})
	}
}

func TestWatcher_CrossCheckMismatch(t *testing.T) {
	var console bytes.Buffer
	log, err := logger.NewLogger(logger.Config{LogLevel: logger.Warn, Console: &console})
	require.NoError(t, err)

	dir := t.TempDir()
	analyzer := &mockAnalyzer{stats: common.Statistics{Frames: 7}}
	w := NewWatcher(WatcherConfig{
		WatchDir:     dir,
		PollInterval: 50 * time.Millisecond,
		CrossCheck:   true,
		Logger:       log,
	}, analyzer, &mockStore{})

	incomingDir := filepath.Join(dir, "incoming")
	require.NoError(t, os.MkdirAll(incomingDir, 0755))
	testutil.WritePCAP(t, filepath.Join(incomingDir, "capture.pcap"), 4)

	require.NoError(t, runFor(t, w, 200*time.Millisecond))
	assert.Contains(t, console.String(), "Frame count mismatch for capture.pcap: tshark 7, file 4")
	// a mismatch is not a failure
	assert.FileExists(t, filepath.Join(dir, "processed", "capture.pcap"))
}

func TestWatcher_EndToEnd(t *testing.T) {
	store, err := catalog.Open(":memory:")
	require.NoError(t, err)
	defer store.Close()

	analyzer := &mockAnalyzer{stats: common.Statistics{Duration: 0.002, Interval: 0.002, Frames: 3, Bytes: 3 * testutil.PacketSize}}
	dir := t.TempDir()
	w := NewWatcher(WatcherConfig{
		WatchDir:     dir,
		PollInterval: 50 * time.Millisecond,
		CrossCheck:   true,
		Logger:       logger.Nop(),
	}, analyzer, store)

	incomingDir := filepath.Join(dir, "incoming")
	processedDir := filepath.Join(dir, "processed")
	require.NoError(t, os.MkdirAll(incomingDir, 0755))
	testutil.WritePCAPNG(t, filepath.Join(incomingDir, "test.pcapng"), 3)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- w.Run(ctx)
	}()

	// Wait for processing to complete with timeout
	require.Eventually(t, func() bool {
		_, err := os.Stat(filepath.Join(processedDir, "test.pcapng"))
		return err == nil
	}, 2*time.Second, 50*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Watcher did not stop after context cancellation")
	}

	rec, ok, err := store.GetStatistics(filepath.Join(processedDir, "test.pcapng"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(3), rec.Statistics.Frames)
}
