package pcapingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"EnigmaNetz/Enigma-Tshark/internal/capture/common"
	"EnigmaNetz/Enigma-Tshark/internal/capture/pcapfile"
	"EnigmaNetz/Enigma-Tshark/internal/logger"
)

// Analyzer extracts io,stat statistics from a capture file.
type Analyzer interface {
	Statistics(ctx context.Context, path string) (common.Statistics, error)
}

// Store records the statistics of an ingested file.
type Store interface {
	RecordStatistics(path string, stats common.Statistics) error
}

// WatcherConfig holds configuration for the capture directory watcher.
type WatcherConfig struct {
	WatchDir          string
	PollInterval      time.Duration
	FileStableSeconds int
	// CrossCheck re-counts packets in-process and warns when tshark disagrees.
	CrossCheck bool
	Logger     *logger.Logger
}

// Result is the outcome of one ingested file.
type Result struct {
	Name       string
	Path       string // final location, under processed/ or failed/
	Statistics common.Statistics
	Err        error
}

// Watcher polls a directory for incoming capture files, extracts their
// statistics and records them.
type Watcher struct {
	watchDir          string
	pollInterval      time.Duration
	fileStableSeconds int
	crossCheck        bool
	analyzer          Analyzer
	store             Store
	log               *logger.Logger

	summarize func(path string) (*pcapfile.Summary, error)
	onResult  func(Result)
}

// NewWatcher creates a new capture directory watcher. store may be nil.
func NewWatcher(cfg WatcherConfig, analyzer Analyzer, store Store) *Watcher {
	return &Watcher{
		watchDir:          cfg.WatchDir,
		pollInterval:      cfg.PollInterval,
		fileStableSeconds: cfg.FileStableSeconds,
		crossCheck:        cfg.CrossCheck,
		analyzer:          analyzer,
		store:             store,
		log:               logger.OrDefault(cfg.Logger),
		summarize:         pcapfile.Summarize,
	}
}

// OnResult registers fn to be called after each file is handled.
func (w *Watcher) OnResult(fn func(Result)) {
	w.onResult = fn
}

// Run creates the subdirectories, then polls for new capture files until the
// context is canceled.
func (w *Watcher) Run(ctx context.Context) error {
	incomingDir := filepath.Join(w.watchDir, "incoming")
	processingDir := filepath.Join(w.watchDir, "processing")
	processedDir := filepath.Join(w.watchDir, "processed")
	failedDir := filepath.Join(w.watchDir, "failed")

	for _, dir := range []string{incomingDir, processingDir, processedDir, failedDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	w.log.Info("[pcap-ingest] Watching %s for capture files (poll every %s)", incomingDir, w.pollInterval)

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info("[pcap-ingest] Context canceled, stopping watcher")
			return nil
		case <-ticker.C:
			if err := w.pollOnce(ctx, incomingDir, processingDir, processedDir, failedDir); err != nil {
				w.log.Error("[pcap-ingest] Poll error: %v", err)
			}
		}
	}
}

// pollOnce scans the incoming directory and ingests any capture files found,
// oldest first.
func (w *Watcher) pollOnce(ctx context.Context, incomingDir, processingDir, processedDir, failedDir string) error {
	entries, err := os.ReadDir(incomingDir)
	if err != nil {
		return fmt.Errorf("failed to read incoming directory: %w", err)
	}

	type pcapEntry struct {
		name    string
		modTime time.Time
	}
	var pcapFiles []pcapEntry

	for _, entry := range entries {
		if entry.IsDir() || !isPCAPFile(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			w.log.Warn("[pcap-ingest] Failed to stat %s: %v, skipping", entry.Name(), err)
			continue
		}
		pcapFiles = append(pcapFiles, pcapEntry{name: entry.Name(), modTime: info.ModTime()})
	}

	sort.Slice(pcapFiles, func(i, j int) bool {
		return pcapFiles[i].modTime.Before(pcapFiles[j].modTime)
	})

	for _, pf := range pcapFiles {
		if ctx.Err() != nil {
			return nil
		}

		srcPath := filepath.Join(incomingDir, pf.name)
		if !w.isFileStable(ctx, srcPath) {
			w.log.Debug("[pcap-ingest] File %s not yet stable, skipping", pf.name)
			continue
		}

		result := w.processFile(ctx, srcPath, processingDir, processedDir, failedDir)
		if w.onResult != nil {
			w.onResult(result)
		}
	}

	return nil
}

// processFile moves a file from incoming to processing, extracts its
// statistics, moves it to processed and records it there. A failed step moves
// the file to failed instead.
func (w *Watcher) processFile(ctx context.Context, srcPath, processingDir, processedDir, failedDir string) Result {
	fileName := filepath.Base(srcPath)
	procPath := filepath.Join(processingDir, fileName)
	result := Result{Name: fileName, Path: srcPath}

	if err := os.Rename(srcPath, procPath); err != nil {
		result.Err = fmt.Errorf("failed to move %s to processing: %w", fileName, err)
		w.log.Error("[pcap-ingest] %v", result.Err)
		return result
	}
	result.Path = procPath

	w.log.Info("[pcap-ingest] Processing %s", fileName)

	stats, err := w.analyzer.Statistics(ctx, procPath)
	if err != nil {
		return w.fail(result, err, failedDir)
	}
	result.Statistics = stats
	w.verify(procPath, stats)

	dstPath := filepath.Join(processedDir, fileName)
	if err := os.Rename(procPath, dstPath); err != nil {
		result.Err = fmt.Errorf("failed to move %s to processed: %w", fileName, err)
		w.log.Error("[pcap-ingest] %v", result.Err)
		return result
	}
	result.Path = dstPath

	// recorded only once the file is where the record points
	if w.store != nil {
		if err := w.store.RecordStatistics(dstPath, stats); err != nil {
			return w.fail(result, err, failedDir)
		}
	}

	w.log.Info("[pcap-ingest] Successfully processed %s (%d frames, %d bytes)", fileName, stats.Frames, stats.Bytes)
	return result
}

// fail moves the file at result.Path to failed and sets result.Err.
func (w *Watcher) fail(result Result, err error, failedDir string) Result {
	w.log.Error("[pcap-ingest] Processing failed for %s: %v", result.Name, err)
	result.Err = err

	dstPath := filepath.Join(failedDir, result.Name)
	if moveErr := os.Rename(result.Path, dstPath); moveErr != nil {
		w.log.Error("[pcap-ingest] Failed to move %s to failed: %v", result.Name, moveErr)
		return result
	}
	result.Path = dstPath
	return result
}

// verify compares tshark's frame count with an in-process count. A mismatch
// is only logged.
func (w *Watcher) verify(path string, stats common.Statistics) {
	if !w.crossCheck {
		return
	}
	summary, err := w.summarize(path)
	if err != nil {
		w.log.Warn("[pcap-ingest] Cross-check of %s skipped: %v", filepath.Base(path), err)
		return
	}
	if summary.TotalPackets != uint64(stats.Frames) {
		w.log.Warn("[pcap-ingest] Frame count mismatch for %s: tshark %d, file %d",
			filepath.Base(path), stats.Frames, summary.TotalPackets)
	}
}

// isFileStable checks if a file's size has not changed over the configured
// stability period.
func (w *Watcher) isFileStable(ctx context.Context, path string) bool {
	info1, err := os.Stat(path)
	if err != nil {
		return false
	}
	if w.fileStableSeconds > 0 {
		select {
		case <-ctx.Done():
			return false
		case <-time.After(time.Duration(w.fileStableSeconds) * time.Second):
		}
	}
	info2, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info1.Size() == info2.Size()
}

// isPCAPFile returns true if the filename has a .pcap or .pcapng extension.
func isPCAPFile(name string) bool {
	lower := strings.ToLower(name)
	return strings.HasSuffix(lower, ".pcap") || strings.HasSuffix(lower, ".pcapng")
}
