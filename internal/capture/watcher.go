// Package capture implements the file-system watcher and the persistent job
// queue worker pool that drive ingestion: the watcher polls the watch root,
// dedups by (mtime, size) then content hash, and enqueues ingest_blob jobs;
// the worker pool leases jobs and hands them to the ingest orchestrator.
package capture

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/echogarden-io/echogarden/pkg/ids"
	"github.com/echogarden-io/echogarden/pkg/store"
)

const (
	defaultPollInterval = 2 * time.Second
	defaultMaxFileMB    = 20
)

var ignoreNames = map[string]bool{
	"node_modules": true,
	".git":         true,
	"__pycache__":  true,
	".DS_Store":    true,
	"Thumbs.db":    true,
}

// Watcher polls a watch root on a fixed interval, streams SHA-256 for
// changed files, and enqueues an ingest_blob job per new or modified file.
// A single instance runs at a time; Stop cancels the background goroutine.
type Watcher struct {
	root         string
	pollInterval time.Duration
	maxFileMB    int64
	blobs        store.BlobRepo
	jobs         store.JobRepo
	log          *slog.Logger

	sourceID string

	mu       sync.Mutex
	running  atomic.Bool
	done     chan struct{}
	stopOnce sync.Once

	filesScanned atomic.Int64
	jobsEnqueued atomic.Int64
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithPollInterval overrides the default 2 second poll interval.
func WithPollInterval(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.pollInterval = d
		}
	}
}

// WithMaxFileMB sets the Watcher's oversize threshold (default 20 MB). The
// value is not included in the ingest_blob job payload; ingest applies its
// own 20 MB threshold.
func WithMaxFileMB(mb int64) Option {
	return func(w *Watcher) {
		if mb > 0 {
			w.maxFileMB = mb
		}
	}
}

// New constructs a Watcher over root. Call Start to begin polling.
func New(root string, blobs store.BlobRepo, jobs store.JobRepo, log *slog.Logger, opts ...Option) *Watcher {
	if log == nil {
		log = slog.Default()
	}
	w := &Watcher{
		root:         root,
		pollInterval: defaultPollInterval,
		maxFileMB:    defaultMaxFileMB,
		blobs:        blobs,
		jobs:         jobs,
		log:          log,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Status summarizes the watcher's current state for /capture/status.
type Status struct {
	Root         string
	PollInterval time.Duration
	FilesScanned int64
	JobsEnqueued int64
}

// Status returns a snapshot of the watcher's counters.
func (w *Watcher) Status() Status {
	return Status{
		Root:         w.root,
		PollInterval: w.pollInterval,
		FilesScanned: w.filesScanned.Load(),
		JobsEnqueued: w.jobsEnqueued.Load(),
	}
}

// Start begins polling in a background goroutine until ctx is cancelled or
// Stop is called.
func (w *Watcher) Start(ctx context.Context) {
	w.done = make(chan struct{})
	go w.poll(ctx)
}

// Stop halts the polling goroutine.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		if w.done != nil {
			close(w.done)
		}
	})
}

func (w *Watcher) poll(ctx context.Context) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	w.scan(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case <-ticker.C:
			w.scan(ctx)
		}
	}
}

// scan walks the watch root once. Re-entrant-safe: a slow scan skips a new
// tick rather than overlapping with itself, via the running flag.
func (w *Watcher) scan(ctx context.Context) {
	if !w.running.CompareAndSwap(false, true) {
		w.log.Warn("capture: scan still in progress, skipping tick", "root", w.root)
		return
	}
	defer w.running.Store(false)

	err := filepath.Walk(w.root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil // tolerate races with external deletes/renames
		}
		if path != w.root && strings.HasPrefix(filepath.Base(path), ".") {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if info.IsDir() {
			if ignoreNames[info.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if ignoreNames[info.Name()] {
			return nil
		}

		w.filesScanned.Add(1)
		if procErr := w.processFile(ctx, path, info); procErr != nil {
			w.log.Warn("capture: process file failed", "path", path, "error", procErr)
		}
		return nil
	})
	if err != nil {
		w.log.Warn("capture: walk failed", "root", w.root, "error", err)
	}
}

func (w *Watcher) processFile(ctx context.Context, path string, info os.FileInfo) error {
	mtimeNs := info.ModTime().UnixNano()
	sizeBytes := info.Size()

	existing, found, err := w.blobs.GetFileState(ctx, path)
	if err != nil {
		return fmt.Errorf("get file state: %w", err)
	}
	if found && existing.MtimeNs == mtimeNs && existing.SizeBytes == sizeBytes {
		return nil // unchanged
	}

	sum, err := streamSHA256(path)
	if err != nil {
		return fmt.Errorf("hash file: %w", err)
	}

	if found && existing.SHA256 == sum {
		// mtime moved but content is identical; just refresh the tracker.
		return w.blobs.UpsertFileState(ctx, store.FileState{
			Path: path, MtimeNs: mtimeNs, SizeBytes: sizeBytes, SHA256: sum, LastSeenTs: time.Now(),
		})
	}

	mime := mimeForPath(path)
	blob, _, err := w.blobs.FindBySHA(ctx, sum)
	if err != nil {
		return fmt.Errorf("find blob by sha: %w", err)
	}
	if blob.BlobID == "" {
		blob, err = w.blobs.InsertBlob(ctx, store.Blob{
			SHA256:    sum,
			Path:      path,
			Mime:      mime,
			SizeBytes: sizeBytes,
			SourceID:  w.sourceID,
			CreatedTs: time.Now(),
		})
		if err != nil {
			return fmt.Errorf("insert blob: %w", err)
		}
	}

	if err := w.blobs.UpsertFileState(ctx, store.FileState{
		Path: path, MtimeNs: mtimeNs, SizeBytes: sizeBytes, SHA256: sum, LastSeenTs: time.Now(),
	}); err != nil {
		return fmt.Errorf("upsert file state: %w", err)
	}

	traceID := ids.Prefixed("trace")
	payload, err := json.Marshal(store.IngestBlobPayload{
		BlobID:    blob.BlobID,
		SHA256:    sum,
		Mime:      mime,
		SizeBytes: sizeBytes,
		TraceID:   traceID,
	})
	if err != nil {
		return fmt.Errorf("marshal job payload: %w", err)
	}

	if _, err := w.jobs.Enqueue(ctx, store.JobTypeIngestBlob, payload, traceID); err != nil {
		return fmt.Errorf("enqueue job: %w", err)
	}
	w.jobsEnqueued.Add(1)
	return nil
}

func streamSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

var extMimes = map[string]string{
	".txt": "text/plain", ".md": "text/markdown", ".json": "application/json",
	".csv": "text/csv", ".log": "text/plain", ".pdf": "application/pdf",
	".html": "text/html", ".htm": "text/html",
	".png": "image/png", ".jpg": "image/jpeg", ".jpeg": "image/jpeg", ".gif": "image/gif",
	".wav": "audio/wav", ".mp3": "audio/mpeg", ".m4a": "audio/mp4", ".ogg": "audio/ogg", ".flac": "audio/flac",
}

func mimeForPath(path string) string {
	if mime, ok := extMimes[strings.ToLower(filepath.Ext(path))]; ok {
		return mime
	}
	return "application/octet-stream"
}
