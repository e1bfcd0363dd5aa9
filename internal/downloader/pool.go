// Package downloader runs the download stage's media fetches on a
// bounded worker pool so network waits overlap. Workers only fetch and
// write blobs; all checkpoint and manifest writes stay with the single
// consumer of the results channel.
package downloader

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"dredge/pkg/fetch"
	"dredge/pkg/logger"
	"dredge/pkg/models"
)

// Job is one media record to download.
type Job struct {
	Record models.MediaRecord
}

// Result reports the outcome of one job.
type Result struct {
	ID          string
	LocalPath   string
	SizeBytes   int64
	ContentType string
	Err         error
	Duration    time.Duration
}

// Fetcher performs the outbound request. Satisfied by fetch.Client.
type Fetcher interface {
	Do(ctx context.Context, req fetch.Request) (*fetch.Result, error)
}

// Saver stores downloaded bytes. Satisfied by storage.Manager.
type Saver interface {
	IsStored(id string) bool
	Path(id string) string
	Save(id, filename string, r io.Reader) (string, int64, error)
}

// WorkerPool fans download jobs out to a fixed number of workers.
type WorkerPool struct {
	numWorkers  int
	jobQueue    chan Job
	resultQueue chan Result
	wg          sync.WaitGroup

	fetcher     Fetcher
	saver       Saver
	resourceKey string
	logger      logger.Logger
}

// NewWorkerPool creates a pool that downloads through the fetcher and
// writes blobs through the saver, charging every call to resourceKey.
func NewWorkerPool(numWorkers int, fetcher Fetcher, saver Saver, resourceKey string, log logger.Logger) *WorkerPool {
	if numWorkers < 1 {
		numWorkers = 1
	}
	if log == nil {
		log = logger.GetLogger()
	}

	return &WorkerPool{
		numWorkers:  numWorkers,
		jobQueue:    make(chan Job, numWorkers*2),
		resultQueue: make(chan Result, numWorkers),
		fetcher:     fetcher,
		saver:       saver,
		resourceKey: resourceKey,
		logger:      log,
	}
}

// Start launches the workers. They exit when the job queue closes or the
// context is cancelled.
func (wp *WorkerPool) Start(ctx context.Context) {
	wp.logger.WithFields(map[string]interface{}{
		"num_workers": wp.numWorkers,
	}).Debug("Starting download workers")

	for i := 0; i < wp.numWorkers; i++ {
		wp.wg.Add(1)
		go wp.worker(ctx, i)
	}
}

// Submit queues a job. It blocks when the queue is full and fails only
// when the context is cancelled first.
func (wp *WorkerPool) Submit(ctx context.Context, job Job) error {
	select {
	case wp.jobQueue <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Results returns the channel the pool reports outcomes on. It closes
// after Close has been called and all workers have drained.
func (wp *WorkerPool) Results() <-chan Result {
	return wp.resultQueue
}

// Close signals that no more jobs will be submitted. Workers finish the
// queued jobs and then the results channel closes.
func (wp *WorkerPool) Close() {
	close(wp.jobQueue)
	go func() {
		wp.wg.Wait()
		close(wp.resultQueue)
	}()
}

func (wp *WorkerPool) worker(ctx context.Context, id int) {
	defer wp.wg.Done()

	for job := range wp.jobQueue {
		select {
		case <-ctx.Done():
			return
		default:
		}

		result := wp.process(ctx, job)

		select {
		case wp.resultQueue <- result:
		case <-ctx.Done():
			return
		}
	}
}

// process downloads one record, or reuses the blob a previous run
// already wrote. Re-downloading overwrites the same path, so redoing a
// job after a crash is always safe.
func (wp *WorkerPool) process(ctx context.Context, job Job) Result {
	start := time.Now()
	rec := job.Record

	if wp.saver.IsStored(rec.ID) {
		path := wp.saver.Path(rec.ID)
		var size int64
		if info, err := os.Stat(path); err == nil {
			size = info.Size()
		}
		wp.logger.WithFields(map[string]interface{}{
			"id":   rec.ID,
			"path": path,
		}).Debug("Media already on disk, skipping fetch")
		return Result{
			ID:          rec.ID,
			LocalPath:   path,
			SizeBytes:   size,
			ContentType: rec.ContentType,
			Duration:    time.Since(start),
		}
	}

	res, err := wp.fetcher.Do(ctx, fetch.Request{
		URL:         rec.SourceURL,
		ResourceKey: wp.resourceKey,
	})
	if err != nil {
		return Result{ID: rec.ID, Err: err, Duration: time.Since(start)}
	}

	path, written, err := wp.saver.Save(rec.ID, rec.Filename, bytes.NewReader(res.Body))
	if err != nil {
		return Result{
			ID:       rec.ID,
			Err:      fmt.Errorf("saving %s: %w", rec.ID, err),
			Duration: time.Since(start),
		}
	}

	wp.logger.WithFields(map[string]interface{}{
		"id":    rec.ID,
		"path":  path,
		"bytes": written,
	}).Debug("Media downloaded")

	return Result{
		ID:          rec.ID,
		LocalPath:   path,
		SizeBytes:   written,
		ContentType: res.ContentType,
		Duration:    time.Since(start),
	}
}
