package processor

import (
	"fmt"
	"os"
	"sync"

	"github.com/wj-modforge/modforge/internal/logging"
	"github.com/wj-modforge/modforge/internal/pathutil"
)

// moveJob is one unit of work handed from an extraction producer to a mover
// consumer: a single extracted file that must land at its final
// destination, verified and parent-dir-created along the way.
type moveJob struct {
	directiveID  int64
	destination  string
	expectedSize int64
	sourcePath   string
	dir          *refCountedDir
	shared       bool
}

// movePipeline is the install phase's shared producer-consumer channel: any
// number of producer goroutines (one per archive currently being
// extracted) submit jobs, and a fixed pool of mover goroutines drains them.
// The channel's bounded capacity is the phase's sole backpressure point.
type movePipeline struct {
	jobs     chan moveJob
	wg       sync.WaitGroup
	logger   *logging.Logger
	onResult func(directiveID int64, err error)
}

// newMovePipeline starts moverCount mover goroutines (half the worker pool,
// per the install phase's producer/consumer split) reading from a channel
// with capacity moverCount*64.
func newMovePipeline(workers int, logger *logging.Logger, onResult func(int64, error)) *movePipeline {
	moverCount := workers / 2
	if moverCount < 1 {
		moverCount = 1
	}
	mp := &movePipeline{
		jobs:     make(chan moveJob, moverCount*64),
		logger:   logger,
		onResult: onResult,
	}
	mp.wg.Add(moverCount)
	for i := 0; i < moverCount; i++ {
		go mp.moverLoop()
	}
	return mp
}

func (mp *movePipeline) moverLoop() {
	defer mp.wg.Done()
	for job := range mp.jobs {
		err := mp.moveOne(job)
		mp.onResult(job.directiveID, err)
		if releaseErr := job.dir.Release(); releaseErr != nil && mp.logger != nil {
			mp.logger.Warn(releaseErr)
		}
	}
}

// moveOne verifies size via file metadata (never loading the file into
// memory), ensures the destination's parent directories exist, and renames
// single-use sources into place or reflinks/copies shared ones. A rename
// failure (the usual cause being a cross-filesystem move) falls back to
// reflink-or-copy followed by deleting the source.
func (mp *movePipeline) moveOne(job moveJob) error {
	info, err := os.Stat(job.sourcePath)
	if err != nil {
		return fmt.Errorf("unable to stat extracted source %q: %w", job.sourcePath, err)
	}
	if info.Size() != job.expectedSize {
		return fmt.Errorf("extracted source %q has size %d, expected %d", job.sourcePath, info.Size(), job.expectedSize)
	}

	if err := pathutil.EnsureParentDirs(job.destination); err != nil {
		return err
	}

	if job.shared {
		return reflinkOrCopy(job.sourcePath, job.destination)
	}

	if err := os.Rename(job.sourcePath, job.destination); err != nil {
		if copyErr := reflinkOrCopy(job.sourcePath, job.destination); copyErr != nil {
			return fmt.Errorf("rename failed (%v) and fallback copy also failed: %w", err, copyErr)
		}
		os.Remove(job.sourcePath)
	}
	return nil
}

// Submit enqueues a move job, blocking if the channel is full (the
// backpressure point described in the concurrency model).
func (mp *movePipeline) Submit(job moveJob) {
	mp.jobs <- job
}

// Close drains and stops the pipeline, waiting for every in-flight job to
// finish.
func (mp *movePipeline) Close() {
	close(mp.jobs)
	mp.wg.Wait()
}
