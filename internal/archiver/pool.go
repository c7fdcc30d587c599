package archiver

import (
	"context"
	"fmt"
	"sync"
	"time"

	"mediagrab/pkg/archive"
	"mediagrab/pkg/logger"
	"mediagrab/pkg/models"
)

// Builder packages a run's items
type Builder interface {
	Build(ctx context.Context, req archive.Request) (*archive.Archive, error)
}

// Deliverer hands finished archives over and reports terminal outcomes
type Deliverer interface {
	Deliver(ctx context.Context, target models.Target, a *archive.Archive) (string, error)
	Fail(target models.Target, runID string, err error)
}

// JobResult represents the outcome of one archive job
type JobResult struct {
	Request  archive.Request
	Handle   string
	Added    int
	Failed   int
	Error    error
	Duration time.Duration
}

// WorkerPool runs archive jobs on a fixed set of workers. Jobs are never
// cancelled once picked up; Stop waits for them.
type WorkerPool struct {
	numWorkers  int
	jobQueue    chan archive.Request
	resultQueue chan JobResult
	wg          sync.WaitGroup
	ctx         context.Context
	cancel      context.CancelFunc
	builder     Builder
	deliverer   Deliverer
	logger      logger.Logger

	mu      sync.RWMutex
	stopped bool
}

// NewWorkerPool creates a new archive worker pool
func NewWorkerPool(numWorkers int, builder Builder, deliverer Deliverer, log logger.Logger) *WorkerPool {
	ctx, cancel := context.WithCancel(context.Background())

	if numWorkers < 1 {
		numWorkers = 1
	}
	if log == nil {
		log = logger.GetLogger()
	}

	return &WorkerPool{
		numWorkers:  numWorkers,
		jobQueue:    make(chan archive.Request, numWorkers*2),
		resultQueue: make(chan JobResult, numWorkers*4),
		ctx:         ctx,
		cancel:      cancel,
		builder:     builder,
		deliverer:   deliverer,
		logger:      logger.Component(log, "archiver"),
	}
}

// Start initializes and starts all workers
func (wp *WorkerPool) Start() {
	wp.logger.InfoWithFields("Starting archive workers", map[string]interface{}{
		"num_workers": wp.numWorkers,
	})

	for i := 0; i < wp.numWorkers; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}
}

// Stop refuses new jobs, waits for queued and in-flight ones, then closes Results.
func (wp *WorkerPool) Stop() {
	wp.mu.Lock()
	if wp.stopped {
		wp.mu.Unlock()
		return
	}
	wp.stopped = true
	close(wp.jobQueue)
	wp.mu.Unlock()

	wp.logger.Info("Stopping archive workers...")
	wp.wg.Wait()
	close(wp.resultQueue)
	wp.cancel()
	wp.logger.Info("Archive workers stopped")
}

// Submit queues an archive job, blocking while the queue is full.
func (wp *WorkerPool) Submit(ctx context.Context, req archive.Request) error {
	wp.mu.RLock()
	defer wp.mu.RUnlock()
	if wp.stopped {
		return fmt.Errorf("archive pool is shutting down")
	}

	select {
	case wp.jobQueue <- req:
		wp.logger.DebugWithFields("Archive job queued", map[string]interface{}{
			"run_id": req.RunID,
			"target": req.Target,
			"items":  len(req.Items),
			"queued": wp.QueueSize(),
		})
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Results returns completed jobs. Results nobody reads are dropped.
func (wp *WorkerPool) Results() <-chan JobResult {
	return wp.resultQueue
}

// QueueSize returns the number of jobs waiting for a worker
func (wp *WorkerPool) QueueSize() int {
	return len(wp.jobQueue)
}

func (wp *WorkerPool) worker(id int) {
	defer wp.wg.Done()

	for req := range wp.jobQueue {
		result := wp.processJob(req, id)

		select {
		case wp.resultQueue <- result:
		default:
			wp.logger.DebugWithFields("Dropped archive result", map[string]interface{}{
				"worker_id": id,
				"run_id":    req.RunID,
			})
		}
	}
}

func (wp *WorkerPool) processJob(req archive.Request, workerID int) JobResult {
	start := time.Now()
	result := JobResult{Request: req}

	wp.logger.DebugWithFields("Worker processing archive", map[string]interface{}{
		"worker_id": workerID,
		"run_id":    req.RunID,
	})

	a, err := wp.builder.Build(wp.ctx, req)
	if err != nil {
		result.Error = fmt.Errorf("build failed: %w", err)
		result.Duration = time.Since(start)
		wp.deliverer.Fail(req.Target, req.RunID, err)
		wp.logger.ErrorWithFields("Archive build failed", map[string]interface{}{
			"worker_id": workerID,
			"run_id":    req.RunID,
			"error":     err.Error(),
		})
		return result
	}
	result.Added = a.Added
	result.Failed = a.Failed

	handle, err := wp.deliverer.Deliver(wp.ctx, req.Target, a)
	result.Duration = time.Since(start)
	if err != nil {
		result.Error = fmt.Errorf("delivery failed: %w", err)
		return result
	}
	result.Handle = handle

	wp.logger.DebugWithFields("Worker completed archive", map[string]interface{}{
		"worker_id": workerID,
		"run_id":    req.RunID,
		"duration":  result.Duration,
	})
	return result
}
