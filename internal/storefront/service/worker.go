package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/25x8/digital-storefront/internal/storefront/metrics"
	"github.com/25x8/digital-storefront/internal/storefront/models"
	"github.com/25x8/digital-storefront/internal/storefront/repository"
)

type resultKind int

const (
	resultDone resultKind = iota
	resultRetry
	resultFail
)

// Result tells the worker what to do with a job after its handler ran.
type Result struct {
	kind  resultKind
	delay time.Duration
	err   error
}

// Done finishes the job.
func Done() Result { return Result{kind: resultDone} }

// Retry requeues the job to run again after delay, with the attempt counter incremented.
// cause, if any, is recorded as the job's last error.
func Retry(delay time.Duration, cause error) Result {
	return Result{kind: resultRetry, delay: delay, err: cause}
}

// Fail ends the job: the handler's Fatal path runs inline and the job is marked dead.
func Fail(err error) Result { return Result{kind: resultFail, err: err} }

// Handler processes one kind of job.
type Handler interface {
	Handle(ctx context.Context, job models.Job) Result
	// Fatal runs once a job has failed for good. If it returns an error the job
	// is requeued and handled again later.
	Fatal(ctx context.Context, job models.Job, cause error) error
}

// Scheduler puts jobs on the queue inside the caller's transaction, so a job
// exists only if the work that needs it has committed.
type Scheduler struct {
	now func() time.Time
}

func NewScheduler() *Scheduler {
	return &Scheduler{now: time.Now}
}

func (s *Scheduler) Schedule(ctx context.Context, tx repository.Tx, kind string, orderID int64, delay time.Duration) (*models.Job, error) {
	job := &models.Job{
		Kind:    kind,
		OrderID: orderID,
		Status:  models.JobQueued,
		RunAt:   s.now().Add(delay),
	}
	if err := tx.EnqueueJob(ctx, job); err != nil {
		return nil, fmt.Errorf("enqueue %s for order %d: %w", kind, orderID, err)
	}
	return job, nil
}

// WorkerConfig controls the job loop
type WorkerConfig struct {
	Interval time.Duration
	Batch    int
	Lease    time.Duration
}

// Worker claims due jobs and runs their handlers in the background
type Worker struct {
	repo     repository.Repository
	handlers map[string]Handler
	cfg      WorkerConfig
	metrics  *metrics.Metrics
	now      func() time.Time
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewWorker creates a new worker
func NewWorker(repo repository.Repository, cfg WorkerConfig, m *metrics.Metrics) *Worker {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.Batch <= 0 {
		cfg.Batch = 10
	}
	if cfg.Lease <= 0 {
		cfg.Lease = 2 * time.Minute
	}
	return &Worker{
		repo:     repo,
		handlers: make(map[string]Handler),
		cfg:      cfg,
		metrics:  m,
		now:      time.Now,
		stopCh:   make(chan struct{}),
	}
}

// Register binds a handler to a job kind. Call before Start.
func (w *Worker) Register(kind string, h Handler) {
	w.handlers[kind] = h
}

// Start starts the worker
func (w *Worker) Start() {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.processLoop()
	}()
}

// Stop stops the worker and waits for the current batch to finish
func (w *Worker) Stop() {
	close(w.stopCh)
	w.wg.Wait()
}

func (w *Worker) processLoop() {
	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-w.stopCh
		cancel()
	}()

	for {
		select {
		case <-ticker.C:
			for {
				n, err := w.RunOnce(ctx)
				if err != nil {
					slog.Error("claim jobs", "error", err)
				}
				if n < w.cfg.Batch || ctx.Err() != nil {
					break
				}
			}
		case <-w.stopCh:
			return
		}
	}
}

// RunOnce claims one batch of due jobs and processes them. It returns the
// number of jobs claimed.
func (w *Worker) RunOnce(ctx context.Context) (int, error) {
	jobs, err := w.repo.ClaimJobs(ctx, w.now(), w.cfg.Lease, w.cfg.Batch)
	if err != nil {
		return 0, err
	}
	for _, job := range jobs {
		w.process(ctx, job)
	}
	return len(jobs), nil
}

func (w *Worker) process(ctx context.Context, job models.Job) {
	log := slog.With("job_id", job.ID, "kind", job.Kind, "order_id", job.OrderID, "attempt", job.Attempt)

	h, ok := w.handlers[job.Kind]
	if !ok {
		log.Error("no handler for job kind")
		w.settle(log, job, "dead", w.repo.KillJob(ctx, job, "no handler for kind "+job.Kind))
		return
	}

	res := runHandler(ctx, h, job)
	switch res.kind {
	case resultDone:
		w.settle(log, job, "done", w.repo.CompleteJob(ctx, job))
	case resultRetry:
		lastErr := ""
		if res.err != nil {
			lastErr = res.err.Error()
		}
		log.Info("job requeued", "delay", res.delay, "reason", lastErr)
		w.settle(log, job, "retry", w.repo.RequeueJob(ctx, job, job.Attempt+1, w.now().Add(res.delay), lastErr))
	case resultFail:
		log.Error("job failed", "error", res.err)
		if err := runFatal(ctx, h, job, res.err); err != nil {
			log.Error("fatal handler failed, requeueing", "error", err)
			w.settle(log, job, "fatal_error", w.repo.RequeueJob(ctx, job, job.Attempt, w.now().Add(w.cfg.Interval), err.Error()))
			return
		}
		w.settle(log, job, "dead", w.repo.KillJob(ctx, job, res.err.Error()))
	}
}

func (w *Worker) settle(log *slog.Logger, job models.Job, result string, err error) {
	if errors.Is(err, repository.ErrLeaseLost) {
		log.Warn("job reclaimed by another worker, result dropped", "result", result)
		w.metrics.JobProcessed(job.Kind, "lease_lost")
		return
	}
	w.metrics.JobProcessed(job.Kind, result)
	if err != nil {
		// The lease expires and the job is claimed again.
		log.Error("update job", "result", result, "error", err)
	}
}

func runHandler(ctx context.Context, h Handler, job models.Job) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = Fail(fmt.Errorf("handler panic: %v", r))
		}
	}()
	res = h.Handle(ctx, job)
	if res.kind == resultFail && res.err == nil {
		res.err = errors.New("handler failed")
	}
	return res
}

func runFatal(ctx context.Context, h Handler, job models.Job, cause error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("fatal handler panic: %v", r)
		}
	}()
	return h.Fatal(ctx, job, cause)
}
