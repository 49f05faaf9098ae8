package worker

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"torrentdrive/internal/domain"
	"torrentdrive/internal/engine"
	"torrentdrive/internal/service"
)

const defaultReconcileInterval = 2 * time.Second

// Publisher is the broadcast sink capability: fire-and-forget fan-out of
// progress events to connected observers.
type Publisher interface {
	Publish(event domain.Event)
}

// Reconciler periodically samples live engine status for every job in a live
// state, persists it, and broadcasts it. It is the single source of ambient
// progress visibility; the pools only record one-shot transitions.
type Reconciler struct {
	jobs     service.JobService
	engine   engine.Engine
	sink     Publisher
	interval time.Duration
	logger   *logrus.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

func NewReconciler(jobs service.JobService, eng engine.Engine, sink Publisher, interval time.Duration, logger *logrus.Logger) *Reconciler {
	if interval <= 0 {
		interval = defaultReconcileInterval
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Reconciler{
		jobs:     jobs,
		engine:   eng,
		sink:     sink,
		interval: interval,
		logger:   logger,
	}
}

func (r *Reconciler) Start(ctx context.Context) {
	if r.done != nil {
		return
	}
	ctx, r.cancel = context.WithCancel(ctx)
	r.done = make(chan struct{})

	go func() {
		defer close(r.done)
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.tick(ctx)
			}
		}
	}()
	r.logger.Info("progress reconciler started")
}

func (r *Reconciler) Stop() {
	if r.cancel == nil {
		return
	}
	r.cancel()
	<-r.done
	r.logger.Info("progress reconciler stopped")
}

func (r *Reconciler) tick(ctx context.Context) {
	for _, state := range []domain.JobState{domain.StateDownloading, domain.StateUploading} {
		jobs, err := r.jobs.ListByStates(ctx, state)
		if err != nil {
			r.logger.Errorf("list %s jobs: %v", state, err)
			continue
		}
		for i := range jobs {
			r.reconcile(ctx, &jobs[i])
		}
	}
}

func (r *Reconciler) reconcile(ctx context.Context, job *domain.Job) {
	// handle may already be gone; not an error
	progress, ok := r.engine.Status(job.ID)
	if !ok {
		return
	}

	if err := r.jobs.UpdateProgress(ctx, job.ID, progress); err != nil {
		r.logger.WithField("job_id", job.ID).Warnf("persist progress: %v", err)
	}

	r.sink.Publish(domain.Event{
		Type:    "progress",
		JobID:   job.ID,
		Payload: progress,
	})
}
