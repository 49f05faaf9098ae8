package worker

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"torrentdrive/internal/domain"
	"torrentdrive/internal/engine"
	"torrentdrive/internal/service"
)

const defaultEnginePollInterval = 2 * time.Second

// Downloader executes download requests: it drives a job from metadata_ready
// (or paused) through downloading to completed, then hands it to the upload
// pool. Completed jobs that failed the handoff stay re-submittable.
type Downloader struct {
	jobs         service.JobService
	engine       engine.Engine
	uploads      Submitter
	pollInterval time.Duration
	logger       *logrus.Logger
}

func NewDownloader(jobs service.JobService, eng engine.Engine, uploads Submitter, logger *logrus.Logger) *Downloader {
	if logger == nil {
		logger = logrus.New()
	}
	return &Downloader{
		jobs:         jobs,
		engine:       eng,
		uploads:      uploads,
		pollInterval: defaultEnginePollInterval,
		logger:       logger,
	}
}

func (d *Downloader) Run(ctx context.Context, req Request) {
	logger := d.logger.WithField("job_id", req.JobID)

	job, err := d.jobs.GetJob(ctx, req.JobID)
	if err != nil {
		logger.Errorf("load job: %v", err)
		return
	}

	if err := d.jobs.Transition(ctx, req.JobID, domain.StateDownloading); err != nil {
		logger.Errorf("enter downloading: %v", err)
		return
	}

	if err := d.engine.Begin(ctx, req.JobID, job.MagnetURI, req.FileIndices); err != nil {
		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			d.pauseOnCancel(req.JobID, logger)
			return
		}
		d.fail(ctx, req.JobID, err, logger)
		return
	}

	logger.Info("download started")

	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.pauseOnCancel(req.JobID, logger)
			return
		case <-ticker.C:
			current, err := d.jobs.GetJob(ctx, req.JobID)
			if err != nil {
				// deleted through the API while downloading
				if errors.Is(err, domain.ErrNotFound) {
					logger.Info("job removed, releasing download slot")
				} else {
					logger.Errorf("poll job: %v", err)
				}
				return
			}
			if current.State != domain.StateDownloading {
				logger.Infof("job left downloading (%s), releasing download slot", current.State)
				return
			}
			if !d.engine.IsComplete(req.JobID) {
				continue
			}
			if err := d.jobs.Transition(ctx, req.JobID, domain.StateCompleted); err != nil {
				logger.Errorf("mark completed: %v", err)
				return
			}
			logger.Info("download completed")
			d.uploads.Submit(Request{JobID: req.JobID})
			return
		}
	}
}

// pauseOnCancel is the shutdown branch: the download is assumed resumable,
// so the engine is quiesced and the job parked in paused. The store write
// uses a fresh context because the execution's own context is already gone.
func (d *Downloader) pauseOnCancel(jobID string, logger *logrus.Entry) {
	d.engine.Pause(jobID)

	persistCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.jobs.Transition(persistCtx, jobID, domain.StatePaused); err != nil {
		logger.Errorf("persist paused state: %v", err)
		return
	}
	logger.Info("download cancelled, job paused")
}

func (d *Downloader) fail(ctx context.Context, jobID string, failErr error, logger *logrus.Entry) {
	logger.Errorf("download failed: %v", failErr)
	if err := d.jobs.MarkError(ctx, jobID, failErr.Error()); err != nil {
		logger.Errorf("persist error state: %v", err)
	}
}
