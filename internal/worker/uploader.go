package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"torrentdrive/internal/domain"
	"torrentdrive/internal/engine"
	"torrentdrive/internal/service"
	"torrentdrive/internal/storage"
)

// Uploader executes upload requests: it mirrors a completed download into
// the remote store, wrapping every create/upload primitive in the retry
// policy. Exhausted retries abort the whole job; partial uploads are not
// rolled back.
type Uploader struct {
	jobs         service.JobService
	engine       engine.Engine
	store        storage.Service
	retry        RetryPolicy
	downloadRoot string
	cleanupLocal bool
	logger       *logrus.Logger
}

type UploaderConfig struct {
	DownloadRoot string
	CleanupLocal bool
	Retry        RetryPolicy
	Logger       *logrus.Logger
}

func NewUploader(jobs service.JobService, eng engine.Engine, store storage.Service, cfg UploaderConfig) *Uploader {
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = DefaultRetryPolicy()
	}
	return &Uploader{
		jobs:         jobs,
		engine:       eng,
		store:        store,
		retry:        cfg.Retry,
		downloadRoot: cfg.DownloadRoot,
		cleanupLocal: cfg.CleanupLocal,
		logger:       cfg.Logger,
	}
}

func (u *Uploader) Run(ctx context.Context, req Request) {
	logger := u.logger.WithField("job_id", req.JobID)

	job, err := u.jobs.GetJob(ctx, req.JobID)
	if err != nil {
		logger.Errorf("load job: %v", err)
		return
	}
	if job.Metadata == nil {
		u.fail(req.JobID, errors.New("job has no metadata"), logger)
		return
	}

	if err := u.jobs.Transition(ctx, req.JobID, domain.StateUploading); err != nil {
		logger.Errorf("enter uploading: %v", err)
		return
	}

	localPath := u.engine.ArtifactPath(req.JobID)
	if localPath == "" {
		localPath = filepath.Join(u.downloadRoot, job.Metadata.Name)
	}
	info, err := os.Stat(localPath)
	if err != nil {
		u.finish(ctx, req.JobID, "", fmt.Errorf("local data missing: %w", err), logger)
		return
	}

	logger.Infof("upload started from %s", localPath)

	containerID, err := u.retry.Do(ctx, func(ctx context.Context) (string, error) {
		return u.store.CreateContainer(ctx, job.Metadata.Name, "")
	})
	if err != nil {
		u.finish(ctx, req.JobID, "", err, logger)
		return
	}

	if info.IsDir() {
		err = u.uploadDirectory(ctx, localPath, containerID)
	} else {
		_, err = u.retry.Do(ctx, func(ctx context.Context) (string, error) {
			return u.store.UploadItem(ctx, localPath, containerID)
		})
	}

	u.finish(ctx, req.JobID, containerID, err, logger)

	if err == nil && u.cleanupLocal {
		if rmErr := os.RemoveAll(localPath); rmErr != nil {
			logger.Warnf("cleanup local data: %v", rmErr)
		}
	}
}

// uploadDirectory mirrors the local tree: one remote container per local
// directory, one remote item per local file, preserving nesting.
func (u *Uploader) uploadDirectory(ctx context.Context, localPath, parent string) error {
	entries, err := os.ReadDir(localPath)
	if err != nil {
		return fmt.Errorf("read dir %s: %w", localPath, err)
	}

	for _, entry := range entries {
		childPath := filepath.Join(localPath, entry.Name())
		if entry.IsDir() {
			childID, err := u.retry.Do(ctx, func(ctx context.Context) (string, error) {
				return u.store.CreateContainer(ctx, entry.Name(), parent)
			})
			if err != nil {
				return err
			}
			if err := u.uploadDirectory(ctx, childPath, childID); err != nil {
				return err
			}
			continue
		}
		if _, err := u.retry.Do(ctx, func(ctx context.Context) (string, error) {
			return u.store.UploadItem(ctx, childPath, parent)
		}); err != nil {
			return err
		}
	}
	return nil
}

// finish records the terminal state for this execution: uploaded on success,
// completed (re-submittable, local artifact unaffected) on cancellation, and
// error with the message preserved otherwise.
func (u *Uploader) finish(ctx context.Context, jobID, containerID string, uploadErr error, logger *logrus.Entry) {
	if uploadErr == nil {
		if err := u.jobs.MarkUploaded(ctx, jobID, containerID); err != nil {
			logger.Errorf("mark uploaded: %v", err)
			return
		}
		logger.Infof("upload completed, remote container %s", containerID)
		return
	}

	if ctx.Err() != nil || errors.Is(uploadErr, context.Canceled) {
		persistCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := u.jobs.Transition(persistCtx, jobID, domain.StateCompleted); err != nil {
			logger.Errorf("persist completed state: %v", err)
			return
		}
		logger.Info("upload cancelled, job left completed")
		return
	}

	u.fail(jobID, uploadErr, logger)
}

func (u *Uploader) fail(jobID string, failErr error, logger *logrus.Entry) {
	logger.Errorf("upload failed: %v", failErr)
	persistCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := u.jobs.MarkError(persistCtx, jobID, failErr.Error()); err != nil {
		logger.Errorf("persist error state: %v", err)
	}
}
