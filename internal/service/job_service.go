package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"torrentdrive/internal/domain"
	"torrentdrive/internal/repository"
)

// JobService coordinates job persistence and enforces the lifecycle state
// machine. Every state change funnels through Transition so illegal moves
// never reach the store.
type JobService interface {
	CreateJob(ctx context.Context, magnetURI string, meta *domain.Metadata) (*domain.Job, error)
	GetJob(ctx context.Context, id string) (*domain.Job, error)
	ListJobs(ctx context.Context) ([]domain.Job, error)
	ListByStates(ctx context.Context, states ...domain.JobState) ([]domain.Job, error)
	Transition(ctx context.Context, id string, to domain.JobState) error
	UpdateProgress(ctx context.Context, id string, progress *domain.Progress) error
	MarkError(ctx context.Context, id string, msg string) error
	MarkUploaded(ctx context.Context, id string, remoteID string) error
	Resubmit(ctx context.Context, id string) (*domain.Job, error)
	DeleteJob(ctx context.Context, id string) error
}

type jobService struct {
	jobs repository.JobRepository
}

func NewJobService(jobs repository.JobRepository) JobService {
	return &jobService{jobs: jobs}
}

func (s *jobService) CreateJob(ctx context.Context, magnetURI string, meta *domain.Metadata) (*domain.Job, error) {
	if magnetURI == "" {
		return nil, errors.New("magnet URI is required")
	}

	state := domain.StateFetchingMetadata
	if meta != nil {
		state = domain.StateMetadataReady
	}

	job := &domain.Job{
		ID:        uuid.NewString(),
		MagnetURI: magnetURI,
		State:     state,
		Metadata:  meta,
	}

	if err := s.jobs.Create(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

func (s *jobService) GetJob(ctx context.Context, id string) (*domain.Job, error) {
	return s.jobs.Get(ctx, id)
}

func (s *jobService) ListJobs(ctx context.Context) ([]domain.Job, error) {
	return s.jobs.List(ctx)
}

func (s *jobService) ListByStates(ctx context.Context, states ...domain.JobState) ([]domain.Job, error) {
	return s.jobs.ListByStates(ctx, states...)
}

// Transition moves a job to a new state after validating the change against
// the lifecycle table. The current state is left untouched on rejection.
func (s *jobService) Transition(ctx context.Context, id string, to domain.JobState) error {
	job, err := s.jobs.Get(ctx, id)
	if err != nil {
		return err
	}
	if job.State == to {
		return nil
	}
	if !domain.CanTransition(job.State, to) {
		return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, job.State, to)
	}
	return s.jobs.UpdateState(ctx, id, to)
}

// UpdateProgress persists a fresh progress sample, keeping progress.state in
// step with the job's current lifecycle state.
func (s *jobService) UpdateProgress(ctx context.Context, id string, progress *domain.Progress) error {
	if progress == nil {
		return nil
	}
	job, err := s.jobs.Get(ctx, id)
	if err != nil {
		return err
	}
	progress.JobID = id
	progress.State = job.State
	return s.jobs.UpdateProgress(ctx, id, progress)
}

// MarkError drives a job to the error state and preserves a human-readable
// message on its progress record.
func (s *jobService) MarkError(ctx context.Context, id string, msg string) error {
	job, err := s.jobs.Get(ctx, id)
	if err != nil {
		return err
	}
	if !domain.CanTransition(job.State, domain.StateError) {
		return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, job.State, domain.StateError)
	}

	progress := job.Progress
	if progress == nil {
		progress = &domain.Progress{JobID: id}
	}
	progress.State = domain.StateError
	progress.Error = msg

	if err := s.jobs.UpdateState(ctx, id, domain.StateError); err != nil {
		return err
	}
	return s.jobs.UpdateProgress(ctx, id, progress)
}

func (s *jobService) MarkUploaded(ctx context.Context, id string, remoteID string) error {
	job, err := s.jobs.Get(ctx, id)
	if err != nil {
		return err
	}
	if !domain.CanTransition(job.State, domain.StateUploaded) {
		return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, job.State, domain.StateUploaded)
	}
	return s.jobs.MarkUploaded(ctx, id, remoteID, time.Now())
}

// Resubmit returns a failed job to metadata_ready so a client can retry it.
func (s *jobService) Resubmit(ctx context.Context, id string) (*domain.Job, error) {
	if err := s.Transition(ctx, id, domain.StateMetadataReady); err != nil {
		return nil, err
	}
	return s.jobs.Get(ctx, id)
}

func (s *jobService) DeleteJob(ctx context.Context, id string) error {
	return s.jobs.Delete(ctx, id)
}
