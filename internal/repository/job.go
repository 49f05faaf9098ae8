package repository

import (
	"context"
	"time"

	"torrentdrive/internal/domain"
)

// JobRepository exposes persistence operations for Job records. The store is
// the single durable owner of job state; all writes are point updates keyed
// by job id.
type JobRepository interface {
	Init(ctx context.Context) error
	Create(ctx context.Context, job *domain.Job) error
	Get(ctx context.Context, id string) (*domain.Job, error)
	List(ctx context.Context) ([]domain.Job, error)
	ListByStates(ctx context.Context, states ...domain.JobState) ([]domain.Job, error)
	UpdateState(ctx context.Context, id string, state domain.JobState) error
	UpdateProgress(ctx context.Context, id string, progress *domain.Progress) error
	SetMetadata(ctx context.Context, id string, meta *domain.Metadata) error
	MarkUploaded(ctx context.Context, id string, remoteID string, uploadedAt time.Time) error
	Delete(ctx context.Context, id string) error
}
