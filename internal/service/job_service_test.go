package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"torrentdrive/internal/domain"
)

// stubJobRepo is a minimal in-memory JobRepository; the service under test
// owns all validation, the repo just stores.
type stubJobRepo struct {
	jobs map[string]*domain.Job
}

func newStubJobRepo() *stubJobRepo {
	return &stubJobRepo{jobs: make(map[string]*domain.Job)}
}

func (r *stubJobRepo) Init(ctx context.Context) error { return nil }

func (r *stubJobRepo) Create(ctx context.Context, job *domain.Job) error {
	cp := *job
	r.jobs[job.ID] = &cp
	return nil
}

func (r *stubJobRepo) Get(ctx context.Context, id string) (*domain.Job, error) {
	job, ok := r.jobs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *job
	return &cp, nil
}

func (r *stubJobRepo) List(ctx context.Context) ([]domain.Job, error) {
	var out []domain.Job
	for _, job := range r.jobs {
		out = append(out, *job)
	}
	return out, nil
}

func (r *stubJobRepo) ListByStates(ctx context.Context, states ...domain.JobState) ([]domain.Job, error) {
	var out []domain.Job
	for _, job := range r.jobs {
		for _, state := range states {
			if job.State == state {
				out = append(out, *job)
				break
			}
		}
	}
	return out, nil
}

func (r *stubJobRepo) UpdateState(ctx context.Context, id string, state domain.JobState) error {
	job, ok := r.jobs[id]
	if !ok {
		return domain.ErrNotFound
	}
	job.State = state
	return nil
}

func (r *stubJobRepo) UpdateProgress(ctx context.Context, id string, progress *domain.Progress) error {
	job, ok := r.jobs[id]
	if !ok {
		return domain.ErrNotFound
	}
	cp := *progress
	job.Progress = &cp
	return nil
}

func (r *stubJobRepo) SetMetadata(ctx context.Context, id string, meta *domain.Metadata) error {
	job, ok := r.jobs[id]
	if !ok {
		return domain.ErrNotFound
	}
	if job.Metadata == nil {
		job.Metadata = meta
	}
	return nil
}

func (r *stubJobRepo) MarkUploaded(ctx context.Context, id string, remoteID string, uploadedAt time.Time) error {
	job, ok := r.jobs[id]
	if !ok {
		return domain.ErrNotFound
	}
	job.State = domain.StateUploaded
	job.RemoteID = remoteID
	job.UploadedAt = &uploadedAt
	return nil
}

func (r *stubJobRepo) Delete(ctx context.Context, id string) error {
	if _, ok := r.jobs[id]; !ok {
		return domain.ErrNotFound
	}
	delete(r.jobs, id)
	return nil
}

func TestJobService_CreateJob(t *testing.T) {
	svc := NewJobService(newStubJobRepo())
	ctx := context.Background()

	job, err := svc.CreateJob(ctx, "magnet:?xt=urn:btih:abc", nil)
	if err != nil {
		t.Fatalf("create without metadata: %v", err)
	}
	if job.State != domain.StateFetchingMetadata {
		t.Errorf("expected fetching_metadata, got %s", job.State)
	}
	if job.ID == "" {
		t.Error("job must get an id")
	}

	withMeta, err := svc.CreateJob(ctx, "magnet:?xt=urn:btih:def", &domain.Metadata{Name: "x"})
	if err != nil {
		t.Fatalf("create with metadata: %v", err)
	}
	if withMeta.State != domain.StateMetadataReady {
		t.Errorf("expected metadata_ready, got %s", withMeta.State)
	}

	if _, err := svc.CreateJob(ctx, "", nil); err == nil {
		t.Error("empty magnet must be rejected")
	}
}

func TestJobService_TransitionValidation(t *testing.T) {
	repo := newStubJobRepo()
	svc := NewJobService(repo)
	ctx := context.Background()

	repo.Create(ctx, &domain.Job{ID: "job-1", State: domain.StateMetadataReady})

	if err := svc.Transition(ctx, "job-1", domain.StateDownloading); err != nil {
		t.Fatalf("valid transition rejected: %v", err)
	}

	err := svc.Transition(ctx, "job-1", domain.StateUploaded)
	if !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	// rejected transition must not touch the stored state
	job, _ := repo.Get(ctx, "job-1")
	if job.State != domain.StateDownloading {
		t.Errorf("state changed by rejected transition: %s", job.State)
	}

	// same-state transition is a no-op, not an error
	if err := svc.Transition(ctx, "job-1", domain.StateDownloading); err != nil {
		t.Errorf("same-state transition must be a no-op: %v", err)
	}

	if err := svc.Transition(ctx, "nope", domain.StateDownloading); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestJobService_UpdateProgressPinsIdentity(t *testing.T) {
	repo := newStubJobRepo()
	svc := NewJobService(repo)
	ctx := context.Background()

	repo.Create(ctx, &domain.Job{ID: "job-1", State: domain.StateDownloading})

	// a stale sample claiming a different job and state gets corrected
	err := svc.UpdateProgress(ctx, "job-1", &domain.Progress{
		JobID:   "other",
		State:   domain.StateUploading,
		Percent: 50,
	})
	if err != nil {
		t.Fatalf("update progress: %v", err)
	}

	job, _ := repo.Get(ctx, "job-1")
	if job.Progress.JobID != "job-1" {
		t.Errorf("progress job id not pinned: %q", job.Progress.JobID)
	}
	if job.Progress.State != domain.StateDownloading {
		t.Errorf("progress state not pinned to lifecycle state: %s", job.Progress.State)
	}
}

func TestJobService_MarkError(t *testing.T) {
	repo := newStubJobRepo()
	svc := NewJobService(repo)
	ctx := context.Background()

	repo.Create(ctx, &domain.Job{ID: "job-1", State: domain.StateDownloading})

	if err := svc.MarkError(ctx, "job-1", "tracker unreachable"); err != nil {
		t.Fatalf("mark error: %v", err)
	}
	job, _ := repo.Get(ctx, "job-1")
	if job.State != domain.StateError {
		t.Errorf("expected error state, got %s", job.State)
	}
	if job.Progress == nil || job.Progress.Error != "tracker unreachable" {
		t.Errorf("error message not preserved: %+v", job.Progress)
	}

	// terminal jobs cannot fail again
	repo.Create(ctx, &domain.Job{ID: "job-2", State: domain.StateUploaded})
	if err := svc.MarkError(ctx, "job-2", "x"); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition for uploaded job, got %v", err)
	}
}

func TestJobService_Resubmit(t *testing.T) {
	repo := newStubJobRepo()
	svc := NewJobService(repo)
	ctx := context.Background()

	repo.Create(ctx, &domain.Job{ID: "job-1", State: domain.StateError})

	job, err := svc.Resubmit(ctx, "job-1")
	if err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	if job.State != domain.StateMetadataReady {
		t.Errorf("expected metadata_ready, got %s", job.State)
	}

	repo.Create(ctx, &domain.Job{ID: "job-2", State: domain.StateDownloading})
	if _, err := svc.Resubmit(ctx, "job-2"); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Errorf("only failed jobs are resubmittable, got %v", err)
	}
}

func TestJobService_MarkUploaded(t *testing.T) {
	repo := newStubJobRepo()
	svc := NewJobService(repo)
	ctx := context.Background()

	repo.Create(ctx, &domain.Job{ID: "job-1", State: domain.StateUploading})

	if err := svc.MarkUploaded(ctx, "job-1", "torrents/x"); err != nil {
		t.Fatalf("mark uploaded: %v", err)
	}
	job, _ := repo.Get(ctx, "job-1")
	if job.State != domain.StateUploaded || job.RemoteID != "torrents/x" {
		t.Errorf("uploaded fields not set: %+v", job)
	}

	repo.Create(ctx, &domain.Job{ID: "job-2", State: domain.StateDownloading})
	if err := svc.MarkUploaded(ctx, "job-2", "x"); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}
}
