package worker

import (
	"context"
	"sync"
	"time"

	"torrentdrive/internal/domain"
	"torrentdrive/internal/service"
)

// memJobRepo is an in-memory JobRepository so worker tests run against the
// real lifecycle validation in the job service.
type memJobRepo struct {
	mu   sync.Mutex
	jobs map[string]*domain.Job
}

func newMemJobRepo() *memJobRepo {
	return &memJobRepo{jobs: make(map[string]*domain.Job)}
}

func (r *memJobRepo) Init(ctx context.Context) error { return nil }

func (r *memJobRepo) Create(ctx context.Context, job *domain.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *job
	cp.CreatedAt = time.Now()
	cp.UpdatedAt = cp.CreatedAt
	r.jobs[job.ID] = &cp
	return nil
}

func (r *memJobRepo) Get(ctx context.Context, id string) (*domain.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *job
	return &cp, nil
}

func (r *memJobRepo) List(ctx context.Context) ([]domain.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Job, 0, len(r.jobs))
	for _, job := range r.jobs {
		out = append(out, *job)
	}
	return out, nil
}

func (r *memJobRepo) ListByStates(ctx context.Context, states ...domain.JobState) ([]domain.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
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

func (r *memJobRepo) UpdateState(ctx context.Context, id string, state domain.JobState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return domain.ErrNotFound
	}
	job.State = state
	job.UpdatedAt = time.Now()
	return nil
}

func (r *memJobRepo) UpdateProgress(ctx context.Context, id string, progress *domain.Progress) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return domain.ErrNotFound
	}
	cp := *progress
	job.Progress = &cp
	job.UpdatedAt = time.Now()
	return nil
}

func (r *memJobRepo) SetMetadata(ctx context.Context, id string, meta *domain.Metadata) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok || job.Metadata != nil {
		return domain.ErrNotFound
	}
	job.Metadata = meta
	job.UpdatedAt = time.Now()
	return nil
}

func (r *memJobRepo) MarkUploaded(ctx context.Context, id string, remoteID string, uploadedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return domain.ErrNotFound
	}
	job.State = domain.StateUploaded
	job.RemoteID = remoteID
	job.UploadedAt = &uploadedAt
	job.UpdatedAt = time.Now()
	return nil
}

func (r *memJobRepo) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.jobs[id]; !ok {
		return domain.ErrNotFound
	}
	delete(r.jobs, id)
	return nil
}

func newTestJobs() (service.JobService, *memJobRepo) {
	repo := newMemJobRepo()
	return service.NewJobService(repo), repo
}

func seedJob(repo *memJobRepo, id string, state domain.JobState, meta *domain.Metadata) {
	repo.Create(context.Background(), &domain.Job{
		ID:        id,
		MagnetURI: "magnet:?xt=urn:btih:" + id,
		State:     state,
		Metadata:  meta,
	})
}

func jobState(repo *memJobRepo, id string) domain.JobState {
	job, err := repo.Get(context.Background(), id)
	if err != nil {
		return ""
	}
	return job.State
}

// fakeEngine satisfies engine.Engine with scripted behavior.
type fakeEngine struct {
	mu sync.Mutex

	beginErr error
	began    []string
	paused   []string
	resumed  []string
	removed  []string

	complete map[string]bool
	status   map[string]*domain.Progress
	artifact map[string]string
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		complete: make(map[string]bool),
		status:   make(map[string]*domain.Progress),
		artifact: make(map[string]string),
	}
}

func (e *fakeEngine) FetchMetadata(ctx context.Context, magnetURI string, timeout time.Duration) (*domain.Metadata, error) {
	return nil, domain.ErrMetadataTimeout
}

func (e *fakeEngine) Begin(ctx context.Context, jobID, magnetURI string, fileIndices []int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.beginErr != nil {
		return e.beginErr
	}
	e.began = append(e.began, jobID)
	return nil
}

func (e *fakeEngine) Status(jobID string) (*domain.Progress, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	progress, ok := e.status[jobID]
	if !ok {
		return nil, false
	}
	cp := *progress
	return &cp, true
}

func (e *fakeEngine) IsComplete(jobID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.complete[jobID]
}

func (e *fakeEngine) setComplete(jobID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.complete[jobID] = true
}

func (e *fakeEngine) Pause(jobID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.paused = append(e.paused, jobID)
	return true
}

func (e *fakeEngine) Resume(jobID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.resumed = append(e.resumed, jobID)
	return true
}

func (e *fakeEngine) Remove(jobID string, deleteFiles bool) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.removed = append(e.removed, jobID)
	delete(e.status, jobID)
	delete(e.complete, jobID)
	return true
}

func (e *fakeEngine) ArtifactPath(jobID string) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.artifact[jobID]
}

func (e *fakeEngine) Close() {}

// recordingSubmitter captures upload handoffs.
type recordingSubmitter struct {
	mu   sync.Mutex
	reqs []Request
}

func (s *recordingSubmitter) Submit(req Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reqs = append(s.reqs, req)
}

func (s *recordingSubmitter) submitted() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.reqs...)
}

func waitFor(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}
