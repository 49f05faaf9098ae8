package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"torrentdrive/internal/domain"
	"torrentdrive/internal/repository"
)

const createJobsTable = `
CREATE TABLE IF NOT EXISTS jobs (
	id TEXT PRIMARY KEY,
	magnet_uri TEXT NOT NULL,
	state TEXT NOT NULL,
	metadata TEXT NULL,
	progress TEXT NULL,
	remote_id TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL,
	uploaded_at DATETIME NULL
);
CREATE INDEX IF NOT EXISTS idx_jobs_state ON jobs(state);
`

type JobRepository struct {
	db *sql.DB
}

func NewJobRepository(db *sql.DB) repository.JobRepository {
	return &JobRepository{db: db}
}

func (r *JobRepository) Init(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, createJobsTable); err != nil {
		return fmt.Errorf("create jobs table: %w", err)
	}
	return nil
}

func (r *JobRepository) Create(ctx context.Context, job *domain.Job) error {
	now := time.Now().UTC()
	job.CreatedAt = now
	job.UpdatedAt = now

	meta, err := marshalNullable(job.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	progress, err := marshalNullable(job.Progress)
	if err != nil {
		return fmt.Errorf("marshal progress: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, `
INSERT INTO jobs (id, magnet_uri, state, metadata, progress, remote_id, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID,
		job.MagnetURI,
		string(job.State),
		meta,
		progress,
		job.RemoteID,
		job.CreatedAt,
		job.UpdatedAt,
	); err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

func (r *JobRepository) Get(ctx context.Context, id string) (*domain.Job, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT id, magnet_uri, state, metadata, progress, remote_id, created_at, updated_at, uploaded_at
FROM jobs
WHERE id=?`,
		id,
	)
	return scanJob(row)
}

func (r *JobRepository) List(ctx context.Context) ([]domain.Job, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id, magnet_uri, state, metadata, progress, remote_id, created_at, updated_at, uploaded_at
FROM jobs
ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

func (r *JobRepository) ListByStates(ctx context.Context, states ...domain.JobState) ([]domain.Job, error) {
	if len(states) == 0 {
		return []domain.Job{}, nil
	}

	placeholders := make([]string, len(states))
	args := make([]interface{}, len(states))
	for i, state := range states {
		placeholders[i] = "?"
		args[i] = string(state)
	}

	query := fmt.Sprintf(`
SELECT id, magnet_uri, state, metadata, progress, remote_id, created_at, updated_at, uploaded_at
FROM jobs
WHERE state IN (%s)
ORDER BY created_at ASC`, strings.Join(placeholders, ","))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query jobs by state: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

func (r *JobRepository) UpdateState(ctx context.Context, id string, state domain.JobState) error {
	res, err := r.db.ExecContext(ctx, `
UPDATE jobs
SET state=?, updated_at=?
WHERE id=?`,
		string(state),
		time.Now().UTC(),
		id,
	)
	if err != nil {
		return fmt.Errorf("update job state: %w", err)
	}
	return requireRow(res)
}

func (r *JobRepository) UpdateProgress(ctx context.Context, id string, progress *domain.Progress) error {
	data, err := marshalNullable(progress)
	if err != nil {
		return fmt.Errorf("marshal progress: %w", err)
	}
	res, err := r.db.ExecContext(ctx, `
UPDATE jobs
SET progress=?, updated_at=?
WHERE id=?`,
		data,
		time.Now().UTC(),
		id,
	)
	if err != nil {
		return fmt.Errorf("update job progress: %w", err)
	}
	return requireRow(res)
}

func (r *JobRepository) SetMetadata(ctx context.Context, id string, meta *domain.Metadata) error {
	data, err := marshalNullable(meta)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	// metadata is write-once; an existing snapshot is never overwritten
	res, err := r.db.ExecContext(ctx, `
UPDATE jobs
SET metadata=?, updated_at=?
WHERE id=? AND metadata IS NULL`,
		data,
		time.Now().UTC(),
		id,
	)
	if err != nil {
		return fmt.Errorf("set job metadata: %w", err)
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set metadata rows affected: %w", err)
	}
	if aff == 0 {
		if _, getErr := r.Get(ctx, id); getErr != nil {
			return getErr
		}
	}
	return nil
}

func (r *JobRepository) MarkUploaded(ctx context.Context, id string, remoteID string, uploadedAt time.Time) error {
	res, err := r.db.ExecContext(ctx, `
UPDATE jobs
SET state=?, remote_id=?, uploaded_at=?, updated_at=?
WHERE id=?`,
		string(domain.StateUploaded),
		remoteID,
		uploadedAt.UTC(),
		time.Now().UTC(),
		id,
	)
	if err != nil {
		return fmt.Errorf("mark uploaded: %w", err)
	}
	return requireRow(res)
}

func (r *JobRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM jobs WHERE id=?`, id)
	if err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	return requireRow(res)
}

func requireRow(res sql.Result) error {
	aff, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if aff == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func collectJobs(rows *sql.Rows) ([]domain.Job, error) {
	var jobs []domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

func scanJob(scanner interface {
	Scan(dest ...any) error
}) (*domain.Job, error) {
	var (
		job        domain.Job
		state      string
		meta       sql.NullString
		progress   sql.NullString
		createdAt  time.Time
		updatedAt  time.Time
		uploadedAt sql.NullTime
	)

	if err := scanner.Scan(
		&job.ID,
		&job.MagnetURI,
		&state,
		&meta,
		&progress,
		&job.RemoteID,
		&createdAt,
		&updatedAt,
		&uploadedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("scan job: %w", err)
	}

	job.State = domain.JobState(state)
	job.CreatedAt = createdAt.Local()
	job.UpdatedAt = updatedAt.Local()
	if uploadedAt.Valid {
		t := uploadedAt.Time.Local()
		job.UploadedAt = &t
	}
	if meta.Valid && meta.String != "" {
		var m domain.Metadata
		if err := json.Unmarshal([]byte(meta.String), &m); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
		job.Metadata = &m
	}
	if progress.Valid && progress.String != "" {
		var p domain.Progress
		if err := json.Unmarshal([]byte(progress.String), &p); err != nil {
			return nil, fmt.Errorf("unmarshal progress: %w", err)
		}
		job.Progress = &p
	}

	return &job, nil
}

func marshalNullable(v any) (any, error) {
	switch val := v.(type) {
	case *domain.Metadata:
		if val == nil {
			return nil, nil
		}
	case *domain.Progress:
		if val == nil {
			return nil, nil
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}
