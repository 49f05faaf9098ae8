package engine

import (
	"context"
	"time"

	"torrentdrive/internal/domain"
)

// Engine abstracts the BitTorrent engine behind the minimal capability the
// orchestration core needs: submit, poll, pause/resume, remove, and locate
// the downloaded artifact on disk.
type Engine interface {
	// FetchMetadata resolves a magnet URI to its metadata without starting a
	// download. Returns domain.ErrMetadataTimeout when the deadline passes.
	FetchMetadata(ctx context.Context, magnetURI string, timeout time.Duration) (*domain.Metadata, error)

	// Begin submits a job for downloading. A nil fileIndices selects every
	// file in the torrent.
	Begin(ctx context.Context, jobID, magnetURI string, fileIndices []int) error

	// Status returns the current numeric transfer status for a job, or false
	// when the engine holds no handle for it.
	Status(jobID string) (*domain.Progress, bool)

	// IsComplete reports whether every selected byte of the job has arrived.
	IsComplete(jobID string) bool

	Pause(jobID string) bool
	Resume(jobID string) bool

	// Remove drops the job's engine handle and optionally its local files.
	Remove(jobID string, deleteFiles bool) bool

	// ArtifactPath returns the local path of the job's downloaded data, or ""
	// when the engine holds no handle for it.
	ArtifactPath(jobID string) string

	Close()
}
