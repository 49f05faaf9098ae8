package domain

import "time"

// Job tracks one torrent from metadata fetch through remote upload.
type Job struct {
	ID         string
	MagnetURI  string
	State      JobState
	Metadata   *Metadata
	Progress   *Progress
	RemoteID   string
	CreatedAt  time.Time
	UpdatedAt  time.Time
	UploadedAt *time.Time
}

// SelectedFileIndices returns the indices of the files marked selected, or
// nil when the whole torrent is wanted (no metadata, or every file selected).
func (j *Job) SelectedFileIndices() []int {
	if j.Metadata == nil {
		return nil
	}
	var indices []int
	for _, f := range j.Metadata.Files {
		if f.Selected {
			indices = append(indices, f.Index)
		}
	}
	if len(indices) == len(j.Metadata.Files) {
		return nil
	}
	return indices
}

// Metadata is the torrent info snapshot, set once when metadata is fetched.
type Metadata struct {
	Name      string     `json:"name"`
	TotalSize int64      `json:"total_size"`
	NumFiles  int        `json:"num_files"`
	Files     []FileInfo `json:"files"`
	InfoHash  string     `json:"info_hash"`
	Trackers  []string   `json:"trackers,omitempty"`
}

// FileInfo describes a single file within a torrent.
type FileInfo struct {
	Index    int    `json:"index"`
	Path     string `json:"path"`
	Size     int64  `json:"size"`
	Selected bool   `json:"selected"`
}

// Progress is the last sampled transfer status for a job.
type Progress struct {
	JobID        string   `json:"job_id"`
	State        JobState `json:"state"`
	Percent      float64  `json:"percent"`
	DownloadRate int64    `json:"download_rate"`
	UploadRate   int64    `json:"upload_rate"`
	Peers        int      `json:"peers"`
	Seeds        int      `json:"seeds"`
	BytesDone    int64    `json:"bytes_done"`
	BytesTotal   int64    `json:"bytes_total"`
	ETASeconds   *int64   `json:"eta_seconds,omitempty"`
	Error        string   `json:"error,omitempty"`
}

// Event is a broadcast payload delivered to connected observers.
type Event struct {
	Type    string `json:"type"`
	JobID   string `json:"job_id"`
	Payload any    `json:"payload,omitempty"`
}
