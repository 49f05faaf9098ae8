package domain

type JobState string

const (
	StateFetchingMetadata JobState = "fetching_metadata"
	StateMetadataReady    JobState = "metadata_ready"
	StateDownloading      JobState = "downloading"
	StateCompleted        JobState = "completed"
	StateUploading        JobState = "uploading"
	StateUploaded         JobState = "uploaded"
	StateError            JobState = "error"
	StatePaused           JobState = "paused"
)

// validTransitions enumerates every legal state change. Anything not listed
// here is rejected by CanTransition.
var validTransitions = map[JobState][]JobState{
	StateFetchingMetadata: {StateMetadataReady, StateError},
	StateMetadataReady:    {StateDownloading, StateError},
	StateDownloading:      {StateCompleted, StatePaused, StateError},
	StatePaused:           {StateDownloading, StateError},
	StateCompleted:        {StateUploading, StateError},
	StateUploading:        {StateUploaded, StateCompleted, StateError},
	StateUploaded:         {},
	StateError:            {StateMetadataReady},
}

// CanTransition reports whether a job may move from one state to another.
func CanTransition(from, to JobState) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further automatic transition occurs from s.
func (s JobState) IsTerminal() bool {
	return s == StateUploaded || s == StateError
}

// IsLive reports whether the reconciler should sample engine status for s.
func (s JobState) IsLive() bool {
	return s == StateDownloading || s == StateUploading
}

// Valid reports whether s is one of the defined lifecycle states.
func (s JobState) Valid() bool {
	_, ok := validTransitions[s]
	return ok
}
