package entity

// JobStatus is the lifecycle state of a download job.
type JobStatus string

const (
	StatusPending     JobStatus = "pending"
	StatusQueued      JobStatus = "queued"
	StatusDownloading JobStatus = "downloading"
	StatusProcessing  JobStatus = "processing"
	StatusCompleted   JobStatus = "completed"
	StatusFailed      JobStatus = "failed"
	StatusCancelled   JobStatus = "cancelled"
)

// validTransitions encodes the job state machine. CANCELLED is reachable
// from every non-terminal state; the only edge out of a terminal state is
// the explicit FAILED -> PENDING retry. PENDING -> DOWNLOADING exists because
// a worker can consume the fetch delivery before the creator records the
// queued mark. Completion always follows the processing phase.
var validTransitions = map[JobStatus][]JobStatus{
	StatusPending:     {StatusQueued, StatusDownloading, StatusFailed, StatusCancelled},
	StatusQueued:      {StatusDownloading, StatusFailed, StatusCancelled},
	StatusDownloading: {StatusDownloading, StatusProcessing, StatusFailed, StatusCancelled},
	StatusProcessing:  {StatusProcessing, StatusCompleted, StatusFailed, StatusCancelled},
	StatusCompleted:   {},
	StatusFailed:      {StatusPending},
	StatusCancelled:   {},
}

// IsTerminal reports whether no further spontaneous transition is allowed.
func (s JobStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// IsActive reports whether the job currently occupies a worker or a queue slot.
func (s JobStatus) IsActive() bool {
	return s == StatusQueued || s == StatusDownloading || s == StatusProcessing
}

// CanTransitionTo reports whether moving from s to next follows a valid edge.
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	for _, allowed := range validTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

func (s JobStatus) String() string {
	return string(s)
}

// ParseStatus validates a raw status string coming from the outside.
func ParseStatus(raw string) (JobStatus, bool) {
	switch JobStatus(raw) {
	case StatusPending, StatusQueued, StatusDownloading, StatusProcessing,
		StatusCompleted, StatusFailed, StatusCancelled:
		return JobStatus(raw), true
	}
	return "", false
}
