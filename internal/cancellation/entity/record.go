package entity

// State of an account in the deletion workflow.
type State string

const (
	StateActive          State = "ACTIVE"
	StatePendingDeletion State = "PENDING_DELETION"
	StateDeleted         State = "DELETED"
)

// Admin console labels.
const (
	LabelPending          = "Pending"
	LabelReadyForDeletion = "Ready for deletion"
)

// DeletionRecord is the deletion view of one account. Timestamps are unix
// seconds and are 0 unless the state is PENDING_DELETION.
type DeletionRecord struct {
	SubjectID   string `json:"subject_id"`
	State       State  `json:"state"`
	RequestedAt int64  `json:"requested_at"`
	ScheduledAt int64  `json:"scheduled_at"`
}

// NewRecord derives the state from the schedule: pending iff scheduled_at > 0.
func NewRecord(subjectID string, requestedAt, scheduledAt int64) DeletionRecord {
	if scheduledAt <= 0 {
		return DeletionRecord{SubjectID: subjectID, State: StateActive}
	}
	return DeletionRecord{SubjectID: subjectID, State: StatePendingDeletion, RequestedAt: requestedAt, ScheduledAt: scheduledAt}
}

func (r DeletionRecord) Pending() bool { return r.State == StatePendingDeletion }

// Label is "Pending" until the grace period has run out.
func (r DeletionRecord) Label(now int64) string {
	if r.ScheduledAt > now {
		return LabelPending
	}
	return LabelReadyForDeletion
}

// PendingDeletion is one row of the admin console.
type PendingDeletion struct {
	DeletionRecord
	Name   string  `json:"name"`
	Email  *string `json:"email,omitempty"`
	Status string  `json:"status"`
}

// Outcome of ExecuteDeletion.
type Outcome string

const (
	OutcomeExecuted     Outcome = "executed"
	OutcomeSkippedStale Outcome = "skipped_stale"
)

// DeletionReport describes what ExecuteDeletion did.
type DeletionReport struct {
	SubjectID      string           `json:"subject_id"`
	Outcome        Outcome          `json:"outcome"`
	Reason         string           `json:"reason,omitempty"`
	ContentDeleted map[string]int64 `json:"content_deleted,omitempty"`
}

// TaskResult is the typed result of processing one queued task.
type TaskResult string

const (
	TaskExecuted     TaskResult = "executed"
	TaskSkippedStale TaskResult = "skipped_stale"
	TaskRequeued     TaskResult = "requeued"
	TaskFailed       TaskResult = "failed"
)

// DrainSummary counts the results of one drain.
type DrainSummary struct {
	Executed int `json:"executed"`
	Skipped  int `json:"skipped"`
	Requeued int `json:"requeued"`
	Failed   int `json:"failed"`
}

func (s *DrainSummary) Add(r TaskResult) {
	switch r {
	case TaskExecuted:
		s.Executed++
	case TaskSkippedStale:
		s.Skipped++
	case TaskRequeued:
		s.Requeued++
	case TaskFailed:
		s.Failed++
	}
}

func (s DrainSummary) Total() int { return s.Executed + s.Skipped + s.Requeued + s.Failed }
