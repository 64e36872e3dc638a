package entity

// DeletionTask asks the processor to re-check a subject at or after ScheduledAt.
// It is a hint: the account record stays the source of truth.
type DeletionTask struct {
	ID          string `db:"id"`
	SubjectID   string `db:"subject_id"`
	ScheduledAt int64  `db:"scheduled_at"`
	EnqueuedAt  int64  `db:"enqueued_at"`
	LeasedUntil int64  `db:"leased_until"`
}

// Due reports whether the task may execute at now (unix seconds).
func (t DeletionTask) Due(now int64) bool { return now >= t.ScheduledAt }
