package sync

import "time"

// ProcessingLog is one row per committed orchestration run. Only C6
// writes this entity; per spec.md §3 a run that rolls back leaves no
// ProcessingLog row at all, since runBatch inserts the row inside the
// batch transaction that FetchAndStoreDelta/FetchAndStoreItems commit.
type ProcessingLog struct {
	ID                 int64
	SiteID             string
	ListID             string
	DeltaLink          string
	LastProcessedAt    time.Time
	Status             string // "Started", "Completed", "Failed"
	SuccessfulItems    int
	FailedItems        int
	LastProcessedCount int
	LastError          string
}

const (
	StatusStarted   = "Started"
	StatusCompleted = "Completed"
	StatusFailed    = "Failed"
)

// Continuation carries the un-processed tail of a batch plus the pending
// cursor, for C7 to re-enqueue as a follow-up message on the same topic.
type Continuation struct {
	RemainingItemIDs []string
	PendingDeltaLink string
}

// Result is what a run returns to its caller (C7, or a test harness).
type Result struct {
	Log          ProcessingLog
	Continuation *Continuation
}

// Progress is a read-only snapshot of the processor's current run, in the
// same shape spirit's Runner.GetProgress() exposes to an out-of-process
// status reporter. Building the full status endpoint is out of scope
// here, but the hook costs nothing and matches the teacher's pattern.
type Progress struct {
	State           string
	SuccessfulItems int
	FailedItems     int
	LastError       string
}
