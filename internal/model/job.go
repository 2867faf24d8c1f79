package model

import "time"

// Job state constants.
const (
	StateQueued    = "queued"
	StateRunning   = "running"
	StateSucceeded = "succeeded"
	StateFailed    = "failed"
	StateCancelled = "cancelled"
)

// Job kind constants. The kind is fixed at submission and determines which
// stages the pipeline runs.
const (
	KindFetch   = "fetch"
	KindPublish = "publish"
	KindFull    = "full"
)

// Stage name constants, in pipeline order.
const (
	StageFetching   = "fetching"
	StageRelabeling = "relabeling"
	StagePublishing = "publishing"
	StageCleaning   = "cleaning"
)

// Failure kind constants surfaced on a terminal failed job.
const (
	FailQuotaExceeded    = "quota-exceeded"
	FailQuotaExhausted   = "quota-exhausted"
	FailNetwork          = "network"
	FailInvalidReference = "invalid-reference"
	FailTimeout          = "timeout"
	FailEmptyResult      = "empty-result"
	FailPublishError     = "publish-error"
	FailInternal         = "internal"
)

// validTransitions maps each state to the set of states it may transition to.
// A fetch retry keeps the job in running, so running→running never occurs as
// a store-level transition.
var validTransitions = map[string]map[string]bool{
	StateQueued: {
		StateRunning:   true,
		StateCancelled: true,
	},
	StateRunning: {
		StateSucceeded: true,
		StateFailed:    true,
		StateCancelled: true,
	},
}

// ValidTransition reports whether transitioning from one state to another is allowed.
func ValidTransition(from, to string) bool {
	targets, ok := validTransitions[from]
	if !ok {
		return false
	}
	return targets[to]
}

// Terminal reports whether a state is terminal.
func Terminal(state string) bool {
	return state == StateSucceeded || state == StateFailed || state == StateCancelled
}

// ValidKind reports whether the given job kind is one of the closed set.
func ValidKind(kind string) bool {
	return kind == KindFetch || kind == KindPublish || kind == KindFull
}

// Settings is the resolved snapshot of user preferences captured at
// submission time. Later preference changes never affect an in-flight job.
type Settings struct {
	Prefix     string `json:"prefix"`
	RunRelabel bool   `json:"run_relabel"`
	RunPublish bool   `json:"run_publish"`
	RunCleanup bool   `json:"run_cleanup"`
}

// Result holds the per-stage counts and share links of a succeeded job.
type Result struct {
	FilesFetched  int      `json:"files_fetched"`
	RenamedCount  int      `json:"renamed_count"`
	TotalEligible int      `json:"total_eligible"`
	Links         []string `json:"links,omitempty"`
}

// Job is one user-requested pipeline execution and its tracked state.
type Job struct {
	ID         string     `json:"id"`
	Kind       string     `json:"kind"`
	Reference  string     `json:"reference,omitempty"`
	FolderPath string     `json:"folder_path,omitempty"`
	UserID     string     `json:"user_id,omitempty"`
	Settings   Settings   `json:"settings"`
	State      string     `json:"state"`
	Stage      string     `json:"stage,omitempty"`
	Progress   string     `json:"progress,omitempty"`
	Attempt    int        `json:"attempt"`
	Result     *Result    `json:"result,omitempty"`
	ErrKind    string     `json:"error_kind,omitempty"`
	ErrMessage string     `json:"error_message,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}
