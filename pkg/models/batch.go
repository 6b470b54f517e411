package models

import "time"

type BatchStatus string

const (
	BatchRunning   BatchStatus = "running"
	BatchCompleted BatchStatus = "completed"
	BatchFailed    BatchStatus = "failed"
)

// Terminal reports whether no further events follow.
func (s BatchStatus) Terminal() bool {
	return s == BatchCompleted || s == BatchFailed
}

// BatchJob is one outreach run over the recipients of a single search.
type BatchJob struct {
	ID                    string      `json:"id"`
	SearchID              int64       `json:"search_id"`
	Subject               string      `json:"subject"`
	IncludeHomepageEmails bool        `json:"include_homepage_emails"`
	IncludeFallbackEmails bool        `json:"include_fallback_emails"`
	Status                BatchStatus `json:"status"`
	Total                 int         `json:"total"`
	Sent                  int         `json:"sent"`
	FailedCount           int         `json:"failed"`
	Skipped               int         `json:"skipped"`
	Error                 string      `json:"error,omitempty"`
	CreatedAt             time.Time   `json:"created_at"`
	FinishedAt            *time.Time  `json:"finished_at,omitempty"`
}

// Processed counts recipients whose outcome is known.
func (b BatchJob) Processed() int {
	return b.Sent + b.FailedCount + b.Skipped
}

// Snapshot is the current aggregate state of a batch, handed to observers
// when they join.
type Snapshot struct {
	BatchID string      `json:"batch_id"`
	Status  BatchStatus `json:"status"`
	Total   int         `json:"total"`
	Sent    int         `json:"sent"`
	Failed  int         `json:"failed"`
	Skipped int         `json:"skipped"`
	Percent int         `json:"percent"`
}

const (
	EventProgress   = "progress"
	EventCompletion = "completion"
	EventSnapshot   = "snapshot"
)

type ProgressPayload struct {
	Step        string `json:"step"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Percent     int    `json:"percent"`
	Total       int    `json:"total"`
	Processed   int    `json:"processed"`
	Sent        int    `json:"sent"`
	Failed      int    `json:"failed"`
	Skipped     int    `json:"skipped"`
}

type BatchResult struct {
	Total   int `json:"total"`
	Sent    int `json:"sent"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
}

type CompletionPayload struct {
	Status BatchStatus `json:"status"`
	Result BatchResult `json:"result"`
	Error  string      `json:"error,omitempty"`
}

// ProgressEvent is either a progress tick or the single terminal completion.
// Seq is assigned by the progress channel and strictly increases per batch.
type ProgressEvent struct {
	Type       string             `json:"type"`
	BatchID    string             `json:"batch_id"`
	Seq        uint64             `json:"seq"`
	Progress   *ProgressPayload   `json:"progress,omitempty"`
	Completion *CompletionPayload `json:"completion,omitempty"`
	Snapshot   *Snapshot          `json:"snapshot,omitempty"`
	At         time.Time          `json:"at"`
}

// IsCompletion reports whether the event ends the stream.
func (e ProgressEvent) IsCompletion() bool {
	return e.Type == EventCompletion
}

// Percent returns processed/total*100 rounded; an empty batch is 100%.
func Percent(processed, total int) int {
	if total <= 0 {
		return 100
	}
	return (processed*100 + total/2) / total
}
