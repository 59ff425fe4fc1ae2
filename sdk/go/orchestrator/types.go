package orchestrator

import "encoding/json"

// Outcome is the result of a run or resume: a final answer or a pending
// checkpoint.
type Outcome struct {
	ThreadID  string     `json:"thread_id"`
	RunID     string     `json:"run_id"`
	Status    string     `json:"status"`
	Answer    string     `json:"answer,omitempty"`
	Reason    string     `json:"reason,omitempty"`
	Interrupt *Interrupt `json:"interrupt,omitempty"`
	Plans     []Plan     `json:"plans"`
}

// Waiting reports whether the run paused for human input.
func (o *Outcome) Waiting() bool {
	return o != nil && o.Status == "waiting"
}

// Interrupt describes the question a paused run is waiting on.
type Interrupt struct {
	Question      string          `json:"question"`
	Kind          string          `json:"kind"`
	ExpectedReply json.RawMessage `json:"expected_reply,omitempty"`
	Preview       map[string]any  `json:"preview,omitempty"`
}

// Plan is one ordered task list owned by a thread.
type Plan struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	Status string `json:"status"`
	Tasks  []Task `json:"tasks"`
}

// Task is a single step of a plan.
type Task struct {
	Index      int    `json:"index"`
	Title      string `json:"title"`
	Status     string `json:"status"`
	RetryCount int    `json:"retry_count"`
	Result     string `json:"result,omitempty"`
}

// Thread is the current state of a conversation thread.
type Thread struct {
	ThreadID  string     `json:"thread_id"`
	Awaiting  bool       `json:"awaiting"`
	Busy      bool       `json:"busy"`
	Interrupt *Interrupt `json:"interrupt,omitempty"`
	Plans     []Plan     `json:"plans"`
}

// Turn is one persisted message of a thread.
type Turn struct {
	RunID     string `json:"run_id,omitempty"`
	Role      string `json:"role"`
	Content   string `json:"content"`
	CreatedAt string `json:"created_at"`
}

// Job is an asynchronously executed run or resume.
type Job struct {
	ID            string   `json:"id"`
	ThreadID      string   `json:"thread_id"`
	Kind          string   `json:"kind"`
	Request       string   `json:"request,omitempty"`
	ExternalInput string   `json:"external_input,omitempty"`
	Decision      string   `json:"decision,omitempty"`
	Status        string   `json:"status"`
	Attempts      int      `json:"attempts"`
	MaxRetries    int      `json:"max_retries"`
	LastError     string   `json:"last_error,omitempty"`
	ErrorCode     string   `json:"error_code,omitempty"`
	Outcome       *Outcome `json:"outcome,omitempty"`
	CreatedAt     int64    `json:"created_at"`
	UpdatedAt     int64    `json:"updated_at"`
}

// Finished reports whether the job reached a state the processor will not
// change on its own.
func (j *Job) Finished() bool {
	switch j.Status {
	case "succeeded", "waiting", "failed":
		return true
	}
	return false
}

// JobStats aggregates job counts by status.
type JobStats struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Running   int `json:"running"`
	Waiting   int `json:"waiting"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// JobFilter narrows job listings. Zero values are omitted.
type JobFilter struct {
	Statuses []string
	ThreadID string
	Kind     string
	Limit    int
	Offset   int
	Asc      bool
}
