package tool

import (
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ToolCall is a single unit of work: a tool name plus its arguments.
//
// Identity for resilience purposes is the Tool field only; Arguments are
// opaque to everything in this module and passed through untouched.
type ToolCall struct {
	// ID uniquely identifies this call. Assigned by NewCall when empty.
	ID string `json:"id,omitempty"`

	// Tool is the canonical name of the tool to invoke.
	Tool string `json:"tool"`

	// Arguments contains the tool-specific parameters.
	Arguments map[string]any `json:"arguments,omitempty"`
}

// NewCall creates a ToolCall with a generated ID.
func NewCall(name string, args map[string]any) ToolCall {
	return ToolCall{
		ID:        uuid.NewString(),
		Tool:      name,
		Arguments: args,
	}
}

// ToolResult records the outcome of one tool call.
type ToolResult struct {
	// ID matches the originating call's ID.
	ID string `json:"id,omitempty"`

	// Tool is the name of the tool that was called.
	Tool string `json:"tool"`

	// Result is the tool's output on success. Opaque to this module.
	Result any `json:"result,omitempty"`

	// Error is the failure message. Empty means the call succeeded; a
	// non-empty Error is the sole failure signal for resilience
	// bookkeeping.
	Error string `json:"error,omitempty"`

	// StartTime and EndTime bracket the call.
	StartTime time.Time `json:"startTime"`
	EndTime   time.Time `json:"endTime"`

	// Machine and PID identify the process that produced the result.
	Machine string `json:"machine,omitempty"`
	PID     int    `json:"pid,omitempty"`
}

var hostname = sync.OnceValue(func() string {
	h, _ := os.Hostname()
	return h
})

// NewResult creates a ToolResult for call with the start time and process
// identity stamped. Callers complete it with Finish or Fail.
func NewResult(call ToolCall) ToolResult {
	return ToolResult{
		ID:        call.ID,
		Tool:      call.Tool,
		StartTime: time.Now(),
		Machine:   hostname(),
		PID:       os.Getpid(),
	}
}

// Finish records a successful outcome and stamps the end time.
func (r *ToolResult) Finish(result any) {
	r.Result = result
	r.EndTime = time.Now()
}

// Fail records a failure and stamps the end time. A nil err marks the
// result finished without an error.
func (r *ToolResult) Fail(err error) {
	if err != nil {
		r.Error = err.Error()
	}
	r.EndTime = time.Now()
}

// Failed reports whether the call failed.
func (r ToolResult) Failed() bool {
	return r.Error != ""
}

// Duration returns how long the call took, or zero if it has not finished.
func (r ToolResult) Duration() time.Duration {
	if r.StartTime.IsZero() || r.EndTime.IsZero() {
		return 0
	}
	return r.EndTime.Sub(r.StartTime)
}
