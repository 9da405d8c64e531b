// Package coordinate drives the iterative dispatch/execute/evaluate/
// feedback cycle (C6): single and parallel task dispatch, quality-gated
// iteration, and the Watch structural log. Each TaskResult carries the
// TaskID it was dispatched for; dispatch does not fill in
// TaskResult.CorrelationID or match responses by message correlation ID.
package coordinate

import "time"

// Status is the outcome of a dispatched task.
type Status string

const (
	StatusOK    Status = "OK"
	StatusError Status = "Error"
)

// Task is a unit of work handed to a worker.
type Task struct {
	ID              string
	TargetWorker    string
	Instruction     string
	Deadline        time.Time
	IterationIndex  int
	MaxIterations   int
	QualityThreshold int
}

// TaskResult is what comes back from a dispatched Task.
type TaskResult struct {
	TaskID        string
	Worker        string
	Status        Status
	Response      string
	CorrelationID string
	Err           error
}

// DispatchOptions configures a single-shot SendTask call.
type DispatchOptions struct {
	Kind              string
	WaitForResponse   bool
	ResponseTimeout   time.Duration
}

// CycleResult is the outcome of a full run_cycle invocation.
type CycleResult struct {
	Success    bool
	Iterations int
	Score      int
	LastScore  int
	Reason     string
}

// QualityAssessment is what a QualityAssessor returns for one
// iteration's artifacts.
type QualityAssessment struct {
	Score       int
	Issues      []string
	Suggestions []string
}

// QualityAssessor evaluates a task/result pair and returns a score in
// [0,100]. The default implementation is a stub; production collaborators
// supply their own.
type QualityAssessor interface {
	Assess(task Task, result TaskResult) QualityAssessment
}

// StubAssessor always returns a fixed passing-adjacent score with no
// issues. It exists so the loop is runnable before a real assessor is
// wired in.
type StubAssessor struct {
	Score int
}

// Assess implements QualityAssessor.
func (s StubAssessor) Assess(Task, TaskResult) QualityAssessment {
	score := s.Score
	if score == 0 {
		score = 50
	}
	return QualityAssessment{Score: score}
}
