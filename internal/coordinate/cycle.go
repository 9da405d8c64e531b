package coordinate

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/nyasuto/hive/internal/comb"
)

// CycleOptions bounds a RunCycle invocation.
type CycleOptions struct {
	MaxIterations    int
	QualityThreshold int
	// Cancel, if non-nil, is checked between iterations only —
	// cancellation is cooperative, never a hard interrupt mid-iteration.
	Cancel <-chan struct{}
}

// RunCycle drives the iterative dispatch → execute → evaluate → feedback
// loop until the quality gate passes or the iteration budget is
// exhausted.
func (c *Coordinator) RunCycle(ctx context.Context, spec Task, opts CycleOptions) CycleResult {
	maxIter := opts.MaxIterations
	if maxIter <= 0 {
		maxIter = 1
	}

	runningTotal := decimal.Zero
	lastScore := 0

	for i := 1; i <= maxIter; i++ {
		select {
		case <-opts.Cancel:
			return CycleResult{Success: false, Iterations: i - 1, LastScore: lastScore, Reason: "cancelled"}
		default:
		}

		spec.IterationIndex = i
		spec.MaxIterations = maxIter
		spec.QualityThreshold = opts.QualityThreshold

		c.Watch.Append(Event{Source: c.source, Target: spec.TargetWorker, Kind: "cycle_iteration_begin", Summary: fmt.Sprintf("iteration %d begin", i), Context: map[string]any{"task_id": spec.ID}})

		result := c.SendTask(ctx, spec, DispatchOptions{WaitForResponse: true, ResponseTimeout: 30 * time.Second})

		assessment := c.assess(spec, result)
		lastScore = assessment.Score
		runningTotal = runningTotal.Add(decimal.NewFromInt(int64(assessment.Score)))
		average := runningTotal.Div(decimal.NewFromInt(int64(i)))

		c.Watch.Append(Event{
			Source: c.source, Target: spec.TargetWorker, Kind: "cycle_iteration_end",
			Summary: fmt.Sprintf("iteration %d score=%d", i, assessment.Score),
			Context: map[string]any{"task_id": spec.ID, "score": assessment.Score, "running_average": average.StringFixed(2)},
		})

		if assessment.Score >= opts.QualityThreshold {
			c.approve(ctx, spec, assessment)
			return CycleResult{Success: true, Iterations: i, Score: assessment.Score, LastScore: assessment.Score}
		}

		c.feedback(ctx, spec, assessment)
		spec.Instruction = enrichWithFeedback(spec.Instruction, i, assessment)
	}

	return CycleResult{Success: false, Iterations: maxIter, LastScore: lastScore, Reason: "max_iterations_exceeded"}
}

// assess invokes the pluggable QualityAssessor, treating a panic as a
// score of 0 with a synthetic issue rather than abandoning the cycle.
func (c *Coordinator) assess(task Task, result TaskResult) (assessment QualityAssessment) {
	defer func() {
		if r := recover(); r != nil {
			assessment = QualityAssessment{Score: 0, Issues: []string{fmt.Sprintf("assessor failed: %v", r)}}
		}
	}()

	if result.Status == StatusError {
		return QualityAssessment{Score: 0, Issues: []string{"dispatch failed: " + errString(result.Err)}}
	}
	return c.Assessor.Assess(task, result)
}

func errString(err error) string {
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}

func (c *Coordinator) approve(ctx context.Context, spec Task, assessment QualityAssessment) {
	if _, err := c.Comb.Notify(c.source, spec.TargetWorker, map[string]any{
		"task_id": spec.ID,
		"score":   assessment.Score,
	}, comb.PriorityHigh); err != nil {
		log.Warn("approval notify failed", "task_id", spec.ID, "error", err.Error())
	}
}

func (c *Coordinator) feedback(ctx context.Context, spec Task, assessment QualityAssessment) {
	if _, err := c.Comb.Notify(c.source, spec.TargetWorker, map[string]any{
		"task_id":     spec.ID,
		"score":       assessment.Score,
		"issues":      assessment.Issues,
		"suggestions": assessment.Suggestions,
	}, comb.PriorityNormal); err != nil {
		log.Warn("feedback notify failed", "task_id", spec.ID, "error", err.Error())
	}
}

func enrichWithFeedback(instruction string, iteration int, assessment QualityAssessment) string {
	var b strings.Builder
	b.WriteString(instruction)
	b.WriteString(fmt.Sprintf("\n\n[iteration %d feedback] previous score: %d", iteration, assessment.Score))
	if len(assessment.Issues) > 0 {
		b.WriteString("; issues: " + strings.Join(assessment.Issues, ", "))
	}
	if len(assessment.Suggestions) > 0 {
		b.WriteString("; suggestions: " + strings.Join(assessment.Suggestions, ", "))
	}
	return b.String()
}
