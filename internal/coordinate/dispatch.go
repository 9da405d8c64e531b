package coordinate

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/sourcegraph/conc/pool"

	"github.com/nyasuto/hive/internal/comb"
	"github.com/nyasuto/hive/internal/hivelog"
	"github.com/nyasuto/hive/internal/pane"
	"github.com/nyasuto/hive/internal/template"
)

var log = hivelog.Get("coordinate")

// Coordinator wires together the durable message router, pane
// transport, and template protocol into the dispatch/evaluate/feedback
// cycle.
type Coordinator struct {
	Comb     *comb.Router
	Pane     *pane.Transport
	Watch    *WatchLog
	Assessor QualityAssessor

	source string // identity used as Message.From / Watch.source
}

// New returns a Coordinator. source identifies this coordinator as a
// message sender (conventionally "queen").
func New(source string, router *comb.Router, transport *pane.Transport, watch *WatchLog, assessor QualityAssessor) *Coordinator {
	if assessor == nil {
		assessor = StubAssessor{}
	}
	return &Coordinator{Comb: router, Pane: transport, Watch: watch, Assessor: assessor, source: source}
}

// SendTask formats task as a Task template line, delivers it through
// both the pane (live) and the message router (durable), and optionally
// awaits a pane response.
func (c *Coordinator) SendTask(ctx context.Context, task Task, opts DispatchOptions) TaskResult {
	c.Watch.Append(Event{Source: c.source, Target: task.TargetWorker, Kind: "send", Summary: "dispatch task", Context: map[string]any{"task_id": task.ID}})

	line, err := template.Format(template.KindTask, map[string]string{
		"id":          task.ID,
		"instruction": task.Instruction,
	})
	if err != nil {
		return c.failedResult(task, errors.Wrap(err, "coordinate: formatting task"))
	}

	if _, err := c.Comb.Send(comb.Message{
		From:      c.source,
		To:        task.TargetWorker,
		Kind:      comb.KindTaskAssignment,
		Priority:  comb.PriorityNormal,
		Body:      map[string]any{"task_id": task.ID, "instruction": task.Instruction},
		ExpiresAt: time.Now().Add(time.Hour),
	}); err != nil {
		return c.failedResult(task, errors.Wrap(err, "coordinate: durable send"))
	}

	if !opts.WaitForResponse {
		if err := c.Pane.SendLine(ctx, task.TargetWorker, line); err != nil {
			return c.failedResult(task, errors.Wrap(err, "coordinate: pane send"))
		}
		return TaskResult{TaskID: task.ID, Worker: task.TargetWorker, Status: StatusOK}
	}

	timeout := opts.ResponseTimeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	res, err := c.Pane.SendCommandAwait(ctx, task.TargetWorker, line, timeout)
	if err != nil {
		return c.failedResult(task, errors.Wrap(err, "coordinate: pane await"))
	}

	status := StatusOK
	if !res.OK {
		status = StatusError
	}

	c.Watch.Append(Event{Source: task.TargetWorker, Target: c.source, Kind: "receive", Summary: "task response", Context: map[string]any{"task_id": task.ID, "ok": res.OK}})

	return TaskResult{TaskID: task.ID, Worker: task.TargetWorker, Status: status, Response: res.Response}
}

func (c *Coordinator) failedResult(task Task, err error) TaskResult {
	log.Warn("dispatch failed", "task_id", task.ID, "worker", task.TargetWorker, "error", err.Error())
	return TaskResult{TaskID: task.ID, Worker: task.TargetWorker, Status: StatusError, Err: err}
}

// SendParallel fans tasks out concurrently via a bounded worker pool. An
// individual task's failure becomes an Error-status result; it never
// cancels the rest of the batch.
func (c *Coordinator) SendParallel(ctx context.Context, tasks []Task, opts DispatchOptions) []TaskResult {
	c.Watch.Append(Event{Source: c.source, Kind: "parallel_begin", Summary: "parallel batch begin", Context: map[string]any{"count": len(tasks)}})

	p := pool.NewWithResults[TaskResult]().WithMaxGoroutines(maxParallelism(len(tasks)))
	for _, task := range tasks {
		task := task
		p.Go(func() TaskResult {
			return c.SendTask(ctx, task, opts)
		})
	}
	results := p.Wait()

	c.Watch.Append(Event{Source: c.source, Kind: "parallel_end", Summary: "parallel batch end", Context: map[string]any{"count": len(results)}})
	return results
}

func maxParallelism(n int) int {
	if n <= 0 {
		return 1
	}
	if n > 16 {
		return 16
	}
	return n
}
