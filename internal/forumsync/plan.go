package forumsync

import (
	"context"
	"sort"
)

// Task is the sync engine's view of one tracked task.
type Task struct {
	ShortID  string
	Title    string
	ThreadID string
	Closed   bool
}

// TaskSource supplies the task snapshot for phase 5.
type TaskSource interface {
	Tasks(ctx context.Context) ([]Task, error)
}

// TaskOpKind enumerates planned task reconciliation operations.
type TaskOpKind string

const (
	OpArchive       TaskOpKind = "archive"
	OpUnarchive     TaskOpKind = "unarchive"
	OpWarnCollision TaskOpKind = "warn-collision"
)

// TaskOp is one planned operation.
type TaskOp struct {
	Kind     TaskOpKind
	ShortID  string
	ThreadID string
}

// ThreadState is the archival snapshot the planner works from.
type ThreadState struct {
	Archived bool
}

// PlanTaskOps computes the operations reconciling task open/closed state
// with thread archival. Pure function of its inputs: collisions first
// (every task past the first claimant of a short-ID), then archive closed
// tasks whose threads are open, then unarchive open tasks whose threads are
// archived. Output order is deterministic.
func PlanTaskOps(tasks []Task, threads map[string]ThreadState) []TaskOp {
	sorted := append([]Task(nil), tasks...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].ShortID != sorted[j].ShortID {
			return sorted[i].ShortID < sorted[j].ShortID
		}
		return sorted[i].ThreadID < sorted[j].ThreadID
	})

	var ops []TaskOp
	claimed := make(map[string]bool)
	for _, task := range sorted {
		if task.ShortID != "" && claimed[task.ShortID] {
			ops = append(ops, TaskOp{Kind: OpWarnCollision, ShortID: task.ShortID, ThreadID: task.ThreadID})
			continue
		}
		claimed[task.ShortID] = true

		state, ok := threads[task.ThreadID]
		if !ok {
			continue
		}
		switch {
		case task.Closed && !state.Archived:
			ops = append(ops, TaskOp{Kind: OpArchive, ShortID: task.ShortID, ThreadID: task.ThreadID})
		case !task.Closed && state.Archived:
			ops = append(ops, TaskOp{Kind: OpUnarchive, ShortID: task.ShortID, ThreadID: task.ThreadID})
		}
	}
	return ops
}
