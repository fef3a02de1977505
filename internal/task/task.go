// Package task defines the Task (work unit) type from spec §3.
package task

import "fmt"

// Strictness qualifies a targeted task: Hard means only the exact target
// (or, with node Accuracy, its host) may run it; Soft is a preference
// only.
type Strictness int

const (
	Hard Strictness = iota
	Soft
)

// Accuracy qualifies a targeted task: Rank means target is a single
// worker rank; Node names any worker on the same host as target. The
// work queue does not distinguish the two: a Node task is held for, and
// dispatched to, its exact target rank only.
type Accuracy int

const (
	RankAccuracy Accuracy = iota
	NodeAccuracy
)

// ANY is the sentinel target rank meaning "no specific target".
const ANY = -1

// ControlType is the reserved task type used to encode close
// notifications as ordinary targeted work units (spec §4.E, Glossary
// "Control work-type"), so the notification engine's deliveries ride the
// same work queue / request queue dispatch path as any other task.
//
// It deliberately falls outside the [0, numTypes) range Validate checks:
// control-work tasks are synthesized server-side by internal/notify and
// enqueued directly into internal/workqueue, never submitted by a client
// through put, so they never pass through Validate.
const ControlType = -2

// ControlPriority is the priority assigned to control-work tasks: always
// the highest possible, so a close notification is never starved behind
// ordinary work for the same target rank.
const ControlPriority = 1<<31 - 1

// ID is a server-local monotonic task identifier, used only for internal
// bookkeeping (spec §3).
type ID uint64

// Task is one schedulable unit of computation.
type Task struct {
	ID          ID
	Type        int
	Priority    int32
	Putter      int
	Answer      int
	Target      int
	Strictness  Strictness
	Accuracy    Accuracy
	Parallelism int
	Payload     []byte
}

// Targeted reports whether the task has a specific target rank.
func (t *Task) Targeted() bool { return t.Target != ANY }

// Parallel reports whether the task requires more than one worker.
func (t *Task) Parallel() bool { return t.Parallelism > 1 }

// Validate checks the invariants from spec §3: type in [0,T), parallelism
// >= 1, hard-targeted tasks have a real target, and parallel tasks are
// never targeted. numTypes <= 0 means no type was ever declared (T=0),
// so every type is out of range: this fails closed, it does not skip
// the check.
func (t *Task) Validate(numTypes int) error {
	if numTypes <= 0 || t.Type < 0 || t.Type >= numTypes {
		return fmt.Errorf("task: type %d out of range [0,%d)", t.Type, numTypes)
	}
	if t.Parallelism < 1 {
		return fmt.Errorf("task: parallelism must be >= 1, got %d", t.Parallelism)
	}
	if t.Strictness == Hard && t.Target == ANY {
		return fmt.Errorf("task: hard-targeted task must have a concrete target")
	}
	if t.Parallelism > 1 && t.Targeted() {
		return fmt.Errorf("task: parallel tasks (parallelism=%d) must not be targeted", t.Parallelism)
	}
	return nil
}
