// Package connectivity tracks the aggregate network health of one
// account's background tasks.
package connectivity

import (
	"sync"
)

// Band is one of four ordered network-health levels. The exact integer
// inside a band may encode finer progress; callers must compare bands via
// Basic, never exact values.
type Band int32

const (
	NotConnected Band = 1000
	Connecting   Band = 2000
	Working      Band = 3000
	Connected    Band = 4000
)

// Basic strips finer progress so bands compare across versions.
func (b Band) Basic() Band { return (b / 1000) * 1000 }

func (b Band) String() string {
	switch b.Basic() {
	case NotConnected:
		return "not-connected"
	case Connecting:
		return "connecting"
	case Working:
		return "working"
	case Connected:
		return "connected"
	default:
		return "unknown"
	}
}

// Task names one mandatory background task whose status feeds the
// aggregate.
type Task string

const (
	TaskInbox     Task = "inbox"
	TaskSender    Task = "sender"
	TaskScheduler Task = "scheduler"
)

// mandatoryTasks all count towards the aggregate; one that has not
// reported yet counts as NotConnected.
var mandatoryTasks = []Task{TaskInbox, TaskSender, TaskScheduler}

// Tracker aggregates per-task bands into the worst band currently active.
// A single fully-connected task is insufficient while any other mandatory
// task is still connecting.
type Tracker struct {
	mu       sync.Mutex
	tasks    map[Task]Band
	onChange func(Band)
}

// NewTracker creates a tracker. onChange fires, without the internal lock
// held, whenever the aggregate band changes; it may be nil.
func NewTracker(onChange func(Band)) *Tracker {
	return &Tracker{
		tasks:    make(map[Task]Band),
		onChange: onChange,
	}
}

// Report records the band of one task and fires onChange if the aggregate
// moved to a different band.
func (t *Tracker) Report(task Task, band Band) {
	t.mu.Lock()
	before := t.aggregateLocked()
	t.tasks[task] = band
	after := t.aggregateLocked()
	t.mu.Unlock()

	if before.Basic() != after.Basic() && t.onChange != nil {
		t.onChange(after)
	}
}

// Reset forgets all task reports, dropping the aggregate back to
// NotConnected.
func (t *Tracker) Reset() {
	t.mu.Lock()
	before := t.aggregateLocked()
	t.tasks = make(map[Task]Band)
	t.mu.Unlock()

	if before.Basic() != NotConnected && t.onChange != nil {
		t.onChange(NotConnected)
	}
}

// Aggregate returns the worst band over all mandatory tasks.
func (t *Tracker) Aggregate() Band {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.aggregateLocked()
}

func (t *Tracker) aggregateLocked() Band {
	worst := Connected
	for _, task := range mandatoryTasks {
		b, ok := t.tasks[task]
		if !ok {
			b = NotConnected
		}
		if b < worst {
			worst = b
		}
	}
	return worst
}
