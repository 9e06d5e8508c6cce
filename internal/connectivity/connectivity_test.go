package connectivity

import (
	"testing"
)

func TestBandBasic(t *testing.T) {
	tests := []struct {
		in   Band
		want Band
	}{
		{NotConnected, NotConnected},
		{Connecting, Connecting},
		{Connecting + 500, Connecting},
		{Working + 999, Working},
		{Connected, Connected},
	}
	for _, tt := range tests {
		if got := tt.in.Basic(); got != tt.want {
			t.Errorf("Basic(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestAggregateIsWorstBand(t *testing.T) {
	tr := NewTracker(nil)

	if got := tr.Aggregate(); got != NotConnected {
		t.Fatalf("empty tracker aggregate = %v, want not-connected", got)
	}

	tr.Report(TaskInbox, Connected)
	tr.Report(TaskSender, Connecting)
	tr.Report(TaskScheduler, Connected)
	if got := tr.Aggregate().Basic(); got != Connecting {
		t.Errorf("aggregate = %v, want connecting while one task still connects", got)
	}

	tr.Report(TaskSender, Working)
	if got := tr.Aggregate().Basic(); got != Working {
		t.Errorf("aggregate = %v, want working", got)
	}

	tr.Report(TaskSender, Connected)
	if got := tr.Aggregate().Basic(); got != Connected {
		t.Errorf("aggregate = %v, want connected once all tasks are", got)
	}
}

func TestUnreportedTasksCountAsNotConnected(t *testing.T) {
	tr := NewTracker(nil)

	tr.Report(TaskInbox, Connected)
	if got := tr.Aggregate(); got != NotConnected {
		t.Fatalf("aggregate with one of three tasks reporting = %v, want not-connected", got)
	}

	tr.Report(TaskSender, Connected)
	if got := tr.Aggregate(); got != NotConnected {
		t.Fatalf("aggregate with two of three tasks reporting = %v, want not-connected", got)
	}

	tr.Report(TaskScheduler, Connected)
	if got := tr.Aggregate(); got != Connected {
		t.Errorf("aggregate with all tasks connected = %v, want connected", got)
	}
}

func TestOnChangeFiresOnBandTransitionsOnly(t *testing.T) {
	var fired []Band
	tr := NewTracker(func(b Band) { fired = append(fired, b) })

	tr.Report(TaskInbox, Connecting)
	tr.Report(TaskSender, Connecting)
	tr.Report(TaskScheduler, Connecting) // not-connected -> connecting
	tr.Report(TaskInbox, Connecting)     // no change
	tr.Report(TaskInbox, Connecting+100) // same band, finer progress
	tr.Report(TaskInbox, Connected)      // inbox done, others still connecting
	tr.Report(TaskSender, Connected)     // no change yet
	tr.Report(TaskScheduler, Connected)  // connecting -> connected

	want := []Band{Connecting, Connected}
	if len(fired) != len(want) {
		t.Fatalf("onChange fired %d times (%v), want %d", len(fired), fired, len(want))
	}
	for i := range want {
		if fired[i].Basic() != want[i] {
			t.Errorf("transition %d = %v, want %v", i, fired[i], want[i])
		}
	}
}

func TestResetDropsToNotConnected(t *testing.T) {
	var fired []Band
	tr := NewTracker(func(b Band) { fired = append(fired, b) })

	tr.Report(TaskInbox, Connected)
	tr.Report(TaskSender, Connected)
	tr.Report(TaskScheduler, Connected)
	tr.Reset()
	if got := tr.Aggregate(); got != NotConnected {
		t.Errorf("aggregate after reset = %v, want not-connected", got)
	}
	if len(fired) != 2 || fired[1] != NotConnected {
		t.Errorf("onChange calls = %v, want [connected not-connected]", fired)
	}

	// Resetting an already empty tracker stays silent.
	fired = nil
	tr.Reset()
	if len(fired) != 0 {
		t.Errorf("reset of empty tracker fired onChange: %v", fired)
	}
}
