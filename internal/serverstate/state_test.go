package serverstate

import "testing"

func TestTrackerMemory(t *testing.T) {
	tr := NewTracker(nil)

	if got := tr.Status(); got != StatusNotReady {
		t.Fatalf("initial state = %q; want %q", got, StatusNotReady)
	}
	if tr.IsDraining() {
		t.Fatalf("initial draining = true; want false")
	}

	tr.Observe(2)
	if got := tr.Status(); got != StatusReady {
		t.Fatalf("state with clients = %q; want %q", got, StatusReady)
	}
	tr.Observe(0)
	if got := tr.Status(); got != StatusNotReady {
		t.Fatalf("state without clients = %q; want %q", got, StatusNotReady)
	}

	tr.Observe(1)
	tr.StartDrain()
	if got := tr.Status(); got != StatusDraining {
		t.Fatalf("state after StartDrain = %q; want %q", got, StatusDraining)
	}
	tr.Observe(3)
	if got := tr.State(); got.Status != StatusDraining || got.ActiveClients != 3 {
		t.Fatalf("drain must stick: %+v", got)
	}
	if !tr.IsDraining() {
		t.Fatalf("IsDraining = false; want true")
	}
}
