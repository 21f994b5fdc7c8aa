package baseline

import (
	"testing"

	"github.com/hazyhaar/hostwatch/snapshot"
)

func procSnap(names ...string) *snapshot.Snapshot {
	procs := make([]snapshot.Process, len(names))
	for i, n := range names {
		procs[i] = snapshot.Process{Name: n, PID: int32(i + 100)}
	}
	return &snapshot.Snapshot{Processes: snapshot.Sampled(procs)}
}

func deviceSnap(devs ...snapshot.Device) *snapshot.Snapshot {
	return &snapshot.Snapshot{Devices: snapshot.Sampled(devs)}
}

func TestUpdate_NewProcesses(t *testing.T) {
	tr := NewTracker()
	tr.Initialize(procSnap("bash", "chrome"))

	changes := tr.Update(procSnap("bash", "chrome", "xmrig"))
	if len(changes) != 1 {
		t.Fatalf("changes: got %d, want 1", len(changes))
	}
	if changes[0].Kind != NewProcess || changes[0].Process != "xmrig" {
		t.Errorf("change: got %v %q, want NewProcess xmrig", changes[0].Kind, changes[0].Process)
	}
}

func TestUpdate_BaselineReplacedNotUnioned(t *testing.T) {
	tr := NewTracker()
	tr.Initialize(procSnap("a", "b", "c"))

	// b and c vanish; no events for disappearance.
	if got := tr.Update(procSnap("a")); len(got) != 0 {
		t.Fatalf("disappearance produced events: %v", got)
	}

	// b returns: it must be reported as new again since the baseline is a
	// rolling last-observed set.
	changes := tr.Update(procSnap("a", "b"))
	if len(changes) != 1 || changes[0].Process != "b" {
		t.Fatalf("returning process: got %v, want one NewProcess b", changes)
	}
}

func TestUpdate_EventOrderFollowsSnapshot(t *testing.T) {
	tr := NewTracker()
	tr.Initialize(procSnap())

	changes := tr.Update(procSnap("zeta", "alpha", "mid"))
	want := []string{"zeta", "alpha", "mid"}
	if len(changes) != len(want) {
		t.Fatalf("changes: got %d, want %d", len(changes), len(want))
	}
	for i, w := range want {
		if changes[i].Process != w {
			t.Errorf("changes[%d]: got %q, want %q", i, changes[i].Process, w)
		}
	}
}

func TestUpdate_DuplicateNamesReportedOnce(t *testing.T) {
	tr := NewTracker()
	tr.Initialize(procSnap("bash"))

	changes := tr.Update(procSnap("bash", "worker", "worker", "worker"))
	if len(changes) != 1 || changes[0].Process != "worker" {
		t.Fatalf("duplicates: got %v, want one NewProcess worker", changes)
	}
}

func TestUpdate_FailedSectionLeavesBaselineUntouched(t *testing.T) {
	tr := NewTracker()
	tr.Initialize(procSnap("bash", "chrome"))

	failed := &snapshot.Snapshot{Processes: snapshot.Missing[snapshot.Process]()}
	if got := tr.Update(failed); len(got) != 0 {
		t.Fatalf("failed section produced events: %v", got)
	}
	if tr.KnownProcesses() != 2 {
		t.Errorf("baseline size after failure: got %d, want 2", tr.KnownProcesses())
	}

	// Recovery: the old baseline still applies, so only the genuinely new
	// process fires.
	changes := tr.Update(procSnap("bash", "chrome", "vim"))
	if len(changes) != 1 || changes[0].Process != "vim" {
		t.Fatalf("post-failure diff: got %v, want one NewProcess vim", changes)
	}
}

func TestUpdate_Devices(t *testing.T) {
	stick := snapshot.Device{VendorID: "0781", ProductID: "5567", Serial: "4C5300", Name: "SanDisk Cruzer"}
	mouse := snapshot.Device{VendorID: "046d", ProductID: "c077", Serial: "", Name: "Logitech Mouse"}

	tr := NewTracker()
	tr.Initialize(deviceSnap(mouse))

	changes := tr.Update(deviceSnap(mouse, stick))
	if len(changes) != 1 {
		t.Fatalf("changes: got %d, want 1", len(changes))
	}
	if changes[0].Kind != NewDevice {
		t.Fatalf("kind: got %v, want NewDevice", changes[0].Kind)
	}
	// The full device record is carried, not just the id.
	if changes[0].Device.Name != "SanDisk Cruzer" {
		t.Errorf("device name: got %q", changes[0].Device.Name)
	}
	if tr.KnownDevices() != 2 {
		t.Errorf("known devices: got %d, want 2", tr.KnownDevices())
	}
}

func TestInitialize_Idempotent(t *testing.T) {
	snap := procSnap("bash", "sshd")

	tr := NewTracker()
	tr.Initialize(snap)
	first := tr.KnownProcesses()
	tr.Initialize(snap)
	if tr.KnownProcesses() != first {
		t.Errorf("second Initialize changed baseline: %d -> %d", first, tr.KnownProcesses())
	}
	if got := tr.Update(snap); len(got) != 0 {
		t.Errorf("Update after Initialize with same snapshot: got %v, want none", got)
	}
}

func TestInitialize_NoEventsForSeededState(t *testing.T) {
	tr := NewTracker()
	tr.Initialize(procSnap("a", "b"))
	if tr.KnownProcesses() != 2 {
		t.Fatalf("seeded baseline: got %d, want 2", tr.KnownProcesses())
	}
}
