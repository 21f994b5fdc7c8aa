// Package baseline tracks the last-observed process and USB device sets and
// turns fresh snapshots into change events.
//
// The tracker is a rolling "last observed" record, not a history: after every
// Update the known sets equal exactly the snapshot's sets. Only additions are
// reported — a process or device that disappears is not an event.
package baseline

import (
	"github.com/hazyhaar/hostwatch/snapshot"
)

// Kind classifies a change event.
type Kind int

const (
	NewProcess Kind = iota
	NewDevice
)

// String returns "new_process" or "new_device".
func (k Kind) String() string {
	if k == NewProcess {
		return "new_process"
	}
	return "new_device"
}

// Change is one detected addition relative to the baseline. For NewProcess
// only Process is set; for NewDevice the full device record is carried.
type Change struct {
	Kind    Kind
	Process string
	Device  snapshot.Device
}

// Tracker owns the baseline state. It is not safe for concurrent use: the
// engine is the single writer, updating it exactly once per cycle.
type Tracker struct {
	procs   map[string]struct{}
	devices map[string]struct{}
}

// NewTracker returns an empty tracker. The first Update against an empty
// tracker reports every process and device as new; call Initialize first to
// seed the baseline silently.
func NewTracker() *Tracker {
	return &Tracker{
		procs:   make(map[string]struct{}),
		devices: make(map[string]struct{}),
	}
}

// Initialize replaces both known sets from the snapshot without emitting
// events. Idempotent. Sections with OK=false leave the corresponding set
// untouched.
func (t *Tracker) Initialize(snap *snapshot.Snapshot) {
	if snap.Processes.OK {
		t.procs = procSet(snap.Processes.Items)
	}
	if snap.Devices.OK {
		t.devices = deviceSet(snap.Devices.Items)
	}
}

// Update diffs the snapshot against the baseline and returns one Change per
// process name or device id present now but unknown before, in snapshot
// iteration order. Afterwards the known sets are replaced (not unioned) by
// the snapshot's sets.
//
// A section with OK=false is "no information": it produces no events and
// leaves the existing baseline for that set untouched, so a flaky collector
// cannot wipe the baseline and manufacture a flood of false additions on
// the next good sample.
func (t *Tracker) Update(snap *snapshot.Snapshot) []Change {
	var changes []Change

	if snap.Processes.OK {
		seen := make(map[string]struct{}, len(snap.Processes.Items))
		for _, p := range snap.Processes.Items {
			if _, dup := seen[p.Name]; dup {
				continue
			}
			seen[p.Name] = struct{}{}
			if _, known := t.procs[p.Name]; !known {
				changes = append(changes, Change{Kind: NewProcess, Process: p.Name})
			}
		}
		t.procs = seen
	}

	if snap.Devices.OK {
		seen := make(map[string]struct{}, len(snap.Devices.Items))
		for _, d := range snap.Devices.Items {
			id := d.ID()
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			if _, known := t.devices[id]; !known {
				changes = append(changes, Change{Kind: NewDevice, Device: d})
			}
		}
		t.devices = seen
	}

	return changes
}

// KnownProcesses returns the current baseline process-name set size.
func (t *Tracker) KnownProcesses() int { return len(t.procs) }

// KnownDevices returns the current baseline device set size.
func (t *Tracker) KnownDevices() int { return len(t.devices) }

func procSet(procs []snapshot.Process) map[string]struct{} {
	s := make(map[string]struct{}, len(procs))
	for _, p := range procs {
		s[p.Name] = struct{}{}
	}
	return s
}

func deviceSet(devices []snapshot.Device) map[string]struct{} {
	s := make(map[string]struct{}, len(devices))
	for _, d := range devices {
		s[d.ID()] = struct{}{}
	}
	return s
}
