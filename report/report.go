// Package report renders a snapshot into the plain-text scheduled report.
// Sections whose collection failed are omitted entirely rather than shown
// empty, so a flaky collector degrades the report instead of garbling it.
package report

import (
	"fmt"
	"sort"
	"strings"

	"github.com/hazyhaar/hostwatch/snapshot"
)

// topProcesses caps the process section at the busiest entries.
const topProcesses = 10

// Build renders the full report for one snapshot.
func Build(snap *snapshot.Snapshot) string {
	var b strings.Builder

	fmt.Fprintf(&b, "host report: %s\n", snap.Hostname)
	fmt.Fprintf(&b, "taken: %s\n", snap.Taken.Format("2006-01-02 15:04:05 MST"))

	writeUsage(&b, snap)
	writeSessions(&b, snap)
	writeProcesses(&b, snap)
	writeDevices(&b, snap)

	return strings.TrimRight(b.String(), "\n")
}

func writeUsage(b *strings.Builder, snap *snapshot.Snapshot) {
	u := snap.Usage
	if !u.CPU.OK && !u.RAM.OK && !u.Disks.OK {
		return
	}
	b.WriteString("\nusage:\n")
	if u.CPU.OK {
		fmt.Fprintf(b, "  cpu: %.1f%%\n", u.CPU.Percent)
	}
	if u.RAM.OK {
		fmt.Fprintf(b, "  ram: %.1f%%\n", u.RAM.Percent)
	}
	if u.Disks.OK {
		for _, d := range u.Disks.Items {
			fmt.Fprintf(b, "  disk %s: %.1f%%\n", d.Mount, d.Percent)
		}
	}
}

func writeSessions(b *strings.Builder, snap *snapshot.Snapshot) {
	if !snap.Sessions.OK {
		return
	}
	fmt.Fprintf(b, "\nsessions (%d):\n", len(snap.Sessions.Items))
	for _, s := range snap.Sessions.Items {
		line := fmt.Sprintf("  %s on %s", s.User, s.TTY)
		if s.Host != "" {
			line += " from " + s.Host
		}
		b.WriteString(line + "\n")
	}
}

func writeProcesses(b *strings.Builder, snap *snapshot.Snapshot) {
	if !snap.Processes.OK {
		return
	}
	procs := make([]snapshot.Process, len(snap.Processes.Items))
	copy(procs, snap.Processes.Items)
	sort.SliceStable(procs, func(i, j int) bool {
		return procs[i].CPUPercent > procs[j].CPUPercent
	})
	if len(procs) > topProcesses {
		procs = procs[:topProcesses]
	}
	fmt.Fprintf(b, "\nprocesses (top %d of %d by cpu):\n", len(procs), len(snap.Processes.Items))
	for _, p := range procs {
		fmt.Fprintf(b, "  %-20s pid %-6d cpu %5.1f%%  mem %5.1f%%\n",
			p.Name, p.PID, p.CPUPercent, p.MemPercent)
	}
}

func writeDevices(b *strings.Builder, snap *snapshot.Snapshot) {
	if !snap.Devices.OK {
		return
	}
	fmt.Fprintf(b, "\nusb devices (%d):\n", len(snap.Devices.Items))
	for _, d := range snap.Devices.Items {
		fmt.Fprintf(b, "  %s (%s)\n", d.Name, d.ID())
	}
}
