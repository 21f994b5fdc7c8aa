// Package threshold compares snapshot resource usage against configured
// limits. The evaluator is memoryless: it is invoked fresh each fast cycle,
// so a metric that stays above its threshold fires on every cycle. Rate
// limiting of repeated alerts is deliberately not done here.
package threshold

import (
	"fmt"

	"github.com/hazyhaar/hostwatch/snapshot"
)

// Thresholds holds the configured limits in percent. A zero (or negative)
// value disables that metric's check.
type Thresholds struct {
	CPUPercent  float64
	RAMPercent  float64
	DiskPercent float64
}

// Breach is one metric observed strictly above its threshold.
type Breach struct {
	Metric  string // "cpu", "ram", or "disk:<mount>"
	Value   float64
	Message string
}

// Evaluate checks the snapshot's usage against th. A metric exactly at its
// threshold is not a breach; only strict excess fires. Metrics whose sample
// failed (OK=false) are skipped.
func Evaluate(snap *snapshot.Snapshot, th Thresholds) []Breach {
	var breaches []Breach

	if th.CPUPercent > 0 && snap.Usage.CPU.OK && snap.Usage.CPU.Percent > th.CPUPercent {
		breaches = append(breaches, Breach{
			Metric:  "cpu",
			Value:   snap.Usage.CPU.Percent,
			Message: fmt.Sprintf("CPU usage: %.1f%%", snap.Usage.CPU.Percent),
		})
	}

	if th.RAMPercent > 0 && snap.Usage.RAM.OK && snap.Usage.RAM.Percent > th.RAMPercent {
		breaches = append(breaches, Breach{
			Metric:  "ram",
			Value:   snap.Usage.RAM.Percent,
			Message: fmt.Sprintf("RAM usage: %.1f%%", snap.Usage.RAM.Percent),
		})
	}

	if th.DiskPercent > 0 && snap.Usage.Disks.OK {
		for _, d := range snap.Usage.Disks.Items {
			if d.Percent > th.DiskPercent {
				breaches = append(breaches, Breach{
					Metric:  "disk:" + d.Mount,
					Value:   d.Percent,
					Message: fmt.Sprintf("disk usage on %s: %.1f%%", d.Mount, d.Percent),
				})
			}
		}
	}

	return breaches
}
