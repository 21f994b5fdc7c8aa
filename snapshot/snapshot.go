// Package snapshot defines the point-in-time host state model that the
// monitoring engine samples, and the Provider interface it samples through.
//
// A Snapshot is immutable once returned by a Provider: the cycle that
// requested it is its only reader, and nothing retains it beyond the cycle
// except what the baseline tracker copies into its own state.
//
// Every sampled section carries an OK flag so that "the collector failed"
// is distinguishable from "the collector ran and found nothing". Consumers
// must treat OK=false as no information, never as an empty result.
package snapshot

import (
	"fmt"
	"time"
)

// Section wraps one sampled slice with its collection outcome.
type Section[T any] struct {
	OK    bool
	Items []T
}

// Sampled returns a successfully collected section.
func Sampled[T any](items []T) Section[T] {
	return Section[T]{OK: true, Items: items}
}

// Missing returns a failed section: no information, not an empty result.
func Missing[T any]() Section[T] {
	return Section[T]{}
}

// Metric is a single sampled percentage with its collection outcome.
type Metric struct {
	OK      bool
	Percent float64
}

// DiskUsage is the fill percentage of one mounted filesystem.
type DiskUsage struct {
	Mount   string
	Percent float64
}

// Usage holds the resource-usage portion of a snapshot.
type Usage struct {
	CPU   Metric
	RAM   Metric
	Disks Section[DiskUsage]
}

// Process is one running process at sample time.
type Process struct {
	PID        int32
	Name       string
	Username   string
	CPUPercent float64
	MemPercent float32
}

// Device is one attached USB device. Identity is the vendor:product:serial
// triple, which survives re-enumeration across bus resets.
type Device struct {
	VendorID  string
	ProductID string
	Serial    string
	Name      string
}

// ID returns the stable device identity used for baseline diffing.
func (d Device) ID() string {
	return fmt.Sprintf("%s:%s:%s", d.VendorID, d.ProductID, d.Serial)
}

// Session is one active login session.
type Session struct {
	User    string
	TTY     string
	Host    string
	Started time.Time
}

// LoginEvent is one recent login attempt from the host's login records.
type LoginEvent struct {
	User   string
	TTY    string
	Host   string
	At     time.Time
	Failed bool
}

// Connection is one TCP connection with its owning process, as far as the
// collector could resolve it.
type Connection struct {
	State      string // e.g. "ESTABLISHED", "LISTEN"
	LocalPort  uint32
	RemoteAddr string
	RemotePort uint32
	PID        int32
	Process    string // owning process name, "" if unresolvable
}

// Snapshot is one immutable capture of host state.
type Snapshot struct {
	Taken    time.Time
	Hostname string

	Usage     Usage
	Processes Section[Process]
	Devices   Section[Device]
	Sessions  Section[Session]
	Conns     Section[Connection]
	Logins    Section[LoginEvent]
}
