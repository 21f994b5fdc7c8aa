// Package collect samples the live host into a snapshot: resource usage,
// processes, USB devices, login sessions and TCP connections.
//
// Every section is sampled independently. A failing probe marks its section
// as not OK and logs a warning instead of failing the whole snapshot, so
// downstream consumers can tell "nothing there" from "could not look".
package collect

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
	psnet "github.com/shirou/gopsutil/v3/net"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/hazyhaar/hostwatch/snapshot"
)

// Collector samples the host. The zero value is not usable; use New.
type Collector struct {
	mounts  []string
	usbRoot string
	logger  *slog.Logger
}

// Option configures a Collector.
type Option func(*Collector)

// WithMounts sets the disk mount points to sample. Default: "/".
func WithMounts(mounts []string) Option {
	return func(c *Collector) {
		if len(mounts) > 0 {
			c.mounts = mounts
		}
	}
}

// WithUSBRoot overrides the sysfs USB device directory. Used in tests.
func WithUSBRoot(root string) Option {
	return func(c *Collector) { c.usbRoot = root }
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Collector) { c.logger = l }
}

// New creates a Collector.
func New(opts ...Option) *Collector {
	c := &Collector{
		mounts:  []string{"/"},
		usbRoot: sysfsUSBRoot,
		logger:  slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Snapshot samples every section of the host state.
func (c *Collector) Snapshot(ctx context.Context) (*snapshot.Snapshot, error) {
	snap := &snapshot.Snapshot{Taken: time.Now()}

	if name, err := os.Hostname(); err == nil {
		snap.Hostname = name
	} else {
		c.logger.Warn("hostname probe failed", "error", err)
		snap.Hostname = "unknown"
	}

	snap.Usage.CPU = c.sampleCPU(ctx)
	snap.Usage.RAM = c.sampleRAM(ctx)
	snap.Usage.Disks = c.sampleDisks(ctx)
	snap.Processes = c.sampleProcesses(ctx)
	snap.Devices = c.sampleUSB()
	snap.Sessions = c.sampleSessions(ctx)
	snap.Conns = c.sampleConnections(ctx, snap.Processes)

	return snap, nil
}

// SessionCount returns the number of active login sessions.
func (c *Collector) SessionCount(ctx context.Context) (int, error) {
	users, err := host.UsersWithContext(ctx)
	if err != nil {
		return 0, err
	}
	return len(users), nil
}

// NewestSession returns the most recently started login session.
func (c *Collector) NewestSession(ctx context.Context) (snapshot.Session, bool, error) {
	users, err := host.UsersWithContext(ctx)
	if err != nil {
		return snapshot.Session{}, false, err
	}
	if len(users) == 0 {
		return snapshot.Session{}, false, nil
	}
	newest := users[0]
	for _, u := range users[1:] {
		if u.Started > newest.Started {
			newest = u
		}
	}
	return sessionFromUser(newest), true, nil
}

func (c *Collector) sampleCPU(ctx context.Context) snapshot.Metric {
	percents, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil || len(percents) == 0 {
		c.logger.Warn("cpu probe failed", "error", err)
		return snapshot.Metric{}
	}
	return snapshot.Metric{OK: true, Percent: percents[0]}
}

func (c *Collector) sampleRAM(ctx context.Context) snapshot.Metric {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		c.logger.Warn("ram probe failed", "error", err)
		return snapshot.Metric{}
	}
	return snapshot.Metric{OK: true, Percent: vm.UsedPercent}
}

func (c *Collector) sampleDisks(ctx context.Context) snapshot.Section[snapshot.DiskUsage] {
	usages := make([]snapshot.DiskUsage, 0, len(c.mounts))
	for _, mount := range c.mounts {
		u, err := disk.UsageWithContext(ctx, mount)
		if err != nil {
			// One unreadable mount poisons the section: a partial disk
			// list would hide full disks instead of reporting them.
			c.logger.Warn("disk probe failed", "mount", mount, "error", err)
			return snapshot.Missing[snapshot.DiskUsage]()
		}
		usages = append(usages, snapshot.DiskUsage{Mount: mount, Percent: u.UsedPercent})
	}
	return snapshot.Sampled(usages)
}

func (c *Collector) sampleProcesses(ctx context.Context) snapshot.Section[snapshot.Process] {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		c.logger.Warn("process probe failed", "error", err)
		return snapshot.Missing[snapshot.Process]()
	}

	out := make([]snapshot.Process, 0, len(procs))
	for _, p := range procs {
		name, err := p.NameWithContext(ctx)
		if err != nil {
			// Process exited between listing and inspection.
			continue
		}
		sp := snapshot.Process{PID: p.Pid, Name: name}
		if user, err := p.UsernameWithContext(ctx); err == nil {
			sp.Username = user
		}
		if cpuPct, err := p.CPUPercentWithContext(ctx); err == nil {
			sp.CPUPercent = cpuPct
		}
		if memPct, err := p.MemoryPercentWithContext(ctx); err == nil {
			sp.MemPercent = memPct
		}
		out = append(out, sp)
	}
	return snapshot.Sampled(out)
}

func (c *Collector) sampleUSB() snapshot.Section[snapshot.Device] {
	devices, err := scanUSB(c.usbRoot)
	if err != nil {
		c.logger.Warn("usb probe failed", "root", c.usbRoot, "error", err)
		return snapshot.Missing[snapshot.Device]()
	}
	return snapshot.Sampled(devices)
}

func (c *Collector) sampleSessions(ctx context.Context) snapshot.Section[snapshot.Session] {
	users, err := host.UsersWithContext(ctx)
	if err != nil {
		c.logger.Warn("session probe failed", "error", err)
		return snapshot.Missing[snapshot.Session]()
	}
	sessions := make([]snapshot.Session, 0, len(users))
	for _, u := range users {
		sessions = append(sessions, sessionFromUser(u))
	}
	return snapshot.Sampled(sessions)
}

func (c *Collector) sampleConnections(ctx context.Context, procs snapshot.Section[snapshot.Process]) snapshot.Section[snapshot.Connection] {
	conns, err := psnet.ConnectionsWithContext(ctx, "tcp")
	if err != nil {
		c.logger.Warn("connection probe failed", "error", err)
		return snapshot.Missing[snapshot.Connection]()
	}

	// PID to name lookup for attributing connections to processes.
	names := make(map[int32]string)
	if procs.OK {
		for _, p := range procs.Items {
			names[p.PID] = p.Name
		}
	}

	out := make([]snapshot.Connection, 0, len(conns))
	for _, conn := range conns {
		out = append(out, snapshot.Connection{
			State:      conn.Status,
			LocalPort:  conn.Laddr.Port,
			RemoteAddr: conn.Raddr.IP,
			RemotePort: conn.Raddr.Port,
			PID:        conn.Pid,
			Process:    names[conn.Pid],
		})
	}
	return snapshot.Sampled(out)
}

func sessionFromUser(u host.UserStat) snapshot.Session {
	return snapshot.Session{
		User:    u.User,
		TTY:     u.Terminal,
		Host:    u.Host,
		Started: time.Unix(int64(u.Started), 0),
	}
}
