// Package suspect runs a fixed battery of heuristic checks against a
// snapshot and reports human-readable findings.
//
// Every check is advisory and independent: a check that cannot run (its
// snapshot section is missing) contributes no finding, and no check can
// abort the others. Absence of evidence is always "no finding", never an
// error.
package suspect

import (
	"fmt"
	"sort"
	"strings"

	"github.com/hazyhaar/hostwatch/snapshot"
)

// Finding is one observation from a single check.
type Finding struct {
	Check   string // stable check identifier, e.g. "miner_process"
	Message string
}

// minerSignatures are substrings that flag a process name as a likely
// cryptominer.
var minerSignatures = []string{
	"miner", "xmr", "monero", "ethminer", "cgminer", "bfgminer", "nicehash",
}

// minerAllowlist excludes benign processes whose names collide with the
// signature set (search/indexing helpers, mostly).
var minerAllowlist = map[string]struct{}{
	"baloo_file_extractor": {},
	"tracker-miner-fs":     {},
	"tracker-miner-fs-3":   {},
	"tracker-miners":       {},
}

// shellNames flag the owning process of an established connection as a
// possible reverse shell.
var shellNames = map[string]struct{}{
	"sh": {}, "bash": {}, "dash": {}, "zsh": {}, "ksh": {},
	"nc": {}, "ncat": {}, "netcat": {}, "socat": {},
}

const sshPort = 22

// Evaluator applies the check battery. The zero value is usable; Extra
// allowlist entries can be added for site-specific false positives.
type Evaluator struct {
	// AllowProcesses extends the built-in miner allowlist.
	AllowProcesses []string
}

// Evaluate runs all checks in order against the snapshot. Pure: it reads
// only the snapshot and returns findings, never an error.
func (e *Evaluator) Evaluate(snap *snapshot.Snapshot) []Finding {
	var findings []Finding
	for _, check := range []func(*snapshot.Snapshot) []Finding{
		e.rootShells,
		e.sshSessions,
		e.minerProcesses,
		e.reverseShells,
	} {
		findings = append(findings, check(snap)...)
	}
	return findings
}

// rootShells reports privileged interactive shells on pseudo-terminals.
func (e *Evaluator) rootShells(snap *snapshot.Snapshot) []Finding {
	if !snap.Sessions.OK {
		return nil
	}
	var findings []Finding
	for _, s := range snap.Sessions.Items {
		if s.User == "root" && strings.HasPrefix(s.TTY, "pts/") {
			findings = append(findings, Finding{
				Check:   "root_shell",
				Message: fmt.Sprintf("root shell on %s (from %s)", s.TTY, hostOrLocal(s.Host)),
			})
		}
	}
	return findings
}

// sshSessions reports established inbound SSH connections with a count.
func (e *Evaluator) sshSessions(snap *snapshot.Snapshot) []Finding {
	if !snap.Conns.OK {
		return nil
	}
	count := 0
	for _, c := range snap.Conns.Items {
		if c.State == "ESTABLISHED" && c.LocalPort == sshPort {
			count++
		}
	}
	if count == 0 {
		return nil
	}
	return []Finding{{
		Check:   "ssh_session",
		Message: fmt.Sprintf("%d established inbound SSH session(s)", count),
	}}
}

// minerProcesses reports process names matching the miner signature set,
// minus the allowlist.
func (e *Evaluator) minerProcesses(snap *snapshot.Snapshot) []Finding {
	if !snap.Processes.OK {
		return nil
	}
	hits := make(map[string]struct{})
	for _, p := range snap.Processes.Items {
		name := strings.ToLower(p.Name)
		if e.allowed(name) {
			continue
		}
		for _, sig := range minerSignatures {
			if strings.Contains(name, sig) {
				hits[p.Name] = struct{}{}
				break
			}
		}
	}
	if len(hits) == 0 {
		return nil
	}
	names := make([]string, 0, len(hits))
	for n := range hits {
		names = append(names, n)
	}
	sort.Strings(names)
	return []Finding{{
		Check:   "miner_process",
		Message: fmt.Sprintf("possible miner process(es): %s", strings.Join(names, ", ")),
	}}
}

// reverseShells reports established connections owned by shell or netcat
// style processes.
func (e *Evaluator) reverseShells(snap *snapshot.Snapshot) []Finding {
	if !snap.Conns.OK {
		return nil
	}
	var findings []Finding
	for _, c := range snap.Conns.Items {
		if c.State != "ESTABLISHED" || c.Process == "" {
			continue
		}
		if _, ok := shellNames[strings.ToLower(c.Process)]; ok {
			findings = append(findings, Finding{
				Check: "reverse_shell",
				Message: fmt.Sprintf("shell process %q (pid %d) holds an established connection to %s:%d",
					c.Process, c.PID, c.RemoteAddr, c.RemotePort),
			})
		}
	}
	return findings
}

func (e *Evaluator) allowed(name string) bool {
	if _, ok := minerAllowlist[name]; ok {
		return true
	}
	for _, a := range e.AllowProcesses {
		if strings.EqualFold(a, name) {
			return true
		}
	}
	return false
}

func hostOrLocal(host string) string {
	if host == "" {
		return "local"
	}
	return host
}
