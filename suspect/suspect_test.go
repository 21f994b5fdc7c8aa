package suspect

import (
	"strings"
	"testing"

	"github.com/hazyhaar/hostwatch/snapshot"
)

func findByCheck(findings []Finding, check string) []Finding {
	var out []Finding
	for _, f := range findings {
		if f.Check == check {
			out = append(out, f)
		}
	}
	return out
}

func TestEvaluate_RootShellOnPts(t *testing.T) {
	snap := &snapshot.Snapshot{
		Sessions: snapshot.Sampled([]snapshot.Session{
			{User: "alice", TTY: "pts/0"},
			{User: "root", TTY: "pts/1", Host: "10.0.0.5"},
			{User: "root", TTY: "tty1"}, // console, not a pty
		}),
	}
	var e Evaluator
	got := findByCheck(e.Evaluate(snap), "root_shell")
	if len(got) != 1 {
		t.Fatalf("root_shell findings: got %d, want 1", len(got))
	}
	if !strings.Contains(got[0].Message, "pts/1") || !strings.Contains(got[0].Message, "10.0.0.5") {
		t.Errorf("message: %q", got[0].Message)
	}
}

func TestEvaluate_SSHSessionCount(t *testing.T) {
	snap := &snapshot.Snapshot{
		Conns: snapshot.Sampled([]snapshot.Connection{
			{State: "ESTABLISHED", LocalPort: 22, RemoteAddr: "192.0.2.1"},
			{State: "ESTABLISHED", LocalPort: 22, RemoteAddr: "192.0.2.2"},
			{State: "LISTEN", LocalPort: 22},
			{State: "ESTABLISHED", LocalPort: 443},
		}),
	}
	var e Evaluator
	got := findByCheck(e.Evaluate(snap), "ssh_session")
	if len(got) != 1 {
		t.Fatalf("ssh_session findings: got %d, want 1", len(got))
	}
	if !strings.Contains(got[0].Message, "2 established") {
		t.Errorf("message: %q", got[0].Message)
	}
}

func TestEvaluate_MinerSignatures(t *testing.T) {
	cases := []struct {
		name    string
		procs   []string
		extra   []string
		wantHit bool
		wantSub string
	}{
		{name: "xmrig", procs: []string{"bash", "xmrig"}, wantHit: true, wantSub: "xmrig"},
		{name: "clean", procs: []string{"bash", "chrome", "systemd"}, wantHit: false},
		{name: "allowlisted tracker", procs: []string{"tracker-miner-fs"}, wantHit: false},
		{name: "case insensitive", procs: []string{"NiceHashQuickMiner"}, wantHit: true},
		{name: "extra allowlist", procs: []string{"goldminer"}, extra: []string{"goldminer"}, wantHit: false},
		{name: "multiple joined", procs: []string{"xmrig", "cgminer"}, wantHit: true, wantSub: "cgminer, xmrig"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			procs := make([]snapshot.Process, len(tc.procs))
			for i, n := range tc.procs {
				procs[i] = snapshot.Process{Name: n}
			}
			e := Evaluator{AllowProcesses: tc.extra}
			got := findByCheck(e.Evaluate(&snapshot.Snapshot{Processes: snapshot.Sampled(procs)}), "miner_process")
			if tc.wantHit && len(got) != 1 {
				t.Fatalf("findings: got %d, want 1", len(got))
			}
			if !tc.wantHit && len(got) != 0 {
				t.Fatalf("findings: got %v, want none", got)
			}
			if tc.wantSub != "" && !strings.Contains(got[0].Message, tc.wantSub) {
				t.Errorf("message %q missing %q", got[0].Message, tc.wantSub)
			}
		})
	}
}

func TestEvaluate_ReverseShellConnections(t *testing.T) {
	snap := &snapshot.Snapshot{
		Conns: snapshot.Sampled([]snapshot.Connection{
			{State: "ESTABLISHED", Process: "bash", PID: 4242, RemoteAddr: "198.51.100.7", RemotePort: 4444},
			{State: "ESTABLISHED", Process: "chrome", RemoteAddr: "142.250.0.1", RemotePort: 443},
			{State: "LISTEN", Process: "nc"},
			{State: "ESTABLISHED", Process: ""},
		}),
	}
	var e Evaluator
	got := findByCheck(e.Evaluate(snap), "reverse_shell")
	if len(got) != 1 {
		t.Fatalf("reverse_shell findings: got %d, want 1", len(got))
	}
	if !strings.Contains(got[0].Message, "198.51.100.7:4444") {
		t.Errorf("message: %q", got[0].Message)
	}
}

func TestEvaluate_MissingSectionsProduceNoFindings(t *testing.T) {
	// Everything missing: every check must silently skip.
	var e Evaluator
	if got := e.Evaluate(&snapshot.Snapshot{}); len(got) != 0 {
		t.Fatalf("findings from empty snapshot: %v", got)
	}
}

func TestEvaluate_ChecksAreIndependent(t *testing.T) {
	// Sessions missing, but processes present: the miner check still runs.
	snap := &snapshot.Snapshot{
		Processes: snapshot.Sampled([]snapshot.Process{{Name: "xmrig"}}),
	}
	var e Evaluator
	got := e.Evaluate(snap)
	if len(got) != 1 || got[0].Check != "miner_process" {
		t.Fatalf("findings: %v, want single miner_process", got)
	}
}
