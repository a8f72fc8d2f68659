//go:build linux

package geo

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"
)

// childProcesses lists processes whose parent is this test binary, with
// their /proc state letter.
func childProcesses(t *testing.T) map[int]string {
	t.Helper()
	self := os.Getpid()
	entries, err := filepath.Glob("/proc/[0-9]*/stat")
	if err != nil {
		t.Fatalf("glob /proc: %v", err)
	}

	children := make(map[int]string)
	for _, entry := range entries {
		data, err := os.ReadFile(entry)
		if err != nil {
			continue
		}
		// Format: pid (comm) state ppid ...; comm may contain spaces.
		stat := string(data)
		closing := strings.LastIndexByte(stat, ')')
		if closing < 0 {
			continue
		}
		fields := strings.Fields(stat[closing+1:])
		if len(fields) < 2 {
			continue
		}
		ppid, err := strconv.Atoi(fields[1])
		if err != nil || ppid != self {
			continue
		}
		pid, _ := strconv.Atoi(strings.Fields(stat)[0])
		children[pid] = fields[0]
	}
	return children
}

func TestLookupsLeaveNoChildProcesses(t *testing.T) {
	if _, err := os.Stat("/proc/self/stat"); err != nil {
		t.Skip("procfs not available")
	}

	modes := []string{"ok", "empty", "fail", "flood", "fail-with-location"}
	for _, mode := range modes {
		invoker := NewInvoker(InvokerConfig{Command: helperCommand(mode, nil)})
		_ = invoker.Lookup(context.Background(), "1.2.3.4", NewBuffer(64))
		_ = NewChecker(helperCommand(mode, nil), 0).Check(context.Background())
	}
	hung := NewInvoker(InvokerConfig{Command: helperCommand("hang", nil), Timeout: 200 * time.Millisecond})
	_ = hung.Lookup(context.Background(), "1.2.3.4", NewBuffer(64))
	_ = NewChecker(helperCommand("probe-hang", nil), 200*time.Millisecond).Check(context.Background())
	_ = NewInvoker(InvokerConfig{Command: Command{Path: filepath.Join(t.TempDir(), "missing")}}).
		Lookup(context.Background(), "1.2.3.4", NewBuffer(64))

	if children := childProcesses(t); len(children) != 0 {
		t.Fatalf("child processes remain after lookups: %v", children)
	}
}
