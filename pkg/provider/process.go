package provider

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// DefaultStopGrace is how long Stop waits after SIGTERM before
// escalating to SIGKILL.
const DefaultStopGrace = 30 * time.Second

// IsAlive reports whether a process with the given pid exists. Signal 0
// checks existence without delivering anything.
func IsAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return p.Signal(syscall.Signal(0)) == nil
}

// GroupCPUTicks sums utime+stime across every process in the process
// group rooted at pgid. The tracked pid is the group leader, so this
// captures the provider CLI's work even though the shim itself idles in
// wait. A pure /proc scan: no network, bounded by process-table size.
func GroupCPUTicks(pgid int) (uint64, error) {
	entries, err := os.ReadDir("/proc")
	if err != nil {
		return 0, fmt.Errorf("read /proc: %w", err)
	}

	var total uint64
	found := false
	for _, entry := range entries {
		pid, err := strconv.Atoi(entry.Name())
		if err != nil {
			continue
		}
		grp, ticks, err := readStat(pid)
		if err != nil {
			// Process exited between ReadDir and the stat read.
			continue
		}
		if grp != pgid {
			continue
		}
		found = true
		total += ticks
	}

	if !found {
		return 0, fmt.Errorf("no processes in group %d", pgid)
	}
	return total, nil
}

// readStat parses /proc/<pid>/stat for the process group id and
// utime+stime. The comm field may contain spaces and parentheses, so
// fields are counted from after the last ')'.
func readStat(pid int) (pgrp int, ticks uint64, err error) {
	b, err := os.ReadFile(filepath.Join("/proc", strconv.Itoa(pid), "stat"))
	if err != nil {
		return 0, 0, err
	}

	s := string(b)
	idx := strings.LastIndexByte(s, ')')
	if idx < 0 || idx+2 > len(s) {
		return 0, 0, fmt.Errorf("malformed stat for pid %d", pid)
	}

	// Fields after comm, 0-indexed: [0]=state [2]=pgrp [11]=utime [12]=stime.
	fields := strings.Fields(s[idx+2:])
	if len(fields) < 13 {
		return 0, 0, fmt.Errorf("short stat for pid %d", pid)
	}

	pgrp, err = strconv.Atoi(fields[2])
	if err != nil {
		return 0, 0, err
	}
	utime, err := strconv.ParseUint(fields[11], 10, 64)
	if err != nil {
		return 0, 0, err
	}
	stime, err := strconv.ParseUint(fields[12], 10, 64)
	if err != nil {
		return 0, 0, err
	}
	return pgrp, utime + stime, nil
}

// StopGroup terminates the process group rooted at pid: SIGTERM to the
// group, bounded wait, SIGKILL escalation. It acts only on the tracked
// pid's group — never on a name pattern — so unrelated processes are
// never collateral. Returns whether escalation to SIGKILL was needed.
func StopGroup(ctx context.Context, pid int, grace time.Duration) (forced bool, err error) {
	if pid <= 0 {
		return false, fmt.Errorf("invalid pid %d", pid)
	}
	if grace <= 0 {
		grace = DefaultStopGrace
	}

	// Negative pid addresses the whole group.
	if err := syscall.Kill(-pid, syscall.SIGTERM); err != nil {
		if err == syscall.ESRCH {
			return false, nil
		}
		return false, fmt.Errorf("signal term to group %d: %w", pid, err)
	}

	deadline := time.Now().Add(grace)
	for time.Now().Before(deadline) {
		if !IsAlive(pid) {
			return false, nil
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(250 * time.Millisecond):
		}
	}

	if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil && err != syscall.ESRCH {
		return true, fmt.Errorf("signal kill to group %d: %w", pid, err)
	}
	return true, nil
}
