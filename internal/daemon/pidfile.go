package daemon

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"
)

func readPID(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("pid file %s: %w", path, err)
	}
	return pid, nil
}

func alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

// runningPID returns the daemon's pid if the pid file names a live process.
// A stale pid file is removed.
func runningPID(path string) (int, bool) {
	pid, err := readPID(path)
	if err != nil {
		return 0, false
	}
	if !alive(pid) {
		_ = os.Remove(path)
		return 0, false
	}
	return pid, true
}

// waitForExit polls until the pid file is gone or its process has exited.
func waitForExit(path string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		if _, ok := runningPID(path); !ok {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("daemon did not stop within %s", timeout)
		}
		time.Sleep(50 * time.Millisecond)
	}
}

// waitForSocket polls until the control socket exists or the child exits.
func waitForSocket(socket string, exited <-chan error, timeout time.Duration) error {
	deadline := time.After(timeout)
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	for {
		if _, err := os.Stat(socket); err == nil {
			return nil
		}
		select {
		case err := <-exited:
			if err == nil {
				err = fmt.Errorf("exited")
			}
			return fmt.Errorf("daemon failed to start: %w (see tail-log)", err)
		case <-deadline:
			return fmt.Errorf("control socket %s did not appear within %s", socket, timeout)
		case <-tick.C:
		}
	}
}
