package pidfile

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// PIDFile guards against two daemon instances scoring the same archive and
// profile store. Create refuses when a live process already owns the file
// and clears the file when the owner is gone.
type PIDFile struct {
	path string
	pid  int
}

// New binds a PID file to the current process.
func New(path string) *PIDFile {
	return &PIDFile{path: path, pid: os.Getpid()}
}

// Create writes the PID file, replacing a stale one from a dead process.
func (p *PIDFile) Create() error {
	if existing, err := p.read(); err == nil {
		if alive(existing) {
			return fmt.Errorf("daemon already running with PID %d", existing)
		}
		if err := os.Remove(p.path); err != nil {
			return fmt.Errorf("failed to remove stale PID file: %w", err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(p.path), 0o755); err != nil {
		return fmt.Errorf("failed to create PID file directory: %w", err)
	}
	if err := os.WriteFile(p.path, []byte(strconv.Itoa(p.pid)+"\n"), 0o644); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}
	return nil
}

// Remove deletes the PID file if this process owns it.
func (p *PIDFile) Remove() error {
	existing, err := p.read()
	if os.IsNotExist(err) {
		return nil
	}
	if err == nil && existing != p.pid {
		return fmt.Errorf("PID file owned by %d, not removing", existing)
	}
	return os.Remove(p.path)
}

// Path returns the PID file location.
func (p *PIDFile) Path() string { return p.path }

func (p *PIDFile) read() (int, error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid PID file contents %q", strings.TrimSpace(string(data)))
	}
	return pid, nil
}

// alive reports whether a process with the given PID exists, via the null
// signal.
func alive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}
