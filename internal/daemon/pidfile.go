// Package daemon tracks the background review server through a PID file and an
// exclusive instance lock.
package daemon

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/gofrs/flock"
)

// ErrAlreadyRunning is returned when another server holds the instance lock.
var ErrAlreadyRunning = errors.New("council server is already running")

// PIDFile manages a PID file for daemon process tracking.
type PIDFile struct {
	Path string
}

// NewPIDFile creates a PIDFile manager for the given path.
func NewPIDFile(path string) *PIDFile {
	return &PIDFile{Path: path}
}

// Write writes the current process's PID to the file.
func (p *PIDFile) Write() error {
	return p.WritePID(os.Getpid())
}

// WritePID writes the given PID to the file.
func (p *PIDFile) WritePID(pid int) error {
	if err := os.MkdirAll(filepath.Dir(p.Path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(p.Path, []byte(strconv.Itoa(pid)+"\n"), 0o644)
}

// Read reads the PID from the file.
func (p *PIDFile) Read() (int, error) {
	data, err := os.ReadFile(p.Path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid PID file content: %w", err)
	}
	return pid, nil
}

// IsRunning reports the recorded PID and whether that process is alive.
func (p *PIDFile) IsRunning() (int, bool) {
	pid, err := p.Read()
	if err != nil {
		return 0, false
	}
	return pid, processAlive(pid)
}

// Signal sends sig to the process recorded in the PID file.
func (p *PIDFile) Signal(sig syscall.Signal) error {
	pid, err := p.Read()
	if err != nil {
		return fmt.Errorf("read PID file: %w", err)
	}
	return signalProcess(pid, sig)
}

// Remove deletes the PID file.
func (p *PIDFile) Remove() error {
	return os.Remove(p.Path)
}

// Instance is the single-server guard: an flock held for the server's lifetime plus
// the PID file that `serve stop` signals.
type Instance struct {
	PID  *PIDFile
	lock *flock.Flock
}

// NewInstance creates the guard for the server whose files live in dir.
func NewInstance(dir string) *Instance {
	return &Instance{
		PID:  NewPIDFile(filepath.Join(dir, "serve.pid")),
		lock: flock.New(filepath.Join(dir, "serve.lock")),
	}
}

// Acquire takes the instance lock and records the current PID. It fails with
// ErrAlreadyRunning while another process holds the lock.
func (i *Instance) Acquire() error {
	if err := os.MkdirAll(filepath.Dir(i.lock.Path()), 0o755); err != nil {
		return fmt.Errorf("create run dir: %w", err)
	}
	ok, err := i.lock.TryLock()
	if err != nil {
		return fmt.Errorf("lock %s: %w", i.lock.Path(), err)
	}
	if !ok {
		return ErrAlreadyRunning
	}
	if err := i.PID.Write(); err != nil {
		_ = i.lock.Unlock()
		return fmt.Errorf("write PID file: %w", err)
	}
	return nil
}

// Release removes the PID file and drops the lock.
func (i *Instance) Release() error {
	if !i.lock.Locked() {
		return nil
	}
	if err := i.PID.Remove(); err != nil && !os.IsNotExist(err) {
		_ = i.lock.Unlock()
		return err
	}
	return i.lock.Unlock()
}

// Held reports whether some process holds the instance lock.
func (i *Instance) Held() bool {
	if i.lock.Locked() {
		return true
	}
	other := flock.New(i.lock.Path())
	ok, err := other.TryLock()
	if err != nil {
		return false
	}
	if ok {
		_ = other.Unlock()
		return false
	}
	return true
}
