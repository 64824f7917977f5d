// Package pidfile tracks running p2p-chat processes in a shared JSON file so
// that ps, kill and killall can find them.
package pidfile

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/samber/lo"
	"github.com/shirou/gopsutil/v3/process"
	"go.uber.org/zap"
)

// DefaultPath is the registry shared by every p2p-chat process of the machine
var DefaultPath = filepath.Join(os.TempDir(), ".p2p-chat")

// ProcessName is matched against process names before a tracked PID is trusted
const ProcessName = "p2p-chat"

const killGrace = 5 * time.Second

// PIDFile is the JSON layout of the registry
type PIDFile struct {
	PIDs []int32 `json:"pids"`
}

// Registry is a PID file guarded by a process lock and an advisory file lock
type Registry struct {
	path string
	// match decides whether a live process belongs to us
	match func(name string) bool

	mu sync.Mutex
}

// NewRegistry returns a registry at path tracking processes named like p2p-chat
func NewRegistry(path string) *Registry {
	return &Registry{
		path:  path,
		match: func(name string) bool { return strings.Contains(name, ProcessName) },
	}
}

var std = NewRegistry(DefaultPath)

// Register adds the current process to the default registry
func Register() error { return std.Register() }

// Unregister removes the current process from the default registry
func Unregister() error { return std.Unregister() }

// List returns the verified PIDs of the default registry
func List() ([]int32, error) { return std.List() }

// Kill terminates one tracked process
func Kill(pid int32) error { return std.Kill(pid) }

// KillAll terminates every tracked process
func KillAll() (int, error) { return std.KillAll() }

// withLocked opens and locks the file, drops PIDs that are no longer ours,
// then hands the survivors to fn
func (r *Registry) withLocked(flags int, fn func(*os.File, []int32) error) error {
	if err := os.MkdirAll(filepath.Dir(r.path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	file, err := os.OpenFile(r.path, flags, 0644)
	if err != nil {
		return fmt.Errorf("failed to open PID file: %w", err)
	}
	defer file.Close()

	if err := lockFile(file); err != nil {
		return err
	}
	defer unlockFile(file)

	var pf PIDFile
	if stat, err := file.Stat(); err != nil {
		return err
	} else if stat.Size() > 0 {
		if err := json.NewDecoder(file).Decode(&pf); err != nil {
			zap.L().Warn("ignoring corrupt PID file", zap.String("path", r.path), zap.Error(err))
		}
	}

	valid := lo.Filter(pf.PIDs, func(pid int32, _ int) bool { return r.isOurs(pid) })
	if len(valid) != len(pf.PIDs) {
		if err := write(file, valid); err != nil {
			return err
		}
	}
	return fn(file, valid)
}

func (r *Registry) isOurs(pid int32) bool {
	proc, err := process.NewProcess(pid)
	if err != nil {
		return false
	}
	if running, err := proc.IsRunning(); err != nil || !running {
		return false
	}
	name, err := proc.Name()
	return err == nil && r.match(name)
}

func write(file *os.File, pids []int32) error {
	if err := file.Truncate(0); err != nil {
		return err
	}
	if _, err := file.Seek(0, 0); err != nil {
		return err
	}
	enc := json.NewEncoder(file)
	enc.SetIndent("", "  ")
	return enc.Encode(&PIDFile{PIDs: pids})
}

// Register adds the current process
func (r *Registry) Register() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	self := int32(os.Getpid())
	return r.withLocked(os.O_RDWR|os.O_CREATE, func(file *os.File, pids []int32) error {
		if lo.Contains(pids, self) {
			return nil
		}
		return write(file, append(pids, self))
	})
}

// Unregister removes the current process
func (r *Registry) Unregister() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	self := int32(os.Getpid())
	return r.withLocked(os.O_RDWR|os.O_CREATE, func(file *os.File, pids []int32) error {
		return write(file, lo.Without(pids, self))
	})
}

// List returns the tracked PIDs that are still running
func (r *Registry) List() ([]int32, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var result []int32
	err := r.withLocked(os.O_RDWR|os.O_CREATE, func(_ *os.File, pids []int32) error {
		result = pids
		return nil
	})
	return result, err
}

// Kill sends SIGTERM to a tracked process, then SIGKILL if it is still
// alive after the grace period
func (r *Registry) Kill(pid int32) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.isOurs(pid) {
		return fmt.Errorf("PID %d is not a running %s process", pid, ProcessName)
	}
	proc, err := process.NewProcess(pid)
	if err != nil {
		return fmt.Errorf("failed to get process: %w", err)
	}
	if err := stop(map[int32]*process.Process{pid: proc}); err != nil {
		return err
	}

	// best effort, the next verification pass drops it anyway
	if err := r.withLocked(os.O_RDWR|os.O_CREATE, func(file *os.File, pids []int32) error {
		return write(file, lo.Without(pids, pid))
	}); err != nil {
		zap.L().Debug("failed to update PID file", zap.Error(err))
	}
	return nil
}

// KillAll terminates every tracked process and returns how many there were
func (r *Registry) KillAll() (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var targets []int32
	err := r.withLocked(os.O_RDWR|os.O_CREATE, func(file *os.File, pids []int32) error {
		targets = pids
		return write(file, []int32{})
	})
	if err != nil {
		return 0, err
	}

	procs := make(map[int32]*process.Process)
	for _, pid := range targets {
		if proc, err := process.NewProcess(pid); err == nil {
			procs[pid] = proc
		}
	}
	return len(targets), stop(procs)
}

// stop terminates processes, escalating to SIGKILL after killGrace
func stop(procs map[int32]*process.Process) error {
	pending := make(map[int32]*process.Process)
	for pid, proc := range procs {
		if err := proc.Terminate(); err != nil {
			if err := proc.Kill(); err != nil {
				return fmt.Errorf("failed to kill process %d: %w", pid, err)
			}
			continue
		}
		pending[pid] = proc
	}

	deadline := time.Now().Add(killGrace)
	for len(pending) > 0 && time.Now().Before(deadline) {
		for pid, proc := range pending {
			if running, err := proc.IsRunning(); err != nil || !running {
				delete(pending, pid)
			}
		}
		time.Sleep(100 * time.Millisecond)
	}

	for pid, proc := range pending {
		if err := proc.Kill(); err != nil {
			return fmt.Errorf("failed to force kill process %d: %w", pid, err)
		}
	}
	return nil
}

// GetProcessInfo returns the command line of a process, empty if unavailable
func GetProcessInfo(pid int32) (string, error) {
	proc, err := process.NewProcess(pid)
	if err != nil {
		return "", err
	}
	cmdline, err := proc.Cmdline()
	if err != nil {
		return "", nil
	}
	return cmdline, nil
}
