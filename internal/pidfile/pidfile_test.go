package pidfile

import (
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"testing"
)

func testRegistry(t *testing.T) *Registry {
	t.Helper()
	r := NewRegistry(filepath.Join(t.TempDir(), "pids"))
	r.match = func(string) bool { return true }
	return r
}

func TestRegisterListUnregister(t *testing.T) {
	r := testRegistry(t)
	self := int32(os.Getpid())

	if err := r.Register(); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if err := r.Register(); err != nil {
		t.Fatalf("Second register failed: %v", err)
	}

	pids, err := r.List()
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(pids) != 1 || pids[0] != self {
		t.Fatalf("Expected [%d], got %v", self, pids)
	}

	if err := r.Unregister(); err != nil {
		t.Fatalf("Unregister failed: %v", err)
	}
	pids, err = r.List()
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(pids) != 0 {
		t.Errorf("Expected no PIDs, got %v", pids)
	}
}

func TestListDropsForeignProcesses(t *testing.T) {
	r := NewRegistry(filepath.Join(t.TempDir(), "pids"))
	// the test binary is not named p2p-chat
	if err := r.Register(); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	pids, err := r.List()
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(pids) != 0 {
		t.Errorf("Expected foreign PID to be dropped, got %v", pids)
	}
}

func TestListIgnoresCorruptFile(t *testing.T) {
	r := testRegistry(t)
	if err := os.WriteFile(r.path, []byte("{not json"), 0644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}
	pids, err := r.List()
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(pids) != 0 {
		t.Errorf("Expected no PIDs, got %v", pids)
	}
}

func TestKillRejectsUntracked(t *testing.T) {
	r := NewRegistry(filepath.Join(t.TempDir(), "pids"))
	if err := r.Kill(int32(os.Getpid())); err == nil {
		t.Errorf("Expected refusal to kill a non p2p-chat process")
	}
}

func TestKillAll(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses sleep")
	}
	r := testRegistry(t)

	cmd := exec.Command("sleep", "30")
	if err := cmd.Start(); err != nil {
		t.Skipf("cannot start sleep: %v", err)
	}
	waited := make(chan struct{})
	go func() {
		cmd.Wait()
		close(waited)
	}()

	if err := write(mustOpen(t, r.path), []int32{int32(cmd.Process.Pid)}); err != nil {
		t.Fatalf("Failed to seed PID file: %v", err)
	}

	killed, err := r.KillAll()
	if err != nil {
		t.Fatalf("KillAll failed: %v", err)
	}
	if killed != 1 {
		t.Errorf("Expected 1 process killed, got %d", killed)
	}
	<-waited

	pids, err := r.List()
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(pids) != 0 {
		t.Errorf("Expected empty registry, got %v", pids)
	}
}

func mustOpen(t *testing.T, path string) *os.File {
	t.Helper()
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		t.Fatalf("Failed to open %s: %v", path, err)
	}
	t.Cleanup(func() { f.Close() })
	return f
}
