package daemon

import (
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"testing"
)

func TestWritePID_ReadPID(t *testing.T) {
	dir := t.TempDir()

	if err := WritePID(dir); err != nil {
		t.Fatalf("WritePID: %v", err)
	}

	pid, err := ReadPID(dir)
	if err != nil {
		t.Fatalf("ReadPID: %v", err)
	}
	if pid != os.Getpid() {
		t.Errorf("ReadPID got %d, want %d", pid, os.Getpid())
	}
}

func TestReadPID_NoFile(t *testing.T) {
	if _, err := ReadPID(t.TempDir()); err == nil {
		t.Fatal("expected error reading nonexistent PID file")
	}
}

func TestReadPID_InvalidContent(t *testing.T) {
	for _, content := range []string{"not-a-number", "-4", ""} {
		dir := t.TempDir()
		if err := os.WriteFile(filepath.Join(dir, pidFilename), []byte(content), 0o644); err != nil {
			t.Fatalf("WriteFile: %v", err)
		}
		if _, err := ReadPID(dir); err == nil {
			t.Errorf("ReadPID(%q): expected error", content)
		}
	}
}

func TestRemovePID(t *testing.T) {
	dir := t.TempDir()

	if err := WritePID(dir); err != nil {
		t.Fatalf("WritePID: %v", err)
	}
	if err := RemovePID(dir); err != nil {
		t.Fatalf("RemovePID: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, pidFilename)); !os.IsNotExist(err) {
		t.Error("PID file still exists after RemovePID")
	}

	// Second removal is a no-op.
	if err := RemovePID(dir); err != nil {
		t.Fatalf("RemovePID on nonexistent file: %v", err)
	}
}

func TestIsRunning(t *testing.T) {
	dir := t.TempDir()
	if IsRunning(dir) {
		t.Error("IsRunning returned true with no PID file")
	}

	if err := WritePID(dir); err != nil {
		t.Fatalf("WritePID: %v", err)
	}
	if !IsRunning(dir) {
		t.Error("IsRunning returned false for our own PID")
	}
}

// exitedPID returns the PID of a child process that has already exited.
func exitedPID(t *testing.T) int {
	t.Helper()
	cmd := exec.Command("true")
	if err := cmd.Run(); err != nil {
		t.Skipf("cannot run helper process: %v", err)
	}
	return cmd.Process.Pid
}

func TestWritePID_ReplacesStaleFile(t *testing.T) {
	dir := t.TempDir()
	stale := exitedPID(t)
	if err := os.WriteFile(filepath.Join(dir, pidFilename), []byte(strconv.Itoa(stale)), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if err := WritePID(dir); err != nil {
		t.Fatalf("WritePID over stale file: %v", err)
	}
	pid, err := ReadPID(dir)
	if err != nil {
		t.Fatalf("ReadPID: %v", err)
	}
	if pid != os.Getpid() {
		t.Errorf("got PID %d, want %d", pid, os.Getpid())
	}
}

func TestWritePID_RefusesLiveProcess(t *testing.T) {
	dir := t.TempDir()

	// The parent of the test binary is alive for the whole test.
	live := os.Getppid()
	if err := os.WriteFile(filepath.Join(dir, pidFilename), []byte(strconv.Itoa(live)), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if !isProcessAlive(live) {
		t.Skip("parent process not signalable")
	}

	err := WritePID(dir)
	if !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("WritePID err = %v, want ErrAlreadyRunning", err)
	}
}

func TestWritePID_CreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "dir")

	if err := WritePID(dir); err != nil {
		t.Fatalf("WritePID with nested dir: %v", err)
	}
	pid, err := ReadPID(dir)
	if err != nil {
		t.Fatalf("ReadPID: %v", err)
	}
	if pid != os.Getpid() {
		t.Errorf("got PID %d, want %d", pid, os.Getpid())
	}
}
