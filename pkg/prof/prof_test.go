//go:build profile

package prof

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestSession(t *testing.T) {
	dir := t.TempDir()
	opts := Options{
		CPU:       filepath.Join(dir, "cpu.prof"),
		Heap:      filepath.Join(dir, "heap.prof"),
		Mutex:     filepath.Join(dir, "mutex.prof"),
		MutexRate: 1,
	}

	stop, err := Start(opts)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if _, err := Start(opts); !errors.Is(err, ErrActive) {
		t.Errorf("second Start() error = %v, want %v", err, ErrActive)
	}
	if err := stop(); err != nil {
		t.Fatalf("stop() error = %v", err)
	}
	if err := stop(); err != nil {
		t.Errorf("second stop() error = %v", err)
	}

	for _, path := range []string{opts.CPU, opts.Heap, opts.Mutex} {
		info, err := os.Stat(path)
		if err != nil {
			t.Errorf("%s: %v", filepath.Base(path), err)
			continue
		}
		if info.Size() == 0 {
			t.Errorf("%s is empty", filepath.Base(path))
		}
	}

	stop, err = Start(Options{})
	if err != nil {
		t.Fatalf("Start() after stop error = %v", err)
	}
	if err := stop(); err != nil {
		t.Errorf("stop() error = %v", err)
	}
}

func TestSessionBadPath(t *testing.T) {
	_, err := Start(Options{CPU: filepath.Join(t.TempDir(), "missing", "cpu.prof")})
	if err == nil {
		t.Fatal("Start() succeeded with an unwritable path")
	}
	stop, err := Start(Options{})
	if err != nil {
		t.Fatalf("Start() after failure error = %v", err)
	}
	_ = stop()
}
