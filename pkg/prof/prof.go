//go:build profile

package prof

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"runtime/pprof"
	"sync"

	"github.com/ardnew/softsd/pkg"
)

// ErrActive indicates a profiling session is already running.
var ErrActive = errors.New("profiling session already active")

// Enabled reports whether the binary was built with the profile tag.
const Enabled = true

var (
	mutex  sync.Mutex
	active bool
)

// Start begins a profiling session described by opts and returns the
// function that ends it.
func Start(opts Options) (func() error, error) {
	mutex.Lock()
	defer mutex.Unlock()

	if active {
		return nil, ErrActive
	}

	var cpu *os.File
	if opts.CPU != "" {
		f, err := os.Create(opts.CPU)
		if err != nil {
			return nil, fmt.Errorf("prof: %w", err)
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			f.Close()
			return nil, fmt.Errorf("prof: start cpu: %w", err)
		}
		cpu = f
	}
	if opts.BlockRate > 0 {
		runtime.SetBlockProfileRate(opts.BlockRate)
	}
	if opts.MutexRate > 0 {
		runtime.SetMutexProfileFraction(opts.MutexRate)
	}
	active = true
	pkg.LogDebug(pkg.ComponentProf, "profiling started", "cpu", opts.CPU)

	var once sync.Once
	var stopErr error
	stop := func() error {
		once.Do(func() {
			stopErr = finish(opts, cpu)
		})
		return stopErr
	}
	return stop, nil
}

func finish(opts Options, cpu *os.File) error {
	mutex.Lock()
	defer mutex.Unlock()

	var errs []error
	if cpu != nil {
		pprof.StopCPUProfile()
		errs = append(errs, cpu.Close())
	}
	errs = append(errs,
		snapshot("heap", opts.Heap),
		snapshot("block", opts.Block),
		snapshot("mutex", opts.Mutex))
	if opts.BlockRate > 0 {
		runtime.SetBlockProfileRate(0)
	}
	if opts.MutexRate > 0 {
		runtime.SetMutexProfileFraction(0)
	}
	active = false
	pkg.LogDebug(pkg.ComponentProf, "profiling stopped")
	return errors.Join(errs...)
}

func snapshot(name, path string) error {
	if path == "" {
		return nil
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("prof: %w", err)
	}
	if name == "heap" {
		runtime.GC()
	}
	werr := pprof.Lookup(name).WriteTo(f, 0)
	return errors.Join(werr, f.Close())
}
