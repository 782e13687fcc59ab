// Package prof captures pprof profiles of a softsd session.
//
// It is compiled in only with the "profile" build tag:
//
//	go build -tags profile ./cmd/sdtool
//
// Without the tag, Start returns a no-op stop function and the package adds
// nothing to the binary, so call sites stay in place in release builds.
//
// # Usage
//
//	stop, err := prof.Start(prof.Options{
//		CPU:        "cpu.prof",
//		Heap:       "heap.prof",
//		MutexRate:  1,
//	})
//	if err != nil {
//		return err
//	}
//	defer stop()
//
// The CPU profile streams from Start until stop. Snapshot profiles (heap,
// block and mutex) are written when stop runs, so they cover the whole
// session. Bit-banged transports spend nearly all their time in the clock
// loop; the mutex profile shows contention on a shared unit.
package prof
