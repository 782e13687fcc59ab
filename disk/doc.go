// Package disk exposes SD cards as numbered block devices.
//
// A [Registry] holds a fixed-size table of units. Each unit binds a
// transport to an [sdcard.Card] session and adds what a host block layer
// expects on top of the protocol engine: unit-number validation, power
// sequencing, a ready state, range checks, read-only attachment and
// per-unit statistics.
//
// All transfers are in [sdcard.BlockSize] units. A unit serializes its own
// requests; different units may be used concurrently.
//
// # Usage
//
//	reg := disk.NewRegistry(2)
//	if _, err := reg.Attach(0, bus, disk.WithPower(bus)); err != nil {
//		return err
//	}
//	blocks, err := reg.Initialize(0)
//	if err != nil {
//		return err // wraps pkg.ErrNoDevice
//	}
//	buf := make([]byte, 4*sdcard.BlockSize)
//	err = reg.ReadBlocks(0, 0, buf)
//
// A [Unit] also implements [Storage], [io.ReaderAt] and [io.WriterAt]
// for byte-addressed access.
package disk
