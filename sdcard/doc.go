// Package sdcard implements the SD/MMC card protocol in SPI mode.
//
// A [Card] turns a [transport.Transport] into a block device. It detects
// the card family, negotiates operating conditions, decodes the capacity
// register and streams multiple-block reads and writes. Everything runs
// synchronously in the calling goroutine; there are no interrupts to wait
// on, so every wait is a poll bounded by an iteration count.
//
// # Card Classes
//
// Initialization resolves one of three classes:
//
//   - [ClassSD1]: MMC or SD v1, rejects CMD8, byte addressed
//   - [ClassSD2]: SD v2 standard capacity, byte addressed
//   - [ClassSDHC]: SD v2 high capacity, block addressed
//
// # Units
//
// Offsets passed to [Card.ReadBlocks] and [Card.WriteBlocks] and the count
// returned by [Card.Capacity] are in [BlockSize] units of 1 KiB. On the
// wire every block is two [SectorSize] data packets, each framed by a start
// token and a two-byte CRC. The byte count of a request need not be a
// multiple of the sector size; a short final sector is padded.
//
// # Timing
//
// Each bounded wait belongs to a [pkg.Phase] with its own limit in
// [Bounds]. The largest poll count seen per phase is recorded in a
// [Diagnostics] object and can be read with [Diagnostics.Snapshot] when
// tuning the limits for a platform. The polls that wait on card-internal
// timing (read start token, write programming) run each exchange inside
// the [transport.Critical] given in [Config].
//
// # Example
//
//	card := sdcard.New(bus, sdcard.DefaultConfig())
//	if err := card.Init(); err != nil {
//	    return err
//	}
//	blocks, err := card.Capacity()
//	if err != nil {
//	    return err
//	}
//	buf := make([]byte, 2*sdcard.BlockSize)
//	err = card.ReadBlocks(0, buf)
package sdcard
