// Package transport defines the byte-transport boundary of the card stack.
//
// The protocol engine in [github.com/ardnew/softsd/sdcard] never touches
// hardware. It drives a [Transport], a full-duplex byte-shift link with a
// chip-select line and an adjustable clock, and leaves everything below
// that boundary to a platform adapter.
//
// # Design Principles
//
// The transport is designed to be:
//
//   - Minimal: only chip select, byte exchange, bulk streaming and clock rate
//   - Synchronous: every call completes before returning; no callbacks
//   - Exclusively owned: one transport serves one card socket
//
// # Interface Overview
//
//   - [Transport]: chip select, single-byte exchange, bulk read/write, bit rate
//   - [Critical]: suppresses preemption around timing-critical polls
//   - [Power]: optional socket power switch used by the block-device layer
//
// [Deselect] wraps [Transport.Deselect] with the extra filler byte the card
// needs to release its data-out line, and [WithCritical] runs a function
// inside a critical section with guaranteed release.
//
// # Adapters
//
//   - [github.com/ardnew/softsd/transport/periph]: Linux spidev via periph.io
//   - [github.com/ardnew/softsd/transport/gpiod]: bit-banged GPIO character-device lines
//   - [github.com/ardnew/softsd/transport/rpio]: Raspberry Pi SPI0 registers
//   - [github.com/ardnew/softsd/transport/tinygo]: TinyGo drivers.SPI buses
//
// An emulated card implementing [Transport] is available in
// [github.com/ardnew/softsd/sim] for tests and host-side development.
package transport
