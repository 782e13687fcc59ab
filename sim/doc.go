// Package sim emulates an SD card in SPI mode.
//
// A [Card] answers the command set used by
// [github.com/ardnew/softsd/sdcard] the way a real card does on its data
// lines: command frames are decoded as they are clocked in, replies are
// queued behind a configurable number of filler bytes, reads stream data
// packets until CMD12 and writes answer each packet with a data response
// followed by busy bytes. The card's contents live in an [Image], either
// in memory or in a file.
//
// The emulator checks what a card checks: at least 74 clocks with chip
// select high before the first CMD0, identification at 400 kHz or less,
// valid CRCs on CMD0 and CMD8, and the HCS bit in ACMD41 for high
// capacity cards.
//
// [Faults] injects the failures the protocol engine must survive: cards
// that never reach idle, wrong CMD8 echoes, negotiation that never ends,
// missing data tokens, rejected sectors and forced replies.
//
// A [Recorder] wraps any transport and records the bytes exchanged.
//
//	img := sim.NewMemoryImage(4 << 20)
//	card := sim.New(sim.KindSDHC, img)
//	sd := sdcard.New(card, sdcard.DefaultConfig())
//	err := sd.Init()
package sim
