// Command sdtool inspects and images SD/MMC cards attached over SPI.
//
// The card can sit on a Linux spidev port (periph.io), on GPIO lines
// bit-banged through the character device (gpiod), on the Raspberry Pi
// SPI controller (go-rpio), or be emulated over an image file.
//
// Usage:
//
//	sdtool [flags] <command> [args]
//
// Examples:
//
//	sdtool --spi /dev/spidev0.0 --cs GPIO8 info
//	sdtool --gpiochip gpiochip0 --sck 11 --mosi 10 --miso 9 --cs 8 read 0 2
//	sdtool --rpio --cs 8 dump card.img
//	sdtool --sim card.img --sim-class sd2 console
//
// Offsets and counts are in 1 KiB blocks.
package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/ardnew/softsd/pkg"
	"github.com/ardnew/softsd/pkg/prof"
)

const component = pkg.ComponentTool

func main() {
	if err := newRootCommand(newApp()).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand(a *app) *cobra.Command {
	var stopProfile func() error

	root := &cobra.Command{
		Use:          "sdtool",
		Short:        "SD/MMC card utility over SPI",
		Long:         "Initialize, inspect, read, write and image SD/MMC cards in SPI mode",
		SilenceUsage: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			if a.verbose {
				pkg.SetLogLevel(slog.LevelDebug)
			}
			if a.jsonLog {
				pkg.SetLogFormat(pkg.LogFormatJSON)
			}
			stop, err := prof.Start(a.profile)
			if err != nil {
				return err
			}
			stopProfile = stop
			return nil
		},
		PersistentPostRunE: func(_ *cobra.Command, _ []string) error {
			if stopProfile == nil {
				return nil
			}
			return stopProfile()
		},
	}

	f := root.PersistentFlags()
	f.BoolVarP(&a.verbose, "verbose", "v", false, "enable debug logging")
	f.BoolVar(&a.jsonLog, "json", false, "use JSON log format")
	f.StringVar(&a.profile.CPU, "cpuprofile", "", "write a CPU profile (profile builds only)")
	f.StringVar(&a.profile.Heap, "memprofile", "", "write a heap profile (profile builds only)")

	f.StringVar(&a.simPath, "sim", "", "emulate a card over this image file")
	f.StringVar(&a.simClass, "sim-class", "sdhc", "emulated card family: sd1, sd2 or sdhc")
	f.Int64Var(&a.simSizeMiB, "sim-size", 64, "size in MiB of a newly created image")

	f.StringVar(&a.spiPort, "spi", "", "periph.io SPI port, e.g. /dev/spidev0.0")
	f.StringVar(&a.gpioChip, "gpiochip", "", "GPIO character device for bit-banged SPI")
	f.IntVar(&a.sck, "sck", -1, "clock line offset (gpiochip)")
	f.IntVar(&a.mosi, "mosi", -1, "data out line offset (gpiochip)")
	f.IntVar(&a.miso, "miso", -1, "data in line offset (gpiochip)")
	f.BoolVar(&a.rpio, "rpio", false, "use the Raspberry Pi SPI0 controller registers")

	f.StringVar(&a.cs, "cs", "", "chip select pin (name for --spi, number otherwise)")
	f.StringVar(&a.power, "power", "", "card power enable pin")
	f.BoolVar(&a.powerActiveLow, "power-active-low", false, "power pin is active low")

	f.Uint32Var(&a.slowKHz, "slow-khz", 0, "identification clock in kHz (default 250)")
	f.Uint32Var(&a.fastKHz, "fast-khz", 0, "transfer clock in kHz (default 13000)")
	f.BoolVar(&a.readOnly, "read-only", false, "refuse writes to the card")

	root.AddCommand(
		newInfoCommand(a),
		newReadCommand(a),
		newWriteCommand(a),
		newDumpCommand(a),
		newPartitionCommand(a),
		newDiagCommand(a),
		newConsoleCommand(a),
	)
	return root
}
