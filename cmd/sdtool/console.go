package main

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/mattn/go-tty"
	"github.com/spf13/cobra"

	"github.com/ardnew/softsd/disk"
	"github.com/ardnew/softsd/sdcard"
)

// lineReader yields one line of user input per call, without the
// terminating newline.
type lineReader interface {
	ReadString() (string, error)
}

func openTerminal() (lineReader, io.Writer, func() error, error) {
	t, err := tty.Open()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("console: %w", err)
	}
	return t, t.Output(), t.Close, nil
}

func newConsoleCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "console",
		Short: "Browse and patch the card interactively",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			in, out, closeTerm, err := a.terminal()
			if err != nil {
				return err
			}
			defer closeTerm()

			return a.withSession(func(s *session) error {
				c := &console{in: in, out: out, session: s}
				return c.run()
			})
		},
	}
}

const consoleHelp = `commands:
  info                 card type, size and CSD
  r <block> [count]    hex dump blocks
  n                    dump the block after the last one shown
  w <block> <hex>      write bytes at the start of a block
  fill <block> <byte>  fill a block with one value
  part                 list partitions
  diag                 busy-wait maxima and counters
  reinit               power cycle and initialize again
  q                    quit
`

type console struct {
	in      lineReader
	out     io.Writer
	session *session
	next    uint32
}

func (c *console) run() error {
	fmt.Fprintf(c.out, "%s card, %d blocks; type help for commands\n",
		c.session.unit.Class(), c.session.unit.BlockCount())
	for {
		fmt.Fprint(c.out, "sd> ")
		line, err := c.in.ReadString()
		if errors.Is(err, io.EOF) {
			fmt.Fprintln(c.out)
			return nil
		}
		if err != nil {
			return err
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		if fields[0] == "q" || fields[0] == "quit" || fields[0] == "exit" {
			return nil
		}
		if err := c.execute(fields[0], fields[1:]); err != nil {
			fmt.Fprintf(c.out, "error: %v\n", err)
		}
	}
}

func (c *console) execute(name string, args []string) error {
	u := c.session.unit
	switch name {
	case "help", "?":
		fmt.Fprint(c.out, consoleHelp)
		return nil

	case "info":
		return printInfo(c.out, u)

	case "r", "read":
		if len(args) == 0 {
			return errors.New("usage: r <block> [count]")
		}
		block, count, err := blockRange(args, 1)
		if err != nil {
			return err
		}
		if err := dumpBlocks(c.out, u, block, count); err != nil {
			return err
		}
		c.next = block + count
		return nil

	case "n", "next":
		if err := dumpBlocks(c.out, u, c.next, 1); err != nil {
			return err
		}
		c.next++
		return nil

	case "w", "write":
		if len(args) != 2 {
			return errors.New("usage: w <block> <hex>")
		}
		block, _, err := blockRange(args[:1], 0)
		if err != nil {
			return err
		}
		data, err := hex.DecodeString(args[1])
		if err != nil {
			return err
		}
		_, err = u.WriteAt(data, int64(block)*sdcard.BlockSize)
		return err

	case "fill":
		if len(args) != 2 {
			return errors.New("usage: fill <block> <byte>")
		}
		block, _, err := blockRange(args[:1], 0)
		if err != nil {
			return err
		}
		v, err := strconv.ParseUint(args[1], 0, 8)
		if err != nil {
			return err
		}
		buf := make([]byte, sdcard.BlockSize)
		for i := range buf {
			buf[i] = byte(v)
		}
		return u.WriteBlocks(block, buf)

	case "part":
		parts, err := disk.Partitions(u)
		if err != nil {
			return err
		}
		printPartitions(c.out, parts)
		return nil

	case "diag":
		printDiagnostics(c.out, c.session.registry.Diagnostics(), u.Stats())
		return nil

	case "reinit":
		if err := u.Shutdown(); err != nil {
			return err
		}
		blocks, err := u.Initialize()
		if err != nil {
			return err
		}
		fmt.Fprintf(c.out, "%s card, %d blocks\n", u.Class(), blocks)
		return nil

	default:
		return fmt.Errorf("unknown command %q", name)
	}
}
