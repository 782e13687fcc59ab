package main

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/ardnew/softsd/disk"
	"github.com/ardnew/softsd/pkg"
	"github.com/ardnew/softsd/sdcard"
)

// withSession opens the card, runs fn and releases everything.
func (a *app) withSession(fn func(s *session) error) (err error) {
	s, err := a.open()
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, s.Close())
	}()
	return fn(s)
}

func newInfoCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Initialize the card and print its type, size and CSD",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withSession(func(s *session) error {
				return printInfo(cmd.OutOrStdout(), s.unit)
			})
		},
	}
}

func printInfo(w io.Writer, u *disk.Unit) error {
	card := u.Card()
	csd, err := card.ReadCSD()
	if err != nil {
		return err
	}
	blocks := u.BlockCount()
	fmt.Fprintf(w, "type:      %s\n", u.Class())
	fmt.Fprintf(w, "blocks:    %d x %d bytes\n", blocks, sdcard.BlockSize)
	fmt.Fprintf(w, "size:      %d KiB (%.1f MiB)\n", blocks, float64(blocks)/1024)
	fmt.Fprintf(w, "clock:     %d kHz\n", card.Transport().BitRate())
	fmt.Fprintf(w, "csd:       v%d %s\n", csd.Version()+1, hex.EncodeToString(csd[:]))

	parts, err := disk.Partitions(u)
	switch {
	case errors.Is(err, disk.ErrNoPartitionTable):
		fmt.Fprintln(w, "partitions: none")
	case err != nil:
		return err
	default:
		printPartitions(w, parts)
	}
	return nil
}

func printPartitions(w io.Writer, parts []disk.Partition) {
	fmt.Fprintf(w, "partitions: %d\n", len(parts))
	for _, p := range parts {
		boot := ""
		if p.Bootable {
			boot = " boot"
		}
		fmt.Fprintf(w, "  %d: %-14s start %-9d sectors %-9d %d MiB%s\n",
			p.Index+1, p.TypeName(), p.Start, p.Sectors, p.Size()>>20, boot)
	}
}

func newReadCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "read <block> [count]",
		Short: "Hex dump blocks of the card",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			block, count, err := blockRange(args, 1)
			if err != nil {
				return err
			}
			return a.withSession(func(s *session) error {
				return dumpBlocks(cmd.OutOrStdout(), s.unit, block, count)
			})
		},
	}
}

func dumpBlocks(w io.Writer, u *disk.Unit, block, count uint32) error {
	buf := make([]byte, int(count)*sdcard.BlockSize)
	if err := u.ReadBlocks(block, buf); err != nil {
		return err
	}
	d := hex.Dumper(w)
	if _, err := d.Write(buf); err != nil {
		return err
	}
	return d.Close()
}

func newWriteCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "write <block> <file>",
		Short: "Write a file to the card starting at a block",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			block, _, err := blockRange(args[:1], 0)
			if err != nil {
				return err
			}
			data, err := os.ReadFile(args[1])
			if err != nil {
				return err
			}
			return a.withSession(func(s *session) error {
				if err := s.unit.WriteBlocks(block, data); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "wrote %d bytes at block %d\n", len(data), block)
				return nil
			})
		},
	}
}

func newPartitionCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "partitions",
		Short: "List the MBR partition table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withSession(func(s *session) error {
				parts, err := disk.Partitions(s.unit)
				if err != nil {
					return err
				}
				printPartitions(cmd.OutOrStdout(), parts)
				return nil
			})
		},
	}
}

func newDiagCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "diag",
		Short: "Initialize, read the whole card and print the busy-wait maxima",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withSession(func(s *session) error {
				if err := readAll(s.unit, io.Discard, nil); err != nil {
					return err
				}
				printDiagnostics(cmd.OutOrStdout(), s.registry.Diagnostics(), s.unit.Stats())
				return nil
			})
		},
	}
}

func printDiagnostics(w io.Writer, snap sdcard.Snapshot, st disk.Stats) {
	fmt.Fprintln(w, "busy-wait maxima (poll iterations):")
	for p := pkg.Phase(0); p < pkg.NumPhases; p++ {
		fmt.Fprintf(w, "  %-10s %d\n", p, snap.Get(p))
	}
	fmt.Fprintf(w, "reads %d (%d bytes), writes %d (%d bytes), errors %d\n",
		st.Reads, st.BytesRead, st.Writes, st.BytesWritten, st.Errors)
}

// readAll streams every block of u to w in chunks. progress, if not nil,
// is called after each chunk with the number of blocks done.
func readAll(u *disk.Unit, w io.Writer, progress func(done, total uint32)) error {
	const chunk = 64
	total := uint32(u.BlockCount())
	buf := make([]byte, chunk*sdcard.BlockSize)
	for done := uint32(0); done < total; {
		n := min(total-done, chunk)
		b := buf[:int(n)*sdcard.BlockSize]
		if err := u.ReadBlocks(done, b); err != nil {
			return err
		}
		if _, err := w.Write(b); err != nil {
			return err
		}
		done += n
		if progress != nil {
			progress(done, total)
		}
	}
	return nil
}

// blockRange parses "<block> [count]". A missing count is def.
func blockRange(args []string, def uint32) (uint32, uint32, error) {
	block, err := strconv.ParseUint(args[0], 0, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: block %q", pkg.ErrInvalidParameter, args[0])
	}
	count := uint64(def)
	if len(args) > 1 {
		count, err = strconv.ParseUint(args[1], 0, 32)
		if err != nil || count == 0 {
			return 0, 0, fmt.Errorf("%w: count %q", pkg.ErrInvalidParameter, args[1])
		}
	}
	return uint32(block), uint32(count), nil
}
