package main

import (
	"crypto/sha256"
	"fmt"
	"hash"
	"io"
	"os"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
	"github.com/spf13/cobra"

	"github.com/ardnew/softsd/pkg"
)

func newDumpCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "dump <file>",
		Short: "Copy the whole card to an image file and print its CID",
		Long: "Copy every block of the card to an image file. The content identifier\n" +
			"(CIDv1, raw codec, sha2-256) of the image is printed so copies can be\n" +
			"compared without transferring them.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := os.Create(args[0])
			if err != nil {
				return err
			}
			defer out.Close()

			return a.withSession(func(s *session) error {
				sum := sha256.New()
				step := uint32(0)
				err := readAll(s.unit, io.MultiWriter(out, sum), func(done, total uint32) {
					if pct := done * 10 / total; pct != step {
						step = pct
						pkg.LogInfo(component, "dumping", "blocks", done, "of", total)
					}
				})
				if err != nil {
					return err
				}
				if err := out.Sync(); err != nil {
					return err
				}
				id, err := contentID(sum)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", id, args[0])
				return nil
			})
		},
	}
}

// contentID wraps a finished sha2-256 digest as a raw CIDv1.
func contentID(h hash.Hash) (cid.Cid, error) {
	mh, err := multihash.Encode(h.Sum(nil), multihash.SHA2_256)
	if err != nil {
		return cid.Undef, fmt.Errorf("multihash: %w", err)
	}
	return cid.NewCidV1(cid.Raw, mh), nil
}
