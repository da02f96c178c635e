package cli

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	pmerrors "github.com/matzehuels/stackpm/pkg/errors"
	"github.com/matzehuels/stackpm/pkg/store"
)

// storeCommand creates the store command with its subcommands.
func (c *CLI) storeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "store",
		Short: "Inspect the content-addressable package store",
		Long: `The store keeps one copy of every unpacked package, keyed by the hash of its
contents. Projects link to store entries instead of copying them.`,
	}

	cmd.AddCommand(c.storePathCommand())
	cmd.AddCommand(c.storeStatusCommand())
	cmd.AddCommand(c.storeVerifyCommand())
	return cmd
}

func (c *CLI) storePathCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the store directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), c.settings().StoreDir)
			return nil
		},
	}
}

func (c *CLI) storeStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show store size and entry counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := c.openStore()
			if err != nil {
				return err
			}
			stats, err := s.Stats()
			if err != nil {
				return err
			}
			printKeyValue("Path", s.Root())
			printKeyValue("Entries", strconv.Itoa(stats.Entries))
			printKeyValue("Packages", strconv.Itoa(stats.Packages))
			printKeyValue("Files", strconv.Itoa(stats.Files))
			printKeyValue("Size", formatBytes(stats.Bytes))
			return nil
		},
	}
}

func (c *CLI) storeVerifyCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Re-hash every store entry and report corrupted ones",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := c.openStore()
			if err != nil {
				return err
			}
			entries, err := s.Entries()
			if err != nil {
				return err
			}

			bad, err := verifyEntries(cmd, s, entries, c.settings().Concurrency)
			if err != nil {
				return err
			}
			if len(bad) == 0 {
				printSuccess("%d store entries verified", len(entries))
				return nil
			}
			for _, e := range bad {
				pkgs, _ := s.Packages(e.Hash)
				label := e.Hash
				if len(pkgs) > 0 {
					label += " (" + strings.Join(pkgs, ", ") + ")"
				}
				printError("%s", label)
			}
			printNextStep("Reinstall affected projects with", appName+" install")
			return pmerrors.New(pmerrors.ErrCodeIntegrityMismatch, "%d of %d store entries are corrupted", len(bad), len(entries))
		},
	}
}

// verifyEntries re-hashes entries in parallel and returns those whose content
// no longer matches their hash. Read failures abort the scan.
func verifyEntries(cmd *cobra.Command, s *store.Store, entries []store.Entry, concurrency int) ([]store.Entry, error) {
	corrupt := make([]bool, len(entries))

	eg, ctx := errgroup.WithContext(cmd.Context())
	eg.SetLimit(max(concurrency, 1))
	for i, e := range entries {
		eg.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			err := s.Verify(e)
			var ie *store.IntegrityError
			if errors.As(err, &ie) {
				corrupt[i] = true
				return nil
			}
			return err
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	var bad []store.Entry
	for i, e := range entries {
		if corrupt[i] {
			bad = append(bad, e)
		}
	}
	return bad, nil
}
