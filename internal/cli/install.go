package cli

import (
	"context"
	"os"
	"time"

	"github.com/spf13/cobra"

	pmerrors "github.com/matzehuels/stackpm/pkg/errors"
	"github.com/matzehuels/stackpm/pkg/install"
	"github.com/matzehuels/stackpm/pkg/lock"
)

// installOpts holds the flags shared by install, add and remove.
type installOpts struct {
	prod       bool // skip devDependencies when linking
	frozen     bool // fail if the lockfile needs changes
	ignoreLock bool // resolve without the lockfile
	refresh    bool // bypass cached registry metadata
}

func (o *installOpts) register(cmd *cobra.Command, frozen bool) {
	cmd.Flags().BoolVarP(&o.prod, "prod", "P", false, "do not link devDependencies")
	cmd.Flags().BoolVar(&o.refresh, "refresh", false, "bypass cached registry metadata")
	if frozen {
		cmd.Flags().BoolVar(&o.frozen, "frozen-lockfile", false, "fail instead of updating "+lock.FileName)
		cmd.Flags().BoolVar(&o.ignoreLock, "ignore-lockfile", false, "resolve every dependency against the registry")
	}
}

func (o *installOpts) options(concurrency int) install.Options {
	return install.Options{
		Production:     o.prod,
		FrozenLockfile: o.frozen,
		IgnoreLockfile: o.ignoreLock,
		Refresh:        o.refresh,
		Concurrency:    concurrency,
	}
}

// installCommand creates the install command.
func (c *CLI) installCommand() *cobra.Command {
	var opts installOpts

	cmd := &cobra.Command{
		Use:     "install",
		Aliases: []string{"i"},
		Short:   "Install every dependency in package.json",
		Long: `Install every dependency declared in package.json.

Versions pinned in stackpm-lock.toml are reused as long as they still satisfy
package.json; everything else is resolved against the registry. The lockfile is
written only after node_modules has been linked successfully.

Examples:
  stackpm install
  stackpm install --prod
  stackpm install --frozen-lockfile   # CI: fail if the lockfile is out of date`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runInstall(cmd.Context(), "Installing dependencies", func(ctx context.Context, r *install.Runner, dir string) (*install.Result, error) {
				return r.Install(ctx, dir, opts.options(c.settings().Concurrency))
			})
		},
	}

	opts.register(cmd, true)
	return cmd
}

// addCommand creates the add command.
func (c *CLI) addCommand() *cobra.Command {
	var (
		opts installOpts
		dev  bool
	)

	cmd := &cobra.Command{
		Use:   "add <package[@range]>...",
		Short: "Add dependencies to package.json and install them",
		Long: `Add dependencies to package.json and install them.

Packages given without a range resolve the latest dist-tag and are saved as
^<version>. package.json is only changed if the install succeeds.

Examples:
  stackpm add lodash
  stackpm add react@^18 react-dom@^18
  stackpm add -D @types/node@20`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runInstall(cmd.Context(), "Adding packages", func(ctx context.Context, r *install.Runner, dir string) (*install.Result, error) {
				return r.Add(ctx, dir, args, dev, opts.options(c.settings().Concurrency))
			})
		},
	}

	cmd.Flags().BoolVarP(&dev, "save-dev", "D", false, "save to devDependencies")
	opts.register(cmd, false)
	return cmd
}

// removeCommand creates the remove command.
func (c *CLI) removeCommand() *cobra.Command {
	var opts installOpts

	cmd := &cobra.Command{
		Use:     "remove <package>...",
		Aliases: []string{"rm", "uninstall"},
		Short:   "Remove dependencies from package.json and node_modules",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runInstall(cmd.Context(), "Removing packages", func(ctx context.Context, r *install.Runner, dir string) (*install.Result, error) {
				return r.Remove(ctx, dir, args, opts.options(c.settings().Concurrency))
			})
		},
	}

	opts.register(cmd, false)
	return cmd
}

// runInstall builds a runner, runs fn behind a spinner and prints a summary.
func (c *CLI) runInstall(ctx context.Context, message string, fn func(context.Context, *install.Runner, string) (*install.Result, error)) error {
	dir, err := c.projectDir()
	if err != nil {
		return err
	}
	runner, closeRunner, err := c.newRunner()
	if err != nil {
		return err
	}
	defer closeRunner()

	var spinner *Spinner
	if isTerminal(os.Stderr) && c.Logger.GetLevel() > LogDebug {
		spinner = newSpinner(ctx, os.Stderr, message+"...")
		spinner.Start()
	}
	start := time.Now()
	res, err := fn(ctx, runner, dir)
	if spinner != nil {
		spinner.Stop()
	}
	if err != nil {
		if pmerrors.Is(err, pmerrors.ErrCodeLockfileOutdated) {
			printNextStep("Update the lockfile with", appName+" install")
		}
		return err
	}

	printSuccess("%d packages installed (%s)", res.Graph.Len(), time.Since(start).Round(time.Millisecond))
	printInstallStats(res, c.Stats)
	for _, w := range res.Graph.Cycles() {
		printDetail("cycle: %s", w.String())
	}
	if res.LockfileWritten {
		printFile(lock.FileName)
	}
	return nil
}
