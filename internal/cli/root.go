package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/quyen-luc/prices-app/internal/config"
	"github.com/spf13/cobra"
)

// Options configures the command tree.
type Options struct {
	Open Opener
	Out  io.Writer
	Err  io.Writer
}

type env struct {
	open Opener
}

// NewRootCommand builds the pricesync command tree.
func NewRootCommand(opts Options) *cobra.Command {
	if opts.Open == nil {
		opts.Open = OpenApp
	}
	e := &env{open: opts.Open}

	root := &cobra.Command{
		Use:   "pricesync",
		Short: "Keep the local price store in sync with the shared database",
		Long: `pricesync keeps a local SQLite product store and a shared PostgreSQL
store eventually consistent. Local edits are pushed, remote edits are pulled,
and a long-running mode pushes on a timer while the remote store is reachable.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	if opts.Out != nil {
		root.SetOut(opts.Out)
	}
	if opts.Err != nil {
		root.SetErr(opts.Err)
	}

	config.AddFlags(root.PersistentFlags())

	root.AddCommand(
		e.pushCommand(),
		e.pullCommand(),
		e.syncCommand(),
		e.statusCommand(),
		e.runCommand(),
		e.autoSyncCommand(),
		e.initialSyncCommand(),
		secretCommand(),
		versionCommand(),
	)
	return root
}

// Execute runs the command tree against args.
func Execute(ctx context.Context, args []string, opts Options) error {
	root := NewRootCommand(opts)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintln(root.ErrOrStderr(), "Error:", err)
	}
	return err
}

// withEngine loads the config from the command's flags, opens an engine and
// hands it to fn. The engine is closed afterwards.
func (e *env) withEngine(cmd *cobra.Command, fn func(ctx context.Context, eng Engine) error) error {
	cfg, err := config.Load(cmd.Flags())
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	eng, err := e.open(ctx, cfg)
	if err != nil {
		return err
	}
	defer eng.Close()
	return fn(ctx, eng)
}
