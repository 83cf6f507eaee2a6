// Package cmd holds the storyapp command line.
package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/storyapp/storyapp/internal/app"
	"github.com/storyapp/storyapp/internal/conf"
)

// RootCommand returns the storyapp command with its worker, page, serve
// and config subcommands.
func RootCommand(version string) *cobra.Command {
	var configFile string

	root := &cobra.Command{
		Use:           "storyapp",
		Short:         "Story App offline cache and push runtime",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (default ./config.yaml)")

	load := func() (*conf.Settings, error) { return conf.Load(configFile) }

	root.AddCommand(
		workerCommand(load),
		pageCommand(load),
		serveCommand(load),
		configCommand(load),
	)
	return root
}

type loader func() (*conf.Settings, error)

// setup loads settings and builds the shared services for process name.
// The returned context ends on SIGINT or SIGTERM.
func setup(cmd *cobra.Command, load loader, name string) (context.Context, *app.Runtime, func(), error) {
	settings, err := load()
	if err != nil {
		return nil, nil, nil, err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	rt, err := app.NewRuntime(ctx, settings, os.Stderr, name)
	if err != nil {
		stop()
		return nil, nil, nil, err
	}
	return ctx, rt, func() {
		rt.Close()
		stop()
	}, nil
}
