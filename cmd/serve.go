package cmd

import (
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/storyapp/storyapp/internal/app"
)

// serveCommand runs worker and page in one process on a shared local
// broadcast channel.
func serveCommand(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run worker and page together",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, rt, done, err := setup(cmd, load, "serve")
			if err != nil {
				return err
			}
			defer done()

			w, err := app.NewWorker(rt)
			if err != nil {
				return err
			}
			p, err := app.NewPage(rt)
			if err != nil {
				w.Close()
				return err
			}

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error { return w.Run(gctx) })
			g.Go(func() error { return p.Run(gctx) })
			return g.Wait()
		},
	}
}
