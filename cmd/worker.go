package cmd

import (
	"github.com/spf13/cobra"

	"github.com/storyapp/storyapp/internal/app"
	"github.com/storyapp/storyapp/internal/logger"
)

func workerCommand(load loader) *cobra.Command {
	var listen string
	c := &cobra.Command{
		Use:   "worker",
		Short: "Run the worker: fetch interception, caches and push notifications",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, rt, done, err := setup(cmd, load, "worker")
			if err != nil {
				return err
			}
			defer done()
			if listen != "" {
				rt.Settings.Worker.Listen = listen
			}

			w, err := app.NewWorker(rt)
			if err != nil {
				return err
			}
			rt.Log.Info("starting worker",
				logger.String("listen", rt.Settings.Worker.Listen),
				logger.String("version", rt.Settings.Worker.Version))
			return w.Run(ctx)
		},
	}
	c.Flags().StringVar(&listen, "listen", "", "override worker.listen")
	return c
}
