package cmd

import (
	"github.com/spf13/cobra"

	"github.com/storyapp/storyapp/internal/app"
	"github.com/storyapp/storyapp/internal/logger"
)

func pageCommand(load loader) *cobra.Command {
	var listen string
	c := &cobra.Command{
		Use:   "page",
		Short: "Run the page: accounts, stories and the notification toggle",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, rt, done, err := setup(cmd, load, "page")
			if err != nil {
				return err
			}
			defer done()
			if listen != "" {
				rt.Settings.Page.Listen = listen
			}

			p, err := app.NewPage(rt)
			if err != nil {
				return err
			}
			rt.Log.Info("starting page",
				logger.String("listen", rt.Settings.Page.Listen),
				logger.String("worker", rt.Settings.Page.WorkerURL))
			return p.Run(ctx)
		},
	}
	c.Flags().StringVar(&listen, "listen", "", "override page.listen")
	return c
}
