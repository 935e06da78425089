package cmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func newServeCmd(setup func(*cobra.Command, overrider) error) *cobra.Command {
	var (
		dir    string
		host   string
		noLive bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Replay every archive in a directory over HTTP",
		Long: `Serves each <host>.zip in the directory on its own localhost port. The port is
derived from the archive path, so it stays the same between runs. Requests that
miss the archive are fetched from the live site and added to it.`,
		Args: cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			return setup(cmd, func(cmd *cobra.Command, o map[string]any) {
				flags := cmd.Flags()
				if flags.Changed("dir") {
					o["replay.dir"] = dir
				}
				if flags.Changed("host") {
					o["replay.host"] = host
				}
				if flags.Changed("no-live") {
					o["replay.live_fetch"] = !noLive
				}
			})
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := a.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&dir, "dir", "", "directory holding the archives")
	flags.StringVar(&host, "host", "", "interface to listen on")
	flags.BoolVar(&noLive, "no-live", false, "never fetch missing entries from the live site")
	return cmd
}
