// Package cmd defines the sitearchiver command line.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitearchiver/internal/app"
	"github.com/JakeFAU/sitearchiver/internal/config"
	"github.com/JakeFAU/sitearchiver/internal/logging"
)

type appKeyType string

const appKey appKeyType = "app"

// newApp is the application factory. Tests replace it to inject fakes.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (*app.App, error) {
	return app.New(ctx, cfg, logger)
}

// overrider collects flag values that take precedence over the config file.
type overrider func(cmd *cobra.Command, overrides map[string]any)

func newRootCmd() *cobra.Command {
	var cfgFile string
	var dev bool

	cmd := &cobra.Command{
		Use:   "sitearchiver",
		Short: "Crawl a website into a replayable zip archive.",
		Long: `sitearchiver drives a headless Chrome over every page below a root URL,
captures every response the pages load, and stores the site in a zip archive
that the serve command can replay offline.`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (yaml, json or toml)")
	cmd.PersistentFlags().BoolVar(&dev, "dev", true, "development logging")

	// setup loads configuration and builds the App for a subcommand.
	setup := func(sub *cobra.Command, extra overrider) error {
		overrides := map[string]any{}
		if sub.Flags().Changed("dev") {
			overrides["logging.development"] = dev
		}
		if extra != nil {
			extra(sub, overrides)
		}
		cfg, err := config.Load(cfgFile, overrides)
		if err != nil {
			return err
		}
		logger, err := logging.New(cfg.Logging.Development)
		if err != nil {
			return err
		}
		a, err := newApp(sub.Context(), cfg, logger)
		if err != nil {
			return fmt.Errorf("failed to initialize application services: %w", err)
		}
		sub.SetContext(context.WithValue(sub.Context(), appKey, a))
		return nil
	}

	cmd.PersistentPostRun = func(sub *cobra.Command, _ []string) {
		if a, ok := sub.Context().Value(appKey).(*app.App); ok && a != nil {
			a.Close()
			_ = logging.Sync(a.Logger())
		}
	}

	cmd.AddCommand(newCrawlCmd(setup))
	cmd.AddCommand(newServeCmd(setup))
	return cmd
}

func resolveApp(ctx context.Context) (*app.App, error) {
	a, ok := ctx.Value(appKey).(*app.App)
	if !ok || a == nil {
		return nil, errors.New("application services not initialized")
	}
	return a, nil
}

// Execute runs the root command.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		logger, lerr := logging.New(false)
		if lerr != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		logger.Fatal("Command execution failed", zap.Error(err))
	}
}
