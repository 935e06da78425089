package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newCrawlCmd(setup func(*cobra.Command, overrider) error) *cobra.Command {
	var (
		spa          bool
		originalHTML bool
		originalURLs bool
		instances    int
		output       string
	)

	cmd := &cobra.Command{
		Use:   "crawl <url>",
		Short: "Crawl a site into <output>/<host>.zip",
		Long: `Crawls every page below <url> in headless Chrome and stores each response in
<output>/<host>.zip. Progress is checkpointed into the archive, so running the
same command again after an interruption resumes the crawl.`,
		Args: cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			return setup(cmd, func(cmd *cobra.Command, o map[string]any) {
				flags := cmd.Flags()
				if flags.Changed("spa") && spa {
					o["archive.original_html"] = true
					o["archive.original_urls"] = true
				}
				if flags.Changed("original-html") {
					o["archive.original_html"] = originalHTML
				}
				if flags.Changed("original-urls") {
					o["archive.original_urls"] = originalURLs
				}
				if flags.Changed("instances") {
					o["crawler.instances"] = instances
				}
				if flags.Changed("output") {
					o["crawler.output_dir"] = output
				}
			})
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			res, err := a.Crawl(ctx, args[0])
			switch {
			case errors.Is(err, context.Canceled):
				a.Logger().Warn("Crawl interrupted; run the same command again to resume",
					zap.String("archive", res.Summary.Archive))
				return nil
			case err != nil:
				return fmt.Errorf("crawl %s: %w", args[0], err)
			}
			a.Logger().Info("Crawl command finished",
				zap.String("run_id", res.RunID),
				zap.String("archive", res.ArchiveURI))
			return nil
		},
	}

	flags := cmd.Flags()
	flags.BoolVar(&spa, "spa", false, "single page app mode: keep original HTML and URLs")
	flags.BoolVar(&originalHTML, "original-html", false, "store documents as served instead of the rendered DOM")
	flags.BoolVar(&originalURLs, "original-urls", false, "do not rewrite absolute URLs of the crawled origin")
	flags.IntVar(&instances, "instances", 0, "concurrent workers (0 = half the CPUs)")
	flags.StringVar(&output, "output", "", "directory archives are written to")
	return cmd
}
