package replay

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"net"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/sitearchiver/internal/archive"
	"github.com/JakeFAU/sitearchiver/internal/crawler"
)

const (
	minPort = 1025
	maxPort = 65534
)

// ErrNoArchives is returned by Serve when the directory holds no archives.
var ErrNoArchives = errors.New("no archives to serve")

// Config controls Serve.
type Config struct {
	Dir        string
	Host       string
	FlushDelay time.Duration
	// LiveFetch fetches entries missing from an archive from the live site.
	LiveFetch bool
}

// Port returns the listening port for the archive at absPath. The same path
// always maps to the same port.
func Port(absPath string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(absPath))
	return minPort + int(h.Sum32()%uint32(maxPort-minPort))
}

// Serve opens every *.zip in cfg.Dir and serves each on its own port until
// ctx is cancelled. Pending live entries are flushed on shutdown.
func Serve(ctx context.Context, cfg Config, fetcher crawler.Fetcher, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("replay")
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if !cfg.LiveFetch {
		fetcher = nil
	}

	paths, err := filepath.Glob(filepath.Join(cfg.Dir, "*.zip"))
	if err != nil {
		return fmt.Errorf("list archives: %w", err)
	}
	if len(paths) == 0 {
		return fmt.Errorf("%w in %s", ErrNoArchives, cfg.Dir)
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return fmt.Errorf("resolve %s: %w", p, err)
		}
		a, err := archive.Open(abs)
		if err != nil {
			return err
		}
		domain := strings.TrimSuffix(filepath.Base(abs), ".zip")
		site := NewSite(domain, a, fetcher, cfg.FlushDelay, logger)
		srv := &http.Server{
			Addr:              net.JoinHostPort(cfg.Host, strconv.Itoa(Port(abs))),
			Handler:           site.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}

		g.Go(func() error {
			logger.Info("Serving archive",
				zap.String("domain", domain),
				zap.String("url", "http://"+srv.Addr),
				zap.Int("entries", a.Len()))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("serve %s: %w", domain, err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Error("Server shutdown error", zap.String("domain", domain), zap.Error(err))
			}
			if err := site.Close(); err != nil {
				logger.Warn("Failed to flush archive", zap.String("domain", domain), zap.Error(err))
			}
			return nil
		})
	}
	return g.Wait()
}
