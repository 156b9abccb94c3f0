package pgrest

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/edgeflare/pgrest/pkg/httputil"
	"github.com/edgeflare/pgrest/pkg/metrics"
	"github.com/edgeflare/pgrest/pkg/postgrest/resttest"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the in-memory multi-schema fixture",
	Long: `Starts an in-memory PostgREST-compatible server exposing the public and
personal schemas. Requests for any other schema, including private, fail with
"Invalid schema". Data is reset on restart.`,
	RunE: runServe,
}

func init() {
	f := serveCmd.Flags()
	f.StringP("listen", "l", "", "listen address (default :3000)")
	f.String("base-path", "", "path prefix to mount the fixture under, e.g. /rest/v1")
	f.Bool("metrics", false, "expose prometheus metrics")
	f.String("metrics-addr", "", "metrics listen address (default :9100)")

	viper.BindPFlag("serve.listenAddr", f.Lookup("listen"))
	viper.BindPFlag("serve.basePath", f.Lookup("base-path"))
	viper.BindPFlag("metrics.enabled", f.Lookup("metrics"))
	viper.BindPFlag("metrics.addr", f.Lookup("metrics-addr"))
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	logger, err := newLogger(cfg.Log.Level)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var handler http.Handler = resttest.NewFixture(resttest.WithLogger(logger))

	var wg sync.WaitGroup
	if cfg.Metrics.Enabled {
		handler = metrics.NewServerMetrics(nil).Middleware(handler)
		metrics.StartPrometheusServer(ctx, &wg, &metrics.PromServerOpts{
			Logger: logger,
			Addr:   cfg.Metrics.Addr,
			Path:   cfg.Metrics.Path,
		})
	}

	router := newServeRouter(handler, cfg.Serve.BasePath, httputil.WithServerOptions(func(s *http.Server) {
		s.ReadTimeout = 30 * time.Second
		s.WriteTimeout = 30 * time.Second
	}))

	errCh := make(chan error, 1)
	go func() {
		logger.Info("serving fixture",
			zap.String("addr", cfg.Serve.ListenAddr),
			zap.Strings("schemas", []string{resttest.FixtureDefaultSchema, resttest.FixturePersonalSchema}),
		)
		if err := router.ListenAndServe(cfg.Serve.ListenAddr); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		stop()
		wg.Wait()
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err = router.Shutdown(shutdownCtx)
	wg.Wait()
	return err
}

// newServeRouter mounts handler under basePath. The prefix is stripped
// before the fixture sees the request, so /rest/v1/users resolves to the
// users table.
func newServeRouter(handler http.Handler, basePath string, opts ...httputil.RouterOptions) *httputil.Router {
	basePath = strings.TrimRight(basePath, "/")
	router := httputil.NewRouter(opts...)
	router.Group(basePath).Handle("/", http.StripPrefix(basePath, handler))
	return router
}
