package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dgnsrekt/dropscout/internal/cache"
)

var (
	serveAddr string

	serveCmd = &cobra.Command{
		Use:     "serve",
		Short:   "Serve the cache over HTTP",
		Long:    paragraph(fmt.Sprintf("\n%s the cache over HTTP with Prometheus metrics. The log level follows edits to the config file.", keyword("Serve"))),
		Example: paragraph("dropscout serve --addr :9090"),
		Args:    cobra.NoArgs,
		RunE:    serve,
	}
)

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", ":9090", "address to listen on")
	_ = viper.BindPFlag("serve.addr", serveCmd.Flags().Lookup("addr"))
}

func serve(cmd *cobra.Command, _ []string) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := cache.NewMetrics(appName, reg)

	m, closer, err := openCache(cache.WithMetrics(metrics))
	if err != nil {
		return err
	}
	defer closer() //nolint:errcheck

	if viper.ConfigFileUsed() != "" {
		viper.OnConfigChange(func(e fsnotify.Event) {
			log.Info("Configuration changed", "file", e.Name)
			if err := applyLogLevel(); err != nil {
				log.Warn("Ignoring log level", "error", err)
			}
		})
		viper.WatchConfig()
	}

	srv := &http.Server{
		Addr:              viper.GetString("serve.addr"),
		Handler:           newCacheServer(m, reg, log.Default().WithPrefix("http")).routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errc := make(chan error, 1)
	go func() {
		log.Info("Serving cache", "addr", srv.Addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("unable to serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	log.Info("Shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("unable to shut down: %w", err)
	}
	return nil
}
