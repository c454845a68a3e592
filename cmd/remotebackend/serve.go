package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/cuemby/remotebackend/pkg/api"
	"github.com/cuemby/remotebackend/pkg/cache"
	"github.com/cuemby/remotebackend/pkg/clock"
	"github.com/cuemby/remotebackend/pkg/config"
	"github.com/cuemby/remotebackend/pkg/dispatcher"
	"github.com/cuemby/remotebackend/pkg/engine"
	"github.com/cuemby/remotebackend/pkg/health"
	"github.com/cuemby/remotebackend/pkg/log"
	"github.com/cuemby/remotebackend/pkg/metrics"
	"github.com/cuemby/remotebackend/pkg/remote"
	"github.com/cuemby/remotebackend/pkg/server"
	"github.com/spf13/cobra"
)

const shutdownGrace = 5 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve PowerDNS remote backend connections",
	Long: `Start the remote backend. PowerDNS connects over TCP (listen_addr) and/or a
unix socket (unix_socket_path). The process runs until SIGINT or SIGTERM.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		if cmd.Flags().Changed("listen") {
			cfg.ListenAddr, _ = cmd.Flags().GetString("listen")
		}
		if cmd.Flags().Changed("unix-socket") {
			cfg.UnixSocketPath, _ = cmd.Flags().GetString("unix-socket")
		}
		if cmd.Flags().Changed("metrics-addr") {
			cfg.MetricsAddr, _ = cmd.Flags().GetString("metrics-addr")
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		return serve(cfg)
	},
}

func init() {
	serveCmd.Flags().String("listen", config.DefaultListenAddr, "TCP address PowerDNS connects to; empty disables TCP")
	serveCmd.Flags().String("unix-socket", "", "Unix socket path PowerDNS connects to")
	serveCmd.Flags().String("metrics-addr", "", "Address for /health, /ready and /metrics")
}

func serve(cfg *config.Config) error {
	logger := log.WithComponent("main")

	prom := metrics.NewPrometheus()
	hc := metrics.NewHealthChecker(Version, metrics.ComponentListener, metrics.ComponentRemote)

	clk := clock.New(clock.DefaultPeriod)
	clk.Start()
	defer clk.Stop()

	recordCache, err := cache.New(cfg.MaxItemsInCache, prom)
	if err != nil {
		return fmt.Errorf("failed to create cache: %w", err)
	}

	client, err := remote.New(remote.Config{
		Host:       cfg.RestServerHostname,
		Port:       cfg.RestServerPort,
		Username:   cfg.RestUsername,
		Password:   cfg.RestPassword,
		APIVersion: cfg.APIVersion,
		Timeout:    cfg.FetchTimeout(),
	}, clk, prom)
	if err != nil {
		return fmt.Errorf("failed to create record source client: %w", err)
	}
	defer client.Close()

	disp, err := dispatcher.New(dispatcher.Config{
		Workers:   cfg.MaxRestClientThreads,
		QueueSize: cfg.MaxRestQueue,
		QPS:       float64(cfg.RestQPS),
	}, client, prom)
	if err != nil {
		return fmt.Errorf("failed to create dispatcher: %w", err)
	}
	hc.Set(metrics.ComponentDispatcher, true, "")

	eng, err := engine.New(engine.Config{
		FetchDeadline:   cfg.FetchTimeout(),
		StalenessWindow: cfg.StalenessWindow(),
		SOAContent:      cfg.SOAContent,
	}, recordCache, disp, clk, prom)
	if err != nil {
		return fmt.Errorf("failed to create engine: %w", err)
	}

	srv, err := server.New(server.Config{
		MaxConnections:  cfg.MaxPowerDNSConnections,
		UnixReadTimeout: cfg.UnixReadTimeout(),
	}, eng, prom, hc)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}
	if cfg.ListenAddr != "" {
		if err := srv.ListenTCP(cfg.ListenAddr); err != nil {
			return err
		}
	}
	if cfg.UnixSocketPath != "" {
		if err := srv.ListenUnix(cfg.UnixSocketPath); err != nil {
			return err
		}
	}

	probe := health.NewMonitor(
		health.NewTCPChecker(net.JoinHostPort(cfg.RestServerHostname, strconv.Itoa(cfg.RestServerPort))),
		health.DefaultConfig(), hc, metrics.ComponentRemote,
	)
	probe.Start()
	defer probe.Stop()

	collector := metrics.NewCollector(prom, recordCache, metrics.SizeFunc(disp.InFlight), srv, 0)
	collector.Start()
	defer collector.Stop()

	errCh := make(chan error, 2)
	go func() {
		if err := srv.Serve(); err != nil {
			errCh <- fmt.Errorf("server error: %w", err)
		}
	}()

	var admin *api.HealthServer
	if cfg.MetricsAddr != "" {
		admin = api.NewHealthServer(hc, prom.Handler(), prom)
		go func() {
			if err := admin.Start(cfg.MetricsAddr); err != nil {
				errCh <- fmt.Errorf("admin server error: %w", err)
			}
		}()
	}

	logger.Info().
		Str("version", Version).
		Str("listen_addr", cfg.ListenAddr).
		Str("unix_socket", cfg.UnixSocketPath).
		Str("record_source", client.URL("")).
		Bool("cache_enabled", cfg.CacheEnabled()).
		Int("cache_capacity", cfg.MaxItemsInCache).
		Int("workers", cfg.MaxRestClientThreads).
		Msg("remotebackend started")

	// Wait for interrupt signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	var runErr error
	select {
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	case runErr = <-errCh:
		logger.Error().Err(runErr).Msg("shutting down after error")
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn().Err(err).Msg("connections did not close in time")
	}
	disp.Stop()
	if admin != nil {
		if err := admin.Shutdown(ctx); err != nil {
			logger.Warn().Err(err).Msg("admin server did not stop cleanly")
		}
	}

	logger.Info().Msg("shutdown complete")
	return runErr
}
