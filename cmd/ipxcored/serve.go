package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/streamrelay/ipxcore/pkg/dispatcher"
	"github.com/streamrelay/ipxcore/pkg/obslog"
	"github.com/streamrelay/ipxcore/pkg/providerpool"
	"github.com/streamrelay/ipxcore/pkg/sessionstore"
	"github.com/streamrelay/ipxcore/pkg/sharedstream"
	"github.com/streamrelay/ipxcore/pkg/svcconfig"
	"github.com/streamrelay/ipxcore/pkg/svchealth"
	"github.com/streamrelay/ipxcore/pkg/svcmetrics"
)

func newServeCommand() *cobra.Command {
	var configPath string
	var redisAddr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "wire the provider pool, dispatcher, and shared-stream registry and block until signaled",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath, redisAddr)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "path to the operator configuration file (YAML)")
	cmd.Flags().StringVar(&redisAddr, "redis-addr", "", "optional Redis address for session bookkeeping; in-memory if unset")
	return cmd
}

func runServe(ctx context.Context, configPath, redisAddr string) error {
	log := obslog.New("ipxcored")

	rc, err := svcconfig.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	inputs, err := rc.ProviderInputs()
	if err != nil {
		return fmt.Errorf("resolving provider credentials: %w", err)
	}

	pool := providerpool.New(inputs, rc.GracePeriodMillis, rc.GracePeriodTimeoutSecs, obslog.New("providerpool"))
	registry := sharedstream.New(obslog.New("sharedstream"))

	var sessions dispatcher.SessionStore
	if redisAddr != "" {
		sessions = sessionstore.NewRedis(redis.NewClient(&redis.Options{Addr: redisAddr}))
		log.Info("session bookkeeping backed by redis at %s", redisAddr)
	} else {
		sessions = sessionstore.NewMemory()
	}

	disp := dispatcher.New(pool, registry, sessions, rc.DispatcherConfig(), obslog.New("dispatcher"))

	metrics := svcmetrics.New()
	disp.SetMetricsSink(metrics)

	health := svchealth.NewChecker()
	health.Run("providerpool", func() error { return nil })
	health.Run("sharedstream", func() error { return nil })

	watcher, err := svcconfig.StartWatch(rc, pool, obslog.New("svcconfig"))
	if err != nil {
		return fmt.Errorf("starting config watch: %w", err)
	}
	defer watcher.Close()

	stopSampling := startMetricsSampler(pool, registry, metrics)
	defer stopSampling()

	log.Info("ipxcored serving: %d inputs, health=%s", len(inputs), health.Overall())

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-sigCtx.Done()
	log.Info("shutting down")
	return nil
}

// startMetricsSampler refreshes svcmetrics' gauge metrics on a fixed tick
// and returns a function that stops it.
func startMetricsSampler(pool *providerpool.ProviderPool, registry *sharedstream.Registry, metrics *svcmetrics.Metrics) func() {
	ticker := time.NewTicker(5 * time.Second)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-ticker.C:
				metrics.Sample(pool, registry)
			case <-done:
				return
			}
		}
	}()
	return func() {
		ticker.Stop()
		close(done)
	}
}
