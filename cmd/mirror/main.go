package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/astromechza/lru-mirror/pkg/api"
	"github.com/astromechza/lru-mirror/pkg/config"
	"github.com/astromechza/lru-mirror/pkg/gateway"
	"github.com/astromechza/lru-mirror/pkg/journal"
	"github.com/astromechza/lru-mirror/pkg/metrics"
	"github.com/astromechza/lru-mirror/pkg/metrics/prom"
	"github.com/astromechza/lru-mirror/pkg/mirror"
	"github.com/astromechza/lru-mirror/pkg/snapshot"
	"github.com/astromechza/lru-mirror/pkg/stream"
)

func main() {
	if err := mainInner(); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

func mainInner() error {
	cfg, err := config.Load(os.Args[0], os.Args[1:], os.LookupEnv)
	if err != nil {
		return err
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel})))

	baseUrl, err := cfg.BaseURL()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	wg := new(sync.WaitGroup)

	m := metrics.Nop()
	if cfg.MetricsAddr != "" {
		m = prom.New(prometheus.DefaultRegisterer)
		promMux := http.NewServeMux()
		promMux.Handle("/metrics", promhttp.Handler())
		promServer := &http.Server{Addr: cfg.MetricsAddr, Handler: promMux}
		wg.Add(1)
		go func() {
			defer wg.Done()
			slog.Info("metrics server starting", "addr", cfg.MetricsAddr)
			if err := promServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics server failed", "err", err)
			}
		}()
		go func() {
			<-ctx.Done()
			_ = promServer.Close()
		}()
	}

	store := mirror.New()
	store.Subscribe(func(mirror.Change) { m.MirrorSize(store.Len()) })

	var jrnl *journal.Journal
	if cfg.JournalPath != "" {
		jrnl = journal.New()
		store.Subscribe(jrnl.Observer())
	}

	cons := newConsole(store, os.Stdout)
	store.Subscribe(func(mirror.Change) { cons.render() })

	client := api.NewClient(baseUrl, cfg.RequestTimeout)
	cons.gateway = gateway.New(client,
		gateway.WithMetrics(m),
		gateway.WithMessageTTL(cfg.MessageTTL),
		gateway.WithMessageHook(cons.onMessage),
	)

	if err := snapshot.NewLoader(client, store, snapshot.WithMetrics(m)).Load(ctx); err != nil {
		slog.Error("failed to load snapshot, starting with an empty mirror", "err", err)
	}

	streamClient := stream.NewClient(api.StreamURL(baseUrl, cfg.StreamPath), store,
		stream.WithReconnectDelay(cfg.ReconnectDelay),
		stream.WithMetrics(m),
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = streamClient.Run(ctx)
	}()

	inputDone := make(chan struct{})
	go func() {
		defer close(inputDone)
		cons.run(ctx, os.Stdin)
	}()

	exit := make(chan os.Signal, 1) // we need to reserve to buffer size 1, so the notifier are not blocked
	signal.Notify(exit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-exit:
		slog.Info("Signal caught", "sig", sig)
	case <-inputDone:
		slog.Info("input closed, stopping")
	}
	cancel()

	wg.Wait()

	if jrnl != nil {
		if err := jrnl.SaveFile(cfg.JournalPath); err != nil {
			return err
		}
		slog.Info("dumped", "journal", cfg.JournalPath)
	}
	return nil
}
