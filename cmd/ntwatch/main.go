package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/hashicorp/go-hclog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/ntws/ntws/internal/config"
	"github.com/ntws/ntws/internal/hooks"
	"github.com/ntws/ntws/internal/networktables"
	"github.com/ntws/ntws/internal/plugins/auth"
	"github.com/ntws/ntws/internal/plugins/ipallow"
	"github.com/ntws/ntws/internal/plugins/printer"
	"github.com/ntws/ntws/internal/plugins/stats"
)

func main() {
	pipeline := &hooks.Pipeline{}

	// --- Register plugins ---
	// Each plugin owns its own flags and config.
	pipeline.RegisterPlugin(auth.New())
	pipeline.RegisterPlugin(ipallow.New())
	pipeline.RegisterPlugin(stats.New())
	pipeline.RegisterPlugin(printer.New(nil))

	configPath := flag.String("config", "", "Path to a YAML config file")
	host := flag.String("host", "", "NetworkTables server host:port (overrides config and "+config.EnvHost+")")
	secure := flag.Bool("secure", false, "Connect with wss://")
	verbose := flag.Bool("v", false, "Debug logging")

	// Let plugins register their flags, then parse
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [flags]\n\nWatches a NetworkTables websocket server.\n\nFlags:\n", os.Args[0])
		flag.PrintDefaults()
	}
	pipeline.RegisterFlags(flag.CommandLine)
	flag.Parse()

	level := hclog.Info
	if *verbose {
		level = hclog.Debug
	}
	logger := hclog.New(&hclog.LoggerOptions{
		Name:   "ntwatch",
		Level:  level,
		Output: os.Stderr,
		Color:  hclog.AutoColor,
	})

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "host":
			cfg.Host = *host
		case "secure":
			cfg.Secure = *secure
		}
	})

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	client, err := networktables.NewFromConfig(cfg,
		networktables.WithLogger(logger),
		networktables.WithMetrics(registry),
		networktables.WithHeader(pipeline.DialHeader()),
	)
	if err != nil {
		logger.Error("failed to create client", "error", err)
		os.Exit(1)
	}

	// Activate enabled plugins
	if err := pipeline.Activate(client, registry, logger); err != nil {
		logger.Error("failed to start plugins", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client.Connect(context.Background())
	<-ctx.Done()
	logger.Info("shutting down")

	if err := client.Close(); err != nil {
		logger.Warn("close failed", "error", err)
	}
	pipeline.Close()
	logger.Info("goodbye")
}
