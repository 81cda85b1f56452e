// Package main implements the entry point for the RouteFlow engine: load
// the route document, build the engine, run until SIGINT/SIGTERM.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/c360/routeflow/builtin"
	"github.com/c360/routeflow/config"
	"github.com/c360/routeflow/engine"
	"github.com/c360/routeflow/metric"
)

// Build information constants
const (
	Version = "0.1.0"
	appName = "routeflow"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("engine failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "routes.yaml", "path to the route document")
	routeName := flag.String("route", "", "run only the named route")
	dryRun := flag.Bool("dry-run", false, "describe the routes without starting them")
	logLevel := flag.String("log-level", "", "override log level (debug, info, warn, error)")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s %s\n", appName, Version)
		return nil
	}

	env := config.CaptureEnv()
	doc, err := config.Load(*configPath, env)
	if err != nil {
		return err
	}

	if *routeName != "" {
		doc, err = filterRoute(doc, *routeName)
		if err != nil {
			return err
		}
	}

	logger := newLogger(pickLevel(*logLevel, doc.Settings.LogLevel))
	slog.SetDefault(logger)

	endpoints, err := builtin.Endpoints()
	if err != nil {
		return err
	}
	processors, err := builtin.Processors()
	if err != nil {
		return err
	}

	eng, err := engine.New(doc, engine.Options{
		Endpoints:  endpoints,
		Processors: processors,
		Metrics:    metric.NewMetricsRegistry(),
		Logger:     logger,
		Env:        env,
	})
	if err != nil {
		return err
	}

	if *dryRun {
		out, err := json.MarshalIndent(eng.Describe(), "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("starting", "app", appName, "version", Version, "routes", len(doc.Routes))
	return eng.Run(ctx)
}

// filterRoute narrows the document to a single named route.
func filterRoute(doc *config.Document, name string) (*config.Document, error) {
	for _, routeCfg := range doc.Routes {
		if routeCfg.Name == name {
			filtered := *doc
			filtered.Routes = []config.RouteConfig{routeCfg}
			return &filtered, nil
		}
	}
	return nil, fmt.Errorf("route %q not found in document", name)
}

func pickLevel(flagLevel, docLevel string) slog.Level {
	level := flagLevel
	if level == "" {
		level = docLevel
	}
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func newLogger(level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
