package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"scriptor/internal/logging"
	"scriptor/internal/version"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	cfg, err := loadConfig(args)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(stderr, "scriptor: %v\n", err)
		return 2
	}
	if cfg.ShowVersion {
		fmt.Fprintf(stdout, "scriptor %s\n", version.Current())
		return 0
	}

	logger := logging.NewLoggerWithOutput(logging.NewLogBuffer(logging.DefaultBufferSize), cfg.LogLevel, stderr)
	logger.Info(fmt.Sprintf("scriptor version %s", version.Current()), map[string]string{
		"version": version.Current().Version,
	})
	logStartupConfig(logger, cfg)

	h, err := newHost(cfg, logger)
	if err != nil {
		logger.Error("host setup failed", map[string]string{
			"error": err.Error(),
		})
		return 1
	}
	coordinator := newShutdownCoordinator(logger)
	h.registerShutdown(coordinator)

	listener, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		logger.Error("listen failed", map[string]string{
			"addr":  cfg.Addr,
			"error": err.Error(),
		})
		_ = coordinator.Run(context.Background())
		return 1
	}

	server := &http.Server{
		Handler:           h.handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	shutdownCtx, shutdownCancel := context.WithCancel(context.Background())
	defer shutdownCancel()
	signalCh := make(chan os.Signal, 2)
	signal.Notify(signalCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(signalCh)
	stopSignals := watchShutdownSignals(logger, shutdownCancel, signalCh)
	defer stopSignals()

	logger.Info("scriptor listening", map[string]string{
		"addr": listener.Addr().String(),
	})
	runner := &ServerRunner{Logger: logger, ShutdownTimeout: httpServerShutdownTimeout}
	serveErr := runner.Run(shutdownCtx, ManagedServer{
		Name:     "http",
		Serve:    func() error { return server.Serve(listener) },
		Shutdown: server.Shutdown,
	})

	phaseCtx, cancel := context.WithTimeout(context.Background(), httpServerShutdownTimeout)
	defer cancel()
	if err := coordinator.Run(phaseCtx); err != nil {
		return 1
	}
	if serveErr != nil {
		return 1
	}
	logger.Info("scriptor stopped", nil)
	return 0
}
