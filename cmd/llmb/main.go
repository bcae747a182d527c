// Command llmb runs the fetch-and-learn core as a long-lived process.
// The hosting transport (HTTP, queue consumer) is attached by the deployment;
// this binary wires configuration, logging, and engine lifecycle.
package main

import (
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"llmb/config"
	"llmb/engine"
	"llmb/logger"
)

func main() {
	log := logger.New(logger.Options{
		Level:    os.Getenv("LOG_LEVEL"),
		FilePath: os.Getenv("LOG_FILE"),
	})
	defer func() { _ = log.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("load config", zap.Error(err))
	}

	opts := engine.FromConfig(cfg)
	opts.EnableBrowser = os.Getenv("ENABLE_BROWSER") == "1"

	e, err := engine.New(opts, log)
	if err != nil {
		log.Fatal("start engine", zap.Error(err))
	}
	log.Info("engine started",
		zap.String("stateDir", cfg.StateDir),
		zap.Bool("browser", opts.EnableBrowser))

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Info("shutting down")
	if err := e.Close(); err != nil {
		log.Error("shutdown error", zap.Error(err))
	}
}
