package main

import (
	"fmt"
	"log"
	"net/http"
	"os"

	"graft/client"
	"graft/internal/api"
	"graft/internal/config"
	"graft/internal/logging"
	"graft/internal/repo"

	"go.uber.org/zap"
)

func main() {
	// Load configuration
	cfg, err := config.LoadOrDefault("")
	if err != nil {
		log.Fatal("failed to load config:", err)
	}

	// Initialize logger
	logger, err := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatal("failed to initialize logger:", err)
	}
	defer logger.Sync()

	dir, err := os.Getwd()
	if err != nil {
		logger.Fatal("resolving working directory", zap.Error(err))
	}

	// Open the repository
	repository, err := repo.Open(dir, repo.Options{
		Config:    cfg,
		Logger:    logger.Logger,
		Transport: client.New(),
	})
	if err != nil {
		logger.Fatal("failed to open repository", zap.Error(err))
	}
	defer repository.Close()

	handler := api.NewRouter(repository, logger)

	// Start server
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	logger.Info("starting server", zap.String("address", addr))

	if err := http.ListenAndServe(addr, handler); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}
