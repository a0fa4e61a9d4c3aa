package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"docchat.io/chat-client/internal/auth"
	"docchat.io/chat-client/internal/config"
	"docchat.io/chat-client/internal/logger"
	"docchat.io/chat-client/internal/stubserver"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "", "Path to a YAML config file")
	issueFor := flag.Int64("issue-token", 0, "Print a token for this user id and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		// no logger yet
		os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(1)
	}

	log := logger.New(logger.Options{Level: cfg.LogLevel, File: cfg.LogFile, JSON: true})
	defer log.Sync()

	if *issueFor > 0 {
		token, err := auth.GenerateJWT(cfg.JWTSecret, *issueFor, 24*time.Hour)
		if err != nil {
			log.Fatal("failed to issue token", zap.Error(err))
		}
		os.Stdout.WriteString(token + "\n")
		return
	}

	srv, err := stubserver.New(context.Background(), stubserver.Options{
		DatabaseURL:  cfg.StubDatabaseURL,
		UploadDir:    cfg.StubUploadDir,
		JWTSecret:    cfg.JWTSecret,
		GeminiAPIKey: cfg.GeminiAPIKey,
	}, log)
	if err != nil {
		log.Fatal("failed to initialize stub server", zap.Error(err))
	}
	defer srv.Close()

	httpServer := &http.Server{
		Addr:         cfg.StubAddr,
		Handler:      srv.Handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 120 * time.Second, // uploads are indexed before the response
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info("starting stub server", zap.String("addr", cfg.StubAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("could not listen", zap.String("addr", cfg.StubAddr), zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}
	log.Info("server exited")
}
