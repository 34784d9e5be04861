package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/time/rate"
)

func main() {
	flags := registerFlags()
	flag.Parse()

	cfg := loadConfig(*flags.configPath)
	flags.applyTo(&cfg)
	if err := cfg.validate(); err != nil {
		log.Fatal("Invalid configuration: ", err)
	}

	// Set up logging to both stdout and file
	logFile, err := os.OpenFile("werewolf.log", os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		log.Fatal("Failed to open log file:", err)
	}
	defer logFile.Close()
	log.SetOutput(io.MultiWriter(os.Stdout, logFile))

	if err := InitAppLogger(cfg.toLogConfig()); err != nil {
		log.Fatal("Failed to initialize logger:", err)
	}
	defer CloseAppLogger()
	if appLogger.IsEnabled() {
		log.Println("Extended logging enabled")
	}

	var store *Store
	if cfg.DB != "" {
		store, err = OpenStore(cfg.DB)
		if err != nil {
			log.Fatal("Failed to open session archive:", err)
		}
		defer store.Close()
	} else {
		log.Println("Session archive disabled")
	}

	decider, reviewer := initAgentBackend(cfg)

	hub := newHub(rate.Limit(cfg.RateLimit), cfg.RateBurst)
	lobby := newLobby(hub, store, cfg, decider, reviewer)
	hub.start()

	srv := &Server{hub: hub, lobby: lobby, store: store, cfg: cfg}
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           srv.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("Server starting on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Server failed:", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logError("server.Shutdown", err)
	}
	lobby.shutdown()
	hub.stop()
}
