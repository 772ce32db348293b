package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	tasks "roomchat/internal/Tasks"
	"roomchat/internal/api"
	"roomchat/internal/auth"
	"roomchat/internal/chat"
	"roomchat/internal/config"
	"roomchat/internal/db"
	"roomchat/internal/mail"
	"roomchat/internal/repository"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Configuration error: %v", err)
	}

	store, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer store.Close()

	users := repository.NewUserRepo(store)
	rooms := repository.NewRoomRepo(store)
	messages := repository.NewMessagesRepo(store)

	tokens := auth.NewTokenManager(cfg.AuthKey, cfg.TokenTTL)
	resolver := auth.NewResolver(tokens, users)

	registry := chat.NewRegistry()
	dispatcher := chat.NewDispatcher(messages, registry, cfg.MaxMessageLength)
	chatHandler := chat.NewHandler(resolver, rooms, registry, dispatcher, chat.NewTypingNotifier(registry), chat.HandlerOptions{
		JoinTimeout: cfg.JoinTimeout,
		Session: chat.SessionOptions{
			SendBuffer: cfg.SendBuffer,
			RateBurst:  cfg.RateBurst,
			RateRefill: cfg.RateRefill,
		},
	})

	router := api.NewRouter(api.Deps{
		Tokens:     tokens,
		Resolver:   resolver,
		Users:      users,
		Rooms:      rooms,
		Messages:   messages,
		Registry:   registry,
		Dispatcher: dispatcher,
		Chat:       chatHandler,
		Notifier:   mail.NewSender(cfg.SMTP),
	})

	reporter := tasks.NewStatsReporter(registry, cfg.StatsSchedule)
	if err := reporter.Start(); err != nil {
		log.Fatalf("Invalid STATS_SCHEDULE: %v", err)
	}

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Printf("🚀 Chat server starting on %s...", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("ListenAndServe: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("Shutdown signal received. Cleaning up...")

	reporter.Stop()

	// hijacked websocket connections are not tracked by the http server
	registry.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP shutdown error: %v", err)
	}

	log.Println("Graceful shutdown complete. Goodnight!")
}
