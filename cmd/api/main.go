package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/zhouzirui/recipe-chat/backend/internal/config"
	"github.com/zhouzirui/recipe-chat/backend/internal/handler"
	"github.com/zhouzirui/recipe-chat/backend/internal/model/chef"
	"github.com/zhouzirui/recipe-chat/backend/internal/service/ai"
	"github.com/zhouzirui/recipe-chat/backend/internal/service/chat"
	"github.com/zhouzirui/recipe-chat/backend/internal/service/reply"
	"github.com/zhouzirui/recipe-chat/backend/internal/store"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger, closeLog := config.SetupLogger(cfg.Log)
	defer closeLog()
	slog.SetDefault(logger)

	if envErr != nil {
		logger.Warn("no .env file loaded, using system environment only", "error", envErr)
	}

	snapshots, closeStore, err := openStore(cfg.Store, logger)
	if err != nil {
		logger.Error("failed to open chat store", "backend", cfg.Store.Backend, "error", err)
		os.Exit(1)
	}
	defer closeStore()

	chefStore := chef.NewMemoryStore(chef.Seed())
	chatService := chat.NewService(chat.WithStore(snapshots), chat.WithLogger(logger))

	var replyService *reply.Service
	if cfg.AI.Enabled() {
		aiService, err := ai.NewService(ctx, cfg.AI)
		if err != nil {
			logger.Warn("failed to initialize AI service, continuing without replies", "error", err)
		} else {
			replyService = reply.New(aiService, chatService, chefStore, logger)
			logger.Info("AI service initialized", "model", cfg.AI.Model, "stream", cfg.AI.StreamResponse)
		}
	} else {
		logger.Info("ark credentials not configured, AI replies disabled")
	}

	router := handler.NewRouter(handler.Deps{
		Chefs:          chefStore,
		Chats:          chatService,
		Replies:        replyService,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Logger:         logger,
	})

	startServer(ctx, cfg.Server, router, logger)
}

func openStore(cfg config.StoreConfig, logger *slog.Logger) (chat.Store, func(), error) {
	if cfg.Backend != config.StorePebble {
		logger.Info("using in-memory chat store")
		return store.NewMemoryStore(), func() {}, nil
	}

	if err := os.MkdirAll(cfg.Path, 0o755); err != nil {
		return nil, nil, err
	}
	db, err := store.OpenPebble(cfg.Path, nil)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("using pebble chat store", "path", cfg.Path)
	return db, func() {
		if err := db.Close(); err != nil {
			logger.Error("failed to close pebble store", "error", err)
		}
	}, nil
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler, logger *slog.Logger) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	logger.Info("recipe chat backend listening", "addr", addr)
	if err := runServer(ctx, srv); err != nil {
		logger.Error("server error", "error", err)
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
