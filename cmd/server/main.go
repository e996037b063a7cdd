package main

import (
	"context"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	chadoc "github.com/ashnegiii/chadoc"
	"github.com/ashnegiii/chadoc/internal/handlers"
	"github.com/ashnegiii/chadoc/internal/services"
	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	cfgPath, err := configPath()
	if err != nil {
		slog.Error("Failed to resolve config path", slog.String("err", err.Error()))
		os.Exit(1)
	}
	cfg, err := loadConfig(cfgPath)
	if err != nil {
		slog.Error("Failed to load config", slog.String("path", cfgPath), slog.String("err", err.Error()))
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.level()}))

	backend := services.NewBackend(cfg.Backend.BaseURL, cfg.Backend.ChatURL, logger)

	m, err := handlers.NewMain(backend, cfg.handlers(), logger)
	if err != nil {
		logger.Error("Failed to create handlers", slog.String("err", err.Error()))
		os.Exit(1)
	}

	// Serve static files
	staticFS, err := fs.Sub(chadoc.StaticFS, "static")
	if err != nil {
		logger.Error("Failed to open static files", slog.String("err", err.Error()))
		os.Exit(1)
	}
	fileServer := http.FileServer(http.FS(staticFS))

	mux := http.NewServeMux()
	mux.Handle("/static/", http.StripPrefix("/static/", fileServer))
	mux.HandleFunc("/", m.HandleDocuments)
	mux.HandleFunc("/documents", m.HandleUpload)
	mux.HandleFunc("/documents/delete", m.HandleDeleteDocument)
	mux.HandleFunc("/chat", m.HandleChat)
	mux.HandleFunc("/chat/select", m.HandleSelectDocument)
	mux.HandleFunc("/chat/messages", m.HandleMessages)
	mux.HandleFunc("/sse", m.HandleSSE)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	srv.RegisterOnShutdown(func() {
		if err := m.Shutdown(context.Background()); err != nil {
			logger.Error("Failed to shutdown sse server", slog.String("err", err.Error()))
		}
	})

	// Channel to listen for errors coming from the listener
	serverErrors := make(chan error, 1)

	go func() {
		logger.Info("Server starting",
			slog.String("port", cfg.Port),
			slog.String("backend", cfg.Backend.BaseURL),
			slog.String("chatURL", cfg.Backend.ChatURL))
		serverErrors <- srv.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		logger.Error("Server error", slog.String("err", err.Error()))

	case sig := <-shutdown:
		logger.Info("Start shutdown", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Graceful shutdown failed", slog.String("err", err.Error()))
			if err := srv.Close(); err != nil {
				logger.Error("Forcing server close", slog.String("err", err.Error()))
			}
		}
	}
}
