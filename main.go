package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	nested "github.com/antonfisher/nested-logrus-formatter"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"songmatch/config"
	"songmatch/controller"
	"songmatch/database"
	"songmatch/endpoint"
	"songmatch/handlers"
	"songmatch/recognition"
	"songmatch/recommendation"
	"songmatch/sentry"
	"songmatch/spotify"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Warnf("Error loading .env file: %v", err)
	}
	config.NewConfig()

	if closer := setupLogging(config.Config.Logging); closer != nil {
		defer closer.Close()
	}

	sentry.Init()
	defer sentry.Flush()

	if err := run(context.Background()); err != nil {
		log.Fatal(err)
	}
}

// setupLogging configures the global logger. When a log file is set, output
// goes to stdout and a rotated file; the file is returned for closing.
func setupLogging(cfg config.LoggingConfig) io.Closer {
	log.SetFormatter(&nested.Formatter{
		FieldsOrder:     []string{"module", "function", "method"},
		TimestampFormat: time.RFC3339,
	})

	level, err := log.ParseLevel(cfg.Level)
	if err != nil {
		log.Warnf("invalid LOG_LEVEL %q, using info", cfg.Level)
		level = log.InfoLevel
	}
	log.SetLevel(level)

	if cfg.File == "" {
		log.SetOutput(os.Stdout)
		return nil
	}

	file := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    100,
		MaxBackups: 3,
		MaxAge:     30,
	}
	log.SetOutput(io.MultiWriter(os.Stdout, file))
	return file
}

func backendResolver(cfg config.BackendConfig) *endpoint.Resolver {
	if cfg.HasExplicitBase() {
		return endpoint.New(cfg.BaseURL)
	}
	if cfg.PublicHostname == "" {
		log.Warnf("API_BASE_URL and PUBLIC_HOSTNAME are not set, using the local backend at %s", endpoint.LocalOrigin)
	}
	return endpoint.ForHost(cfg.PublicHostname)
}

func run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	resolver := backendResolver(config.Config.Backend)
	timeout := time.Duration(config.Config.Backend.RequestTimeout) * time.Second
	ctrl := controller.NewController(recognition.New(resolver, timeout), recommendation.New(resolver, timeout))

	manager := handlers.NewManager(ctrl, handlers.Options{
		RejectBusySubmissions: config.Config.Options.RejectBusySubmissions,
		HistoryLimit:          config.Config.History.Limit,
		YoutubeAPIKey:         config.Config.Youtube.APIKey,
	})

	if config.Config.History.Enabled {
		db, err := database.New(config.Config.History.DBPath)
		if err != nil {
			log.Errorf("Pipeline history disabled: %v", err)
		} else {
			defer db.Close()
			ctrl.SetHistory(db)
			manager.History = db
		}
	}

	if config.Config.Spotify.IsEnabled() {
		linker, err := spotify.NewLinker(ctx, config.Config.Spotify.ClientID, config.Config.Spotify.ClientSecret)
		if err != nil {
			log.Warnf("Spotify links disabled: %v", err)
		} else {
			manager.Linker = linker
		}
	}

	go sweepIdleSessions(ctx, ctrl, time.Duration(config.Config.Options.SessionIdleMinutes)*time.Minute)

	router := gin.Default()
	router.Use(sentry.GetSentryGin())
	manager.Register(router)

	port := config.Config.Options.Port
	if port == "" {
		port = "8080"
	}
	server := &http.Server{Addr: ":" + port, Handler: router}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Errorf("Error shutting down server: %v", err)
		}
	}()

	log.Infof("Starting server on :%s (backend %s)", port, resolver.Base())
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func sweepIdleSessions(ctx context.Context, ctrl *controller.Controller, maxIdle time.Duration) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if pruned := ctrl.PruneIdle(maxIdle); pruned > 0 {
				log.Infof("Pruned %d idle sessions, %d remaining", pruned, ctrl.Len())
			}
		}
	}
}
