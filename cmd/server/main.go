package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bookworld/bookworld/api"
	"github.com/bookworld/bookworld/engine"
	"github.com/bookworld/bookworld/internal/config"
	"github.com/bookworld/bookworld/internal/slogging"
	"github.com/bookworld/bookworld/retrieval"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

func main() {
	configFile := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if err := slogging.Initialize(slogging.Config{
		Level:            cfg.GetLogLevel(),
		IsDev:            cfg.Logging.IsDev,
		LogDir:           cfg.Logging.LogDir,
		MaxAgeDays:       cfg.Logging.MaxAgeDays,
		MaxSizeMB:        cfg.Logging.MaxSizeMB,
		MaxBackups:       cfg.Logging.MaxBackups,
		AlsoLogToConsole: cfg.Logging.AlsoLogToConsole,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logging: %v\n", err)
		os.Exit(1)
	}
	logger := slogging.Get()
	defer func() { _ = logger.Close() }()

	ctx := context.Background()

	creds := engine.NewCredentialStore()
	creds.Set("OPENAI_API_KEY", cfg.LLM.OpenAIKey)
	creds.Set("ANTHROPIC_API_KEY", cfg.LLM.AnthropicKey)

	embedder, err := retrieval.NewEmbedder(cfg.Retrieval.EmbeddingModel, cfg.LLM.OpenAIKey, "")
	if err != nil {
		logger.Error("Failed to create embedder: %v", err)
		os.Exit(1)
	}
	store := retrieval.NewMemoryStore(embedder)

	history, closeHistory, err := buildHistoryStore(ctx, cfg)
	if err != nil {
		logger.Error("Failed to initialize history store: %v", err)
		os.Exit(1)
	}
	defer closeHistory()

	world, err := engine.NewWorld(ctx, engine.Options{
		PresetPath:  cfg.ResolvePresetPath(),
		Provider:    cfg.LLM.Provider,
		WorldModel:  cfg.LLM.WorldModel,
		RoleModel:   cfg.LLM.RoleModel,
		OllamaHost:  cfg.LLM.OllamaHost,
		SaveDir:     cfg.World.SaveDir,
		Mode:        cfg.World.Mode,
		SceneMode:   cfg.World.SceneMode,
		Rounds:      cfg.World.Rounds,
		TopK:        cfg.Retrieval.TopK,
		Credentials: creds,
		Store:       store,
		History:     history,
	})
	if err != nil {
		logger.Error("Failed to initialize world: %v", err)
		os.Exit(1)
	}

	hub := api.NewHub(world, creds, api.HubOptions{
		DefaultIcon:     cfg.Media.DefaultIcon,
		SaveDir:         cfg.World.SaveDir,
		EventDelay:      cfg.World.EventDelay,
		GenerateTimeout: cfg.World.GenerateTimeout,
	})

	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(slogging.LoggerMiddleware())
	r.Use(slogging.Recoverer())

	api.RegisterRoutes(r, hub, api.RouteOptions{
		FrontendDir: cfg.Media.FrontendDir,
		IndexFile:   cfg.Media.IndexFile,
		DefaultIcon: cfg.Media.DefaultIcon,
		DataRoots:   cfg.Media.DataRoots,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.Server.Interface, cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("Starting server on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server error: %v", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown: %v", err)
	}
	logger.Info("Server stopped")
}

// buildHistoryStore selects the redis-backed history store when configured,
// falling back to the file-backed store
func buildHistoryStore(ctx context.Context, cfg *config.Config) (engine.HistoryStore, func(), error) {
	if !cfg.Redis.Enabled {
		return engine.NewFileHistory(), func() {}, nil
	}

	history, err := engine.NewRedisHistory(ctx, &redis.Options{
		Addr:     cfg.RedisAddr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		return nil, nil, err
	}
	return history, func() { _ = history.Close() }, nil
}
