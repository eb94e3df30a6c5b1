package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"photo-map/api"
	"photo-map/cli"
	"photo-map/config"
	"photo-map/convert"
	"photo-map/geocode"
	"photo-map/metadata"
	"photo-map/pipeline"
	"photo-map/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load configuration:", err)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		log.Fatal("Failed to create logger:", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	args := os.Args[1:]
	switch {
	case len(args) == 0 || args[0] == "serve":
		err = serve(ctx, cfg, logger)
	case cli.IsCommand(args[0]):
		app := &cli.App{Config: cfg, Log: logger, In: os.Stdin, Out: os.Stdout}
		err = app.Run(ctx, args)
	default:
		err = fmt.Errorf("unknown command %q", args[0])
	}
	if err != nil {
		logger.Error("command failed", zap.Error(err))
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL %q: %w", level, err)
	}
	zcfg := zap.NewProductionConfig()
	zcfg.Level = lvl
	return zcfg.Build()
}

func serve(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	if err := os.MkdirAll(cfg.UploadsDir, 0o755); err != nil {
		return fmt.Errorf("create uploads directory: %w", err)
	}

	p := &pipeline.Pipeline{
		TempDir:   cfg.TempDir,
		Extractor: metadata.NewExtractor(logger),
		Resolver: geocode.NewNominatimResolver(geocode.Options{
			Server:            cfg.GeocodeURL,
			UserAgent:         cfg.GeocodeUserAgent,
			HomeCountry:       cfg.HomeCountry,
			Timeout:           cfg.GeocodeTimeout,
			RequestsPerSecond: cfg.GeocodeRate,
		}, logger),
		Normalizer: convert.NewNormalizer(cfg.JPEGQuality),
		Storage: &storage.LocalPhotoStorage{
			Directory: cfg.UploadsDir,
			BaseURL:   cfg.PublicURL,
		},
		Workers: cfg.Workers,
		Log:     logger.Named("pipeline"),
	}

	handlers := &api.PhotoHandlers{
		Pipeline:       p,
		UploadsDir:     cfg.UploadsDir,
		MaxUploadBytes: cfg.MaxUploadBytes,
		Log:            logger,
	}

	if cfg.MongoURI != "" {
		catalog, err := storage.ConnectMongo(ctx, cfg.MongoURI, cfg.MongoDatabase, cfg.MongoCollection, logger)
		if err != nil {
			return fmt.Errorf("connect photo catalog: %w", err)
		}
		defer catalog.Close(context.Background())
		p.Catalog = catalog
		handlers.Catalog = catalog
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.NewHandler(handlers),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server", zap.String("addr", cfg.Addr), zap.String("public_url", cfg.PublicURL))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
