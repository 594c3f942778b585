package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"offline-store/internal/config"
	"offline-store/internal/connectivity"
	"offline-store/internal/downloader"
	"offline-store/internal/files"
	"offline-store/internal/journal"
	"offline-store/internal/offline"
	"offline-store/internal/repository"
	"offline-store/internal/repository/postgres"
	"offline-store/internal/repository/sqlite"
	"offline-store/internal/service"
	"offline-store/internal/settings"
	"offline-store/internal/storage"
	"offline-store/internal/transfer"
)

// app is the fully wired offline subsystem shared by every command.
type app struct {
	cfg      config.Config
	logger   *logrus.Logger
	files    *files.Manager
	catalog  offline.Catalog
	tracks   service.TrackCatalog
	settings *settings.Store
	network  *connectivity.State
	auth     service.AuthService

	closers []func()
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func newLogger(cfg config.Config) (*logrus.Logger, func(), error) {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	level, err := logrus.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, nil, fmt.Errorf("parse log level: %w", err)
	}
	logger.SetLevel(level)

	if cfg.Log.File == "" {
		return logger, func() {}, nil
	}
	rotator := &lumberjack.Logger{
		Filename:   cfg.Log.File,
		MaxSize:    50,
		MaxBackups: 3,
		MaxAge:     28,
	}
	logger.SetOutput(io.MultiWriter(os.Stderr, rotator))
	return logger, func() { _ = rotator.Close() }, nil
}

// buildApp loads configuration, applies overrides and wires the catalog.
// The catalog is not started.
func buildApp(ctx context.Context, configPath string, overrides ...func(*config.Config)) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	for _, override := range overrides {
		override(&cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, closeLog, err := newLogger(cfg)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger, closers: []func(){closeLog}}

	ledgerRepo, catalogRepo, err := a.openRepositories(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	store, err := buildStorage(ctx, cfg, logger)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("setup storage: %w", err)
	}

	router := &transfer.Router{
		HTTP: transfer.NewHTTPRunner(cfg.Download.ProgressInterval, cfg.Download.UserAgent),
	}
	if store != nil {
		router.S3 = transfer.NewS3Runner(store)
	}

	a.files = files.NewManager(cfg.Download.DataDir)
	a.settings = settings.NewStore(cfg.Settings.Path, logger)
	a.network = connectivity.NewState(connectivity.Status{
		Online:    cfg.Connectivity.Online,
		Unmetered: cfg.Connectivity.Unmetered,
	})
	a.tracks = service.NewTrackCatalog(catalogRepo, store, cfg.Storage.PresignTTL)

	catalog, err := offline.NewCatalog(offline.Config{
		UserID:                cfg.User.ID,
		PruneLedgerOnValidate: cfg.Offline.PruneLedgerOnValidate,
		Logger:                logger,
	}, offline.Dependencies{
		Files: a.files,
		Ledger: service.NewLedgerClient(ledgerRepo, service.LedgerOptions{
			InsertAttempts: cfg.Ledger.RetryAttempts,
			RetryDelay:     cfg.Ledger.RetryDelay,
			Logger:         logger,
		}),
		Runner:   router,
		Network:  a.network,
		Settings: a.settings,
		Tracks:   a.tracks,
		Workers: downloader.NewManager(downloader.Config{
			MaxConcurrent: cfg.Download.MaxConcurrent,
			Logger:        logger,
		}),
		Pending: journal.NewFile(cfg.Offline.PendingPath),
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	a.catalog = catalog
	a.settings.AttachRetention(catalog)

	if strings.TrimSpace(cfg.Auth.PasswordHash) != "" {
		if strings.TrimSpace(cfg.Auth.JWTSecret) == "" {
			a.Close()
			return nil, fmt.Errorf("auth jwt secret is required when a password hash is set")
		}
		a.auth = service.NewAuthService(cfg.User.ID, cfg.Auth.PasswordHash, cfg.Auth.JWTSecret,
			time.Duration(cfg.Auth.TokenTTLMinutes)*time.Minute)
	}

	return a, nil
}

func (a *app) openRepositories(ctx context.Context) (repository.LedgerRepository, repository.CatalogRepository, error) {
	switch a.cfg.Database.Driver {
	case "postgres":
		pool, err := postgres.Open(ctx, a.cfg.Database.URL)
		if err != nil {
			return nil, nil, fmt.Errorf("open database: %w", err)
		}
		a.closers = append(a.closers, pool.Close)
		if err := postgres.Init(ctx, pool); err != nil {
			return nil, nil, fmt.Errorf("init database: %w", err)
		}
		return postgres.NewLedgerRepository(pool), postgres.NewCatalogRepository(pool), nil
	default:
		db, err := sqlite.Open(a.cfg.Database.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("open database: %w", err)
		}
		a.closers = append(a.closers, func() { _ = db.Close() })
		if err := sqlite.Init(ctx, db); err != nil {
			return nil, nil, fmt.Errorf("init database: %w", err)
		}
		return sqlite.NewLedgerRepository(db), sqlite.NewCatalogRepository(db), nil
	}
}

// buildStorage returns nil when no bucket is configured; s3:// tracks then fail
// at transfer time while plain URLs keep working.
func buildStorage(ctx context.Context, cfg config.Config, logger *logrus.Logger) (storage.Service, error) {
	if cfg.Storage.Bucket == "" {
		logger.Info("no storage bucket configured, s3:// tracks are disabled")
		return nil, nil
	}

	loadOpts := []func(*awscfg.LoadOptions) error{
		awscfg.WithRegion(cfg.Storage.Region),
	}
	if cfg.AWS.Profile != "" {
		loadOpts = append(loadOpts, awscfg.WithSharedConfigProfile(cfg.AWS.Profile))
	}

	awsCfg, err := awscfg.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Storage.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Storage.Endpoint)
			o.UsePathStyle = true
		}
	})
	logger.Infof("using s3 bucket %s (region %s)", cfg.Storage.Bucket, cfg.Storage.Region)
	return storage.NewS3Service(client), nil
}
