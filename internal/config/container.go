package config

import (
	"context"
	"fmt"
	"time"

	"pdf-workbench/internal/domain"
	"pdf-workbench/internal/engine"
	"pdf-workbench/internal/repository"
	"pdf-workbench/internal/service"
	"pdf-workbench/pkg/logger"
)

const (
	ledgerWriteTimeout = 5 * time.Second
	ledgerQueueSize    = 256
)

// Container holds all application dependencies
type Container struct {
	Config           domain.Config
	Logger           domain.Logger
	ArtifactStore    *repository.FileArtifactStore
	SessionRegistry  *repository.SessionRegistry
	EventLedger      *repository.AsyncEventLedger
	EnginePool       *engine.Pool
	TransformService *service.TransformService
	Janitor          *service.Janitor
}

// NewContainer creates a new dependency injection container
func NewContainer() (*Container, error) {
	config := NewConfig()
	appLogger := logger.NewLogger(config.GetLogLevel())

	// Event ledger is optional; without Supabase credentials it is a no-op.
	remoteLedger, err := repository.NewEventLedger(config, appLogger)
	if err != nil {
		return nil, fmt.Errorf("failed to create event ledger: %w", err)
	}
	ledger := repository.NewAsyncEventLedger(remoteLedger, ledgerQueueSize, ledgerWriteTimeout, appLogger)

	store, err := repository.NewFileArtifactStore(config.GetStorageRoot(), appLogger)
	if err != nil {
		return nil, fmt.Errorf("failed to open artifact store: %w", err)
	}

	registry := repository.NewSessionRegistry(store, config.GetSessionIdleTimeout(), appLogger,
		repository.WithDeleteObserver(func(a *domain.Artifact, reason string) {
			event := domain.NewArtifactEvent(domain.EventArtifactDeleted, a, reason, time.Now())
			if err := ledger.Record(context.Background(), event); err != nil {
				appLogger.Warn("Failed to record artifact event", "artifact_id", a.ID, "event", event.Type, "error", err.Error())
			}
		}),
	)

	// Engines
	pool := engine.NewPool(config.GetEngineConcurrency(), config.GetEngineTimeout(), appLogger)
	codec := engine.NewPDFCodec(appLogger)
	rasterizer := engine.NewFitzRasterizer(config.GetRenderDPI(), appLogger)
	converter := engine.NewConverter(config.GetSofficePath(), config.GetOCRPath(), engine.ExecRunner{}, appLogger)

	transformService := service.NewTransformService(service.TransformDeps{
		Store:       store,
		Sessions:    registry,
		Codec:       codec,
		Rasterizer:  rasterizer,
		Converter:   converter,
		Archiver:    engine.ZipArchiver{},
		Runner:      pool,
		Ledger:      ledger,
		Logger:      appLogger,
		MaxFileSize: config.GetMaxFileSize(),
	})

	janitor := service.NewJanitor(registry, store, config.GetReapInterval(), config.GetOrphanGracePeriod(), appLogger)

	return &Container{
		Config:           config,
		Logger:           appLogger,
		ArtifactStore:    store,
		SessionRegistry:  registry,
		EventLedger:      ledger,
		EnginePool:       pool,
		TransformService: transformService,
		Janitor:          janitor,
	}, nil
}

// GetConfig returns the configuration instance
func (c *Container) GetConfig() domain.Config {
	return c.Config
}

// GetLogger returns the logger instance
func (c *Container) GetLogger() domain.Logger {
	return c.Logger
}

// GetWorkbenchService returns the transform service behind the HTTP API
func (c *Container) GetWorkbenchService() domain.WorkbenchService {
	return c.TransformService
}

// Close flushes queued artifact events.
func (c *Container) Close(ctx context.Context) error {
	return c.EventLedger.Close(ctx)
}
