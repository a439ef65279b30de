package bootstrap

import (
	"context"
	"fmt"

	"github.com/veracta/doclifecycle/internal/config"
	"github.com/veracta/doclifecycle/internal/core/domain"
	"github.com/veracta/doclifecycle/internal/core/ports"
	"github.com/veracta/doclifecycle/internal/core/usecase"
	"github.com/veracta/doclifecycle/internal/infrastructure/catalog"
	neo4jdep "github.com/veracta/doclifecycle/internal/infrastructure/dependency/neo4j"
	"github.com/veracta/doclifecycle/internal/infrastructure/export/excel"
	natsnotify "github.com/veracta/doclifecycle/internal/infrastructure/notify/nats"
	"github.com/veracta/doclifecycle/internal/infrastructure/repository/postgres"
	"github.com/veracta/doclifecycle/internal/infrastructure/resilience"
)

type App struct {
	Config   config.Config
	Registry *domain.StateRegistry

	Repo     ports.WorkflowRepository
	Reviews  ports.ReviewRepository
	Notifier ports.Notifier

	Engine   ports.TransitionService
	Creator  ports.WorkflowCreator
	ReviewUC ports.ReviewCompleter
	Audit    *usecase.AuditService
	Sweeper  ports.Sweeper
	Exporter *excel.AuditExporter

	closeFn func()
}

func New(ctx context.Context, cfg config.Config) (*App, error) {
	registry, err := catalog.Load(cfg.WorkflowCatalogPath)
	if err != nil {
		return nil, fmt.Errorf("load workflow catalog: %w", err)
	}
	if _, ok := registry.Type(cfg.ReviewWorkflowType); !ok {
		return nil, fmt.Errorf("review workflow type %q is not in the catalog", cfg.ReviewWorkflowType)
	}

	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	repo := postgres.NewWorkflowRepository(db, cfg.ReviewWorkflowType)
	if err := repo.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure workflow schema: %w", err)
	}
	reviews := postgres.NewReviewRepository(db)
	if err := reviews.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure review schema: %w", err)
	}

	executor := resilience.NewExecutor(resilience.DefaultConfig())

	notifier, err := natsnotify.NewWithOptions(cfg.NATSURL, cfg.NATSSubject, natsnotify.Options{
		ResilienceExecutor: executor,
	})
	if err != nil {
		return nil, fmt.Errorf("init notification dispatcher: %w", err)
	}

	deps, err := neo4jdep.New(ctx, cfg.Neo4jURI, cfg.Neo4jUser, cfg.Neo4jPassword, neo4jdep.Options{
		Database:           cfg.Neo4jDatabase,
		ResilienceExecutor: executor,
	})
	if err != nil {
		notifier.Close()
		_ = db.Close()
		return nil, fmt.Errorf("init dependency client: %w", err)
	}

	engine := usecase.NewTransitionEngine(repo, registry, deps, notifier)
	creator := usecase.NewCreateWorkflowUseCase(repo, registry, notifier)
	reviewUC := usecase.NewCompleteReviewUseCase(repo, reviews, engine, registry, usecase.ReviewConfig{
		ReviewWorkflowType:    cfg.ReviewWorkflowType,
		DefaultIntervalMonths: cfg.DefaultReviewMonths,
	})
	audit := usecase.NewAuditService(repo)
	sweeper := usecase.NewSweepRunner(repo, engine, creator, notifier, usecase.SweepConfig{
		BatchSize:                  cfg.SweepBatchSize,
		ReviewWorkflowType:         cfg.ReviewWorkflowType,
		EscalateAfterBlockedSweeps: cfg.EscalateAfterBlockedSweeps,
	})

	return &App{
		Config:   cfg,
		Registry: registry,

		Repo:     repo,
		Reviews:  reviews,
		Notifier: notifier,

		Engine:   engine,
		Creator:  creator,
		ReviewUC: reviewUC,
		Audit:    audit,
		Sweeper:  sweeper,
		Exporter: excel.NewAuditExporter(),

		closeFn: func() {
			notifier.Close()
			_ = deps.Close(context.Background())
			_ = db.Close()
		},
	}, nil
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}
