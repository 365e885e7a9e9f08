package container

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"time"

	"climatology/harvester/internal/client"
	"climatology/harvester/internal/config"
	"climatology/harvester/internal/domain"
	"climatology/harvester/internal/domain/task"
	"climatology/harvester/internal/enumerator"
	"climatology/harvester/internal/fetcher"
	"climatology/harvester/internal/proxy"
	"climatology/harvester/internal/queue"
	"climatology/harvester/internal/reconciler"
	"climatology/harvester/internal/repository"
	"climatology/harvester/internal/retry"
	"climatology/harvester/internal/service"
	"climatology/harvester/internal/session"
	"climatology/harvester/internal/state"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

// Container holds all initialized components
type Container struct {
	Config       *config.Config
	Sessions     session.Factory
	Downloader   client.Downloader
	Repository   repository.ReportRepository
	StateManager state.StateManager
	RetryQueue   queue.Queue

	Service *service.Service

	db    *pgxpool.Pool
	redis *redis.Client
}

// New creates a new container with all dependencies initialized. The browser is started lazily
// on the first session.
func New(ctx context.Context, cfg *config.Config) (*Container, error) {
	container := &Container{
		Config: cfg,
	}

	patterns, err := compilePatterns(cfg.Catalog)
	if err != nil {
		return nil, err
	}

	fallbacks, err := fetcher.CompileRewrites(cfg.Fetch.FallbackRewrites)
	if err != nil {
		return nil, err
	}
	listingRewrites, err := fetcher.CompileRewrites(cfg.Catalog.ListingRewrites)
	if err != nil {
		return nil, err
	}

	container.Sessions = newSessionFactory(cfg.Browser, cfg.Transfer)

	proxySupplier := proxy.NewSupplier(ctx, cfg.Transfer.Proxies, cfg.Transfer.ProxyTestURL)
	container.Downloader = client.NewDownloader(cfg.Transfer, proxySupplier)

	var reportStore reconciler.ReportStore
	if cfg.Database.Enabled {
		db, err := pgxpool.New(ctx, cfg.Database.DSN())
		if err != nil {
			container.Close()
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		container.db = db

		repo := repository.NewReportRepository(db)
		if err := repo.EnsureSchema(ctx); err != nil {
			container.Close()
			return nil, err
		}
		container.Repository = repo
		reportStore = repo

		log.Info("✅ Connected to Postgres successfully")
	}

	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr(),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.Database,
		})
		container.redis = rdb

		// Test connection
		if _, err := rdb.Ping(ctx).Result(); err != nil {
			container.Close()
			return nil, fmt.Errorf("failed to connect to Redis: %w", err)
		}
		log.Info("✅ Connected to Redis successfully")

		container.StateManager = state.NewRedisStateManager(rdb, cfg.Redis.KeyPrefix, cfg.Redis.TTL)

		q, err := queue.NewRedisQueue(ctx, rdb, cfg.Redis.KeyPrefix, cfg.Redis.ConsumerGroup, task.ItemRetryTaskType)
		if err != nil {
			container.Close()
			return nil, err
		}
		container.RetryQueue = q
	} else {
		container.StateManager = state.NewMemoryStateManager()
	}

	enum := enumerator.New(enumerator.Config{
		SummarySelector: cfg.Catalog.SummarySelector,
		PagerSelector:   cfg.Catalog.PagerSelector,
		ItemPattern:     patterns.item,
		WaitTimeout:     cfg.Browser.WaitTimeout,
		PageLoad: retry.Policy{
			MaxAttempts: cfg.Enumerator.PageLoadAttempts,
			Backoff:     cfg.Enumerator.PageLoadBackoff,
		},
		PageSettle: cfg.Enumerator.PageSettle,
	})

	fetch := fetcher.New(container.Downloader, fetcher.Config{
		Policy: retry.Policy{
			MaxAttempts: cfg.Fetch.MaxAttempts,
			Backoff:     cfg.Fetch.Backoff,
		},
		SkipExisting: cfg.Fetch.SkipExisting,
		Rewrites:     fallbacks,
	})

	rec := reconciler.New(reconciler.Config{
		OutputRoot: cfg.Paths.Output,
		MissingDir: cfg.Paths.Missing,
		Extension:  cfg.Catalog.FileExtension,
	}, reportStore)

	container.Service = service.NewService(container.Sessions, enum, fetch, rec, container.StateManager, container.RetryQueue, service.Options{
		UnitWorkers:      cfg.Workers.Units,
		ItemWorkers:      cfg.Workers.Items,
		OutputRoot:       cfg.Paths.Output,
		LogRoot:          cfg.Paths.Logs,
		UnitPattern:      patterns.unit,
		ArchivePattern:   patterns.archive,
		ListingRewrites:  listingRewrites,
		ProgressInterval: cfg.Progress.Interval,
		ProgressOutput:   os.Stdout,
		StartedAt:        time.Now(),
		MaxRetryRounds:   cfg.Fetch.RetryRounds,
		RetryClaimIdle:   cfg.Redis.MinIdleTime,
	})

	return container, nil
}

func newSessionFactory(browser config.BrowserConfig, transfer config.TransferConfig) session.Factory {
	if browser.Driver == "static" {
		return session.NewStaticFactory(session.StaticConfig{
			Timeout:   browser.NavigateTimeout,
			UserAgent: transfer.UserAgent,
			Insecure:  transfer.Insecure,
		})
	}

	return session.Lazy(func() (session.Factory, error) {
		log.Info("🌐 Starting browser...")
		return session.NewRodFactory(session.RodConfig{
			RemoteURL:       browser.RemoteURL,
			Bin:             browser.Bin,
			Headless:        browser.Headless,
			NoSandbox:       browser.NoSandbox,
			Stealth:         browser.Stealth,
			NavigateTimeout: browser.NavigateTimeout,
		})
	})
}

type catalogPatterns struct {
	item    *regexp.Regexp
	unit    *regexp.Regexp
	archive *regexp.Regexp
}

func compilePatterns(cfg config.CatalogConfig) (catalogPatterns, error) {
	var p catalogPatterns
	var err error

	if p.item, err = regexp.Compile(cfg.ItemPattern); err != nil {
		return p, fmt.Errorf("invalid catalog.item_pattern: %w", err)
	}
	if p.unit, err = regexp.Compile(cfg.UnitPattern); err != nil {
		return p, fmt.Errorf("invalid catalog.unit_pattern: %w", err)
	}
	if p.archive, err = regexp.Compile(cfg.ArchivePattern); err != nil {
		return p, fmt.Errorf("invalid catalog.archive_pattern: %w", err)
	}
	return p, nil
}

// Units builds catalog units from keys with the configured listing URL template.
func (c *Container) Units(keys []string) []domain.CatalogUnit {
	units := make([]domain.CatalogUnit, 0, len(keys))
	for _, k := range keys {
		units = append(units, domain.CatalogUnit{
			Key:        k,
			ListingURL: fmt.Sprintf(c.Config.Catalog.UnitURLTemplate, k),
		})
	}
	return units
}

// Close performs cleanup when shutting down
func (c *Container) Close() error {
	log.Debug("Shutting down container...")

	if c.Sessions != nil {
		if err := c.Sessions.Close(); err != nil {
			log.Warnf("Failed to close browser: %v", err)
		}
	}
	if c.Downloader != nil {
		c.Downloader.Close()
	}
	if c.db != nil {
		c.db.Close()
	}
	if c.redis != nil {
		c.redis.Close()
	}

	log.Debug("Container shut down successfully")
	return nil
}
