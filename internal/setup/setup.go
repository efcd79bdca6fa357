package setup

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/jaxron/roapi.go/pkg/api"
	"github.com/mellow-sync/mellow/internal/cache"
	"github.com/mellow-sync/mellow/internal/commands"
	"github.com/mellow-sync/mellow/internal/database"
	"github.com/mellow-sync/mellow/internal/database/migrations"
	"github.com/mellow-sync/mellow/internal/gateway"
	"github.com/mellow-sync/mellow/internal/patreon"
	"github.com/mellow-sync/mellow/internal/platform"
	"github.com/mellow-sync/mellow/internal/redis"
	"github.com/mellow-sync/mellow/internal/rest"
	"github.com/mellow-sync/mellow/internal/rest/handler"
	"github.com/mellow-sync/mellow/internal/roblox"
	"github.com/mellow-sync/mellow/internal/serverlog"
	"github.com/mellow-sync/mellow/internal/setup/client"
	"github.com/mellow-sync/mellow/internal/setup/config"
	"github.com/mellow-sync/mellow/internal/setup/telemetry"
	memberSync "github.com/mellow-sync/mellow/internal/sync"
	"github.com/mellow-sync/mellow/internal/visual"
	"github.com/uptrace/bun/migrate"
	"go.uber.org/zap"
)

// MutationInterval spaces out the profile changes made by server-wide syncs.
const MutationInterval = time.Second

// Version is reported by the status route. Release builds set it with -ldflags.
var Version = "dev"

// App bundles all core dependencies and services needed by the bot.
// Each field represents a major subsystem that needs initialization and cleanup.
type App struct {
	Config       *config.Config      // Application configuration
	Logger       *zap.Logger         // Main application logger
	DBLogger     *zap.Logger         // Database-specific logger
	DB           database.Client     // Database connection pool
	RoAPI        *api.API            // RoAPI HTTP client
	RedisManager *redis.Manager      // Redis connection manager
	LogManager   *telemetry.Manager  // Log management system
	Patreon      *patreon.Client     // Funding provider client
	Cache        *cache.Cache        // Read-through entity caches
	Discord      *platform.Discord   // Chat platform gateway and REST client
	ServerLogs   *serverlog.Sink     // Batched server log delivery
	Sync         *memberSync.Service // Member sync engine
	Processor    *visual.Processor   // Visual scripting runtime
	Gateway      *gateway.Dispatcher // Gateway event dispatcher
	Commands     *commands.Handler   // Application command handler
	API          *rest.Server        // Administration HTTP surface
}

// InitializeApp bootstraps all application dependencies in the correct order,
// ensuring each component has its required dependencies available.
func InitializeApp(ctx context.Context, serviceType telemetry.ServiceType, logDir string) (*App, error) {
	// Load app configuration
	cfg, configDir, err := config.LoadConfig()
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// Logging system is initialized next to capture setup issues
	logManager := telemetry.NewManager(serviceType, logDir, &cfg.Common.Debug, &cfg.Common.Telemetry)

	logger, dbLogger, err := logManager.GetLoggers()
	if err != nil {
		return nil, err
	}

	logger.Info("Loaded configuration", zap.String("dir", configDir))

	// Redis manager provides connection pools for caching and locks
	redisManager := redis.NewManager(&cfg.Common.Redis, logger)

	// Initialize database with migration check
	db, err := checkAndRunMigrations(ctx, &cfg.Common.PostgreSQL, dbLogger)
	if err != nil {
		return nil, err
	}

	repo := db.Model()
	requestTimeout := serviceType.GetRequestTimeout(cfg)

	// RoAPI client is configured with middleware chain
	roAPI, err := client.GetRoAPIClient(&cfg.Common, redisManager, logger, requestTimeout)
	if err != nil {
		return nil, err
	}

	locks, err := redisManager.GetClient(redis.LockDBIndex)
	if err != nil {
		return nil, err
	}

	// Platform handler is attached once the dispatcher exists
	discord, err := platform.NewDiscord(cfg.Bot.Discord.Token, cfg.Bot.Discord.StatusText, nil, logger)
	if err != nil {
		return nil, err
	}

	entityCache := cache.New(database.NewSource(repo), discord, logger)

	patreonClient := patreon.NewClient(
		client.NewHTTPClient(requestTimeout),
		patreon.Config{ClientID: cfg.Bot.Patreon.ClientID, ClientSecret: cfg.Bot.Patreon.ClientSecret},
		repo.Connection(),
		entityCache.UpdateConnectionAuthorisation,
		logger,
	)

	sink := serverlog.NewSink(entityCache, discord, logger)
	syncService := memberSync.NewService(entityCache, discord, roblox.NewClient(roAPI, logger), patreonClient, sink, logger)

	processor := visual.NewProcessor(discord, entityCache, syncService, patreonClient, sink, logger)
	syncService.SetDocumentRunner(processor)

	dispatcher := gateway.NewDispatcher(entityCache, discord, processor, sink, logger)
	dispatcher.SetMemberRequestTimeout(time.Duration(cfg.Bot.MemberRequestTimeout) * time.Millisecond)
	discord.SetHandler(dispatcher)

	commandHandler := commands.NewHandler(commands.Options{
		Platform:         discord,
		Cache:            entityCache,
		Syncer:           syncService,
		Documents:        processor,
		Servers:          repo.Server(),
		Members:          dispatcher.Requests(),
		Locks:            locks,
		SignUpURL:        commands.DefaultSignUpURL,
		MutationInterval: MutationInterval,
	}, logger)
	dispatcher.SetInteractionHandler(commandHandler)

	apiHandler := rest.NewHandler(handler.Dependencies{
		Cache:                entityCache,
		Syncer:               syncService,
		Commands:             commandHandler,
		Users:                repo.User(),
		Identities:           patreonClient,
		Logs:                 sink,
		Version:              Version,
		PatreonWebhookSecret: cfg.Bot.Patreon.WebhookSecret,
	}, &cfg.Bot.API, logger)

	// Bundle all initialized components
	return &App{
		Config:       cfg,
		Logger:       logger,
		DBLogger:     dbLogger.Named("database"),
		DB:           db,
		RoAPI:        roAPI,
		RedisManager: redisManager,
		LogManager:   logManager,
		Patreon:      patreonClient,
		Cache:        entityCache,
		Discord:      discord,
		ServerLogs:   sink,
		Sync:         syncService,
		Processor:    processor,
		Gateway:      dispatcher,
		Commands:     commandHandler,
		API:          rest.NewServer(apiHandler, &cfg.Bot.API, logger),
	}, nil
}

// Cleanup ensures graceful shutdown of all components in reverse initialization order.
// Logs but does not fail on cleanup errors to ensure all components get cleanup attempts.
func (s *App) Cleanup(ctx context.Context) {
	// Stop receiving events before draining the work they started
	s.Discord.CloseGateway(ctx)
	s.Gateway.Wait()
	s.Commands.Wait()
	s.Sync.Wait()

	// Deliver queued server logs while the platform client is still usable
	if err := s.ServerLogs.Close(ctx); err != nil {
		s.Logger.Error("Failed to flush server logs", zap.Error(err))
	}

	s.Discord.Close(ctx)
	s.Patreon.Close()
	s.Cache.Close()

	// Sync buffered logs before shutdown
	if err := s.Logger.Sync(); err != nil {
		log.Printf("Failed to sync logger: %v", err)
	}

	if err := s.DBLogger.Sync(); err != nil {
		log.Printf("Failed to sync DB logger: %v", err)
	}

	// Flush pending spans
	s.LogManager.Stop(ctx)

	// Close database connections
	if err := s.DB.Close(); err != nil {
		log.Printf("Failed to close database connection: %v", err)
	}

	// Close Redis connections last as other components might need it during cleanup
	s.RedisManager.Close()
}

// checkAndRunMigrations applies pending migrations before the bot starts.
func checkAndRunMigrations(ctx context.Context, cfg *config.PostgreSQL, dbLogger *zap.Logger) (database.Client, error) {
	tempDB, err := database.NewConnection(ctx, cfg, dbLogger, false)
	if err != nil {
		return nil, err
	}

	migrator := migrate.NewMigrator(tempDB.DB(), migrations.Migrations)
	if err := migrator.Init(ctx); err != nil {
		tempDB.Close()
		return nil, fmt.Errorf("failed to initialize migrations: %w", err)
	}

	ms, err := migrator.MigrationsWithStatus(ctx)
	if err != nil {
		tempDB.Close()
		return nil, fmt.Errorf("failed to check migration status: %w", err)
	}

	unapplied := ms.Unapplied()
	if len(unapplied) == 0 {
		return tempDB, nil
	}

	dbLogger.Warn("Applying pending database migrations", zap.String("migrations", unapplied.String()))
	tempDB.Close()

	return database.NewConnection(ctx, cfg, dbLogger, true)
}
