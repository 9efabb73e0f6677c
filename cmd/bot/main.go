// Package main - точка входа сервисного процесса CF Goal Hub.
//
// Процесс собирает application-слой (Commands/Queries), подключает
// инфраструктуру (PostgreSQL, Redis, Codeforces API) и обслуживает
// доменные события через диспетчер. Чат-фронтенд живёт в отдельном
// репозитории и обращается к собранным здесь обработчикам.
//
// Архитектура следует принципам Clean Architecture и DDD:
// - Domain: чистая бизнес-логика без внешних зависимостей
// - Application: оркестрация use cases (Commands/Queries)
// - Infrastructure: реализация репозиториев, внешние API
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/cf-hub/cf-goal-hub/config"
	"github.com/cf-hub/cf-goal-hub/internal/application/command"
	"github.com/cf-hub/cf-goal-hub/internal/application/eventhandler"
	"github.com/cf-hub/cf-goal-hub/internal/application/query"
	"github.com/cf-hub/cf-goal-hub/internal/domain/ranking"
	"github.com/cf-hub/cf-goal-hub/internal/domain/shared"
	"github.com/cf-hub/cf-goal-hub/internal/infrastructure/external/codeforces"
	"github.com/cf-hub/cf-goal-hub/internal/infrastructure/messaging"
	"github.com/cf-hub/cf-goal-hub/internal/infrastructure/persistence/postgres"
	"github.com/cf-hub/cf-goal-hub/internal/infrastructure/persistence/redis"
	"github.com/cf-hub/cf-goal-hub/internal/infrastructure/scheduler/jobs"
	"github.com/cf-hub/cf-goal-hub/pkg/keymutex"
	"github.com/cf-hub/cf-goal-hub/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// DEPENDENCIES
// ══════════════════════════════════════════════════════════════════════════════

// Dependencies содержит собранный application-слой. Эту структуру
// забирает транспортный слой (чат-фронтенд), когда привязывается
// к сервису.
type Dependencies struct {
	// Commands
	RegisterUser       *command.RegisterUserHandler
	SetGoals           *command.SetGoalsHandler
	SetCategoryGoal    *command.SetCategoryGoalHandler
	RemoveCategoryGoal *command.RemoveCategoryGoalHandler
	ClaimReward        *command.ClaimRewardHandler
	CreateContest      *command.CreateContestHandler
	JoinContest        *command.JoinContestHandler
	LeaveContest       *command.LeaveContestHandler
	StartContest       *command.StartContestHandler
	EndContest         *command.EndContestHandler

	// Queries
	GoalProgress  *query.GetGoalProgressHandler
	History       *query.GetHistoryHandler
	Rewards       *query.GetRewardsHandler
	ContestStatus *query.GetContestStatusHandler
	ListContests  *query.ListContestsHandler

	// Leaderboard доступен только при включённом Redis.
	Leaderboard *query.GetLeaderboardHandler
}

// validate проверяет, что обязательные обработчики собраны.
// Leaderboard опционален: без Redis глобальный рейтинг отключён.
func (d *Dependencies) validate() error {
	missing := func(name string) error {
		return fmt.Errorf("dependency %s is nil", name)
	}
	switch {
	case d.RegisterUser == nil:
		return missing("RegisterUser")
	case d.SetGoals == nil:
		return missing("SetGoals")
	case d.SetCategoryGoal == nil:
		return missing("SetCategoryGoal")
	case d.RemoveCategoryGoal == nil:
		return missing("RemoveCategoryGoal")
	case d.ClaimReward == nil:
		return missing("ClaimReward")
	case d.CreateContest == nil:
		return missing("CreateContest")
	case d.JoinContest == nil:
		return missing("JoinContest")
	case d.LeaveContest == nil:
		return missing("LeaveContest")
	case d.StartContest == nil:
		return missing("StartContest")
	case d.EndContest == nil:
		return missing("EndContest")
	case d.GoalProgress == nil:
		return missing("GoalProgress")
	case d.History == nil:
		return missing("History")
	case d.Rewards == nil:
		return missing("Rewards")
	case d.ContestStatus == nil:
		return missing("ContestStatus")
	case d.ListContests == nil:
		return missing("ListContests")
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// MAIN
// ══════════════════════════════════════════════════════════════════════════════

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. ЗАГРУЗКА КОНФИГУРАЦИИ
	// ─────────────────────────────────────────────────────────────────────────
	// .env опционален: в production конфигурация приходит из окружения.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 2. НАСТРОЙКА ЛОГИРОВАНИЯ
	// ─────────────────────────────────────────────────────────────────────────
	log := setupLogger(cfg)
	log.Info("starting CF Goal Hub",
		"env", string(cfg.App.Environment),
		"version", cfg.App.Version,
		"day_start", cfg.App.DayStart.String(),
		"timezone", cfg.App.Timezone,
	)

	audit := logger.New(logger.Options{
		Level: logger.ParseLevel(cfg.Observability.LogLevel),
	}).With(logger.Component("bot"))
	started := time.Now()
	audit.Info("service starting",
		logger.Operation("startup"),
		logger.String("env", string(cfg.App.Environment)),
		logger.String("version", cfg.App.Version),
		logger.Int("pid", os.Getpid()),
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 3. ПОДКЛЮЧЕНИЕ К БАЗЕ ДАННЫХ (PostgreSQL)
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("connecting to database...")
	dbConn, err := postgres.NewConnectionFromURL(ctx, cfg.Database.URL, postgres.PoolOptions{
		MaxConns:        int32(cfg.Database.MaxOpenConns),
		MinConns:        int32(cfg.Database.MaxIdleConns),
		MaxConnLifetime: cfg.Database.ConnMaxLifetime,
		MaxConnIdleTime: cfg.Database.ConnMaxIdleTime,
		QueryTimeout:    cfg.Database.QueryTimeout,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer func() {
		log.Info("closing database connection...")
		dbConn.Close()
	}()

	health, err := dbConn.Health(ctx)
	if err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}
	if !health.Healthy {
		return fmt.Errorf("database unhealthy: %s", health.Error)
	}
	log.Info("database connection established",
		"ping", health.PingLatency.String(),
		"max_conns", health.MaxConns,
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 4. ЗАПУСК МИГРАЦИЙ
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("running database migrations...")
	migrator := postgres.NewMigrator(dbConn)
	if err := migrator.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	status, err := migrator.Status(ctx)
	if err != nil {
		log.Warn("failed to get migration status", "error", err)
	} else {
		applied := 0
		for _, m := range status {
			if m.IsApplied {
				applied++
			}
		}
		log.Info("migrations completed", "applied", applied, "total", len(status))
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 5. ИНИЦИАЛИЗАЦИЯ REDIS (опционально)
	// ─────────────────────────────────────────────────────────────────────────
	var redisCache *redis.Cache
	var scoreCache *redis.ScoreCache

	if !cfg.Redis.Disabled {
		log.Info("connecting to Redis...")
		redisCfg := redis.DefaultConfig()
		redisCfg.Host = cfg.Redis.Host
		redisCfg.Port = cfg.Redis.Port
		redisCfg.Password = cfg.Redis.Password
		redisCfg.DB = cfg.Redis.DB
		redisCfg.PoolSize = cfg.Redis.PoolSize
		redisCfg.MinIdleConns = cfg.Redis.MinIdleConns
		redisCfg.DialTimeout = cfg.Redis.DialTimeout
		redisCfg.ReadTimeout = cfg.Redis.ReadTimeout
		redisCfg.WriteTimeout = cfg.Redis.WriteTimeout

		redisCache, err = redis.NewCache(redisCfg)
		if err != nil {
			log.Warn("failed to connect to Redis, ranking disabled", "error", err)
			audit.Warn("cache unavailable", logger.Operation("startup"), logger.Err(err))
			redisCache = nil
		} else {
			defer func() { _ = redisCache.Close() }()
			scoreCache = redis.NewScoreCache(redisCache)
			log.Info("Redis connection established")
		}
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 6. ИНИЦИАЛИЗАЦИЯ РЕПОЗИТОРИЕВ
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("initializing repositories...")
	stateRepo := postgres.NewGoalStateRepository(dbConn)
	categoryRepo := postgres.NewCategoryGoalRepository(dbConn)
	historyRepo := postgres.NewGoalHistoryRepository(dbConn)
	rewardRepo := postgres.NewStreakRewardRepository(dbConn)
	contestRepo := postgres.NewContestRepository(dbConn)

	// ─────────────────────────────────────────────────────────────────────────
	// 7. ИНИЦИАЛИЗАЦИЯ EVENT BUS
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("initializing event bus...")
	localBusCfg := messaging.DefaultInMemoryEventBusConfig()
	localBusCfg.Logger = log

	var eventBus shared.EventBus
	var closeBus func() error
	if redisCache != nil {
		// Общая шина между сервисом и worker: события синка солвов
		// доходят до локальных обработчиков обоих процессов.
		redisBus, busErr := messaging.NewRedisEventBus(messaging.RedisEventBusConfig{
			Client:         messaging.NewGoRedisClient(redisCache.Client()),
			LocalBusConfig: localBusCfg,
			Logger:         log,
		})
		if busErr != nil {
			return fmt.Errorf("failed to create redis event bus: %w", busErr)
		}
		eventBus = redisBus
		closeBus = redisBus.Close
	} else {
		localBus := messaging.NewInMemoryEventBus(localBusCfg)
		eventBus = localBus
		closeBus = localBus.Close
	}
	defer func() {
		log.Info("closing event bus...")
		_ = closeBus()
	}()

	// ─────────────────────────────────────────────────────────────────────────
	// 8. ИНИЦИАЛИЗАЦИЯ ВНЕШНИХ КЛИЕНТОВ
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("initializing Codeforces client...")
	cfCfg := codeforces.DefaultClientConfig()
	cfCfg.BaseURL = cfg.Codeforces.BaseURL
	cfCfg.Timeout = cfg.Codeforces.RequestTimeout
	cfCfg.RequestsPerSecond = cfg.Codeforces.RateLimit
	cfCfg.Burst = cfg.Codeforces.RateLimitBurst
	cfCfg.PageSize = cfg.Codeforces.PageSize
	cfCfg.Logger = log
	cfCfg.Debug = cfg.App.Debug
	cfClient := codeforces.NewClient(cfCfg)

	// ─────────────────────────────────────────────────────────────────────────
	// 9. ИНИЦИАЛИЗАЦИЯ APPLICATION LAYER (Commands, Queries)
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("initializing application layer...")

	locks := keymutex.New()
	weights := ranking.DefaultWeights()

	deps := &Dependencies{
		RegisterUser:       command.NewRegisterUserHandler(stateRepo, cfClient),
		SetGoals:           command.NewSetGoalsHandler(stateRepo, eventBus, locks),
		SetCategoryGoal:    command.NewSetCategoryGoalHandler(stateRepo, categoryRepo, locks),
		RemoveCategoryGoal: command.NewRemoveCategoryGoalHandler(categoryRepo, locks),
		ClaimReward:        command.NewClaimRewardHandler(rewardRepo, eventBus),
		CreateContest:      command.NewCreateContestHandler(contestRepo, eventBus),
		JoinContest:        command.NewJoinContestHandler(contestRepo, stateRepo, eventBus, locks),
		LeaveContest:       command.NewLeaveContestHandler(contestRepo, eventBus, locks),
		StartContest:       command.NewStartContestHandler(contestRepo, eventBus, locks),
		EndContest:         command.NewEndContestHandler(contestRepo, eventBus, locks),

		GoalProgress:  query.NewGetGoalProgressHandler(stateRepo, categoryRepo, eventBus),
		History:       query.NewGetHistoryHandler(historyRepo),
		Rewards:       query.NewGetRewardsHandler(rewardRepo),
		ContestStatus: query.NewGetContestStatusHandler(contestRepo, eventBus),
		ListContests:  query.NewListContestsHandler(contestRepo, eventBus),
	}

	if scoreCache != nil && cfg.Features.IsEnabled(config.FeatureRankingLeaderboard, nil) {
		computer, jobErr := jobs.NewRebuildRankingJob(stateRepo, contestRepo, scoreCache, log, weights)
		if jobErr != nil {
			return fmt.Errorf("failed to create ranking computer: %w", jobErr)
		}
		deps.Leaderboard = query.NewGetLeaderboardHandler(scoreCache, computer)
	} else {
		log.Warn("leaderboard queries disabled: Redis unavailable or feature off")
	}

	if err := deps.validate(); err != nil {
		return fmt.Errorf("application layer wiring: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 10. РЕГИСТРАЦИЯ EVENT HANDLERS
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("registering event handlers...")

	dispatcher := messaging.NewDispatcherBuilder(eventBus).
		WithLogger(log).
		WithDeadLetterQueue(256).
		Build()
	dispatcher.Use(messaging.RecoveryMiddleware(log))
	dispatcher.Use(messaging.LoggingMiddleware(log))
	if err := dispatcher.Start(); err != nil {
		return fmt.Errorf("failed to start dispatcher: %w", err)
	}
	defer func() {
		stats := dispatcher.Metrics().Snapshot()
		log.Info("stopping dispatcher...",
			"dispatched", stats.TotalDispatched,
			"failed", stats.TotalFailures,
			"dead_letters", dispatcher.DeadLetterQueue().Size(),
		)
		_ = dispatcher.Stop()
	}()

	if scoreCache != nil {
		scoreHandler, hErr := eventhandler.NewOnScoreChangedHandler(
			stateRepo, contestRepo, scoreCache, weights, log)
		if hErr != nil {
			return fmt.Errorf("failed to create score handler: %w", hErr)
		}
		for _, et := range scoreHandler.EventTypes() {
			if err := dispatcher.Register(et, "on_score_changed", scoreHandler.Handle); err != nil {
				return fmt.Errorf("failed to register score handler: %w", err)
			}
		}
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 11. GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("CF Goal Hub is running",
		"redis", redisCache != nil,
		"codeforces", cfg.Codeforces.BaseURL,
	)
	audit.Info("service ready", logger.Operation("startup"))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	select {
	case sig := <-sigCh:
		log.Info("received shutdown signal", "signal", sig.String())
	case <-ctx.Done():
		if !errors.Is(ctx.Err(), context.Canceled) {
			return ctx.Err()
		}
	}

	log.Info("starting graceful shutdown...", "timeout", cfg.App.ShutdownTimeout.String())
	audit.Info("service stopping", logger.Operation("shutdown"), logger.Duration("uptime", time.Since(started)))

	// Диспетчер, шина и база закрываются через defer в обратном порядке.
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// setupLogger настраивает структурированное логирование.
func setupLogger(cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}
	switch cfg.Observability.LogLevel {
	case "debug":
		opts.Level = slog.LevelDebug
	case "warn":
		opts.Level = slog.LevelWarn
	case "error":
		opts.Level = slog.LevelError
	}

	var handler slog.Handler
	if cfg.Observability.LogFormat == "json" || cfg.App.Environment == config.EnvProduction {
		// JSON формат для production (лучше для агрегаторов логов)
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		// Текстовый формат для development (лучше читается)
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	log := slog.New(handler)
	slog.SetDefault(log)

	return log
}
