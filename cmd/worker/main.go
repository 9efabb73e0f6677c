// Package main - точка входа фоновых процессов (Worker) CF Goal Hub.
//
// Worker отвечает за периодические задачи:
// - Опрос Codeforces API и учёт новых солвов
// - Закрытие истёкших суточных/недельных/месячных периодов
// - Завершение просроченных контестов
// - Напоминания о невыполненной дневной цели
// - Пересчёт глобального рейтинга в Redis
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
	"github.com/cf-hub/cf-goal-hub/internal/application/eventhandler"
	"github.com/cf-hub/cf-goal-hub/internal/domain/ranking"
	"github.com/cf-hub/cf-goal-hub/internal/domain/shared"
	"github.com/cf-hub/cf-goal-hub/internal/infrastructure/external/codeforces"
	"github.com/cf-hub/cf-goal-hub/internal/infrastructure/messaging"
	"github.com/cf-hub/cf-goal-hub/internal/infrastructure/persistence/postgres"
	"github.com/cf-hub/cf-goal-hub/internal/infrastructure/persistence/redis"
	"github.com/cf-hub/cf-goal-hub/internal/infrastructure/scheduler"
	"github.com/cf-hub/cf-goal-hub/internal/infrastructure/scheduler/jobs"
	"github.com/cf-hub/cf-goal-hub/pkg/keymutex"
)

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
	log.Info("starting CF Goal Hub worker",
		"env", string(cfg.App.Environment),
		"version", cfg.App.Version,
		"day_start", cfg.App.DayStart.String(),
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

	if err := dbConn.Ping(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	log.Info("database connection established")

	// Миграции прогоняет и сервис, и worker: кто стартует первым,
	// тот и применяет, остальные видят применённые версии.
	migrator := postgres.NewMigrator(dbConn)
	if err := migrator.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 4. ИНИЦИАЛИЗАЦИЯ REDIS (опционально)
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
			log.Warn("failed to connect to Redis, ranking rebuild disabled", "error", err)
			redisCache = nil
		} else {
			defer func() { _ = redisCache.Close() }()
			scoreCache = redis.NewScoreCache(redisCache)
			log.Info("Redis connection established")
		}
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 5. ИНИЦИАЛИЗАЦИЯ РЕПОЗИТОРИЕВ
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("initializing repositories...")
	stateRepo := postgres.NewGoalStateRepository(dbConn)
	categoryRepo := postgres.NewCategoryGoalRepository(dbConn)
	contestRepo := postgres.NewContestRepository(dbConn)

	// ─────────────────────────────────────────────────────────────────────────
	// 6. ИНИЦИАЛИЗАЦИЯ EVENT BUS
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("initializing event bus...")
	localBusCfg := messaging.DefaultInMemoryEventBusConfig()
	localBusCfg.Logger = log

	var eventBus shared.EventBus
	var closeBus func() error
	if redisCache != nil {
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
	// 7. ИНИЦИАЛИЗАЦИЯ CODEFORCES CLIENT
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
	// 8. РЕГИСТРАЦИЯ EVENT HANDLERS
	// ─────────────────────────────────────────────────────────────────────────
	// Worker сам порождает события (sync, sweeps), поэтому обработчик
	// рейтинга подписывается прямо на шину.
	if scoreCache != nil {
		scoreHandler, hErr := eventhandler.NewOnScoreChangedHandler(
			stateRepo, contestRepo, scoreCache, ranking.DefaultWeights(), log)
		if hErr != nil {
			return fmt.Errorf("failed to create score handler: %w", hErr)
		}
		for _, et := range scoreHandler.EventTypes() {
			if err := eventBus.Subscribe(et, scoreHandler.Handle); err != nil {
				return fmt.Errorf("failed to subscribe score handler: %w", err)
			}
		}
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 9. ИНИЦИАЛИЗАЦИЯ SCHEDULER И ЗАДАЧ
	// ─────────────────────────────────────────────────────────────────────────
	if !cfg.Scheduler.Enabled {
		log.Warn("scheduler disabled, worker will idle")
		waitForShutdown(ctx, log)
		return nil
	}

	log.Info("initializing scheduler...")
	schedCfg := scheduler.DefaultSchedulerConfig()
	schedCfg.Logger = log
	schedCfg.Timezone = cfg.App.Location
	sched := scheduler.NewScheduler(schedCfg)

	// Обе задачи пишут одни и те же состояния целей, поэтому делят один
	// набор per-user блокировок.
	goalLocks := keymutex.New()

	syncCfg := jobs.DefaultSyncSolvesConfig()
	syncCfg.Concurrency = cfg.Scheduler.SyncConcurrency
	syncCfg.Timeout = cfg.Scheduler.JobTimeout
	syncCfg.DayStart = cfg.App.DayStart
	syncJob := jobs.NewSyncSolvesJob(
		stateRepo, categoryRepo, contestRepo, cfClient, eventBus, log, syncCfg).
		WithLocks(goalLocks)
	if err := sched.Register(syncJob, scheduler.NewIntervalSchedule(cfg.Scheduler.SyncSolvesInterval)); err != nil {
		return fmt.Errorf("failed to register sync job: %w", err)
	}

	rolloverCfg := jobs.DefaultRolloverSweepConfig()
	rolloverCfg.DayStart = cfg.App.DayStart
	rolloverJob := jobs.NewRolloverSweepJob(stateRepo, eventBus, log, rolloverCfg).
		WithLocks(goalLocks)
	if err := sched.Register(rolloverJob, scheduler.NewIntervalSchedule(cfg.Scheduler.RolloverSweepInterval)); err != nil {
		return fmt.Errorf("failed to register rollover sweep: %w", err)
	}

	if cfg.Features.ContestsEnabled(nil) {
		contestJob := jobs.NewContestSweepJob(contestRepo, eventBus, log, jobs.DefaultContestSweepConfig())
		if err := sched.Register(contestJob, scheduler.NewIntervalSchedule(cfg.Scheduler.ContestSweepInterval)); err != nil {
			return fmt.Errorf("failed to register contest sweep: %w", err)
		}
	} else {
		log.Warn("contest sweep job skipped: feature disabled")
	}

	if cfg.Features.IsEnabled(config.FeatureGoalsReminders, nil) {
		reminderJob := jobs.NewReminderSweepJob(stateRepo, eventBus, log)
		if redisCache != nil {
			reminderJob.WithDedup(redisCache)
		}
		if err := sched.Register(reminderJob, scheduler.NewIntervalSchedule(cfg.Scheduler.ReminderSweepInterval)); err != nil {
			return fmt.Errorf("failed to register reminder sweep: %w", err)
		}
	} else {
		log.Warn("reminder sweep job skipped: feature disabled")
	}

	if scoreCache != nil && cfg.Features.IsEnabled(config.FeatureRankingLeaderboard, nil) {
		rankingJob, jobErr := jobs.NewRebuildRankingJob(
			stateRepo, contestRepo, scoreCache, log, ranking.DefaultWeights())
		if jobErr != nil {
			return fmt.Errorf("failed to create ranking job: %w", jobErr)
		}
		// Полную пересборку можно привязать к фиксированному времени
		// (например "0 4 * * *", сразу после смены дня): в остальное время
		// кэш обновляют обработчики событий.
		var rankingSchedule scheduler.Schedule = scheduler.NewIntervalSchedule(cfg.Scheduler.RebuildRankingInterval)
		if cfg.Scheduler.RebuildRankingCron != "" {
			cronSchedule, cronErr := scheduler.ParseCronSchedule(cfg.Scheduler.RebuildRankingCron)
			if cronErr != nil {
				return fmt.Errorf("invalid REBUILD_RANKING_CRON: %w", cronErr)
			}
			rankingSchedule = cronSchedule
		}
		if err := sched.Register(rankingJob, rankingSchedule); err != nil {
			return fmt.Errorf("failed to register ranking rebuild: %w", err)
		}
	} else {
		log.Warn("ranking rebuild job skipped: Redis unavailable or feature disabled")
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 10. ЗАПУСК И GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	sched.OnJobError(func(jobName string, err error) {
		log.Error("background job failed", "job", jobName, "error", err)
	})

	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	for _, info := range sched.ListJobs() {
		log.Info("job scheduled",
			"job", info.Name,
			"schedule", info.Schedule,
			"next_run", info.NextRun.Format(time.RFC3339),
		)
	}

	log.Info("CF Goal Hub worker is running",
		"sync_interval", cfg.Scheduler.SyncSolvesInterval.String(),
		"redis", redisCache != nil,
	)

	waitForShutdown(ctx, log)

	log.Info("stopping scheduler...")
	if err := sched.Stop(); err != nil && !errors.Is(err, scheduler.ErrSchedulerNotRunning) {
		log.Error("failed to stop scheduler gracefully", "error", err)
	}

	stats := sched.GetMetrics().Snapshot()
	log.Info("scheduler totals",
		"executions", stats.TotalExecutions,
		"failures", stats.TotalFailures,
		"avg_duration", stats.AverageDuration.String(),
	)

	// Шина и база закрываются через defer.
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// waitForShutdown блокируется до сигнала завершения или отмены контекста.
func waitForShutdown(ctx context.Context, log *slog.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	select {
	case sig := <-sigCh:
		log.Info("received shutdown signal", "signal", sig.String())
	case <-ctx.Done():
	}
}

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
	if cfg.Observability.LogFormat == "json" || cfg.IsProduction() {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	log := slog.New(handler)
	slog.SetDefault(log)

	return log
}
