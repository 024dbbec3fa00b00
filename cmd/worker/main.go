package main

import (
	"context"
	"log"
	"log/slog"
	"os"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"jobpilot/internal/config"
	"jobpilot/internal/database"
	"jobpilot/internal/jobs"
	"jobpilot/internal/metrics"
	"jobpilot/internal/subscription"
	"jobpilot/internal/tasks"
	"jobpilot/internal/worker"
)

func main() {
	cfg := config.MustLoad()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	db, err := database.InitDatabase(cfg.Database)
	if err != nil {
		log.Fatalf("init database: %v", err)
	}
	log.Println("database connection ready for worker")

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr()})
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error("close redis client failed", slog.Any("error", err))
		}
	}()
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		log.Fatalf("ping redis: %v", err)
	}

	subsService := subscription.NewService(db)
	jobsService := jobs.NewService(db, subsService, nil, logger)

	redisOpt := asynq.RedisClientOpt{Addr: cfg.Redis.Addr()}
	server := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: 10,
	})

	dispatchHandler := worker.NewDispatchTaskHandler(jobsService, redisClient, logger)
	cycleHandler := worker.NewSubscriptionCycleHandler(subsService, logger)

	mux := asynq.NewServeMux()
	mux.Use(metrics.AsynqMetricsMiddleware())
	mux.Handle(tasks.TypeJobDispatch, dispatchHandler)
	mux.Handle(tasks.TypeSubscriptionCycle, cycleHandler)

	// 每小时触发一次订阅巡检：跨月清零与 Pro 到期降级。
	scheduler := asynq.NewScheduler(redisOpt, nil)
	if _, err := scheduler.Register("@hourly", tasks.NewSubscriptionCycleTask()); err != nil {
		log.Fatalf("register subscription cycle: %v", err)
	}
	go func() {
		if err := scheduler.Run(); err != nil {
			logger.Error("scheduler stopped", slog.Any("error", err))
		}
	}()

	logger.Info("worker service started", slog.String("redis_addr", cfg.Redis.Addr()))
	if err := server.Run(mux); err != nil {
		logger.Error("worker server stopped", slog.Any("error", err))
	}
}
