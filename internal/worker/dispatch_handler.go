package worker

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"jobpilot/internal/jobs"
	"jobpilot/internal/tasks"
)

// BotQueueKey 是自动化机器人消费的 Redis 列表。
// 本服务只负责把排队任务移交进去，投递本身发生在机器人一侧。
const BotQueueKey = "bot:jobs"

// DispatchTaskHandler 负责消费任务移交消息。
type DispatchTaskHandler struct {
	jobsService *jobs.Service
	redisClient *redis.Client
	logger      *slog.Logger
}

// NewDispatchTaskHandler 创建任务处理器。
func NewDispatchTaskHandler(jobsService *jobs.Service, redisClient *redis.Client, logger *slog.Logger) *DispatchTaskHandler {
	return &DispatchTaskHandler{
		jobsService: jobsService,
		redisClient: redisClient,
		logger:      logger,
	}
}

// ProcessTask 实现 asynq.Handler。
func (h *DispatchTaskHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	log := h.logger

	var payload tasks.JobDispatchPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		log.Error("unmarshal dispatch payload failed", slog.Any("error", err))
		return err
	}

	log = log.With(
		slog.String("correlation_id", payload.CorrelationID),
		slog.Uint64("job_id", uint64(payload.JobID)),
		slog.Uint64("user_id", uint64(payload.UserID)),
	)

	job, err := h.jobsService.Get(ctx, payload.JobID)
	if err != nil {
		if errors.Is(err, jobs.ErrNotFound) {
			log.Warn("job not found, skipping dispatch")
			return nil
		}
		log.Error("load job failed", slog.Any("error", err))
		return err
	}

	// 用户可能在移交前就取消了任务；此时不进机器人队列。
	if job.Status != jobs.StatusPending {
		log.Info("job left pending before dispatch, skipping",
			slog.String("status", job.Status))
		return nil
	}

	if err := h.redisClient.LPush(ctx, BotQueueKey, strconv.FormatUint(uint64(job.ID), 10)).Err(); err != nil {
		log.Error("push job to bot queue failed", slog.Any("error", err))
		return err
	}

	if err := h.jobsService.AppendLog(ctx, job.ID, "info", "Job handed to automation queue"); err != nil {
		log.Warn("append dispatch log failed", slog.Any("error", err))
	}

	notify := JobStatusNotifyMessage{
		JobID:         job.ID,
		Status:        job.Status,
		CorrelationID: payload.CorrelationID,
	}
	if err := PublishJobNotify(ctx, h.redisClient, job.UserID, notify); err != nil {
		log.Warn("publish dispatch notification failed", slog.Any("error", err))
	}

	log.Info("job dispatched to bot queue")
	return nil
}
