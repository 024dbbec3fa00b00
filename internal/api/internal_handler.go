package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"gorm.io/datatypes"

	"jobpilot/internal/api/middleware"
	"jobpilot/internal/database"
	"jobpilot/internal/errcode"
	"jobpilot/internal/jobs"
	"jobpilot/internal/worker"
)

// InternalHandler 是给自动化机器人用的回报接口。
// 所有路由都挂在 X-Internal-Secret 校验之后，不走用户鉴权。
type InternalHandler struct {
	Jobs  *jobs.Service
	Redis redis.UniversalClient
}

// NewInternalHandler 构造 InternalHandler。
func NewInternalHandler(jobsService *jobs.Service, redisClient redis.UniversalClient) *InternalHandler {
	return &InternalHandler{Jobs: jobsService, Redis: redisClient}
}

type statusReport struct {
	Status       string `json:"status" binding:"required"`
	ErrorMessage string `json:"errorMessage"`
}

type logReport struct {
	Level   string `json:"level"`
	Message string `json:"message" binding:"required"`
}

type applicationReport struct {
	Payload datatypes.JSON `json:"payload" binding:"required"`
}

func (h *InternalHandler) loadJob(c *gin.Context) (*database.Job, bool) {
	jobID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		BadRequest(c, "invalid job id")
		return nil, false
	}

	job, err := h.Jobs.Get(c.Request.Context(), uint(jobID))
	if err != nil {
		if errors.Is(err, jobs.ErrNotFound) {
			NotFound(c, "job not found")
			return nil, false
		}
		middleware.LoggerFromContext(c).Error("load job failed", slog.Any("error", err))
		Internal(c, "failed to fetch job")
		return nil, false
	}
	return job, true
}

// ReportStatus 由机器人推进任务状态机，非法边返回 409。
func (h *InternalHandler) ReportStatus(c *gin.Context) {
	var req statusReport
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "status is required")
		return
	}

	job, ok := h.loadJob(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()

	var moved bool
	var err error
	switch req.Status {
	case jobs.StatusProcessing:
		moved, err = h.Jobs.Start(ctx, job.ID)
	case jobs.StatusRunning:
		moved, err = h.Jobs.MarkRunning(ctx, job.ID)
	case jobs.StatusCompleted:
		moved, err = h.Jobs.Complete(ctx, job.ID)
	case jobs.StatusFailed:
		moved, err = h.Jobs.Fail(ctx, job.ID, req.ErrorMessage)
	case jobs.StatusVerificationNeeded:
		moved, err = h.Jobs.NeedVerification(ctx, job.ID, req.ErrorMessage)
	default:
		BadRequest(c, "unknown status")
		return
	}
	if err != nil {
		middleware.LoggerFromContext(c).Error("update job status failed", slog.Any("error", err))
		Internal(c, "failed to update status")
		return
	}
	if !moved {
		Conflict(c, "invalid status transition")
		return
	}

	msg := worker.JobStatusNotifyMessage{
		JobID:         job.ID,
		Status:        req.Status,
		CorrelationID: middleware.GetCorrelationID(c),
	}
	if req.Status == jobs.StatusFailed {
		msg.ErrorCode = errcode.SystemError
		msg.ErrorMessage = req.ErrorMessage
	}
	if err := worker.PublishJobNotify(ctx, h.Redis, job.UserID, msg); err != nil {
		middleware.LoggerFromContext(c).Warn("publish job notify failed", slog.Any("error", err))
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

// ReportProgress 回写进度计数，只在任务进行中时生效。
func (h *InternalHandler) ReportProgress(c *gin.Context) {
	var req jobs.Progress
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "invalid request body")
		return
	}

	job, ok := h.loadJob(c)
	if !ok {
		return
	}

	updated, err := h.Jobs.UpdateProgress(c.Request.Context(), job.ID, req)
	if err != nil {
		middleware.LoggerFromContext(c).Error("update job progress failed", slog.Any("error", err))
		Internal(c, "failed to update progress")
		return
	}
	if !updated {
		Conflict(c, "job is not in progress")
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

// ReportLog 追加一条任务日志。
func (h *InternalHandler) ReportLog(c *gin.Context) {
	var req logReport
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "message is required")
		return
	}

	job, ok := h.loadJob(c)
	if !ok {
		return
	}

	if err := h.Jobs.AppendLog(c.Request.Context(), job.ID, req.Level, req.Message); err != nil {
		middleware.LoggerFromContext(c).Error("append job log failed", slog.Any("error", err))
		Internal(c, "failed to append log")
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

// ReportApplication 记录一次成功投递的详情。
func (h *InternalHandler) ReportApplication(c *gin.Context) {
	var req applicationReport
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "payload is required")
		return
	}

	job, ok := h.loadJob(c)
	if !ok {
		return
	}

	if err := h.Jobs.AppendApplication(c.Request.Context(), job.ID, req.Payload); err != nil {
		middleware.LoggerFromContext(c).Error("append job application failed", slog.Any("error", err))
		Internal(c, "failed to append application")
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}
