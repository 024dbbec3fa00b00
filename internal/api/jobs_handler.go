package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"jobpilot/internal/api/middleware"
	"jobpilot/internal/database"
	"jobpilot/internal/errcode"
	"jobpilot/internal/jobs"
	"jobpilot/internal/subscription"
)

// JobsHandler 暴露自动投递任务的 HTTP 接口。
// 创建前按顺序检查：平台凭据 → 简历 → 档案 → 额度，缺哪个就报哪个。
type JobsHandler struct {
	DB   *gorm.DB
	Jobs *jobs.Service
}

// NewJobsHandler 构造 JobsHandler。
func NewJobsHandler(db *gorm.DB, jobsService *jobs.Service) *JobsHandler {
	return &JobsHandler{DB: db, Jobs: jobsService}
}

type createJobRequest struct {
	SearchKeywords  string `json:"searchKeywords"`
	SearchLocation  string `json:"searchLocation"`
	MaxApplications int    `json:"maxApplications"`
}

type jobSummary struct {
	ID              uint          `json:"id"`
	Status          string        `json:"status"`
	SearchKeywords  string        `json:"searchKeywords"`
	SearchLocation  string        `json:"searchLocation"`
	MaxApplications int           `json:"maxApplications"`
	Progress        jobs.Progress `json:"progress"`
	ErrorMessage    string        `json:"errorMessage,omitempty"`
	CreatedAt       time.Time     `json:"createdAt"`
	StartedAt       *time.Time    `json:"startedAt,omitempty"`
	CompletedAt     *time.Time    `json:"completedAt,omitempty"`
	CancelledAt     *time.Time    `json:"cancelledAt,omitempty"`
}

type jobLogEntry struct {
	Time    time.Time `json:"time"`
	Level   string    `json:"level"`
	Message string    `json:"message"`
}

type jobDetail struct {
	jobSummary
	Logs         []jobLogEntry    `json:"logs"`
	Applications []datatypes.JSON `json:"applications"`
}

func newJobSummary(job database.Job) jobSummary {
	return jobSummary{
		ID:              job.ID,
		Status:          job.Status,
		SearchKeywords:  job.SearchKeywords,
		SearchLocation:  job.SearchLocation,
		MaxApplications: job.MaxApplications,
		Progress: jobs.Progress{
			JobsProcessed:       job.JobsProcessed,
			JobsApplied:         job.JobsApplied,
			JobsSkipped:         job.JobsSkipped,
			JobsBlacklisted:     job.JobsBlacklisted,
			JobsAlreadyApplied:  job.JobsAlreadyApplied,
			JobsExtraInfoNeeded: job.JobsExtraInfoNeeded,
		},
		ErrorMessage: job.ErrorMessage,
		CreatedAt:    job.CreatedAt,
		StartedAt:    job.StartedAt,
		CompletedAt:  job.CompletedAt,
		CancelledAt:  job.CancelledAt,
	}
}

func newJobDetail(job database.Job) jobDetail {
	logs := make([]jobLogEntry, 0, len(job.Logs))
	for _, l := range job.Logs {
		logs = append(logs, jobLogEntry{Time: l.Time, Level: l.Level, Message: l.Message})
	}
	applications := make([]datatypes.JSON, 0, len(job.Applications))
	for _, a := range job.Applications {
		applications = append(applications, a.Payload)
	}
	return jobDetail{
		jobSummary:   newJobSummary(job),
		Logs:         logs,
		Applications: applications,
	}
}

// hasPrerequisites 逐项检查创建任务的前置条件，返回第一条缺失提示。
func (h *JobsHandler) missingPrerequisite(c *gin.Context, userID uint) (string, error) {
	ctx := c.Request.Context()

	var count int64
	if err := h.DB.WithContext(ctx).Model(&database.Credential{}).Where("user_id = ?", userID).Count(&count).Error; err != nil {
		return "", err
	}
	if count == 0 {
		return "please configure your platform credentials before starting a job", nil
	}

	if err := h.DB.WithContext(ctx).Model(&database.Resume{}).Where("user_id = ?", userID).Count(&count).Error; err != nil {
		return "", err
	}
	if count == 0 {
		return "please upload your resume before starting a job", nil
	}

	if err := h.DB.WithContext(ctx).Model(&database.UserProfile{}).Where("user_id = ?", userID).Count(&count).Error; err != nil {
		return "", err
	}
	if count == 0 {
		return "please complete your profile before starting a job", nil
	}

	return "", nil
}

// CreateJob 创建投递任务：前置检查、扣额度、落库、入队。
func (h *JobsHandler) CreateJob(c *gin.Context) {
	var req createJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "invalid request body")
		return
	}

	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	logger := middleware.LoggerFromContext(c)

	missing, err := h.missingPrerequisite(c, userID)
	if err != nil {
		logger.Error("check job prerequisites failed", slog.Any("error", err))
		Internal(c, "failed to create job")
		return
	}
	if missing != "" {
		BadRequest(c, missing)
		return
	}

	job, err := h.Jobs.Create(
		c.Request.Context(),
		userID,
		req.SearchKeywords,
		req.SearchLocation,
		req.MaxApplications,
		middleware.GetCorrelationID(c),
	)
	if err != nil {
		switch {
		case errors.Is(err, jobs.ErrValidation):
			BadRequest(c, err.Error())
		case errors.Is(err, subscription.ErrQuotaExceeded):
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "monthly application limit reached, upgrade to pro for a higher limit",
				"code":  errcode.QuotaExhausted,
			})
		default:
			logger.Error("create job failed", slog.Any("error", err))
			Internal(c, "failed to create job")
		}
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"jobId":   job.ID,
		"status":  job.Status,
	})
}

// ListJobs 列出当前用户最近的任务。
func (h *JobsHandler) ListJobs(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(jobs.DefaultListLimit)))
	if err != nil || limit <= 0 {
		limit = jobs.DefaultListLimit
	}

	list, err := h.Jobs.List(c.Request.Context(), userID, limit)
	if err != nil {
		middleware.LoggerFromContext(c).Error("list jobs failed", slog.Any("error", err))
		Internal(c, "failed to list jobs")
		return
	}

	items := make([]jobSummary, 0, len(list))
	for _, job := range list {
		items = append(items, newJobSummary(job))
	}

	c.JSON(http.StatusOK, gin.H{"jobs": items})
}

// GetJob 返回单个任务详情，只允许属主访问。
func (h *JobsHandler) GetJob(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	jobID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		BadRequest(c, "invalid job id")
		return
	}

	job, err := h.Jobs.Get(c.Request.Context(), uint(jobID))
	if err != nil {
		if errors.Is(err, jobs.ErrNotFound) {
			NotFound(c, "job not found")
			return
		}
		middleware.LoggerFromContext(c).Error("get job failed", slog.Any("error", err))
		Internal(c, "failed to fetch job")
		return
	}
	if job.UserID != userID {
		Forbidden(c, "access denied")
		return
	}

	c.JSON(http.StatusOK, gin.H{"job": newJobDetail(*job)})
}

// CancelJob 取消排队中的任务；已经开跑的任务不受影响。
func (h *JobsHandler) CancelJob(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	jobID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		BadRequest(c, "invalid job id")
		return
	}

	job, err := h.Jobs.Get(c.Request.Context(), uint(jobID))
	if err != nil {
		if errors.Is(err, jobs.ErrNotFound) {
			NotFound(c, "job not found")
			return
		}
		middleware.LoggerFromContext(c).Error("load job failed", slog.Any("error", err))
		Internal(c, "failed to cancel job")
		return
	}
	if job.UserID != userID {
		Forbidden(c, "access denied")
		return
	}

	cancelled, err := h.Jobs.Cancel(c.Request.Context(), uint(jobID), userID)
	if err != nil {
		middleware.LoggerFromContext(c).Error("cancel job failed", slog.Any("error", err))
		Internal(c, "failed to cancel job")
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "cancelled": cancelled})
}
