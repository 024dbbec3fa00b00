package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"jobpilot/internal/database"
	"jobpilot/internal/subscription"
	"jobpilot/internal/tasks"
)

// 任务状态机：
//
//	pending -> processing -> running -> completed | failed | verification_needed
//	pending -> cancelled（仅限用户取消）
//	processing 也可以直接进入终态（机器人在筛选阶段就失败的情形）。
//
// verification_needed 目前没有出边，等待机器人契约明确后再扩展。
const (
	StatusPending            = "pending"
	StatusProcessing         = "processing"
	StatusRunning            = "running"
	StatusCompleted          = "completed"
	StatusFailed             = "failed"
	StatusCancelled          = "cancelled"
	StatusVerificationNeeded = "verification_needed"
)

// DefaultMaxApplications 是创建任务时未指定投递数时的默认值。
const DefaultMaxApplications = 10

// DefaultListLimit 是任务列表的默认分页大小。
const DefaultListLimit = 20

var (
	// ErrValidation 表示请求字段缺失或非法，未发生任何写入。
	ErrValidation = errors.New("validation failed")
	// ErrNotFound 表示任务不存在。
	ErrNotFound = errors.New("job not found")
)

// Progress 是机器人回报的进度计数。
type Progress struct {
	JobsProcessed       int `json:"jobsProcessed"`
	JobsApplied         int `json:"jobsApplied"`
	JobsSkipped         int `json:"jobsSkipped"`
	JobsBlacklisted     int `json:"jobsBlacklisted"`
	JobsAlreadyApplied  int `json:"jobsAlreadyApplied"`
	JobsExtraInfoNeeded int `json:"jobsExtraInfoNeeded"`
}

// Service 拥有任务文档：创建时扣减额度，其后只允许沿状态机边移动。
type Service struct {
	db          *gorm.DB
	subs        *subscription.Service
	asynqClient *asynq.Client
	logger      *slog.Logger
	now         func() time.Time
}

// NewService 构造任务服务。asynqClient 可以为 nil（测试或无队列部署）。
func NewService(db *gorm.DB, subs *subscription.Service, asynqClient *asynq.Client, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		db:          db,
		subs:        subs,
		asynqClient: asynqClient,
		logger:      logger,
		now:         time.Now,
	}
}

// Create 校验输入、按剩余额度收缩 maxApplications，并在一个事务里
// 完成条件扣减与任务落库。额度按请求上限乐观扣除，机器人事后不找补。
func (s *Service) Create(ctx context.Context, userID uint, searchKeywords, searchLocation string, maxApplications int, correlationID string) (*database.Job, error) {
	searchKeywords = strings.TrimSpace(searchKeywords)
	searchLocation = strings.TrimSpace(searchLocation)
	if searchKeywords == "" {
		return nil, fmt.Errorf("%w: search keywords are required", ErrValidation)
	}
	if searchLocation == "" {
		return nil, fmt.Errorf("%w: search location is required", ErrValidation)
	}
	if maxApplications <= 0 {
		maxApplications = DefaultMaxApplications
	}

	remaining, err := s.subs.Remaining(ctx, userID)
	if err != nil {
		return nil, err
	}
	if remaining == 0 {
		return nil, subscription.ErrQuotaExceeded
	}
	if maxApplications > remaining {
		maxApplications = remaining
	}

	now := s.now()
	job := &database.Job{
		UserID:          userID,
		Status:          StatusPending,
		SearchKeywords:  searchKeywords,
		SearchLocation:  searchLocation,
		MaxApplications: maxApplications,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.subs.ConsumeTx(tx, userID, maxApplications); err != nil {
			return err
		}
		if err := tx.Create(job).Error; err != nil {
			return fmt.Errorf("insert job: %w", err)
		}
		entry := database.JobLog{
			JobID:   job.ID,
			Time:    now,
			Level:   "info",
			Message: "Job created and added to queue",
		}
		if err := tx.Create(&entry).Error; err != nil {
			return fmt.Errorf("insert initial log: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.enqueueDispatch(job, correlationID)

	return job, nil
}

// enqueueDispatch 把新任务移交到队列。失败只记日志：
// 任务已处于 pending，机器人队列还能通过轮询兜底发现它。
func (s *Service) enqueueDispatch(job *database.Job, correlationID string) {
	if s.asynqClient == nil {
		return
	}
	task, err := tasks.NewJobDispatchTask(job.ID, job.UserID, correlationID)
	if err != nil {
		s.logger.Error("build dispatch task failed",
			slog.Uint64("job_id", uint64(job.ID)),
			slog.Any("error", err),
		)
		return
	}
	if _, err := s.asynqClient.Enqueue(task, asynq.MaxRetry(5)); err != nil {
		s.logger.Error("enqueue dispatch task failed",
			slog.Uint64("job_id", uint64(job.ID)),
			slog.Any("error", err),
		)
	}
}

// Get 返回任务全貌（含日志与投递记录）。归属校验在调用方。
func (s *Service) Get(ctx context.Context, jobID uint) (*database.Job, error) {
	var job database.Job
	err := s.db.WithContext(ctx).
		Preload("Logs", func(db *gorm.DB) *gorm.DB { return db.Order("id ASC") }).
		Preload("Applications", func(db *gorm.DB) *gorm.DB { return db.Order("id ASC") }).
		First(&job, jobID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load job: %w", err)
	}
	return &job, nil
}

// List 返回用户最近的任务，创建时间倒序。
func (s *Service) List(ctx context.Context, userID uint, limit int) ([]database.Job, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	var result []database.Job
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&result).Error
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return result, nil
}

// Cancel 执行唯一一条由本服务发起的状态迁移：pending -> cancelled。
// 条件更新保证只有仍在排队的任务会被取消；其余状态静默不动，
// 返回值告知迁移是否发生。已扣额度不退。
func (s *Service) Cancel(ctx context.Context, jobID, userID uint) (bool, error) {
	now := s.now()
	result := s.db.WithContext(ctx).Model(&database.Job{}).
		Where("id = ? AND user_id = ? AND status = ?", jobID, userID, StatusPending).
		Updates(map[string]any{
			"status":       StatusCancelled,
			"cancelled_at": now,
			"updated_at":   now,
		})
	if result.Error != nil {
		return false, fmt.Errorf("cancel job: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return false, nil
	}

	if err := s.AppendLog(ctx, jobID, "info", "Job cancelled by user"); err != nil {
		return true, err
	}
	return true, nil
}

// Start 把任务从排队移入处理中（机器人领取任务时调用）。
func (s *Service) Start(ctx context.Context, jobID uint) (bool, error) {
	now := s.now()
	return s.transition(ctx, jobID, []string{StatusPending}, map[string]any{
		"status":     StatusProcessing,
		"started_at": now,
		"updated_at": now,
	}, "Job picked up by automation worker")
}

// MarkRunning 标记任务已进入实际投递阶段。
func (s *Service) MarkRunning(ctx context.Context, jobID uint) (bool, error) {
	return s.transition(ctx, jobID, []string{StatusProcessing}, map[string]any{
		"status":     StatusRunning,
		"updated_at": s.now(),
	}, "Job is running")
}

// Complete 收尾为成功终态。
func (s *Service) Complete(ctx context.Context, jobID uint) (bool, error) {
	now := s.now()
	return s.transition(ctx, jobID, []string{StatusProcessing, StatusRunning}, map[string]any{
		"status":       StatusCompleted,
		"completed_at": now,
		"updated_at":   now,
	}, "Job completed")
}

// Fail 收尾为失败终态并记录错误信息。
func (s *Service) Fail(ctx context.Context, jobID uint, errorMessage string) (bool, error) {
	now := s.now()
	return s.transition(ctx, jobID, []string{StatusProcessing, StatusRunning}, map[string]any{
		"status":        StatusFailed,
		"error_message": errorMessage,
		"completed_at":  now,
		"updated_at":    now,
	}, "Job failed: "+errorMessage)
}

// NeedVerification 标记任务等待用户补充验证信息。
// 该状态目前没有出边。
func (s *Service) NeedVerification(ctx context.Context, jobID uint, reason string) (bool, error) {
	return s.transition(ctx, jobID, []string{StatusProcessing, StatusRunning}, map[string]any{
		"status":     StatusVerificationNeeded,
		"updated_at": s.now(),
	}, "Verification needed: "+reason)
}

func (s *Service) transition(ctx context.Context, jobID uint, from []string, updates map[string]any, logMessage string) (bool, error) {
	result := s.db.WithContext(ctx).Model(&database.Job{}).
		Where("id = ? AND status IN ?", jobID, from).
		Updates(updates)
	if result.Error != nil {
		return false, fmt.Errorf("job transition: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return false, nil
	}
	if err := s.AppendLog(ctx, jobID, "info", logMessage); err != nil {
		return true, err
	}
	return true, nil
}

// UpdateProgress 覆盖进度计数，仅在任务处于活跃状态时生效。
func (s *Service) UpdateProgress(ctx context.Context, jobID uint, p Progress) (bool, error) {
	result := s.db.WithContext(ctx).Model(&database.Job{}).
		Where("id = ? AND status IN ?", jobID, []string{StatusProcessing, StatusRunning}).
		Updates(map[string]any{
			"jobs_processed":         p.JobsProcessed,
			"jobs_applied":           p.JobsApplied,
			"jobs_skipped":           p.JobsSkipped,
			"jobs_blacklisted":       p.JobsBlacklisted,
			"jobs_already_applied":   p.JobsAlreadyApplied,
			"jobs_extra_info_needed": p.JobsExtraInfoNeeded,
			"updated_at":             s.now(),
		})
	if result.Error != nil {
		return false, fmt.Errorf("update progress: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// AppendLog 追加一条任务日志，顺序由自增主键保证。
func (s *Service) AppendLog(ctx context.Context, jobID uint, level, message string) error {
	entry := database.JobLog{
		JobID:   jobID,
		Time:    s.now(),
		Level:   level,
		Message: message,
	}
	if err := s.db.WithContext(ctx).Create(&entry).Error; err != nil {
		return fmt.Errorf("append job log: %w", err)
	}
	return nil
}

// AppendApplication 追加一条投递结果记录，载荷原样保存。
func (s *Service) AppendApplication(ctx context.Context, jobID uint, payload datatypes.JSON) error {
	record := database.JobApplication{
		JobID:   jobID,
		Payload: payload,
	}
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		return fmt.Errorf("append application record: %w", err)
	}
	return nil
}
