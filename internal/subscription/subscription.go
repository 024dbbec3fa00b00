package subscription

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"jobpilot/internal/database"
)

// 订阅档位。Basic 为默认档，Pro 需链上支付确认后开通。
const (
	PlanBasic = "basic"
	PlanPro   = "pro"
)

// PlanLimits 是各档位的每月投递上限。
// Basic 的取值以 10 为准，全部额度计算只读这里。
var PlanLimits = map[string]int{
	PlanBasic: 10,
	PlanPro:   500,
}

// PlanLimit 返回档位上限，未知档位按 Basic 处理。
func PlanLimit(plan string) int {
	if limit, ok := PlanLimits[plan]; ok {
		return limit
	}
	return PlanLimits[PlanBasic]
}

var (
	// ErrQuotaExceeded 表示本月投递额度已用尽。
	ErrQuotaExceeded = errors.New("monthly application limit reached")
	// ErrProfileNotFound 表示用户尚未建立档案。
	ErrProfileNotFound = errors.New("profile not found")
)

// Snapshot 是订阅状态的一致性快照。
type Snapshot struct {
	Plan                    string     `json:"plan"`
	PlanStartDate           time.Time  `json:"planStartDate"`
	PlanExpiryDate          *time.Time `json:"planExpiryDate,omitempty"`
	MonthlyApplicationsUsed int        `json:"monthlyApplicationsUsed"`
}

// Service 实现额度策略：月度清零、Pro 到期降级与条件式扣减。
// 订阅状态嵌在档案行内，单行读取即得一致快照。
type Service struct {
	db  *gorm.DB
	now func() time.Time
}

// NewService 构造额度服务。
func NewService(db *gorm.DB) *Service {
	return &Service{db: db, now: time.Now}
}

// Current 返回用户当前订阅快照。
// 读取时顺带落实两条策略：跨自然月后用量清零并推进锚点；
// Pro 已过期则静默降级为 Basic。两者都会先持久化再返回。
func (s *Service) Current(ctx context.Context, userID uint) (Snapshot, error) {
	now := s.now()

	var profile database.UserProfile
	err := s.db.WithContext(ctx).
		Select("id", "user_id",
			"subscription_plan", "subscription_plan_start_date",
			"subscription_plan_expiry_date", "subscription_monthly_applications_used").
		Where("user_id = ?", userID).
		First(&profile).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// 无档案时给出默认 Basic 快照，不落库。
			return Snapshot{Plan: PlanBasic, PlanStartDate: now}, nil
		}
		return Snapshot{}, fmt.Errorf("load subscription: %w", err)
	}

	sub := profile.Subscription
	if sub.Plan == "" {
		sub.Plan = PlanBasic
	}

	if monthsSince(sub.PlanStartDate, now) >= 1 {
		updates := map[string]any{
			"subscription_monthly_applications_used": 0,
			"subscription_plan_start_date":           now,
		}
		if err := s.db.WithContext(ctx).Model(&database.UserProfile{}).
			Where("user_id = ?", userID).
			Updates(updates).Error; err != nil {
			return Snapshot{}, fmt.Errorf("reset monthly usage: %w", err)
		}
		sub.MonthlyApplicationsUsed = 0
		sub.PlanStartDate = now
	}

	if sub.Plan == PlanPro && sub.PlanExpiryDate != nil && sub.PlanExpiryDate.Before(now) {
		if err := s.Downgrade(ctx, userID); err != nil {
			return Snapshot{}, err
		}
		sub = database.Subscription{Plan: PlanBasic, PlanStartDate: now}
	}

	return Snapshot{
		Plan:                    sub.Plan,
		PlanStartDate:           sub.PlanStartDate,
		PlanExpiryDate:          sub.PlanExpiryDate,
		MonthlyApplicationsUsed: sub.MonthlyApplicationsUsed,
	}, nil
}

// Remaining 返回本月剩余可投递数，不会为负。
func (s *Service) Remaining(ctx context.Context, userID uint) (int, error) {
	snapshot, err := s.Current(ctx, userID)
	if err != nil {
		return 0, err
	}
	remaining := PlanLimit(snapshot.Plan) - snapshot.MonthlyApplicationsUsed
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

// Consume 将用量增加 n。
// 单条条件 UPDATE 在存储端校验 "已用 + n <= 上限"，
// 并发创建不会把月度额度扣超。
func (s *Service) Consume(ctx context.Context, userID uint, n int) error {
	return s.consume(s.db.WithContext(ctx), userID, n)
}

// ConsumeTx 在调用方事务中执行与 Consume 相同的条件扣减。
func (s *Service) ConsumeTx(tx *gorm.DB, userID uint, n int) error {
	return s.consume(tx, userID, n)
}

func (s *Service) consume(db *gorm.DB, userID uint, n int) error {
	if n <= 0 {
		return fmt.Errorf("consume count must be positive, got %d", n)
	}

	result := db.Model(&database.UserProfile{}).
		Where("user_id = ?", userID).
		Where("subscription_monthly_applications_used + ? <= (CASE subscription_plan WHEN ? THEN ? ELSE ? END)",
			n, PlanPro, PlanLimits[PlanPro], PlanLimits[PlanBasic]).
		UpdateColumn("subscription_monthly_applications_used",
			gorm.Expr("subscription_monthly_applications_used + ?", n))
	if result.Error != nil {
		return fmt.Errorf("consume quota: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrQuotaExceeded
	}
	return nil
}

// Upgrade 升级为 Pro：用量清零、锚点推进到现在、写入到期时间。
// expiry 为空时默认一年后到期。
func (s *Service) Upgrade(ctx context.Context, userID uint, expiry *time.Time) error {
	now := s.now()
	planExpiry := now.AddDate(1, 0, 0)
	if expiry != nil {
		planExpiry = *expiry
	}

	result := s.db.WithContext(ctx).Model(&database.UserProfile{}).
		Where("user_id = ?", userID).
		Updates(map[string]any{
			"subscription_plan":                      PlanPro,
			"subscription_plan_start_date":           now,
			"subscription_plan_expiry_date":          planExpiry,
			"subscription_monthly_applications_used": 0,
		})
	if result.Error != nil {
		return fmt.Errorf("upgrade plan: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrProfileNotFound
	}
	return nil
}

// Downgrade 回落为 Basic：用量清零、锚点推进、清除到期时间。
func (s *Service) Downgrade(ctx context.Context, userID uint) error {
	result := s.db.WithContext(ctx).Model(&database.UserProfile{}).
		Where("user_id = ?", userID).
		Updates(map[string]any{
			"subscription_plan":                      PlanBasic,
			"subscription_plan_start_date":           s.now(),
			"subscription_plan_expiry_date":          nil,
			"subscription_monthly_applications_used": 0,
		})
	if result.Error != nil {
		return fmt.Errorf("downgrade plan: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrProfileNotFound
	}
	return nil
}

// Sweep 批量收敛长期无访问的账号：
// 锚点早于本月一日的做月度清零，Pro 已过期的做降级。
// 返回被触达的档案数量。
func (s *Service) Sweep(ctx context.Context) (int, error) {
	now := s.now()
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())

	var userIDs []uint
	err := s.db.WithContext(ctx).Model(&database.UserProfile{}).
		Where("subscription_plan_start_date < ?", monthStart).
		Or("subscription_plan = ? AND subscription_plan_expiry_date IS NOT NULL AND subscription_plan_expiry_date < ?", PlanPro, now).
		Pluck("user_id", &userIDs).Error
	if err != nil {
		return 0, fmt.Errorf("list stale subscriptions: %w", err)
	}

	touched := 0
	for _, userID := range userIDs {
		if _, err := s.Current(ctx, userID); err != nil {
			return touched, err
		}
		touched++
	}
	return touched, nil
}

// monthsSince 按自然年月差计算间隔，不看具体天数。
func monthsSince(start, now time.Time) int {
	return (now.Year()-start.Year())*12 + int(now.Month()) - int(start.Month())
}
