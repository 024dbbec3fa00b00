package subscription

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"jobpilot/internal/database"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&database.User{}, &database.UserProfile{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func newTestService(t *testing.T, now time.Time) (*Service, *gorm.DB) {
	t.Helper()
	db := newTestDB(t)
	s := NewService(db)
	s.now = func() time.Time { return now }
	return s, db
}

func seedProfile(t *testing.T, db *gorm.DB, userID uint, sub database.Subscription) {
	t.Helper()
	profile := database.UserProfile{
		UserID:       userID,
		FirstName:    "Test",
		LastName:     "User",
		Email:        "test@example.com",
		Subscription: sub,
	}
	if err := db.Create(&profile).Error; err != nil {
		t.Fatalf("seed profile: %v", err)
	}
}

func loadSubscription(t *testing.T, db *gorm.DB, userID uint) database.Subscription {
	t.Helper()
	var profile database.UserProfile
	if err := db.Where("user_id = ?", userID).First(&profile).Error; err != nil {
		t.Fatalf("load profile: %v", err)
	}
	return profile.Subscription
}

func TestCurrentWithoutProfileDefaultsToBasic(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	s, db := newTestService(t, now)

	snapshot, err := s.Current(context.Background(), 1)
	if err != nil {
		t.Fatalf("current: %v", err)
	}
	if snapshot.Plan != PlanBasic {
		t.Fatalf("expected basic plan, got %q", snapshot.Plan)
	}
	if snapshot.MonthlyApplicationsUsed != 0 {
		t.Fatalf("expected zero usage, got %d", snapshot.MonthlyApplicationsUsed)
	}

	// 默认快照不落库。
	var count int64
	if err := db.Model(&database.UserProfile{}).Count(&count).Error; err != nil {
		t.Fatalf("count profiles: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected no profile rows, got %d", count)
	}
}

func TestCurrentResetsUsageAfterMonthRollover(t *testing.T) {
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	s, db := newTestService(t, now)

	// 锚点在上个月底：即使只过了一天也视为新的自然月。
	seedProfile(t, db, 1, database.Subscription{
		Plan:                    PlanBasic,
		PlanStartDate:           time.Date(2025, 5, 31, 23, 0, 0, 0, time.UTC),
		MonthlyApplicationsUsed: 7,
	})

	snapshot, err := s.Current(context.Background(), 1)
	if err != nil {
		t.Fatalf("current: %v", err)
	}
	if snapshot.MonthlyApplicationsUsed != 0 {
		t.Fatalf("expected usage reset, got %d", snapshot.MonthlyApplicationsUsed)
	}
	if !snapshot.PlanStartDate.Equal(now) {
		t.Fatalf("expected anchor advanced to %v, got %v", now, snapshot.PlanStartDate)
	}

	// 清零已持久化。
	persisted := loadSubscription(t, db, 1)
	if persisted.MonthlyApplicationsUsed != 0 {
		t.Fatalf("expected persisted usage reset, got %d", persisted.MonthlyApplicationsUsed)
	}
}

func TestCurrentKeepsUsageWithinSameMonth(t *testing.T) {
	now := time.Date(2025, 6, 30, 23, 59, 0, 0, time.UTC)
	s, db := newTestService(t, now)

	seedProfile(t, db, 1, database.Subscription{
		Plan:                    PlanBasic,
		PlanStartDate:           time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
		MonthlyApplicationsUsed: 9,
	})

	snapshot, err := s.Current(context.Background(), 1)
	if err != nil {
		t.Fatalf("current: %v", err)
	}
	if snapshot.MonthlyApplicationsUsed != 9 {
		t.Fatalf("expected usage kept, got %d", snapshot.MonthlyApplicationsUsed)
	}
}

func TestCurrentDowngradesExpiredPro(t *testing.T) {
	now := time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC)
	s, db := newTestService(t, now)

	expired := time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC)
	seedProfile(t, db, 1, database.Subscription{
		Plan:                    PlanPro,
		PlanStartDate:           time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
		PlanExpiryDate:          &expired,
		MonthlyApplicationsUsed: 42,
	})

	snapshot, err := s.Current(context.Background(), 1)
	if err != nil {
		t.Fatalf("current: %v", err)
	}
	if snapshot.Plan != PlanBasic {
		t.Fatalf("expected downgrade to basic, got %q", snapshot.Plan)
	}
	if snapshot.MonthlyApplicationsUsed != 0 {
		t.Fatalf("expected usage reset on downgrade, got %d", snapshot.MonthlyApplicationsUsed)
	}

	persisted := loadSubscription(t, db, 1)
	if persisted.Plan != PlanBasic {
		t.Fatalf("expected persisted basic, got %q", persisted.Plan)
	}
	if persisted.PlanExpiryDate != nil {
		t.Fatalf("expected expiry cleared, got %v", persisted.PlanExpiryDate)
	}
}

func TestRemainingNeverNegative(t *testing.T) {
	now := time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC)
	s, db := newTestService(t, now)

	// 降级后残留的超额用量不应产生负数。
	seedProfile(t, db, 1, database.Subscription{
		Plan:                    PlanBasic,
		PlanStartDate:           now,
		MonthlyApplicationsUsed: PlanLimits[PlanBasic] + 5,
	})

	remaining, err := s.Remaining(context.Background(), 1)
	if err != nil {
		t.Fatalf("remaining: %v", err)
	}
	if remaining != 0 {
		t.Fatalf("expected zero remaining, got %d", remaining)
	}
}

func TestConsumeRefusesOverLimit(t *testing.T) {
	now := time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC)
	s, db := newTestService(t, now)

	seedProfile(t, db, 1, database.Subscription{
		Plan:                    PlanBasic,
		PlanStartDate:           now,
		MonthlyApplicationsUsed: PlanLimits[PlanBasic] - 1,
	})

	// 刚好用满可以。
	if err := s.Consume(context.Background(), 1, 1); err != nil {
		t.Fatalf("consume last slot: %v", err)
	}

	// 超出即拒绝，用量不变。
	err := s.Consume(context.Background(), 1, 1)
	if !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("expected ErrQuotaExceeded, got %v", err)
	}
	persisted := loadSubscription(t, db, 1)
	if persisted.MonthlyApplicationsUsed != PlanLimits[PlanBasic] {
		t.Fatalf("expected usage %d, got %d", PlanLimits[PlanBasic], persisted.MonthlyApplicationsUsed)
	}
}

func TestConsumeHonorsProLimit(t *testing.T) {
	now := time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC)
	s, db := newTestService(t, now)

	expiry := now.AddDate(0, 1, 0)
	seedProfile(t, db, 1, database.Subscription{
		Plan:                    PlanPro,
		PlanStartDate:           now,
		PlanExpiryDate:          &expiry,
		MonthlyApplicationsUsed: PlanLimits[PlanBasic],
	})

	// Basic 上限之外、Pro 上限之内的用量可以继续扣。
	if err := s.Consume(context.Background(), 1, 100); err != nil {
		t.Fatalf("consume within pro limit: %v", err)
	}

	err := s.Consume(context.Background(), 1, PlanLimits[PlanPro])
	if !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("expected ErrQuotaExceeded, got %v", err)
	}
}

func TestConsumeRejectsNonPositive(t *testing.T) {
	now := time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC)
	s, db := newTestService(t, now)
	seedProfile(t, db, 1, database.Subscription{Plan: PlanBasic, PlanStartDate: now})

	if err := s.Consume(context.Background(), 1, 0); err == nil {
		t.Fatal("expected error for zero count")
	}
	if err := s.Consume(context.Background(), 1, -3); err == nil {
		t.Fatal("expected error for negative count")
	}
}

func TestUpgradeAndDowngrade(t *testing.T) {
	now := time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC)
	s, db := newTestService(t, now)

	seedProfile(t, db, 1, database.Subscription{
		Plan:                    PlanBasic,
		PlanStartDate:           time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
		MonthlyApplicationsUsed: 8,
	})

	expiry := now.AddDate(0, 1, 0)
	if err := s.Upgrade(context.Background(), 1, &expiry); err != nil {
		t.Fatalf("upgrade: %v", err)
	}

	persisted := loadSubscription(t, db, 1)
	if persisted.Plan != PlanPro {
		t.Fatalf("expected pro, got %q", persisted.Plan)
	}
	if persisted.MonthlyApplicationsUsed != 0 {
		t.Fatalf("expected usage reset on upgrade, got %d", persisted.MonthlyApplicationsUsed)
	}
	if persisted.PlanExpiryDate == nil || !persisted.PlanExpiryDate.Equal(expiry) {
		t.Fatalf("expected expiry %v, got %v", expiry, persisted.PlanExpiryDate)
	}

	if err := s.Downgrade(context.Background(), 1); err != nil {
		t.Fatalf("downgrade: %v", err)
	}
	persisted = loadSubscription(t, db, 1)
	if persisted.Plan != PlanBasic {
		t.Fatalf("expected basic, got %q", persisted.Plan)
	}
	if persisted.PlanExpiryDate != nil {
		t.Fatalf("expected expiry cleared, got %v", persisted.PlanExpiryDate)
	}
}

func TestUpgradeWithoutProfile(t *testing.T) {
	now := time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC)
	s, _ := newTestService(t, now)

	err := s.Upgrade(context.Background(), 99, nil)
	if !errors.Is(err, ErrProfileNotFound) {
		t.Fatalf("expected ErrProfileNotFound, got %v", err)
	}
}

func TestSweepTouchesStaleProfiles(t *testing.T) {
	now := time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC)
	s, db := newTestService(t, now)

	// 用户 1：锚点在上月，需清零。
	seedProfile(t, db, 1, database.Subscription{
		Plan:                    PlanBasic,
		PlanStartDate:           time.Date(2025, 5, 20, 0, 0, 0, 0, time.UTC),
		MonthlyApplicationsUsed: 10,
	})
	// 用户 2：Pro 已过期，需降级。
	expired := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	seedProfile(t, db, 2, database.Subscription{
		Plan:                    PlanPro,
		PlanStartDate:           time.Date(2025, 6, 5, 0, 0, 0, 0, time.UTC),
		PlanExpiryDate:          &expired,
		MonthlyApplicationsUsed: 50,
	})
	// 用户 3：本月 Basic，无需处理。
	seedProfile(t, db, 3, database.Subscription{
		Plan:                    PlanBasic,
		PlanStartDate:           time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC),
		MonthlyApplicationsUsed: 3,
	})

	touched, err := s.Sweep(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if touched != 2 {
		t.Fatalf("expected 2 profiles touched, got %d", touched)
	}

	if sub := loadSubscription(t, db, 1); sub.MonthlyApplicationsUsed != 0 {
		t.Fatalf("expected user 1 usage reset, got %d", sub.MonthlyApplicationsUsed)
	}
	if sub := loadSubscription(t, db, 2); sub.Plan != PlanBasic {
		t.Fatalf("expected user 2 downgraded, got %q", sub.Plan)
	}
	if sub := loadSubscription(t, db, 3); sub.MonthlyApplicationsUsed != 3 {
		t.Fatalf("expected user 3 untouched, got %d", sub.MonthlyApplicationsUsed)
	}
}

func TestMonthsSince(t *testing.T) {
	cases := []struct {
		start, now time.Time
		want       int
	}{
		{time.Date(2025, 5, 31, 23, 0, 0, 0, time.UTC), time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC), 1},
		{time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC), time.Date(2025, 6, 30, 23, 59, 0, 0, time.UTC), 0},
		{time.Date(2024, 12, 15, 0, 0, 0, 0, time.UTC), time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC), 1},
		{time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC), time.Date(2025, 6, 14, 0, 0, 0, 0, time.UTC), 12},
	}
	for _, tc := range cases {
		if got := monthsSince(tc.start, tc.now); got != tc.want {
			t.Errorf("monthsSince(%v, %v) = %d, want %d", tc.start, tc.now, got, tc.want)
		}
	}
}
