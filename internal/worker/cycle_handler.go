package worker

import (
	"context"
	"log/slog"

	"github.com/hibiken/asynq"

	"jobpilot/internal/subscription"
)

// SubscriptionCycleHandler 周期性收敛订阅状态：
// 把跨月未清零、Pro 已过期的档案落实到位，
// 避免长期不访问的账号一直停留在旧状态。
type SubscriptionCycleHandler struct {
	subs   *subscription.Service
	logger *slog.Logger
}

// NewSubscriptionCycleHandler 创建任务处理器。
func NewSubscriptionCycleHandler(subs *subscription.Service, logger *slog.Logger) *SubscriptionCycleHandler {
	return &SubscriptionCycleHandler{subs: subs, logger: logger}
}

// ProcessTask 实现 asynq.Handler。
func (h *SubscriptionCycleHandler) ProcessTask(ctx context.Context, _ *asynq.Task) error {
	touched, err := h.subs.Sweep(ctx)
	if err != nil {
		h.logger.Error("subscription sweep failed",
			slog.Int("touched", touched),
			slog.Any("error", err),
		)
		return err
	}
	h.logger.Info("subscription sweep finished", slog.Int("touched", touched))
	return nil
}
