package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// 统一的 WebSocket 消息协议（通过 Redis Pub/Sub 转发给前端）。
// 注意：这里的字段名与前端仪表盘解析保持一致。
type JobStatusNotifyMessage struct {
	Type          string `json:"type"`
	JobID         uint   `json:"job_id"`
	Status        string `json:"status"`
	CorrelationID string `json:"correlation_id,omitempty"`
	ErrorCode     int    `json:"error_code"`
	ErrorMessage  string `json:"error_message,omitempty"`
}

// UserNotifyChannel 返回指定用户的通知频道名。
func UserNotifyChannel(userID uint) string {
	return fmt.Sprintf("user_notify:%d", userID)
}

// PublishJobNotify 把任务状态变化推送到用户的通知频道。
func PublishJobNotify(ctx context.Context, redisClient redis.UniversalClient, userID uint, msg JobStatusNotifyMessage) error {
	if msg.Type == "" {
		msg.Type = "job_status"
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal notify message: %w", err)
	}
	if err := redisClient.Publish(ctx, UserNotifyChannel(userID), payload).Err(); err != nil {
		return fmt.Errorf("publish notify message: %w", err)
	}
	return nil
}
