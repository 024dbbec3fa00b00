package tasks

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

// 任务类型常量，确保队列生产者与消费者一致。
const (
	TypeJobDispatch       = "job:dispatch"
	TypeSubscriptionCycle = "subscription:cycle"
)

// JobDispatchPayload 描述把排队任务移交机器人队列所需的最小信息。
type JobDispatchPayload struct {
	JobID         uint   `json:"job_id"`
	UserID        uint   `json:"user_id"`
	CorrelationID string `json:"correlation_id"`
}

// NewJobDispatchTask 构造一个任务移交消息。
func NewJobDispatchTask(jobID, userID uint, correlationID string) (*asynq.Task, error) {
	payload, err := json.Marshal(JobDispatchPayload{
		JobID:         jobID,
		UserID:        userID,
		CorrelationID: correlationID,
	})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeJobDispatch, payload), nil
}

// NewSubscriptionCycleTask 构造周期性的订阅收敛任务（无载荷）。
func NewSubscriptionCycleTask() *asynq.Task {
	return asynq.NewTask(TypeSubscriptionCycle, nil)
}
