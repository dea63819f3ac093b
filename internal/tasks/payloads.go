package tasks

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

// Task types shared by the API (producer) and the worker (consumer).
const (
	TypeSiteRevalidate = "site:revalidate"
)

// SiteRevalidatePayload describes why the public page must be rebuilt.
type SiteRevalidatePayload struct {
	Reason        string `json:"reason"`
	CorrelationID string `json:"correlation_id"`
}

// revalidateUniqueTTL collapses bursts of mutations (a drag session, a bulk
// edit) into one rebuild.
const revalidateUniqueTTL = 2 * time.Second

// NewSiteRevalidateTask builds a revalidation task.
func NewSiteRevalidateTask(reason, correlationID string) (*asynq.Task, error) {
	payload, err := json.Marshal(SiteRevalidatePayload{
		Reason:        reason,
		CorrelationID: correlationID,
	})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeSiteRevalidate, payload, asynq.MaxRetry(3), asynq.Timeout(30*time.Second)), nil
}

// ParseSiteRevalidatePayload decodes a task payload.
func ParseSiteRevalidatePayload(task *asynq.Task) (SiteRevalidatePayload, error) {
	var p SiteRevalidatePayload
	err := json.Unmarshal(task.Payload(), &p)
	return p, err
}
