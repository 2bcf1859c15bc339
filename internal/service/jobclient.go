package service

import (
	"context"
	"time"

	"github.com/hibiken/asynq"

	"surveyflow/internal/jobs"
)

// JobClient interface for scheduling background jobs
type JobClient interface {
	ScheduleFlowValidation(ctx context.Context, surveyID int64) (string, error)
}

// AsynqJobClient implements JobClient using asynq
type AsynqJobClient struct {
	client *asynq.Client
	delay  time.Duration
}

// NewAsynqJobClient schedules validations after a short delay so a burst of
// imports for the same survey settles first.
func NewAsynqJobClient(client *asynq.Client) *AsynqJobClient {
	return &AsynqJobClient{client: client, delay: 2 * time.Second}
}

func (c *AsynqJobClient) ScheduleFlowValidation(ctx context.Context, surveyID int64) (string, error) {
	return jobs.ScheduleFlowValidation(ctx, c.client, surveyID, c.delay)
}
