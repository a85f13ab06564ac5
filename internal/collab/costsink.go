// internal/collab/costsink.go
package collab

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"

	"insight-pipeline/internal/common/logger"
	"insight-pipeline/internal/models"
)

// UsageEvent is the one billing record written per pipeline run.
type UsageEvent struct {
	RequestID     string               `json:"request_id"`
	WorkspaceID   string               `json:"workspace_id"`
	AgentID       string               `json:"agent_id,omitempty"`
	Status        string               `json:"status"`
	TotalTokens   int                  `json:"total_tokens"`
	Credits       int                  `json:"credits"`
	TokensByStage []models.LedgerEntry `json:"tokens_by_stage"`
	Timestamp     time.Time            `json:"timestamp"`
}

// CostSink receives final token and credit totals. Failures are reported
// to the caller for logging only; a run never fails on billing writes.
type CostSink interface {
	PublishUsage(ctx context.Context, event *UsageEvent) error
}

// SNSService is the publish surface we need, small enough to mock.
type SNSService interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNSCostSink publishes usage events to an SNS topic consumed by billing.
type SNSCostSink struct {
	client   SNSService
	topicARN string
	logger   logger.Logger
}

func NewSNSCostSink(client SNSService, topicARN string, log logger.Logger) *SNSCostSink {
	return &SNSCostSink{
		client:   client,
		topicARN: topicARN,
		logger:   log.WithFields(map[string]interface{}{"component": "cost-sink"}),
	}
}

func (s *SNSCostSink) PublishUsage(ctx context.Context, event *UsageEvent) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal usage event: %w", err)
	}

	_, err = s.client.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(s.topicARN),
		Message:  aws.String(string(body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"workspace_id": {
				DataType:    aws.String("String"),
				StringValue: aws.String(event.WorkspaceID),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("publish usage event: %w", err)
	}

	s.logger.Debug("usage event published", map[string]interface{}{
		"requestId": event.RequestID,
		"credits":   event.Credits,
	})
	return nil
}

// NoopCostSink drops usage events. Used when billing is disabled.
type NoopCostSink struct{}

func (NoopCostSink) PublishUsage(ctx context.Context, event *UsageEvent) error {
	return nil
}
