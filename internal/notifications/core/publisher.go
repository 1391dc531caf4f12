package core

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"escalator/internal/types"
)

// SQSSender abstracts the SQS SendMessage operation for testability.
// Production code uses the *sqs.Client from aws-sdk-go-v2.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// Compile-time assertion that OperatorPublisher implements OperatorNotifier.
var _ OperatorNotifier = (*OperatorPublisher)(nil)

// OperatorPublisher sends operator alerts to an SQS queue as JSON. Alert kind,
// tenant and severity are copied into message attributes so consumers can
// filter without decoding the body.
type OperatorPublisher struct {
	client   SQSSender
	queueURL string
	logger   types.Logger
}

// NewOperatorPublisher creates an OperatorPublisher targeting queueURL.
func NewOperatorPublisher(client SQSSender, queueURL string, logger types.Logger) *OperatorPublisher {
	return &OperatorPublisher{
		client:   client,
		queueURL: queueURL,
		logger:   logger,
	}
}

// Publish serializes alert and sends it to the operator queue.
func (p *OperatorPublisher) Publish(ctx context.Context, alert types.OperatorAlert) error {
	body, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("operator publisher: failed to marshal alert: %w", err)
	}

	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]sqstypes.MessageAttributeValue{
			"kind":      stringAttr(alert.Kind),
			"tenant_id": stringAttr(alert.TenantID),
			"severity":  stringAttr(string(alert.Severity)),
		},
	}

	if _, err := p.client.SendMessage(ctx, input); err != nil {
		return types.NewAppError(types.ErrCodeUpstreamQueue,
			fmt.Sprintf("operator publisher: failed to send message to %s", p.queueURL), err)
	}

	p.logger.Info("operator alert published",
		"kind", alert.Kind,
		"tenant_id", alert.TenantID,
		"severity", string(alert.Severity),
	)
	return nil
}

func stringAttr(v string) sqstypes.MessageAttributeValue {
	if v == "" {
		v = "-"
	}
	return sqstypes.MessageAttributeValue{
		DataType:    aws.String("String"),
		StringValue: aws.String(v),
	}
}

// LogNotifier writes alerts to the log instead of a queue. Used when no
// operator queue is configured.
type LogNotifier struct {
	Logger types.Logger
}

// Publish logs alert.
func (n LogNotifier) Publish(_ context.Context, alert types.OperatorAlert) error {
	args := []any{
		"kind", alert.Kind,
		"tenant_id", alert.TenantID,
		"severity", string(alert.Severity),
	}
	if alert.Attempt != nil {
		args = append(args, "entity_id", alert.Attempt.EntityID, "step", alert.Attempt.Step, "success", alert.Attempt.Success)
	}
	if alert.Summary != nil {
		args = append(args, "total", alert.Summary.Total)
	}
	n.Logger.Warn("operator alert", args...)
	return nil
}
