// Package core is the notification fan-out shared by every job. It sends one
// escalation step across the level's channels, records the per-channel
// outcome, and raises operator alerts for levels that ask for them.
package core

import (
	"context"

	"escalator/internal/escalation"
	"escalator/internal/types"
)

// Transport delivers a single message on one channel. Implementations report
// provider failures in SendResult rather than panicking; a panic is still
// contained by the Dispatcher.
type Transport interface {
	Send(ctx context.Context, msg types.Message) types.SendResult
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, msg types.Message) types.SendResult

// Send calls f.
func (f TransportFunc) Send(ctx context.Context, msg types.Message) types.SendResult {
	return f(ctx, msg)
}

// AttemptRecorder appends dispatch attempts to the audit trail and returns
// the assigned id.
type AttemptRecorder interface {
	RecordAttempt(ctx context.Context, attempt *types.DispatchAttempt) (int64, error)
}

// OperatorNotifier delivers alerts to the operator channel.
type OperatorNotifier interface {
	Publish(ctx context.Context, alert types.OperatorAlert) error
}

// DispatchMetrics receives fan-out telemetry.
type DispatchMetrics interface {
	RecordChannel(ctx context.Context, channel types.ChannelType, status types.OutcomeStatus)
	RecordDispatch(ctx context.Context, kind types.EntityKind, success bool)
}

// DispatchRequest is one claimed escalation step to fan out.
type DispatchRequest struct {
	TenantID   string
	Kind       types.EntityKind
	EntityID   string
	Level      escalation.Level
	Recipients map[types.ChannelType]string
	// Context is handed to every transport as template data.
	Context map[string]any
}
