package core

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"

	"golang.org/x/time/rate"

	"escalator/internal/types"
)

var errNoTransport = errors.New("no transport configured for channel")

// DispatcherConfig holds the dependencies of a Dispatcher. Everything except
// Transports is optional.
type DispatcherConfig struct {
	Transports map[types.ChannelType]Transport
	// RatePerSecond caps sends per channel. Channels without an entry are
	// not limited.
	RatePerSecond map[types.ChannelType]float64
	Recorder      AttemptRecorder
	Operator      OperatorNotifier
	Metrics       DispatchMetrics
	Clock         types.Clock
	Logger        types.Logger
}

// Dispatcher fans one escalation step out across its channels.
type Dispatcher struct {
	transports map[types.ChannelType]Transport
	limiters   map[types.ChannelType]*rate.Limiter
	recorder   AttemptRecorder
	operator   OperatorNotifier
	metrics    DispatchMetrics
	clock      types.Clock
	logger     types.Logger
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	d := &Dispatcher{
		transports: make(map[types.ChannelType]Transport, len(cfg.Transports)),
		limiters:   make(map[types.ChannelType]*rate.Limiter, len(cfg.RatePerSecond)),
		recorder:   cfg.Recorder,
		operator:   cfg.Operator,
		metrics:    cfg.Metrics,
		clock:      cfg.Clock,
		logger:     cfg.Logger,
	}
	for ch, t := range cfg.Transports {
		if t != nil {
			d.transports[ch] = t
		}
	}
	for ch, perSec := range cfg.RatePerSecond {
		if perSec <= 0 {
			continue
		}
		burst := int(perSec)
		if burst < 1 {
			burst = 1
		}
		d.limiters[ch] = rate.NewLimiter(rate.Limit(perSec), burst)
	}
	if d.metrics == nil {
		d.metrics = NoopMetrics{}
	}
	if d.clock == nil {
		d.clock = types.RealClock{}
	}
	if d.logger == nil {
		d.logger = NopLogger{}
	}
	return d
}

// Dispatch sends req on every channel of its level. A failing or panicking
// channel never stops its siblings. The attempt succeeds when at least one
// channel sent.
//
// The returned attempt is always non-nil. The error is non-nil only when the
// audit write failed; the sends have already happened by then.
func (d *Dispatcher) Dispatch(ctx context.Context, req DispatchRequest) (*types.DispatchAttempt, error) {
	attempt := &types.DispatchAttempt{
		TenantID:    req.TenantID,
		EntityKind:  req.Kind,
		EntityID:    req.EntityID,
		Step:        req.Level.Level,
		TemplateKey: string(req.Level.Template),
		Outcomes:    make([]types.ChannelOutcome, 0, len(req.Level.Channels)),
		CreatedAt:   d.clock.Now(),
	}

	for _, ch := range req.Level.Channels {
		out := d.sendChannel(ctx, req, ch)
		attempt.Outcomes = append(attempt.Outcomes, out)
		if out.Status == types.OutcomeSent {
			attempt.Success = true
		}
		d.metrics.RecordChannel(ctx, ch, out.Status)
	}
	d.metrics.RecordDispatch(ctx, req.Kind, attempt.Success)

	logger := d.logger.With(
		"tenant_id", req.TenantID,
		"entity_kind", string(req.Kind),
		"entity_id", req.EntityID,
		"step", req.Level.Level,
	)
	if attempt.Success {
		logger.Info("dispatch sent", "channels", len(attempt.Outcomes))
	} else {
		logger.Warn("dispatch failed on every channel", "channels", len(attempt.Outcomes))
	}

	var recordErr error
	if d.recorder != nil {
		id, err := d.recorder.RecordAttempt(ctx, attempt)
		if err != nil {
			logger.Error("failed to record dispatch attempt", "error", err.Error())
			recordErr = fmt.Errorf("recording dispatch attempt for %s: %w", req.EntityID, err)
		} else {
			attempt.ID = id
		}
	}

	if req.Level.NotifyOperator && d.operator != nil {
		alert := types.OperatorAlert{
			Kind:     "escalation",
			TenantID: req.TenantID,
			Severity: req.Level.Severity,
			Attempt:  attempt,
			RaisedAt: d.clock.Now(),
		}
		if err := d.operator.Publish(ctx, alert); err != nil {
			logger.Error("failed to notify operator", "error", err.Error())
		}
	}

	return attempt, recordErr
}

func (d *Dispatcher) sendChannel(ctx context.Context, req DispatchRequest, ch types.ChannelType) types.ChannelOutcome {
	out := types.ChannelOutcome{Channel: ch}

	recipient := req.Recipients[ch]
	if recipient == "" {
		out.Status = types.OutcomeSkipped
		out.Error = "no recipient for channel"
		return out
	}

	transport, ok := d.transports[ch]
	if !ok {
		out.Status = types.OutcomeFailed
		out.Error = errNoTransport.Error()
		return out
	}

	if l, ok := d.limiters[ch]; ok {
		if err := l.Wait(ctx); err != nil {
			out.Status = types.OutcomeFailed
			out.Error = fmt.Sprintf("rate limiter: %v", err)
			return out
		}
	}

	msg := types.Message{
		Channel:     ch,
		Recipient:   recipient,
		TemplateID:  req.Level.Template.TemplateID(ch),
		Context:     req.Context,
		ReferenceID: fmt.Sprintf("%s:%s:%d", req.Kind, req.EntityID, req.Level.Level),
	}

	res := safeSend(ctx, transport, msg)
	if res.Success {
		out.Status = types.OutcomeSent
		out.ProviderMessageID = res.ProviderMessageID
		return out
	}

	out.Status = types.OutcomeFailed
	if res.Err != nil {
		out.Error = res.Err.Error()
	} else {
		out.Error = "transport reported failure"
	}
	d.logger.Warn("channel send failed",
		"tenant_id", req.TenantID,
		"entity_id", req.EntityID,
		"channel", string(ch),
		"error", out.Error,
	)
	return out
}

func safeSend(ctx context.Context, t Transport, msg types.Message) (res types.SendResult) {
	defer func() {
		if r := recover(); r != nil {
			res = types.SendResult{
				Err: types.NewAppErrorWithDetails(types.ErrCodeInternalUnexpected,
					fmt.Sprintf("transport panicked: %v", r), nil,
					map[string]any{"stack": string(debug.Stack())}),
			}
		}
	}()
	return t.Send(ctx, msg)
}
