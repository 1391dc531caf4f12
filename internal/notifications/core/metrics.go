package core

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"escalator/internal/types"
)

// CloudWatchClient abstracts the CloudWatch PutMetricData operation for testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// Compile-time assertion that CloudWatchMetrics implements DispatchMetrics.
var _ DispatchMetrics = (*CloudWatchMetrics)(nil)

// CloudWatchMetrics emits fan-out and job metrics to CloudWatch.
//
// Metrics emitted:
//   - ChannelDelivery: Dims {Channel, Result} -- one per channel outcome
//   - Dispatch: Dims {EntityKind, Result} -- one per fan-out
//   - JobSent, JobErrors, JobSkipped, JobDuration: Dims {Job} -- one set per run
//   - TenantFailure: Dims {Job} -- tenants whose body failed in a run
//
// Metric failures are logged and never returned.
type CloudWatchMetrics struct {
	client    CloudWatchClient
	namespace string
	logger    types.Logger
}

// NewCloudWatchMetrics creates a CloudWatchMetrics. An empty namespace falls
// back to types.MetricNamespace.
func NewCloudWatchMetrics(client CloudWatchClient, namespace string, logger types.Logger) *CloudWatchMetrics {
	if namespace == "" {
		namespace = types.MetricNamespace
	}
	return &CloudWatchMetrics{
		client:    client,
		namespace: namespace,
		logger:    logger,
	}
}

// RecordChannel emits a ChannelDelivery datum, e.g.
//
//	Metric: ChannelDelivery, Dims: {Channel: "sms", Result: "failed"}
func (m *CloudWatchMetrics) RecordChannel(ctx context.Context, channel types.ChannelType, status types.OutcomeStatus) {
	m.put(ctx, cwtypes.MetricDatum{
		MetricName: aws.String(types.MetricChannelDelivery),
		Value:      aws.Float64(1),
		Unit:       cwtypes.StandardUnitCount,
		Dimensions: []cwtypes.Dimension{
			dim(types.DimChannel, string(channel)),
			dim(types.DimResult, string(status)),
		},
	})
}

// RecordDispatch emits a Dispatch datum with the overall result.
func (m *CloudWatchMetrics) RecordDispatch(ctx context.Context, kind types.EntityKind, success bool) {
	result := "failed"
	if success {
		result = "success"
	}
	m.put(ctx, cwtypes.MetricDatum{
		MetricName: aws.String(types.MetricDispatch),
		Value:      aws.Float64(1),
		Unit:       cwtypes.StandardUnitCount,
		Dimensions: []cwtypes.Dimension{
			dim(types.DimKind, string(kind)),
			dim(types.DimResult, result),
		},
	})
}

// ObserveRun emits the per-run counters of a finished job in one call.
func (m *CloudWatchMetrics) ObserveRun(ctx context.Context, r types.RunResult) {
	job := []cwtypes.Dimension{dim(types.DimJob, r.Job)}

	tenantFailures := 0
	for _, t := range r.Tenants {
		if t.Error != "" {
			tenantFailures++
		}
	}

	m.put(ctx,
		cwtypes.MetricDatum{MetricName: aws.String(types.MetricJobSent), Value: aws.Float64(float64(r.Sent)), Unit: cwtypes.StandardUnitCount, Dimensions: job},
		cwtypes.MetricDatum{MetricName: aws.String(types.MetricJobErrors), Value: aws.Float64(float64(r.Errors)), Unit: cwtypes.StandardUnitCount, Dimensions: job},
		cwtypes.MetricDatum{MetricName: aws.String(types.MetricJobSkipped), Value: aws.Float64(float64(r.Skipped)), Unit: cwtypes.StandardUnitCount, Dimensions: job},
		cwtypes.MetricDatum{MetricName: aws.String(types.MetricTenantFailure), Value: aws.Float64(float64(tenantFailures)), Unit: cwtypes.StandardUnitCount, Dimensions: job},
		cwtypes.MetricDatum{
			MetricName: aws.String(types.MetricJobDuration),
			Value:      aws.Float64(float64(r.FinishedAt.Sub(r.StartedAt).Milliseconds())),
			Unit:       cwtypes.StandardUnitMilliseconds,
			Dimensions: job,
		},
	)
}

func (m *CloudWatchMetrics) put(ctx context.Context, data ...cwtypes.MetricDatum) {
	input := &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(m.namespace),
		MetricData: data,
	}
	if _, err := m.client.PutMetricData(ctx, input); err != nil {
		m.logger.Error("failed to put metric data",
			"error", err.Error(),
			"metric", aws.ToString(data[0].MetricName),
			"count", len(data),
		)
	}
}

func dim(name, value string) cwtypes.Dimension {
	return cwtypes.Dimension{Name: aws.String(name), Value: aws.String(value)}
}

// NoopMetrics discards all metrics. Used when metrics are disabled.
type NoopMetrics struct{}

func (NoopMetrics) RecordChannel(context.Context, types.ChannelType, types.OutcomeStatus) {}
func (NoopMetrics) RecordDispatch(context.Context, types.EntityKind, bool)                {}
func (NoopMetrics) ObserveRun(context.Context, types.RunResult)                           {}

// NopLogger discards log output.
type NopLogger struct{}

func (NopLogger) Info(string, ...any)        {}
func (NopLogger) Error(string, ...any)       {}
func (NopLogger) Warn(string, ...any)        {}
func (l NopLogger) With(...any) types.Logger { return l }
