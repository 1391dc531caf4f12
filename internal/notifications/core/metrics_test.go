package core

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"escalator/internal/types"
)

// mockCloudWatchClient records PutMetricData calls for verification.
type mockCloudWatchClient struct {
	calls     []*cloudwatch.PutMetricDataInput
	returnErr error
}

func (m *mockCloudWatchClient) PutMetricData(_ context.Context, params *cloudwatch.PutMetricDataInput, _ ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error) {
	m.calls = append(m.calls, params)
	if m.returnErr != nil {
		return nil, m.returnErr
	}
	return &cloudwatch.PutMetricDataOutput{}, nil
}

func assertDimension(t *testing.T, dims []cwtypes.Dimension, name, value string) {
	t.Helper()
	for _, d := range dims {
		if *d.Name == name {
			if *d.Value != value {
				t.Errorf("dimension %s: expected %q, got %q", name, value, *d.Value)
			}
			return
		}
	}
	t.Errorf("dimension %s not found", name)
}

func TestCloudWatchMetrics_RecordChannel(t *testing.T) {
	cw := &mockCloudWatchClient{}
	metrics := NewCloudWatchMetrics(cw, "", &mockLogger{})

	metrics.RecordChannel(context.Background(), types.ChannelSMS, types.OutcomeFailed)

	if len(cw.calls) != 1 {
		t.Fatalf("expected 1 PutMetricData call, got %d", len(cw.calls))
	}
	input := cw.calls[0]
	if *input.Namespace != types.MetricNamespace {
		t.Errorf("expected namespace %q, got %q", types.MetricNamespace, *input.Namespace)
	}
	datum := input.MetricData[0]
	if *datum.MetricName != types.MetricChannelDelivery {
		t.Errorf("expected metric name %q, got %q", types.MetricChannelDelivery, *datum.MetricName)
	}
	if datum.Unit != cwtypes.StandardUnitCount {
		t.Errorf("expected unit Count, got %s", datum.Unit)
	}
	assertDimension(t, datum.Dimensions, types.DimChannel, "sms")
	assertDimension(t, datum.Dimensions, types.DimResult, "failed")
}

func TestCloudWatchMetrics_RecordDispatch(t *testing.T) {
	cw := &mockCloudWatchClient{}
	metrics := NewCloudWatchMetrics(cw, "Escalator/Test", &mockLogger{})

	metrics.RecordDispatch(context.Background(), types.EntityAppointment, true)

	if *cw.calls[0].Namespace != "Escalator/Test" {
		t.Errorf("expected custom namespace, got %q", *cw.calls[0].Namespace)
	}
	datum := cw.calls[0].MetricData[0]
	assertDimension(t, datum.Dimensions, types.DimKind, "appointment")
	assertDimension(t, datum.Dimensions, types.DimResult, "success")
}

func TestCloudWatchMetrics_ObserveRun(t *testing.T) {
	cw := &mockCloudWatchClient{}
	metrics := NewCloudWatchMetrics(cw, "", &mockLogger{})

	start := time.Date(2026, 2, 11, 9, 0, 0, 0, time.UTC)
	metrics.ObserveRun(context.Background(), types.RunResult{
		Job:        "invoice-dunning",
		StartedAt:  start,
		FinishedAt: start.Add(1500 * time.Millisecond),
		Sent:       4,
		Errors:     2,
		Skipped:    1,
		Tenants: []types.TenantResult{
			{TenantID: "a", Error: "boom"},
			{TenantID: "b", Sent: 4},
		},
	})

	if len(cw.calls) != 1 {
		t.Fatalf("expected a single batched call, got %d", len(cw.calls))
	}
	got := map[string]float64{}
	for _, d := range cw.calls[0].MetricData {
		got[*d.MetricName] = *d.Value
		assertDimension(t, d.Dimensions, types.DimJob, "invoice-dunning")
	}
	want := map[string]float64{
		types.MetricJobSent:       4,
		types.MetricJobErrors:     2,
		types.MetricJobSkipped:    1,
		types.MetricTenantFailure: 1,
		types.MetricJobDuration:   1500,
	}
	for name, v := range want {
		if got[name] != v {
			t.Errorf("%s: expected %v, got %v", name, v, got[name])
		}
	}
}

func TestCloudWatchMetrics_ErrorIsSwallowed(t *testing.T) {
	cw := &mockCloudWatchClient{returnErr: fmt.Errorf("throttled")}
	metrics := NewCloudWatchMetrics(cw, "", &mockLogger{})

	// Must not panic or block.
	metrics.RecordChannel(context.Background(), types.ChannelEmail, types.OutcomeSent)
	if len(cw.calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(cw.calls))
	}
}
