package types

// Telemetry metric names for CloudWatch.
const (
	// Metric Names
	MetricChannelDelivery = "ChannelDelivery"
	MetricDispatch        = "Dispatch"
	MetricJobSent         = "JobSent"
	MetricJobErrors       = "JobErrors"
	MetricJobSkipped      = "JobSkipped"
	MetricJobDuration     = "JobDuration"
	MetricTenantFailure   = "TenantFailure"

	// Dimension Keys
	DimChannel = "Channel"
	DimResult  = "Result"
	DimJob     = "Job"
	DimKind    = "EntityKind"

	// MetricNamespace is the default CloudWatch namespace.
	MetricNamespace = "Escalator"
)
