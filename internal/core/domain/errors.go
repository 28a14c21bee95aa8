package domain

// ErrorKind classifies a failed provider call or job step.
type ErrorKind string

const (
	KindAuthentication ErrorKind = "authentication"
	KindRateLimit      ErrorKind = "rate_limit"
	KindNetwork        ErrorKind = "network"
	KindValidation     ErrorKind = "validation"
	KindFileSystem     ErrorKind = "file_system"
	KindProvider       ErrorKind = "provider"
	KindConfiguration  ErrorKind = "configuration"

	// KindBreakerOpen marks a job the dispatcher chose not to send.
	// It is never produced by the classifier.
	KindBreakerOpen ErrorKind = "breaker_open"
	// KindCancelled marks a job stopped by the batch stop signal.
	KindCancelled ErrorKind = "cancelled"
)

// AllKinds lists the classifier kinds in rule order.
var AllKinds = []ErrorKind{
	KindAuthentication,
	KindRateLimit,
	KindNetwork,
	KindValidation,
	KindFileSystem,
	KindProvider,
	KindConfiguration,
}

// Severity is reporting emphasis only. It never drives control flow.
type Severity string

const (
	SeverityHigh   Severity = "high"
	SeverityMedium Severity = "medium"
)

// Severity returns the reporting severity of the kind.
func (k ErrorKind) Severity() Severity {
	switch k {
	case KindAuthentication, KindProvider, KindConfiguration:
		return SeverityHigh
	default:
		return SeverityMedium
	}
}

// Transient reports whether the kind may succeed on a later attempt.
func (k ErrorKind) Transient() bool {
	switch k {
	case KindRateLimit, KindNetwork, KindProvider, KindFileSystem:
		return true
	default:
		return false
	}
}
