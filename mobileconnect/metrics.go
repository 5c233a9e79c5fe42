package mobileconnect

// MetricsCollector receives flow outcome counters.
// All methods must be safe for concurrent use.
// Implementations must never log or store tokens, claims or subscriber ids.
type MetricsCollector interface {
	ValidationOK()
	ValidationFailed(reason string)
	// DiscoveryResult is called once per discovery call with the status
	// kind it produced.
	DiscoveryResult(kind Kind, cached bool)
	FlowError(code string)
}

type noopMetrics struct{}

func (noopMetrics) ValidationOK()              {}
func (noopMetrics) ValidationFailed(string)    {}
func (noopMetrics) DiscoveryResult(Kind, bool) {}
func (noopMetrics) FlowError(string)           {}
