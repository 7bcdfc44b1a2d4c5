package proxy

// Metrics is the optional observability seam; internal/metrics implements
// it over Prometheus collectors. A nil Metrics on Engine is a no-op.
type Metrics interface {
	ConnectAttempt()
	ConnectSuccess()
	Reconnect()
	Redirect(loop bool)
	Detached()
	Finished()
	DisconnectDelayed(seconds float64)
}

type noopMetrics struct{}

func (noopMetrics) ConnectAttempt()             {}
func (noopMetrics) ConnectSuccess()             {}
func (noopMetrics) Reconnect()                  {}
func (noopMetrics) Redirect(bool)               {}
func (noopMetrics) Detached()                   {}
func (noopMetrics) Finished()                   {}
func (noopMetrics) DisconnectDelayed(float64)   {}
