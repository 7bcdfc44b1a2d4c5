package metrics

// NoopCollector is a no-op implementation of the Collector interface. All
// methods are empty stubs that do nothing.
type NoopCollector struct{}

func (n *NoopCollector) ConnectAttempt()                {}
func (n *NoopCollector) ConnectSuccess()                {}
func (n *NoopCollector) Reconnect()                     {}
func (n *NoopCollector) Redirect(loop bool)             {}
func (n *NoopCollector) Detached()                      {}
func (n *NoopCollector) Finished()                      {}
func (n *NoopCollector) DisconnectDelayed(seconds float64) {}
