package proxy

import "sync/atomic"

// Handle is an opaque, process-unique identifier for a Proxy. It replaces
// the intrusive linked-list pointers of the original single-threaded
// design: callers look a Proxy up by Handle through the Engine rather than
// walking a list.
type Handle uint64

var handleCounter atomic.Uint64

func nextHandle() Handle {
	return Handle(handleCounter.Add(1))
}
