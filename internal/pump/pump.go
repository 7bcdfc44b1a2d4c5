// Package pump implements the bidirectional byte copier a Proxy detaches
// to once the pre-login dialog completes: from then on the core no longer
// parses anything, it just moves bytes between the client and the backend
// until one side closes.
package pump

import (
	"errors"
	"io"
	"sync"
)

// Side identifies which leg of the pump reported the finishing condition.
type Side int

const (
	// Client is the client-to-backend leg.
	Client Side = iota
	// Server is the backend-to-client leg.
	Server
)

func (s Side) String() string {
	if s == Client {
		return "client"
	}
	return "server"
}

// Result is delivered exactly once, to Finished, when the pump stops.
type Result struct {
	// Side is whichever leg's *write* failed (or hit EOF first): the pump
	// reports the writer side, not the reader side, since a read EOF on
	// one leg surfaces as a write error on the other once both copies are
	// torn down together.
	Side  Side
	Err   error
	Bytes int64
}

// Pump copies bytes in both directions between a client and a server
// connection until either side finishes, then closes both and reports
// once via Finished.
type Pump struct {
	client io.ReadWriteCloser
	server io.ReadWriteCloser

	once     sync.Once
	finished chan Result
}

// New constructs a Pump over the two already-connected endpoints.
func New(client, server io.ReadWriteCloser) *Pump {
	return &Pump{
		client:   client,
		server:   server,
		finished: make(chan Result, 1),
	}
}

// Start launches the two copy goroutines. Finished will receive exactly
// one Result once both directions have stopped.
func (p *Pump) Start() {
	var (
		mu        sync.Mutex
		c2sBytes  int64
		s2cBytes  int64
		c2sErr    error
		s2cErr    error
		done      = make(chan Side, 2)
	)

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		n, err := io.Copy(p.server, p.client)
		mu.Lock()
		c2sBytes, c2sErr = n, err
		mu.Unlock()
		done <- Client
	}()

	go func() {
		defer wg.Done()
		n, err := io.Copy(p.client, p.server)
		mu.Lock()
		s2cBytes, s2cErr = n, err
		mu.Unlock()
		done <- Server
	}()

	go func() {
		first := <-done
		p.client.Close()
		p.server.Close()
		wg.Wait()

		mu.Lock()
		defer mu.Unlock()

		// Whichever direction's io.Copy returned first triggered the
		// closes that unblocked the other; report that one, since its
		// error (or nil-on-EOF) is the actual cause.
		side, err, n := Client, c2sErr, c2sBytes
		if first == Server {
			side, err, n = Server, s2cErr, s2cBytes
		}
		if errors.Is(err, io.EOF) {
			err = nil
		}
		p.once.Do(func() {
			p.finished <- Result{Side: side, Err: err, Bytes: n}
			close(p.finished)
		})
	}()
}

// Finished is closed after the single Result has been delivered.
func (p *Pump) Finished() <-chan Result { return p.finished }
