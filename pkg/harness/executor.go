package harness

import (
	"context"
	"net"
	"time"
)

// Executor delivers single cases to the target endpoint. It is stateless
// between cases: every Execute call opens its own connection and closes it
// before returning, so no connection ever outlives one case.
type Executor struct {
	target      Endpoint
	dialTimeout time.Duration
	linger      time.Duration
}

// NewExecutor creates an executor for the configured target.
func NewExecutor(cfg Config) *Executor {
	return &Executor{
		target:      cfg.Target,
		dialTimeout: cfg.DialTimeout,
		linger:      cfg.Linger,
	}
}

// Execute sends data over a fresh connection. Any network error results in
// a failed Outcome, never a panic: a single bad case must not derail the
// fuzzing loop. data may be empty and is only borrowed for the call.
func (e *Executor) Execute(ctx context.Context, data []byte) Outcome {
	start := time.Now()

	d := net.Dialer{Timeout: e.dialTimeout}
	conn, err := d.DialContext(ctx, "tcp", e.target.Addr())
	if err != nil {
		return Outcome{Err: err, Duration: time.Since(start)}
	}
	defer conn.Close()

	// Best effort: partial sends are accepted and never retried
	n, err := conn.Write(data)
	if err != nil {
		return Outcome{Sent: n, Err: err, Duration: time.Since(start)}
	}

	// Leave the connection up briefly so the target can act on the bytes
	// before teardown
	if e.linger > 0 {
		select {
		case <-ctx.Done():
		case <-time.After(e.linger):
		}
	}

	return Outcome{OK: true, Sent: n, Duration: time.Since(start)}
}

// Probe checks whether the target endpoint currently accepts connections.
func (e *Executor) Probe(ctx context.Context) error {
	d := net.Dialer{Timeout: e.dialTimeout}
	conn, err := d.DialContext(ctx, "tcp", e.target.Addr())
	if err != nil {
		return err
	}
	return conn.Close()
}
