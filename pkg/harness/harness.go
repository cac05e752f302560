// Package harness delivers fuzz cases to a network service under test. Each
// case travels over a fresh TCP connection to a fixed endpoint; the harness
// never interprets the target's protocol, it only observes whether the
// network operations succeed.
package harness

import (
	"net"
	"strconv"
	"time"

	"github.com/spf13/viper"
)

// Endpoint identifies the server under test. It is fixed at configuration
// time and shared read-only.
type Endpoint struct {
	Host string
	Port int
}

// Addr returns the host:port dial address, with IPv6 literals bracketed.
func (e Endpoint) Addr() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// Config holds the harness options, resolved once at startup and then
// treated as immutable.
type Config struct {
	Target Endpoint

	// DialTimeout bounds connection establishment per case.
	DialTimeout time.Duration
	// Linger is how long a connection stays open after the send, giving the
	// target time to act on the bytes before teardown.
	Linger time.Duration

	// StartupDelay is waited before the first readiness probe, covering the
	// target's expected startup time.
	StartupDelay time.Duration
	// ReadyTimeout bounds the probe-with-backoff phase; when it lapses the
	// run proceeds anyway and relies on per-case connection errors.
	ReadyTimeout time.Duration
	// ReadyBackoff and ReadyMaxBackoff shape the probe retry interval.
	ReadyBackoff    time.Duration
	ReadyMaxBackoff time.Duration

	// Workers is the number of concurrent delivery workers. Each worker
	// delivers its cases strictly sequentially.
	Workers int
}

// DefaultConfig resolves the harness configuration from viper.
func DefaultConfig() Config {
	return Config{
		Target: Endpoint{
			Host: viper.GetString("target.host"),
			Port: viper.GetInt("target.port"),
		},
		DialTimeout:     time.Duration(viper.GetInt("delivery.dial_timeout")) * time.Millisecond,
		Linger:          time.Duration(viper.GetInt("delivery.linger")) * time.Millisecond,
		StartupDelay:    time.Duration(viper.GetInt("readiness.startup_delay")) * time.Millisecond,
		ReadyTimeout:    time.Duration(viper.GetInt("readiness.timeout")) * time.Millisecond,
		ReadyBackoff:    time.Duration(viper.GetInt("readiness.backoff")) * time.Millisecond,
		ReadyMaxBackoff: time.Duration(viper.GetInt("readiness.max_backoff")) * time.Millisecond,
		Workers:         viper.GetInt("engine.workers"),
	}
}

// Outcome is the observable result of delivering one case. The engine only
// consumes OK; the rest is kept for diagnostics and tests.
type Outcome struct {
	OK       bool
	Sent     int
	Err      error
	Duration time.Duration
}
