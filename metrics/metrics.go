// Package metrics provides lightweight, lock-free counters and gauges
// for tracking socket activity, optionally mirrored into OpenTelemetry
// instruments.
//
// All methods are safe for concurrent use.  A nil *Collector is a
// valid no-op receiver, so callers never need to nil-check.
package metrics

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	json "github.com/goccy/go-json"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Collector tracks runtime metrics for the sockets of a process.
// A nil Collector is safe to use; all methods become no-ops.
type Collector struct {
	connectionsActive atomic.Int64
	connectionsTotal  atomic.Int64
	connectFailures   atomic.Int64
	bytesIn           atomic.Int64
	bytesOut          atomic.Int64
	tlsUpgrades       atomic.Int64
	errorsTotal       atomic.Int64

	mu           sync.RWMutex
	startTime    time.Time
	lastError    time.Time
	lastErrorMsg string

	inst *instruments
}

// instruments mirrors the counters into an OpenTelemetry meter.
type instruments struct {
	connections metric.Int64UpDownCounter
	opened      metric.Int64Counter
	failures    metric.Int64Counter
	bytes       metric.Int64Counter
	upgrades    metric.Int64Counter
	errors      metric.Int64Counter
}

// New creates a metrics collector with the start time set to now.
func New() *Collector {
	return &Collector{startTime: time.Now()}
}

// WithMeter registers OpenTelemetry instruments on meter and mirrors
// every subsequent observation into them.
func (c *Collector) WithMeter(meter metric.Meter) (*Collector, error) {
	if c == nil || meter == nil {
		return c, nil
	}
	var (
		inst instruments
		err  error
	)
	if inst.connections, err = meter.Int64UpDownCounter("tcpsock_connections_active",
		metric.WithDescription("Sockets currently open"),
		metric.WithUnit("{connection}")); err != nil {
		return c, err
	}
	if inst.opened, err = meter.Int64Counter("tcpsock_connections_opened",
		metric.WithDescription("Sockets that reached the open state"),
		metric.WithUnit("{connection}")); err != nil {
		return c, err
	}
	if inst.failures, err = meter.Int64Counter("tcpsock_connect_failures",
		metric.WithDescription("Connect or handshake attempts that failed"),
		metric.WithUnit("{connection}")); err != nil {
		return c, err
	}
	if inst.bytes, err = meter.Int64Counter("tcpsock_bytes",
		metric.WithDescription("Bytes moved through socket streams by direction"),
		metric.WithUnit("By")); err != nil {
		return c, err
	}
	if inst.upgrades, err = meter.Int64Counter("tcpsock_tls_upgrades",
		metric.WithDescription("Successful in-place TLS upgrades"),
		metric.WithUnit("{upgrade}")); err != nil {
		return c, err
	}
	if inst.errors, err = meter.Int64Counter("tcpsock_errors",
		metric.WithDescription("Terminal socket errors"),
		metric.WithUnit("{error}")); err != nil {
		return c, err
	}
	c.mu.Lock()
	c.inst = &inst
	c.mu.Unlock()
	return c, nil
}

func (c *Collector) loadInstruments() *instruments {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.inst
}

// ── Connection metrics ───────────────────────────────────────────────

// ConnectionOpened increments both the active and total counters.
func (c *Collector) ConnectionOpened(secure bool) {
	if c == nil {
		return
	}
	c.connectionsActive.Add(1)
	c.connectionsTotal.Add(1)
	if inst := c.loadInstruments(); inst != nil {
		attrs := metric.WithAttributes(attribute.Bool("tls", secure))
		inst.connections.Add(context.Background(), 1, attrs)
		inst.opened.Add(context.Background(), 1, attrs)
	}
}

// ConnectionClosed decrements the active connection counter.
func (c *Collector) ConnectionClosed(secure bool) {
	if c == nil {
		return
	}
	c.connectionsActive.Add(-1)
	if inst := c.loadInstruments(); inst != nil {
		inst.connections.Add(context.Background(), -1,
			metric.WithAttributes(attribute.Bool("tls", secure)))
	}
}

// ConnectFailed records a dial or handshake failure.
func (c *Collector) ConnectFailed() {
	if c == nil {
		return
	}
	c.connectFailures.Add(1)
	if inst := c.loadInstruments(); inst != nil {
		inst.failures.Add(context.Background(), 1)
	}
}

// ActiveConnections returns the current number of open connections.
func (c *Collector) ActiveConnections() int64 {
	if c == nil {
		return 0
	}
	return c.connectionsActive.Load()
}

// TotalConnections returns the lifetime connection count.
func (c *Collector) TotalConnections() int64 {
	if c == nil {
		return 0
	}
	return c.connectionsTotal.Load()
}

// ConnectFailures returns the number of failed connection attempts.
func (c *Collector) ConnectFailures() int64 {
	if c == nil {
		return 0
	}
	return c.connectFailures.Load()
}

// ── I/O metrics ──────────────────────────────────────────────────────

// BytesReceived records n bytes delivered to a reader.
func (c *Collector) BytesReceived(n int64) {
	if c == nil || n <= 0 {
		return
	}
	c.bytesIn.Add(n)
	if inst := c.loadInstruments(); inst != nil {
		inst.bytes.Add(context.Background(), n,
			metric.WithAttributes(attribute.String("direction", "in")))
	}
}

// BytesSent records n bytes accepted by the transport.
func (c *Collector) BytesSent(n int64) {
	if c == nil || n <= 0 {
		return
	}
	c.bytesOut.Add(n)
	if inst := c.loadInstruments(); inst != nil {
		inst.bytes.Add(context.Background(), n,
			metric.WithAttributes(attribute.String("direction", "out")))
	}
}

// TotalBytesIn returns total bytes received.
func (c *Collector) TotalBytesIn() int64 {
	if c == nil {
		return 0
	}
	return c.bytesIn.Load()
}

// TotalBytesOut returns total bytes sent.
func (c *Collector) TotalBytesOut() int64 {
	if c == nil {
		return 0
	}
	return c.bytesOut.Load()
}

// ── TLS metrics ──────────────────────────────────────────────────────

// TLSUpgraded records a completed STARTTLS upgrade.
func (c *Collector) TLSUpgraded() {
	if c == nil {
		return
	}
	c.tlsUpgrades.Add(1)
	if inst := c.loadInstruments(); inst != nil {
		inst.upgrades.Add(context.Background(), 1)
	}
}

// TLSUpgrades returns the number of completed STARTTLS upgrades.
func (c *Collector) TLSUpgrades() int64 {
	if c == nil {
		return 0
	}
	return c.tlsUpgrades.Load()
}

// ── Error metrics ────────────────────────────────────────────────────

// RecordError increments the error counter and stores the message.
func (c *Collector) RecordError(msg string) {
	if c == nil {
		return
	}
	c.errorsTotal.Add(1)
	c.mu.Lock()
	c.lastError = time.Now()
	c.lastErrorMsg = msg
	inst := c.inst
	c.mu.Unlock()
	if inst != nil {
		inst.errors.Add(context.Background(), 1)
	}
}

// ErrorCount returns the total number of errors recorded.
func (c *Collector) ErrorCount() int64 {
	if c == nil {
		return 0
	}
	return c.errorsTotal.Load()
}

// ── Snapshot ─────────────────────────────────────────────────────────

// Snapshot is a point-in-time view of all metrics.
type Snapshot struct {
	Uptime            string `json:"uptime"`
	ConnectionsActive int64  `json:"connections_active"`
	ConnectionsTotal  int64  `json:"connections_total"`
	ConnectFailures   int64  `json:"connect_failures"`
	BytesIn           int64  `json:"bytes_in"`
	BytesOut          int64  `json:"bytes_out"`
	TLSUpgrades       int64  `json:"tls_upgrades"`
	ErrorsTotal       int64  `json:"errors_total"`
	LastError         string `json:"last_error,omitempty"`
	LastErrorMessage  string `json:"last_error_message,omitempty"`
}

// Snapshot returns a copy of all current metrics.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := Snapshot{
		Uptime:            time.Since(c.startTime).Truncate(time.Second).String(),
		ConnectionsActive: c.connectionsActive.Load(),
		ConnectionsTotal:  c.connectionsTotal.Load(),
		ConnectFailures:   c.connectFailures.Load(),
		BytesIn:           c.bytesIn.Load(),
		BytesOut:          c.bytesOut.Load(),
		TLSUpgrades:       c.tlsUpgrades.Load(),
		ErrorsTotal:       c.errorsTotal.Load(),
	}
	if !c.lastError.IsZero() {
		s.LastError = c.lastError.Format(time.RFC3339)
		s.LastErrorMessage = c.lastErrorMsg
	}
	return s
}

// JSON returns the snapshot as an indented JSON string.
func (c *Collector) JSON() string {
	s := c.Snapshot()
	data, _ := json.MarshalIndent(s, "", "  ")
	return string(data)
}
