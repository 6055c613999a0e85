// Package collector builds the envelope a telemetrycore host reports about
// itself: process uptime, Go runtime memory and scheduler figures, and a
// scrape counter.
package collector

import (
	"math"
	"os"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/SeanFellowes/TelemetryCore/pkg/envelope"
)

// Metric names emitted by Collect.
const (
	UptimeGauge     = "process_uptime_seconds"
	HeapAllocGauge  = "go_memstats_heap_alloc_bytes"
	StackInuseGauge = "go_memstats_stack_inuse_bytes"
	GoroutinesGauge = "go_goroutines"
	ScrapesCounter  = "telemetrycore_scrapes_total"
	GCCyclesCounter = "go_gc_cycles"
	RunIDTag        = "run_id"
	GoVersionTag    = "go_version"
	unknownHostname = "unknown"
)

// Identity names the emitting system.
type Identity struct {
	System   string
	Env      string
	Instance string
	Version  string
}

// Option configures a Collector.
type Option func(*Collector)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Collector) {
		if now != nil {
			c.now = now
		}
	}
}

// WithHostname overrides the host name reported in envelopes.
func WithHostname(name string) Option {
	return func(c *Collector) {
		c.hostname = name
	}
}

// Collector produces a fresh envelope on every call to Collect. It is safe
// for concurrent use.
type Collector struct {
	identity Identity
	hostname string
	runID    string
	now      func() time.Time
	started  time.Time

	scrapes    atomic.Int64
	healthBits atomic.Uint64
}

// New creates a collector. The process is considered started when New is
// called and starts out healthy.
func New(id Identity, opts ...Option) *Collector {
	c := &Collector{
		identity: id,
		runID:    uuid.NewString(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.hostname == "" {
		host, err := os.Hostname()
		if err != nil || host == "" {
			host = unknownHostname
		}
		c.hostname = host
	}
	c.started = c.now()
	c.SetHealth(envelope.HealthGreen)
	return c
}

// RunID identifies this process run. It is reported as a tag.
func (c *Collector) RunID() string {
	return c.runID
}

// SetHealth changes the health status reported by subsequent envelopes.
func (c *Collector) SetHealth(v float64) {
	c.healthBits.Store(math.Float64bits(v))
}

// Health returns the current health status.
func (c *Collector) Health() float64 {
	return math.Float64frombits(c.healthBits.Load())
}

// Collect builds a new envelope describing the process right now.
func (c *Collector) Collect() envelope.Envelope {
	now := c.now()
	scrapes := c.scrapes.Add(1)

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	e := envelope.New(c.identity.System, c.identity.Env, c.identity.Instance, now)
	e.Host = c.hostname
	e.Version = c.identity.Version
	e.SetHealth(c.Health())

	e.SetGauge(UptimeGauge, now.Sub(c.started).Seconds())
	e.SetGauge(HeapAllocGauge, float64(mem.HeapAlloc))
	e.SetGauge(StackInuseGauge, float64(mem.StackInuse))
	e.SetGauge(GoroutinesGauge, float64(runtime.NumGoroutine()))

	e.AddCounter(ScrapesCounter, scrapes)
	e.AddCounter(GCCyclesCounter, int64(mem.NumGC))

	e.SetTag(RunIDTag, c.runID)
	e.SetTag(GoVersionTag, runtime.Version())
	return e
}
