package exposition

import (
	"io"
	"strings"
	"time"

	"github.com/SeanFellowes/TelemetryCore/pkg/envelope"
)

// ContentType is the HTTP content type of a rendered payload.
const ContentType = "text/plain; version=0.0.4; charset=utf-8"

// Built-in metric families.
const (
	HealthMetricName    = "system_health_status"
	HeartbeatMetricName = "heartbeat_age_seconds"
)

const (
	healthHelp    = "System health status (1=green, 0.5=yellow, 0=red)."
	heartbeatHelp = "Seconds since the envelope snapshot was taken."
	gaugeHelp     = "Generic gauge from telemetry envelope."
	counterHelp   = "Generic counter from telemetry envelope."

	typeGauge   = "gauge"
	typeCounter = "counter"
)

// Clock supplies the reference time for heartbeat ages.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

// Now implements Clock.
func (f ClockFunc) Now() time.Time { return f() }

// SystemClock reads the wall clock.
var SystemClock Clock = ClockFunc(time.Now)

// Option configures a Renderer.
type Option func(*Renderer)

// WithClock sets the clock used to capture the reference time of each render
// call. The default is SystemClock.
func WithClock(c Clock) Option {
	return func(r *Renderer) {
		if c != nil {
			r.clock = c
		}
	}
}

// WithGroupedFamilies makes the renderer emit every metric family once, with
// the samples of all envelopes grouped under a single HELP/TYPE header.
func WithGroupedFamilies() Option {
	return func(r *Renderer) {
		r.grouped = true
	}
}

// Renderer renders envelopes against an injected clock. A Renderer is
// immutable after construction and safe for concurrent use.
type Renderer struct {
	clock   Clock
	grouped bool
}

// NewRenderer creates a renderer.
func NewRenderer(opts ...Option) *Renderer {
	r := &Renderer{clock: SystemClock}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Grouped reports whether the renderer groups families across envelopes.
func (r *Renderer) Grouped() bool {
	return r.grouped
}

// Render captures the current time once and renders envs against it.
func (r *Renderer) Render(envs ...envelope.Envelope) string {
	now := r.clock.Now()
	if r.grouped {
		return RenderGrouped(now, envs...)
	}
	return Render(now, envs...)
}

// RenderTo renders envs and writes the payload to w.
func (r *Renderer) RenderTo(w io.Writer, envs ...envelope.Envelope) (int64, error) {
	n, err := io.WriteString(w, r.Render(envs...))
	return int64(n), err
}

// Render renders envs in the canonical layout: every envelope contributes its
// own HELP/TYPE headers followed by its samples. now is the reference time for
// heartbeat ages.
func Render(now time.Time, envs ...envelope.Envelope) string {
	if len(envs) == 0 {
		return ""
	}
	out := &streamWriter{}
	for i := range envs {
		renderEnvelope(out, now, &envs[i])
	}
	return out.b.String()
}

// RenderGrouped renders envs with one HELP/TYPE header per metric name.
// Families appear in the order they are first seen; samples keep envelope
// order within a family. When a gauge and a counter render under the same
// name, the first one seen decides the family's HELP and TYPE.
func RenderGrouped(now time.Time, envs ...envelope.Envelope) string {
	if len(envs) == 0 {
		return ""
	}
	out := &groupWriter{index: make(map[string]*family)}
	for i := range envs {
		renderEnvelope(out, now, &envs[i])
	}
	return out.String()
}

// familyWriter receives the rendered pieces of an envelope. Every sample
// belongs to the family announced most recently.
type familyWriter interface {
	family(name, help, typ string)
	sample(name, labels, value string)
}

func renderEnvelope(out familyWriter, now time.Time, e *envelope.Envelope) {
	labels := labelBlock(e)

	out.family(HealthMetricName, healthHelp, typeGauge)
	if e.HealthStatus != nil {
		out.sample(HealthMetricName, labels, FormatValue(*e.HealthStatus))
	}

	out.family(HeartbeatMetricName, heartbeatHelp, typeGauge)
	if !e.Utc.IsZero() {
		out.sample(HeartbeatMetricName, labels, FormatAge(now.Sub(e.Utc)))
	}

	for name, v := range e.Gauges.All() {
		metric := GaugeMetricName(name)
		out.family(metric, gaugeHelp, typeGauge)
		out.sample(metric, labels, FormatValue(v))
	}

	for name, v := range e.Counters.All() {
		metric := CounterMetricName(name)
		out.family(metric, counterHelp, typeCounter)
		out.sample(metric, labels, FormatCount(v))
	}
}

func labelBlock(e *envelope.Envelope) string {
	var b strings.Builder
	b.WriteString(`{system="`)
	b.WriteString(EscapeLabelValue(e.System))
	b.WriteString(`",env="`)
	b.WriteString(EscapeLabelValue(e.Env))
	b.WriteString(`",instance="`)
	b.WriteString(EscapeLabelValue(e.InstanceOrDefault()))
	b.WriteString(`",host="`)
	b.WriteString(EscapeLabelValue(e.Host))
	b.WriteString(`",version="`)
	b.WriteString(EscapeLabelValue(e.Version))
	b.WriteString(`"}`)
	return b.String()
}

func writeHeader(b *strings.Builder, name, help, typ string) {
	b.WriteString("# HELP ")
	b.WriteString(name)
	b.WriteByte(' ')
	b.WriteString(help)
	b.WriteString("\n# TYPE ")
	b.WriteString(name)
	b.WriteByte(' ')
	b.WriteString(typ)
	b.WriteByte('\n')
}

func writeSample(b *strings.Builder, name, labels, value string) {
	b.WriteString(name)
	b.WriteString(labels)
	b.WriteByte(' ')
	b.WriteString(value)
	b.WriteByte('\n')
}

type streamWriter struct {
	b strings.Builder
}

func (w *streamWriter) family(name, help, typ string) {
	writeHeader(&w.b, name, help, typ)
}

func (w *streamWriter) sample(name, labels, value string) {
	writeSample(&w.b, name, labels, value)
}

// family collects the samples rendered under one metric name. The help text
// and type are those of the first envelope entry that announced the name, so
// a counter that normalizes onto a gauge's name is reported under the gauge.
type family struct {
	help    string
	typ     string
	samples strings.Builder
}

type groupWriter struct {
	order   []string
	index   map[string]*family
	current *family
}

func (w *groupWriter) family(name, help, typ string) {
	f, ok := w.index[name]
	if !ok {
		f = &family{help: help, typ: typ}
		w.index[name] = f
		w.order = append(w.order, name)
	}
	w.current = f
}

func (w *groupWriter) sample(name, labels, value string) {
	writeSample(&w.current.samples, name, labels, value)
}

func (w *groupWriter) String() string {
	var b strings.Builder
	for _, name := range w.order {
		f := w.index[name]
		writeHeader(&b, name, f.help, f.typ)
		b.WriteString(f.samples.String())
	}
	return b.String()
}
