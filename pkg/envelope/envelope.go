package envelope

import (
	"maps"
	"strings"
	"time"
)

// CurrentSchemaVersion is stamped on envelopes built with New. Fields are only
// ever added to the schema, never repurposed.
const CurrentSchemaVersion = 1

// Health status values understood by dashboards and the renderer.
const (
	HealthGreen  = 1.0
	HealthYellow = 0.5
	HealthRed    = 0.0
)

// DefaultInstance stands in for an empty Instance in topics and labels.
const DefaultInstance = "default"

// Envelope is one telemetry snapshot.
type Envelope struct {
	// System is the logical emitter name. Case is preserved.
	System string `json:"system,omitempty"`
	// Env is a short stable environment identifier (DEV, TEST, PROD, ...).
	Env string `json:"env,omitempty"`
	// Instance optionally partitions a system within an environment.
	Instance string `json:"instance,omitempty"`
	Host     string `json:"host,omitempty"`
	Version  string `json:"version,omitempty"`
	// Utc is the snapshot time. The zero value means "no timestamp".
	Utc time.Time `json:"utc,omitzero"`
	// HealthStatus is 1 (green), 0.5 (yellow) or 0 (red); nil when unknown.
	HealthStatus *float64 `json:"healthStatus,omitempty"`

	Gauges   Gauges   `json:"gauges,omitzero"`
	Counters Counters `json:"counters,omitzero"`

	// Tags carry free-form context for higher-level tooling. They are never
	// rendered into the exposition format.
	Tags map[string]string `json:"tags,omitempty"`

	SchemaVersion int `json:"schemaVersion,omitempty"`
}

// New returns an empty envelope stamped with at (converted to UTC).
func New(system, env, instance string, at time.Time) Envelope {
	e := Envelope{
		System:        system,
		Env:           env,
		Instance:      instance,
		SchemaVersion: CurrentSchemaVersion,
	}
	if !at.IsZero() {
		e.Utc = at.UTC()
	}
	return e
}

// Health returns a pointer to v, for use as an Envelope.HealthStatus.
func Health(v float64) *float64 {
	return &v
}

// Key returns the stable identity "System|Env|Instance", with "-" standing in
// for an empty instance.
func (e Envelope) Key() string {
	instance := e.Instance
	if instance == "" {
		instance = "-"
	}
	return e.System + "|" + e.Env + "|" + instance
}

// Topic returns the derived routing topic
// "monitoring.<lower(system)>.<env>.<instance>". It is never serialized.
func (e Envelope) Topic() string {
	return "monitoring." + strings.ToLower(e.System) + "." + e.Env + "." + e.InstanceOrDefault()
}

// InstanceOrDefault returns Instance, or DefaultInstance when it is empty.
func (e Envelope) InstanceOrDefault() string {
	if e.Instance == "" {
		return DefaultInstance
	}
	return e.Instance
}

// SetHealth records a health status.
func (e *Envelope) SetHealth(v float64) {
	e.HealthStatus = Health(v)
}

// ClearHealth marks the health status as unknown.
func (e *Envelope) ClearHealth() {
	e.HealthStatus = nil
}

// SetGauge records a gauge value.
func (e *Envelope) SetGauge(name string, v float64) {
	e.Gauges.Set(name, v)
}

// AddCounter increments a counter by delta.
func (e *Envelope) AddCounter(name string, delta int64) {
	e.Counters.Add(name, delta)
}

// SetTag records a context tag.
func (e *Envelope) SetTag(key, value string) {
	if e.Tags == nil {
		e.Tags = make(map[string]string)
	}
	e.Tags[key] = value
}

// Clone returns a deep copy.
func (e Envelope) Clone() Envelope {
	out := e
	if e.HealthStatus != nil {
		out.HealthStatus = Health(*e.HealthStatus)
	}
	out.Gauges = e.Gauges.Clone()
	out.Counters = e.Counters.Clone()
	if e.Tags != nil {
		out.Tags = maps.Clone(e.Tags)
	}
	return out
}

// Equal reports whether e and o carry the same data. Timestamps are compared
// as instants, and nil and empty collections are treated alike.
func (e Envelope) Equal(o Envelope) bool {
	if e.System != o.System || e.Env != o.Env || e.Instance != o.Instance ||
		e.Host != o.Host || e.Version != o.Version || e.SchemaVersion != o.SchemaVersion {
		return false
	}
	if !e.Utc.Equal(o.Utc) {
		return false
	}
	switch {
	case e.HealthStatus == nil && o.HealthStatus == nil:
	case e.HealthStatus == nil || o.HealthStatus == nil:
		return false
	case *e.HealthStatus != *o.HealthStatus:
		return false
	}
	return e.Gauges.Equal(o.Gauges) &&
		e.Counters.Equal(o.Counters) &&
		maps.Equal(e.Tags, o.Tags)
}
