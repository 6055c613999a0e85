// Package exposition renders telemetry envelopes as Prometheus text
// exposition payloads (format version 0.0.4).
//
// Rendering is a pure transform: the same envelopes and the same reference
// time always produce byte-identical output. Nothing in an envelope is ever
// rejected. Metric names are normalized and sanitized to the metric-name
// grammar, label values are escaped, and the synthetic heartbeat age is
// derived from the snapshot timestamp.
//
// For every envelope the payload contains, in order:
//
//	system_health_status     gauge, sample only when health is known
//	heartbeat_age_seconds    gauge, sample only when the envelope is stamped
//	<gauges>                 gauge, one family per entry, insertion order
//	<counters>               counter, one family per entry, insertion order
//
// Every sample of an envelope carries the same label block:
//
//	{system="...",env="...",instance="...",host="...",version="..."}
//
// The package holds no mutable state and is safe for concurrent use.
package exposition
