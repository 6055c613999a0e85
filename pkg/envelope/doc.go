// Package envelope defines the telemetry snapshot exchanged between
// instrumented emitters and the exposition renderer.
//
// An Envelope carries the identity of the emitting system (system, env,
// instance, host, version), a snapshot timestamp, an optional health status,
// ordered gauge and counter series, and free-form tags.
//
// This package has no dependencies outside the Go standard library. Envelopes
// are plain values: they are created per observation, filled on one goroutine,
// handed to a renderer or codec and then discarded. Nothing here is safe for
// concurrent mutation; callers that share an Envelope across goroutines must
// serialize writes themselves.
package envelope
