// Package codec converts envelopes to and from their serialized forms.
//
// JSON is the canonical interchange format: lowerCamelCase member names,
// unset optional fields left out entirely, gauge and counter members in
// series order. CBOR is offered as a compact binary form for spool files;
// it uses core deterministic encoding, so the same envelope always produces
// the same bytes.
//
// Decoding is all-or-nothing. Any malformed input fails with a *DecodeError
// wrapping ErrDecode and the underlying cause; no partially decoded
// envelope is ever returned.
package codec
