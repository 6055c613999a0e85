package codec

import (
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/SeanFellowes/TelemetryCore/pkg/envelope"
)

// cborEncMode uses core deterministic encoding (RFC 8949 §4.2): sorted map
// keys, smallest integer and float encodings, definite lengths only.
var cborEncMode cbor.EncMode

// cborDecMode ignores unknown map keys so that newer emitters can add fields.
var cborDecMode cbor.DecMode

func init() {
	var err error

	cborEncMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}

	cborDecMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("codec: CBOR decoder initialization failed: " + err.Error())
	}
}

// cborEnvelope is the CBOR wire shape. Series are arrays of [name, value]
// pairs because deterministic encoding would otherwise sort their keys.
type cborEnvelope struct {
	System        string            `cbor:"system,omitempty"`
	Env           string            `cbor:"env,omitempty"`
	Instance      string            `cbor:"instance,omitempty"`
	Host          string            `cbor:"host,omitempty"`
	Version       string            `cbor:"version,omitempty"`
	Utc           string            `cbor:"utc,omitempty"`
	HealthStatus  *float64          `cbor:"healthStatus,omitempty"`
	Gauges        []cborGauge       `cbor:"gauges,omitempty"`
	Counters      []cborCounter     `cbor:"counters,omitempty"`
	Tags          map[string]string `cbor:"tags,omitempty"`
	SchemaVersion int               `cbor:"schemaVersion,omitempty"`
}

type cborGauge struct {
	_     struct{} `cbor:",toarray"`
	Name  string
	Value float64
}

type cborCounter struct {
	_     struct{} `cbor:",toarray"`
	Name  string
	Value int64
}

// EncodeCBOR serializes e as CBOR.
func EncodeCBOR(e envelope.Envelope) ([]byte, error) {
	wire := cborEnvelope{
		System:        e.System,
		Env:           e.Env,
		Instance:      e.Instance,
		Host:          e.Host,
		Version:       e.Version,
		HealthStatus:  e.HealthStatus,
		Tags:          e.Tags,
		SchemaVersion: e.SchemaVersion,
	}
	if !e.Utc.IsZero() {
		wire.Utc = e.Utc.Format(time.RFC3339Nano)
	}
	for name, v := range e.Gauges.All() {
		wire.Gauges = append(wire.Gauges, cborGauge{Name: name, Value: v})
	}
	for name, v := range e.Counters.All() {
		wire.Counters = append(wire.Counters, cborCounter{Name: name, Value: v})
	}

	data, err := cborEncMode.Marshal(wire)
	if err != nil {
		return nil, fmt.Errorf("encode cbor envelope: %w", err)
	}
	return data, nil
}

// DecodeCBOR parses a CBOR envelope.
func DecodeCBOR(data []byte) (envelope.Envelope, error) {
	var wire cborEnvelope
	if err := cborDecMode.Unmarshal(data, &wire); err != nil {
		return envelope.Envelope{}, &DecodeError{Format: FormatCBOR, Err: err}
	}

	e := envelope.Envelope{
		System:        wire.System,
		Env:           wire.Env,
		Instance:      wire.Instance,
		Host:          wire.Host,
		Version:       wire.Version,
		HealthStatus:  wire.HealthStatus,
		Tags:          wire.Tags,
		SchemaVersion: wire.SchemaVersion,
	}
	if wire.Utc != "" {
		ts, err := time.Parse(time.RFC3339Nano, wire.Utc)
		if err != nil {
			return envelope.Envelope{}, &DecodeError{Format: FormatCBOR, Err: fmt.Errorf("utc: %w", err)}
		}
		e.Utc = ts
	}
	for _, g := range wire.Gauges {
		e.Gauges.Set(g.Name, g.Value)
	}
	for _, c := range wire.Counters {
		e.Counters.Set(c.Name, c.Value)
	}
	return e, nil
}
