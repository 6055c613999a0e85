package codec

import (
	"encoding/json"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/SeanFellowes/TelemetryCore/pkg/envelope"
)

func sampleEnvelope() envelope.Envelope {
	e := envelope.New("MessageBus", "DEV", "P01", time.Date(2024, 3, 15, 10, 30, 0, 123000000, time.UTC))
	e.Host = "h1"
	e.Version = "1.2.3"
	e.SetHealth(envelope.HealthGreen)
	e.SetGauge("messagebus_queue_depth", 42)
	e.SetGauge("latency_seconds", 0.25)
	e.AddCounter("messagebus_messages_total", 1000)
	e.SetTag("region", "eu-west")
	return e
}

func TestEncode_Golden(t *testing.T) {
	data, err := Encode(sampleEnvelope())
	require.NoError(t, err)

	expected := `{"system":"MessageBus","env":"DEV","instance":"P01","host":"h1","version":"1.2.3",` +
		`"utc":"2024-03-15T10:30:00.123Z","healthStatus":1,` +
		`"gauges":{"messagebus_queue_depth":42,"latency_seconds":0.25},` +
		`"counters":{"messagebus_messages_total":1000},` +
		`"tags":{"region":"eu-west"},"schemaVersion":1}`
	assert.Equal(t, expected, string(data))
}

func TestEncode_OmitsUnsetFields(t *testing.T) {
	data, err := Encode(envelope.Envelope{System: "Only"})
	require.NoError(t, err)
	assert.Equal(t, `{"system":"Only"}`, string(data))

	var generic map[string]any
	require.NoError(t, json.Unmarshal(data, &generic))
	assert.NotContains(t, generic, "healthStatus")
	assert.NotContains(t, generic, "utc")
	assert.NotContains(t, generic, "topic")
}

func TestEncode_RedHealthIsKept(t *testing.T) {
	e := envelope.Envelope{HealthStatus: envelope.Health(envelope.HealthRed)}
	data, err := Encode(e)
	require.NoError(t, err)
	assert.Equal(t, `{"healthStatus":0}`, string(data))
}

func TestEncode_RejectsNonFiniteGauge(t *testing.T) {
	var e envelope.Envelope
	e.SetGauge("bad", math.NaN())
	_, err := Encode(e)
	assert.Error(t, err)
}

func TestDecode_RoundTrip(t *testing.T) {
	orig := sampleEnvelope()

	data, err := Encode(orig)
	require.NoError(t, err)

	back, err := Decode(data)
	require.NoError(t, err)
	assert.True(t, back.Equal(orig))
	assert.Equal(t, orig.Gauges.Keys(), back.Gauges.Keys())
	assert.Equal(t, orig.Topic(), back.Topic())
}

func TestDecode_IgnoresUnknownMembers(t *testing.T) {
	e, err := Decode([]byte(`{"system":"S","futureField":{"x":1},"schemaVersion":2}`))
	require.NoError(t, err)
	assert.Equal(t, "S", e.System)
	assert.Equal(t, 2, e.SchemaVersion)
}

func TestDecode_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{name: "empty", input: ""},
		{name: "not json", input: "system=MessageBus"},
		{name: "array", input: `[{"system":"S"}]`},
		{name: "null", input: "null"},
		{name: "truncated", input: `{"system":"S"`},
		{name: "trailing data", input: `{"system":"S"} {"system":"T"}`},
		{name: "wrong field type", input: `{"system":42}`},
		{name: "gauges not an object", input: `{"gauges":[1,2]}`},
		{name: "fractional counter", input: `{"counters":{"a_total":1.5}}`},
		{name: "bad timestamp", input: `{"utc":"yesterday"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := Decode([]byte(tt.input))
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrDecode))
			assert.True(t, e.Equal(envelope.Envelope{}), "no partial envelope on failure")

			var decodeErr *DecodeError
			require.True(t, errors.As(err, &decodeErr))
			assert.Equal(t, FormatJSON, decodeErr.Format)
		})
	}
}

func TestDecode_ExposesSyntaxError(t *testing.T) {
	_, err := Decode([]byte(`{"system":}`))

	var syntaxErr *json.SyntaxError
	assert.True(t, errors.As(err, &syntaxErr))
}

func TestCBOR_RoundTripKeepsOrder(t *testing.T) {
	orig := sampleEnvelope()
	orig.SetGauge("a_first_alphabetically_bytes", 1)

	data, err := EncodeCBOR(orig)
	require.NoError(t, err)

	back, err := DecodeCBOR(data)
	require.NoError(t, err)
	assert.True(t, back.Equal(orig))
	assert.Equal(t, []string{"messagebus_queue_depth", "latency_seconds", "a_first_alphabetically_bytes"}, back.Gauges.Keys())
}

func TestCBOR_Deterministic(t *testing.T) {
	e := sampleEnvelope()
	e.SetTag("b", "2")
	e.SetTag("a", "1")

	first, err := EncodeCBOR(e)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := EncodeCBOR(e.Clone())
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestCBOR_CarriesNonFiniteGauges(t *testing.T) {
	var e envelope.Envelope
	e.SetGauge("up_bytes", math.Inf(1))

	data, err := EncodeCBOR(e)
	require.NoError(t, err)

	back, err := DecodeCBOR(data)
	require.NoError(t, err)
	v, ok := back.Gauges.Get("up_bytes")
	require.True(t, ok)
	assert.True(t, math.IsInf(v, 1))
}

func TestCBOR_DecodeErrors(t *testing.T) {
	for name, input := range map[string][]byte{
		"empty":         {},
		"not a map":     {0x01},
		"trailing data": {0xa0, 0xa0},
		"truncated":     {0xa1, 0x66},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeCBOR(input)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrDecode))
		})
	}
}

func TestFormatFor(t *testing.T) {
	tests := []struct {
		path    string
		want    Format
		wantErr bool
	}{
		{path: "a/b/bus.json", want: FormatJSON},
		{path: "bus.JSON", want: FormatJSON},
		{path: "bus.cbor", want: FormatCBOR},
		{path: "bus.yaml", wantErr: true},
		{path: "bus", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got, err := FormatFor(tt.path)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnknownFormat)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEncodeFileDecodeFile(t *testing.T) {
	dir := t.TempDir()
	orig := sampleEnvelope()

	for _, name := range []string{"bus.json", "bus.cbor"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name)
			require.NoError(t, EncodeFile(path, orig))

			back, err := DecodeFile(path)
			require.NoError(t, err)
			assert.True(t, back.Equal(orig))
		})
	}

	bad := filepath.Join(dir, "broken.json")
	require.NoError(t, os.WriteFile(bad, []byte("{"), 0o600))
	_, err := DecodeFile(bad)
	assert.ErrorIs(t, err, ErrDecode)
	assert.Contains(t, err.Error(), "broken.json")

	_, err = DecodeFile(filepath.Join(dir, "missing.json"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func drawEnvelope(t *rapid.T) envelope.Envelope {
	e := envelope.Envelope{
		System:        rapid.String().Draw(t, "system"),
		Env:           rapid.String().Draw(t, "env"),
		Instance:      rapid.String().Draw(t, "instance"),
		Host:          rapid.String().Draw(t, "host"),
		Version:       rapid.String().Draw(t, "version"),
		SchemaVersion: rapid.IntRange(0, 5).Draw(t, "schemaVersion"),
	}
	if rapid.Bool().Draw(t, "stamped") {
		e.Utc = time.Unix(0, rapid.Int64Range(0, 4102444800*int64(time.Second)).Draw(t, "utc")).UTC()
	}
	if rapid.Bool().Draw(t, "healthKnown") {
		e.SetHealth(rapid.SampledFrom([]float64{envelope.HealthGreen, envelope.HealthYellow, envelope.HealthRed}).Draw(t, "health"))
	}
	for _, n := range rapid.SliceOf(rapid.String()).Draw(t, "gauges") {
		e.SetGauge(n, rapid.Float64Range(-1e15, 1e15).Draw(t, "gauge"))
	}
	for _, n := range rapid.SliceOf(rapid.String()).Draw(t, "counters") {
		e.AddCounter(n, rapid.Int64().Draw(t, "counter"))
	}
	for k, v := range rapid.MapOf(rapid.String(), rapid.String()).Draw(t, "tags") {
		e.SetTag(k, v)
	}
	return e
}

// Property: decode(encode(e)) reproduces every field for both formats.
func TestCodecRoundTripProperties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		e := drawEnvelope(t)

		for _, format := range []Format{FormatJSON, FormatCBOR} {
			data, err := Marshal(format, e)
			if err != nil {
				t.Fatalf("%s encode: %v", format, err)
			}
			back, err := Unmarshal(format, data)
			if err != nil {
				t.Fatalf("%s decode: %v", format, err)
			}
			if !back.Equal(e) {
				t.Fatalf("%s round trip mismatch:\n got %+v\nwant %+v", format, back, e)
			}
			if back.Topic() != e.Topic() || back.Key() != e.Key() {
				t.Fatalf("%s round trip changed derived identity", format)
			}
		}
	})
}
