package codec

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/SeanFellowes/TelemetryCore/pkg/envelope"
)

// Encode serializes e as JSON.
func Encode(e envelope.Envelope) ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode json envelope: %w", err)
	}
	return data, nil
}

// EncodeIndent serializes e as indented JSON for human consumption.
func EncodeIndent(e envelope.Envelope) ([]byte, error) {
	data, err := json.MarshalIndent(e, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode json envelope: %w", err)
	}
	return data, nil
}

// Decode parses a JSON envelope. The document must be a single JSON object;
// unknown members are ignored.
func Decode(data []byte) (envelope.Envelope, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return envelope.Envelope{}, &DecodeError{Format: FormatJSON, Err: errors.New("expected a JSON object")}
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	var e envelope.Envelope
	if err := dec.Decode(&e); err != nil {
		return envelope.Envelope{}, &DecodeError{Format: FormatJSON, Err: err}
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return envelope.Envelope{}, &DecodeError{Format: FormatJSON, Err: errors.New("unexpected data after envelope")}
	}
	return e, nil
}
