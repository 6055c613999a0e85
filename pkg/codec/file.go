package codec

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/SeanFellowes/TelemetryCore/pkg/envelope"
)

// Format names a serialized envelope form.
type Format string

// Supported formats
const (
	FormatJSON Format = "json"
	FormatCBOR Format = "cbor"
)

// ParseFormat resolves a user supplied format name.
func ParseFormat(name string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(name))) {
	case FormatJSON:
		return FormatJSON, nil
	case FormatCBOR:
		return FormatCBOR, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownFormat, name)
}

// FormatFor picks the format of an envelope file from its extension.
func FormatFor(path string) (Format, error) {
	ext := strings.TrimPrefix(filepath.Ext(path), ".")
	if ext == "" {
		return "", fmt.Errorf("%w: %s has no extension", ErrUnknownFormat, filepath.Base(path))
	}
	return ParseFormat(ext)
}

// Marshal encodes e in the given format.
func Marshal(format Format, e envelope.Envelope) ([]byte, error) {
	switch format {
	case FormatJSON:
		return Encode(e)
	case FormatCBOR:
		return EncodeCBOR(e)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
}

// Unmarshal decodes data in the given format.
func Unmarshal(format Format, data []byte) (envelope.Envelope, error) {
	switch format {
	case FormatJSON:
		return Decode(data)
	case FormatCBOR:
		return DecodeCBOR(data)
	}
	return envelope.Envelope{}, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
}

// DecodeFile reads and decodes an envelope file, choosing the format from the
// file extension.
func DecodeFile(path string) (envelope.Envelope, error) {
	format, err := FormatFor(path)
	if err != nil {
		return envelope.Envelope{}, err
	}

	// #nosec G304 -- envelope paths come from operator configuration
	data, err := os.ReadFile(path)
	if err != nil {
		return envelope.Envelope{}, fmt.Errorf("read envelope file: %w", err)
	}

	e, err := Unmarshal(format, data)
	if err != nil {
		return envelope.Envelope{}, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return e, nil
}

// EncodeFile writes e to path in the format implied by its extension.
func EncodeFile(path string, e envelope.Envelope) error {
	format, err := FormatFor(path)
	if err != nil {
		return err
	}

	data, err := Marshal(format, e)
	if err != nil {
		return err
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write envelope file: %w", err)
	}
	return nil
}
