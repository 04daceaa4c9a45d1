package pickle

import (
	"bytes"
	"io"
)

// Dumps returns the pickle of v at protocol.
//
// protocol is 0..HighestProtocol, or -1 for HighestProtocol.
func Dumps(v any, protocol int) ([]byte, error) {
	return DumpsWithConfig(v, &EncoderConfig{Protocol: protocol})
}

// DumpsWithConfig is similar to Dumps, but allows specifying the encoder configuration.
func DumpsWithConfig(v any, config *EncoderConfig) ([]byte, error) {
	var buf bytes.Buffer
	if err := NewEncoderWithConfig(&buf, config).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Dump writes the pickle of v at protocol to dst.
//
// dst must be an io.Writer; otherwise a KindType error is returned.
func Dump(v any, dst any, protocol int) error {
	return DumpWithConfig(v, dst, &EncoderConfig{Protocol: protocol})
}

// DumpWithConfig is similar to Dump, but allows specifying the encoder configuration.
func DumpWithConfig(v any, dst any, config *EncoderConfig) error {
	return NewEncoderWithConfig(&sink{dst: dst}, config).Encode(v)
}

// Loads decodes the pickle in data.
//
// data must be []byte, Bytes or PickleBuffer. Text is rejected with KindType
// error, as are other non-binary inputs.
func Loads(data any) (any, error) {
	return LoadsWithConfig(data, &DecoderConfig{})
}

// LoadsWithConfig is similar to Loads, but allows specifying the decoder configuration.
func LoadsWithConfig(data any, config *DecoderConfig) (any, error) {
	var b []byte
	switch data := data.(type) {
	case []byte:
		b = data
	case Bytes:
		b = []byte(data)
	case PickleBuffer:
		b = data.Data
	default:
		err := typeError("loads", "a bytes-like object is required, not %T", data)
		countError(err)
		return nil, err
	}
	return decodeOne("loads", NewDecoderWithConfig(bytes.NewReader(b), config))
}

// Load decodes one pickle from src.
//
// src must be an io.Reader; otherwise a KindType error is returned. Load does
// not read past the end of the pickle, so that src can be positioned at
// whatever follows it.
func Load(src any) (any, error) {
	return LoadWithConfig(src, &DecoderConfig{})
}

// LoadWithConfig is similar to Load, but allows specifying the decoder configuration.
func LoadWithConfig(src any, config *DecoderConfig) (any, error) {
	return decodeOne("load", NewDecoderWithConfig(&source{src: src}, config))
}

// decodeOne decodes exactly one pickle: empty input is an error.
func decodeOne(op string, d *Decoder) (any, error) {
	v, err := d.Decode()
	if err == io.EOF {
		err = &Error{Kind: KindUnpickling, Op: op, Pos: 0, Detail: "ran out of input", Cause: io.EOF}
		countError(err)
	}
	return v, err
}
