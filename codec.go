package pickle

import (
	"io"
	"reflect"
)

// Codec pins encoder and decoder configuration, for use where a
// Marshal/Unmarshal pair is expected.
//
//	c := &pickle.Codec{Encoder: pickle.EncoderConfig{Protocol: 5}}
//	data, err := c.Marshal(v)
type Codec struct {
	Encoder EncoderConfig
	Decoder DecoderConfig
}

// Marshal returns the pickle of v.
func (c *Codec) Marshal(v any) ([]byte, error) {
	return DumpsWithConfig(v, &c.Encoder)
}

// Unmarshal decodes data and stores the result in the value pointed to by v.
//
// The decoded value is converted to the type of *v the same way object state
// is assigned to fields: e.g. lists become typed slices, dicts become maps or
// structs, and integers are range checked.
func (c *Codec) Unmarshal(data []byte, v any) error {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return typeError("unmarshal", "non-nil pointer required, not %T", v)
	}

	x, err := LoadsWithConfig(data, &c.Decoder)
	if err != nil {
		return err
	}
	if err := newConverter().assign(rv.Elem(), x); err != nil {
		return newError(KindValue, "unmarshal", err, "cannot store %T in %s", x, rv.Elem().Type())
	}
	return nil
}

// NewEncoder returns Encoder writing to w with c's configuration.
func (c *Codec) NewEncoder(w io.Writer) *Encoder {
	config := c.Encoder
	return NewEncoderWithConfig(w, &config)
}

// NewDecoder returns Decoder reading from r with c's configuration.
func (c *Codec) NewDecoder(r io.Reader) *Decoder {
	config := c.Decoder
	return NewDecoderWithConfig(r, &config)
}
