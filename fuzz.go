//go:build gofuzz

package pickle

import (
	"bytes"
)

// Fuzz decodes data and, if it decodes, checks that its pickle decodes too.
func Fuzz(data []byte) int {
	v, err := NewDecoderWithConfig(bytes.NewReader(data), &DecoderConfig{Symbolic: true}).Decode()
	if err != nil {
		return 0
	}

	for proto := 0; proto <= HighestProtocol; proto++ {
		out, err := Dumps(v, proto)
		if err != nil {
			// not everything decoded is representable at every protocol
			continue
		}
		if _, err := LoadsWithConfig(out, &DecoderConfig{Symbolic: true}); err != nil {
			panic(err)
		}
	}
	return 1
}
