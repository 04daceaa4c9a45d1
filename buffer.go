package pickle

import (
	"errors"

	"go.uber.org/zap"
)

// PickleBuffer is binary data that protocol 5 may transfer out-of-band.
//
// When a PickleBuffer is encoded with EncoderConfig.BufferCallback set, the
// callback decides whether Data is serialized in the pickle itself or is left
// for the caller to transfer by other means. Out-of-band buffers must be given
// back to the decoder via DecoderConfig.Buffers in the same order.
//
// Inlined read-only buffers decode as Bytes, and writable ones as []byte.
// Out-of-band buffers decode as PickleBuffer.
type PickleBuffer struct {
	Data     []byte
	ReadOnly bool
}

// BufferCallback is called once per PickleBuffer, in encounter order.
//
// It returns whether the buffer should be serialized in-band. When it returns
// false, the buffer is represented by NEXT_BUFFER placeholder, and its data
// must be transferred out-of-band.
type BufferCallback func(buf PickleBuffer) (inBand bool)

// bufferChannel routes encoded PickleBuffers.
type bufferChannel struct {
	callback BufferCallback
	n        int // out-of-band buffers so far
}

// route reports whether buf has to be inlined.
func (c *bufferChannel) route(buf PickleBuffer) (inBand bool) {
	if c.callback == nil || c.callback(buf) {
		return true
	}
	c.n++
	metricOutOfBand.WithLabelValues("encode").Inc()
	Logger().Debug("pickle buffer sent out-of-band",
		zap.Int("index", c.n-1), zap.Int("size", len(buf.Data)), zap.Bool("readonly", buf.ReadOnly))
	return false
}

var (
	errNoBuffers     = errors.New("pickle stream refers to out-of-band data but no *buffers* argument was given")
	errBuffersTooFew = errors.New("not enough out-of-band buffers")
	errNotABuffer    = errors.New("READONLY_BUFFER: stack top is not a buffer")
)

// bufferSource hands out-of-band buffers to the decoder in order.
type bufferSource struct {
	bufs [][]byte
	next int
}

func newBufferSource(bufs [][]byte) *bufferSource {
	return &bufferSource{bufs: bufs}
}

func (s *bufferSource) take() ([]byte, error) {
	if s.bufs == nil {
		return nil, errNoBuffers
	}
	if s.next >= len(s.bufs) {
		return nil, errBuffersTooFew
	}
	buf := s.bufs[s.next]
	s.next++
	metricOutOfBand.WithLabelValues("decode").Inc()
	return buf, nil
}
