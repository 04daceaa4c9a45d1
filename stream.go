package pickle

import (
	"io"

	"github.com/pkg/errors"
)

// sink adapts caller-supplied destination of Dump.
//
// The destination is checked to be an io.Writer only when something is
// written to it.
type sink struct {
	dst any
	w   io.Writer
}

func (s *sink) Write(p []byte) (int, error) {
	if s.w == nil {
		w, ok := s.dst.(io.Writer)
		if !ok {
			return 0, typeError("dump", "file must have a 'write' method, not %T", s.dst)
		}
		s.w = w
	}
	n, err := s.w.Write(p)
	if err != nil {
		return n, errors.Wrap(err, "pickle: write")
	}
	return n, nil
}

// source adapts caller-supplied origin of Load.
//
// The origin is checked to be an io.Reader only when something is read from
// it. Bytes are requested one at a time unless the origin is io.ByteReader
// itself, so that nothing past the end of a pickle is consumed.
// maxEmptyReads is how many reads in a row may return neither data nor error
// before the origin is reported as broken, as bufio does.
const maxEmptyReads = 100

type source struct {
	src any
	r   io.Reader
	br  io.ByteReader
	one [1]byte
}

func (s *source) init() error {
	if s.r != nil {
		return nil
	}
	r, ok := s.src.(io.Reader)
	if !ok {
		return typeError("load", "file must have 'read' and 'readline' methods, not %T", s.src)
	}
	s.r = r
	s.br, _ = r.(io.ByteReader)
	return nil
}

func (s *source) Read(p []byte) (int, error) {
	if err := s.init(); err != nil {
		return 0, err
	}
	for i := 0; i < maxEmptyReads; i++ {
		n, err := s.r.Read(p)
		if n > 0 || err != nil || len(p) == 0 {
			return n, wrapRead(err)
		}
	}
	return 0, wrapRead(io.ErrNoProgress)
}

func (s *source) ReadByte() (byte, error) {
	if err := s.init(); err != nil {
		return 0, err
	}
	if s.br != nil {
		b, err := s.br.ReadByte()
		return b, wrapRead(err)
	}
	for i := 0; i < maxEmptyReads; i++ {
		n, err := s.r.Read(s.one[:])
		if n == 1 {
			return s.one[0], nil
		}
		if err != nil {
			return 0, wrapRead(err)
		}
	}
	return 0, wrapRead(io.ErrNoProgress)
}

// wrapRead wraps I/O errors keeping io.EOF as is, since callers compare
// against it directly.
func wrapRead(err error) error {
	if err == nil || err == io.EOF {
		return err
	}
	return errors.Wrap(err, "pickle: read")
}
