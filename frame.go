package pickle

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

// Framing splits protocol 4+ pickles into FRAME chunks, so that the decoder
// can fetch many small opcodes with one read.
const (
	frameSizeTarget = 64 * 1024 // frames are committed once they reach this size
	frameSizeMin    = 4         // smaller frames go without FRAME header

	// don't allow malicious `BINBYTES <bigsize> nodata` to make us out of memory
	maxPrealloc = 0x10000
)

// framer is the encoder output. It accumulates the current frame and commits
// it to w when the frame is big enough.
type framer struct {
	w       *bufio.Writer
	frame   bytes.Buffer
	framing bool
	n       int64 // bytes handed to w
}

func newFramer(w io.Writer) *framer {
	return &framer{w: bufio.NewWriter(w)}
}

func (f *framer) reset(w io.Writer) {
	f.w.Reset(w)
	f.frame.Reset()
	f.framing = false
	f.n = 0
}

// put writes to the underlying writer; its errors are sticky and come out of flush.
func (f *framer) put(p []byte) {
	n, _ := f.w.Write(p)
	f.n += int64(n)
}

func (f *framer) Write(p []byte) (int, error) {
	if f.framing {
		return f.frame.Write(p)
	}
	f.put(p)
	return len(p), nil
}

func (f *framer) WriteByte(c byte) error {
	_, err := f.Write([]byte{c})
	return err
}

func (f *framer) WriteString(s string) (int, error) {
	if f.framing {
		return f.frame.WriteString(s)
	}
	n, _ := f.w.WriteString(s)
	f.n += int64(n)
	return len(s), nil
}

func (f *framer) startFraming() {
	f.framing = true
}

// commitFrame writes out the current frame if it is big enough, or if force.
func (f *framer) commitFrame(force bool) {
	if !f.framing || f.frame.Len() == 0 {
		return
	}
	if f.frame.Len() < frameSizeTarget && !force {
		return
	}
	if f.frame.Len() >= frameSizeMin {
		var hdr [9]byte
		hdr[0] = opFrame
		binary.LittleEndian.PutUint64(hdr[1:], uint64(f.frame.Len()))
		f.put(hdr[:])
	}
	f.put(f.frame.Bytes())
	f.frame.Reset()
}

// writeLarge emits opcode header followed by big payload.
//
// When framing, the payload is written outside of any frame, so that it is
// not copied into the frame buffer.
func (f *framer) writeLarge(header, payload []byte) {
	if !f.framing || len(payload) < frameSizeTarget {
		f.Write(header)
		f.Write(payload)
		return
	}
	f.commitFrame(true)
	f.put(header)
	f.put(payload)
}

// flush commits the last frame and flushes everything to the writer.
func (f *framer) flush() error {
	f.commitFrame(true)
	f.framing = false
	return f.w.Flush()
}

// ---- decoding ----

// byteReader is what the decoder reads pickle data from.
type byteReader interface {
	io.Reader
	io.ByteReader
}

var errFrameExhausted = errors.New("pickle exhausted before end of frame")

// unframer reads pickle data either from the current frame, or, when there is
// no frame, directly from r.
type unframer struct {
	r     byteReader
	frame *bytes.Reader // nil outside of frame
	n     int64         // bytes read from r
}

// pos returns current offset in the pickle stream.
func (u *unframer) pos() int64 {
	if u.frame != nil {
		return u.n - int64(u.frame.Len())
	}
	return u.n
}

// inFrame reports whether there is unread data in the current frame.
func (u *unframer) inFrame() bool {
	if u.frame != nil && u.frame.Len() == 0 {
		u.frame = nil
	}
	return u.frame != nil
}

func (u *unframer) ReadByte() (byte, error) {
	if u.inFrame() {
		return u.frame.ReadByte()
	}
	c, err := u.r.ReadByte()
	if err == nil {
		u.n++
	}
	return c, err
}

// Read implements io.Reader for io.CopyN and friends.
func (u *unframer) Read(p []byte) (int, error) {
	if u.inFrame() {
		return u.frame.Read(p)
	}
	n, err := u.r.Read(p)
	u.n += int64(n)
	return n, err
}

// readFull reads exactly len(p) bytes. Reads are not allowed to cross frame end.
func (u *unframer) readFull(p []byte) error {
	if u.inFrame() {
		if u.frame.Len() < len(p) {
			return errFrameExhausted
		}
		_, err := u.frame.Read(p)
		return err
	}
	n, err := io.ReadFull(u.r, p)
	u.n += int64(n)
	return err
}

// readLine reads bytes up to '\n' and returns them without trailing '\n'.
//
// returned line is valid only till next call to readLine.
func (u *unframer) readLine(line []byte) ([]byte, error) {
	line = line[:0]
	for {
		c, err := u.ReadByte()
		if err != nil {
			return line, err
		}
		if c == '\n' {
			return line, nil
		}
		line = append(line, c)
	}
}

// readData reads n bytes of length-prefixed payload.
func (u *unframer) readData(n uint64) ([]byte, error) {
	if n > math.MaxInt64 {
		return nil, fmt.Errorf("size([]data) > maxint64")
	}
	if u.inFrame() {
		if uint64(u.frame.Len()) < n {
			return nil, errFrameExhausted
		}
		data := make([]byte, n)
		_, err := u.frame.Read(data)
		return data, err
	}

	var buf bytes.Buffer
	buf.Grow(int(min(n, maxPrealloc)))
	_, err := io.CopyN(&buf, u, int64(n))
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// loadFrame reads next frame of n bytes.
func (u *unframer) loadFrame(n uint64) error {
	if u.inFrame() {
		return fmt.Errorf("beginning of a new frame before end of current frame")
	}
	data, err := u.readData(n)
	if err != nil {
		return err
	}
	u.frame = bytes.NewReader(data)
	return nil
}
