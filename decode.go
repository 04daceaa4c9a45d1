package pickle

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"math/big"
	"reflect"
	"strconv"
	"unicode/utf8"

	"go.uber.org/zap"
)

// Decoder is a decoder for pickle streams.
type Decoder struct {
	r      *unframer
	config *DecoderConfig
	stack  []any
	memo   *slotTable

	// reusable buffer for readLine
	line []byte

	// protocol version seen in last PROTO opcode; 0 by default.
	protocol int

	resolver *ClassResolver
	buffers  *bufferSource
	arena    arena
}

// DecoderConfig allows to tune Decoder.
type DecoderConfig struct {
	// PersistentLoad, if !nil, will be used by decoder to handle persistent references.
	//
	// Whenever the decoder finds an object reference in the pickle stream
	// it will call PersistentLoad. If PersistentLoad returns !nil object
	// without error, the decoder will use that object instead of Ref in
	// the resulted built Go object.
	//
	// See Ref documentation for more details.
	PersistentLoad func(ref Ref) (any, error)

	// Buffers are out-of-band buffers referenced by NEXT_BUFFER, in order.
	Buffers [][]byte

	// Resolver maps class names to registered types. nil means DefaultResolver.
	Resolver *ClassResolver

	// Symbolic makes the decoder represent classes it cannot find with Class,
	// calls of them with Call, and objects of them with *Instance, instead
	// of failing.
	Symbolic bool
}

// NewDecoder constructs a new Decoder which will decode the pickle stream in r.
func NewDecoder(r io.Reader) *Decoder {
	return NewDecoderWithConfig(r, &DecoderConfig{})
}

// NewDecoderWithConfig is similar to NewDecoder, but allows specifying decoder configuration.
//
// If r is not io.ByteReader, it is read through bufio.Reader, which may read
// past the end of a pickle.
func NewDecoderWithConfig(r io.Reader, config *DecoderConfig) *Decoder {
	br, ok := r.(byteReader)
	if !ok {
		br = bufio.NewReader(r)
	}
	return &Decoder{
		r:      &unframer{r: br},
		config: config,
	}
}

func (d *Decoder) reset() {
	d.stack = d.stack[:0]
	d.memo = newSlotTable()
	d.protocol = 0
	d.r.frame = nil
	d.resolver = d.config.Resolver
	if d.resolver == nil {
		d.resolver = DefaultResolver
	}
	d.buffers = newBufferSource(d.config.Buffers)
	d.arena.reset()
}

// Decode decodes the pickle stream and returns the result or an error.
//
// It returns io.EOF if the stream ends before the first opcode.
func (d *Decoder) Decode() (v any, err error) {
	d.reset()
	start := d.r.pos()
	defer func() {
		if r := recover(); r != nil {
			cause, ok := r.(error)
			if !ok {
				cause = fmt.Errorf("%v", r)
			}
			v, err = nil, unpicklingError("decode", d.r.pos(), cause)
		}
		if err != nil && err != io.EOF {
			countError(err)
			Logger().Debug("decode failed", zap.Int64("offset", start), zap.Error(err))
		}
	}()

	insn := 0
loop:
	for {
		pos := d.r.pos()
		key, err := d.r.ReadByte()
		if err != nil {
			if err == io.EOF && insn == 0 {
				return nil, io.EOF
			}
			if err == io.EOF {
				err = io.ErrUnexpectedEOF
			}
			return nil, unpicklingError("decode", pos, err)
		}

		insn++

		switch key {
		case opMark:
			d.mark()
		case opStop:
			break loop
		case opPop:
			_, err = d.pop()
		case opPopMark:
			err = d.popMark()
		case opDup:
			err = d.dup()
		case opFloat:
			err = d.loadFloat()
		case opInt:
			err = d.loadInt()
		case opBinint:
			err = d.loadBinInt()
		case opBinint1:
			err = d.loadBinInt1()
		case opLong:
			err = d.loadLong()
		case opBinint2:
			err = d.loadBinInt2()
		case opNone:
			d.push(None{})
		case opPersid:
			err = d.loadPersid()
		case opBinpersid:
			err = d.loadBinPersid()
		case opReduce:
			err = d.reduce()
		case opString:
			err = d.loadString()
		case opBinstring:
			err = d.loadBinString()
		case opShortBinstring:
			err = d.loadShortBinString()
		case opUnicode:
			err = d.loadUnicode()
		case opBinunicode:
			err = d.loadBinUnicode()
		case opBinunicode8:
			err = d.loadBinUnicode8()
		case opShortBinUnicode:
			err = d.loadShortBinUnicode()
		case opBinbytes:
			err = d.loadBinBytes()
		case opShortBinbytes:
			err = d.loadShortBinBytes()
		case opBinbytes8:
			err = d.loadBinBytes8()
		case opBytearray8:
			err = d.loadBytearray8()
		case opAppend:
			err = d.loadAppend()
		case opAppends:
			err = d.loadAppends()
		case opBuild:
			err = d.build()
		case opGlobal:
			err = d.global()
		case opStackGlobal:
			err = d.stackGlobal()
		case opDict:
			err = d.loadDict()
		case opEmptyDict:
			d.push(&dictNode{})
		case opSetitem:
			err = d.loadSetItem()
		case opSetitems:
			err = d.loadSetItems()
		case opEmptySet:
			d.push(&setNode{})
		case opAddItems:
			err = d.loadAddItems()
		case opFrozenSet:
			err = d.loadFrozenSet()
		case opGet:
			err = d.get()
		case opBinget:
			err = d.binGet()
		case opLongBinget:
			err = d.longBinGet()
		case opPut:
			err = d.loadPut()
		case opBinput:
			err = d.binPut()
		case opLongBinput:
			err = d.longBinPut()
		case opMemoize:
			err = d.loadMemoize()
		case opInst:
			err = d.inst()
		case opObj:
			err = d.obj()
		case opNewobj:
			err = d.newobj()
		case opNewobjEx:
			err = d.newobjEx()
		case opLong1:
			err = d.loadLong1()
		case opLong4:
			err = d.loadLong4()
		case opNewfalse:
			d.push(false)
		case opNewtrue:
			d.push(true)
		case opList:
			err = d.loadList()
		case opEmptyList:
			d.push(&listNode{})
		case opTuple:
			err = d.loadTuple()
		case opTuple1:
			err = d.tupleN(1)
		case opTuple2:
			err = d.tupleN(2)
		case opTuple3:
			err = d.tupleN(3)
		case opEmptyTuple:
			d.push(Tuple{})
		case opBinfloat:
			err = d.binFloat()
		case opFrame:
			err = d.loadFrame()
		case opNextBuffer:
			err = d.loadNextBuffer()
		case opReadOnlyBuffer:
			err = d.readOnlyBuffer()
		case opProto:
			var v byte
			v, err = d.r.ReadByte()
			if err == nil && v > HighestProtocol {
				// CPython also loads PROTO with version 0 and 1 without error,
				// so all supported versions are allowed as PROTO argument.
				err = ErrInvalidPickleVersion
			}
			if err == nil {
				d.protocol = int(v)
			}

		case opExt1, opExt2, opExt4:
			err = errNotImplemented

		default:
			return nil, unpicklingError(opName(key), pos, OpcodeError{key, int(pos)})
		}

		if err != nil {
			if err == errNotImplemented {
				err = OpcodeError{key, int(pos)}
			}
			// EOF from individual opcode decoder is unexpected end of stream
			if err == io.EOF {
				err = io.ErrUnexpectedEOF
			}
			return nil, unpicklingError(opName(key), pos, err)
		}
	}

	v, err = d.popUser()
	if err == nil {
		v, err = d.arena.finish(v)
	}
	if err != nil {
		return nil, unpicklingError("STOP", d.r.pos()-1, err)
	}

	metricDecoded.WithLabelValues(protoLabel(d.protocol)).Inc()
	return v, nil
}

// readLine reads next line from pickle stream.
//
// returned line does not contain \n.
// returned line is valid only till next call to readLine.
func (d *Decoder) readLine() ([]byte, error) {
	var err error
	d.line, err = d.r.readLine(d.line)
	return d.line, err
}

// userOK tells whether it is ok to return all objects to user.
//
// for example it is not ok to return the mark object.
func userOK(objv ...any) error {
	for _, obj := range objv {
		switch obj.(type) {
		case mark:
			return errNoMarkUse
		}
	}

	return nil
}

// Push a marker
func (d *Decoder) mark() {
	d.push(mark{})
}

// Return the position of the topmost marker
func (d *Decoder) marker() (int, error) {
	m := mark{}
	for k := len(d.stack) - 1; k >= 0; k-- {
		if d.stack[k] == m {
			return k, nil
		}
	}
	return 0, errNoMarker
}

// Append a new value
func (d *Decoder) push(v any) {
	d.stack = append(d.stack, v)
}

// Pop a value
// The returned error is errStackUnderflow if decoder stack is empty
func (d *Decoder) pop() (any, error) {
	ln := len(d.stack) - 1
	if ln < 0 {
		return nil, errStackUnderflow
	}
	v := d.stack[ln]
	d.stack = d.stack[:ln]
	return v, nil
}

// Pop a value (when you know for sure decoder stack is not empty)
func (d *Decoder) xpop() any {
	v, err := d.pop()
	if err != nil {
		panic(err)
	}
	return v
}

// popUser pops stack value and checks whether it is ok to return to user.
func (d *Decoder) popUser() (any, error) {
	v, err := d.pop()
	if err != nil {
		return nil, err
	}
	if err := userOK(v); err != nil {
		return nil, err
	}
	return v, nil
}

// top returns stack top without popping it.
func (d *Decoder) top() (any, error) {
	if len(d.stack) < 1 {
		return nil, errStackUnderflow
	}
	return d.stack[len(d.stack)-1], nil
}

// popMarked pops items above the topmost marker, and the marker itself.
//
// returned slice aliases the stack and is valid only till next push.
func (d *Decoder) popMarked() ([]any, error) {
	k, err := d.marker()
	if err != nil {
		return nil, err
	}
	items := d.stack[k+1:]
	if err := userOK(items...); err != nil {
		return nil, err
	}
	d.stack = d.stack[:k]
	return items, nil
}

// Discard the stack through to the topmost marker
func (d *Decoder) popMark() error {
	_, err := d.popMarked()
	return err
}

// Duplicate the top stack item
func (d *Decoder) dup() error {
	if len(d.stack) < 1 {
		return errStackUnderflow
	}
	d.stack = append(d.stack, d.stack[len(d.stack)-1])
	return nil
}

// ---- numbers ----

// Push a float
func (d *Decoder) loadFloat() error {
	line, err := d.readLine()
	if err != nil {
		return err
	}
	v, err := strconv.ParseFloat(string(line), 64)
	if err != nil {
		return err
	}
	d.push(v)
	return nil
}

// Push an int
func (d *Decoder) loadInt() error {
	line, err := d.readLine()
	if err != nil {
		return err
	}

	var val any

	switch string(line) {
	case opFalse[1:3]:
		val = false
	case opTrue[1:3]:
		val = true
	default:
		i, err := strconv.ParseInt(string(line), 10, 64)
		if errors.Is(err, strconv.ErrRange) {
			// INT may carry values that do not fit into int64 on 64-bit Pythons
			b, ok := new(big.Int).SetString(string(line), 10)
			if !ok {
				return err
			}
			d.push(b)
			return nil
		}
		if err != nil {
			return err
		}
		val = i
	}

	d.push(val)
	return nil
}

func (d *Decoder) readUint32() (uint32, error) {
	var b [4]byte
	if err := d.r.readFull(b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

func (d *Decoder) readUint64() (uint64, error) {
	var b [8]byte
	if err := d.r.readFull(b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b[:]), nil
}

// Push a four-byte signed int
func (d *Decoder) loadBinInt() error {
	v, err := d.readUint32()
	if err != nil {
		return err
	}
	d.push(int64(int32(v))) // NOTE signed: uint32 -> int32, and only then -> int64
	return nil
}

// Push a 1-byte unsigned int
func (d *Decoder) loadBinInt1() error {
	b, err := d.r.ReadByte()
	if err != nil {
		return err
	}
	d.push(int64(b))
	return nil
}

// Push a 2-byte unsigned int
func (d *Decoder) loadBinInt2() error {
	var b [2]byte
	if err := d.r.readFull(b[:]); err != nil {
		return err
	}
	d.push(int64(binary.LittleEndian.Uint16(b[:])))
	return nil
}

// Push a long
func (d *Decoder) loadLong() error {
	line, err := d.readLine()
	if err != nil {
		return err
	}
	if l := len(line); l > 0 && line[l-1] == 'L' {
		line = line[:l-1]
	}
	v, ok := new(big.Int).SetString(string(line), 10)
	if !ok {
		return fmt.Errorf("invalid literal for int: %s", pyquote(string(line)))
	}
	d.push(normLong(v))
	return nil
}

// Push a long1
func (d *Decoder) loadLong1() error {
	n, err := d.r.ReadByte()
	if err != nil {
		return err
	}
	return d.loadLongData(uint64(n))
}

// Push a long4
func (d *Decoder) loadLong4() error {
	n, err := d.readUint32()
	if err != nil {
		return err
	}
	if int32(n) < 0 {
		return fmt.Errorf("LONG pickle has negative byte count")
	}
	return d.loadLongData(uint64(n))
}

func (d *Decoder) loadLongData(n uint64) error {
	data, err := d.r.readData(n)
	if err != nil {
		return err
	}
	d.push(normLong(DecodeLong(data)))
	return nil
}

func (d *Decoder) binFloat() error {
	var b [8]byte
	if err := d.r.readFull(b[:]); err != nil {
		return err
	}
	d.push(math.Float64frombits(binary.BigEndian.Uint64(b[:])))
	return nil
}

// ---- strings and bytes ----

// py2str returns Python 2 str data as string if it is valid UTF-8 text, and as Bytes otherwise.
func py2str(data string) any {
	if utf8.ValidString(data) {
		return data
	}
	return Bytes(data)
}

// Push a string
func (d *Decoder) loadString() error {
	line, err := d.readLine()
	if err != nil {
		return err
	}

	if len(line) < 2 {
		return io.ErrUnexpectedEOF
	}

	var delim byte
	switch line[0] {
	case '\'':
		delim = '\''
	case '"':
		delim = '"'
	default:
		return fmt.Errorf("the STRING opcode argument must be quoted")
	}

	if line[len(line)-1] != delim {
		return fmt.Errorf("the STRING opcode argument must be quoted")
	}

	s, err := pydecodeStringEscape(string(line[1 : len(line)-1]))
	if err != nil {
		return err
	}

	d.push(py2str(s))
	return nil
}

// loadBinData4 reads `len(LE32) [len]data`.
func (d *Decoder) loadBinData4() ([]byte, error) {
	n, err := d.readUint32()
	if err != nil {
		return nil, err
	}
	return d.r.readData(uint64(n))
}

// loadBinData8 reads `len(LE64) [len]data`.
func (d *Decoder) loadBinData8() ([]byte, error) {
	n, err := d.readUint64()
	if err != nil {
		return nil, err
	}
	return d.r.readData(n)
}

// loadShortBinData reads `len(U8) [len]data`.
func (d *Decoder) loadShortBinData() ([]byte, error) {
	n, err := d.r.ReadByte()
	if err != nil {
		return nil, err
	}
	return d.r.readData(uint64(n))
}

func (d *Decoder) loadBinString() error {
	n, err := d.readUint32()
	if err != nil {
		return err
	}
	if int32(n) < 0 {
		return fmt.Errorf("BINSTRING pickle has negative byte count")
	}
	data, err := d.r.readData(uint64(n))
	if err != nil {
		return err
	}
	d.push(py2str(string(data)))
	return nil
}

func (d *Decoder) loadShortBinString() error {
	data, err := d.loadShortBinData()
	if err != nil {
		return err
	}
	d.push(py2str(string(data)))
	return nil
}

func (d *Decoder) loadUnicode() error {
	line, err := d.readLine()
	if err != nil {
		return err
	}

	text, err := pydecodeRawUnicodeEscape(string(line))
	if err != nil {
		return err
	}

	d.push(text)
	return nil
}

func (d *Decoder) pushText(data []byte) error {
	if !utf8.Valid(data) {
		return fmt.Errorf("invalid UTF-8 in %s", pyquote(string(data)))
	}
	d.push(string(data))
	return nil
}

func (d *Decoder) loadBinUnicode() error {
	data, err := d.loadBinData4()
	if err != nil {
		return err
	}
	return d.pushText(data)
}

func (d *Decoder) loadBinUnicode8() error {
	data, err := d.loadBinData8()
	if err != nil {
		return err
	}
	return d.pushText(data)
}

func (d *Decoder) loadShortBinUnicode() error {
	data, err := d.loadShortBinData()
	if err != nil {
		return err
	}
	return d.pushText(data)
}

func (d *Decoder) loadBinBytes() error {
	data, err := d.loadBinData4()
	if err != nil {
		return err
	}
	d.push(Bytes(data))
	return nil
}

func (d *Decoder) loadShortBinBytes() error {
	data, err := d.loadShortBinData()
	if err != nil {
		return err
	}
	d.push(Bytes(data))
	return nil
}

func (d *Decoder) loadBinBytes8() error {
	data, err := d.loadBinData8()
	if err != nil {
		return err
	}
	d.push(Bytes(data))
	return nil
}

func (d *Decoder) loadBytearray8() error {
	data, err := d.loadBinData8()
	if err != nil {
		return err
	}
	d.push(data)
	return nil
}

// ---- buffers and frames ----

func (d *Decoder) loadNextBuffer() error {
	data, err := d.buffers.take()
	if err != nil {
		return err
	}
	d.push(PickleBuffer{Data: data})
	return nil
}

func (d *Decoder) readOnlyBuffer() error {
	x, err := d.top()
	if err != nil {
		return err
	}
	buf, ok := x.(PickleBuffer)
	if !ok {
		return errNotABuffer
	}
	buf.ReadOnly = true
	d.stack[len(d.stack)-1] = buf
	return nil
}

// loadFrame reads the whole frame, so that following opcodes are served from
// memory. See https://www.python.org/dev/peps/pep-3154/#framing
func (d *Decoder) loadFrame() error {
	n, err := d.readUint64()
	if err != nil {
		return err
	}
	return d.r.loadFrame(n)
}

// ---- persistent references ----

// Push a persistent object id
func (d *Decoder) loadPersid() error {
	pid, err := d.readLine()
	if err != nil {
		return err
	}
	if !isASCII(string(pid)) {
		return fmt.Errorf("persistent IDs in protocol 0 must be ASCII strings")
	}

	return d.handleRef(Ref{Pid: string(pid)})
}

// Push a persistent object id from items on the stack
func (d *Decoder) loadBinPersid() error {
	pid, err := d.popUser()
	if err != nil {
		return err
	}
	pid, err = snapshot(pid)
	if err != nil {
		return err
	}
	return d.handleRef(Ref{Pid: pid})
}

// handleRef is common place to handle Refs.
func (d *Decoder) handleRef(ref Ref) error {
	if load := d.config.PersistentLoad; load != nil {
		obj, err := load(ref)
		if err != nil {
			return fmt.Errorf("handleRef: %w", err)
		}
		if obj == nil {
			// PersistentLoad asked to leave the reference as is.
			obj = ref
		}
		d.push(obj)
	} else {
		d.push(ref)
	}
	return nil
}

// ---- memo ----

// memoTop puts top of the stack into memo[key]; the stack is not changed.
// it is the worker for handling PUT, BINPUT, ... opcodes
func (d *Decoder) memoTop(key int) error {
	obj, err := d.top()
	if err != nil {
		return err
	}
	if err := userOK(obj); err != nil {
		return err
	}

	d.memo.put(key, obj)
	return nil
}

func (d *Decoder) memoGet(key int) error {
	v, err := d.memo.get(key)
	if err != nil {
		return err
	}
	d.push(v)
	return nil
}

// lineIndex parses text memo index of PUT and GET.
func (d *Decoder) lineIndex() (int, error) {
	line, err := d.readLine()
	if err != nil {
		return 0, err
	}
	i, err := strconv.Atoi(string(line))
	if err != nil {
		return 0, err
	}
	if i < 0 {
		return 0, fmt.Errorf("negative memo index %d", i)
	}
	return i, nil
}

func (d *Decoder) get() error {
	i, err := d.lineIndex()
	if err != nil {
		return err
	}
	return d.memoGet(i)
}

func (d *Decoder) binGet() error {
	b, err := d.r.ReadByte()
	if err != nil {
		return err
	}
	return d.memoGet(int(b))
}

func (d *Decoder) longBinGet() error {
	v, err := d.readUint32()
	if err != nil {
		return err
	}
	return d.memoGet(int(v))
}

func (d *Decoder) loadPut() error {
	i, err := d.lineIndex()
	if err != nil {
		return err
	}
	return d.memoTop(i)
}

func (d *Decoder) binPut() error {
	b, err := d.r.ReadByte()
	if err != nil {
		return err
	}
	return d.memoTop(int(b))
}

func (d *Decoder) longBinPut() error {
	v, err := d.readUint32()
	if err != nil {
		return err
	}
	if int32(v) < 0 {
		return fmt.Errorf("negative LONG_BINPUT argument")
	}
	return d.memoTop(int(v))
}

func (d *Decoder) loadMemoize() error {
	obj, err := d.top()
	if err != nil {
		return err
	}
	if err := userOK(obj); err != nil {
		return err
	}
	d.memo.memoize(obj)
	return nil
}

// ---- containers ----

func (d *Decoder) loadList() error {
	items, err := d.popMarked()
	if err != nil {
		return err
	}
	d.push(&listNode{items: append([]any(nil), items...)})
	return nil
}

func (d *Decoder) loadAppend() error {
	if len(d.stack) < 2 {
		return errStackUnderflow
	}
	v := d.xpop()
	if err := userOK(v); err != nil {
		return err
	}
	l, ok := d.stack[len(d.stack)-1].(*listNode)
	if !ok {
		return fmt.Errorf("expected a list, got %s", typeOf(d.stack[len(d.stack)-1]))
	}
	l.items = append(l.items, v)
	return nil
}

func (d *Decoder) loadAppends() error {
	k, err := d.marker()
	if err != nil {
		return err
	}
	if k < 1 {
		return errStackUnderflow
	}

	l, ok := d.stack[k-1].(*listNode)
	if !ok {
		return fmt.Errorf("expected a list, got %s", typeOf(d.stack[k-1]))
	}
	items, err := d.popMarked()
	if err != nil {
		return err
	}
	l.items = append(l.items, items...)
	return nil
}

func (d *Decoder) loadDict() error {
	items, err := d.popMarked()
	if err != nil {
		return err
	}
	if len(items)%2 != 0 {
		return fmt.Errorf("odd number of items for DICT")
	}
	d.push(&dictNode{items: append([]any(nil), items...)})
	return nil
}

func (d *Decoder) loadSetItem() error {
	if len(d.stack) < 3 {
		return errStackUnderflow
	}
	v := d.xpop()
	k := d.xpop()
	if err := userOK(k, v); err != nil {
		return err
	}
	m, ok := d.stack[len(d.stack)-1].(*dictNode)
	if !ok {
		return fmt.Errorf("expected a dict, got %s", typeOf(d.stack[len(d.stack)-1]))
	}
	m.items = append(m.items, k, v)
	return nil
}

func (d *Decoder) loadSetItems() error {
	k, err := d.marker()
	if err != nil {
		return err
	}
	if k < 1 {
		return errStackUnderflow
	}

	m, ok := d.stack[k-1].(*dictNode)
	if !ok {
		return fmt.Errorf("expected a dict, got %s", typeOf(d.stack[k-1]))
	}
	items, err := d.popMarked()
	if err != nil {
		return err
	}
	if len(items)%2 != 0 {
		return fmt.Errorf("odd number of items for SETITEMS")
	}
	m.items = append(m.items, items...)
	return nil
}

func (d *Decoder) loadAddItems() error {
	k, err := d.marker()
	if err != nil {
		return err
	}
	if k < 1 {
		return errStackUnderflow
	}

	s, ok := d.stack[k-1].(*setNode)
	if !ok || s.frozen {
		return fmt.Errorf("expected a set, got %s", typeOf(d.stack[k-1]))
	}
	items, err := d.popMarked()
	if err != nil {
		return err
	}
	s.items = append(s.items, items...)
	return nil
}

func (d *Decoder) loadFrozenSet() error {
	items, err := d.popMarked()
	if err != nil {
		return err
	}
	d.push(&setNode{items: append([]any(nil), items...), frozen: true})
	return nil
}

// newTuple returns tuple of items: Tuple, or *tupleNode if items contain nodes.
func newTuple(items []any) any {
	if hasNode(items) {
		return &tupleNode{items: items}
	}
	return Tuple(items)
}

func (d *Decoder) loadTuple() error {
	items, err := d.popMarked()
	if err != nil {
		return err
	}
	d.push(newTuple(append([]any{}, items...)))
	return nil
}

// tupleN(n) creates tuple from top n stack objects.
// it serves TUPLE{1,2,3} opcode handlers.
func (d *Decoder) tupleN(n int) error {
	if len(d.stack) < n {
		return errStackUnderflow
	}
	k := len(d.stack) - n
	if err := userOK(d.stack[k:]...); err != nil {
		return err
	}
	v := newTuple(append([]any{}, d.stack[k:]...))
	d.stack = append(d.stack[:k], v)
	return nil
}

// tupleItems returns items of tuple x, which is Tuple or *tupleNode.
func tupleItems(x any) ([]any, bool) {
	switch x := x.(type) {
	case Tuple:
		return x, true
	case *tupleNode:
		return x.items, true
	}
	return nil, false
}

// typeOf names type of x as it is seen by user.
func typeOf(x any) string {
	switch x.(type) {
	case *listNode:
		return "list"
	case *dictNode:
		return "dict"
	case *setNode:
		return "set"
	case *tupleNode:
		return "tuple"
	case *callNode:
		return "object"
	}
	return fmt.Sprintf("%T", x)
}

// ---- classes and objects ----

// knownBuiltins are classes that the decoder handles itself.
var knownBuiltins = map[Class]bool{}

func init() {
	for _, module := range []string{"builtins", "__builtin__"} {
		for _, name := range []string{"object", "set", "frozenset", "bytearray", "bytes", "complex"} {
			knownBuiltins[Class{module, name}] = true
		}
	}
	knownBuiltins[Class{"copyreg", "_reconstructor"}] = true
	knownBuiltins[Class{"copy_reg", "_reconstructor"}] = true
	knownBuiltins[Class{"_codecs", "encode"}] = true
}

// findClass returns reference to module.name after checking that it can be used.
func (d *Decoder) findClass(module, name string) (Class, error) {
	class := Class{Module: module, Name: name}
	if knownBuiltins[class] || d.config.Symbolic {
		return class, nil
	}
	if _, err := d.resolver.Rebuild(class); err != nil {
		return Class{}, err
	}
	return class, nil
}

func (d *Decoder) global() error {
	module, err := d.readLine()
	if err != nil {
		return err
	}
	smodule := string(module)
	name, err := d.readLine()
	if err != nil {
		return err
	}
	class, err := d.findClass(smodule, string(name))
	if err != nil {
		return err
	}
	d.push(class)
	return nil
}

func (d *Decoder) stackGlobal() error {
	if len(d.stack) < 2 {
		return errStackUnderflow
	}
	xname := d.xpop()
	xmodule := d.xpop()

	name, ok := xname.(string)
	if !ok {
		return fmt.Errorf("STACK_GLOBAL requires str name, not %s", typeOf(xname))
	}
	module, ok := xmodule.(string)
	if !ok {
		return fmt.Errorf("STACK_GLOBAL requires str module, not %s", typeOf(xmodule))
	}
	class, err := d.findClass(module, name)
	if err != nil {
		return err
	}
	d.push(class)
	return nil
}

func (d *Decoder) reduce() error {
	if len(d.stack) < 2 {
		return errStackUnderflow
	}
	xargs := d.xpop()
	xclass := d.xpop()
	args, ok := tupleItems(xargs)
	if !ok {
		return fmt.Errorf("argument list must be a tuple, not %s", typeOf(xargs))
	}
	class, ok := xclass.(Class)
	if !ok {
		return fmt.Errorf("%s is not callable", typeOf(xclass))
	}

	// try to handle the call.
	// If the call is unknown - represent it symbolically with Call{...} .
	err := d.handleCall(class, args)
	if err == errCallNotHandled {
		err = d.instantiate(class, args, true)
	}
	return err
}

// errCallNotHandled is internal error via which handleCall signals that it did
// not handled the call.
var errCallNotHandled = errors.New("handleCall: call not handled")

// handleCall translates known python calls to appropriate Go objects.
//
// for example _codecs.encode(..., 'latin1') is handled as conversion to Bytes.
func (d *Decoder) handleCall(class Class, argv []any) error {
	if !knownBuiltins[class] {
		return errCallNotHandled
	}

	switch class.Name {
	case "encode":
		// for protocols <= 2 Python3 encodes bytes as `_codecs.encode(byt.decode('latin1'), 'latin1')`
		if len(argv) == 2 && stringEQ(argv[1], "latin1") {
			data, err := decodeLatin1Bytes(argv[0])
			if err != nil {
				return fmt.Errorf("_codecs.encode: %s", err)
			}
			d.push(Bytes(data))
			return nil
		}

	case "bytes":
		if len(argv) == 0 {
			d.push(Bytes(""))
			return nil
		}

	case "bytearray":
		switch {
		case len(argv) == 0:
			d.push([]byte{})
			return nil

		// bytearray(bytes(...))
		case len(argv) == 1:
			data, ok := argv[0].(Bytes)
			if !ok {
				return fmt.Errorf("bytearray: want (bytes,)  ; got (%s,)", typeOf(argv[0]))
			}
			d.push([]byte(data))
			return nil

		// bytearray(unicode, encoding)
		case len(argv) == 2 && (stringEQ(argv[1], "latin-1") || stringEQ(argv[1], "latin1")):
			data, err := decodeLatin1Bytes(argv[0])
			if err != nil {
				return fmt.Errorf("bytearray: %s", err)
			}
			d.push(data)
			return nil
		}

	case "set", "frozenset":
		s := &setNode{frozen: class.Name == "frozenset"}
		switch len(argv) {
		case 0:
		case 1:
			switch x := argv[0].(type) {
			case *listNode:
				s.items = append(s.items, x.items...)
			case *setNode:
				s.items = append(s.items, x.items...)
			default:
				items, ok := tupleItems(x)
				if !ok {
					return fmt.Errorf("%s: want iterable, got %s", class.Name, typeOf(x))
				}
				s.items = append(s.items, items...)
			}
		default:
			return fmt.Errorf("%s expected at most 1 argument, got %d", class.Name, len(argv))
		}
		d.push(s)
		return nil

	case "complex":
		var re, im float64
		var err error
		switch len(argv) {
		case 2:
			if im, err = AsFloat64(argv[1]); err != nil {
				return fmt.Errorf("complex: %s", err)
			}
			fallthrough
		case 1:
			if re, err = AsFloat64(argv[0]); err != nil {
				return fmt.Errorf("complex: %s", err)
			}
		case 0:
		default:
			return fmt.Errorf("complex: too many arguments")
		}
		d.push(complex(re, im))
		return nil

	case "_reconstructor":
		// copyreg._reconstructor(cls, object, None) creates bare object.
		if len(argv) != 3 {
			return fmt.Errorf("_reconstructor: want 3 arguments, got %d", len(argv))
		}
		cls, ok := argv[0].(Class)
		if !ok {
			return fmt.Errorf("_reconstructor: invalid class: %s", typeOf(argv[0]))
		}
		base, _ := argv[1].(Class)
		if base.Name != "object" || !knownBuiltins[base] || !(argv[2] == nil || argv[2] == (None{})) {
			return fmt.Errorf("_reconstructor: only object base without state is supported")
		}
		return d.instantiate(cls, nil, false)
	}

	return fmt.Errorf("unsupported call %s with %d arguments", class, len(argv))
}

// instantiate pushes object of class created with args.
//
// Registered classes get a bare object. Unknown classes in symbolic mode
// become Call if byCall, or *Instance otherwise.
func (d *Decoder) instantiate(class Class, args []any, byCall bool) error {
	if knownBuiltins[class] && class.Name != "object" && class.Name != "_reconstructor" {
		return d.handleCall(class, args)
	}

	if obj, err := d.resolver.New(class); err == nil {
		if len(args) != 0 {
			return fmt.Errorf("%s takes no constructor arguments; got %d", class, len(args))
		}
		d.push(obj.Interface())
		return nil
	}

	if !d.config.Symbolic {
		_, err := d.resolver.Rebuild(class)
		return err
	}

	if byCall {
		d.push(&callNode{callable: class, args: append([]any{}, args...)})
		return nil
	}
	inst := &Instance{Class: class}
	d.setArgs(inst, args)
	d.push(inst)
	return nil
}

// setArgs sets constructor arguments of inst, deferring it if they contain nodes.
func (d *Decoder) setArgs(inst *Instance, args []any) {
	args = append([]any{}, args...)
	if hasNode(args) {
		d.arena.instArgs = append(d.arena.instArgs, instanceArgs{inst: inst, args: args})
		return
	}
	inst.Args = args
}

func (d *Decoder) newobj() error {
	if len(d.stack) < 2 {
		return errStackUnderflow
	}
	xargs := d.xpop()
	xclass := d.xpop()
	return d.newObject("NEWOBJ", xclass, xargs)
}

func (d *Decoder) newobjEx() error {
	if len(d.stack) < 3 {
		return errStackUnderflow
	}
	xkw := d.xpop()
	xargs := d.xpop()
	xclass := d.xpop()
	switch kw := xkw.(type) {
	case *dictNode:
		if len(kw.items) != 0 {
			return fmt.Errorf("NEWOBJ_EX: keyword arguments are not supported")
		}
	default:
		return fmt.Errorf("NEWOBJ_EX: kwargs must be a dict, not %s", typeOf(xkw))
	}
	return d.newObject("NEWOBJ_EX", xclass, xargs)
}

func (d *Decoder) newObject(op string, xclass, xargs any) error {
	class, ok := xclass.(Class)
	if !ok {
		return fmt.Errorf("%s: class must be a class, not %s", op, typeOf(xclass))
	}
	args, ok := tupleItems(xargs)
	if !ok {
		return fmt.Errorf("%s: args must be a tuple, not %s", op, typeOf(xargs))
	}
	return d.instantiate(class, args, false)
}

func (d *Decoder) obj() error {
	items, err := d.popMarked()
	if err != nil {
		return err
	}
	if len(items) < 1 {
		return errStackUnderflow
	}
	class, ok := items[0].(Class)
	if !ok {
		return fmt.Errorf("OBJ: class must be a class, not %s", typeOf(items[0]))
	}
	args := append([]any{}, items[1:]...)
	return d.instantiate(class, args, false)
}

func (d *Decoder) inst() error {
	module, err := d.readLine()
	if err != nil {
		return err
	}
	smodule := string(module)
	name, err := d.readLine()
	if err != nil {
		return err
	}
	class, err := d.findClass(smodule, string(name))
	if err != nil {
		return err
	}
	items, err := d.popMarked()
	if err != nil {
		return err
	}
	return d.instantiate(class, append([]any{}, items...), false)
}

func (d *Decoder) build() error {
	if len(d.stack) < 2 {
		return errStackUnderflow
	}
	state := d.xpop()
	if err := userOK(state); err != nil {
		return err
	}

	switch obj := d.stack[len(d.stack)-1].(type) {
	case *Instance:
		d.arena.instState = append(d.arena.instState, instanceState{inst: obj, state: state})
		return nil
	case *callNode:
		obj.built = true
		obj.state = state
		return nil
	case mark:
		return errNoMarkUse
	case nil:
		return fmt.Errorf("BUILD: cannot set state of nil")
	default:
		rv := reflect.ValueOf(obj)
		if rv.Kind() == reflect.Pointer && !rv.IsNil() {
			if _, ok := d.resolver.lookup(rv.Type().Elem()); ok {
				d.arena.builds = append(d.arena.builds, build{obj: rv, state: state})
				return nil
			}
		}
		return fmt.Errorf("BUILD: cannot set state of %s", typeOf(obj))
	}
}

// decodeLatin1Bytes tries to decode bytes from arg assuming it is latin1-encoded unicode.
//
// Python uses such representation of bytes for protocols <= 2 - where there is
// no BYTES* opcodes.
func decodeLatin1Bytes(arg any) ([]byte, error) {
	// bytes as latin1-decoded unicode
	ulatin1, ok := arg.(string)
	if !ok {
		return nil, fmt.Errorf("latin1: arg must be string, not %s", typeOf(arg))
	}

	data := make([]byte, 0, len(ulatin1))
	for _, r := range ulatin1 {
		if r >= 0x100 {
			return nil, fmt.Errorf("latin1: cannot encode %q", r)
		}

		data = append(data, byte(r))
	}

	return data, nil
}

// opName returns name of opcode key for error messages.
func opName(key byte) string {
	if name, ok := opNames[key]; ok {
		return name
	}
	return fmt.Sprintf("opcode %q", key)
}

var opNames = map[byte]string{
	opMark: "MARK", opStop: "STOP", opPop: "POP", opDup: "DUP", opFloat: "FLOAT",
	opInt: "INT", opLong: "LONG", opNone: "NONE", opPersid: "PERSID", opReduce: "REDUCE",
	opString: "STRING", opUnicode: "UNICODE", opAppend: "APPEND", opBuild: "BUILD",
	opGlobal: "GLOBAL", opDict: "DICT", opGet: "GET", opInst: "INST", opList: "LIST",
	opPut: "PUT", opSetitem: "SETITEM", opTuple: "TUPLE",

	opPopMark: "POP_MARK", opBinint: "BININT", opBinint1: "BININT1", opBinint2: "BININT2",
	opBinpersid: "BINPERSID", opBinstring: "BINSTRING", opShortBinstring: "SHORT_BINSTRING",
	opBinunicode: "BINUNICODE", opAppends: "APPENDS", opBinget: "BINGET",
	opLongBinget: "LONG_BINGET", opEmptyList: "EMPTY_LIST", opEmptyTuple: "EMPTY_TUPLE",
	opEmptyDict: "EMPTY_DICT", opObj: "OBJ", opBinput: "BINPUT", opLongBinput: "LONG_BINPUT",
	opSetitems: "SETITEMS", opBinfloat: "BINFLOAT",

	opProto: "PROTO", opNewobj: "NEWOBJ", opExt1: "EXT1", opExt2: "EXT2", opExt4: "EXT4",
	opTuple1: "TUPLE1", opTuple2: "TUPLE2", opTuple3: "TUPLE3", opNewtrue: "NEWTRUE",
	opNewfalse: "NEWFALSE", opLong1: "LONG1", opLong4: "LONG4",

	opBinbytes: "BINBYTES", opShortBinbytes: "SHORT_BINBYTES",

	opShortBinUnicode: "SHORT_BINUNICODE", opBinunicode8: "BINUNICODE8",
	opBinbytes8: "BINBYTES8", opEmptySet: "EMPTY_SET", opAddItems: "ADDITEMS",
	opFrozenSet: "FROZENSET", opNewobjEx: "NEWOBJ_EX", opStackGlobal: "STACK_GLOBAL",
	opMemoize: "MEMOIZE", opFrame: "FRAME",

	opBytearray8: "BYTEARRAY8", opNextBuffer: "NEXT_BUFFER", opReadOnlyBuffer: "READONLY_BUFFER",
}
