package pickle

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"math/big"
	"reflect"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// DefaultMaxDepth is the nesting limit of containers and objects used when
// EncoderConfig.MaxDepth is 0.
const DefaultMaxDepth = 10000

// batchSize is the number of items emitted per APPENDS, SETITEMS or ADDITEMS.
const batchSize = 1000

// An Encoder encodes Go data structures into pickle byte stream
type Encoder struct {
	w      io.Writer
	config *EncoderConfig

	// state of current Encode
	out      *framer
	proto    int
	resolver *ClassResolver
	memo     *memo[memoKey]
	buffers  *bufferChannel
	tasks    []task
	depth    int
	maxDepth int
	keep     []any // synthesized values that are memoized by address
	quiet    bool  // no metrics and logs
}

// EncoderConfig allows to tune Encoder.
type EncoderConfig struct {
	// Protocol specifies which pickle protocol version should be used: 0..5,
	// or -1 for HighestProtocol.
	Protocol int

	// BufferCallback, if !nil, decides for every PickleBuffer whether it is
	// serialized in-band or out-of-band. It is allowed only with protocol 5.
	BufferCallback BufferCallback

	// PersistentRef, if !nil, will be used by encoder to encode objects as persistent references.
	//
	// Whenever the encoders sees pointer to a Go struct object, it will call
	// PersistentRef to find out how to encode that object. If PersistentRef
	// returns nil, the object is encoded regularly. If !nil - the object
	// will be encoded as an object reference.
	//
	// See Ref documentation for more details.
	PersistentRef func(obj any) *Ref

	// Resolver maps registered types to class names. nil means DefaultResolver.
	Resolver *ClassResolver

	// MaxDepth limits nesting of containers and objects. 0 means DefaultMaxDepth.
	MaxDepth int
}

// NewEncoder returns a new Encoder that uses DefaultProtocol.
func NewEncoder(w io.Writer) *Encoder {
	return NewEncoderWithConfig(w, &EncoderConfig{Protocol: DefaultProtocol})
}

// NewEncoderWithConfig is similar to NewEncoder, but allows specifying the encoder configuration.
func NewEncoderWithConfig(w io.Writer, config *EncoderConfig) *Encoder {
	return &Encoder{w: w, config: config}
}

// encodeStandalone returns pickle of x on its own, at the highest protocol.
func encodeStandalone(x any) ([]byte, error) {
	var buf bytes.Buffer
	e := NewEncoderWithConfig(&buf, &EncoderConfig{Protocol: HighestProtocol})
	e.quiet = true
	err := e.Encode(x)
	return buf.Bytes(), err
}

// Encode writes the pickle encoding of v to w, the encoder's writer.
func (e *Encoder) Encode(v any) (err error) {
	proto, err := checkProtocol(e.config.Protocol)
	if err == nil && e.config.BufferCallback != nil && proto < 5 {
		err = valueError("encode", "buffer_callback needs protocol >= 5; got %d", proto)
	}
	if err != nil {
		countError(err)
		return err
	}

	e.reset(proto)
	defer func() {
		if r := recover(); r != nil {
			err = newError(KindPickling, "encode", fmt.Errorf("%v", r), "panic")
		}
		e.tasks = e.tasks[:0]
		e.keep = nil
		if err != nil && !e.quiet {
			countError(err)
			Logger().Debug("encode failed", zap.Int("protocol", proto), zap.Error(err))
		}
	}()

	if e.proto >= 2 {
		e.write(opProto, byte(e.proto))
	}
	if e.proto >= 4 {
		e.out.startFraming()
	}

	e.tasks = append(e.tasks, task{kind: taskSave, v: v, persid: true})
	if err := e.run(); err != nil {
		return err
	}

	e.write(opStop)
	if err := e.out.flush(); err != nil {
		var perr *Error
		if errors.As(err, &perr) {
			return err
		}
		return errors.Wrap(err, "pickle: encode")
	}

	if !e.quiet {
		metricEncoded.WithLabelValues(protoLabel(e.proto)).Inc()
		metricEncodedBytes.Add(float64(e.out.n))
	}
	return nil
}

func (e *Encoder) reset(proto int) {
	if e.out == nil {
		e.out = newFramer(e.w)
	} else {
		e.out.reset(e.w)
	}
	e.proto = proto
	e.resolver = e.config.Resolver
	if e.resolver == nil {
		e.resolver = DefaultResolver
	}
	e.memo = newMemo[memoKey]()
	e.buffers = &bufferChannel{callback: e.config.BufferCallback}
	e.depth = 0
	e.maxDepth = e.config.MaxDepth
	if e.maxDepth <= 0 {
		e.maxDepth = DefaultMaxDepth
	}
}

// ---- tasks ----

type taskKind uint8

const (
	taskSave   taskKind = iota // save v
	taskOp                     // write single opcode
	taskWrite                  // write raw
	taskFinish                 // close immutable container, or memoize reduced object
	taskLeave                  // leave container
)

type task struct {
	kind   taskKind
	op     byte
	v      any
	persid bool // taskSave: consult PersistentRef

	raw  []byte   // taskWrite; closing opcodes for taskFinish
	undo []byte   // taskFinish: opcodes that drop the container if it is already in memo
	key  *memoKey // taskFinish: identity of the container; nil if it has no identity
}

func saveTask(v any) task       { return task{kind: taskSave, v: v, persid: true} }
func opTask(op byte) task       { return task{kind: taskOp, op: op} }
func writeTask(raw []byte) task { return task{kind: taskWrite, raw: raw} }

var leaveTask = task{kind: taskLeave}

// schedule pushes ts to the task stack so that they run in the given order.
func (e *Encoder) schedule(ts ...task) {
	for i := len(ts) - 1; i >= 0; i-- {
		e.tasks = append(e.tasks, ts[i])
	}
}

func (e *Encoder) run() error {
	for len(e.tasks) > 0 {
		t := e.tasks[len(e.tasks)-1]
		e.tasks = e.tasks[:len(e.tasks)-1]
		e.out.commitFrame(false)

		switch t.kind {
		case taskSave:
			if err := e.save(t.v, t.persid); err != nil {
				return err
			}
		case taskOp:
			e.write(t.op)
		case taskWrite:
			e.out.Write(t.raw)
		case taskFinish:
			e.finish(t)
		case taskLeave:
			e.depth--
		}
	}
	return nil
}

// enter accounts descending into a container or an object.
func (e *Encoder) enter() error {
	e.depth++
	if e.depth > e.maxDepth {
		return picklingError("encode", "maximum recursion depth exceeded (%d)", e.maxDepth)
	}
	return nil
}

// finish closes a container whose identity is registered only after its items.
//
// If the container got into memo while its items were saved, what was pushed
// for it is dropped and the memoized object is fetched instead.
func (e *Encoder) finish(t task) {
	if t.key != nil {
		if slot, ok := e.memo.lookup(*t.key); ok {
			e.out.Write(t.undo)
			e.get(slot)
			return
		}
	}
	e.out.Write(t.raw)
	if t.key != nil {
		e.memoize(*t.key)
	}
}

// ---- emitting ----

func (e *Encoder) write(b ...byte) {
	e.out.Write(b)
}

func (e *Encoder) writeString(s string) {
	e.out.WriteString(s)
}

func le32(op byte, n int) []byte {
	b := []byte{op, 0, 0, 0, 0}
	binary.LittleEndian.PutUint32(b[1:], uint32(n))
	return b
}

func le64(op byte, n int) []byte {
	b := []byte{op, 0, 0, 0, 0, 0, 0, 0, 0}
	binary.LittleEndian.PutUint64(b[1:], uint64(n))
	return b
}

// memoize registers key in memo and emits store of stack top to its slot.
func (e *Encoder) memoize(key memoKey) {
	slot, _ := e.memo.register(key)
	switch {
	case e.proto >= 4:
		e.write(opMemoize)
	case e.proto >= 1 && slot < 256:
		e.write(opBinput, byte(slot))
	case e.proto >= 1:
		e.out.Write(le32(opLongBinput, slot))
	default:
		e.writeString(fmt.Sprintf("%c%d\n", opPut, slot))
	}
}

// get emits fetch of memo slot.
func (e *Encoder) get(slot int) {
	switch {
	case e.proto >= 1 && slot < 256:
		e.write(opBinget, byte(slot))
	case e.proto >= 1:
		e.out.Write(le32(opLongBinget, slot))
	default:
		e.writeString(fmt.Sprintf("%c%d\n", opGet, slot))
	}
}

// ---- values ----

// rawList and rawTuple are synthesized sequences, e.g. arguments of reduce.
// They are emitted without memoization.
type rawList []any
type rawTuple []any

// valueTypes are the struct types of our own values. Pointers to them are
// pickled as the value they point to; they are never objects.
var valueTypes = map[reflect.Type]bool{
	reflect.TypeOf(None{}):         true,
	reflect.TypeOf(Class{}):        true,
	reflect.TypeOf(Call{}):         true,
	reflect.TypeOf(Ref{}):          true,
	reflect.TypeOf(Dict{}):         true,
	reflect.TypeOf(Set{}):          true,
	reflect.TypeOf(FrozenSet{}):    true,
	reflect.TypeOf(PickleBuffer{}): true,
}

func (e *Encoder) save(v any, persid bool) error {
	if pr := e.config.PersistentRef; persid && pr != nil {
		if ref := pr(v); ref != nil {
			return e.savePersid(ref.Pid)
		}
	}

	key, hasKey := identityOf(v)
	if hasKey {
		if slot, ok := e.memo.lookup(key); ok {
			e.get(slot)
			return nil
		}
	}
	var pkey *memoKey
	if hasKey {
		pkey = &key
	}

	switch v := v.(type) {
	case nil, None:
		e.write(opNone)
		return nil
	case mark:
		return picklingError("encode", "MARK object cannot be pickled")
	case Ref:
		return e.savePersid(v.Pid)
	case bool:
		e.saveBool(v)
		return nil
	case string:
		return e.saveString(v)
	case Bytes:
		return e.saveBytes(string(v))
	case []byte:
		return e.saveBytearray(v, pkey)
	case *big.Int:
		if v == nil {
			e.write(opNone)
			return nil
		}
		e.saveBigInt(v)
		return nil
	case Tuple:
		return e.saveTuple(v, pkey)
	case rawTuple:
		return e.saveTuple(v, nil)
	case rawList:
		return e.saveList(v, nil)
	case Dict:
		return e.saveDict(v, pkey)
	case Set:
		return e.saveSet(v.s, false, pkey)
	case FrozenSet:
		return e.saveSet(v.s, true, pkey)
	case Class:
		return e.saveGlobal(v)
	case Call:
		return e.saveReduce(v.Callable, v.Args, nil)
	case *Instance:
		if v == nil {
			e.write(opNone)
			return nil
		}
		return e.saveInstance(v, pkey)
	case PickleBuffer:
		return e.savePickleBuffer(v)
	}

	return e.saveReflect(reflect.ValueOf(v), pkey)
}

func (e *Encoder) saveReflect(rv reflect.Value, key *memoKey) error {
	switch rv.Kind() {
	case reflect.Bool:
		e.saveBool(rv.Bool())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		e.saveInt(rv.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		u := rv.Uint()
		if u <= math.MaxInt64 {
			e.saveInt(int64(u))
		} else {
			e.saveLong(new(big.Int).SetUint64(u))
		}
	case reflect.Float32, reflect.Float64:
		e.saveFloat(rv.Float())
	case reflect.Complex64, reflect.Complex128:
		c := rv.Complex()
		return e.saveReduce(pybuiltin(e.proto, "complex"), Tuple{real(c), imag(c)}, nil)
	case reflect.String:
		return e.saveString(rv.String())

	case reflect.Slice:
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			return e.saveBytearray(rv.Bytes(), key)
		}
		return e.saveList(sliceItems(rv), key)

	case reflect.Array:
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			b := make([]byte, rv.Len())
			reflect.Copy(reflect.ValueOf(b), rv)
			return e.saveBytes(string(b))
		}
		return e.saveList(sliceItems(rv), nil)

	case reflect.Map:
		return e.saveMap(rv, key)

	case reflect.Struct:
		if class, ok := e.resolver.lookup(rv.Type()); ok {
			return e.saveObject(rv, class, nil)
		}
		return e.saveRecord(rv)

	case reflect.Pointer:
		if rv.IsNil() {
			e.write(opNone)
			return nil
		}
		elem := rv.Type().Elem()
		if elem.Kind() == reflect.Struct && !valueTypes[elem] {
			class, err := e.resolver.Resolve(elem)
			if err != nil {
				return err
			}
			return e.saveObject(rv, class, key)
		}
		if err := e.enter(); err != nil {
			return err
		}
		e.schedule(saveTask(rv.Elem().Interface()), leaveTask)

	default:
		return picklingError("encode", "Can't pickle %s objects", rv.Type())
	}
	return nil
}

func sliceItems(rv reflect.Value) []any {
	if items, ok := rv.Interface().([]any); ok {
		return items
	}
	items := make([]any, rv.Len())
	for i := range items {
		items[i] = rv.Index(i).Interface()
	}
	return items
}

func (e *Encoder) saveBool(b bool) {
	switch {
	case e.proto >= 2 && b:
		e.write(opNewtrue)
	case e.proto >= 2:
		e.write(opNewfalse)
	case b:
		e.writeString(opTrue)
	default:
		e.writeString(opFalse)
	}
}

func (e *Encoder) saveInt(i int64) {
	if e.proto >= 1 {
		switch {
		case 0 <= i && i <= math.MaxUint8:
			e.write(opBinint1, byte(i))
		case 0 <= i && i <= math.MaxUint16:
			e.write(opBinint2, byte(i), byte(i>>8))
		case math.MinInt32 <= i && i <= math.MaxInt32:
			e.out.Write(le32(opBinint, int(int32(i))))
		default:
			e.saveLong(big.NewInt(i))
		}
		return
	}

	if math.MinInt32 <= i && i <= math.MaxInt32 {
		e.writeString(fmt.Sprintf("%c%d\n", opInt, i))
		return
	}
	e.saveLong(big.NewInt(i))
}

func (e *Encoder) saveBigInt(b *big.Int) {
	if b.IsInt64() {
		e.saveInt(b.Int64())
		return
	}
	e.saveLong(b)
}

// saveLong emits integer outside of BININT range.
func (e *Encoder) saveLong(b *big.Int) {
	if e.proto >= 2 {
		data := EncodeLong(b)
		if len(data) < 256 {
			e.write(opLong1, byte(len(data)))
		} else {
			e.out.Write(le32(opLong4, len(data)))
		}
		e.out.Write(data)
		return
	}
	e.writeString(fmt.Sprintf("%c%sL\n", opLong, b))
}

func (e *Encoder) saveFloat(f float64) {
	if e.proto >= 1 {
		var b [9]byte
		b[0] = opBinfloat
		binary.BigEndian.PutUint64(b[1:], math.Float64bits(f))
		e.write(b[:]...)
		return
	}
	e.writeString(fmt.Sprintf("%c%s\n", opFloat, floatRepr(f)))
}

// floatRepr formats f the way Python repr does, modulo exponent thresholds.
func floatRepr(f float64) string {
	switch {
	case math.IsInf(f, +1):
		return "inf"
	case math.IsInf(f, -1):
		return "-inf"
	case math.IsNaN(f):
		return "nan"
	}
	s := strconv.FormatFloat(f, 'g', -1, 64)
	if !strings.ContainsAny(s, ".e") {
		s += ".0"
	}
	return s
}

func (e *Encoder) saveString(s string) error {
	if !utf8.ValidString(s) {
		return picklingError("encode", "invalid UTF-8 in string %s", pyquote(s))
	}

	if e.proto == 0 {
		text, err := pyencodeRawUnicodeEscape(s)
		if err != nil {
			return newError(KindPickling, "encode", err, "UNICODE")
		}
		e.write(opUnicode)
		e.writeString(text)
		e.write('\n')
		return nil
	}

	n := len(s)
	switch {
	case n <= math.MaxUint8 && e.proto >= 4:
		e.write(opShortBinUnicode, byte(n))
		e.writeString(s)
	case uint64(n) > math.MaxUint32 && e.proto >= 4:
		e.out.writeLarge(le64(opBinunicode8, n), []byte(s))
	case uint64(n) > math.MaxUint32:
		return picklingError("encode", "cannot serialize a string larger than 4GiB")
	default:
		e.out.writeLarge(le32(opBinunicode, n), []byte(s))
	}
	return nil
}

// emitBytes emits data with BYTES family opcodes.
func (e *Encoder) emitBytes(data []byte) error {
	n := len(data)
	switch {
	case n <= math.MaxUint8:
		e.write(opShortBinbytes, byte(n))
		e.out.Write(data)
	case uint64(n) > math.MaxUint32 && e.proto >= 4:
		e.out.writeLarge(le64(opBinbytes8, n), data)
	case uint64(n) > math.MaxUint32:
		return picklingError("encode", "cannot serialize a bytes object larger than 4GiB")
	default:
		e.out.writeLarge(le32(opBinbytes, n), data)
	}
	return nil
}

func (e *Encoder) saveBytes(s string) error {
	if e.proto >= 3 {
		return e.emitBytes([]byte(s))
	}
	// there are no BYTES opcodes: bytes are reconstructed from latin1 text
	if s == "" {
		return e.saveReduce(pybuiltin(e.proto, "bytes"), nil, nil)
	}
	return e.saveReduce(Class{Module: "_codecs", Name: "encode"}, Tuple{latin1Text(s), "latin1"}, nil)
}

func (e *Encoder) saveBytearray(data []byte, key *memoKey) error {
	if e.proto >= 5 {
		e.out.writeLarge(le64(opBytearray8, len(data)), data)
		if key != nil {
			e.memoize(*key)
		}
		return nil
	}

	var args Tuple
	switch {
	case len(data) == 0:
	case e.proto >= 3:
		args = Tuple{Bytes(data)}
	default:
		args = Tuple{latin1Text(string(data)), "latin-1"}
	}
	return e.saveReduce(pybuiltin(e.proto, "bytearray"), args, key)
}

func (e *Encoder) savePickleBuffer(buf PickleBuffer) error {
	if e.proto < 5 {
		return picklingError("encode", "PickleBuffer can only be pickled with protocol >= 5")
	}
	if !e.buffers.route(buf) {
		e.write(opNextBuffer)
		if buf.ReadOnly {
			e.write(opReadOnlyBuffer)
		}
		return nil
	}
	if buf.ReadOnly {
		return e.emitBytes(buf.Data)
	}
	e.out.writeLarge(le64(opBytearray8, len(buf.Data)), buf.Data)
	return nil
}

// latin1Text returns text whose characters are bytes of s.
func latin1Text(s string) string {
	r := make([]rune, len(s))
	for i := 0; i < len(s); i++ {
		r[i] = rune(s[i])
	}
	return string(r)
}

// ---- containers ----

// batch returns tasks to save items into container at stack top.
//
// group is 1 for lists and sets, and 2 for dict key/value pairs. Protocol 0
// adds every item with one; later protocols add items in batches with many,
// using one for a batch of single item when one != 0.
func (e *Encoder) batch(items []any, group int, one, many byte) []task {
	ts := make([]task, 0, len(items)+2*(len(items)/(group*batchSize)+1))

	if e.proto == 0 {
		for i := 0; i < len(items); i += group {
			for _, x := range items[i : i+group] {
				ts = append(ts, saveTask(x))
			}
			ts = append(ts, opTask(one))
		}
		return ts
	}

	per := group * batchSize
	for i := 0; i < len(items); i += per {
		chunk := items[i:min(i+per, len(items))]
		if len(chunk) == group && one != 0 {
			for _, x := range chunk {
				ts = append(ts, saveTask(x))
			}
			ts = append(ts, opTask(one))
			continue
		}
		ts = append(ts, opTask(opMark))
		for _, x := range chunk {
			ts = append(ts, saveTask(x))
		}
		ts = append(ts, opTask(many))
	}
	return ts
}

func (e *Encoder) saveList(items []any, key *memoKey) error {
	if err := e.enter(); err != nil {
		return err
	}
	if e.proto == 0 {
		e.write(opMark, opList)
	} else {
		e.write(opEmptyList)
	}
	if key != nil {
		e.memoize(*key)
	}
	e.schedule(append(e.batch(items, 1, opAppend, opAppends), leaveTask)...)
	return nil
}

// saveItems emits dict with key/value pairs kv.
func (e *Encoder) saveItems(kv []any, key *memoKey) error {
	if err := e.enter(); err != nil {
		return err
	}
	if e.proto == 0 {
		e.write(opMark, opDict)
	} else {
		e.write(opEmptyDict)
	}
	if key != nil {
		e.memoize(*key)
	}
	e.schedule(append(e.batch(kv, 2, opSetitem, opSetitems), leaveTask)...)
	return nil
}

func (e *Encoder) saveDict(d Dict, key *memoKey) error {
	kv := make([]any, 0, 2*d.Len())
	for k, v := range d.Iter() {
		if err := e.checkHashable(k); err != nil {
			return err
		}
		kv = append(kv, k, v)
	}
	return e.saveItems(kv, key)
}

// saveMap emits Go map as dict with entries in canonical order.
func (e *Encoder) saveMap(rv reflect.Value, key *memoKey) error {
	pairs := make([][2]any, 0, rv.Len())
	mi := rv.MapRange()
	for mi.Next() {
		k := mi.Key().Interface()
		if err := e.checkHashable(k); err != nil {
			return err
		}
		pairs = append(pairs, [2]any{k, mi.Value().Interface()})
	}
	if !sortPairs(pairs) {
		return picklingError("encode", "cannot order entries of %s: two entries compare equal", rv.Type())
	}

	kv := make([]any, 0, 2*len(pairs))
	for _, p := range pairs {
		kv = append(kv, p[0], p[1])
	}
	return e.saveItems(kv, key)
}

// checkHashable fails if x, a dict key or a set element, would not decode
// back as a hashable value: records decode as dicts, arrays as lists.
func (e *Encoder) checkHashable(x any) error {
	type item struct {
		x     any
		depth int
	}
	todo := []item{{x, 0}}
	for len(todo) > 0 {
		it := todo[len(todo)-1]
		todo = todo[:len(todo)-1]
		if it.depth > e.maxDepth {
			return picklingError("encode", "maximum recursion depth exceeded (%d)", e.maxDepth)
		}
		if pr := e.config.PersistentRef; pr != nil && pr(it.x) != nil {
			continue
		}

		switch v := it.x.(type) {
		case nil, None, string, Bytes, *big.Int, *Instance, Class, Call, Ref:
			continue
		case Tuple:
			for _, x := range v {
				todo = append(todo, item{x, it.depth + 1})
			}
			continue
		case FrozenSet:
			v.s.each(func(x any) bool {
				todo = append(todo, item{x, it.depth + 1})
				return true
			})
			continue
		case PickleBuffer:
			if v.ReadOnly {
				continue
			}
			return picklingError("encode", "unhashable type: writable %T", v)
		case Dict, Set, []byte:
			return picklingError("encode", "unhashable type: %T", v)
		}

		rv := reflect.ValueOf(it.x)
		switch rv.Kind() {
		case reflect.Slice, reflect.Map:
			return picklingError("encode", "unhashable type: %s", rv.Type())
		case reflect.Array:
			if rv.Type().Elem().Kind() != reflect.Uint8 {
				return picklingError("encode", "unhashable type: %s", rv.Type())
			}
		case reflect.Struct:
			_, registered := e.resolver.lookup(rv.Type())
			if !registered && !valueTypes[rv.Type()] {
				return picklingError("encode", "unhashable type: %s (pickled as dict)", rv.Type())
			}
		case reflect.Pointer:
			if rv.IsNil() {
				continue
			}
			elem := rv.Type().Elem()
			if elem.Kind() != reflect.Struct || valueTypes[elem] {
				todo = append(todo, item{rv.Elem().Interface(), it.depth + 1})
			}
		}
	}
	return nil
}

// saveRecord emits struct of unregistered type as dict of its fields.
func (e *Encoder) saveRecord(rv reflect.Value) error {
	return e.saveItems(recordItems(rv), nil)
}

func (e *Encoder) saveTuple(items []any, key *memoKey) error {
	n := len(items)
	if n == 0 {
		if e.proto >= 1 {
			e.write(opEmptyTuple)
		} else {
			e.write(opMark, opTuple)
		}
		return nil
	}

	if err := e.enter(); err != nil {
		return err
	}
	ts := make([]task, 0, n+3)
	if n <= 3 && e.proto >= 2 {
		for _, x := range items {
			ts = append(ts, saveTask(x))
		}
		ts = append(ts, task{kind: taskFinish, key: key,
			raw:  []byte{opTuple1 + byte(n-1)},
			undo: bytes.Repeat([]byte{opPop}, n)})
	} else {
		ts = append(ts, opTask(opMark))
		for _, x := range items {
			ts = append(ts, saveTask(x))
		}
		undo := []byte{opPopMark}
		if e.proto == 0 {
			undo = bytes.Repeat([]byte{opPop}, n+1)
		}
		ts = append(ts, task{kind: taskFinish, key: key, raw: []byte{opTuple}, undo: undo})
	}
	e.schedule(append(ts, leaveTask)...)
	return nil
}

func (e *Encoder) saveSet(s *set, frozen bool, key *memoKey) error {
	items := s.items()
	for _, x := range items {
		if err := e.checkHashable(x); err != nil {
			return err
		}
	}
	name := "set"
	if frozen {
		name = "frozenset"
	}
	if !ordered(items) {
		return picklingError("encode", "cannot order elements of %s: two elements compare equal", name)
	}

	if e.proto < 4 {
		return e.saveReduce(pybuiltin(e.proto, name), Tuple{rawList(items)}, key)
	}

	if err := e.enter(); err != nil {
		return err
	}
	if frozen {
		ts := make([]task, 0, len(items)+3)
		ts = append(ts, opTask(opMark))
		for _, x := range items {
			ts = append(ts, saveTask(x))
		}
		ts = append(ts, task{kind: taskFinish, key: key, raw: []byte{opFrozenSet}, undo: []byte{opPopMark}})
		e.schedule(append(ts, leaveTask)...)
		return nil
	}

	e.write(opEmptySet)
	if key != nil {
		e.memoize(*key)
	}
	e.schedule(append(e.batch(items, 1, 0, opAddItems), leaveTask)...)
	return nil
}

// ---- classes and objects ----

// pybuiltin returns Class corresponding to Python builtin name.
func pybuiltin(protocol int, name string) Class {
	module := "builtins" // py3
	if protocol <= 2 {
		module = "__builtin__" // py2
	}
	return Class{Module: module, Name: name}
}

func (e *Encoder) saveGlobal(c Class) error {
	if e.proto >= 4 {
		if err := e.saveString(c.Module); err != nil {
			return err
		}
		if err := e.saveString(c.Name); err != nil {
			return err
		}
		e.write(opStackGlobal)
	} else {
		if strings.ContainsAny(c.Module+c.Name, "\n") || c.Module == "" || c.Name == "" {
			return picklingError("encode", "Can't pickle class %q.%q", c.Module, c.Name)
		}
		e.writeString(fmt.Sprintf("%c%s\n%s\n", opGlobal, c.Module, c.Name))
	}
	e.memoize(memoKey{class: c})
	return nil
}

// saveReduce emits callable(*args), and memoizes the result if key != nil.
func (e *Encoder) saveReduce(callable Class, args Tuple, key *memoKey) error {
	if err := e.enter(); err != nil {
		return err
	}
	e.schedule(
		saveTask(callable),
		saveTask(rawTuple(args)),
		opTask(opReduce),
		task{kind: taskFinish, key: key, undo: []byte{opPop}},
		leaveTask,
	)
	return nil
}

// saveObject emits registered object rv (pointer to struct, or struct).
//
// The object is created bare, memoized, and then gets its state via BUILD, so
// that state may refer back to the object.
func (e *Encoder) saveObject(rv reflect.Value, class Class, key *memoKey) error {
	state, err := objectState(rv)
	if err != nil {
		return newError(KindPickling, "encode", err, "cannot get state of %s", class)
	}
	if state != nil {
		e.keep = append(e.keep, state)
	}

	if err := e.enter(); err != nil {
		return err
	}
	var ts []task
	if e.proto >= 2 {
		ts = append(ts, saveTask(class), opTask(opEmptyTuple), opTask(opNewobj))
	} else {
		ts = append(ts,
			saveTask(Class{Module: "copy_reg", Name: "_reconstructor"}),
			opTask(opMark),
			saveTask(class),
			saveTask(pybuiltin(e.proto, "object")),
			opTask(opNone),
			opTask(opTuple),
			opTask(opReduce))
	}
	ts = append(ts, task{kind: taskFinish, key: key, undo: []byte{opPop}})
	if state != nil {
		ts = append(ts, saveTask(state), opTask(opBuild))
	}
	e.schedule(append(ts, leaveTask)...)
	return nil
}

// saveInstance emits object of class that is not registered.
func (e *Encoder) saveInstance(inst *Instance, key *memoKey) error {
	if err := e.enter(); err != nil {
		return err
	}
	var ts []task
	switch {
	case e.proto >= 2:
		ts = append(ts, saveTask(inst.Class), saveTask(rawTuple(inst.Args)), opTask(opNewobj))
	case e.proto == 1:
		ts = append(ts, opTask(opMark), saveTask(inst.Class))
		for _, arg := range inst.Args {
			ts = append(ts, saveTask(arg))
		}
		ts = append(ts, opTask(opObj))
	default:
		c := inst.Class
		if strings.ContainsAny(c.Module+c.Name, "\n") {
			return picklingError("encode", "Can't pickle class %q.%q", c.Module, c.Name)
		}
		ts = append(ts, opTask(opMark))
		for _, arg := range inst.Args {
			ts = append(ts, saveTask(arg))
		}
		ts = append(ts, writeTask([]byte(fmt.Sprintf("%c%s\n%s\n", opInst, c.Module, c.Name))))
	}
	ts = append(ts, task{kind: taskFinish, key: key, undo: []byte{opPop}})
	if inst.State != nil {
		ts = append(ts, saveTask(inst.State), opTask(opBuild))
	}
	e.schedule(append(ts, leaveTask)...)
	return nil
}

func (e *Encoder) savePersid(pid any) error {
	if e.proto == 0 {
		s, ok := pid.(string)
		if !ok || strings.ContainsAny(s, "\n") || !isASCII(s) {
			return picklingError("encode", "persistent IDs in protocol 0 must be ASCII strings")
		}
		e.writeString(fmt.Sprintf("%c%s\n", opPersid, s))
		return nil
	}
	e.schedule(task{kind: taskSave, v: pid}, opTask(opBinpersid))
	return nil
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}
