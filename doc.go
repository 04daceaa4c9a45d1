// Package pickle is a library for decoding/encoding Python's pickle format
// that produces byte-identical output for equal inputs.
//
// Use Dumps/Loads to convert between values and pickle bytes, for example:
//
//	data, err := pickle.Dumps(obj, pickle.DefaultProtocol)
//	obj, err := pickle.Loads(data)
//
// Dump and Load do the same against io.Writer / io.Reader. Encoder and Decoder
// give full control, including decoding of several pickles from one stream:
//
//	d := pickle.NewDecoder(r)
//	for {
//		obj, err := d.Decode()
//		if err == io.EOF {
//			break
//		}
//		...
//	}
//
// The following table summarizes mapping of basic types in between Python and Go:
//
//	Python	   Go
//	------	   --
//
//	None	↔  pickle.None
//	bool	↔  bool
//	int	↔  int64
//	int	←  int, intX, uintX
//	int	↔  *big.Int          (for values outside of int64)
//	float	↔  float64
//	float	←  floatX
//	complex	↔  complex128
//	list	↔  []any
//	list	←  []T, [N]T
//	tuple	↔  pickle.Tuple
//	dict	↔  pickle.Dict
//	dict	←  map[K]V, unregistered struct values
//	set	↔  pickle.Set
//	frozenset  ↔  pickle.FrozenSet
//
//	str        ↔  string
//	bytes      ↔  pickle.Bytes
//	bytearray  ↔  []byte
//
// Dict, Set and FrozenSet compare keys with Python equality: 1, 1.0 and
// big.NewInt(1) are the same key, while "a" and Bytes("a") are not.
//
// # Objects
//
// Go struct types become Python classes by registration:
//
//	pickle.MustRegister("shop", "Item", &Item{})
//
// A pointer to a registered struct is pickled as an object of the class with
// its exported fields as state, and decodes back as a pointer to a new struct
// of that type. No constructor is run on decoding: the state is assigned to the
// zero object, either by SetState if the type implements StateSetter, or field
// by field. Pickling a pointer to a struct that is not registered is an error.
//
// By default the decoder refuses classes that are not registered, so that
// decoding from untrusted sources cannot instantiate arbitrary types. With
// DecoderConfig.Symbolic such classes are represented with Class, Call and
// Instance placeholders instead:
//
//	Python				Go
//	------	   			--
//
//	decimal.Decimal            ↔    pickle.Class{"decimal", "Decimal"}
//	decimal.Decimal("3.14")    ↔    pickle.Call{
//						pickle.Class{"decimal", "Decimal"},
//						pickle.Tuple{"3.14"},
//					}
//
// # Determinism
//
// Encoding depends only on the value being encoded. Dict keeps insertion
// order, while elements of Set and FrozenSet, and keys of Go maps, are
// emitted in a canonical order that does not depend on hashing. Equal values
// thus pickle to equal bytes in any process. A value referenced more than once
// is emitted once and then referred to via memo, so sharing and cycles
// survive the round trip.
//
// # Pickle protocol versions
//
// Over the time the pickle stream format was evolving. The original protocol
// version 0 is human-readable with versions 1 and 2 extending the protocol in
// backward-compatible way with binary encodings for efficiency. Protocol
// version 3 added ways to represent Python bytes objects. Protocol
// version 4 adds framing and compact opcodes for sets and class references.
// Protocol version 5 added support for out-of-band data. Please see
// https://docs.python.org/3/library/pickle.html#data-stream-format for details.
//
// On decoding the protocol is detected automatically. On encoding
// DefaultProtocol is used unless specified otherwise.
//
// # Out-of-band buffers
//
// At protocol 5 binary payloads wrapped in PickleBuffer may travel outside of
// the pickle. EncoderConfig.BufferCallback decides it per buffer, and the
// decoder gets such buffers back via DecoderConfig.Buffers.
//
// # Persistent references
//
// Pickle was originally created for serialization in ZODB (http://zodb.org)
// object database, where on-disk objects can reference each other similarly to
// how one in-RAM object can have a reference to another in-RAM object.
//
// When a pickle with such persistent reference is decoded, it is represented
// with Ref placeholder. It is possible to hook into decoding and process such
// references in application specific way via DecoderConfig.PersistentLoad, and
// into encoding via EncoderConfig.PersistentRef.
//
// # Errors
//
// Errors are returned as *Error, whose Kind tells pickling, unpickling, type
// and value errors apart. Use errors.Is with ErrPickling, ErrUnpickling,
// ErrType and ErrValue to test for them.
package pickle
