package pickle

import (
	"fmt"
)

// special marker
type mark struct{}

// None is a representation of Python's None.
type None struct{}

// Tuple is a representation of Python's tuple.
type Tuple []any

// Bytes represents Python's bytes: immutable binary data.
//
// Mutable binary data (Python's bytearray) is represented by []byte.
type Bytes string

// GoString returns detailed representation of b, marking it as Bytes.
func (b Bytes) GoString() string {
	return fmt.Sprintf("%T(%q)", b, string(b))
}

// Class is a qualified class name: module path plus symbol name.
//
// As a value it represents a reference to the class itself.
type Class struct {
	Module, Name string
}

func (c Class) String() string {
	return c.Module + "." + c.Name
}

// Call represents a call of Callable with Args, as pickled by REDUCE.
//
// It is produced by the decoder in Symbolic mode for calls it does not know.
type Call struct {
	Callable Class
	Args     Tuple
}

// Ref is the default representation for a Python persistent reference.
//
// Such references are used when one pickle somehow references another pickle
// in e.g. a database.
//
// See DecoderConfig.PersistentLoad and EncoderConfig.PersistentRef for ways to
// tune Decoder and Encoder to handle persistent references with user-specified
// application logic.
type Ref struct {
	// persistent ID of referenced object.
	//
	// a string for protocol 0, arbitrary object for later protocols.
	Pid any
}

// Instance is an object of a class that is not registered with the resolver.
//
// It is produced by the decoder in Symbolic mode, and encoded as the same
// class reference, constructor arguments and state, so that such objects
// survive decode/encode cycles untouched.
type Instance struct {
	Class Class
	Args  Tuple
	State any // nil if the object had no state
}
