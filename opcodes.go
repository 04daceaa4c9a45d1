package pickle

// Opcodes, grouped by the protocol that introduced them.
const (
	// Protocol 0

	opMark    byte = '(' // push markobject
	opStop    byte = '.' // end of pickle
	opPop     byte = '0' // discard top
	opDup     byte = '2' // duplicate top
	opFloat   byte = 'F' // float; decimal text argument
	opInt     byte = 'I' // int or bool; decimal text argument
	opLong    byte = 'L' // long; decimal text argument
	opNone    byte = 'N' // None
	opPersid  byte = 'P' // persistent id; text argument
	opReduce  byte = 'R' // callable(*args)
	opString  byte = 'S' // py2 str; quoted text argument
	opUnicode byte = 'V' // str; raw-unicode-escaped argument
	opAppend  byte = 'a' // list.append(top)
	opBuild   byte = 'b' // apply state to object
	opGlobal  byte = 'c' // class reference; module\nname\n
	opDict    byte = 'd' // dict from mark..top
	opGet     byte = 'g' // push memo[text index]
	opInst    byte = 'i' // instance of module\nname\n from mark..top args
	opList    byte = 'l' // list from mark..top
	opPut     byte = 'p' // memo[text index] = top
	opSetitem byte = 's' // dict[k] = v
	opTuple   byte = 't' // tuple from mark..top

	opTrue  = "I01\n" // INT spelling of True
	opFalse = "I00\n" // INT spelling of False

	// Protocol 1

	opPopMark        byte = '1' // discard through topmost mark
	opBinint         byte = 'J' // int32 LE
	opBinint1        byte = 'K' // uint8
	opBinint2        byte = 'M' // uint16 LE
	opBinpersid      byte = 'Q' // persistent id from stack
	opBinstring      byte = 'T' // py2 str; len ule32
	opShortBinstring byte = 'U' // py2 str; len u8
	opBinunicode     byte = 'X' // str; len ule32
	opAppends        byte = 'e' // list.extend(mark..top)
	opBinget         byte = 'h' // push memo[u8]
	opLongBinget     byte = 'j' // push memo[ule32]
	opEmptyList      byte = ']'
	opEmptyTuple     byte = ')'
	opEmptyDict      byte = '}'
	opObj            byte = 'o' // instance of class at mark+1 with args above it
	opBinput         byte = 'q' // memo[u8] = top
	opLongBinput     byte = 'r' // memo[ule32] = top
	opSetitems       byte = 'u' // dict.update(mark..top pairs)
	opBinfloat       byte = 'G' // float64 BE

	// Protocol 2

	opProto    byte = '\x80' // protocol version
	opNewobj   byte = '\x81' // cls.__new__(cls, *args)
	opExt1     byte = '\x82' // extension registry; u8 code
	opExt2     byte = '\x83' // extension registry; ule16 code
	opExt4     byte = '\x84' // extension registry; ule32 code
	opTuple1   byte = '\x85'
	opTuple2   byte = '\x86'
	opTuple3   byte = '\x87'
	opNewtrue  byte = '\x88'
	opNewfalse byte = '\x89'
	opLong1    byte = '\x8a' // long; len u8 + two's complement LE
	opLong4    byte = '\x8b' // long; len sle32 + two's complement LE

	// Protocol 3

	opBinbytes      byte = 'B' // bytes; len ule32
	opShortBinbytes byte = 'C' // bytes; len u8

	// Protocol 4

	opShortBinUnicode byte = '\x8c' // str; len u8
	opBinunicode8     byte = '\x8d' // str; len ule64
	opBinbytes8       byte = '\x8e' // bytes; len ule64
	opEmptySet        byte = '\x8f'
	opAddItems        byte = '\x90' // set.update(mark..top)
	opFrozenSet       byte = '\x91' // frozenset from mark..top
	opNewobjEx        byte = '\x92' // cls.__new__(cls, *args, **kw)
	opStackGlobal     byte = '\x93' // class reference from module, name on stack
	opMemoize         byte = '\x94' // memo[len(memo)] = top
	opFrame           byte = '\x95' // frame; len ule64

	// Protocol 5

	opBytearray8     byte = '\x96' // bytearray; len ule64
	opNextBuffer     byte = '\x97' // next out-of-band buffer
	opReadOnlyBuffer byte = '\x98' // make buffer at top read-only
)

const (
	// HighestProtocol is the highest supported protocol version.
	HighestProtocol = 5

	// DefaultProtocol is the protocol used when none is given.
	DefaultProtocol = 4
)

// checkProtocol validates protocol and maps -1 to HighestProtocol.
func checkProtocol(protocol int) (int, error) {
	if protocol == -1 {
		return HighestProtocol, nil
	}
	if protocol < 0 || protocol > HighestProtocol {
		return 0, valueError("encode", "pickle protocol must be <= %d, or -1 for highest; got %d",
			HighestProtocol, protocol)
	}
	return protocol, nil
}
