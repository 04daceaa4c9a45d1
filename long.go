package pickle

import (
	"math/big"
)

// EncodeLong returns the minimal little-endian two's complement encoding of n,
// as used by the LONG1 and LONG4 opcodes.
//
// Zero encodes to an empty slice. n is not modified.
func EncodeLong(n *big.Int) []byte {
	if n.Sign() == 0 {
		return []byte{}
	}

	nbytes := n.BitLen()>>3 + 1
	buf := make([]byte, nbytes)
	if n.Sign() > 0 {
		n.FillBytes(buf)
	} else {
		// 2^(8·nbytes) + n
		m := new(big.Int).Lsh(big.NewInt(1), uint(8*nbytes))
		m.Add(m, n)
		m.FillBytes(buf)
	}
	reverse(buf)

	// -2^(8k-1) needs only k bytes: drop redundant sign byte
	if n.Sign() < 0 && nbytes > 1 && buf[nbytes-1] == 0xff && buf[nbytes-2]&0x80 != 0 {
		buf = buf[:nbytes-1]
	}
	return buf
}

// DecodeLong is the inverse of EncodeLong: it interprets data as little-endian
// two's complement integer.
func DecodeLong(data []byte) *big.Int {
	n := new(big.Int)
	if len(data) == 0 {
		return n
	}

	be := make([]byte, len(data))
	copy(be, data)
	reverse(be)
	n.SetBytes(be)

	if data[len(data)-1]&0x80 != 0 {
		n.Sub(n, new(big.Int).Lsh(big.NewInt(1), uint(8*len(data))))
	}
	return n
}

// normLong returns n as int64 if it fits, or n itself.
func normLong(n *big.Int) any {
	if n.IsInt64() {
		return n.Int64()
	}
	return n
}

func reverse(b []byte) {
	for i, j := 0, len(b)-1; i < j; i, j = i+1, j-1 {
		b[i], b[j] = b[j], b[i]
	}
}
