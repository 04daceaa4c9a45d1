package pickle

// conversion in between Go types to match Python.

import (
	"fmt"
	"math/big"
)

// AsInt64 tries to represent unpickled value to int64.
//
// Python int is decoded as int64 if it fits, and as big.Int otherwise. Go
// code should use AsInt64 to accept normal-range integers independently of
// their representation. bool is accepted as 0 or 1, as Python does.
func AsInt64(x any) (int64, error) {
	switch x := x.(type) {
	case int64:
		return x, nil
	case int:
		return int64(x), nil
	case bool:
		return bint(x), nil
	case *big.Int:
		if !x.IsInt64() {
			return 0, fmt.Errorf("long outside of int64 range")
		}
		return x.Int64(), nil
	}
	return 0, fmt.Errorf("expect int64|long; got %T", x)
}

// AsBigInt tries to represent unpickled integer as big.Int.
func AsBigInt(x any) (*big.Int, error) {
	switch x := x.(type) {
	case *big.Int:
		return x, nil
	case int64:
		return big.NewInt(x), nil
	case int:
		return big.NewInt(int64(x)), nil
	case bool:
		return big.NewInt(bint(x)), nil
	}
	return nil, fmt.Errorf("expect int64|long; got %T", x)
}

// AsFloat64 tries to represent unpickled number as float64.
//
// Integers are converted only if that is exact.
func AsFloat64(x any) (float64, error) {
	switch x := x.(type) {
	case float64:
		return x, nil
	case int64:
		f := float64(x)
		if int64(f) != x {
			return 0, fmt.Errorf("int %d is not exact as float", x)
		}
		return f, nil
	case *big.Int:
		f, accuracy := bigInt_Float64(x)
		if accuracy != big.Exact {
			return 0, fmt.Errorf("long is not exact as float")
		}
		return f, nil
	}
	return 0, fmt.Errorf("expect float|int; got %T", x)
}

// AsBytes tries to represent unpickled value as Bytes.
//
// It succeeds if the value is [Bytes], bytearray ([]byte) or [PickleBuffer].
// It does not succeed if the value is string or any other type.
func AsBytes(x any) (Bytes, error) {
	switch x := x.(type) {
	case Bytes:
		return x, nil
	case []byte:
		return Bytes(x), nil
	case PickleBuffer:
		return Bytes(x.Data), nil
	}
	return "", fmt.Errorf("expect bytes|bytearray; got %T", x)
}

// AsString tries to represent unpickled value as string.
//
// It succeeds only if the value is string.
// It does not succeed if the value is [Bytes] or any other type.
func AsString(x any) (string, error) {
	switch x := x.(type) {
	case string:
		return x, nil
	}
	return "", fmt.Errorf("expect str; got %T", x)
}

// stringEQ compares arbitrary x to string y.
//
// It succeeds only if AsString(x) succeeds and string data of x equals to y.
func stringEQ(x any, y string) bool {
	s, err := AsString(x)
	if err != nil {
		return false
	}
	return s == y
}
