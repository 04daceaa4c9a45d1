package pickle

import (
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorKinds(t *testing.T) {
	var testv = []struct {
		err  error
		is   error
		isnt []error
	}{
		{picklingError("encode", "x"), ErrPickling, []error{ErrUnpickling, ErrType, ErrValue}},
		{typeError("dump", "x"), ErrType, []error{ErrPickling, ErrUnpickling, ErrValue}},
		{valueError("register", "x"), ErrValue, []error{ErrPickling, ErrUnpickling, ErrType}},
		{unpicklingError("BINGET", 3, io.ErrUnexpectedEOF), ErrUnpickling, []error{ErrPickling, ErrType, ErrValue}},
	}

	for _, tt := range testv {
		assert.ErrorIs(t, tt.err, tt.is)
		for _, other := range tt.isnt {
			assert.NotErrorIs(t, tt.err, other)
		}
	}
}

func TestErrorMessage(t *testing.T) {
	var testv = []struct {
		err  *Error
		want string
	}{
		{picklingError("encode", "cannot pickle %T", 1), "pickle: pickling error: encode: cannot pickle int"},
		{unpicklingError("BINGET", 3, errors.New("memo: key error 1")),
			"pickle: unpickling error: BINGET at offset 3: memo: key error 1"},
		{&Error{Kind: KindType, Pos: -1}, "pickle: type error"},
		{newError(KindValue, "loads", io.EOF, "ran out of input"),
			"pickle: value error: loads: ran out of input: EOF"},
	}

	for _, tt := range testv {
		assert.Equal(t, tt.want, tt.err.Error())
	}
}

func TestUnpicklingErrorKeepsKind(t *testing.T) {
	inner := typeError("load", "not a reader")
	err := unpicklingError("decode", 5, inner)
	assert.Same(t, inner, err)
	assert.Equal(t, int64(5), err.Pos)
	assert.ErrorIs(t, err, ErrType)

	// known position is not overwritten
	err = unpicklingError("decode", 9, inner)
	assert.Equal(t, int64(5), err.Pos)
}

func TestErrorUnwrap(t *testing.T) {
	err := unpicklingError("decode", 2, OpcodeError{Key: 0xff, Pos: 2})
	var opErr OpcodeError
	assert.ErrorAs(t, err, &opErr)
	assert.Equal(t, byte(0xff), opErr.Key)
	assert.Contains(t, opErr.Error(), "unknown opcode 255")

	err = unpicklingError("decode", 0, io.ErrUnexpectedEOF)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}
