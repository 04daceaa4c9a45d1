package pickle

import (
	"testing"
)

// CodecTestCase represents 1 test case of a coder or decoder.
//
// Under the given transformation function in must be transformed to out.
type CodecTestCase struct {
	in, out string
}

// testCodec tests transform func applied to all test cases from testv.
func testCodec(t *testing.T, transform func(in string) (string, error), testv []CodecTestCase) {
	t.Helper()
	for _, tt := range testv {
		s, err := transform(tt.in)
		if err != nil {
			t.Errorf("%q -> error: %s", tt.in, err)
			continue
		}

		if s != tt.out {
			t.Errorf("%q -> unexpected:\nhave: %q\nwant: %q", tt.in, s, tt.out)
		}
	}
}

// testCodecErrors verifies that transform rejects every input from inv.
func testCodecErrors(t *testing.T, transform func(in string) (string, error), inv []string) {
	t.Helper()
	for _, in := range inv {
		s, err := transform(in)
		if err == nil {
			t.Errorf("%q -> %q; want error", in, s)
		}
	}
}

func TestPyQuote(t *testing.T) {
	testCodec(t, func(s string) (string, error) { return pyquote(s), nil }, []CodecTestCase{
		{``, `""`},
		{`hello`, `"hello"`},
		{`"q" \`, `"\"q\" \\"`},
		{"a\nb\tc\x00", `"a\nb\tc\x00"`},
		{"мир", `"мир"`},
		{"\x80\xff", `"\x80\xff"`},
		{"\u2028", `"\xe2\x80\xa8"`},
	})
}

func TestPyDecodeStringEscape(t *testing.T) {
	testCodec(t, pydecodeStringEscape, []CodecTestCase{
		{`hello`, "hello"},
		{"hello\\\nworld", "helloworld"},
		{`\\`, `\`},
		{`\'\"`, `'"`},
		{`\b\f\t\n\r\v\a`, "\b\f\t\n\r\v\a"},
		{`\000\001\376\377`, "\000\001\376\377"},
		{`\x00\x01\x7f\x80\xfe\xff`, "\x00\x01\x7f\x80\xfe\xff"},
		// vvv stays as is
		{`\u1234\U00001234\c`, `\u1234\U00001234\c`},
	})

	testCodecErrors(t, pydecodeStringEscape, []string{`\`, `abc\`, `\x`, `\xz0`})
}

func TestPyEncodeRawUnicodeEscape(t *testing.T) {
	testCodec(t, pyencodeRawUnicodeEscape, []CodecTestCase{
		{`hello`, "hello"},
		{"a\\b\nc\r\x00\x1a", `a\u005cb\u000ac\u000d\u0000\u001a`},
		{"\u0080þÿ", "\x80\xfe\xff"},
		{"мир", `\u043c\u0438\u0440`},
		{"\U0001f600", `\U0001f600`},
	})

	testCodecErrors(t, pyencodeRawUnicodeEscape, []string{"\xff", "a\xc0"})
}

func TestPyDecodeRawUnicodeEscape(t *testing.T) {
	testCodec(t, pydecodeRawUnicodeEscape, []CodecTestCase{
		{`hello`, "hello"},
		{"\x00\x01\x80\xfe\xff", "\u0000\u0001\u0080þÿ"},
		{`\`, `\`},
		{`\\`, `\\`},
		{`\\\`, `\\\`},
		{`\\\\`, `\\\\`},
		{`\u1234\U00004321`, "\u1234\U00004321"},
		{`\\u1234\\U00004321`, `\\u1234\\U00004321`},
		{`\\\u1234\\\U00004321`, "\\\\\u1234\\\\\U00004321"},
		{`\\\\u1234\\\\U00004321`, `\\\\u1234\\\\U00004321`},
		{`\\\\\u1234\\\\\U00004321`, "\\\\\\\\\u1234\\\\\\\\\U00004321"},
		// vvv stays as is
		{"hello\\\nworld", "hello\\\nworld"},
		{`\'\"`, `\'\"`},
		{`\b\f\t\n\r\v\a`, `\b\f\t\n\r\v\a`},
		{`\000\001\376\377`, `\000\001\376\377`},
		{`\x00\x01\x7f\x80\xfe\xff`, `\x00\x01\x7f\x80\xfe\xff`},
	})

	testCodecErrors(t, pydecodeRawUnicodeEscape, []string{`\u12`, `\U0000123`, `\uzzzz`, `\U00110000`, `\ud800`})
}

// raw-unicode-escape must survive encode/decode for any text.
func TestPyRawUnicodeEscapeRoundtrip(t *testing.T) {
	for _, s := range []string{"", "plain", "\\u1234", "\\\\", "a\nb", "мир\U0001f600", "\x00\x1aÿ"} {
		enc, err := pyencodeRawUnicodeEscape(s)
		if err != nil {
			t.Fatal(err)
		}
		dec, err := pydecodeRawUnicodeEscape(enc)
		if err != nil {
			t.Fatalf("%q -> %q -> error: %s", s, enc, err)
		}
		if dec != s {
			t.Errorf("%q -> %q -> %q", s, enc, dec)
		}
	}
}
