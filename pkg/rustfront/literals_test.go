package rustfront

import (
	"strings"
	"testing"

	"github.com/AnneHtowardshaway/rust-study/pkg/runtime"
)

func TestParseNumber(t *testing.T) {
	cases := []struct {
		text, hint string
		negate     bool
		want       string
		kind       string
	}{
		{"42", "", false, "42", "i32, copy"},
		{"007", "", false, "7", "i32, copy"},
		{"1_000u64", "", false, "1000", "u64, copy"},
		{"0xff", "u8", false, "255", "u8, copy"},
		{"0b1010", "", false, "10", "i32, copy"},
		{"0o17", "", false, "15", "i32, copy"},
		{"128", "i8", true, "-128", "i8, copy"},
		{"2.5", "", false, "2.5", "f64, copy"},
		{"1f32", "", false, "1.0", "f32, copy"},
		{"1e3", "", false, "1000.0", "f64, copy"},
		{"3", "f64", false, "3.0", "f64, copy"},
	}
	for _, tc := range cases {
		v, err := parseNumber(tc.text, tc.hint, tc.negate)
		if err != nil {
			t.Fatalf("%s: %v", tc.text, err)
		}
		if got := runtime.Debug(v); got != tc.want {
			t.Fatalf("%s: got %s, want %s", tc.text, got, tc.want)
		}
		if got := runtime.Describe(v); got != tc.kind {
			t.Fatalf("%s: got %s, want %s", tc.text, got, tc.kind)
		}
	}
}

func TestParseNumberErrors(t *testing.T) {
	cases := map[string]string{
		"256u8": "out of range",
		"12zz":  "invalid number literal",
		"":      "empty",
	}
	for text, want := range cases {
		if _, err := parseNumber(text, "", false); err == nil || !strings.Contains(err.Error(), want) {
			t.Fatalf("%q: expected error containing %q, got %v", text, want, err)
		}
	}
	if _, err := parseNumber("1", "bool", false); err == nil {
		t.Fatalf("expected an integer literal typed as bool to be rejected")
	}
}

func TestUnquote(t *testing.T) {
	cases := map[string]string{
		`"hello"`:            "hello",
		`"a\tb\n"`:           "a\tb\n",
		`"q\"uote\\"`:        `q"uote\`,
		`"\x41\u{1F600}"`:    "A\U0001F600",
		`r"raw \n"`:          `raw \n`,
		`r#"has "quotes""#`:  `has "quotes"`,
		`b"bytes"`:           "bytes",
		"\"one \\\n   two\"": "one two",
	}
	for raw, want := range cases {
		got, err := unquote(raw)
		if err != nil {
			t.Fatalf("%s: %v", raw, err)
		}
		if got != want {
			t.Fatalf("%s: got %q, want %q", raw, got, want)
		}
	}
	for _, bad := range []string{`"\q"`, `"open`, `"\u{zz}"`} {
		if _, err := unquote(bad); err == nil {
			t.Fatalf("%s: expected an error", bad)
		}
	}
}

func TestParseChar(t *testing.T) {
	v, err := parseChar(`'z'`)
	if err != nil || !runtime.Equal(v, runtime.CharValue{Val: 'z'}) {
		t.Fatalf("char: got %v, %v", v, err)
	}
	v, err = parseChar(`b'A'`)
	if err != nil || !runtime.Equal(v, runtime.NewInteger(65, runtime.IntegerU8)) || runtime.Describe(v) != "u8, copy" {
		t.Fatalf("byte: got %v, %v", v, err)
	}
	if _, err := parseChar(`'ab'`); err == nil {
		t.Fatalf("expected a two character literal to be rejected")
	}
}
