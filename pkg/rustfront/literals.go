package rustfront

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/AnneHtowardshaway/rust-study/pkg/runtime"
)

var integerSuffixes = []string{"i128", "i16", "i32", "i64", "i8", "isize", "u128", "u16", "u32", "u64", "u8", "usize"}

// parseNumber converts a Rust integer or float literal. hint is the declared
// type of the binding, used when the literal carries no suffix.
func parseNumber(text, hint string, negate bool) (runtime.Value, error) {
	content := strings.TrimSpace(text)
	if content == "" {
		return nil, fmt.Errorf("empty number literal")
	}
	lower := strings.ToLower(content)
	isHex := strings.HasPrefix(lower, "0x")

	base, suffix := content, ""
	for _, s := range integerSuffixes {
		if strings.HasSuffix(content, s) && len(content) > len(s) {
			base, suffix = content[:len(content)-len(s)], s
			break
		}
	}
	if suffix == "" && !isHex {
		for _, s := range []string{"f32", "f64"} {
			if strings.HasSuffix(content, s) && len(content) > len(s) {
				base, suffix = content[:len(content)-len(s)], s
				break
			}
		}
	}
	base = strings.TrimSuffix(base, "_")
	digits := strings.ReplaceAll(base, "_", "")
	if suffix == "" {
		suffix = hint
	}

	isFloat := suffix == "f32" || suffix == "f64" ||
		(!isHex && !strings.HasPrefix(lower, "0b") && !strings.HasPrefix(lower, "0o") && strings.ContainsAny(digits, ".eE"))
	if isFloat {
		f, err := strconv.ParseFloat(digits, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number literal %q", content)
		}
		if negate {
			f = -f
		}
		ft := runtime.FloatF64
		if suffix == "f32" {
			ft = runtime.FloatF32
		}
		return runtime.FloatValue{Val: f, TypeSuffix: ft}, nil
	}

	radix := 10
	if isHex || strings.HasPrefix(lower, "0b") || strings.HasPrefix(lower, "0o") {
		radix = 0
	}
	n, ok := new(big.Int).SetString(digits, radix)
	if !ok {
		return nil, fmt.Errorf("invalid number literal %q", content)
	}
	if negate {
		n.Neg(n)
	}
	var it runtime.IntegerType
	if suffix != "" {
		if it, ok = runtime.ParseIntegerType(suffix); !ok {
			return nil, fmt.Errorf("integer literal %q cannot have type %s", content, suffix)
		}
	}
	v := runtime.IntegerValue{Val: n, TypeSuffix: it}
	if err := runtime.CheckIntegerRange(v); err != nil {
		return nil, fmt.Errorf("literal out of range: %v", err)
	}
	return v, nil
}

// unquote decodes a Rust string, char or byte literal body including its
// quotes. Raw strings (r"..", r#".."#) are returned verbatim.
func unquote(raw string) (string, error) {
	raw = strings.TrimPrefix(raw, "b")
	if strings.HasPrefix(raw, "r") {
		body := strings.TrimPrefix(raw, "r")
		hashes := len(body) - len(strings.TrimLeft(body, "#"))
		body = body[hashes : len(body)-hashes]
		if len(body) < 2 || body[0] != '"' || body[len(body)-1] != '"' {
			return "", fmt.Errorf("malformed raw string")
		}
		return body[1 : len(body)-1], nil
	}
	if len(raw) < 2 {
		return "", fmt.Errorf("literal is empty")
	}
	quote := raw[0]
	if (quote != '"' && quote != '\'') || raw[len(raw)-1] != quote {
		return "", fmt.Errorf("literal is not properly quoted")
	}
	var b strings.Builder
	b.Grow(len(raw) - 2)
	for i := 1; i < len(raw)-1; i++ {
		ch := raw[i]
		if ch != '\\' {
			b.WriteByte(ch)
			continue
		}
		i++
		if i >= len(raw)-1 {
			return "", fmt.Errorf("literal ends with escape")
		}
		switch esc := raw[i]; esc {
		case 'n':
			b.WriteByte('\n')
		case 'r':
			b.WriteByte('\r')
		case 't':
			b.WriteByte('\t')
		case '0':
			b.WriteByte(0)
		case '\\', '"', '\'':
			b.WriteByte(esc)
		case '\n':
			// line continuation skips leading whitespace on the next line
			for i+1 < len(raw)-1 && strings.ContainsRune(" \t\n\r", rune(raw[i+1])) {
				i++
			}
		case 'x':
			if i+2 >= len(raw)-1 {
				return "", fmt.Errorf("short \\x escape")
			}
			n, err := strconv.ParseUint(raw[i+1:i+3], 16, 8)
			if err != nil {
				return "", fmt.Errorf("invalid \\x escape")
			}
			b.WriteByte(byte(n))
			i += 2
		case 'u':
			end := strings.IndexByte(raw[i:], '}')
			if i+1 >= len(raw) || raw[i+1] != '{' || end < 0 {
				return "", fmt.Errorf("invalid unicode escape")
			}
			hex := strings.ReplaceAll(raw[i+2:i+end], "_", "")
			n, err := strconv.ParseUint(hex, 16, 32)
			if err != nil || !utf8.ValidRune(rune(n)) {
				return "", fmt.Errorf("invalid unicode escape")
			}
			b.WriteRune(rune(n))
			i += end
		default:
			return "", fmt.Errorf("unknown escape \\%c", esc)
		}
	}
	return b.String(), nil
}

func parseChar(raw string) (runtime.Value, error) {
	byteLit := strings.HasPrefix(raw, "b")
	s, err := unquote(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid character literal %s: %w", raw, err)
	}
	if utf8.RuneCountInString(s) != 1 {
		return nil, fmt.Errorf("character literal %s must hold exactly one character", raw)
	}
	r, _ := utf8.DecodeRuneInString(s)
	if byteLit {
		return runtime.NewInteger(int64(r), runtime.IntegerU8), nil
	}
	return runtime.CharValue{Val: r}, nil
}
