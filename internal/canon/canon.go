package canon

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrInvalidUTF8 reports a string that is not valid UTF-8. Such a string has
// no JSON.stringify counterpart, so it cannot be hashed canonically.
var ErrInvalidUTF8 = errors.New("canonical encoding failed: string is not valid UTF-8")

// Encode returns the canonical JSON encoding of v.
// Object keys keep struct declaration order, so the types passed here define
// the wire order. No insignificant whitespace, no HTML escaping and no trailing
// newline, which matches a JSON.stringify of the same object. U+2028 and
// U+2029 are written raw, as JSON.stringify does.
func Encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("canonical encoding failed: %w", err)
	}

	// json.Encoder.Encode appends a newline at the end.
	out := buf.Bytes()
	if len(out) > 0 && out[len(out)-1] == '\n' {
		out = out[:len(out)-1]
	}
	return unescapeSeparators(out)
}

// unescapeSeparators rewrites the \u2028 and \u2029 escapes encoding/json
// emits into raw UTF-8. encoding/json writes invalid UTF-8 as the \ufffd
// escape, which it never uses for a real U+FFFD, so that escape is rejected.
// A backslash in the output always starts an escape sequence.
func unescapeSeparators(out []byte) ([]byte, error) {
	if bytes.IndexByte(out, '\\') < 0 {
		return out, nil
	}
	res := make([]byte, 0, len(out))
	for i := 0; i < len(out); i++ {
		c := out[i]
		if c != '\\' || i+1 >= len(out) {
			res = append(res, c)
			continue
		}
		if out[i+1] == 'u' && i+6 <= len(out) {
			switch string(out[i+2 : i+6]) {
			case "2028":
				res = append(res, "\u2028"...)
				i += 5
				continue
			case "2029":
				res = append(res, "\u2029"...)
				i += 5
				continue
			case "fffd":
				return nil, ErrInvalidUTF8
			}
		}
		res = append(res, c, out[i+1])
		i++
	}
	return res, nil
}

// SHA256Hex returns the lowercase hex SHA-256 of b.
func SHA256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// HashObject encodes v canonically and returns the hex digest of the encoding.
func HashObject(v any) (string, error) {
	b, err := Encode(v)
	if err != nil {
		return "", err
	}
	return SHA256Hex(b), nil
}
