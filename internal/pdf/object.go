// Package pdf reads the page tree of a PDF file through
// github.com/digitorus/pdf and appends deterministic incremental updates to
// it. Values read from a file are converted to the types below, with
// indirect objects kept as references, so pages can be rewritten in place.
package pdf

import (
	"math"
	"sort"
	"strconv"
)

type Object interface{}

type (
	Null struct{}
	Bool bool
	Int  int64
	Real float64
	Name string
)

// String is a PDF string; Hex selects the <...> form when serialized.
type String struct {
	Value []byte
	Hex   bool
}

type Array []Object

type Dict map[Name]Object

// Stream holds the dictionary and the still-encoded data of a stream object.
type Stream struct {
	Dict Dict
	Data []byte
}

type Ref struct {
	Num int
	Gen int
}

// Clone returns a shallow copy of d.
func (d Dict) Clone() Dict {
	out := make(Dict, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

func (d Dict) Name(key Name) (Name, bool) {
	n, ok := d[key].(Name)
	return n, ok
}

// Int returns an integer entry; reals with an integral value are accepted.
func (d Dict) Int(key Name) (int64, bool) {
	return toInt(d[key])
}

func toInt(o Object) (int64, bool) {
	switch v := o.(type) {
	case Int:
		return int64(v), true
	case Real:
		if v == Real(math.Trunc(float64(v))) {
			return int64(v), true
		}
	}
	return 0, false
}

// Marshal serializes o in PDF syntax. Dictionary keys are written sorted so
// the output depends only on the value.
func Marshal(o Object) []byte {
	return appendObject(nil, o)
}

func appendObject(b []byte, o Object) []byte {
	switch v := o.(type) {
	case nil, Null:
		return append(b, "null"...)
	case Bool:
		if v {
			return append(b, "true"...)
		}
		return append(b, "false"...)
	case Int:
		return strconv.AppendInt(b, int64(v), 10)
	case int:
		return strconv.AppendInt(b, int64(v), 10)
	case Real:
		return append(b, FormatNumber(float64(v))...)
	case float64:
		return append(b, FormatNumber(v)...)
	case Name:
		return appendName(b, v)
	case String:
		if v.Hex {
			return appendHexString(b, v.Value)
		}
		return appendLiteralString(b, v.Value)
	case Array:
		b = append(b, '[')
		for i, e := range v {
			if i > 0 {
				b = append(b, ' ')
			}
			b = appendObject(b, e)
		}
		return append(b, ']')
	case Dict:
		return appendDict(b, v)
	case Stream:
		d := v.Dict.Clone()
		d["Length"] = Int(len(v.Data))
		b = appendDict(b, d)
		b = append(b, "\nstream\n"...)
		b = append(b, v.Data...)
		return append(b, "\nendstream"...)
	case Ref:
		b = strconv.AppendInt(b, int64(v.Num), 10)
		b = append(b, ' ')
		b = strconv.AppendInt(b, int64(v.Gen), 10)
		return append(b, " R"...)
	default:
		return append(b, "null"...)
	}
}

func appendDict(b []byte, d Dict) []byte {
	keys := make([]string, 0, len(d))
	for k := range d {
		keys = append(keys, string(k))
	}
	sort.Strings(keys)
	b = append(b, "<<"...)
	for _, k := range keys {
		b = appendName(b, Name(k))
		b = append(b, ' ')
		b = appendObject(b, d[Name(k)])
	}
	return append(b, ">>"...)
}

const hexDigits = "0123456789ABCDEF"

func isDelim(c byte) bool {
	switch c {
	case '(', ')', '<', '>', '[', ']', '{', '}', '/', '%':
		return true
	}
	return false
}

func appendName(b []byte, n Name) []byte {
	b = append(b, '/')
	for i := 0; i < len(n); i++ {
		c := n[i]
		if c < '!' || c > '~' || c == '#' || isDelim(c) {
			b = append(b, '#', hexDigits[c>>4], hexDigits[c&0xF])
			continue
		}
		b = append(b, c)
	}
	return b
}

func appendHexString(b []byte, s []byte) []byte {
	b = append(b, '<')
	for _, c := range s {
		b = append(b, hexDigits[c>>4], hexDigits[c&0xF])
	}
	return append(b, '>')
}

func appendLiteralString(b []byte, s []byte) []byte {
	b = append(b, '(')
	for _, c := range s {
		switch c {
		case '(', ')', '\\':
			b = append(b, '\\', c)
		case '\n':
			b = append(b, '\\', 'n')
		case '\r':
			b = append(b, '\\', 'r')
		case '\t':
			b = append(b, '\\', 't')
		case '\b':
			b = append(b, '\\', 'b')
		case '\f':
			b = append(b, '\\', 'f')
		default:
			if c < 0x20 || c > 0x7e {
				b = append(b, '\\', '0'+(c>>6), '0'+((c>>3)&7), '0'+(c&7))
				continue
			}
			b = append(b, c)
		}
	}
	return append(b, ')')
}

// FormatNumber writes v with at most four decimals and no exponent.
func FormatNumber(v float64) string {
	r := math.Round(v*1e4) / 1e4
	if r == 0 {
		return "0"
	}
	return strconv.FormatFloat(r, 'f', -1, 64)
}
