package pdf

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"

	dpdf "github.com/digitorus/pdf"
)

var (
	// ErrMalformed reports a file that cannot be read as a PDF.
	ErrMalformed = errors.New("pdf: malformed document")
	// ErrPasswordRequired reports an encrypted file that does not open with
	// the empty user password.
	ErrPasswordRequired = errors.New("pdf: password required")
)

const eofMarker = "%%EOF"

// maxDecodedSize bounds a single decoded stream.
const maxDecodedSize = 256 << 20

// Document is a parsed PDF. It keeps the original bytes so updates can be
// appended to them unchanged.
type Document struct {
	Trailer Dict

	data       []byte
	r          *dpdf.Reader
	encrypted  bool
	size       int
	startXref  int64
	xrefStream bool
}

// Open parses data up to its last %%EOF; anything after it is ignored.
// An encrypted file opens only when the empty user password unlocks it.
func Open(data []byte) (doc *Document, err error) {
	end := bytes.LastIndex(data, []byte(eofMarker))
	if end < 0 {
		return nil, fmt.Errorf("%w: missing %s", ErrMalformed, eofMarker)
	}
	end += len(eofMarker)
	defer recoverMalformed(&err)

	r, err := dpdf.NewReader(bytes.NewReader(data), int64(end))
	switch {
	case errors.Is(err, dpdf.ErrInvalidPassword):
		return nil, ErrPasswordRequired
	case err != nil:
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	trailer := r.Trailer()
	d := &Document{
		Trailer:   dictOf(trailer),
		data:      data,
		r:         r,
		encrypted: trailer.Key("Encrypt").Kind() != dpdf.Null,
	}
	if size, ok := d.Trailer.Int("Size"); ok {
		d.size = int(size)
	}
	if d.startXref, err = findStartXref(data[:end]); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	section := bytes.TrimLeft(data[d.startXref:end], " \t\r\n")
	d.xrefStream = !bytes.HasPrefix(section, []byte("xref"))

	// Objects of an encrypted file are only read once it is decrypted.
	if !d.encrypted && trailer.Key("Root").Kind() != dpdf.Dict {
		return nil, fmt.Errorf("%w: trailer has no /Root catalog", ErrMalformed)
	}
	return d, nil
}

// recoverMalformed turns a panic of the underlying reader into ErrMalformed.
func recoverMalformed(err *error) {
	if p := recover(); p != nil {
		*err = fmt.Errorf("%w: %v", ErrMalformed, p)
	}
}

func findStartXref(data []byte) (int64, error) {
	i := bytes.LastIndex(data, []byte("startxref"))
	if i < 0 {
		return 0, errors.New("startxref not found")
	}
	fields := bytes.Fields(data[i+len("startxref"):])
	if len(fields) == 0 {
		return 0, errors.New("startxref offset missing")
	}
	off, err := strconv.ParseInt(string(fields[0]), 10, 64)
	if err != nil || off < 0 || off >= int64(len(data)) {
		return 0, fmt.Errorf("startxref offset %q out of range", fields[0])
	}
	return off, nil
}

// Data returns the bytes the document was parsed from.
func (d *Document) Data() []byte { return d.data }

// Encrypted reports whether the trailer names a security handler.
func (d *Document) Encrypted() bool { return d.encrypted }

// object converts a reader value. Children that are indirect objects stay
// references so a converted dictionary can be written back as it was.
func object(v dpdf.Value) Object {
	switch v.Kind() {
	case dpdf.Bool:
		return Bool(v.Bool())
	case dpdf.Integer:
		return Int(v.Int64())
	case dpdf.Real:
		return Real(v.Float64())
	case dpdf.String:
		return String{Value: []byte(v.RawString())}
	case dpdf.Name:
		return Name(v.Name())
	case dpdf.Array:
		out := make(Array, v.Len())
		for i := range out {
			out[i] = child(v, v.Index(i))
		}
		return out
	case dpdf.Dict:
		return dictOf(v)
	case dpdf.Stream:
		d := dictOf(v)
		delete(d, "Filter")
		delete(d, "DecodeParms")
		data, _ := io.ReadAll(io.LimitReader(v.Reader(), maxDecodedSize))
		return Stream{Dict: d, Data: data}
	}
	return Null{}
}

func child(parent, v dpdf.Value) Object {
	if ptr := v.GetPtr(); ptr.GetID() != 0 && ptr != parent.GetPtr() {
		return Ref{Num: int(ptr.GetID()), Gen: int(ptr.GetGen())}
	}
	return object(v)
}

// dictOf converts a dictionary or the dictionary of a stream; any other
// value yields an empty Dict.
func dictOf(v dpdf.Value) Dict {
	out := Dict{}
	if k := v.Kind(); k != dpdf.Dict && k != dpdf.Stream {
		return out
	}
	for _, key := range v.Keys() {
		out[Name(key)] = child(v, v.Key(key))
	}
	return out
}
