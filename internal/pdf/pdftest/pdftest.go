// Package pdftest builds small, well-formed PDF files for tests.
package pdftest

import (
	"bytes"
	"compress/zlib"
	"crypto/md5"
	"crypto/rc4"
	"fmt"
	"sort"

	"github.com/vocdoni/gofirma/esign/internal/pdf"
)

// Encryption adds a standard security handler.
type Encryption struct {
	R            int // 2, 3 or 4
	UserPassword string
}

type Options struct {
	Pages         int     // default 1
	Width, Height float64 // default 612x792
	OriginX       float64
	OriginY       float64
	// InheritMediaBox puts the MediaBox on the page tree root.
	InheritMediaBox bool
	// XRefStream stores the non-stream objects in an object stream and ends
	// the file with a compressed cross-reference stream.
	XRefStream bool
	Encrypt    *Encryption
	// Suffix is appended after the final %%EOF line.
	Suffix string
}

// ID is the fixed file identifier written into every generated trailer.
var ID = md5.Sum([]byte("esign pdftest"))

// Build returns a PDF with one text line per page.
func Build(opts Options) []byte {
	if opts.Pages <= 0 {
		opts.Pages = 1
	}
	if opts.Width == 0 {
		opts.Width = 612
	}
	if opts.Height == 0 {
		opts.Height = 792
	}
	box := pdf.Array{pdf.Real(opts.OriginX), pdf.Real(opts.OriginY),
		pdf.Real(opts.OriginX + opts.Width), pdf.Real(opts.OriginY + opts.Height)}

	objs := map[int]pdf.Object{}
	// 1 catalog, 2 page tree, 3 font, then page/content pairs.
	objs[1] = pdf.Dict{"Type": pdf.Name("Catalog"), "Pages": pdf.Ref{Num: 2}}
	objs[3] = pdf.Dict{"Type": pdf.Name("Font"), "Subtype": pdf.Name("Type1"), "BaseFont": pdf.Name("Helvetica")}
	var kids pdf.Array
	for i := 0; i < opts.Pages; i++ {
		pageNum, contentNum := 4+2*i, 5+2*i
		page := pdf.Dict{
			"Type":      pdf.Name("Page"),
			"Parent":    pdf.Ref{Num: 2},
			"Contents":  pdf.Ref{Num: contentNum},
			"Resources": pdf.Dict{"Font": pdf.Dict{"F1": pdf.Ref{Num: 3}}},
		}
		if !opts.InheritMediaBox {
			page["MediaBox"] = box
		}
		objs[pageNum] = page
		content := fmt.Sprintf("BT /F1 12 Tf %s %s Td (Page %d) Tj ET",
			pdf.FormatNumber(opts.OriginX+72), pdf.FormatNumber(opts.OriginY+opts.Height-72), i+1)
		objs[contentNum] = pdf.Stream{Dict: pdf.Dict{}, Data: []byte(content)}
		kids = append(kids, pdf.Ref{Num: pageNum})
	}
	tree := pdf.Dict{"Type": pdf.Name("Pages"), "Kids": kids, "Count": pdf.Int(opts.Pages)}
	if opts.InheritMediaBox {
		tree["MediaBox"] = box
	}
	objs[2] = tree

	next := 4 + 2*opts.Pages
	trailer := pdf.Dict{
		"Root": pdf.Ref{Num: 1},
		"ID":   pdf.Array{pdf.String{Value: ID[:], Hex: true}, pdf.String{Value: ID[:], Hex: true}},
	}
	encNum := -1
	if opts.Encrypt != nil {
		encNum = next
		objs[next] = encryptDict(*opts.Encrypt)
		trailer["Encrypt"] = pdf.Ref{Num: next}
		next++
	}

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.7\n%\xE2\xE3\xCF\xD3\n")
	offsets := map[int]int64{}
	type entry struct{ stream, index int }
	compressed := map[int]entry{}

	nums := sortedKeys(objs)
	if opts.XRefStream {
		var direct []int
		var packed []int
		for _, n := range nums {
			if _, isStream := objs[n].(pdf.Stream); isStream || n == encNum {
				direct = append(direct, n)
			} else {
				packed = append(packed, n)
			}
		}
		stmNum := next
		next++
		var header, body bytes.Buffer
		for i, n := range packed {
			fmt.Fprintf(&header, "%d %d ", n, body.Len())
			body.Write(pdf.Marshal(objs[n]))
			body.WriteByte('\n')
			compressed[n] = entry{stream: stmNum, index: i}
		}
		raw := append(header.Bytes(), body.Bytes()...)
		objs[stmNum] = pdf.Stream{
			Dict: pdf.Dict{"Type": pdf.Name("ObjStm"), "N": pdf.Int(len(packed)),
				"First": pdf.Int(header.Len()), "Filter": pdf.Name("FlateDecode")},
			Data: deflate(raw),
		}
		for _, n := range append(direct, stmNum) {
			offsets[n] = int64(buf.Len())
			writeObj(&buf, n, objs[n])
		}

		xnum := next
		size := xnum + 1
		offsets[xnum] = int64(buf.Len())
		cols := 1 + 4 + 2
		var rows []byte
		for n := 0; n < size; n++ {
			row := make([]byte, cols)
			switch {
			case n == 0:
				row[0] = 0
				row[5], row[6] = 0xFF, 0xFF
			case offsets[n] > 0:
				row[0] = 1
				putUint(row[1:5], uint64(offsets[n]))
			default:
				e := compressed[n]
				row[0] = 2
				putUint(row[1:5], uint64(e.stream))
				putUint(row[5:7], uint64(e.index))
			}
			rows = append(rows, row...)
		}
		xdict := trailer.Clone()
		xdict["Type"] = pdf.Name("XRef")
		xdict["Size"] = pdf.Int(size)
		xdict["W"] = pdf.Array{pdf.Int(1), pdf.Int(4), pdf.Int(2)}
		xdict["Filter"] = pdf.Name("FlateDecode")
		xdict["DecodeParms"] = pdf.Dict{"Predictor": pdf.Int(12), "Columns": pdf.Int(cols)}
		writeObj(&buf, xnum, pdf.Stream{Dict: xdict, Data: deflate(pngUp(rows, cols))})
		fmt.Fprintf(&buf, "startxref\n%d\n%%%%EOF\n", offsets[xnum])
	} else {
		for _, n := range nums {
			offsets[n] = int64(buf.Len())
			writeObj(&buf, n, objs[n])
		}
		xref := int64(buf.Len())
		size := next
		fmt.Fprintf(&buf, "xref\n0 %d\n0000000000 65535 f\r\n", size)
		for n := 1; n < size; n++ {
			fmt.Fprintf(&buf, "%010d 00000 n\r\n", offsets[n])
		}
		trailer["Size"] = pdf.Int(size)
		buf.WriteString("trailer\n")
		buf.Write(pdf.Marshal(trailer))
		fmt.Fprintf(&buf, "\nstartxref\n%d\n%%%%EOF\n", xref)
	}
	buf.WriteString(opts.Suffix)
	return buf.Bytes()
}

func encryptDict(e Encryption) pdf.Dict {
	o := bytes.Repeat([]byte{0x5A}, 32)
	d := pdf.Dict{"Filter": pdf.Name("Standard"), "R": pdf.Int(e.R), "P": pdf.Int(permissions)}
	keyLen := 16
	switch e.R {
	case 2:
		keyLen = 5
		d["V"] = pdf.Int(1)
	case 3:
		d["V"], d["Length"] = pdf.Int(2), pdf.Int(128)
	case 4:
		d["V"], d["Length"] = pdf.Int(4), pdf.Int(128)
		d["CF"] = pdf.Dict{"StdCF": pdf.Dict{"CFM": pdf.Name("AESV2"), "Length": pdf.Int(16)}}
		d["StmF"], d["StrF"] = pdf.Name("StdCF"), pdf.Name("StdCF")
	default:
		panic(fmt.Sprintf("pdftest: unsupported revision %d", e.R))
	}
	d["O"] = pdf.String{Value: o, Hex: true}
	d["U"] = pdf.String{Value: userEntry(e.R, keyLen, []byte(e.UserPassword), o), Hex: true}
	return d
}

const permissions = -44

var passwordPad = []byte{
	0x28, 0xbf, 0x4e, 0x5e, 0x4e, 0x75, 0x8a, 0x41, 0x64, 0x00, 0x4e, 0x56, 0xff, 0xfa, 0x01, 0x08,
	0x2e, 0x2e, 0x00, 0xb6, 0xd0, 0x68, 0x3e, 0x80, 0x2f, 0x0c, 0xa9, 0xfe, 0x64, 0x53, 0x69, 0x7a,
}

// userEntry computes the /U value of the RC4 based standard security
// handler revisions for password.
func userEntry(r, keyLen int, password, o []byte) []byte {
	padded := append(append([]byte(nil), password...), passwordPad...)[:32]
	perms := int32(permissions)
	p := uint32(perms)
	h := md5.New()
	h.Write(padded)
	h.Write(o)
	h.Write([]byte{byte(p), byte(p >> 8), byte(p >> 16), byte(p >> 24)})
	h.Write(ID[:])
	key := h.Sum(nil)
	if r >= 3 {
		for i := 0; i < 50; i++ {
			sum := md5.Sum(key[:keyLen])
			key = sum[:]
		}
	}
	key = key[:keyLen]

	if r == 2 {
		u := append([]byte(nil), passwordPad...)
		rc4XOR(key, u)
		return u
	}
	sum := md5.Sum(append(append([]byte(nil), passwordPad...), ID[:]...))
	u := sum[:]
	for i := 0; i < 20; i++ {
		k := make([]byte, len(key))
		for j := range key {
			k[j] = key[j] ^ byte(i)
		}
		rc4XOR(k, u)
	}
	return append(u, make([]byte, 16)...)
}

func rc4XOR(key, data []byte) {
	c, err := rc4.NewCipher(key)
	if err != nil {
		panic(err)
	}
	c.XORKeyStream(data, data)
}

func writeObj(buf *bytes.Buffer, num int, o pdf.Object) {
	fmt.Fprintf(buf, "%d 0 obj\n", num)
	buf.Write(pdf.Marshal(o))
	buf.WriteString("\nendobj\n")
}

func sortedKeys(m map[int]pdf.Object) []int {
	out := make([]int, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Ints(out)
	return out
}

func putUint(b []byte, v uint64) {
	for i := len(b) - 1; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
}

// pngUp applies the PNG "Up" filter to every row.
func pngUp(data []byte, cols int) []byte {
	out := make([]byte, 0, len(data)+len(data)/cols)
	prev := make([]byte, cols)
	for i := 0; i+cols <= len(data); i += cols {
		row := data[i : i+cols]
		out = append(out, 2)
		for k := range row {
			out = append(out, row[k]-prev[k])
		}
		prev = row
	}
	return out
}

func deflate(b []byte) []byte {
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	_, _ = w.Write(b)
	_ = w.Close()
	return buf.Bytes()
}
