package render

import (
	"bytes"
	"compress/zlib"
	"errors"
	"fmt"
	"sort"
	"strings"
	"unicode/utf16"

	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/sfnt"
	"golang.org/x/image/math/fixed"
	"golang.org/x/text/encoding/charmap"

	"github.com/vocdoni/gofirma/esign/internal/pdf"
)

// winAnsi encodes s for the base font, reporting the first rune it cannot
// represent.
func winAnsi(s string) ([]byte, rune, bool) {
	out := make([]byte, 0, len(s))
	for _, r := range s {
		if r < 0x20 || r == 0x7f || (r >= 0x80 && r <= 0x9f) {
			return nil, r, false
		}
		b, ok := charmap.Windows1252.EncodeRune(r)
		if !ok {
			return nil, r, false
		}
		out = append(out, b)
	}
	return out, 0, true
}

func baseFontDict() pdf.Dict {
	return pdf.Dict{
		"Type":     pdf.Name("Font"),
		"Subtype":  pdf.Name("Type1"),
		"BaseFont": pdf.Name("Times-Roman"),
		"Encoding": pdf.Name("WinAnsiEncoding"),
	}
}

// fallbackFont is a TrueType font embedded whole as a CIDFontType2 with
// Identity-H encoding. It is immutable after load and shared by concurrent
// renders.
type fallbackFont struct {
	f          *sfnt.Font
	name       string
	compressed []byte
	rawLen     int
	upem       fixed.Int26_6
	bbox       pdf.Array
	ascent     int
	descent    int
	capHeight  int
}

// ErrNoHanGlyphs reports a fallback font that cannot draw zh-TW names.
var ErrNoHanGlyphs = errors.New("fallback font has no glyphs for Chinese characters")

// hanSample holds common zh-TW surnames.
const hanSample = "王陳林黃張李"

func loadFallback(ttf []byte) (*fallbackFont, error) {
	if len(ttf) == 0 {
		ttf = goregular.TTF
	}
	// Only glyf outlines can be embedded as FontFile2.
	if bytes.HasPrefix(ttf, []byte("OTTO")) {
		return nil, errors.New("fallback font has CFF outlines; a TrueType font is required")
	}
	f, err := sfnt.Parse(ttf)
	if err != nil {
		return nil, fmt.Errorf("parse fallback font: %w", err)
	}
	var b sfnt.Buffer
	ff := &fallbackFont{f: f, rawLen: len(ttf), upem: fixed.I(int(f.UnitsPerEm()))}

	name, err := f.Name(&b, sfnt.NameIDPostScript)
	if err != nil {
		name = ""
	}
	ff.name = sanitizeName(name)

	bounds, err := f.Bounds(&b, ff.upem, font.HintingNone)
	if err != nil {
		return nil, fmt.Errorf("fallback font bounds: %w", err)
	}
	ff.bbox = pdf.Array{
		pdf.Int(ff.scale(bounds.Min.X)), pdf.Int(ff.scale(-bounds.Max.Y)),
		pdf.Int(ff.scale(bounds.Max.X)), pdf.Int(ff.scale(-bounds.Min.Y)),
	}
	m, err := f.Metrics(&b, ff.upem, font.HintingNone)
	if err != nil {
		return nil, fmt.Errorf("fallback font metrics: %w", err)
	}
	ff.ascent = ff.scale(m.Ascent)
	ff.descent = -ff.scale(m.Descent)
	ff.capHeight = ff.scale(m.CapHeight)
	if ff.capHeight == 0 {
		ff.capHeight = ff.ascent
	}

	var zbuf bytes.Buffer
	zw := zlib.NewWriter(&zbuf)
	if _, err := zw.Write(ttf); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	ff.compressed = zbuf.Bytes()
	return ff, nil
}

// checkHan returns ErrNoHanGlyphs naming the first sample character the font
// lacks.
func (ff *fallbackFont) checkHan() error {
	var b sfnt.Buffer
	for _, r := range hanSample {
		if gid, err := ff.f.GlyphIndex(&b, r); err != nil || gid == 0 {
			return fmt.Errorf("%w: %s has no glyph for %q", ErrNoHanGlyphs, ff.name, r)
		}
	}
	return nil
}

// scale converts a 26.6 value at ppem == unitsPerEm to PDF glyph space.
func (ff *fallbackFont) scale(v fixed.Int26_6) int {
	return int((int64(v) * 1000) / int64(ff.upem))
}

func sanitizeName(s string) string {
	var b strings.Builder
	for _, r := range s {
		if (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "EsignFallback"
	}
	return b.String()
}

// glyphRun maps s to glyph ids, failing on the first rune without a glyph.
func (ff *fallbackFont) glyphRun(s string, used map[sfnt.GlyphIndex]rune) ([]byte, error) {
	var b sfnt.Buffer
	out := make([]byte, 0, 2*len(s))
	for _, r := range s {
		gid, err := ff.f.GlyphIndex(&b, r)
		if err != nil {
			return nil, fmt.Errorf("fallback font lookup: %w", err)
		}
		if gid == 0 {
			return nil, fmt.Errorf("character %q is not supported by the fallback font", r)
		}
		if _, ok := used[gid]; !ok {
			used[gid] = r
		}
		out = append(out, byte(gid>>8), byte(gid))
	}
	return out, nil
}

// embed writes the font program, descriptor, CID font and ToUnicode map and
// returns the Type0 font dictionary.
func (ff *fallbackFont) embed(u *pdf.Update, used map[sfnt.GlyphIndex]rune) (pdf.Dict, error) {
	gids := make([]int, 0, len(used))
	for g := range used {
		gids = append(gids, int(g))
	}
	sort.Ints(gids)

	var b sfnt.Buffer
	widths := pdf.Array{}
	for _, g := range gids {
		adv, err := ff.f.GlyphAdvance(&b, sfnt.GlyphIndex(g), ff.upem, font.HintingNone)
		if err != nil {
			return nil, fmt.Errorf("glyph %d advance: %w", g, err)
		}
		widths = append(widths, pdf.Int(g), pdf.Array{pdf.Int(ff.scale(adv))})
	}

	file := u.Add(pdf.Stream{
		Dict: pdf.Dict{"Filter": pdf.Name("FlateDecode"), "Length1": pdf.Int(ff.rawLen)},
		Data: ff.compressed,
	})
	descriptor := u.Add(pdf.Dict{
		"Type":        pdf.Name("FontDescriptor"),
		"FontName":    pdf.Name(ff.name),
		"Flags":       pdf.Int(32),
		"FontBBox":    ff.bbox,
		"ItalicAngle": pdf.Int(0),
		"Ascent":      pdf.Int(ff.ascent),
		"Descent":     pdf.Int(ff.descent),
		"CapHeight":   pdf.Int(ff.capHeight),
		"StemV":       pdf.Int(80),
		"FontFile2":   file,
	})
	cid := u.Add(pdf.Dict{
		"Type":     pdf.Name("Font"),
		"Subtype":  pdf.Name("CIDFontType2"),
		"BaseFont": pdf.Name(ff.name),
		"CIDSystemInfo": pdf.Dict{
			"Registry":   pdf.String{Value: []byte("Adobe")},
			"Ordering":   pdf.String{Value: []byte("Identity")},
			"Supplement": pdf.Int(0),
		},
		"FontDescriptor": descriptor,
		"CIDToGIDMap":    pdf.Name("Identity"),
		"DW":             pdf.Int(1000),
		"W":              widths,
	})
	toUnicode := u.Add(pdf.Stream{Dict: pdf.Dict{}, Data: toUnicodeCMap(gids, used)})

	return pdf.Dict{
		"Type":            pdf.Name("Font"),
		"Subtype":         pdf.Name("Type0"),
		"BaseFont":        pdf.Name(ff.name),
		"Encoding":        pdf.Name("Identity-H"),
		"DescendantFonts": pdf.Array{cid},
		"ToUnicode":       toUnicode,
	}, nil
}

func toUnicodeCMap(gids []int, used map[sfnt.GlyphIndex]rune) []byte {
	var b bytes.Buffer
	b.WriteString("/CIDInit /ProcSet findresource begin\n12 dict begin\nbegincmap\n")
	b.WriteString("/CIDSystemInfo << /Registry (Adobe) /Ordering (UCS) /Supplement 0 >> def\n")
	b.WriteString("/CMapName /Adobe-Identity-UCS def\n/CMapType 2 def\n")
	b.WriteString("1 begincodespacerange\n<0000> <FFFF>\nendcodespacerange\n")
	for start := 0; start < len(gids); start += 100 {
		end := start + 100
		if end > len(gids) {
			end = len(gids)
		}
		fmt.Fprintf(&b, "%d beginbfchar\n", end-start)
		for _, g := range gids[start:end] {
			fmt.Fprintf(&b, "<%04X> <", g)
			for _, u := range utf16.Encode([]rune{used[sfnt.GlyphIndex(g)]}) {
				fmt.Fprintf(&b, "%04X", u)
			}
			b.WriteString(">\n")
		}
		b.WriteString("endbfchar\n")
	}
	b.WriteString("endcmap\nCMapName currentdict /CMap defineresource pop\nend\nend\n")
	return b.Bytes()
}
