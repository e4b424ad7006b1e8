// Package render stamps signer details onto a PDF as one deterministic
// incremental update.
package render

import (
	"bytes"
	"fmt"
	"sort"
	"strconv"

	"go.uber.org/zap"
	"golang.org/x/image/font/sfnt"
	"golang.org/x/text/unicode/norm"

	"github.com/vocdoni/gofirma/esign/internal/model"
	"github.com/vocdoni/gofirma/esign/internal/pdf"
)

// Error is a render failure caused by the input document or template.
type Error struct {
	Reason string
}

func (e *Error) Error() string { return e.Reason }

func failf(format string, args ...any) *Error {
	return &Error{Reason: fmt.Sprintf(format, args...)}
}

type Options struct {
	Preview bool
}

const (
	signatureLabelWeight = 0.3
	dateLabelWeight      = 0.6
	labelSizeRatio       = 0.4
	signatureBarRatio    = 5
	dateBarRatio         = 4
)

// Renderer is safe for concurrent use.
type Renderer struct {
	fallback *fallbackFont
	log      *zap.Logger
}

// New builds a renderer whose fallback font is fallbackTTF, or Go Regular when
// fallbackTTF is empty. Go Regular has no Chinese glyphs; see CheckCJK.
func New(fallbackTTF []byte, log *zap.Logger) (*Renderer, error) {
	ff, err := loadFallback(fallbackTTF)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Renderer{fallback: ff, log: log}, nil
}

// CheckCJK reports whether the fallback font can draw zh-TW signer names.
func (r *Renderer) CheckCJK() error {
	return r.fallback.checkHan()
}

type placed struct {
	field  model.Field
	signer model.SignerInfo
	index  int
}

// Render draws the fields of every signer. The result is src followed by one
// incremental update, or src unchanged when nothing is drawn.
func (r *Renderer) Render(tc model.TaskConfig, ti model.TemplateInfo, src []byte, opts Options) ([]byte, error) {
	if len(tc.SignerInfoList) != len(ti.SignerList) {
		return nil, failf("invalid signer index")
	}
	doc, err := pdf.Open(src)
	if err != nil {
		return nil, &Error{Reason: err.Error()}
	}
	pages, err := doc.Pages()
	if err != nil {
		return nil, &Error{Reason: err.Error()}
	}

	byPage := map[int][]placed{}
	for si, signer := range ti.SignerList {
		for _, f := range signer.FieldList {
			if f.PageNo < 1 || f.PageNo > len(pages) {
				return nil, failf("pageNo of field is out of range")
			}
			byPage[f.PageNo] = append(byPage[f.PageNo], placed{field: f, signer: tc.SignerInfoList[si], index: si})
		}
	}
	pageNos := make([]int, 0, len(byPage))
	for p := range byPage {
		pageNos = append(pageNos, p)
	}
	sort.Ints(pageNos)

	s := &session{r: r, doc: doc, u: doc.NewUpdate(), used: map[sfnt.GlyphIndex]rune{}}
	for _, pn := range pageNos {
		if err := s.renderPage(pages[pn-1], byPage[pn], opts); err != nil {
			return nil, err
		}
	}
	out, err := s.finish()
	if err != nil {
		return nil, err
	}
	r.log.Debug("rendered document",
		zap.Int("pages", len(pageNos)),
		zap.Int("inputBytes", len(src)),
		zap.Int("outputBytes", len(out)),
		zap.Bool("preview", opts.Preview))
	return out, nil
}

type session struct {
	r        *Renderer
	doc      *pdf.Document
	u        *pdf.Update
	baseRef  *pdf.Ref
	fallRef  *pdf.Ref
	used     map[sfnt.GlyphIndex]rune
	modified bool
}

func (s *session) base() pdf.Ref {
	if s.baseRef == nil {
		ref := s.u.Add(baseFontDict())
		s.baseRef = &ref
	}
	return *s.baseRef
}

func (s *session) fallbackRef() pdf.Ref {
	if s.fallRef == nil {
		// Filled in by finish once every glyph is known.
		ref := s.u.Add(pdf.Null{})
		s.fallRef = &ref
	}
	return *s.fallRef
}

func (s *session) finish() ([]byte, error) {
	if !s.modified {
		return append([]byte(nil), s.doc.Data()...), nil
	}
	if s.fallRef != nil {
		d, err := s.r.fallback.embed(s.u, s.used)
		if err != nil {
			return nil, &Error{Reason: err.Error()}
		}
		s.u.Replace(*s.fallRef, d)
	}
	out, err := s.u.Bytes()
	if err != nil {
		return nil, &Error{Reason: err.Error()}
	}
	return out, nil
}

type pageFonts struct {
	existing pdf.Dict
	names    map[string]pdf.Ref
}

func (pf *pageFonts) name(prefix string, ref pdf.Ref) string {
	for n, r := range pf.names {
		if r == ref {
			return n
		}
	}
	candidate := prefix
	for i := 1; ; i++ {
		_, clash := pf.existing[pdf.Name(candidate)]
		_, taken := pf.names[candidate]
		if !clash && !taken {
			break
		}
		candidate = prefix + "_" + strconv.Itoa(i)
	}
	pf.names[candidate] = ref
	return candidate
}

func (s *session) renderPage(page pdf.Page, fields []placed, opts Options) error {
	box := page.MediaBox
	width, height := box.Width(), box.Height()

	fonts := &pageFonts{existing: page.Fonts, names: map[string]pdf.Ref{}}

	var ops bytes.Buffer
	for _, p := range fields {
		f := p.field
		if f.X < 0 || f.X > width {
			return failf("x coordinate of field is out of range")
		}
		if f.Y < 0 || f.Y > height {
			return failf("y coordinate of field is out of range")
		}
		if f.Y+f.Height > height {
			return failf("height of field is out of range")
		}
		x := box.LLX + f.X
		baseline := box.LLY + height - (f.Y + f.Height)

		switch f.Type {
		case model.FieldName:
			name := norm.NFC.String(p.signer.Name)
			if enc, _, ok := winAnsi(name); ok {
				s.text(&ops, fonts.name("ESF1", s.base()), f.Height, x, baseline, pdf.String{Value: enc})
				continue
			}
			glyphs, err := s.r.fallback.glyphRun(name, s.used)
			if err != nil {
				return &Error{Reason: err.Error()}
			}
			s.text(&ops, fonts.name("ESF2", s.fallbackRef()), f.Height, x, baseline, pdf.String{Value: glyphs, Hex: true})
		case model.FieldEmail:
			if err := s.baseText(&ops, fonts, p.signer.EmailAddr, f.Height, x, baseline); err != nil {
				return err
			}
		case model.FieldPhone:
			if p.signer.PhoneNumber == "" {
				continue
			}
			if err := s.baseText(&ops, fonts, p.signer.PhoneNumber, f.Height, x, baseline); err != nil {
				return err
			}
		case model.FieldSignature, model.FieldDate:
			if !opts.Preview {
				continue
			}
			ratio, weight := float64(signatureBarRatio), signatureLabelWeight
			if f.Type == model.FieldDate {
				ratio, weight = dateBarRatio, dateLabelWeight
			}
			fmt.Fprintf(&ops, "q 0.9 g %s %s %s %s re f Q\n",
				pdf.FormatNumber(x), pdf.FormatNumber(baseline),
				pdf.FormatNumber(ratio*f.Height), pdf.FormatNumber(f.Height))
			label := fmt.Sprintf("(signer %d)", p.index+1)
			top := baseline + f.Height
			s.textColor(&ops, "0.4 g", fonts.name("ESF1", s.base()), labelSizeRatio*f.Height,
				x+0.1*f.Height, top-weight*f.Height, pdf.String{Value: []byte(label)})
		}
	}
	if ops.Len() == 0 {
		return nil
	}
	return s.attach(page, fonts, ops.Bytes())
}

func (s *session) baseText(ops *bytes.Buffer, fonts *pageFonts, text string, size, x, y float64) error {
	enc, bad, ok := winAnsi(norm.NFC.String(text))
	if !ok {
		return failf("character %q is not supported by the base font", bad)
	}
	s.text(ops, fonts.name("ESF1", s.base()), size, x, y, pdf.String{Value: enc})
	return nil
}

func (s *session) text(ops *bytes.Buffer, font string, size, x, y float64, str pdf.String) {
	s.textColor(ops, "0 g", font, size, x, y, str)
}

func (s *session) textColor(ops *bytes.Buffer, color, font string, size, x, y float64, str pdf.String) {
	fmt.Fprintf(ops, "%s BT %s %s Tf %s %s Td %s Tj ET\n",
		color, pdf.Marshal(pdf.Name(font)), pdf.FormatNumber(size),
		pdf.FormatNumber(x), pdf.FormatNumber(y), pdf.Marshal(str))
}

// attach wraps the page's existing content in q/Q, appends ops and adds the
// fonts to a copy of the page resources.
func (s *session) attach(page pdf.Page, fonts *pageFonts, ops []byte) error {
	pre := s.u.Add(pdf.Stream{Dict: pdf.Dict{}, Data: []byte("q\n")})
	post := s.u.Add(pdf.Stream{Dict: pdf.Dict{}, Data: append([]byte("Q\nq\n"), append(ops, "Q\n"...)...)})

	contents := append(pdf.Array{pre}, page.Contents...)
	contents = append(contents, post)

	res := pdf.Dict{}
	if page.Resources != nil {
		res = page.Resources.Clone()
	}
	fontDict := fonts.existing.Clone()
	for n, ref := range fonts.names {
		fontDict[pdf.Name(n)] = ref
	}
	res["Font"] = fontDict

	updated := page.Dict.Clone()
	updated["Contents"] = contents
	updated["Resources"] = res
	s.u.Replace(page.Ref, updated)
	s.modified = true
	return nil
}
