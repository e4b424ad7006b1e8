package pdf

import (
	"errors"
	"fmt"
	"math"

	dpdf "github.com/digitorus/pdf"
)

// Rect is a normalised rectangle in default user space.
type Rect struct {
	LLX, LLY, URX, URY float64
}

func (r Rect) Width() float64  { return r.URX - r.LLX }
func (r Rect) Height() float64 { return r.URY - r.LLY }

// Letter is used when a page tree carries no MediaBox at all.
var Letter = Rect{0, 0, 612, 792}

// Page is one leaf of the page tree with its inherited attributes resolved.
type Page struct {
	Ref       Ref
	Dict      Dict
	MediaBox  Rect
	Resources Dict
	// Fonts is the resolved /Font entry of Resources.
	Fonts Dict
	// Contents references the page's content streams in drawing order.
	Contents Array
}

const maxTreeDepth = 64

// Pages walks the page tree in document order.
func (d *Document) Pages() (pages []Page, err error) {
	defer recoverMalformed(&err)

	n := d.r.NumPage()
	pages = make([]Page, 0, n)
	for i := 1; i <= n; i++ {
		v := d.r.Page(i).V
		ptr := v.GetPtr()
		if v.Kind() != dpdf.Dict || ptr.GetID() == 0 {
			return nil, fmt.Errorf("%w: page %d is not an indirect dictionary", ErrMalformed, i)
		}
		p := Page{
			Ref:      Ref{Num: int(ptr.GetID()), Gen: int(ptr.GetGen())},
			Dict:     dictOf(v),
			MediaBox: Letter,
			Fonts:    Dict{},
		}
		if box := inherited(v, "MediaBox"); box.Kind() != dpdf.Null {
			if p.MediaBox, err = rect(box); err != nil {
				return nil, fmt.Errorf("%w: page %d MediaBox: %v", ErrMalformed, i, err)
			}
		}
		if res := inherited(v, "Resources"); res.Kind() == dpdf.Dict {
			p.Resources = dictOf(res)
			p.Fonts = dictOf(res.Key("Font"))
		}
		p.Contents = contents(v)
		pages = append(pages, p)
	}
	return pages, nil
}

// inherited looks key up on the page and then up its /Parent chain.
func inherited(page dpdf.Value, key string) dpdf.Value {
	v := page
	for depth := 0; depth < maxTreeDepth && v.Kind() == dpdf.Dict; depth++ {
		if r := v.Key(key); r.Kind() != dpdf.Null {
			return r
		}
		v = v.Key("Parent")
	}
	return dpdf.Value{}
}

func contents(page dpdf.Value) Array {
	c := page.Key("Contents")
	switch c.Kind() {
	case dpdf.Stream:
		return Array{child(page, c)}
	case dpdf.Array:
		out := make(Array, 0, c.Len())
		for i := 0; i < c.Len(); i++ {
			if s := c.Index(i); s.Kind() == dpdf.Stream {
				out = append(out, child(c, s))
			}
		}
		return out
	}
	return nil
}

func rect(v dpdf.Value) (Rect, error) {
	if v.Kind() != dpdf.Array || v.Len() != 4 {
		return Rect{}, errors.New("rectangle is not a 4-element array")
	}
	var c [4]float64
	for i := range c {
		e := v.Index(i)
		if k := e.Kind(); k != dpdf.Integer && k != dpdf.Real {
			return Rect{}, fmt.Errorf("rectangle element %d is not a number", i)
		}
		c[i] = e.Float64()
	}
	return Rect{
		LLX: math.Min(c[0], c[2]), LLY: math.Min(c[1], c[3]),
		URX: math.Max(c[0], c[2]), URY: math.Max(c[1], c[3]),
	}, nil
}
