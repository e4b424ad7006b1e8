package pdf

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"strconv"
)

// Update collects the objects of one incremental update. Its output is the
// original file followed by the new objects, a cross-reference section of the
// same kind as the file's latest one and a trailer linking back with /Prev.
// Nothing time or randomness dependent is written.
type Update struct {
	doc     *Document
	next    int
	objects map[int]Object
	gens    map[int]int
}

func (d *Document) NewUpdate() *Update {
	next := d.size
	if next < 1 {
		next = 1
	}
	return &Update{doc: d, next: next, objects: map[int]Object{}, gens: map[int]int{}}
}

// Add stores o as a new indirect object.
func (u *Update) Add(o Object) Ref {
	num := u.next
	u.next++
	u.objects[num] = o
	u.gens[num] = 0
	return Ref{Num: num}
}

// Replace stores a new version of an existing object.
func (u *Update) Replace(ref Ref, o Object) {
	u.objects[ref.Num] = o
	u.gens[ref.Num] = ref.Gen
}

// Bytes renders the updated file.
func (u *Update) Bytes() ([]byte, error) {
	d := u.doc
	if d.Encrypted() {
		return nil, errors.New("pdf: cannot update an encrypted document")
	}
	if len(u.objects) == 0 {
		return append([]byte(nil), d.data...), nil
	}

	var buf bytes.Buffer
	buf.Grow(len(d.data) + 4096)
	buf.Write(d.data)
	if n := len(d.data); n > 0 && d.data[n-1] != '\n' && d.data[n-1] != '\r' {
		buf.WriteByte('\n')
	}

	nums := make([]int, 0, len(u.objects))
	for num := range u.objects {
		nums = append(nums, num)
	}
	sort.Ints(nums)

	offsets := map[int]int64{}
	for _, num := range nums {
		offsets[num] = int64(buf.Len())
		writeIndirect(&buf, num, u.gens[num], u.objects[num])
	}

	size := u.next
	if d.size > size {
		size = d.size
	}
	trailer := Dict{}
	for _, k := range []Name{"Root", "Info", "ID"} {
		if v, ok := d.Trailer[k]; ok {
			trailer[k] = v
		}
	}
	if d.startXref >= 0 {
		trailer["Prev"] = Int(d.startXref)
	}

	xrefOffset := int64(buf.Len())
	if d.xrefStream {
		xnum := size
		size++
		nums = append(nums, xnum)
		offsets[xnum] = xrefOffset
		u.gens[xnum] = 0
		trailer["Type"] = Name("XRef")
		trailer["Size"] = Int(size)
		data, w, index := xrefStreamData(nums, offsets, u.gens)
		trailer["W"] = Array{Int(1), Int(w), Int(2)}
		trailer["Index"] = index
		writeIndirect(&buf, xnum, 0, Stream{Dict: trailer, Data: data})
	} else {
		trailer["Size"] = Int(size)
		buf.WriteString("xref\n")
		for _, run := range runs(nums) {
			fmt.Fprintf(&buf, "%d %d\n", run[0], run[1])
			for n := run[0]; n < run[0]+run[1]; n++ {
				fmt.Fprintf(&buf, "%010d %05d n\r\n", offsets[n], u.gens[n])
			}
		}
		buf.WriteString("trailer\n")
		buf.Write(Marshal(trailer))
		buf.WriteByte('\n')
	}
	buf.WriteString("startxref\n")
	buf.WriteString(strconv.FormatInt(xrefOffset, 10))
	buf.WriteString("\n%%EOF\n")
	return buf.Bytes(), nil
}

func writeIndirect(buf *bytes.Buffer, num, gen int, o Object) {
	fmt.Fprintf(buf, "%d %d obj\n", num, gen)
	buf.Write(Marshal(o))
	buf.WriteString("\nendobj\n")
}

// runs groups sorted object numbers into [start, count] subsections.
func runs(nums []int) [][2]int {
	var out [][2]int
	for _, n := range nums {
		if len(out) > 0 {
			last := &out[len(out)-1]
			if last[0]+last[1] == n {
				last[1]++
				continue
			}
		}
		out = append(out, [2]int{n, 1})
	}
	return out
}

func xrefStreamData(nums []int, offsets map[int]int64, gens map[int]int) ([]byte, int, Array) {
	w := 4
	for _, off := range offsets {
		if off >= 1<<32 {
			w = 8
		}
	}
	var index Array
	for _, run := range runs(nums) {
		index = append(index, Int(run[0]), Int(run[1]))
	}
	data := make([]byte, 0, len(nums)*(3+w))
	for _, n := range nums {
		data = append(data, 1)
		off := offsets[n]
		for k := w - 1; k >= 0; k-- {
			data = append(data, byte(off>>(8*k)))
		}
		g := gens[n]
		data = append(data, byte(g>>8), byte(g))
	}
	return data, w, index
}
