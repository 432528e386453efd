// Package volume turns tile footprints of the source geometry into voxel
// heightfields and walkable height layers. It is the build side of the cache:
// everything here runs once per dirty tile and its results are compressed
// into layer blobs.
package volume

import (
	"navtile/common"
	"navtile/nav"
)

const (
	spansPerPool   = 2048
	spanHeightBits = 13
	// SpanMaxHeight is the highest voxel index a span can reach.
	SpanMaxHeight = (1 << spanHeightBits) - 1

	// NotConnected marks an absent neighbour in packed connection fields.
	NotConnected = 0x3f
)

// Span is one solid vertical interval of a heightfield column.
type Span struct {
	SMin uint16
	SMax uint16
	Area uint8
	Next *Span
}

type spanPool struct {
	next  *spanPool
	items [spansPerPool]Span
}

// Heightfield is the dynamic rasterization target. Columns hold sorted linked
// span lists; spans come from pooled storage so a tile build does not churn
// the allocator.
type Heightfield struct {
	Width    int32
	Height   int32
	BMin     [3]float32
	BMax     [3]float32
	CS       float32
	CH       float32
	Spans    []*Span
	pools    *spanPool
	freelist *Span
}

func NewHeightfield(width, height int32, bmin, bmax [3]float32, cs, ch float32) *Heightfield {
	return &Heightfield{
		Width:  width,
		Height: height,
		BMin:   bmin,
		BMax:   bmax,
		CS:     cs,
		CH:     ch,
		Spans:  make([]*Span, width*height),
	}
}

func (hf *Heightfield) allocSpan() *Span {
	if hf.freelist == nil || hf.freelist.Next == nil {
		pool := &spanPool{}
		pool.next = hf.pools
		hf.pools = pool
		// Chain the fresh pool onto the freelist.
		freelist := hf.freelist
		for i := spansPerPool - 1; i >= 0; i-- {
			pool.items[i].Next = freelist
			freelist = &pool.items[i]
		}
		hf.freelist = freelist
	}
	s := hf.freelist
	hf.freelist = s.Next
	return s
}

func (hf *Heightfield) freeSpan(s *Span) {
	s.Next = hf.freelist
	hf.freelist = s
}

// AddSpan inserts the interval [smin,smax] into column (x,z), merging with any
// overlapping spans. When merged span tops are within flagMergeThr the higher
// area id wins.
func (hf *Heightfield) AddSpan(x, z int32, smin, smax uint16, area uint8, flagMergeThr int32) {
	newSpan := hf.allocSpan()
	newSpan.SMin = smin
	newSpan.SMax = smax
	newSpan.Area = area
	newSpan.Next = nil

	col := x + z*hf.Width
	var prev *Span
	cur := hf.Spans[col]

	for cur != nil {
		if cur.SMin > newSpan.SMax {
			break
		}
		if cur.SMax < newSpan.SMin {
			prev = cur
			cur = cur.Next
			continue
		}
		// Overlap: fold the existing span into the new one.
		if cur.SMin < newSpan.SMin {
			newSpan.SMin = cur.SMin
		}
		if cur.SMax > newSpan.SMax {
			newSpan.SMax = cur.SMax
		}
		if common.Abs(int32(newSpan.SMax)-int32(cur.SMax)) <= flagMergeThr {
			newSpan.Area = common.Max(newSpan.Area, cur.Area)
		}
		next := cur.Next
		hf.freeSpan(cur)
		if prev != nil {
			prev.Next = next
		} else {
			hf.Spans[col] = next
		}
		cur = next
	}

	if prev != nil {
		newSpan.Next = prev.Next
		prev.Next = newSpan
	} else {
		newSpan.Next = hf.Spans[col]
		hf.Spans[col] = newSpan
	}
}

// WalkableSpanCount counts spans that still carry a walkable area after
// filtering.
func (hf *Heightfield) WalkableSpanCount() int32 {
	var count int32
	for col := int32(0); col < hf.Width*hf.Height; col++ {
		for s := hf.Spans[col]; s != nil; s = s.Next {
			if s.Area != nav.NullArea {
				count++
			}
		}
	}
	return count
}

// CompactCell indexes the span run of one column.
type CompactCell struct {
	Index int32
	Count int32
}

// CompactSpan is open space above a walkable floor. Con packs the four
// neighbour layer indices, six bits each.
type CompactSpan struct {
	Y   uint16
	Reg uint16
	Con uint32
	H   uint8
}

// GetCon unpacks the neighbour layer index in direction dir.
func GetCon(s *CompactSpan, dir int32) int32 {
	return int32(s.Con>>(uint32(dir)*6)) & 0x3f
}

// SetCon packs the neighbour layer index in direction dir.
func SetCon(s *CompactSpan, dir, layer int32) {
	shift := uint32(dir) * 6
	s.Con = (s.Con &^ (0x3f << shift)) | (uint32(layer)&0x3f)<<shift
}

// CompactHeightfield is the span-merged walkable representation used for
// erosion, area marking and layer extraction.
type CompactHeightfield struct {
	Width          int32
	Height         int32
	SpanCount      int32
	WalkableHeight int32
	WalkableClimb  int32
	BorderSize     int32
	BMin           [3]float32
	BMax           [3]float32
	CS             float32
	CH             float32
	Cells          []CompactCell
	Spans          []CompactSpan
	Areas          []uint8
}

const maxHeight = 0xffff

// BuildCompact converts the rasterized heightfield into its compact form:
// only walkable spans survive, stored as open-space intervals with neighbour
// links resolved across the four cardinal directions.
func BuildCompact(walkableHeight, walkableClimb int32, hf *Heightfield) *CompactHeightfield {
	w, h := hf.Width, hf.Height
	spanCount := hf.WalkableSpanCount()

	chf := &CompactHeightfield{
		Width:          w,
		Height:         h,
		SpanCount:      spanCount,
		WalkableHeight: walkableHeight,
		WalkableClimb:  walkableClimb,
		BMin:           hf.BMin,
		BMax:           hf.BMax,
		CS:             hf.CS,
		CH:             hf.CH,
		Cells:          make([]CompactCell, w*h),
		Spans:          make([]CompactSpan, spanCount),
		Areas:          make([]uint8, spanCount),
	}
	chf.BMax[1] += float32(walkableHeight) * hf.CH

	// Fill in cells and spans.
	idx := int32(0)
	for col := int32(0); col < w*h; col++ {
		s := hf.Spans[col]
		if s == nil {
			continue
		}
		cell := &chf.Cells[col]
		cell.Index = idx
		for ; s != nil; s = s.Next {
			if s.Area == nav.NullArea {
				continue
			}
			bot := int32(s.SMax)
			top := int32(maxHeight)
			if s.Next != nil {
				top = int32(s.Next.SMin)
			}
			chf.Spans[idx].Y = uint16(common.Clamp(bot, 0, maxHeight))
			chf.Spans[idx].H = uint8(common.Clamp(top-bot, 0, 0xff))
			chf.Areas[idx] = s.Area
			idx++
			cell.Count++
		}
	}

	// Find neighbour connections.
	for z := int32(0); z < h; z++ {
		for x := int32(0); x < w; x++ {
			cell := &chf.Cells[x+z*w]
			for i := cell.Index; i < cell.Index+cell.Count; i++ {
				s := &chf.Spans[i]
				for dir := int32(0); dir < 4; dir++ {
					SetCon(s, dir, NotConnected)
					nx := x + common.DirOffsetX(dir)
					nz := z + common.DirOffsetY(dir)
					if nx < 0 || nz < 0 || nx >= w || nz >= h {
						continue
					}
					ncell := &chf.Cells[nx+nz*w]
					for k := ncell.Index; k < ncell.Index+ncell.Count; k++ {
						ns := &chf.Spans[k]
						bot := common.Max(int32(s.Y), int32(ns.Y))
						top := common.Min(int32(s.Y)+int32(s.H), int32(ns.Y)+int32(ns.H))
						if top-bot >= walkableHeight &&
							common.Abs(int32(ns.Y)-int32(s.Y)) <= walkableClimb {
							layer := k - ncell.Index
							if layer < 0 || layer > NotConnected-1 {
								continue
							}
							SetCon(s, dir, layer)
							break
						}
					}
				}
			}
		}
	}

	return chf
}
