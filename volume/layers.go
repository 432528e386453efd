package volume

import (
	"fmt"

	"navtile/common"
	"navtile/nav"
)

const (
	maxLayerRegs = 63
	maxLayerNeis = 16
)

// layerRegion is one monotone region during layer assembly.
type layerRegion struct {
	layers  [maxLayerRegs]uint8
	neis    [maxLayerNeis]uint8
	nlayers int32
	nneis   int32
	ymin    int32
	ymax    int32
	layerID uint8
	base    bool
}

func containsU8(a []uint8, n int32, v uint8) bool {
	for i := int32(0); i < n; i++ {
		if a[i] == v {
			return true
		}
	}
	return false
}

func addUniqueU8(a []uint8, n *int32, nmax int32, v uint8) bool {
	if containsU8(a, *n, v) {
		return true
	}
	if *n >= nmax {
		return false
	}
	a[*n] = v
	*n++
	return true
}

type sweepSpan struct {
	ns  int32 // sample count
	id  uint8 // region id
	nei uint8 // neighbour id
}

// HeightfieldLayer is one extracted walkable slab of a tile, stored as byte
// grids ready for blob packing.
type HeightfieldLayer struct {
	BMin    [3]float32
	BMax    [3]float32
	Width   int32
	Height  int32
	MinX    int32
	MaxX    int32
	MinY    int32
	MaxY    int32
	HMin    int32
	HMax    int32
	Heights []byte
	Areas   []byte
	Cons    []byte
}

// BuildHeightfieldLayers partitions the compact heightfield into
// non-overlapping height layers: monotone sweep regions are merged across
// connections, never across vertical overlaps, and regions close in height
// (within four times the walkable clearance) collapse into one layer. The
// border strip is excluded from the emitted grids.
func BuildHeightfieldLayers(chf *CompactHeightfield, borderSize, walkableHeight int32) ([]*HeightfieldLayer, error) {
	w, h := chf.Width, chf.Height

	srcReg := make([]uint8, chf.SpanCount)
	for i := range srcReg {
		srcReg[i] = 0xff
	}

	sweeps := make([]sweepSpan, w)
	var prevCount [256]int32
	regID := int32(0)

	// Partition the walkable area into monotone regions.
	for y := borderSize; y < h-borderSize; y++ {
		for i := int32(0); i < regID; i++ {
			prevCount[i] = 0
		}
		sweepID := uint8(0)

		for x := borderSize; x < w-borderSize; x++ {
			cell := &chf.Cells[x+y*w]
			for i := cell.Index; i < cell.Index+cell.Count; i++ {
				s := &chf.Spans[i]
				if chf.Areas[i] == nav.NullArea {
					continue
				}
				sid := uint8(0xff)

				// -x
				if con := GetCon(s, 0); con != NotConnected {
					ax := x + common.DirOffsetX(0)
					ay := y + common.DirOffsetY(0)
					ai := chf.Cells[ax+ay*w].Index + con
					if chf.Areas[ai] != nav.NullArea && srcReg[ai] != 0xff {
						sid = srcReg[ai]
					}
				}

				if sid == 0xff {
					sid = sweepID
					sweepID++
					sweeps[sid].nei = 0xff
					sweeps[sid].ns = 0
				}

				// -y
				if con := GetCon(s, 3); con != NotConnected {
					ax := x + common.DirOffsetX(3)
					ay := y + common.DirOffsetY(3)
					ai := chf.Cells[ax+ay*w].Index + con
					if nr := srcReg[ai]; nr != 0xff {
						if sweeps[sid].ns == 0 {
							sweeps[sid].nei = nr
						}
						if sweeps[sid].nei == nr {
							sweeps[sid].ns++
							prevCount[nr]++
						} else {
							// More than one neighbour: invalidate.
							sweeps[sid].nei = 0xff
						}
					}
				}

				srcReg[i] = sid
			}
		}

		// Assign sweeps their region ids. A sweep merges backwards only
		// when it is the single continuous connection to its neighbour.
		for i := uint8(0); i < sweepID; i++ {
			if sweeps[i].nei != 0xff && prevCount[sweeps[i].nei] == sweeps[i].ns {
				sweeps[i].id = sweeps[i].nei
			} else {
				if regID == 255 {
					return nil, fmt.Errorf("%w: region id overflow", nav.ErrAllocation)
				}
				sweeps[i].id = uint8(regID)
				regID++
			}
		}

		for x := borderSize; x < w-borderSize; x++ {
			cell := &chf.Cells[x+y*w]
			for i := cell.Index; i < cell.Index+cell.Count; i++ {
				if srcReg[i] != 0xff {
					srcReg[i] = sweeps[srcReg[i]].id
				}
			}
		}
	}

	nregs := regID
	regs := make([]layerRegion, nregs)
	for i := range regs {
		regs[i].layerID = 0xff
		regs[i].ymin = 0xffff
	}

	// Collect region neighbours and vertical overlaps.
	lregs := make([]uint8, maxLayerRegs)
	for y := int32(0); y < h; y++ {
		for x := int32(0); x < w; x++ {
			cell := &chf.Cells[x+y*w]
			nlregs := int32(0)

			for i := cell.Index; i < cell.Index+cell.Count; i++ {
				s := &chf.Spans[i]
				ri := srcReg[i]
				if ri == 0xff {
					continue
				}

				regs[ri].ymin = common.Min(regs[ri].ymin, int32(s.Y))
				regs[ri].ymax = common.Max(regs[ri].ymax, int32(s.Y))

				if nlregs < maxLayerRegs {
					lregs[nlregs] = ri
					nlregs++
				}

				for dir := int32(0); dir < 4; dir++ {
					if con := GetCon(s, dir); con != NotConnected {
						ax := x + common.DirOffsetX(dir)
						ay := y + common.DirOffsetY(dir)
						ai := chf.Cells[ax+ay*w].Index + con
						rai := srcReg[ai]
						if rai != 0xff && rai != ri {
							// A failed add only costs extra regions.
							addUniqueU8(regs[ri].neis[:], &regs[ri].nneis, maxLayerNeis, rai)
						}
					}
				}
			}

			// Spans stacked in the same column belong to overlapping regions.
			for i := int32(0); i < nlregs-1; i++ {
				for j := i + 1; j < nlregs; j++ {
					if lregs[i] == lregs[j] {
						continue
					}
					ri := &regs[lregs[i]]
					rj := &regs[lregs[j]]
					if !addUniqueU8(ri.layers[:], &ri.nlayers, maxLayerRegs, lregs[j]) ||
						!addUniqueU8(rj.layers[:], &rj.nlayers, maxLayerRegs, lregs[i]) {
						return nil, fmt.Errorf("%w: layer overlap table overflow", nav.ErrAllocation)
					}
				}
			}
		}
	}

	// Grow layers from regions, breadth first, never across an overlap.
	layerID := uint8(0)
	const maxStack = 64
	var stack [maxStack]uint8

	for i := int32(0); i < nregs; i++ {
		root := &regs[i]
		if root.layerID != 0xff {
			continue
		}

		root.layerID = layerID
		root.base = true

		nstack := 0
		stack[nstack] = uint8(i)
		nstack++

		for nstack > 0 {
			reg := &regs[stack[0]]
			nstack--
			copy(stack[:nstack], stack[1:nstack+1])

			for j := int32(0); j < reg.nneis; j++ {
				nei := reg.neis[j]
				regn := &regs[nei]
				if regn.layerID != 0xff {
					continue
				}
				if containsU8(root.layers[:], root.nlayers, nei) {
					continue
				}
				// Height range must stay encodable in a byte grid.
				ymin := common.Min(root.ymin, regn.ymin)
				ymax := common.Max(root.ymax, regn.ymax)
				if ymax-ymin >= 255 {
					continue
				}

				if nstack < maxStack {
					stack[nstack] = nei
					nstack++

					regn.layerID = layerID
					for k := int32(0); k < regn.nlayers; k++ {
						if !addUniqueU8(root.layers[:], &root.nlayers, maxLayerRegs, regn.layers[k]) {
							return nil, fmt.Errorf("%w: layer overlap table overflow", nav.ErrAllocation)
						}
					}
					root.ymin = common.Min(root.ymin, regn.ymin)
					root.ymax = common.Max(root.ymax, regn.ymax)
				}
			}
		}

		layerID++
	}

	// Merge non-overlapping layers that are close in height.
	mergeHeight := walkableHeight * 4

	for i := int32(0); i < nregs; i++ {
		ri := &regs[i]
		if !ri.base {
			continue
		}
		newID := ri.layerID

		for {
			oldID := uint8(0xff)

			for j := int32(0); j < nregs; j++ {
				if i == j {
					continue
				}
				rj := &regs[j]
				if !rj.base {
					continue
				}
				if !common.OverlapRange(ri.ymin, ri.ymax+mergeHeight, rj.ymin, rj.ymax+mergeHeight) {
					continue
				}
				ymin := common.Min(ri.ymin, rj.ymin)
				ymax := common.Max(ri.ymax, rj.ymax)
				if ymax-ymin >= 255 {
					continue
				}

				overlap := false
				for k := int32(0); k < nregs; k++ {
					if regs[k].layerID != rj.layerID {
						continue
					}
					if containsU8(ri.layers[:], ri.nlayers, uint8(k)) {
						overlap = true
						break
					}
				}
				if overlap {
					continue
				}

				oldID = rj.layerID
				break
			}

			if oldID == 0xff {
				break
			}

			for j := int32(0); j < nregs; j++ {
				rj := &regs[j]
				if rj.layerID != oldID {
					continue
				}
				rj.base = false
				rj.layerID = newID
				for k := int32(0); k < rj.nlayers; k++ {
					if !addUniqueU8(ri.layers[:], &ri.nlayers, maxLayerRegs, rj.layers[k]) {
						return nil, fmt.Errorf("%w: layer overlap table overflow", nav.ErrAllocation)
					}
				}
				ri.ymin = common.Min(ri.ymin, rj.ymin)
				ri.ymax = common.Max(ri.ymax, rj.ymax)
			}
		}
	}

	// Compact the layer ids.
	var remap [256]uint8
	for i := int32(0); i < nregs; i++ {
		remap[regs[i].layerID] = 1
	}
	layerID = 0
	for i := 0; i < 256; i++ {
		if remap[i] > 0 {
			remap[i] = layerID
			layerID++
		} else {
			remap[i] = 0xff
		}
	}
	for i := int32(0); i < nregs; i++ {
		regs[i].layerID = remap[regs[i].layerID]
	}

	if layerID == 0 {
		return nil, nil
	}

	// Emit the layers, excluding the border strip.
	lw := w - borderSize*2
	lh := h - borderSize*2

	var bmin, bmax [3]float32
	common.Vcopy(bmin[:], chf.BMin[:])
	common.Vcopy(bmax[:], chf.BMax[:])
	bmin[0] += float32(borderSize) * chf.CS
	bmin[2] += float32(borderSize) * chf.CS
	bmax[0] -= float32(borderSize) * chf.CS
	bmax[2] -= float32(borderSize) * chf.CS

	layers := make([]*HeightfieldLayer, layerID)
	gridSize := lw * lh

	for curID := uint8(0); curID < layerID; curID++ {
		layer := &HeightfieldLayer{
			Width:   lw,
			Height:  lh,
			MinX:    lw,
			MinY:    lh,
			Heights: make([]byte, gridSize),
			Areas:   make([]byte, gridSize),
			Cons:    make([]byte, gridSize),
		}
		layers[curID] = layer
		for i := range layer.Heights {
			layer.Heights[i] = 0xff
		}

		// Height bounds come from the base region.
		var hmin, hmax int32
		for j := int32(0); j < nregs; j++ {
			if regs[j].base && regs[j].layerID == curID {
				hmin = regs[j].ymin
				hmax = regs[j].ymax
			}
		}

		common.Vcopy(layer.BMin[:], bmin[:])
		common.Vcopy(layer.BMax[:], bmax[:])
		layer.BMin[1] = bmin[1] + float32(hmin)*chf.CH
		layer.BMax[1] = bmin[1] + float32(hmax)*chf.CH
		layer.HMin = hmin
		layer.HMax = hmax

		for y := int32(0); y < lh; y++ {
			for x := int32(0); x < lw; x++ {
				cx := borderSize + x
				cy := borderSize + y
				cell := &chf.Cells[cx+cy*w]
				for j := cell.Index; j < cell.Index+cell.Count; j++ {
					s := &chf.Spans[j]
					if srcReg[j] == 0xff {
						continue
					}
					lid := regs[srcReg[j]].layerID
					if lid != curID {
						continue
					}

					layer.MinX = common.Min(layer.MinX, x)
					layer.MaxX = common.Max(layer.MaxX, x)
					layer.MinY = common.Min(layer.MinY, y)
					layer.MaxY = common.Max(layer.MaxY, y)

					idx := x + y*lw
					layer.Heights[idx] = byte(int32(s.Y) - hmin)
					layer.Areas[idx] = chf.Areas[j]

					var portal, con byte
					for dir := int32(0); dir < 4; dir++ {
						if c := GetCon(s, dir); c != NotConnected {
							ax := cx + common.DirOffsetX(dir)
							ay := cy + common.DirOffsetY(dir)
							ai := chf.Cells[ax+ay*w].Index + c
							alid := uint8(0xff)
							if srcReg[ai] != 0xff {
								alid = regs[srcReg[ai]].layerID
							}
							if chf.Areas[ai] != nav.NullArea && lid != alid {
								portal |= 1 << uint(dir)
								// Portal heights match on both sides.
								as := &chf.Spans[ai]
								if int32(as.Y) > hmin {
									layer.Heights[idx] = common.Max(layer.Heights[idx], byte(int32(as.Y)-hmin))
								}
							}
							if chf.Areas[ai] != nav.NullArea && lid == alid {
								nx := ax - borderSize
								ny := ay - borderSize
								if nx >= 0 && ny >= 0 && nx < lw && ny < lh {
									con |= 1 << uint(dir)
								}
							}
						}
					}

					layer.Cons[idx] = portal<<4 | con
				}
			}
		}

		if layer.MinX > layer.MaxX {
			layer.MinX, layer.MaxX = 0, 0
		}
		if layer.MinY > layer.MaxY {
			layer.MinY, layer.MaxY = 0, 0
		}
	}

	return layers, nil
}
