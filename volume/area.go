package volume

import (
	"navtile/common"
	"navtile/nav"
)

// pointInPoly tests a point against an xz polygon ring.
func pointInPoly(nverts int32, verts []float32, point []float32) bool {
	inPoly := false
	j := nverts - 1
	for i := int32(0); i < nverts; i++ {
		vi := verts[i*3 : i*3+3]
		vj := verts[j*3 : j*3+3]
		if (vi[2] > point[2]) != (vj[2] > point[2]) &&
			point[0] < (vj[0]-vi[0])*(point[2]-vi[2])/(vj[2]-vi[2])+vi[0] {
			inPoly = !inPoly
		}
		j = i
	}
	return inPoly
}

// ErodeWalkableArea shrinks the walkable area away from obstructions by
// erosionRadius voxels, using a two-pass chamfer distance transform.
func ErodeWalkableArea(erosionRadius int32, chf *CompactHeightfield) {
	w, h := chf.Width, chf.Height

	dist := make([]uint8, chf.SpanCount)
	for i := range dist {
		dist[i] = 0xff
	}

	// Mark boundary cells.
	for z := int32(0); z < h; z++ {
		for x := int32(0); x < w; x++ {
			cell := &chf.Cells[x+z*w]
			for i := cell.Index; i < cell.Index+cell.Count; i++ {
				if chf.Areas[i] == nav.NullArea {
					dist[i] = 0
					continue
				}
				s := &chf.Spans[i]
				neighbors := 0
				for dir := int32(0); dir < 4; dir++ {
					con := GetCon(s, dir)
					if con == NotConnected {
						break
					}
					nx := x + common.DirOffsetX(dir)
					nz := z + common.DirOffsetY(dir)
					ni := chf.Cells[nx+nz*w].Index + con
					if chf.Areas[ni] == nav.NullArea {
						break
					}
					neighbors++
				}
				if neighbors != 4 {
					dist[i] = 0
				}
			}
		}
	}

	relax := func(i int32, d int32) {
		if d < int32(dist[i]) {
			dist[i] = uint8(d)
		}
	}

	// Pass 1: top-left to bottom-right.
	for z := int32(0); z < h; z++ {
		for x := int32(0); x < w; x++ {
			cell := &chf.Cells[x+z*w]
			for i := cell.Index; i < cell.Index+cell.Count; i++ {
				s := &chf.Spans[i]
				if con := GetCon(s, 0); con != NotConnected {
					// (-1,0)
					ax := x + common.DirOffsetX(0)
					az := z + common.DirOffsetY(0)
					ai := chf.Cells[ax+az*w].Index + con
					relax(i, common.Min(int32(dist[ai])+2, 255))
					// (-1,-1)
					as := &chf.Spans[ai]
					if bcon := GetCon(as, 3); bcon != NotConnected {
						bx := ax + common.DirOffsetX(3)
						bz := az + common.DirOffsetY(3)
						bi := chf.Cells[bx+bz*w].Index + bcon
						relax(i, common.Min(int32(dist[bi])+3, 255))
					}
				}
				if con := GetCon(s, 3); con != NotConnected {
					// (0,-1)
					ax := x + common.DirOffsetX(3)
					az := z + common.DirOffsetY(3)
					ai := chf.Cells[ax+az*w].Index + con
					relax(i, common.Min(int32(dist[ai])+2, 255))
					// (1,-1)
					as := &chf.Spans[ai]
					if bcon := GetCon(as, 2); bcon != NotConnected {
						bx := ax + common.DirOffsetX(2)
						bz := az + common.DirOffsetY(2)
						bi := chf.Cells[bx+bz*w].Index + bcon
						relax(i, common.Min(int32(dist[bi])+3, 255))
					}
				}
			}
		}
	}

	// Pass 2: bottom-right to top-left.
	for z := h - 1; z >= 0; z-- {
		for x := w - 1; x >= 0; x-- {
			cell := &chf.Cells[x+z*w]
			for i := cell.Index; i < cell.Index+cell.Count; i++ {
				s := &chf.Spans[i]
				if con := GetCon(s, 2); con != NotConnected {
					// (1,0)
					ax := x + common.DirOffsetX(2)
					az := z + common.DirOffsetY(2)
					ai := chf.Cells[ax+az*w].Index + con
					relax(i, common.Min(int32(dist[ai])+2, 255))
					// (1,1)
					as := &chf.Spans[ai]
					if bcon := GetCon(as, 1); bcon != NotConnected {
						bx := ax + common.DirOffsetX(1)
						bz := az + common.DirOffsetY(1)
						bi := chf.Cells[bx+bz*w].Index + bcon
						relax(i, common.Min(int32(dist[bi])+3, 255))
					}
				}
				if con := GetCon(s, 1); con != NotConnected {
					// (0,1)
					ax := x + common.DirOffsetX(1)
					az := z + common.DirOffsetY(1)
					ai := chf.Cells[ax+az*w].Index + con
					relax(i, common.Min(int32(dist[ai])+2, 255))
					// (-1,1)
					as := &chf.Spans[ai]
					if bcon := GetCon(as, 0); bcon != NotConnected {
						bx := ax + common.DirOffsetX(0)
						bz := az + common.DirOffsetY(0)
						bi := chf.Cells[bx+bz*w].Index + bcon
						relax(i, common.Min(int32(dist[bi])+3, 255))
					}
				}
			}
		}
	}

	minBoundaryDist := uint8(common.Min(erosionRadius*2, 255))
	for i := int32(0); i < chf.SpanCount; i++ {
		if dist[i] < minBoundaryDist {
			chf.Areas[i] = nav.NullArea
		}
	}
}

// MarkConvexPolyArea overrides the area of every walkable span whose cell
// center lies inside the prism spanned by the xz ring and [minY,maxY].
func MarkConvexPolyArea(verts []float32, nverts int32, minY, maxY float32,
	area uint8, chf *CompactHeightfield) {
	w, h := chf.Width, chf.Height

	var bmin, bmax [3]float32
	common.Vcopy(bmin[:], verts)
	common.Vcopy(bmax[:], verts)
	for i := int32(1); i < nverts; i++ {
		common.Vmin(bmin[:], verts[i*3:])
		common.Vmax(bmax[:], verts[i*3:])
	}
	bmin[1] = minY
	bmax[1] = maxY

	minx := int32((bmin[0] - chf.BMin[0]) / chf.CS)
	miny := int32((bmin[1] - chf.BMin[1]) / chf.CH)
	minz := int32((bmin[2] - chf.BMin[2]) / chf.CS)
	maxx := int32((bmax[0] - chf.BMin[0]) / chf.CS)
	maxy := int32((bmax[1] - chf.BMin[1]) / chf.CH)
	maxz := int32((bmax[2] - chf.BMin[2]) / chf.CS)

	if maxx < 0 || minx >= w || maxz < 0 || minz >= h {
		return
	}
	minx = common.Max(minx, 0)
	maxx = common.Min(maxx, w-1)
	minz = common.Max(minz, 0)
	maxz = common.Min(maxz, h-1)

	point := make([]float32, 3)
	for z := minz; z <= maxz; z++ {
		for x := minx; x <= maxx; x++ {
			cell := &chf.Cells[x+z*w]
			for i := cell.Index; i < cell.Index+cell.Count; i++ {
				if chf.Areas[i] == nav.NullArea {
					continue
				}
				s := &chf.Spans[i]
				if int32(s.Y) < miny || int32(s.Y) > maxy {
					continue
				}
				point[0] = chf.BMin[0] + (float32(x)+0.5)*chf.CS
				point[2] = chf.BMin[2] + (float32(z)+0.5)*chf.CS
				if pointInPoly(nverts, verts, point) {
					chf.Areas[i] = area
				}
			}
		}
	}
}
