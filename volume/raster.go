package volume

import (
	"math"

	"navtile/common"
	"navtile/nav"
)

type clipAxis int32

const (
	axisX clipAxis = 0
	axisZ clipAxis = 2
)

// MarkWalkableTriangles classifies triangles by slope and paints the walkable
// ones with an area derived from their surface type. Surface type 0 gets the
// plain walkable area; a positive surface type becomes the raw area id carried
// through the pipeline until the mesher remaps it per the area table.
func MarkWalkableTriangles(walkableSlopeAngle float32, verts []float32,
	tris, triIDs []int32, surfaces []int32, areas []uint8) {
	walkableThr := float32(math.Cos(float64(walkableSlopeAngle) / 180.0 * math.Pi))

	norm := make([]float32, 3)
	e0 := make([]float32, 3)
	e1 := make([]float32, 3)

	ntris := len(tris) / 3
	for i := 0; i < ntris; i++ {
		v0 := common.Vert3(verts, tris[i*3+0])
		v1 := common.Vert3(verts, tris[i*3+1])
		v2 := common.Vert3(verts, tris[i*3+2])
		common.Vsub(e0, v1, v0)
		common.Vsub(e1, v2, v0)
		common.Vcross(norm, e0, e1)
		common.Vnormalize(norm)
		if norm[1] <= walkableThr {
			areas[i] = nav.NullArea
			continue
		}
		surf := int32(0)
		if triIDs != nil && surfaces != nil {
			if id := triIDs[i]; int(id) < len(surfaces) {
				surf = surfaces[id]
			}
		}
		if surf > 0 && surf < 0xff {
			areas[i] = uint8(surf)
		} else {
			areas[i] = nav.WalkableArea
		}
	}
}

// dividePoly splits a convex polygon along an axis-aligned plane into the part
// below the offset (out1) and the remainder (out2). Max 12 vertices in.
func dividePoly(in []float32, nin int32, out1 []float32, nout1 *int32,
	out2 []float32, nout2 *int32, axisOffset float32, axis clipAxis) {
	common.AssertTrue(nin <= 12)

	var delta [12]float32
	for i := int32(0); i < nin; i++ {
		delta[i] = axisOffset - in[i*3+int32(axis)]
	}

	var n1, n2 int32
	a := int32(0)
	b := nin - 1
	for a < nin {
		sameSide := (delta[a] >= 0) == (delta[b] >= 0)
		if !sameSide {
			s := delta[b] / (delta[b] - delta[a])
			out1[n1*3+0] = in[b*3+0] + (in[a*3+0]-in[b*3+0])*s
			out1[n1*3+1] = in[b*3+1] + (in[a*3+1]-in[b*3+1])*s
			out1[n1*3+2] = in[b*3+2] + (in[a*3+2]-in[b*3+2])*s
			common.Vcopy(out2[n2*3:], out1[n1*3:])
			n1++
			n2++
			// Points on the dividing line were added above already.
			if delta[a] > 0 {
				common.Vcopy(out1[n1*3:], in[a*3:])
				n1++
			} else if delta[a] < 0 {
				common.Vcopy(out2[n2*3:], in[a*3:])
				n2++
			}
		} else {
			if delta[a] >= 0 {
				common.Vcopy(out1[n1*3:], in[a*3:])
				n1++
				if delta[a] != 0 {
					b = a
					a++
					continue
				}
			}
			common.Vcopy(out2[n2*3:], in[a*3:])
			n2++
		}
		b = a
		a++
	}

	*nout1 = n1
	*nout2 = n2
}

func rasterizeTri(v0, v1, v2 []float32, area uint8, hf *Heightfield,
	invCS, invCH float32, flagMergeThr int32) {
	var tmin, tmax [3]float32
	common.Vcopy(tmin[:], v0)
	common.Vcopy(tmax[:], v0)
	common.Vmin(tmin[:], v1)
	common.Vmin(tmin[:], v2)
	common.Vmax(tmax[:], v1)
	common.Vmax(tmax[:], v2)

	if !common.OverlapBounds(tmin[:], tmax[:], hf.BMin[:], hf.BMax[:]) {
		return
	}

	w, h := hf.Width, hf.Height
	by := hf.BMax[1] - hf.BMin[1]

	// Footprint on the grid's z-axis. Starting at -1 clips the polygon
	// correctly at the tile edge.
	z0 := common.Clamp(int32((tmin[2]-hf.BMin[2])*invCS), -1, h-1)
	z1 := common.Clamp(int32((tmax[2]-hf.BMin[2])*invCS), 0, h-1)

	var buf [7 * 3 * 4]float32
	in := buf[:7*3]
	inRow := buf[7*3 : 7*3*2]
	p1 := buf[7*3*2 : 7*3*3]
	p2 := buf[7*3*3:]

	common.Vcopy(in, v0)
	common.Vcopy(in[3:], v1)
	common.Vcopy(in[6:], v2)

	var nvRow int32
	nvIn := int32(3)

	for z := z0; z <= z1; z++ {
		cellZ := hf.BMin[2] + float32(z)*hf.CS
		dividePoly(in, nvIn, inRow, &nvRow, p1, &nvIn, cellZ+hf.CS, axisZ)
		in, p1 = p1, in
		if nvRow < 3 || z < 0 {
			continue
		}

		minX := inRow[0]
		maxX := inRow[0]
		for v := int32(1); v < nvRow; v++ {
			minX = common.Min(minX, inRow[v*3])
			maxX = common.Max(maxX, inRow[v*3])
		}
		x0 := int32((minX - hf.BMin[0]) * invCS)
		x1 := int32((maxX - hf.BMin[0]) * invCS)
		if x1 < 0 || x0 >= w {
			continue
		}
		x0 = common.Clamp(x0, -1, w-1)
		x1 = common.Clamp(x1, 0, w-1)

		var nv int32
		nv2 := nvRow
		for x := x0; x <= x1; x++ {
			cellX := hf.BMin[0] + float32(x)*hf.CS
			dividePoly(inRow, nv2, p1, &nv, p2, &nv2, cellX+hf.CS, axisX)
			inRow, p2 = p2, inRow
			if nv < 3 || x < 0 {
				continue
			}

			spanMin := p1[1]
			spanMax := p1[1]
			for v := int32(1); v < nv; v++ {
				spanMin = common.Min(spanMin, p1[v*3+1])
				spanMax = common.Max(spanMax, p1[v*3+1])
			}
			spanMin -= hf.BMin[1]
			spanMax -= hf.BMin[1]
			if spanMax < 0 || spanMin > by {
				continue
			}
			if spanMin < 0 {
				spanMin = 0
			}
			if spanMax > by {
				spanMax = by
			}

			smin := uint16(common.Clamp(int32(math.Floor(float64(spanMin*invCH))), 0, SpanMaxHeight))
			smax := uint16(common.Clamp(int32(math.Ceil(float64(spanMax*invCH))), int32(smin)+1, SpanMaxHeight))
			hf.AddSpan(x, z, smin, smax, area, flagMergeThr)
		}
	}
}

// RasterizeTriangles voxelizes the triangles into the heightfield, one area id
// per triangle.
func RasterizeTriangles(verts []float32, tris []int32, areas []uint8,
	hf *Heightfield, flagMergeThr int32) {
	invCS := 1.0 / hf.CS
	invCH := 1.0 / hf.CH
	ntris := len(tris) / 3
	for i := 0; i < ntris; i++ {
		v0 := common.Vert3(verts, tris[i*3+0])
		v1 := common.Vert3(verts, tris[i*3+1])
		v2 := common.Vert3(verts, tris[i*3+2])
		rasterizeTri(v0, v1, v2, areas[i], hf, invCS, invCH, flagMergeThr)
	}
}
