package cache

import (
	"fmt"

	"navtile/common"
	"navtile/common/rw"
	"navtile/nav"
)

// The mesher turns a decompressed, obstacle-stamped layer back into polygon
// data for the tile sink: monotone regions over the layer grid, boundary
// contours, then a triangulated mesh with areas and flags remapped through
// the area table.

const (
	nullReg      = 0xff
	maxMeshRegs  = 255
	maxLayerNeis = 16
)

func layerConnected(layer *nav.TileLayer, ia, ib int32, dir int32, walkableClimb int32) bool {
	if layer.Cons[ia]&(1<<uint(dir)) == 0 {
		return false
	}
	return common.Abs(int32(layer.Heights[ia])-int32(layer.Heights[ib])) <= walkableClimb
}

type monotoneRegion struct {
	area   int32
	neis   [maxLayerNeis]uint8
	nneis  uint8
	regID  uint8
	areaID uint8
}

func addUniqueLast(a []uint8, n *uint8, v uint8) {
	if *n > 0 && a[*n-1] == v {
		return
	}
	if int(*n) < len(a) {
		a[*n] = v
		*n++
	}
}

func canMergeRegs(oldReg, newReg uint8, regs []monotoneRegion) bool {
	count := 0
	for i := range regs {
		reg := &regs[i]
		if reg.regID != oldReg {
			continue
		}
		for j := uint8(0); j < reg.nneis; j++ {
			if regs[reg.neis[j]].regID == newReg {
				count++
			}
		}
	}
	return count == 1
}

// BuildLayerRegions partitions the layer's walkable cells into regions and
// stores the per-cell region ids in layer.Regs.
func BuildLayerRegions(layer *nav.TileLayer, walkableClimb int32) error {
	w := int32(layer.Header.Width)
	h := int32(layer.Header.Height)

	for i := range layer.Regs {
		layer.Regs[i] = nullReg
	}

	type sweepSpan struct {
		ns  int32
		id  uint8
		nei uint8
	}
	sweeps := make([]sweepSpan, w)
	var prevCount [256]int32
	regID := int32(0)

	for y := int32(0); y < h; y++ {
		if regID > 0 {
			for i := int32(0); i < regID; i++ {
				prevCount[i] = 0
			}
		}
		sweepCount := uint8(0)

		for x := int32(0); x < w; x++ {
			idx := x + y*w
			if layer.Areas[idx] == nav.NullArea {
				continue
			}

			sid := uint8(nullReg)

			// -x
			xidx := (x - 1) + y*w
			if x > 0 && layerConnected(layer, idx, xidx, 0, walkableClimb) {
				if layer.Regs[xidx] != nullReg {
					sid = layer.Regs[xidx]
				}
			}

			if sid == nullReg {
				sid = sweepCount
				sweepCount++
				sweeps[sid].nei = nullReg
				sweeps[sid].ns = 0
			}

			// -y
			yidx := x + (y-1)*w
			if y > 0 && layerConnected(layer, idx, yidx, 3, walkableClimb) {
				if nr := layer.Regs[yidx]; nr != nullReg {
					if sweeps[sid].ns == 0 {
						sweeps[sid].nei = nr
					}
					if sweeps[sid].nei == nr {
						sweeps[sid].ns++
						prevCount[nr]++
					} else {
						sweeps[sid].nei = nullReg
					}
				}
			}

			layer.Regs[idx] = sid
		}

		// A sweep merges backwards only when it is the single continuous
		// connection to its neighbour region.
		for i := uint8(0); i < sweepCount; i++ {
			if sweeps[i].nei != nullReg && prevCount[sweeps[i].nei] == sweeps[i].ns {
				sweeps[i].id = sweeps[i].nei
			} else {
				if regID == maxMeshRegs {
					return fmt.Errorf("%w: too many layer regions", nav.ErrAllocation)
				}
				sweeps[i].id = uint8(regID)
				regID++
			}
		}

		for x := int32(0); x < w; x++ {
			idx := x + y*w
			if layer.Regs[idx] != nullReg {
				layer.Regs[idx] = sweeps[layer.Regs[idx]].id
			}
		}
	}

	// Merge monotone regions of matching area to reduce the region count.
	nregs := regID
	regs := make([]monotoneRegion, nregs)
	for i := int32(0); i < nregs; i++ {
		regs[i].regID = uint8(i)
	}

	for y := int32(0); y < h; y++ {
		for x := int32(0); x < w; x++ {
			idx := x + y*w
			ri := layer.Regs[idx]
			if ri == nullReg {
				continue
			}
			regs[ri].area++
			regs[ri].areaID = layer.Areas[idx]

			// Update neighbours along the previous row.
			ymi := x + (y-1)*w
			if y > 0 && layerConnected(layer, idx, ymi, 3, walkableClimb) {
				if rai := layer.Regs[ymi]; rai != nullReg && rai != ri {
					addUniqueLast(regs[ri].neis[:], &regs[ri].nneis, rai)
					addUniqueLast(regs[rai].neis[:], &regs[rai].nneis, ri)
				}
			}
		}
	}

	for i := int32(0); i < nregs; i++ {
		reg := &regs[i]

		merge := int32(-1)
		mergea := int32(0)
		for j := uint8(0); j < reg.nneis; j++ {
			nei := reg.neis[j]
			regn := &regs[nei]
			if reg.regID == regn.regID || reg.areaID != regn.areaID {
				continue
			}
			if regn.area > mergea {
				if canMergeRegs(reg.regID, regn.regID, regs) {
					mergea = regn.area
					merge = int32(nei)
				}
			}
		}
		if merge != -1 {
			oldID := reg.regID
			newID := regs[merge].regID
			for j := int32(0); j < nregs; j++ {
				if regs[j].regID == oldID {
					regs[j].regID = newID
				}
			}
		}
	}

	// Compact region ids.
	var remap [256]uint8
	regIDGen := uint8(0)
	for i := int32(0); i < nregs; i++ {
		remap[regs[i].regID] = 1
	}
	for i := 0; i < 256; i++ {
		if remap[i] == 1 {
			remap[i] = regIDGen
			regIDGen++
		}
	}
	for i := int32(0); i < nregs; i++ {
		regs[i].regID = remap[regs[i].regID]
	}

	for i := range layer.Regs {
		if layer.Regs[i] != nullReg {
			layer.Regs[i] = regs[layer.Regs[i]].regID
		}
	}
	layer.RegCount = regIDGen

	return nil
}

// LayerContour is one simplified region boundary. Verts pack x, height, z and
// the neighbour tag per vertex.
type LayerContour struct {
	Verts  []int32
	NVerts int32
	Reg    uint8
	Area   uint8
}

// LayerContourSet holds one contour per region.
type LayerContourSet struct {
	Conts []LayerContour
}

type tempContour struct {
	verts  []int32 // x,y,z,r per vertex
	nverts int32
	poly   []int32
	npoly  int32
}

func (c *tempContour) appendVertex(x, y, z, r int32) {
	// Merge continuing straight segments with an unchanged neighbour.
	if c.nverts > 1 {
		pa := c.verts[(c.nverts-2)*4:]
		pb := c.verts[(c.nverts-1)*4:]
		if pb[3] == r {
			if pa[0] == pb[0] && pb[0] == x {
				pb[1] = y
				pb[2] = z
				return
			}
			if pa[2] == pb[2] && pb[2] == z {
				pb[0] = x
				pb[1] = y
				return
			}
		}
	}
	c.verts = append(c.verts, x, y, z, r)
	c.nverts++
}

// neighbour tag values above the region range encode portals and walls.
const (
	tagPortalBase = 0xf8 // portal in direction tag-tagPortalBase
	tagWall       = 0xff
)

func getNeighbourReg(layer *nav.TileLayer, ax, ay, dir int32) int32 {
	w := int32(layer.Header.Width)
	ia := ax + ay*w
	con := layer.Cons[ia] & 0xf
	portal := layer.Cons[ia] >> 4
	mask := uint8(1 << uint(dir))

	if con&mask == 0 {
		if portal&mask != 0 {
			return tagPortalBase + dir
		}
		return tagWall
	}

	bx := ax + common.DirOffsetX(dir)
	by := ay + common.DirOffsetY(dir)
	return int32(layer.Regs[bx+by*w])
}

func walkContour(layer *nav.TileLayer, x, y int32, cont *tempContour) {
	w := int32(layer.Header.Width)
	h := int32(layer.Header.Height)

	cont.nverts = 0
	cont.verts = cont.verts[:0]

	startX, startY := x, y
	startDir := int32(-1)

	for i := int32(0); i < 4; i++ {
		dir := (i + 3) & 3
		rn := getNeighbourReg(layer, x, y, dir)
		if rn != int32(layer.Regs[x+y*w]) {
			startDir = dir
			break
		}
	}
	if startDir == -1 {
		return
	}

	dir := startDir
	maxIter := w * h
	for iter := int32(0); iter < maxIter; iter++ {
		rn := getNeighbourReg(layer, x, y, dir)

		nx, ny, ndir := x, y, dir
		if rn != int32(layer.Regs[x+y*w]) {
			// Solid edge, add a vertex at the edge corner.
			px, pz := x, y
			switch dir {
			case 0:
				pz++
			case 1:
				px++
				pz++
			case 2:
				px++
			}
			cont.appendVertex(px, int32(layer.Heights[x+y*w]), pz, rn)
			ndir = (dir + 1) & 3 // rotate CW
		} else {
			nx = x + common.DirOffsetX(dir)
			ny = y + common.DirOffsetY(dir)
			ndir = (dir + 3) & 3 // rotate CCW
		}

		if iter > 0 && x == startX && y == startY && dir == startDir {
			break
		}
		x, y, dir = nx, ny, ndir
	}

	// Drop a trailing vertex that duplicates the first.
	if cont.nverts > 1 {
		pa := cont.verts[(cont.nverts-1)*4:]
		pb := cont.verts[:4]
		if pa[0] == pb[0] && pa[2] == pb[2] {
			cont.nverts--
			cont.verts = cont.verts[:cont.nverts*4]
		}
	}
}

func distancePtSeg2D(x, z, px, pz, qx, qz int32) float32 {
	pqx := float32(qx - px)
	pqz := float32(qz - pz)
	dx := float32(x - px)
	dz := float32(z - pz)
	d := pqx*pqx + pqz*pqz
	t := pqx*dx + pqz*dz
	if d > 0 {
		t /= d
	}
	t = common.Clamp(t, 0, 1)

	dx = float32(px) + t*pqx - float32(x)
	dz = float32(pz) + t*pqz - float32(z)
	return dx*dx + dz*dz
}

func simplifyContour(cont *tempContour, maxError float32) {
	cont.npoly = 0
	cont.poly = cont.poly[:0]

	// Wall transitions are mandatory points.
	for i := int32(0); i < cont.nverts; i++ {
		j := (i + 1) % cont.nverts
		ra := cont.verts[j*4+3]
		rb := cont.verts[i*4+3]
		if ra != rb {
			cont.poly = append(cont.poly, i)
			cont.npoly++
		}
	}

	if cont.npoly < 2 {
		// No transitions: seed with the lower-left and upper-right corners.
		llx, llz, lli := cont.verts[0], cont.verts[2], int32(0)
		urx, urz, uri := cont.verts[0], cont.verts[2], int32(0)
		for i := int32(1); i < cont.nverts; i++ {
			x := cont.verts[i*4+0]
			z := cont.verts[i*4+2]
			if x < llx || (x == llx && z < llz) {
				llx, llz, lli = x, z, i
			}
			if x > urx || (x == urx && z > urz) {
				urx, urz, uri = x, z, i
			}
		}
		cont.poly = append(cont.poly[:0], lli, uri)
		cont.npoly = 2
	}

	// Split segments until every raw point is within tolerance.
	for i := int32(0); i < cont.npoly; {
		ii := (i + 1) % cont.npoly
		ai := cont.poly[i]
		ax := cont.verts[ai*4+0]
		az := cont.verts[ai*4+2]
		bi := cont.poly[ii]
		bx := cont.verts[bi*4+0]
		bz := cont.verts[bi*4+2]

		var maxd float32
		maxi := int32(-1)
		var ci, cinc, endi int32
		// Traverse in lexicographic order so splits are deterministic
		// regardless of winding.
		if bx > ax || (bx == ax && bz > az) {
			cinc = 1
			ci = (ai + cinc) % cont.nverts
			endi = bi
		} else {
			cinc = cont.nverts - 1
			ci = (bi + cinc) % cont.nverts
			endi = ai
		}

		for ci != endi {
			d := distancePtSeg2D(cont.verts[ci*4+0], cont.verts[ci*4+2], ax, az, bx, bz)
			if d > maxd {
				maxd = d
				maxi = ci
			}
			ci = (ci + cinc) % cont.nverts
		}

		if maxi != -1 && maxd > maxError*maxError {
			cont.poly = append(cont.poly, 0)
			copy(cont.poly[i+2:], cont.poly[i+1:])
			cont.poly[i+1] = maxi
			cont.npoly++
		} else {
			i++
		}
	}

	// Rewrite the vertex list as the simplified polygon.
	newVerts := make([]int32, 0, cont.npoly*4)
	for i := int32(0); i < cont.npoly; i++ {
		v := cont.verts[cont.poly[i]*4:]
		newVerts = append(newVerts, v[0], v[1], v[2], v[3])
	}
	cont.verts = newVerts
	cont.nverts = cont.npoly
}

// getCornerHeight resolves the height of a contour corner from the cells
// around it.
func getCornerHeight(layer *nav.TileLayer, x, y, z, walkableClimb int32) int32 {
	w := int32(layer.Header.Width)
	h := int32(layer.Header.Height)

	var height int32
	for dz := int32(-1); dz <= 0; dz++ {
		for dx := int32(-1); dx <= 0; dx++ {
			px := x + dx
			pz := z + dz
			if px < 0 || pz < 0 || px >= w || pz >= h {
				continue
			}
			idx := px + pz*w
			lh := int32(layer.Heights[idx])
			if common.Abs(lh-y) <= walkableClimb && layer.Areas[idx] != nav.NullArea {
				height = common.Max(height, lh)
			}
		}
	}
	return height
}

// BuildLayerContours traces and simplifies the boundary of every region.
func BuildLayerContours(layer *nav.TileLayer, walkableClimb int32, maxError float32) (*LayerContourSet, error) {
	w := int32(layer.Header.Width)
	h := int32(layer.Header.Height)

	cset := &LayerContourSet{Conts: make([]LayerContour, layer.RegCount)}
	temp := &tempContour{}

	for y := int32(0); y < h; y++ {
		for x := int32(0); x < w; x++ {
			idx := x + y*w
			ri := layer.Regs[idx]
			if ri == nullReg {
				continue
			}
			cont := &cset.Conts[ri]
			if cont.NVerts > 0 {
				continue
			}
			cont.Reg = ri
			cont.Area = layer.Areas[idx]

			walkContour(layer, x, y, temp)
			simplifyContour(temp, maxError)

			cont.NVerts = temp.nverts
			cont.Verts = make([]int32, 0, temp.nverts*4)
			for i := int32(0); i < temp.nverts; i++ {
				v := temp.verts[i*4:]
				lh := getCornerHeight(layer, v[0], v[1], v[2], walkableClimb)
				cont.Verts = append(cont.Verts, v[0], lh, v[2], v[3])
			}
		}
	}

	return cset, nil
}

// LayerPolyMesh is the triangulated form of a layer, in voxel coordinates
// relative to the layer origin.
type LayerPolyMesh struct {
	Verts  []uint16 // x,y,z per vertex
	Tris   []uint16 // 3 indices per triangle
	Areas  []uint8  // per triangle
	Flags  []uint16 // per triangle
	NVerts int32
	NTris  int32
}

const vertexBucketCount = 1 << 8

func computeVertexHash(x, y, z int32) int32 {
	h1 := uint32(0x8da6b343)
	h2 := uint32(0xd8163841)
	h3 := uint32(0xcb1ab31f)
	n := h1*uint32(x) + h2*uint32(y) + h3*uint32(z)
	return int32(n & (vertexBucketCount - 1))
}

type vertexWelder struct {
	verts     []uint16
	firstVert [vertexBucketCount]int32
	nextVert  []int32
	nverts    int32
}

func newVertexWelder(capHint int32) *vertexWelder {
	vw := &vertexWelder{
		verts:    make([]uint16, 0, capHint*3),
		nextVert: make([]int32, 0, capHint),
	}
	for i := range vw.firstVert {
		vw.firstVert[i] = -1
	}
	return vw
}

func (vw *vertexWelder) add(x, y, z int32) uint16 {
	bucket := computeVertexHash(x, 0, z)
	for i := vw.firstVert[bucket]; i != -1; i = vw.nextVert[i] {
		v := vw.verts[i*3:]
		if int32(v[0]) == x && common.Abs(int32(v[1])-y) <= 2 && int32(v[2]) == z {
			return uint16(i)
		}
	}
	i := vw.nverts
	vw.nverts++
	vw.verts = append(vw.verts, uint16(x), uint16(y), uint16(z))
	vw.nextVert = append(vw.nextVert, vw.firstVert[bucket])
	vw.firstVert[bucket] = i
	return uint16(i)
}

// BuildLayerPolyMesh triangulates the contours and remaps every triangle's
// raw area through the table into its final area id and traversal flags.
func BuildLayerPolyMesh(cset *LayerContourSet, tables *nav.Tables) (*LayerPolyMesh, error) {
	maxVerts := int32(0)
	for i := range cset.Conts {
		maxVerts += cset.Conts[i].NVerts
	}
	if maxVerts == 0 {
		return &LayerPolyMesh{}, nil
	}

	welder := newVertexWelder(maxVerts)
	mesh := &LayerPolyMesh{}

	var indices []int32
	var tris []int32

	for ci := range cset.Conts {
		cont := &cset.Conts[ci]
		if cont.NVerts < 3 {
			continue
		}

		n := cont.NVerts
		if int32(cap(indices)) < n {
			indices = make([]int32, n)
			tris = make([]int32, n*3)
		}
		indices = indices[:n]
		for i := int32(0); i < n; i++ {
			indices[i] = i
		}

		ntris := triangulateContour(n, cont.Verts, indices, tris)
		if ntris <= 0 {
			// Bad simplification; keep what was recovered.
			ntris = -ntris
		}

		area, flags := tables.Remap(cont.Area)
		for t := int32(0); t < ntris; t++ {
			a := cont.Verts[tris[t*3+0]*4:]
			b := cont.Verts[tris[t*3+1]*4:]
			c := cont.Verts[tris[t*3+2]*4:]
			ia := welder.add(a[0], a[1], a[2])
			ib := welder.add(b[0], b[1], b[2])
			ic := welder.add(c[0], c[1], c[2])
			if ia == ib || ib == ic || ic == ia {
				continue
			}
			mesh.Tris = append(mesh.Tris, ia, ib, ic)
			mesh.Areas = append(mesh.Areas, area)
			mesh.Flags = append(mesh.Flags, flags)
			mesh.NTris++
		}
	}

	mesh.Verts = welder.verts
	mesh.NVerts = welder.nverts
	if mesh.NVerts > 0xfffe {
		return nil, fmt.Errorf("%w: too many mesh vertices", nav.ErrCapacityExceeded)
	}
	return mesh, nil
}

// Triangulation helpers operate on contour verts with stride 4 (x,y,z,r).

func area2(verts []int32, a, b, c int32) int32 {
	pa := verts[a*4:]
	pb := verts[b*4:]
	pc := verts[c*4:]
	return (pb[0]-pa[0])*(pc[2]-pa[2]) - (pc[0]-pa[0])*(pb[2]-pa[2])
}

func left(verts []int32, a, b, c int32) bool   { return area2(verts, a, b, c) < 0 }
func leftOn(verts []int32, a, b, c int32) bool { return area2(verts, a, b, c) <= 0 }
func collinear(verts []int32, a, b, c int32) bool {
	return area2(verts, a, b, c) == 0
}

func intersectProp(verts []int32, a, b, c, d int32) bool {
	if collinear(verts, a, b, c) || collinear(verts, a, b, d) ||
		collinear(verts, c, d, a) || collinear(verts, c, d, b) {
		return false
	}
	return (left(verts, a, b, c) != left(verts, a, b, d)) &&
		(left(verts, c, d, a) != left(verts, c, d, b))
}

func betweenPts(verts []int32, a, b, c int32) bool {
	if !collinear(verts, a, b, c) {
		return false
	}
	pa := verts[a*4:]
	pb := verts[b*4:]
	pc := verts[c*4:]
	if pa[0] != pb[0] {
		return (pa[0] <= pc[0] && pc[0] <= pb[0]) || (pa[0] >= pc[0] && pc[0] >= pb[0])
	}
	return (pa[2] <= pc[2] && pc[2] <= pb[2]) || (pa[2] >= pc[2] && pc[2] >= pb[2])
}

func segsIntersect(verts []int32, a, b, c, d int32) bool {
	if intersectProp(verts, a, b, c, d) {
		return true
	}
	return betweenPts(verts, a, b, c) || betweenPts(verts, a, b, d) ||
		betweenPts(verts, c, d, a) || betweenPts(verts, c, d, b)
}

func vequal(verts []int32, a, b int32) bool {
	pa := verts[a*4:]
	pb := verts[b*4:]
	return pa[0] == pb[0] && pa[2] == pb[2]
}

const canRemoveBit = int32(1) << 30

func nextIdx(i, n int32) int32 {
	if i+1 < n {
		return i + 1
	}
	return 0
}

func prevIdx(i, n int32) int32 {
	if i-1 >= 0 {
		return i - 1
	}
	return n - 1
}

func diagonalie(i, j, n int32, verts, indices []int32) bool {
	d0 := indices[i] &^ canRemoveBit
	d1 := indices[j] &^ canRemoveBit
	for k := int32(0); k < n; k++ {
		k1 := nextIdx(k, n)
		if k == i || k1 == i || k == j || k1 == j {
			continue
		}
		p0 := indices[k] &^ canRemoveBit
		p1 := indices[k1] &^ canRemoveBit
		if vequal(verts, d0, p0) || vequal(verts, d1, p0) ||
			vequal(verts, d0, p1) || vequal(verts, d1, p1) {
			continue
		}
		if segsIntersect(verts, d0, d1, p0, p1) {
			return false
		}
	}
	return true
}

func inCone(i, j, n int32, verts, indices []int32) bool {
	pi := indices[i] &^ canRemoveBit
	pj := indices[j] &^ canRemoveBit
	pi1 := indices[nextIdx(i, n)] &^ canRemoveBit
	pin1 := indices[prevIdx(i, n)] &^ canRemoveBit

	if leftOn(verts, pin1, pi, pi1) {
		return left(verts, pi, pj, pin1) && left(verts, pj, pi, pi1)
	}
	return !(leftOn(verts, pi, pj, pi1) && leftOn(verts, pj, pi, pin1))
}

func diagonal(i, j, n int32, verts, indices []int32) bool {
	return inCone(i, j, n, verts, indices) && diagonalie(i, j, n, verts, indices)
}

// triangulateContour ear-clips a simplified contour. Returns the triangle
// count, negative when the contour was degenerate and only part of it could
// be recovered.
func triangulateContour(n int32, verts, indices []int32, tris []int32) int32 {
	ntris := int32(0)
	dst := int32(0)

	for i := int32(0); i < n; i++ {
		i1 := nextIdx(i, n)
		i2 := nextIdx(i1, n)
		if diagonal(i, i2, n, verts, indices) {
			indices[i1] |= canRemoveBit
		}
	}

	for n > 3 {
		minLen := int32(-1)
		mini := int32(-1)
		for i := int32(0); i < n; i++ {
			i1 := nextIdx(i, n)
			if indices[i1]&canRemoveBit != 0 {
				p0 := verts[(indices[i]&^canRemoveBit)*4:]
				p2 := verts[(indices[nextIdx(i1, n)]&^canRemoveBit)*4:]
				dx := p2[0] - p0[0]
				dz := p2[2] - p0[2]
				length := dx*dx + dz*dz
				if minLen < 0 || length < minLen {
					minLen = length
					mini = i
				}
			}
		}

		if mini == -1 {
			// Degenerate contour; drop what remains.
			return -ntris
		}

		i := mini
		i1 := nextIdx(i, n)
		i2 := nextIdx(i1, n)

		tris[dst] = indices[i] &^ canRemoveBit
		tris[dst+1] = indices[i1] &^ canRemoveBit
		tris[dst+2] = indices[i2] &^ canRemoveBit
		dst += 3
		ntris++

		// Remove i1 from the ring.
		n--
		for k := i1; k < n; k++ {
			indices[k] = indices[k+1]
		}
		if i1 >= n {
			i1 = 0
		}
		i = prevIdx(i1, n)

		if diagonal(prevIdx(i, n), i1, n, verts, indices) {
			indices[i] |= canRemoveBit
		} else {
			indices[i] &^= canRemoveBit
		}
		if diagonal(i, nextIdx(i1, n), n, verts, indices) {
			indices[i1] |= canRemoveBit
		} else {
			indices[i1] &^= canRemoveBit
		}
	}

	tris[dst] = indices[0] &^ canRemoveBit
	tris[dst+1] = indices[1] &^ canRemoveBit
	tris[dst+2] = indices[2] &^ canRemoveBit
	ntris++

	return ntris
}

// PayloadMagic identifies a meshed tile payload pushed to the sink.
const PayloadMagic uint32 = 'N'<<24 | 'T'<<16 | 'P'<<8 | 'M'

// PayloadVersion is the current payload format version.
const PayloadVersion uint16 = 1

// TilePayload is the decoded form of a sink tile, used by consumers and
// tests.
type TilePayload struct {
	TX     int32
	TY     int32
	TLayer int32
	BMin   [3]float32
	CS     float32
	CH     float32
	Mesh   LayerPolyMesh
}

// EncodeTilePayload serializes a meshed layer for the sink.
func EncodeTilePayload(hdr *nav.LayerHeader, mesh *LayerPolyMesh, cs, ch float32) []byte {
	w := rw.NewWriter()
	w.WriteUint32(PayloadMagic)
	w.WriteUint16(PayloadVersion)
	w.WriteUint16(0) // pad
	w.WriteInt32(hdr.TX)
	w.WriteInt32(hdr.TY)
	w.WriteInt32(hdr.TLayer)
	w.WriteFloat32s(hdr.BMin[:])
	w.WriteFloat32(cs)
	w.WriteFloat32(ch)
	w.WriteUint16(uint16(mesh.NVerts))
	w.WriteUint16(uint16(mesh.NTris))
	for _, v := range mesh.Verts {
		w.WriteUint16(v)
	}
	for _, t := range mesh.Tris {
		w.WriteUint16(t)
	}
	w.WriteBytes(mesh.Areas)
	for _, f := range mesh.Flags {
		w.WriteUint16(f)
	}
	return w.Bytes()
}

// DecodeTilePayload parses a sink tile payload.
func DecodeTilePayload(data []byte) (*TilePayload, error) {
	r := rw.NewReader(data)
	magic := r.ReadUint32()
	version := r.ReadUint16()
	r.ReadUint16() // pad
	if magic != PayloadMagic {
		return nil, fmt.Errorf("%w: bad payload magic %#x", nav.ErrCorruptData, magic)
	}
	if version != PayloadVersion {
		return nil, fmt.Errorf("%w: payload version %d, want %d", nav.ErrConfigMismatch, version, PayloadVersion)
	}
	p := &TilePayload{}
	p.TX = r.ReadInt32()
	p.TY = r.ReadInt32()
	p.TLayer = r.ReadInt32()
	r.ReadFloat32s(p.BMin[:])
	p.CS = r.ReadFloat32()
	p.CH = r.ReadFloat32()
	nverts := int32(r.ReadUint16())
	ntris := int32(r.ReadUint16())
	p.Mesh.NVerts = nverts
	p.Mesh.NTris = ntris
	p.Mesh.Verts = make([]uint16, nverts*3)
	for i := range p.Mesh.Verts {
		p.Mesh.Verts[i] = r.ReadUint16()
	}
	p.Mesh.Tris = make([]uint16, ntris*3)
	for i := range p.Mesh.Tris {
		p.Mesh.Tris[i] = r.ReadUint16()
	}
	p.Mesh.Areas = make([]uint8, ntris)
	copy(p.Mesh.Areas, r.ReadBytes(int(ntris)))
	p.Mesh.Flags = make([]uint16, ntris)
	for i := range p.Mesh.Flags {
		p.Mesh.Flags[i] = r.ReadUint16()
	}
	if err := r.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", nav.ErrCorruptData, err)
	}
	return p, nil
}
