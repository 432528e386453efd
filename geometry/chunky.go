package geometry

import "sort"

// chunkyNode is one node of the flattened chunk tree. A negative I encodes the
// escape offset of an internal node; leaves store the first triangle index.
type chunkyNode struct {
	bmin [2]float32
	bmax [2]float32
	i    int32
	n    int32
}

// ChunkyMesh partitions a triangle soup on the xz-plane so that tile builds
// only touch the triangles overlapping their footprint.
type ChunkyMesh struct {
	nodes           []chunkyNode
	tris            []int32
	ids             []int32 // original triangle index per stored triple
	maxTrisPerChunk int32
}

type boundsItem struct {
	bmin [2]float32
	bmax [2]float32
	i    int32
}

func calcExtends(items []boundsItem, imin, imax int, bmin, bmax []float32) {
	bmin[0] = items[imin].bmin[0]
	bmin[1] = items[imin].bmin[1]
	bmax[0] = items[imin].bmax[0]
	bmax[1] = items[imin].bmax[1]
	for i := imin + 1; i < imax; i++ {
		it := &items[i]
		if it.bmin[0] < bmin[0] {
			bmin[0] = it.bmin[0]
		}
		if it.bmin[1] < bmin[1] {
			bmin[1] = it.bmin[1]
		}
		if it.bmax[0] > bmax[0] {
			bmax[0] = it.bmax[0]
		}
		if it.bmax[1] > bmax[1] {
			bmax[1] = it.bmax[1]
		}
	}
}

func longestAxis(x, y float32) int {
	if y > x {
		return 1
	}
	return 0
}

func (cm *ChunkyMesh) subdivide(items []boundsItem, imin, imax, trisPerChunk int,
	curNode *int32, maxNodes int32, curTri *int32, inTris []int32) {
	inum := imax - imin
	icur := *curNode

	if *curNode >= maxNodes {
		return
	}

	node := &cm.nodes[*curNode]
	*curNode++

	if inum <= trisPerChunk {
		// Leaf
		calcExtends(items, imin, imax, node.bmin[:], node.bmax[:])
		node.i = *curTri
		node.n = int32(inum)
		for i := imin; i < imax; i++ {
			src := inTris[items[i].i*3:]
			dst := cm.tris[*curTri*3:]
			cm.ids[*curTri] = items[i].i
			*curTri++
			dst[0] = src[0]
			dst[1] = src[1]
			dst[2] = src[2]
		}
	} else {
		// Split
		calcExtends(items, imin, imax, node.bmin[:], node.bmax[:])

		axis := longestAxis(node.bmax[0]-node.bmin[0], node.bmax[1]-node.bmin[1])
		span := items[imin:imax]
		sort.Slice(span, func(i, j int) bool {
			return span[i].bmin[axis] < span[j].bmin[axis]
		})

		isplit := imin + inum/2
		cm.subdivide(items, imin, isplit, trisPerChunk, curNode, maxNodes, curTri, inTris)
		cm.subdivide(items, isplit, imax, trisPerChunk, curNode, maxNodes, curTri, inTris)

		// Negative index means escape.
		node.i = -(*curNode - icur)
	}
}

// NewChunkyMesh builds the chunk tree over verts/tris with at most
// trisPerChunk triangles per leaf.
func NewChunkyMesh(verts []float32, tris []int32, trisPerChunk int) *ChunkyMesh {
	ntris := len(tris) / 3
	nchunks := (ntris + trisPerChunk - 1) / trisPerChunk

	cm := &ChunkyMesh{
		tris: make([]int32, ntris*3),
		ids:  make([]int32, ntris),
	}
	maxNodes := int32(nchunks * 4)
	cm.nodes = make([]chunkyNode, maxNodes)

	items := make([]boundsItem, ntris)
	for i := 0; i < ntris; i++ {
		t := tris[i*3 : i*3+3]
		it := &items[i]
		it.i = int32(i)
		// Triangle xz bounds.
		it.bmin[0] = verts[t[0]*3+0]
		it.bmax[0] = it.bmin[0]
		it.bmin[1] = verts[t[0]*3+2]
		it.bmax[1] = it.bmin[1]
		for j := 1; j < 3; j++ {
			v := verts[t[j]*3 : t[j]*3+3]
			if v[0] < it.bmin[0] {
				it.bmin[0] = v[0]
			}
			if v[2] < it.bmin[1] {
				it.bmin[1] = v[2]
			}
			if v[0] > it.bmax[0] {
				it.bmax[0] = v[0]
			}
			if v[2] > it.bmax[1] {
				it.bmax[1] = v[2]
			}
		}
	}

	var curTri, curNode int32
	cm.subdivide(items, 0, ntris, trisPerChunk, &curNode, maxNodes, &curTri, tris)
	cm.nodes = cm.nodes[:curNode]

	for i := range cm.nodes {
		node := &cm.nodes[i]
		if node.i >= 0 && node.n > cm.maxTrisPerChunk {
			cm.maxTrisPerChunk = node.n
		}
	}
	return cm
}

// MaxTrisPerChunk reports the largest leaf, for sizing per-tile buffers.
func (cm *ChunkyMesh) MaxTrisPerChunk() int32 { return cm.maxTrisPerChunk }

// ChunkTris returns the triangle index triples stored in chunk id.
func (cm *ChunkyMesh) ChunkTris(id int32) []int32 {
	node := &cm.nodes[id]
	return cm.tris[node.i*3 : (node.i+node.n)*3]
}

// ChunkTriIDs returns the original triangle indices matching ChunkTris, one id
// per triple.
func (cm *ChunkyMesh) ChunkTriIDs(id int32) []int32 {
	node := &cm.nodes[id]
	return cm.ids[node.i : node.i+node.n]
}

func overlapRect(amin, amax, bmin, bmax [2]float32) bool {
	if amin[0] > bmax[0] || amax[0] < bmin[0] {
		return false
	}
	if amin[1] > bmax[1] || amax[1] < bmin[1] {
		return false
	}
	return true
}

// ChunksOverlappingRect collects ids of leaf chunks whose bounds overlap the
// xz rectangle.
func (cm *ChunkyMesh) ChunksOverlappingRect(bmin, bmax [2]float32, ids []int32) int {
	i := int32(0)
	n := 0
	nnodes := int32(len(cm.nodes))
	for i < nnodes {
		node := &cm.nodes[i]
		overlap := overlapRect(bmin, bmax, node.bmin, node.bmax)
		isLeaf := node.i >= 0

		if isLeaf && overlap {
			if n < len(ids) {
				ids[n] = i
				n++
			}
		}

		if overlap || isLeaf {
			i++
		} else {
			i += -node.i
		}
	}
	return n
}
