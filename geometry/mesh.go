// Package geometry is the source side of a build: the triangle soup, its
// spatial index, and the authored annotations (convex volumes, connection
// seeds, nav hints) that accompany the scene.
package geometry

import "github.com/go-gl/mathgl/mgl32"

// Mesh is an indexed triangle soup with a mutable per-triangle surface type
// table. Surface types are indices into an area table; they are painted by
// tooling and round-tripped through saved cache sets.
type Mesh struct {
	verts    []float32
	tris     []int32
	surfaces []int32
	bmin     mgl32.Vec3
	bmax     mgl32.Vec3
	chunky   *ChunkyMesh
}

const trisPerChunk = 256

// NewMesh wraps vertex and index arrays and builds the spatial index. All
// triangles start with surface type 0.
func NewMesh(verts []float32, tris []int32) *Mesh {
	m := &Mesh{
		verts:    verts,
		tris:     tris,
		surfaces: make([]int32, len(tris)/3),
	}
	if len(verts) >= 3 {
		m.bmin = mgl32.Vec3{verts[0], verts[1], verts[2]}
		m.bmax = m.bmin
		for i := 3; i < len(verts); i += 3 {
			for k := 0; k < 3; k++ {
				if verts[i+k] < m.bmin[k] {
					m.bmin[k] = verts[i+k]
				}
				if verts[i+k] > m.bmax[k] {
					m.bmax[k] = verts[i+k]
				}
			}
		}
	}
	if len(tris) > 0 {
		m.chunky = NewChunkyMesh(verts, tris, trisPerChunk)
	}
	return m
}

func (m *Mesh) Verts() []float32 { return m.verts }
func (m *Mesh) Tris() []int32    { return m.tris }
func (m *Mesh) TriCount() int32  { return int32(len(m.tris) / 3) }

// Bounds returns the axis-aligned bounds of the mesh.
func (m *Mesh) Bounds() (bmin, bmax mgl32.Vec3) { return m.bmin, m.bmax }

// SurfaceTypes exposes the per-triangle surface table.
func (m *Mesh) SurfaceTypes() []int32 { return m.surfaces }

// TriangleSurface returns the surface type painted on triangle i.
func (m *Mesh) TriangleSurface(i int32) int32 { return m.surfaces[i] }

// SetTriangleSurface repaints triangle i. Out-of-range indices are ignored so
// stale annotation data cannot corrupt the table.
func (m *Mesh) SetTriangleSurface(i, surf int32) {
	if i < 0 || int(i) >= len(m.surfaces) {
		return
	}
	m.surfaces[i] = surf
}

// TrisOverlappingRect visits every spatial-index chunk touching the xz
// rectangle with its packed index triples and the matching original triangle
// ids (for surface-type lookups).
func (m *Mesh) TrisOverlappingRect(bmin, bmax [2]float32, visit func(tris, triIDs []int32)) {
	if m.chunky == nil {
		return
	}
	var ids [512]int32
	n := m.chunky.ChunksOverlappingRect(bmin, bmax, ids[:])
	for i := 0; i < n; i++ {
		visit(m.chunky.ChunkTris(ids[i]), m.chunky.ChunkTriIDs(ids[i]))
	}
}

// MaxTrisPerChunk reports the largest spatial-index leaf.
func (m *Mesh) MaxTrisPerChunk() int32 {
	if m.chunky == nil {
		return 0
	}
	return m.chunky.MaxTrisPerChunk()
}
