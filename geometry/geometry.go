package geometry

import "github.com/go-gl/mathgl/mgl32"

const (
	// MaxConvexVolVerts caps the footprint polygon of one convex volume.
	MaxConvexVolVerts = 12
	// MaxVolumes caps authored convex volumes per scene.
	MaxVolumes = 256
	// MaxConnectionSeeds caps authored off-mesh connections per scene.
	MaxConnectionSeeds = 256
	// MaxNavHints caps authored nav hints per scene.
	MaxNavHints = 256
)

// ConvexVolume is an authored prism that overrides the area classification of
// every span inside it. Volumes are tagged with the navmesh they apply to so
// one scene can feed several caches.
type ConvexVolume struct {
	Verts        []float32 // packed xz-ring with y, at most MaxConvexVolVerts
	HMin, HMax   float32
	Area         int32
	NavMeshIndex int32
}

// ConnectionSeed is an authored off-mesh connection: two endpoints, a pickup
// radius and the connection type that decides area and flags of the resulting
// link.
type ConnectionSeed struct {
	Start        mgl32.Vec3
	End          mgl32.Vec3
	Radius       float32
	BiDir        bool
	ConnType     int32
	NavMeshIndex int32
}

// NavHint is an authored point annotation (spawn markers, cover points). The
// cache never interprets hints, it only persists them with the scene.
type NavHint struct {
	Pos          mgl32.Vec3
	HintType     int32
	NavMeshIndex int32
}

// Geometry bundles the triangle mesh with its authored annotations. It is the
// single input contract of the rasterizer and the persistence codec.
type Geometry struct {
	Mesh    *Mesh
	Volumes []ConvexVolume
	Seeds   []ConnectionSeed
	Hints   []NavHint
}

func NewGeometry(mesh *Mesh) *Geometry {
	return &Geometry{Mesh: mesh}
}

// AddVolume appends a convex volume. Returns false when the table is full or
// the ring is oversized.
func (g *Geometry) AddVolume(v ConvexVolume) bool {
	if len(g.Volumes) >= MaxVolumes || len(v.Verts) > MaxConvexVolVerts*3 {
		return false
	}
	g.Volumes = append(g.Volumes, v)
	return true
}

// DeleteVolume removes the volume at index i.
func (g *Geometry) DeleteVolume(i int) {
	if i < 0 || i >= len(g.Volumes) {
		return
	}
	g.Volumes = append(g.Volumes[:i], g.Volumes[i+1:]...)
}

// AddSeed appends a connection seed. Returns false when the table is full.
func (g *Geometry) AddSeed(s ConnectionSeed) bool {
	if len(g.Seeds) >= MaxConnectionSeeds {
		return false
	}
	g.Seeds = append(g.Seeds, s)
	return true
}

// AddHint appends a nav hint. Returns false when the table is full.
func (g *Geometry) AddHint(h NavHint) bool {
	if len(g.Hints) >= MaxNavHints {
		return false
	}
	g.Hints = append(g.Hints, h)
	return true
}

// VolumesFor returns the convex volumes applying to navmesh index idx.
func (g *Geometry) VolumesFor(idx int32) []ConvexVolume {
	var out []ConvexVolume
	for _, v := range g.Volumes {
		if v.NavMeshIndex == idx {
			out = append(out, v)
		}
	}
	return out
}

// SeedsFor returns the connection seeds applying to navmesh index idx.
func (g *Geometry) SeedsFor(idx int32) []ConnectionSeed {
	var out []ConnectionSeed
	for _, s := range g.Seeds {
		if s.NavMeshIndex == idx {
			out = append(out, s)
		}
	}
	return out
}

// HintsFor returns the nav hints applying to navmesh index idx.
func (g *Geometry) HintsFor(idx int32) []NavHint {
	var out []NavHint
	for _, h := range g.Hints {
		if h.NavMeshIndex == idx {
			out = append(out, h)
		}
	}
	return out
}
