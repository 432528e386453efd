package cache

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"

	"navtile/common"
	"navtile/nav"
)

// ObstacleRef is a salted handle to a live obstacle slot.
type ObstacleRef uint32

// ObstacleState is the lifecycle of a runtime obstacle. Mutations first mark
// the touched tiles dirty; the obstacle reaches its settled state only after
// every touched tile has been rebuilt.
type ObstacleState uint8

const (
	ObstacleEmpty ObstacleState = iota
	ObstacleProcessing
	ObstacleProcessed
	ObstacleRemoving
)

// ObstacleShape selects the footprint geometry of an obstacle.
type ObstacleShape uint8

const (
	ShapeCylinder ObstacleShape = iota
	ShapeBox
)

const maxTouchedTiles = 8

type obstacleCylinder struct {
	pos    [3]float32
	radius float32
	height float32
}

type obstacleBox struct {
	bmin [3]float32
	bmax [3]float32
}

// Obstacle is one runtime exclusion volume. touched is the tile set whose
// rebuild the obstacle is waiting on; pending counts tiles still queued.
type Obstacle struct {
	cylinder obstacleCylinder
	box      obstacleBox

	shape   ObstacleShape
	state   ObstacleState
	area    uint8
	salt    uint16
	touched [maxTouchedTiles]TileRef
	pending [maxTouchedTiles]TileRef
	ntouch  uint8
	npend   uint8
	next    int32 // freelist index
}

// ObstacleSpec is the authored form of one obstacle, used when snapshotting
// a cache for persistence and when re-adding obstacles on load.
type ObstacleSpec struct {
	Shape ObstacleShape
	Area  uint8

	// Cylinder fields.
	Pos    mgl32.Vec3
	Radius float32
	Height float32

	// Box fields.
	BMin mgl32.Vec3
	BMax mgl32.Vec3
}

// State reports the obstacle's lifecycle state.
func (o *Obstacle) State() ObstacleState { return o.state }

// Shape reports the obstacle's footprint geometry.
func (o *Obstacle) Shape() ObstacleShape { return o.shape }

func (o *Obstacle) bounds(bmin, bmax *[3]float32) {
	switch o.shape {
	case ShapeCylinder:
		c := &o.cylinder
		bmin[0] = c.pos[0] - c.radius
		bmin[1] = c.pos[1]
		bmin[2] = c.pos[2] - c.radius
		bmax[0] = c.pos[0] + c.radius
		bmax[1] = c.pos[1] + c.height
		bmax[2] = c.pos[2] + c.radius
	case ShapeBox:
		*bmin = o.box.bmin
		*bmax = o.box.bmax
	}
}

// markCylinderArea stamps the obstacle area into every layer cell whose
// center lies inside the cylinder footprint within the height range.
func markCylinderArea(layer *nav.TileLayer, orig [3]float32, cs, ch float32,
	pos [3]float32, radius, height float32, area uint8) {
	var bmin, bmax [3]float32
	bmin[0] = pos[0] - radius
	bmin[1] = pos[1]
	bmin[2] = pos[2] - radius
	bmax[0] = pos[0] + radius
	bmax[1] = pos[1] + height
	bmax[2] = pos[2] + radius
	r2 := common.Sqr(radius/cs + 0.5)

	w := int32(layer.Header.Width)
	h := int32(layer.Header.Height)
	ics := 1.0 / cs
	ich := 1.0 / ch

	px := (pos[0] - orig[0]) * ics
	pz := (pos[2] - orig[2]) * ics

	minx := int32(math.Floor(float64((bmin[0] - orig[0]) * ics)))
	miny := int32(math.Floor(float64((bmin[1] - orig[1]) * ich)))
	minz := int32(math.Floor(float64((bmin[2] - orig[2]) * ics)))
	maxx := int32(math.Floor(float64((bmax[0] - orig[0]) * ics)))
	maxy := int32(math.Floor(float64((bmax[1] - orig[1]) * ich)))
	maxz := int32(math.Floor(float64((bmax[2] - orig[2]) * ics)))

	if maxx < 0 || minx >= w || maxz < 0 || minz >= h {
		return
	}
	minx = common.Max(minx, 0)
	maxx = common.Min(maxx, w-1)
	minz = common.Max(minz, 0)
	maxz = common.Min(maxz, h-1)

	for z := minz; z <= maxz; z++ {
		for x := minx; x <= maxx; x++ {
			dx := float32(x) + 0.5 - px
			dz := float32(z) + 0.5 - pz
			if dx*dx+dz*dz > r2 {
				continue
			}
			y := int32(layer.Heights[x+z*w])
			if y < miny || y > maxy {
				continue
			}
			layer.Areas[x+z*w] = area
		}
	}
}

// markBoxArea stamps the obstacle area into every layer cell inside the
// axis-aligned box.
func markBoxArea(layer *nav.TileLayer, orig [3]float32, cs, ch float32,
	bmin, bmax [3]float32, area uint8) {
	w := int32(layer.Header.Width)
	h := int32(layer.Header.Height)
	ics := 1.0 / cs
	ich := 1.0 / ch

	minx := int32(math.Floor(float64((bmin[0] - orig[0]) * ics)))
	miny := int32(math.Floor(float64((bmin[1] - orig[1]) * ich)))
	minz := int32(math.Floor(float64((bmin[2] - orig[2]) * ics)))
	maxx := int32(math.Floor(float64((bmax[0] - orig[0]) * ics)))
	maxy := int32(math.Floor(float64((bmax[1] - orig[1]) * ich)))
	maxz := int32(math.Floor(float64((bmax[2] - orig[2]) * ics)))

	if maxx < 0 || minx >= w || maxz < 0 || minz >= h {
		return
	}
	minx = common.Max(minx, 0)
	maxx = common.Min(maxx, w-1)
	minz = common.Max(minz, 0)
	maxz = common.Min(maxz, h-1)

	for z := minz; z <= maxz; z++ {
		for x := minx; x <= maxx; x++ {
			y := int32(layer.Heights[x+z*w])
			if y < miny || y > maxy {
				continue
			}
			layer.Areas[x+z*w] = area
		}
	}
}
