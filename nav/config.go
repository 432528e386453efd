package nav

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// This value specifies how many layers (or "floors") each navmesh tile is
// expected to have.
const DefaultLayersPerTile = 4

// MaxLayers caps the number of height layers a single tile footprint may
// produce during rasterization.
const MaxLayers = 32

// Config holds every parameter that shapes a build cycle. It is captured once
// when a cache is created and stays fixed until the cache is rebuilt, so a
// build is fully reproducible from its declared inputs.
type Config struct {
	Orig       mgl32.Vec3 // Minimum bounds of the navigable world.
	CellSize   float32    // Voxel size on the xz-plane. [wu]
	CellHeight float32    // Voxel size along the y-axis. [wu]
	TileSize   int32      // Tile edge length. [vx]

	AgentHeight       float32 // Standing clearance. [wu]
	AgentCrouchHeight float32 // Crouching clearance. [wu]
	AgentRadius       float32 // [wu]
	AgentMaxClimb     float32 // Max traversable step. [wu]
	AgentMaxSlope     float32 // [degrees]

	EdgeMaxLen             float32 // Max contour edge length. [wu]
	MaxSimplificationError float32 // Contour deviation. [vx]
	RegionMinSize          float32 // sqrt(min region area). [vx]
	RegionMergeSize        float32 // sqrt(merge region area). [vx]
	VertsPerPoly           int32
	DetailSampleDist       float32
	DetailSampleMaxError   float32

	LayersPerTile  int32 // Expected layers per tile; sizes the tile table.
	MaxObstacles   int32
	MaxConnections int32
}

// WalkableHeightVx returns the standing clearance in voxel units.
func (c *Config) WalkableHeightVx() int32 {
	return int32(math.Ceil(float64(c.AgentHeight / c.CellHeight)))
}

// CrouchHeightVx returns the crouching clearance in voxel units.
func (c *Config) CrouchHeightVx() int32 {
	return int32(math.Ceil(float64(c.AgentCrouchHeight / c.CellHeight)))
}

// WalkableClimbVx returns the max step height in voxel units.
func (c *Config) WalkableClimbVx() int32 {
	return int32(math.Floor(float64(c.AgentMaxClimb / c.CellHeight)))
}

// WalkableRadiusVx returns the agent radius in voxel units.
func (c *Config) WalkableRadiusVx() int32 {
	return int32(math.Ceil(float64(c.AgentRadius / c.CellSize)))
}

// BorderSize is the padding in voxels added around a tile footprint so that
// erosion and region growth do not produce seams at tile boundaries.
func (c *Config) BorderSize() int32 {
	return c.WalkableRadiusVx() + 3
}

// TileWorldSize is the tile edge length in world units.
func (c *Config) TileWorldSize() float32 {
	return float32(c.TileSize) * c.CellSize
}

// GridSize computes the voxel grid dimensions covering bounds at CellSize.
func GridSize(bmin, bmax mgl32.Vec3, cellSize float32) (w, h int32) {
	w = int32((bmax[0]-bmin[0])/cellSize + 0.5)
	h = int32((bmax[2]-bmin[2])/cellSize + 0.5)
	return w, h
}

// TileGrid returns how many tiles cover the given bounds.
func (c *Config) TileGrid(bmin, bmax mgl32.Vec3) (tw, th int32) {
	gw, gh := GridSize(bmin, bmax, c.CellSize)
	ts := c.TileSize
	return (gw + ts - 1) / ts, (gh + ts - 1) / ts
}

// MaxTiles derives the tile table capacity from the grid dimensions and the
// expected layer count.
func (c *Config) MaxTiles(bmin, bmax mgl32.Vec3) int32 {
	tw, th := c.TileGrid(bmin, bmax)
	layers := c.LayersPerTile
	if layers <= 0 {
		layers = DefaultLayersPerTile
	}
	return tw * th * layers
}

// TileAt maps a world position to tile grid coordinates.
func (c *Config) TileAt(pos mgl32.Vec3) (tx, ty int32) {
	ts := c.TileWorldSize()
	tx = int32(math.Floor(float64((pos[0] - c.Orig[0]) / ts)))
	ty = int32(math.Floor(float64((pos[2] - c.Orig[2]) / ts)))
	return tx, ty
}
