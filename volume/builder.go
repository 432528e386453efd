package volume

import (
	"fmt"

	"go.uber.org/zap"

	"navtile/common"
	"navtile/geometry"
	"navtile/nav"
)

// Builder rasterizes tile footprints of one geometry into compressed layer
// blobs. The three span filters can be toggled independently; all are on by
// default.
type Builder struct {
	Cfg    *nav.Config
	Tables *nav.Tables
	Geom   *geometry.Geometry
	Comp   nav.Compressor
	Log    *zap.Logger

	FilterLowHangingObstacles bool
	FilterLedges              bool
	FilterLowHeight           bool

	arena *nav.ScratchArena
}

// scratch sized for one chunk's triangle areas; a chunk larger than this
// falls back to the heap.
const builderArenaSize = 64 * 1024

func NewBuilder(cfg *nav.Config, tables *nav.Tables, geom *geometry.Geometry,
	comp nav.Compressor, log *zap.Logger) *Builder {
	if log == nil {
		log = zap.NewNop()
	}
	return &Builder{
		Cfg:                       cfg,
		Tables:                    tables,
		Geom:                      geom,
		Comp:                      comp,
		Log:                       log,
		FilterLowHangingObstacles: true,
		FilterLedges:              true,
		FilterLowHeight:           true,
		arena:                     nav.NewScratchArena(builderArenaSize),
	}
}

// RasterizeTileLayers builds every height layer of tile (tx,ty) for the
// navmesh at meshIndex and returns them as compressed blobs. A footprint with
// no overlapping triangles yields zero blobs and no error. Failures abort
// only this tile.
func (b *Builder) RasterizeTileLayers(meshIndex, tx, ty int32) ([][]byte, error) {
	if b.Geom == nil || b.Geom.Mesh == nil {
		return nil, fmt.Errorf("%w: no input mesh", nav.ErrFailure)
	}

	cfg := b.Cfg
	mesh := b.Geom.Mesh
	verts := mesh.Verts()

	borderSize := cfg.BorderSize()
	tcs := cfg.TileWorldSize()
	gmin, gmax := mesh.Bounds()

	// Tile bounds, padded by the border so erosion does not cut seams at
	// tile edges.
	var bmin, bmax [3]float32
	bmin[0] = gmin[0] + float32(tx)*tcs - float32(borderSize)*cfg.CellSize
	bmin[1] = gmin[1]
	bmin[2] = gmin[2] + float32(ty)*tcs - float32(borderSize)*cfg.CellSize
	bmax[0] = gmin[0] + float32(tx+1)*tcs + float32(borderSize)*cfg.CellSize
	bmax[1] = gmax[1]
	bmax[2] = gmin[2] + float32(ty+1)*tcs + float32(borderSize)*cfg.CellSize

	width := cfg.TileSize + borderSize*2
	height := cfg.TileSize + borderSize*2

	hf := NewHeightfield(width, height, bmin, bmax, cfg.CellSize, cfg.CellHeight)

	walkableHeight := cfg.WalkableHeightVx()
	walkableClimb := cfg.WalkableClimbVx()
	crouchHeight := cfg.CrouchHeightVx()

	b.arena.Acquire()
	defer b.arena.Release()

	empty := true
	b.Geom.Mesh.TrisOverlappingRect(
		[2]float32{bmin[0], bmin[2]}, [2]float32{bmax[0], bmax[2]},
		func(tris, triIDs []int32) {
			empty = false
			ntris := len(tris) / 3
			areas := b.arena.Alloc(ntris)
			if areas == nil {
				areas = make([]byte, ntris)
			}
			MarkWalkableTriangles(cfg.AgentMaxSlope, verts, tris, triIDs,
				mesh.SurfaceTypes(), areas)
			RasterizeTriangles(verts, tris, areas, hf, walkableClimb)
		})
	if empty {
		return nil, nil
	}

	// Filter out overhang artifacts of conservative rasterization and
	// spans the agent cannot stand on.
	if b.FilterLowHangingObstacles {
		FilterLowHangingWalkableObstacles(walkableClimb, hf)
	}
	if b.FilterLedges {
		FilterLedgeSpans(walkableHeight, walkableClimb, hf)
	}
	if b.FilterLowHeight {
		FilterWalkableLowHeightSpans(walkableHeight, crouchHeight, hf)
	}

	chf := BuildCompact(walkableHeight, walkableClimb, hf)

	ErodeWalkableArea(cfg.WalkableRadiusVx(), chf)

	for _, vol := range b.Geom.Volumes {
		if vol.NavMeshIndex != meshIndex {
			continue
		}
		MarkConvexPolyArea(vol.Verts, int32(len(vol.Verts)/3),
			vol.HMin, vol.HMax, uint8(vol.Area), chf)
	}

	mergeHeight := crouchHeight
	if mergeHeight <= 0 {
		mergeHeight = walkableHeight
	}
	lset, err := BuildHeightfieldLayers(chf, borderSize, mergeHeight)
	if err != nil {
		b.Log.Error("layer extraction failed",
			zap.Int32("tx", tx), zap.Int32("ty", ty), zap.Error(err))
		return nil, err
	}

	nlayers := common.Min(len(lset), nav.MaxLayers)
	blobs := make([][]byte, 0, nlayers)
	for i := 0; i < nlayers; i++ {
		layer := lset[i]
		hdr := nav.LayerHeader{
			Magic:   nav.LayerMagic,
			Version: nav.LayerVersion,
			TX:      tx,
			TY:      ty,
			TLayer:  int32(i),
			BMin:    layer.BMin,
			BMax:    layer.BMax,
			HMin:    uint16(layer.HMin),
			HMax:    uint16(layer.HMax),
			Width:   uint8(layer.Width),
			Height:  uint8(layer.Height),
			MinX:    uint8(layer.MinX),
			MaxX:    uint8(layer.MaxX),
			MinY:    uint8(layer.MinY),
			MaxY:    uint8(layer.MaxY),
		}
		blob, err := nav.BuildTileLayerBlob(b.Comp, &hdr, layer.Heights, layer.Areas, layer.Cons)
		if err != nil {
			b.Log.Error("layer blob packing failed",
				zap.Int32("tx", tx), zap.Int32("ty", ty), zap.Int("layer", i), zap.Error(err))
			return nil, err
		}
		blobs = append(blobs, blob)
	}

	return blobs, nil
}
