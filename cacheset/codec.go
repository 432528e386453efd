// Package cacheset persists whole tile caches with their companion geometry
// annotations. The file holds up to MaxCaches cache sections so several agent
// profiles share one snapshot.
package cacheset

import (
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"navtile/cache"
	"navtile/common/rw"
	"navtile/geometry"
	"navtile/nav"
)

// SetMagic identifies a cache-set file ('N''S''E''T').
const SetMagic uint32 = 'N'<<24 | 'S'<<16 | 'E'<<8 | 'T'

// SetVersion is the current file format version.
const SetVersion uint16 = 1

// SectionMagic identifies one cache section within the file.
const SectionMagic uint32 = 'N'<<24 | 'S'<<16 | 'E'<<8 | 'C'

// MaxCaches is the fixed number of cache section slots in the top header.
const MaxCaches = 8

// topHeaderSize: magic, version+pad, numCaches, surfCount, surfOffset,
// section offset table.
const topHeaderSize = 4 + 2 + 2 + 4 + 4 + 8 + MaxCaches*8

// Entry pairs one cache with the sink its tiles publish into. The sink is
// consulted on save (connection unlinking) and rebuilt into on load.
type Entry struct {
	Cache *cache.TileCache
	Sink  nav.TileSink
}

func writeConfig(w *rw.Writer, cfg *nav.Config) {
	w.WriteFloat32s(cfg.Orig[:])
	w.WriteFloat32(cfg.CellSize)
	w.WriteFloat32(cfg.CellHeight)
	w.WriteInt32(cfg.TileSize)
	w.WriteFloat32(cfg.AgentHeight)
	w.WriteFloat32(cfg.AgentCrouchHeight)
	w.WriteFloat32(cfg.AgentRadius)
	w.WriteFloat32(cfg.AgentMaxClimb)
	w.WriteFloat32(cfg.AgentMaxSlope)
	w.WriteFloat32(cfg.EdgeMaxLen)
	w.WriteFloat32(cfg.MaxSimplificationError)
	w.WriteFloat32(cfg.RegionMinSize)
	w.WriteFloat32(cfg.RegionMergeSize)
	w.WriteInt32(cfg.VertsPerPoly)
	w.WriteFloat32(cfg.DetailSampleDist)
	w.WriteFloat32(cfg.DetailSampleMaxError)
	w.WriteInt32(cfg.LayersPerTile)
	w.WriteInt32(cfg.MaxObstacles)
	w.WriteInt32(cfg.MaxConnections)
}

func readConfig(r *rw.Reader) nav.Config {
	var cfg nav.Config
	r.ReadFloat32s(cfg.Orig[:])
	cfg.CellSize = r.ReadFloat32()
	cfg.CellHeight = r.ReadFloat32()
	cfg.TileSize = r.ReadInt32()
	cfg.AgentHeight = r.ReadFloat32()
	cfg.AgentCrouchHeight = r.ReadFloat32()
	cfg.AgentRadius = r.ReadFloat32()
	cfg.AgentMaxClimb = r.ReadFloat32()
	cfg.AgentMaxSlope = r.ReadFloat32()
	cfg.EdgeMaxLen = r.ReadFloat32()
	cfg.MaxSimplificationError = r.ReadFloat32()
	cfg.RegionMinSize = r.ReadFloat32()
	cfg.RegionMergeSize = r.ReadFloat32()
	cfg.VertsPerPoly = r.ReadInt32()
	cfg.DetailSampleDist = r.ReadFloat32()
	cfg.DetailSampleMaxError = r.ReadFloat32()
	cfg.LayersPerTile = r.ReadInt32()
	cfg.MaxObstacles = r.ReadInt32()
	cfg.MaxConnections = r.ReadInt32()
	return cfg
}

// Save snapshots every cache plus the geometry annotations into ws. Live
// off-mesh connections are unlinked from each sink first and left dirty, so
// the running caches re-link them on their next Update.
func Save(ws io.WriteSeeker, geom *geometry.Geometry, entries []Entry, log *zap.Logger) error {
	if log == nil {
		log = zap.NewNop()
	}
	if len(entries) > MaxCaches {
		return fmt.Errorf("%w: %d caches, file holds %d", nav.ErrCapacityExceeded, len(entries), MaxCaches)
	}

	c := rw.NewCursor(ws)
	topPos := c.Reserve(topHeaderSize)

	// Surface-type table.
	surfOffset := c.Tell()
	surfaces := geom.Mesh.SurfaceTypes()
	{
		w := rw.NewWriter()
		for _, s := range surfaces {
			w.WriteInt32(s)
		}
		c.Write(w.Bytes())
	}

	var sectionOffsets [MaxCaches]int64
	for i, ent := range entries {
		ent.Cache.MarkConnectionsDirty(ent.Sink)
		sectionOffsets[i] = c.Tell()
		if err := saveSection(c, geom, ent.Cache, int32(i)); err != nil {
			return err
		}
	}

	// Patch the top header with final offsets.
	top := rw.NewWriter()
	top.WriteUint32(SetMagic)
	top.WriteUint16(SetVersion)
	top.WriteUint16(0) // pad
	top.WriteInt32(int32(len(entries)))
	top.WriteInt32(int32(len(surfaces)))
	top.WriteInt64(surfOffset)
	for _, off := range sectionOffsets {
		top.WriteInt64(off)
	}
	c.Patch(topPos, top.Bytes())

	if err := c.Err(); err != nil {
		return fmt.Errorf("write cache set: %w", err)
	}
	log.Info("cache set saved",
		zap.Int("caches", len(entries)), zap.Int("surfaceTypes", len(surfaces)))
	return nil
}

func saveSection(c *rw.Cursor, geom *geometry.Geometry, tc *cache.TileCache, meshIndex int32) error {
	refs := tc.LiveTileRefs()
	cfg := tc.Config()

	w := rw.NewWriter()
	w.WriteUint32(SectionMagic)
	w.WriteUint16(SetVersion)
	w.WriteUint16(0) // pad
	w.WriteInt32(int32(len(refs)))
	w.WriteInt32(tc.Capacity())
	writeConfig(w, cfg)

	conns := tc.Connections()
	vols := geom.VolumesFor(meshIndex)
	hints := geom.HintsFor(meshIndex)
	obs := tc.LiveObstacles()
	w.WriteInt32(int32(len(conns)))
	w.WriteInt32(int32(len(vols)))
	w.WriteInt32(int32(len(hints)))
	w.WriteInt32(int32(len(obs)))

	for _, ref := range refs {
		data := tc.TileData(ref)
		w.WriteUint32(uint32(ref))
		w.WriteInt32(int32(len(data)))
		w.WriteBytes(data)
	}

	for _, cn := range conns {
		w.WriteFloat32s(cn.Start[:])
		w.WriteFloat32s(cn.End[:])
		w.WriteFloat32(cn.Radius)
		if cn.BiDir {
			w.WriteUint8(1)
		} else {
			w.WriteUint8(0)
		}
		w.WriteInt32(cn.ConnType)
		w.WriteInt32(cn.NavMeshIndex)
	}
	for _, v := range vols {
		w.WriteInt32(int32(len(v.Verts) / 3))
		w.WriteFloat32s(v.Verts)
		w.WriteFloat32(v.HMin)
		w.WriteFloat32(v.HMax)
		w.WriteInt32(v.Area)
		w.WriteInt32(v.NavMeshIndex)
	}
	for _, h := range hints {
		w.WriteFloat32s(h.Pos[:])
		w.WriteInt32(h.HintType)
		w.WriteInt32(h.NavMeshIndex)
	}
	// Mid-application obstacles are stored in their committed form; the
	// loader re-applies them onto the rebuilt tiles.
	for _, ob := range obs {
		w.WriteUint8(uint8(ob.Shape))
		w.WriteUint8(ob.Area)
		w.WriteUint16(0) // pad
		w.WriteFloat32s(ob.Pos[:])
		w.WriteFloat32(ob.Radius)
		w.WriteFloat32(ob.Height)
		w.WriteFloat32s(ob.BMin[:])
		w.WriteFloat32s(ob.BMax[:])
	}

	c.Write(w.Bytes())
	return c.Err()
}

type sectionData struct {
	cfg      nav.Config
	maxTiles int32
	tiles    [][]byte
	conns    []geometry.ConnectionSeed
	vols     []geometry.ConvexVolume
	hints    []geometry.NavHint
	obs      []cache.ObstacleSpec
}

// Load restores every saved cache. The whole file is parsed and validated
// before anything is applied, so a corrupt file leaves geom and the sinks
// untouched. Tiles are re-added and synchronously rebuilt into the matching
// sink; connections, volumes and hints are applied last.
func Load(rs io.ReadSeeker, geom *geometry.Geometry, comp nav.Compressor,
	tables *nav.Tables, sinks []nav.TileSink, log *zap.Logger) ([]*cache.TileCache, error) {
	if log == nil {
		log = zap.NewNop()
	}

	f := rw.NewFileReader(rs)
	top := f.ReadBlock(topHeaderSize)
	if err := f.Err(); err != nil {
		return nil, fmt.Errorf("%w: truncated header: %v", nav.ErrCorruptData, err)
	}
	magic := top.ReadUint32()
	version := top.ReadUint16()
	top.ReadUint16() // pad
	if magic != SetMagic {
		return nil, fmt.Errorf("%w: bad set magic %#x", nav.ErrCorruptData, magic)
	}
	if version != SetVersion {
		return nil, fmt.Errorf("%w: set version %d, want %d", nav.ErrConfigMismatch, version, SetVersion)
	}
	numCaches := top.ReadInt32()
	surfCount := top.ReadInt32()
	surfOffset := top.ReadInt64()
	var sectionOffsets [MaxCaches]int64
	for i := range sectionOffsets {
		sectionOffsets[i] = top.ReadInt64()
	}
	if numCaches < 0 || numCaches > MaxCaches {
		return nil, fmt.Errorf("%w: cache count %d", nav.ErrCorruptData, numCaches)
	}
	if surfCount < 0 || surfCount != geom.Mesh.TriCount() {
		return nil, fmt.Errorf("%w: surface table has %d entries, mesh has %d triangles",
			nav.ErrConfigMismatch, surfCount, geom.Mesh.TriCount())
	}
	if int(numCaches) > len(sinks) {
		return nil, fmt.Errorf("%w: file holds %d caches, %d sinks provided",
			nav.ErrConfigMismatch, numCaches, len(sinks))
	}

	f.SeekTo(surfOffset)
	surfBlock := f.ReadBlock(int(surfCount) * 4)
	surfaces := make([]int32, surfCount)
	for i := range surfaces {
		surfaces[i] = surfBlock.ReadInt32()
	}
	if err := f.Err(); err != nil {
		return nil, fmt.Errorf("%w: surface table: %v", nav.ErrCorruptData, err)
	}

	// Parse every section fully before touching any live state.
	sections := make([]*sectionData, numCaches)
	for i := int32(0); i < numCaches; i++ {
		f.SeekTo(sectionOffsets[i])
		sec, err := loadSection(f)
		if err != nil {
			return nil, err
		}
		sections[i] = sec
	}

	// Validate constructibility of every section before the apply phase;
	// a failure past this point would leave the caller partially loaded.
	for si, sec := range sections {
		if err := validateSection(sec, comp); err != nil {
			return nil, fmt.Errorf("section %d: %w", si, err)
		}
	}

	caches := make([]*cache.TileCache, numCaches)
	for i, sec := range sections {
		cfg := sec.cfg
		tc, err := cache.NewWithCapacity(&cfg, tables, comp, sec.maxTiles, log)
		if err != nil {
			return nil, err
		}

		type loc struct{ tx, ty int32 }
		seen := make(map[loc]bool)
		for _, blob := range sec.tiles {
			hdr, err := nav.ParseLayerHeader(blob)
			if err != nil {
				return nil, err
			}
			if _, err := tc.AddTile(blob); err != nil {
				return nil, err
			}
			seen[loc{hdr.TX, hdr.TY}] = true
		}
		for l := range seen {
			if err := tc.BuildTilesAt(l.tx, l.ty, sinks[i]); err != nil {
				return nil, err
			}
		}

		// Re-apply obstacles and settle them so a freshly loaded cache
		// reports them as Processed, not mid-application. More obstacles
		// than the request queue holds are staged across settle rounds.
		for oi := 0; oi < len(sec.obs); {
			for ; oi < len(sec.obs); oi++ {
				ob := sec.obs[oi]
				var err error
				if ob.Shape == cache.ShapeBox {
					_, err = tc.AddBoxObstacle(ob.BMin, ob.BMax, ob.Area)
				} else {
					_, err = tc.AddObstacle(ob.Pos, ob.Radius, ob.Height, ob.Area)
				}
				if err != nil {
					if errors.Is(err, nav.ErrCapacityExceeded) {
						break
					}
					return nil, err
				}
			}
			for done := false; !done; {
				var err error
				done, err = tc.Update(0, sinks[i])
				if err != nil {
					return nil, err
				}
			}
		}
		caches[i] = tc
	}

	// Surface types and annotations last; the annotations depend on the
	// rebuilt tiles existing.
	for i, s := range surfaces {
		geom.Mesh.SetTriangleSurface(int32(i), s)
	}
	for i, sec := range sections {
		for _, cn := range sec.conns {
			if _, err := caches[i].AddOffMeshConnection(cn); err != nil {
				return nil, err
			}
		}
		for _, v := range sec.vols {
			geom.AddVolume(v)
		}
		for _, h := range sec.hints {
			geom.AddHint(h)
		}
	}

	log.Info("cache set loaded", zap.Int32("caches", numCaches))
	return caches, nil
}

// maxSectionTiles keeps the loaded tile table small enough that salted tile
// refs retain at least 10 salt bits.
const maxSectionTiles = 1 << 22

// validateSection checks that applying a parsed section cannot fail: the
// cache is constructible, every blob decompresses, no tile slot is stored
// twice and the sub-tables fit the section's own capacities.
func validateSection(sec *sectionData, comp nav.Compressor) error {
	if sec.maxTiles <= 0 || sec.maxTiles > maxSectionTiles {
		return fmt.Errorf("%w: tile capacity %d", nav.ErrCorruptData, sec.maxTiles)
	}

	maxObs := sec.cfg.MaxObstacles
	if maxObs <= 0 {
		maxObs = 128
	}
	if int32(len(sec.obs)) > maxObs {
		return fmt.Errorf("%w: %d obstacles, capacity %d", nav.ErrCorruptData, len(sec.obs), maxObs)
	}
	maxConns := sec.cfg.MaxConnections
	if maxConns <= 0 {
		maxConns = geometry.MaxConnectionSeeds
	}
	if int32(len(sec.conns)) > maxConns {
		return fmt.Errorf("%w: %d connections, capacity %d", nav.ErrCorruptData, len(sec.conns), maxConns)
	}

	type loc struct{ tx, ty, tlayer int32 }
	seen := make(map[loc]bool, len(sec.tiles))
	for i, blob := range sec.tiles {
		hdr, err := nav.ParseLayerHeader(blob)
		if err != nil {
			return fmt.Errorf("tile %d: %w", i, err)
		}
		key := loc{hdr.TX, hdr.TY, hdr.TLayer}
		if seen[key] {
			return fmt.Errorf("%w: tile (%d,%d,%d) stored twice",
				nav.ErrDuplicateTile, hdr.TX, hdr.TY, hdr.TLayer)
		}
		seen[key] = true
		if _, err := nav.DecompressTileLayer(comp, blob); err != nil {
			return fmt.Errorf("tile %d: %w", i, err)
		}
	}
	return nil
}

func loadSection(f *rw.FileReader) (*sectionData, error) {
	// Fixed part: magic, version+pad, tileCount, maxTiles, config, counts.
	const fixedSize = 4 + 2 + 2 + 4 + 4 + (3*4 + 13*4 + 5*4) + 4*4
	r := f.ReadBlock(fixedSize)
	if err := f.Err(); err != nil {
		return nil, fmt.Errorf("%w: truncated section: %v", nav.ErrCorruptData, err)
	}

	magic := r.ReadUint32()
	version := r.ReadUint16()
	r.ReadUint16() // pad
	if magic != SectionMagic {
		return nil, fmt.Errorf("%w: bad section magic %#x", nav.ErrCorruptData, magic)
	}
	if version != SetVersion {
		return nil, fmt.Errorf("%w: section version %d, want %d", nav.ErrConfigMismatch, version, SetVersion)
	}

	sec := &sectionData{}
	tileCount := r.ReadInt32()
	sec.maxTiles = r.ReadInt32()
	sec.cfg = readConfig(r)
	connCount := r.ReadInt32()
	volCount := r.ReadInt32()
	hintCount := r.ReadInt32()
	obsCount := r.ReadInt32()
	if err := r.Err(); err != nil {
		return nil, fmt.Errorf("%w: section header: %v", nav.ErrCorruptData, err)
	}
	if tileCount < 0 || tileCount > sec.maxTiles {
		return nil, fmt.Errorf("%w: tile count %d exceeds capacity %d", nav.ErrCorruptData, tileCount, sec.maxTiles)
	}
	if connCount < 0 || volCount < 0 || hintCount < 0 || obsCount < 0 {
		return nil, fmt.Errorf("%w: negative sub-table count", nav.ErrCorruptData)
	}

	for i := int32(0); i < tileCount; i++ {
		er := f.ReadBlock(4 + 4)
		_ = er.ReadUint32() // stored ref; slots are re-assigned on load
		size := er.ReadInt32()
		if err := f.Err(); err != nil {
			return nil, fmt.Errorf("%w: tile entry %d: %v", nav.ErrCorruptData, i, err)
		}
		if size <= 0 {
			return nil, fmt.Errorf("%w: tile entry %d has size %d", nav.ErrCorruptData, i, size)
		}
		blob := f.ReadBytes(int(size))
		if err := f.Err(); err != nil {
			return nil, fmt.Errorf("%w: tile entry %d: %v", nav.ErrCorruptData, i, err)
		}
		sec.tiles = append(sec.tiles, blob)
	}

	for i := int32(0); i < connCount; i++ {
		r := f.ReadBlock(3*4 + 3*4 + 4 + 1 + 4 + 4)
		var cn geometry.ConnectionSeed
		r.ReadFloat32s(cn.Start[:])
		r.ReadFloat32s(cn.End[:])
		cn.Radius = r.ReadFloat32()
		cn.BiDir = r.ReadUint8() != 0
		cn.ConnType = r.ReadInt32()
		cn.NavMeshIndex = r.ReadInt32()
		if err := f.Err(); err != nil {
			return nil, fmt.Errorf("%w: connection %d: %v", nav.ErrCorruptData, i, err)
		}
		sec.conns = append(sec.conns, cn)
	}

	for i := int32(0); i < volCount; i++ {
		hr := f.ReadBlock(4)
		nverts := hr.ReadInt32()
		if err := f.Err(); err != nil {
			return nil, fmt.Errorf("%w: volume %d: %v", nav.ErrCorruptData, i, err)
		}
		if nverts < 3 || nverts > geometry.MaxConvexVolVerts {
			return nil, fmt.Errorf("%w: volume %d has %d vertices", nav.ErrCorruptData, i, nverts)
		}
		vr := f.ReadBlock(int(nverts)*3*4 + 4 + 4 + 4 + 4)
		var v geometry.ConvexVolume
		v.Verts = make([]float32, nverts*3)
		vr.ReadFloat32s(v.Verts)
		v.HMin = vr.ReadFloat32()
		v.HMax = vr.ReadFloat32()
		v.Area = vr.ReadInt32()
		v.NavMeshIndex = vr.ReadInt32()
		if err := f.Err(); err != nil {
			return nil, fmt.Errorf("%w: volume %d: %v", nav.ErrCorruptData, i, err)
		}
		sec.vols = append(sec.vols, v)
	}

	for i := int32(0); i < hintCount; i++ {
		r := f.ReadBlock(3*4 + 4 + 4)
		var h geometry.NavHint
		r.ReadFloat32s(h.Pos[:])
		h.HintType = r.ReadInt32()
		h.NavMeshIndex = r.ReadInt32()
		if err := f.Err(); err != nil {
			return nil, fmt.Errorf("%w: hint %d: %v", nav.ErrCorruptData, i, err)
		}
		sec.hints = append(sec.hints, h)
	}

	for i := int32(0); i < obsCount; i++ {
		r := f.ReadBlock(4 + 11*4)
		var ob cache.ObstacleSpec
		ob.Shape = cache.ObstacleShape(r.ReadUint8())
		ob.Area = r.ReadUint8()
		r.ReadUint16() // pad
		r.ReadFloat32s(ob.Pos[:])
		ob.Radius = r.ReadFloat32()
		ob.Height = r.ReadFloat32()
		r.ReadFloat32s(ob.BMin[:])
		r.ReadFloat32s(ob.BMax[:])
		if err := f.Err(); err != nil {
			return nil, fmt.Errorf("%w: obstacle %d: %v", nav.ErrCorruptData, i, err)
		}
		if ob.Shape != cache.ShapeCylinder && ob.Shape != cache.ShapeBox {
			return nil, fmt.Errorf("%w: obstacle %d has shape %d", nav.ErrCorruptData, i, ob.Shape)
		}
		sec.obs = append(sec.obs, ob)
	}

	return sec, nil
}
