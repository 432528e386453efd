package cache

import (
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl32"
	"go.uber.org/zap"

	"navtile/common"
	"navtile/geometry"
	"navtile/nav"
)

// TileRef is a salted handle to a compressed tile slot. Zero is never valid.
type TileRef uint32

const (
	maxRequests    = 64
	maxUpdateTiles = 64
	maxQueryTiles  = 32
)

const (
	requestAdd = iota
	requestRemove
)

type obstacleRequest struct {
	action int32
	ref    ObstacleRef
}

// ConnState is the lifecycle of an off-mesh connection overlay.
type ConnState uint8

const (
	ConnEmpty ConnState = iota
	ConnDirty
	ConnProcessed
	ConnRemoving
)

type conn struct {
	id    uint32
	seed  geometry.ConnectionSeed
	state ConnState
}

type compressedTile struct {
	salt uint32
	hdr  *nav.LayerHeader
	data []byte
	next int32 // hash chain / freelist index, -1 terminates
}

// TileCache stores compressed tile layers and applies runtime obstacles and
// off-mesh connections to them through incremental rebuilds. All methods must
// be called from a single goroutine; rebuild work runs synchronously inside
// Update and BuildTilesAt.
type TileCache struct {
	cfg    *nav.Config
	tables *nav.Tables
	comp   nav.Compressor
	log    *zap.Logger

	lutMask   int32
	posLookup []int32
	tiles     []compressedTile
	freeTile  int32
	saltBits  uint32
	tileBits  uint32

	obstacles []Obstacle
	freeObs   int32

	conns     []conn
	connIDGen uint32

	reqs   []obstacleRequest
	update []TileRef
	stale  []nav.LayerHeader // removed slots whose sink tile is not yet dropped
	arena  *nav.ScratchArena
}

const cacheArenaSize = 48 * 1024

// New creates a cache sized for the world bounds. The tile table capacity
// derives from the tile grid covering the bounds times the expected layer
// count.
func New(cfg *nav.Config, tables *nav.Tables, comp nav.Compressor,
	bmin, bmax mgl32.Vec3, log *zap.Logger) (*TileCache, error) {
	return NewWithCapacity(cfg, tables, comp, cfg.MaxTiles(bmin, bmax), log)
}

// NewWithCapacity creates a cache with an explicit tile table size, used when
// restoring a saved cache whose capacity is part of the snapshot.
func NewWithCapacity(cfg *nav.Config, tables *nav.Tables, comp nav.Compressor,
	maxTiles int32, log *zap.Logger) (*TileCache, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if maxTiles <= 0 {
		return nil, fmt.Errorf("%w: empty tile grid", nav.ErrFailure)
	}

	maxObstacles := cfg.MaxObstacles
	if maxObstacles <= 0 {
		maxObstacles = 128
	}
	maxConns := cfg.MaxConnections
	if maxConns <= 0 {
		maxConns = geometry.MaxConnectionSeeds
	}

	tc := &TileCache{
		cfg:    cfg,
		tables: tables,
		comp:   comp,
		log:    log,
		arena:  nav.NewScratchArena(cacheArenaSize),
	}

	tc.obstacles = make([]Obstacle, maxObstacles)
	tc.freeObs = -1
	for i := int32(maxObstacles) - 1; i >= 0; i-- {
		tc.obstacles[i].salt = 1
		tc.obstacles[i].next = tc.freeObs
		tc.freeObs = i
	}

	tc.conns = make([]conn, maxConns)
	tc.connIDGen = 1

	lutSize := common.NextPow2(maxTiles / 4)
	if lutSize == 0 {
		lutSize = 1
	}
	tc.lutMask = lutSize - 1
	tc.posLookup = make([]int32, lutSize)
	for i := range tc.posLookup {
		tc.posLookup[i] = -1
	}

	tc.tiles = make([]compressedTile, maxTiles)
	tc.freeTile = -1
	for i := maxTiles - 1; i >= 0; i-- {
		tc.tiles[i].salt = 1
		tc.tiles[i].next = tc.freeTile
		tc.freeTile = i
	}

	tc.tileBits = uint32(common.Ilog2(common.NextPow2(maxTiles)))
	tc.saltBits = common.Min(31, 32-tc.tileBits)
	if tc.saltBits < 10 {
		return nil, fmt.Errorf("%w: tile table too large for salted refs", nav.ErrFailure)
	}

	tc.reqs = make([]obstacleRequest, 0, maxRequests)
	tc.update = make([]TileRef, 0, maxUpdateTiles)

	return tc, nil
}

func computeTileHash(x, y, mask int32) int32 {
	h1 := uint32(0x8da6b343) // arbitrarily chosen primes
	h2 := uint32(0xd8163841)
	return int32((h1*uint32(x) + h2*uint32(y)) & uint32(mask))
}

func (tc *TileCache) encodeTileRef(salt uint32, it int32) TileRef {
	return TileRef(salt<<tc.tileBits | uint32(it))
}

func (tc *TileCache) decodeTileRef(ref TileRef) (salt uint32, it int32) {
	saltMask := uint32(1)<<tc.saltBits - 1
	tileMask := uint32(1)<<tc.tileBits - 1
	return uint32(ref) >> tc.tileBits & saltMask, int32(uint32(ref) & tileMask)
}

func (tc *TileCache) tileRef(tile *compressedTile) TileRef {
	if tile == nil {
		return 0
	}
	for i := range tc.tiles {
		if &tc.tiles[i] == tile {
			return tc.encodeTileRef(tile.salt, int32(i))
		}
	}
	return 0
}

func (tc *TileCache) tileByRef(ref TileRef) *compressedTile {
	if ref == 0 {
		return nil
	}
	salt, it := tc.decodeTileRef(ref)
	if int(it) >= len(tc.tiles) {
		return nil
	}
	tile := &tc.tiles[it]
	if tile.salt != salt || tile.hdr == nil {
		return nil
	}
	return tile
}

func encodeObstacleRef(salt uint16, idx int32) ObstacleRef {
	return ObstacleRef(uint32(salt)<<16 | uint32(idx))
}

func decodeObstacleRef(ref ObstacleRef) (salt uint16, idx int32) {
	return uint16(uint32(ref) >> 16), int32(uint32(ref) & 0xffff)
}

func (tc *TileCache) obstacleRef(ob *Obstacle) ObstacleRef {
	if ob == nil {
		return 0
	}
	for i := range tc.obstacles {
		if &tc.obstacles[i] == ob {
			return encodeObstacleRef(ob.salt, int32(i))
		}
	}
	return 0
}

func (tc *TileCache) obstacleByRef(ref ObstacleRef) *Obstacle {
	if ref == 0 {
		return nil
	}
	salt, idx := decodeObstacleRef(ref)
	if int(idx) >= len(tc.obstacles) {
		return nil
	}
	ob := &tc.obstacles[idx]
	if ob.salt != salt {
		return nil
	}
	return ob
}

// ObstacleState reports the lifecycle state behind a ref, ObstacleEmpty for a
// stale or unknown ref.
func (tc *TileCache) ObstacleState(ref ObstacleRef) ObstacleState {
	if ob := tc.obstacleByRef(ref); ob != nil {
		return ob.state
	}
	return ObstacleEmpty
}

// ConnectionState reports the lifecycle state of an off-mesh connection id.
func (tc *TileCache) ConnectionState(id uint32) ConnState {
	for i := range tc.conns {
		if tc.conns[i].state != ConnEmpty && tc.conns[i].id == id {
			return tc.conns[i].state
		}
	}
	return ConnEmpty
}

// AddTile installs a compressed layer blob. The cache copies the blob and
// owns the copy until RemoveTile.
func (tc *TileCache) AddTile(data []byte) (TileRef, error) {
	hdr, err := nav.ParseLayerHeader(data)
	if err != nil {
		return 0, err
	}
	if tc.getTileAt(hdr.TX, hdr.TY, hdr.TLayer) != nil {
		return 0, fmt.Errorf("%w: (%d,%d,%d)", nav.ErrDuplicateTile, hdr.TX, hdr.TY, hdr.TLayer)
	}
	if tc.freeTile == -1 {
		return 0, fmt.Errorf("%w: tile table full (%d slots)", nav.ErrCapacityExceeded, len(tc.tiles))
	}

	it := tc.freeTile
	tile := &tc.tiles[it]
	tc.freeTile = tile.next

	h := computeTileHash(hdr.TX, hdr.TY, tc.lutMask)
	tile.next = tc.posLookup[h]
	tc.posLookup[h] = it

	tile.hdr = hdr
	tile.data = append([]byte(nil), data...)

	return tc.encodeTileRef(tile.salt, it), nil
}

// RemoveTile frees the slot and schedules removal of the published navmesh
// tile on the next Update.
func (tc *TileCache) RemoveTile(ref TileRef) error {
	if ref == 0 {
		return fmt.Errorf("%w: zero tile ref", nav.ErrInvalidRef)
	}
	salt, it := tc.decodeTileRef(ref)
	if int(it) >= len(tc.tiles) {
		return fmt.Errorf("%w: tile index %d out of range", nav.ErrInvalidRef, it)
	}
	tile := &tc.tiles[it]
	if tile.salt != salt || tile.hdr == nil {
		return fmt.Errorf("%w: stale tile ref", nav.ErrInvalidRef)
	}

	// Unlink from the hash chain.
	h := computeTileHash(tile.hdr.TX, tile.hdr.TY, tc.lutMask)
	prev := int32(-1)
	for cur := tc.posLookup[h]; cur != -1; cur = tc.tiles[cur].next {
		if cur == it {
			if prev != -1 {
				tc.tiles[prev].next = tile.next
			} else {
				tc.posLookup[h] = tile.next
			}
			break
		}
		prev = cur
	}

	tc.stale = append(tc.stale, *tile.hdr)
	tile.hdr = nil
	tile.data = nil

	tile.salt = (tile.salt + 1) & (1<<tc.saltBits - 1)
	if tile.salt == 0 {
		tile.salt++
	}

	tile.next = tc.freeTile
	tc.freeTile = it
	return nil
}

func (tc *TileCache) getTileAt(tx, ty, tlayer int32) *compressedTile {
	h := computeTileHash(tx, ty, tc.lutMask)
	for cur := tc.posLookup[h]; cur != -1; cur = tc.tiles[cur].next {
		tile := &tc.tiles[cur]
		if tile.hdr != nil && tile.hdr.TX == tx && tile.hdr.TY == ty && tile.hdr.TLayer == tlayer {
			return tile
		}
	}
	return nil
}

// GetTileAt returns the ref of the tile at a grid slot, 0 when vacant.
func (tc *TileCache) GetTileAt(tx, ty, tlayer int32) TileRef {
	return tc.tileRef(tc.getTileAt(tx, ty, tlayer))
}

// GetTilesAt appends the refs of every layer at a tile coordinate.
func (tc *TileCache) GetTilesAt(tx, ty int32, refs []TileRef) []TileRef {
	h := computeTileHash(tx, ty, tc.lutMask)
	for cur := tc.posLookup[h]; cur != -1; cur = tc.tiles[cur].next {
		tile := &tc.tiles[cur]
		if tile.hdr != nil && tile.hdr.TX == tx && tile.hdr.TY == ty {
			refs = append(refs, tc.encodeTileRef(tile.salt, cur))
		}
	}
	return refs
}

// TileHeader exposes the header of a live tile, nil for a stale ref.
func (tc *TileCache) TileHeader(ref TileRef) *nav.LayerHeader {
	if tile := tc.tileByRef(ref); tile != nil {
		return tile.hdr
	}
	return nil
}

// TileData exposes the compressed blob of a live tile, nil for a stale ref.
func (tc *TileCache) TileData(ref TileRef) []byte {
	if tile := tc.tileByRef(ref); tile != nil {
		return tile.data
	}
	return nil
}

func (tc *TileCache) popObstacle() (*Obstacle, error) {
	if tc.freeObs == -1 {
		return nil, fmt.Errorf("%w: obstacle table full (%d slots)", nav.ErrCapacityExceeded, len(tc.obstacles))
	}
	idx := tc.freeObs
	ob := &tc.obstacles[idx]
	tc.freeObs = ob.next

	salt := ob.salt
	*ob = Obstacle{salt: salt, next: -1}
	return ob, nil
}

// AddObstacle requests a cylinder exclusion volume. The obstacle is in
// ObstacleProcessing until every touched tile has been rebuilt by Update.
func (tc *TileCache) AddObstacle(pos mgl32.Vec3, radius, height float32, area uint8) (ObstacleRef, error) {
	if len(tc.reqs) >= maxRequests {
		return 0, fmt.Errorf("%w: obstacle request queue full", nav.ErrCapacityExceeded)
	}
	ob, err := tc.popObstacle()
	if err != nil {
		return 0, err
	}
	ob.state = ObstacleProcessing
	ob.shape = ShapeCylinder
	ob.area = area
	ob.cylinder.pos = [3]float32(pos)
	ob.cylinder.radius = radius
	ob.cylinder.height = height

	ref := tc.obstacleRef(ob)
	tc.reqs = append(tc.reqs, obstacleRequest{action: requestAdd, ref: ref})
	return ref, nil
}

// AddBoxObstacle requests an axis-aligned box exclusion volume.
func (tc *TileCache) AddBoxObstacle(bmin, bmax mgl32.Vec3, area uint8) (ObstacleRef, error) {
	if len(tc.reqs) >= maxRequests {
		return 0, fmt.Errorf("%w: obstacle request queue full", nav.ErrCapacityExceeded)
	}
	ob, err := tc.popObstacle()
	if err != nil {
		return 0, err
	}
	ob.state = ObstacleProcessing
	ob.shape = ShapeBox
	ob.area = area
	ob.box.bmin = [3]float32(bmin)
	ob.box.bmax = [3]float32(bmax)

	ref := tc.obstacleRef(ob)
	tc.reqs = append(tc.reqs, obstacleRequest{action: requestAdd, ref: ref})
	return ref, nil
}

// RemoveObstacle requests removal. A zero, stale or already-empty ref is a
// no-op.
func (tc *TileCache) RemoveObstacle(ref ObstacleRef) error {
	if ref == 0 || tc.obstacleByRef(ref) == nil {
		return nil
	}
	if len(tc.reqs) >= maxRequests {
		return fmt.Errorf("%w: obstacle request queue full", nav.ErrCapacityExceeded)
	}
	tc.reqs = append(tc.reqs, obstacleRequest{action: requestRemove, ref: ref})
	return nil
}

// ClearAllObstacles requests removal of every live obstacle. With more live
// obstacles than free request slots the clear is partial: the error reports
// it, and calling again after the queue drains removes the rest.
func (tc *TileCache) ClearAllObstacles() error {
	for i := range tc.obstacles {
		ob := &tc.obstacles[i]
		if ob.state != ObstacleEmpty && ob.state != ObstacleRemoving {
			if err := tc.RemoveObstacle(encodeObstacleRef(ob.salt, int32(i))); err != nil {
				return err
			}
		}
	}
	return nil
}

// AddOffMeshConnection registers an authored connection overlay. It reaches
// the sink on the next Update.
func (tc *TileCache) AddOffMeshConnection(seed geometry.ConnectionSeed) (uint32, error) {
	slot := -1
	for i := range tc.conns {
		if tc.conns[i].state == ConnEmpty {
			slot = i
			break
		}
	}
	if slot == -1 {
		return 0, fmt.Errorf("%w: connection table full (%d slots)", nav.ErrCapacityExceeded, len(tc.conns))
	}
	id := tc.connIDGen
	tc.connIDGen++
	tc.conns[slot] = conn{id: id, seed: seed, state: ConnDirty}
	tc.queueTileAt(seed.Start)
	return id, nil
}

// RemoveOffMeshConnection requests removal by id. A connection that was never
// linked is released immediately; unknown ids are ignored.
func (tc *TileCache) RemoveOffMeshConnection(id uint32) {
	for i := range tc.conns {
		cn := &tc.conns[i]
		if cn.state == ConnEmpty || cn.id != id {
			continue
		}
		if cn.state == ConnDirty {
			// Removal wins over a queued add.
			cn.state = ConnEmpty
		} else {
			cn.state = ConnRemoving
			tc.queueTileAt(cn.seed.Start)
		}
		return
	}
}

// MarkConnectionsDirty unlinks every delivered connection from the sink and
// queues it for re-linking on the next Update. Persistence uses this before a
// snapshot so the saved state never depends on live graph links.
func (tc *TileCache) MarkConnectionsDirty(sink nav.TileSink) {
	for i := range tc.conns {
		cn := &tc.conns[i]
		if cn.state == ConnProcessed {
			sink.UnlinkConnection(cn.id)
			cn.state = ConnDirty
		}
	}
}

// Connections returns the live connection seeds, for persistence.
func (tc *TileCache) Connections() []geometry.ConnectionSeed {
	var out []geometry.ConnectionSeed
	for i := range tc.conns {
		if tc.conns[i].state == ConnDirty || tc.conns[i].state == ConnProcessed {
			out = append(out, tc.conns[i].seed)
		}
	}
	return out
}

// LiveObstacles snapshots every obstacle that is applied or being applied,
// for persistence. Obstacles mid-removal are not part of the snapshot.
func (tc *TileCache) LiveObstacles() []ObstacleSpec {
	var out []ObstacleSpec
	for i := range tc.obstacles {
		ob := &tc.obstacles[i]
		if ob.state != ObstacleProcessing && ob.state != ObstacleProcessed {
			continue
		}
		spec := ObstacleSpec{Shape: ob.shape, Area: ob.area}
		switch ob.shape {
		case ShapeCylinder:
			spec.Pos = mgl32.Vec3(ob.cylinder.pos)
			spec.Radius = ob.cylinder.radius
			spec.Height = ob.cylinder.height
		case ShapeBox:
			spec.BMin = mgl32.Vec3(ob.box.bmin)
			spec.BMax = mgl32.Vec3(ob.box.bmax)
		}
		out = append(out, spec)
	}
	return out
}

// queueTileAt marks every layer under a world position for rebuild.
func (tc *TileCache) queueTileAt(pos mgl32.Vec3) {
	tx, ty := tc.cfg.TileAt(pos)
	var refs [maxQueryTiles]TileRef
	for _, ref := range tc.GetTilesAt(tx, ty, refs[:0]) {
		tc.queueUpdate(ref)
	}
}

func (tc *TileCache) queueUpdate(ref TileRef) bool {
	for _, r := range tc.update {
		if r == ref {
			return true
		}
	}
	if len(tc.update) >= maxUpdateTiles {
		return false
	}
	tc.update = append(tc.update, ref)
	return true
}

// calcTightTileBounds computes the world bounds of the used sub-rect of a
// layer.
func (tc *TileCache) calcTightTileBounds(hdr *nav.LayerHeader, bmin, bmax *[3]float32) {
	cs := tc.cfg.CellSize
	bmin[0] = hdr.BMin[0] + float32(hdr.MinX)*cs
	bmin[1] = hdr.BMin[1]
	bmin[2] = hdr.BMin[2] + float32(hdr.MinY)*cs
	bmax[0] = hdr.BMin[0] + float32(hdr.MaxX+1)*cs
	bmax[1] = hdr.BMax[1]
	bmax[2] = hdr.BMin[2] + float32(hdr.MaxY+1)*cs
}

// queryTiles collects up to maxResults tiles whose tight bounds overlap the
// box. It never grows out beyond maxResults so fixed arrays can back it.
func (tc *TileCache) queryTiles(bmin, bmax [3]float32, out []TileRef, maxResults int) []TileRef {
	tw := tc.cfg.TileWorldSize()
	orig := tc.cfg.Orig

	tx0 := int32(math.Floor(float64((bmin[0] - orig[0]) / tw)))
	tx1 := int32(math.Floor(float64((bmax[0] - orig[0]) / tw)))
	ty0 := int32(math.Floor(float64((bmin[2] - orig[2]) / tw)))
	ty1 := int32(math.Floor(float64((bmax[2] - orig[2]) / tw)))

	var refs [maxQueryTiles]TileRef
	for ty := ty0; ty <= ty1; ty++ {
		for tx := tx0; tx <= tx1; tx++ {
			for _, ref := range tc.GetTilesAt(tx, ty, refs[:0]) {
				if len(out) >= maxResults {
					return out
				}
				tile := tc.tileByRef(ref)
				var tbmin, tbmax [3]float32
				tc.calcTightTileBounds(tile.hdr, &tbmin, &tbmax)
				if common.OverlapBounds(bmin[:], bmax[:], tbmin[:], tbmax[:]) {
					out = append(out, ref)
				}
			}
		}
	}
	return out
}

// Update drains queued obstacle requests and rebuilds at most one dirty tile,
// bounding per-call latency. It reports whether the cache is fully up to
// date.
func (tc *TileCache) Update(dt float32, sink nav.TileSink) (upToDate bool, err error) {
	_ = dt

	// Drop sink tiles for slots freed since the last call.
	for _, hdr := range tc.stale {
		if err := sink.RemoveTile(hdr.TX, hdr.TY, hdr.TLayer); err != nil {
			tc.log.Warn("remove stale tile",
				zap.Int32("tx", hdr.TX), zap.Int32("ty", hdr.TY), zap.Error(err))
		}
	}
	tc.stale = tc.stale[:0]

	// Unlink removed connections before any tile rebuild commits.
	for i := range tc.conns {
		cn := &tc.conns[i]
		if cn.state == ConnRemoving {
			sink.UnlinkConnection(cn.id)
			cn.state = ConnEmpty
		}
	}

	if len(tc.update) == 0 {
		// Process requests only when the previous batch fully drained, so
		// an obstacle's touched set stays consistent across its rebuilds.
		// A request expands into up to maxTouchedTiles dirty tiles; once the
		// update queue cannot take a full set, the remaining requests stay
		// queued and are retried on a later call. An obstacle with a queued
		// request never settles, so nothing is silently dropped.
		drained := 0
		for _, req := range tc.reqs {
			if len(tc.update)+maxTouchedTiles > maxUpdateTiles {
				break
			}
			drained++

			ob := tc.obstacleByRef(req.ref)
			if ob == nil {
				continue
			}

			switch req.action {
			case requestAdd:
				var bmin, bmax [3]float32
				ob.bounds(&bmin, &bmax)
				touched := tc.queryTiles(bmin, bmax, ob.touched[:0], maxTouchedTiles)
				ob.ntouch = uint8(len(touched))
				ob.npend = 0
				for j := uint8(0); j < ob.ntouch; j++ {
					tc.queueUpdate(ob.touched[j])
					ob.pending[ob.npend] = ob.touched[j]
					ob.npend++
				}

			case requestRemove:
				ob.state = ObstacleRemoving
				ob.npend = 0
				for j := uint8(0); j < ob.ntouch; j++ {
					tc.queueUpdate(ob.touched[j])
					ob.pending[ob.npend] = ob.touched[j]
					ob.npend++
				}
			}
		}
		tc.reqs = append(tc.reqs[:0], tc.reqs[drained:]...)
	}

	// Rebuild one tile per call.
	if len(tc.update) > 0 {
		ref := tc.update[0]
		copy(tc.update, tc.update[1:])
		tc.update = tc.update[:len(tc.update)-1]

		if buildErr := tc.buildTile(ref, sink); buildErr != nil {
			err = buildErr
		}
		tc.settleObstacles(ref)
	} else {
		tc.settleObstacles(0)
	}

	// Deliver pending connection links once tile work is quiet.
	if len(tc.update) == 0 {
		for i := range tc.conns {
			cn := &tc.conns[i]
			if cn.state != ConnDirty {
				continue
			}
			link, linkErr := tc.buildLink(cn)
			if linkErr != nil {
				tc.log.Warn("off-mesh link rejected", zap.Uint32("id", cn.id), zap.Error(linkErr))
				cn.state = ConnEmpty
				continue
			}
			if linkErr := sink.LinkConnection(link); linkErr != nil {
				err = linkErr
				continue
			}
			cn.state = ConnProcessed
		}
	}

	upToDate = len(tc.update) == 0 && len(tc.reqs) == 0
	for i := range tc.conns {
		if s := tc.conns[i].state; s == ConnDirty || s == ConnRemoving {
			upToDate = false
		}
	}
	return upToDate, err
}

// settleObstacles removes ref from pending sets and advances obstacles whose
// rebuild work has fully drained. An obstacle with a still-queued request
// never settles; its touched set is not known yet.
func (tc *TileCache) settleObstacles(ref TileRef) {
	for i := range tc.obstacles {
		ob := &tc.obstacles[i]
		if ob.state != ObstacleProcessing && ob.state != ObstacleRemoving {
			continue
		}
		if ref != 0 {
			for j := uint8(0); j < ob.npend; j++ {
				if ob.pending[j] == ref {
					ob.pending[j] = ob.pending[ob.npend-1]
					ob.npend--
					break
				}
			}
		}
		if ob.npend != 0 || tc.hasQueuedRequest(encodeObstacleRef(ob.salt, int32(i))) {
			continue
		}
		switch ob.state {
		case ObstacleProcessing:
			ob.state = ObstacleProcessed
		case ObstacleRemoving:
			ob.state = ObstacleEmpty
			ob.salt++
			if ob.salt == 0 {
				ob.salt++
			}
			ob.next = tc.freeObs
			tc.freeObs = int32(i)
		}
	}
}

func (tc *TileCache) hasQueuedRequest(ref ObstacleRef) bool {
	for _, req := range tc.reqs {
		if req.ref == ref {
			return true
		}
	}
	return false
}

func (tc *TileCache) buildLink(cn *conn) (nav.OffMeshLink, error) {
	def := tc.tables.ConnTypeAt(cn.seed.ConnType)
	if def == nil {
		return nav.OffMeshLink{}, fmt.Errorf("%w: unknown connection type %d", nav.ErrConfigMismatch, cn.seed.ConnType)
	}
	link := nav.OffMeshLink{
		ID:     cn.id,
		Start:  [3]float32(cn.seed.Start),
		End:    [3]float32(cn.seed.End),
		Radius: cn.seed.Radius,
		BiDir:  cn.seed.BiDir,
	}
	if a := tc.tables.AreaAt(def.AreaIndex); a != nil {
		link.Area = a.ID
	}
	if f := tc.tables.FlagAt(def.FlagIndex); f != nil {
		link.Flags = f.ID
	}
	return link, nil
}

// BuildTilesAt synchronously rebuilds every layer at one tile coordinate,
// bypassing the per-update throttle.
func (tc *TileCache) BuildTilesAt(tx, ty int32, sink nav.TileSink) error {
	var refs [maxQueryTiles]TileRef
	for _, ref := range tc.GetTilesAt(tx, ty, refs[:0]) {
		if err := tc.buildTile(ref, sink); err != nil {
			return err
		}
	}
	return nil
}

// buildTile decompresses one layer, stamps live obstacles into it, meshes it
// and publishes the result. The sink tile is replaced only after the new
// payload fully built.
func (tc *TileCache) buildTile(ref TileRef, sink nav.TileSink) error {
	tile := tc.tileByRef(ref)
	if tile == nil {
		return fmt.Errorf("%w: stale tile ref in update queue", nav.ErrInvalidRef)
	}
	hdr := tile.hdr

	tc.arena.Acquire()
	defer tc.arena.Release()

	layer, err := nav.DecompressTileLayer(tc.comp, tile.data)
	if err != nil {
		tc.log.Error("decompress tile layer",
			zap.Int32("tx", hdr.TX), zap.Int32("ty", hdr.TY), zap.Int32("layer", hdr.TLayer),
			zap.Error(err))
		return err
	}
	layer.Regs = tc.arena.Alloc(int(hdr.GridSize()))
	if layer.Regs == nil {
		return fmt.Errorf("%w: region grid %dx%d", nav.ErrAllocation, hdr.Width, hdr.Height)
	}

	for i := range tc.obstacles {
		ob := &tc.obstacles[i]
		if ob.state == ObstacleEmpty || ob.state == ObstacleRemoving {
			continue
		}
		if !touchedContains(ob.touched[:ob.ntouch], ref) {
			continue
		}
		switch ob.shape {
		case ShapeCylinder:
			markCylinderArea(layer, hdr.BMin, tc.cfg.CellSize, tc.cfg.CellHeight,
				ob.cylinder.pos, ob.cylinder.radius, ob.cylinder.height, ob.area)
		case ShapeBox:
			markBoxArea(layer, hdr.BMin, tc.cfg.CellSize, tc.cfg.CellHeight,
				ob.box.bmin, ob.box.bmax, ob.area)
		}
	}

	climb := tc.cfg.WalkableClimbVx()
	if err := BuildLayerRegions(layer, climb); err != nil {
		tc.log.Error("build layer regions", zap.Int32("tx", hdr.TX), zap.Int32("ty", hdr.TY), zap.Error(err))
		return err
	}
	cset, err := BuildLayerContours(layer, climb, tc.cfg.MaxSimplificationError)
	if err != nil {
		tc.log.Error("build layer contours", zap.Int32("tx", hdr.TX), zap.Int32("ty", hdr.TY), zap.Error(err))
		return err
	}
	mesh, err := BuildLayerPolyMesh(cset, tc.tables)
	if err != nil {
		tc.log.Error("build layer polymesh", zap.Int32("tx", hdr.TX), zap.Int32("ty", hdr.TY), zap.Error(err))
		return err
	}

	if mesh.NTris == 0 {
		// Nothing walkable remains; leave the slot vacant.
		return sink.RemoveTile(hdr.TX, hdr.TY, hdr.TLayer)
	}

	payload := EncodeTilePayload(hdr, mesh, tc.cfg.CellSize, tc.cfg.CellHeight)
	return sink.ReplaceTile(hdr.TX, hdr.TY, hdr.TLayer, payload)
}

func touchedContains(refs []TileRef, ref TileRef) bool {
	for _, r := range refs {
		if r == ref {
			return true
		}
	}
	return false
}

// Stats summarizes cache occupancy for memory accounting.
type Stats struct {
	LiveTiles       int32
	CompressedBytes int
	RawBytes        int
	Obstacles       int32
	Connections     int32
	ArenaHighWater  int
}

// CacheStats reports current occupancy.
func (tc *TileCache) CacheStats() Stats {
	var st Stats
	for i := range tc.tiles {
		t := &tc.tiles[i]
		if t.hdr == nil {
			continue
		}
		st.LiveTiles++
		st.CompressedBytes += len(t.data)
		st.RawBytes += int(t.hdr.GridSize()) * 3
	}
	for i := range tc.obstacles {
		if tc.obstacles[i].state != ObstacleEmpty {
			st.Obstacles++
		}
	}
	for i := range tc.conns {
		if tc.conns[i].state != ConnEmpty {
			st.Connections++
		}
	}
	st.ArenaHighWater = tc.arena.HighWater()
	return st
}

// Config exposes the build configuration captured at creation.
func (tc *TileCache) Config() *nav.Config { return tc.cfg }

// Capacity reports the fixed tile table size.
func (tc *TileCache) Capacity() int32 { return int32(len(tc.tiles)) }

// Tables exposes the area/flag tables captured at creation.
func (tc *TileCache) Tables() *nav.Tables { return tc.tables }

// Compressor exposes the layer codec captured at creation.
func (tc *TileCache) Compressor() nav.Compressor { return tc.comp }

// LiveTileRefs returns every live tile ref, for persistence.
func (tc *TileCache) LiveTileRefs() []TileRef {
	var out []TileRef
	for i := range tc.tiles {
		if tc.tiles[i].hdr != nil {
			out = append(out, tc.encodeTileRef(tc.tiles[i].salt, int32(i)))
		}
	}
	return out
}
