package cache

import (
	"errors"
	"testing"

	"github.com/go-gl/mathgl/mgl32"

	"navtile/geometry"
	"navtile/nav"
	"navtile/volume"
)

func testConfig(orig mgl32.Vec3) *nav.Config {
	return &nav.Config{
		Orig:                   orig,
		CellSize:               0.3,
		CellHeight:             0.2,
		TileSize:               16,
		AgentHeight:            2.0,
		AgentRadius:            0.6,
		AgentMaxClimb:          0.9,
		AgentMaxSlope:          45,
		MaxSimplificationError: 1.3,
		LayersPerTile:          4,
		MaxObstacles:           16,
		MaxConnections:         8,
	}
}

func testTables() *nav.Tables {
	return &nav.Tables{
		Areas: []nav.AreaDef{
			{ID: 0, Name: "ground", FlagIndex: 0},
		},
		Flags: []nav.FlagDef{
			{ID: 1, Name: "walk"},
		},
		ConnTypes: []nav.ConnTypeDef{
			{Name: "jump", AreaIndex: 0, FlagIndex: 0},
		},
	}
}

// planeGeometry builds a flat nx x nz cell plane on the xz-plane.
func planeGeometry(nx, nz int, cell float32) *geometry.Geometry {
	var verts []float32
	for z := 0; z <= nz; z++ {
		for x := 0; x <= nx; x++ {
			verts = append(verts, float32(x)*cell, 0, float32(z)*cell)
		}
	}
	var tris []int32
	row := int32(nx + 1)
	for z := 0; z < nz; z++ {
		for x := 0; x < nx; x++ {
			a := int32(z)*row + int32(x)
			b := a + 1
			c := a + row
			d := c + 1
			tris = append(tris, a, c, b, b, c, d)
		}
	}
	return geometry.NewGeometry(geometry.NewMesh(verts, tris))
}

// newTestWorld rasterizes a 2x1-tile flat plane, loads both tiles into a
// fresh cache and publishes them into a MeshStore.
func newTestWorld(t *testing.T) (*TileCache, *nav.MeshStore, *geometry.Geometry) {
	t.Helper()

	geom := planeGeometry(32, 16, 0.3) // 9.6 x 4.8 world units
	bmin, bmax := geom.Mesh.Bounds()
	cfg := testConfig(bmin)
	tables := testTables()
	comp := nav.LZ4Compressor{}

	tc, err := New(cfg, tables, comp, bmin, bmax, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	b := volume.NewBuilder(cfg, tables, geom, comp, nil)
	tw, th := cfg.TileGrid(bmin, bmax)
	sink := nav.NewMeshStore()
	for ty := int32(0); ty < th; ty++ {
		for tx := int32(0); tx < tw; tx++ {
			blobs, err := b.RasterizeTileLayers(0, tx, ty)
			if err != nil {
				t.Fatalf("rasterize (%d,%d): %v", tx, ty, err)
			}
			for _, blob := range blobs {
				if _, err := tc.AddTile(blob); err != nil {
					t.Fatalf("AddTile (%d,%d): %v", tx, ty, err)
				}
			}
			if err := tc.BuildTilesAt(tx, ty, sink); err != nil {
				t.Fatalf("BuildTilesAt (%d,%d): %v", tx, ty, err)
			}
		}
	}
	if sink.TileCount() == 0 {
		t.Fatal("no tiles published into the sink")
	}
	return tc, sink, geom
}

func drain(t *testing.T, tc *TileCache, sink *nav.MeshStore) {
	t.Helper()
	for i := 0; i < 256; i++ {
		done, err := tc.Update(0.05, sink)
		if err != nil {
			t.Fatalf("Update: %v", err)
		}
		if done {
			return
		}
	}
	t.Fatal("cache did not settle within 256 updates")
}

func TestAddTileDuplicateRejected(t *testing.T) {
	tc, _, _ := newTestWorld(t)

	ref := tc.GetTileAt(0, 0, 0)
	if ref == 0 {
		t.Fatal("tile (0,0,0) missing")
	}
	blob := append([]byte(nil), tc.TileData(ref)...)

	if _, err := tc.AddTile(blob); !errors.Is(err, nav.ErrDuplicateTile) {
		t.Errorf("duplicate AddTile: got %v, want ErrDuplicateTile", err)
	}
	if tc.GetTileAt(0, 0, 0) != ref {
		t.Error("existing tile changed by rejected add")
	}
}

func TestAddTileCapacityExceeded(t *testing.T) {
	tc, _, _ := newTestWorld(t)

	ref := tc.GetTileAt(0, 0, 0)
	blob := append([]byte(nil), tc.TileData(ref)...)

	small, err := NewWithCapacity(tc.Config(), tc.Tables(), tc.Compressor(), 1, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := small.AddTile(blob); err != nil {
		t.Fatalf("first AddTile: %v", err)
	}

	other := append([]byte(nil), tc.TileData(tc.GetTileAt(1, 0, 0))...)
	if _, err := small.AddTile(other); !errors.Is(err, nav.ErrCapacityExceeded) {
		t.Errorf("full table AddTile: got %v, want ErrCapacityExceeded", err)
	}
	if small.GetTileAt(0, 0, 0) == 0 {
		t.Error("existing tile lost after rejected add")
	}
}

func TestRemoveTile(t *testing.T) {
	tc, sink, _ := newTestWorld(t)

	ref := tc.GetTileAt(1, 0, 0)
	if err := tc.RemoveTile(ref); err != nil {
		t.Fatalf("RemoveTile: %v", err)
	}
	if tc.GetTileAt(1, 0, 0) != 0 {
		t.Error("slot still occupied after remove")
	}
	if err := tc.RemoveTile(ref); !errors.Is(err, nav.ErrInvalidRef) {
		t.Errorf("stale RemoveTile: got %v, want ErrInvalidRef", err)
	}

	// The published navmesh tile goes away on the next update.
	drain(t, tc, sink)
	if sink.TileSize(1, 0, 0) != 0 {
		t.Error("sink still holds the removed tile")
	}
}

func TestObstacleSingleTileRebuild(t *testing.T) {
	tc, sink, _ := newTestWorld(t)

	size0 := sink.TileSize(0, 0, 0)
	size1 := sink.TileSize(1, 0, 0)

	ref, err := tc.AddObstacle(mgl32.Vec3{2.4, -0.5, 2.4}, 0.8, 2.0, nav.NullArea)
	if err != nil {
		t.Fatalf("AddObstacle: %v", err)
	}
	if tc.ObstacleState(ref) != ObstacleProcessing {
		t.Fatalf("state after add = %v, want Processing", tc.ObstacleState(ref))
	}

	drain(t, tc, sink)
	if tc.ObstacleState(ref) != ObstacleProcessed {
		t.Errorf("state after drain = %v, want Processed", tc.ObstacleState(ref))
	}
	if sink.TileSize(0, 0, 0) == size0 {
		t.Error("tile under the obstacle kept its byte size")
	}
	if sink.TileSize(1, 0, 0) != size1 {
		t.Error("tile outside the obstacle footprint changed")
	}
}

func TestObstacleSpanningTilesProcessedLast(t *testing.T) {
	tc, sink, _ := newTestWorld(t)

	// Centered on the shared tile edge, touching both tiles.
	ref, err := tc.AddObstacle(mgl32.Vec3{4.8, -0.5, 2.4}, 0.8, 2.0, nav.NullArea)
	if err != nil {
		t.Fatal(err)
	}

	// First update drains the request and rebuilds one of the two touched
	// tiles; the obstacle must not be Processed yet.
	done, err := tc.Update(0.05, sink)
	if err != nil {
		t.Fatal(err)
	}
	if done {
		t.Fatal("cache reported up to date with one tile still pending")
	}
	if got := tc.ObstacleState(ref); got != ObstacleProcessing {
		t.Fatalf("state after one rebuild = %v, want Processing", got)
	}

	drain(t, tc, sink)
	if got := tc.ObstacleState(ref); got != ObstacleProcessed {
		t.Errorf("state after full drain = %v, want Processed", got)
	}
}

func TestRemoveObstacleIdempotent(t *testing.T) {
	tc, sink, _ := newTestWorld(t)

	ref, err := tc.AddObstacle(mgl32.Vec3{2.4, -0.5, 2.4}, 0.8, 2.0, nav.NullArea)
	if err != nil {
		t.Fatal(err)
	}
	drain(t, tc, sink)

	if err := tc.RemoveObstacle(ref); err != nil {
		t.Fatalf("RemoveObstacle: %v", err)
	}
	if err := tc.RemoveObstacle(ref); err != nil {
		t.Fatalf("second RemoveObstacle: %v", err)
	}
	drain(t, tc, sink)

	if got := tc.ObstacleState(ref); got != ObstacleEmpty {
		t.Errorf("state after removal = %v, want Empty", got)
	}
	// Stale ref keeps being a no-op.
	if err := tc.RemoveObstacle(ref); err != nil {
		t.Errorf("stale RemoveObstacle: %v", err)
	}
}

func TestObstacleRemovalWinsSameCycle(t *testing.T) {
	tc, sink, _ := newTestWorld(t)

	ref, err := tc.AddObstacle(mgl32.Vec3{2.4, -0.5, 2.4}, 0.8, 2.0, nav.NullArea)
	if err != nil {
		t.Fatal(err)
	}
	if err := tc.RemoveObstacle(ref); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 256; i++ {
		done, err := tc.Update(0.05, sink)
		if err != nil {
			t.Fatal(err)
		}
		if got := tc.ObstacleState(ref); got == ObstacleProcessed {
			t.Fatal("removal queued before first update, obstacle still reached Processed")
		}
		if done {
			break
		}
	}
	if got := tc.ObstacleState(ref); got != ObstacleEmpty {
		t.Errorf("final state = %v, want Empty", got)
	}
}

func TestObstacleCapacityExceeded(t *testing.T) {
	tc, _, _ := newTestWorld(t)

	refs := make([]ObstacleRef, 0, 16)
	for i := 0; i < 16; i++ {
		ref, err := tc.AddObstacle(mgl32.Vec3{1, -0.5, 1}, 0.4, 1.0, nav.NullArea)
		if err != nil {
			t.Fatalf("obstacle %d: %v", i, err)
		}
		refs = append(refs, ref)
	}
	if _, err := tc.AddObstacle(mgl32.Vec3{1, -0.5, 1}, 0.4, 1.0, nav.NullArea); !errors.Is(err, nav.ErrCapacityExceeded) {
		t.Errorf("17th obstacle: got %v, want ErrCapacityExceeded", err)
	}
	for i, ref := range refs {
		if tc.ObstacleState(ref) != ObstacleProcessing {
			t.Errorf("obstacle %d state changed by the rejected add", i)
		}
	}
}

func TestHitTestObstacleTieBreak(t *testing.T) {
	tc, _, _ := newTestWorld(t)

	first, err := tc.AddObstacle(mgl32.Vec3{2.4, 0, 2.4}, 0.5, 2.0, nav.NullArea)
	if err != nil {
		t.Fatal(err)
	}
	second, err := tc.AddObstacle(mgl32.Vec3{2.4, 0, 2.4}, 0.5, 2.0, nav.NullArea)
	if err != nil {
		t.Fatal(err)
	}
	if first == second {
		t.Fatal("distinct obstacles share a ref")
	}

	sp := []float32{2.4, 5, 2.4}
	sq := []float32{2.4, -1, 2.4}
	if got := tc.HitTestObstacle(sp, sq); got != first {
		t.Errorf("hit test returned %#x, want first-added %#x", got, first)
	}
}

func TestHitTestBoxObstacle(t *testing.T) {
	tc, _, _ := newTestWorld(t)

	ref, err := tc.AddBoxObstacle(mgl32.Vec3{1, 0, 1}, mgl32.Vec3{2, 1, 2}, nav.NullArea)
	if err != nil {
		t.Fatal(err)
	}
	sp := []float32{1.5, 5, 1.5}
	sq := []float32{1.5, -1, 1.5}
	if got := tc.HitTestObstacle(sp, sq); got != ref {
		t.Errorf("hit test returned %#x, want %#x", got, ref)
	}
	// A ray that misses the box hits nothing.
	if got := tc.HitTestObstacle([]float32{5, 5, 5}, []float32{5, 4, 5}); got != 0 {
		t.Errorf("miss returned %#x", got)
	}
}

func TestConnectionLifecycle(t *testing.T) {
	tc, sink, _ := newTestWorld(t)

	seed := geometry.ConnectionSeed{
		Start:  mgl32.Vec3{1, 0, 1},
		End:    mgl32.Vec3{3, 0, 3},
		Radius: 0.5,
		BiDir:  true,
	}
	id, err := tc.AddOffMeshConnection(seed)
	if err != nil {
		t.Fatalf("AddOffMeshConnection: %v", err)
	}
	if tc.ConnectionState(id) != ConnDirty {
		t.Fatalf("state after add = %v, want Dirty", tc.ConnectionState(id))
	}

	drain(t, tc, sink)
	if tc.ConnectionState(id) != ConnProcessed {
		t.Errorf("state after drain = %v, want Processed", tc.ConnectionState(id))
	}
	if sink.LinkCount() != 1 {
		t.Fatalf("sink holds %d links, want 1", sink.LinkCount())
	}
	link, ok := sink.Link(id)
	if !ok || !link.BiDir || link.Flags != 1 {
		t.Errorf("delivered link %+v", link)
	}

	// Point hit testing finds the nearer endpoint within the radius.
	if got := tc.HitTestConnection([]float32{3.1, 0, 3.1}); got != id {
		t.Errorf("hit test returned %d, want %d", got, id)
	}
	if got := tc.HitTestConnection([]float32{8, 0, 1}); got != 0 {
		t.Errorf("far point returned %d, want 0", got)
	}

	tc.RemoveOffMeshConnection(id)
	drain(t, tc, sink)
	if tc.ConnectionState(id) != ConnEmpty {
		t.Errorf("state after remove = %v, want Empty", tc.ConnectionState(id))
	}
	if sink.LinkCount() != 0 {
		t.Errorf("sink still holds %d links", sink.LinkCount())
	}
}

func TestMarkConnectionsDirtyRelinks(t *testing.T) {
	tc, sink, _ := newTestWorld(t)

	id, err := tc.AddOffMeshConnection(geometry.ConnectionSeed{
		Start: mgl32.Vec3{1, 0, 1}, End: mgl32.Vec3{3, 0, 3}, Radius: 0.5,
	})
	if err != nil {
		t.Fatal(err)
	}
	drain(t, tc, sink)

	tc.MarkConnectionsDirty(sink)
	if sink.LinkCount() != 0 {
		t.Fatal("links not unlinked")
	}
	if tc.ConnectionState(id) != ConnDirty {
		t.Fatalf("state = %v, want Dirty", tc.ConnectionState(id))
	}

	drain(t, tc, sink)
	if sink.LinkCount() != 1 {
		t.Error("connection not re-linked after mark")
	}
}

func TestObstacleBacklogExceedsUpdateQueue(t *testing.T) {
	// A 12x12-tile world with 25 obstacles straddling distinct 4-tile
	// corners queues 100 dirty tiles, more than one request drain can take.
	geom := planeGeometry(48, 48, 0.3)
	bmin, bmax := geom.Mesh.Bounds()
	cfg := testConfig(bmin)
	cfg.TileSize = 4
	cfg.MaxObstacles = 32
	tables := testTables()
	comp := nav.LZ4Compressor{}

	tc, err := New(cfg, tables, comp, bmin, bmax, nil)
	if err != nil {
		t.Fatal(err)
	}
	b := volume.NewBuilder(cfg, tables, geom, comp, nil)
	tw, th := cfg.TileGrid(bmin, bmax)
	sink := nav.NewMeshStore()
	for ty := int32(0); ty < th; ty++ {
		for tx := int32(0); tx < tw; tx++ {
			blobs, err := b.RasterizeTileLayers(0, tx, ty)
			if err != nil {
				t.Fatal(err)
			}
			for _, blob := range blobs {
				if _, err := tc.AddTile(blob); err != nil {
					t.Fatal(err)
				}
			}
			if err := tc.BuildTilesAt(tx, ty, sink); err != nil {
				t.Fatal(err)
			}
		}
	}

	tws := cfg.TileWorldSize()
	refs := make([]ObstacleRef, 0, 25)
	for i := 0; i < 5; i++ {
		for j := 0; j < 5; j++ {
			pos := mgl32.Vec3{float32(2*i+1) * tws, -0.5, float32(2*j+1) * tws}
			ref, err := tc.AddObstacle(pos, 0.3, 2.0, nav.NullArea)
			if err != nil {
				t.Fatal(err)
			}
			refs = append(refs, ref)
		}
	}

	// One update rebuilds one tile; no obstacle can have all four of its
	// touched tiles rebuilt yet, even with the update queue overflowing.
	if _, err := tc.Update(0.05, sink); err != nil {
		t.Fatal(err)
	}
	for i, ref := range refs {
		if tc.ObstacleState(ref) == ObstacleProcessed {
			t.Fatalf("obstacle %d Processed after a single tile rebuild", i)
		}
	}

	for i := 0; i < 1024; i++ {
		done, err := tc.Update(0.05, sink)
		if err != nil {
			t.Fatal(err)
		}
		if done {
			break
		}
	}
	for i, ref := range refs {
		if got := tc.ObstacleState(ref); got != ObstacleProcessed {
			t.Errorf("obstacle %d state = %v after full drain, want Processed", i, got)
		}
	}
}

func TestClearAllObstaclesBacklog(t *testing.T) {
	cfg := testConfig(mgl32.Vec3{})
	cfg.MaxObstacles = 80
	tc, err := NewWithCapacity(cfg, testTables(), nav.LZ4Compressor{}, 1, nil)
	if err != nil {
		t.Fatal(err)
	}
	sink := nav.NewMeshStore()

	// No tiles live, so obstacles settle on the next update. The request
	// queue holds 64 entries; stage the adds in two batches.
	for n := 0; n < 70; {
		for ; n < 70; n++ {
			if _, err := tc.AddObstacle(mgl32.Vec3{1, 0, 1}, 0.4, 1.0, nav.NullArea); err != nil {
				if errors.Is(err, nav.ErrCapacityExceeded) {
					break
				}
				t.Fatal(err)
			}
		}
		drain(t, tc, sink)
	}
	if st := tc.CacheStats(); st.Obstacles != 70 {
		t.Fatalf("staged %d obstacles, want 70", st.Obstacles)
	}

	// 70 live obstacles cannot all fit the request queue in one pass.
	if err := tc.ClearAllObstacles(); !errors.Is(err, nav.ErrCapacityExceeded) {
		t.Fatalf("oversized clear: got %v, want ErrCapacityExceeded", err)
	}
	drain(t, tc, sink)
	if err := tc.ClearAllObstacles(); err != nil {
		t.Fatalf("second clear: %v", err)
	}
	drain(t, tc, sink)
	if st := tc.CacheStats(); st.Obstacles != 0 {
		t.Errorf("%d obstacles survive the staged clear", st.Obstacles)
	}
}

func TestClearAllObstacles(t *testing.T) {
	tc, sink, _ := newTestWorld(t)

	r1, _ := tc.AddObstacle(mgl32.Vec3{1, -0.5, 1}, 0.5, 2.0, nav.NullArea)
	r2, _ := tc.AddObstacle(mgl32.Vec3{3, -0.5, 3}, 0.5, 2.0, nav.NullArea)
	drain(t, tc, sink)

	if err := tc.ClearAllObstacles(); err != nil {
		t.Fatalf("ClearAllObstacles: %v", err)
	}
	drain(t, tc, sink)

	if tc.ObstacleState(r1) != ObstacleEmpty || tc.ObstacleState(r2) != ObstacleEmpty {
		t.Error("obstacles survive ClearAllObstacles")
	}
	st := tc.CacheStats()
	if st.Obstacles != 0 {
		t.Errorf("stats report %d live obstacles", st.Obstacles)
	}
	if st.LiveTiles == 0 || st.CompressedBytes == 0 {
		t.Errorf("stats report no tiles: %+v", st)
	}
}
