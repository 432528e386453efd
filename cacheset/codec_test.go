package cacheset

import (
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-gl/mathgl/mgl32"

	"navtile/cache"
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

// buildScene rasterizes a 2x1-tile plane into a cache published into sink.
func buildScene(t *testing.T, geom *geometry.Geometry) (*cache.TileCache, *nav.MeshStore) {
	t.Helper()

	bmin, bmax := geom.Mesh.Bounds()
	cfg := testConfig(bmin)
	comp := nav.LZ4Compressor{}

	tc, err := cache.New(cfg, testTables(), comp, bmin, bmax, nil)
	if err != nil {
		t.Fatalf("cache.New: %v", err)
	}
	b := volume.NewBuilder(cfg, testTables(), geom, comp, nil)
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
					t.Fatalf("AddTile: %v", err)
				}
			}
			if err := tc.BuildTilesAt(tx, ty, sink); err != nil {
				t.Fatalf("BuildTilesAt: %v", err)
			}
		}
	}
	return tc, sink
}

func settle(t *testing.T, tc *cache.TileCache, sink *nav.MeshStore) {
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
	t.Fatal("cache did not settle")
}

func saveToFile(t *testing.T, geom *geometry.Geometry, entries []Entry) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "all_tiles_tilecache.bin")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := Save(f, geom, entries, nil); err != nil {
		t.Fatalf("Save: %v", err)
	}
	return path
}

func TestSaveLoadRoundTrip(t *testing.T) {
	geom := planeGeometry(32, 16, 0.3)
	geom.Mesh.SetTriangleSurface(0, 3)
	geom.Mesh.SetTriangleSurface(5, 7)

	tc, sink := buildScene(t, geom)

	id, err := tc.AddOffMeshConnection(geometry.ConnectionSeed{
		Start: mgl32.Vec3{1, 0, 1}, End: mgl32.Vec3{3, 0, 3}, Radius: 0.5, BiDir: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	obRef, err := tc.AddObstacle(mgl32.Vec3{2.4, -0.5, 2.4}, 0.8, 2.0, nav.NullArea)
	if err != nil {
		t.Fatal(err)
	}
	settle(t, tc, sink)
	if tc.ConnectionState(id) != cache.ConnProcessed {
		t.Fatal("connection not processed before save")
	}
	if tc.ObstacleState(obRef) != cache.ObstacleProcessed {
		t.Fatal("obstacle not processed before save")
	}

	geom.AddVolume(geometry.ConvexVolume{
		Verts: []float32{1, 0, 1, 2, 0, 1, 2, 0, 2},
		HMin:  -0.5, HMax: 1.5, Area: 0,
	})
	geom.AddHint(geometry.NavHint{Pos: mgl32.Vec3{4, 0, 2}, HintType: 2})

	path := saveToFile(t, geom, []Entry{{Cache: tc, Sink: sink}})

	// Saving unlinks delivered connections and marks them dirty so the live
	// cache re-links them on its next update.
	if tc.ConnectionState(id) != cache.ConnDirty {
		t.Errorf("live connection state after save = %v, want Dirty", tc.ConnectionState(id))
	}
	if sink.LinkCount() != 0 {
		t.Error("live sink still holds links after save")
	}

	// Restore into a completely fresh scene.
	geom2 := planeGeometry(32, 16, 0.3)
	sink2 := nav.NewMeshStore()
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	caches, err := Load(f, geom2, nav.LZ4Compressor{}, testTables(), []nav.TileSink{sink2}, nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(caches) != 1 {
		t.Fatalf("loaded %d caches, want 1", len(caches))
	}

	if got := geom2.Mesh.TriangleSurface(0); got != 3 {
		t.Errorf("surface 0 = %d, want 3", got)
	}
	if got := geom2.Mesh.TriangleSurface(5); got != 7 {
		t.Errorf("surface 5 = %d, want 7", got)
	}

	lc := caches[0]
	if lc.Config().CellSize != 0.3 || lc.Config().TileSize != 16 {
		t.Errorf("restored config %+v", lc.Config())
	}
	if lc.Capacity() != tc.Capacity() {
		t.Errorf("restored capacity %d, want %d", lc.Capacity(), tc.Capacity())
	}
	if sink2.TileCount() != sink.TileCount() {
		t.Errorf("restored sink holds %d tiles, want %d", sink2.TileCount(), sink.TileCount())
	}

	// Obstacles come back already settled, stamped into the rebuilt tiles.
	if st := lc.CacheStats(); st.Obstacles != 1 {
		t.Errorf("restored cache reports %d obstacles, want 1", st.Obstacles)
	}
	hit := lc.HitTestObstacle([]float32{2.4, 5, 2.4}, []float32{2.4, -1, 2.4})
	if hit == 0 {
		t.Fatal("restored obstacle not hit-testable")
	}
	if lc.ObstacleState(hit) != cache.ObstacleProcessed {
		t.Errorf("restored obstacle state = %v, want Processed", lc.ObstacleState(hit))
	}
	if sink2.TileSize(0, 0, 0) != sink.TileSize(0, 0, 0) {
		t.Errorf("stamped tile differs after reload: %d vs %d",
			sink2.TileSize(0, 0, 0), sink.TileSize(0, 0, 0))
	}

	// Connections come back dirty and link on the next update.
	seeds := lc.Connections()
	if len(seeds) != 1 {
		t.Fatalf("restored %d connections, want 1", len(seeds))
	}
	if seeds[0].Radius != 0.5 || !seeds[0].BiDir {
		t.Errorf("restored seed %+v", seeds[0])
	}
	settle(t, lc, sink2)
	if sink2.LinkCount() != 1 {
		t.Error("restored connection not linked after update")
	}

	if vols := geom2.VolumesFor(0); len(vols) != 1 || vols[0].HMax != 1.5 {
		t.Errorf("restored volumes %+v", vols)
	}
	if hints := geom2.HintsFor(0); len(hints) != 1 || hints[0].HintType != 2 {
		t.Errorf("restored hints %+v", hints)
	}
}

func TestSaveLoadEmptySet(t *testing.T) {
	geom := planeGeometry(4, 4, 0.3)
	path := saveToFile(t, geom, nil)

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	caches, err := Load(f, planeGeometry(4, 4, 0.3), nav.LZ4Compressor{}, testTables(), nil, nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(caches) != 0 {
		t.Errorf("loaded %d caches from an empty set", len(caches))
	}
}

func TestLoadBadMagic(t *testing.T) {
	geom := planeGeometry(4, 4, 0.3)
	path := saveToFile(t, geom, nil)

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	raw[0] ^= 0xff
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		t.Fatal(err)
	}

	geom2 := planeGeometry(4, 4, 0.3)
	sink := nav.NewMeshStore()
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if _, err := Load(f, geom2, nav.LZ4Compressor{}, testTables(), []nav.TileSink{sink}, nil); !errors.Is(err, nav.ErrCorruptData) {
		t.Fatalf("Load: got %v, want ErrCorruptData", err)
	}
	// A failed load leaves the destination untouched.
	if sink.TileCount() != 0 || sink.LinkCount() != 0 {
		t.Error("failed load mutated the sink")
	}
}

func TestLoadWrongVersion(t *testing.T) {
	geom := planeGeometry(4, 4, 0.3)
	path := saveToFile(t, geom, nil)

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	raw[4] = 0x7f // version, little endian
	raw[5] = 0
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		t.Fatal(err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	_, err = Load(f, planeGeometry(4, 4, 0.3), nav.LZ4Compressor{}, testTables(), nil, nil)
	if !errors.Is(err, nav.ErrConfigMismatch) {
		t.Fatalf("Load: got %v, want ErrConfigMismatch", err)
	}
}

func TestLoadInvalidSectionLeavesStateUntouched(t *testing.T) {
	geom := planeGeometry(32, 16, 0.3)
	geom.Mesh.SetTriangleSurface(0, 7)
	tc1, sink1 := buildScene(t, geom)
	tc2, sink2 := buildScene(t, geom)
	path := saveToFile(t, geom, []Entry{
		{Cache: tc1, Sink: sink1},
		{Cache: tc2, Sink: sink2},
	})
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}

	// Section capacity sits right after the section magic, version and tile
	// count; section offsets live in the top header after the surface table
	// offset.
	sec2 := binary.LittleEndian.Uint64(raw[32:40])
	capOff := sec2 + 12

	for _, badCap := range []uint32{0, 1 << 30} {
		patched := append([]byte(nil), raw...)
		binary.LittleEndian.PutUint32(patched[capOff:], badCap)
		if err := os.WriteFile(path, patched, 0o644); err != nil {
			t.Fatal(err)
		}

		geom2 := planeGeometry(32, 16, 0.3)
		sa, sb := nav.NewMeshStore(), nav.NewMeshStore()
		f, err := os.Open(path)
		if err != nil {
			t.Fatal(err)
		}
		_, err = Load(f, geom2, nav.LZ4Compressor{}, testTables(), []nav.TileSink{sa, sb}, nil)
		f.Close()
		if !errors.Is(err, nav.ErrCorruptData) {
			t.Fatalf("capacity %d: got %v, want ErrCorruptData", badCap, err)
		}
		// The failed load applies nothing: no tiles built into either sink,
		// surface types untouched.
		if sa.TileCount() != 0 || sb.TileCount() != 0 {
			t.Errorf("capacity %d: failed load built tiles (%d, %d)",
				badCap, sa.TileCount(), sb.TileCount())
		}
		if got := geom2.Mesh.TriangleSurface(0); got != 0 {
			t.Errorf("capacity %d: failed load set surface type %d", badCap, got)
		}
	}
}

func TestLoadSurfaceCountMismatch(t *testing.T) {
	geom := planeGeometry(4, 4, 0.3)
	path := saveToFile(t, geom, nil)

	// A mesh with a different triangle count cannot accept the surface table.
	other := planeGeometry(2, 2, 0.3)
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	_, err = Load(f, other, nav.LZ4Compressor{}, testTables(), nil, nil)
	if !errors.Is(err, nav.ErrConfigMismatch) {
		t.Fatalf("Load: got %v, want ErrConfigMismatch", err)
	}
}
