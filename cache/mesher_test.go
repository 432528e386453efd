package cache

import (
	"errors"
	"reflect"
	"testing"

	"navtile/common"
	"navtile/nav"
)

func mesherTables() *nav.Tables {
	return &nav.Tables{
		Areas: []nav.AreaDef{
			{ID: 0, Name: "null"},
			{ID: 1, Name: "ground", FlagIndex: 0},
		},
		Flags: []nav.FlagDef{
			{ID: 1, Name: "walk"},
		},
	}
}

// flatLayer builds a fully-connected flat layer with every cell walkable.
func flatLayer(w, h int) *nav.TileLayer {
	gs := w * h
	layer := &nav.TileLayer{
		Header: nav.LayerHeader{
			Width: uint8(w), Height: uint8(h),
			MaxX: uint8(w - 1), MaxY: uint8(h - 1),
			HMax: 1,
		},
		Heights: make([]byte, gs),
		Areas:   make([]byte, gs),
		Cons:    make([]byte, gs),
		Regs:    make([]byte, gs),
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			idx := x + y*w
			layer.Areas[idx] = 1
			for dir := int32(0); dir < 4; dir++ {
				nx := int32(x) + common.DirOffsetX(dir)
				ny := int32(y) + common.DirOffsetY(dir)
				if nx >= 0 && nx < int32(w) && ny >= 0 && ny < int32(h) {
					layer.Cons[idx] |= 1 << uint(dir)
				}
			}
		}
	}
	return layer
}

func TestBuildLayerRegionsSingle(t *testing.T) {
	layer := flatLayer(8, 8)
	if err := BuildLayerRegions(layer, 4); err != nil {
		t.Fatalf("BuildLayerRegions: %v", err)
	}
	if layer.RegCount != 1 {
		t.Fatalf("RegCount = %d, want 1", layer.RegCount)
	}
	for i, r := range layer.Regs {
		if r != 0 {
			t.Fatalf("cell %d assigned region %d, want 0", i, r)
		}
	}
}

func TestBuildLayerRegionsWallSplit(t *testing.T) {
	layer := flatLayer(8, 8)
	for y := 0; y < 8; y++ {
		layer.Areas[3+y*8] = nav.NullArea
	}
	if err := BuildLayerRegions(layer, 4); err != nil {
		t.Fatalf("BuildLayerRegions: %v", err)
	}
	if layer.RegCount != 2 {
		t.Fatalf("RegCount = %d, want 2", layer.RegCount)
	}
	for y := 0; y < 8; y++ {
		if layer.Regs[3+y*8] != nullReg {
			t.Fatalf("wall cell (3,%d) assigned region %d", y, layer.Regs[3+y*8])
		}
		if layer.Regs[0+y*8] == layer.Regs[7+y*8] {
			t.Fatal("cells on opposite sides of the wall share a region")
		}
	}
}

func TestBuildLayerRegionsClimbBarrier(t *testing.T) {
	// A height step above the climb limit splits the layer even though the
	// cells stay laterally connected.
	layer := flatLayer(8, 8)
	for y := 0; y < 8; y++ {
		for x := 4; x < 8; x++ {
			layer.Heights[x+y*8] = 20
		}
	}
	if err := BuildLayerRegions(layer, 4); err != nil {
		t.Fatal(err)
	}
	if layer.RegCount != 2 {
		t.Fatalf("RegCount = %d, want 2", layer.RegCount)
	}
}

func TestBuildLayerContoursSquare(t *testing.T) {
	layer := flatLayer(8, 8)
	if err := BuildLayerRegions(layer, 4); err != nil {
		t.Fatal(err)
	}
	cset, err := BuildLayerContours(layer, 4, 1.1)
	if err != nil {
		t.Fatalf("BuildLayerContours: %v", err)
	}
	if len(cset.Conts) != 1 {
		t.Fatalf("%d contours, want 1", len(cset.Conts))
	}
	cont := &cset.Conts[0]
	if cont.Area != 1 {
		t.Errorf("contour area = %d, want 1", cont.Area)
	}
	if cont.NVerts != 4 {
		t.Fatalf("simplified square has %d verts, want 4", cont.NVerts)
	}
	want := map[[2]int32]bool{
		{0, 0}: true, {0, 8}: true, {8, 8}: true, {8, 0}: true,
	}
	for i := int32(0); i < cont.NVerts; i++ {
		v := cont.Verts[i*4:]
		if !want[[2]int32{v[0], v[2]}] {
			t.Errorf("unexpected contour corner (%d,%d)", v[0], v[2])
		}
		if v[1] != 0 {
			t.Errorf("corner %d height = %d, want 0", i, v[1])
		}
	}
}

func TestBuildLayerPolyMeshSquare(t *testing.T) {
	layer := flatLayer(8, 8)
	if err := BuildLayerRegions(layer, 4); err != nil {
		t.Fatal(err)
	}
	cset, err := BuildLayerContours(layer, 4, 1.1)
	if err != nil {
		t.Fatal(err)
	}
	mesh, err := BuildLayerPolyMesh(cset, mesherTables())
	if err != nil {
		t.Fatalf("BuildLayerPolyMesh: %v", err)
	}
	if mesh.NVerts != 4 {
		t.Errorf("NVerts = %d, want 4", mesh.NVerts)
	}
	if mesh.NTris != 2 {
		t.Fatalf("NTris = %d, want 2", mesh.NTris)
	}
	for i := int32(0); i < mesh.NTris; i++ {
		if mesh.Areas[i] != 1 {
			t.Errorf("tri %d area = %d, want 1", i, mesh.Areas[i])
		}
		if mesh.Flags[i] != 1 {
			t.Errorf("tri %d flags = %d, want 1", i, mesh.Flags[i])
		}
	}
	// Indices stay inside the welded vertex pool.
	for i, ti := range mesh.Tris {
		if int32(ti) >= mesh.NVerts {
			t.Fatalf("tri index %d at %d out of range", ti, i)
		}
	}
}

func TestTilePayloadRoundTrip(t *testing.T) {
	hdr := &nav.LayerHeader{TX: 2, TY: 3, TLayer: 1, BMin: [3]float32{1, 2, 3}}
	mesh := &LayerPolyMesh{
		Verts:  []uint16{0, 0, 0, 8, 0, 0, 8, 1, 8, 0, 1, 8},
		Tris:   []uint16{0, 1, 2, 0, 2, 3},
		Areas:  []uint8{1, 1},
		Flags:  []uint16{1, 3},
		NVerts: 4,
		NTris:  2,
	}

	data := EncodeTilePayload(hdr, mesh, 0.3, 0.2)
	p, err := DecodeTilePayload(data)
	if err != nil {
		t.Fatalf("DecodeTilePayload: %v", err)
	}
	if p.TX != 2 || p.TY != 3 || p.TLayer != 1 {
		t.Errorf("tile coords (%d,%d,%d)", p.TX, p.TY, p.TLayer)
	}
	if p.BMin != hdr.BMin || p.CS != 0.3 || p.CH != 0.2 {
		t.Errorf("layer placement %v cs=%v ch=%v", p.BMin, p.CS, p.CH)
	}
	if !reflect.DeepEqual(&p.Mesh, mesh) {
		t.Errorf("mesh round trip:\n got %+v\nwant %+v", p.Mesh, *mesh)
	}
}

func TestDecodeTilePayloadRejects(t *testing.T) {
	hdr := &nav.LayerHeader{}
	mesh := &LayerPolyMesh{
		Verts: []uint16{0, 0, 0, 1, 0, 0, 1, 0, 1}, Tris: []uint16{0, 1, 2},
		Areas: []uint8{1}, Flags: []uint16{1}, NVerts: 3, NTris: 1,
	}
	data := EncodeTilePayload(hdr, mesh, 0.3, 0.2)

	bad := append([]byte(nil), data...)
	bad[0] ^= 0xff
	if _, err := DecodeTilePayload(bad); !errors.Is(err, nav.ErrCorruptData) {
		t.Errorf("bad magic: got %v, want ErrCorruptData", err)
	}

	bad = append([]byte(nil), data...)
	bad[4] = 0x7f
	if _, err := DecodeTilePayload(bad); !errors.Is(err, nav.ErrConfigMismatch) {
		t.Errorf("bad version: got %v, want ErrConfigMismatch", err)
	}

	if _, err := DecodeTilePayload(data[:len(data)-3]); !errors.Is(err, nav.ErrCorruptData) {
		t.Errorf("truncated: got %v, want ErrCorruptData", err)
	}
}
