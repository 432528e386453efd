package nav

import (
	"bytes"
	"errors"
	"testing"
)

func testLayerGrids(w, h uint8) (hdr LayerHeader, heights, areas, cons []byte) {
	hdr = LayerHeader{
		Magic: LayerMagic, Version: LayerVersion,
		TX: 3, TY: -1, TLayer: 2,
		BMin: [3]float32{0, 0, 0}, BMax: [3]float32{4.8, 2, 4.8},
		HMin: 5, HMax: 40,
		Width: w, Height: h, MinX: 1, MaxX: w - 2, MinY: 1, MaxY: h - 2,
	}
	n := int(w) * int(h)
	heights = make([]byte, n)
	areas = make([]byte, n)
	cons = make([]byte, n)
	for i := 0; i < n; i++ {
		heights[i] = byte(5 + i%32)
		areas[i] = WalkableArea
		cons[i] = byte(i % 16)
	}
	return hdr, heights, areas, cons
}

func TestLayerBlobRoundTrip(t *testing.T) {
	hdr, heights, areas, cons := testLayerGrids(16, 16)

	var comp LZ4Compressor
	blob, err := BuildTileLayerBlob(comp, &hdr, heights, areas, cons)
	if err != nil {
		t.Fatalf("BuildTileLayerBlob: %v", err)
	}

	layer, err := DecompressTileLayer(comp, blob)
	if err != nil {
		t.Fatalf("DecompressTileLayer: %v", err)
	}
	if layer.Header != hdr {
		t.Errorf("header mismatch:\n got %+v\nwant %+v", layer.Header, hdr)
	}
	if !bytes.Equal(layer.Heights, heights) {
		t.Error("heights grid mismatch")
	}
	if !bytes.Equal(layer.Areas, areas) {
		t.Error("areas grid mismatch")
	}
	if !bytes.Equal(layer.Cons, cons) {
		t.Error("cons grid mismatch")
	}
}

func TestParseLayerHeaderRejects(t *testing.T) {
	hdr, heights, areas, cons := testLayerGrids(8, 8)
	var comp LZ4Compressor
	blob, err := BuildTileLayerBlob(comp, &hdr, heights, areas, cons)
	if err != nil {
		t.Fatal(err)
	}

	bad := append([]byte(nil), blob...)
	bad[0] ^= 0xff
	if _, err := ParseLayerHeader(bad); !errors.Is(err, ErrCorruptData) {
		t.Errorf("bad magic: got %v, want ErrCorruptData", err)
	}

	bad = append([]byte(nil), blob...)
	bad[4] = 0x7f // version
	if _, err := ParseLayerHeader(bad); !errors.Is(err, ErrConfigMismatch) {
		t.Errorf("bad version: got %v, want ErrConfigMismatch", err)
	}

	if _, err := ParseLayerHeader(blob[:10]); !errors.Is(err, ErrCorruptData) {
		t.Errorf("truncated blob: got %v, want ErrCorruptData", err)
	}
}

func TestBuildTileLayerBlobSizeMismatch(t *testing.T) {
	hdr, heights, areas, cons := testLayerGrids(8, 8)
	var comp LZ4Compressor
	if _, err := BuildTileLayerBlob(comp, &hdr, heights[:10], areas, cons); !errors.Is(err, ErrCorruptData) {
		t.Errorf("short grid: got %v, want ErrCorruptData", err)
	}
}

func TestDecompressTileLayerTruncatedPayload(t *testing.T) {
	hdr, heights, areas, cons := testLayerGrids(8, 8)
	var comp LZ4Compressor
	blob, err := BuildTileLayerBlob(comp, &hdr, heights, areas, cons)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := DecompressTileLayer(comp, blob[:len(blob)-8]); err == nil {
		t.Error("truncated payload decompressed without error")
	}
}
