package geometry

import "testing"

// gridMesh builds an n x n quad grid on the xz-plane, two triangles per cell.
func gridMesh(n int, cell float32) ([]float32, []int32) {
	var verts []float32
	for z := 0; z <= n; z++ {
		for x := 0; x <= n; x++ {
			verts = append(verts, float32(x)*cell, 0, float32(z)*cell)
		}
	}
	var tris []int32
	row := int32(n + 1)
	for z := 0; z < n; z++ {
		for x := 0; x < n; x++ {
			a := int32(z)*row + int32(x)
			b := a + 1
			c := a + row
			d := c + 1
			tris = append(tris, a, c, b, b, c, d)
		}
	}
	return verts, tris
}

func TestChunkyMeshCoversAllTriangles(t *testing.T) {
	verts, tris := gridMesh(16, 1)
	cm := NewChunkyMesh(verts, tris, 32)

	seen := make(map[int32]int)
	ids := make([]int32, 64)
	n := cm.ChunksOverlappingRect([2]float32{-1, -1}, [2]float32{17, 17}, ids)
	if n == 0 {
		t.Fatal("full-bounds query returned no chunks")
	}
	for i := 0; i < n; i++ {
		for _, id := range cm.ChunkTriIDs(ids[i]) {
			seen[id]++
		}
	}
	want := len(tris) / 3
	if len(seen) != want {
		t.Fatalf("chunks cover %d distinct triangles, want %d", len(seen), want)
	}
	for id, count := range seen {
		if count != 1 {
			t.Errorf("triangle %d stored in %d chunks", id, count)
		}
	}
}

func TestChunkyMeshRectQuery(t *testing.T) {
	verts, tris := gridMesh(16, 1)
	cm := NewChunkyMesh(verts, tris, 16)

	// A query far outside the grid hits nothing.
	ids := make([]int32, 64)
	if n := cm.ChunksOverlappingRect([2]float32{100, 100}, [2]float32{110, 110}, ids); n != 0 {
		t.Errorf("out-of-bounds query returned %d chunks", n)
	}

	// A corner query must include the corner cell's triangles.
	n := cm.ChunksOverlappingRect([2]float32{0, 0}, [2]float32{0.5, 0.5}, ids)
	found := false
	for i := 0; i < n; i++ {
		for _, id := range cm.ChunkTriIDs(ids[i]) {
			if id == 0 || id == 1 {
				found = true
			}
		}
	}
	if !found {
		t.Error("corner query missed the corner cell triangles")
	}
}

func TestMeshSurfaceTypes(t *testing.T) {
	verts, tris := gridMesh(4, 1)
	m := NewMesh(verts, tris)

	if m.TriangleSurface(3) != 0 {
		t.Errorf("fresh mesh surface = %d, want 0", m.TriangleSurface(3))
	}
	m.SetTriangleSurface(3, 7)
	if m.TriangleSurface(3) != 7 {
		t.Errorf("surface = %d after set, want 7", m.TriangleSurface(3))
	}
	// Out-of-range writes are ignored.
	m.SetTriangleSurface(m.TriCount(), 9)
	m.SetTriangleSurface(-1, 9)

	// The spatial visit hands back original triangle ids so surface lookups
	// survive the chunk reorder.
	visited := 0
	m.TrisOverlappingRect([2]float32{-1, -1}, [2]float32{5, 5}, func(tris, triIDs []int32) {
		if len(tris) != len(triIDs)*3 {
			t.Fatalf("tris %d vs ids %d", len(tris), len(triIDs))
		}
		visited += len(triIDs)
	})
	if int32(visited) != m.TriCount() {
		t.Errorf("visited %d triangles, want %d", visited, m.TriCount())
	}
}
