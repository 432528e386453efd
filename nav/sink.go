package nav

// OffMeshLink is a point-to-point traversal edge handed to the mesh consumer
// alongside the polygon tile it starts in.
type OffMeshLink struct {
	ID     uint32
	Start  [3]float32
	End    [3]float32
	Radius float32
	Area   uint8
	Flags  uint16
	BiDir  bool
}

// TileSink is the consumer of meshed tiles. The tile cache pushes finished
// tile payloads and link updates into it; it never reads back. A runtime
// navigation mesh implements this, as does MeshStore for tests.
type TileSink interface {
	// ReplaceTile installs data as the tile at the given grid slot,
	// discarding any previous payload there. An empty data removes only.
	ReplaceTile(tx, ty, layer int32, data []byte) error
	// RemoveTile discards the tile at the slot. Removing a vacant slot is
	// not an error.
	RemoveTile(tx, ty, layer int32) error
	// TileSize reports the installed payload size at the slot, 0 if vacant.
	TileSize(tx, ty, layer int32) int
	// LinkConnection registers an off-mesh link attached to the tile that
	// contains its start point.
	LinkConnection(link OffMeshLink) error
	// UnlinkConnection removes a previously registered link. Unknown ids
	// are ignored.
	UnlinkConnection(id uint32)
}
