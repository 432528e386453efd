package nav

import "sync"

// TileLoc addresses one layer slot in the tile grid.
type TileLoc struct {
	TX, TY, Layer int32
}

// MeshStore is an in-memory TileSink. It keeps the latest payload per tile
// slot and the current link set, which is all the tile cache needs from a
// consumer. It is safe for concurrent use.
type MeshStore struct {
	mu    sync.Mutex
	tiles map[TileLoc][]byte
	links map[uint32]OffMeshLink
}

func NewMeshStore() *MeshStore {
	return &MeshStore{
		tiles: make(map[TileLoc][]byte),
		links: make(map[uint32]OffMeshLink),
	}
}

func (m *MeshStore) ReplaceTile(tx, ty, layer int32, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	loc := TileLoc{tx, ty, layer}
	if len(data) == 0 {
		delete(m.tiles, loc)
		return nil
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	m.tiles[loc] = cp
	return nil
}

func (m *MeshStore) RemoveTile(tx, ty, layer int32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tiles, TileLoc{tx, ty, layer})
	return nil
}

func (m *MeshStore) TileSize(tx, ty, layer int32) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tiles[TileLoc{tx, ty, layer}])
}

func (m *MeshStore) LinkConnection(link OffMeshLink) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.links[link.ID] = link
	return nil
}

func (m *MeshStore) UnlinkConnection(id uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.links, id)
}

// TileCount reports how many slots hold a payload.
func (m *MeshStore) TileCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tiles)
}

// LinkCount reports how many off-mesh links are registered.
func (m *MeshStore) LinkCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.links)
}

// Link returns a registered link by id.
func (m *MeshStore) Link(id uint32) (OffMeshLink, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.links[id]
	return l, ok
}
