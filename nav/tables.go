package nav

// Area ids used by the rasterizer before surface-type overrides apply.
const (
	NullArea     = 0
	WalkableArea = 63
)

// AreaDef describes one surface classification: the id stamped into built
// polygons and the index of the traversal flag that polygons of this area
// carry.
type AreaDef struct {
	ID        uint8
	Name      string
	FlagIndex int32
}

// FlagDef describes one traversal flag bit.
type FlagDef struct {
	ID   uint16
	Name string
}

// ConnTypeDef describes an authored off-mesh connection type: which area and
// flag its links receive.
type ConnTypeDef struct {
	Name      string
	AreaIndex int32
	FlagIndex int32
}

// Tables holds the area/flag/connection-type definitions consumed during
// rasterization and post-processing. It is passed explicitly into the builder
// and the tile cache; there is no ambient registry.
type Tables struct {
	Areas     []AreaDef
	Flags     []FlagDef
	ConnTypes []ConnTypeDef
}

// AreaAt returns the area definition at index i, or nil.
func (t *Tables) AreaAt(i int32) *AreaDef {
	if t == nil || i < 0 || int(i) >= len(t.Areas) {
		return nil
	}
	return &t.Areas[i]
}

// FlagAt returns the flag definition at index i, or nil.
func (t *Tables) FlagAt(i int32) *FlagDef {
	if t == nil || i < 0 || int(i) >= len(t.Flags) {
		return nil
	}
	return &t.Flags[i]
}

// ConnTypeAt returns the connection type at index i, or nil.
func (t *Tables) ConnTypeAt(i int32) *ConnTypeDef {
	if t == nil || i < 0 || int(i) >= len(t.ConnTypes) {
		return nil
	}
	return &t.ConnTypes[i]
}

// Remap rewrites a built polygon's area id and flag bits from the raw
// rasterized area index. Unknown areas keep their id with no flags set.
func (t *Tables) Remap(rawArea uint8) (area uint8, flags uint16) {
	def := t.AreaAt(int32(rawArea))
	if def == nil {
		return rawArea, 0
	}
	if f := t.FlagAt(def.FlagIndex); f != nil {
		return def.ID, f.ID
	}
	return def.ID, 0
}
