package nav

import (
	"fmt"

	"navtile/common/rw"
)

// LayerMagic identifies a serialized tile layer blob ('N'|'T'|'L'|'R').
const LayerMagic uint32 = 'N'<<24 | 'T'<<16 | 'L'<<8 | 'R'

// LayerVersion is the current tile layer blob format version.
const LayerVersion uint16 = 1

// layerHeaderSize is the fixed on-disk size of LayerHeader.
const layerHeaderSize = 4 + 2 + 2 + 3*4 + 2*3*4 + 2 + 2 + 6 + 4

// LayerHeader describes one compressed height layer of a tile.
type LayerHeader struct {
	Magic   uint32
	Version uint16
	TX      int32 // Tile grid x.
	TY      int32 // Tile grid y.
	TLayer  int32 // Layer index within the tile column.

	BMin [3]float32 // Layer bounds, world units.
	BMax [3]float32

	HMin uint16 // Height range of the layer, voxel units.
	HMax uint16

	Width  uint8 // Grid dimensions of the layer.
	Height uint8
	MinX   uint8 // Usable sub-rect within the grid.
	MaxX   uint8
	MinY   uint8
	MaxY   uint8
}

// GridSize returns the number of cells in the layer grid.
func (h *LayerHeader) GridSize() int32 {
	return int32(h.Width) * int32(h.Height)
}

// TileLayer is a decompressed layer ready for obstacle stamping and meshing.
// Heights, Areas and Cons come from the blob; Regs is working storage the
// build attaches before region partitioning.
type TileLayer struct {
	Header   LayerHeader
	RegCount uint8
	Heights  []byte
	Areas    []byte
	Cons     []byte
	Regs     []byte
}

// BuildTileLayerBlob serializes a layer into its persistent form: the fixed
// header in clear followed by the compressed heights, areas and connection
// grids.
func BuildTileLayerBlob(comp Compressor, hdr *LayerHeader, heights, areas, cons []byte) ([]byte, error) {
	gridSize := int(hdr.GridSize())
	if len(heights) != gridSize || len(areas) != gridSize || len(cons) != gridSize {
		return nil, fmt.Errorf("%w: layer grids do not match header %dx%d",
			ErrCorruptData, hdr.Width, hdr.Height)
	}

	raw := make([]byte, 0, gridSize*3)
	raw = append(raw, heights...)
	raw = append(raw, areas...)
	raw = append(raw, cons...)

	w := rw.NewWriter()
	w.WriteUint32(LayerMagic)
	w.WriteUint16(LayerVersion)
	w.WriteUint16(0) // pad
	w.WriteInt32(hdr.TX)
	w.WriteInt32(hdr.TY)
	w.WriteInt32(hdr.TLayer)
	w.WriteFloat32s(hdr.BMin[:])
	w.WriteFloat32s(hdr.BMax[:])
	w.WriteUint16(hdr.HMin)
	w.WriteUint16(hdr.HMax)
	w.WriteUint8(hdr.Width)
	w.WriteUint8(hdr.Height)
	w.WriteUint8(hdr.MinX)
	w.WriteUint8(hdr.MaxX)
	w.WriteUint8(hdr.MinY)
	w.WriteUint8(hdr.MaxY)
	w.WriteUint32(uint32(len(raw)))

	packed := make([]byte, comp.MaxCompressedSize(len(raw)))
	n, err := comp.Compress(packed, raw)
	if err != nil {
		return nil, err
	}
	w.WriteBytes(packed[:n])
	return w.Bytes(), nil
}

// ParseLayerHeader validates and decodes only the clear-text header of a
// layer blob, leaving the compressed payload untouched.
func ParseLayerHeader(data []byte) (*LayerHeader, error) {
	if len(data) < layerHeaderSize {
		return nil, fmt.Errorf("%w: layer blob truncated (%d bytes)", ErrCorruptData, len(data))
	}
	r := rw.NewReader(data)

	var hdr LayerHeader
	hdr.Magic = r.ReadUint32()
	hdr.Version = r.ReadUint16()
	r.ReadUint16() // pad
	if hdr.Magic != LayerMagic {
		return nil, fmt.Errorf("%w: bad layer magic %#x", ErrCorruptData, hdr.Magic)
	}
	if hdr.Version != LayerVersion {
		return nil, fmt.Errorf("%w: layer version %d, want %d", ErrConfigMismatch, hdr.Version, LayerVersion)
	}
	hdr.TX = r.ReadInt32()
	hdr.TY = r.ReadInt32()
	hdr.TLayer = r.ReadInt32()
	r.ReadFloat32s(hdr.BMin[:])
	r.ReadFloat32s(hdr.BMax[:])
	hdr.HMin = r.ReadUint16()
	hdr.HMax = r.ReadUint16()
	hdr.Width = r.ReadUint8()
	hdr.Height = r.ReadUint8()
	hdr.MinX = r.ReadUint8()
	hdr.MaxX = r.ReadUint8()
	hdr.MinY = r.ReadUint8()
	hdr.MaxY = r.ReadUint8()
	if err := r.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptData, err)
	}
	return &hdr, nil
}

// DecompressTileLayer validates and expands a layer blob. The returned layer
// owns freshly allocated grids; the blob is not retained.
func DecompressTileLayer(comp Compressor, data []byte) (*TileLayer, error) {
	hdr, err := ParseLayerHeader(data)
	if err != nil {
		return nil, err
	}
	r := rw.NewReader(data)
	r.ReadBytes(layerHeaderSize - 4)
	rawSize := int(r.ReadUint32())
	if err := r.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptData, err)
	}

	gridSize := int(hdr.GridSize())
	if rawSize != gridSize*3 {
		return nil, fmt.Errorf("%w: layer raw size %d does not match grid %dx%d",
			ErrCorruptData, rawSize, hdr.Width, hdr.Height)
	}

	raw := make([]byte, rawSize)
	n, err := comp.Decompress(raw, r.Remaining())
	if err != nil {
		return nil, err
	}
	if n != rawSize {
		return nil, fmt.Errorf("%w: layer expanded to %d bytes, want %d", ErrCorruptData, n, rawSize)
	}

	return &TileLayer{
		Header:  *hdr,
		Heights: raw[:gridSize],
		Areas:   raw[gridSize : gridSize*2],
		Cons:    raw[gridSize*2 : gridSize*3],
	}, nil
}
