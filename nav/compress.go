package nav

import (
	"fmt"

	"github.com/pierrec/lz4/v4"
)

// Compressor is the stateless byte-buffer codec used for tile layer data.
// Compress and Decompress are pure: same input, same output.
type Compressor interface {
	// MaxCompressedSize returns a deterministic upper bound on the
	// compressed size of n input bytes, for sizing scratch output buffers.
	MaxCompressedSize(n int) int
	// Compress writes the compressed form of src into dst and returns the
	// number of bytes written. dst must be at least MaxCompressedSize(len(src)).
	Compress(dst, src []byte) (int, error)
	// Decompress expands src into dst and returns the decompressed size.
	// dst must already be sized to the expected raw length.
	Decompress(dst, src []byte) (int, error)
}

// LZ4Compressor compresses tile layers with LZ4 block encoding. Incompressible
// input is stored raw with a one-byte marker so round-trips never fail.
type LZ4Compressor struct{}

const (
	blockRaw = 0
	blockLZ4 = 1
)

func (LZ4Compressor) MaxCompressedSize(n int) int {
	return 1 + lz4.CompressBlockBound(n)
}

func (LZ4Compressor) Compress(dst, src []byte) (int, error) {
	if len(dst) < 1+lz4.CompressBlockBound(len(src)) {
		return 0, fmt.Errorf("%w: compress buffer too small", ErrAllocation)
	}
	n, err := lz4.CompressBlock(src, dst[1:], nil)
	if err != nil || n == 0 || n >= len(src) {
		// Incompressible (or pathological) input is stored raw.
		dst[0] = blockRaw
		copy(dst[1:], src)
		return 1 + len(src), nil
	}
	dst[0] = blockLZ4
	return 1 + n, nil
}

func (LZ4Compressor) Decompress(dst, src []byte) (int, error) {
	if len(src) < 1 {
		return 0, fmt.Errorf("%w: empty compressed block", ErrCorruptData)
	}
	switch src[0] {
	case blockRaw:
		if len(src)-1 > len(dst) {
			return 0, fmt.Errorf("%w: raw block larger than expected", ErrCorruptData)
		}
		return copy(dst, src[1:]), nil
	case blockLZ4:
		n, err := lz4.UncompressBlock(src[1:], dst)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("%w: lz4 block: %v", ErrCorruptData, err)
		}
		return n, nil
	}
	return 0, fmt.Errorf("%w: unknown block encoding %d", ErrCorruptData, src[0])
}
