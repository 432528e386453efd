package nav

import (
	"bytes"
	"errors"
	"testing"
)

func TestCompressRoundTrip(t *testing.T) {
	cases := []struct {
		name string
		src  []byte
	}{
		{"zeros", make([]byte, 4096)},
		{"repetitive", bytes.Repeat([]byte{1, 2, 3, 4}, 512)},
		{"single", []byte{42}},
		{"incompressible", func() []byte {
			b := make([]byte, 257)
			x := uint8(7)
			for i := range b {
				x = x*31 + 17
				b[i] = x
			}
			return b
		}()},
	}

	var comp LZ4Compressor
	for _, tc := range cases {
		dst := make([]byte, comp.MaxCompressedSize(len(tc.src)))
		n, err := comp.Compress(dst, tc.src)
		if err != nil {
			t.Fatalf("%s: compress: %v", tc.name, err)
		}
		if n > comp.MaxCompressedSize(len(tc.src)) {
			t.Errorf("%s: compressed size %d exceeds bound", tc.name, n)
		}

		out := make([]byte, len(tc.src))
		m, err := comp.Decompress(out, dst[:n])
		if err != nil {
			t.Fatalf("%s: decompress: %v", tc.name, err)
		}
		if m != len(tc.src) {
			t.Errorf("%s: decompressed %d bytes, want %d", tc.name, m, len(tc.src))
		}
		if !bytes.Equal(out, tc.src) {
			t.Errorf("%s: round trip mismatch", tc.name)
		}
	}
}

func TestDecompressCorrupt(t *testing.T) {
	var comp LZ4Compressor
	dst := make([]byte, 64)

	if _, err := comp.Decompress(dst, nil); !errors.Is(err, ErrCorruptData) {
		t.Errorf("empty block: got %v, want ErrCorruptData", err)
	}
	if _, err := comp.Decompress(dst, []byte{7, 1, 2, 3}); !errors.Is(err, ErrCorruptData) {
		t.Errorf("unknown encoding: got %v, want ErrCorruptData", err)
	}
	// Raw block bigger than the expected output.
	big := append([]byte{blockRaw}, make([]byte, 128)...)
	if _, err := comp.Decompress(dst, big); !errors.Is(err, ErrCorruptData) {
		t.Errorf("oversized raw block: got %v, want ErrCorruptData", err)
	}
}
