package common

import "math"

type Number interface {
	~int | ~int8 | ~int16 | ~int32 | ~int64 |
		~uint | ~uint8 | ~uint16 | ~uint32 | ~uint64 |
		~float32 | ~float64
}

func Min[T Number](a, b T) T {
	if a < b {
		return a
	}
	return b
}

func Max[T Number](a, b T) T {
	if a > b {
		return a
	}
	return b
}

func Clamp[T Number](v, lo, hi T) T {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func Abs[T Number](v T) T {
	if v < 0 {
		return -v
	}
	return v
}

func Sqr[T Number](v T) T { return v * v }

// NextPow2 rounds v up to the next power of two.
func NextPow2(v int32) int32 {
	v--
	v |= v >> 1
	v |= v >> 2
	v |= v >> 4
	v |= v >> 8
	v |= v >> 16
	v++
	return v
}

// Ilog2 returns floor(log2(v)).
func Ilog2(v int32) int32 {
	var r, shift int32
	if v > 0xffff {
		r = 1 << 4
	}
	v >>= r
	if v > 0xff {
		shift = 1 << 3
	}
	v >>= shift
	r |= shift
	shift = 0
	if v > 0xf {
		shift = 1 << 2
	}
	v >>= shift
	r |= shift
	shift = 0
	if v > 0x3 {
		shift = 1 << 1
	}
	v >>= shift
	r |= shift
	r |= v >> 1
	return r
}

// Vert3 returns the i-th 3-component vertex of a packed slice.
func Vert3(verts []float32, i int32) []float32 {
	return verts[i*3 : i*3+3]
}

func Vcopy(dst, src []float32) { copy(dst[:3], src[:3]) }

func Vmin(dst, v []float32) {
	dst[0] = Min(dst[0], v[0])
	dst[1] = Min(dst[1], v[1])
	dst[2] = Min(dst[2], v[2])
}

func Vmax(dst, v []float32) {
	dst[0] = Max(dst[0], v[0])
	dst[1] = Max(dst[1], v[1])
	dst[2] = Max(dst[2], v[2])
}

func Vsub(dst, a, b []float32) {
	dst[0] = a[0] - b[0]
	dst[1] = a[1] - b[1]
	dst[2] = a[2] - b[2]
}

func Vcross(dst, a, b []float32) {
	dst[0] = a[1]*b[2] - a[2]*b[1]
	dst[1] = a[2]*b[0] - a[0]*b[2]
	dst[2] = a[0]*b[1] - a[1]*b[0]
}

func Vnormalize(v []float32) {
	d := float32(math.Sqrt(float64(v[0]*v[0] + v[1]*v[1] + v[2]*v[2])))
	if d == 0 {
		return
	}
	inv := 1.0 / d
	v[0] *= inv
	v[1] *= inv
	v[2] *= inv
}

func VdistSqr(a, b []float32) float32 {
	dx := b[0] - a[0]
	dy := b[1] - a[1]
	dz := b[2] - a[2]
	return dx*dx + dy*dy + dz*dz
}

// OverlapBounds checks whether two AABBs overlap.
func OverlapBounds(amin, amax, bmin, bmax []float32) bool {
	return amin[0] <= bmax[0] && amax[0] >= bmin[0] &&
		amin[1] <= bmax[1] && amax[1] >= bmin[1] &&
		amin[2] <= bmax[2] && amax[2] >= bmin[2]
}

// OverlapRange checks whether [amin,amax] and [bmin,bmax] intersect.
func OverlapRange[T Number](amin, amax, bmin, bmax T) bool {
	return amin <= bmax && amax >= bmin
}

// Dir offsets for the four cardinal grid neighbours: -x, +z, +x, -z.
var dirOffsetX = [4]int32{-1, 0, 1, 0}
var dirOffsetY = [4]int32{0, 1, 0, -1}

func DirOffsetX(dir int32) int32 { return dirOffsetX[dir&3] }
func DirOffsetY(dir int32) int32 { return dirOffsetY[dir&3] }

func AssertTrue(ok bool) {
	if !ok {
		panic("assertion failed")
	}
}
