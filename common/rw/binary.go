// Package rw provides the little-endian readers and writers used by the tile
// blob codec and the cache-set file format. Errors are sticky: callers run a
// whole header through one reader/writer and check Err once at the end.
package rw

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// Writer accumulates little-endian data in memory.
type Writer struct {
	buf     bytes.Buffer
	scratch [8]byte
}

func NewWriter() *Writer { return &Writer{} }

func (w *Writer) WriteUint8(v uint8) { w.buf.WriteByte(v) }

func (w *Writer) WriteUint16(v uint16) {
	binary.LittleEndian.PutUint16(w.scratch[:2], v)
	w.buf.Write(w.scratch[:2])
}

func (w *Writer) WriteUint32(v uint32) {
	binary.LittleEndian.PutUint32(w.scratch[:4], v)
	w.buf.Write(w.scratch[:4])
}

func (w *Writer) WriteUint64(v uint64) {
	binary.LittleEndian.PutUint64(w.scratch[:8], v)
	w.buf.Write(w.scratch[:8])
}

func (w *Writer) WriteInt32(v int32)     { w.WriteUint32(uint32(v)) }
func (w *Writer) WriteInt64(v int64)     { w.WriteUint64(uint64(v)) }
func (w *Writer) WriteFloat32(v float32) { w.WriteUint32(math.Float32bits(v)) }

func (w *Writer) WriteFloat32s(vs []float32) {
	for _, v := range vs {
		w.WriteFloat32(v)
	}
}

func (w *Writer) WriteBytes(p []byte) { w.buf.Write(p) }

func (w *Writer) PadZero(n int) {
	for i := 0; i < n; i++ {
		w.buf.WriteByte(0)
	}
}

func (w *Writer) Len() int      { return w.buf.Len() }
func (w *Writer) Bytes() []byte { return w.buf.Bytes() }

// Reader consumes little-endian data from a byte slice. The first short read
// latches an error and every later read returns zero values.
type Reader struct {
	data []byte
	pos  int
	err  error
}

func NewReader(data []byte) *Reader { return &Reader{data: data} }

func (r *Reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if r.pos+n > len(r.data) {
		r.err = fmt.Errorf("short read at offset %d (+%d of %d)", r.pos, n, len(r.data))
		return nil
	}
	p := r.data[r.pos : r.pos+n]
	r.pos += n
	return p
}

func (r *Reader) ReadUint8() uint8 {
	p := r.take(1)
	if p == nil {
		return 0
	}
	return p[0]
}

func (r *Reader) ReadUint16() uint16 {
	p := r.take(2)
	if p == nil {
		return 0
	}
	return binary.LittleEndian.Uint16(p)
}

func (r *Reader) ReadUint32() uint32 {
	p := r.take(4)
	if p == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(p)
}

func (r *Reader) ReadUint64() uint64 {
	p := r.take(8)
	if p == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(p)
}

func (r *Reader) ReadInt32() int32     { return int32(r.ReadUint32()) }
func (r *Reader) ReadInt64() int64     { return int64(r.ReadUint64()) }
func (r *Reader) ReadFloat32() float32 { return math.Float32frombits(r.ReadUint32()) }

func (r *Reader) ReadFloat32s(dst []float32) {
	for i := range dst {
		dst[i] = r.ReadFloat32()
	}
}

// ReadBytes returns the next n bytes without copying.
func (r *Reader) ReadBytes(n int) []byte { return r.take(n) }

// Remaining returns the unread tail without consuming it.
func (r *Reader) Remaining() []byte {
	if r.err != nil {
		return nil
	}
	return r.data[r.pos:]
}

func (r *Reader) Pos() int   { return r.pos }
func (r *Reader) Err() error { return r.err }

// Cursor drives two-pass file emission: sections whose sizes are unknown up
// front reserve header space, stream their data forward, then patch the
// reserved range once the real offsets and counts exist. All raw offset
// arithmetic stays in here.
type Cursor struct {
	ws  io.WriteSeeker
	pos int64
	err error
}

func NewCursor(ws io.WriteSeeker) *Cursor { return &Cursor{ws: ws} }

// Tell reports the current write position.
func (c *Cursor) Tell() int64 { return c.pos }

// Write streams a fully built block at the current position.
func (c *Cursor) Write(p []byte) {
	if c.err != nil {
		return
	}
	n, err := c.ws.Write(p)
	c.pos += int64(n)
	c.err = err
}

// Reserve writes a placeholder of n zero bytes and returns its position for a
// later Patch.
func (c *Cursor) Reserve(n int) int64 {
	pos := c.pos
	c.Write(make([]byte, n))
	return pos
}

// Patch overwrites a previously reserved range and restores the cursor to the
// stream end. The patch must not exceed the reserved size; the cursor cannot
// verify that, so reserving code and patching code share one header builder.
func (c *Cursor) Patch(pos int64, p []byte) {
	if c.err != nil {
		return
	}
	end := c.pos
	if _, err := c.ws.Seek(pos, io.SeekStart); err != nil {
		c.err = err
		return
	}
	if _, err := c.ws.Write(p); err != nil {
		c.err = err
		return
	}
	_, c.err = c.ws.Seek(end, io.SeekStart)
}

func (c *Cursor) Err() error { return c.err }

// FileReader wraps a ReadSeeker for the load path: sections are located by
// absolute offsets recorded in headers.
type FileReader struct {
	rs  io.ReadSeeker
	err error
}

func NewFileReader(rs io.ReadSeeker) *FileReader { return &FileReader{rs: rs} }

// SeekTo positions the reader at an absolute offset.
func (f *FileReader) SeekTo(pos int64) {
	if f.err != nil {
		return
	}
	_, f.err = f.rs.Seek(pos, io.SeekStart)
}

// Tell reports the current read position.
func (f *FileReader) Tell() int64 {
	if f.err != nil {
		return 0
	}
	pos, err := f.rs.Seek(0, io.SeekCurrent)
	if err != nil {
		f.err = err
	}
	return pos
}

// ReadBlock reads exactly n bytes into a fresh Reader.
func (f *FileReader) ReadBlock(n int) *Reader {
	buf := make([]byte, n)
	if f.err == nil {
		_, f.err = io.ReadFull(f.rs, buf)
	}
	if f.err != nil {
		return NewReader(nil)
	}
	return NewReader(buf)
}

// ReadBytes reads exactly n raw bytes.
func (f *FileReader) ReadBytes(n int) []byte {
	if f.err != nil {
		return nil
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(f.rs, buf); err != nil {
		f.err = err
		return nil
	}
	return buf
}

func (f *FileReader) Err() error { return f.err }
