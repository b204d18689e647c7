// Package bitop provides the bit-level reader used to parse AAC and
// AVC/HEVC sequence headers embedded in RTMP codec configuration
// records.
package bitop

// Reader reads an arbitrary number of bits at a time from a byte
// slice, MSB first, tracking an error flag once the underlying buffer
// is exhausted.
//
// Unlike the teacher's original value-receiver Bitop (whose Read
// mutated a copy of the cursor and so never advanced across calls),
// Reader uses a pointer receiver throughout: bufpos/bufoff persist
// between calls as intended.
type Reader struct {
	buffer []byte
	buflen uint32
	bufpos uint32
	bufoff uint32
	iserr  bool
}

// NewReader wraps buffer for bit-level reads starting at bit 0.
func NewReader(buffer []byte) *Reader {
	return &Reader{buffer: buffer, buflen: uint32(len(buffer))}
}

// Err reports whether a prior Read ran past the end of the buffer.
func (b *Reader) Err() bool { return b.iserr }

// Read consumes and returns the next n bits, MSB first. Reading past
// the end of the buffer sets the error flag and returns 0 for the
// remaining bits.
func (b *Reader) Read(n uint32) uint32 {
	var v uint32
	for n > 0 {
		if b.bufpos >= b.buflen {
			b.iserr = true
			return v << n
		}
		var d uint32
		if b.bufoff+n > 8 {
			d = 8 - b.bufoff
		} else {
			d = n
		}
		v <<= d
		v += uint32((b.buffer[b.bufpos] >> byte(8-b.bufoff-d)) & (0xff >> byte(8-d)))
		b.bufoff += d
		n -= d
		if b.bufoff == 8 {
			b.bufpos++
			b.bufoff = 0
		}
	}
	return v
}

// Look returns the next n bits without advancing the cursor.
func (b *Reader) Look(n uint32) uint32 {
	p, o := b.bufpos, b.bufoff
	v := b.Read(n)
	b.bufpos, b.bufoff = p, o
	return v
}

// ReadGolomb decodes one Exp-Golomb coded unsigned value.
func (b *Reader) ReadGolomb() uint32 {
	var n uint32
	for b.Read(1) == 0 && !b.iserr {
		n++
	}
	return (1 << n) + b.Read(n) - 1
}
