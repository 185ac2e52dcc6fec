package nat64

// Buffer is a packet buffer that can shed bytes from the front (removing
// a header being translated away) and later reclaim them (prepending the
// new header), without ever reallocating or moving payload bytes.
// Grounded on the gVisor-netstack Prependable idiom: the backing array is
// sized up front to include the caller's headroom, and a single index
// marks where the live packet currently starts.
type Buffer struct {
	buf   []byte
	start int
}

// NewBuffer wraps raw as a Buffer whose live region is the whole slice
// and whose headroom is whatever spare capacity raw carries behind index
// 0 — which for a plain []byte is none. Use NewBufferWithHeadroom to
// construct a buffer with prepend room.
func NewBuffer(raw []byte) *Buffer {
	return &Buffer{buf: raw, start: 0}
}

// NewBufferWithHeadroom allocates a fixed backing array of
// headroom+len(payload) bytes, copies payload into its tail, and returns
// a Buffer whose live region is exactly payload. Prepend may reclaim up
// to headroom bytes in front of it.
func NewBufferWithHeadroom(headroom int, payload []byte) *Buffer {
	buf := make([]byte, headroom+len(payload))
	copy(buf[headroom:], payload)
	return &Buffer{buf: buf, start: headroom}
}

// Bytes returns the buffer's current live region.
func (b *Buffer) Bytes() []byte {
	return b.buf[b.start:]
}

// Len returns the length of the current live region.
func (b *Buffer) Len() int {
	return len(b.buf) - b.start
}

// RemoveHeader advances the live region past the first n bytes (the
// header being stripped). ok is false if the buffer is shorter than n.
func (b *Buffer) RemoveHeader(n int) (ok bool) {
	if n > b.Len() {
		return false
	}
	b.start += n
	return true
}

// Prepend reclaims n bytes of headroom in front of the live region and
// returns them for the caller to fill with a new header. ok is false if
// fewer than n bytes of headroom remain — the spec's "failure to
// prepend" case, which callers must surface as a drop.
func (b *Buffer) Prepend(n int) (header []byte, ok bool) {
	if n > b.start {
		return nil, false
	}
	b.start -= n
	return b.buf[b.start : b.start+n], true
}

// Truncate shrinks the live region to n bytes, discarding trailing bytes
// without releasing them back as headroom. A length outside 0..Len() is
// ignored.
func (b *Buffer) Truncate(n int) {
	if n < 0 || n > b.Len() {
		return
	}
	b.buf = b.buf[:b.start+n]
}

// ReplaceBytes overwrites the live region with data, growing backward
// into headroom if data is longer than the current live region. ICMP
// translation isn't guaranteed to shrink: an echo rewrite keeps the
// payload's length, an error rewrite truncates the embedded packet but
// also re-translates its header, and a v4->v6 inner header grows by 20
// bytes (20-byte IPv4 header to 40-byte IPv6), which can outweigh the
// truncation savings for a short embedded payload. ok is false if even
// the available headroom can't cover the growth.
func (b *Buffer) ReplaceBytes(data []byte) (ok bool) {
	if grow := len(data) - b.Len(); grow > 0 {
		if grow > b.start {
			return false
		}
		b.start -= grow
	}
	copy(b.buf[b.start:], data)
	b.buf = b.buf[:b.start+len(data)]
	return true
}
