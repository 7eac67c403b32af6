package broadcast

// minRingSize is the smallest allocation a ring makes.
const minRingSize = 4096

// ring is a growable circular byte queue addressed by absolute stream
// position. Positions below start have been trimmed; positions at or above
// end() have not been written yet.
type ring struct {
	buf   []byte
	head  int   // index in buf of the byte at position start
	size  int   // retained bytes
	start int64 // absolute position of the oldest retained byte
}

func (r *ring) end() int64 {
	return r.start + int64(r.size)
}

// runs returns the retained bytes as at most two contiguous slices, the
// first beginning at position start and the second following it.
func (r *ring) runs() (front, back []byte) {
	if r.head+r.size <= len(r.buf) {
		return r.buf[r.head : r.head+r.size], nil
	}
	return r.buf[r.head:], r.buf[:r.head+r.size-len(r.buf)]
}

func (r *ring) append(p []byte) {
	if r.size+len(p) > len(r.buf) {
		r.grow(r.size + len(p))
	}
	tail := (r.head + r.size) % len(r.buf)
	n := copy(r.buf[tail:], p)
	copy(r.buf, p[n:])
	r.size += len(p)
}

func (r *ring) grow(need int) {
	size := max(2*len(r.buf), minRingSize)
	for size < need {
		size *= 2
	}
	buf := make([]byte, size)
	front, back := r.runs()
	n := copy(buf, front)
	copy(buf[n:], back)
	r.buf = buf
	r.head = 0
}

// copyAt fills dst with retained bytes starting at absolute position pos and
// returns the count copied.
func (r *ring) copyAt(dst []byte, pos int64) int {
	front, back := r.runs()
	n := copy(dst, overlap(front, r.start, pos, len(dst)))
	n += copy(dst[n:], overlap(back, r.start+int64(len(front)), pos+int64(n), len(dst)-n))
	return n
}

// trimTo discards every byte below pos.
func (r *ring) trimTo(pos int64) {
	if pos <= r.start {
		return
	}
	n := int(min(pos, r.end()) - r.start)
	r.start += int64(n)
	r.size -= n
	if r.size == 0 {
		r.head = 0
		// Let a burst's worth of storage go once everyone has caught up.
		if len(r.buf) > 16*minRingSize {
			r.buf = nil
		}
		return
	}
	r.head = (r.head + n) % len(r.buf)
}

// overlap returns the part of run, which begins at absolute position
// runStart, covering positions [begin, begin+size).
func overlap(run []byte, runStart, begin int64, size int) []byte {
	end := begin + int64(size)
	lo := clamp(begin-runStart, 0, int64(len(run)))
	hi := clamp(end-runStart, 0, int64(len(run)))
	if hi < lo {
		hi = lo
	}
	return run[lo:hi]
}

func clamp(v, lo, hi int64) int64 {
	return min(max(v, lo), hi)
}
