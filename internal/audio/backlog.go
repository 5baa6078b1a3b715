package audio

// DrainLatest is called after first was received from q. It pops up to maxChunks
// further chunks that are already queued and returns the newest of them,
// with the number of chunks discarded. closed reports that q ended during the drain.
func DrainLatest(q *ChunkQueue, first []int16, maxChunks int) (latest []int16, dropped int, closed bool) {
	latest = first
	for i := 0; i < maxChunks; i++ {
		chunk, ok, isClosed := q.TryRecv()
		if isClosed {
			return latest, dropped, true
		}
		if !ok {
			break
		}
		latest = chunk
		dropped++
	}
	return latest, dropped, false
}

// Backlog is a per-source buffer of resampled frames awaiting the mixer.
// Its length never exceeds the configured cap; overflow drops the oldest frames.
type Backlog struct {
	buf       []int16
	maxFrames int
}

// NewBacklog creates a backlog capped at maxFrames (MaxBacklogFrames if <= 0)
func NewBacklog(maxFrames int) *Backlog {
	if maxFrames <= 0 {
		maxFrames = MaxBacklogFrames
	}
	return &Backlog{maxFrames: maxFrames}
}

// Append adds frames and returns how many of the oldest frames were dropped
func (b *Backlog) Append(frames []int16) int {
	b.buf = append(b.buf, frames...)
	overflow := len(b.buf) - b.maxFrames
	if overflow <= 0 {
		return 0
	}
	n := copy(b.buf, b.buf[overflow:])
	b.buf = b.buf[:n]
	return overflow
}

// PopFront removes and returns the oldest sample, or 0 and false when empty
func (b *Backlog) PopFront() (int16, bool) {
	if len(b.buf) == 0 {
		return 0, false
	}
	v := b.buf[0]
	b.buf = b.buf[1:]
	return v, true
}

// Len returns the number of buffered frames
func (b *Backlog) Len() int {
	return len(b.buf)
}

// Cap returns the frame cap
func (b *Backlog) Cap() int {
	return b.maxFrames
}

// Reset discards all buffered frames
func (b *Backlog) Reset() {
	b.buf = b.buf[:0]
}
