package nav

// ScratchArena is the bounded bump-pointer working memory for a single layer
// build. It has no per-object free; Reset discards everything at once and
// records the high-water mark. One arena serves exactly one build at a time:
// a reentrant Acquire is a programming error and panics.
type ScratchArena struct {
	buf   []byte
	top   int
	high  int
	inUse bool
}

func NewScratchArena(capacity int) *ScratchArena {
	return &ScratchArena{buf: make([]byte, capacity)}
}

// Acquire marks the arena owned by one build and resets the bump pointer.
func (a *ScratchArena) Acquire() {
	if a.inUse {
		panic("nav: scratch arena acquired while a build is still running")
	}
	a.inUse = true
	if a.top > a.high {
		a.high = a.top
	}
	a.top = 0
}

// Release returns the arena for the next build.
func (a *ScratchArena) Release() {
	if !a.inUse {
		panic("nav: scratch arena released twice")
	}
	a.inUse = false
}

// Alloc returns n zeroed bytes from the arena, or nil when the arena is
// exhausted. Exhaustion is an AllocationFailure for the current tile only.
func (a *ScratchArena) Alloc(n int) []byte {
	if a.top+n > len(a.buf) {
		return nil
	}
	mem := a.buf[a.top : a.top+n : a.top+n]
	for i := range mem {
		mem[i] = 0
	}
	a.top += n
	return mem
}

// HighWater reports the largest bump offset seen across all builds.
func (a *ScratchArena) HighWater() int {
	if a.top > a.high {
		return a.top
	}
	return a.high
}

// Capacity reports the fixed arena size.
func (a *ScratchArena) Capacity() int { return len(a.buf) }
