package buffer

const INVALID_FRAME_ID = -1

// Replacer tracks which frames may be evicted. A frame is a candidate from
// the moment its pin count drops to zero until it is pinned again.
type Replacer interface {
	// Victim removes and returns the frame to evict next.
	Victim() (int, bool)
	// Pin marks frameId as in use, removing it from the candidates.
	Pin(frameId int)
	// Unpin makes frameId a candidate. Unpinning a candidate is a no-op.
	Unpin(frameId int)
	// Remove forgets everything about frameId.
	Remove(frameId int)
	Size() int
}
