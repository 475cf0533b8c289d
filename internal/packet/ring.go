package packet

import "sync"

// RingBuffer is the capability both C1 variants implement, letting the
// Recorder and the snapshot reader treat flat and grouped buffers
// interchangeably (spec.md §9 "Dynamic dispatch").
type RingBuffer interface {
	// Insert appends a packet and evicts while over-retained.
	Insert(p Packet)
	// Snapshot returns a cloned, in-order copy of the buffer's
	// contents. If minDuration is non-nil, only the newest slice of
	// the buffer covering at least that duration is returned.
	Snapshot(minDuration *int64) []Packet
	// RetainedDuration reports the current sum of contained packet
	// durations (group durations for the grouped variant).
	RetainedDuration() int64
}

// FlatRingBuffer is the audio-shaped variant (spec.md §4.1): an
// insertion-ordered sequence of packets, evicted one at a time.
type FlatRingBuffer struct {
	mu       sync.Mutex
	target   int64
	retained int64
	packets  []Packet
}

// NewFlat creates a flat ring buffer targeting at least
// minRetainedDuration of content (in source-timebase units), per
// spec.md §3's ring buffer lifecycle.
func NewFlat(minRetainedDuration int64) *FlatRingBuffer {
	return &FlatRingBuffer{target: minRetainedDuration}
}

func (r *FlatRingBuffer) Insert(p Packet) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.packets = append(r.packets, p)
	r.retained += p.Duration

	for len(r.packets) > 0 && r.retained-r.packets[0].Duration >= r.target {
		r.retained -= r.packets[0].Duration
		r.packets = r.packets[1:]
	}
}

func (r *FlatRingBuffer) RetainedDuration() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.retained
}

func (r *FlatRingBuffer) Snapshot(minDuration *int64) []Packet {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.packets) == 0 {
		return nil
	}
	if minDuration == nil {
		out := make([]Packet, len(r.packets))
		copy(out, r.packets)
		return out
	}
	return snapshotMinDuration(r.packets, *minDuration)
}

// snapshotMinDuration walks newest-to-oldest accumulating duration
// until the threshold is met, then reverses back to insertion order
// (spec.md §4.1).
func snapshotMinDuration(packets []Packet, minDuration int64) []Packet {
	var acc int64
	start := len(packets)
	for start > 0 && acc < minDuration {
		start--
		acc += packets[start].Duration
	}
	out := make([]Packet, len(packets)-start)
	copy(out, packets[start:])
	return out
}

// group is one keyframe-anchored run of packets: the first packet is
// always a keyframe, and no other keyframe appears inside (spec.md §3).
type group struct {
	packets  []Packet
	duration int64
}

// GroupedRingBuffer is the video-shaped variant (spec.md §4.1):
// groups, each starting at a keyframe, evicted as whole groups so the
// buffer can never start mid-GOP.
type GroupedRingBuffer struct {
	mu       sync.Mutex
	target   int64
	retained int64
	groups   []*group
}

// NewGrouped creates a grouped ring buffer targeting at least
// minRetainedDuration of content.
func NewGrouped(minRetainedDuration int64) *GroupedRingBuffer {
	return &GroupedRingBuffer{target: minRetainedDuration}
}

func (r *GroupedRingBuffer) Insert(p Packet) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.retained += p.Duration

	// A keyframe always opens a fresh group; anything else extends the
	// current open one (spec.md §4.1 invariant: a group's first packet
	// is a keyframe and no other keyframe appears inside it).
	startsNewGroup := p.IsKeyframe || len(r.groups) == 0
	if startsNewGroup {
		r.groups = append(r.groups, &group{})
	}
	g := r.groups[len(r.groups)-1]
	g.packets = append(g.packets, p)
	g.duration += p.Duration

	for len(r.groups) > 0 && r.retained-r.groups[0].duration > r.target {
		r.retained -= r.groups[0].duration
		r.groups = r.groups[1:]
	}
}

func (r *GroupedRingBuffer) RetainedDuration() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.retained
}

func (r *GroupedRingBuffer) Snapshot(minDuration *int64) []Packet {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.groups) == 0 {
		return nil
	}

	if minDuration == nil {
		var out []Packet
		for _, g := range r.groups {
			out = append(out, g.packets...)
		}
		return out
	}

	var acc int64
	start := len(r.groups)
	for start > 0 && acc < *minDuration {
		start--
		acc += r.groups[start].duration
	}
	var out []Packet
	for _, g := range r.groups[start:] {
		out = append(out, g.packets...)
	}
	return out
}
