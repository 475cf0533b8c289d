// Package packet implements the rolling capture ring buffer (spec
// component C1): a bounded, duration-evicted FIFO of encoded packets,
// in both the flat (audio) and keyframe-grouped (video) flavors.
//
// Grounded on the teacher's encode/mux plumbing in video.go (which
// already clones and rescales astiav.Packet values across timebases)
// and on original_source's capturer/ring_buffer.rs, whose
// frame-counted eviction loop and PacketWrappersWrapper grouping this
// package reimplements with duration-based accounting instead of a
// raw frame count, per spec.md §3/§4.1.
package packet

// Packet is an opaque encoded unit, cheaply clonable because Payload
// is shared (never mutated after insertion). Within one stream,
// packets as emitted by the encoder are monotone in DTS; PTS may not
// be (spec.md §3).
type Packet struct {
	StreamID   int
	PTS        int64
	HasPTS     bool
	DTS        int64
	HasDTS     bool
	Duration   int64
	IsKeyframe bool
	Payload    []byte
}

// Clone returns a shallow copy that shares the underlying payload
// slice. Safe because payloads are treated as immutable after insert.
func (p Packet) Clone() Packet {
	return p
}

// shiftTimestamps subtracts offset from PTS/DTS when present, used by
// snapshot normalization (spec.md §4.6 step 4).
func (p *Packet) shiftTimestamps(offset int64) {
	if p.HasPTS {
		p.PTS -= offset
	}
	if p.HasDTS {
		p.DTS -= offset
	}
}

// ShiftTimestamps is the exported form used by the snapshot package.
func (p *Packet) ShiftTimestamps(offset int64) { p.shiftTimestamps(offset) }
